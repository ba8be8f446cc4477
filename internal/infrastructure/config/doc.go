// Package config loads and validates tmpod configuration.
//
// Configuration comes from three layers, later layers overriding earlier:
//
//  1. Hardcoded defaults
//  2. The YAML configuration file
//  3. TMPOD_* environment variables
//
// The sensor registry lives in a separate YAML file (sensors.path) loaded by
// the sensor package; this package only locates it.
//
// # Usage
//
//	cfg, err := config.Load("/etc/tmpod/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
