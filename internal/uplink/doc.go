// Package uplink decodes the LoRa gateway uplink payloads delivered on the
// tmpo/devices/+/up MQTT topic.
//
// An uplink carries nine big-endian u32 counter snapshots in a fixed order;
// each position corresponds to a fixed sensor slot on the device. A zero
// counter means "no reading in this interval" and is skipped by the caller.
package uplink
