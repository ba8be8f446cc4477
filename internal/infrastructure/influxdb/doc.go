// Package influxdb provides the optional live reading mirror.
//
// When enabled, every non-zero counter reading the core decodes for a logged
// sensor is also written as a point to an InfluxDB bucket, including readings
// the ingest buffer drops. This lets an operator graph meters in real
// time without unpacking tmpo blocks; the block pyramid on flash remains the
// source of truth.
//
// Writes are batched and non-blocking: a slow or unreachable InfluxDB never
// stalls the tick loop. Async write errors are delivered via SetOnError.
package influxdb
