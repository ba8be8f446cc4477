// Package mqtt is the tmpo transport: a purpose-built MQTT client exposing
// exactly the flows the daemon has, nothing more.
//
// # Flows
//
// Outbound, one flow:
//   - PublishBlock: a block's raw gzip bytes on /sensor/<sid>/tmpo/.../gz,
//     QoS 0, non-retained
//
// Inbound, three flows bound once via Bind and restored on every reconnect:
//   - the broker's 1 Hz uptime heartbeat (paces the tick loop)
//   - sync requests on /d/device/<id>/tmpo/sync
//   - gateway uplinks on tmpo/devices/+/up
//
// QoS and retention are fixed by the tmpo protocol, so they do not appear in
// the API: blocks are at-most-once (the sync engine republishes on demand),
// subscriptions are QoS 0, and only the daemon status topic is retained.
//
// # Liveness
//
// A Last Will on tmpod/system/status announces a crash; a graceful Close
// publishes a distinguishable offline status. Reconnects use paho's
// exponential backoff and re-bind all inbound flows.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Bind(deviceID, mqtt.Handlers{
//	    Tick:   func() { /* enqueue tick */ },
//	    Sync:   func(payload []byte) { /* enqueue sync */ },
//	    Uplink: func(payload []byte, retained bool) { /* enqueue uplink */ },
//	})
package mqtt
