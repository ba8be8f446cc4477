package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handlers binds the daemon's three inbound flows. All three are required:
// the tick loop cannot run without its heartbeat, and a daemon that ignores
// sync requests or uplinks is misconfigured, not minimal.
//
// Callbacks run on paho delivery goroutines and must not block; the engine's
// handlers only enqueue events for the tick loop.
type Handlers struct {
	// Tick fires on the broker's 1 Hz uptime heartbeat.
	Tick func()

	// Sync receives the raw watermark-list payload of a sync request.
	Sync func(payload []byte)

	// Uplink receives a raw gateway uplink. retained marks stale readings
	// replayed by the broker on subscribe; the engine skips those.
	Uplink func(payload []byte, retained bool)
}

// Bind subscribes the three tmpo inbound topics and keeps them subscribed
// across reconnects. Bind may be called once per client.
//
// Parameters:
//   - deviceID: This device's 32-hex identifier (selects the sync topic)
//   - h: The three flow callbacks, all non-nil
//
// Returns:
//   - error: If a handler is missing, the flows are already bound, or a
//     subscription is not acknowledged in time
func (c *Client) Bind(deviceID string, h Handlers) error {
	if h.Tick == nil || h.Sync == nil || h.Uplink == nil {
		return fmt.Errorf("%w: all three handlers are required", ErrSubscribeFailed)
	}

	c.mu.Lock()
	if c.bound {
		c.mu.Unlock()
		return ErrAlreadyBound
	}
	c.deviceID = deviceID
	c.handlers = h
	c.bound = true
	c.mu.Unlock()

	return c.subscribeAll()
}

// subscribeAll (re)subscribes the three inbound topics. All tmpo
// subscriptions are QoS 0: heartbeats are periodic, and sync requests and
// uplinks are retried by their senders.
func (c *Client) subscribeAll() error {
	c.mu.Lock()
	deviceID, h := c.deviceID, c.handlers
	c.mu.Unlock()

	topics := Topics{}
	flows := []struct {
		topic   string
		handler func(pahomqtt.Message)
	}{
		{topics.BrokerUptime(), func(pahomqtt.Message) { h.Tick() }},
		{topics.DeviceSync(deviceID), func(m pahomqtt.Message) { h.Sync(m.Payload()) }},
		{topics.DeviceUplinks(), func(m pahomqtt.Message) { h.Uplink(m.Payload(), m.Retained()) }},
	}

	for _, flow := range flows {
		token := c.client.Subscribe(flow.topic, 0, c.guard(flow.handler))
		if !token.WaitTimeout(requestTimeout) {
			return fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, flow.topic, requestTimeout)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, flow.topic, err)
		}
	}
	return nil
}

// guard wraps a flow callback with panic recovery, so a malformed message can
// never take down paho's delivery goroutine.
func (c *Client) guard(fn func(pahomqtt.Message)) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if log := c.getLogger(); log != nil {
					log.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()
		fn(msg)
	}
}
