package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/meterlog/tmpod/internal/infrastructure/config"
)

// Transport timeouts.
const (
	// connectTimeout is the maximum time to wait for the initial connection.
	connectTimeout = 10 * time.Second

	// requestTimeout is the maximum time to wait for a broker acknowledgment
	// (publish, subscribe, status).
	requestTimeout = 5 * time.Second

	// disconnectQuiesce is the time in milliseconds granted to in-flight
	// operations on graceful disconnect.
	disconnectQuiesce = 1000

	// keepAlive is the connection keepalive interval.
	keepAlive = 60 * time.Second
)

// Client is the tmpo MQTT transport.
//
// The daemon's bus surface is deliberately narrow. Outbound there is exactly
// one flow: block bytes on their tmpo topic (PublishBlock). Inbound there are
// exactly three: the broker heartbeat, sync requests and gateway uplinks,
// bound once via Bind and re-subscribed automatically on every reconnect.
// There is no general publish/subscribe API; QoS and retention are fixed by
// the tmpo protocol, not chosen per call.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	// Bound inbound flows; restored by handleConnect after a reconnect.
	mu       sync.Mutex
	deviceID string
	handlers Handlers
	bound    bool

	// onDisconnect is invoked with the cause when the connection drops.
	onDisconnect func(err error)

	// logger for reconnect/panic logging (optional, set via SetLogger).
	logger Logger
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Connect establishes a connection to the MQTT broker.
//
// It configures the paho client for a flash gateway: clean session,
// auto-reconnect with exponential backoff, TLS when enabled, and a Last Will
// announcing an unexpected offline on the retained status topic. The online
// status is published on every (re)connect.
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for Bind and PublishBlock
//   - error: If the initial connection fails within timeout
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg}

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	// The broker publishes the LWT if the daemon dies without a DISCONNECT,
	// so the fleet operator can tell a crash from a graceful stop.
	opts.SetWill(Topics{}.SystemStatus(),
		string(statusPayload(cfg.Broker.ClientID, "offline", "unexpected_disconnect")), 1, true)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return c, nil
}

// handleConnect runs on every (re)connect: restore the bound inbound flows,
// then announce the daemon online.
func (c *Client) handleConnect() {
	c.mu.Lock()
	bound := c.bound
	c.mu.Unlock()

	if bound {
		if log := c.getLogger(); log != nil {
			log.Warn("MQTT reconnected, restoring subscriptions")
		}
		if err := c.subscribeAll(); err != nil {
			if log := c.getLogger(); log != nil {
				log.Error("MQTT re-subscribe failed", "error", err)
			}
		}
	}

	c.publishStatus("online", "")
}

// handleDisconnect notifies the registered callback.
func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	callback := c.onDisconnect
	c.mu.Unlock()
	if callback != nil {
		callback(err)
	}
}

// publishStatus publishes a retained daemon status (QoS 1). Best effort;
// status traffic never interferes with block flow.
func (c *Client) publishStatus(status, reason string) {
	token := c.client.Publish(Topics{}.SystemStatus(), 1, true,
		statusPayload(c.cfg.Broker.ClientID, status, reason))
	token.WaitTimeout(requestTimeout)
}

// statusPayload builds the JSON body of a status announcement.
func statusPayload(clientID, status, reason string) []byte {
	ts := time.Now().UTC().Format(time.RFC3339)
	if reason == "" {
		return []byte(fmt.Sprintf(
			`{"status":"%s","client_id":"%s","timestamp":"%s"}`, status, clientID, ts))
	}
	return []byte(fmt.Sprintf(
		`{"status":"%s","client_id":"%s","reason":"%s","timestamp":"%s"}`, status, clientID, reason, ts))
}

// Close gracefully disconnects from the MQTT broker.
//
// A graceful offline status (distinct from the LWT crash status) is published
// first, then pending operations are given a short quiesce period.
//
// Returns:
//   - error: Always nil; kept for the defer-chain idiom at shutdown
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.client.IsConnected() {
		c.publishStatus("offline", "graceful_shutdown")
	}
	c.client.Disconnect(disconnectQuiesce)
	return nil
}

// HealthCheck verifies the MQTT connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if connected, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}
	if !c.client.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// SetOnDisconnect sets a callback to be invoked when the connection is lost.
// The error parameter describes why the connection was lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets a logger for reconnect and panic logging.
// If not set, those events are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}
