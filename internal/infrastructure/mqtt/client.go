package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/vrm-cloud-mqtt/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for the bridge.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Connection attempts are serialised; at most one paho client exists.
type Client struct {
	client      pahomqtt.Client
	cfg         config.MQTTConfig
	statusTopic string

	// dialMu serialises Connect, reconnects and Close.
	dialMu sync.Mutex
	closed bool

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// logger for connection events (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// New creates a client for the configured broker without connecting.
func New(cfg config.MQTTConfig) *Client {
	c := &Client{
		cfg:         cfg,
		statusTopic: StatusTopic(cfg.Topic),
	}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	return c
}

// Connect establishes the broker connection.
//
// It publishes "online" to the status topic once connected. Calling Connect
// on a connected client is a no-op.
//
// Returns:
//   - error: ErrConnectionFailed if the broker cannot be reached within the
//     connect timeout, ErrClosed after Close
func (c *Client) Connect() error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect callback runs asynchronously; set the flag here so
	// IsConnected is true as soon as Connect returns.
	c.setConnected(true)
	return nil
}

// reconnect makes one connection attempt for Publish.
func (c *Client) reconnect() error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.IsConnected() {
		return nil
	}
	if logger := c.getLogger(); logger != nil {
		logger.Info("reconnecting to MQTT broker", "broker", brokerURL(c.cfg))
	}
	return c.connectLocked()
}

// handleConnect is called by paho when the connection is established.
func (c *Client) handleConnect() {
	c.setConnected(true)

	// Not waited on: the callback must not block paho's connect path.
	c.client.Publish(c.statusTopic, byte(c.cfg.QoS), true, StatusOnline)

	if logger := c.getLogger(); logger != nil {
		logger.Info("connected to MQTT broker", "broker", brokerURL(c.cfg), "status_topic", c.statusTopic)
	}
}

// handleDisconnect is called by paho when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)
	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// Close publishes "offline" to the status topic and disconnects. Close is
// idempotent.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	if c.IsConnected() {
		token := c.client.Publish(c.statusTopic, byte(c.cfg.QoS), true, StatusOffline)
		token.WaitTimeout(defaultPublishTimeout)
		c.client.Disconnect(defaultDisconnectQuiesce)
	}

	c.setConnected(false)
	return nil
}

// HealthCheck verifies the MQTT connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnectionOpen()
}

// StatusTopic returns the topic carrying the bridge's online/offline state.
func (c *Client) StatusTopic() string {
	return c.statusTopic
}

// Broker returns the broker URL.
func (c *Client) Broker() string {
	return brokerURL(c.cfg)
}

// SetLogger sets a logger for connection events.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
