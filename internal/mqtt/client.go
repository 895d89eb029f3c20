// Package mqtt publishes alert events to an MQTT broker.
package mqtt

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/firesentinel/firesentinel-go/internal/conf"
	"github.com/firesentinel/firesentinel-go/internal/errors"
	"github.com/firesentinel/firesentinel-go/internal/logging"
	"github.com/firesentinel/firesentinel-go/internal/observability/metrics"
)

// Client is the interface for the broker connection used by the alert pipeline.
type Client interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, payload []byte) error
	IsConnected() bool
	Disconnect()
	SetMetrics(m *metrics.MQTTMetrics)
}

// Config holds the resolved connection parameters for the broker.
type Config struct {
	Broker            string
	ClientID          string
	Topic             string
	Username          string
	Password          string
	Retain            bool
	ReconnectCooldown time.Duration
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
}

type client struct {
	config          Config
	internalClient  pahomqtt.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	reconnectTimer  *time.Timer
	reconnectStop   chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
	metrics         atomic.Pointer[metrics.MQTTMetrics]
}

// NewClient creates a new MQTT client from the runtime settings.
func NewClient(settings *conf.Settings) Client {
	logger := logging.ForService("mqtt")
	if logger == nil {
		logger = slog.Default().With("service", "mqtt")
	}
	return &client{
		config: Config{
			Broker:            settings.MQTT.Broker,
			ClientID:          settings.Main.Name,
			Topic:             settings.MQTT.Topic,
			Username:          settings.MQTT.Username,
			Password:          settings.MQTT.Password,
			Retain:            settings.MQTT.Retain,
			ReconnectCooldown: 5 * time.Second,
			ReconnectDelay:    1 * time.Second,
			ConnectTimeout:    30 * time.Second,
			PublishTimeout:    10 * time.Second,
		},
		reconnectStop: make(chan struct{}),
		logger:        logger,
	}
}

// SetMetrics attaches MQTT metrics. Safe to call after Connect.
func (c *client) SetMetrics(m *metrics.MQTTMetrics) {
	c.metrics.Store(m)
}

// Connect establishes a connection to the broker. The hostname is resolved
// first so that misconfigured brokers fail fast with a DNS error instead of
// stalling in the paho connect loop.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since).
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryValidation).
			Context("broker", c.config.Broker).
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(err).
				Component("mqtt").
				Category(errors.CategoryMQTT).
				Context("host", host).
				Build()
		}
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetConnectRetry(true)

	c.internalClient = pahomqtt.NewClient(opts)

	token := c.internalClient.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return errors.Newf("connection timeout after %v", c.config.ConnectTimeout).
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Context("broker", c.config.Broker).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Context("broker", c.config.Broker).
			Build()
	}

	return nil
}

// Publish sends an alert payload to the configured topic.
func (c *client) Publish(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnectedLocked() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Build()
	}

	started := time.Now()
	token := c.internalClient.Publish(c.config.Topic, 0, c.config.Retain, payload)

	timeout := c.config.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if !token.WaitTimeout(timeout) {
		if m := c.metrics.Load(); m != nil {
			m.IncrementErrors()
		}
		return errors.Newf("publish timeout for topic %s", c.config.Topic).
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Context("topic", c.config.Topic).
			Build()
	}
	if err := token.Error(); err != nil {
		if m := c.metrics.Load(); m != nil {
			m.IncrementErrors()
		}
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Context("topic", c.config.Topic).
			Build()
	}

	if m := c.metrics.Load(); m != nil {
		m.IncrementMessagesDelivered()
		m.ObservePublishLatency(time.Since(started).Seconds())
	}

	c.logger.Debug("published alert", "topic", c.config.Topic, "bytes", len(payload))
	return nil
}

// IsConnected reports whether the client currently holds a broker connection.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnectedLocked()
}

func (c *client) isConnectedLocked() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the broker connection and stops any pending reconnect.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(250)
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.stopOnce.Do(func() { close(c.reconnectStop) })
}

func (c *client) onConnect(_ pahomqtt.Client) {
	c.logger.Info("connected to MQTT broker", "broker", c.config.Broker)
	if m := c.metrics.Load(); m != nil {
		m.UpdateConnectionStatus(true)
	}
}

func (c *client) onConnectionLost(_ pahomqtt.Client, err error) {
	c.logger.Warn("connection to MQTT broker lost", "broker", c.config.Broker, "error", err)
	if m := c.metrics.Load(); m != nil {
		m.UpdateConnectionStatus(false)
		m.IncrementErrors()
	}
	c.startReconnectTimer()
}

func (c *client) startReconnectTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectTimer = time.AfterFunc(c.config.ReconnectDelay, func() {
		select {
		case <-c.reconnectStop:
			return
		default:
			c.reconnectWithBackoff()
		}
	})
}

func (c *client) reconnectWithBackoff() {
	backoff := time.Second
	maxBackoff := 5 * time.Minute

	for {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			c.logger.Info("reconnected to MQTT broker", "broker", c.config.Broker)
			return
		}

		c.logger.Warn("failed to reconnect to MQTT broker", "error", err, "retry_in", backoff)

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		case <-c.reconnectStop:
			return
		}
	}
}
