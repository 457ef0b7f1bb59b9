// client.go: paho-backed implementation of Client.
package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/errors"
	"github.com/tphakala/emotion-go/internal/logger"
	"github.com/tphakala/emotion-go/internal/observability/metrics"
)

// pahoFactory builds the underlying paho client. Replaced in tests.
type pahoFactory func(opts *paho.ClientOptions) paho.Client

// client implements the Client interface.
type client struct {
	config          Config
	internalClient  paho.Client
	newPaho         pahoFactory
	lastConnAttempt time.Time
	mu              sync.Mutex
	metrics         *metrics.MQTTMetrics
}

// NewClient creates a new MQTT client from settings. m may be nil.
func NewClient(settings *conf.Settings, m *metrics.MQTTMetrics) (Client, error) {
	if settings.MQTT.Broker == "" {
		return nil, errors.Newf("mqtt broker is not configured").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}

	cfg := DefaultConfig()
	cfg.Broker = settings.MQTT.Broker
	cfg.ClientID = clientID(settings)
	cfg.Username = settings.MQTT.Username
	cfg.Password = settings.MQTT.Password
	cfg.Topic = settings.MQTT.Topic
	cfg.Retain = settings.MQTT.Retain

	return newClient(cfg, m, paho.NewClient), nil
}

func newClient(cfg Config, m *metrics.MQTTMetrics, factory pahoFactory) *client {
	return &client{
		config:  cfg,
		newPaho: factory,
		metrics: m,
	}
}

// clientID appends a short random suffix so several instances can share a
// broker.
func clientID(settings *conf.Settings) string {
	base := settings.MQTT.ClientID
	if base == "" {
		base = settings.Main.Name
	}
	if base == "" {
		base = "emotion-go"
	}
	return base + "-" + uuid.NewString()[:8]
}

// Connect resolves the broker host and connects. Attempts closer together
// than ReconnectCooldown are rejected.
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
			Category(errors.CategoryConfiguration).
			Context("broker", c.config.Broker).
			Build()
	}

	if host := u.Hostname(); net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(err).
				Component("mqtt").
				Category(errors.CategoryNetwork).
				Context("host", host).
				Build()
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.internalClient = c.newPaho(opts)

	token := c.internalClient.Connect()
	if !waitToken(ctx, token, c.config.ConnectTimeout) {
		return errors.Newf("connection timeout").
			Component("mqtt").
			Category(errors.CategoryMQTT).
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

	c.updateConnectionStatus(true)
	return nil
}

// Publish sends payload to topic with QoS 0.
func (c *client) Publish(ctx context.Context, topic, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Context("topic", topic).
			Build()
	}

	if c.metrics != nil {
		timer := c.metrics.StartPublishTimer()
		defer timer.ObserveDuration()
	}

	token := c.internalClient.Publish(topic, 0, c.config.Retain, payload)
	if !waitToken(ctx, token, c.config.PublishTimeout) {
		c.incrementErrors()
		return errors.Newf("publish timeout").
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		c.incrementErrors()
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Context("topic", topic).
			Build()
	}

	if c.metrics != nil {
		c.metrics.IncrementMessagesDelivered()
		c.metrics.ObserveMessageSize(float64(len(payload)))
	}
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected()
}

func (c *client) isConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.updateConnectionStatus(false)
	}
}

func (c *client) onConnect(_ paho.Client) {
	GetLogger().Info("connected to MQTT broker", logger.String("broker", c.config.Broker))
	c.updateConnectionStatus(true)
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	GetLogger().Warn("connection to MQTT broker lost",
		logger.String("broker", c.config.Broker),
		logger.Error(err))
	c.updateConnectionStatus(false)
	c.incrementErrors()
}

// onReconnecting is called by paho's auto reconnect.
func (c *client) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	GetLogger().Info("reconnecting to MQTT broker", logger.String("broker", c.config.Broker))
	if c.metrics != nil {
		c.metrics.IncrementReconnectAttempts()
	}
}

func (c *client) updateConnectionStatus(connected bool) {
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(connected)
	}
}

func (c *client) incrementErrors() {
	if c.metrics != nil {
		c.metrics.IncrementErrors()
	}
}

// waitToken waits for token up to timeout or until ctx is done.
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
