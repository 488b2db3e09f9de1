// Package mqtt provides a notifier that publishes alerts to an MQTT broker
// topic, for building dashboards, sirens or bridges to other systems.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/MrWong99/hearken/pkg/provider/notify"
)

const (
	defaultTopic          = "hearken/alerts"
	defaultClientID       = "hearken"
	defaultPublishTimeout = 2 * time.Second
)

var _ notify.Notifier = (*Notifier)(nil)

// ErrNotConnected is returned by Notify while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt: not connected")

// Config describes the broker connection.
type Config struct {
	// Broker is the broker URL, e.g. "tcp://localhost:1883".
	Broker string

	// Topic is the publish topic. Defaults to "hearken/alerts".
	Topic string

	// ClientID defaults to "hearken".
	ClientID string

	Username string
	Password string

	// QoS is the publish quality of service (0, 1 or 2).
	QoS byte

	// Retained marks alerts as retained messages.
	Retained bool
}

// Payload is the JSON document published for each alert.
type Payload struct {
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifier implements notify.Notifier on top of a paho MQTT client.
type Notifier struct {
	cfg       Config
	client    pahomqtt.Client
	connected atomic.Bool
	now       func() time.Time
}

// New builds a Notifier. No connection is made until Connect is called.
func New(cfg Config) (*Notifier, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker must not be empty")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt: invalid qos %d", cfg.QoS)
	}
	if cfg.Topic == "" {
		cfg.Topic = defaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}

	n := &Notifier{cfg: cfg, now: time.Now}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(pahomqtt.Client) {
		n.connected.Store(true)
		slog.Info("mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ pahomqtt.Client, err error) {
		n.connected.Store(false)
		slog.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "err", err)
	}

	n.client = pahomqtt.NewClient(opts)
	return n, nil
}

// newWithClient wires a pre-built client. Used by tests.
func newWithClient(cfg Config, client pahomqtt.Client, connected bool) *Notifier {
	if cfg.Topic == "" {
		cfg.Topic = defaultTopic
	}
	n := &Notifier{cfg: cfg, client: client, now: time.Now}
	n.connected.Store(connected)
	return n
}

// Connect starts the connection and waits until it is up or ctx is done.
// On timeout the client keeps retrying in the background, so a broker that
// comes up later is picked up without a restart.
func (n *Notifier) Connect(ctx context.Context) error {
	token := n.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt: connect %s: %w", n.cfg.Broker, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect %s: %w", n.cfg.Broker, err)
	}
	n.connected.Store(true)
	return nil
}

// Notify publishes message as a JSON Payload to the configured topic.
func (n *Notifier) Notify(ctx context.Context, message string) error {
	if !n.connected.Load() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(Payload{Message: message, Time: n.now().UTC()})
	if err != nil {
		return fmt.Errorf("mqtt: marshal payload: %w", err)
	}

	timeout := defaultPublishTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}

	token := n.client.Publish(n.cfg.Topic, n.cfg.QoS, n.cfg.Retained, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt: publish to %s: timeout", n.cfg.Topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", n.cfg.Topic, err)
	}
	return nil
}

// Close disconnects from the broker with a short grace period.
func (n *Notifier) Close() error {
	if n.client != nil && n.client.IsConnected() {
		n.client.Disconnect(250)
	}
	n.connected.Store(false)
	return nil
}
