package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is a completed (or never completing) paho token.
type fakeToken struct {
	err     error
	pending bool
}

func (t *fakeToken) Wait() bool { return !t.pending }
func (t *fakeToken) WaitTimeout(time.Duration) bool {
	return !t.pending
}
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.pending {
		close(ch)
	}
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient overrides the methods the notifier uses. Calling any other
// method panics on the nil embedded interface.
type fakeClient struct {
	pahomqtt.Client

	publishToken *fakeToken
	connectToken *fakeToken
	sent         []published
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.sent = append(c.sent, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	if c.publishToken != nil {
		return c.publishToken
	}
	return &fakeToken{}
}

func (c *fakeClient) Connect() pahomqtt.Token {
	if c.connectToken != nil {
		return c.connectToken
	}
	return &fakeToken{}
}

func (c *fakeClient) IsConnected() bool { return false }

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty broker")
	}
	if _, err := New(Config{Broker: "tcp://localhost:1883", QoS: 3}); err == nil {
		t.Error("expected error for qos 3")
	}
	n, err := New(Config{Broker: "tcp://localhost:1883"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n.cfg.Topic != defaultTopic || n.cfg.ClientID != defaultClientID {
		t.Errorf("defaults not applied: %+v", n.cfg)
	}
}

func TestNotify_PublishesJSON(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	n := newWithClient(Config{Topic: "campus/alerts", QoS: 1, Retained: true}, fc, true)
	fixed := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	if err := n.Notify(context.Background(), "north gate: fight"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(fc.sent) != 1 {
		t.Fatalf("published %d messages, want 1", len(fc.sent))
	}
	got := fc.sent[0]
	if got.topic != "campus/alerts" || got.qos != 1 || !got.retained {
		t.Errorf("publish params = %+v", got)
	}
	var p Payload
	if err := json.Unmarshal(got.payload, &p); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if p.Message != "north gate: fight" || !p.Time.Equal(fixed) {
		t.Errorf("payload = %+v", p)
	}
}

func TestNotify_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		client    *fakeClient
		connected bool
		wantErr   error
	}{
		{"not connected", &fakeClient{}, false, ErrNotConnected},
		{"publish timeout", &fakeClient{publishToken: &fakeToken{pending: true}}, true, nil},
		{"publish error", &fakeClient{publishToken: &fakeToken{err: errors.New("not authorized")}}, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n := newWithClient(Config{}, tt.client, tt.connected)
			err := n.Notify(context.Background(), "x")
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConnect(t *testing.T) {
	t.Parallel()

	n := newWithClient(Config{Broker: "tcp://broker:1883"}, &fakeClient{}, false)
	if err := n.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !n.connected.Load() {
		t.Error("expected connected after successful Connect")
	}

	pending := newWithClient(Config{Broker: "tcp://broker:1883"}, &fakeClient{connectToken: &fakeToken{pending: true}}, false)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pending.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Connect err = %v, want deadline exceeded", err)
	}
}
