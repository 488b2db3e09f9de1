// Package bark provides a notifier for the Bark iOS push service.
//
// Messages are delivered with a single GET request:
//
//	{baseURL}/{deviceKey}/{title}/{body}
//
// Title and body are path-escaped. Self-hosted bark-server instances work by
// overriding the base URL.
package bark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/hearken/pkg/provider/notify"
)

const (
	// DefaultBaseURL is the public Bark endpoint.
	DefaultBaseURL = "https://api.day.app"

	// DefaultTitle is the push title used when none is configured.
	DefaultTitle = "预警"
)

var _ notify.Notifier = (*Notifier)(nil)

// Option is a functional option for configuring a Notifier.
type Option func(*Notifier)

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(u string) Option {
	return func(n *Notifier) {
		if u != "" {
			n.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTitle overrides DefaultTitle.
func WithTitle(title string) Option {
	return func(n *Notifier) {
		if title != "" {
			n.title = title
		}
	}
}

// WithLevel sets the Bark interruption level ("active", "timeSensitive",
// "passive" or "critical"). Empty leaves the server default.
func WithLevel(level string) Option {
	return func(n *Notifier) { n.level = level }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) {
		if c != nil {
			n.httpClient = c
		}
	}
}

// Notifier implements notify.Notifier for Bark.
type Notifier struct {
	baseURL    string
	deviceKey  string
	title      string
	level      string
	httpClient *http.Client
}

// New creates a Notifier that pushes to the device identified by deviceKey.
func New(deviceKey string, opts ...Option) (*Notifier, error) {
	if deviceKey == "" {
		return nil, errors.New("bark: deviceKey must not be empty")
	}
	n := &Notifier{
		baseURL:    DefaultBaseURL,
		deviceKey:  deviceKey,
		title:      DefaultTitle,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Notify pushes message as the notification body.
func (n *Notifier) Notify(ctx context.Context, message string) error {
	endpoint := n.baseURL + "/" + url.PathEscape(n.deviceKey) + "/" +
		url.PathEscape(n.title) + "/" + url.PathEscape(message)
	if n.level != "" {
		endpoint += "?level=" + url.QueryEscape(n.level)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("bark: create request: %w", err)
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bark: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bark: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if err != nil {
		return fmt.Errorf("bark: read response body: %w", err)
	}
	var result struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		// Some proxies answer with an empty 200; treat as delivered.
		return nil
	}
	if result.Code != 0 && result.Code != http.StatusOK {
		return fmt.Errorf("bark: push rejected (code %d): %s", result.Code, result.Message)
	}
	return nil
}
