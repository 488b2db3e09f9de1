// Package yamnet provides a classifier backed by an HTTP model server that
// hosts an AudioSet event classifier such as YAMNet.
//
// Each call encodes the samples as a mono 16-bit WAV file and POSTs it as
// multipart/form-data to {serverURL}/classify. The server must answer with a
// JSON object carrying the top-1 label:
//
//	{"label": "Speech", "confidence": 0.91}
//
// Usage:
//
//	c, err := yamnet.New("http://localhost:8000")
//	res, err := c.Classify(ctx, samples, 16000)
package yamnet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 64 << 10

var _ classifier.Classifier = (*Classifier)(nil)

// Option is a functional option for configuring a Classifier.
type Option func(*Classifier)

// WithHTTPClient replaces the default HTTP client. Per-call deadlines come
// from the context, so the client timeout is only a backstop.
func WithHTTPClient(c *http.Client) Option {
	return func(y *Classifier) {
		if c != nil {
			y.httpClient = c
		}
	}
}

// WithEndpoint overrides the request path. Defaults to "/classify".
func WithEndpoint(path string) Option {
	return func(y *Classifier) {
		if path != "" {
			y.endpoint = path
		}
	}
}

// Classifier implements classifier.Classifier against a remote model server.
type Classifier struct {
	serverURL  string
	endpoint   string
	httpClient *http.Client
}

// New creates a Classifier for the server at serverURL
// (e.g. "http://localhost:8000"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Classifier, error) {
	if serverURL == "" {
		return nil, errors.New("yamnet: serverURL must not be empty")
	}
	c := &Classifier{
		serverURL:  strings.TrimRight(serverURL, "/"),
		endpoint:   "/classify",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Classify uploads samples and returns the server's top-1 label.
func (c *Classifier) Classify(ctx context.Context, samples []float32, sampleRate int) (classifier.Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "window.wav")
	if err != nil {
		return classifier.Result{}, fmt.Errorf("yamnet: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(samples, sampleRate)); err != nil {
		return classifier.Result{}, fmt.Errorf("yamnet: write wav data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return classifier.Result{}, fmt.Errorf("yamnet: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+c.endpoint, &body)
	if err != nil {
		return classifier.Result{}, fmt.Errorf("yamnet: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifier.Result{}, fmt.Errorf("yamnet: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifier.Result{}, fmt.Errorf("yamnet: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifier.Result{}, fmt.Errorf("yamnet: read response body: %w", err)
	}

	var result struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return classifier.Result{}, fmt.Errorf("yamnet: parse JSON response: %w", err)
	}
	return classifier.Result{Label: result.Label, Confidence: result.Confidence}, nil
}
