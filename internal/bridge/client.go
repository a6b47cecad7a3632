// Package bridge is the HTTP client for the external analysis engine.
// All analysis endpoints share one retry policy: transient failures
// (timeouts, connection errors, 5xx) retry with linear backoff, client
// errors surface immediately.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrEngineUnavailable is returned without dialing when the supervisor has
// not verified a healthy engine. Callers treat it as a failed sub-task.
var ErrEngineUnavailable = errors.New("analysis engine unavailable")

// EngineGate reports whether the analysis engine is known to be healthy.
// The process supervisor implements it; a nil gate means always available.
type EngineGate interface {
	Available() bool
}

// Payload is a generic JSON result from an analysis endpoint.
type Payload map[string]interface{}

// Confidence extracts a [0,1] confidence value from the payload, falling
// back to the given default when the field is missing or out of range.
func (p Payload) Confidence(field string, fallback float64) float64 {
	if v, ok := p[field].(float64); ok && v >= 0 && v <= 1 {
		return v
	}
	return fallback
}

// StatusInfo is the engine's self-reported state. A dead engine yields a
// synthetic offline value rather than an error.
type StatusInfo struct {
	Online  bool                   `json:"online"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("engine returned status %d", e.code)
}

type Client struct {
	BaseURL string
	Gate    EngineGate

	httpClient *http.Client
	retries    int
	backoff    time.Duration
}

type Options struct {
	Timeout time.Duration // per-call timeout, default 30s
	Retries int           // total attempts, default 3
	Backoff time.Duration // linear backoff base, default 1s
	Gate    EngineGate
}

func NewClient(baseURL string, opts Options) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8001"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.Backoff == 0 {
		opts.Backoff = time.Second
	}
	return &Client{
		BaseURL:    baseURL,
		Gate:       opts.Gate,
		httpClient: &http.Client{Timeout: opts.Timeout},
		retries:    opts.Retries,
		backoff:    opts.Backoff,
	}
}

type ResearchRequest struct {
	Topic                  string `json:"topic"`
	Depth                  string `json:"depth,omitempty"`
	IncludeCompetitors     bool   `json:"include_competitors"`
	IncludeMarketSentiment bool   `json:"include_market_sentiment"`
}

type CompetitorRequest struct {
	Topic string `json:"topic"`
	TopN  int    `json:"top_n,omitempty"`
}

type ContentStrategyRequest struct {
	Topic    string `json:"topic"`
	Audience string `json:"audience,omitempty"`
}

type TrendRequest struct {
	Topic string `json:"topic"`
}

func (c *Client) Research(ctx context.Context, req ResearchRequest) (Payload, error) {
	return c.post(ctx, "/research/analyze", req)
}

func (c *Client) Competitors(ctx context.Context, req CompetitorRequest) (Payload, error) {
	return c.post(ctx, "/research/competitors", req)
}

func (c *Client) ContentStrategy(ctx context.Context, req ContentStrategyRequest) (Payload, error) {
	return c.post(ctx, "/research/content-strategy", req)
}

func (c *Client) Trends(ctx context.Context, req TrendRequest) (Payload, error) {
	return c.post(ctx, "/research/trends", req)
}

func (c *Client) QuickInsight(ctx context.Context, question string) (Payload, error) {
	return c.post(ctx, "/research/quick-insight", map[string]string{"question": question})
}

// Status reports engine liveness. It never returns an error: any failure is
// folded into an offline StatusInfo, since callers use this for reporting.
func (c *Client) Status(ctx context.Context) StatusInfo {
	payload, err := c.get(ctx, "/research/status")
	if err != nil {
		return StatusInfo{Online: false}
	}
	return StatusInfo{Online: true, Details: payload}
}

// Health probes the engine's health endpoint once, without retries. The
// process supervisor uses it during startup verification, so it bypasses
// the availability gate.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health probe returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (Payload, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, jsonData)
}

func (c *Client) get(ctx context.Context, path string) (Payload, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (Payload, error) {
	if c.Gate != nil && !c.Gate.Available() {
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrEngineUnavailable)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if attempt > 1 {
			// Linear backoff: attempt x base delay.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt-1) * c.backoff):
			}
		}

		payload, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		// A cancelled caller context ends the call regardless of the
		// failure class; per-attempt timeouts keep retrying.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, ctx.Err())
		}
		if !isRetryable(err) {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
	}

	return nil, fmt.Errorf("%s %s failed after %d attempts: %w", method, path, c.retries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte) (Payload, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}

	var payload Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return payload, nil
}

// isRetryable classifies an attempt error. Network errors and timeouts
// retry, as do 5xx responses; 4xx client errors do not.
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	// Transport-level failures (connection refused, client timeout).
	return true
}
