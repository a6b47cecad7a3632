package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(url string, retries int, gate EngineGate) *Client {
	return NewClient(url, Options{
		Timeout: 2 * time.Second,
		Retries: retries,
		Backoff: time.Millisecond,
		Gate:    gate,
	})
}

func TestRetryBoundOnServerErrors(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3, nil)
	_, err := c.Research(context.Background(), ResearchRequest{Topic: "ai tools"})
	if err == nil {
		t.Fatal("expected error from failing endpoint")
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if !strings.Contains(err.Error(), "/research/analyze") || !strings.Contains(err.Error(), "3 attempts") {
		t.Errorf("error should name endpoint and attempt count: %v", err)
	}
}

func TestRetryBoundOnTimeouts(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Options{Timeout: 20 * time.Millisecond, Retries: 3, Backoff: time.Millisecond})
	_, err := c.Trends(context.Background(), TrendRequest{Topic: "niche sites"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3, nil)
	_, err := c.Competitors(context.Background(), CompetitorRequest{Topic: "crm", TopN: 5})
	if err == nil {
		t.Fatal("expected error from 400 response")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on 4xx)", got)
	}
}

func TestSuccessfulCallDecodesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/research/content-strategy" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"strategy_confidence": 0.8, "pillars": ["comparison", "tutorial"]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3, nil)
	payload, err := c.ContentStrategy(context.Background(), ContentStrategyRequest{Topic: "seo"})
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if got := payload.Confidence("strategy_confidence", 0.5); got != 0.8 {
		t.Errorf("confidence = %v, want 0.8", got)
	}
}

func TestConfidenceFallback(t *testing.T) {
	p := Payload{"other": "field"}
	if got := p.Confidence("confidence", 0.5); got != 0.5 {
		t.Errorf("fallback = %v, want 0.5", got)
	}
	p = Payload{"confidence": 1.7}
	if got := p.Confidence("confidence", 0.5); got != 0.5 {
		t.Errorf("out-of-range value should fall back, got %v", got)
	}
}

type closedGate struct{}

func (closedGate) Available() bool { return false }

func TestGateFailsFastWithoutDialing(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3, closedGate{})
	_, err := c.Research(context.Background(), ResearchRequest{Topic: "anything"})
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
	if atomic.LoadInt32(&attempts) != 0 {
		t.Error("gated client must not dial the engine")
	}
}

func TestStatusNeverErrors(t *testing.T) {
	// Point at a closed server so every request fails.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := testClient(srv.URL, 2, nil)
	status := c.Status(context.Background())
	if status.Online {
		t.Error("dead engine should report offline")
	}
}

func TestStatusOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model": "loaded"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 2, nil)
	status := c.Status(context.Background())
	if !status.Online {
		t.Fatal("healthy engine should report online")
	}
	if status.Details["model"] != "loaded" {
		t.Errorf("details = %v", status.Details)
	}
}

func TestHealthProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 2, nil)
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("health probe failed: %v", err)
	}
}
