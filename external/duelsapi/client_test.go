package duelsapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/riskibarqy/duel-ingest/internal/platform/resilience"
	"github.com/riskibarqy/duel-ingest/internal/usecase"
)

func newTestClient(t *testing.T, serverURL string, cfg ClientConfig) *Client {
	t.Helper()

	table, err := ParseEndpointTable([]byte(`
hosts: ["` + serverURL + `"]
families:
  head_to_head: ["/api/duels/{matchId}"]
profile:
  user_path: /api/v3/users/{playerId}
  self_path: /api/v3/profiles
`))
	if err != nil {
		t.Fatalf("ParseEndpointTable error: %v", err)
	}
	cfg.Endpoints = table
	cfg.HTTPClient = &http.Client{Timeout: 2 * time.Second}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return client
}

func TestClientGetJSON_ReturnsStatusWithoutError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("_ncfa")
		if err != nil || cookie.Value != "session-token" {
			t.Errorf("expected session cookie, got %v (%v)", cookie, err)
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"not found"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ClientConfig{Credential: "session-token"})
	resp, err := client.GetJSON(context.Background(), server.URL+"/api/duels/m1", usecase.RequestOptions{})
	if err != nil {
		t.Fatalf("GetJSON error: %v", err)
	}
	if resp.Status != http.StatusNotFound || resp.OK() {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestClientGetJSON_ForceAuthenticatedWithoutCredential(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, "https://unused.example", ClientConfig{})
	_, err := client.GetJSON(context.Background(), "https://unused.example/api/v3/profiles", usecase.RequestOptions{ForceAuthenticated: true})
	if !errors.Is(err, usecase.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestClientGetJSON_OversizedBodyIsReported(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/duels/big" {
			_, _ = w.Write([]byte(`{"rounds": [1, 2, 3, 4, 5]}`))
			return
		}
		_, _ = w.Write([]byte(`{"rounds": []}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ClientConfig{MaxBodyBytes: 14})

	resp, err := client.GetJSON(context.Background(), server.URL+"/api/duels/fits", usecase.RequestOptions{})
	if err != nil || string(resp.Body) != `{"rounds": []}` {
		t.Fatalf("body at the limit must be returned whole, got %q, %v", resp.Body, err)
	}

	_, err = client.GetJSON(context.Background(), server.URL+"/api/duels/big", usecase.RequestOptions{})
	if err == nil || !strings.Contains(err.Error(), "response body exceeds 14 bytes") {
		t.Fatalf("expected oversized body error, got %v", err)
	}
}

func TestClientGetJSON_BreakerOpensOnTransportFailures(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := server.URL
	server.Close()

	client := newTestClient(t, deadURL, ClientConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 2,
			OpenTimeout:      time.Minute,
			HalfOpenMaxReq:   1,
		},
	})

	for i := 0; i < 2; i++ {
		if _, err := client.GetJSON(context.Background(), deadURL+"/api/duels/m1", usecase.RequestOptions{}); err == nil {
			t.Fatalf("expected transport error on attempt %d", i+1)
		}
	}

	_, err := client.GetJSON(context.Background(), deadURL+"/api/duels/m1", usecase.RequestOptions{})
	if !errors.Is(err, usecase.ErrDependencyUnavailable) {
		t.Fatalf("expected breaker rejection, got %v", err)
	}
	for _, state := range client.BreakerStates() {
		if state != resilience.CircuitStateOpen {
			t.Fatalf("expected open breaker, got %s", state)
		}
	}
}

func TestClientGetProfile(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/api/v3/users/p1":
			_, _ = w.Write([]byte(`{"id":"p1","nick":" Rival ","countryCode":"se"}`))
		case "/api/v3/profiles":
			_, _ = w.Write([]byte(`{"user":{"id":"me-123","nick":"Me"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ClientConfig{Credential: "token"})

	got, err := client.GetProfile(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetProfile error: %v", err)
	}
	if got.Nick != "Rival" || got.CountryCode != "SE" || got.PlayerID != "p1" {
		t.Fatalf("unexpected profile: %+v", got)
	}

	if _, err := client.GetProfile(context.Background(), "ghost"); !errors.Is(err, usecase.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	own, err := client.FetchOwnPlayerID(context.Background())
	if err != nil {
		t.Fatalf("FetchOwnPlayerID error: %v", err)
	}
	if own != "me-123" {
		t.Fatalf("unexpected own id %q", own)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 upstream calls, got %d", calls.Load())
	}
}
