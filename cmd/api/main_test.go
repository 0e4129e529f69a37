package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/artisan/internal/api"
	"github.com/onnwee/artisan/internal/auth"
	"github.com/onnwee/artisan/internal/config"
	"github.com/onnwee/artisan/internal/counters"
	"github.com/onnwee/artisan/internal/middleware"
)

const testSecret = "main-test-secret-0123456789abcdef"

// devConfig is a development configuration with in-memory stores.
func devConfig() *config.Config {
	return &config.Config{
		Port:                   0,
		Env:                    "development",
		JWTSecret:              testSecret,
		ReputationEdgesEnabled: true,
		RankTrustEnabled:       true,
		TrustCacheTTL:          config.DefaultTrustCacheTTL,
		TrustRefreshInterval:   config.DefaultTrustRefreshInterval,
		TrustRefreshTimeout:    config.DefaultTrustRefreshTimeout,
		TrustPreloadTopN:       config.DefaultTrustPreloadTopN,
		TrustChunkTimeout:      config.DefaultTrustChunkTimeout,
		TrustReconcileInterval: config.DefaultTrustReconcileInterval,
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	t.Cleanup(func() { a.close(context.Background()) })
	return a
}

func issue(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	v := auth.NewVerifier(auth.VerifierConfig{Secret: testSecret})
	tok, err := v.IssueToken(userID, roles, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}
	return tok
}

func send(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestNewApp_HealthAndReady(t *testing.T) {
	a := newTestApp(t, devConfig())

	for _, path := range []string{"/health", "/ready"} {
		rr := send(t, a.handler, http.MethodGet, path, "", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, rr.Code, http.StatusOK)
		}
		if rr.Header().Get(middleware.RequestIDHeader) == "" {
			t.Errorf("GET %s missing %s header", path, middleware.RequestIDHeader)
		}
	}
}

func TestNewApp_EndorsementUpdatesScore(t *testing.T) {
	a := newTestApp(t, devConfig())

	rr := send(t, a.handler, http.MethodPost, "/v1/sellers/seller-1/endorsements", issue(t, "buyer-1"), nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("endorse status = %d, want %d, body: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}

	rr = send(t, a.handler, http.MethodGet, "/v1/trust/seller-1", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("score status = %d, want %d, body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	var got api.TrustScoreResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode score: %v", err)
	}
	if got.UserID != "seller-1" {
		t.Errorf("UserID = %q, want %q", got.UserID, "seller-1")
	}
	if got.Factors.EndorsementsCount != 1 {
		t.Errorf("EndorsementsCount = %d, want 1", got.Factors.EndorsementsCount)
	}
}

func TestNewApp_EdgesDisabled(t *testing.T) {
	cfg := devConfig()
	cfg.ReputationEdgesEnabled = false
	a := newTestApp(t, cfg)

	rr := send(t, a.handler, http.MethodPost, "/v1/sellers/seller-1/endorsements", issue(t, "buyer-1"), nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("endorse status = %d, want %d", rr.Code, http.StatusAccepted)
	}
	var got api.EdgeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode edge: %v", err)
	}
	if got.Recorded {
		t.Error("Recorded = true with edges disabled")
	}

	rr = send(t, a.handler, http.MethodGet, "/v1/trust/seller-1", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("score status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestNewApp_SearchRateLimited(t *testing.T) {
	a := newTestApp(t, devConfig())
	limit := middleware.DefaultSearchLimit().RequestsPerWindow

	body := map[string]any{"query": "walnut bowl"}
	for i := 0; i < limit; i++ {
		rr := send(t, a.handler, http.MethodPost, "/v1/search/listings", "", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want %d", i+1, rr.Code, http.StatusOK)
		}
	}

	rr := send(t, a.handler, http.MethodPost, "/v1/search/listings", "", body)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestNewApp_MetricsEndpoint(t *testing.T) {
	a := newTestApp(t, devConfig())

	send(t, a.handler, http.MethodGet, "/v1/trust/nobody", "", nil)
	send(t, a.handler, http.MethodPost, "/v1/search/listings", "", map[string]any{"query": "mug"})

	rr := send(t, a.handler, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", rr.Code, http.StatusOK)
	}
	out := rr.Body.String()
	for _, want := range []string{
		middleware.MetricHTTPRequestsTotal,
		middleware.MetricRateLimitRequests,
		counters.MetricEventsTotal,
		`route="/v1/trust/{id}"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestApp_StartAndClose(t *testing.T) {
	a := newTestApp(t, devConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.start(ctx)

	if !a.reconcile.IsRunning() {
		t.Error("reconcile job not running after start")
	}
	if !a.refresh.IsRunning() {
		t.Error("refresh scheduler not running after start")
	}

	srv := httptest.NewServer(a.handler)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	srv.Close()

	a.close(context.Background())
	if a.reconcile.IsRunning() {
		t.Error("reconcile job still running after close")
	}
	if a.refresh.IsRunning() {
		t.Error("refresh scheduler still running after close")
	}

	// The cleanup registered by newTestApp closes again.
}

func TestNewApp_InvalidRedisURL(t *testing.T) {
	cfg := devConfig()
	cfg.RedisURL = "not-a-redis-url"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := newApp(context.Background(), cfg, logger); err == nil {
		t.Fatal("newApp() error = nil, want invalid redis url")
	}
}
