package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  RateLimitConfig
		wantErr bool
	}{
		{"valid", RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute}, false},
		{"zero requests", RateLimitConfig{RequestsPerWindow: 0, WindowDuration: time.Minute}, true},
		{"negative window", RateLimitConfig{RequestsPerWindow: 1, WindowDuration: -time.Second}, true},
		{"defaults write", DefaultWriteLimit(), false},
		{"defaults search", DefaultSearchLimit(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInMemoryRateLimitStore_Allow(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	config := RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, remaining, _, err := store.Allow(ctx, "k", config)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if remaining != 2-i {
			t.Errorf("request %d: expected remaining=%d, got %d", i+1, 2-i, remaining)
		}
	}

	now = now.Add(20 * time.Second)
	allowed, remaining, retryAfter, _ := store.Allow(ctx, "k", config)
	if allowed {
		t.Fatal("4th request should be blocked")
	}
	if remaining != 0 {
		t.Errorf("expected remaining=0, got %d", remaining)
	}
	if retryAfter != 40 {
		t.Errorf("expected retryAfter=40, got %d", retryAfter)
	}

	// Other keys are independent.
	if allowed, _, _, _ := store.Allow(ctx, "other", config); !allowed {
		t.Error("a different key should be allowed")
	}

	now = now.Add(40 * time.Second)
	if allowed, remaining, _, _ := store.Allow(ctx, "k", config); !allowed || remaining != 2 {
		t.Errorf("new window: allowed=%v remaining=%d, want true 2", allowed, remaining)
	}
}

func TestInMemoryRateLimitStore_Cleanup(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Second}

	_, _, _, _ = store.Allow(context.Background(), "a", config)
	_, _, _, _ = store.Allow(context.Background(), "b", config)

	now = now.Add(2 * time.Second)
	store.Cleanup()

	if n := len(store.buckets); n != 0 {
		t.Errorf("expected all buckets removed, got %d", n)
	}
}

func TestInMemoryRateLimitStore_Concurrent(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Minute}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, _, _, _ := store.Allow(context.Background(), "shared", config)
			if allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowedCount != 50 {
		t.Errorf("expected exactly 50 allowed, got %d", allowedCount)
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"remote addr", "192.0.2.1:1234", "", "", "192.0.2.1"},
		{"remote addr without port", "192.0.2.1", "", "", "192.0.2.1"},
		{"forwarded first hop", "10.0.0.1:1", "203.0.113.5, 10.0.0.2", "", "203.0.113.5"},
		{"forwarded single", "10.0.0.1:1", " 203.0.113.6 ", "", "203.0.113.6"},
		{"real ip", "10.0.0.1:1", "", "198.51.100.7", "198.51.100.7"},
	}
	keyFunc := IPKeyFunc()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			if got := keyFunc(req); got != tt.want {
				t.Errorf("IPKeyFunc() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserKeyFunc(t *testing.T) {
	keyFunc := UserKeyFunc()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := keyFunc(req); got != "ip:192.0.2.1" {
		t.Errorf("anonymous key = %q, want ip:192.0.2.1", got)
	}

	req = req.WithContext(SetUserID(req.Context(), "user-7"))
	if got := keyFunc(req); got != "user:user-7" {
		t.Errorf("authenticated key = %q, want user:user-7", got)
	}
}

func TestRateLimiter_BlocksAfterLimit(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	metrics := NewMetrics()
	config := RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}

	calls := 0
	handler := RateLimiter(store, config, IPKeyFunc(), PolicySearch, metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/search/listings", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
	}

	if calls != 2 {
		t.Errorf("expected handler called 2 times, got %d", calls)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", last.Code)
	}
	if got := last.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Errorf("X-RateLimit-Limit = %q, want 2", got)
	}
	if got := last.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
	retry, err := strconv.Atoi(last.Header().Get("Retry-After"))
	if err != nil || retry < 1 || retry > 60 {
		t.Errorf("Retry-After = %q, want 1..60", last.Header().Get("Retry-After"))
	}
	if last.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("expected X-RateLimit-Reset header")
	}
	if got := counterValue(t, metrics.rateLimitBlocked.WithLabelValues(PolicySearch)); got != 1 {
		t.Errorf("expected 1 blocked request recorded, got %v", got)
	}
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, RateLimitConfig) (bool, int, int, error) {
	return false, 0, 0, errors.New("redis down")
}

func TestRateLimiter_FailsOpenOnStoreError(t *testing.T) {
	metrics := NewMetrics()
	handler := RateLimiter(failingStore{}, DefaultWriteLimit(), UserKeyFunc(), PolicyWrite, metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sellers/s1/fulfillments", nil))

	if rr.Code != http.StatusCreated {
		t.Errorf("expected request to pass through, got %d", rr.Code)
	}
	if got := counterValue(t, metrics.rateLimitStoreErrors.WithLabelValues(PolicyWrite)); got != 1 {
		t.Errorf("expected 1 store error recorded, got %v", got)
	}
}

func TestRateLimiter_PoliciesAreIndependent(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	search := RateLimiter(store, config, IPKeyFunc(), PolicySearch, nil)(ok)
	write := RateLimiter(store, config, IPKeyFunc(), PolicyWrite, nil)(ok)

	for _, h := range []http.Handler{search, write} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusOK {
			t.Errorf("expected first request under each policy to pass, got %d", rr.Code)
		}
	}
}
