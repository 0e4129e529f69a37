package api

import (
	"net/http"

	"github.com/onnwee/artisan/internal/auth"
	"github.com/onnwee/artisan/internal/middleware"
)

// RateLimits groups the per-policy limiters applied to routes. Nil fields
// leave the routes unlimited.
type RateLimits struct {
	Write  func(http.Handler) http.Handler
	Search func(http.Handler) http.Handler
}

// RouterConfig wires handlers into the HTTP mux.
type RouterConfig struct {
	Health   *HealthHandlers
	Ledger   *LedgerHandlers
	Trust    *TrustHandlers
	Search   *SearchHandlers
	Verifier TokenVerifier
	Limits   RateLimits
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter registers every route on a new ServeMux.
//
// Reads of trust scores and listings are public. Ledger writes and listing
// creation require a bearer token; dispute resolution and score events
// require the admin role.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	authed := RequireAuth(cfg.Verifier)
	admin := func(h http.Handler) http.Handler {
		return authed(RequireRole(auth.RoleAdmin)(h))
	}
	write := chain(authed, cfg.Limits.Write)
	search := chain(cfg.Limits.Search)

	mux.HandleFunc("GET /health", cfg.Health.Health)
	mux.HandleFunc("GET /ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	// Ledger
	mux.Handle("POST /v1/sellers/{id}/fulfillments", write(http.HandlerFunc(cfg.Ledger.RecordFulfillment)))
	mux.Handle("POST /v1/sellers/{id}/endorsements", write(http.HandlerFunc(cfg.Ledger.RecordEndorsement)))
	mux.Handle("POST /v1/sellers/{id}/disputes", write(http.HandlerFunc(cfg.Ledger.RecordDispute)))
	mux.Handle("POST /v1/disputes/{id}/resolve", admin(http.HandlerFunc(cfg.Ledger.ResolveDispute)))

	// Trust reads
	mux.HandleFunc("GET /v1/trust", cfg.Trust.GetTrustScores)
	mux.Handle("GET /v1/trust/events", admin(http.HandlerFunc(cfg.Trust.GetScoreEvents)))
	mux.HandleFunc("GET /v1/trust/{id}", cfg.Trust.GetTrustScore)
	mux.HandleFunc("GET /v1/trust/{id}/history", cfg.Trust.GetTrustHistory)
	mux.HandleFunc("GET /v1/trust/{id}/live", cfg.Trust.LiveTrustScore)

	// Listings
	mux.Handle("POST /v1/search/listings", search(http.HandlerFunc(cfg.Search.SearchListings)))
	mux.Handle("POST /v1/listings", write(http.HandlerFunc(cfg.Search.CreateListing)))
	mux.HandleFunc("GET /v1/listings/{id}", cfg.Search.GetListing)

	return mux
}

// chain applies middlewares so the first one listed runs first. Nil
// entries are skipped.
func chain(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			if mws[i] != nil {
				h = mws[i](h)
			}
		}
		return h
	}
}

// Chain wraps the mux with the standard middleware stack:
// RequestID, then Tracing, then Logging, then HTTPMetrics.
func Chain(h http.Handler, serviceName string, logging func(http.Handler) http.Handler, metrics *middleware.Metrics) http.Handler {
	h = middleware.HTTPMetrics(metrics)(h)
	h = logging(h)
	h = middleware.Tracing(serviceName)(h)
	return middleware.RequestID(h)
}
