package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/artisan/internal/catalog"
	"github.com/onnwee/artisan/internal/middleware"
	"github.com/onnwee/artisan/internal/ranking"
	"github.com/onnwee/artisan/internal/validate"
)

// Search result limits.
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// ListingSearcher ranks candidate listings. *ranking.Ranker implements it.
type ListingSearcher interface {
	HybridSearchListings(ctx context.Context, query string, listings []ranking.Listing, limit int) []ranking.HybridSearchResult
}

// SearchHandlers serves listing search and creation.
type SearchHandlers struct {
	listings       catalog.ListingRepository
	searcher       ListingSearcher
	candidateLimit int
	logger         *slog.Logger
}

// SearchHandlersConfig configures SearchHandlers.
type SearchHandlersConfig struct {
	Logger *slog.Logger
	// CandidateLimit caps listings pulled from the catalog per query.
	// Defaults to catalog.DefaultCandidateLimit.
	CandidateLimit int
}

// NewSearchHandlers creates a new SearchHandlers instance.
func NewSearchHandlers(config SearchHandlersConfig, listings catalog.ListingRepository, searcher ListingSearcher) *SearchHandlers {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.CandidateLimit <= 0 {
		config.CandidateLimit = catalog.DefaultCandidateLimit
	}
	return &SearchHandlers{
		listings:       listings,
		searcher:       searcher,
		candidateLimit: config.CandidateLimit,
		logger:         config.Logger,
	}
}

// SearchRequest is the body of POST /v1/search/listings.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// SearchResponse is the body returned by listing search.
type SearchResponse struct {
	Query   string                       `json:"query"`
	Results []ranking.HybridSearchResult `json:"results"`
}

// CreateListingRequest is the body of POST /v1/listings.
type CreateListingRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SearchListings handles POST /v1/search/listings.
func (h *SearchHandlers) SearchListings(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	query, err := validate.SearchQuery(req.Query)
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "query: "+err.Error())
		return
	}
	limit := req.Limit
	switch {
	case limit == 0:
		limit = DefaultSearchLimit
	case limit < 0 || limit > MaxSearchLimit:
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "limit must be between 1 and 100")
		return
	}

	candidates, err := h.listings.Candidates(r.Context(), h.candidateLimit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to load search candidates", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Search is unavailable")
		return
	}

	results := h.searcher.HybridSearchListings(r.Context(), query, candidates, limit)
	writeJSON(w, r, http.StatusOK, SearchResponse{Query: query, Results: results})
}

// CreateListing handles POST /v1/listings. The authenticated user owns the listing.
func (h *SearchHandlers) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req CreateListingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	title, err := validate.ListingTitle(req.Title)
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "title: "+err.Error())
		return
	}
	description, err := validate.ListingDescription(req.Description)
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "description: "+err.Error())
		return
	}

	listing := &ranking.Listing{
		SellerID:    middleware.GetUserID(r.Context()),
		Title:       title,
		Description: description,
	}
	if err := h.listings.Create(r.Context(), listing); err != nil {
		if errors.Is(err, catalog.ErrMissingOwner) || errors.Is(err, catalog.ErrMissingTitle) {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to create listing", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to create listing")
		return
	}

	writeJSON(w, r, http.StatusCreated, listing)
}

// GetListing handles GET /v1/listings/{id}.
func (h *SearchHandlers) GetListing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	listing, err := h.listings.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrListingNotFound) {
			WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Listing not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to load listing", "error", err, "listing_id", id)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve listing")
		return
	}
	writeJSON(w, r, http.StatusOK, listing)
}
