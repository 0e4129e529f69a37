// Package catalog stores marketplace listings and supplies the candidate
// set for listing search.
package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/artisan/internal/ranking"
	"github.com/onnwee/artisan/internal/trust"
)

// Common errors for catalog operations.
var (
	ErrListingNotFound = errors.New("listing not found")
	ErrMissingOwner    = errors.New("listing owner is required")
	ErrMissingTitle    = errors.New("listing title is required")
)

// DefaultCandidateLimit caps the candidate set handed to the ranker.
const DefaultCandidateLimit = 500

// ListingRepository defines listing storage operations.
type ListingRepository interface {
	// Create stores a listing, generating its ID when empty.
	Create(ctx context.Context, l *ranking.Listing) error

	// GetByID returns a listing or ErrListingNotFound.
	GetByID(ctx context.Context, id string) (*ranking.Listing, error)

	// Candidates returns up to limit listings, newest first.
	// limit <= 0 uses DefaultCandidateLimit.
	Candidates(ctx context.Context, limit int) ([]ranking.Listing, error)
}

// ListingSink receives listings created in memory so other in-memory stores
// can see them. trust.MemoryStore satisfies it.
type ListingSink interface {
	AddListing(l trust.Listing)
}

// validate trims and checks a listing before storage.
func validate(l *ranking.Listing) error {
	l.SellerID = strings.TrimSpace(l.SellerID)
	l.Title = strings.TrimSpace(l.Title)
	l.Description = strings.TrimSpace(l.Description)
	if l.SellerID == "" {
		return ErrMissingOwner
	}
	if l.Title == "" {
		return ErrMissingTitle
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}

type storedListing struct {
	listing   ranking.Listing
	createdAt time.Time
}

// InMemoryListingRepository is an in-memory ListingRepository.
// Thread-safe via RWMutex.
type InMemoryListingRepository struct {
	mu       sync.RWMutex
	listings map[string]storedListing
	sink     ListingSink
	now      func() time.Time
}

// NewInMemoryListingRepository creates an empty repository. sink may be nil.
func NewInMemoryListingRepository(sink ListingSink) *InMemoryListingRepository {
	return &InMemoryListingRepository{
		listings: make(map[string]storedListing),
		sink:     sink,
		now:      time.Now,
	}
}

// Create stores a copy of l.
func (r *InMemoryListingRepository) Create(_ context.Context, l *ranking.Listing) error {
	if err := validate(l); err != nil {
		return err
	}
	created := r.now().UTC()

	r.mu.Lock()
	r.listings[l.ID] = storedListing{listing: *l, createdAt: created}
	r.mu.Unlock()

	if r.sink != nil {
		r.sink.AddListing(trust.Listing{ID: l.ID, OwnerID: l.SellerID, CreatedAt: created})
	}
	return nil
}

// GetByID returns a copy of the listing.
func (r *InMemoryListingRepository) GetByID(_ context.Context, id string) (*ranking.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	l := s.listing
	return &l, nil
}

// Candidates returns listings ordered by creation time descending, id ascending.
func (r *InMemoryListingRepository) Candidates(_ context.Context, limit int) ([]ranking.Listing, error) {
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}

	r.mu.RLock()
	all := make([]storedListing, 0, len(r.listings))
	for _, s := range r.listings {
		all = append(all, s)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].createdAt.Equal(all[j].createdAt) {
			return all[i].createdAt.After(all[j].createdAt)
		}
		return all[i].listing.ID < all[j].listing.ID
	})
	if len(all) > limit {
		all = all[:limit]
	}

	out := make([]ranking.Listing, len(all))
	for i, s := range all {
		out[i] = s.listing
	}
	return out, nil
}
