package trust

import (
	"context"
	"sort"
	"sync"
	"time"
)

// EventStore is the persisted event collection the ledger reads and appends to.
type EventStore interface {
	// AppendEdge stores a new immutable reputation edge.
	AppendEdge(ctx context.Context, edge ReputationEdge) error
	// EdgesTo returns every edge whose target is sellerID.
	EdgesTo(ctx context.Context, sellerID string) ([]ReputationEdge, error)
	// ListingsByOwner returns all listings owned by ownerID.
	ListingsByOwner(ctx context.Context, ownerID string) ([]Listing, error)
	// OrdersBySeller returns all orders placed with sellerID.
	OrdersBySeller(ctx context.Context, sellerID string) ([]Order, error)
	// DisputesBySeller returns all disputes filed against sellerID.
	DisputesBySeller(ctx context.Context, sellerID string) ([]Dispute, error)
	// CreateDispute stores a new dispute.
	CreateDispute(ctx context.Context, d Dispute) error
	// GetDispute returns a dispute by ID, or ErrDisputeNotFound.
	GetDispute(ctx context.Context, id string) (*Dispute, error)
	// ResolveDispute marks a dispute resolved at the given time.
	ResolveDispute(ctx context.Context, id string, at time.Time) error
}

// SnapshotStore persists score history and the per-seller latest mirror.
type SnapshotStore interface {
	// AppendSnapshot adds a history row.
	AppendSnapshot(ctx context.Context, snap PersistedTrustSnapshot) error
	// UpsertLatest overwrites the latest mirror for snap.UserID.
	UpsertLatest(ctx context.Context, latest TrustLatest) error
	// GetLatest returns the latest mirror for a user, or ErrSnapshotNotFound.
	GetLatest(ctx context.Context, userID string) (*TrustLatest, error)
	// SnapshotsForUsers returns snapshots for up to MaxInFilter users,
	// ordered by At descending.
	SnapshotsForUsers(ctx context.Context, userIDs []string) ([]PersistedTrustSnapshot, error)
	// TopLatest returns up to n latest mirrors ordered by score descending.
	TopLatest(ctx context.Context, n int) ([]TrustLatest, error)
	// History returns up to limit snapshots for a user, newest first.
	History(ctx context.Context, userID string, limit int) ([]PersistedTrustSnapshot, error)
}

// MaxInFilter is the largest id set a single "in" lookup accepts.
const MaxInFilter = 10

// MemoryStore is an in-memory EventStore and SnapshotStore.
// It backs tests and single-process deployments without a database.
type MemoryStore struct {
	mu        sync.RWMutex
	edges     map[string][]ReputationEdge // sellerID -> edges
	listings  map[string][]Listing        // ownerID -> listings
	orders    map[string][]Order          // sellerID -> orders
	disputes  map[string]*Dispute         // disputeID -> dispute
	snapshots map[string][]PersistedTrustSnapshot
	latest    map[string]TrustLatest
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		edges:     make(map[string][]ReputationEdge),
		listings:  make(map[string][]Listing),
		orders:    make(map[string][]Order),
		disputes:  make(map[string]*Dispute),
		snapshots: make(map[string][]PersistedTrustSnapshot),
		latest:    make(map[string]TrustLatest),
	}
}

// AppendEdge stores a new reputation edge.
func (s *MemoryStore) AppendEdge(_ context.Context, edge ReputationEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[edge.To] = append(s.edges[edge.To], edge)
	return nil
}

// EdgesTo returns a copy of all edges targeting sellerID.
func (s *MemoryStore) EdgesTo(_ context.Context, sellerID string) ([]ReputationEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]ReputationEdge, len(s.edges[sellerID]))
	copy(result, s.edges[sellerID])
	return result, nil
}

// ListingsByOwner returns a copy of all listings for ownerID.
func (s *MemoryStore) ListingsByOwner(_ context.Context, ownerID string) ([]Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Listing, len(s.listings[ownerID]))
	copy(result, s.listings[ownerID])
	return result, nil
}

// OrdersBySeller returns a copy of all orders for sellerID.
func (s *MemoryStore) OrdersBySeller(_ context.Context, sellerID string) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Order, len(s.orders[sellerID]))
	copy(result, s.orders[sellerID])
	return result, nil
}

// DisputesBySeller returns copies of all disputes filed against sellerID.
func (s *MemoryStore) DisputesBySeller(_ context.Context, sellerID string) ([]Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Dispute
	for _, d := range s.disputes {
		if d.SellerID == sellerID {
			result = append(result, *d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// CreateDispute stores a dispute.
func (s *MemoryStore) CreateDispute(_ context.Context, d Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := d
	s.disputes[d.ID] = &stored
	return nil
}

// GetDispute returns a dispute by ID.
func (s *MemoryStore) GetDispute(_ context.Context, id string) (*Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	copied := *d
	return &copied, nil
}

// ResolveDispute marks an open dispute resolved.
func (s *MemoryStore) ResolveDispute(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok {
		return ErrDisputeNotFound
	}
	if d.Status == DisputeResolved {
		return ErrDisputeResolved
	}
	d.Status = DisputeResolved
	d.ResolvedAt = &at
	return nil
}

// AddListing adds a listing to the store.
func (s *MemoryStore) AddListing(l Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.OwnerID] = append(s.listings[l.OwnerID], l)
}

// AddOrder adds an order to the store.
func (s *MemoryStore) AddOrder(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.SellerID] = append(s.orders[o.SellerID], o)
}

// AppendSnapshot adds a history row.
func (s *MemoryStore) AppendSnapshot(_ context.Context, snap PersistedTrustSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.UserID] = append(s.snapshots[snap.UserID], snap)
	return nil
}

// UpsertLatest overwrites the latest mirror for a user.
func (s *MemoryStore) UpsertLatest(_ context.Context, latest TrustLatest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[latest.UserID] = latest
	return nil
}

// GetLatest returns the latest mirror for a user.
func (s *MemoryStore) GetLatest(_ context.Context, userID string) (*TrustLatest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest, ok := s.latest[userID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return &latest, nil
}

// SnapshotsForUsers returns all snapshots of the given users, newest first.
func (s *MemoryStore) SnapshotsForUsers(_ context.Context, userIDs []string) ([]PersistedTrustSnapshot, error) {
	if len(userIDs) > MaxInFilter {
		return nil, ErrTooManyIDs
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []PersistedTrustSnapshot
	for _, id := range userIDs {
		result = append(result, s.snapshots[id]...)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].At.After(result[j].At) })
	return result, nil
}

// TopLatest returns the n highest-scoring latest mirrors.
func (s *MemoryStore) TopLatest(_ context.Context, n int) ([]TrustLatest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]TrustLatest, 0, len(s.latest))
	for _, l := range s.latest {
		result = append(result, l)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].UserID < result[j].UserID
	})
	if n >= 0 && len(result) > n {
		result = result[:n]
	}
	return result, nil
}

// History returns up to limit snapshots for a user, newest first.
func (s *MemoryStore) History(_ context.Context, userID string, limit int) ([]PersistedTrustSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snaps := s.snapshots[userID]
	result := make([]PersistedTrustSnapshot, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		result = append(result, snaps[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}
