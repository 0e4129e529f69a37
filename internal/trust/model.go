// Package trust computes seller reputation scores for the marketplace from an
// append-only ledger of fulfillment, endorsement and dispute events.
package trust

import (
	"errors"
	"time"
)

// EdgeKind identifies the type of event a reputation edge records.
type EdgeKind string

// Edge kinds recorded by the ledger.
const (
	EdgeOrderFulfilled EdgeKind = "order_fulfilled"
	EdgeEndorsement    EdgeKind = "endorsement"
)

// DisputeStatus is the lifecycle state of a dispute.
// Disputes move open -> resolved and never leave resolved.
type DisputeStatus string

// Dispute states.
const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

// Grade is the discrete tier derived from a trust score.
type Grade string

// Grades from lowest to highest.
const (
	GradeBronze   Grade = "bronze"
	GradeSilver   Grade = "silver"
	GradeGold     Grade = "gold"
	GradePlatinum Grade = "platinum"
)

// Validation errors
var (
	ErrInvalidEdgeKind  = errors.New("invalid edge kind: must be order_fulfilled or endorsement")
	ErrEmptyUserID      = errors.New("user id cannot be empty")
	ErrSelfEdge         = errors.New("reputation edge cannot point at its own author")
	ErrDisputeNotFound  = errors.New("dispute not found")
	ErrDisputeResolved  = errors.New("dispute already resolved")
	ErrOrderNotFound    = errors.New("order not found for seller")
	ErrSnapshotNotFound = errors.New("trust snapshot not found")
	ErrTooManyIDs       = errors.New("too many ids for a single lookup")
)

// ValidEdgeKind reports whether k is a kind the ledger accepts.
func ValidEdgeKind(k EdgeKind) bool {
	return k == EdgeOrderFulfilled || k == EdgeEndorsement
}

// ReputationEdge is an immutable event linking a user to a seller.
type ReputationEdge struct {
	ID     string    `json:"id"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Weight float64   `json:"weight"`
	Kind   EdgeKind  `json:"kind"`
	At     time.Time `json:"at"`
}

// Validate checks that the edge has two distinct endpoints and a known kind.
func (e *ReputationEdge) Validate() error {
	if e.From == "" || e.To == "" {
		return ErrEmptyUserID
	}
	if !ValidEdgeKind(e.Kind) {
		return ErrInvalidEdgeKind
	}
	if e.From == e.To {
		return ErrSelfEdge
	}
	return nil
}

// Listing is the slice of a marketplace listing the scorer cares about.
type Listing struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Order is a marketplace order placed with a seller.
// FulfilledAt is nil until the seller ships.
type Order struct {
	ID          string     `json:"id"`
	SellerID    string     `json:"seller_id"`
	BuyerID     string     `json:"buyer_id"`
	Date        time.Time  `json:"date"`
	FulfilledAt *time.Time `json:"fulfilled_at,omitempty"`
}

// Dispute is a complaint filed against a seller for an order.
type Dispute struct {
	ID         string        `json:"id"`
	SellerID   string        `json:"seller_id"`
	OrderID    string        `json:"order_id"`
	Reason     string        `json:"reason"`
	Status     DisputeStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// TrustFactors are the per-seller aggregates a score is computed from.
// They are derived at recompute time and never stored on their own.
type TrustFactors struct {
	ListingCount          int      `json:"listing_count"`
	FulfilledOrders       int      `json:"fulfilled_orders"`
	RecentFulfillments30d int      `json:"recent_fulfillments_30d"`
	DecayedFulfillments   float64  `json:"decayed_fulfillments"`
	Disputes              int      `json:"disputes"`
	TenureDays            float64  `json:"tenure_days"`
	AvgFulfillmentMs      *float64 `json:"avg_fulfillment_ms,omitempty"`
	EndorsementsCount     int      `json:"endorsements_count"`
}

// Component is one itemised line of a trust score.
type Component struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// TrustScoreResult is the full output of a score computation.
type TrustScoreResult struct {
	Score      int          `json:"score"`
	Grade      Grade        `json:"grade"`
	Components []Component  `json:"components"`
	Factors    TrustFactors `json:"factors"`
	Version    string       `json:"version"`
}

// PersistedTrustSnapshot is one historical score row. Rows are append-only.
type PersistedTrustSnapshot struct {
	ID      string       `json:"id"`
	UserID  string       `json:"user_id"`
	At      time.Time    `json:"at"`
	Score   int          `json:"score"`
	Grade   Grade        `json:"grade"`
	Version string       `json:"version"`
	Factors TrustFactors `json:"factors"`
}

// TrustLatest mirrors the newest snapshot of a seller for constant-time reads.
type TrustLatest struct {
	UserID    string       `json:"user_id"`
	Score     int          `json:"score"`
	Grade     Grade        `json:"grade"`
	Version   string       `json:"version"`
	Factors   TrustFactors `json:"factors"`
	UpdatedAt time.Time    `json:"updated_at"`
}
