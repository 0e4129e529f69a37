package trust

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/artisan/internal/counters"
	"github.com/onnwee/artisan/internal/toggle"
)

// Ledger records trust-relevant marketplace events.
//
// Edge appends and dispute writes succeed or fail on their own; the score
// recompute that follows is best effort and never surfaces an error.
type Ledger interface {
	// AddReputationEdge appends one edge and recomputes the target seller.
	AddReputationEdge(ctx context.Context, from, to string, kind EdgeKind) error
	// RecordFulfillment appends an order_fulfilled edge from buyer to seller.
	RecordFulfillment(ctx context.Context, buyerID, sellerID string) error
	// RecordEndorsement appends an endorsement edge.
	RecordEndorsement(ctx context.Context, fromID, sellerID string) error
	// RecordDispute stores an open dispute and recomputes the seller. The
	// order must belong to the seller, otherwise ErrOrderNotFound.
	RecordDispute(ctx context.Context, sellerID, orderID, reason string) (*Dispute, error)
	// ResolveDispute moves a dispute to resolved and recomputes the seller.
	ResolveDispute(ctx context.Context, disputeID string) (*Dispute, error)
	// TriggerRecompute recomputes a seller without recording an event.
	TriggerRecompute(ctx context.Context, sellerID string)
	// Enabled reports whether edge writes are active.
	Enabled() bool
}

// LedgerConfig configures the reputation ledger.
type LedgerConfig struct {
	// Logger for ledger activity.
	Logger *slog.Logger
	// Metrics for ledger and recompute tracking.
	Metrics *Metrics
	// Counters receives the trust.recompute increment.
	Counters counters.Counter
	// Toggles gates edge writes via toggle.ReputationEdges.
	Toggles toggle.Service
	// Dirty collects sellers whose recompute failed, for later retry.
	Dirty *DirtyTracker
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// RecomputeTimeout bounds a single recompute.
	RecomputeTimeout time.Duration
}

// DefaultLedgerRecomputeTimeout is the default bound on a synchronous recompute.
const DefaultLedgerRecomputeTimeout = 10 * time.Second

// NewLedger returns the active ledger when the reputationEdges toggle is on at
// construction time, and a ledger that skips edge writes otherwise.
func NewLedger(config LedgerConfig, events EventStore, recomputer *Recomputer) Ledger {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.RecomputeTimeout == 0 {
		config.RecomputeTimeout = DefaultLedgerRecomputeTimeout
	}
	config.Counters = counters.OrNoop(config.Counters)

	if config.Toggles == nil || !config.Toggles.Enabled(toggle.ReputationEdges) {
		config.Logger.Info("reputation edges disabled; ledger writes will be skipped")
		return &disabledLedger{config: config, events: events}
	}
	return &EdgeLedger{config: config, events: events, recomputer: recomputer}
}

// EdgeLedger is the active ledger implementation.
type EdgeLedger struct {
	config     LedgerConfig
	events     EventStore
	recomputer *Recomputer
}

// Enabled reports whether the reputationEdges toggle is currently on.
func (l *EdgeLedger) Enabled() bool {
	return l.config.Toggles.Enabled(toggle.ReputationEdges)
}

// AddReputationEdge appends an edge and recomputes the target seller.
// Returns nil without writing when the toggle has been switched off.
func (l *EdgeLedger) AddReputationEdge(ctx context.Context, from, to string, kind EdgeKind) error {
	if !l.Enabled() {
		return nil
	}

	edge := ReputationEdge{
		ID:     uuid.New().String(),
		From:   from,
		To:     to,
		Weight: 1,
		Kind:   kind,
		At:     l.config.Now().UTC(),
	}
	if err := edge.Validate(); err != nil {
		return err
	}
	if err := l.events.AppendEdge(ctx, edge); err != nil {
		return fmt.Errorf("failed to append reputation edge: %w", err)
	}
	l.config.Metrics.IncEdgesAppended(kind)

	l.config.Logger.Debug("reputation edge appended",
		"edge_id", edge.ID,
		"from", from,
		"to", to,
		"kind", kind)

	l.TriggerRecompute(ctx, to)
	return nil
}

// RecordFulfillment appends an order_fulfilled edge.
func (l *EdgeLedger) RecordFulfillment(ctx context.Context, buyerID, sellerID string) error {
	return l.AddReputationEdge(ctx, buyerID, sellerID, EdgeOrderFulfilled)
}

// RecordEndorsement appends an endorsement edge.
func (l *EdgeLedger) RecordEndorsement(ctx context.Context, fromID, sellerID string) error {
	return l.AddReputationEdge(ctx, fromID, sellerID, EdgeEndorsement)
}

// RecordDispute stores an open dispute then recomputes the seller.
// No edge is appended: a dispute is not a fulfillment.
func (l *EdgeLedger) RecordDispute(ctx context.Context, sellerID, orderID, reason string) (*Dispute, error) {
	d, err := createDispute(ctx, l.events, l.config.Now(), sellerID, orderID, reason)
	if err != nil {
		return nil, err
	}
	if l.Enabled() {
		l.TriggerRecompute(ctx, sellerID)
	}
	return d, nil
}

// ResolveDispute resolves a dispute then recomputes the seller.
func (l *EdgeLedger) ResolveDispute(ctx context.Context, disputeID string) (*Dispute, error) {
	d, err := resolveDispute(ctx, l.events, l.config.Now(), disputeID)
	if err != nil {
		return nil, err
	}
	if l.Enabled() {
		l.TriggerRecompute(ctx, d.SellerID)
	}
	return d, nil
}

// TriggerRecompute recomputes sellerID. Failures are logged, counted and
// handed to the dirty tracker; they never reach the caller.
func (l *EdgeLedger) TriggerRecompute(ctx context.Context, sellerID string) {
	// The recompute outlives a cancelled caller but not the timeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.RecomputeTimeout)
	defer cancel()

	start := time.Now()
	result, err := l.recomputer.Recompute(ctx, sellerID)
	l.config.Metrics.ObserveRecomputeDuration(time.Since(start).Seconds())
	if err != nil {
		l.config.Logger.Warn("trust recompute failed",
			"seller_id", sellerID,
			"error", err)
		l.config.Metrics.IncRecomputeErrors()
		if l.config.Dirty != nil {
			l.config.Dirty.MarkDirty(sellerID)
			l.config.Metrics.SetDirtySellers(float64(l.config.Dirty.DirtyCount()))
		}
		return
	}

	l.config.Counters.Inc(counters.TrustRecompute)
	l.config.Metrics.IncRecomputeTotal()
	l.config.Metrics.SetLastRecomputeTimestamp(float64(time.Now().Unix()))
	if l.config.Dirty != nil {
		l.config.Dirty.ClearDirty(sellerID)
		l.config.Metrics.SetDirtySellers(float64(l.config.Dirty.DirtyCount()))
	}

	l.config.Logger.Debug("trust score recomputed",
		"seller_id", sellerID,
		"score", result.Score,
		"grade", result.Grade)
}

// disabledLedger is returned when reputation edges are off. Disputes are
// still stored because they are marketplace records in their own right.
type disabledLedger struct {
	config LedgerConfig
	events EventStore
}

func (l *disabledLedger) Enabled() bool { return false }

func (l *disabledLedger) AddReputationEdge(context.Context, string, string, EdgeKind) error {
	return nil
}

func (l *disabledLedger) RecordFulfillment(context.Context, string, string) error { return nil }

func (l *disabledLedger) RecordEndorsement(context.Context, string, string) error { return nil }

func (l *disabledLedger) RecordDispute(ctx context.Context, sellerID, orderID, reason string) (*Dispute, error) {
	return createDispute(ctx, l.events, l.config.Now(), sellerID, orderID, reason)
}

func (l *disabledLedger) ResolveDispute(ctx context.Context, disputeID string) (*Dispute, error) {
	return resolveDispute(ctx, l.events, l.config.Now(), disputeID)
}

func (l *disabledLedger) TriggerRecompute(context.Context, string) {}

func createDispute(ctx context.Context, events EventStore, now time.Time, sellerID, orderID, reason string) (*Dispute, error) {
	if sellerID == "" || orderID == "" {
		return nil, ErrEmptyUserID
	}
	orders, err := events.OrdersBySeller(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to read seller orders: %w", err)
	}
	if !slices.ContainsFunc(orders, func(o Order) bool { return o.ID == orderID }) {
		return nil, ErrOrderNotFound
	}
	d := Dispute{
		ID:        uuid.New().String(),
		SellerID:  sellerID,
		OrderID:   orderID,
		Reason:    reason,
		Status:    DisputeOpen,
		CreatedAt: now.UTC(),
	}
	if err := events.CreateDispute(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create dispute: %w", err)
	}
	return &d, nil
}

func resolveDispute(ctx context.Context, events EventStore, now time.Time, disputeID string) (*Dispute, error) {
	if err := events.ResolveDispute(ctx, disputeID, now.UTC()); err != nil {
		return nil, err
	}
	return events.GetDispute(ctx, disputeID)
}
