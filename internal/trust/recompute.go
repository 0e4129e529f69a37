package trust

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Aggregation constants.
const (
	// LatencySampleSize caps how many recently fulfilled orders feed the latency average.
	LatencySampleSize = 50

	// ResolvedDisputeWeight is the share of a resolved dispute that still counts.
	ResolvedDisputeWeight = 0.3
)

// AggregateFactors derives TrustFactors from a seller's raw collections.
// It is pure; now anchors the decay, recency and tenure calculations.
func AggregateFactors(now time.Time, edges []ReputationEdge, listings []Listing, orders []Order, disputes []Dispute) TrustFactors {
	var f TrustFactors
	f.ListingCount = len(listings)

	recentCutoff := now.Add(-RecentWindow)
	endorsers := make(map[string]struct{})
	var fulfilledAt []time.Time
	earliest := time.Time{}
	observe := func(t time.Time) {
		if t.IsZero() {
			return
		}
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}

	for _, e := range edges {
		observe(e.At)
		switch e.Kind {
		case EdgeOrderFulfilled:
			f.FulfilledOrders++
			if !e.At.Before(recentCutoff) {
				f.RecentFulfillments30d++
			}
			fulfilledAt = append(fulfilledAt, e.At)
		case EdgeEndorsement:
			endorsers[e.From] = struct{}{}
		}
	}
	f.DecayedFulfillments = DecayedSum(now, fulfilledAt)
	f.EndorsementsCount = len(endorsers)

	for _, l := range listings {
		observe(l.CreatedAt)
	}
	for _, o := range orders {
		observe(o.Date)
	}
	if !earliest.IsZero() && now.After(earliest) {
		f.TenureDays = now.Sub(earliest).Hours() / 24
	}

	f.AvgFulfillmentMs = averageFulfillmentMs(orders)
	f.Disputes = weightedDisputes(disputes)
	return f
}

// averageFulfillmentMs averages fulfilledAt - date over the most recently
// fulfilled orders. Returns nil when no order has a positive delta.
func averageFulfillmentMs(orders []Order) *float64 {
	complete := make([]Order, 0, len(orders))
	for _, o := range orders {
		if o.FulfilledAt != nil && !o.FulfilledAt.IsZero() && !o.Date.IsZero() {
			complete = append(complete, o)
		}
	}
	sort.SliceStable(complete, func(i, j int) bool {
		return complete[i].FulfilledAt.After(*complete[j].FulfilledAt)
	})
	if len(complete) > LatencySampleSize {
		complete = complete[:LatencySampleSize]
	}

	var sum float64
	var n int
	for _, o := range complete {
		delta := o.FulfilledAt.Sub(o.Date)
		if delta <= 0 {
			continue
		}
		sum += float64(delta.Milliseconds())
		n++
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

// weightedDisputes counts open disputes fully and resolved ones at ResolvedDisputeWeight.
func weightedDisputes(disputes []Dispute) int {
	open := 0
	for _, d := range disputes {
		if d.Status == DisputeOpen {
			open++
		}
	}
	resolved := len(disputes) - open
	return open + int(math.Round(float64(resolved)*ResolvedDisputeWeight))
}

// Recomputer re-reads a seller's collections and persists a fresh score.
type Recomputer struct {
	events    EventStore
	persister *Persister
	now       func() time.Time
}

// NewRecomputer creates a Recomputer. now defaults to time.Now.
func NewRecomputer(events EventStore, persister *Persister, now func() time.Time) *Recomputer {
	if now == nil {
		now = time.Now
	}
	return &Recomputer{events: events, persister: persister, now: now}
}

// Recompute performs a full recompute for sellerID: all four collections are
// read in parallel, aggregated and persisted.
func (r *Recomputer) Recompute(ctx context.Context, sellerID string) (TrustScoreResult, error) {
	var (
		edges    []ReputationEdge
		listings []Listing
		orders   []Order
		disputes []Dispute
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		edges, err = r.events.EdgesTo(gCtx, sellerID)
		if err != nil {
			return fmt.Errorf("reading edges: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		listings, err = r.events.ListingsByOwner(gCtx, sellerID)
		if err != nil {
			return fmt.Errorf("reading listings: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		orders, err = r.events.OrdersBySeller(gCtx, sellerID)
		if err != nil {
			return fmt.Errorf("reading orders: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		disputes, err = r.events.DisputesBySeller(gCtx, sellerID)
		if err != nil {
			return fmt.Errorf("reading disputes: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return TrustScoreResult{}, err
	}

	factors := AggregateFactors(r.now(), edges, listings, orders, disputes)
	return r.persister.PersistTrustScore(ctx, sellerID, factors)
}
