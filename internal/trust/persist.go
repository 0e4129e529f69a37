package trust

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ScoreListener is notified after a score has been persisted.
// Implementations must not block; they run on the recompute path.
type ScoreListener interface {
	OnTrustScore(sellerID string, result TrustScoreResult, at time.Time)
}

// PersisterConfig configures a Persister.
type PersisterConfig struct {
	// Logger for persistence activity.
	Logger *slog.Logger
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// Listeners are notified after each successful persist.
	Listeners []ScoreListener
}

// Persister computes scores and writes them as a history snapshot plus the
// latest mirror.
type Persister struct {
	config PersisterConfig
	store  SnapshotStore

	mu     sync.Mutex
	lastAt map[string]time.Time
}

// NewPersister creates a Persister writing to store.
func NewPersister(config PersisterConfig, store SnapshotStore) *Persister {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Persister{
		config: config,
		store:  store,
		lastAt: make(map[string]time.Time),
	}
}

// AddListener registers another listener. Not safe to call concurrently
// with PersistTrustScore; wire listeners at startup.
func (p *Persister) AddListener(l ScoreListener) {
	p.config.Listeners = append(p.config.Listeners, l)
}

// PersistTrustScore computes the score for factors, appends a snapshot and
// upserts the latest mirror for userID.
func (p *Persister) PersistTrustScore(ctx context.Context, userID string, factors TrustFactors) (TrustScoreResult, error) {
	if userID == "" {
		return TrustScoreResult{}, ErrEmptyUserID
	}

	result := ComputeTrustScore(factors)
	at := p.nextAt(userID)

	snap := PersistedTrustSnapshot{
		ID:      uuid.New().String(),
		UserID:  userID,
		At:      at,
		Score:   result.Score,
		Grade:   result.Grade,
		Version: result.Version,
		Factors: factors,
	}
	if err := p.store.AppendSnapshot(ctx, snap); err != nil {
		return TrustScoreResult{}, fmt.Errorf("failed to append trust snapshot: %w", err)
	}

	latest := TrustLatest{
		UserID:    userID,
		Score:     result.Score,
		Grade:     result.Grade,
		Version:   result.Version,
		Factors:   factors,
		UpdatedAt: at,
	}
	if err := p.store.UpsertLatest(ctx, latest); err != nil {
		return TrustScoreResult{}, fmt.Errorf("failed to upsert latest trust score: %w", err)
	}

	p.config.Logger.Debug("trust score persisted",
		"user_id", userID,
		"score", result.Score,
		"grade", result.Grade,
		"version", result.Version)

	for _, l := range p.config.Listeners {
		l.OnTrustScore(userID, result, at)
	}
	return result, nil
}

// nextAt returns a timestamp strictly after the previous snapshot of userID
// written by this process.
func (p *Persister) nextAt(userID string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Microsecond resolution matches what PostgreSQL stores.
	at := p.config.Now().UTC().Truncate(time.Microsecond)
	if prev, ok := p.lastAt[userID]; ok && !at.After(prev) {
		at = prev.Add(time.Microsecond)
	}
	p.lastAt[userID] = at
	return at
}
