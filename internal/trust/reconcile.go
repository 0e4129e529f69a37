package trust

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/artisan/internal/jobs"
)

// DirtyTracker tracks sellers whose last recompute failed and need another
// attempt. Thread-safe via RWMutex.
type DirtyTracker struct {
	mu         sync.RWMutex
	dirtyFlags map[string]time.Time // sellerID -> time marked dirty
}

// NewDirtyTracker creates a new DirtyTracker instance.
func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{
		dirtyFlags: make(map[string]time.Time),
	}
}

// MarkDirty flags a seller for recomputation. The first mark time is kept.
func (t *DirtyTracker) MarkDirty(sellerID string) {
	t.mu.Lock()
	if _, exists := t.dirtyFlags[sellerID]; !exists {
		t.dirtyFlags[sellerID] = time.Now()
	}
	t.mu.Unlock()
}

// ClearDirty removes the flag for a seller.
func (t *DirtyTracker) ClearDirty(sellerID string) {
	t.mu.Lock()
	delete(t.dirtyFlags, sellerID)
	t.mu.Unlock()
}

// DirtySellers returns a copy of the flagged seller IDs.
func (t *DirtyTracker) DirtySellers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sellers := make([]string, 0, len(t.dirtyFlags))
	for sellerID := range t.dirtyFlags {
		sellers = append(sellers, sellerID)
	}
	return sellers
}

// IsDirty checks if a specific seller is flagged.
func (t *DirtyTracker) IsDirty(sellerID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.dirtyFlags[sellerID]
	return exists
}

// DirtyCount returns the number of flagged sellers.
func (t *DirtyTracker) DirtyCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.dirtyFlags)
}

// ReconcileJobConfig configures the reconcile job.
type ReconcileJobConfig struct {
	// Interval is the duration between reconcile cycles.
	Interval time.Duration
	// Timeout for each reconcile cycle.
	Timeout time.Duration
	// Logger for job activity.
	Logger *slog.Logger
	// Metrics for recompute tracking.
	Metrics *Metrics
	// JobMetrics for centralized background job tracking.
	JobMetrics jobs.Recorder
}

// Reconcile job defaults.
const (
	DefaultReconcileInterval = 5 * time.Minute
	DefaultReconcileTimeout  = 30 * time.Second
)

// ReconcileJob periodically retries recomputes for sellers whose synchronous
// recompute failed, so the latest mirror converges after transient outages.
type ReconcileJob struct {
	config     ReconcileJobConfig
	dirty      *DirtyTracker
	recomputer *Recomputer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewReconcileJob creates a reconcile job.
func NewReconcileJob(config ReconcileJobConfig, dirty *DirtyTracker, recomputer *Recomputer) *ReconcileJob {
	if config.Interval == 0 {
		config.Interval = DefaultReconcileInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultReconcileTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &ReconcileJob{
		config:     config,
		dirty:      dirty,
		recomputer: recomputer,
	}
}

// Start begins the periodic job. Calling Start on a running job is a no-op.
func (j *ReconcileJob) Start(ctx context.Context) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
}

// Stop signals the job to stop and waits for it to finish.
func (j *ReconcileJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *ReconcileJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *ReconcileJob) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("trust reconcile job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("trust reconcile job stopping due to stop signal")
			return
		case <-ticker.C:
			j.ReconcileNow(ctx)
		}
	}
}

// ReconcileNow retries every dirty seller once and returns how many succeeded.
func (j *ReconcileJob) ReconcileNow(parentCtx context.Context) int {
	sellers := j.dirty.DirtySellers()
	if len(sellers) == 0 {
		return 0
	}

	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	start := time.Now()
	succeeded := 0
	for i, sellerID := range sellers {
		if ctx.Err() != nil {
			j.config.Logger.Error("trust reconcile timeout exceeded",
				"processed", i,
				"total", len(sellers),
				"timeout", j.config.Timeout)
			if j.config.JobMetrics != nil {
				j.config.JobMetrics.IncJobErrors(jobs.JobTypeTrustReconcile, "timeout")
			}
			break
		}

		if _, err := j.recomputer.Recompute(ctx, sellerID); err != nil {
			j.config.Logger.Warn("trust reconcile recompute failed",
				"seller_id", sellerID,
				"error", err)
			j.config.Metrics.IncRecomputeErrors()
			if j.config.JobMetrics != nil {
				j.config.JobMetrics.IncJobErrors(jobs.JobTypeTrustReconcile, "recompute_error")
			}
			continue
		}
		j.dirty.ClearDirty(sellerID)
		j.config.Metrics.IncRecomputeTotal()
		succeeded++
	}

	duration := time.Since(start).Seconds()
	status := jobs.StatusSuccess
	if succeeded < len(sellers) {
		status = jobs.StatusFailure
	}
	j.config.Metrics.SetDirtySellers(float64(j.dirty.DirtyCount()))
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(jobs.JobTypeTrustReconcile, status)
		j.config.JobMetrics.ObserveJobDuration(jobs.JobTypeTrustReconcile, duration)
	}

	j.config.Logger.Info("trust reconcile completed",
		"duration_seconds", duration,
		"sellers_recomputed", succeeded,
		"sellers_failed", len(sellers)-succeeded)
	return succeeded
}
