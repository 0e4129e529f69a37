package trustcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/artisan/internal/jobs"
)

// DefaultRefreshInterval is the pause between the end of one warm refresh
// and the start of the next.
const DefaultRefreshInterval = 55 * time.Second

// DefaultRefreshTimeout bounds a single warm refresh. It is independent of
// the interval: a run may outlast the interval and the next one waits.
const DefaultRefreshTimeout = 2 * time.Minute

// Preloader warms the cache.
type Preloader interface {
	PreloadTopSellerTrust(ctx context.Context, n int) (int, error)
}

// RefreshConfig configures a RefreshScheduler.
type RefreshConfig struct {
	// Interval between the end of one run and the start of the next.
	Interval time.Duration
	// TopN sellers warmed per run.
	TopN int
	// Timeout bounds a single run. Defaults to DefaultRefreshTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
	// JobMetrics receives one sample per run. Optional.
	JobMetrics jobs.Recorder
}

// RefreshScheduler periodically warms the trust cache. At most one loop
// runs per scheduler; the next run is armed only after the previous one
// finishes, so slow runs never overlap.
type RefreshScheduler struct {
	config    RefreshConfig
	preloader Preloader

	mu      sync.Mutex
	running bool
	gen     uint64
	timer   *time.Timer
	cancel  context.CancelFunc
}

// NewRefreshScheduler creates a scheduler driving preloader.
func NewRefreshScheduler(config RefreshConfig, preloader Preloader) *RefreshScheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultRefreshInterval
	}
	if config.TopN <= 0 {
		config.TopN = DefaultPreloadTopN
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultRefreshTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &RefreshScheduler{config: config, preloader: preloader}
}

// Start runs a refresh immediately and keeps refreshing until Stop or ctx
// is done. It returns false without side effects if already running.
func (r *RefreshScheduler) Start(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.gen++
	gen := r.gen
	r.timer = time.AfterFunc(0, func() { r.tick(ctx, gen) })

	r.config.Logger.Info("trust cache refresh started",
		"interval", r.config.Interval,
		"top_n", r.config.TopN)
	return true
}

// Stop cancels the pending timer and any in-flight run, and releases the
// singleton guard so Start may be called again.
func (r *RefreshScheduler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *RefreshScheduler) stopLocked() {
	if !r.running {
		return
	}
	r.running = false
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.cancel()
	r.config.Logger.Info("trust cache refresh stopped")
}

// IsRunning reports whether the loop is active.
func (r *RefreshScheduler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *RefreshScheduler) current(gen uint64) bool {
	return r.running && r.gen == gen
}

func (r *RefreshScheduler) tick(ctx context.Context, gen uint64) {
	r.mu.Lock()
	if !r.current(gen) {
		r.mu.Unlock()
		return
	}
	if ctx.Err() != nil {
		// Parent context ended; release the guard.
		r.stopLocked()
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.RunOnce(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.current(gen) {
		return
	}
	r.timer = time.AfterFunc(r.config.Interval, func() { r.tick(ctx, gen) })
}

// RunOnce performs a single warm refresh. Errors are logged, never returned.
func (r *RefreshScheduler) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	start := time.Now()
	n, err := r.preloader.PreloadTopSellerTrust(ctx, r.config.TopN)
	duration := time.Since(start).Seconds()

	status := jobs.StatusSuccess
	if err != nil {
		status = jobs.StatusFailure
		r.config.Logger.Warn("trust cache refresh failed", "error", err)
		if r.config.JobMetrics != nil {
			r.config.JobMetrics.IncJobErrors(jobs.JobTypeTrustCacheWarm, "preload_error")
		}
	} else {
		r.config.Logger.Debug("trust cache refreshed",
			"entries", n,
			"duration_seconds", duration)
	}
	if r.config.JobMetrics != nil {
		r.config.JobMetrics.IncJobsTotal(jobs.JobTypeTrustCacheWarm, status)
		r.config.JobMetrics.ObserveJobDuration(jobs.JobTypeTrustCacheWarm, duration)
	}
}
