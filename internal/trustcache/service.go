package trustcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/artisan/internal/counters"
	"github.com/onnwee/artisan/internal/trust"
)

// LatestSource is the backing store the cache fills from.
type LatestSource interface {
	// SnapshotsForUsers returns snapshots for at most trust.MaxInFilter
	// users, most recent first.
	SnapshotsForUsers(ctx context.Context, userIDs []string) ([]trust.PersistedTrustSnapshot, error)
	// TopLatest returns up to n latest scores, highest first.
	TopLatest(ctx context.Context, n int) ([]trust.TrustLatest, error)
}

// Defaults for Config.
const (
	DefaultChunkTimeout = 5 * time.Second
	DefaultPreloadTopN  = 50
	backendTimeout      = time.Second
)

// Config configures a Service.
type Config struct {
	Logger *slog.Logger
	// TTL of entries written by the service. Defaults to DefaultTTL.
	TTL time.Duration
	// ChunkSize caps ids per store query. Defaults to and never exceeds trust.MaxInFilter.
	ChunkSize int
	// ChunkTimeout bounds each store query; a timeout counts as a failed chunk.
	ChunkTimeout time.Duration
	// Counters receives trust.cache.hit and trust.cache.miss.
	Counters counters.Counter
	// Backend is an optional shared tier consulted before the store.
	Backend Backend
	// Now is the cache clock. Defaults to time.Now.
	Now func() time.Time
}

// Options modifies a single lookup.
type Options struct {
	// BypassCache skips cache reads. Fetched scores are still written back.
	BypassCache bool
}

// Service serves trust scores from the cache and fills misses in bounded
// batches from a LatestSource.
type Service struct {
	config Config
	cache  *TTLCache
	source LatestSource
}

// NewService creates a Service backed by source.
func NewService(config Config, source LatestSource) *Service {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.ChunkSize <= 0 || config.ChunkSize > trust.MaxInFilter {
		config.ChunkSize = trust.MaxInFilter
	}
	if config.ChunkTimeout <= 0 {
		config.ChunkTimeout = DefaultChunkTimeout
	}
	config.Counters = counters.OrNoop(config.Counters)

	return &Service{
		config: config,
		cache:  NewTTLCache(config.TTL, config.Now),
		source: source,
	}
}

// Cache exposes the underlying TTLCache for seeding and stats.
func (s *Service) Cache() *TTLCache {
	return s.cache
}

// GetLatestTrustScoreMap returns the latest score of each id it can find.
// Ids whose chunk failed or that have no score are absent from the map;
// callers must treat absence as unknown, not zero.
func (s *Service) GetLatestTrustScoreMap(ctx context.Context, ids []string, opts Options) map[string]float64 {
	out := make(map[string]float64, len(ids))
	missing := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))

	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if opts.BypassCache {
			missing = append(missing, id)
			continue
		}
		if v, ok := s.cache.Lookup(id); ok {
			s.config.Counters.Inc(counters.TrustCacheHit)
			out[id] = v
			continue
		}
		s.config.Counters.Inc(counters.TrustCacheMiss)
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out
	}

	if s.config.Backend != nil && !opts.BypassCache {
		missing = s.fillFromBackend(ctx, missing, out)
		if len(missing) == 0 {
			return out
		}
	}

	fetched := s.fetchChunks(ctx, missing)
	for id, v := range fetched {
		out[id] = v
		s.cache.Set(id, v)
	}
	s.writeBackend(ctx, fetched)
	return out
}

// fillFromBackend copies backend hits into out and the local cache and
// returns the ids still missing. Backend errors fall through to the store.
func (s *Service) fillFromBackend(ctx context.Context, ids []string, out map[string]float64) []string {
	ctx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()

	found, err := s.config.Backend.GetMany(ctx, ids)
	if err != nil {
		s.config.Logger.Warn("trust cache backend read failed", "ids", len(ids), "error", err)
		return ids
	}
	rest := ids[:0:0]
	for _, id := range ids {
		if v, ok := found[id]; ok {
			out[id] = v
			s.cache.Set(id, v)
			continue
		}
		rest = append(rest, id)
	}
	return rest
}

func (s *Service) writeBackend(ctx context.Context, scores map[string]float64) {
	if s.config.Backend == nil || len(scores) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backendTimeout)
	defer cancel()
	if err := s.config.Backend.SetMany(ctx, scores, s.config.TTL); err != nil {
		s.config.Logger.Warn("trust cache backend write failed", "ids", len(scores), "error", err)
	}
}

// fetchChunks queries the source for ids in chunks of at most ChunkSize,
// all chunks concurrently. Failed chunks are logged and skipped.
func (s *Service) fetchChunks(ctx context.Context, ids []string) map[string]float64 {
	var (
		mu  sync.Mutex
		out = make(map[string]float64, len(ids))
		g   errgroup.Group
	)

	for start := 0; start < len(ids); start += s.config.ChunkSize {
		end := min(start+s.config.ChunkSize, len(ids))
		chunk := ids[start:end]

		g.Go(func() error {
			snaps, err := s.fetchChunk(ctx, chunk)
			if err != nil {
				s.config.Logger.Warn("trust score batch fetch failed",
					"ids", len(chunk),
					"first_id", chunk[0],
					"error", err)
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			// Snapshots arrive newest first; keep the first per user.
			for _, snap := range snaps {
				if _, ok := out[snap.UserID]; ok {
					continue
				}
				out[snap.UserID] = float64(snap.Score)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// fetchChunk runs one query under ChunkTimeout. A source that ignores its
// context is abandoned once the deadline passes.
func (s *Service) fetchChunk(ctx context.Context, ids []string) ([]trust.PersistedTrustSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.ChunkTimeout)
	defer cancel()

	type result struct {
		snaps []trust.PersistedTrustSnapshot
		err   error
	}
	done := make(chan result, 1)
	go func() {
		snaps, err := s.source.SnapshotsForUsers(ctx, ids)
		done <- result{snaps, err}
	}()

	select {
	case r := <-done:
		return r.snaps, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("chunk fetch: %w", ctx.Err())
	}
}

// PreloadTopSellerTrust warms the cache with the top n sellers by score and
// returns how many entries were written. n <= 0 uses DefaultPreloadTopN.
func (s *Service) PreloadTopSellerTrust(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		n = DefaultPreloadTopN
	}
	top, err := s.source.TopLatest(ctx, n)
	if err != nil {
		return 0, fmt.Errorf("failed to load top sellers: %w", err)
	}

	scores := make(map[string]float64, len(top))
	for _, l := range top {
		s.cache.Set(l.UserID, float64(l.Score))
		scores[l.UserID] = float64(l.Score)
	}
	s.writeBackend(ctx, scores)
	return len(top), nil
}

// OnTrustScore writes a freshly persisted score through to the local cache.
// It implements trust.ScoreListener.
func (s *Service) OnTrustScore(sellerID string, result trust.TrustScoreResult, _ time.Time) {
	s.cache.Set(sellerID, float64(result.Score))
	if s.config.Backend != nil {
		go s.writeBackend(context.Background(), map[string]float64{sellerID: float64(result.Score)})
	}
}
