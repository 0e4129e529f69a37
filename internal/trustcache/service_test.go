package trustcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/artisan/internal/counters"
	"github.com/onnwee/artisan/internal/trust"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource serves snapshots from memory and records every query.
type fakeSource struct {
	mu        sync.Mutex
	snapshots []trust.PersistedTrustSnapshot
	top       []trust.TrustLatest
	queries   int32
	maxBatch  int
	failIf    func(ids []string) error
	block     chan struct{}
	topErr    error
}

func (f *fakeSource) SnapshotsForUsers(ctx context.Context, ids []string) ([]trust.PersistedTrustSnapshot, error) {
	atomic.AddInt32(&f.queries, 1)
	f.mu.Lock()
	if len(ids) > f.maxBatch {
		f.maxBatch = len(ids)
	}
	f.mu.Unlock()

	if len(ids) > trust.MaxInFilter {
		return nil, trust.ErrTooManyIDs
	}
	if f.block != nil {
		<-f.block
	}
	if f.failIf != nil {
		if err := f.failIf(ids); err != nil {
			return nil, err
		}
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []trust.PersistedTrustSnapshot
	for _, s := range f.snapshots {
		if want[s.UserID] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSource) TopLatest(_ context.Context, n int) ([]trust.TrustLatest, error) {
	if f.topErr != nil {
		return nil, f.topErr
	}
	if len(f.top) > n {
		return f.top[:n], nil
	}
	return f.top, nil
}

func sellerIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("seller-%02d", i)
	}
	return ids
}

func sourceWithScores(ids []string) *fakeSource {
	src := &fakeSource{}
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range ids {
		src.snapshots = append(src.snapshots, trust.PersistedTrustSnapshot{UserID: id, Score: i, At: base})
	}
	return src
}

func TestGetLatestTrustScoreMap_ChunksMisses(t *testing.T) {
	ids := sellerIDs(25)
	src := sourceWithScores(ids)
	svc := NewService(Config{Logger: quietLogger()}, src)

	got := svc.GetLatestTrustScoreMap(context.Background(), ids, Options{})

	if q := atomic.LoadInt32(&src.queries); q != 3 {
		t.Errorf("queries = %d, want 3", q)
	}
	if src.maxBatch > trust.MaxInFilter {
		t.Errorf("largest batch = %d, want <= %d", src.maxBatch, trust.MaxInFilter)
	}
	if len(got) != 25 {
		t.Fatalf("got %d scores, want 25", len(got))
	}
	if got["seller-07"] != 7 {
		t.Errorf("seller-07 = %v, want 7", got["seller-07"])
	}
}

func TestGetLatestTrustScoreMap_CachesResults(t *testing.T) {
	ids := sellerIDs(5)
	src := sourceWithScores(ids)
	mem := counters.NewMemory()
	svc := NewService(Config{Logger: quietLogger(), Counters: mem}, src)
	ctx := context.Background()

	svc.GetLatestTrustScoreMap(ctx, ids, Options{})
	got := svc.GetLatestTrustScoreMap(ctx, ids, Options{})

	if q := atomic.LoadInt32(&src.queries); q != 1 {
		t.Errorf("queries = %d, want 1 (second call served from cache)", q)
	}
	if len(got) != 5 {
		t.Errorf("got %d scores, want 5", len(got))
	}
	stats := svc.Cache().Stats()
	if stats.Hits != 5 || stats.Misses != 5 {
		t.Errorf("Stats() = %+v, want 5 hits 5 misses", stats)
	}
	if mem.Get(counters.TrustCacheHit) != 5 || mem.Get(counters.TrustCacheMiss) != 5 {
		t.Errorf("counters hit=%d miss=%d", mem.Get(counters.TrustCacheHit), mem.Get(counters.TrustCacheMiss))
	}
}

func TestGetLatestTrustScoreMap_DedupesIDs(t *testing.T) {
	src := sourceWithScores([]string{"a", "b"})
	svc := NewService(Config{Logger: quietLogger()}, src)

	got := svc.GetLatestTrustScoreMap(context.Background(), []string{"a", "b", "a", "", "b"}, Options{})
	if len(got) != 2 {
		t.Errorf("got %v", got)
	}
	if svc.Cache().Stats().Misses != 2 {
		t.Errorf("misses = %d, want 2", svc.Cache().Stats().Misses)
	}
}

func TestGetLatestTrustScoreMap_FirstMatchWins(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{snapshots: []trust.PersistedTrustSnapshot{
		{UserID: "a", Score: 80, At: base.Add(time.Hour)},
		{UserID: "a", Score: 20, At: base},
	}}
	svc := NewService(Config{Logger: quietLogger()}, src)

	got := svc.GetLatestTrustScoreMap(context.Background(), []string{"a"}, Options{})
	if got["a"] != 80 {
		t.Errorf("a = %v, want most recent 80", got["a"])
	}
}

func TestGetLatestTrustScoreMap_FailedChunkIsAbsent(t *testing.T) {
	ids := sellerIDs(25)
	src := sourceWithScores(ids)
	src.failIf = func(chunk []string) error {
		for _, id := range chunk {
			if id == "seller-12" {
				return errors.New("backend unavailable")
			}
		}
		return nil
	}
	svc := NewService(Config{Logger: quietLogger()}, src)

	got := svc.GetLatestTrustScoreMap(context.Background(), ids, Options{})

	if len(got) != 15 {
		t.Fatalf("got %d scores, want 15", len(got))
	}
	for id := range got {
		if strings.HasPrefix(id, "seller-1") {
			t.Errorf("id %s from failed chunk should be absent", id)
		}
	}
	if _, cached := svc.Cache().Peek("seller-12"); cached {
		t.Error("failed ids must not be cached")
	}
}

func TestGetLatestTrustScoreMap_ChunkTimeout(t *testing.T) {
	src := sourceWithScores([]string{"a"})
	src.block = make(chan struct{})
	defer close(src.block)
	svc := NewService(Config{Logger: quietLogger(), ChunkTimeout: 20 * time.Millisecond}, src)

	start := time.Now()
	got := svc.GetLatestTrustScoreMap(context.Background(), []string{"a"}, Options{})
	if len(got) != 0 {
		t.Errorf("timed out chunk should yield no scores, got %v", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("lookup took %v, timeout not applied", elapsed)
	}
}

func TestGetLatestTrustScoreMap_BypassCache(t *testing.T) {
	src := sourceWithScores([]string{"a"})
	svc := NewService(Config{Logger: quietLogger()}, src)
	svc.Cache().Seed("a", 99, time.Minute)

	got := svc.GetLatestTrustScoreMap(context.Background(), []string{"a"}, Options{BypassCache: true})
	if got["a"] != 0 {
		t.Errorf("bypass should read the store, got %v", got["a"])
	}
	if atomic.LoadInt32(&src.queries) != 1 {
		t.Errorf("queries = %d, want 1", src.queries)
	}
	if stats := svc.Cache().Stats(); stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("bypass must not count, got %+v", stats)
	}
	if v, _ := svc.Cache().Peek("a"); v != 0 {
		t.Errorf("bypass should still write back, cache has %v", v)
	}
}

func TestGetLatestTrustScoreMap_UnknownSeller(t *testing.T) {
	svc := NewService(Config{Logger: quietLogger()}, &fakeSource{})
	got := svc.GetLatestTrustScoreMap(context.Background(), []string{"nobody"}, Options{})
	if _, ok := got["nobody"]; ok {
		t.Error("unknown seller must be absent, not zero")
	}
}

type fakeBackend struct {
	mu     sync.Mutex
	values map[string]float64
	sets   int
	getErr error
}

func (b *fakeBackend) GetMany(_ context.Context, ids []string) (map[string]float64, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := map[string]float64{}
	for _, id := range ids {
		if v, ok := b.values[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (b *fakeBackend) SetMany(_ context.Context, scores map[string]float64, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sets++
	for k, v := range scores {
		b.values[k] = v
	}
	return nil
}

func TestGetLatestTrustScoreMap_Backend(t *testing.T) {
	src := sourceWithScores([]string{"a", "b"})
	backend := &fakeBackend{values: map[string]float64{"a": 55}}
	svc := NewService(Config{Logger: quietLogger(), Backend: backend}, src)

	got := svc.GetLatestTrustScoreMap(context.Background(), []string{"a", "b"}, Options{})
	if got["a"] != 55 || got["b"] != 1 {
		t.Errorf("got %v", got)
	}
	if atomic.LoadInt32(&src.queries) != 1 {
		t.Errorf("queries = %d, want 1", src.queries)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.values["b"] != 1 {
		t.Error("store results should be written to the backend")
	}
}

func TestGetLatestTrustScoreMap_BackendErrorFallsThrough(t *testing.T) {
	src := sourceWithScores([]string{"a"})
	svc := NewService(Config{Logger: quietLogger(), Backend: &fakeBackend{values: map[string]float64{}, getErr: errors.New("down")}}, src)

	got := svc.GetLatestTrustScoreMap(context.Background(), []string{"a"}, Options{})
	if _, ok := got["a"]; !ok {
		t.Error("store should serve ids when the backend fails")
	}
}

func TestPreloadTopSellerTrust(t *testing.T) {
	src := &fakeSource{}
	for i := 0; i < 60; i++ {
		src.top = append(src.top, trust.TrustLatest{UserID: fmt.Sprintf("top-%d", i), Score: 100 - i})
	}
	svc := NewService(Config{Logger: quietLogger()}, src)

	n, err := svc.PreloadTopSellerTrust(context.Background(), 0)
	if err != nil {
		t.Fatalf("PreloadTopSellerTrust() error = %v", err)
	}
	if n != DefaultPreloadTopN {
		t.Errorf("preloaded %d, want %d", n, DefaultPreloadTopN)
	}
	if v, ok := svc.Cache().Peek("top-0"); !ok || v != 100 {
		t.Errorf("top-0 = %v, %v", v, ok)
	}
	if _, ok := svc.Cache().Peek("top-55"); ok {
		t.Error("only top n should be warmed")
	}

	src.topErr = errors.New("boom")
	if _, err := svc.PreloadTopSellerTrust(context.Background(), 5); err == nil {
		t.Error("expected error from failing source")
	}
}

func TestService_OnTrustScore(t *testing.T) {
	svc := NewService(Config{Logger: quietLogger()}, &fakeSource{})
	svc.OnTrustScore("s1", trust.TrustScoreResult{Score: 64}, time.Now())

	if v, ok := svc.Cache().Peek("s1"); !ok || v != 64 {
		t.Errorf("write-through = %v, %v", v, ok)
	}
}
