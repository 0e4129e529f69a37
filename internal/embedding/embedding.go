// Package embedding scores documents against a query by embedding
// similarity. Scorers never fail: an unavailable model yields no scores.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Document is a candidate to score.
type Document struct {
	ID   string
	Text string
}

// Scored is a document's similarity to the query, in [0, 1].
type Scored struct {
	RefID string  `json:"refId"`
	Score float64 `json:"score"`
}

// Similarity scores every document against query. It returns an empty
// slice, never an error, when the semantic signal is unavailable.
type Similarity interface {
	Score(ctx context.Context, query string, docs []Document) []Scored
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Unavailable is a Similarity with no semantic signal.
type Unavailable struct{}

// Score returns nil.
func (Unavailable) Score(context.Context, string, []Document) []Scored { return nil }

// DefaultConcurrency bounds parallel embedding calls per Score.
const DefaultConcurrency = 4

// DefaultScoreTimeout bounds a whole Score call, query and cache misses
// included.
const DefaultScoreTimeout = 2 * time.Second

// CosineConfig configures a CosineScorer.
type CosineConfig struct {
	Logger      *slog.Logger
	Concurrency int
	// Timeout bounds a single Score. Defaults to DefaultScoreTimeout.
	Timeout time.Duration
	// Cache holds document vectors between searches. Defaults to a new
	// VectorCache with DefaultCacheEntries.
	Cache *VectorCache
}

// CosineScorer scores documents by cosine similarity against the query.
// Document vectors come from the cache, filled by Index when a listing is
// stored, so a warm search embeds only the query. Negative similarity
// scores 0.
type CosineScorer struct {
	config   CosineConfig
	embedder Embedder
}

// NewCosineScorer creates a scorer over embedder.
func NewCosineScorer(config CosineConfig, embedder Embedder) *CosineScorer {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultScoreTimeout
	}
	if config.Cache == nil {
		config.Cache = NewVectorCache(0)
	}
	return &CosineScorer{config: config, embedder: embedder}
}

// Index embeds doc and caches its vector. A document whose text is already
// cached is not embedded again.
func (s *CosineScorer) Index(ctx context.Context, doc Document) error {
	if _, ok := s.config.Cache.Get(doc); ok {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, doc.Text)
	if err != nil {
		return fmt.Errorf("embedding document %s: %w", doc.ID, err)
	}
	s.config.Cache.Put(doc, vec)
	return nil
}

// Score implements Similarity. Any embedding failure, or running past the
// timeout, is logged and yields an empty result rather than a partial one.
func (s *CosineScorer) Score(ctx context.Context, query string, docs []Document) []Scored {
	if len(docs) == 0 || query == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.config.Logger.Warn("query embedding failed", "error", err)
		return nil
	}
	qNorm := norm(queryVec)
	if qNorm == 0 {
		return nil
	}

	vectors, err := s.vectors(ctx, docs)
	if err != nil {
		s.config.Logger.Warn("document embedding failed", "docs", len(docs), "error", err)
		return nil
	}

	out := make([]Scored, len(docs))
	for i, d := range docs {
		sim := cosine(queryVec, vectors[i], qNorm)
		out[i] = Scored{RefID: d.ID, Score: math.Max(0, math.Min(1, sim))}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// vectors resolves every document from the cache and embeds the misses.
// Embedded misses are cached as they arrive, so a run cut short by the
// deadline still warms the cache for the next search.
func (s *CosineScorer) vectors(ctx context.Context, docs []Document) ([][]float32, error) {
	results := make([][]float32, len(docs))
	var misses []int
	for i, d := range docs {
		if vec, ok := s.config.Cache.Get(d); ok {
			results[i] = vec
			continue
		}
		misses = append(misses, i)
	}
	if len(misses) == 0 {
		return results, nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, i := range misses {
		d := docs[i]
		g.Go(func() error {
			vec, err := s.embedder.Embed(gCtx, d.Text)
			if err != nil {
				return fmt.Errorf("embedding document %s: %w", d.ID, err)
			}
			s.config.Cache.Put(d, vec)
			results[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine returns dot(a,b) / (aNorm * |b|). Mismatched or zero vectors score 0.
func cosine(a, b []float32, aNorm float64) float64 {
	if len(a) != len(b) || aNorm == 0 {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if bNormSq == 0 {
		return 0
	}
	return dot / (aNorm * math.Sqrt(bNormSq))
}
