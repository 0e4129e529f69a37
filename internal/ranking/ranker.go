package ranking

import (
	"context"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/artisan/internal/counters"
	"github.com/onnwee/artisan/internal/embedding"
	"github.com/onnwee/artisan/internal/toggle"
	"github.com/onnwee/artisan/internal/tracing"
	"github.com/onnwee/artisan/internal/trustcache"
)

// Listing is a search candidate.
type Listing struct {
	ID          string `json:"id"`
	SellerID    string `json:"sellerId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// HybridSearchResult is one ranked listing with its signal breakdown.
type HybridSearchResult struct {
	RefID      string   `json:"refId"`
	Score      float64  `json:"score"`
	Semantic   float64  `json:"semantic"`
	Lexical    float64  `json:"lexical"`
	TrustScore *float64 `json:"trustScore,omitempty"`
}

// TrustScores returns the latest raw trust score per seller. Sellers
// without a score are absent from the map.
type TrustScores interface {
	GetLatestTrustScoreMap(ctx context.Context, ids []string, opts trustcache.Options) map[string]float64
}

// RankerConfig configures a Ranker.
type RankerConfig struct {
	// Logger for search activity.
	Logger *slog.Logger
	// Weights are the blend weights. Defaults to DefaultWeights.
	Weights *Weights
	// Counters receives the search.query increment.
	Counters counters.Counter
	// Toggles gates the trust signal via toggle.RankTrust. When nil the
	// trust signal is always used.
	Toggles toggle.Service
}

// Ranker ranks listings against a free-text query.
type Ranker struct {
	config     RankerConfig
	similarity embedding.Similarity
	trust      TrustScores
}

// NewRanker creates a Ranker. A nil similarity behaves as unavailable and
// a nil trust source leaves every seller at DefaultTrust.
func NewRanker(config RankerConfig, similarity embedding.Similarity, trust TrustScores) *Ranker {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Weights == nil {
		config.Weights = DefaultWeights()
	}
	config.Counters = counters.OrNoop(config.Counters)
	if similarity == nil {
		similarity = embedding.Unavailable{}
	}
	return &Ranker{config: config, similarity: similarity, trust: trust}
}

// HybridSearchListings scores every listing and returns them ordered by
// score descending, ties broken by listing ID. limit <= 0 returns all.
//
// Semantic similarity is computed over the full candidate set. If it yields
// nothing the ranking falls back to lexical scores with neutral trust.
func (r *Ranker) HybridSearchListings(ctx context.Context, query string, listings []Listing, limit int) []HybridSearchResult {
	r.config.Counters.Inc(counters.SearchQuery)

	ctx, end := tracing.StartSpan(ctx, "ranking.hybrid_search",
		attribute.Int("search.candidates", len(listings)),
		attribute.Int("search.limit", limit))
	defer end(nil)

	if len(listings) == 0 {
		return []HybridSearchResult{}
	}

	docs := make([]embedding.Document, len(listings))
	for i, l := range listings {
		docs[i] = ListingDocument(l)
	}
	scored := r.similarity.Score(ctx, query, docs)

	var results []HybridSearchResult
	if len(scored) == 0 {
		r.config.Logger.Debug("semantic signal unavailable, ranking lexically",
			"candidates", len(listings))
		tracing.SetAttributes(ctx, attribute.Bool("search.fallback", true))
		results = r.lexicalOnly(query, listings)
	} else {
		tracing.SetAttributes(ctx, attribute.Bool("search.fallback", false))
		results = r.blend(ctx, query, listings, scored)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].RefID < results[j].RefID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (r *Ranker) lexicalOnly(query string, listings []Listing) []HybridSearchResult {
	w := r.config.Weights.Hybrid
	results := make([]HybridSearchResult, len(listings))
	for i, l := range listings {
		lex := LexicalScore(query, l.Title, l.Description)
		results[i] = HybridSearchResult{
			RefID:   l.ID,
			Score:   Blend(0, lex, DefaultTrust, w),
			Lexical: lex,
		}
	}
	return results
}

func (r *Ranker) blend(ctx context.Context, query string, listings []Listing, scored []embedding.Scored) []HybridSearchResult {
	semantic := make(map[string]float64, len(scored))
	for _, s := range scored {
		semantic[s.RefID] = s.Score
	}
	trust := r.trustScores(ctx, listings)

	w := r.config.Weights.Hybrid
	results := make([]HybridSearchResult, len(listings))
	for i, l := range listings {
		res := HybridSearchResult{
			RefID:    l.ID,
			Semantic: semantic[l.ID],
			Lexical:  LexicalScore(query, l.Title, l.Description),
		}
		if raw, ok := trust[l.SellerID]; ok {
			v := raw
			res.TrustScore = &v
		}
		res.Score = Blend(res.Semantic, res.Lexical, TrustNorm(res.TrustScore), w)
		results[i] = res
	}
	return results
}

// trustScores looks up the distinct sellers of listings. It returns nil when
// the trust signal is off or no source is configured.
func (r *Ranker) trustScores(ctx context.Context, listings []Listing) map[string]float64 {
	if r.trust == nil {
		return nil
	}
	if r.config.Toggles != nil && !r.config.Toggles.Enabled(toggle.RankTrust) {
		return nil
	}

	seen := make(map[string]struct{}, len(listings))
	ids := make([]string, 0, len(listings))
	for _, l := range listings {
		if l.SellerID == "" {
			continue
		}
		if _, ok := seen[l.SellerID]; ok {
			continue
		}
		seen[l.SellerID] = struct{}{}
		ids = append(ids, l.SellerID)
	}
	if len(ids) == 0 {
		return nil
	}
	return r.trust.GetLatestTrustScoreMap(ctx, ids, trustcache.Options{})
}

// ListingDocument is the text of l that gets embedded.
func ListingDocument(l Listing) embedding.Document {
	return embedding.Document{ID: l.ID, Text: l.Title + " " + l.Description}
}
