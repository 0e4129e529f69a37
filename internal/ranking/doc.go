// Package ranking blends semantic, lexical and trust signals into one
// ordering for marketplace listing search.
//
// Basic Usage:
//
//	// Load calibration (typically at startup)
//	weights, err := ranking.LoadCalibration("configs/ranking.calibration.json")
//	if err != nil {
//		log.Warn("using default weights", "error", err)
//	}
//
//	ranker := ranking.NewRanker(ranking.RankerConfig{
//		Weights:  weights,
//		Counters: counters,
//		Toggles:  toggles,
//	}, scorer, trustService)
//
//	results := ranker.HybridSearchListings(ctx, "walnut bowl", candidates, 20)
//
// Signals:
//
// Each signal is in [0, 1] before blending. Semantic similarity comes from
// an embedding.Similarity over the whole candidate set. LexicalScore is the
// share of query tokens found in the listing text. TrustNorm maps the
// seller's 0-100 trust score to [0, 1] and treats missing data as
// DefaultTrust.
//
// When the semantic layer returns nothing, every listing is ranked on its
// lexical score alone with neutral trust.
//
// Calibration:
//
// Blend weights can be tuned per deploy via a JSON file loaded at startup.
// See configs/ranking.calibration.json for the default configuration.
package ranking
