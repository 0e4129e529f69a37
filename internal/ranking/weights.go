package ranking

import (
	"math"
	"strings"
)

// Default blend weights for hybrid listing search.
//
//	score = semantic*SemanticWeight + lexical*LexicalWeight + trustNorm*TrustWeight
const (
	SemanticWeight = 0.6
	LexicalWeight  = 0.25
	TrustWeight    = 0.15
)

// DefaultTrust is the normalized trust used for sellers with no score.
const DefaultTrust = 0.5

// scorePrecision is the rounding step applied to blended scores so that
// equal blends compare equal regardless of float evaluation order.
const scorePrecision = 1e9

// LexicalScore returns the fraction of whitespace-separated query tokens that
// occur as a substring of title + " " + description, case-insensitively.
// An empty query scores 0.
func LexicalScore(query, title, description string) float64 {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return 0
	}
	text := strings.ToLower(title + " " + description)

	hits := 0
	for _, tok := range tokens {
		if strings.Contains(text, tok) {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}

// TrustNorm maps a raw 0-100 trust score to [0, 1].
// A nil score returns DefaultTrust.
func TrustNorm(raw *float64) float64 {
	if raw == nil || math.IsNaN(*raw) {
		return DefaultTrust
	}
	return clamp01(*raw / 100)
}

// Blend combines the three signals using w.
func Blend(semantic, lexical, trustNorm float64, w HybridWeights) float64 {
	score := semantic*w.Semantic + lexical*w.Lexical + trustNorm*w.Trust
	return math.Round(score*scorePrecision) / scorePrecision
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
