package trust

import "math"

// ScoreVersion identifies the scoring formula. Bump it whenever a weight or
// normalizer changes so stored snapshots stay interpretable.
const ScoreVersion = "trust-v0"

// Factor weights. They must sum to 1.0.
const (
	WeightListings           = 0.15
	WeightFulfilledTotal     = 0.25
	WeightFulfilledDecayed   = 0.09
	WeightFulfilledRecent30d = 0.09
	WeightLatency            = 0.13
	WeightDisputes           = 0.13
	WeightTenure             = 0.10
	WeightEndorsements       = 0.06
)

// Saturation points for the linear factors.
const (
	SaturationListings       = 20.0
	SaturationFulfilledTotal = 100.0
	SaturationDecayed        = 60.0
	SaturationRecent30d      = 30.0
	SaturationTenureDays     = 365.0
	SaturationEndorsements   = 25.0
)

// Grade thresholds (inclusive lower bounds).
const (
	PlatinumThreshold = 75
	GoldThreshold     = 55
	SilverThreshold   = 35
)

// Component names, in the order they appear in a TrustScoreResult.
const (
	ComponentListings           = "listings"
	ComponentFulfilledTotal     = "fulfilledTotal"
	ComponentFulfilledDecayed   = "fulfilledDecayed"
	ComponentFulfilledRecent30d = "fulfilledRecent30d"
	ComponentLatency            = "latency"
	ComponentDisputes           = "disputes"
	ComponentTenure             = "tenure"
	ComponentEndorsements       = "endorsements"
)

// FactorWeight pairs a component name with its weight.
type FactorWeight struct {
	Name   string
	Weight float64
}

// Weights returns the weight table of the current score version.
func Weights() []FactorWeight {
	return []FactorWeight{
		{ComponentListings, WeightListings},
		{ComponentFulfilledTotal, WeightFulfilledTotal},
		{ComponentFulfilledDecayed, WeightFulfilledDecayed},
		{ComponentFulfilledRecent30d, WeightFulfilledRecent30d},
		{ComponentLatency, WeightLatency},
		{ComponentDisputes, WeightDisputes},
		{ComponentTenure, WeightTenure},
		{ComponentEndorsements, WeightEndorsements},
	}
}

// GradeForScore maps a 0-100 score onto its grade.
func GradeForScore(score int) Grade {
	switch {
	case score >= PlatinumThreshold:
		return GradePlatinum
	case score >= GoldThreshold:
		return GradeGold
	case score >= SilverThreshold:
		return GradeSilver
	default:
		return GradeBronze
	}
}

// ComputeTrustScore maps factors to a score, grade and itemised breakdown.
// It performs no I/O and is deterministic for a given input.
//
// score = round(sum(normalized factor * weight) * 100)
func ComputeTrustScore(f TrustFactors) TrustScoreResult {
	latencyRaw := 0.0
	if f.AvgFulfillmentMs != nil {
		latencyRaw = *f.AvgFulfillmentMs
	}

	type input struct {
		name   string
		raw    float64
		weight float64
		norm   func(float64) float64
	}
	inputs := []input{
		{ComponentListings, float64(f.ListingCount), WeightListings, Saturate(SaturationListings)},
		{ComponentFulfilledTotal, float64(f.FulfilledOrders), WeightFulfilledTotal, Saturate(SaturationFulfilledTotal)},
		{ComponentFulfilledDecayed, f.DecayedFulfillments, WeightFulfilledDecayed, Saturate(SaturationDecayed)},
		{ComponentFulfilledRecent30d, float64(f.RecentFulfillments30d), WeightFulfilledRecent30d, Saturate(SaturationRecent30d)},
		{ComponentLatency, latencyRaw, WeightLatency, LatencyFactor},
		{ComponentDisputes, float64(f.Disputes), WeightDisputes, DisputeFactor},
		{ComponentTenure, f.TenureDays, WeightTenure, Saturate(SaturationTenureDays)},
		{ComponentEndorsements, float64(f.EndorsementsCount), WeightEndorsements, Saturate(SaturationEndorsements)},
	}

	components := make([]Component, 0, len(inputs))
	var total float64
	for _, in := range inputs {
		contribution := Normalize(in.raw, in.norm) * in.weight
		total += contribution
		components = append(components, Component{
			Name:         in.name,
			Value:        in.raw,
			Weight:       in.weight,
			Contribution: contribution,
		})
	}

	score := int(math.Round(total * 100))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return TrustScoreResult{
		Score:      score,
		Grade:      GradeForScore(score),
		Components: components,
		Factors:    f,
		Version:    ScoreVersion,
	}
}
