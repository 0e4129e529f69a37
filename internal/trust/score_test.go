package trust

import (
	"math"
	"testing"
)

func TestWeightsSumToOne(t *testing.T) {
	var sum float64
	for _, w := range Weights() {
		sum += w.Weight
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("weights sum to %v, want 1", sum)
	}
}

func TestGradeForScore(t *testing.T) {
	tests := []struct {
		score int
		want  Grade
	}{
		{0, GradeBronze},
		{34, GradeBronze},
		{35, GradeSilver},
		{54, GradeSilver},
		{55, GradeGold},
		{74, GradeGold},
		{75, GradePlatinum},
		{100, GradePlatinum},
	}
	for _, tt := range tests {
		if got := GradeForScore(tt.score); got != tt.want {
			t.Errorf("GradeForScore(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func ptr[T any](v T) *T { return &v }

func TestComputeTrustScore(t *testing.T) {
	tests := []struct {
		name      string
		factors   TrustFactors
		wantScore int
		wantGrade Grade
	}{
		{
			// Only the dispute factor contributes: 1.0 * 0.13.
			name:      "new seller",
			factors:   TrustFactors{},
			wantScore: 13,
			wantGrade: GradeBronze,
		},
		{
			name: "saturated seller",
			factors: TrustFactors{
				ListingCount:          40,
				FulfilledOrders:       500,
				DecayedFulfillments:   90,
				RecentFulfillments30d: 45,
				AvgFulfillmentMs:      ptr(1.0),
				TenureDays:            1000,
				EndorsementsCount:     60,
			},
			wantScore: 100,
			wantGrade: GradePlatinum,
		},
		{
			// 0.15*0.5 + 0.25*0.5 + 0.09*0.5 + 0.09*0.5 + 0.13*0.5 + 0.13*0.4 + 0.10*0.5 + 0.06*0.4
			name: "mid seller",
			factors: TrustFactors{
				ListingCount:          10,
				FulfilledOrders:       50,
				DecayedFulfillments:   30,
				RecentFulfillments30d: 15,
				AvgFulfillmentMs:      ptr(float64(LatencySaturation.Milliseconds()) / 2),
				Disputes:              3,
				TenureDays:            182.5,
				EndorsementsCount:     10,
			},
			wantScore: 48,
			wantGrade: GradeSilver,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTrustScore(tt.factors)
			if got.Score != tt.wantScore {
				t.Errorf("score = %d, want %d", got.Score, tt.wantScore)
			}
			if got.Grade != tt.wantGrade {
				t.Errorf("grade = %s, want %s", got.Grade, tt.wantGrade)
			}
			if got.Version != ScoreVersion {
				t.Errorf("version = %q, want %q", got.Version, ScoreVersion)
			}
		})
	}
}

func TestComputeTrustScore_Components(t *testing.T) {
	got := ComputeTrustScore(TrustFactors{ListingCount: 5, EndorsementsCount: 100})

	weights := Weights()
	if len(got.Components) != len(weights) {
		t.Fatalf("got %d components, want %d", len(got.Components), len(weights))
	}
	var total float64
	for i, c := range got.Components {
		if c.Name != weights[i].Name {
			t.Errorf("component %d = %q, want %q", i, c.Name, weights[i].Name)
		}
		if c.Contribution < 0 || c.Contribution > c.Weight+1e-12 {
			t.Errorf("component %q contribution %v outside [0, %v]", c.Name, c.Contribution, c.Weight)
		}
		total += c.Contribution
	}
	if int(math.Round(total*100)) != got.Score {
		t.Errorf("components sum to %v, score is %d", total, got.Score)
	}
	// Raw values are reported unclamped.
	if got.Components[7].Value != 100 {
		t.Errorf("endorsements raw value = %v, want 100", got.Components[7].Value)
	}
}

func TestComputeTrustScore_Deterministic(t *testing.T) {
	f := TrustFactors{ListingCount: 3, FulfilledOrders: 7, DecayedFulfillments: 4.2, Disputes: 1, TenureDays: 30}
	a := ComputeTrustScore(f)
	b := ComputeTrustScore(f)
	if a.Score != b.Score || a.Grade != b.Grade {
		t.Errorf("non-deterministic result: %+v vs %+v", a, b)
	}
}
