package ranking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// HybridWeights defines the blend weights for listing search.
type HybridWeights struct {
	Semantic float64 `json:"semantic"` // Weight for embedding similarity (default: 0.6)
	Lexical  float64 `json:"lexical"`  // Weight for token overlap (default: 0.25)
	Trust    float64 `json:"trust"`    // Weight for normalized trust (default: 0.15)
}

// Weights holds all ranking weight configurations.
type Weights struct {
	Hybrid HybridWeights `json:"hybrid"`
}

// CalibrationConfig represents the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string  `json:"version"`
	Weights Weights `json:"weights"`
}

// DefaultWeights returns the default ranking weight configuration.
//
// Hybrid formula: score = (semantic * 0.6) + (lexical * 0.25) + (trust * 0.15)
// - Semantic relevance dominates
// - Lexical overlap rescues exact-term matches the embedding under-ranks
// - Trust nudges reputable sellers up without burying new ones
func DefaultWeights() *Weights {
	return &Weights{
		Hybrid: HybridWeights{
			Semantic: SemanticWeight,
			Lexical:  LexicalWeight,
			Trust:    TrustWeight,
		},
	}
}

// LoadCalibration loads ranking weights from a JSON calibration file.
// An empty path returns the defaults. On a read or parse error the defaults
// are returned together with the error. Partial files are merged with the
// defaults.
func LoadCalibration(filePath string) (*Weights, error) {
	if filePath == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	defaults := DefaultWeights()
	merged := MergeCalibration(defaults, &config.Weights)
	logCalibrationOverrides(defaults, merged)

	return merged, nil
}

// MergeCalibration returns base with every non-zero field of override applied.
func MergeCalibration(base *Weights, override *Weights) *Weights {
	if base == nil {
		return DefaultWeights()
	}

	result := *base
	if override == nil {
		return &result
	}

	if override.Hybrid.Semantic != 0 {
		result.Hybrid.Semantic = override.Hybrid.Semantic
	}
	if override.Hybrid.Lexical != 0 {
		result.Hybrid.Lexical = override.Hybrid.Lexical
	}
	if override.Hybrid.Trust != 0 {
		result.Hybrid.Trust = override.Hybrid.Trust
	}

	return &result
}

// logCalibrationOverrides logs which weights were overridden from defaults.
func logCalibrationOverrides(defaults *Weights, loaded *Weights) {
	var overrides []string

	if loaded.Hybrid.Semantic != defaults.Hybrid.Semantic {
		overrides = append(overrides, fmt.Sprintf("hybrid.semantic: %.2f -> %.2f",
			defaults.Hybrid.Semantic, loaded.Hybrid.Semantic))
	}
	if loaded.Hybrid.Lexical != defaults.Hybrid.Lexical {
		overrides = append(overrides, fmt.Sprintf("hybrid.lexical: %.2f -> %.2f",
			defaults.Hybrid.Lexical, loaded.Hybrid.Lexical))
	}
	if loaded.Hybrid.Trust != defaults.Hybrid.Trust {
		overrides = append(overrides, fmt.Sprintf("hybrid.trust: %.2f -> %.2f",
			defaults.Hybrid.Trust, loaded.Hybrid.Trust))
	}

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)")
	}
}
