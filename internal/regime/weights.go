package regime

import (
	"fmt"
	"math"
)

// WeightSumTolerance is the accepted deviation from 1.0 for a weight table
const WeightSumTolerance = 1e-6

// WeightPreset defines the base module weights for a specific regime
type WeightPreset struct {
	Regime      Regime             `json:"regime"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Weights     map[string]float64 `json:"weights"` // moduleID -> weight, sums to 1
}

// WeightManager serves regime-specific base weight tables. Presets are
// immutable after construction; callers receive copies.
type WeightManager struct {
	presets map[Regime]*WeightPreset
}

// NewWeightManager creates a weight manager with the default presets
func NewWeightManager() *WeightManager {
	wm := &WeightManager{presets: make(map[Regime]*WeightPreset)}
	wm.initializeDefaultPresets()
	return wm
}

// initializeDefaultPresets sets up the regime-specific weight tables
func (wm *WeightManager) initializeDefaultPresets() {
	// Trend: momentum and technicals lead, sentiment contributes
	wm.presets[Trend] = &WeightPreset{
		Regime:      Trend,
		Name:        "Trend",
		Description: "Directional market, momentum and technicals lead",
		Weights: map[string]float64{
			"technical": 0.28,
			"momentum":  0.24,
			"volume":    0.14,
			"macro":     0.12,
			"sentiment": 0.10,
			"orion":     0.12,
		},
	}

	// Chop: technicals discounted, volume and pattern work matter more
	wm.presets[Chop] = &WeightPreset{
		Regime:      Chop,
		Name:        "Chop",
		Description: "Range-bound market, mean-reversion signals favored",
		Weights: map[string]float64{
			"technical": 0.20,
			"momentum":  0.12,
			"volume":    0.20,
			"macro":     0.14,
			"sentiment": 0.14,
			"orion":     0.20,
		},
	}

	// RiskOff: macro dominates, momentum noise discounted
	wm.presets[RiskOff] = &WeightPreset{
		Regime:      RiskOff,
		Name:        "RiskOff",
		Description: "Defensive market, macro health dominates",
		Weights: map[string]float64{
			"technical": 0.16,
			"momentum":  0.10,
			"volume":    0.12,
			"macro":     0.32,
			"sentiment": 0.18,
			"orion":     0.12,
		},
	}

	// NewsShock: sentiment and macro carry, technicals unreliable
	wm.presets[NewsShock] = &WeightPreset{
		Regime:      NewsShock,
		Name:        "NewsShock",
		Description: "Event-driven market, technicals temporarily unreliable",
		Weights: map[string]float64{
			"technical": 0.12,
			"momentum":  0.10,
			"volume":    0.14,
			"macro":     0.28,
			"sentiment": 0.24,
			"orion":     0.12,
		},
	}

	// Neutral: balanced allocation
	wm.presets[Neutral] = &WeightPreset{
		Regime:      Neutral,
		Name:        "Neutral",
		Description: "No dominant regime, balanced allocation",
		Weights: map[string]float64{
			"technical": 0.22,
			"momentum":  0.18,
			"volume":    0.15,
			"macro":     0.17,
			"sentiment": 0.13,
			"orion":     0.15,
		},
	}
}

// BaseWeights returns a copy of the base weight table for a regime.
// Unknown regimes fall back to the Neutral preset.
func (wm *WeightManager) BaseWeights(r Regime) map[string]float64 {
	preset, ok := wm.presets[r]
	if !ok {
		preset = wm.presets[Neutral]
	}
	out := make(map[string]float64, len(preset.Weights))
	for k, v := range preset.Weights {
		out[k] = v
	}
	return out
}

// SetPreset replaces the weight table for a regime after validation
func (wm *WeightManager) SetPreset(preset WeightPreset) error {
	if err := ValidateWeights(preset.Weights); err != nil {
		return fmt.Errorf("preset %s: %w", preset.Name, err)
	}
	p := preset
	wm.presets[preset.Regime] = &p
	return nil
}

// ValidateWeights checks that a weight table sums to 1 within tolerance
// and contains no negative entries
func ValidateWeights(weights map[string]float64) error {
	if len(weights) == 0 {
		return fmt.Errorf("empty weight table")
	}
	sum := 0.0
	for id, w := range weights {
		if w < 0 {
			return fmt.Errorf("negative weight %.4f for module %s", w, id)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > WeightSumTolerance {
		return fmt.Errorf("weights sum to %.6f, expected 1.0", sum)
	}
	return nil
}

// Normalize rescales a weight table so it sums to 1. An all-zero or empty
// table is returned unchanged.
func Normalize(weights map[string]float64) map[string]float64 {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return weights
	}
	out := make(map[string]float64, len(weights))
	for id, w := range weights {
		out[id] = w / sum
	}
	return out
}
