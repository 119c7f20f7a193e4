package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllPresetsSumToOne(t *testing.T) {
	wm := NewWeightManager()

	for _, r := range []Regime{Neutral, Trend, Chop, RiskOff, NewsShock} {
		weights := wm.BaseWeights(r)
		require.NotEmpty(t, weights, "regime %s", r)
		assert.NoError(t, ValidateWeights(weights), "regime %s", r)
	}
}

func TestBaseWeightsReturnsCopy(t *testing.T) {
	wm := NewWeightManager()

	weights := wm.BaseWeights(Trend)
	weights["technical"] = 0.99

	fresh := wm.BaseWeights(Trend)
	assert.NotEqual(t, 0.99, fresh["technical"])
}

func TestUnknownRegimeFallsBackToNeutral(t *testing.T) {
	wm := NewWeightManager()
	assert.Equal(t, wm.BaseWeights(Neutral), wm.BaseWeights(Regime(42)))
}

func TestSetPresetValidates(t *testing.T) {
	wm := NewWeightManager()

	err := wm.SetPreset(WeightPreset{
		Regime:  Trend,
		Name:    "bad",
		Weights: map[string]float64{"technical": 0.5, "momentum": 0.3},
	})
	require.Error(t, err)

	err = wm.SetPreset(WeightPreset{
		Regime:  Trend,
		Name:    "ok",
		Weights: map[string]float64{"technical": 0.5, "momentum": 0.5},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.5, wm.BaseWeights(Trend)["technical"])
}

func TestValidateWeights(t *testing.T) {
	assert.Error(t, ValidateWeights(nil))
	assert.Error(t, ValidateWeights(map[string]float64{"a": -0.5, "b": 1.5}))
	assert.Error(t, ValidateWeights(map[string]float64{"a": 0.4, "b": 0.4}))
	assert.NoError(t, ValidateWeights(map[string]float64{"a": 0.4, "b": 0.6}))
}

func TestNormalize(t *testing.T) {
	out := Normalize(map[string]float64{"a": 2, "b": 2})
	assert.InDelta(t, 0.5, out["a"], 1e-9)
	assert.InDelta(t, 0.5, out["b"], 1e-9)

	// All-zero tables come back unchanged
	zeros := map[string]float64{"a": 0, "b": 0}
	assert.Equal(t, zeros, Normalize(zeros))
}
