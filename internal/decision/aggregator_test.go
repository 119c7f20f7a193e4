package decision

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantgate/quantgate/internal/domain"
	"github.com/quantgate/quantgate/internal/regime"
)

// stubWeightProvider is a hand-rolled WeightProvider for tests
type stubWeightProvider struct {
	weights map[string]float64
	nudges  map[string]float64
}

func (s *stubWeightProvider) GetModuleWeights() map[string]float64 { return s.weights }
func (s *stubWeightProvider) ScoreNudge(name string) float64      { return s.nudges[name] }

// benignContext returns a context that fires no adjustment or veto rule
func benignContext() Context {
	return Context{
		Timestamp:        time.Date(2025, 6, 4, 15, 0, 0, 0, time.UTC), // Wednesday afternoon
		MacroScore:       50,
		TechnicalScore:   55,
		ChopScore:        50,
		SentimentScore:   50,
		RiskMultiplier:   1.0,
		HigherTFMomentum: 60,
		Price:            100,
		High24h:          120,
		Low24h:           90,
	}
}

func newTestAggregator(learner WeightProvider) *Aggregator {
	return NewAggregator(DefaultConfig(), regime.NewDetector(regime.DefaultDetectorConfig()),
		regime.NewWeightManager(), learner, nil)
}

func TestEqualWeightFallbackYieldsHold(t *testing.T) {
	// Ten unknown modules all scoring 50: no base or learned weight
	// exists, so equal weighting applies and the total stays at 50
	agg := newTestAggregator(nil)

	scores := make(map[string]domain.SignalScore, 10)
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("module_%d", i)
		scores[id] = domain.SignalScore{ModuleID: id, Score: 50}
	}

	result := agg.Decide("BTCUSD", scores, benignContext())

	assert.InDelta(t, 50.0, result.TotalScore, 1e-9)
	assert.Equal(t, domain.DecisionHold, result.FinalDecision)
	assert.InDelta(t, 0.0, result.Confidence, 1e-9)
}

func TestLearnedWeightedSum(t *testing.T) {
	learner := &stubWeightProvider{weights: map[string]float64{
		"alpha": 0.4, "beta": 0.2, "gamma": 0.2, "delta": 0.2,
	}}
	agg := newTestAggregator(learner)

	scores := map[string]domain.SignalScore{
		"alpha": {ModuleID: "alpha", Score: 90},
		"beta":  {ModuleID: "beta", Score: 50},
		"gamma": {ModuleID: "gamma", Score: 50},
		"delta": {ModuleID: "delta", Score: 50},
	}

	result := agg.Decide("BTCUSD", scores, benignContext())

	// 90*0.4 + 50*0.6 = 66
	assert.InDelta(t, 66.0, result.TotalScore, 1e-9)
	assert.Equal(t, domain.DecisionBuy, result.FinalDecision)
	assert.InDelta(t, 32.0, result.Confidence, 1e-9)
}

func TestMissingProvidersRenormalize(t *testing.T) {
	// Only two of the base-table modules answer; their weights must
	// renormalize to sum to 1
	agg := newTestAggregator(nil)

	scores := map[string]domain.SignalScore{
		"technical": {ModuleID: "technical", Score: 80},
		"momentum":  {ModuleID: "momentum", Score: 60},
	}

	result := agg.Decide("BTCUSD", scores, benignContext())

	weightSum := 0.0
	for _, trace := range result.Traces {
		weightSum += trace.Weight
	}
	assert.InDelta(t, 1.0, weightSum, 1e-6)
	assert.Greater(t, result.TotalScore, 60.0)
	assert.Less(t, result.TotalScore, 80.0)
}

func TestExtremeInputsClamp(t *testing.T) {
	learner := &stubWeightProvider{weights: map[string]float64{"alpha": 1.0}}
	agg := newTestAggregator(learner)

	result := agg.Decide("BTCUSD", map[string]domain.SignalScore{
		"alpha": {ModuleID: "alpha", Score: 1000},
	}, benignContext())

	assert.InDelta(t, 100.0, result.TotalScore, 1e-9)
	assert.InDelta(t, 100.0, result.Confidence, 1e-9)
	assert.Equal(t, domain.DecisionBuy, result.FinalDecision)
}

func TestVetoesAreMonotonic(t *testing.T) {
	learner := &stubWeightProvider{weights: map[string]float64{"alpha": 1.0}}
	agg := newTestAggregator(learner)

	ctx := benignContext()
	ctx.HigherTFMomentum = 10 // trips trend harmony
	ctx.RiskMultiplier = 0.5  // trips macro risk
	ctx.Price = 119.5         // top 5% of the 24h range

	result := agg.Decide("BTCUSD", map[string]domain.SignalScore{
		"alpha": {ModuleID: "alpha", Score: 70},
	}, ctx)

	assert.Less(t, result.TotalScore, 70.0)

	prev := 70.0
	vetoTraces := 0
	for _, trace := range result.Traces {
		if trace.Recommendation != "VETO" {
			continue
		}
		vetoTraces++
		assert.LessOrEqual(t, trace.Score, prev, "veto %s raised the score", trace.ModuleID)
		prev = trace.Score
	}
	// trend harmony then macro risk fire; the peak veto stays idle once
	// the score has fallen out of the proximity band
	assert.Equal(t, 2, vetoTraces)
}

func TestVetoesSkipRejectedCandidates(t *testing.T) {
	learner := &stubWeightProvider{weights: map[string]float64{"alpha": 1.0}}
	agg := newTestAggregator(learner)

	ctx := benignContext()
	ctx.HigherTFMomentum = 10

	// Far below the buy threshold: the veto must not engage
	result := agg.Decide("BTCUSD", map[string]domain.SignalScore{
		"alpha": {ModuleID: "alpha", Score: 40},
	}, ctx)

	assert.InDelta(t, 40.0, result.TotalScore, 1e-9)
}

func TestQualityAdjustments(t *testing.T) {
	learner := &stubWeightProvider{weights: map[string]float64{"alpha": 1.0}}
	agg := newTestAggregator(learner)

	ctx := benignContext()
	ctx.TechnicalScore = 45 // weak technical, 0.90 penalty

	result := agg.Decide("BTCUSD", map[string]domain.SignalScore{
		"alpha": {ModuleID: "alpha", Score: 80},
	}, ctx)

	assert.InDelta(t, 72.0, result.TotalScore, 1e-9)
}

func TestMacroBreadthPenaltyAppendsTrace(t *testing.T) {
	learner := &stubWeightProvider{weights: map[string]float64{"alpha": 1.0}}
	agg := newTestAggregator(learner)

	ctx := benignContext()
	ctx.MacroScore = 40 // above risk-off floor but below breadth floor? 40 >= 30, no penalty
	result := agg.Decide("BTCUSD", map[string]domain.SignalScore{
		"alpha": {ModuleID: "alpha", Score: 80},
	}, ctx)
	for _, trace := range result.Traces {
		assert.NotEqual(t, "adjust_macro_breadth", trace.ModuleID)
	}

	// Below both floors: risk-off regime plus penalty trace
	ctx.MacroScore = 25
	result = agg.Decide("BTCUSD", map[string]domain.SignalScore{
		"alpha": {ModuleID: "alpha", Score: 80},
	}, ctx)

	found := false
	for _, trace := range result.Traces {
		if trace.ModuleID == "adjust_macro_breadth" {
			found = true
		}
	}
	assert.True(t, found, "expected a macro breadth veto trace")
	assert.Equal(t, "risk_off", result.Regime)
}

func TestUnfavorableMacroWaits(t *testing.T) {
	agg := newTestAggregator(&stubWeightProvider{weights: map[string]float64{"alpha": 1.0}})

	ctx := benignContext()
	ctx.RiskMultiplier = 0.5

	result := agg.Decide("BTCUSD", map[string]domain.SignalScore{
		"alpha": {ModuleID: "alpha", Score: 50},
	}, ctx)

	assert.Equal(t, domain.DecisionWait, result.FinalDecision)
}

func TestSellClassification(t *testing.T) {
	agg := newTestAggregator(&stubWeightProvider{weights: map[string]float64{"alpha": 1.0}})

	result := agg.Decide("BTCUSD", map[string]domain.SignalScore{
		"alpha": {ModuleID: "alpha", Score: 20},
	}, benignContext())

	assert.Equal(t, domain.DecisionSell, result.FinalDecision)
}

func TestHoldBandJustBelowBuy(t *testing.T) {
	agg := newTestAggregator(&stubWeightProvider{weights: map[string]float64{"alpha": 1.0}})

	ctx := benignContext()
	result := agg.Decide("BTCUSD", map[string]domain.SignalScore{
		"alpha": {ModuleID: "alpha", Score: 62},
	}, ctx)

	assert.Equal(t, domain.DecisionHold, result.FinalDecision)
}

func TestIndicatorNudgesApplyToBullishSignalsOnly(t *testing.T) {
	learner := &stubWeightProvider{
		weights: map[string]float64{"alpha": 0.5, "beta": 0.5},
		nudges:  map[string]float64{"alpha": 1.5, "beta": 1.5},
	}
	agg := newTestAggregator(learner)

	result := agg.Decide("BTCUSD", map[string]domain.SignalScore{
		"alpha": {ModuleID: "alpha", Score: 60}, // bullish, nudged
		"beta":  {ModuleID: "beta", Score: 40},  // bearish, not nudged
	}, benignContext())

	// 60*0.5 + 40*0.5 = 50, plus one +1.5 nudge
	assert.InDelta(t, 51.5, result.TotalScore, 1e-9)
}

func TestLastChecksRecordsFullRuleTable(t *testing.T) {
	agg := newTestAggregator(&stubWeightProvider{weights: map[string]float64{"alpha": 1.0}})

	ctx := benignContext()
	ctx.HigherTFMomentum = 10

	agg.Decide("ETHUSD", map[string]domain.SignalScore{
		"alpha": {ModuleID: "alpha", Score: 70},
	}, ctx)

	checks := agg.LastChecks("ETHUSD")
	require.Len(t, checks, 7) // 3 adjustments + 4 vetoes, fired or not

	fired := 0
	for _, check := range checks {
		assert.LessOrEqual(t, check.ScoreAfter, check.ScoreBefore)
		if check.Fired {
			fired++
			assert.NotEmpty(t, check.Description)
		}
	}
	assert.Equal(t, 1, fired)
	assert.Empty(t, agg.LastChecks("UNSEEN"))
}
