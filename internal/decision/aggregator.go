package decision

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantgate/quantgate/internal/domain"
	"github.com/quantgate/quantgate/internal/regime"
	"github.com/quantgate/quantgate/internal/risk"
)

// WeightProvider abstracts the learning engine so the aggregator and the
// learner stay decoupled; the concrete wiring happens at the composition
// root.
type WeightProvider interface {
	// GetModuleWeights returns the current effective weight per module
	GetModuleWeights() map[string]float64

	// ScoreNudge returns the advisory adjustment for a firing bullish
	// indicator (zero when the indicator has no track record yet)
	ScoreNudge(indicatorName string) float64
}

// Config holds every aggregation tunable. Thresholds are configuration,
// not constants.
type Config struct {
	BuyThreshold  float64 `yaml:"buy_threshold"`  // Default: 65
	SellThreshold float64 `yaml:"sell_threshold"` // Default: 35
	HoldBand      float64 `yaml:"hold_band"`      // Default: 5 (below buy threshold)

	// Weight blending: learned vs regime base table
	LearnedBlend float64 `yaml:"learned_blend"` // Default: 0.60
	BaseBlend    float64 `yaml:"base_blend"`    // Default: 0.40

	// Quality adjustments
	WeakTechnicalFloor   float64 `yaml:"weak_technical_floor"`   // Default: 50
	WeakTechnicalPenalty float64 `yaml:"weak_technical_penalty"` // Default: 0.90
	MacroBreadthFloor    float64 `yaml:"macro_breadth_floor"`    // Default: 30
	MacroBreadthPenalty  float64 `yaml:"macro_breadth_penalty"`  // Default: 0.85
	ExtremeFearThreshold float64 `yaml:"extreme_fear_threshold"` // Default: 25
	ExtremeFearPenalty   float64 `yaml:"extreme_fear_penalty"`   // Default: 0.90

	// Veto chain
	VetoProximity          float64 `yaml:"veto_proximity"`           // Default: 10 (points below buy threshold)
	TrendHarmonyFloor      float64 `yaml:"trend_harmony_floor"`      // Default: 50
	TrendHarmonyPenalty    float64 `yaml:"trend_harmony_penalty"`    // Default: 0.92
	LiquidityWindowPenalty float64 `yaml:"liquidity_window_penalty"` // Default: 0.95
	MacroRiskFloor         float64 `yaml:"macro_risk_floor"`         // Default: 0.70
	PeakRangeFraction      float64 `yaml:"peak_range_fraction"`      // Default: 0.05
	PeakRejectionPenalty   float64 `yaml:"peak_rejection_penalty"`   // Default: 0.93
}

// DefaultConfig returns production-ready aggregation parameters
func DefaultConfig() Config {
	return Config{
		BuyThreshold:           65,
		SellThreshold:          35,
		HoldBand:               5,
		LearnedBlend:           0.60,
		BaseBlend:              0.40,
		WeakTechnicalFloor:     50,
		WeakTechnicalPenalty:   0.90,
		MacroBreadthFloor:      30,
		MacroBreadthPenalty:    0.85,
		ExtremeFearThreshold:   25,
		ExtremeFearPenalty:     0.90,
		VetoProximity:          10,
		TrendHarmonyFloor:      50,
		TrendHarmonyPenalty:    0.92,
		LiquidityWindowPenalty: 0.95,
		MacroRiskFloor:         0.70,
		PeakRangeFraction:      0.05,
		PeakRejectionPenalty:   0.93,
	}
}

// Aggregator combines provider scores into one decision. Calls may run
// concurrently across symbols; the only mutable state is the per-symbol
// rule-check table kept for the HTTP surface.
type Aggregator struct {
	config      Config
	detector    *regime.Detector
	weights     *regime.WeightManager
	learner     WeightProvider
	riskGate    *risk.Gate
	adjustments []AdjustmentRule
	vetoes      []VetoRule

	checksMu   sync.RWMutex
	lastChecks map[string][]RuleCheck
}

// NewAggregator creates an aggregator. learner may be nil (base weights
// only); riskGate may be nil (no sizing attached).
func NewAggregator(config Config, detector *regime.Detector, weights *regime.WeightManager, learner WeightProvider, riskGate *risk.Gate) *Aggregator {
	return &Aggregator{
		config:      config,
		detector:    detector,
		weights:     weights,
		learner:     learner,
		riskGate:    riskGate,
		adjustments: defaultAdjustmentRules(config),
		vetoes:      defaultVetoRules(config),
		lastChecks:  make(map[string][]RuleCheck),
	}
}

// LastChecks returns the full rule-check table from the most recent
// decision for a symbol, fired or not, in evaluation order
func (a *Aggregator) LastChecks(symbol string) []RuleCheck {
	a.checksMu.RLock()
	defer a.checksMu.RUnlock()
	checks := a.lastChecks[symbol]
	out := make([]RuleCheck, len(checks))
	copy(out, checks)
	return out
}

// Decide combines the provider scores for one symbol into a final
// verdict. Providers absent from scores (timed out, excluded) simply do
// not participate; the remaining weights renormalize to 1.
func (a *Aggregator) Decide(symbol string, scores map[string]domain.SignalScore, ctx Context) domain.DecisionResult {
	if ctx.Timestamp.IsZero() {
		ctx.Timestamp = time.Now().UTC()
	}

	detected := a.detector.Detect(regime.Inputs{
		MacroScore:     ctx.MacroScore,
		TechnicalScore: ctx.TechnicalScore,
		ChopScore:      ctx.ChopScore,
		SentimentScore: ctx.SentimentScore,
		ShockScore:     ctx.ShockScore,
	})

	result := domain.DecisionResult{
		Symbol:       symbol,
		ModuleScores: make(map[string]float64, len(scores)),
		Regime:       detected.Regime.String(),
		Timestamp:    ctx.Timestamp,
	}

	resolved := a.resolveWeights(detected.Regime, scores)

	// Weighted sum over the providers that answered
	total := 0.0
	for id, score := range scores {
		weight := resolved[id]
		clamped := domain.ClampScore(score.Score)
		total += clamped * weight
		result.ModuleScores[id] = clamped
		result.Traces = append(result.Traces, domain.DecisionTrace{
			ModuleID:       id,
			Recommendation: recommendationFor(clamped, a.config),
			Reason:         score.Reason,
			Weight:         weight,
			Score:          clamped,
			Timestamp:      ctx.Timestamp,
		})
	}

	// Advisory indicator nudges from learned reliability
	if a.learner != nil {
		for id, score := range scores {
			if score.Score <= 50 {
				continue // nudges apply to firing bullish signals only
			}
			if nudge := a.learner.ScoreNudge(id); nudge != 0 {
				total += nudge
			}
		}
	}

	checks := make([]RuleCheck, 0, len(a.adjustments)+len(a.vetoes))

	// Quality adjustments: ordered, multiplicative, each at most once
	for _, rule := range a.adjustments {
		if !rule.Predicate(ctx, scores, total) {
			checks = append(checks, RuleCheck{Name: rule.Name, Factor: 1, ScoreBefore: total, ScoreAfter: total})
			continue
		}
		before := total
		total *= rule.Factor
		checks = append(checks, RuleCheck{
			Name: rule.Name, Fired: true, Factor: rule.Factor,
			ScoreBefore: before, ScoreAfter: total, Description: rule.Rationale,
		})
		if rule.Trace {
			result.Traces = append(result.Traces, domain.DecisionTrace{
				ModuleID:       "adjust_" + rule.Name,
				Recommendation: "VETO",
				Reason:         rule.Rationale,
				Score:          total,
				Timestamp:      ctx.Timestamp,
			})
		}
		log.Debug().Str("symbol", symbol).Str("rule", rule.Name).
			Float64("before", before).Float64("after", total).Msg("quality adjustment applied")
	}

	// Veto chain: ordered, monotonic down, each appends a trace
	for _, veto := range a.vetoes {
		if !veto.Applies(ctx, total) {
			checks = append(checks, RuleCheck{Name: veto.Name, Factor: 1, ScoreBefore: total, ScoreAfter: total})
			continue
		}
		factor := veto.FactorFor(ctx)
		if factor > 1 {
			factor = 1 // a veto never raises the score
		}
		before := total
		total *= factor
		checks = append(checks, RuleCheck{
			Name: veto.Name, Fired: true, Factor: factor,
			ScoreBefore: before, ScoreAfter: total, Description: veto.Rationale(ctx),
		})
		result.Traces = append(result.Traces, domain.DecisionTrace{
			ModuleID:       "veto_" + veto.Name,
			Recommendation: "VETO",
			Reason:         veto.Rationale(ctx),
			Score:          total,
			Timestamp:      ctx.Timestamp,
		})
		log.Debug().Str("symbol", symbol).Str("veto", veto.Name).
			Float64("before", before).Float64("after", total).Msg("veto applied")
	}

	a.checksMu.Lock()
	a.lastChecks[symbol] = checks
	a.checksMu.Unlock()

	total = domain.ClampScore(total)
	result.TotalScore = total
	result.FinalDecision = a.classify(total, ctx)
	result.Confidence = domain.ClampScore(math.Abs(total-50) * 2)

	// Post-decision sizing for actionable verdicts
	if a.riskGate != nil && (result.FinalDecision == domain.DecisionBuy || result.FinalDecision == domain.DecisionSell) {
		levels, reason := a.riskGate.Plan(risk.PlanInput{
			Direction:     result.FinalDecision,
			Symbol:        symbol,
			Sector:        ctx.Sector,
			EntryPrice:    ctx.Price,
			Capital:       ctx.Capital,
			DecisionScore: total,
			Candles:       ctx.Candles,
			EquityCurve:   ctx.EquityCurve,
			OpenPositions: ctx.OpenPositions,
		})
		result.RiskLevels = levels
		if levels == nil && reason != "" {
			result.Traces = append(result.Traces, domain.DecisionTrace{
				ModuleID:       "risk_gate",
				Recommendation: "BLOCK",
				Reason:         reason,
				Score:          total,
				Timestamp:      ctx.Timestamp,
			})
		}
	}

	log.Info().Str("symbol", symbol).Str("regime", result.Regime).
		Float64("score", total).Str("decision", result.FinalDecision.String()).
		Float64("confidence", result.Confidence).Msg("decision")

	return result
}

// resolveWeights blends learned and regime-base weights for the present
// providers and renormalizes so the used weights sum to 1
func (a *Aggregator) resolveWeights(r regime.Regime, scores map[string]domain.SignalScore) map[string]float64 {
	base := a.weights.BaseWeights(r)

	var learned map[string]float64
	if a.learner != nil {
		learned = a.learner.GetModuleWeights()
	}

	blended := make(map[string]float64, len(scores))
	for id := range scores {
		bw, hasBase := base[id]
		lw, hasLearned := learned[id]
		switch {
		case hasBase && hasLearned:
			blended[id] = a.config.LearnedBlend*lw + a.config.BaseBlend*bw
		case hasLearned:
			blended[id] = lw
		case hasBase:
			blended[id] = bw
		default:
			blended[id] = 0
		}
	}

	sum := 0.0
	for _, w := range blended {
		sum += w
	}
	if sum <= 0 {
		// No usable weights at all: fall back to equal weighting
		if len(blended) > 0 {
			equal := 1.0 / float64(len(blended))
			for id := range blended {
				blended[id] = equal
			}
		}
		return blended
	}
	return regime.Normalize(blended)
}

// classify maps the final score to a verdict. The band just under the
// buy threshold holds; further below, an unfavorable macro backdrop
// waits instead of holding.
func (a *Aggregator) classify(total float64, ctx Context) domain.Decision {
	switch {
	case total >= a.config.BuyThreshold:
		return domain.DecisionBuy
	case total <= a.config.SellThreshold:
		return domain.DecisionSell
	case total >= a.config.BuyThreshold-a.config.HoldBand:
		return domain.DecisionHold
	case ctx.RiskMultiplier > 0 && ctx.RiskMultiplier < a.config.MacroRiskFloor:
		return domain.DecisionWait
	default:
		return domain.DecisionHold
	}
}

// recommendationFor translates a module score into its trace verdict
func recommendationFor(score float64, cfg Config) string {
	switch {
	case score >= cfg.BuyThreshold:
		return "BUY"
	case score <= cfg.SellThreshold:
		return "SELL"
	default:
		return "NEUTRAL"
	}
}
