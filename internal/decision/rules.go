package decision

import (
	"fmt"
	"time"

	"github.com/quantgate/quantgate/internal/domain"
	"github.com/quantgate/quantgate/internal/risk"
)

// Context is the market context one decision is evaluated against.
// Everything the rules predicate on arrives here; the aggregator never
// fetches data itself.
type Context struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`

	// Aggregate scores used for regime detection and quality rules
	MacroScore     float64 `json:"macro_score"`
	TechnicalScore float64 `json:"technical_score"`
	ChopScore      float64 `json:"chop_score"`
	SentimentScore float64 `json:"sentiment_score"`
	ShockScore     float64 `json:"shock_score"`

	// Veto inputs
	RiskMultiplier   float64 `json:"risk_multiplier"`    // macro risk, 1.0 = benign
	HigherTFMomentum float64 `json:"higher_tf_momentum"` // 0-100
	Price            float64 `json:"price"`
	High24h          float64 `json:"high_24h"`
	Low24h           float64 `json:"low_24h"`

	// Risk-sizing inputs (optional; sizing is skipped when absent)
	Capital       float64             `json:"capital"`
	Sector        string              `json:"sector"`
	Candles       []domain.Candle     `json:"-"`
	EquityCurve   []float64           `json:"-"`
	OpenPositions []risk.OpenPosition `json:"-"`
}

// AdjustmentRule is one multiplicative quality adjustment. Rules are
// folded over the score in list order, each applied at most once.
type AdjustmentRule struct {
	Name      string
	Predicate func(ctx Context, scores map[string]domain.SignalScore, total float64) bool
	Factor    float64
	Rationale string
	Trace     bool // append a veto-style trace when the rule fires
}

// VetoRule conditionally and multiplicatively reduces the aggregate
// score, recording its rationale. FactorFor lets a veto scale its
// penalty with severity; vetoes never increase the score.
type VetoRule struct {
	Name      string
	Applies   func(ctx Context, total float64) bool
	FactorFor func(ctx Context) float64
	Rationale func(ctx Context) string
}

// RuleCheck records one rule evaluation for audit/display
type RuleCheck struct {
	Name        string  `json:"name"`
	Fired       bool    `json:"fired"`
	Factor      float64 `json:"factor"`
	ScoreBefore float64 `json:"score_before"`
	ScoreAfter  float64 `json:"score_after"`
	Description string  `json:"description,omitempty"`
}

// defaultAdjustmentRules builds the ordered quality-adjustment chain
// from config. Order matters and is explicit here: weak technicals,
// macro breadth, extreme fear.
func defaultAdjustmentRules(cfg Config) []AdjustmentRule {
	return []AdjustmentRule{
		{
			Name: "weak_technical",
			Predicate: func(ctx Context, scores map[string]domain.SignalScore, total float64) bool {
				return ctx.TechnicalScore < cfg.WeakTechnicalFloor
			},
			Factor:    cfg.WeakTechnicalPenalty,
			Rationale: "primary technical score below floor",
		},
		{
			Name: "macro_breadth",
			Predicate: func(ctx Context, scores map[string]domain.SignalScore, total float64) bool {
				return ctx.MacroScore < cfg.MacroBreadthFloor
			},
			Factor:    cfg.MacroBreadthPenalty,
			Rationale: "macro breadth below hard floor",
			Trace:     true,
		},
		{
			Name: "extreme_fear",
			Predicate: func(ctx Context, scores map[string]domain.SignalScore, total float64) bool {
				return ctx.SentimentScore < cfg.ExtremeFearThreshold
			},
			Factor:    cfg.ExtremeFearPenalty,
			Rationale: "sentiment in extreme fear territory",
		},
	}
}

// defaultVetoRules builds the ordered veto chain from config. Each veto
// only engages when the score is close enough to the buy threshold to
// matter; already-rejected candidates are not penalized further.
func defaultVetoRules(cfg Config) []VetoRule {
	nearBuy := func(total float64) bool {
		return total >= cfg.BuyThreshold-cfg.VetoProximity
	}

	return []VetoRule{
		{
			Name: "trend_harmony",
			Applies: func(ctx Context, total float64) bool {
				return nearBuy(total) && ctx.HigherTFMomentum < cfg.TrendHarmonyFloor
			},
			FactorFor: func(ctx Context) float64 { return cfg.TrendHarmonyPenalty },
			Rationale: func(ctx Context) string {
				return fmt.Sprintf("higher-timeframe momentum %.1f below %.1f", ctx.HigherTFMomentum, cfg.TrendHarmonyFloor)
			},
		},
		{
			Name: "low_liquidity_window",
			Applies: func(ctx Context, total float64) bool {
				return nearBuy(total) && inLowLiquidityWindow(ctx.Timestamp)
			},
			FactorFor: func(ctx Context) float64 { return cfg.LiquidityWindowPenalty },
			Rationale: func(ctx Context) string {
				return "weekend overnight window, thin liquidity"
			},
		},
		{
			Name: "macro_risk",
			Applies: func(ctx Context, total float64) bool {
				return nearBuy(total) && ctx.RiskMultiplier > 0 && ctx.RiskMultiplier < cfg.MacroRiskFloor
			},
			FactorFor: func(ctx Context) float64 {
				// Penalty deepens with distance below the floor, capped so
				// a veto can never zero the score outright
				deficit := cfg.MacroRiskFloor - ctx.RiskMultiplier
				factor := 1.0 - deficit
				if factor < 0.5 {
					factor = 0.5
				}
				return factor
			},
			Rationale: func(ctx Context) string {
				return fmt.Sprintf("macro risk multiplier %.2f below %.2f", ctx.RiskMultiplier, cfg.MacroRiskFloor)
			},
		},
		{
			Name: "peak_rejection",
			Applies: func(ctx Context, total float64) bool {
				if !nearBuy(total) || ctx.High24h <= ctx.Low24h {
					return false
				}
				threshold := ctx.Low24h + (1-cfg.PeakRangeFraction)*(ctx.High24h-ctx.Low24h)
				return ctx.Price >= threshold
			},
			FactorFor: func(ctx Context) float64 { return cfg.PeakRejectionPenalty },
			Rationale: func(ctx Context) string {
				return fmt.Sprintf("price %.4f within top %.0f%% of 24h range", ctx.Price, cfg.PeakRangeFraction*100)
			},
		},
	}
}

// inLowLiquidityWindow reports whether ts falls in the weekend overnight
// window (Sat/Sun, 00:00-07:00 UTC), the thinnest liquidity of the week
func inLowLiquidityWindow(ts time.Time) bool {
	utc := ts.UTC()
	day := utc.Weekday()
	if day != time.Saturday && day != time.Sunday {
		return false
	}
	return utc.Hour() < 7
}
