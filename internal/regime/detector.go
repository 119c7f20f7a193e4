package regime

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Regime represents the coarse market-state classification used to select
// a base weight table
type Regime int

const (
	Neutral Regime = iota
	Trend
	Chop
	RiskOff
	NewsShock
)

func (r Regime) String() string {
	switch r {
	case Trend:
		return "trend"
	case Chop:
		return "chop"
	case RiskOff:
		return "risk_off"
	case NewsShock:
		return "news_shock"
	default:
		return "neutral"
	}
}

// Inputs provides the aggregate scores the detector classifies on.
// All scores are on the canonical 0-100 scale.
type Inputs struct {
	MacroScore     float64 `json:"macro_score"`     // macro breadth/health
	TechnicalScore float64 `json:"technical_score"` // primary technical strength
	ChopScore      float64 `json:"chop_score"`      // range-bound/chop intensity
	SentimentScore float64 `json:"sentiment_score"` // fear/greed style sentiment
	ShockScore     float64 `json:"shock_score"`     // news/event shock intensity
}

// DetectorConfig holds the classification thresholds
type DetectorConfig struct {
	ShockThreshold    float64 `yaml:"shock_threshold"`      // Default: 80 (>= => news_shock)
	RiskOffMacroFloor float64 `yaml:"risk_off_macro_floor"` // Default: 35 (< => risk_off)
	RiskOffSentiment  float64 `yaml:"risk_off_sentiment"`   // Default: 25 (< => risk_off)
	ChopThreshold     float64 `yaml:"chop_threshold"`       // Default: 60 (>= => chop)
	TrendTechnicalMin float64 `yaml:"trend_technical_min"`  // Default: 65
	TrendChopCeiling  float64 `yaml:"trend_chop_ceiling"`   // Default: 40
}

// DefaultDetectorConfig returns production-ready detector thresholds
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		ShockThreshold:    80.0,
		RiskOffMacroFloor: 35.0,
		RiskOffSentiment:  25.0,
		ChopThreshold:     60.0,
		TrendTechnicalMin: 65.0,
		TrendChopCeiling:  40.0,
	}
}

// DetectionResult contains the regime classification with per-signal
// attribution for audit and display
type DetectionResult struct {
	Regime    Regime             `json:"regime"`
	Signals   map[string]float64 `json:"signals"`
	Votes     map[string]string  `json:"votes"` // signal -> verdict text
	Timestamp time.Time          `json:"timestamp"`
}

// Detector classifies market regime from aggregate scores using simple
// ordered thresholds. Classification precedence: news shock, risk-off,
// chop, trend, neutral.
type Detector struct {
	config     DetectorConfig
	lastResult *DetectionResult
	changes    int
}

// NewDetector creates a detector with the given thresholds
func NewDetector(config DetectorConfig) *Detector {
	return &Detector{config: config}
}

// Detect classifies the regime for the given inputs
func (d *Detector) Detect(in Inputs) DetectionResult {
	result := DetectionResult{
		Signals: map[string]float64{
			"macro":     in.MacroScore,
			"technical": in.TechnicalScore,
			"chop":      in.ChopScore,
			"sentiment": in.SentimentScore,
			"shock":     in.ShockScore,
		},
		Votes:     make(map[string]string),
		Timestamp: time.Now().UTC(),
	}

	switch {
	case in.ShockScore >= d.config.ShockThreshold:
		result.Regime = NewsShock
		result.Votes["shock"] = "news shock active"
	case in.MacroScore < d.config.RiskOffMacroFloor || in.SentimentScore < d.config.RiskOffSentiment:
		result.Regime = RiskOff
		result.Votes["macro"] = "macro/sentiment below risk-off floor"
	case in.ChopScore >= d.config.ChopThreshold:
		result.Regime = Chop
		result.Votes["chop"] = "range-bound market"
	case in.TechnicalScore >= d.config.TrendTechnicalMin && in.ChopScore < d.config.TrendChopCeiling:
		result.Regime = Trend
		result.Votes["technical"] = "sustained directional strength"
	default:
		result.Regime = Neutral
		result.Votes["default"] = "no regime threshold met"
	}

	if d.lastResult != nil && d.lastResult.Regime != result.Regime {
		d.changes++
		log.Info().
			Str("from", d.lastResult.Regime.String()).
			Str("to", result.Regime.String()).
			Int("changes", d.changes).
			Msg("regime switch")
	}
	d.lastResult = &result

	return result
}

// Last returns the most recent detection result, or nil before the first call
func (d *Detector) Last() *DetectionResult {
	return d.lastResult
}
