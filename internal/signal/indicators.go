package signal

import (
	"context"
	"fmt"

	"github.com/quantgate/quantgate/internal/domain"
)

// Built-in candle-based providers. External analyzers plug in through
// the same Provider contract; these cover the core price/volume factors
// so the engine is useful out of the box.

// TechnicalProvider scores trend strength from moving-average posture
type TechnicalProvider struct {
	FastPeriod int // Default: 10
	SlowPeriod int // Default: 30
	Timeframe  string
}

// NewTechnicalProvider creates the moving-average trend scorer
func NewTechnicalProvider(timeframe string) *TechnicalProvider {
	return &TechnicalProvider{FastPeriod: 10, SlowPeriod: 30, Timeframe: timeframe}
}

func (p *TechnicalProvider) ModuleID() string { return "technical" }

// Analyze maps the fast/slow SMA spread to a 0-100 score: 50 at parity,
// saturating at a ±5% spread
func (p *TechnicalProvider) Analyze(ctx context.Context, symbol string, candlesByTimeframe map[string][]domain.Candle) (Result, error) {
	candles := candlesByTimeframe[p.Timeframe]
	if len(candles) < p.SlowPeriod {
		return NeutralResult(p.ModuleID(), fmt.Sprintf("need %d bars, have %d", p.SlowPeriod, len(candles))), nil
	}

	fast := sma(candles, p.FastPeriod)
	slow := sma(candles, p.SlowPeriod)
	if slow == 0 {
		return NeutralResult(p.ModuleID(), "degenerate price series"), nil
	}

	spread := (fast - slow) / slow * 100
	score := domain.ClampScore(50 + spread*10)

	return Result{
		Score: domain.SignalScore{
			ModuleID: p.ModuleID(),
			Score:    score,
			Reason:   fmt.Sprintf("sma%d/sma%d spread %.2f%%", p.FastPeriod, p.SlowPeriod, spread),
		},
		Traces: []domain.DecisionTrace{{
			ModuleID:       "sma_cross",
			Recommendation: verdict(score),
			Reason:         fmt.Sprintf("fast %.4f vs slow %.4f", fast, slow),
			Score:          score,
		}},
	}, nil
}

// MomentumProvider scores rate of change over a lookback window
type MomentumProvider struct {
	Lookback  int // Default: 14 bars
	Timeframe string
}

// NewMomentumProvider creates the rate-of-change scorer
func NewMomentumProvider(timeframe string) *MomentumProvider {
	return &MomentumProvider{Lookback: 14, Timeframe: timeframe}
}

func (p *MomentumProvider) ModuleID() string { return "momentum" }

// Analyze maps the lookback return to a 0-100 score, saturating at ±10%
func (p *MomentumProvider) Analyze(ctx context.Context, symbol string, candlesByTimeframe map[string][]domain.Candle) (Result, error) {
	candles := candlesByTimeframe[p.Timeframe]
	if len(candles) < p.Lookback+1 {
		return NeutralResult(p.ModuleID(), fmt.Sprintf("need %d bars, have %d", p.Lookback+1, len(candles))), nil
	}

	last := candles[len(candles)-1].Close
	prior := candles[len(candles)-1-p.Lookback].Close
	if prior == 0 {
		return NeutralResult(p.ModuleID(), "degenerate price series"), nil
	}

	roc := (last - prior) / prior * 100
	score := domain.ClampScore(50 + roc*5)

	return Result{
		Score: domain.SignalScore{
			ModuleID: p.ModuleID(),
			Score:    score,
			Reason:   fmt.Sprintf("%d-bar return %.2f%%", p.Lookback, roc),
		},
		Traces: []domain.DecisionTrace{{
			ModuleID:       "rate_of_change",
			Recommendation: verdict(score),
			Reason:         fmt.Sprintf("close %.4f vs %.4f", last, prior),
			Score:          score,
		}},
	}, nil
}

// VolumeProvider scores participation: recent volume against its average
type VolumeProvider struct {
	Lookback  int // Default: 20 bars of baseline
	Timeframe string
}

// NewVolumeProvider creates the volume-surge scorer
func NewVolumeProvider(timeframe string) *VolumeProvider {
	return &VolumeProvider{Lookback: 20, Timeframe: timeframe}
}

func (p *VolumeProvider) ModuleID() string { return "volume" }

// Analyze compares the last bar's volume against the trailing average.
// A 1x ratio is neutral; 2x or more saturates bullish on an up bar and
// bearish on a down bar.
func (p *VolumeProvider) Analyze(ctx context.Context, symbol string, candlesByTimeframe map[string][]domain.Candle) (Result, error) {
	candles := candlesByTimeframe[p.Timeframe]
	if len(candles) < p.Lookback+1 {
		return NeutralResult(p.ModuleID(), fmt.Sprintf("need %d bars, have %d", p.Lookback+1, len(candles))), nil
	}

	last := candles[len(candles)-1]
	baseline := 0.0
	for _, c := range candles[len(candles)-1-p.Lookback : len(candles)-1] {
		baseline += c.Volume
	}
	baseline /= float64(p.Lookback)
	if baseline == 0 {
		return NeutralResult(p.ModuleID(), "no baseline volume"), nil
	}

	ratio := last.Volume / baseline
	surge := domain.Clamp((ratio-1)*50, 0, 50)
	score := 50.0
	if last.Close >= last.Open {
		score += surge
	} else {
		score -= surge
	}

	return Result{
		Score: domain.SignalScore{
			ModuleID: p.ModuleID(),
			Score:    domain.ClampScore(score),
			Reason:   fmt.Sprintf("volume %.1fx trailing average", ratio),
		},
		Traces: []domain.DecisionTrace{{
			ModuleID:       "volume_surge",
			Recommendation: verdict(score),
			Reason:         fmt.Sprintf("last %.0f vs avg %.0f", last.Volume, baseline),
			Score:          domain.ClampScore(score),
		}},
	}, nil
}

// DefaultProviders returns the built-in provider set for a timeframe
func DefaultProviders(timeframe string) []Provider {
	return []Provider{
		NewTechnicalProvider(timeframe),
		NewMomentumProvider(timeframe),
		NewVolumeProvider(timeframe),
	}
}

func sma(candles []domain.Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}
	sum := 0.0
	for _, c := range candles[len(candles)-period:] {
		sum += c.Close
	}
	return sum / float64(period)
}

func verdict(score float64) string {
	switch {
	case score >= 65:
		return "BUY"
	case score <= 35:
		return "SELL"
	default:
		return "NEUTRAL"
	}
}
