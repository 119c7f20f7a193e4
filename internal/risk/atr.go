package risk

import (
	"math"

	"github.com/quantgate/quantgate/internal/domain"
)

// DefaultATRPeriod is the trailing window for true-range averaging
const DefaultATRPeriod = 14

// ATR computes the Average True Range over the trailing period bars.
// Returns 0 when fewer than period+1 candles are available; callers
// must treat 0 as "no levels computable", never as a valid range.
func ATR(candles []domain.Candle, period int) float64 {
	if period <= 0 {
		period = DefaultATRPeriod
	}
	if len(candles) < period+1 {
		return 0
	}

	// True range needs the previous close, so the window starts one bar in
	start := len(candles) - period
	sum := 0.0
	for i := start; i < len(candles); i++ {
		sum += trueRange(candles[i], candles[i-1].Close)
	}
	return sum / float64(period)
}

// trueRange is max(high-low, |high-prevClose|, |low-prevClose|)
func trueRange(c domain.Candle, prevClose float64) float64 {
	hl := c.High - c.Low
	hc := math.Abs(c.High - prevClose)
	lc := math.Abs(c.Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

// Levels derives the stop/target plan for a decision from the entry
// price and volatility. Returns nil when atr is the insufficient-data
// sentinel (0) or the entry is non-positive.
func Levels(direction domain.Decision, entryPrice, atr, stopMult, targetMult float64) *domain.RiskLevels {
	if atr <= 0 || entryPrice <= 0 || stopMult <= 0 {
		return nil
	}

	levels := &domain.RiskLevels{RiskRewardRatio: targetMult / stopMult}
	switch direction {
	case domain.DecisionSell:
		levels.StopLoss = entryPrice + atr*stopMult
		levels.TakeProfit = entryPrice - atr*targetMult
	default: // BUY
		levels.StopLoss = entryPrice - atr*stopMult
		levels.TakeProfit = entryPrice + atr*targetMult
	}
	return levels
}
