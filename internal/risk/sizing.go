package risk

import (
	"math"

	"github.com/quantgate/quantgate/internal/domain"
)

// PositionSize is a computed position sizing result
type PositionSize struct {
	Units        float64 `json:"units"`
	DollarAmount float64 `json:"dollar_amount"`
}

// KellyResult is a Kelly-criterion sizing result
type KellyResult struct {
	Units        float64 `json:"units"`
	DollarAmount float64 `json:"dollar_amount"`
	KellyPercent float64 `json:"kelly_percent"` // safety-scaled, 0-100
}

// Size computes fixed-fractional position size: risk a fixed percent of
// capital against the distance to the stop. A stop equal to the entry
// yields a zero-size result rather than dividing by zero.
func Size(capital, riskPercent, entryPrice, stopLoss float64) PositionSize {
	riskDistance := math.Abs(entryPrice - stopLoss)
	if riskDistance == 0 || capital <= 0 || riskPercent <= 0 || entryPrice <= 0 {
		return PositionSize{}
	}

	riskDollars := capital * riskPercent / 100
	units := riskDollars / riskDistance
	return PositionSize{
		Units:        units,
		DollarAmount: units * entryPrice,
	}
}

// KellySize computes a fractional-Kelly position size. The raw Kelly
// fraction is floored at zero (an unfavorable edge sizes to nothing)
// and scaled by a safety fraction, quarter Kelly by default.
func KellySize(capital, winRatePct, avgWin, avgLoss, fraction float64) KellyResult {
	if capital <= 0 || avgWin <= 0 || avgLoss == 0 {
		return KellyResult{}
	}
	if fraction <= 0 {
		fraction = 0.25
	}

	winProb := domain.Clamp(winRatePct/100, 0, 1)
	payoff := avgWin / math.Abs(avgLoss)
	kelly := winProb - (1-winProb)/payoff
	if kelly < 0 {
		kelly = 0
	}

	scaled := kelly * fraction
	dollars := capital * scaled
	return KellyResult{
		Units:        dollars, // denominated in quote currency until an entry price applies
		DollarAmount: dollars,
		KellyPercent: scaled * 100,
	}
}

// KellySizeAt converts a Kelly allocation into units at an entry price
func KellySizeAt(capital, winRatePct, avgWin, avgLoss, fraction, entryPrice float64) KellyResult {
	result := KellySize(capital, winRatePct, avgWin, avgLoss, fraction)
	if entryPrice > 0 {
		result.Units = result.DollarAmount / entryPrice
	}
	return result
}
