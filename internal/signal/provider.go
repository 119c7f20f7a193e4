package signal

import (
	"context"

	"github.com/quantgate/quantgate/internal/domain"
)

// Result is the outcome of one provider analysis: a bounded score plus
// the traces explaining it
type Result struct {
	Score  domain.SignalScore     `json:"score"`
	Traces []domain.DecisionTrace `json:"traces"`
}

// Provider is the pluggable analyzer contract. Implementations must not
// return an error for recoverable data shortages; they return a neutral
// score (50) with an explanatory trace instead.
type Provider interface {
	// ModuleID returns the stable module identity used in weight tables
	ModuleID() string

	// Analyze scores the symbol from candles keyed by timeframe
	Analyze(ctx context.Context, symbol string, candlesByTimeframe map[string][]domain.Candle) (Result, error)
}

// NeutralResult returns the insufficient-data sentinel for a module: a
// score of 50 with a trace carrying the reason
func NeutralResult(moduleID, reason string) Result {
	return Result{
		Score: domain.SignalScore{ModuleID: moduleID, Score: 50, Reason: reason},
		Traces: []domain.DecisionTrace{{
			ModuleID:       moduleID,
			Recommendation: "NEUTRAL",
			Reason:         reason,
			Score:          50,
		}},
	}
}
