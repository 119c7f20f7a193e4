package domain

import (
	"math"
	"time"
)

// Candle represents a single OHLCV bar
type Candle struct {
	Timestamp time.Time `json:"ts"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Decision is the final verdict for a symbol
type Decision int

const (
	DecisionWait Decision = iota
	DecisionHold
	DecisionBuy
	DecisionSell
)

func (d Decision) String() string {
	switch d {
	case DecisionBuy:
		return "BUY"
	case DecisionSell:
		return "SELL"
	case DecisionHold:
		return "HOLD"
	default:
		return "WAIT"
	}
}

// SignalScore is one provider's opinion about a symbol
type SignalScore struct {
	ModuleID string  `json:"module_id"`
	Score    float64 `json:"score"`  // 0-100
	Weight   float64 `json:"weight"` // resolved at aggregation time
	Reason   string  `json:"reason"`
}

// DecisionTrace is an immutable audit record of one contributing opinion
// or rule firing during aggregation
type DecisionTrace struct {
	ModuleID       string    `json:"module_id"`
	Recommendation string    `json:"recommendation"`
	Reason         string    `json:"reason"`
	Weight         float64   `json:"weight"`
	Score          float64   `json:"score"`
	Timestamp      time.Time `json:"timestamp"`
}

// RiskLevels is the sizing/exit plan attached to a decision
type RiskLevels struct {
	StopLoss        float64 `json:"stop_loss"`
	TakeProfit      float64 `json:"take_profit"`
	PositionSize    float64 `json:"position_size"`
	RiskRewardRatio float64 `json:"risk_reward_ratio"`
}

// DecisionResult is one symbol's final verdict with full attribution
type DecisionResult struct {
	Symbol        string             `json:"symbol"`
	ModuleScores  map[string]float64 `json:"module_scores"`
	TotalScore    float64            `json:"total_score"` // 0-100
	FinalDecision Decision           `json:"final_decision"`
	Confidence    float64            `json:"confidence"` // 0-100
	Regime        string             `json:"regime"`
	Traces        []DecisionTrace    `json:"traces"`
	RiskLevels    *RiskLevels        `json:"risk_levels,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}

// DecisionContext carries the originating decision data on a trade so
// closed-trade outcomes can be attributed back to modules and indicators
type DecisionContext struct {
	TotalScore float64         `json:"total_score"`
	Regime     string          `json:"regime"`
	Traces     []DecisionTrace `json:"traces"`
}

// Trade is a position, real or simulated. A trade transitions open to
// closed exactly once; Close is a no-op on an already closed trade.
type Trade struct {
	ID              string          `json:"id"`
	Symbol          string          `json:"symbol"`
	EntryPrice      float64         `json:"entry_price"`
	ExitPrice       float64         `json:"exit_price,omitempty"`
	Quantity        float64         `json:"quantity"`
	IsOpen          bool            `json:"is_open"`
	StopLoss        float64         `json:"stop_loss"`
	TakeProfit      float64         `json:"take_profit"`
	OpenedAt        time.Time       `json:"opened_at"`
	ClosedAt        time.Time       `json:"closed_at,omitempty"`
	DecisionContext DecisionContext `json:"decision_context"`
}

// Close marks the trade closed at the given exit price. Returns false if
// the trade was already closed (no reopening, no double close).
func (t *Trade) Close(exitPrice float64, at time.Time) bool {
	if !t.IsOpen {
		return false
	}
	t.IsOpen = false
	t.ExitPrice = exitPrice
	t.ClosedAt = at
	return true
}

// PnLPercent returns the realized profit of a closed trade as a percent
// of the entry price. Open trades report 0.
func (t *Trade) PnLPercent() float64 {
	if t.IsOpen || t.EntryPrice == 0 {
		return 0
	}
	return (t.ExitPrice - t.EntryPrice) / t.EntryPrice * 100
}

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// ClampScore bounds a score or confidence to the canonical 0-100 range
func ClampScore(v float64) float64 {
	return Clamp(v, 0, 100)
}
