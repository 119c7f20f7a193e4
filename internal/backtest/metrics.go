package backtest

import (
	"math"
	"time"

	"github.com/quantgate/quantgate/internal/domain"
	"github.com/quantgate/quantgate/internal/learning"
)

// Result is the immutable output of one simulation run
type Result struct {
	SymbolsTested  int      `json:"symbols_tested"`
	SymbolsSkipped int      `json:"symbols_skipped"`
	SkippedSymbols []string `json:"skipped_symbols,omitempty"`

	TotalTrades       int     `json:"total_trades"`
	WinningTrades     int     `json:"winning_trades"`
	SuccessRate       float64 `json:"success_rate"` // 0-1
	AvgProfitPerTrade float64 `json:"avg_profit_per_trade"`
	AvgWin            float64 `json:"avg_win"`
	AvgLoss           float64 `json:"avg_loss"`
	TotalPnLPercent   float64 `json:"total_pnl_percent"`
	MaxDrawdownPct    float64 `json:"max_drawdown_pct"`
	SharpeRatio       float64 `json:"sharpe_ratio"`
	FinalEquity       float64 `json:"final_equity"`

	// Correctness counts keyed so the learner can ingest them directly
	ModulePerformance    map[string]learning.Outcome `json:"module_performance"`
	IndicatorPerformance map[string]learning.Outcome `json:"indicator_performance"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// aggregation accumulates per-symbol outcomes during a run
type aggregation struct {
	config  Config
	skipped []string
	tested  int

	trades  int
	wins    int
	pnlSum  float64
	winSum  float64
	lossSum float64
	losses  int

	equity      float64
	peak        float64
	maxDrawdown float64
	returns     []float64

	modules    map[string]*outcomeCount
	indicators map[string]*outcomeCount
}

type outcomeCount struct {
	total     int
	successes int
	pnlSum    float64
}

func newAggregation(config Config) *aggregation {
	return &aggregation{
		config:     config,
		equity:     config.InitialEquity,
		peak:       config.InitialEquity,
		modules:    make(map[string]*outcomeCount),
		indicators: make(map[string]*outcomeCount),
	}
}

func (a *aggregation) recordSkip(symbol string, err error) {
	a.skipped = append(a.skipped, symbol)
}

// recordSymbol folds one symbol's synthetic trades into the totals and
// walks the equity curve for drawdown tracking
func (a *aggregation) recordSymbol(symbol string, trades []domain.Trade) {
	a.tested++
	for _, trade := range trades {
		pnl := trade.PnLPercent()
		success := pnl > 0

		a.trades++
		a.pnlSum += pnl
		if success {
			a.wins++
			a.winSum += pnl
		} else {
			a.losses++
			a.lossSum += pnl
		}

		a.equity *= 1 + pnl/100
		if a.equity > a.peak {
			a.peak = a.equity
		} else if a.peak > 0 {
			dd := (a.peak - a.equity) / a.peak * 100
			if dd > a.maxDrawdown {
				a.maxDrawdown = dd
			}
		}
		a.returns = append(a.returns, pnl/100)

		a.attribute(trade, success, pnl)
	}
}

// attribute counts per-module and per-indicator correctness from the
// trade's originating traces, one module observation per trade
func (a *aggregation) attribute(trade domain.Trade, success bool, pnl float64) {
	seenModules := make(map[string]bool)
	for _, trace := range trade.DecisionContext.Traces {
		if trace.ModuleID == "" {
			continue
		}

		indicator := a.indicators[trace.ModuleID]
		if indicator == nil {
			indicator = &outcomeCount{}
			a.indicators[trace.ModuleID] = indicator
		}
		indicator.record(success, pnl)

		moduleID := learning.NormalizeModuleID(trace.ModuleID)
		if seenModules[moduleID] {
			continue
		}
		seenModules[moduleID] = true

		module := a.modules[moduleID]
		if module == nil {
			module = &outcomeCount{}
			a.modules[moduleID] = module
		}
		module.record(success, pnl)
	}
}

func (c *outcomeCount) record(success bool, pnl float64) {
	c.total++
	if success {
		c.successes++
	}
	c.pnlSum += pnl
}

func (c *outcomeCount) toOutcome() learning.Outcome {
	out := learning.Outcome{Total: c.total, Successes: c.successes}
	if c.total > 0 {
		out.AvgPnL = c.pnlSum / float64(c.total)
	}
	return out
}

// finalize seals the aggregation into an immutable Result
func (a *aggregation) finalize(started time.Time) (*Result, error) {
	if a.tested == 0 && len(a.skipped) > 0 {
		return nil, ErrNoUsableSymbols
	}

	result := &Result{
		SymbolsTested:        a.tested,
		SymbolsSkipped:       len(a.skipped),
		SkippedSymbols:       a.skipped,
		TotalTrades:          a.trades,
		WinningTrades:        a.wins,
		TotalPnLPercent:      a.pnlSum,
		MaxDrawdownPct:       a.maxDrawdown,
		FinalEquity:          a.equity,
		ModulePerformance:    make(map[string]learning.Outcome, len(a.modules)),
		IndicatorPerformance: make(map[string]learning.Outcome, len(a.indicators)),
		StartedAt:            started,
		Duration:             time.Since(started),
	}

	if a.trades > 0 {
		result.SuccessRate = domain.Clamp(float64(a.wins)/float64(a.trades), 0, 1)
		result.AvgProfitPerTrade = a.pnlSum / float64(a.trades)
	}
	if a.wins > 0 {
		result.AvgWin = a.winSum / float64(a.wins)
	}
	if a.losses > 0 {
		result.AvgLoss = a.lossSum / float64(a.losses)
	}
	result.SharpeRatio = sharpeRatio(a.returns, a.config.Annualization)

	for id, count := range a.modules {
		result.ModulePerformance[id] = count.toOutcome()
	}
	for name, count := range a.indicators {
		result.IndicatorPerformance[name] = count.toOutcome()
	}

	return result, nil
}

// sharpeRatio computes mean(returns)/stdev(returns) scaled by the
// square root of the annualization factor. Fewer than two returns or a
// flat series yields 0.
func sharpeRatio(returns []float64, annualization float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}

	if annualization <= 0 {
		annualization = 1
	}
	return mean / math.Sqrt(variance) * math.Sqrt(annualization)
}
