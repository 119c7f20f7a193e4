package backtest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantgate/quantgate/internal/domain"
)

// ErrRunActive is returned when a run is requested while another run is
// still in flight. Runs are rejected, never queued silently.
var ErrRunActive = errors.New("backtest: a run is already active")

// ErrNoUsableSymbols is returned when every symbol in the batch failed
var ErrNoUsableSymbols = errors.New("backtest: no usable symbols")

// CandleFetcher supplies history for one symbol. The simulator never
// performs network I/O itself.
type CandleFetcher func(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error)

// DecisionFunc computes a decision from the visible history. Causality
// is enforced by the caller: at step i only candles[0..i] are passed in.
type DecisionFunc func(ctx context.Context, symbol string, visible []domain.Candle) (domain.DecisionResult, error)

// ProgressFunc reports batch progress after each symbol completes
type ProgressFunc func(done, total int, symbol string)

// Config holds the simulation parameters
type Config struct {
	Timeframe      string  `yaml:"timeframe"`       // Default: 1h
	CandleLimit    int     `yaml:"candle_limit"`    // Default: 1000
	MinHistory     int     `yaml:"min_history"`     // Default: 60 bars before first decision
	Stride         int     `yaml:"stride"`          // Default: 5 bars between decisions
	Horizon        int     `yaml:"horizon"`         // Default: 24 bars forward
	StopLossPct    float64 `yaml:"stop_loss_pct"`   // Default: 5
	TakeProfitPct  float64 `yaml:"take_profit_pct"` // Default: 10
	InitialEquity  float64 `yaml:"initial_equity"`  // Default: 10000
	Annualization  float64 `yaml:"annualization"`   // Default: 8760 (1h bars per year)
}

// DefaultConfig returns default simulation parameters
func DefaultConfig() Config {
	return Config{
		Timeframe:     "1h",
		CandleLimit:   1000,
		MinHistory:    60,
		Stride:        5,
		Horizon:       24,
		StopLossPct:   5,
		TakeProfitPct: 10,
		InitialEquity: 10000,
		Annualization: 8760,
	}
}

// Simulator replays candle history through a decision function and
// synthesizes trade outcomes. Only one run may be active at a time.
type Simulator struct {
	config  Config
	running atomic.Bool
}

// NewSimulator creates a simulator with the given parameters
func NewSimulator(config Config) *Simulator {
	if config.Stride <= 0 {
		config.Stride = 1
	}
	if config.Horizon <= 0 {
		config.Horizon = DefaultConfig().Horizon
	}
	if config.MinHistory <= 0 {
		config.MinHistory = DefaultConfig().MinHistory
	}
	if config.InitialEquity <= 0 {
		config.InitialEquity = DefaultConfig().InitialEquity
	}
	return &Simulator{config: config}
}

// Running reports whether a run is currently in flight
func (s *Simulator) Running() bool {
	return s.running.Load()
}

// reserve claims the single run slot. The caller that wins the claim
// must hand it to runReserved, which releases it when the run ends.
func (s *Simulator) reserve() bool {
	return s.running.CompareAndSwap(false, true)
}

// Run replays every symbol and aggregates the synthetic outcomes.
// A symbol whose data or decisions fail is skipped and counted; the
// batch continues. The run yields between symbols and stops promptly
// on context cancellation.
func (s *Simulator) Run(ctx context.Context, symbols []string, fetch CandleFetcher, decide DecisionFunc, progress ProgressFunc) (*Result, error) {
	if !s.reserve() {
		return nil, ErrRunActive
	}
	return s.runReserved(ctx, symbols, fetch, decide, progress)
}

// runReserved executes a run whose slot was already claimed via reserve
func (s *Simulator) runReserved(ctx context.Context, symbols []string, fetch CandleFetcher, decide DecisionFunc, progress ProgressFunc) (*Result, error) {
	defer s.running.Store(false)

	agg := newAggregation(s.config)
	started := time.Now()

	log.Info().Int("symbols", len(symbols)).Str("timeframe", s.config.Timeframe).
		Int("stride", s.config.Stride).Int("horizon", s.config.Horizon).
		Msg("backtest run started")

	for i, symbol := range symbols {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		trades, err := s.simulateSymbol(ctx, symbol, fetch, decide)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			agg.recordSkip(symbol, err)
			log.Warn().Str("symbol", symbol).Err(err).Msg("symbol skipped in backtest")
		} else {
			agg.recordSymbol(symbol, trades)
		}

		if progress != nil {
			progress(i+1, len(symbols), symbol)
		}

		// Yield so a long batch never starves the host process
		runtime.Gosched()
	}

	result, err := agg.finalize(started)
	if err != nil {
		return nil, err
	}

	log.Info().Int("trades", result.TotalTrades).Float64("success_rate", result.SuccessRate).
		Float64("avg_pnl", result.AvgProfitPerTrade).Int("skipped", result.SymbolsSkipped).
		Dur("elapsed", result.Duration).Msg("backtest run finished")

	return result, nil
}

// simulateSymbol replays one symbol's history. At step i the decision
// function sees candles[0..i] only; outcome evaluation uses the fixed
// forward window candles[i+1..i+horizon].
func (s *Simulator) simulateSymbol(ctx context.Context, symbol string, fetch CandleFetcher, decide DecisionFunc) ([]domain.Trade, error) {
	candles, err := fetch(ctx, symbol, s.config.Timeframe, s.config.CandleLimit)
	if err != nil {
		return nil, fmt.Errorf("candle fetch failed: %w", err)
	}
	if len(candles) < s.config.MinHistory+s.config.Horizon+1 {
		return nil, fmt.Errorf("insufficient history: %d candles", len(candles))
	}

	var trades []domain.Trade
	lastExit := -1

	for i := s.config.MinHistory; i < len(candles)-s.config.Horizon; i += s.config.Stride {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// One open synthetic position per symbol at a time
		if i <= lastExit {
			continue
		}

		visible := candles[:i+1]
		decisionResult, err := decide(ctx, symbol, visible)
		if err != nil {
			return nil, fmt.Errorf("decision at bar %d failed: %w", i, err)
		}
		if decisionResult.FinalDecision != domain.DecisionBuy {
			continue
		}

		entry := candles[i].Close
		trade := domain.Trade{
			ID:         uuid.NewString(),
			Symbol:     symbol,
			EntryPrice: entry,
			Quantity:   1,
			IsOpen:     true,
			StopLoss:   entry * (1 - s.config.StopLossPct/100),
			TakeProfit: entry * (1 + s.config.TakeProfitPct/100),
			OpenedAt:   candles[i].Timestamp,
			DecisionContext: domain.DecisionContext{
				TotalScore: decisionResult.TotalScore,
				Regime:     decisionResult.Regime,
				Traces:     decisionResult.Traces,
			},
		}

		exitIdx := s.resolveExit(&trade, candles, i)
		trades = append(trades, trade)
		lastExit = exitIdx
	}

	return trades, nil
}

// resolveExit walks the forward horizon bar by bar and closes the trade
// at the first stop/target breach by a candle close, or at the horizon
// boundary. A bar breaching both resolves to the stop-loss.
func (s *Simulator) resolveExit(trade *domain.Trade, candles []domain.Candle, entryIdx int) int {
	horizonEnd := entryIdx + s.config.Horizon
	for j := entryIdx + 1; j <= horizonEnd; j++ {
		c := candles[j]
		if c.Close <= trade.StopLoss {
			trade.Close(trade.StopLoss, c.Timestamp)
			return j
		}
		if c.Close >= trade.TakeProfit {
			trade.Close(trade.TakeProfit, c.Timestamp)
			return j
		}
	}
	trade.Close(candles[horizonEnd].Close, candles[horizonEnd].Timestamp)
	return horizonEnd
}
