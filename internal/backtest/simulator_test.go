package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantgate/quantgate/internal/domain"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinHistory = 10
	cfg.Stride = 1
	cfg.Horizon = 5
	return cfg
}

func seriesCandles(n int, priceAt func(i int) float64) []domain.Candle {
	candles := make([]domain.Candle, n)
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		p := priceAt(i)
		candles[i] = domain.Candle{
			Timestamp: ts.Add(time.Duration(i) * time.Hour),
			Open:      p, High: p * 1.01, Low: p * 0.99, Close: p,
			Volume: 1000,
		}
	}
	return candles
}

func staticFetcher(candles []domain.Candle) CandleFetcher {
	return func(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
		return candles, nil
	}
}

func alwaysBuy(moduleID string) DecisionFunc {
	return func(ctx context.Context, symbol string, visible []domain.Candle) (domain.DecisionResult, error) {
		return domain.DecisionResult{
			Symbol:        symbol,
			FinalDecision: domain.DecisionBuy,
			TotalScore:    80,
			Traces:        []domain.DecisionTrace{{ModuleID: moduleID, Score: 80}},
		}, nil
	}
}

func TestCausalityOnlyPastCandlesVisible(t *testing.T) {
	// Close price equals the bar index, so the maximum close visible at
	// step i must be exactly i
	candles := seriesCandles(40, func(i int) float64 { return float64(i + 1) })

	var mu sync.Mutex
	violations := 0
	calls := 0

	decide := func(ctx context.Context, symbol string, visible []domain.Candle) (domain.DecisionResult, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		expected := float64(len(visible)) // index+1 of the last visible bar
		for _, c := range visible {
			if c.Close > expected {
				violations++
			}
		}
		return domain.DecisionResult{FinalDecision: domain.DecisionWait}, nil
	}

	sim := NewSimulator(testConfig())
	_, err := sim.Run(context.Background(), []string{"MARKER"}, staticFetcher(candles), decide, nil)
	require.NoError(t, err)
	assert.Positive(t, calls)
	assert.Zero(t, violations, "a decision saw a future candle")
}

func TestDecreasingSeriesLosesEverything(t *testing.T) {
	// Strictly decreasing prices with a permanently bullish strategy:
	// every synthetic trade stops out
	candles := seriesCandles(60, func(i int) float64 { return 1000 - float64(i)*15 })

	sim := NewSimulator(testConfig())
	result, err := sim.Run(context.Background(), []string{"DOWN"}, staticFetcher(candles), alwaysBuy("technical"), nil)
	require.NoError(t, err)

	require.Positive(t, result.TotalTrades)
	assert.Zero(t, result.WinningTrades)
	assert.Zero(t, result.SuccessRate)
	assert.Negative(t, result.TotalPnLPercent)
	assert.Less(t, result.FinalEquity, sim.config.InitialEquity)

	// Module correctness mirrors the losses
	outcome := result.ModulePerformance["technical"]
	assert.Equal(t, result.TotalTrades, outcome.Total)
	assert.Zero(t, outcome.Successes)
}

func TestRisingSeriesWinsEverything(t *testing.T) {
	candles := seriesCandles(100, func(i int) float64 { return 100 + float64(i)*12 })

	sim := NewSimulator(testConfig())
	result, err := sim.Run(context.Background(), []string{"UP"}, staticFetcher(candles), alwaysBuy("momentum"), nil)
	require.NoError(t, err)

	require.Positive(t, result.TotalTrades)
	assert.Equal(t, result.TotalTrades, result.WinningTrades)
	assert.InDelta(t, 1.0, result.SuccessRate, 1e-9)
	assert.Greater(t, result.FinalEquity, sim.config.InitialEquity)
}

func TestOneOpenPositionPerSymbol(t *testing.T) {
	candles := seriesCandles(50, func(i int) float64 { return 100 })

	var openBars []int
	decide := func(ctx context.Context, symbol string, visible []domain.Candle) (domain.DecisionResult, error) {
		openBars = append(openBars, len(visible)-1)
		return domain.DecisionResult{FinalDecision: domain.DecisionBuy}, nil
	}

	cfg := testConfig()
	sim := NewSimulator(cfg)
	result, err := sim.Run(context.Background(), []string{"FLAT"}, staticFetcher(candles), decide, nil)
	require.NoError(t, err)

	// Flat prices never breach stop or target, so every trade runs its
	// full horizon and entries must be at least horizon bars apart
	require.Greater(t, result.TotalTrades, 1)
	// Decision calls between entry and exit are skipped entirely
	for i := 1; i < len(openBars); i++ {
		assert.Greater(t, openBars[i]-openBars[i-1], cfg.Horizon)
	}
}

func TestTieResolvesToStop(t *testing.T) {
	// A single crash bar far through the stop must exit at the stop
	// price, never at the (worse) close
	candles := seriesCandles(21, func(i int) float64 {
		if i >= 15 {
			return 50
		}
		return 100
	})

	cfg := testConfig()
	sim := NewSimulator(cfg)
	result, err := sim.Run(context.Background(), []string{"CRASH"}, staticFetcher(candles), alwaysBuy("technical"), nil)
	require.NoError(t, err)

	require.Equal(t, 1, result.TotalTrades)
	// Exit happened at the stop-loss price, never at the crash close
	assert.InDelta(t, -cfg.StopLossPct, result.AvgLoss, 1e-9)
}

func TestSecondRunRejected(t *testing.T) {
	candles := seriesCandles(60, func(i int) float64 { return 100 })
	sim := NewSimulator(testConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	decide := func(ctx context.Context, symbol string, visible []domain.Candle) (domain.DecisionResult, error) {
		select {
		case started <- struct{}{}:
			<-release
		default:
		}
		return domain.DecisionResult{FinalDecision: domain.DecisionWait}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := sim.Run(context.Background(), []string{"SLOW"}, staticFetcher(candles), decide, nil)
		done <- err
	}()

	<-started
	_, err := sim.Run(context.Background(), []string{"SLOW"}, staticFetcher(candles), decide, nil)
	assert.ErrorIs(t, err, ErrRunActive)

	close(release)
	require.NoError(t, <-done)

	// After completion a new run is accepted again
	_, err = sim.Run(context.Background(), []string{"SLOW"}, staticFetcher(candles), decide, nil)
	assert.NoError(t, err)
}

func TestCancellationStopsRun(t *testing.T) {
	candles := seriesCandles(60, func(i int) float64 { return 100 })
	sim := NewSimulator(testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.Run(ctx, []string{"A", "B"}, staticFetcher(candles), alwaysBuy("x"), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, sim.Running())
}

func TestSymbolFailureIsolated(t *testing.T) {
	good := seriesCandles(100, func(i int) float64 { return 100 + float64(i) })
	fetch := func(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
		if symbol == "BROKEN" {
			return nil, errors.New("feed unavailable")
		}
		return good, nil
	}

	sim := NewSimulator(testConfig())
	result, err := sim.Run(context.Background(), []string{"BROKEN", "GOOD"}, fetch, alwaysBuy("technical"), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.SymbolsTested)
	assert.Equal(t, 1, result.SymbolsSkipped)
	assert.Equal(t, []string{"BROKEN"}, result.SkippedSymbols)
	assert.Positive(t, result.TotalTrades)
}

func TestAllSymbolsFailedErrors(t *testing.T) {
	fetch := func(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
		return nil, errors.New("feed unavailable")
	}

	sim := NewSimulator(testConfig())
	_, err := sim.Run(context.Background(), []string{"A", "B"}, fetch, alwaysBuy("x"), nil)
	assert.ErrorIs(t, err, ErrNoUsableSymbols)
}

func TestProgressCallback(t *testing.T) {
	candles := seriesCandles(60, func(i int) float64 { return 100 })
	sim := NewSimulator(testConfig())

	var reported []string
	progress := func(done, total int, symbol string) {
		reported = append(reported, fmt.Sprintf("%d/%d:%s", done, total, symbol))
	}

	_, err := sim.Run(context.Background(), []string{"A", "B"}, staticFetcher(candles), alwaysBuy("x"), progress)
	require.NoError(t, err)
	assert.Equal(t, []string{"1/2:A", "2/2:B"}, reported)
}

func TestSharpeRatio(t *testing.T) {
	assert.Zero(t, sharpeRatio(nil, 8760))
	assert.Zero(t, sharpeRatio([]float64{0.01}, 8760))
	assert.Zero(t, sharpeRatio([]float64{0.01, 0.01, 0.01}, 8760)) // flat series

	positive := sharpeRatio([]float64{0.02, 0.01, 0.03, 0.02}, 8760)
	assert.Positive(t, positive)

	negative := sharpeRatio([]float64{-0.02, -0.01, -0.03, -0.02}, 8760)
	assert.Negative(t, negative)
}
