package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantgate/quantgate/internal/domain"
)

func TestTriggerManualRunsOnceAndReportsStatus(t *testing.T) {
	candles := seriesCandles(60, func(i int) float64 { return 100 + float64(i)*12 })
	sim := NewSimulator(testConfig())

	results := make(chan *Result, 1)
	sink := func(result *Result, err error) {
		require.NoError(t, err)
		results <- result
	}

	cfg := DefaultControllerConfig()
	cfg.Symbols = []string{"UP"}
	controller := NewController(cfg, sim, staticFetcher(candles), alwaysBuy("technical"), sink)

	started := false
	controller.OnRunStart(func() { started = true })

	require.NoError(t, controller.TriggerManual())

	select {
	case result := <-results:
		assert.Positive(t, result.TotalTrades)
	case <-time.After(5 * time.Second):
		t.Fatal("backtest run did not complete")
	}

	assert.True(t, started)

	status := controller.GetStatus()
	assert.False(t, status.IsRunning) // scheduler never started
	assert.False(t, status.IsBacktesting)
	assert.InDelta(t, 100.0, status.ProgressPercent, 1e-9)
	assert.False(t, status.LastRun.IsZero())
	assert.Empty(t, status.LastError)
}

func TestTriggerManualRejectsConcurrentRun(t *testing.T) {
	candles := seriesCandles(60, func(i int) float64 { return 100 })
	sim := NewSimulator(testConfig())

	release := make(chan struct{})
	blocked := make(chan struct{})
	decide := func(ctx context.Context, symbol string, visible []domain.Candle) (domain.DecisionResult, error) {
		select {
		case blocked <- struct{}{}:
			<-release
		default:
		}
		return domain.DecisionResult{FinalDecision: domain.DecisionWait}, nil
	}

	done := make(chan struct{})
	controller := NewController(DefaultControllerConfig(), sim, staticFetcher(candles), decide,
		func(result *Result, err error) { close(done) })
	controller.config.Symbols = []string{"SLOW"}

	require.NoError(t, controller.TriggerManual())
	<-blocked

	assert.ErrorIs(t, controller.TriggerManual(), ErrRunActive)
	assert.True(t, controller.GetStatus().IsBacktesting)

	close(release)
	<-done
}

func TestTriggerManualClaimsSlotBeforeReturning(t *testing.T) {
	candles := seriesCandles(60, func(i int) float64 { return 100 })
	sim := NewSimulator(testConfig())

	// The fetcher blocks so the winning run cannot finish (or even reach
	// the simulator loop) before the losing call is made
	release := make(chan struct{})
	fetch := func(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
		<-release
		return candles, nil
	}

	sinks := make(chan error, 2)
	cfg := DefaultControllerConfig()
	cfg.Symbols = []string{"SLOW"}
	controller := NewController(cfg, sim, fetch, alwaysBuy("technical"),
		func(result *Result, err error) { sinks <- err })

	// Back to back, no synchronization in between: the second call must
	// lose synchronously rather than spawn a doomed run
	require.NoError(t, controller.TriggerManual())
	assert.ErrorIs(t, controller.TriggerManual(), ErrRunActive)
	assert.True(t, controller.GetStatus().IsBacktesting)

	close(release)

	select {
	case err := <-sinks:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run never completed")
	}

	// Exactly one run happened, and the loser never touched the status
	status := controller.GetStatus()
	assert.False(t, status.IsBacktesting)
	assert.Empty(t, status.LastError)
	select {
	case err := <-sinks:
		t.Fatalf("unexpected second sink invocation: %v", err)
	default:
	}
}

func TestSinkReceivesRunFailure(t *testing.T) {
	sim := NewSimulator(testConfig())
	fetch := func(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
		return nil, assert.AnError
	}

	errs := make(chan error, 1)
	cfg := DefaultControllerConfig()
	cfg.Symbols = []string{"A"}
	controller := NewController(cfg, sim, fetch, alwaysBuy("x"), func(result *Result, err error) {
		errs <- err
	})

	require.NoError(t, controller.TriggerManual())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrNoUsableSymbols)
	case <-time.After(5 * time.Second):
		t.Fatal("sink never invoked")
	}

	assert.NotEmpty(t, controller.GetStatus().LastError)
}

func TestStartStopScheduler(t *testing.T) {
	sim := NewSimulator(testConfig())
	cfg := DefaultControllerConfig()
	cfg.Interval = time.Hour // never fires during the test

	controller := NewController(cfg, sim, staticFetcher(nil), alwaysBuy("x"), nil)

	controller.Start()
	assert.True(t, controller.GetStatus().IsRunning)
	controller.Start() // idempotent

	controller.Stop()
	assert.False(t, controller.GetStatus().IsRunning)
	controller.Stop() // idempotent
}
