package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/quantgate/quantgate/internal/backtest"
	"github.com/quantgate/quantgate/internal/config"
	"github.com/quantgate/quantgate/internal/decision"
	"github.com/quantgate/quantgate/internal/domain"
	httpiface "github.com/quantgate/quantgate/internal/interfaces/http"
	"github.com/quantgate/quantgate/internal/learning"
	"github.com/quantgate/quantgate/internal/persistence"
	"github.com/quantgate/quantgate/internal/persistence/postgres"
	redisstore "github.com/quantgate/quantgate/internal/persistence/redis"
	"github.com/quantgate/quantgate/internal/regime"
	"github.com/quantgate/quantgate/internal/risk"
	"github.com/quantgate/quantgate/internal/signal"
)

// App is the composition root: it owns every subsystem and wires the
// learner, aggregator, risk gate, backtest loop, and HTTP surface
// together.
type App struct {
	Config     config.Config
	Learner    *learning.Learner
	Aggregator *decision.Aggregator
	Engine     *signal.Engine
	Simulator  *backtest.Simulator
	Controller *backtest.Controller
	Metrics    *httpiface.MetricsRegistry
	Server     *httpiface.Server
	Trades     postgres.TradesRepo

	db          *sqlx.DB
	store       persistence.StateStore
	candleFetch backtest.CandleFetcher

	closedMu sync.Mutex
	closed   map[string]bool // trade IDs already recorded, exactly-once guard
}

// Options carries the external dependencies the app cannot construct
// itself: the candle source and the signal providers.
type Options struct {
	Fetch     backtest.CandleFetcher
	Providers []signal.Provider
}

// New builds the full application from config. The learner state is
// loaded eagerly so weights are warm before the first decision.
func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	store, err := newStateStore(cfg.State)
	if err != nil {
		return nil, err
	}

	learner := learning.NewLearner(cfg.Learning, store)
	if err := learner.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load learner state: %w", err)
	}

	detector := regime.NewDetector(cfg.Regime)
	weights := regime.NewWeightManager()
	riskGate := risk.NewGate(cfg.Risk)
	aggregator := decision.NewAggregator(cfg.Decision, detector, weights, learner, riskGate)
	engine := signal.NewEngine(cfg.Fanout, opts.Providers...)
	simulator := backtest.NewSimulator(cfg.Backtest)
	metrics := httpiface.NewMetricsRegistry()

	app := &App{
		Config:      cfg,
		Learner:     learner,
		Aggregator:  aggregator,
		Engine:      engine,
		Simulator:   simulator,
		Metrics:     metrics,
		store:       store,
		candleFetch: opts.Fetch,
		closed:      make(map[string]bool),
	}

	if cfg.Postgres.DSN != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		app.db = db
		app.Trades = postgres.NewTradesRepo(db, cfg.Postgres.QueryTimeout)
	}

	app.Controller = backtest.NewController(cfg.Scheduler, simulator, opts.Fetch, app.decideForBacktest, app.onBacktestResult)
	app.Controller.OnRunStart(metrics.BacktestStarted)
	app.Server = httpiface.NewServer(httpiface.Config{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, metrics, app.Controller, learner, aggregator)

	return app, nil
}

// newStateStore builds the configured learner state backend
func newStateStore(cfg config.StateConfig) (persistence.StateStore, error) {
	switch cfg.Backend {
	case "", "file":
		return persistence.NewFileStore(cfg.Dir)
	case "redis":
		return redisstore.NewStore(cfg.Redis), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

// Decide fans out to the signal providers and aggregates one verdict.
// Fan-out exclusions simply shrink the weighting pool.
func (a *App) Decide(ctx context.Context, symbol string, candlesByTimeframe map[string][]domain.Candle, dctx decision.Context) (domain.DecisionResult, error) {
	fanout, err := a.Engine.Collect(ctx, symbol, candlesByTimeframe)
	if err != nil {
		return domain.DecisionResult{}, err
	}

	result := a.Aggregator.Decide(symbol, fanout.Scores, dctx)
	result.Traces = append(result.Traces, fanout.Traces...)

	a.Metrics.ObserveDecision(result)
	a.Metrics.SetModuleWeights(a.Learner.GetModuleWeights())
	return result, nil
}

// OnTradeClosed records a closed trade's outcome exactly once: the
// learner updates its statistics and, when configured, the trade is
// archived. A duplicate call for the same trade ID is a no-op.
func (a *App) OnTradeClosed(ctx context.Context, trade domain.Trade) error {
	if trade.IsOpen {
		return fmt.Errorf("trade %s is still open", trade.ID)
	}

	a.closedMu.Lock()
	if a.closed[trade.ID] {
		a.closedMu.Unlock()
		return nil
	}
	a.closed[trade.ID] = true
	a.closedMu.Unlock()

	if err := a.Learner.RecordOutcome(trade, trade.DecisionContext.Traces); err != nil {
		return err
	}
	if err := a.Learner.Save(ctx); err != nil {
		log.Warn().Err(err).Msg("learner state save failed after outcome")
	}

	if a.Trades != nil {
		if err := a.Trades.InsertClosed(ctx, trade); err != nil {
			log.Warn().Err(err).Str("trade", trade.ID).Msg("trade archive failed")
		}
	}
	return nil
}

// RunBacktest runs one synchronous backtest pass over symbols, merges
// the results into the learning state, and returns them
func (a *App) RunBacktest(ctx context.Context, symbols []string) (*backtest.Result, error) {
	a.Metrics.BacktestStarted()
	result, err := a.Simulator.Run(ctx, symbols, a.candleFetch, a.decideForBacktest, nil)
	if errors.Is(err, backtest.ErrRunActive) {
		// The active run owns the metrics lifecycle; leave them alone
		return nil, err
	}
	a.onBacktestResult(result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// decideForBacktest adapts the aggregator for the simulator: the
// visible candle window stands in for all timeframes, and the context
// scores derive from the most recent bars only.
func (a *App) decideForBacktest(ctx context.Context, symbol string, visible []domain.Candle) (domain.DecisionResult, error) {
	candlesByTimeframe := map[string][]domain.Candle{a.Config.Backtest.Timeframe: visible}

	fanout, err := a.Engine.Collect(ctx, symbol, candlesByTimeframe)
	if err != nil {
		return domain.DecisionResult{}, err
	}

	last := visible[len(visible)-1]
	dctx := decision.Context{
		Symbol:    symbol,
		Timestamp: last.Timestamp,
		Price:     last.Close,
		Candles:   visible,
	}
	dctx.High24h, dctx.Low24h = recentRange(visible, 24)
	fillContextScores(&dctx, fanout.Scores)

	return a.Aggregator.Decide(symbol, fanout.Scores, dctx), nil
}

// onBacktestResult feeds a finished run back into the learner and
// persists the updated statistics. Failed runs only clear the
// active-run gauge and never count as completed.
func (a *App) onBacktestResult(result *backtest.Result, err error) {
	if err != nil {
		a.Metrics.BacktestAborted()
		return
	}

	a.Learner.MergeBacktest(result.ModulePerformance, result.IndicatorPerformance)
	a.Metrics.BacktestFinished(result.Duration.Seconds())
	a.Metrics.SetModuleWeights(a.Learner.GetModuleWeights())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Learner.Save(ctx); err != nil {
		log.Warn().Err(err).Msg("learner state save failed after backtest")
	}
	if err := a.store.Save(ctx, "last_backtest", result); err != nil {
		log.Warn().Err(err).Msg("last backtest result save failed")
	}
	if err := a.store.Save(ctx, "module_weights", a.Learner.GetModuleWeights()); err != nil {
		log.Warn().Err(err).Msg("module weights save failed")
	}

	log.Info().Int("trades", result.TotalTrades).
		Float64("success_rate", result.SuccessRate).
		Msg("backtest results merged into learning state")
}

// Close releases held resources
func (a *App) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// fillContextScores copies the aggregate provider scores into the rule
// context so the detector and vetoes see the same inputs the weighting
// used. Missing providers leave neutral values.
func fillContextScores(dctx *decision.Context, scores map[string]domain.SignalScore) {
	dctx.MacroScore = scoreOr(scores, "macro", 50)
	dctx.TechnicalScore = scoreOr(scores, "technical", 50)
	dctx.SentimentScore = scoreOr(scores, "sentiment", 50)
	dctx.RiskMultiplier = 1.0
}

func scoreOr(scores map[string]domain.SignalScore, id string, fallback float64) float64 {
	if s, ok := scores[id]; ok {
		return s.Score
	}
	return fallback
}

// recentRange returns the high/low over the trailing bars window
func recentRange(candles []domain.Candle, bars int) (high, low float64) {
	start := len(candles) - bars
	if start < 0 {
		start = 0
	}
	for i := start; i < len(candles); i++ {
		if candles[i].High > high {
			high = candles[i].High
		}
		if low == 0 || candles[i].Low < low {
			low = candles[i].Low
		}
	}
	return high, low
}
