package backtest

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Status is the externally visible state of the backtest subsystem
type Status struct {
	IsRunning       bool      `json:"is_running"`       // scheduler active
	IsBacktesting   bool      `json:"is_backtesting"`   // a run is in flight
	ProgressPercent float64   `json:"progress_percent"` // 0-100 for the active run
	LastRun         time.Time `json:"last_run,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
}

// ResultSink receives the outcome of every run, successful or not.
// result is nil when err is non-nil.
type ResultSink func(result *Result, err error)

// ControllerConfig holds the scheduling parameters
type ControllerConfig struct {
	Interval time.Duration `yaml:"interval"` // Default: 24h between scheduled runs
	Symbols  []string      `yaml:"symbols"`
}

// DefaultControllerConfig returns default scheduling parameters
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{Interval: 24 * time.Hour}
}

// Controller exposes the backtest control surface: a periodic scheduler
// plus manual triggering, with single-active-run semantics enforced by
// the simulator underneath.
type Controller struct {
	config    ControllerConfig
	simulator *Simulator
	fetch     CandleFetcher
	decide    DecisionFunc
	sink      ResultSink
	onStart   func()

	mu        sync.Mutex
	cancel    context.CancelFunc
	runCancel context.CancelFunc
	running   bool

	progressMu sync.RWMutex
	progress   float64
	lastRun    time.Time
	lastError  string
}

// NewController creates a backtest controller
func NewController(config ControllerConfig, simulator *Simulator, fetch CandleFetcher, decide DecisionFunc, sink ResultSink) *Controller {
	return &Controller{
		config:    config,
		simulator: simulator,
		fetch:     fetch,
		decide:    decide,
		sink:      sink,
	}
}

// OnRunStart registers a hook invoked when a run begins (metrics use
// this to flag the active-run gauge). Must be set before Start.
func (c *Controller) OnRunStart(fn func()) {
	c.onStart = fn
}

// Start launches the periodic scheduler. Starting an already started
// controller is a no-op.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true

	go c.loop(ctx)
	log.Info().Dur("interval", c.config.Interval).Msg("backtest scheduler started")
}

// Stop cancels the scheduler and any in-flight run
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	if c.cancel != nil {
		c.cancel()
	}
	if c.runCancel != nil {
		c.runCancel()
	}
	log.Info().Msg("backtest scheduler stopped")
}

// TriggerManual starts one run immediately in the background. The run
// slot is claimed before this returns, so of two racing calls exactly
// one succeeds and the other gets ErrRunActive.
func (c *Controller) TriggerManual() error {
	if !c.simulator.reserve() {
		return ErrRunActive
	}
	go c.runOnce(context.Background())
	return nil
}

// GetStatus returns the current control-surface snapshot
func (c *Controller) GetStatus() Status {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()

	c.progressMu.RLock()
	defer c.progressMu.RUnlock()
	return Status{
		IsRunning:       running,
		IsBacktesting:   c.simulator.Running(),
		ProgressPercent: c.progress,
		LastRun:         c.lastRun,
		LastError:       c.lastError,
	}
}

func (c *Controller) loop(ctx context.Context) {
	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.simulator.reserve() {
				log.Debug().Msg("scheduled backtest skipped, a run is already active")
				continue
			}
			c.runOnce(ctx)
		}
	}
}

// runOnce executes one run. The caller must have claimed the run slot
// via the simulator's reserve.
func (c *Controller) runOnce(parent context.Context) {
	runCtx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.runCancel = cancel
	c.mu.Unlock()
	defer cancel()

	if c.onStart != nil {
		c.onStart()
	}
	c.setProgress(0, "")

	result, err := c.simulator.runReserved(runCtx, c.config.Symbols, c.fetch, c.decide, func(done, total int, symbol string) {
		if total > 0 {
			c.setProgress(float64(done)/float64(total)*100, "")
		}
	})

	c.progressMu.Lock()
	c.lastRun = time.Now().UTC()
	if err != nil {
		c.lastError = err.Error()
	} else {
		c.lastError = ""
		c.progress = 100
	}
	c.progressMu.Unlock()

	if err != nil {
		log.Warn().Err(err).Msg("backtest run failed")
	}
	if c.sink != nil {
		c.sink(result, err)
	}
}

func (c *Controller) setProgress(pct float64, lastError string) {
	c.progressMu.Lock()
	c.progress = pct
	if lastError != "" {
		c.lastError = lastError
	}
	c.progressMu.Unlock()
}
