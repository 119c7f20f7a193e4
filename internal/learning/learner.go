package learning

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quantgate/quantgate/internal/domain"
	"github.com/quantgate/quantgate/internal/persistence"
)

const (
	moduleStatsKey    = "module_stats"
	indicatorStatsKey = "indicator_stats"
)

// Config holds every learning tunable. The anchors are chosen so a 30%
// success rate maps to the minimum weight and 70% to the maximum.
type Config struct {
	MinWeight            float64 `yaml:"min_weight"`              // Default: 0.10
	MaxWeight            float64 `yaml:"max_weight"`              // Default: 0.50
	MinTradesForLearning int     `yaml:"min_trades_for_learning"` // Default: 10
	SuccessFloor         float64 `yaml:"success_floor"`           // Default: 0.30
	SuccessCeiling       float64 `yaml:"success_ceiling"`         // Default: 0.70
	LiveBlend            float64 `yaml:"live_blend"`              // Default: 0.70
	BacktestBlend        float64 `yaml:"backtest_blend"`          // Default: 0.30

	// Indicator nudge thresholds (advisory score adjustments)
	MinSignalsForNudge    int     `yaml:"min_signals_for_nudge"`   // Default: 10
	ReliableSuccessRate   float64 `yaml:"reliable_success_rate"`   // Default: 0.60
	UnreliableSuccessRate float64 `yaml:"unreliable_success_rate"` // Default: 0.40
	ReliableNudge         float64 `yaml:"reliable_nudge"`          // Default: +1.5
	UnreliableNudge       float64 `yaml:"unreliable_nudge"`        // Default: -2.0

	// DefaultWeight is the static weight a module keeps until it has
	// accumulated enough observations to learn from
	DefaultWeight float64 `yaml:"default_weight"` // Default: 0.25
}

// DefaultConfig returns production-ready learning parameters
func DefaultConfig() Config {
	return Config{
		MinWeight:             0.10,
		MaxWeight:             0.50,
		MinTradesForLearning:  10,
		SuccessFloor:          0.30,
		SuccessCeiling:        0.70,
		LiveBlend:             0.70,
		BacktestBlend:         0.30,
		MinSignalsForNudge:    10,
		ReliableSuccessRate:   0.60,
		UnreliableSuccessRate: 0.40,
		ReliableNudge:         1.5,
		UnreliableNudge:       -2.0,
		DefaultWeight:         0.25,
	}
}

// Learner maintains per-module and per-indicator reliability statistics
// and derives dynamic weights from them. Updates are single-writer
// (mutex serialized); reads may be concurrent.
type Learner struct {
	mu         sync.RWMutex
	config     Config
	store      persistence.StateStore
	modules    map[string]*ModuleStat
	indicators map[string]*IndicatorStat
}

// NewLearner creates a learner backed by the given state store. A nil
// store keeps the learner purely in-memory.
func NewLearner(config Config, store persistence.StateStore) *Learner {
	return &Learner{
		config:     config,
		store:      store,
		modules:    make(map[string]*ModuleStat),
		indicators: make(map[string]*IndicatorStat),
	}
}

// RecordOutcome folds one closed trade into the statistics. Every
// contributing trace updates its indicator stat; each distinct module
// identity is counted once per trade. Open trades are rejected.
func (l *Learner) RecordOutcome(trade domain.Trade, traces []domain.DecisionTrace) error {
	if trade.IsOpen {
		return fmt.Errorf("cannot record outcome of open trade %s", trade.ID)
	}

	pnl := trade.PnLPercent()
	success := pnl > 0

	l.mu.Lock()
	defer l.mu.Unlock()

	seenModules := make(map[string]bool, len(traces))
	for _, trace := range traces {
		if trace.ModuleID == "" {
			continue
		}

		indicator := l.indicatorLocked(trace.ModuleID)
		indicator.record(success, pnl)

		moduleID := NormalizeModuleID(trace.ModuleID)
		if seenModules[moduleID] {
			continue
		}
		seenModules[moduleID] = true

		module := l.moduleLocked(moduleID)
		module.TotalTrades++
		if success {
			module.SuccessfulTrades++
		}
		module.SuccessRate = domain.Clamp(float64(module.SuccessfulTrades)/float64(module.TotalTrades), 0, 1)
		module.Weight = l.recalcWeightLocked(module)
	}

	log.Debug().Str("trade", trade.ID).Str("symbol", trade.Symbol).
		Float64("pnl_pct", pnl).Bool("success", success).
		Int("modules", len(seenModules)).Msg("trade outcome recorded")

	return nil
}

// MergeBacktest folds synthetic backtest correctness counts into the
// statistics, keyed by module and indicator identity. Counts accumulate
// across runs.
func (l *Learner) MergeBacktest(moduleOutcomes map[string]Outcome, indicatorOutcomes map[string]Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for rawID, out := range moduleOutcomes {
		module := l.moduleLocked(NormalizeModuleID(rawID))
		module.BacktestTrades += out.Total
		module.BacktestSuccesses += out.Successes
		module.Weight = l.recalcWeightLocked(module)
	}

	for name, out := range indicatorOutcomes {
		indicator := l.indicatorLocked(name)
		for i := 0; i < out.Successes; i++ {
			indicator.record(true, out.AvgPnL)
		}
		for i := 0; i < out.Total-out.Successes; i++ {
			indicator.record(false, out.AvgPnL)
		}
	}
}

// Outcome is a correctness count produced by the backtest simulator
type Outcome struct {
	Total     int     `json:"total"`
	Successes int     `json:"successes"`
	AvgPnL    float64 `json:"avg_pnl"`
}

// GetModuleWeights returns the current effective weight per module:
// learned once enough observations exist, the static default before
func (l *Learner) GetModuleWeights() map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	weights := make(map[string]float64, len(l.modules))
	for id, stat := range l.modules {
		weights[id] = l.recalcWeightLocked(stat)
	}
	return weights
}

// GetModuleStat returns a copy of one module's statistics
func (l *Learner) GetModuleStat(moduleID string) (ModuleStat, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	stat, ok := l.modules[NormalizeModuleID(moduleID)]
	if !ok {
		return ModuleStat{}, false
	}
	return *stat, true
}

// GetIndicatorStat returns a copy of one indicator's statistics
func (l *Learner) GetIndicatorStat(name string) (IndicatorStat, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	stat, ok := l.indicators[name]
	if !ok {
		return IndicatorStat{}, false
	}
	return *stat, true
}

// ScoreNudge returns the advisory score adjustment for a firing bullish
// indicator: positive for a proven-reliable indicator, negative for a
// proven-unreliable one, zero before enough signals have accumulated.
func (l *Learner) ScoreNudge(indicatorName string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stat, ok := l.indicators[indicatorName]
	if !ok || stat.TotalSignals < l.config.MinSignalsForNudge {
		return 0
	}
	switch {
	case stat.SuccessRate >= l.config.ReliableSuccessRate:
		return l.config.ReliableNudge
	case stat.SuccessRate <= l.config.UnreliableSuccessRate:
		return l.config.UnreliableNudge
	default:
		return 0
	}
}

// recalcWeightLocked derives the effective weight for a module. The
// learned weight only applies once the module has enough observations;
// live and backtest success rates blend 70/30 when both exist.
func (l *Learner) recalcWeightLocked(stat *ModuleStat) float64 {
	observed := stat.TotalTrades + stat.BacktestTrades
	if observed < l.config.MinTradesForLearning {
		return l.config.DefaultWeight
	}

	var rate float64
	switch {
	case stat.TotalTrades > 0 && stat.BacktestTrades > 0:
		rate = stat.SuccessRate*l.config.LiveBlend + stat.BacktestSuccessRate()*l.config.BacktestBlend
	case stat.TotalTrades > 0:
		rate = stat.SuccessRate
	default:
		rate = stat.BacktestSuccessRate()
	}

	span := l.config.SuccessCeiling - l.config.SuccessFloor
	if span <= 0 {
		return l.config.DefaultWeight
	}
	weight := l.config.MinWeight + (rate-l.config.SuccessFloor)*(l.config.MaxWeight-l.config.MinWeight)/span
	return domain.Clamp(weight, l.config.MinWeight, l.config.MaxWeight)
}

func (l *Learner) moduleLocked(id string) *ModuleStat {
	stat, ok := l.modules[id]
	if !ok {
		stat = &ModuleStat{ModuleID: id, Weight: l.config.DefaultWeight}
		l.modules[id] = stat
	}
	return stat
}

func (l *Learner) indicatorLocked(name string) *IndicatorStat {
	stat, ok := l.indicators[name]
	if !ok {
		stat = &IndicatorStat{Name: name}
		l.indicators[name] = stat
	}
	return stat
}

// Save persists both stat maps as versioned blobs. A nil store is a no-op.
func (l *Learner) Save(ctx context.Context) error {
	if l.store == nil {
		return nil
	}

	// Deep copy under the read lock so a concurrent writer cannot race
	// the store serialization
	l.mu.RLock()
	modules := make(map[string]ModuleStat, len(l.modules))
	for id, stat := range l.modules {
		modules[id] = *stat
	}
	indicators := make(map[string]IndicatorStat, len(l.indicators))
	for name, stat := range l.indicators {
		indicators[name] = *stat
	}
	l.mu.RUnlock()

	if err := l.store.Save(ctx, moduleStatsKey, modules); err != nil {
		return fmt.Errorf("failed to persist module stats: %w", err)
	}
	if err := l.store.Save(ctx, indicatorStatsKey, indicators); err != nil {
		return fmt.Errorf("failed to persist indicator stats: %w", err)
	}
	return nil
}

// Load restores persisted state. A missing or corrupt blob falls back
// to empty stats; in-memory state stays authoritative for the session.
func (l *Learner) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}

	modules := make(map[string]*ModuleStat)
	if err := l.store.Load(ctx, moduleStatsKey, &modules); err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			log.Warn().Err(err).Msg("module stats unreadable, starting from empty")
		}
		modules = make(map[string]*ModuleStat)
	}

	indicators := make(map[string]*IndicatorStat)
	if err := l.store.Load(ctx, indicatorStatsKey, &indicators); err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			log.Warn().Err(err).Msg("indicator stats unreadable, starting from empty")
		}
		indicators = make(map[string]*IndicatorStat)
	}

	// Re-clamp on the way in: a hand-edited or stale blob must not be
	// able to violate stat invariants
	for _, stat := range modules {
		stat.SuccessRate = domain.Clamp(stat.SuccessRate, 0, 1)
		stat.Weight = domain.Clamp(stat.Weight, l.config.MinWeight, l.config.MaxWeight)
	}
	for _, stat := range indicators {
		stat.SuccessRate = domain.Clamp(stat.SuccessRate, 0, 1)
	}

	l.mu.Lock()
	l.modules = modules
	l.indicators = indicators
	l.mu.Unlock()

	return nil
}

// ResetLearning clears all statistics and the persisted blobs atomically
func (l *Learner) ResetLearning(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.modules = make(map[string]*ModuleStat)
	l.indicators = make(map[string]*IndicatorStat)

	if l.store == nil {
		return nil
	}
	if err := l.store.Delete(ctx, moduleStatsKey); err != nil {
		return fmt.Errorf("failed to clear module stats: %w", err)
	}
	if err := l.store.Delete(ctx, indicatorStatsKey); err != nil {
		return fmt.Errorf("failed to clear indicator stats: %w", err)
	}

	log.Info().Msg("learning state reset")
	return nil
}
