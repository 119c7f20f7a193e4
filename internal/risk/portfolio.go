package risk

import (
	"fmt"

	"github.com/quantgate/quantgate/internal/domain"
)

// PortfolioConfig holds the portfolio-level gate thresholds. The
// pyramiding thresholds are tuned constants carried from production use,
// kept overridable rather than derived.
type PortfolioConfig struct {
	MaxOpenPositions    int     `yaml:"max_open_positions"`     // Default: 10
	PyramidMinProfitPct float64 `yaml:"pyramid_min_profit_pct"` // Default: 2.5
	PyramidMinScore     float64 `yaml:"pyramid_min_score"`      // Default: 70
	SectorCapFraction   float64 `yaml:"sector_cap_fraction"`    // Default: 0.20
}

// DefaultPortfolioConfig returns production-ready portfolio gates
func DefaultPortfolioConfig() PortfolioConfig {
	return PortfolioConfig{
		MaxOpenPositions:    10,
		PyramidMinProfitPct: 2.5,
		PyramidMinScore:     70,
		SectorCapFraction:   0.20,
	}
}

// OpenPosition is the portfolio view of one open trade used by the gates
type OpenPosition struct {
	Symbol           string  `json:"symbol"`
	Sector           string  `json:"sector"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
	Pyramided        bool    `json:"pyramided"`
}

// GateResult is the outcome of the portfolio gate evaluation
type GateResult struct {
	Allowed    bool    `json:"allowed"`
	Pyramiding bool    `json:"pyramiding"`  // true when this is an approved add-on entry
	SizeFactor float64 `json:"size_factor"` // 1.0 normally, 0.5 for pyramiding adds
	Reason     string  `json:"reason,omitempty"`
}

// PortfolioGate enforces position-count, duplicate/pyramiding, and
// sector-concentration limits before sizing is applied
type PortfolioGate struct {
	config PortfolioConfig
}

// NewPortfolioGate creates a portfolio gate with the given limits
func NewPortfolioGate(config PortfolioConfig) *PortfolioGate {
	return &PortfolioGate{config: config}
}

// Evaluate decides whether a new entry in symbol/sector is allowed given
// the current open positions and the decision score
func (g *PortfolioGate) Evaluate(open []OpenPosition, symbol, sector string, decisionScore float64) GateResult {
	if g.config.MaxOpenPositions > 0 && len(open) >= g.config.MaxOpenPositions {
		return GateResult{
			SizeFactor: 0,
			Reason:     fmt.Sprintf("max open positions reached (%d)", g.config.MaxOpenPositions),
		}
	}

	// Duplicate position: only allowed as a pyramiding add-on
	for _, pos := range open {
		if pos.Symbol != symbol {
			continue
		}
		if pos.Pyramided {
			return GateResult{SizeFactor: 0, Reason: fmt.Sprintf("%s already pyramided", symbol)}
		}
		if pos.UnrealizedPnLPct <= g.config.PyramidMinProfitPct {
			return GateResult{
				SizeFactor: 0,
				Reason: fmt.Sprintf("%s open at %.2f%% profit, pyramiding requires > %.2f%%",
					symbol, pos.UnrealizedPnLPct, g.config.PyramidMinProfitPct),
			}
		}
		if decisionScore <= g.config.PyramidMinScore {
			return GateResult{
				SizeFactor: 0,
				Reason: fmt.Sprintf("score %.1f below pyramiding threshold %.1f",
					decisionScore, g.config.PyramidMinScore),
			}
		}
		// Eligible add-on: incremental size is halved
		return GateResult{Allowed: true, Pyramiding: true, SizeFactor: 0.5}
	}

	// Sector concentration: the new position must not push the sector
	// above its cap of open position count
	if g.config.SectorCapFraction > 0 && sector != "" {
		sectorCount := 0
		for _, pos := range open {
			if pos.Sector == sector {
				sectorCount++
			}
		}
		projected := float64(sectorCount+1) / float64(len(open)+1)
		if sectorCount > 0 && projected > g.config.SectorCapFraction {
			return GateResult{
				SizeFactor: 0,
				Reason: fmt.Sprintf("sector %s would hold %.0f%% of positions, cap is %.0f%%",
					sector, projected*100, g.config.SectorCapFraction*100),
			}
		}
	}

	return GateResult{Allowed: true, SizeFactor: 1.0}
}

// Gate bundles the full risk-sizing pipeline behind one object so the
// aggregator can attach levels and a throttled size to a decision
type Gate struct {
	config    Config
	portfolio *PortfolioGate
}

// Config holds the sizing tunables consumed at decision time
type Config struct {
	ATRPeriod        int     `yaml:"atr_period"`        // Default: 14
	StopMultiplier   float64 `yaml:"stop_multiplier"`   // Default: 2.0
	TargetMultiplier float64 `yaml:"target_multiplier"` // Default: 3.0
	RiskPercent      float64 `yaml:"risk_percent"`      // Default: 1.0
	KellyFraction    float64 `yaml:"kelly_fraction"`    // Default: 0.25 (quarter Kelly)

	Portfolio PortfolioConfig `yaml:"portfolio"`
}

// DefaultConfig returns production-ready risk settings
func DefaultConfig() Config {
	return Config{
		ATRPeriod:        DefaultATRPeriod,
		StopMultiplier:   2.0,
		TargetMultiplier: 3.0,
		RiskPercent:      1.0,
		KellyFraction:    0.25,
		Portfolio:        DefaultPortfolioConfig(),
	}
}

// NewGate creates the risk gate
func NewGate(config Config) *Gate {
	return &Gate{config: config, portfolio: NewPortfolioGate(config.Portfolio)}
}

// PlanInput carries everything the gate needs to produce a plan
type PlanInput struct {
	Direction     domain.Decision
	Symbol        string
	Sector        string
	EntryPrice    float64
	Capital       float64
	DecisionScore float64
	Candles       []domain.Candle
	EquityCurve   []float64
	OpenPositions []OpenPosition
}

// Plan produces the stop/target levels and throttled position size for
// a BUY/SELL decision. Returns nil when volatility data is insufficient
// or a portfolio gate rejects the entry; the veto reason is returned
// alongside for tracing.
func (g *Gate) Plan(in PlanInput) (*domain.RiskLevels, string) {
	gate := g.portfolio.Evaluate(in.OpenPositions, in.Symbol, in.Sector, in.DecisionScore)
	if !gate.Allowed {
		return nil, gate.Reason
	}

	atr := ATR(in.Candles, g.config.ATRPeriod)
	levels := Levels(in.Direction, in.EntryPrice, atr, g.config.StopMultiplier, g.config.TargetMultiplier)
	if levels == nil {
		return nil, "insufficient candle history for ATR"
	}

	size := Size(in.Capital, g.config.RiskPercent, in.EntryPrice, levels.StopLoss)
	throttle := Drawdown(in.EquityCurve)
	levels.PositionSize = size.Units * throttle.SizeFactor * gate.SizeFactor

	return levels, ""
}
