package learning

import (
	"strings"

	"github.com/quantgate/quantgate/internal/domain"
)

// ModuleStat tracks the reliability of one analysis module. Live and
// backtest observations are counted separately so they can be blended
// at weight-recalculation time.
type ModuleStat struct {
	ModuleID          string  `json:"module_id"`
	TotalTrades       int     `json:"total_trades"`
	SuccessfulTrades  int     `json:"successful_trades"`
	SuccessRate       float64 `json:"success_rate"` // 0-1, live only
	BacktestTrades    int     `json:"backtest_trades"`
	BacktestSuccesses int     `json:"backtest_successes"`
	Weight            float64 `json:"weight"` // current effective weight
}

// BacktestSuccessRate returns the success rate over backtest
// observations only
func (s *ModuleStat) BacktestSuccessRate() float64 {
	if s.BacktestTrades == 0 {
		return 0
	}
	return domain.Clamp(float64(s.BacktestSuccesses)/float64(s.BacktestTrades), 0, 1)
}

// IndicatorStat tracks fine-grained reliability of one indicator signal
type IndicatorStat struct {
	Name              string  `json:"name"`
	TotalSignals      int     `json:"total_signals"`
	SuccessfulSignals int     `json:"successful_signals"`
	SuccessRate       float64 `json:"success_rate"` // 0-1
	AvgProfit         float64 `json:"avg_profit"`   // mean pnl% of winners
	AvgLoss           float64 `json:"avg_loss"`     // mean pnl% of losers (negative)
	ProfitSum         float64 `json:"profit_sum"`
	LossSum           float64 `json:"loss_sum"`
}

// record folds one observed outcome into the indicator stat, keeping
// success rate and profit averages consistent
func (s *IndicatorStat) record(success bool, pnlPercent float64) {
	s.TotalSignals++
	if success {
		s.SuccessfulSignals++
		s.ProfitSum += pnlPercent
		s.AvgProfit = s.ProfitSum / float64(s.SuccessfulSignals)
	} else {
		s.LossSum += pnlPercent
		losses := s.TotalSignals - s.SuccessfulSignals
		s.AvgLoss = s.LossSum / float64(losses)
	}
	s.SuccessRate = domain.Clamp(float64(s.SuccessfulSignals)/float64(s.TotalSignals), 0, 1)
}

// KnownModules is the canonical module identity list used for trace
// normalization. Any trace identity containing one of these (case
// insensitive) maps onto it.
var KnownModules = []string{
	"orion",
	"technical",
	"momentum",
	"volume",
	"macro",
	"sentiment",
}

// NormalizeModuleID maps a raw trace identity onto its canonical module.
// "Orion-HeadShoulders" and "orion_rsi" both map to "orion"; identities
// matching no known module are lowercased and kept as-is.
func NormalizeModuleID(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, known := range KnownModules {
		if strings.Contains(lower, known) {
			return known
		}
	}
	return lower
}
