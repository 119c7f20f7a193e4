package risk

// DrawdownLevel classifies how deep the current drawdown is
type DrawdownLevel int

const (
	DrawdownNone DrawdownLevel = iota
	DrawdownLow
	DrawdownModerate
	DrawdownHigh
	DrawdownCritical
)

func (d DrawdownLevel) String() string {
	switch d {
	case DrawdownLow:
		return "low"
	case DrawdownModerate:
		return "moderate"
	case DrawdownHigh:
		return "high"
	case DrawdownCritical:
		return "critical"
	default:
		return "none"
	}
}

// DrawdownStatus reports the current drawdown against the equity peak
type DrawdownStatus struct {
	Peak            float64       `json:"peak"`
	Current         float64       `json:"current"`
	DrawdownPercent float64       `json:"drawdown_percent"`
	Level           DrawdownLevel `json:"level"`
	SizeFactor      float64       `json:"size_factor"` // multiplier applied to new position sizes
}

// Drawdown computes the current drawdown over a trailing equity curve
// and maps it to an alert level. Position sizes are reduced
// proportionally once the moderate level is reached.
func Drawdown(equityCurve []float64) DrawdownStatus {
	status := DrawdownStatus{SizeFactor: 1.0}
	if len(equityCurve) == 0 {
		return status
	}

	peak := equityCurve[0]
	for _, v := range equityCurve {
		if v > peak {
			peak = v
		}
	}
	current := equityCurve[len(equityCurve)-1]

	status.Peak = peak
	status.Current = current
	if peak > 0 {
		status.DrawdownPercent = (peak - current) / peak * 100
	}

	switch dd := status.DrawdownPercent; {
	case dd >= 25:
		status.Level = DrawdownCritical
	case dd >= 15:
		status.Level = DrawdownHigh
	case dd >= 10:
		status.Level = DrawdownModerate
	case dd >= 5:
		status.Level = DrawdownLow
	default:
		status.Level = DrawdownNone
	}

	// Throttle: full size below moderate, then scale down linearly with
	// depth until critical cuts size to a quarter
	switch status.Level {
	case DrawdownModerate:
		status.SizeFactor = 0.75
	case DrawdownHigh:
		status.SizeFactor = 0.50
	case DrawdownCritical:
		status.SizeFactor = 0.25
	}

	return status
}
