package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectorClassification(t *testing.T) {
	detector := NewDetector(DefaultDetectorConfig())

	tests := []struct {
		name     string
		inputs   Inputs
		expected Regime
	}{
		{
			name:     "news shock overrides everything",
			inputs:   Inputs{ShockScore: 85, TechnicalScore: 90, MacroScore: 80, ChopScore: 10},
			expected: NewsShock,
		},
		{
			name:     "weak macro forces risk off",
			inputs:   Inputs{MacroScore: 30, TechnicalScore: 70, SentimentScore: 50},
			expected: RiskOff,
		},
		{
			name:     "extreme fear forces risk off",
			inputs:   Inputs{MacroScore: 60, SentimentScore: 20, TechnicalScore: 70},
			expected: RiskOff,
		},
		{
			name:     "high chop score",
			inputs:   Inputs{MacroScore: 60, SentimentScore: 50, ChopScore: 65, TechnicalScore: 70},
			expected: Chop,
		},
		{
			name:     "strong technicals with low chop",
			inputs:   Inputs{MacroScore: 60, SentimentScore: 50, ChopScore: 20, TechnicalScore: 70},
			expected: Trend,
		},
		{
			name:     "nothing dominant",
			inputs:   Inputs{MacroScore: 50, SentimentScore: 50, ChopScore: 50, TechnicalScore: 50},
			expected: Neutral,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := detector.Detect(tt.inputs)
			assert.Equal(t, tt.expected, result.Regime)
			assert.NotEmpty(t, result.Votes)
			assert.Len(t, result.Signals, 5)
		})
	}
}

func TestDetectorTracksLastResult(t *testing.T) {
	detector := NewDetector(DefaultDetectorConfig())
	require.Nil(t, detector.Last())

	detector.Detect(Inputs{MacroScore: 50, SentimentScore: 50})
	require.NotNil(t, detector.Last())
	assert.Equal(t, Neutral, detector.Last().Regime)

	detector.Detect(Inputs{ShockScore: 90})
	assert.Equal(t, NewsShock, detector.Last().Regime)
}

func TestRegimeString(t *testing.T) {
	assert.Equal(t, "trend", Trend.String())
	assert.Equal(t, "chop", Chop.String())
	assert.Equal(t, "risk_off", RiskOff.String())
	assert.Equal(t, "news_shock", NewsShock.String())
	assert.Equal(t, "neutral", Neutral.String())
	assert.Equal(t, "neutral", Regime(99).String())
}
