package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("/nonexistent/quantgate.yaml")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quantgate.yaml")
	content := `
decision:
  buy_threshold: 70
  sell_threshold: 30
learning:
  min_trades_for_learning: 25
backtest:
  stride: 3
http:
  addr: ":9090"
state:
  backend: redis
  redis:
    addr: "redis:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 70.0, cfg.Decision.BuyThreshold)
	assert.Equal(t, 25, cfg.Learning.MinTradesForLearning)
	assert.Equal(t, 3, cfg.Backtest.Stride)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "redis", cfg.State.Backend)
	assert.Equal(t, "redis:6379", cfg.State.Redis.Addr)

	// Untouched sections keep their defaults
	assert.Equal(t, Default().Risk, cfg.Risk)
	assert.Equal(t, Default().Learning.MinWeight, cfg.Learning.MinWeight)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("decision: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBrokenInvariants(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"inverted thresholds", func(c *Config) { c.Decision.BuyThreshold = 30; c.Decision.SellThreshold = 60 }},
		{"inverted weight bounds", func(c *Config) { c.Learning.MaxWeight = 0.05 }},
		{"inverted success anchors", func(c *Config) { c.Learning.SuccessCeiling = 0.2 }},
		{"zero stride", func(c *Config) { c.Backtest.Stride = 0 }},
		{"unknown state backend", func(c *Config) { c.State.Backend = "etcd" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
