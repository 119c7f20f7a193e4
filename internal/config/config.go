package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantgate/quantgate/internal/backtest"
	"github.com/quantgate/quantgate/internal/decision"
	"github.com/quantgate/quantgate/internal/learning"
	"github.com/quantgate/quantgate/internal/persistence/redis"
	"github.com/quantgate/quantgate/internal/regime"
	"github.com/quantgate/quantgate/internal/risk"
	"github.com/quantgate/quantgate/internal/signal"
)

// HTTPConfig configures the embedded HTTP server
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`             // Default: :8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // Default: 10s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Default: 10s
}

// StateConfig selects and configures the learner's state backend
type StateConfig struct {
	// Backend selects the store: "file" or "redis". Default: file
	Backend string `yaml:"backend"`

	// Dir is the file store directory. Default: ./data/state
	Dir string `yaml:"dir"`

	Redis redis.Config `yaml:"redis"`
}

// PostgresConfig configures the optional closed-trade archive. An empty
// DSN disables archiving entirely.
type PostgresConfig struct {
	DSN          string        `yaml:"dsn"`
	QueryTimeout time.Duration `yaml:"query_timeout"`  // Default: 5s
	MaxOpenConns int           `yaml:"max_open_conns"` // Default: 10
}

// Config is the master application configuration, one section per
// subsystem. Every field has a working default so an empty file is a
// valid deployment.
type Config struct {
	Decision  decision.Config           `yaml:"decision"`
	Learning  learning.Config           `yaml:"learning"`
	Risk      risk.Config               `yaml:"risk"`
	Regime    regime.DetectorConfig     `yaml:"regime"`
	Fanout    signal.FanoutConfig       `yaml:"fanout"`
	Backtest  backtest.Config           `yaml:"backtest"`
	Scheduler backtest.ControllerConfig `yaml:"scheduler"`
	HTTP      HTTPConfig                `yaml:"http"`
	State     StateConfig               `yaml:"state"`
	Postgres  PostgresConfig            `yaml:"postgres"`
}

// Default returns the full default configuration
func Default() Config {
	return Config{
		Decision:  decision.DefaultConfig(),
		Learning:  learning.DefaultConfig(),
		Risk:      risk.DefaultConfig(),
		Regime:    regime.DefaultDetectorConfig(),
		Fanout:    signal.DefaultFanoutConfig(),
		Backtest:  backtest.DefaultConfig(),
		Scheduler: backtest.DefaultControllerConfig(),
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		State: StateConfig{
			Backend: "file",
			Dir:     "./data/state",
			Redis:   redis.DefaultConfig(),
		},
		Postgres: PostgresConfig{
			QueryTimeout: 5 * time.Second,
			MaxOpenConns: 10,
		},
	}
}

// Load reads a yaml config file over the defaults. A missing path
// returns pure defaults; a present but malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that would break scoring invariants
func (c Config) Validate() error {
	if c.Decision.BuyThreshold <= c.Decision.SellThreshold {
		return fmt.Errorf("buy threshold %.1f must exceed sell threshold %.1f",
			c.Decision.BuyThreshold, c.Decision.SellThreshold)
	}
	if c.Learning.MinWeight <= 0 || c.Learning.MaxWeight <= c.Learning.MinWeight {
		return fmt.Errorf("weight bounds [%.2f, %.2f] are not a valid range",
			c.Learning.MinWeight, c.Learning.MaxWeight)
	}
	if c.Learning.SuccessCeiling <= c.Learning.SuccessFloor {
		return fmt.Errorf("success rate anchors [%.2f, %.2f] are not a valid range",
			c.Learning.SuccessFloor, c.Learning.SuccessCeiling)
	}
	if c.Backtest.Horizon <= 0 || c.Backtest.Stride <= 0 {
		return fmt.Errorf("backtest horizon and stride must be positive")
	}
	switch c.State.Backend {
	case "", "file", "redis":
	default:
		return fmt.Errorf("unknown state backend %q", c.State.Backend)
	}
	return nil
}
