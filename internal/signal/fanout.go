package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quantgate/quantgate/internal/domain"
)

// ErrProviderTimeout marks a provider that exceeded the per-provider
// join deadline. The provider is excluded from that decision, never
// propagated to the caller.
var ErrProviderTimeout = errors.New("signal provider timed out")

// FanoutConfig configures the bounded-concurrency provider join
type FanoutConfig struct {
	ProviderTimeout time.Duration `yaml:"provider_timeout"` // Default: 3s
	MaxConcurrent   int           `yaml:"max_concurrent"`   // Default: 8
	RatePerSecond   float64       `yaml:"rate_per_second"`  // Default: 50 (0 disables)
	RateBurst       int           `yaml:"rate_burst"`       // Default: 10

	// Circuit breaker settings applied per provider
	BreakerMaxRequests         uint32        `yaml:"breaker_max_requests"`         // Default: 3
	BreakerInterval            time.Duration `yaml:"breaker_interval"`             // Default: 60s
	BreakerTimeout             time.Duration `yaml:"breaker_timeout"`              // Default: 30s
	BreakerConsecutiveFailures uint32        `yaml:"breaker_consecutive_failures"` // Default: 5
}

// DefaultFanoutConfig returns production-ready fan-out settings
func DefaultFanoutConfig() FanoutConfig {
	return FanoutConfig{
		ProviderTimeout:            3 * time.Second,
		MaxConcurrent:              8,
		RatePerSecond:              50,
		RateBurst:                  10,
		BreakerMaxRequests:         3,
		BreakerInterval:            60 * time.Second,
		BreakerTimeout:             30 * time.Second,
		BreakerConsecutiveFailures: 5,
	}
}

// Exclusion records a provider dropped from one decision's weighting
type Exclusion struct {
	ModuleID string `json:"module_id"`
	Reason   string `json:"reason"`
}

// FanoutResult is the partial-success join output: scores for every
// provider that answered in time, exclusions for the rest
type FanoutResult struct {
	Scores     map[string]domain.SignalScore `json:"scores"`
	Traces     []domain.DecisionTrace        `json:"traces"`
	Exclusions []Exclusion                   `json:"exclusions"`
}

// Engine fans a decision call out to all registered providers with a
// bounded per-provider timeout. A provider that times out, errors,
// panics, or has an open circuit breaker is excluded from the result
// rather than failing the join.
type Engine struct {
	config    FanoutConfig
	providers []Provider
	breakers  map[string]*gobreaker.CircuitBreaker
	limiter   *rate.Limiter
	mu        sync.RWMutex
}

// NewEngine creates a fan-out engine for the given providers
func NewEngine(config FanoutConfig, providers ...Provider) *Engine {
	e := &Engine{
		config:   config,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	if config.RatePerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), config.RateBurst)
	}
	for _, p := range providers {
		e.Register(p)
	}
	return e
}

// Register adds a provider and initializes its circuit breaker
func (e *Engine) Register(p Provider) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := p.ModuleID()
	e.providers = append(e.providers, p)
	e.breakers[id] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        id,
		MaxRequests: e.config.BreakerMaxRequests,
		Interval:    e.config.BreakerInterval,
		Timeout:     e.config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= e.config.BreakerConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("provider circuit breaker state change")
		},
	})
}

// Providers returns the registered module IDs
func (e *Engine) Providers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.providers))
	for _, p := range e.providers {
		ids = append(ids, p.ModuleID())
	}
	return ids
}

// Collect runs all providers concurrently and joins their results.
// The join is partial-success: failures surface as exclusions, and the
// call only errors when the context itself is cancelled.
func (e *Engine) Collect(ctx context.Context, symbol string, candlesByTimeframe map[string][]domain.Candle) (*FanoutResult, error) {
	e.mu.RLock()
	providers := make([]Provider, len(e.providers))
	copy(providers, e.providers)
	e.mu.RUnlock()

	maxConcurrent := e.config.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = len(providers)
	}

	type outcome struct {
		moduleID string
		result   Result
		err      error
	}

	sem := make(chan struct{}, maxConcurrent)
	outcomes := make(chan outcome, len(providers))

	for _, p := range providers {
		go func(p Provider) {
			sem <- struct{}{}
			defer func() { <-sem }()

			id := p.ModuleID()
			if e.limiter != nil {
				if err := e.limiter.Wait(ctx); err != nil {
					outcomes <- outcome{moduleID: id, err: err}
					return
				}
			}

			callCtx, cancel := context.WithTimeout(ctx, e.config.ProviderTimeout)
			defer cancel()

			res, err := e.executeWithBreaker(callCtx, p, symbol, candlesByTimeframe)
			outcomes <- outcome{moduleID: id, result: res, err: err}
		}(p)
	}

	result := &FanoutResult{Scores: make(map[string]domain.SignalScore, len(providers))}
	for range providers {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case out := <-outcomes:
			if out.err != nil {
				result.Exclusions = append(result.Exclusions, Exclusion{
					ModuleID: out.moduleID,
					Reason:   out.err.Error(),
				})
				log.Warn().Str("provider", out.moduleID).Err(out.err).
					Str("symbol", symbol).Msg("provider excluded from decision")
				continue
			}
			result.Scores[out.moduleID] = out.result.Score
			result.Traces = append(result.Traces, out.result.Traces...)
		}
	}

	return result, nil
}

// executeWithBreaker runs one provider call through its circuit breaker,
// converting timeouts and panics into plain errors
func (e *Engine) executeWithBreaker(ctx context.Context, p Provider, symbol string, candles map[string][]domain.Candle) (Result, error) {
	e.mu.RLock()
	breaker := e.breakers[p.ModuleID()]
	e.mu.RUnlock()

	call := func() (interface{}, error) {
		type reply struct {
			res Result
			err error
		}
		done := make(chan reply, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- reply{err: fmt.Errorf("provider %s panicked: %v", p.ModuleID(), r)}
				}
			}()
			res, err := p.Analyze(ctx, symbol, candles)
			done <- reply{res: res, err: err}
		}()

		select {
		case <-ctx.Done():
			return Result{}, fmt.Errorf("%w: %s", ErrProviderTimeout, p.ModuleID())
		case r := <-done:
			return r.res, r.err
		}
	}

	var (
		raw interface{}
		err error
	)
	if breaker != nil {
		raw, err = breaker.Execute(call)
	} else {
		raw, err = call()
	}
	if err != nil {
		return Result{}, err
	}
	return raw.(Result), nil
}
