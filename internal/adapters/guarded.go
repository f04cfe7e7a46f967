package adapters

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tradeops/eventguard/internal/observ"
)

// GuardedConfig tunes the protective wrapper.
type GuardedConfig struct {
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	Burst          int     `yaml:"burst"`
	TimeoutMs      int     `yaml:"timeout_ms"`
	CacheTTLSec    int     `yaml:"cache_ttl_sec"`
}

func DefaultGuardedConfig() GuardedConfig {
	return GuardedConfig{RequestsPerSec: 5, Burst: 10, TimeoutMs: 3000, CacheTTLSec: 600}
}

// Guarded wraps a MarketData provider with rate limiting, per-call
// timeouts, and a last-good cache. On provider failure the cached value is
// served while fresh enough; past that the error propagates and the caller
// degrades.
type Guarded struct {
	inner   MarketData
	limiter *rate.Limiter
	timeout time.Duration
	ttl     time.Duration

	mu        sync.RWMutex
	quotes    map[string]cached[*Quote]
	contracts map[string]cached[*ContractData]
}

type cached[T any] struct {
	value T
	at    time.Time
}

func NewGuarded(inner MarketData, cfg GuardedConfig) *Guarded {
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = DefaultGuardedConfig().RequestsPerSec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultGuardedConfig().Burst
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = DefaultGuardedConfig().TimeoutMs
	}
	if cfg.CacheTTLSec <= 0 {
		cfg.CacheTTLSec = DefaultGuardedConfig().CacheTTLSec
	}
	return &Guarded{
		inner:     inner,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		timeout:   time.Duration(cfg.TimeoutMs) * time.Millisecond,
		ttl:       time.Duration(cfg.CacheTTLSec) * time.Second,
		quotes:    make(map[string]cached[*Quote]),
		contracts: make(map[string]cached[*ContractData]),
	}
}

func (g *Guarded) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	q, err := fetch(g, ctx, symbol, g.quotes, func(ctx context.Context) (*Quote, error) {
		q, err := g.inner.GetQuote(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if err := ValidateQuote(q); err != nil {
			return nil, err
		}
		return q, nil
	})
	return q, err
}

func (g *Guarded) GetContractData(ctx context.Context, contractCode string) (*ContractData, error) {
	return fetch(g, ctx, contractCode, g.contracts, func(ctx context.Context) (*ContractData, error) {
		return g.inner.GetContractData(ctx, contractCode)
	})
}

func (g *Guarded) GetHistoricalBar(ctx context.Context, symbol string, lookback time.Duration) (*Bar, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.inner.GetHistoricalBar(ctx, symbol, lookback)
}

func (g *Guarded) HealthCheck(ctx context.Context) error { return g.inner.HealthCheck(ctx) }
func (g *Guarded) Close() error                          { return g.inner.Close() }

// fetch runs the limited, timeout-bounded call and falls back to the cache
// on failure.
func fetch[T any](g *Guarded, ctx context.Context, key string, cache map[string]cached[T], call func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := g.limiter.Wait(ctx); err != nil {
		return zero, err
	}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	v, err := call(callCtx)
	if err == nil {
		g.mu.Lock()
		cache[key] = cached[T]{value: v, at: time.Now()}
		g.mu.Unlock()
		return v, nil
	}

	g.mu.RLock()
	entry, ok := cache[key]
	g.mu.RUnlock()
	if ok && time.Since(entry.at) < g.ttl {
		observ.IncCounter("marketdata_cache_fallbacks_total", map[string]string{"key": key})
		return entry.value, nil
	}
	observ.IncCounter("marketdata_errors_total", map[string]string{"key": key})
	return zero, err
}
