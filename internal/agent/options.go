package agent

import (
	"log/slog"
	"time"

	"github.com/haasonsaas/nexus/internal/backoff"
	"github.com/haasonsaas/nexus/internal/observability"
)

// ClientConfig configures the tool-call loop: retry limits, concurrency,
// timeouts, caching, and backoff.
type ClientConfig struct {
	// MaxRetries caps the number of generate/act iterations.
	// Default: 25.
	MaxRetries int

	// MaxParallelTools caps concurrent tool execution within one iteration.
	// Default: 5.
	MaxParallelTools int

	// MaxAccumulatedResults caps the FIFO accumulator of tool outputs
	// carried across iterations.
	// Default: 50.
	MaxAccumulatedResults int

	// DefaultTimeout bounds one call() invocation end to end.
	// Default: 2048s.
	DefaultTimeout time.Duration

	// CacheTTL bounds how long a cached response is served without
	// re-invoking the model.
	// Default: 10 minutes.
	CacheTTL time.Duration

	// Backoff controls the wait between failed generate attempts.
	Backoff backoff.BackoffPolicy

	// Logger receives client diagnostics.
	Logger *slog.Logger

	// Tracer spans one Call invocation. Nil falls back to a no-op tracer.
	Tracer *observability.Tracer

	// Metrics records tool-execution and retry-attempt counters. Nil
	// disables metrics recording entirely.
	Metrics *observability.Metrics
}

// DefaultClientConfig returns the baseline client configuration matching
// the values spec.md §4.1 fixes as defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxRetries:            25,
		MaxParallelTools:      5,
		MaxAccumulatedResults: 50,
		DefaultTimeout:        2048 * time.Second,
		CacheTTL:              10 * time.Minute,
		Backoff:               backoff.BackoffPolicy{InitialMs: 1000, MaxMs: 60000, Factor: 2, Jitter: 0.1},
		Logger:                slog.Default(),
		Tracer:                noopTracer(),
	}
}

func noopTracer() *observability.Tracer {
	tracer, _ := observability.NewTracer(observability.TraceConfig{})
	return tracer
}

func sanitizeClientConfig(cfg ClientConfig) ClientConfig {
	defaults := DefaultClientConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = defaults.MaxParallelTools
	}
	if cfg.MaxAccumulatedResults <= 0 {
		cfg.MaxAccumulatedResults = defaults.MaxAccumulatedResults
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaults.DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaults.CacheTTL
	}
	if cfg.Backoff == (backoff.BackoffPolicy{}) {
		cfg.Backoff = defaults.Backoff
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}
	if cfg.Tracer == nil {
		cfg.Tracer = defaults.Tracer
	}
	return cfg
}
