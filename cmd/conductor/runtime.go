package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agent/providers"
	"github.com/haasonsaas/nexus/internal/cache"
	"github.com/haasonsaas/nexus/internal/clock"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/delegate"
	"github.com/haasonsaas/nexus/internal/mcp"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/store"
)

// runtime bundles everything a command handler needs once config has
// been loaded: the logger, the MCP manager, the delegation pipeline,
// and the conversation-history store.
type runtime struct {
	cfg      *config.RunConfig
	logger   *observability.Logger
	slog     *slog.Logger
	mcp      *mcp.Manager
	tools    *agent.ToolRegistry
	pipeline *delegate.Pipeline
	agents   *delegate.AgentRegistry
	store    *store.SQLStore
	tracer   *observability.Tracer
	metrics  *observability.Metrics
	events   *observability.EventRecorder
	shutdown func(context.Context) error
}

// buildRuntime loads path and wires every section of the resulting
// RunConfig into the library surface below C13, per SPEC_FULL.md §4.7.
func buildRuntime(path string) (*runtime, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	baseLogger := slog.Default()

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "conductor",
		ServiceVersion: "dev",
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Attributes:     cfg.Observability.Tracing.Attributes,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
	})

	metrics := observability.NewMetrics()

	clientCfg := agent.DefaultClientConfig()
	clientCfg.MaxParallelTools = cfg.Tools.Concurrency
	clientCfg.DefaultTimeout = cfg.Tools.PerToolTimeout.Std()
	if cfg.Tools.MaxAttempts > 0 {
		clientCfg.MaxRetries = cfg.Tools.MaxAttempts
	}
	clientCfg.Logger = baseLogger
	clientCfg.Tracer = tracer
	clientCfg.Metrics = metrics

	respCache := cache.NewResponseCache(clientCfg.CacheTTL)
	masterTools := agent.NewToolRegistry()

	mcpManager := mcp.NewManager(&cfg.MCP, baseLogger)

	agents := delegate.NewAgentRegistry()

	pipelineCfg := delegate.DefaultConfig()
	pipelineCfg.ExecutionConcurrency = cfg.Pipeline.ExecutionConcurrency
	pipelineCfg.MaxFollowUpDepth = cfg.Pipeline.MaxFollowUpDepth
	pipelineCfg.ClientConfig = clientCfg
	pipelineCfg.Tracer = tracer

	pipeline, err := delegate.NewPipeline(provider, masterTools, agents, pipelineCfg, respCache, clock.Real{})
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	sqlStore, err := store.Open(context.Background(), cfg.Persistence.Driver, cfg.Persistence.DSN)
	if err != nil {
		return nil, fmt.Errorf("open persistence store: %w", err)
	}

	eventStore := observability.NewMemoryEventStore(1000)

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		slog:     baseLogger,
		mcp:      mcpManager,
		tools:    masterTools,
		pipeline: pipeline,
		agents:   agents,
		store:    sqlStore,
		tracer:   tracer,
		metrics:  metrics,
		events:   observability.NewEventRecorder(eventStore, logger),
		shutdown: shutdown,
	}, nil
}

// buildProvider selects and constructs C4's LLM provider backend from
// cfg.LLM.DefaultProvider.
func buildProvider(cfg *config.RunConfig) (agent.LLMProvider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	providerCfg, ok := cfg.LLM.Providers[name]
	if !ok {
		return nil, fmt.Errorf("no llm.providers entry for default_provider %q", name)
	}

	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  providerCfg.APIKey,
			BaseURL: providerCfg.BaseURL,
		})
	case "openai":
		return providers.NewOpenAIProvider(providerCfg.APIKey), nil
	case "google":
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey: providerCfg.APIKey,
		})
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			Region: providerCfg.Region,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}

// startMCPServers starts every configured MCP server through C10, then
// bridges each server's discovered tools/resources/prompts into the
// pipeline's master tool registry so C8's agents can call them like
// any other tool.
func startMCPServers(ctx context.Context, r *runtime) error {
	if r.mcp == nil {
		return nil
	}
	if err := r.mcp.Start(ctx); err != nil {
		return err
	}
	mcp.RegisterTools(r.tools, r.mcp)
	return nil
}

// Close releases the persistence store and flushes any pending trace
// spans. Safe to call even when tracing is disabled (shutdown is a
// no-op func in that case).
func (r *runtime) Close(ctx context.Context) error {
	storeErr := r.store.Close()
	shutdownErr := r.shutdown(ctx)
	if storeErr != nil {
		return storeErr
	}
	return shutdownErr
}

// runTraced wraps a pipeline invocation in an observability span and
// records request metrics, mirroring how the teacher instruments its
// own request handlers.
func runTraced(ctx context.Context, rt *runtime, query string) (*delegate.Report, error) {
	ctx, span := rt.tracer.Start(ctx, "pipeline.run")
	defer span.End()

	runID := uuid.NewString()
	ctx = observability.AddRunID(ctx, runID)
	_ = rt.events.RecordRunStart(ctx, runID, map[string]interface{}{"query": query})
	observability.EmitRunAttempt(&observability.RunAttemptEvent{RunID: runID, Attempt: 1})

	start := clock.Real{}.Now()
	report, err := rt.pipeline.Run(ctx, query)
	elapsed := clock.Real{}.Now().Sub(start)

	status := "ok"
	if err != nil || (report != nil && !report.Success) {
		status = "error"
		rt.tracer.RecordError(span, err)
	}
	rt.metrics.RecordLLMRequest(rt.cfg.LLM.DefaultProvider, "", status, elapsed.Seconds(), 0, 0)
	_ = rt.events.RecordRunEnd(ctx, elapsed, err)

	return report, err
}
