package delegate

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/cache"
	"github.com/haasonsaas/nexus/internal/clock"
	"github.com/haasonsaas/nexus/internal/dag"
	"github.com/haasonsaas/nexus/internal/decode"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Config holds the prompt templates and bounds the delegation pipeline
// (C8) uses to drive C4 calls for task generation, agent assignment, and
// task execution.
type Config struct {
	ManagerPromptTemplate string
	RouterPromptTemplate  string
	TaskPromptTemplate    string

	// ExecutionConcurrency bounds how many tasks within one dependency
	// layer run in parallel (forwarded to dag.Store.ExecuteAll).
	ExecutionConcurrency int

	// MaxFollowUpDepth bounds follow-up recursion in C7's executeTask.
	MaxFollowUpDepth int

	StoreConfig dag.StoreConfig

	// ClientConfig bounds every C4 call the pipeline makes, including
	// the per-agent scoped clients built in clientForAgent. Zero value
	// falls back to agent.DefaultClientConfig().
	ClientConfig agent.ClientConfig

	// Tracer spans each delegation-pipeline node. Nil falls back to a
	// no-op tracer.
	Tracer *observability.Tracer
}

// DefaultConfig returns baseline prompts and bounds.
func DefaultConfig() Config {
	return Config{
		ManagerPromptTemplate: "You are a task planning manager. Break the user's query into zero or more tasks grouped by required capability, with dependencies and priority where relevant. A trivial query needs no tasks.\n{{.output_format_str}}",
		RouterPromptTemplate:  "You are an agent router. Match each task to the single best-suited agent by capability.\n{{.output_format_str}}",
		TaskPromptTemplate:    "You are an assigned execution agent.\n{{.memory_context}}\n{{.tools}}\n{{.output_format_str}}",
		ExecutionConcurrency:  4,
		MaxFollowUpDepth:      2,
		StoreConfig:           dag.DefaultStoreConfig(),
		ClientConfig:          agent.DefaultClientConfig(),
		Tracer:                noopTracer(),
	}
}

func noopTracer() *observability.Tracer {
	tracer, _ := observability.NewTracer(observability.TraceConfig{})
	return tracer
}

// Pipeline is C8: the delegation state machine
// generate_tasks -> assign_agents -> execute_tasks -> handle_results.
type Pipeline struct {
	provider    agent.LLMProvider
	masterTools *agent.ToolRegistry
	agents      *AgentRegistry
	cfg         Config
	clk         clock.Clock
	respCache   *cache.ResponseCache

	client *agent.Client // unscoped client for generate_tasks/assign_agents

	taskSchema       *decode.Schema
	assignmentSchema *decode.Schema
	executionSchema  *decode.Schema

	mu           sync.Mutex
	agentClients map[string]*agent.Client
}

// NewPipeline constructs a Pipeline. provider is the shared LLM backend;
// masterTools is C2's full tool registry, from which each agent's
// declared ToolNames are scoped into a private sub-registry per call.
func NewPipeline(provider agent.LLMProvider, masterTools *agent.ToolRegistry, agents *AgentRegistry, cfg Config, respCache *cache.ResponseCache, clk clock.Clock) (*Pipeline, error) {
	taskSchema, err := TasksSchema()
	if err != nil {
		return nil, fmt.Errorf("delegate: compile tasks schema: %w", err)
	}
	assignmentSchema, err := AssignmentsSchema()
	if err != nil {
		return nil, fmt.Errorf("delegate: compile assignments schema: %w", err)
	}
	executionSchema, err := ExecutionSchema()
	if err != nil {
		return nil, fmt.Errorf("delegate: compile execution schema: %w", err)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.ClientConfig == (agent.ClientConfig{}) {
		cfg.ClientConfig = agent.DefaultClientConfig()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noopTracer()
	}

	return &Pipeline{
		provider:         provider,
		masterTools:      masterTools,
		agents:           agents,
		cfg:              cfg,
		clk:              clk,
		respCache:        respCache,
		client:           agent.NewClient(provider, nil, cfg.ClientConfig, respCache, clk),
		taskSchema:       taskSchema,
		assignmentSchema: assignmentSchema,
		executionSchema:  executionSchema,
		agentClients:     make(map[string]*agent.Client),
	}, nil
}

// clientForAgent returns (creating and caching if needed) a Client whose
// tool registry is scoped to agentRecord.ToolNames, a subset of the
// master registry.
func (p *Pipeline) clientForAgent(agentRecord models.Agent) *agent.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.agentClients[agentRecord.Name]; ok {
		return c
	}

	scoped := agent.NewToolRegistry()
	for _, name := range agentRecord.ToolNames {
		if tool, ok := p.masterTools.Get(name); ok {
			scoped.Register(tool)
		}
	}
	c := agent.NewClient(p.provider, scoped, p.cfg.ClientConfig, p.respCache, p.clk)
	p.agentClients[agentRecord.Name] = c
	return c
}

func callInputFor(systemPromptTemplate, userQuery string, schema *decode.Schema) agent.CallInput {
	return agent.CallInput{
		UserQuery:            userQuery,
		SystemPromptTemplate: systemPromptTemplate,
		OutputSchema:         schema,
	}
}

// Run executes the full delegation pipeline for one user query and
// returns the synthesized Report. Node failure resets in-flight task and
// result state and terminates directly at handle_results with an error
// report, per spec.md §4.3.
func (p *Pipeline) Run(ctx context.Context, query string) (*Report, error) {
	genCtx, genSpan := p.cfg.Tracer.Start(ctx, "pipeline.generate_tasks")
	tasks, err := p.generateTasks(genCtx, query)
	p.cfg.Tracer.RecordError(genSpan, err)
	genSpan.End()
	if err != nil {
		return p.handleResults(nil, nil, fmt.Errorf("generate_tasks failed: %w", err)), nil
	}

	if len(tasks) == 0 {
		return p.handleResults(nil, nil, nil), nil
	}

	refs := make([]taskRef, len(tasks))
	for i, t := range tasks {
		refs[i] = taskRef{ID: t.ID, Description: t.Description}
	}

	assignCtx, assignSpan := p.cfg.Tracer.Start(ctx, "pipeline.assign_agents")
	assignments, err := p.assignAgents(assignCtx, refs)
	p.cfg.Tracer.RecordError(assignSpan, err)
	assignSpan.End()
	if err != nil {
		return p.handleResults(tasks, nil, fmt.Errorf("assign_agents failed: %w", err)), nil
	}
	for _, t := range tasks {
		t.AgentID = assignments[t.ID]
	}

	store := dag.NewStore(p.cfg.StoreConfig)
	for _, t := range tasks {
		if err := store.Add(t); err != nil {
			return p.handleResults(tasks, nil, fmt.Errorf("execute_tasks failed to register task %q: %w", t.ID, err)), nil
		}
	}

	execCtx, execSpan := p.cfg.Tracer.Start(ctx, "pipeline.execute_tasks")
	execErr := store.ExecuteAll(func(task *models.Task, depResults map[string]*models.TaskResult) error {
		result, err := p.executeTask(execCtx, task, depResults, query)
		if err != nil {
			return err
		}
		task.MarkDone(result)
		return nil
	}, p.cfg.ExecutionConcurrency)
	p.cfg.Tracer.RecordError(execSpan, execErr)
	execSpan.End()
	if execErr != nil {
		return p.handleResults(tasks, nil, fmt.Errorf("execute_tasks failed: %w", execErr)), nil
	}

	_, resultSpan := p.cfg.Tracer.Start(ctx, "pipeline.handle_results")
	defer resultSpan.End()
	return p.handleResults(tasks, store, nil), nil
}
