package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/haasonsaas/nexus/internal/backoff"
	"github.com/haasonsaas/nexus/internal/cache"
	"github.com/haasonsaas/nexus/internal/clock"
	"github.com/haasonsaas/nexus/internal/decode"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Client is C4: given a user query, system prompt, tool registry, and
// output schema, it runs the tool-call loop described in spec.md §4.1 and
// returns a decoded StructuredResponse.
//
// The loop alternates two phases up to cfg.MaxRetries iterations:
//
//	generate: call the provider, decode the raw text against outputSchema
//	act:      if the decoded response declares tool calls, execute them
//	          (bounded parallelism), fold the results into the next
//	          generate's user query, and continue
//
// It stops early when the model declares no tool calls, when two
// consecutive raw responses are byte-identical ("no progress"), or when
// cfg.MaxRetries is reached.
type Client struct {
	provider LLMProvider
	registry *ToolRegistry
	cfg      ClientConfig
	respCache *cache.ResponseCache
	clk      clock.Clock
}

// NewClient constructs a Client bound to one provider and tool registry.
// registry may be nil for calls that never declare tool calls.
func NewClient(provider LLMProvider, registry *ToolRegistry, cfg ClientConfig, respCache *cache.ResponseCache, clk clock.Clock) *Client {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Client{
		provider:  provider,
		registry:  registry,
		cfg:       sanitizeClientConfig(cfg),
		respCache: respCache,
		clk:       clk,
	}
}

// CallInput bundles the inputs to one Call invocation.
type CallInput struct {
	UserQuery            string
	SystemPromptTemplate string
	PromptKwargs         map[string]string
	OutputSchema         *decode.Schema
}

// rawModelResponse is the shape a model is instructed to emit; it is the
// per-iteration decode target, distinct from the StructuredResponse
// eventually returned to the caller (which never carries a pending
// tool_calls list since the loop only returns once none remain).
type rawModelResponse struct {
	Response        string               `json:"response"`
	Diagnostics     models.Diagnostics   `json:"diagnostics"`
	ToolCalls       []requestedToolCall  `json:"tool_calls,omitempty"`
	FollowUpQueries []string             `json:"follow_up_queries,omitempty"`
}

type requestedToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Call runs the tool-call loop and returns a decoded StructuredResponse.
func (c *Client) Call(ctx context.Context, in CallInput) (*models.StructuredResponse, error) {
	ctx, span := c.cfg.Tracer.Start(ctx, "agent.call")
	defer span.End()

	start := c.clk.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DefaultTimeout)
	defer cancel()

	renderedPrompt, err := c.renderSystemPrompt(in)
	if err != nil {
		return nil, fmt.Errorf("agent: render system prompt: %w", err)
	}

	schemaID := ""
	if in.OutputSchema != nil {
		schemaID = in.OutputSchema.ID
	}
	var toolNames []string
	if c.registry != nil {
		toolNames = c.registry.Names()
	}
	fingerprint := cache.Fingerprint(in.UserQuery, renderedPrompt, toolNames, schemaID)

	if c.respCache != nil {
		if cached, ok := c.respCache.Get(fingerprint, c.clk.Now()); ok {
			return cached, nil
		}
	}

	currentQuery := in.UserQuery
	var accumulated []models.ToolCallOutcome
	var lastRaw string
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		c.cfg.Tracer.AddEvent(span, "loop_iteration", "attempt", attempt)

		if deadline, ok := ctx.Deadline(); ok && c.clk.Now().After(deadline) {
			return nil, &ClientTimeoutError{Elapsed: c.clk.Now().Sub(start).String()}
		}

		raw, genErr := c.generate(ctx, renderedPrompt, currentQuery)
		if genErr != nil {
			lastErr = genErr
			if attempt == c.cfg.MaxRetries-1 {
				c.recordAttempt("failed")
				return nil, &RetryExhaustedError{Attempts: attempt + 1, Cause: genErr}
			}
			c.recordAttempt("retry")
			c.sleepBackoff(ctx, attempt)
			continue
		}

		decoded, decErr := decode.Decode(in.OutputSchema, raw)
		if decErr != nil {
			lastErr = decErr
			if attempt == c.cfg.MaxRetries-1 {
				c.recordAttempt("failed")
				return nil, &LLMResponseError{RawTruncated: truncate(raw, 500), SchemaID: schemaID, Cause: decErr}
			}
			c.recordAttempt("retry")
			c.sleepBackoff(ctx, attempt)
			continue
		}

		resp, parsed, parseErr := parseRawResponse(decoded)
		if parseErr != nil {
			lastErr = parseErr
			if attempt == c.cfg.MaxRetries-1 {
				c.recordAttempt("failed")
				return nil, &LLMResponseError{RawTruncated: truncate(raw, 500), SchemaID: schemaID, Cause: parseErr}
			}
			c.recordAttempt("retry")
			c.sleepBackoff(ctx, attempt)
			continue
		}

		// "No progress" early exit: two consecutive byte-identical raw
		// responses bound the loop to at most 3 iterations regardless of
		// MaxRetries.
		if lastRaw != "" && raw == lastRaw {
			c.recordAttempt("success")
			c.cacheAndReturn(fingerprint, resp)
			return resp, nil
		}
		lastRaw = raw

		if len(parsed.ToolCalls) == 0 {
			c.recordAttempt("success")
			c.cacheAndReturn(fingerprint, resp)
			return resp, nil
		}

		if c.registry == nil {
			// No registry to execute declared tool calls against; surface
			// the response as-is rather than looping forever.
			c.recordAttempt("success")
			c.cacheAndReturn(fingerprint, resp)
			return resp, nil
		}

		outcomes := c.actOnToolCalls(ctx, parsed.ToolCalls)
		accumulated = dedupeAccumulate(accumulated, outcomes, c.cfg.MaxAccumulatedResults)
		currentQuery = reformatQueryWithToolResults(in.UserQuery, accumulated)
	}

	c.recordAttempt("failed")
	if lastErr != nil {
		return nil, &RetryExhaustedError{Attempts: c.cfg.MaxRetries, Cause: lastErr}
	}
	return nil, &RetryExhaustedError{Attempts: c.cfg.MaxRetries, Cause: fmt.Errorf("max retries exceeded without a final response")}
}

// recordAttempt records a loop-attempt outcome if metrics are configured.
func (c *Client) recordAttempt(status string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordRunAttempt(status)
	}
}

// CallDecoded runs a single generate-and-decode pass against in's schema,
// retrying decode failures up to cfg.MaxRetries times, and returns the
// decoded object verbatim rather than folding it into a
// StructuredResponse. It never executes tool calls. This is the form C8's
// one-shot structured prompts (task generation, agent assignment) use,
// since their output shape is not a StructuredResponse.
func (c *Client) CallDecoded(ctx context.Context, in CallInput) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DefaultTimeout)
	defer cancel()

	renderedPrompt, err := c.renderSystemPrompt(in)
	if err != nil {
		return nil, fmt.Errorf("agent: render system prompt: %w", err)
	}

	schemaID := ""
	if in.OutputSchema != nil {
		schemaID = in.OutputSchema.ID
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		raw, genErr := c.generate(ctx, renderedPrompt, in.UserQuery)
		if genErr != nil {
			lastErr = genErr
			if attempt == c.cfg.MaxRetries-1 {
				return nil, &RetryExhaustedError{Attempts: attempt + 1, Cause: genErr}
			}
			c.sleepBackoff(ctx, attempt)
			continue
		}

		decoded, decErr := decode.Decode(in.OutputSchema, raw)
		if decErr != nil {
			lastErr = decErr
			if attempt == c.cfg.MaxRetries-1 {
				return nil, &LLMResponseError{RawTruncated: truncate(raw, 500), SchemaID: schemaID, Cause: decErr}
			}
			c.sleepBackoff(ctx, attempt)
			continue
		}
		return decoded, nil
	}
	return nil, &RetryExhaustedError{Attempts: c.cfg.MaxRetries, Cause: lastErr}
}

func (c *Client) cacheAndReturn(fingerprint string, resp *models.StructuredResponse) {
	if c.respCache != nil {
		c.respCache.Put(fingerprint, resp, c.clk.Now())
	}
}

// generate invokes the provider once and concatenates the streamed text
// into one raw response string.
func (c *Client) generate(ctx context.Context, systemPrompt, userQuery string) (string, error) {
	req := &CompletionRequest{
		System: systemPrompt,
		Messages: []CompletionMessage{
			{Role: "user", Content: userQuery},
		},
	}
	chunks, err := c.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		sb.WriteString(chunk.Text)
		if chunk.Done {
			break
		}
	}
	return sb.String(), nil
}

// actOnToolCalls executes the model's declared tool calls with a
// concurrency bound of cfg.MaxParallelTools. Per-tool failures never
// propagate; they become {name, output, error} records fed back to the
// model on the next iteration.
func (c *Client) actOnToolCalls(ctx context.Context, calls []requestedToolCall) []models.ToolCallOutcome {
	execCfg := DefaultToolExecConfig()
	execCfg.Concurrency = c.cfg.MaxParallelTools
	execCfg.Metrics = c.cfg.Metrics
	executor := NewToolExecutor(c.registry, execCfg)

	toolCalls := make([]models.ToolCall, len(calls))
	for i, tc := range calls {
		args, _ := json.Marshal(tc.Arguments)
		toolCalls[i] = models.ToolCall{ID: fmt.Sprintf("call_%d", i), Name: tc.Name, Input: args}
	}

	results := executor.ExecuteConcurrently(ctx, toolCalls, nil)
	outcomes := make([]models.ToolCallOutcome, len(results))
	for i, r := range results {
		outcome := models.ToolCallOutcome{Name: r.ToolCall.Name, Output: r.Result.Content}
		if r.Result.IsError {
			outcome.Error = r.Result.Content
		}
		outcomes[i] = outcome
	}
	return outcomes
}

// renderSystemPrompt fills the template with prompt_kwargs plus the two
// implicit slots (tools, output_format_str) and an always-present
// memory_context default, per spec.md §4.1.
func (c *Client) renderSystemPrompt(in CallInput) (string, error) {
	tmpl, err := template.New("system").Parse(in.SystemPromptTemplate)
	if err != nil {
		return "", err
	}

	data := map[string]string{
		"memory_context":    "",
		"tools":             renderToolDeclarations(c.registry),
		"output_format_str": renderOutputFormat(in.OutputSchema),
	}
	for k, v := range in.PromptKwargs {
		data[k] = v
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func renderToolDeclarations(registry *ToolRegistry) string {
	if registry == nil {
		return ""
	}
	decls := registry.Declarations()
	sort.Slice(decls, func(i, j int) bool { return decls[i].Name < decls[j].Name })
	var sb strings.Builder
	for _, d := range decls {
		fmt.Fprintf(&sb, "- %s: %s\n  schema: %s\n", d.Name, d.Description, string(d.Schema))
	}
	return sb.String()
}

func renderOutputFormat(schema *decode.Schema) string {
	if schema == nil {
		return ""
	}
	return fmt.Sprintf("Respond with a JSON object conforming to schema %q.", schema.ID)
}

func parseRawResponse(decoded map[string]any) (*models.StructuredResponse, *rawModelResponse, error) {
	buf, err := json.Marshal(decoded)
	if err != nil {
		return nil, nil, err
	}
	var parsed rawModelResponse
	if err := json.Unmarshal(buf, &parsed); err != nil {
		return nil, nil, err
	}
	resp := &models.StructuredResponse{
		Response:        parsed.Response,
		Diagnostics:     parsed.Diagnostics,
		FollowUpQueries: parsed.FollowUpQueries,
	}
	return resp, &parsed, nil
}

// dedupeAccumulate appends outcomes not already present by (name, output)
// equality, then truncates from the front to at most max entries so the
// most-recent results are retained.
func dedupeAccumulate(existing, additions []models.ToolCallOutcome, max int) []models.ToolCallOutcome {
	seen := make(map[string]struct{}, len(existing))
	for _, o := range existing {
		seen[dedupeKey(o)] = struct{}{}
	}
	result := append([]models.ToolCallOutcome(nil), existing...)
	for _, o := range additions {
		key := dedupeKey(o)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, o)
	}
	if max > 0 && len(result) > max {
		result = result[len(result)-max:]
	}
	return result
}

func dedupeKey(o models.ToolCallOutcome) string {
	return o.Name + "\x00" + o.Output
}

// reformatQueryWithToolResults rewrites the user query to include the
// accumulated tool outputs ahead of the next generate phase, per
// spec.md §4.1's "Tool Calls Results:" framing.
func reformatQueryWithToolResults(original string, accumulated []models.ToolCallOutcome) string {
	var sb strings.Builder
	sb.WriteString(original)
	sb.WriteString("\n\nTool Calls Results:\n")
	for _, o := range accumulated {
		if o.Error != "" {
			fmt.Fprintf(&sb, "- %s: error: %s\n", o.Name, o.Error)
		} else {
			fmt.Fprintf(&sb, "- %s: %s\n", o.Name, o.Output)
		}
	}
	return sb.String()
}

// sleepBackoff waits before the next retry. The first retry (attempt 0)
// never sleeps; backoff only applies starting with the second attempt.
func (c *Client) sleepBackoff(ctx context.Context, attempt int) {
	if attempt == 0 {
		return
	}
	d := backoff.ComputeBackoff(c.cfg.Backoff, attempt)
	select {
	case <-c.clk.After(d):
	case <-ctx.Done():
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
