package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/cache"
	"github.com/haasonsaas/nexus/internal/clock"
	"github.com/haasonsaas/nexus/internal/decode"
	"github.com/haasonsaas/nexus/pkg/models"
)

// fakeProvider replays a fixed sequence of raw responses, one per call to
// Complete, repeating the last entry once exhausted.
type fakeProvider struct {
	responses []string
	calls     int
}

func (p *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++

	ch := make(chan *CompletionChunk, 1)
	ch <- &CompletionChunk{Text: p.responses[idx], Done: true}
	close(ch)
	return ch, nil
}

func (p *fakeProvider) Name() string        { return "fake" }
func (p *fakeProvider) Models() []Model     { return nil }
func (p *fakeProvider) SupportsTools() bool { return true }

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its input" }
func (echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)
}
func (echoTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var in struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(params, &in)
	return &ToolResult{Content: in.Text}, nil
}

func testSchema(t *testing.T) *decode.Schema {
	t.Helper()
	raw := json.RawMessage(`{
		"type": "object",
		"properties": {
			"response": {"type": "string"},
			"tool_calls": {"type": "array"}
		},
		"required": ["response"]
	}`)
	schema, err := decode.CompileSchema("test-response", raw)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	return schema
}

func TestClientCallReturnsImmediatelyWithNoToolCalls(t *testing.T) {
	provider := &fakeProvider{responses: []string{`{"response": "hello there"}`}}
	clk := clock.NewFake(time.Unix(0, 0))
	client := NewClient(provider, nil, DefaultClientConfig(), cache.NewResponseCache(time.Minute), clk)

	resp, err := client.Call(context.Background(), CallInput{
		UserQuery:            "say hi",
		SystemPromptTemplate: "You are helpful. {{.memory_context}}",
		OutputSchema:         testSchema(t),
	})
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if resp.Response != "hello there" {
		t.Fatalf("unexpected response: %q", resp.Response)
	}
	if provider.calls != 1 {
		t.Fatalf("expected exactly one generate call, got %d", provider.calls)
	}
}

func TestClientCallExecutesDeclaredToolCalls(t *testing.T) {
	provider := &fakeProvider{responses: []string{
		`{"response": "working", "tool_calls": [{"name": "echo", "arguments": {"text": "ping"}}]}`,
		`{"response": "done"}`,
	}}
	registry := NewToolRegistry()
	registry.Register(echoTool{})
	clk := clock.NewFake(time.Unix(0, 0))
	client := NewClient(provider, registry, DefaultClientConfig(), cache.NewResponseCache(time.Minute), clk)

	resp, err := client.Call(context.Background(), CallInput{
		UserQuery:            "ping the echo tool",
		SystemPromptTemplate: "You are helpful. Tools:\n{{.tools}}",
		OutputSchema:         testSchema(t),
	})
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if resp.Response != "done" {
		t.Fatalf("unexpected final response: %q", resp.Response)
	}
	if provider.calls != 2 {
		t.Fatalf("expected two generate calls (one per iteration), got %d", provider.calls)
	}
}

func TestClientCallNoProgressEarlyExit(t *testing.T) {
	same := `{"response": "stuck", "tool_calls": [{"name": "echo", "arguments": {"text": "x"}}]}`
	provider := &fakeProvider{responses: []string{same, same, same, same, same}}
	registry := NewToolRegistry()
	registry.Register(echoTool{})
	clk := clock.NewFake(time.Unix(0, 0))
	cfg := DefaultClientConfig()
	client := NewClient(provider, registry, cfg, cache.NewResponseCache(time.Minute), clk)

	resp, err := client.Call(context.Background(), CallInput{
		UserQuery:            "loop forever",
		SystemPromptTemplate: "{{.tools}}",
		OutputSchema:         testSchema(t),
	})
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if resp.Response != "stuck" {
		t.Fatalf("unexpected response: %q", resp.Response)
	}
	if provider.calls > 3 {
		t.Fatalf("expected no-progress bound to stop within 3 iterations, got %d calls", provider.calls)
	}
}

func TestClientCallCachesByFingerprint(t *testing.T) {
	provider := &fakeProvider{responses: []string{`{"response": "cached answer"}`}}
	clk := clock.NewFake(time.Unix(0, 0))
	respCache := cache.NewResponseCache(time.Minute)
	client := NewClient(provider, nil, DefaultClientConfig(), respCache, clk)

	in := CallInput{
		UserQuery:            "what is the weather",
		SystemPromptTemplate: "static prompt",
		OutputSchema:         testSchema(t),
	}

	first, err := client.Call(context.Background(), in)
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	second, err := client.Call(context.Background(), in)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if second.Response != first.Response {
		t.Fatalf("expected cached response to match, got %q vs %q", second.Response, first.Response)
	}
	if provider.calls != 1 {
		t.Fatalf("expected the second call to be served from cache without invoking the provider, got %d provider calls", provider.calls)
	}
}

func TestClientCallSchemaFailureExhaustsRetries(t *testing.T) {
	provider := &fakeProvider{responses: []string{"not json at all"}}
	clk := clock.NewFake(time.Unix(0, 0))
	cfg := DefaultClientConfig()
	cfg.MaxRetries = 3
	client := NewClient(provider, nil, cfg, cache.NewResponseCache(time.Minute), clk)

	_, err := client.Call(context.Background(), CallInput{
		UserQuery:            "malformed",
		SystemPromptTemplate: "static",
		OutputSchema:         testSchema(t),
	})
	if err == nil {
		t.Fatalf("expected an error for unparseable responses")
	}
	if _, ok := err.(*LLMResponseError); !ok {
		t.Fatalf("expected *LLMResponseError, got %T: %v", err, err)
	}
}

func TestDedupeAccumulateTruncatesFIFO(t *testing.T) {
	existing := []models.ToolCallOutcome{
		{Name: "tool0", Output: "out0"},
		{Name: "tool1", Output: "out1"},
		{Name: "tool2", Output: "out2"},
	}
	additions := []models.ToolCallOutcome{
		{Name: "tool3", Output: "out3"},
		{Name: "tool4", Output: "out4"},
	}
	result := dedupeAccumulate(existing, additions, 3)
	if len(result) != 3 {
		t.Fatalf("expected truncation to 3 entries, got %d", len(result))
	}
	if result[len(result)-1].Name != "tool4" {
		t.Fatalf("expected most recent entry retained, got %q", result[len(result)-1].Name)
	}
}

func TestDedupeAccumulateSkipsDuplicates(t *testing.T) {
	existing := []models.ToolCallOutcome{{Name: "echo", Output: "ping"}}
	additions := []models.ToolCallOutcome{{Name: "echo", Output: "ping"}, {Name: "echo", Output: "pong"}}
	result := dedupeAccumulate(existing, additions, 10)
	if len(result) != 2 {
		t.Fatalf("expected duplicate to be skipped, got %d entries: %+v", len(result), result)
	}
}
