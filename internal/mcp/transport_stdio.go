package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/nexus/internal/process"
	"github.com/haasonsaas/nexus/pkg/models"
)

// StdioTransport implements the MCP stdio transport, launching the
// server as a child process through the C10 supervisor so its
// lifecycle (start, graceful-then-forced stop) and output capture are
// shared with every other supervised process in this runtime.
type StdioTransport struct {
	config *ServerConfig
	logger *slog.Logger
	name   string

	sup   *process.Supervisor
	stdin io.WriteCloser

	pending   map[int64]chan *JSONRPCResponse
	pendingMu sync.Mutex
	events    chan *JSONRPCNotification
	requests  chan *JSONRPCRequest
	nextID    atomic.Int64

	connected atomic.Bool
	closed    chan struct{}
}

// NewStdioTransport creates a new stdio transport.
func NewStdioTransport(cfg *ServerConfig) *StdioTransport {
	logger := slog.Default().With("mcp_server", cfg.ID, "transport", "stdio")
	t := &StdioTransport{
		config:   cfg,
		logger:   logger,
		name:     cfg.ID,
		pending:  make(map[int64]chan *JSONRPCResponse),
		events:   make(chan *JSONRPCNotification, 100),
		requests: make(chan *JSONRPCRequest, 100),
		closed:   make(chan struct{}),
	}
	t.sup = process.NewSupervisor(process.Config{
		Logger: logger,
		OnOutput: func(_, stream, line string) {
			if line == "" {
				return
			}
			if stream == "stdout" {
				t.processLine(line)
			} else {
				t.logger.Debug("server stderr", "message", line)
			}
		},
		OnExit: func(info models.ProcessInfo, waitErr error, _, _ string) {
			t.connected.Store(false)
			if waitErr != nil {
				t.logger.Warn("MCP server process exited", "error", waitErr)
			}
		},
	})
	return t
}

// Connect starts the subprocess and establishes the connection.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if t.config.Command == "" {
		return fmt.Errorf("command is required for stdio transport")
	}

	env := make([]string, 0, len(t.config.Env))
	for k, v := range t.config.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	if _, err := t.sup.Start(ctx, t.name, t.config.Command, t.config.Args, env, t.config.WorkDir); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	stdin, ok := t.sup.Stdin(t.name)
	if !ok {
		return fmt.Errorf("no stdin pipe for %s", t.name)
	}
	t.stdin = stdin
	t.connected.Store(true)

	info, _ := t.sup.Info(t.name)
	pid := 0
	if info != nil {
		pid = info.PID
	}
	t.logger.Info("started MCP server process", "command", t.config.Command, "pid", pid)

	return nil
}

// Close stops the subprocess.
func (t *StdioTransport) Close() error {
	if !t.connected.CompareAndSwap(true, false) {
		return nil
	}
	close(t.closed)

	if t.stdin != nil {
		_ = t.stdin.Close()
	}

	timeout := t.config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return t.sup.Stop(t.name, timeout)
}

// Call sends a request and waits for a response.
func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	id := t.nextID.Add(1)

	req := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
	}

	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	respChan := make(chan *JSONRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()

	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	data, _ := json.Marshal(req)
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	timeout := t.config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, fmt.Errorf("MCP error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("request timeout after %v", timeout)
	case <-t.closed:
		return nil, fmt.Errorf("transport closed")
	}
}

// Notify sends a notification (no response expected).
func (t *StdioTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}

	notif := JSONRPCNotification{
		JSONRPC: "2.0",
		Method:  method,
	}

	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		notif.Params = paramsJSON
	}

	data, _ := json.Marshal(notif)
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}

	return nil
}

// Events returns the notification channel.
func (t *StdioTransport) Events() <-chan *JSONRPCNotification {
	return t.events
}

// Requests returns the channel of server-initiated requests.
func (t *StdioTransport) Requests() <-chan *JSONRPCRequest {
	return t.requests
}

// Respond sends a response to a server-initiated request.
func (t *StdioTransport) Respond(ctx context.Context, id any, result any, rpcErr *JSONRPCError) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}

	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if rpcErr == nil && result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resp.Result = data
	}

	data, _ := json.Marshal(resp)
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// Connected returns whether the transport is connected.
func (t *StdioTransport) Connected() bool {
	return t.connected.Load()
}

// processLine classifies a single JSON-RPC message arriving on stdout
// by peeking its id/method fields before fully decoding it: a message
// with both is a server-initiated request, method-only is a
// notification, id-only is a response to one of our own calls.
func (t *StdioTransport) processLine(line string) {
	var envelope struct {
		ID     any    `json:"id"`
		Method string `json:"method"`
	}
	if err := json.Unmarshal([]byte(line), &envelope); err != nil {
		t.logger.Warn("unparseable message from server", "error", err)
		return
	}

	switch {
	case envelope.Method != "" && envelope.ID != nil:
		var req JSONRPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return
		}
		select {
		case t.requests <- &req:
		default:
			t.logger.Warn("request channel full, dropping")
		}

	case envelope.Method != "":
		var notif JSONRPCNotification
		if err := json.Unmarshal([]byte(line), &notif); err != nil {
			return
		}
		select {
		case t.events <- &notif:
		default:
			t.logger.Warn("notification channel full, dropping")
		}

	case envelope.ID != nil:
		var resp JSONRPCResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			return
		}
		id, ok := normalizeID(resp.ID)
		if !ok {
			t.logger.Warn("unexpected response ID type", "id", resp.ID)
			return
		}
		t.pendingMu.Lock()
		if ch, ok := t.pending[id]; ok {
			select {
			case ch <- &resp:
			default:
			}
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
	}
}

func normalizeID(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case int64:
		return x, true
	case int:
		return int64(x), true
	default:
		return 0, false
	}
}
