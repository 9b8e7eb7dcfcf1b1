package process

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CommandLane identifies an independent FIFO queue. Lanes never block
// each other; within a lane, at most one task runs at a time. The
// supervisor uses one lane per supervised process name so that
// concurrent Start/Stop calls against the same name are serialized
// without blocking calls against a different name.
type CommandLane string

// LaneMain is used when a caller doesn't need per-key lane isolation.
const LaneMain CommandLane = "main"

// DefaultWarnAfterMs is the default threshold for warning about long wait times.
const DefaultWarnAfterMs = 2000

// QueueEntry represents a task waiting to run in a lane.
type QueueEntry struct {
	Task        func(ctx context.Context) (any, error)
	EnqueuedAt  time.Time
	WarnAfterMs int
	// OnWait fires once a task has waited past WarnAfterMs, reporting
	// how long it waited and how many entries are still ahead of it.
	OnWait func(waitMs int, queuedAhead int)

	resultCh chan any
	errCh    chan error
}

// laneState tracks one lane's queue and whether a task is currently
// running in it. Lanes run at most one task at a time.
type laneState struct {
	lane     CommandLane
	queue    []*QueueEntry
	active   bool
	draining bool
	mu       sync.Mutex
}

// EnqueueOptions configures a single EnqueueInLane call.
type EnqueueOptions struct {
	// WarnAfterMs overrides DefaultWarnAfterMs.
	WarnAfterMs int
	OnWait      func(waitMs int, queuedAhead int)
	// Context bounds how long the caller will wait for the task to
	// start and finish; it is not passed to the task itself.
	Context context.Context
}

// CommandQueue multiplexes independent single-concurrency lanes keyed
// by CommandLane, lazily creating lane state on first use.
type CommandQueue struct {
	lanes map[CommandLane]*laneState
	mu    sync.RWMutex
}

// NewCommandQueue creates an empty CommandQueue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{lanes: make(map[CommandLane]*laneState)}
}

// ensureState returns the lane's state, creating it on first access.
func (cq *CommandQueue) ensureState(lane CommandLane) *laneState {
	if lane == "" {
		lane = LaneMain
	}

	cq.mu.RLock()
	state, exists := cq.lanes[lane]
	cq.mu.RUnlock()
	if exists {
		return state
	}

	cq.mu.Lock()
	defer cq.mu.Unlock()
	if state, exists = cq.lanes[lane]; exists {
		return state
	}
	state = &laneState{lane: lane, queue: make([]*QueueEntry, 0)}
	cq.lanes[lane] = state
	return state
}

// drainLane kicks off pumping for lane if nothing is already draining it.
func (cq *CommandQueue) drainLane(lane CommandLane) {
	state := cq.ensureState(lane)

	state.mu.Lock()
	if state.draining {
		state.mu.Unlock()
		return
	}
	state.draining = true
	state.mu.Unlock()

	cq.pump(state)
}

// pump runs queued entries for state one at a time until the queue is
// empty or a task is already running.
func (cq *CommandQueue) pump(state *laneState) {
	for {
		state.mu.Lock()
		if state.active || len(state.queue) == 0 {
			state.draining = false
			state.mu.Unlock()
			return
		}

		entry := state.queue[0]
		state.queue = state.queue[1:]
		queuedAhead := len(state.queue)

		waitedMs := int(time.Since(entry.EnqueuedAt).Milliseconds())
		if waitedMs >= entry.WarnAfterMs && entry.OnWait != nil {
			entry.OnWait(waitedMs, queuedAhead)
		}

		state.active = true
		state.mu.Unlock()

		go func(e *QueueEntry) {
			result, err := e.Task(context.Background())

			state.mu.Lock()
			state.active = false
			state.mu.Unlock()

			if err != nil {
				e.errCh <- err
			} else {
				e.resultCh <- result
			}

			cq.pump(state)
		}(entry)
	}
}

// EnqueueInLane runs task in lane, serialized against every other task
// already queued in that lane, and blocks until it completes, fails,
// or opts.Context is canceled.
func EnqueueInLane[T any](cq *CommandQueue, lane CommandLane, task func(ctx context.Context) (T, error), opts *EnqueueOptions) (T, error) {
	if lane == "" {
		lane = LaneMain
	}

	warnAfterMs := DefaultWarnAfterMs
	var onWait func(int, int)
	ctx := context.Background()

	if opts != nil {
		if opts.WarnAfterMs > 0 {
			warnAfterMs = opts.WarnAfterMs
		}
		onWait = opts.OnWait
		if opts.Context != nil {
			ctx = opts.Context
		}
	}

	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)

	entry := &QueueEntry{
		Task: func(taskCtx context.Context) (any, error) {
			return task(taskCtx)
		},
		EnqueuedAt:  time.Now(),
		WarnAfterMs: warnAfterMs,
		OnWait:      onWait,
		resultCh:    resultCh,
		errCh:       errCh,
	}

	state := cq.ensureState(lane)
	state.mu.Lock()
	state.queue = append(state.queue, entry)
	state.mu.Unlock()

	cq.drainLane(lane)

	var zero T
	select {
	case result := <-resultCh:
		if result == nil {
			return zero, nil
		}
		typed, ok := result.(T)
		if !ok {
			return zero, fmt.Errorf("process: unexpected queue result type %T", result)
		}
		return typed, nil
	case err := <-errCh:
		return zero, err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// LaneStats reports a lane's queue depth at the moment of the call.
type LaneStats struct {
	Lane    CommandLane
	Pending int
	Active  bool
}

// GetLaneStats reports lane's current queue depth, for a supervisor
// diagnostics command to surface without exposing queue internals.
func (cq *CommandQueue) GetLaneStats(lane CommandLane) LaneStats {
	if lane == "" {
		lane = LaneMain
	}

	cq.mu.RLock()
	state, exists := cq.lanes[lane]
	cq.mu.RUnlock()
	if !exists {
		return LaneStats{Lane: lane}
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return LaneStats{Lane: lane, Pending: len(state.queue), Active: state.active}
}
