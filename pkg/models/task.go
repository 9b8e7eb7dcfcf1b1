// Package models holds the shared data types passed between the scheduler,
// the executor, and the agent router: tasks, agents, structured LLM
// responses, cache entries, and the runtime records for supervised
// processes and pooled connections.
package models

import "time"

// Task is a single unit of work in a dependency graph. A task is assigned to
// at most one agent and carries zero or more operations that the agent
// performs in sequence.
//
// Invariant: Done implies Result != nil or Error != "".
// Invariant: Error != "" implies Result == nil.
type Task struct {
	ID           string         `json:"id"`
	Description  string         `json:"description"`
	Operations   []string       `json:"operations,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Priority     int            `json:"priority"`
	AgentID      string         `json:"agent_id,omitempty"`
	Result       *TaskResult    `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	Done         bool           `json:"done"`
	CreatedAt    time.Time      `json:"created_at"`
	CompletedAt  time.Time      `json:"completed_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// TaskResult is the combined output of all operations a task performed.
type TaskResult struct {
	Response string `json:"response"`
	// Description carries the originating task's Description, copied in
	// by MarkDone, so a dependent task's prompt can cite what a
	// dependency was for alongside its result.
	Description string `json:"description,omitempty"`
}

// Reset clears execution state so the task can be run again. Identifier,
// description, operations, dependencies and priority are left untouched.
func (t *Task) Reset() {
	t.Result = nil
	t.Error = ""
	t.Done = false
	t.CompletedAt = time.Time{}
}

// MarkDone records a successful result and marks the task complete.
func (t *Task) MarkDone(result *TaskResult) {
	if result != nil {
		result.Description = t.Description
	}
	t.Result = result
	t.Error = ""
	t.Done = true
	t.CompletedAt = time.Now()
}

// MarkFailed records a failure and marks the task complete. A failed task
// never carries a result.
func (t *Task) MarkFailed(err error) {
	if err != nil {
		t.Error = err.Error()
	}
	t.Result = nil
	t.Done = true
	t.CompletedAt = time.Now()
}

// Clone returns a deep-enough copy of the task for safe concurrent reads;
// the Metadata map is shared (read-only by convention).
func (t *Task) Clone() *Task {
	clone := *t
	clone.Operations = append([]string(nil), t.Operations...)
	clone.Dependencies = append([]string(nil), t.Dependencies...)
	return &clone
}
