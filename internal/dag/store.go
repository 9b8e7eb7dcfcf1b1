// Package dag implements C5 (the task store) and C6 (the dependency-DAG
// scheduler): an in-memory, mutex-guarded map of models.Task keyed by ID,
// a reverse dependents index, cached topological layering, and bounded
// concurrent layer-by-layer execution.
package dag

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ErrDuplicateTask is returned by Add when a task with the same ID is
// already present.
type ErrDuplicateTask struct{ ID string }

func (e *ErrDuplicateTask) Error() string { return fmt.Sprintf("dag: duplicate task id %q", e.ID) }

// ErrTaskNotFound is returned by Get and GetDependencyResults when a
// referenced task ID is absent.
type ErrTaskNotFound struct{ ID string }

func (e *ErrTaskNotFound) Error() string { return fmt.Sprintf("dag: task not found: %q", e.ID) }

// ErrMissingDependency is returned by ValidateDependencies when a task
// names a dependency that does not exist in the store.
type ErrMissingDependency struct {
	TaskID string
	DepID  string
}

func (e *ErrMissingDependency) Error() string {
	return fmt.Sprintf("dag: missing dependency: %s (required by %s)", e.DepID, e.TaskID)
}

// ErrCyclicDependency is returned by Layers when the dependency graph
// contains a cycle. Cycle carries every task ID involved in the
// strongly-connected component the DFS detected.
type ErrCyclicDependency struct{ Cycle []string }

func (e *ErrCyclicDependency) Error() string {
	return fmt.Sprintf("dag: cyclic dependency among tasks: %s", strings.Join(e.Cycle, ", "))
}

// ErrDependencyNotReady is returned by GetDependencyResults when a
// dependency exists but has not completed successfully.
type ErrDependencyNotReady struct {
	TaskID string
	DepID  string
	Reason string
}

func (e *ErrDependencyNotReady) Error() string {
	return fmt.Sprintf("dag: dependency %s of task %s is not ready: %s", e.DepID, e.TaskID, e.Reason)
}

// StoreConfig bounds the store's memory footprint.
type StoreConfig struct {
	// MaxCompletedTasks evicts the oldest-completed task (by CompletedAt)
	// once the completed count exceeds this bound. Zero means unbounded.
	MaxCompletedTasks int

	// ResultSizeLimit bounds the cumulative UTF-8 byte size of completed
	// task results. When a new result would exceed it, the oldest
	// completed task's Result is dropped (the task itself, and its
	// completed-metadata, is retained). Zero means unbounded.
	ResultSizeLimit int
}

// DefaultStoreConfig returns an unbounded configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{}
}

// Store is C5: the task store. All operations are safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	tasks      map[string]*models.Task
	dependents map[string][]string // depID -> task IDs that depend on it
	order      []string            // insertion order, for stable layer sort
	index      map[string]int      // id -> insertion index

	completedOrder []string // completed task IDs, oldest first by CompletedAt
	resultBytes    int

	cfg StoreConfig

	layersDirty bool
	layersCache [][]string
	layersErr   error
}

// NewStore creates an empty store with the given bounds.
func NewStore(cfg StoreConfig) *Store {
	return &Store{
		tasks:       make(map[string]*models.Task),
		dependents:  make(map[string][]string),
		index:       make(map[string]int),
		cfg:         cfg,
		layersDirty: true,
	}
}

// Add registers a new task. Returns ErrDuplicateTask if task.ID is
// already present.
func (s *Store) Add(task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return &ErrDuplicateTask{ID: task.ID}
	}

	s.tasks[task.ID] = task
	s.index[task.ID] = len(s.order)
	s.order = append(s.order, task.ID)
	for _, dep := range task.Dependencies {
		s.dependents[dep] = append(s.dependents[dep], task.ID)
	}
	s.layersDirty = true
	return nil
}

// Get returns the task with the given ID.
func (s *Store) Get(id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, &ErrTaskNotFound{ID: id}
	}
	return task, nil
}

// IsAllComplete reports whether every task in the store is Done.
func (s *Store) IsAllComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if !t.Done {
			return false
		}
	}
	return true
}

// ValidateDependencies checks that every task's declared dependencies
// exist in the store.
func (s *Store) ValidateDependencies() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		for _, dep := range t.Dependencies {
			if _, ok := s.tasks[dep]; !ok {
				return &ErrMissingDependency{TaskID: t.ID, DepID: dep}
			}
		}
	}
	return nil
}

// GetDependencyResults returns the completed results of task's declared
// dependencies, keyed by dependency ID. It fails if any dependency is
// missing, not yet done, or completed with an error.
func (s *Store) GetDependencyResults(task *models.Task) (map[string]*models.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make(map[string]*models.TaskResult, len(task.Dependencies))
	for _, dep := range task.Dependencies {
		depTask, ok := s.tasks[dep]
		if !ok {
			return nil, &ErrMissingDependency{TaskID: task.ID, DepID: dep}
		}
		if !depTask.Done {
			return nil, &ErrDependencyNotReady{TaskID: task.ID, DepID: dep, Reason: "not yet done"}
		}
		if depTask.Error != "" {
			return nil, &ErrDependencyNotReady{TaskID: task.ID, DepID: dep, Reason: "completed with error: " + depTask.Error}
		}
		results[dep] = depTask.Result
	}
	return results, nil
}

// RecordCompletion updates the store's memory-bound bookkeeping after a
// task transitions to Done. It evicts the oldest completed task's result
// (per ResultSizeLimit) and the oldest completed task entirely (per
// MaxCompletedTasks) as needed. Callers invoke this once per task
// completion; the scheduler in executor.go does so automatically.
func (s *Store) RecordCompletion(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || !task.Done {
		return
	}

	s.completedOrder = append(s.completedOrder, id)
	if task.Result != nil {
		s.resultBytes += len(task.Result.Response)
	}

	if s.cfg.ResultSizeLimit > 0 {
		for s.resultBytes > s.cfg.ResultSizeLimit && len(s.completedOrder) > 0 {
			oldestID := s.dropOldestResult()
			if oldestID == "" {
				break
			}
		}
	}

	if s.cfg.MaxCompletedTasks > 0 {
		for s.countCompletedLocked() > s.cfg.MaxCompletedTasks {
			if !s.evictOldestCompletedLocked() {
				break
			}
		}
	}
}

// dropOldestResult drops the Result (not the task) of the oldest
// completed task that still carries one, freeing its bytes from the
// running total. Returns the task ID whose result was dropped, or "" if
// no completed task still carries a result.
func (s *Store) dropOldestResult() string {
	for _, id := range s.completedOrder {
		task, ok := s.tasks[id]
		if !ok || task.Result == nil {
			continue
		}
		s.resultBytes -= len(task.Result.Response)
		task.Result = nil
		return id
	}
	return ""
}

func (s *Store) countCompletedLocked() int {
	n := 0
	for _, t := range s.tasks {
		if t.Done {
			n++
		}
	}
	return n
}

// evictOldestCompletedLocked removes the oldest-completed task entirely
// (by CompletedAt, falling back to completedOrder insertion order on
// ties). Reports whether a task was evicted.
func (s *Store) evictOldestCompletedLocked() bool {
	if len(s.completedOrder) == 0 {
		return false
	}

	oldestIdx := -1
	var oldestTime time.Time
	for i, id := range s.completedOrder {
		task, ok := s.tasks[id]
		if !ok {
			continue
		}
		if oldestIdx == -1 || task.CompletedAt.Before(oldestTime) {
			oldestIdx = i
			oldestTime = task.CompletedAt
		}
	}
	if oldestIdx == -1 {
		return false
	}

	id := s.completedOrder[oldestIdx]
	s.completedOrder = append(s.completedOrder[:oldestIdx], s.completedOrder[oldestIdx+1:]...)
	if task, ok := s.tasks[id]; ok && task.Result != nil {
		s.resultBytes -= len(task.Result.Response)
	}
	delete(s.tasks, id)
	delete(s.index, id)
	s.layersDirty = true
	return true
}

// Layers returns the tasks grouped into topological layers: layer 0
// contains tasks with no dependencies, layer k+1 contains tasks whose
// dependencies are all satisfied by layers 0..k. Within a layer, tasks
// are ordered by descending priority, then by insertion order (the
// tie-break adopted for the priority-ordering open question). The result
// is cached and invalidated by Add or by completed-task eviction.
func (s *Store) Layers() ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.layersDirty {
		return s.layersCache, s.layersErr
	}

	layers, err := s.computeLayersLocked()
	s.layersCache = layers
	s.layersErr = err
	s.layersDirty = false
	return layers, err
}

func (s *Store) computeLayersLocked() ([][]string, error) {
	if cycle := s.findCycleLocked(); cycle != nil {
		return nil, &ErrCyclicDependency{Cycle: cycle}
	}

	remaining := make(map[string][]string, len(s.tasks))
	for id, t := range s.tasks {
		deps := make([]string, 0, len(t.Dependencies))
		for _, d := range t.Dependencies {
			if _, ok := s.tasks[d]; ok {
				deps = append(deps, d)
			}
		}
		remaining[id] = deps
	}

	var layers [][]string
	placed := make(map[string]bool, len(s.tasks))

	for len(placed) < len(s.tasks) {
		var layer []string
		for id, deps := range remaining {
			if placed[id] {
				continue
			}
			ready := true
			for _, d := range deps {
				if !placed[d] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			// Should be unreachable: the cycle check above should have
			// caught this. Defensive fallback, not a silent hang.
			return nil, &ErrCyclicDependency{Cycle: unplacedIDs(s.tasks, placed)}
		}

		sort.Slice(layer, func(i, j int) bool {
			ti, tj := s.tasks[layer[i]], s.tasks[layer[j]]
			if ti.Priority != tj.Priority {
				return ti.Priority > tj.Priority
			}
			return s.index[layer[i]] < s.index[layer[j]]
		})

		for _, id := range layer {
			placed[id] = true
		}
		layers = append(layers, layer)
	}

	return layers, nil
}

func unplacedIDs(tasks map[string]*models.Task, placed map[string]bool) []string {
	var ids []string
	for id := range tasks {
		if !placed[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// findCycleLocked runs a DFS cycle check over the dependency graph and
// returns the offending task IDs, or nil if the graph is acyclic.
func (s *Store) findCycleLocked() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(s.tasks))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		task, ok := s.tasks[id]
		if ok {
			for _, dep := range task.Dependencies {
				if _, exists := s.tasks[dep]; !exists {
					continue
				}
				switch color[dep] {
				case white:
					if visit(dep) {
						return true
					}
				case gray:
					cycle = append([]string(nil), stack...)
					cycle = append(cycle, dep)
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// VisualizeDependencies renders a textual tree of the dependency graph,
// rooted at each task with no dependents, followed by a section listing
// orphaned tasks (tasks with dependencies that are themselves unreachable
// from any root, e.g. participants in a cycle).
func (s *Store) VisualizeDependencies() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hasDependent := make(map[string]bool, len(s.tasks))
	for dep, deps := range s.dependents {
		if len(deps) > 0 {
			hasDependent[dep] = true
		}
	}

	var roots []string
	for id := range s.tasks {
		if !hasDependent[id] {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)

	var sb strings.Builder
	visited := make(map[string]bool, len(s.tasks))
	for _, root := range roots {
		s.writeNode(&sb, root, 0, visited)
	}

	var orphans []string
	for id := range s.tasks {
		if !visited[id] {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		sort.Strings(orphans)
		sb.WriteString("\norphans (unreachable from any root, likely cyclic):\n")
		for _, id := range orphans {
			fmt.Fprintf(&sb, "  - %s\n", id)
		}
	}

	return sb.String()
}

func (s *Store) writeNode(sb *strings.Builder, id string, depth int, visited map[string]bool) {
	if visited[id] {
		return
	}
	visited[id] = true
	task := s.tasks[id]
	status := "pending"
	if task != nil && task.Done {
		status = "done"
		if task.Error != "" {
			status = "failed"
		}
	}
	fmt.Fprintf(sb, "%s%s [%s]\n", strings.Repeat("  ", depth), id, status)
	children := append([]string(nil), s.dependents[id]...)
	sort.Strings(children)
	for _, child := range children {
		s.writeNode(sb, child, depth+1, visited)
	}
}
