package dag

import (
	"sync"

	"github.com/haasonsaas/nexus/pkg/models"
)

// TaskHandler executes the work for a single task. It is expected to call
// task.MarkDone or task.MarkFailed itself; a handler that panics or
// returns an error without marking the task is treated as a failure by
// ExecuteAll.
type TaskHandler func(task *models.Task, depResults map[string]*models.TaskResult) error

// ExecuteAll runs every task in the store to completion, processing
// topological layers in order and up to concurrency tasks within a layer
// in parallel. A task whose dependency results cannot be obtained (a
// missing, incomplete, or failed dependency) is marked failed without
// invoking handler; this means a failure in one layer can fail dependents
// in the next layer without ExecuteAll ever skipping a layer entirely.
func (s *Store) ExecuteAll(handler TaskHandler, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	layers, err := s.Layers()
	if err != nil {
		return err
	}

	for _, layer := range layers {
		s.executeLayer(layer, handler, concurrency)
	}
	return nil
}

func (s *Store) executeLayer(ids []string, handler TaskHandler, concurrency int) {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(taskID string) {
			defer wg.Done()
			defer func() { <-sem }()
			s.executeOne(taskID, handler)
		}(id)
	}
	wg.Wait()
}

func (s *Store) executeOne(id string, handler TaskHandler) {
	task, err := s.Get(id)
	if err != nil {
		return
	}
	if task.Done {
		return
	}

	depResults, err := s.GetDependencyResults(task)
	if err != nil {
		task.MarkFailed(err)
		s.RecordCompletion(id)
		return
	}

	if handlerErr := s.runHandler(handler, task, depResults); handlerErr != nil {
		task.MarkFailed(handlerErr)
	}
	s.RecordCompletion(id)
}

// runHandler invokes handler, converting a panic into an error so one
// failing task can never take down the whole ExecuteAll run.
func (s *Store) runHandler(handler TaskHandler, task *models.Task, depResults map[string]*models.TaskResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &handlerPanicError{TaskID: task.ID, Recovered: r}
		}
	}()
	return handler(task, depResults)
}

type handlerPanicError struct {
	TaskID    string
	Recovered any
}

func (e *handlerPanicError) Error() string {
	return "dag: task handler panicked for " + e.TaskID
}
