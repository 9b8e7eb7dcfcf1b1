package dag

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestExecuteAllRunsLayersInOrder(t *testing.T) {
	s := NewStore(DefaultStoreConfig())
	_ = s.Add(newTask("root", nil, 0))
	_ = s.Add(newTask("child", []string{"root"}, 0))

	var order []string
	err := s.ExecuteAll(func(task *models.Task, deps map[string]*models.TaskResult) error {
		order = append(order, task.ID)
		task.MarkDone(&models.TaskResult{Response: task.ID + "-done"})
		return nil
	}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "root" || order[1] != "child" {
		t.Fatalf("expected root before child, got %v", order)
	}
	if !s.IsAllComplete() {
		t.Fatalf("expected all tasks complete")
	}
}

func TestExecuteAllFailsDependentsOfFailedTask(t *testing.T) {
	s := NewStore(DefaultStoreConfig())
	_ = s.Add(newTask("root", nil, 0))
	_ = s.Add(newTask("child", []string{"root"}, 0))

	err := s.ExecuteAll(func(task *models.Task, deps map[string]*models.TaskResult) error {
		if task.ID == "root" {
			return errors.New("boom")
		}
		task.MarkDone(&models.TaskResult{Response: "ok"})
		return nil
	}, 2)
	if err != nil {
		t.Fatalf("unexpected scheduling error: %v", err)
	}

	root, _ := s.Get("root")
	if root.Error == "" {
		t.Fatalf("expected root to be marked failed")
	}
	child, _ := s.Get("child")
	if child.Error == "" {
		t.Fatalf("expected child to fail since its dependency failed, got %+v", child)
	}
}

func TestExecuteAllRespectsConcurrencyBound(t *testing.T) {
	s := NewStore(DefaultStoreConfig())
	for i := 0; i < 10; i++ {
		_ = s.Add(newTask(string(rune('a'+i)), nil, 0))
	}

	var inFlight int32
	var maxSeen int32
	err := s.ExecuteAll(func(task *models.Task, deps map[string]*models.TaskResult) error {
		current := atomic.AddInt32(&inFlight, 1)
		for {
			seen := atomic.LoadInt32(&maxSeen)
			if current <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, current) {
				break
			}
		}
		atomic.AddInt32(&inFlight, -1)
		task.MarkDone(&models.TaskResult{Response: "ok"})
		return nil
	}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if maxSeen > 3 {
		t.Fatalf("expected concurrency bounded to 3, saw %d in flight", maxSeen)
	}
}

func TestExecuteAllHandlerPanicMarksTaskFailed(t *testing.T) {
	s := NewStore(DefaultStoreConfig())
	_ = s.Add(newTask("boom", nil, 0))

	err := s.ExecuteAll(func(task *models.Task, deps map[string]*models.TaskResult) error {
		panic("handler exploded")
	}, 1)
	if err != nil {
		t.Fatalf("unexpected scheduling error: %v", err)
	}

	task, _ := s.Get("boom")
	if task.Error == "" {
		t.Fatalf("expected panicking handler to mark the task failed")
	}
}
