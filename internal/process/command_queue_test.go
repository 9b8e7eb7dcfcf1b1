package process

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewCommandQueue(t *testing.T) {
	cq := NewCommandQueue()
	if cq == nil {
		t.Fatal("expected non-nil CommandQueue")
	}
	if cq.lanes == nil {
		t.Fatal("expected lanes map to be initialized")
	}
}

func TestEnqueueInLane_BasicExecution(t *testing.T) {
	cq := NewCommandQueue()

	result, err := EnqueueInLane(cq, LaneMain, func(ctx context.Context) (int, error) {
		return 42, nil
	}, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("expected 42, got %d", result)
	}
}

func TestEnqueueInLane_ReturnsError(t *testing.T) {
	cq := NewCommandQueue()

	_, err := EnqueueInLane(cq, LaneMain, func(ctx context.Context) (int, error) {
		return 0, context.DeadlineExceeded
	}, nil)

	if err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded error, got %v", err)
	}
}

func TestEnqueueInLane_DifferentLanes(t *testing.T) {
	cq := NewCommandQueue()

	lanes := []CommandLane{LaneMain, "process:a", "process:b", "process:c"}
	var wg sync.WaitGroup

	for _, lane := range lanes {
		wg.Add(1)
		go func(l CommandLane) {
			defer wg.Done()
			result, err := EnqueueInLane(cq, l, func(ctx context.Context) (string, error) {
				return string(l), nil
			}, nil)
			if err != nil {
				t.Errorf("lane %s: unexpected error: %v", l, err)
			}
			if result != string(l) {
				t.Errorf("lane %s: expected %q, got %q", l, string(l), result)
			}
		}(lane)
	}

	wg.Wait()
}

func TestLaneIsolation_TasksInDifferentLanesDontBlock(t *testing.T) {
	cq := NewCommandQueue()

	mainStarted := make(chan struct{})
	mainCanFinish := make(chan struct{})
	otherFinished := make(chan struct{})

	go func() {
		_, _ = EnqueueInLane(cq, LaneMain, func(ctx context.Context) (int, error) {
			close(mainStarted)
			<-mainCanFinish
			return 1, nil
		}, nil)
	}()

	<-mainStarted

	go func() {
		_, _ = EnqueueInLane(cq, "process:other", func(ctx context.Context) (int, error) {
			return 2, nil
		}, nil)
		close(otherFinished)
	}()

	select {
	case <-otherFinished:
	case <-time.After(500 * time.Millisecond):
		t.Error("task in a different lane blocked by main task - lane isolation failed")
	}

	close(mainCanFinish)
}

func TestSingleConcurrency_WithinLane(t *testing.T) {
	cq := NewCommandQueue()

	var activeCount int32
	var maxObserved int32
	var mu sync.Mutex

	taskCount := 5
	var wg sync.WaitGroup

	for i := 0; i < taskCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = EnqueueInLane(cq, LaneMain, func(ctx context.Context) (int, error) {
				current := atomic.AddInt32(&activeCount, 1)

				mu.Lock()
				if current > maxObserved {
					maxObserved = current
				}
				mu.Unlock()

				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&activeCount, -1)
				return 0, nil
			}, nil)
		}()
	}

	wg.Wait()

	if maxObserved > 1 {
		t.Errorf("lane concurrency exceeded 1: max observed %d", maxObserved)
	}
}

func TestWaitTimeWarning_Callback(t *testing.T) {
	cq := NewCommandQueue()

	blockingStarted := make(chan struct{})
	blockingCanFinish := make(chan struct{})
	warningCalled := make(chan struct{})

	go func() {
		_, _ = EnqueueInLane(cq, LaneMain, func(ctx context.Context) (int, error) {
			close(blockingStarted)
			<-blockingCanFinish
			return 1, nil
		}, nil)
	}()

	<-blockingStarted

	go func() {
		_, _ = EnqueueInLane(cq, LaneMain, func(ctx context.Context) (int, error) {
			return 2, nil
		}, &EnqueueOptions{
			WarnAfterMs: 50,
			OnWait: func(waitMs int, queuedAhead int) {
				close(warningCalled)
			},
		})
	}()

	time.Sleep(100 * time.Millisecond)
	close(blockingCanFinish)

	select {
	case <-warningCalled:
	case <-time.After(500 * time.Millisecond):
		t.Error("OnWait callback was not called")
	}
}

func TestFIFO_OrderingWithinLane(t *testing.T) {
	cq := NewCommandQueue()

	var executionOrder []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	taskCount := 5
	allEnqueued := make(chan struct{})

	for i := 0; i < taskCount; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			time.Sleep(time.Duration(idx) * 10 * time.Millisecond)

			_, _ = EnqueueInLane(cq, LaneMain, func(ctx context.Context) (int, error) {
				<-allEnqueued
				mu.Lock()
				executionOrder = append(executionOrder, idx)
				mu.Unlock()
				return idx, nil
			}, nil)
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	close(allEnqueued)

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()

	if len(executionOrder) != taskCount {
		t.Fatalf("expected %d tasks executed, got %d", taskCount, len(executionOrder))
	}

	for i := 0; i < taskCount; i++ {
		if executionOrder[i] != i {
			t.Errorf("FIFO order violated: position %d has task %d, expected %d", i, executionOrder[i], i)
		}
	}
}

func TestConcurrentAccess_Safety(t *testing.T) {
	cq := NewCommandQueue()

	var wg sync.WaitGroup
	goroutines := 50

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			lane := LaneMain
			if idx%2 == 0 {
				lane = "process:cron"
			}
			_, _ = EnqueueInLane(cq, lane, func(ctx context.Context) (int, error) {
				time.Sleep(5 * time.Millisecond)
				return idx, nil
			}, nil)
		}(i)
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = cq.GetLaneStats(LaneMain)
				_ = cq.GetLaneStats("process:cron")
				time.Sleep(1 * time.Millisecond)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Error("test timed out - possible deadlock")
	}
}

func TestGetLaneStats(t *testing.T) {
	cq := NewCommandQueue()

	blockingStarted := make(chan struct{})
	blockingCanFinish := make(chan struct{})

	go func() {
		_, _ = EnqueueInLane(cq, LaneMain, func(ctx context.Context) (int, error) {
			close(blockingStarted)
			<-blockingCanFinish
			return 1, nil
		}, nil)
	}()

	<-blockingStarted

	for i := 0; i < 2; i++ {
		go func() {
			_, _ = EnqueueInLane(cq, LaneMain, func(ctx context.Context) (int, error) {
				return 0, nil
			}, nil)
		}()
	}

	time.Sleep(50 * time.Millisecond)

	stats := cq.GetLaneStats(LaneMain)
	if stats.Lane != LaneMain {
		t.Errorf("expected lane main, got %v", stats.Lane)
	}
	if !stats.Active {
		t.Error("expected active to be true")
	}
	if stats.Pending != 2 {
		t.Errorf("expected pending 2, got %d", stats.Pending)
	}

	close(blockingCanFinish)
}

func TestGetLaneStats_UnknownLane(t *testing.T) {
	cq := NewCommandQueue()

	stats := cq.GetLaneStats("process:never-used")
	if stats.Lane != "process:never-used" {
		t.Errorf("expected lane to echo back, got %v", stats.Lane)
	}
	if stats.Pending != 0 || stats.Active {
		t.Errorf("expected zero-value stats for unknown lane, got %+v", stats)
	}
}

func TestEmptyLane_DefaultsToMain(t *testing.T) {
	cq := NewCommandQueue()

	result, err := EnqueueInLane(cq, "", func(ctx context.Context) (string, error) {
		return "test", nil
	}, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "test" {
		t.Errorf("expected 'test', got %q", result)
	}

	stats := cq.GetLaneStats(LaneMain)
	if stats.Lane != LaneMain {
		t.Errorf("expected lane to be main")
	}
}

func TestContextCancellation(t *testing.T) {
	cq := NewCommandQueue()

	blockingStarted := make(chan struct{})
	blockingCanFinish := make(chan struct{})

	go func() {
		_, _ = EnqueueInLane(cq, LaneMain, func(ctx context.Context) (int, error) {
			close(blockingStarted)
			<-blockingCanFinish
			return 1, nil
		}, nil)
	}()

	<-blockingStarted

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		_, err := EnqueueInLane(cq, LaneMain, func(ctx context.Context) (int, error) {
			return 0, nil
		}, &EnqueueOptions{Context: ctx})
		errChan <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("expected context cancellation to return error")
	}

	close(blockingCanFinish)
}

func TestHighConcurrency_StressTest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	cq := NewCommandQueue()

	var completed int32
	var wg sync.WaitGroup
	taskCount := 100

	lanes := []CommandLane{LaneMain, "process:a", "process:b"}

	for i := 0; i < taskCount; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			lane := lanes[idx%len(lanes)]
			result, err := EnqueueInLane(cq, lane, func(ctx context.Context) (int, error) {
				time.Sleep(time.Duration(idx%10) * time.Millisecond)
				return idx, nil
			}, nil)
			if err != nil {
				t.Errorf("task %d: unexpected error: %v", idx, err)
				return
			}
			if result != idx {
				t.Errorf("task %d: expected result %d, got %d", idx, idx, result)
				return
			}
			atomic.AddInt32(&completed, 1)
		}(i)
	}

	wg.Wait()

	if completed != int32(taskCount) {
		t.Errorf("expected %d completed tasks, got %d", taskCount, completed)
	}

	for _, lane := range lanes {
		if stats := cq.GetLaneStats(lane); stats.Pending != 0 || stats.Active {
			t.Errorf("lane %s: expected drained queue, got %+v", lane, stats)
		}
	}
}

func TestNilResult(t *testing.T) {
	cq := NewCommandQueue()

	result, err := EnqueueInLane(cq, LaneMain, func(ctx context.Context) (*string, error) {
		return nil, nil
	}, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result, got %v", result)
	}
}

func TestEnqueueInLane_StructResult(t *testing.T) {
	type Response struct {
		ID   int
		Name string
	}

	cq := NewCommandQueue()

	result, err := EnqueueInLane(cq, LaneMain, func(ctx context.Context) (Response, error) {
		return Response{ID: 123, Name: "test"}, nil
	}, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ID != 123 || result.Name != "test" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestDefaultWarnAfterMs(t *testing.T) {
	if DefaultWarnAfterMs != 2000 {
		t.Errorf("expected DefaultWarnAfterMs to be 2000, got %d", DefaultWarnAfterMs)
	}
}
