package fiber

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/monadexec/execore/telemetry"
)

func TestSchedulerRunsSubmittedTasks(t *testing.T) {
	s := New(DefaultConfig(4), nil)
	s.Start(context.Background())
	defer s.Stop()

	var n int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		if err := s.Submit(&Task{
			Priority: uint64(i),
			Run: func(ctx *Context) {
				atomic.AddInt64(&n, 1)
				wg.Done()
			},
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	waitOrTimeout(t, &wg, time.Second)
	if got := atomic.LoadInt64(&n); got != 100 {
		t.Fatalf("ran %d tasks, want 100", got)
	}
}

func TestSchedulerHigherPriorityFirst(t *testing.T) {
	// With a single worker and tasks submitted before the worker starts
	// draining, the shared queue should serve strictly descending
	// priorities.
	s := New(Config{Workers: 1, SubmissionCapacity: 16, IdleSleep: time.Millisecond}, nil)

	var mu sync.Mutex
	var order []uint64
	var wg sync.WaitGroup
	wg.Add(5)
	for _, p := range []uint64{1, 5, 3, 4, 2} {
		p := p
		if err := s.awaken(&Task{
			Priority: p,
			Run: func(ctx *Context) {
				mu.Lock()
				order = append(order, p)
				mu.Unlock()
				wg.Done()
			},
		}); err != nil {
			t.Fatalf("awaken: %v", err)
		}
	}

	s.Start(context.Background())
	defer s.Stop()
	waitOrTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	want := []uint64{5, 4, 3, 2, 1}
	for i, p := range want {
		if order[i] != p {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestSchedulerPinnedTaskRunsOnOwnWorker(t *testing.T) {
	s := New(Config{Workers: 4, SubmissionCapacity: 16, IdleSleep: time.Millisecond}, nil)
	s.Start(context.Background())
	defer s.Stop()

	seen := make(chan [2]int, 1)
	if err := s.Submit(&Task{
		Priority: 1,
		Run: func(ctx *Context) {
			origin := ctx.Worker()
			ctx.Yield(1, true, func(ctx *Context) {
				seen <- [2]int{origin, ctx.Worker()}
			})
		},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case w := <-seen:
		if w[1] != w[0] {
			t.Fatalf("pinned continuation ran on worker %d, want its origin worker %d", w[1], w[0])
		}
	case <-time.After(time.Second):
		t.Fatal("pinned continuation never ran")
	}
}

func TestSubmitAfterStopFails(t *testing.T) {
	s := New(DefaultConfig(2), nil)
	s.Start(context.Background())
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Submit(&Task{Priority: 1, Run: func(ctx *Context) {}}); err != ErrSubmitClosed {
		t.Fatalf("Submit after Stop = %v, want ErrSubmitClosed", err)
	}
}

func TestSchedulerReportsMetricsWhenInstrumented(t *testing.T) {
	s := New(DefaultConfig(2), nil)
	m := telemetry.NewSchedulerMetrics(telemetry.NewRegistry("execoretest"))
	s.SetMetrics(m)
	s.Start(context.Background())
	defer s.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	if err := s.Submit(&Task{Priority: 1, Run: func(ctx *Context) { wg.Done() }}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitOrTimeout(t, &wg, time.Second)

	if got := m.TasksSubmitted.Value(); got != 1 {
		t.Fatalf("TasksSubmitted = %v, want 1", got)
	}
	if got := m.TasksCompleted.Value(); got != 1 {
		t.Fatalf("TasksCompleted = %v, want 1", got)
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for tasks to complete")
	}
}
