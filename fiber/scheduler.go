package fiber

import (
	"container/heap"
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/monadexec/execore/telemetry"
	"github.com/monadexec/execore/xlog"
)

// ErrSubmitClosed is returned by Submit after the scheduler has been
// stopped.
var ErrSubmitClosed = errors.New("fiber: scheduler is closed")

// Config configures a Scheduler.
type Config struct {
	Workers int // worker goroutines; default = runtime.GOMAXPROCS(0)

	// SubmissionCapacity bounds the submit channel, matching
	// PriorityPool's boost::fibers::buffered_channel<PriorityTask>{1024}.
	// Submit blocks (backpressures the caller) once it's full.
	SubmissionCapacity int

	// IdleSleep is how long a worker with nothing in the shared queue and
	// nothing pinned waits before checking again, mirroring pick_next's
	// "sleep briefly (configurable, default 10us)" idle path.
	IdleSleep time.Duration

	// Metrics, if non-nil, receives task submit/complete/panic counts and
	// shared-queue depth.
	Metrics *telemetry.SchedulerMetrics
}

// DefaultConfig returns the Fiber Scheduler defaults from the scheduling
// contract: a 1024-deep submission channel and a 10us idle sleep.
func DefaultConfig(workers int) Config {
	return Config{
		Workers:            workers,
		SubmissionCapacity: 1024,
		IdleSleep:          10 * time.Microsecond,
	}
}

// Context is threaded into a running Task, exposing which worker it's
// running on (so a task can pin its continuation back to itself) and a
// Yield method for cooperative rescheduling.
type Context struct {
	sched  *Scheduler
	worker int
}

// Worker reports the index of the worker currently running this task, for
// use as the Worker field of a pinned re-submission.
func (c *Context) Worker() int { return c.worker }

// Yield re-submits a continuation task at the given priority (and
// optionally pinned back to this worker) without blocking the caller on
// the new task's completion. There is no mid-function stack suspension in
// this scheduler; cooperative yielding is expressed by a task doing its
// work incrementally and resubmitting itself.
func (c *Context) Yield(priority uint64, pinned bool, run func(ctx *Context)) error {
	return c.sched.awaken(&Task{
		Priority: priority,
		Pinned:   pinned,
		Worker:   c.worker,
		Run:      run,
	})
}

// Scheduler is a fixed pool of worker goroutines draining a bounded
// submission channel into a shared priority queue, with one pinned local
// queue per worker -- the Go rendering of PriorityPool.
type Scheduler struct {
	cfg Config
	log *xlog.Logger

	submit chan *Task
	shared *sharedQueue

	pinnedMu sync.Mutex
	pinned   []taskHeap // one per worker, indexed by Context.worker

	cond   *sync.Cond // signaled on submit/awaken so idle workers wake promptly
	closed chan struct{}
	closeOnce sync.Once

	group  *errgroup.Group
	gctx   context.Context
}

// New builds a Scheduler. Call Start to launch its workers.
func New(cfg Config, log *xlog.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.SubmissionCapacity <= 0 {
		cfg.SubmissionCapacity = 1024
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 10 * time.Microsecond
	}
	if log == nil {
		log = xlog.Default().Module("fiber")
	}
	s := &Scheduler{
		cfg:    cfg,
		log:    log,
		submit: make(chan *Task, cfg.SubmissionCapacity),
		shared: newSharedQueue(),
		pinned: make([]taskHeap, cfg.Workers),
		closed: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.pinnedMu)
	for i := range s.pinned {
		heap.Init(&s.pinned[i])
	}
	return s
}

// SetMetrics attaches a metrics bundle. Call before Start; Metrics is read
// without synchronization on the hot submit/dispatch path.
func (s *Scheduler) SetMetrics(m *telemetry.SchedulerMetrics) { s.cfg.Metrics = m }

// Start launches the worker pool. Each worker runs until ctx is canceled
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	s.gctx = gctx
	for i := 0; i < s.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			s.runWorker(worker)
			return nil
		})
	}
	// dispatcher: drains the submission channel into the shared queue or
	// a worker's pinned queue, mirroring channel_.pop() feeding queue_.
	g.Go(func() error {
		s.dispatch()
		return nil
	})
}

// Stop signals all workers and the dispatcher to exit and waits for them.
func (s *Scheduler) Stop() error {
	s.closeOnce.Do(func() { close(s.closed) })
	s.cond.Broadcast()
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// Submit enqueues a task for scheduling, blocking if the submission
// channel is full (the scheduler's only backpressure point).
func (s *Scheduler) Submit(t *Task) error {
	select {
	case <-s.closed:
		return ErrSubmitClosed
	case s.submit <- t:
		return nil
	}
}

func (s *Scheduler) dispatch() {
	for {
		select {
		case <-s.closed:
			return
		case t := <-s.submit:
			s.awaken(t)
		}
	}
}

// awaken places a task on its target queue: pinned fibers go to their
// worker's local queue, everything else detaches to the shared priority
// queue -- PriorityPool's awaken(fiber).
func (s *Scheduler) awaken(t *Task) error {
	if t.Pinned {
		if t.Worker < 0 || t.Worker >= len(s.pinned) {
			return errors.New("fiber: pinned worker index out of range")
		}
		s.pinnedMu.Lock()
		heap.Push(&s.pinned[t.Worker], t)
		s.pinnedMu.Unlock()
		s.cond.Broadcast()
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.TasksSubmitted.Inc()
		}
		return nil
	}
	s.shared.push(t)
	s.cond.Broadcast()
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.TasksSubmitted.Inc()
		s.cfg.Metrics.QueueDepth.Set(float64(s.shared.len()))
	}
	return nil
}

// pickNext implements pick_next(): shared queue first, then this
// worker's pinned queue, then a short idle sleep.
func (s *Scheduler) pickNext(worker int) *Task {
	if t := s.shared.pop(); t != nil {
		return t
	}
	s.pinnedMu.Lock()
	defer s.pinnedMu.Unlock()
	if len(s.pinned[worker]) > 0 {
		return heap.Pop(&s.pinned[worker]).(*Task)
	}
	return nil
}

func (s *Scheduler) runWorker(worker int) {
	ctx := &Context{sched: s, worker: worker}
	for {
		select {
		case <-s.closed:
			return
		default:
		}
		t := s.pickNext(worker)
		if t == nil {
			time.Sleep(s.cfg.IdleSleep)
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("fiber task panicked", "worker", worker, "recover", r)
					if s.cfg.Metrics != nil {
						s.cfg.Metrics.TasksPanicked.Inc()
					}
				}
			}()
			t.Run(ctx)
		}()
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.TasksCompleted.Inc()
			s.cfg.Metrics.QueueDepth.Set(float64(s.shared.len()))
		}
	}
}
