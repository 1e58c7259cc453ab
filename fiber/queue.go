// Package fiber is a cooperative task scheduler: a fixed pool of worker
// goroutines drains a bounded submission channel into a shared
// concurrent priority queue, with a per-worker pinned queue for tasks
// that must run back on the same worker they started on. Go has no
// stackful fiber primitive, so "fiber" here is a unit of work (a
// func(*Context)) that yields by returning control and re-submitting
// itself, rather than by suspending a stack mid-call -- ported from
// category/core/fiber/priority_pool.hpp and priority_queue.hpp, which
// back a boost::fibers::buffered_channel with an oneapi::tbb
// concurrent_priority_queue of fiber contexts.
package fiber

import (
	"container/heap"
	"sync"
)

// Task is one schedulable unit of work: priority (higher runs first), an
// optional pin to a specific worker index, and the function to run.
type Task struct {
	Priority uint64
	Pinned   bool
	Worker   int // valid only if Pinned
	Run      func(ctx *Context)

	index int // heap index, maintained by container/heap
}

// taskHeap is a max-heap on Priority, ported from pkg/txpool/priority_queue.go's
// tipHeap (same Len/Less/Swap/Push/Pop shape, compared on Priority instead
// of effective tip).
type taskHeap []*Task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].Priority > h[j].Priority }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// sharedQueue is the concurrent priority queue every worker pops
// unpinned, detached tasks from. Locking (not lock-free, unlike the C++
// tbb::concurrent_priority_queue) is fine here: pop/push are O(log n)
// over a queue bounded by the submission channel's own capacity.
type sharedQueue struct {
	mu sync.Mutex
	h  taskHeap
}

func newSharedQueue() *sharedQueue {
	q := &sharedQueue{}
	heap.Init(&q.h)
	return q
}

func (q *sharedQueue) push(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, t)
}

func (q *sharedQueue) pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*Task)
}

func (q *sharedQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
