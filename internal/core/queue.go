package core

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"notegraph/internal/logging"
	"notegraph/internal/types"
)

// =============================================================================
// TASK QUEUE
// =============================================================================
//
// TaskQueue is the handoff between the scanner and the drain workers. Tasks
// come out forced first, then new, then modified; within a band the most
// recently queued task wins. A path is queued at most once: re-enqueueing a
// pending path never lowers its priority, and a re-offer at the same priority
// moves it to the front of its band as if it had just been queued.

// TaskQueue is a concurrency-safe priority queue of analysis tasks.
type TaskQueue struct {
	mu      sync.Mutex
	items   taskHeap
	pending map[string]*queuedTask
	seq     uint64
	active  int // tasks popped but not yet marked Done
	closed  bool
	notify  chan struct{}
	now     func() time.Time
}

type queuedTask struct {
	task  types.AnalysisTask
	index int
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		pending: make(map[string]*queuedTask),
		notify:  make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Enqueue queues path for analysis. It returns false when the queue is
// closed or the path is already pending at the same or a better priority.
// An equal-priority re-offer still refreshes the pending task's position.
func (q *TaskQueue) Enqueue(path string, kind types.TaskKind) bool {
	return q.Push(types.AnalysisTask{Path: path, Kind: kind})
}

// Push queues a fully specified task. A zero EnqueuedAt is stamped with the
// current time; Seq is always assigned by the queue.
func (q *TaskQueue) Push(task types.AnalysisTask) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = q.now()
	}
	q.seq++
	task.Seq = q.seq

	if existing, ok := q.pending[task.Path]; ok {
		if task.Priority() > existing.task.Priority() {
			q.mu.Unlock()
			return false
		}
		if task.Priority() == existing.task.Priority() {
			existing.task.EnqueuedAt = task.EnqueuedAt
			existing.task.Seq = task.Seq
			heap.Fix(&q.items, existing.index)
			q.mu.Unlock()
			logging.SchedulerDebug("refreshed %s", task.Path)
			return false
		}
		existing.task = task
		heap.Fix(&q.items, existing.index)
		q.mu.Unlock()
		logging.SchedulerDebug("raised %s to %s", task.Path, task.Kind)
		q.signal()
		return true
	}

	qt := &queuedTask{task: task}
	heap.Push(&q.items, qt)
	q.pending[task.Path] = qt
	q.mu.Unlock()

	logging.SchedulerDebug("queued %s (%s)", task.Path, task.Kind)
	q.signal()
	return true
}

// TryPop removes the next task without blocking. Every task returned must be
// acknowledged with Done.
func (q *TaskQueue) TryPop() (types.AnalysisTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return types.AnalysisTask{}, false
	}
	qt := heap.Pop(&q.items).(*queuedTask)
	delete(q.pending, qt.task.Path)
	q.active++
	if q.items.Len() > 0 {
		// Let another idle worker see the remaining work.
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return qt.task, true
}

// Next blocks until a task is available or ctx is done. poll bounds how long
// a worker sleeps without a push notification.
func (q *TaskQueue) Next(ctx context.Context, poll time.Duration) (types.AnalysisTask, error) {
	if poll <= 0 {
		poll = 10 * time.Second
	}
	for {
		if task, ok := q.TryPop(); ok {
			return task, nil
		}
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return types.AnalysisTask{}, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Done marks a popped task as finished.
func (q *TaskQueue) Done() {
	q.mu.Lock()
	if q.active > 0 {
		q.active--
	}
	q.mu.Unlock()
}

// Len returns the number of pending tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// InFlight returns the number of popped tasks not yet marked Done.
func (q *TaskQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Idle reports whether nothing is pending or in flight.
func (q *TaskQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len() == 0 && q.active == 0
}

// WaitIdle blocks until the queue is idle or ctx is done.
func (q *TaskQueue) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if q.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close rejects further pushes. Pending tasks can still be popped.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *TaskQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// -----------------------------------------------------------------------------
// heap.Interface
// -----------------------------------------------------------------------------

type taskHeap []*queuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool { return h[i].task.Before(h[j].task) }

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	qt := x.(*queuedTask)
	qt.index = len(*h)
	*h = append(*h, qt)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	qt := old[n-1]
	old[n-1] = nil
	qt.index = -1
	*h = old[:n-1]
	return qt
}
