package executor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/machinefabric/bridge-go/metrics"
)

// Tag names the direction a queue serves.
type Tag int

const (
	// TagInput carries inbound dispatch from the peer.
	TagInput Tag = iota
	// TagOutput carries outbound calls toward the peer.
	TagOutput
)

func (t Tag) String() string {
	switch t {
	case TagInput:
		return "input"
	case TagOutput:
		return "output"
	default:
		return fmt.Sprintf("tag(%d)", int(t))
	}
}

// Mode selects serial or concurrent execution.
type Mode int

const (
	// Serial runs one item at a time in FIFO order.
	Serial Mode = iota
	// Concurrent submits every item straight to the pool.
	Concurrent
)

func (m Mode) String() string {
	if m == Concurrent {
		return "concurrent"
	}
	return "serial"
}

// TaskQueue orders work for one channel on top of a Pool.
type TaskQueue struct {
	tag  Tag
	mode Mode
	pool *Pool

	mu      sync.Mutex
	items   []func()
	running atomic.Bool

	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewTaskQueue builds a queue; tag and mode are fixed for its lifetime.
func NewTaskQueue(pool *Pool, tag Tag, mode Mode, opts ...Option) *TaskQueue {
	o := buildOptions(opts)
	return &TaskQueue{
		tag:     tag,
		mode:    mode,
		pool:    pool,
		logger:  o.logger,
		metrics: o.metrics,
	}
}

// Tag returns the queue's direction tag.
func (q *TaskQueue) Tag() Tag { return q.tag }

// Mode returns the queue's execution mode.
func (q *TaskQueue) Mode() Mode { return q.mode }

// Len returns the number of items waiting in a serial queue.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Enqueue adds task. In concurrent mode it is a direct pool submission.
func (q *TaskQueue) Enqueue(task func()) error {
	if task == nil {
		return nil
	}
	if q.mode == Concurrent {
		return q.pool.Execute(task)
	}
	if q.pool.IsShutdown() {
		return ErrShutdown
	}
	q.mu.Lock()
	q.items = append(q.items, task)
	q.mu.Unlock()
	q.metrics.QueueDepth(q.tag.String(), 1)
	return q.schedule()
}

// schedule starts a drain unless one is already active.
func (q *TaskQueue) schedule() error {
	if !q.running.CompareAndSwap(false, true) {
		return nil
	}
	if err := q.pool.Execute(q.drainOne); err != nil {
		q.running.Store(false)
		return err
	}
	return nil
}

// drainOne runs one item, then hands the rest of the queue to a fresh pool
// task. With a full backlog it keeps draining on the current goroutine, so
// saturation never nests drains on one stack.
func (q *TaskQueue) drainOne() {
	for {
		if task := q.pop(); task != nil {
			q.metrics.QueueDepth(q.tag.String(), -1)
			q.run(task)
		}

		q.running.Store(false)
		if q.Len() == 0 || !q.running.CompareAndSwap(false, true) {
			return
		}
		queued, err := q.pool.submit(q.drainOne)
		if err != nil {
			q.running.Store(false)
			q.logger.Warn("task queue drain stopped", zap.Stringer("tag", q.tag), zap.Error(err))
			return
		}
		if queued {
			return
		}
		q.metrics.CallerRuns()
	}
}

func (q *TaskQueue) pop() func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	task := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return task
}

func (q *TaskQueue) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queued task panicked", zap.Stringer("tag", q.tag), zap.Error(fmt.Errorf("%v", r)))
		}
	}()
	task()
}
