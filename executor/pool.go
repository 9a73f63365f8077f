// Package executor provides the concurrency runtime the bridge runs on: a
// bounded worker pool, a designated main loop with synchronous marshaling,
// and per-channel task queues built on the pool.
package executor

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/machinefabric/bridge-go/metrics"
)

// ErrShutdown is returned when work is submitted to a stopped pool or loop.
var ErrShutdown = errors.New("executor: shut down")

// DefaultPoolSize is two workers per core plus one.
func DefaultPoolSize() int {
	return runtime.NumCPU()*2 + 1
}

// Pool is a fixed set of worker goroutines fed from a bounded backlog.
// When the backlog is full the submitting goroutine runs the task itself,
// so accepted work is never dropped while the pool is live.
type Pool struct {
	tasks   chan func()
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewPool starts size workers with a backlog of the given capacity.
// Non-positive values select DefaultPoolSize and a backlog of 128.
func NewPool(size, backlog int, opts ...Option) *Pool {
	if size <= 0 {
		size = DefaultPoolSize()
	}
	if backlog <= 0 {
		backlog = 128
	}
	o := buildOptions(opts)
	p := &Pool{
		tasks:   make(chan func(), backlog),
		logger:  o.logger,
		metrics: o.metrics,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

// Execute submits task. It returns ErrShutdown after Shutdown; otherwise the
// task is either queued or, with a full backlog, run before Execute returns.
func (p *Pool) Execute(task func()) error {
	if task == nil {
		return nil
	}
	queued, err := p.submit(task)
	if err != nil || queued {
		return err
	}

	p.metrics.CallerRuns()
	p.run(task)
	return nil
}

// submit queues task without blocking. It reports false when the backlog
// is full.
func (p *Pool) submit(task func()) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false, ErrShutdown
	}
	select {
	case p.tasks <- task:
		return true, nil
	default:
		return false, nil
	}
}

// Shutdown stops accepting work and waits for queued tasks to finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}

// IsShutdown reports whether Shutdown has been called.
func (p *Pool) IsShutdown() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool task panicked", zap.Error(fmt.Errorf("%v", r)))
		}
	}()
	task()
}
