package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrLoopRunning is returned by Run when the loop is already being driven.
var ErrLoopRunning = errors.New("executor: main loop already running")

type mainLoopKey struct{}

// OnMainLoop reports whether ctx was handed out by a running MainLoop, that
// is whether the caller is executing a main loop task.
func OnMainLoop(ctx context.Context) bool {
	_, ok := ctx.Value(mainLoopKey{}).(*MainLoop)
	return ok
}

// MainLoop runs posted tasks one at a time on whichever goroutine calls Run.
// The pending queue is unbounded so posting from inside a task never blocks.
type MainLoop struct {
	mu      sync.Mutex
	pending []func(context.Context)
	wake    chan struct{}

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger *zap.Logger
}

// NewMainLoop creates a stopped loop; backlog presizes the pending queue.
func NewMainLoop(backlog int, opts ...Option) *MainLoop {
	if backlog < 0 {
		backlog = 0
	}
	o := buildOptions(opts)
	return &MainLoop{
		pending: make([]func(context.Context), 0, backlog),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  o.logger,
	}
}

// Run executes tasks until Stop is called or ctx is done. Tasks receive a
// context derived from ctx for which OnMainLoop returns true.
func (l *MainLoop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer close(l.done)

	loopCtx := context.WithValue(ctx, mainLoopKey{}, l)
	for {
		for {
			task := l.next()
			if task == nil {
				break
			}
			l.run(loopCtx, task)
			select {
			case <-l.stop:
				return nil
			default:
			}
		}
		select {
		case <-l.wake:
		case <-l.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *MainLoop) next() func(context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return nil
	}
	task := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	return task
}

func (l *MainLoop) run(ctx context.Context, task func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("main loop task panicked", zap.Error(fmt.Errorf("%v", r)))
		}
	}()
	task(ctx)
}

// Post queues task without waiting for it.
func (l *MainLoop) Post(task func(context.Context)) error {
	if task == nil {
		return nil
	}
	select {
	case <-l.stop:
		return ErrShutdown
	default:
	}
	l.mu.Lock()
	l.pending = append(l.pending, task)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

func (l *MainLoop) owns(ctx context.Context) bool {
	owner, _ := ctx.Value(mainLoopKey{}).(*MainLoop)
	return owner == l
}

// PostSync runs task on the main loop and waits for it to finish. A caller
// already on this loop runs task inline; a caller on another loop waits
// like any other goroutine. Otherwise the wait ends early with
// ctx.Err() when ctx is done, or ErrShutdown when the loop exits first; the
// task itself is not aborted in either case.
func (l *MainLoop) PostSync(ctx context.Context, task func(context.Context)) error {
	if l.owns(ctx) {
		task(ctx)
		return nil
	}

	finished := make(chan struct{})
	err := l.Post(func(loopCtx context.Context) {
		defer close(finished)
		task(loopCtx)
	})
	if err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrShutdown
		}
	}
}

// Stop ends Run after the current task. Safe to call more than once.
func (l *MainLoop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Done is closed once Run has returned.
func (l *MainLoop) Done() <-chan struct{} {
	return l.done
}
