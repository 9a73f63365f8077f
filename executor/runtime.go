package executor

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/machinefabric/bridge-go/config"
)

// Runtime bundles the pool and the main loop shared by every bridge of a
// manager. The main loop is driven on a goroutine owned by the runtime.
type Runtime struct {
	Pool *Pool
	Main *MainLoop

	opts      []Option
	logger    *zap.Logger
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewRuntime starts a pool and main loop sized by cfg.
func NewRuntime(cfg config.Executor, opts ...Option) *Runtime {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		Pool:   NewPool(cfg.PoolSize, cfg.PoolBacklog, opts...),
		Main:   NewMainLoop(cfg.MainBacklog, opts...),
		opts:   opts,
		logger: o.logger,
		cancel: cancel,
	}
	go func() {
		if err := rt.Main.Run(ctx); err != nil && ctx.Err() == nil {
			rt.logger.Error("main loop exited", zap.Error(err))
		}
	}()
	return rt
}

// NewQueue creates a task queue on the runtime's pool, inheriting the
// runtime's logger and metrics.
func (rt *Runtime) NewQueue(tag Tag, mode Mode) *TaskQueue {
	return NewTaskQueue(rt.Pool, tag, mode, rt.opts...)
}

// Execute submits task to the pool.
func (rt *Runtime) Execute(task func()) error {
	return rt.Pool.Execute(task)
}

// Close stops the main loop, then drains and stops the pool.
func (rt *Runtime) Close() {
	rt.closeOnce.Do(func() {
		rt.Main.Stop()
		rt.cancel()
		<-rt.Main.Done()
		rt.Pool.Shutdown()
	})
}
