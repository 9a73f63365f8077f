package executor

import (
	"go.uber.org/zap"

	"github.com/machinefabric/bridge-go/internal/logging"
	"github.com/machinefabric/bridge-go/metrics"
)

type options struct {
	logger  *zap.Logger
	metrics *metrics.Collector
}

// Option configures a Pool, MainLoop, TaskQueue or Runtime.
type Option func(*options)

// WithLogger overrides the package logger for one component.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records pool and queue activity on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: logging.For("executor")}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
