// Command bridge-echo links two runtimes over an in-memory pipe, serves an
// echo bridge on one side and calls it from the other.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	bridgekit "github.com/machinefabric/bridge-go"
	"github.com/machinefabric/bridge-go/bridge"
	"github.com/machinefabric/bridge-go/config"
	"github.com/machinefabric/bridge-go/metrics"
)

type echoListener struct {
	logger *zap.Logger
	done   chan struct{}
}

func (l *echoListener) OnSuccess(method string, result any) {
	l.logger.Info("async result", zap.String("method", method), zap.Any("result", result))
	close(l.done)
}

func (l *echoListener) OnError(method string, code bridge.ErrorCode, message string) {
	l.logger.Error("async call failed", zap.String("method", method),
		zap.Stringer("code", code), zap.String("message", message))
	close(l.done)
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()
	bridgekit.SetLogger(logger)

	cfg := config.LoadFromPath(*configPath)
	if err := run(cfg, logger); err != nil {
		logger.Error("bridge-echo failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	if err != nil {
		return err
	}

	a, b := net.Pipe()
	native := bridgekit.NewNode(cfg, a, bridgekit.WithRole(bridgekit.RoleAcceptor),
		bridgekit.WithLogger(logger.Named("native")), bridgekit.WithMetrics(collector))
	host := bridgekit.NewNode(cfg, b,
		bridgekit.WithLogger(logger.Named("host")), bridgekit.WithMetrics(collector))
	defer host.Close()
	defer native.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan error, 1)
	go func() { accepted <- native.Start(ctx) }()
	if err := host.Start(ctx); err != nil {
		return err
	}
	if err := <-accepted; err != nil {
		return err
	}

	server := native.NewBridge("echo", bridge.TypeJSON)
	if err := server.RegisterMethod("echo", func(_ context.Context, args []any) (any, error) {
		if len(args) == 0 {
			return nil, nil
		}
		return args[0], nil
	}); err != nil {
		return err
	}
	if err := server.Register(ctx); err != nil {
		return err
	}

	listener := &echoListener{logger: logger.Named("host"), done: make(chan struct{})}
	client := host.NewBridge("echo", bridge.TypeJSON, bridge.WithResultListener(listener))
	if err := client.Register(ctx); err != nil {
		return err
	}

	client.CallMethod("echo", "hello async")
	select {
	case <-listener.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	result, err := client.CallMethodSync(ctx, "echo", "hello sync")
	if err != nil {
		return err
	}
	logger.Info("sync result", zap.Any("result", result))

	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		total := 0.0
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
		logger.Info("metric", zap.String("name", mf.GetName()), zap.Float64("total", total))
	}
	return nil
}
