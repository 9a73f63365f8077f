// Package bridgekit wires the executor, the bridge manager and the framed
// peer link into a Node, and re-exports the types most callers need.
package bridgekit

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/machinefabric/bridge-go/bifaci"
	"github.com/machinefabric/bridge-go/bridge"
	"github.com/machinefabric/bridge-go/config"
	"github.com/machinefabric/bridge-go/executor"
	"github.com/machinefabric/bridge-go/internal/logging"
	"github.com/machinefabric/bridge-go/metrics"
)

// Bridge types
type Bridge = bridge.Bridge
type Manager = bridge.Manager
type Type = bridge.Type
type Handler = bridge.Handler
type ResultListener = bridge.ResultListener
type MessageListener = bridge.MessageListener
type ErrorCode = bridge.ErrorCode
type Error = bridge.Error

const (
	TypeJSON   = bridge.TypeJSON
	TypeBinary = bridge.TypeBinary
)

var NewError = bridge.NewError
var WithResultListener = bridge.WithResultListener
var WithMessageListener = bridge.WithMessageListener
var WithTarget = bridge.WithTarget

// Link types
type Endpoint = bifaci.Endpoint
type Limits = bifaci.Limits
type Role = bifaci.Role

const (
	RoleInitiator = bifaci.RoleInitiator
	RoleAcceptor  = bifaci.RoleAcceptor
)

// Config
type Config = config.Config

var DefaultConfig = config.Default
var LoadConfig = config.LoadFromPath

// Node is one runtime's side of a link: worker pool and main loop, the
// bridge directory, and the endpoint joining it to the peer.
type Node struct {
	Runtime *executor.Runtime
	Manager *bridge.Manager
	Link    *bifaci.Endpoint

	logger *zap.Logger
}

// NodeOption configures a Node.
type NodeOption func(*nodeOptions)

type nodeOptions struct {
	logger  *zap.Logger
	metrics *metrics.Collector
	role    bifaci.Role
}

// SetLogger installs the logger used by nodes and components built without
// WithLogger.
func SetLogger(l *zap.Logger) {
	logging.SetBase(l)
}

// WithLogger names child loggers per component under l.
func WithLogger(l *zap.Logger) NodeOption {
	return func(o *nodeOptions) { o.logger = l }
}

// WithMetrics shares c between every component of the node.
func WithMetrics(c *metrics.Collector) NodeOption {
	return func(o *nodeOptions) { o.metrics = c }
}

// WithRole sets the handshake role of the node's endpoint.
func WithRole(r bifaci.Role) NodeOption {
	return func(o *nodeOptions) { o.role = r }
}

// NewNode builds a node over conn. Nothing is exchanged until Start.
func NewNode(cfg config.Config, conn io.ReadWriteCloser, opts ...NodeOption) *Node {
	o := nodeOptions{logger: logging.Base()}
	for _, opt := range opts {
		opt(&o)
	}

	rt := executor.NewRuntime(cfg.Executor,
		executor.WithLogger(o.logger.Named("executor")),
		executor.WithMetrics(o.metrics))
	m := bridge.NewManager(rt,
		bridge.WithConfig(cfg.Bridge),
		bridge.WithLogger(o.logger.Named("bridge")),
		bridge.WithMetrics(o.metrics))
	link := bifaci.NewEndpoint(conn, m,
		bifaci.WithConfig(cfg.Link),
		bifaci.WithRole(o.role),
		bifaci.WithLogger(o.logger.Named("link")),
		bifaci.WithMetrics(o.metrics))

	return &Node{Runtime: rt, Manager: m, Link: link, logger: o.logger}
}

// Start performs the handshake and attaches the link as the manager's peer.
func (n *Node) Start(ctx context.Context) error {
	if err := n.Link.Start(ctx); err != nil {
		return err
	}
	n.Manager.SetPeer(n.Link)
	return nil
}

// NewBridge creates a bridge on the node's manager.
func (n *Node) NewBridge(name string, typ bridge.Type, opts ...bridge.BridgeOption) *bridge.Bridge {
	return n.Manager.NewBridge(name, typ, opts...)
}

// Close tears the node down: link, then bridges, then the runtime.
func (n *Node) Close() {
	if err := n.Link.Close(); err != nil {
		n.logger.Warn("close link", zap.Error(err))
	}
	n.Manager.Close()
	n.Runtime.Close()
}
