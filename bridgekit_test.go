package bridgekit

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter struct{}

func (greeter) Hello(name string) string { return "hello " + name }

// TEST901: two nodes over a pipe serve each other's bridges
func TestNodesOverPipe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Executor.PoolSize = 2
	cfg.Bridge.SyncTimeout = 2 * time.Second

	a, b := net.Pipe()
	left := NewNode(cfg, a)
	right := NewNode(cfg, b, WithRole(RoleAcceptor))
	t.Cleanup(left.Close)
	t.Cleanup(right.Close)

	ctx := context.Background()
	started := make(chan error, 1)
	go func() { started <- right.Start(ctx) }()
	require.NoError(t, left.Start(ctx))
	require.NoError(t, <-started)

	require.NoError(t, right.NewBridge("greeter", TypeJSON, WithTarget(greeter{})).Register(ctx))
	caller := left.NewBridge("greeter", TypeJSON)
	require.NoError(t, caller.Register(ctx))
	require.True(t, caller.IsAvailable())

	got, err := caller.CallMethodSync(ctx, "hello", "node")
	require.NoError(t, err)
	assert.Equal(t, "hello node", got)
}
