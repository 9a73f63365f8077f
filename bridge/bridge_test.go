package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/bridge-go/config"
	"github.com/machinefabric/bridge-go/executor"
)

// loopPeer drives a remote Manager in-process, the way the framed link
// does across a connection.
type loopPeer struct {
	remote Inbound

	mu       sync.Mutex
	notified []string
}

func (p *loopPeer) BridgeExists(_ context.Context, name string, typ Type) (bool, error) {
	return p.remote.BridgeExists(name, typ), nil
}

func (p *loopPeer) CallMethod(ctx context.Context, call Call) (Reply, error) {
	done := make(chan Reply, 1)
	err := p.remote.Schedule(call.Bridge, call.Sync, func(ctx context.Context) {
		if call.Type == TypeJSON {
			r := p.remote.InvokeMethod(ctx, call.Bridge, call.Method, call.Params)
			done <- Reply{Payload: r.Encode(), Code: r.ErrorCode, Message: r.ErrorMessage}
			return
		}
		r := p.remote.InvokeMethodBinary(ctx, call.Bridge, call.Method, call.Params)
		done <- Reply{Payload: r.Data, Code: r.Code, Message: r.Message}
	})
	if err != nil {
		return Reply{}, err
	}
	select {
	case r := <-done:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

func (p *loopPeer) SendMessage(ctx context.Context, msg Message) (Reply, error) {
	return p.remote.DeliverMessage(ctx, msg.Bridge, msg.Payload), nil
}

func (p *loopPeer) NotifyRegistered(_ context.Context, name string, _ Type, ok bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ok {
		p.notified = append(p.notified, name)
	}
	return nil
}

type outcome struct {
	method  string
	result  any
	code    ErrorCode
	message string
}

type recorder struct {
	ch        chan outcome
	responses chan any
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan outcome, 16), responses: make(chan any, 16)}
}

func (r *recorder) OnSuccess(method string, result any) {
	r.ch <- outcome{method: method, result: result}
}

func (r *recorder) OnError(method string, code ErrorCode, message string) {
	r.ch <- outcome{method: method, code: code, message: message}
}

func (r *recorder) OnMessage(_ context.Context, data any) (any, error) {
	if s, ok := data.(string); ok && s == "ping" {
		return "pong", nil
	}
	return nil, NewError(CodeDataError, "unexpected message")
}

func (r *recorder) OnMessageResponse(data any) {
	r.responses <- data
}

func (r *recorder) next(t *testing.T) outcome {
	t.Helper()
	select {
	case o := <-r.ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
		return outcome{}
	}
}

func newRuntime(t *testing.T) *executor.Runtime {
	t.Helper()
	rt := executor.NewRuntime(config.Executor{PoolSize: 4, PoolBacklog: 32, MainBacklog: 8})
	t.Cleanup(rt.Close)
	return rt
}

// newPair links a client manager and a server manager through loop peers.
func newPair(t *testing.T, clientOpts ...Option) (client, server *Manager) {
	t.Helper()
	client = NewManager(newRuntime(t), clientOpts...)
	server = NewManager(newRuntime(t))
	client.SetPeer(&loopPeer{remote: server})
	server.SetPeer(&loopPeer{remote: client})
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

// connect registers name on the server, then on the client, so both end
// up available.
func connect(t *testing.T, client, server *Manager, name string, typ Type, setup func(*Bridge), opts ...BridgeOption) (*Bridge, *Bridge) {
	t.Helper()
	srv := server.NewBridge(name, typ)
	if setup != nil {
		setup(srv)
	}
	require.NoError(t, srv.Register(context.Background()))
	cli := client.NewBridge(name, typ, opts...)
	require.NoError(t, cli.Register(context.Background()))
	require.True(t, cli.IsAvailable())
	require.True(t, srv.IsAvailable())
	return cli, srv
}

func addHandler(_ context.Context, args []any) (any, error) {
	if len(args) != 2 {
		return nil, NewError(CodeMethodParamError, "want two arguments")
	}
	a, ok1 := args[0].(int32)
	b, ok2 := args[1].(int32)
	if !ok1 || !ok2 {
		return nil, NewError(CodeMethodParamError, "want integers")
	}
	return a + b, nil
}

func echoHandler(_ context.Context, args []any) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return args[0], nil
}

// TEST401: error codes carry stable names and match by code
func TestErrorCodes(t *testing.T) {
	assert.Equal(t, "METHOD_UNIMPL", CodeMethodUnimpl.String())
	assert.Equal(t, "CODEC_TYPE_MISMATCH", CodeTypeMismatch.String())
	assert.Equal(t, 12, int(CodeCodecInvalid))
	assert.Equal(t, "CODE_99", ErrorCode(99).String())

	err := Errorf(CodeMethodParamError, "bad %d", 1).at("b", "m")
	assert.True(t, errors.Is(err, ErrMethodParam))
	assert.True(t, errors.Is(err, CodeMethodParamError))
	assert.False(t, errors.Is(err, ErrMethodUnimpl))
	assert.Equal(t, "b.m: [METHOD_PARAM_ERROR] bad 1", err.Error())

	assert.Equal(t, CodeDataError, CodeOf(CodeDataError))
	assert.Equal(t, CodeMethodUnimpl, CodeOf(errors.New("plain")))
	assert.Equal(t, CodeMethodParamError, CodeOf(errArgMismatch))
	assert.Equal(t, CodeNone, CodeOf(nil))
}

// TEST402: only the part before the first '$' is the lookup key
func TestMethodKey(t *testing.T) {
	assert.Equal(t, "add", methodKey("add"))
	assert.Equal(t, "add", methodKey("add$1"))
	assert.Equal(t, "add", methodKey("add$a$b"))
	assert.Equal(t, "", methodKey("$add"))
}

// TEST403: method registration rejects bad names and duplicates
func TestRegisterMethod(t *testing.T) {
	m := NewManager(newRuntime(t))
	b := m.NewBridge("calc", TypeJSON)

	require.NoError(t, b.RegisterMethod("add", addHandler))
	assert.ErrorIs(t, b.RegisterMethod("add$2", addHandler), ErrMethodExisted)
	assert.ErrorIs(t, b.RegisterMethod("", addHandler), ErrMethodName)
	assert.ErrorIs(t, b.RegisterMethod("$x", addHandler), ErrMethodName)

	b.Release()
	assert.ErrorIs(t, b.RegisterMethod("sub", addHandler), ErrBridgeInvalid)
}

// TEST404: bridge registration failures map to their codes
func TestRegisterBridge(t *testing.T) {
	m := NewManager(newRuntime(t))

	assert.ErrorIs(t, m.NewBridge("", TypeJSON).Register(context.Background()), ErrBridgeName)

	b := m.NewBridge("x", TypeJSON)
	require.NoError(t, b.Register(context.Background()))
	assert.Equal(t, StateRegistered, b.State(), "no peer means no availability")
	b.Release()
	assert.ErrorIs(t, b.Register(context.Background()), ErrBridgeInvalid)

	m.Close()
	late := m.NewBridge("late", TypeJSON)
	assert.ErrorIs(t, late.Register(context.Background()), ErrBridgeCreate)
	assert.Equal(t, StateUnregistered, late.State())
}

// TEST405: synchronous JSON call round trip
func TestSyncJSONCall(t *testing.T) {
	client, server := newPair(t)
	cli, _ := connect(t, client, server, "calc", TypeJSON, func(b *Bridge) {
		require.NoError(t, b.RegisterMethod("add", addHandler))
	})

	got, err := cli.CallMethodSync(context.Background(), "add", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(5), got)

	got, err = cli.CallMethodSync(context.Background(), "add$v2", 40, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(42), got)

	peer := server.currentPeer().(*loopPeer)
	peer.mu.Lock()
	assert.Contains(t, peer.notified, "calc")
	peer.mu.Unlock()
}

// TEST406: synchronous binary call round trip keeps typed lists and bytes
func TestSyncBinaryCall(t *testing.T) {
	client, server := newPair(t)
	cli, _ := connect(t, client, server, "blob", TypeBinary, func(b *Bridge) {
		require.NoError(t, b.RegisterMethod("echo", echoHandler))
	})

	got, err := cli.CallMethodSync(context.Background(), "echo", []int32{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3}, got)

	got, err = cli.CallMethodSync(context.Background(), "echo", []byte{0xde, 0xad})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, got)

	got, err = cli.CallMethodSync(context.Background(), "echo")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// TEST407: async calls report success and failure to the result listener
func TestAsyncCall(t *testing.T) {
	client, server := newPair(t)
	rec := newRecorder()
	cli, _ := connect(t, client, server, "calc", TypeJSON, func(b *Bridge) {
		require.NoError(t, b.RegisterMethod("add", addHandler))
	}, WithResultListener(rec))

	cli.CallMethod("add", 1, 2)
	o := rec.next(t)
	assert.Equal(t, "add", o.method)
	assert.Equal(t, CodeNone, o.code)
	assert.Equal(t, int32(3), o.result)

	cli.CallMethod("missing")
	o = rec.next(t)
	assert.Equal(t, "missing", o.method)
	assert.Equal(t, CodeMethodUnimpl, o.code)

	cli.CallMethod("add", int64(1)<<60, 1)
	o = rec.next(t)
	assert.Equal(t, CodeExceedsSafeInteger, o.code)
}

// TEST408: an unknown method fails with METHOD_UNIMPL on the sync path
func TestUnknownMethod(t *testing.T) {
	client, server := newPair(t)
	cli, _ := connect(t, client, server, "calc", TypeJSON, nil)

	_, err := cli.CallMethodSync(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrMethodUnimpl)

	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "calc", be.Bridge)
	assert.Equal(t, "nope", be.Method)
}

// TEST409: a call in the wrong encoding fails before decoding
func TestTypeMismatch(t *testing.T) {
	m := NewManager(newRuntime(t))
	j := m.NewBridge("j", TypeJSON)
	require.NoError(t, j.Register(context.Background()))
	bin := m.NewBridge("b", TypeBinary)
	require.NoError(t, bin.Register(context.Background()))

	res := m.InvokeMethodBinary(context.Background(), "j", "any", []byte{0xff, 0xff})
	assert.Equal(t, CodeTypeMismatch, res.Code)
	assert.Empty(t, res.Data)

	jres := m.InvokeMethod(context.Background(), "b", "any", []byte("not json"))
	assert.Equal(t, CodeTypeMismatch, jres.ErrorCode)

	jres = m.InvokeMethod(context.Background(), "absent", "any", nil)
	assert.Equal(t, CodeBridgeNameError, jres.ErrorCode)

	assert.False(t, m.BridgeExists("j", TypeBinary))
	assert.True(t, m.BridgeExists("j", TypeJSON))
	assert.True(t, j.IsAvailable())
}

// TEST410: a handler that never answers makes the sync call time out
func TestSyncTimeout(t *testing.T) {
	client, server := newPair(t, WithSyncTimeout(50*time.Millisecond))
	release := make(chan struct{})
	defer close(release)

	cli, _ := connect(t, client, server, "slow", TypeJSON, func(b *Bridge) {
		require.NoError(t, b.RegisterMethod("wait", func(context.Context, []any) (any, error) {
			<-release
			return true, nil
		}))
	})

	start := time.Now()
	_, err := cli.CallMethodSync(context.Background(), "wait")
	assert.ErrorIs(t, err, ErrSyncTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// TEST411: cancelling the caller's context interrupts the wait
func TestSyncInterrupted(t *testing.T) {
	client, server := newPair(t, WithSyncTimeout(5*time.Second))
	release := make(chan struct{})
	defer close(release)

	cli, _ := connect(t, client, server, "slow", TypeJSON, func(b *Bridge) {
		require.NoError(t, b.RegisterMethod("wait", func(context.Context, []any) (any, error) {
			<-release
			return true, nil
		}))
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := cli.CallMethodSync(ctx, "wait")
	assert.ErrorIs(t, err, ErrSyncInterrupted)
}

// TEST412: a second sync call of a method still in flight is rejected
func TestMethodIsRunning(t *testing.T) {
	client, server := newPair(t, WithSyncTimeout(5*time.Second))
	started := make(chan struct{})
	release := make(chan struct{})

	cli, _ := connect(t, client, server, "slow", TypeJSON, func(b *Bridge) {
		require.NoError(t, b.RegisterMethod("wait", func(context.Context, []any) (any, error) {
			close(started)
			<-release
			return "done", nil
		}))
	})

	first := make(chan error, 1)
	go func() {
		_, err := cli.CallMethodSync(context.Background(), "wait")
		first <- err
	}()
	<-started

	_, err := cli.CallMethodSync(context.Background(), "wait")
	assert.ErrorIs(t, err, ErrMethodIsRunning)

	close(release)
	assert.NoError(t, <-first)
}

type calc struct{}

func (calc) Add(a, b int) int { return a + b }

func (calc) Greet(_ context.Context, name string) (string, error) { return "hello " + name, nil }

func (calc) Sum(xs ...float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}

func (calc) Fail() error { return errors.New("broken") }

func (calc) Domain() error { return CodeDataError }

func (calc) Explode() { panic("kaboom") }

// TEST413: reflection over a bound target resolves, converts and classifies
func TestBoundTarget(t *testing.T) {
	m := NewManager(newRuntime(t))
	b := m.NewBridge("calc", TypeJSON, WithTarget(calc{}))
	require.NoError(t, b.Register(context.Background()))
	ctx := context.Background()

	res := m.InvokeMethod(ctx, "calc", "add", []byte(`{"0":2,"1":3}`))
	require.Equal(t, CodeNone, res.ErrorCode, res.ErrorMessage)
	assert.JSONEq(t, `5`, string(res.Result))

	res = m.InvokeMethod(ctx, "calc", "greet$x", []byte(`{"0":"bob"}`))
	require.Equal(t, CodeNone, res.ErrorCode, res.ErrorMessage)
	assert.JSONEq(t, `"hello bob"`, string(res.Result))

	res = m.InvokeMethod(ctx, "calc", "sum", []byte(`{"0":1,"1":2.5}`))
	require.Equal(t, CodeNone, res.ErrorCode, res.ErrorMessage)
	assert.JSONEq(t, `3.5`, string(res.Result))

	res = m.InvokeMethod(ctx, "calc", "add", []byte(`{"0":"x","1":3}`))
	assert.Equal(t, CodeMethodParamError, res.ErrorCode)

	res = m.InvokeMethod(ctx, "calc", "add", []byte(`{"0":1}`))
	assert.Equal(t, CodeMethodParamError, res.ErrorCode)

	res = m.InvokeMethod(ctx, "calc", "fail", nil)
	assert.Equal(t, CodeMethodUnimpl, res.ErrorCode)

	res = m.InvokeMethod(ctx, "calc", "domain", nil)
	assert.Equal(t, CodeDataError, res.ErrorCode)

	res = m.InvokeMethod(ctx, "calc", "explode", nil)
	assert.Equal(t, CodeMethodUnimpl, res.ErrorCode)

	res = m.InvokeMethod(ctx, "calc", "missing", nil)
	assert.Equal(t, CodeMethodUnimpl, res.ErrorCode)

	// explicit handlers win over the target
	require.NoError(t, b.RegisterMethod("greet", func(context.Context, []any) (any, error) { return "hi", nil }))
	res = m.InvokeMethod(ctx, "calc", "greet", []byte(`{"0":"bob"}`))
	assert.JSONEq(t, `"hi"`, string(res.Result))
}

// TEST414: results beyond the safe integer range are rejected on JSON bridges
func TestSafeIntegerResult(t *testing.T) {
	m := NewManager(newRuntime(t))
	b := m.NewBridge("n", TypeJSON)
	require.NoError(t, b.Register(context.Background()))
	var out any
	require.NoError(t, b.RegisterMethod("value", func(context.Context, []any) (any, error) { return out, nil }))

	cases := []struct {
		v    any
		code ErrorCode
	}{
		{int64(1<<53 - 1), CodeNone},
		{int64(-(1<<53 - 1)), CodeNone},
		{int64(1 << 53), CodeExceedsSafeInteger},
		{int64(-(1 << 53)), CodeExceedsSafeInteger},
		{uint64(1 << 60), CodeExceedsSafeInteger},
		{[]int64{1 << 53}, CodeExceedsSafeInteger},
	}
	for _, tc := range cases {
		out = tc.v
		res := m.InvokeMethod(context.Background(), "n", "value", nil)
		assert.Equal(t, tc.code, res.ErrorCode, "%v", tc.v)
	}

	// binary bridges carry full 64-bit integers
	bin := m.NewBridge("nb", TypeBinary)
	require.NoError(t, bin.Register(context.Background()))
	require.NoError(t, bin.RegisterMethod("value", func(context.Context, []any) (any, error) { return int64(1 << 60), nil }))
	bres := m.InvokeMethodBinary(context.Background(), "nb", "value", nil)
	require.Equal(t, CodeNone, bres.Code)
	v, err := m.decodeReply(TypeBinary, Reply{Payload: bres.Data})
	require.NoError(t, err)
	assert.Equal(t, int64(1<<60), v)
}

// TEST415: parameter schemas gate inbound calls
func TestParamSchema(t *testing.T) {
	m := NewManager(newRuntime(t))
	b := m.NewBridge("calc", TypeJSON)
	require.NoError(t, b.Register(context.Background()))
	require.NoError(t, b.RegisterMethod("add", addHandler))
	require.NoError(t, b.SetParamSchema("add", []byte(`{
		"type": "object",
		"required": ["0", "1"],
		"properties": {"0": {"type": "integer"}, "1": {"type": "integer"}}
	}`)))

	res := m.InvokeMethod(context.Background(), "calc", "add", []byte(`{"0":1}`))
	assert.Equal(t, CodeMethodParamError, res.ErrorCode)
	assert.Contains(t, res.ErrorMessage, "arguments rejected")

	res = m.InvokeMethod(context.Background(), "calc", "add", []byte(`{"0":1,"1":2}`))
	assert.Equal(t, CodeNone, res.ErrorCode)

	assert.ErrorIs(t, b.SetParamSchema("add", []byte(`{"type": 12}`)), ErrMethodParam)
}

// TEST416: released bridges fail fast everywhere
func TestRelease(t *testing.T) {
	client, server := newPair(t)
	cli, srv := connect(t, client, server, "calc", TypeJSON, func(b *Bridge) {
		require.NoError(t, b.RegisterMethod("add", addHandler))
	})

	srv.Release()
	assert.Equal(t, StateReleased, srv.State())
	_, ok := server.Lookup("calc")
	assert.False(t, ok)

	_, err := cli.CallMethodSync(context.Background(), "add", 1, 2)
	assert.ErrorIs(t, err, ErrBridgeName)

	cli.Release()
	cli.Release()
	_, err = cli.CallMethodSync(context.Background(), "add", 1, 2)
	assert.ErrorIs(t, err, ErrBridgeInvalid)
	assert.ErrorIs(t, cli.SendMessage("x"), ErrBridgeInvalid)
}

// TEST417: messages reach the listener and the response comes back
func TestMessages(t *testing.T) {
	client, server := newPair(t)
	rec := newRecorder()
	srvRec := newRecorder()
	for _, typ := range []Type{TypeJSON, TypeBinary} {
		name := "chat-" + typ.String()
		srv := server.NewBridge(name, typ, WithMessageListener(srvRec))
		require.NoError(t, srv.Register(context.Background()))
		cli := client.NewBridge(name, typ, WithMessageListener(rec))
		require.NoError(t, cli.Register(context.Background()))

		require.NoError(t, cli.SendMessage("ping"))
		select {
		case got := <-rec.responses:
			assert.Equal(t, "pong", got, typ.String())
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: no message response", typ)
		}

		reply := server.DeliverMessage(context.Background(), name, nil)
		assert.Equal(t, CodeDataError, reply.Code)
	}

	reply := server.DeliverMessage(context.Background(), "absent", nil)
	assert.Equal(t, CodeBridgeNameError, reply.Code)
}

// TEST418: a cancel notification drops late results of pending async calls
func TestCancelMethod(t *testing.T) {
	client, server := newPair(t)
	rec := newRecorder()
	started := make(chan struct{})
	release := make(chan struct{})
	cli, _ := connect(t, client, server, "slow", TypeJSON, func(b *Bridge) {
		require.NoError(t, b.RegisterMethod("wait", func(context.Context, []any) (any, error) {
			close(started)
			<-release
			return "late", nil
		}))
	}, WithResultListener(rec))

	cli.CallMethod("wait")
	<-started
	client.CancelMethod("slow", "wait$1")
	close(release)

	assert.Never(t, func() bool { return len(rec.ch) > 0 }, 200*time.Millisecond, 10*time.Millisecond)
	client.CancelMethod("absent", "wait")
}

// TEST419: a nil binary result is one NULL byte, never empty
func TestBinaryNullResult(t *testing.T) {
	m := NewManager(newRuntime(t))
	b := m.NewBridge("b", TypeBinary)
	require.NoError(t, b.Register(context.Background()))
	require.NoError(t, b.RegisterMethod("nothing", func(context.Context, []any) (any, error) { return nil, nil }))

	res := m.InvokeMethodBinary(context.Background(), "b", "nothing", nil)
	require.Equal(t, CodeNone, res.Code)
	assert.Equal(t, []byte{0}, res.Data)

	res = m.InvokeMethodBinary(context.Background(), "b", "nothing", []byte{0xfe})
	assert.Equal(t, CodeDataError, res.Code)

	_, err := m.decodeReply(TypeBinary, Reply{})
	assert.ErrorIs(t, err, ErrData)
}

// TEST420: calls on an unavailable bridge are dropped without a callback
func TestUnavailableNoop(t *testing.T) {
	m := NewManager(newRuntime(t), WithConfig(config.Bridge{LogRPS: 1, LogBurst: 1}))
	rec := newRecorder()
	b := m.NewBridge("lonely", TypeJSON, WithResultListener(rec))
	require.NoError(t, b.Register(context.Background()))

	for i := 0; i < 5; i++ {
		b.CallMethod("anything", i)
	}
	assert.Never(t, func() bool { return len(rec.ch) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	_, err := b.CallMethodSync(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrBridgeInvalid)
}

// TEST421: CallPeerSync reports missing bridges and peer codes as *Error
func TestCallPeerSync(t *testing.T) {
	client, server := newPair(t)
	connect(t, client, server, "calc", TypeBinary, func(b *Bridge) {
		require.NoError(t, b.RegisterMethod("add", addHandler))
	})

	_, err := client.CallPeerSync(context.Background(), "absent", "add")
	assert.ErrorIs(t, err, ErrBridgeName)

	got, err := client.CallPeerSync(context.Background(), "calc", "add", int32(1), int32(2))
	require.NoError(t, err)
	assert.Equal(t, int32(3), got)

	_, err = client.CallPeerSync(context.Background(), "calc", "add", "x", 2)
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, CodeMethodParamError, be.Code)

	_, err = client.CallPeerSync(context.Background(), "calc", "add", make(chan int))
	assert.ErrorIs(t, err, ErrMethodParam)
}

// TEST422: registering a name again replaces the previous bridge
func TestLastWriteWins(t *testing.T) {
	m := NewManager(newRuntime(t))
	first := m.NewBridge("dup", TypeJSON)
	require.NoError(t, first.Register(context.Background()))
	second := m.NewBridge("dup", TypeBinary)
	require.NoError(t, second.Register(context.Background()))

	got, ok := m.Lookup("dup")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, StateUnregistered, first.State())

	first.Release()
	_, ok = m.Lookup("dup")
	assert.True(t, ok, "releasing the displaced bridge keeps the new one")
	assert.Equal(t, []string{"dup"}, m.Names())
}

// TEST423: log throttle admits a burst per name then refuses
func TestLogThrottle(t *testing.T) {
	th := newLogThrottle(1, 2)
	now := time.Now()
	assert.True(t, th.allow("a", now))
	assert.True(t, th.allow("a", now))
	assert.False(t, th.allow("a", now))
	assert.True(t, th.allow("b", now))
	assert.True(t, th.allow("a", now.Add(time.Second)))

	var none *logThrottle
	assert.True(t, none.allow("a", now))
	assert.Nil(t, newLogThrottle(0, 1))
}

// TEST424: codes and errors format through their names
func TestErrorFormatting(t *testing.T) {
	assert.Equal(t, "METHOD_PARAM_ERROR: method parameter error", CodeMethodParamError.Error())
	assert.Equal(t, "CODE_99: unknown error", ErrorCode(99).Error())
	assert.Equal(t, "[DATA_ERROR] data error", NewError(CodeDataError, "").Error())
	assert.Equal(t, "calc: [BRIDGE_INVALID] gone", NewError(CodeBridgeInvalid, "gone").at("calc", "").Error())

	var err error = CodeMethodUnimpl
	assert.Equal(t, "METHOD_UNIMPL: method not implemented", MessageOf(err))

	m := NewManager(newRuntime(t))
	b := m.NewBridge("calc", TypeJSON)
	require.NoError(t, b.RegisterMethod("strict", func(context.Context, []any) (any, error) {
		return nil, CodeMethodParamError
	}))
	require.NoError(t, b.Register(context.Background()))

	res := m.InvokeMethod(context.Background(), "calc", "strict", nil)
	assert.Equal(t, CodeMethodParamError, res.ErrorCode)
	assert.Equal(t, "METHOD_PARAM_ERROR: method parameter error", res.ErrorMessage)
}
