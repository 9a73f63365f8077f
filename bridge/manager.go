// Package bridge implements named method bridges between this runtime and a
// peer runtime: the per-bridge method registry, the directory that routes
// inbound calls, and the outbound call and message paths.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/machinefabric/bridge-go/codec"
	"github.com/machinefabric/bridge-go/config"
	"github.com/machinefabric/bridge-go/executor"
	"github.com/machinefabric/bridge-go/internal/logging"
	"github.com/machinefabric/bridge-go/metrics"
	"github.com/machinefabric/bridge-go/params"
)

// Manager is the directory of bridges for one runtime and the single point
// where calls cross to and from the peer.
type Manager struct {
	rt          *executor.Runtime
	codec       *codec.BinaryCodec
	logger      *zap.Logger
	metrics     *metrics.Collector
	throttle    *logThrottle
	syncTimeout time.Duration

	mu      sync.Mutex
	bridges map[string]*Bridge
	peer    Peer
	closed  bool
}

var _ Inbound = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger overrides the package logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records call outcomes on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithSyncTimeout bounds CallMethodSync waits.
func WithSyncTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.syncTimeout = d
		}
	}
}

// WithConfig applies the bridge section of the runtime configuration.
func WithConfig(cfg config.Bridge) Option {
	return func(m *Manager) {
		if cfg.SyncTimeout > 0 {
			m.syncTimeout = cfg.SyncTimeout
		}
		m.throttle = newLogThrottle(cfg.LogRPS, cfg.LogBurst)
	}
}

// NewManager creates an empty directory on rt.
func NewManager(rt *executor.Runtime, opts ...Option) *Manager {
	def := config.Default().Bridge
	m := &Manager{
		rt:          rt,
		codec:       codec.NewBinaryCodec(),
		logger:      logging.For("bridge"),
		throttle:    newLogThrottle(def.LogRPS, def.LogBurst),
		syncTimeout: def.SyncTimeout,
		bridges:     make(map[string]*Bridge),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewBridge creates an unregistered bridge owned by m.
func (m *Manager) NewBridge(name string, typ Type, opts ...BridgeOption) *Bridge {
	var o bridgeOptions
	for _, opt := range opts {
		opt(&o)
	}
	b := &Bridge{
		name:     name,
		typ:      typ,
		m:        m,
		input:    m.rt.NewQueue(executor.TagInput, o.mode),
		output:   m.rt.NewQueue(executor.TagOutput, o.mode),
		results:  o.results,
		messages: o.messages,
		handlers: make(map[string]Handler),
		cache:    make(map[string]Handler),
		schemas:  make(map[string]*gojsonschema.Schema),
		running:  make(map[string]int),
		cancels:  make(map[string]uint64),
	}
	if o.target != nil {
		b.target = reflect.ValueOf(o.target)
	}
	return b
}

// SetPeer attaches the peer. Passing nil detaches it.
func (m *Manager) SetPeer(p Peer) {
	m.mu.Lock()
	m.peer = p
	m.mu.Unlock()
}

func (m *Manager) currentPeer() Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peer
}

// Lookup returns the registered bridge called name.
func (m *Manager) Lookup(name string) (*Bridge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bridges[name]
	return b, ok
}

// Names lists registered bridge names in no particular order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.bridges))
	for name := range m.bridges {
		out = append(out, name)
	}
	return out
}

// Close releases every bridge and refuses new registrations.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	all := make([]*Bridge, 0, len(m.bridges))
	for _, b := range m.bridges {
		all = append(all, b)
	}
	m.bridges = make(map[string]*Bridge)
	m.peer = nil
	m.mu.Unlock()

	for _, b := range all {
		b.Release()
	}
}

func (m *Manager) insert(b *Bridge) (*Bridge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, NewError(CodeBridgeCreateError, "manager closed").at(b.name, "")
	}
	prev := m.bridges[b.name]
	m.bridges[b.name] = b
	if prev == b {
		prev = nil
	}
	return prev, nil
}

func (m *Manager) remove(b *Bridge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bridges[b.name] == b {
		delete(m.bridges, b.name)
	}
}

func (m *Manager) warnUnavailable(name, method string) {
	if m.throttle.allow(name, time.Now()) {
		m.logger.Warn("bridge unavailable, call dropped",
			zap.String("bridge", name), zap.String("method", method))
	}
}

func (m *Manager) observe(direction string, typ Type, err error) {
	outcome := "ok"
	if err != nil {
		outcome = CodeOf(err).String()
	}
	m.metrics.ObserveCall(direction, typ.String(), outcome)
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// CallPeerSync calls method of the named bridge on the peer and waits for
// the reply on the calling goroutine. Every failure is an *Error carrying
// the originating code, except context errors which pass through.
func (m *Manager) CallPeerSync(ctx context.Context, bridge, method string, args ...any) (any, error) {
	b, ok := m.Lookup(bridge)
	if !ok {
		return nil, NewError(CodeBridgeNameError, "").at(bridge, method)
	}
	return m.callPeer(ctx, b, method, args, true)
}

func (m *Manager) callPeer(ctx context.Context, b *Bridge, method string, args []any, sync bool) (result any, err error) {
	defer func() { m.observe("outbound", b.typ, err) }()

	peer := m.currentPeer()
	if peer == nil {
		return nil, NewError(CodeBridgeInvalid, "no peer attached").at(b.name, method)
	}
	if methodKey(method) == "" {
		return nil, Errorf(CodeMethodNameError, "invalid method name %q", method).at(b.name, method)
	}
	payload, err := m.encodeArgs(b.typ, args)
	if err != nil {
		var be *Error
		if errors.As(err, &be) {
			be.at(b.name, method)
		}
		return nil, err
	}

	reply, err := peer.CallMethod(ctx, Call{
		Bridge: b.name,
		Method: method,
		Type:   b.typ,
		Sync:   sync,
		Params: payload,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		var be *Error
		if errors.As(err, &be) {
			return nil, err
		}
		return nil, Errorf(CodeBridgeInvalid, "peer: %v", err).at(b.name, method)
	}

	result, err = m.decodeReply(b.typ, reply)
	if err != nil {
		var be *Error
		if errors.As(err, &be) {
			be.at(b.name, method)
		}
		return nil, err
	}
	return result, nil
}

// syncCall runs the peer call on the main loop and bounds the wait.
func (m *Manager) syncCall(ctx context.Context, b *Bridge, method string, args []any) (any, error) {
	tctx, cancel := context.WithTimeout(ctx, m.syncTimeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	err := m.rt.Main.PostSync(tctx, func(context.Context) {
		r, e := m.callPeer(tctx, b, method, args, true)
		done <- outcome{r, e}
	})
	if err == nil {
		o := <-done
		if o.err == nil {
			return o.result, nil
		}
		err = o.err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		m.metrics.SyncTimeout()
		m.logger.Warn("sync call timed out", zap.String("bridge", b.name),
			zap.String("method", method), zap.Duration("timeout", m.syncTimeout))
		return nil, fmt.Errorf("%s.%s: %w", b.name, method, ErrSyncTimeout)
	case errors.Is(err, context.Canceled), errors.Is(err, executor.ErrShutdown):
		return nil, fmt.Errorf("%s.%s: %w", b.name, method, ErrSyncInterrupted)
	}
	return nil, err
}

func (m *Manager) sendMessage(ctx context.Context, b *Bridge, payload []byte) {
	peer := m.currentPeer()
	if peer == nil {
		m.warnUnavailable(b.name, "")
		return
	}
	reply, err := peer.SendMessage(ctx, Message{Bridge: b.name, Type: b.typ, Payload: payload})
	if err != nil {
		m.logger.Warn("send message failed", zap.String("bridge", b.name), zap.Error(err))
		return
	}
	if reply.Code != CodeNone {
		m.logger.Warn("peer rejected message", zap.String("bridge", b.name),
			zap.Stringer("code", reply.Code), zap.String("message", reply.Message))
		return
	}
	if b.messages == nil {
		return
	}
	data, err := m.decodePayload(b.typ, reply.Payload)
	if err != nil {
		m.logger.Warn("undecodable message response", zap.String("bridge", b.name), zap.Error(err))
		return
	}
	b.messages.OnMessageResponse(data)
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

// BridgeExists reports whether a bridge of that name and type is registered.
// A positive answer also marks the bridge available, since the peer asking
// implies it exposes the same name.
func (m *Manager) BridgeExists(name string, typ Type) bool {
	b, ok := m.Lookup(name)
	if !ok || b.typ != typ {
		return false
	}
	b.markAvailable()
	return true
}

// InvokeMethod serves a JSON call. params is the positional argument object.
func (m *Manager) InvokeMethod(ctx context.Context, bridge, method string, raw []byte) (res JSONResult) {
	defer func() { m.observe("inbound", TypeJSON, res.Err()) }()

	b, err := m.inboundBridge(bridge, TypeJSON)
	if err != nil {
		return jsonFailure(err)
	}
	args, err := params.UnmarshalArgs(raw)
	if err != nil {
		return jsonFailure(paramsError(err))
	}
	if err := b.checkParams(methodKey(method), func() ([]byte, error) { return raw, nil }); err != nil {
		return jsonFailure(err)
	}
	result, err := b.dispatch(ctx, method, args)
	if err != nil {
		m.logger.Debug("inbound call failed", zap.String("bridge", bridge),
			zap.String("method", method), zap.Error(err))
		return jsonFailure(err)
	}
	return encodeJSONResult(result)
}

// InvokeMethodBinary serves a binary call. params is the encoded argument
// list; an empty buffer or NULL means no arguments.
func (m *Manager) InvokeMethodBinary(ctx context.Context, bridge, method string, raw []byte) (res BinaryResult) {
	defer func() { m.observe("inbound", TypeBinary, res.Err()) }()

	b, err := m.inboundBridge(bridge, TypeBinary)
	if err != nil {
		return binaryFailure(err)
	}
	args, err := m.decodeBinaryArgs(raw)
	if err != nil {
		return binaryFailure(err)
	}
	if err := b.checkParams(methodKey(method), func() ([]byte, error) { return params.MarshalArgs(args) }); err != nil {
		return binaryFailure(err)
	}
	result, err := b.dispatch(ctx, method, args)
	if err != nil {
		m.logger.Debug("inbound call failed", zap.String("bridge", bridge),
			zap.String("method", method), zap.Error(err))
		return binaryFailure(err)
	}
	data, err := m.encodeValue(result)
	if err != nil {
		return binaryFailure(err)
	}
	return BinaryResult{Data: data}
}

// DeliverMessage hands an inbound message to the bridge's MessageListener
// and returns its encoded response.
func (m *Manager) DeliverMessage(ctx context.Context, bridge string, payload []byte) Reply {
	b, ok := m.Lookup(bridge)
	if !ok {
		return Reply{Code: CodeBridgeNameError, Message: CodeBridgeNameError.Message()}
	}
	if b.messages == nil {
		return Reply{Code: CodeMethodUnimpl, Message: "no message listener"}
	}
	data, err := m.decodePayload(b.typ, payload)
	if err != nil {
		return Reply{Code: CodeOf(err), Message: MessageOf(err)}
	}
	resp, err := b.messages.OnMessage(ctx, data)
	if err != nil {
		return Reply{Code: CodeOf(err), Message: MessageOf(err)}
	}
	out, err := m.encodePayload(b.typ, resp)
	if err != nil {
		return Reply{Code: CodeOf(err), Message: MessageOf(err)}
	}
	return Reply{Payload: out}
}

// CancelMethod drops the results of this side's pending asynchronous calls
// of method on bridge. Work already running is not interrupted.
func (m *Manager) CancelMethod(bridge, method string) {
	b, ok := m.Lookup(bridge)
	if !ok {
		return
	}
	b.cancel(methodKey(method))
	m.logger.Debug("method cancelled", zap.String("bridge", bridge), zap.String("method", method))
}

// Schedule runs task for bridge on the main loop when sync is set, on the
// bridge's input queue otherwise, or directly on the pool when the bridge is
// unknown.
func (m *Manager) Schedule(bridge string, sync bool, task func(ctx context.Context)) error {
	if sync {
		return m.rt.Main.Post(task)
	}
	run := func() { task(context.Background()) }
	if b, ok := m.Lookup(bridge); ok {
		return b.input.Enqueue(run)
	}
	return m.rt.Execute(run)
}

func (m *Manager) inboundBridge(name string, typ Type) (*Bridge, error) {
	b, ok := m.Lookup(name)
	if !ok {
		return nil, Errorf(CodeBridgeNameError, "no bridge %q", name)
	}
	if b.typ != typ {
		return nil, Errorf(CodeTypeMismatch, "bridge %q is %s, call is %s", name, b.typ, typ)
	}
	return b, nil
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func paramsError(err error) error {
	switch {
	case errors.Is(err, params.ErrExceedsSafeInteger):
		return NewError(CodeExceedsSafeInteger, err.Error())
	case errors.Is(err, params.ErrMalformed):
		return NewError(CodeDataError, err.Error())
	default:
		return NewError(CodeMethodParamError, err.Error())
	}
}

func (m *Manager) encodeArgs(typ Type, args []any) ([]byte, error) {
	if typ == TypeJSON {
		data, err := params.MarshalArgs(args)
		if err != nil {
			return nil, paramsError(err)
		}
		return data, nil
	}
	list := make(codec.List, len(args))
	for i, a := range args {
		v, err := codec.FromNative(a)
		if err != nil {
			return nil, Errorf(CodeMethodParamError, "argument %d: %v", i, err)
		}
		list[i] = v
	}
	data, err := m.codec.Encode(list)
	if err != nil {
		return nil, NewError(CodeDataError, err.Error())
	}
	return data, nil
}

func (m *Manager) decodeBinaryArgs(raw []byte) ([]any, error) {
	if len(raw) == 0 {
		return []any{}, nil
	}
	v, err := m.codec.Decode(raw)
	if err != nil {
		return nil, Errorf(CodeDataError, "decode arguments: %v", err)
	}
	switch tv := v.(type) {
	case codec.Null:
		return []any{}, nil
	case codec.List:
		args := make([]any, len(tv))
		for i, e := range tv {
			args[i] = codec.ToNative(e)
		}
		return args, nil
	default:
		return nil, Errorf(CodeDataError, "arguments must be a list, got %s", v.Tag())
	}
}

// encodeValue renders x in the binary format. The result is never empty.
func (m *Manager) encodeValue(x any) ([]byte, error) {
	v, err := codec.FromNative(x)
	if err != nil {
		return nil, Errorf(CodeDataError, "encode result: %v", err)
	}
	data, err := m.codec.Encode(v)
	if err != nil {
		return nil, Errorf(CodeDataError, "encode result: %v", err)
	}
	return data, nil
}

func encodeJSONResult(result any) JSONResult {
	if result == nil {
		return JSONResult{}
	}
	if err := params.CheckSafeInteger(result); err != nil {
		return jsonFailure(NewError(CodeExceedsSafeInteger, err.Error()))
	}
	j, err := params.ToJSONValue(result)
	if err != nil {
		return jsonFailure(paramsError(err))
	}
	data, err := json.Marshal(j)
	if err != nil {
		return jsonFailure(NewError(CodeDataError, err.Error()))
	}
	return JSONResult{Result: data}
}

func (m *Manager) decodeReply(typ Type, reply Reply) (any, error) {
	if reply.Code != CodeNone {
		return nil, NewError(reply.Code, reply.Message)
	}
	if typ == TypeJSON {
		env, err := ParseJSONResult(reply.Payload)
		if err != nil {
			return nil, err
		}
		if err := env.Err(); err != nil {
			return nil, err
		}
		return decodeJSONValue(env.Result)
	}
	if len(reply.Payload) == 0 {
		return nil, NewError(CodeDataError, "no result produced")
	}
	v, err := m.codec.Decode(reply.Payload)
	if err != nil {
		return nil, Errorf(CodeDataError, "decode result: %v", err)
	}
	return codec.ToNative(v), nil
}

func decodeJSONValue(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	v, err := codec.UnmarshalJSON(data)
	if err != nil {
		if errors.Is(err, codec.ErrExceedsSafeInteger) {
			return nil, NewError(CodeExceedsSafeInteger, err.Error())
		}
		return nil, Errorf(CodeDataError, "decode result: %v", err)
	}
	return codec.ToNative(v), nil
}

// encodePayload renders a message body in the bridge's encoding.
func (m *Manager) encodePayload(typ Type, x any) ([]byte, error) {
	if typ == TypeBinary {
		return m.encodeValue(x)
	}
	j, err := params.ToJSONValue(x)
	if err != nil {
		return nil, paramsError(err)
	}
	data, err := json.Marshal(j)
	if err != nil {
		return nil, NewError(CodeDataError, err.Error())
	}
	return data, nil
}

func (m *Manager) decodePayload(typ Type, payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	if typ == TypeJSON {
		return decodeJSONValue(payload)
	}
	v, err := m.codec.Decode(payload)
	if err != nil {
		return nil, Errorf(CodeDataError, "decode message: %v", err)
	}
	return codec.ToNative(v), nil
}
