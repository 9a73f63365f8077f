package bridge

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/machinefabric/bridge-go/executor"
)

// Bridge is one named channel: a method table served to the peer plus the
// outbound call and message paths toward it.
type Bridge struct {
	name     string
	typ      Type
	m        *Manager
	input    *executor.TaskQueue
	output   *executor.TaskQueue
	results  ResultListener
	messages MessageListener

	mu       sync.Mutex
	state    State
	handlers map[string]Handler
	cache    map[string]Handler
	schemas  map[string]*gojsonschema.Schema
	target   reflect.Value
	running  map[string]int
	cancels  map[string]uint64
}

// BridgeOption configures a Bridge at creation.
type BridgeOption func(*bridgeOptions)

type bridgeOptions struct {
	mode     executor.Mode
	results  ResultListener
	messages MessageListener
	target   any
}

// WithResultListener receives outcomes of CallMethod.
func WithResultListener(l ResultListener) BridgeOption {
	return func(o *bridgeOptions) { o.results = l }
}

// WithMessageListener handles inbound messages and message responses.
func WithMessageListener(l MessageListener) BridgeOption {
	return func(o *bridgeOptions) { o.messages = l }
}

// WithQueueMode selects serial (default) or concurrent input and output
// queues.
func WithQueueMode(mode executor.Mode) BridgeOption {
	return func(o *bridgeOptions) { o.mode = mode }
}

// WithTarget binds obj as the fallback method provider, see BindTarget.
func WithTarget(obj any) BridgeOption {
	return func(o *bridgeOptions) { o.target = obj }
}

// methodKey strips any "$" suffix from a method name.
func methodKey(name string) string {
	key, _, _ := strings.Cut(name, "$")
	return key
}

func (b *Bridge) Name() string { return b.name }

func (b *Bridge) Type() Type { return b.typ }

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsAvailable reports whether the peer confirmed the bridge.
func (b *Bridge) IsAvailable() bool {
	return b.State() == StateAvailable
}

// RegisterMethod adds an explicit handler. The "$" suffix of name is
// ignored.
func (b *Bridge) RegisterMethod(name string, h Handler) error {
	key := methodKey(name)
	if key == "" {
		return Errorf(CodeMethodNameError, "invalid method name %q", name).at(b.name, name)
	}
	if h == nil {
		return Errorf(CodeMethodUnimpl, "nil handler").at(b.name, name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateReleased {
		return NewError(CodeBridgeInvalid, "bridge released").at(b.name, name)
	}
	if _, ok := b.handlers[key]; ok {
		return NewError(CodeMethodExisted, "").at(b.name, key)
	}
	b.handlers[key] = h
	delete(b.cache, key)
	return nil
}

// BindTarget makes the exported methods of obj callable by the peer. A wire
// name resolves to the method with its first letter upper-cased. Explicit
// handlers take precedence.
func (b *Bridge) BindTarget(obj any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateReleased {
		return
	}
	b.target = reflect.ValueOf(obj)
}

// SetParamSchema attaches a JSON Schema that the positional argument object
// of method must satisfy.
func (b *Bridge) SetParamSchema(method string, schema []byte) error {
	key := methodKey(method)
	if key == "" {
		return Errorf(CodeMethodNameError, "invalid method name %q", method).at(b.name, method)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return Errorf(CodeMethodParamError, "invalid schema: %v", err).at(b.name, key)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.schemas[key] = compiled
	return nil
}

// Register adds the bridge to the directory, replacing any bridge of the
// same name, then asks the peer whether it exposes a bridge with the same
// name and type. A positive answer makes the bridge available at once.
func (b *Bridge) Register(ctx context.Context) error {
	if b.name == "" {
		return NewError(CodeBridgeNameError, "empty bridge name")
	}

	b.mu.Lock()
	switch b.state {
	case StateReleased:
		b.mu.Unlock()
		return NewError(CodeBridgeInvalid, "bridge released").at(b.name, "")
	case StateRegistered, StateAvailable:
		b.mu.Unlock()
		return nil
	}
	b.state = StateRegistered
	b.mu.Unlock()

	displaced, err := b.m.insert(b)
	if err != nil {
		b.setState(StateUnregistered)
		return err
	}
	if displaced != nil {
		displaced.detach()
		b.m.logger.Info("bridge replaced", zap.String("bridge", b.name))
	}

	peer := b.m.currentPeer()
	if peer == nil {
		return nil
	}
	exists, err := peer.BridgeExists(ctx, b.name, b.typ)
	if err != nil {
		b.m.logger.Warn("bridge exists query failed", zap.String("bridge", b.name), zap.Error(err))
	} else if exists {
		b.markAvailable()
	}
	if err := peer.NotifyRegistered(ctx, b.name, b.typ, true); err != nil {
		b.m.logger.Warn("registration notify failed", zap.String("bridge", b.name), zap.Error(err))
	}
	return nil
}

// CallMethod calls method on the peer without waiting. The outcome reaches
// the ResultListener. Calls on an unavailable bridge are dropped with a
// throttled warning.
func (b *Bridge) CallMethod(method string, args ...any) {
	if !b.IsAvailable() {
		b.m.warnUnavailable(b.name, method)
		return
	}
	key := methodKey(method)
	gen := b.generation(key)
	err := b.output.Enqueue(func() {
		result, err := b.m.callPeer(context.Background(), b, method, args, false)
		if b.generation(key) != gen {
			b.m.logger.Debug("dropping result of cancelled call",
				zap.String("bridge", b.name), zap.String("method", method))
			return
		}
		b.deliver(method, result, err)
	})
	if err != nil {
		b.deliver(method, nil, Errorf(CodeBridgeInvalid, "%v", err).at(b.name, method))
	}
}

// CallMethodSync calls method on the peer through the main loop and waits
// at most the manager's sync timeout. A second synchronous call of the same
// method while one is in flight fails with METHOD_IS_RUNNING.
func (b *Bridge) CallMethodSync(ctx context.Context, method string, args ...any) (any, error) {
	if !b.IsAvailable() {
		return nil, NewError(CodeBridgeInvalid, "").at(b.name, method)
	}
	key := methodKey(method)
	if !b.enter(key) {
		return nil, NewError(CodeMethodIsRunning, "").at(b.name, method)
	}
	defer b.leave(key)
	return b.m.syncCall(ctx, b, method, args)
}

// SendMessage encodes data in the bridge's encoding and sends it to the
// peer without waiting. The response reaches OnMessageResponse.
func (b *Bridge) SendMessage(data any) error {
	if !b.IsAvailable() {
		return NewError(CodeBridgeInvalid, "").at(b.name, "")
	}
	payload, err := b.m.encodePayload(b.typ, data)
	if err != nil {
		return err
	}
	return b.output.Enqueue(func() {
		b.m.sendMessage(context.Background(), b, payload)
	})
}

// Release clears the method table, drops the bridge from the directory and
// makes every later call fail fast. Released is terminal.
func (b *Bridge) Release() {
	b.mu.Lock()
	if b.state == StateReleased {
		b.mu.Unlock()
		return
	}
	b.state = StateReleased
	b.handlers = map[string]Handler{}
	b.cache = map[string]Handler{}
	b.schemas = map[string]*gojsonschema.Schema{}
	b.target = reflect.Value{}
	b.mu.Unlock()

	b.m.remove(b)
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Bridge) markAvailable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateRegistered {
		b.state = StateAvailable
	}
}

// detach returns a bridge evicted by a same-named registration to the
// unregistered state.
func (b *Bridge) detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateRegistered || b.state == StateAvailable {
		b.state = StateUnregistered
	}
}

func (b *Bridge) enter(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running[key] > 0 {
		return false
	}
	b.running[key]++
	return true
}

func (b *Bridge) leave(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running[key]--; b.running[key] <= 0 {
		delete(b.running, key)
	}
}

func (b *Bridge) generation(key string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancels[key]
}

// cancel drops the results of outbound calls of key still in flight.
func (b *Bridge) cancel(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels[key]++
}

func (b *Bridge) deliver(method string, result any, err error) {
	if b.results == nil {
		if err != nil {
			b.m.logger.Debug("async call failed", zap.String("bridge", b.name),
				zap.String("method", method), zap.Error(err))
		}
		return
	}
	if err != nil {
		b.results.OnError(method, CodeOf(err), MessageOf(err))
		return
	}
	b.results.OnSuccess(method, result)
}

// resolve finds the handler for key: cache, explicit handlers, then the
// bound target.
func (b *Bridge) resolve(key string) Handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateReleased {
		return nil
	}
	if h, ok := b.cache[key]; ok {
		return h
	}
	h, ok := b.handlers[key]
	if !ok {
		h, ok = bindMethod(b.target, key)
	}
	if !ok {
		return nil
	}
	b.cache[key] = h
	return h
}

// checkParams validates the positional argument object against the
// method's schema, if it has one. doc is only rendered when needed.
func (b *Bridge) checkParams(key string, doc func() ([]byte, error)) error {
	b.mu.Lock()
	schema := b.schemas[key]
	b.mu.Unlock()
	if schema == nil {
		return nil
	}
	data, err := doc()
	if err != nil {
		return Errorf(CodeMethodParamError, "arguments have no JSON form: %v", err)
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Errorf(CodeMethodParamError, "validate arguments: %v", err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return Errorf(CodeMethodParamError, "arguments rejected: %s", strings.Join(details, "; "))
	}
	return nil
}

// dispatch runs an inbound call. Failures come back as *Error values.
func (b *Bridge) dispatch(ctx context.Context, method string, args []any) (result any, err error) {
	key := methodKey(method)
	if key == "" {
		return nil, Errorf(CodeMethodNameError, "invalid method name %q", method)
	}
	if b.State() == StateReleased {
		return nil, NewError(CodeBridgeInvalid, "bridge released")
	}
	h := b.resolve(key)
	if h == nil {
		return nil, Errorf(CodeMethodUnimpl, "no method %q", key)
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = Errorf(CodeMethodUnimpl, "handler panicked: %v", r)
		}
	}()
	result, err = h(ctx, args)
	if err != nil {
		return nil, &Error{Code: CodeOf(err), Message: MessageOf(err)}
	}
	return result, nil
}
