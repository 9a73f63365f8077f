package bifaci

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/machinefabric/bridge-go/bridge"
	"github.com/machinefabric/bridge-go/config"
	"github.com/machinefabric/bridge-go/internal/logging"
	"github.com/machinefabric/bridge-go/metrics"
)

// Role selects which side speaks first in the HELLO exchange.
type Role int

const (
	RoleInitiator Role = iota
	RoleAcceptor
)

func (r Role) String() string {
	if r == RoleAcceptor {
		return "acceptor"
	}
	return "initiator"
}

const outboxSize = 256

var _ bridge.Peer = (*Endpoint)(nil)

type outgoing struct {
	buf       []byte
	frameType FrameType
}

// Endpoint is one side of a peer link. It implements bridge.Peer for the
// local manager and serves the peer's requests through a bridge.Inbound.
//
// Only the writer goroutine touches the connection's write side, and the
// reader goroutine never blocks on a send, so two endpoints joined by a
// synchronous pipe cannot deadlock each other.
type Endpoint struct {
	conn    io.ReadWriteCloser
	inbound bridge.Inbound
	logger  *zap.Logger
	metrics *metrics.Collector

	role      Role
	local     Limits
	heartbeat time.Duration

	reader *FrameReader
	writer *FrameWriter
	outbox chan outgoing

	mu     sync.RWMutex
	limits Limits
	ready  bool
	err    error

	pending   sync.Map // id string -> chan *Frame
	started   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithLogger sets the endpoint's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Endpoint) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records frames in and out on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Endpoint) { e.metrics = c }
}

// WithLimits sets the limits advertised in HELLO.
func WithLimits(l Limits) Option {
	return func(e *Endpoint) { e.local = l.normalize() }
}

// WithRole selects the handshake role. Endpoints default to RoleInitiator;
// exactly one side of a link must be the acceptor.
func WithRole(r Role) Option {
	return func(e *Endpoint) { e.role = r }
}

// WithHeartbeat pings the peer every interval. Zero disables heartbeats.
func WithHeartbeat(interval time.Duration) Option {
	return func(e *Endpoint) { e.heartbeat = interval }
}

// WithConfig applies the link section of the runtime configuration.
func WithConfig(cfg config.Link) Option {
	return func(e *Endpoint) {
		e.local = Limits{MaxFrame: cfg.MaxFrame}.normalize()
		e.heartbeat = cfg.HeartbeatInterval
	}
}

// NewEndpoint wraps conn. Nothing is read or written until Start.
func NewEndpoint(conn io.ReadWriteCloser, inbound bridge.Inbound, opts ...Option) *Endpoint {
	e := &Endpoint{
		conn:    conn,
		inbound: inbound,
		logger:  logging.For("link"),
		local:   DefaultLimits(),
		reader:  NewFrameReader(conn),
		writer:  NewFrameWriter(conn),
		outbox:  make(chan outgoing, outboxSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start performs the HELLO handshake and starts the reader, writer and
// heartbeat goroutines. Cancelling ctx aborts a handshake in progress; it
// has no effect once Start has returned.
func (e *Endpoint) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("bifaci: endpoint already started")
	}

	type handshake struct {
		limits Limits
		err    error
	}
	result := make(chan handshake, 1)
	go func() {
		var h handshake
		if e.role == RoleAcceptor {
			h.limits, h.err = HandshakeAccept(e.reader, e.writer, e.local)
		} else {
			h.limits, h.err = HandshakeInitiate(e.reader, e.writer, e.local)
		}
		result <- h
	}()

	var h handshake
	select {
	case h = <-result:
	case <-ctx.Done():
		_ = e.conn.Close()
		<-result
		e.shutdown(&LinkError{Type: LinkErrorTypeHandshake, Message: ctx.Err().Error()})
		return ctx.Err()
	}
	if h.err != nil {
		e.shutdown(h.err)
		return h.err
	}

	e.reader.SetLimits(h.limits)
	e.writer.SetLimits(h.limits)
	e.mu.Lock()
	e.limits = h.limits
	e.ready = true
	e.mu.Unlock()

	e.wg.Add(2)
	go e.writerLoop()
	go e.readerLoop()
	if e.heartbeat > 0 {
		e.wg.Add(1)
		go e.heartbeatLoop()
	}

	e.logger.Info("peer link up",
		zap.Stringer("role", e.role), zap.Int("max_frame", h.limits.MaxFrame))
	return nil
}

// Limits returns the negotiated limits, or the local ones before Start.
func (e *Endpoint) Limits() Limits {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.ready {
		return e.local
	}
	return e.limits
}

// Done is closed when the link goes down.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// Err returns why the link went down, or nil while it is up.
func (e *Endpoint) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.err
}

// Close shuts the link down and waits for its goroutines. Pending requests
// fail with ErrClosed.
func (e *Endpoint) Close() error {
	e.shutdown(ErrClosed)
	e.wg.Wait()
	return nil
}

func (e *Endpoint) shutdown(cause error) {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.err = cause
		e.mu.Unlock()
		close(e.done)
		_ = e.conn.Close()
		if !errors.Is(cause, ErrClosed) {
			e.logger.Warn("peer link down", zap.Error(cause))
		}
	})
}

func (e *Endpoint) closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// bridge.Peer
// ---------------------------------------------------------------------------

// BridgeExists asks the peer whether it exposes name with type typ.
func (e *Endpoint) BridgeExists(ctx context.Context, name string, typ bridge.Type) (bool, error) {
	resp, err := e.request(ctx, NewExists(NewMessageIdRandom(), name, typ), FrameTypeExistsReply)
	if err != nil {
		return false, err
	}
	return resp.Flag, nil
}

// CallMethod sends a CALL and waits for its RESULT.
func (e *Endpoint) CallMethod(ctx context.Context, call bridge.Call) (bridge.Reply, error) {
	resp, err := e.request(ctx, NewCall(NewMessageIdRandom(), call), FrameTypeResult)
	if err != nil {
		return bridge.Reply{}, err
	}
	return bridge.Reply{Payload: resp.Payload, Code: resp.Code, Message: resp.Message}, nil
}

// SendMessage sends a MESSAGE and waits for the listener's response.
func (e *Endpoint) SendMessage(ctx context.Context, msg bridge.Message) (bridge.Reply, error) {
	resp, err := e.request(ctx, NewMessage(NewMessageIdRandom(), msg), FrameTypeMessageReply)
	if err != nil {
		return bridge.Reply{}, err
	}
	return bridge.Reply{Payload: resp.Payload, Code: resp.Code, Message: resp.Message}, nil
}

// NotifyRegistered tells the peer the outcome of a local registration.
func (e *Endpoint) NotifyRegistered(ctx context.Context, name string, typ bridge.Type, ok bool) error {
	return e.send(ctx, NewRegistered(NewMessageIdRandom(), name, typ, ok))
}

// CancelMethod asks the peer to drop the results of its pending
// asynchronous calls of method on the named bridge.
func (e *Endpoint) CancelMethod(ctx context.Context, name, method string) error {
	return e.send(ctx, NewCancel(NewMessageIdRandom(), name, method))
}

// Ping sends a HEARTBEAT and returns the round trip time.
func (e *Endpoint) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := e.request(ctx, NewHeartbeat(NewMessageIdRandom()), FrameTypeHeartbeat); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// request sends frame and waits for the frame answering its id.
func (e *Endpoint) request(ctx context.Context, frame *Frame, expect FrameType) (*Frame, error) {
	key := frame.Id.String()
	ch := make(chan *Frame, 1)
	e.pending.Store(key, ch)
	defer e.pending.Delete(key)

	if err := e.send(ctx, frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.FrameType != expect {
			return nil, &LinkError{
				Type:    LinkErrorTypeUnexpectedFrameType,
				Message: "expected " + expect.String() + ", got " + resp.FrameType.String(),
			}
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, e.Err()
	}
}

// send encodes frame and queues it for the writer. The size check happens
// here so an oversized frame fails its sender instead of the link.
func (e *Endpoint) send(ctx context.Context, frame *Frame) error {
	e.mu.RLock()
	ready, limits := e.ready, e.limits
	e.mu.RUnlock()
	if !ready {
		if e.closed() {
			return e.Err()
		}
		return &LinkError{Type: LinkErrorTypeNotStarted}
	}

	buf, err := EncodeFrame(frame)
	if err != nil {
		return &LinkError{Type: LinkErrorTypeCbor, Message: err.Error()}
	}
	if err := checkFrameSize(len(buf), limits); err != nil {
		return err
	}

	select {
	case e.outbox <- outgoing{buf: buf, frameType: frame.FrameType}:
		return nil
	case <-e.done:
		return e.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reply sends a response frame. A response too large for the link is
// replaced by a DATA_ERROR response so the requester is not left waiting.
func (e *Endpoint) reply(frame *Frame) {
	err := e.send(context.Background(), frame)
	var le *LinkError
	if errors.As(err, &le) && le.Type == LinkErrorTypeFrameTooLarge &&
		(frame.FrameType == FrameTypeResult || frame.FrameType == FrameTypeMessageReply) {
		fallback := newFrame(frame.FrameType, frame.Id)
		fallback.Code = bridge.CodeDataError
		fallback.Message = le.Error()
		err = e.send(context.Background(), fallback)
	}
	if err != nil && !e.closed() {
		e.logger.Warn("reply not sent", zap.Stringer("frame", frame.FrameType), zap.Error(err))
	}
}

// ---------------------------------------------------------------------------
// Loops
// ---------------------------------------------------------------------------

func (e *Endpoint) writerLoop() {
	defer e.wg.Done()
	for {
		select {
		case out := <-e.outbox:
			if err := e.writer.WriteEncoded(out.buf); err != nil {
				e.shutdown(linkError(err))
				return
			}
			e.metrics.Frame("out", out.frameType.String())
		case <-e.done:
			return
		}
	}
}

// linkError classifies a stream failure. An orderly close by either side
// surfaces as ErrClosed.
func linkError(err error) error {
	var le *LinkError
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed):
		return ErrClosed
	case errors.As(err, &le):
		return le
	default:
		return &LinkError{Type: LinkErrorTypeIo, Message: err.Error()}
	}
}

func (e *Endpoint) readerLoop() {
	defer e.wg.Done()
	for {
		frame, err := e.reader.ReadFrame()
		if err != nil {
			if !e.closed() {
				e.shutdown(linkError(err))
			}
			return
		}
		e.metrics.Frame("in", frame.FrameType.String())
		e.handle(frame)
	}
}

func (e *Endpoint) heartbeatLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.heartbeat)
			rtt, err := e.Ping(ctx)
			cancel()
			if err != nil {
				if e.closed() {
					return
				}
				e.logger.Warn("heartbeat missed", zap.Error(err))
				continue
			}
			e.logger.Debug("heartbeat", zap.Duration("rtt", rtt))
		case <-e.done:
			return
		}
	}
}

// resolve hands a response to the request waiting on its id.
func (e *Endpoint) resolve(frame *Frame) bool {
	v, ok := e.pending.LoadAndDelete(frame.Id.String())
	if !ok {
		return false
	}
	v.(chan *Frame) <- frame
	return true
}

// handle runs on the reader goroutine and must not block on the outbox.
func (e *Endpoint) handle(frame *Frame) {
	switch frame.FrameType {
	case FrameTypeResult, FrameTypeMessageReply, FrameTypeExistsReply:
		if !e.resolve(frame) {
			e.logger.Debug("late response dropped",
				zap.Stringer("frame", frame.FrameType), zap.Stringer("id", frame.Id))
		}

	case FrameTypeHeartbeat:
		if !frame.Flag {
			go e.reply(NewHeartbeatEcho(frame.Id))
		} else if !e.resolve(frame) {
			e.logger.Debug("late heartbeat echo dropped", zap.Stringer("id", frame.Id))
		}

	case FrameTypeCall:
		e.serveCall(frame)

	case FrameTypeMessage:
		e.serveMessage(frame)

	case FrameTypeExists:
		exists := e.inbound.BridgeExists(frame.Bridge, frame.BridgeType)
		go e.reply(NewExistsReply(frame.Id, exists))

	case FrameTypeRegistered:
		if frame.Flag && e.inbound.BridgeExists(frame.Bridge, frame.BridgeType) {
			e.logger.Debug("peer registered matching bridge", zap.String("bridge", frame.Bridge))
		}

	case FrameTypeCancel:
		e.inbound.CancelMethod(frame.Bridge, frame.Method)

	default:
		e.logger.Warn("unexpected frame", zap.Stringer("frame", frame.FrameType))
	}
}

func (e *Endpoint) serveCall(frame *Frame) {
	task := func(ctx context.Context) {
		if frame.BridgeType == bridge.TypeBinary {
			r := e.inbound.InvokeMethodBinary(ctx, frame.Bridge, frame.Method, frame.Payload)
			e.reply(NewResult(frame.Id, r.Data, r.Code, r.Message))
			return
		}
		r := e.inbound.InvokeMethod(ctx, frame.Bridge, frame.Method, frame.Payload)
		e.reply(NewResult(frame.Id, r.Encode(), r.ErrorCode, r.ErrorMessage))
	}
	if err := e.inbound.Schedule(frame.Bridge, frame.Flag, task); err != nil {
		go e.reply(NewResult(frame.Id, nil, bridge.CodeBridgeInvalid, err.Error()))
	}
}

func (e *Endpoint) serveMessage(frame *Frame) {
	task := func(ctx context.Context) {
		r := e.inbound.DeliverMessage(ctx, frame.Bridge, frame.Payload)
		e.reply(NewMessageReply(frame.Id, r))
	}
	if err := e.inbound.Schedule(frame.Bridge, false, task); err != nil {
		go e.reply(NewMessageReply(frame.Id, bridge.Reply{Code: bridge.CodeBridgeInvalid, Message: err.Error()}))
	}
}
