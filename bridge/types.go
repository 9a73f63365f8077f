package bridge

import (
	"context"
	"encoding/json"
	"fmt"
)

// Type is a bridge's wire encoding, fixed at creation.
type Type int

const (
	TypeJSON Type = iota
	TypeBinary
)

func (t Type) String() string {
	switch t {
	case TypeJSON:
		return "json"
	case TypeBinary:
		return "binary"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// State is a bridge's lifecycle position.
type State int

const (
	StateUnregistered State = iota
	StateRegistered
	StateAvailable
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateAvailable:
		return "available"
	case StateReleased:
		return "released"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handler serves one inbound method. A *Error or ErrorCode return reports
// that code to the caller; any other error reports METHOD_UNIMPL.
type Handler func(ctx context.Context, args []any) (any, error)

// ResultListener receives the outcome of asynchronous calls.
type ResultListener interface {
	OnSuccess(method string, result any)
	OnError(method string, code ErrorCode, message string)
}

// MessageListener handles messages exchanged with the peer. OnMessage's
// return value is sent back as the response.
type MessageListener interface {
	OnMessage(ctx context.Context, data any) (any, error)
	OnMessageResponse(data any)
}

// Call is one outbound method invocation as handed to the peer. Params is
// the JSON argument object or the binary encoded argument list.
type Call struct {
	Bridge string
	Method string
	Type   Type
	Sync   bool
	Params []byte
}

// Message is one outbound message as handed to the peer.
type Message struct {
	Bridge  string
	Type    Type
	Payload []byte
}

// Reply is what the peer returns for a call or message. For JSON calls
// Payload holds the encoded JSONResult envelope.
type Reply struct {
	Payload []byte
	Code    ErrorCode
	Message string
}

// Peer is the other runtime as seen from this side.
type Peer interface {
	BridgeExists(ctx context.Context, name string, typ Type) (bool, error)
	CallMethod(ctx context.Context, call Call) (Reply, error)
	SendMessage(ctx context.Context, msg Message) (Reply, error)
	NotifyRegistered(ctx context.Context, name string, typ Type, ok bool) error
}

// Inbound is the surface the peer drives. *Manager implements it.
type Inbound interface {
	BridgeExists(name string, typ Type) bool
	InvokeMethod(ctx context.Context, bridge, method string, params []byte) JSONResult
	InvokeMethodBinary(ctx context.Context, bridge, method string, params []byte) BinaryResult
	DeliverMessage(ctx context.Context, bridge string, payload []byte) Reply
	CancelMethod(bridge, method string)
	// Schedule runs task for bridge: on the main loop when sync is set,
	// otherwise on the bridge's input queue.
	Schedule(bridge string, sync bool, task func(ctx context.Context)) error
}

// JSONResult is the envelope returned for JSON calls.
type JSONResult struct {
	ErrorCode    ErrorCode       `json:"errorCode"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// Err returns the envelope's failure as an *Error, or nil on success.
func (r JSONResult) Err() error {
	if r.ErrorCode == CodeNone {
		return nil
	}
	return NewError(r.ErrorCode, r.ErrorMessage)
}

// Encode renders the envelope as JSON text.
func (r JSONResult) Encode() []byte {
	data, err := json.Marshal(r)
	if err != nil {
		data, _ = json.Marshal(JSONResult{ErrorCode: CodeDataError, ErrorMessage: err.Error()})
	}
	return data
}

// ParseJSONResult decodes an envelope.
func ParseJSONResult(data []byte) (JSONResult, error) {
	var r JSONResult
	if err := json.Unmarshal(data, &r); err != nil {
		return JSONResult{}, Errorf(CodeDataError, "malformed result envelope: %v", err)
	}
	return r, nil
}

func jsonFailure(err error) JSONResult {
	return JSONResult{ErrorCode: CodeOf(err), ErrorMessage: MessageOf(err)}
}

// BinaryResult is the envelope returned for binary calls. A produced result
// is never empty: a nil result encodes as the single NULL tag byte, so an
// empty Data means no result was produced.
type BinaryResult struct {
	Data    []byte
	Code    ErrorCode
	Message string
}

// Err returns the envelope's failure as an *Error, or nil on success.
func (r BinaryResult) Err() error {
	if r.Code == CodeNone {
		return nil
	}
	return NewError(r.Code, r.Message)
}

func binaryFailure(err error) BinaryResult {
	return BinaryResult{Code: CodeOf(err), Message: MessageOf(err)}
}
