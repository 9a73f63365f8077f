// Package bifaci carries bridge traffic between two runtimes as
// length-prefixed CBOR frames. An Endpoint implements bridge.Peer for the
// local manager and drives a bridge.Inbound with the frames it receives.
package bifaci

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/machinefabric/bridge-go/bridge"
)

// ProtocolVersion is carried in every frame and checked on decode.
const ProtocolVersion uint8 = 1

// Default maximum frame size (3.5 MB)
const DefaultMaxFrame int = 3_670_016

// Hard limit on frame size (16 MB)
const MaxFrameHardLimit int = 16_777_216

// FrameType represents the type of CBOR frame
type FrameType uint8

const (
	FrameTypeHello        FrameType = 0 // limits handshake
	FrameTypeCall         FrameType = 1
	FrameTypeResult       FrameType = 2
	FrameTypeMessage      FrameType = 3
	FrameTypeMessageReply FrameType = 4
	FrameTypeExists       FrameType = 5
	FrameTypeExistsReply  FrameType = 6
	FrameTypeRegistered   FrameType = 7
	FrameTypeCancel       FrameType = 8
	FrameTypeHeartbeat    FrameType = 9
)

// String returns the frame type name
func (ft FrameType) String() string {
	switch ft {
	case FrameTypeHello:
		return "HELLO"
	case FrameTypeCall:
		return "CALL"
	case FrameTypeResult:
		return "RESULT"
	case FrameTypeMessage:
		return "MESSAGE"
	case FrameTypeMessageReply:
		return "MESSAGE_REPLY"
	case FrameTypeExists:
		return "EXISTS"
	case FrameTypeExistsReply:
		return "EXISTS_REPLY"
	case FrameTypeRegistered:
		return "REGISTERED"
	case FrameTypeCancel:
		return "CANCEL"
	case FrameTypeHeartbeat:
		return "HEARTBEAT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", ft)
	}
}

// Valid reports whether ft is a known frame type.
func (ft FrameType) Valid() bool {
	return ft <= FrameTypeHeartbeat
}

// MessageId represents a unique message identifier (either UUID or uint64)
type MessageId struct {
	uuidBytes []byte  // 16 bytes for UUID variant
	uintValue *uint64 // For uint variant
}

// NewMessageIdFromUuid creates a MessageId from UUID bytes
func NewMessageIdFromUuid(uuidBytes []byte) (MessageId, error) {
	if len(uuidBytes) != 16 {
		return MessageId{}, errors.New("UUID must be exactly 16 bytes")
	}
	return MessageId{uuidBytes: uuidBytes}, nil
}

// NewMessageIdFromUint creates a MessageId from a uint64
func NewMessageIdFromUint(value uint64) MessageId {
	return MessageId{uintValue: &value}
}

// NewMessageIdRandom creates a random UUID-based MessageId
func NewMessageIdRandom() MessageId {
	id := uuid.New()
	bytes, _ := id.MarshalBinary()
	return MessageId{uuidBytes: bytes}
}

// IsUuid returns true if this is a UUID-based ID
func (m MessageId) IsUuid() bool {
	return m.uuidBytes != nil
}

// String returns the UUID text form or the decimal uint.
func (m MessageId) String() string {
	if m.uuidBytes != nil {
		if id, err := uuid.FromBytes(m.uuidBytes); err == nil {
			return id.String()
		}
	}
	if m.uintValue != nil {
		return fmt.Sprintf("%d", *m.uintValue)
	}
	return "0"
}

// Equals checks if two MessageIds are equal
func (m MessageId) Equals(other MessageId) bool {
	if m.uuidBytes != nil && other.uuidBytes != nil {
		return string(m.uuidBytes) == string(other.uuidBytes)
	}
	if m.uintValue != nil && other.uintValue != nil {
		return *m.uintValue == *other.uintValue
	}
	return false
}

// Frame is one protocol unit. Which fields are set depends on FrameType:
//
//	CALL           Bridge, Method, BridgeType, Flag (sync), Payload (params)
//	RESULT         Payload, Code, Message
//	MESSAGE        Bridge, BridgeType, Payload
//	MESSAGE_REPLY  Payload, Code, Message
//	EXISTS         Bridge, BridgeType
//	EXISTS_REPLY   Flag (exists)
//	REGISTERED     Bridge, BridgeType, Flag (ok)
//	CANCEL         Bridge, Method
//	HEARTBEAT      Flag (echo)
//	HELLO          Meta (limits)
type Frame struct {
	Version    uint8
	FrameType  FrameType
	Id         MessageId
	Bridge     string
	Method     string
	BridgeType bridge.Type
	Flag       bool
	Payload    []byte
	Code       bridge.ErrorCode
	Message    string
	Meta       map[string]interface{}
}

func newFrame(frameType FrameType, id MessageId) *Frame {
	return &Frame{
		Version:   ProtocolVersion,
		FrameType: frameType,
		Id:        id,
	}
}

// NewHello creates a HELLO frame advertising the local limits
func NewHello(limits Limits) *Frame {
	frame := newFrame(FrameTypeHello, NewMessageIdFromUint(0))
	frame.Meta = map[string]interface{}{
		"max_frame": limits.MaxFrame,
		"version":   ProtocolVersion,
	}
	return frame
}

// NewCall creates a CALL frame
func NewCall(id MessageId, call bridge.Call) *Frame {
	frame := newFrame(FrameTypeCall, id)
	frame.Bridge = call.Bridge
	frame.Method = call.Method
	frame.BridgeType = call.Type
	frame.Flag = call.Sync
	frame.Payload = call.Params
	return frame
}

// NewResult creates a RESULT frame answering the CALL with the same id
func NewResult(id MessageId, payload []byte, code bridge.ErrorCode, message string) *Frame {
	frame := newFrame(FrameTypeResult, id)
	frame.Payload = payload
	frame.Code = code
	frame.Message = message
	return frame
}

// NewMessage creates a MESSAGE frame
func NewMessage(id MessageId, msg bridge.Message) *Frame {
	frame := newFrame(FrameTypeMessage, id)
	frame.Bridge = msg.Bridge
	frame.BridgeType = msg.Type
	frame.Payload = msg.Payload
	return frame
}

// NewMessageReply creates a MESSAGE_REPLY frame
func NewMessageReply(id MessageId, reply bridge.Reply) *Frame {
	frame := newFrame(FrameTypeMessageReply, id)
	frame.Payload = reply.Payload
	frame.Code = reply.Code
	frame.Message = reply.Message
	return frame
}

// NewExists creates an EXISTS query
func NewExists(id MessageId, name string, typ bridge.Type) *Frame {
	frame := newFrame(FrameTypeExists, id)
	frame.Bridge = name
	frame.BridgeType = typ
	return frame
}

// NewExistsReply answers an EXISTS query
func NewExistsReply(id MessageId, exists bool) *Frame {
	frame := newFrame(FrameTypeExistsReply, id)
	frame.Flag = exists
	return frame
}

// NewRegistered creates a REGISTERED notification
func NewRegistered(id MessageId, name string, typ bridge.Type, ok bool) *Frame {
	frame := newFrame(FrameTypeRegistered, id)
	frame.Bridge = name
	frame.BridgeType = typ
	frame.Flag = ok
	return frame
}

// NewCancel creates a CANCEL notification for a method
func NewCancel(id MessageId, name, method string) *Frame {
	frame := newFrame(FrameTypeCancel, id)
	frame.Bridge = name
	frame.Method = method
	return frame
}

// NewHeartbeat creates a HEARTBEAT probe
func NewHeartbeat(id MessageId) *Frame {
	return newFrame(FrameTypeHeartbeat, id)
}

// NewHeartbeatEcho answers a probe, reusing its id. Echoes are never
// answered.
func NewHeartbeatEcho(id MessageId) *Frame {
	frame := newFrame(FrameTypeHeartbeat, id)
	frame.Flag = true
	return frame
}

func extractIntFromMeta(meta map[string]interface{}, key string) int {
	v, ok := meta[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
