package bifaci

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/machinefabric/bridge-go/bridge"
)

// CBOR map keys
const (
	keyVersion    = 0  // version (u8)
	keyFrameType  = 1  // frame_type (u8)
	keyId         = 2  // id (bytes[16] or uint)
	keyBridge     = 3  // bridge (tstr, optional)
	keyMethod     = 4  // method (tstr, optional)
	keyBridgeType = 5  // bridge_type (u8, optional)
	keyFlag       = 6  // flag (bool, optional)
	keyPayload    = 7  // payload (bstr, optional)
	keyCode       = 8  // code (uint, optional)
	keyMessage    = 9  // message (tstr, optional)
	keyMeta       = 10 // meta (map, optional)
)

// EncodeFrame encodes a Frame to CBOR bytes using integer keys
func EncodeFrame(frame *Frame) ([]byte, error) {
	m := make(map[int]interface{})

	m[keyVersion] = uint8(ProtocolVersion)
	m[keyFrameType] = uint8(frame.FrameType)

	if frame.Id.IsUuid() {
		m[keyId] = frame.Id.uuidBytes
	} else if frame.Id.uintValue != nil {
		m[keyId] = *frame.Id.uintValue
	} else {
		m[keyId] = uint64(0)
	}

	if frame.Bridge != "" {
		m[keyBridge] = frame.Bridge
	}
	if frame.Method != "" {
		m[keyMethod] = frame.Method
	}
	if frame.BridgeType != bridge.TypeJSON {
		m[keyBridgeType] = uint8(frame.BridgeType)
	}
	if frame.Flag {
		m[keyFlag] = true
	}
	if frame.Payload != nil {
		m[keyPayload] = frame.Payload
	}
	if frame.Code != bridge.CodeNone {
		m[keyCode] = uint64(frame.Code)
	}
	if frame.Message != "" {
		m[keyMessage] = frame.Message
	}
	if len(frame.Meta) > 0 {
		m[keyMeta] = frame.Meta
	}

	return cbor.Marshal(m)
}

// DecodeFrame decodes CBOR bytes to a Frame using integer keys
func DecodeFrame(data []byte) (*Frame, error) {
	var m map[int]interface{}
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	frame := &Frame{}

	verVal, ok := m[keyVersion]
	if !ok {
		return nil, errors.New("missing version (key 0)")
	}
	ver, ok := verVal.(uint64)
	if !ok {
		return nil, errors.New("version must be uint")
	}
	frame.Version = uint8(ver)
	if frame.Version != ProtocolVersion {
		return nil, fmt.Errorf("invalid version %d, expected %d", frame.Version, ProtocolVersion)
	}

	ftVal, ok := m[keyFrameType]
	if !ok {
		return nil, errors.New("missing frame_type (key 1)")
	}
	ft, ok := ftVal.(uint64)
	if !ok {
		return nil, errors.New("frame_type must be uint")
	}
	frame.FrameType = FrameType(ft)
	if ft > 255 || !frame.FrameType.Valid() {
		return nil, fmt.Errorf("invalid frame_type %d", ft)
	}

	idVal, ok := m[keyId]
	if !ok {
		return nil, errors.New("missing id (key 2)")
	}
	switch v := idVal.(type) {
	case []byte:
		if len(v) != 16 {
			return nil, errors.New("UUID id must be 16 bytes")
		}
		frame.Id = MessageId{uuidBytes: v}
	case uint64:
		frame.Id = NewMessageIdFromUint(v)
	default:
		return nil, errors.New("id must be bytes[16] or uint")
	}

	if v, ok := m[keyBridge].(string); ok {
		frame.Bridge = v
	}
	if v, ok := m[keyMethod].(string); ok {
		frame.Method = v
	}
	if v, ok := m[keyBridgeType]; ok {
		bt, ok := v.(uint64)
		if !ok || bt > uint64(bridge.TypeBinary) {
			return nil, fmt.Errorf("invalid bridge_type %v", v)
		}
		frame.BridgeType = bridge.Type(bt)
	}
	if v, ok := m[keyFlag].(bool); ok {
		frame.Flag = v
	}
	if v, ok := m[keyPayload].([]byte); ok {
		frame.Payload = v
	}
	if v, ok := m[keyCode]; ok {
		code, ok := v.(uint64)
		if !ok || !bridge.ErrorCode(code).Valid() {
			return nil, fmt.Errorf("invalid code %v", v)
		}
		frame.Code = bridge.ErrorCode(code)
	}
	if v, ok := m[keyMessage].(string); ok {
		frame.Message = v
	}
	if metaVal, ok := m[keyMeta]; ok {
		if meta, ok := metaVal.(map[interface{}]interface{}); ok {
			frame.Meta = make(map[string]interface{})
			for k, v := range meta {
				if ks, ok := k.(string); ok {
					frame.Meta[ks] = v
				}
			}
		}
	}

	switch frame.FrameType {
	case FrameTypeCall, FrameTypeCancel:
		if frame.Bridge == "" || frame.Method == "" {
			return nil, fmt.Errorf("%s frame missing bridge or method", frame.FrameType)
		}
	case FrameTypeMessage, FrameTypeExists, FrameTypeRegistered:
		if frame.Bridge == "" {
			return nil, fmt.Errorf("%s frame missing bridge", frame.FrameType)
		}
	}

	return frame, nil
}
