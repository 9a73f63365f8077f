package bifaci

import "fmt"

// LinkError represents a failure of the peer link itself, as opposed to a
// failure reported by the remote bridge.
type LinkError struct {
	Type    LinkErrorType
	Message string
}

type LinkErrorType int

const (
	LinkErrorTypeClosed LinkErrorType = iota
	LinkErrorTypeIo
	LinkErrorTypeCbor
	LinkErrorTypeHandshake
	LinkErrorTypeFrameTooLarge
	LinkErrorTypeUnexpectedFrameType
	LinkErrorTypeNotStarted
)

func (e *LinkError) Error() string {
	switch e.Type {
	case LinkErrorTypeClosed:
		return "Link is closed"
	case LinkErrorTypeIo:
		return fmt.Sprintf("I/O error: %s", e.Message)
	case LinkErrorTypeCbor:
		return fmt.Sprintf("CBOR error: %s", e.Message)
	case LinkErrorTypeHandshake:
		return fmt.Sprintf("Handshake failed: %s", e.Message)
	case LinkErrorTypeFrameTooLarge:
		return fmt.Sprintf("Frame too large: %s", e.Message)
	case LinkErrorTypeUnexpectedFrameType:
		return fmt.Sprintf("Unexpected frame type: %s", e.Message)
	case LinkErrorTypeNotStarted:
		return "Link not started"
	default:
		return fmt.Sprintf("Unknown error: %s", e.Message)
	}
}

// Is matches another *LinkError of the same Type.
func (e *LinkError) Is(target error) bool {
	t, ok := target.(*LinkError)
	return ok && t.Type == e.Type
}

// ErrClosed is returned by requests on a closed link.
var ErrClosed = &LinkError{Type: LinkErrorTypeClosed}
