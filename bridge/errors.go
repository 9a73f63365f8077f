package bridge

import (
	"errors"
	"fmt"
)

// ErrorCode is the closed error taxonomy shared with the peer. Values travel
// on the wire and must not be renumbered.
type ErrorCode int

const (
	CodeNone               ErrorCode = 0
	CodeBridgeNameError    ErrorCode = 1
	CodeBridgeCreateError  ErrorCode = 2
	CodeBridgeInvalid      ErrorCode = 3
	CodeMethodNameError    ErrorCode = 4
	CodeMethodIsRunning    ErrorCode = 5
	CodeMethodUnimpl       ErrorCode = 6
	CodeMethodParamError   ErrorCode = 7
	CodeMethodExisted      ErrorCode = 8
	CodeDataError          ErrorCode = 9
	CodeExceedsSafeInteger ErrorCode = 10
	CodeTypeMismatch       ErrorCode = 11
	CodeCodecInvalid       ErrorCode = 12
)

var codeNames = [...]string{
	CodeNone:               "NONE",
	CodeBridgeNameError:    "BRIDGE_NAME_ERROR",
	CodeBridgeCreateError:  "BRIDGE_CREATE_ERROR",
	CodeBridgeInvalid:      "BRIDGE_INVALID",
	CodeMethodNameError:    "METHOD_NAME_ERROR",
	CodeMethodIsRunning:    "METHOD_IS_RUNNING",
	CodeMethodUnimpl:       "METHOD_UNIMPL",
	CodeMethodParamError:   "METHOD_PARAM_ERROR",
	CodeMethodExisted:      "METHOD_EXISTED",
	CodeDataError:          "DATA_ERROR",
	CodeExceedsSafeInteger: "EXCEEDS_SAFE_INTEGER",
	CodeTypeMismatch:       "CODEC_TYPE_MISMATCH",
	CodeCodecInvalid:       "CODEC_INVALID",
}

var codeMessages = [...]string{
	CodeNone:               "no error",
	CodeBridgeNameError:    "bridge name not found",
	CodeBridgeCreateError:  "bridge creation failed",
	CodeBridgeInvalid:      "bridge unavailable",
	CodeMethodNameError:    "method name invalid",
	CodeMethodIsRunning:    "method already running",
	CodeMethodUnimpl:       "method not implemented",
	CodeMethodParamError:   "method parameter error",
	CodeMethodExisted:      "method already registered",
	CodeDataError:          "data error",
	CodeExceedsSafeInteger: "value exceeds safe integer range",
	CodeTypeMismatch:       "codec type mismatch",
	CodeCodecInvalid:       "codec unavailable",
}

// Valid reports whether c is a member of the taxonomy.
func (c ErrorCode) Valid() bool {
	return c >= CodeNone && int(c) < len(codeNames)
}

func (c ErrorCode) String() string {
	if !c.Valid() {
		return fmt.Sprintf("CODE_%d", int(c))
	}
	return codeNames[c]
}

// Message returns the human readable meaning of c.
func (c ErrorCode) Message() string {
	if !c.Valid() {
		return "unknown error"
	}
	return codeMessages[c]
}

// Error lets a handler return a bare code as its error.
func (c ErrorCode) Error() string {
	return c.String() + ": " + c.Message()
}

// Error is a failure carrying a taxonomy code. errors.Is matches any two
// Errors with the same code, so the Err* sentinels work as targets.
type Error struct {
	Code    ErrorCode
	Message string
	Bridge  string
	Method  string
}

// NewError builds an Error; an empty message uses the code's default text.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf builds an Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.Message()
	}
	code := e.Code.String()
	switch {
	case e.Bridge != "" && e.Method != "":
		return fmt.Sprintf("%s.%s: [%s] %s", e.Bridge, e.Method, code, msg)
	case e.Bridge != "":
		return fmt.Sprintf("%s: [%s] %s", e.Bridge, code, msg)
	default:
		return fmt.Sprintf("[%s] %s", code, msg)
	}
}

// Is matches another *Error or a bare ErrorCode by code.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case *Error:
		return t.Code == e.Code
	case ErrorCode:
		return t == e.Code
	}
	return false
}

func (e *Error) at(bridge, method string) *Error {
	e.Bridge = bridge
	e.Method = method
	return e
}

var (
	ErrBridgeName         = &Error{Code: CodeBridgeNameError}
	ErrBridgeCreate       = &Error{Code: CodeBridgeCreateError}
	ErrBridgeInvalid      = &Error{Code: CodeBridgeInvalid}
	ErrMethodName         = &Error{Code: CodeMethodNameError}
	ErrMethodIsRunning    = &Error{Code: CodeMethodIsRunning}
	ErrMethodUnimpl       = &Error{Code: CodeMethodUnimpl}
	ErrMethodParam        = &Error{Code: CodeMethodParamError}
	ErrMethodExisted      = &Error{Code: CodeMethodExisted}
	ErrData               = &Error{Code: CodeDataError}
	ErrExceedsSafeInteger = &Error{Code: CodeExceedsSafeInteger}
	ErrTypeMismatch       = &Error{Code: CodeTypeMismatch}
	ErrCodecInvalid       = &Error{Code: CodeCodecInvalid}
)

var (
	// ErrSyncTimeout is returned when a synchronous call's wait expires.
	ErrSyncTimeout = errors.New("bridge: sync call timed out")
	// ErrSyncInterrupted is returned when a synchronous wait is cancelled or
	// the runtime shuts down underneath it.
	ErrSyncInterrupted = errors.New("bridge: sync call interrupted")
)

// errArgMismatch marks an argument that cannot be converted to a handler's
// parameter type.
var errArgMismatch = errors.New("argument mismatch")

// CodeOf extracts the taxonomy code from err. Argument mismatches map to
// METHOD_PARAM_ERROR and any other failure to METHOD_UNIMPL.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeNone
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	if errors.Is(err, errArgMismatch) {
		return CodeMethodParamError
	}
	return CodeMethodUnimpl
}

// MessageOf returns the message an error should carry on the wire.
func MessageOf(err error) string {
	var be *Error
	if errors.As(err, &be) {
		if be.Message != "" {
			return be.Message
		}
		return be.Code.Message()
	}
	return err.Error()
}
