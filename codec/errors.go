package codec

import "errors"

var (
	// ErrBufferExhausted is returned when a size or payload runs past the end
	// of the buffer being decoded.
	ErrBufferExhausted = errors.New("codec: buffer exhausted")
	// ErrTrailingBytes is returned when a value decodes cleanly but bytes
	// remain after it.
	ErrTrailingBytes = errors.New("codec: trailing bytes after value")
	ErrUnknownTag    = errors.New("codec: unknown tag")
	ErrInvalidString = errors.New("codec: string is not valid UTF-8")
	ErrTooDeep       = errors.New("codec: value nesting too deep")
	ErrTooLarge      = errors.New("codec: payload too large")

	// ErrUnsupportedValue is returned for values outside the wire value space.
	ErrUnsupportedValue = errors.New("codec: unsupported value")

	// ErrExceedsSafeInteger is returned by the JSON projection for integers
	// outside ±(2^53-1).
	ErrExceedsSafeInteger = errors.New("codec: integer exceeds safe range")
	// ErrInvalidMapKey is returned by the JSON projection for map keys that
	// have no JSON object key form.
	ErrInvalidMapKey = errors.New("codec: map key cannot be projected to JSON")
)
