package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"unicode/utf8"
)

// Size prefixes below sizeMarker16 are written as a single byte.
const (
	sizeMarker16 = 254
	sizeMarker32 = 255
)

// MaxDepth bounds List/Map nesting accepted by the decoder.
const MaxDepth = 256

// BinaryCodec encodes values into the tagged binary format. Encode reuses a
// single scratch buffer and is serialized by a mutex; Decode only reads the
// caller's buffer and may run concurrently.
type BinaryCodec struct {
	mu      sync.Mutex
	scratch []byte
}

// NewBinaryCodec creates a codec with a small preallocated scratch buffer.
func NewBinaryCodec() *BinaryCodec {
	return &BinaryCodec{scratch: make([]byte, 0, 256)}
}

// Encode serializes v. A nil v encodes as Null. The returned slice is owned
// by the caller.
func (c *BinaryCodec) Encode(v Value) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf, err := appendValue(c.scratch[:0], v)
	if err != nil {
		c.scratch = buf[:0]
		return nil, err
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	c.scratch = buf[:0]
	return out, nil
}

// Decode parses exactly one value from data.
func (c *BinaryCodec) Decode(data []byte) (Value, error) {
	return Decode(data)
}

// Encode serializes v into a fresh buffer without touching any shared state.
func Encode(v Value) ([]byte, error) {
	return appendValue(nil, v)
}

// Decode parses exactly one value from data. The whole buffer must be
// consumed; leftover bytes yield ErrTrailingBytes.
func Decode(data []byte) (Value, error) {
	r := &reader{data: data}
	v, err := r.value(0)
	if err != nil {
		return nil, err
	}
	if r.pos != len(r.data) {
		return nil, fmt.Errorf("%w: %d byte(s) at offset %d", ErrTrailingBytes, len(r.data)-r.pos, r.pos)
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// writing
// ---------------------------------------------------------------------------

func appendSize(buf []byte, n int) ([]byte, error) {
	switch {
	case n < 0:
		return buf, fmt.Errorf("%w: negative size %d", ErrTooLarge, n)
	case n < sizeMarker16:
		return append(buf, byte(n)), nil
	case n <= math.MaxUint16:
		buf = append(buf, sizeMarker16)
		return binary.NativeEndian.AppendUint16(buf, uint16(n)), nil
	case uint64(n) <= math.MaxUint32:
		buf = append(buf, sizeMarker32)
		return binary.NativeEndian.AppendUint32(buf, uint32(n)), nil
	default:
		return buf, fmt.Errorf("%w: size %d", ErrTooLarge, n)
	}
}

// appendPadding zero-fills until len(buf) is a multiple of align. Offsets are
// measured from the start of the whole buffer.
func appendPadding(buf []byte, align int) []byte {
	for len(buf)%align != 0 {
		buf = append(buf, 0)
	}
	return buf
}

// appendString writes a sized UTF-8 string; decode rejects anything else.
func appendString(buf []byte, s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return buf, fmt.Errorf("%w at offset %d", ErrInvalidString, len(buf))
	}
	buf, err := appendSize(buf, len(s))
	if err != nil {
		return buf, err
	}
	return append(buf, s...), nil
}

func appendValue(buf []byte, v Value) ([]byte, error) {
	if v == nil {
		return append(buf, byte(TagNull)), nil
	}

	var err error
	switch tv := v.(type) {
	case Null:
		buf = append(buf, byte(TagNull))
	case Bool:
		buf = append(buf, byte(tv.Tag()))
	case Int32:
		buf = append(buf, byte(TagInt32))
		buf = binary.NativeEndian.AppendUint32(buf, uint32(tv))
	case Int64:
		buf = append(buf, byte(TagInt64))
		buf = binary.NativeEndian.AppendUint64(buf, uint64(tv))
	case Float64:
		buf = append(buf, byte(TagDouble))
		buf = binary.NativeEndian.AppendUint64(buf, math.Float64bits(float64(tv)))
	case String:
		if buf, err = appendString(append(buf, byte(TagString)), string(tv)); err != nil {
			return buf, err
		}
	case Bytes:
		buf = append(buf, byte(TagBytes))
		if buf, err = appendSize(buf, len(tv)); err != nil {
			return buf, err
		}
		buf = append(buf, tv...)
	case BoolList:
		buf = append(buf, byte(TagListBool))
		if buf, err = appendSize(buf, len(tv)); err != nil {
			return buf, err
		}
		for _, b := range tv {
			if b {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		}
	case Int32List:
		buf = append(buf, byte(TagListInt32))
		if buf, err = appendSize(buf, len(tv)); err != nil {
			return buf, err
		}
		buf = appendPadding(buf, 4)
		for _, n := range tv {
			buf = binary.NativeEndian.AppendUint32(buf, uint32(n))
		}
	case Int64List:
		buf = append(buf, byte(TagListInt64))
		if buf, err = appendSize(buf, len(tv)); err != nil {
			return buf, err
		}
		buf = appendPadding(buf, 8)
		for _, n := range tv {
			buf = binary.NativeEndian.AppendUint64(buf, uint64(n))
		}
	case Float64List:
		buf = append(buf, byte(TagListDouble))
		if buf, err = appendSize(buf, len(tv)); err != nil {
			return buf, err
		}
		buf = appendPadding(buf, 8)
		for _, f := range tv {
			buf = binary.NativeEndian.AppendUint64(buf, math.Float64bits(f))
		}
	case StringList:
		buf = append(buf, byte(TagListString))
		if buf, err = appendSize(buf, len(tv)); err != nil {
			return buf, err
		}
		for _, s := range tv {
			if buf, err = appendString(buf, s); err != nil {
				return buf, err
			}
		}
	case Map:
		buf = append(buf, byte(TagMap))
		if buf, err = appendSize(buf, len(tv)); err != nil {
			return buf, err
		}
		for _, e := range tv {
			if buf, err = appendValue(buf, e.Key); err != nil {
				return buf, err
			}
			if buf, err = appendValue(buf, e.Value); err != nil {
				return buf, err
			}
		}
	case List:
		buf = append(buf, byte(TagList))
		if buf, err = appendSize(buf, len(tv)); err != nil {
			return buf, err
		}
		for _, e := range tv {
			if buf, err = appendValue(buf, e); err != nil {
				return buf, err
			}
		}
	default:
		return buf, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	return buf, nil
}

// ---------------------------------------------------------------------------
// reading
// ---------------------------------------------------------------------------

type reader struct {
	data []byte
	pos  int
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, fmt.Errorf("%w: need %d byte(s) at offset %d, have %d", ErrBufferExhausted, n, r.pos, r.remaining())
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) size() (int, error) {
	first, err := r.byte()
	if err != nil {
		return 0, err
	}
	switch first {
	case sizeMarker16:
		b, err := r.take(2)
		if err != nil {
			return 0, err
		}
		return int(binary.NativeEndian.Uint16(b)), nil
	case sizeMarker32:
		b, err := r.take(4)
		if err != nil {
			return 0, err
		}
		n := binary.NativeEndian.Uint32(b)
		if uint64(n) > uint64(math.MaxInt) {
			return 0, fmt.Errorf("%w: size %d", ErrTooLarge, n)
		}
		return int(n), nil
	default:
		return int(first), nil
	}
}

// align skips the padding the encoder inserted before a fixed-width array.
func (r *reader) align(width int) error {
	if pad := (width - r.pos%width) % width; pad > 0 {
		_, err := r.take(pad)
		return err
	}
	return nil
}

// elements checks that count elements of the given width fit in the buffer
// before anything is allocated.
func (r *reader) elements(count, width int) ([]byte, error) {
	if count > r.remaining()/width {
		return nil, fmt.Errorf("%w: %d element(s) of %d byte(s) at offset %d", ErrBufferExhausted, count, width, r.pos)
	}
	return r.take(count * width)
}

func (r *reader) str() (string, error) {
	n, err := r.size()
	if err != nil {
		return "", err
	}
	b, err := r.take(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w at offset %d", ErrInvalidString, r.pos-n)
	}
	return string(b), nil
}

func (r *reader) value(depth int) (Value, error) {
	if depth > MaxDepth {
		return nil, ErrTooDeep
	}
	tagByte, err := r.byte()
	if err != nil {
		return nil, err
	}

	switch Tag(tagByte) {
	case TagNull:
		return Null{}, nil
	case TagTrue:
		return Bool(true), nil
	case TagFalse:
		return Bool(false), nil
	case TagInt32:
		b, err := r.take(4)
		if err != nil {
			return nil, err
		}
		return Int32(binary.NativeEndian.Uint32(b)), nil
	case TagInt64:
		b, err := r.take(8)
		if err != nil {
			return nil, err
		}
		return Int64(binary.NativeEndian.Uint64(b)), nil
	case TagDouble:
		b, err := r.take(8)
		if err != nil {
			return nil, err
		}
		return Float64(math.Float64frombits(binary.NativeEndian.Uint64(b))), nil
	case TagString:
		s, err := r.str()
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case TagBytes:
		n, err := r.size()
		if err != nil {
			return nil, err
		}
		b, err := r.take(n)
		if err != nil {
			return nil, err
		}
		out := make(Bytes, n)
		copy(out, b)
		return out, nil
	case TagListBool:
		n, err := r.size()
		if err != nil {
			return nil, err
		}
		b, err := r.elements(n, 1)
		if err != nil {
			return nil, err
		}
		out := make(BoolList, n)
		for i := range out {
			out[i] = b[i] != 0
		}
		return out, nil
	case TagListInt32:
		n, err := r.size()
		if err != nil {
			return nil, err
		}
		if err := r.align(4); err != nil {
			return nil, err
		}
		b, err := r.elements(n, 4)
		if err != nil {
			return nil, err
		}
		out := make(Int32List, n)
		for i := range out {
			out[i] = int32(binary.NativeEndian.Uint32(b[i*4:]))
		}
		return out, nil
	case TagListInt64:
		n, err := r.size()
		if err != nil {
			return nil, err
		}
		if err := r.align(8); err != nil {
			return nil, err
		}
		b, err := r.elements(n, 8)
		if err != nil {
			return nil, err
		}
		out := make(Int64List, n)
		for i := range out {
			out[i] = int64(binary.NativeEndian.Uint64(b[i*8:]))
		}
		return out, nil
	case TagListDouble:
		n, err := r.size()
		if err != nil {
			return nil, err
		}
		if err := r.align(8); err != nil {
			return nil, err
		}
		b, err := r.elements(n, 8)
		if err != nil {
			return nil, err
		}
		out := make(Float64List, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.NativeEndian.Uint64(b[i*8:]))
		}
		return out, nil
	case TagListString:
		n, err := r.size()
		if err != nil {
			return nil, err
		}
		// every string carries at least its one-byte size prefix
		if n > r.remaining() {
			return nil, fmt.Errorf("%w: %d string(s) at offset %d", ErrBufferExhausted, n, r.pos)
		}
		out := make(StringList, n)
		for i := range out {
			if out[i], err = r.str(); err != nil {
				return nil, err
			}
		}
		return out, nil
	case TagMap:
		n, err := r.size()
		if err != nil {
			return nil, err
		}
		if n > r.remaining()/2 {
			return nil, fmt.Errorf("%w: %d map entries at offset %d", ErrBufferExhausted, n, r.pos)
		}
		out := make(Map, n)
		for i := range out {
			if out[i].Key, err = r.value(depth + 1); err != nil {
				return nil, err
			}
			if out[i].Value, err = r.value(depth + 1); err != nil {
				return nil, err
			}
		}
		return out, nil
	case TagList:
		n, err := r.size()
		if err != nil {
			return nil, err
		}
		if n > r.remaining() {
			return nil, fmt.Errorf("%w: %d list item(s) at offset %d", ErrBufferExhausted, n, r.pos)
		}
		out := make(List, n)
		for i := range out {
			if out[i], err = r.value(depth + 1); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w %d at offset %d", ErrUnknownTag, tagByte, r.pos-1)
	}
}
