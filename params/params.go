// Package params converts positional argument arrays to and from the JSON
// object form used on JSON bridges ({"0": a, "1": b, ...}).
package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/machinefabric/bridge-go/codec"
)

var (
	// ErrExceedsSafeInteger marks an integral value outside ±(2^53-1). It is
	// kept distinct from structural failures so callers can report
	// EXCEEDS_SAFE_INTEGER.
	ErrExceedsSafeInteger = errors.New("params: integer exceeds safe range")
	// ErrUnsupportedType marks a value that has no JSON form.
	ErrUnsupportedType = errors.New("params: unsupported argument type")
	// ErrMalformed marks a JSON argument object that is not a dense
	// positional object.
	ErrMalformed = errors.New("params: malformed argument object")
)

// CheckSafeInteger returns ErrExceedsSafeInteger when x is an integer whose
// magnitude exceeds 2^53-1. Non-integral values always pass.
func CheckSafeInteger(x any) error {
	switch n := x.(type) {
	case int:
		return checkInt64(int64(n))
	case int64:
		return checkInt64(n)
	case uint:
		return checkUint64(uint64(n))
	case uint64:
		return checkUint64(n)
	case codec.Int64:
		return checkInt64(int64(n))
	case json.Number:
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return checkInt64(i)
		} else if errors.Is(err, strconv.ErrRange) {
			return fmt.Errorf("%w: %s", ErrExceedsSafeInteger, n)
		}
	}
	return nil
}

func checkInt64(n int64) error {
	if !codec.IsSafeInteger(n) {
		return fmt.Errorf("%w: %d", ErrExceedsSafeInteger, n)
	}
	return nil
}

func checkUint64(n uint64) error {
	if n > codec.MaxSafeInteger {
		return fmt.Errorf("%w: %d", ErrExceedsSafeInteger, n)
	}
	return nil
}

// ToJSONValue converts one native argument to its JSON-ready form, enforcing
// the safe-integer rule on every integer it contains.
func ToJSONValue(x any) (any, error) {
	switch tx := x.(type) {
	case Char:
		return string(rune(tx)), nil
	case []Char:
		out := make([]any, len(tx))
		for i, c := range tx {
			out[i] = string(rune(c))
		}
		return out, nil
	case float32:
		return jsonFloat(float64(tx))
	case float64:
		return jsonFloat(tx)
	}
	if err := CheckSafeInteger(x); err != nil {
		return nil, err
	}

	v, err := codec.FromNative(x)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}
	j, err := codec.ToJSON(v)
	if err != nil {
		return nil, translate(err)
	}
	return j, nil
}

func jsonFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %v has no JSON form", ErrUnsupportedType, f)
	}
	return f, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, codec.ErrExceedsSafeInteger):
		return fmt.Errorf("%w: %v", ErrExceedsSafeInteger, err)
	case errors.Is(err, codec.ErrTrailingBytes):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}
}

// ToJSONObject converts args to a JSON object keyed by position.
func ToJSONObject(args []any) (map[string]any, error) {
	obj := make(map[string]any, len(args))
	for i, a := range args {
		j, err := ToJSONValue(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		obj[strconv.Itoa(i)] = j
	}
	return obj, nil
}

// FromJSONObject restores the positional order of a JSON argument object.
// Keys must be exactly "0".."n-1". Numbers are returned as int32/int64/float64
// following the codec typing rules.
func FromJSONObject(obj map[string]any) ([]any, error) {
	args := make([]any, len(obj))
	seen := make([]bool, len(obj))
	for k, raw := range obj {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= len(obj) || strconv.Itoa(i) != k {
			return nil, fmt.Errorf("%w: unexpected key %q", ErrMalformed, k)
		}
		if seen[i] {
			return nil, fmt.Errorf("%w: duplicate index %d", ErrMalformed, i)
		}
		seen[i] = true

		v, err := codec.FromJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, translate(err))
		}
		args[i] = codec.ToNative(v)
	}
	return args, nil
}

// MarshalArgs renders args as a JSON argument object.
func MarshalArgs(args []any) ([]byte, error) {
	obj, err := ToJSONObject(args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

// UnmarshalArgs parses a JSON argument object. Empty input means no
// arguments.
func UnmarshalArgs(data []byte) ([]any, error) {
	if len(data) == 0 {
		return []any{}, nil
	}
	x, err := codec.DecodeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if x == nil {
		return []any{}, nil
	}
	obj, ok := x.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected object, got %T", ErrMalformed, x)
	}
	return FromJSONObject(obj)
}

// Ints widens any Go integer slice to []int64. It reports false for other
// kinds.
func Ints(x any) ([]int64, bool) {
	rv := reflect.ValueOf(x)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]int64, rv.Len())
	switch rv.Type().Elem().Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		for i := range out {
			out[i] = rv.Index(i).Int()
		}
	case reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		for i := range out {
			u := rv.Index(i).Uint()
			if u > math.MaxInt64 {
				return nil, false
			}
			out[i] = int64(u)
		}
	default:
		return nil, false
	}
	return out, true
}
