package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
)

// MaxSafeInteger is the largest integer a double represents exactly (2^53-1).
const MaxSafeInteger = 1<<53 - 1

// IsSafeInteger reports whether n lies within ±MaxSafeInteger.
func IsSafeInteger(n int64) bool {
	return n >= -MaxSafeInteger && n <= MaxSafeInteger
}

func checkSafe(n int64) error {
	if !IsSafeInteger(n) {
		return fmt.Errorf("%w: %d", ErrExceedsSafeInteger, n)
	}
	return nil
}

// ToJSON projects v onto the values encoding/json understands: nil, bool,
// int64, float64, string, []any and map[string]any. Lists of any kind become
// arrays, byte buffers become arrays of numbers.
func ToJSON(v Value) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch tv := v.(type) {
	case Null:
		return nil, nil
	case Bool:
		return bool(tv), nil
	case Int32:
		return int64(tv), nil
	case Int64:
		if err := checkSafe(int64(tv)); err != nil {
			return nil, err
		}
		return int64(tv), nil
	case Float64:
		f := float64(tv)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %v has no JSON form", ErrUnsupportedValue, f)
		}
		return f, nil
	case String:
		return string(tv), nil
	case Bytes:
		out := make([]any, len(tv))
		for i, b := range tv {
			out[i] = int64(b)
		}
		return out, nil
	case BoolList:
		out := make([]any, len(tv))
		for i, b := range tv {
			out[i] = b
		}
		return out, nil
	case Int32List:
		out := make([]any, len(tv))
		for i, n := range tv {
			out[i] = int64(n)
		}
		return out, nil
	case Int64List:
		out := make([]any, len(tv))
		for i, n := range tv {
			if err := checkSafe(n); err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case Float64List:
		out := make([]any, len(tv))
		for i, f := range tv {
			j, err := ToJSON(Float64(f))
			if err != nil {
				return nil, err
			}
			out[i] = j
		}
		return out, nil
	case StringList:
		out := make([]any, len(tv))
		for i, s := range tv {
			out[i] = s
		}
		return out, nil
	case List:
		out := make([]any, len(tv))
		for i, e := range tv {
			j, err := ToJSON(e)
			if err != nil {
				return nil, err
			}
			out[i] = j
		}
		return out, nil
	case Map:
		out := make(map[string]any, len(tv))
		for _, e := range tv {
			key, err := jsonKey(e.Key)
			if err != nil {
				return nil, err
			}
			j, err := ToJSON(e.Value)
			if err != nil {
				return nil, err
			}
			out[key] = j
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func jsonKey(k Value) (string, error) {
	switch kv := k.(type) {
	case String:
		return string(kv), nil
	case Int32:
		return strconv.FormatInt(int64(kv), 10), nil
	case Int64:
		return strconv.FormatInt(int64(kv), 10), nil
	case Bool:
		return strconv.FormatBool(bool(kv)), nil
	case Float64:
		return strconv.FormatFloat(float64(kv), 'g', -1, 64), nil
	default:
		if k == nil {
			return "", fmt.Errorf("%w: nil key", ErrInvalidMapKey)
		}
		return "", fmt.Errorf("%w: %s key", ErrInvalidMapKey, k.Tag())
	}
}

// FromJSON converts a decoded JSON document into a Value. Numbers should be
// json.Number (decoder.UseNumber) so integers stay integral; plain float64
// input is accepted and treated as a double.
func FromJSON(x any) (Value, error) {
	switch tx := x.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(tx), nil
	case json.Number:
		return numberValue(tx)
	case float64:
		return Float64(tx), nil
	case int:
		return integerValue(int64(tx))
	case int64:
		return integerValue(tx)
	case string:
		return String(tx), nil
	case []any:
		out := make(List, len(tx))
		for i, e := range tx {
			v, err := FromJSON(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(tx))
		for k := range tx {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(Map, 0, len(tx))
		for _, k := range keys {
			v, err := FromJSON(tx[k])
			if err != nil {
				return nil, err
			}
			out = append(out, MapEntry{Key: String(k), Value: v})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: JSON value of type %T", ErrUnsupportedValue, x)
	}
}

func numberValue(n json.Number) (Value, error) {
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		return integerValue(i)
	} else if errors.Is(err, strconv.ErrRange) {
		return nil, fmt.Errorf("%w: %s", ErrExceedsSafeInteger, n)
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: number %q", ErrUnsupportedValue, n)
	}
	return Float64(f), nil
}

func integerValue(i int64) (Value, error) {
	if err := checkSafe(i); err != nil {
		return nil, err
	}
	if i >= math.MinInt32 && i <= math.MaxInt32 {
		return Int32(i), nil
	}
	return Int64(i), nil
}

// MarshalJSON renders v as JSON text.
func MarshalJSON(v Value) ([]byte, error) {
	j, err := ToJSON(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(j)
}

// UnmarshalJSON parses a single JSON document into a Value. Anything after
// the document other than whitespace is rejected.
func UnmarshalJSON(data []byte) (Value, error) {
	x, err := DecodeJSON(data)
	if err != nil {
		return nil, err
	}
	return FromJSON(x)
}

// DecodeJSON parses a single JSON document with json.Number numbers.
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return nil, fmt.Errorf("codec: invalid JSON: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: after JSON document", ErrTrailingBytes)
	}
	return x, nil
}
