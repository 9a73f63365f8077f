package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// FromNative converts an ordinary Go value into the wire value space.
//
// Integers narrower than 32 bits become Int32 and int64 becomes Int64; int,
// uint32 and uint64 take the smallest tag that holds them. Typed slices map
// onto the homogeneous list tags, other slices and maps are walked with
// reflection.
func FromNative(x any) (Value, error) {
	switch tx := x.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return tx, nil
	case bool:
		return Bool(tx), nil
	case int8:
		return Int32(tx), nil
	case int16:
		return Int32(tx), nil
	case int32:
		return Int32(tx), nil
	case uint8:
		return Int32(tx), nil
	case uint16:
		return Int32(tx), nil
	case int64:
		return Int64(tx), nil
	case int:
		return fitInteger(int64(tx)), nil
	case uint32:
		return fitInteger(int64(tx)), nil
	case uint:
		if uint64(tx) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, tx)
		}
		return fitInteger(int64(tx)), nil
	case uint64:
		if tx > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, tx)
		}
		return fitInteger(int64(tx)), nil
	case float32:
		return Float64(tx), nil
	case float64:
		return Float64(tx), nil
	case json.Number:
		if i, err := strconv.ParseInt(tx.String(), 10, 64); err == nil {
			return fitInteger(i), nil
		}
		f, err := strconv.ParseFloat(tx.String(), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: number %q", ErrUnsupportedValue, tx)
		}
		return Float64(f), nil
	case string:
		return String(tx), nil
	case []byte:
		return Bytes(tx), nil
	case []bool:
		return BoolList(tx), nil
	case []int32:
		return Int32List(tx), nil
	case []int64:
		return Int64List(tx), nil
	case []int:
		out := make(Int64List, len(tx))
		for i, n := range tx {
			out[i] = int64(n)
		}
		return out, nil
	case []float64:
		return Float64List(tx), nil
	case []float32:
		out := make(Float64List, len(tx))
		for i, f := range tx {
			out[i] = float64(f)
		}
		return out, nil
	case []string:
		return StringList(tx), nil
	case []any:
		out := make(List, len(tx))
		for i, e := range tx {
			v, err := FromNative(e)
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
			v, err := FromNative(tx[k])
			if err != nil {
				return nil, err
			}
			out = append(out, MapEntry{Key: String(k), Value: v})
		}
		return out, nil
	}
	return fromReflect(reflect.ValueOf(x))
}

func fitInteger(n int64) Value {
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		return Int32(n)
	}
	return Int64(n)
}

func fromReflect(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null{}, nil
		}
		return FromNative(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make(List, rv.Len())
		for i := range out {
			v, err := FromNative(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case reflect.Map:
		out := make(Map, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, err := FromNative(iter.Key().Interface())
			if err != nil {
				return nil, err
			}
			v, err := FromNative(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out = append(out, MapEntry{Key: k, Value: v})
		}
		return out, nil
	// named scalar types (type Celsius float64 and friends)
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fitInteger(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, u)
		}
		return fitInteger(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Float64(rv.Float()), nil
	case reflect.String:
		return String(rv.String()), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedValue, rv.Type())
	}
}

// ToNative converts a Value back into plain Go values. Maps whose keys are
// all strings become map[string]any; maps with other hashable keys become
// map[any]any; a map with an unhashable key is returned as the Map itself.
func ToNative(v Value) any {
	if v == nil {
		return nil
	}

	switch tv := v.(type) {
	case Null:
		return nil
	case Bool:
		return bool(tv)
	case Int32:
		return int32(tv)
	case Int64:
		return int64(tv)
	case Float64:
		return float64(tv)
	case String:
		return string(tv)
	case Bytes:
		return []byte(tv)
	case BoolList:
		return []bool(tv)
	case Int32List:
		return []int32(tv)
	case Int64List:
		return []int64(tv)
	case Float64List:
		return []float64(tv)
	case StringList:
		return []string(tv)
	case List:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = ToNative(e)
		}
		return out
	case Map:
		return mapToNative(tv)
	default:
		return nil
	}
}

func mapToNative(m Map) any {
	allStrings := true
	for _, e := range m {
		if _, ok := e.Key.(String); !ok {
			allStrings = false
			break
		}
	}
	if allStrings {
		out := make(map[string]any, len(m))
		for _, e := range m {
			out[string(e.Key.(String))] = ToNative(e.Value)
		}
		return out
	}

	out := make(map[any]any, len(m))
	for _, e := range m {
		k := ToNative(e.Key)
		if k != nil && !reflect.TypeOf(k).Comparable() {
			return m
		}
		out[k] = ToNative(e.Value)
	}
	return out
}
