package bridge

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"unicode"
	"unicode/utf8"

	"github.com/machinefabric/bridge-go/params"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// exportedName upper-cases the first letter of a wire method name.
func exportedName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}

// bindMethod resolves name against the exported methods of target. Methods
// may take a leading context.Context and must return nothing, a value, an
// error, or a value and an error.
func bindMethod(target reflect.Value, name string) (Handler, bool) {
	if !target.IsValid() {
		return nil, false
	}
	m := target.MethodByName(exportedName(name))
	if !m.IsValid() {
		return nil, false
	}
	mt := m.Type()
	if !validResults(mt) {
		return nil, false
	}
	return func(ctx context.Context, args []any) (any, error) {
		in, err := convertArgs(ctx, mt, args)
		if err != nil {
			return nil, err
		}
		return unpackResults(m.Call(in))
	}, true
}

func validResults(mt reflect.Type) bool {
	switch mt.NumOut() {
	case 0:
		return true
	case 1:
		return true
	case 2:
		return mt.Out(1) == errorType
	default:
		return false
	}
}

func unpackResults(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type() == errorType {
			if out[0].IsNil() {
				return nil, nil
			}
			return nil, out[0].Interface().(error)
		}
		return out[0].Interface(), nil
	default:
		var err error
		if !out[1].IsNil() {
			err = out[1].Interface().(error)
		}
		return out[0].Interface(), err
	}
}

func convertArgs(ctx context.Context, mt reflect.Type, args []any) ([]reflect.Value, error) {
	offset := 0
	var in []reflect.Value
	if mt.NumIn() > 0 && mt.In(0) == contextType {
		in = append(in, reflect.ValueOf(ctx))
		offset = 1
	}
	fixed := mt.NumIn() - offset
	if mt.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return nil, fmt.Errorf("%w: want at least %d arguments, got %d", errArgMismatch, fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, fmt.Errorf("%w: want %d arguments, got %d", errArgMismatch, fixed, len(args))
	}

	for i, a := range args {
		var t reflect.Type
		if i < fixed {
			t = mt.In(offset + i)
		} else {
			t = mt.In(mt.NumIn() - 1).Elem()
		}
		v, err := convertValue(a, t)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in = append(in, v)
	}
	return in, nil
}

// convertValue coerces a decoded wire value to t. Numbers convert between
// widths only when the value is representable; slices and string-keyed maps
// convert element by element.
func convertValue(a any, t reflect.Type) (reflect.Value, error) {
	if a == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("%w: nil for %s", errArgMismatch, t)
	}

	if c, ok := a.(params.Char); ok && t.Kind() == reflect.String {
		return reflect.ValueOf(string(rune(c))).Convert(t), nil
	}

	av := reflect.ValueOf(a)
	if av.Type().AssignableTo(t) {
		v := reflect.New(t).Elem()
		v.Set(av)
		return v, nil
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := integral(av)
		if !ok || reflect.Zero(t).OverflowInt(n) {
			return reflect.Value{}, fmt.Errorf("%w: %v does not fit %s", errArgMismatch, a, t)
		}
		v := reflect.New(t).Elem()
		v.SetInt(n)
		return v, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, ok := integral(av)
		if !ok || n < 0 || reflect.Zero(t).OverflowUint(uint64(n)) {
			return reflect.Value{}, fmt.Errorf("%w: %v does not fit %s", errArgMismatch, a, t)
		}
		v := reflect.New(t).Elem()
		v.SetUint(uint64(n))
		return v, nil
	case reflect.Float32, reflect.Float64:
		f, ok := floating(av)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%w: %v is not a number", errArgMismatch, a)
		}
		v := reflect.New(t).Elem()
		v.SetFloat(f)
		return v, nil
	case reflect.String:
		if av.Kind() == reflect.String {
			return av.Convert(t), nil
		}
	case reflect.Bool:
		if av.Kind() == reflect.Bool {
			return av.Convert(t), nil
		}
	case reflect.Slice:
		if av.Kind() == reflect.Slice || av.Kind() == reflect.Array {
			out := reflect.MakeSlice(t, av.Len(), av.Len())
			for i := 0; i < av.Len(); i++ {
				e, err := convertValue(av.Index(i).Interface(), t.Elem())
				if err != nil {
					return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
				}
				out.Index(i).Set(e)
			}
			return out, nil
		}
	case reflect.Map:
		if av.Kind() == reflect.Map && t.Key().Kind() == reflect.String && av.Type().Key().Kind() == reflect.String {
			out := reflect.MakeMapWithSize(t, av.Len())
			iter := av.MapRange()
			for iter.Next() {
				e, err := convertValue(iter.Value().Interface(), t.Elem())
				if err != nil {
					return reflect.Value{}, fmt.Errorf("key %q: %w", iter.Key().String(), err)
				}
				out.SetMapIndex(iter.Key().Convert(t.Key()), e)
			}
			return out, nil
		}
	}
	return reflect.Value{}, fmt.Errorf("%w: %T for %s", errArgMismatch, a, t)
}

func integral(v reflect.Value) (int64, bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := v.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

func floating(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	}
	return 0, false
}
