package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"
)

// Char is a single character argument. It is a distinct type so character
// arrays are not mistaken for int32 arrays.
type Char rune

// ArrayKind names the element type of a homogeneous array.
type ArrayKind int

const (
	ArrayUnknown ArrayKind = iota
	ArrayString
	ArrayInt
	ArrayBool
	ArrayChar
	ArrayDouble
	ArrayFloat
)

// String returns the kind name
func (k ArrayKind) String() string {
	switch k {
	case ArrayString:
		return "string"
	case ArrayInt:
		return "int"
	case ArrayBool:
		return "bool"
	case ArrayChar:
		return "char"
	case ArrayDouble:
		return "double"
	case ArrayFloat:
		return "float"
	default:
		return "unknown"
	}
}

var (
	ErrEmptyArray         = errors.New("params: cannot classify empty array")
	ErrHeterogeneousArray = errors.New("params: array elements differ in type")
)

// ClassifyNative reports the kind of a typed Go slice. Anything that is not
// one of the supported homogeneous slice types is ErrHeterogeneousArray; an
// empty supported slice is still classified by its static type.
func ClassifyNative(x any) (ArrayKind, error) {
	switch x.(type) {
	case []string:
		return ArrayString, nil
	case []bool:
		return ArrayBool, nil
	case []Char:
		return ArrayChar, nil
	case []float64:
		return ArrayDouble, nil
	case []float32:
		return ArrayFloat, nil
	case []byte:
		return ArrayUnknown, fmt.Errorf("%w: byte buffers are not arrays", ErrHeterogeneousArray)
	}
	if _, ok := Ints(x); ok {
		return ArrayInt, nil
	}
	if elems, ok := x.([]any); ok {
		return ClassifyJSON(elems)
	}
	return ArrayUnknown, fmt.Errorf("%w: %T", ErrHeterogeneousArray, x)
}

// ClassifyJSON inspects decoded JSON array elements. All strings -> string,
// all integral numbers -> int, all bools -> bool, numbers with at least one
// fraction -> double. Empty input fails with ErrEmptyArray, mixed input with
// ErrHeterogeneousArray.
func ClassifyJSON(elems []any) (ArrayKind, error) {
	if len(elems) == 0 {
		return ArrayUnknown, ErrEmptyArray
	}

	kind := ArrayUnknown
	for i, e := range elems {
		k, err := elementKind(e)
		if err != nil {
			return ArrayUnknown, fmt.Errorf("element %d: %w", i, err)
		}
		switch {
		case kind == ArrayUnknown:
			kind = k
		case kind == k:
		case kind == ArrayInt && k == ArrayDouble, kind == ArrayDouble && k == ArrayInt:
			kind = ArrayDouble
		default:
			return ArrayUnknown, fmt.Errorf("%w: %s and %s at element %d", ErrHeterogeneousArray, kind, k, i)
		}
	}
	return kind, nil
}

func elementKind(e any) (ArrayKind, error) {
	switch te := e.(type) {
	case string:
		return ArrayString, nil
	case bool:
		return ArrayBool, nil
	case json.Number:
		if _, err := strconv.ParseInt(te.String(), 10, 64); err == nil {
			return ArrayInt, nil
		}
		return ArrayDouble, nil
	case float64:
		if te == math.Trunc(te) && !math.IsInf(te, 0) {
			return ArrayInt, nil
		}
		return ArrayDouble, nil
	case int, int32, int64:
		return ArrayInt, nil
	case Char:
		return ArrayChar, nil
	default:
		return ArrayUnknown, fmt.Errorf("%w: element of type %T", ErrHeterogeneousArray, e)
	}
}

// BuildArray constructs the typed slice for kind from decoded JSON elements:
// []string, []int64, []bool, []Char, []float64 or []float32. Each element must
// convert cleanly; integers are subject to the safe-integer rule.
func BuildArray(kind ArrayKind, elems []any) (any, error) {
	switch kind {
	case ArrayString:
		out := make([]string, len(elems))
		for i, e := range elems {
			s, ok := e.(string)
			if !ok {
				return nil, mismatch(kind, i, e)
			}
			out[i] = s
		}
		return out, nil
	case ArrayInt:
		out := make([]int64, len(elems))
		for i, e := range elems {
			n, err := toInt64(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case ArrayBool:
		out := make([]bool, len(elems))
		for i, e := range elems {
			b, ok := e.(bool)
			if !ok {
				return nil, mismatch(kind, i, e)
			}
			out[i] = b
		}
		return out, nil
	case ArrayChar:
		out := make([]Char, len(elems))
		for i, e := range elems {
			switch te := e.(type) {
			case Char:
				out[i] = te
			case string:
				if utf8.RuneCountInString(te) != 1 {
					return nil, mismatch(kind, i, e)
				}
				r, _ := utf8.DecodeRuneInString(te)
				out[i] = Char(r)
			default:
				return nil, mismatch(kind, i, e)
			}
		}
		return out, nil
	case ArrayDouble:
		out := make([]float64, len(elems))
		for i, e := range elems {
			f, err := toFloat64(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = f
		}
		return out, nil
	case ArrayFloat:
		out := make([]float32, len(elems))
		for i, e := range elems {
			f, err := toFloat64(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = float32(f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: cannot build %s array", ErrHeterogeneousArray, kind)
	}
}

// DetectAndBuild classifies elems and builds the matching typed slice.
func DetectAndBuild(elems []any) (any, ArrayKind, error) {
	kind, err := ClassifyJSON(elems)
	if err != nil {
		return nil, ArrayUnknown, err
	}
	arr, err := BuildArray(kind, elems)
	if err != nil {
		return nil, ArrayUnknown, err
	}
	return arr, kind, nil
}

func mismatch(kind ArrayKind, i int, e any) error {
	return fmt.Errorf("%w: element %d (%T) in %s array", ErrHeterogeneousArray, i, e, kind)
}

func toInt64(e any) (int64, error) {
	var n int64
	switch te := e.(type) {
	case json.Number:
		i, err := strconv.ParseInt(te.String(), 10, 64)
		if err != nil {
			if errors.Is(err, strconv.ErrRange) {
				return 0, fmt.Errorf("%w: %s", ErrExceedsSafeInteger, te)
			}
			return 0, fmt.Errorf("%w: %s is not an integer", ErrHeterogeneousArray, te)
		}
		n = i
	case float64:
		if te != math.Trunc(te) || math.IsInf(te, 0) {
			return 0, fmt.Errorf("%w: %v is not an integer", ErrHeterogeneousArray, te)
		}
		if math.Abs(te) > codec53 {
			return 0, fmt.Errorf("%w: %v", ErrExceedsSafeInteger, te)
		}
		n = int64(te)
	case int:
		n = int64(te)
	case int32:
		n = int64(te)
	case int64:
		n = te
	default:
		return 0, fmt.Errorf("%w: %T is not an integer", ErrHeterogeneousArray, e)
	}
	if err := checkInt64(n); err != nil {
		return 0, err
	}
	return n, nil
}

// codec53 is 2^53-1 as a float for magnitude checks before conversion.
const codec53 = float64(1<<53 - 1)

func toFloat64(e any) (float64, error) {
	switch te := e.(type) {
	case json.Number:
		f, err := te.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrHeterogeneousArray, te)
		}
		return f, nil
	case float64:
		return te, nil
	case float32:
		return float64(te), nil
	case int:
		return float64(te), nil
	case int32:
		return float64(te), nil
	case int64:
		return float64(te), nil
	default:
		return 0, fmt.Errorf("%w: %T is not a number", ErrHeterogeneousArray, e)
	}
}
