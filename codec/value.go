// Package codec implements the bridge wire value space: a tagged binary
// encoding with native byte order and element alignment, and a JSON
// projection of the same values.
package codec

import (
	"bytes"
	"fmt"
	"math"
)

// Tag is the leading byte of an encoded value and selects its variant.
type Tag uint8

const (
	TagNull       Tag = 0
	TagTrue       Tag = 1
	TagFalse      Tag = 2
	TagInt32      Tag = 3
	TagInt64      Tag = 4
	TagDouble     Tag = 5
	TagString     Tag = 6
	TagBytes      Tag = 7
	TagListBool   Tag = 8
	TagListInt32  Tag = 9
	TagListInt64  Tag = 10
	TagListDouble Tag = 11
	TagListString Tag = 12
	TagMap        Tag = 13
	TagList       Tag = 14
)

// String returns the tag name
func (t Tag) String() string {
	switch t {
	case TagNull:
		return "NULL"
	case TagTrue:
		return "TRUE"
	case TagFalse:
		return "FALSE"
	case TagInt32:
		return "INT32"
	case TagInt64:
		return "INT64"
	case TagDouble:
		return "DOUBLE"
	case TagString:
		return "STRING"
	case TagBytes:
		return "BYTES"
	case TagListBool:
		return "LIST_BOOL"
	case TagListInt32:
		return "LIST_INT32"
	case TagListInt64:
		return "LIST_INT64"
	case TagListDouble:
		return "LIST_DOUBLE"
	case TagListString:
		return "LIST_STRING"
	case TagMap:
		return "MAP"
	case TagList:
		return "LIST"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Value is one node of a wire value tree. The concrete types below are the
// only implementations.
type Value interface {
	Tag() Tag
}

type (
	Null        struct{}
	Bool        bool
	Int32       int32
	Int64       int64
	Float64     float64
	String      string
	Bytes       []byte
	BoolList    []bool
	Int32List   []int32
	Int64List   []int64
	Float64List []float64
	StringList  []string
	List        []Value
	Map         []MapEntry
)

// MapEntry is a single key/value pair of a Map. Keys are arbitrary values.
type MapEntry struct {
	Key   Value
	Value Value
}

func (Null) Tag() Tag { return TagNull }

func (b Bool) Tag() Tag {
	if b {
		return TagTrue
	}
	return TagFalse
}

func (Int32) Tag() Tag       { return TagInt32 }
func (Int64) Tag() Tag       { return TagInt64 }
func (Float64) Tag() Tag     { return TagDouble }
func (String) Tag() Tag      { return TagString }
func (Bytes) Tag() Tag       { return TagBytes }
func (BoolList) Tag() Tag    { return TagListBool }
func (Int32List) Tag() Tag   { return TagListInt32 }
func (Int64List) Tag() Tag   { return TagListInt64 }
func (Float64List) Tag() Tag { return TagListDouble }
func (StringList) Tag() Tag  { return TagListString }
func (Map) Tag() Tag         { return TagMap }
func (List) Tag() Tag        { return TagList }

// Get returns the value stored under key, comparing keys with Equal.
func (m Map) Get(key Value) (Value, bool) {
	for _, e := range m {
		if Equal(e.Key, key) {
			return e.Value, true
		}
	}
	return nil, false
}

// Equal reports whether two value trees have the same structure and scalar
// values. Byte buffers compare by content and maps ignore entry order. A nil
// Value is treated as Null.
func Equal(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}
	if a.Tag() != b.Tag() {
		return false
	}

	switch av := a.(type) {
	case Null:
		return true
	case Bool:
		return av == b.(Bool)
	case Int32:
		return av == b.(Int32)
	case Int64:
		return av == b.(Int64)
	case Float64:
		return floatEqual(float64(av), float64(b.(Float64)))
	case String:
		return av == b.(String)
	case Bytes:
		return bytes.Equal(av, b.(Bytes))
	case BoolList:
		bv := b.(BoolList)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case Int32List:
		bv := b.(Int32List)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case Int64List:
		bv := b.(Int64List)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case Float64List:
		bv := b.(Float64List)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !floatEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case StringList:
		bv := b.(StringList)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case List:
		bv := b.(List)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Map:
		return mapEqual(av, b.(Map))
	default:
		return false
	}
}

// NaN payloads survive the binary codec bit for bit, so NaN equals NaN here.
func floatEqual(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return a == b
}

func mapEqual(a, b Map) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, ea := range a {
		found := false
		for j, eb := range b {
			if used[j] {
				continue
			}
			if Equal(ea.Key, eb.Key) && Equal(ea.Value, eb.Value) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
