package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST120: the JSON projection is stable under encode -> decode -> encode
func TestJSONProjectionStable(t *testing.T) {
	values := []Value{
		Null{},
		Bool(true),
		Int32(-12),
		Int64(MaxSafeInteger),
		Float64(2.5),
		String("text"),
		Bytes{1, 2, 3},
		BoolList{true, false},
		Int32List{1, 2, 3},
		Int64List{-MaxSafeInteger, 0},
		Float64List{0.25, 1},
		StringList{"x", "y"},
		List{Int32(1), String("a"), List{Null{}}},
		Map{{Key: String("k"), Value: Map{{Key: Int32(1), Value: Bool(false)}}}},
	}
	for _, v := range values {
		first, err := MarshalJSON(v)
		require.NoError(t, err, "%s", v.Tag())

		back, err := UnmarshalJSON(first)
		require.NoError(t, err, "%s", v.Tag())

		second, err := MarshalJSON(back)
		require.NoError(t, err)
		assert.JSONEq(t, string(first), string(second), "%s", v.Tag())
	}
}

// TEST121: JSON integers keep their integral type, fractions become doubles
func TestJSONNumberTyping(t *testing.T) {
	v, err := UnmarshalJSON([]byte(`[1, 4294967296, 1.5, -7]`))
	require.NoError(t, err)
	list := v.(List)
	assert.Equal(t, Int32(1), list[0])
	assert.Equal(t, Int64(4294967296), list[1])
	assert.Equal(t, Float64(1.5), list[2])
	assert.Equal(t, Int32(-7), list[3])
}

// TEST122: safe-integer boundary on the JSON path
func TestJSONSafeIntegerBoundary(t *testing.T) {
	_, err := ToJSON(Int64(MaxSafeInteger))
	assert.NoError(t, err)
	_, err = ToJSON(Int64(-MaxSafeInteger))
	assert.NoError(t, err)

	_, err = ToJSON(Int64(MaxSafeInteger + 1))
	assert.ErrorIs(t, err, ErrExceedsSafeInteger)
	_, err = ToJSON(Int64(-MaxSafeInteger - 1))
	assert.ErrorIs(t, err, ErrExceedsSafeInteger)
	_, err = ToJSON(Int64List{1, MaxSafeInteger + 1})
	assert.ErrorIs(t, err, ErrExceedsSafeInteger)

	_, err = UnmarshalJSON([]byte(`9007199254740992`))
	assert.ErrorIs(t, err, ErrExceedsSafeInteger)
	_, err = UnmarshalJSON([]byte(`99999999999999999999`))
	assert.ErrorIs(t, err, ErrExceedsSafeInteger)

	// the binary path carries the full int64 range
	encoded, err := Encode(Int64(MaxSafeInteger + 1))
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, Int64(MaxSafeInteger+1), decoded)
}

// TEST123: composite map keys have no JSON object key form
func TestJSONInvalidMapKey(t *testing.T) {
	_, err := ToJSON(Map{{Key: List{}, Value: Null{}}})
	assert.ErrorIs(t, err, ErrInvalidMapKey)

	j, err := ToJSON(Map{{Key: Int32(3), Value: String("three")}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"3": "three"}, j)
}

// TEST124: trailing content after a JSON document is rejected
func TestJSONTrailingContent(t *testing.T) {
	_, err := UnmarshalJSON([]byte(`{"a":1} 2`))
	assert.ErrorIs(t, err, ErrTrailingBytes)

	_, err = UnmarshalJSON([]byte(`{"a":`))
	assert.Error(t, err)
}
