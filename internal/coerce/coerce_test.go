package coerce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelNaNAlwaysNull(t *testing.T) {
	sentinels := []any{
		map[string]any{"specialValue": "NaN"},
		`{"specialValue":"NaN"}`,
		`{"specialValue": "NaN"}`,
		`prefix {"specialValue":"NaN"} suffix`,
	}
	classes := []FieldClass{
		{Kind: Text}, {Kind: Integer}, {Kind: Decimal},
		{Kind: Percent}, {Kind: Date}, {Kind: JSONFallback},
	}
	for _, v := range sentinels {
		for _, fc := range classes {
			res := Coerce(v, fc)
			assert.Nil(t, res.Value, "class=%s raw=%v", fc.Kind, v)
			assert.Nil(t, res.Err, "class=%s raw=%v", fc.Kind, v)
		}
	}
}

func TestSentinelDoesNotOvertrigger(t *testing.T) {
	assert.False(t, IsSentinelNaN("NaN"))
	assert.False(t, IsSentinelNaN(map[string]any{"specialValue": "Inf"}))
	assert.False(t, IsSentinelNaN(`{"otherKey":"NaN"}`))
	assert.False(t, IsSentinelNaN(3.14))
}

func TestCoercePercent(t *testing.T) {
	fc := FieldClass{Kind: Percent}

	res := Coerce("85%", fc)
	require.Nil(t, res.Err)
	assert.Equal(t, 0.85, res.Value)
	assert.Nil(t, res.Warning)

	// Bare numerics: fraction stays, whole percent divides.
	assert.Equal(t, 0.5, Coerce(0.5, fc).Value)
	assert.Equal(t, 0.85, Coerce(85.0, fc).Value)

	// Spaced percent sign.
	res = Coerce("12.3 %", fc)
	require.Nil(t, res.Err)
	assert.InDelta(t, 0.123, res.Value.(float64), 1e-9)
}

func TestCoercePercentClamp(t *testing.T) {
	fc := FieldClass{Kind: Percent, PercentCeiling: 99.999}

	res := Coerce("120%", fc)
	require.Nil(t, res.Err)
	assert.Equal(t, 99.999, res.Value)
	require.NotNil(t, res.Warning)
	assert.Equal(t, "percent_clamp", res.Warning.Kind)

	res = Coerce(-500.0, fc)
	assert.Equal(t, -99.999, res.Value)
	require.NotNil(t, res.Warning)
}

func TestCoerceInteger(t *testing.T) {
	fc := FieldClass{Kind: Integer}

	assert.Equal(t, int64(42), Coerce(42.0, fc).Value)
	assert.Equal(t, int64(1234567), Coerce("1,234,567", fc).Value)
	assert.Equal(t, int64(-7), Coerce(" -7 ", fc).Value)

	res := Coerce("12.5", fc)
	require.NotNil(t, res.Err)
	assert.Nil(t, res.Value)

	res = Coerce(12.5, fc)
	require.NotNil(t, res.Err)
}

func TestCoerceDecimal(t *testing.T) {
	fc := FieldClass{Kind: Decimal, Precision: 12, Scale: 2}

	assert.Equal(t, 1234.56, Coerce("1,234.56", fc).Value)
	assert.Equal(t, 3.5, Coerce(3.5, fc).Value)

	res := Coerce("abc", fc)
	require.NotNil(t, res.Err)
	assert.Nil(t, res.Value)

	// Whitespace-only strings are empty, not errors.
	res = Coerce("   ", fc)
	assert.Nil(t, res.Err)
	assert.Nil(t, res.Value)
}

func TestCoerceDate(t *testing.T) {
	fc := FieldClass{Kind: Date}

	res := Coerce("2025-06-01T08:30:00.000Z", fc)
	require.Nil(t, res.Err)
	require.IsType(t, time.Time{}, res.Value)
	assert.Equal(t, 2025, res.Value.(time.Time).Year())

	res = Coerce("2025-06-01", fc)
	require.Nil(t, res.Err)
	assert.Equal(t, time.June, res.Value.(time.Time).Month())

	// Unparsable dates become NULL with a warning, not an error.
	res = Coerce("yesterday-ish", fc)
	assert.Nil(t, res.Err)
	assert.Nil(t, res.Value)
	require.NotNil(t, res.Warning)
	assert.Equal(t, "date_parse", res.Warning.Kind)
}

func TestCoerceLinkArray(t *testing.T) {
	fc := FieldClass{Kind: LinkArray}

	res := Coerce([]any{"recAAA", "recBBB", "recCCC"}, fc)
	require.Nil(t, res.Err)
	assert.Nil(t, res.Value)
	assert.Equal(t, []string{"recAAA", "recBBB", "recCCC"}, res.Links)

	// Empty array: zero pairs, never an error.
	res = Coerce([]any{}, fc)
	require.Nil(t, res.Err)
	assert.Empty(t, res.Links)
	assert.NotNil(t, res.Links)
}

func TestCoerceJSONFallback(t *testing.T) {
	fc := FieldClass{Kind: JSONFallback}

	res := Coerce(map[string]any{"a": 1.0}, fc)
	require.Nil(t, res.Err)
	assert.JSONEq(t, `{"a":1}`, res.Value.(string))

	res = Coerce([]any{"x", 2.0}, fc)
	require.Nil(t, res.Err)
	assert.JSONEq(t, `["x",2]`, res.Value.(string))
}

func TestCoerceText(t *testing.T) {
	fc := FieldClass{Kind: Text}

	assert.Equal(t, "hello", Coerce("hello", fc).Value)
	assert.Equal(t, "3.5", Coerce(3.5, fc).Value)
	assert.Equal(t, "true", Coerce(true, fc).Value)
}

func TestIsLinkShape(t *testing.T) {
	assert.True(t, IsLinkShape([]any{"recAAA"}))
	assert.False(t, IsLinkShape([]any{}))
	assert.False(t, IsLinkShape([]any{"notARecord"}))
	assert.False(t, IsLinkShape("recAAA"))
}
