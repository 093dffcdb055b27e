package query

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/asaidimu/go-collections/core/schema"
	"github.com/stretchr/testify/assert"
)

func TestIntPtr(t *testing.T) {
	ptr := IntPtr(12)
	assert.NotNil(t, ptr)
	assert.Equal(t, 12, *ptr)
}

func TestToFloat64(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected float64
		success  bool
	}{
		{"int", 10, 10.0, true},
		{"int8", int8(20), 20.0, true},
		{"int64", int64(50), 50.0, true},
		{"uint16", uint16(7), 7.0, true},
		{"float32", float32(60.5), 60.5, true},
		{"float64", 70.5, 70.5, true},
		{"json number", json.Number("1.25"), 1.25, true},
		{"numeric string", "100", 0, false},
		{"nil", nil, 0, false},
		{"unsupported_type", struct{}{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, ok := ToFloat64(tt.input)
			assert.Equal(t, tt.success, ok)
			if tt.success {
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}

func TestGetField(t *testing.T) {
	doc := map[string]any{
		"title":  "Dune",
		"author": map[string]any{"name": "Herbert", "meta": schema.Document{"born": 1920}},
		"a.b":    "literal",
	}

	v, ok := GetField(doc, "title")
	assert.True(t, ok)
	assert.Equal(t, "Dune", v)

	v, ok = GetField(doc, "author.name")
	assert.True(t, ok)
	assert.Equal(t, "Herbert", v)

	v, ok = GetField(doc, "author.meta.born")
	assert.True(t, ok)
	assert.Equal(t, 1920, v)

	v, ok = GetField(doc, "a.b")
	assert.True(t, ok)
	assert.Equal(t, "literal", v)

	_, ok = GetField(doc, "author.missing")
	assert.False(t, ok)
	_, ok = GetField(doc, "title.length")
	assert.False(t, ok)
	_, ok = GetField(nil, "title")
	assert.False(t, ok)
}

func TestEqualAndCompare(t *testing.T) {
	now := time.Now()

	assert.True(t, Equal(1, 1.0))
	assert.True(t, Equal(int64(3), float32(3)))
	assert.False(t, Equal(1, "1"))
	assert.True(t, Equal(nil, nil))
	assert.True(t, Equal([]any{"a"}, []any{"a"}))
	assert.True(t, Equal(now, now.UTC()))

	tests := []struct {
		name       string
		a, b       any
		cmp        int
		comparable bool
	}{
		{"numbers", 2, 3.5, -1, true},
		{"strings", "b", "a", 1, true},
		{"bools", false, true, -1, true},
		{"times", now.Add(time.Second), now, 1, true},
		{"equal", 4, int32(4), 0, true},
		{"mixed", "1", 1, 0, false},
		{"nil", nil, 1, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmp, ok := Compare(tt.a, tt.b)
			assert.Equal(t, tt.comparable, ok)
			assert.Equal(t, tt.cmp, cmp)
		})
	}
}

func TestSortCompare_TotalOrder(t *testing.T) {
	assert.Equal(t, -1, sortCompare(nil, false))
	assert.Equal(t, -1, sortCompare(true, 0))
	assert.Equal(t, -1, sortCompare(10, "a"))
	assert.Equal(t, 1, sortCompare("b", "a"))
	assert.Equal(t, 0, sortCompare(nil, nil))
}
