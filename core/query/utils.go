package query

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/asaidimu/go-collections/core/schema"
)

// IntPtr is a helper function that returns a pointer to an int.
func IntPtr(i int) *int {
	return &i
}

// ToFloat64 converts a value of any numeric type to a float64. It returns false for
// non-numeric values, including numeric looking strings.
func ToFloat64(v any) (float64, bool) {
	return schema.Number(v)
}

// GetField resolves a dot separated path inside a document. The second return value
// is false when any segment of the path is missing.
func GetField(doc map[string]any, path string) (any, bool) {
	if doc == nil {
		return nil, false
	}
	if value, ok := doc[path]; ok {
		return value, true
	}
	parts := strings.Split(path, ".")
	var current any = doc
	for _, part := range parts {
		switch m := current.(type) {
		case map[string]any:
			next, ok := m[part]
			if !ok {
				return nil, false
			}
			current = next
		case schema.Document:
			next, ok := m[part]
			if !ok {
				return nil, false
			}
			current = next
		default:
			return nil, false
		}
	}
	return current, true
}

// Equal reports whether two filter values are equal. Numbers compare by value
// regardless of their Go type.
func Equal(a, b any) bool {
	if an, ok := ToFloat64(a); ok {
		if bn, ok := ToFloat64(b); ok {
			return an == bn
		}
		return false
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Equal(bt)
		}
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two values of the same kind. The boolean is false when the values
// cannot be ordered against each other (for example a string and a number).
func Compare(a, b any) (int, bool) {
	if an, ok := ToFloat64(a); ok {
		if bn, ok := ToFloat64(b); ok {
			return compareOrdered(an, bn), true
		}
		return 0, false
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, true
			case !av:
				return -1, true
			default:
				return 1, true
			}
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv), true
		}
	}
	return 0, false
}

// sortCompare is a total order used for sorting: missing and nil values come first,
// then booleans, numbers, strings, times and everything else.
func sortCompare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return compareOrdered(ra, rb)
	}
	if c, ok := Compare(a, b); ok {
		return c
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func rank(v any) int {
	if v == nil {
		return 0
	}
	if _, ok := ToFloat64(v); ok {
		return 2
	}
	switch v.(type) {
	case bool:
		return 1
	case string:
		return 3
	case time.Time:
		return 4
	}
	return 5
}

func compareOrdered[T int | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toSlice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}
