package cache

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"

	"github.com/asaidimu/go-collections/core/query"
	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
)

// Key derives the cache key of a query. Equivalent queries that differ only in the
// order of AND/OR members produce the same key.
func Key(q *query.QueryDSL) (string, error) {
	if q == nil {
		q = &query.QueryDSL{}
	}
	canonical := *q
	if q.Filters != nil {
		f, err := canonicalFilter(q.Filters)
		if err != nil {
			return "", err
		}
		canonical.Filters = f
	}
	limit, offset := q.Window()
	canonical.Pagination = &query.PaginationOptions{Limit: limit, Offset: offset}

	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("failed to encode query for cache key: %w", err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(data)), nil
}

// tagValue rewrites operands that are not plain JSON values into a form that carries
// their Go type, so a time.Time and its RFC 3339 string get different keys.
func tagValue(v any) any {
	switch x := v.(type) {
	case nil, bool, string, float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v
	case *regexp.Regexp:
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = tagValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = tagValue(e)
		}
		return out
	}
	return map[string]any{"$type": fmt.Sprintf("%T", v), "$value": v}
}

func canonicalFilter(f *query.QueryFilter) (*query.QueryFilter, error) {
	out := &query.QueryFilter{}
	if f.Condition != nil {
		c := *f.Condition
		c.Value = tagValue(c.Value)
		out.Condition = &c
	}
	if f.Group == nil {
		return out, nil
	}

	type member struct {
		filter query.QueryFilter
		data   []byte
	}
	members := make([]member, 0, len(f.Group.Conditions))
	for i := range f.Group.Conditions {
		child, err := canonicalFilter(&f.Group.Conditions[i])
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(child)
		if err != nil {
			return nil, fmt.Errorf("failed to encode filter for cache key: %w", err)
		}
		members = append(members, member{filter: *child, data: data})
	}
	sort.SliceStable(members, func(i, j int) bool {
		return bytes.Compare(members[i].data, members[j].data) < 0
	})

	group := &query.FilterGroup{Operator: f.Group.Operator, Conditions: make([]query.QueryFilter, len(members))}
	for i, m := range members {
		group.Conditions[i] = m.filter
	}
	out.Group = group
	return out, nil
}
