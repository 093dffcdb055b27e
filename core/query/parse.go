package query

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/asaidimu/go-collections/core/schema"
	"github.com/goccy/go-json"
)

// rawQuery mirrors the JSON form of a query:
//
//	{
//	  "filter":    {"rating": {"$gte": 4}, "$or": [{"genre": "sci-fi"}, {"genre": "fantasy"}]},
//	  "sort":      {"rating": -1, "title": 1},
//	  "limit":     10,
//	  "offset":    0,
//	  "aggregate": {"avg_rating": {"$avg": "rating"}},
//	  "populate":  ["author"]
//	}
type rawQuery struct {
	Filter    json.RawMessage `json:"filter"`
	Filters   json.RawMessage `json:"filters"`
	Sort      json.RawMessage `json:"sort"`
	Limit     *int            `json:"limit"`
	Offset    *int            `json:"offset"`
	Skip      *int            `json:"skip"`
	Aggregate json.RawMessage `json:"aggregate"`
	Populate  []string        `json:"populate"`
}

// Parse decodes the JSON form of a query into a QueryDSL. Filters are validated
// against the closed operator set, so an unknown operator fails here.
func Parse(data []byte) (*QueryDSL, error) {
	var raw rawQuery
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode query: %w", err)
	}

	dsl := &QueryDSL{Populate: raw.Populate}

	filter := raw.Filter
	if len(filter) == 0 {
		filter = raw.Filters
	}
	if len(filter) > 0 && !isNull(filter) {
		var m map[string]any
		if err := json.Unmarshal(filter, &m); err != nil {
			return nil, fmt.Errorf("%w: filter must be an object: %v", ErrInvalidOperand, err)
		}
		f, err := ParseFilter(m)
		if err != nil {
			return nil, err
		}
		dsl.Filters = f
	}

	if len(raw.Sort) > 0 && !isNull(raw.Sort) {
		s, err := parseSort(raw.Sort)
		if err != nil {
			return nil, err
		}
		dsl.Sort = s
	}

	offset := raw.Offset
	if offset == nil {
		offset = raw.Skip
	}
	if raw.Limit != nil || offset != nil {
		dsl.Pagination = &PaginationOptions{}
		if raw.Limit != nil {
			dsl.Pagination.Limit = *raw.Limit
		}
		if offset != nil {
			dsl.Pagination.Offset = *offset
		}
	}

	if len(raw.Aggregate) > 0 && !isNull(raw.Aggregate) {
		a, err := parseAggregations(raw.Aggregate)
		if err != nil {
			return nil, err
		}
		dsl.Aggregations = a
	}

	if _, err := Compile(dsl.Filters); err != nil {
		return nil, err
	}
	return dsl, nil
}

// ParseFilter converts the map form of a filter into a QueryFilter. Field keys map to
// either a literal (equality) or an operator object such as {"$gte": 4}. The keys
// "$and" and "$or" take a list of nested filters. Keys are processed in sorted order
// so equivalent maps always produce the same filter.
func ParseFilter(m map[string]any) (*QueryFilter, error) {
	parts := make([]QueryFilter, 0, len(m))
	for _, key := range sortedKeys(m) {
		value := m[key]
		switch {
		case key == string(LogicalOperatorAnd) || key == string(LogicalOperatorOr):
			group, err := parseGroup(LogicalOperator(key), value)
			if err != nil {
				return nil, err
			}
			parts = append(parts, QueryFilter{Group: group})
		case strings.HasPrefix(key, "$"):
			return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, key)
		default:
			conditions, err := parseField(key, value)
			if err != nil {
				return nil, err
			}
			parts = append(parts, conditions...)
		}
	}

	switch len(parts) {
	case 0:
		return nil, nil
	case 1:
		return &parts[0], nil
	}
	return &QueryFilter{Group: &FilterGroup{Operator: LogicalOperatorAnd, Conditions: parts}}, nil
}

func parseGroup(op LogicalOperator, value any) (*FilterGroup, error) {
	list, ok := toSlice(value)
	if !ok {
		return nil, fmt.Errorf("%w: %s needs a list of filters", ErrInvalidOperand, op)
	}
	group := &FilterGroup{Operator: op, Conditions: make([]QueryFilter, 0, len(list))}
	for _, entry := range list {
		m, ok := asMap(entry)
		if !ok {
			return nil, fmt.Errorf("%w: %s entries must be objects", ErrInvalidOperand, op)
		}
		child, err := ParseFilter(m)
		if err != nil {
			return nil, err
		}
		if child != nil {
			group.Conditions = append(group.Conditions, *child)
		}
	}
	return group, nil
}

func parseField(field string, value any) ([]QueryFilter, error) {
	m, ok := asMap(value)
	if !ok || !hasOperatorKey(m) {
		return []QueryFilter{{Condition: &FilterCondition{Field: field, Operator: ComparisonOperatorEq, Value: value}}}, nil
	}

	out := make([]QueryFilter, 0, len(m))
	for _, key := range sortedKeys(m) {
		if !strings.HasPrefix(key, "$") {
			return nil, fmt.Errorf("%w: '%s' mixes operators with plain keys", ErrInvalidOperand, field)
		}
		op := ComparisonOperator(key)
		if !op.IsStandard() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, key)
		}
		out = append(out, QueryFilter{Condition: &FilterCondition{Field: field, Operator: op, Value: m[key]}})
	}
	return out, nil
}

// parseSort accepts either an object ({"rating": -1, "title": 1}) whose key order is
// significant, or a list of {"field": ..., "direction": ...} entries.
func parseSort(data json.RawMessage) ([]SortConfiguration, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []struct {
			Field     string `json:"field"`
			Direction any    `json:"direction"`
		}
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("%w: sort: %v", ErrInvalidOperand, err)
		}
		out := make([]SortConfiguration, 0, len(entries))
		for _, e := range entries {
			dir, err := ParseSortDirection(e.Direction)
			if err != nil {
				return nil, err
			}
			out = append(out, SortConfiguration{Field: e.Field, Direction: dir})
		}
		return out, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: sort: %v", ErrInvalidOperand, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: sort must be an object or a list", ErrInvalidOperand)
	}

	var out []SortConfiguration
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: sort: %v", ErrInvalidOperand, err)
		}
		field, _ := keyTok.(string)
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: sort: %v", ErrInvalidOperand, err)
		}
		dir, err := ParseSortDirection(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, SortConfiguration{Field: field, Direction: dir})
	}
	return out, nil
}

// ParseSortDirection accepts 1 / -1 and "asc" / "desc" in any case.
func ParseSortDirection(v any) (SortDirection, error) {
	if v == nil {
		return SortDirectionAsc, nil
	}
	if n, ok := ToFloat64(v); ok {
		switch n {
		case 1:
			return SortDirectionAsc, nil
		case -1:
			return SortDirectionDesc, nil
		}
	}
	if s, ok := v.(string); ok {
		switch strings.ToLower(s) {
		case "asc", "1", "":
			return SortDirectionAsc, nil
		case "desc", "-1":
			return SortDirectionDesc, nil
		}
	}
	if d, ok := v.(SortDirection); ok {
		return ParseSortDirection(string(d))
	}
	return "", fmt.Errorf("%w: invalid sort direction %v", ErrInvalidOperand, v)
}

// parseAggregations accepts {"alias": {"$op": "field"}} or a list of
// {"type": "$op", "field": ..., "alias": ...} entries.
func parseAggregations(data json.RawMessage) ([]AggregationConfiguration, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var out []AggregationConfiguration
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("%w: aggregate: %v", ErrInvalidOperand, err)
		}
		for _, a := range out {
			if !a.Type.IsStandard() {
				return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, a.Type)
			}
		}
		return out, nil
	}

	var m map[string]map[string]string
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, fmt.Errorf("%w: aggregate: %v", ErrInvalidOperand, err)
	}
	aliases := make([]string, 0, len(m))
	for alias := range m {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	out := make([]AggregationConfiguration, 0, len(m))
	for _, alias := range aliases {
		def := m[alias]
		if len(def) != 1 {
			return nil, fmt.Errorf("%w: aggregate '%s' needs exactly one operator", ErrInvalidOperand, alias)
		}
		for op, field := range def {
			t := AggregationType(op)
			if !t.IsStandard() {
				return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, op)
			}
			if field == "*" {
				field = ""
			}
			out = append(out, AggregationConfiguration{Type: t, Field: field, Alias: alias})
		}
	}
	return out, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case schema.Document:
		return map[string]any(m), true
	}
	return nil, false
}

func hasOperatorKey(m map[string]any) bool {
	for key := range m {
		if strings.HasPrefix(key, "$") {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isNull(data json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}
