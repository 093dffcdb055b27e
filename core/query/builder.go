package query

// QueryBuilder provides a fluent API for building QueryDSL structures. Successive
// Where calls are combined with AND.
type QueryBuilder struct {
	query QueryDSL
}

// NewQueryBuilder creates a new, empty query builder instance.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{query: QueryDSL{}}
}

// Build returns the constructed QueryDSL object.
func (qb *QueryBuilder) Build() QueryDSL {
	return qb.query
}

// Clone creates a copy of the builder so derived queries do not affect the original.
func (qb *QueryBuilder) Clone() *QueryBuilder {
	q := qb.query
	if q.Filters != nil {
		q.Filters = cloneFilter(q.Filters)
	}
	q.Sort = append([]SortConfiguration(nil), q.Sort...)
	if q.Pagination != nil {
		p := *q.Pagination
		q.Pagination = &p
	}
	q.Aggregations = append([]AggregationConfiguration(nil), q.Aggregations...)
	q.Populate = append([]string(nil), q.Populate...)
	return &QueryBuilder{query: q}
}

// Reset clears all configurations from the query builder.
func (qb *QueryBuilder) Reset() *QueryBuilder {
	qb.query = QueryDSL{}
	return qb
}

// Filter replaces the current filter with a pre-built one.
func (qb *QueryBuilder) Filter(filter *QueryFilter) *QueryBuilder {
	qb.query.Filters = filter
	return qb
}

// Where begins the construction of a filter condition for a specific field.
func (qb *QueryBuilder) Where(field string) *FilterConditionBuilder {
	return &FilterConditionBuilder{field: field, add: qb.and}
}

// WhereGroup begins a group of filter conditions combined with operator.
func (qb *QueryBuilder) WhereGroup(operator LogicalOperator) *FilterGroupBuilder {
	return &FilterGroupBuilder{
		operator: operator,
		done: func(f QueryFilter) any {
			qb.and(f)
			return qb
		},
	}
}

// and combines a new filter with the existing one using AND.
func (qb *QueryBuilder) and(filter QueryFilter) any {
	current := qb.query.Filters
	switch {
	case current == nil:
		qb.query.Filters = &filter
	case current.Group != nil && current.Group.Operator == LogicalOperatorAnd:
		current.Group.Conditions = append(current.Group.Conditions, filter)
	default:
		qb.query.Filters = &QueryFilter{Group: &FilterGroup{
			Operator:   LogicalOperatorAnd,
			Conditions: []QueryFilter{*current, filter},
		}}
	}
	return qb
}

// FilterConditionBuilder builds a single filter condition.
type FilterConditionBuilder struct {
	field string
	add   func(QueryFilter) any
}

func (fcb *FilterConditionBuilder) build(operator ComparisonOperator, value FilterValue) *QueryBuilder {
	return fcb.add(QueryFilter{Condition: &FilterCondition{
		Field:    fcb.field,
		Operator: operator,
		Value:    value,
	}}).(*QueryBuilder)
}

// Eq adds an equality condition to the query.
func (fcb *FilterConditionBuilder) Eq(value FilterValue) *QueryBuilder {
	return fcb.build(ComparisonOperatorEq, value)
}

// Ne adds a not-equal condition to the query.
func (fcb *FilterConditionBuilder) Ne(value FilterValue) *QueryBuilder {
	return fcb.build(ComparisonOperatorNe, value)
}

// Lt adds a less-than condition to the query.
func (fcb *FilterConditionBuilder) Lt(value FilterValue) *QueryBuilder {
	return fcb.build(ComparisonOperatorLt, value)
}

// Lte adds a less-than-or-equal condition to the query.
func (fcb *FilterConditionBuilder) Lte(value FilterValue) *QueryBuilder {
	return fcb.build(ComparisonOperatorLte, value)
}

// Gt adds a greater-than condition to the query.
func (fcb *FilterConditionBuilder) Gt(value FilterValue) *QueryBuilder {
	return fcb.build(ComparisonOperatorGt, value)
}

// Gte adds a greater-than-or-equal condition to the query.
func (fcb *FilterConditionBuilder) Gte(value FilterValue) *QueryBuilder {
	return fcb.build(ComparisonOperatorGte, value)
}

// In checks that the field's value is within a set of values.
func (fcb *FilterConditionBuilder) In(values ...FilterValue) *QueryBuilder {
	return fcb.build(ComparisonOperatorIn, toAnySlice(values))
}

// Nin checks that the field's value is not within a set of values.
func (fcb *FilterConditionBuilder) Nin(values ...FilterValue) *QueryBuilder {
	return fcb.build(ComparisonOperatorNin, toAnySlice(values))
}

// Regex matches string fields against a regular expression.
func (fcb *FilterConditionBuilder) Regex(pattern string) *QueryBuilder {
	return fcb.build(ComparisonOperatorRegex, pattern)
}

// Exists checks that the field is present.
func (fcb *FilterConditionBuilder) Exists() *QueryBuilder {
	return fcb.build(ComparisonOperatorExists, true)
}

// NotExists checks that the field is absent.
func (fcb *FilterConditionBuilder) NotExists() *QueryBuilder {
	return fcb.build(ComparisonOperatorExists, false)
}

// FilterGroupBuilder builds a group of filter conditions.
type FilterGroupBuilder struct {
	operator   LogicalOperator
	conditions []QueryFilter
	done       func(QueryFilter) any
}

// Where adds a new condition to the current filter group.
func (fgb *FilterGroupBuilder) Where(field string) *FilterConditionBuilderInGroup {
	return &FilterConditionBuilderInGroup{groupBuilder: fgb, field: field}
}

// WhereGroup opens a nested group. Calling End on it returns to this group.
func (fgb *FilterGroupBuilder) WhereGroup(operator LogicalOperator) *FilterGroupBuilder {
	return &FilterGroupBuilder{
		operator: operator,
		done: func(f QueryFilter) any {
			fgb.conditions = append(fgb.conditions, f)
			return fgb
		},
	}
}

// End closes the group. For a top-level group it returns the *QueryBuilder and for a
// nested group the enclosing *FilterGroupBuilder.
func (fgb *FilterGroupBuilder) End() *QueryBuilder {
	result := fgb.close()
	if qb, ok := result.(*QueryBuilder); ok {
		return qb
	}
	return nil
}

// EndGroup closes a nested group and returns the enclosing group.
func (fgb *FilterGroupBuilder) EndGroup() *FilterGroupBuilder {
	result := fgb.close()
	if parent, ok := result.(*FilterGroupBuilder); ok {
		return parent
	}
	return nil
}

func (fgb *FilterGroupBuilder) close() any {
	return fgb.done(QueryFilter{Group: &FilterGroup{
		Operator:   fgb.operator,
		Conditions: fgb.conditions,
	}})
}

// FilterConditionBuilderInGroup builds a filter condition within a group.
type FilterConditionBuilderInGroup struct {
	groupBuilder *FilterGroupBuilder
	field        string
}

func (fcbg *FilterConditionBuilderInGroup) build(operator ComparisonOperator, value FilterValue) *FilterGroupBuilder {
	fcbg.groupBuilder.conditions = append(fcbg.groupBuilder.conditions, QueryFilter{
		Condition: &FilterCondition{Field: fcbg.field, Operator: operator, Value: value},
	})
	return fcbg.groupBuilder
}

// Eq adds an equality condition to the current filter group.
func (fcbg *FilterConditionBuilderInGroup) Eq(value FilterValue) *FilterGroupBuilder {
	return fcbg.build(ComparisonOperatorEq, value)
}

// Ne adds a not-equal condition to the current filter group.
func (fcbg *FilterConditionBuilderInGroup) Ne(value FilterValue) *FilterGroupBuilder {
	return fcbg.build(ComparisonOperatorNe, value)
}

// Lt adds a less-than condition to the current filter group.
func (fcbg *FilterConditionBuilderInGroup) Lt(value FilterValue) *FilterGroupBuilder {
	return fcbg.build(ComparisonOperatorLt, value)
}

// Lte adds a less-than-or-equal condition to the current filter group.
func (fcbg *FilterConditionBuilderInGroup) Lte(value FilterValue) *FilterGroupBuilder {
	return fcbg.build(ComparisonOperatorLte, value)
}

// Gt adds a greater-than condition to the current filter group.
func (fcbg *FilterConditionBuilderInGroup) Gt(value FilterValue) *FilterGroupBuilder {
	return fcbg.build(ComparisonOperatorGt, value)
}

// Gte adds a greater-than-or-equal condition to the current filter group.
func (fcbg *FilterConditionBuilderInGroup) Gte(value FilterValue) *FilterGroupBuilder {
	return fcbg.build(ComparisonOperatorGte, value)
}

// In adds an "in" condition to the current filter group.
func (fcbg *FilterConditionBuilderInGroup) In(values ...FilterValue) *FilterGroupBuilder {
	return fcbg.build(ComparisonOperatorIn, toAnySlice(values))
}

// Nin adds a "not in" condition to the current filter group.
func (fcbg *FilterConditionBuilderInGroup) Nin(values ...FilterValue) *FilterGroupBuilder {
	return fcbg.build(ComparisonOperatorNin, toAnySlice(values))
}

// Regex adds a regular expression condition to the current filter group.
func (fcbg *FilterConditionBuilderInGroup) Regex(pattern string) *FilterGroupBuilder {
	return fcbg.build(ComparisonOperatorRegex, pattern)
}

// Exists adds an exists condition to the current filter group.
func (fcbg *FilterConditionBuilderInGroup) Exists() *FilterGroupBuilder {
	return fcbg.build(ComparisonOperatorExists, true)
}

// NotExists adds a not-exists condition to the current filter group.
func (fcbg *FilterConditionBuilderInGroup) NotExists() *FilterGroupBuilder {
	return fcbg.build(ComparisonOperatorExists, false)
}

// OrderBy adds a sorting configuration to the query.
func (qb *QueryBuilder) OrderBy(field string, direction SortDirection) *QueryBuilder {
	qb.query.Sort = append(qb.query.Sort, SortConfiguration{Field: field, Direction: direction})
	return qb
}

// OrderByAsc adds an ascending sort order for a specific field.
func (qb *QueryBuilder) OrderByAsc(field string) *QueryBuilder {
	return qb.OrderBy(field, SortDirectionAsc)
}

// OrderByDesc adds a descending sort order for a specific field.
func (qb *QueryBuilder) OrderByDesc(field string) *QueryBuilder {
	return qb.OrderBy(field, SortDirectionDesc)
}

// Limit sets the maximum number of records to be returned by the query.
func (qb *QueryBuilder) Limit(limit int) *QueryBuilder {
	if qb.query.Pagination == nil {
		qb.query.Pagination = &PaginationOptions{}
	}
	qb.query.Pagination.Limit = limit
	return qb
}

// Offset sets how many matching records are skipped.
func (qb *QueryBuilder) Offset(offset int) *QueryBuilder {
	if qb.query.Pagination == nil {
		qb.query.Pagination = &PaginationOptions{}
	}
	qb.query.Pagination.Offset = offset
	return qb
}

// Aggregate adds an aggregation over field. An empty alias defaults to field_op.
func (qb *QueryBuilder) Aggregate(aggregation AggregationType, field, alias string) *QueryBuilder {
	qb.query.Aggregations = append(qb.query.Aggregations, AggregationConfiguration{
		Type:  aggregation,
		Field: field,
		Alias: alias,
	})
	return qb
}

// Count adds a $count aggregation over the filtered set.
func (qb *QueryBuilder) Count(alias string) *QueryBuilder {
	return qb.Aggregate(AggregationTypeCount, "", alias)
}

// Populate adds reference paths to resolve in each returned item.
func (qb *QueryBuilder) Populate(paths ...string) *QueryBuilder {
	qb.query.Populate = append(qb.query.Populate, paths...)
	return qb
}

func toAnySlice(values []FilterValue) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func cloneFilter(f *QueryFilter) *QueryFilter {
	if f == nil {
		return nil
	}
	out := &QueryFilter{}
	if f.Condition != nil {
		c := *f.Condition
		out.Condition = &c
	}
	if f.Group != nil {
		g := &FilterGroup{Operator: f.Group.Operator, Conditions: make([]QueryFilter, len(f.Group.Conditions))}
		for i := range f.Group.Conditions {
			g.Conditions[i] = *cloneFilter(&f.Group.Conditions[i])
		}
		out.Group = g
	}
	return out
}
