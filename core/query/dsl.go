// Package query defines the declarative query language used to read collections:
// filtering, multi-key sorting, offset pagination, aggregations and populate paths.
// Filters form a closed set of operators so every condition can be checked up front.
package query

import (
	"errors"
)

// ErrUnknownOperator is returned when a filter uses an operator outside the closed set.
var ErrUnknownOperator = errors.New("unknown query operator")

// ErrInvalidOperand is returned when an operator receives a value of the wrong shape.
var ErrInvalidOperand = errors.New("invalid operand")

// LogicalOperator combines several filters.
type LogicalOperator string

// Logical operators for combining filter conditions.
const (
	LogicalOperatorAnd LogicalOperator = "$and"
	LogicalOperatorOr  LogicalOperator = "$or"
)

// ComparisonOperator defines the set of operators that can be used in a filter condition.
type ComparisonOperator string

// Supported comparison operators.
const (
	ComparisonOperatorEq     ComparisonOperator = "$eq"
	ComparisonOperatorNe     ComparisonOperator = "$ne"
	ComparisonOperatorGt     ComparisonOperator = "$gt"
	ComparisonOperatorGte    ComparisonOperator = "$gte"
	ComparisonOperatorLt     ComparisonOperator = "$lt"
	ComparisonOperatorLte    ComparisonOperator = "$lte"
	ComparisonOperatorIn     ComparisonOperator = "$in"
	ComparisonOperatorNin    ComparisonOperator = "$nin"
	ComparisonOperatorRegex  ComparisonOperator = "$regex"
	ComparisonOperatorExists ComparisonOperator = "$exists"
)

// FilterValue represents the operand of a filter condition.
type FilterValue any

// FilterCondition defines a single condition on one field.
type FilterCondition struct {
	Field    string             `json:"field"`
	Operator ComparisonOperator `json:"op"`
	Value    FilterValue        `json:"value"`
}

// FilterGroup combines multiple filters using a logical operator.
type FilterGroup struct {
	Operator   LogicalOperator `json:"op"`
	Conditions []QueryFilter   `json:"conditions"`
}

// QueryFilter is a union type that holds either a single condition or a group.
type QueryFilter struct {
	Condition *FilterCondition `json:"condition,omitempty"`
	Group     *FilterGroup     `json:"group,omitempty"`
}

// SortDirection specifies the direction for sorting.
type SortDirection string

// Supported sort directions.
const (
	SortDirectionAsc  SortDirection = "asc"
	SortDirectionDesc SortDirection = "desc"
)

// SortConfiguration defines the sorting order for a specific field. Earlier entries
// dominate later ones.
type SortConfiguration struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

// DefaultLimit is applied when a query does not set a positive limit.
const DefaultLimit = 100

// PaginationOptions defines offset based pagination.
type PaginationOptions struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// AggregationType specifies the type of aggregation to be performed.
type AggregationType string

// Supported aggregation types.
const (
	AggregationTypeCount AggregationType = "$count"
	AggregationTypeSum   AggregationType = "$sum"
	AggregationTypeAvg   AggregationType = "$avg"
	AggregationTypeMin   AggregationType = "$min"
	AggregationTypeMax   AggregationType = "$max"
)

// AggregationConfiguration defines an aggregation over one field. Aggregations always
// run over the full filtered set, never only the returned page.
type AggregationConfiguration struct {
	Type  AggregationType `json:"type"`
	Field string          `json:"field,omitempty"`
	Alias string          `json:"alias,omitempty"`
}

// Key returns the name under which the aggregation result is reported.
func (a AggregationConfiguration) Key() string {
	if a.Alias != "" {
		return a.Alias
	}
	op := string(a.Type)
	if len(op) > 0 && op[0] == '$' {
		op = op[1:]
	}
	if a.Field == "" {
		return op
	}
	return a.Field + "_" + op
}

// QueryDSL is the top-level structure that represents a complete query.
type QueryDSL struct {
	Filters      *QueryFilter               `json:"filters,omitempty"`
	Sort         []SortConfiguration        `json:"sort,omitempty"`
	Pagination   *PaginationOptions         `json:"pagination,omitempty"`
	Aggregations []AggregationConfiguration `json:"aggregations,omitempty"`
	Populate     []string                   `json:"populate,omitempty"`
}

// Window returns the effective limit and offset after defaults are applied.
func (q *QueryDSL) Window() (limit, offset int) {
	limit = DefaultLimit
	if q == nil || q.Pagination == nil {
		return limit, 0
	}
	if q.Pagination.Limit > 0 {
		limit = q.Pagination.Limit
	}
	if q.Pagination.Offset > 0 {
		offset = q.Pagination.Offset
	}
	return limit, offset
}

// standardComparisonOperators is the closed set of comparison operators.
var standardComparisonOperators = map[ComparisonOperator]struct{}{
	ComparisonOperatorEq:     {},
	ComparisonOperatorNe:     {},
	ComparisonOperatorGt:     {},
	ComparisonOperatorGte:    {},
	ComparisonOperatorLt:     {},
	ComparisonOperatorLte:    {},
	ComparisonOperatorIn:     {},
	ComparisonOperatorNin:    {},
	ComparisonOperatorRegex:  {},
	ComparisonOperatorExists: {},
}

// IsStandard checks if a comparison operator belongs to the supported set.
func (c ComparisonOperator) IsStandard() bool {
	_, ok := standardComparisonOperators[c]
	return ok
}

// GetStandardComparisonOperators returns a map of all supported comparison operators.
func GetStandardComparisonOperators() map[ComparisonOperator]struct{} {
	return standardComparisonOperators
}

var standardAggregations = map[AggregationType]struct{}{
	AggregationTypeCount: {},
	AggregationTypeSum:   {},
	AggregationTypeAvg:   {},
	AggregationTypeMin:   {},
	AggregationTypeMax:   {},
}

// IsStandard checks if an aggregation type belongs to the supported set.
func (a AggregationType) IsStandard() bool {
	_, ok := standardAggregations[a]
	return ok
}
