package query

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/asaidimu/go-collections/core/schema"
	"go.uber.org/zap"
)

// Predicate reports whether a document satisfies a compiled filter.
type Predicate func(doc schema.Document) bool

// Selection is the outcome of running a query over a list of documents. Indices point
// into the input slice, in result order, restricted to the requested page.
type Selection struct {
	Indices      []int
	Total        int
	HasMore      bool
	Aggregations map[string]any
}

// DataProcessor evaluates queries against in-memory documents.
type DataProcessor struct {
	logger *zap.Logger
}

// NewDataProcessor creates a new DataProcessor instance.
func NewDataProcessor(logger *zap.Logger) *DataProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataProcessor{logger: logger}
}

// Process filters, sorts, aggregates and paginates docs. Sorting is stable so records
// that compare equal on every key keep their input order. Aggregations are computed
// over the full filtered set before pagination.
func (p *DataProcessor) Process(docs []schema.Document, dsl *QueryDSL) (*Selection, error) {
	if dsl == nil {
		dsl = &QueryDSL{}
	}

	match, err := Compile(dsl.Filters)
	if err != nil {
		return nil, err
	}

	matched := make([]int, 0, len(docs))
	for i, doc := range docs {
		if match(doc) {
			matched = append(matched, i)
		}
	}
	p.logger.Debug("Documents remaining after filters", zap.Int("count", len(matched)), zap.Int("scanned", len(docs)))

	if len(dsl.Sort) > 0 {
		sort.SliceStable(matched, func(a, b int) bool {
			return compareBySort(docs[matched[a]], docs[matched[b]], dsl.Sort) < 0
		})
	}

	aggregations, err := aggregate(docs, matched, dsl.Aggregations)
	if err != nil {
		return nil, err
	}

	limit, offset := dsl.Window()
	total := len(matched)
	start := min(offset, total)
	end := min(start+limit, total)

	return &Selection{
		Indices:      matched[start:end],
		Total:        total,
		HasMore:      end < total,
		Aggregations: aggregations,
	}, nil
}

// Match evaluates a single document against a filter.
func (p *DataProcessor) Match(ctx context.Context, filters *QueryFilter, data schema.Document) (bool, error) {
	match, err := Compile(filters)
	if err != nil {
		return false, err
	}
	return match(data), nil
}

// Compile validates a filter tree and turns it into a Predicate. Unknown operators and
// malformed operands are rejected here, before any document is scanned.
func Compile(filter *QueryFilter) (Predicate, error) {
	if filter == nil {
		return func(schema.Document) bool { return true }, nil
	}
	if filter.Condition != nil && filter.Group != nil {
		return nil, fmt.Errorf("%w: filter holds both a condition and a group", ErrInvalidOperand)
	}
	if filter.Condition != nil {
		return compileCondition(filter.Condition)
	}
	if filter.Group != nil {
		return compileGroup(filter.Group)
	}
	return func(schema.Document) bool { return true }, nil
}

func compileGroup(group *FilterGroup) (Predicate, error) {
	children := make([]Predicate, 0, len(group.Conditions))
	for i := range group.Conditions {
		child, err := Compile(&group.Conditions[i])
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	switch group.Operator {
	case LogicalOperatorAnd, "":
		return func(doc schema.Document) bool {
			for _, child := range children {
				if !child(doc) {
					return false
				}
			}
			return true
		}, nil
	case LogicalOperatorOr:
		return func(doc schema.Document) bool {
			for _, child := range children {
				if child(doc) {
					return true
				}
			}
			return false
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, group.Operator)
}

func compileCondition(c *FilterCondition) (Predicate, error) {
	if !c.Operator.IsStandard() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, c.Operator)
	}
	field := c.Field
	operand := c.Value

	switch c.Operator {
	case ComparisonOperatorEq:
		return func(doc schema.Document) bool {
			value, _ := GetField(doc, field)
			return Equal(value, operand)
		}, nil

	case ComparisonOperatorNe:
		return func(doc schema.Document) bool {
			value, _ := GetField(doc, field)
			return !Equal(value, operand)
		}, nil

	case ComparisonOperatorGt, ComparisonOperatorGte, ComparisonOperatorLt, ComparisonOperatorLte:
		if operand == nil {
			return nil, fmt.Errorf("%w: %s on '%s' needs a value", ErrInvalidOperand, c.Operator, field)
		}
		accept := orderingCheck(c.Operator)
		return func(doc schema.Document) bool {
			value, ok := GetField(doc, field)
			if !ok || value == nil {
				return false
			}
			cmp, comparable := Compare(value, operand)
			return comparable && accept(cmp)
		}, nil

	case ComparisonOperatorIn, ComparisonOperatorNin:
		set, ok := toSlice(operand)
		if !ok {
			return nil, fmt.Errorf("%w: %s on '%s' needs a list", ErrInvalidOperand, c.Operator, field)
		}
		negate := c.Operator == ComparisonOperatorNin
		return func(doc schema.Document) bool {
			value, _ := GetField(doc, field)
			return contains(set, value) != negate
		}, nil

	case ComparisonOperatorRegex:
		var re *regexp.Regexp
		switch pattern := operand.(type) {
		case string:
			compiled, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid pattern for '%s': %v", ErrInvalidOperand, field, err)
			}
			re = compiled
		case *regexp.Regexp:
			re = pattern
		default:
			return nil, fmt.Errorf("%w: $regex on '%s' needs a string pattern", ErrInvalidOperand, field)
		}
		return func(doc schema.Document) bool {
			value, _ := GetField(doc, field)
			s, ok := value.(string)
			return ok && re.MatchString(s)
		}, nil

	case ComparisonOperatorExists:
		want, ok := operand.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: $exists on '%s' needs a boolean", ErrInvalidOperand, field)
		}
		return func(doc schema.Document) bool {
			_, present := GetField(doc, field)
			return present == want
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, c.Operator)
}

func orderingCheck(op ComparisonOperator) func(int) bool {
	switch op {
	case ComparisonOperatorGt:
		return func(c int) bool { return c > 0 }
	case ComparisonOperatorGte:
		return func(c int) bool { return c >= 0 }
	case ComparisonOperatorLt:
		return func(c int) bool { return c < 0 }
	default:
		return func(c int) bool { return c <= 0 }
	}
}

// contains matches a scalar against the set, or any element of an array value.
func contains(set []any, value any) bool {
	if items, ok := value.([]any); ok {
		for _, item := range items {
			if contains(set, item) {
				return true
			}
		}
		return false
	}
	for _, candidate := range set {
		if Equal(value, candidate) {
			return true
		}
	}
	return false
}

func compareBySort(a, b schema.Document, keys []SortConfiguration) int {
	for _, key := range keys {
		av, _ := GetField(a, key.Field)
		bv, _ := GetField(b, key.Field)
		c := sortCompare(av, bv)
		if c == 0 {
			continue
		}
		if key.Direction == SortDirectionDesc {
			return -c
		}
		return c
	}
	return 0
}

func aggregate(docs []schema.Document, matched []int, configs []AggregationConfiguration) (map[string]any, error) {
	if len(configs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(configs))
	for _, cfg := range configs {
		if !cfg.Type.IsStandard() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, cfg.Type)
		}
		if cfg.Field == "" && cfg.Type != AggregationTypeCount {
			return nil, fmt.Errorf("%w: %s needs a field", ErrInvalidOperand, cfg.Type)
		}

		var (
			count   int
			sum     float64
			numeric int
			best    any
		)
		for _, i := range matched {
			if cfg.Field == "" {
				count++
				continue
			}
			value, ok := GetField(docs[i], cfg.Field)
			if !ok || value == nil {
				continue
			}
			count++
			if n, isNum := ToFloat64(value); isNum {
				sum += n
				numeric++
			}
			if best == nil {
				best = value
				continue
			}
			if c, comparable := Compare(value, best); comparable {
				if (cfg.Type == AggregationTypeMin && c < 0) || (cfg.Type == AggregationTypeMax && c > 0) {
					best = value
				}
			}
		}

		switch cfg.Type {
		case AggregationTypeCount:
			out[cfg.Key()] = count
		case AggregationTypeSum:
			out[cfg.Key()] = sum
		case AggregationTypeAvg:
			if numeric == 0 {
				out[cfg.Key()] = nil
			} else {
				out[cfg.Key()] = sum / float64(numeric)
			}
		case AggregationTypeMin, AggregationTypeMax:
			out[cfg.Key()] = best
		}
	}
	return out, nil
}
