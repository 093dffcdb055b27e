package schema

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"sync"
	"unicode/utf8"
)

// Issue codes produced by the Validator.
const (
	CodeRequiredFieldMissing = "REQUIRED_FIELD_MISSING"
	CodeTypeMismatch         = "TYPE_MISMATCH"
	CodeUnexpectedField      = "UNEXPECTED_FIELD"
	CodeEnumViolation        = "ENUM_VIOLATION"
	CodeRangeViolation       = "RANGE_VIOLATION"
	CodeLengthViolation      = "LENGTH_VIOLATION"
	CodePatternMismatch      = "PATTERN_MISMATCH"
	CodeInvalidPattern       = "INVALID_PATTERN"
	CodeConstraintViolation  = "CONSTRAINT_VIOLATION"
	CodeRulePanic            = "RULE_PANIC"
	CodeUniqueViolation      = "UNIQUE_VIOLATION"
)

// Validator checks documents against a schema and a list of custom rules. It runs the
// structural pass first and then every rule in order, collecting all issues.
// A Validator is safe for concurrent use.
type Validator struct {
	schema     *SchemaDefinition
	collection string
	rules      []BoundRule

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// NewValidator creates a new Validator for the given schema and rules.
func NewValidator(collection string, schema *SchemaDefinition, rules []BoundRule) *Validator {
	return &Validator{
		schema:     schema,
		collection: collection,
		rules:      rules,
		patterns:   make(map[string]*regexp.Regexp),
	}
}

// Validate checks data and returns every issue found. A nil or empty slice means the
// document is valid.
func (v *Validator) Validate(ctx context.Context, data Document) []Issue {
	run := &validation{v: v, issues: make([]Issue, 0)}
	if v.schema != nil {
		run.value(map[string]any(data), v.schema, "", true)
	}
	for _, rule := range v.rules {
		run.rule(ctx, data, rule)
	}
	return run.issues
}

// Result wraps Validate into a ValidationResult.
func (v *Validator) Result(ctx context.Context, data Document) *ValidationResult {
	issues := v.Validate(ctx, data)
	return &ValidationResult{Valid: len(issues) == 0, Issues: issues}
}

func (v *Validator) compile(pattern string) (*regexp.Regexp, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if re, ok := v.patterns[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	v.patterns[pattern] = re
	return re, nil
}

// validation holds the state of a single Validate call.
type validation struct {
	v      *Validator
	issues []Issue
}

func (r *validation) addIssue(code, message, path string) {
	r.issues = append(r.issues, Issue{
		Code:     code,
		Message:  message,
		Path:     path,
		Severity: "error",
	})
}

func (r *validation) value(value any, def *SchemaDefinition, path string, present bool) {
	if def == nil || !present {
		return
	}

	if !r.typeMatches(value, def.Type, path) {
		return
	}

	if len(def.Enum) > 0 {
		r.enum(value, def.Enum, path)
	}

	switch typed := value.(type) {
	case string:
		r.stringValue(typed, def, path)
	case map[string]any:
		r.object(typed, def, path)
	case Document:
		r.object(map[string]any(typed), def, path)
	default:
		if n, ok := Number(value); ok {
			r.number(n, def, path)
		} else if items, ok := asSlice(value); ok {
			r.array(items, def, path)
		}
	}
}

func (r *validation) typeMatches(value any, expected FieldType, path string) bool {
	if expected == "" || expected == FieldTypeAny {
		return true
	}

	ok := false
	switch expected {
	case FieldTypeNull:
		ok = value == nil
	case FieldTypeString:
		_, ok = value.(string)
	case FieldTypeNumber:
		_, ok = Number(value)
	case FieldTypeInteger:
		if n, isNum := Number(value); isNum {
			ok = n == math.Trunc(n)
		}
	case FieldTypeBoolean:
		_, ok = value.(bool)
	case FieldTypeArray:
		_, ok = asSlice(value)
	case FieldTypeObject:
		switch value.(type) {
		case map[string]any, Document:
			ok = true
		}
	default:
		r.addIssue(CodeTypeMismatch, fmt.Sprintf("Unknown schema type '%s'", expected), path)
		return false
	}

	if !ok {
		r.addIssue(CodeTypeMismatch, fmt.Sprintf("Expected %s, got %s", expected, describe(value)), path)
	}
	return ok
}

func (r *validation) object(data map[string]any, def *SchemaDefinition, path string) {
	for _, name := range def.Required {
		if _, exists := data[name]; !exists {
			r.addIssue(CodeRequiredFieldMissing, fmt.Sprintf("Required field '%s' is missing", name), buildPath(path, name))
		}
	}

	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)

	strict := def.AdditionalProperties != nil && !*def.AdditionalProperties
	for _, name := range names {
		prop, known := def.Properties[name]
		if !known {
			if strict {
				r.addIssue(CodeUnexpectedField, fmt.Sprintf("Unexpected field '%s' not defined in schema", name), buildPath(path, name))
			}
			continue
		}
		r.value(data[name], prop, buildPath(path, name), true)
	}
}

func (r *validation) array(items []any, def *SchemaDefinition, path string) {
	if def.MinLength != nil && len(items) < *def.MinLength {
		r.addIssue(CodeLengthViolation, fmt.Sprintf("Expected at least %d items, got %d", *def.MinLength, len(items)), path)
	}
	if def.MaxLength != nil && len(items) > *def.MaxLength {
		r.addIssue(CodeLengthViolation, fmt.Sprintf("Expected at most %d items, got %d", *def.MaxLength, len(items)), path)
	}
	if def.Items == nil {
		return
	}
	for i, item := range items {
		r.value(item, def.Items, fmt.Sprintf("%s[%d]", path, i), true)
	}
}

func (r *validation) stringValue(s string, def *SchemaDefinition, path string) {
	length := utf8.RuneCountInString(s)
	if def.MinLength != nil && length < *def.MinLength {
		r.addIssue(CodeLengthViolation, fmt.Sprintf("Expected at least %d characters, got %d", *def.MinLength, length), path)
	}
	if def.MaxLength != nil && length > *def.MaxLength {
		r.addIssue(CodeLengthViolation, fmt.Sprintf("Expected at most %d characters, got %d", *def.MaxLength, length), path)
	}
	if def.Pattern == "" {
		return
	}
	re, err := r.v.compile(def.Pattern)
	if err != nil {
		r.addIssue(CodeInvalidPattern, fmt.Sprintf("Invalid pattern '%s': %v", def.Pattern, err), path)
		return
	}
	if !re.MatchString(s) {
		r.addIssue(CodePatternMismatch, fmt.Sprintf("Value does not match pattern '%s'", def.Pattern), path)
	}
}

func (r *validation) number(n float64, def *SchemaDefinition, path string) {
	if def.Minimum != nil && n < *def.Minimum {
		r.addIssue(CodeRangeViolation, fmt.Sprintf("Value %v is below minimum %v", n, *def.Minimum), path)
	}
	if def.Maximum != nil && n > *def.Maximum {
		r.addIssue(CodeRangeViolation, fmt.Sprintf("Value %v is above maximum %v", n, *def.Maximum), path)
	}
}

func (r *validation) enum(value any, allowed []any, path string) {
	for _, candidate := range allowed {
		if equalValues(value, candidate) {
			return
		}
	}
	r.addIssue(CodeEnumViolation, fmt.Sprintf("Value must be one of: %v", allowed), path)
}

// rule runs one custom rule. A returned error or a panic both count as a failure.
func (r *validation) rule(ctx context.Context, data Document, rule BoundRule) {
	path := rule.Field
	if path == "" {
		path = rule.Name
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.addIssue(CodeRulePanic, fmt.Sprintf("Rule '%s' panicked: %v", rule.Name, rec), path)
		}
	}()

	rc := RuleContext{
		Context:    ctx,
		Collection: r.v.collection,
		Data:       data,
		Field:      rule.Field,
		Params:     rule.Params,
	}
	if rule.Field != "" {
		rc.Value = data[rule.Field]
	}

	if err := rule.Rule.Check(rc); err != nil {
		message := err.Error()
		if rule.Message != "" {
			message = rule.Message
		}
		r.addIssue(CodeConstraintViolation, message, path)
	}
}

// Number reports whether value is numeric and returns it as float64.
func Number(value any) (float64, bool) {
	switch n := value.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asSlice(value any) ([]any, bool) {
	if items, ok := value.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

func equalValues(a, b any) bool {
	if an, ok := Number(a); ok {
		if bn, ok := Number(b); ok {
			return an == bn
		}
	}
	return reflect.DeepEqual(a, b)
}

func describe(value any) string {
	if value == nil {
		return "null"
	}
	return fmt.Sprintf("%T", value)
}

// buildPath constructs a dot-separated path string for error reporting.
func buildPath(basePath, fieldName string) string {
	if basePath == "" {
		return fieldName
	}
	return basePath + "." + fieldName
}
