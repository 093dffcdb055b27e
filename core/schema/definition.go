// Package schema defines the structural schema attached to a collection and the
// Validator that checks candidate documents against it. Validation never fails fast:
// every structural problem and every custom rule failure is collected as an Issue.
package schema

import (
	"context"
	"fmt"
	"maps"
)

// FieldType represents the basic value types supported by the schema system.
type FieldType string

const (
	FieldTypeObject  FieldType = "object"  // Structured data with nested properties
	FieldTypeString  FieldType = "string"  // Text data
	FieldTypeNumber  FieldType = "number"  // Any numeric value
	FieldTypeInteger FieldType = "integer" // Numeric value without a fractional part
	FieldTypeBoolean FieldType = "boolean" // True/false values
	FieldTypeArray   FieldType = "array"   // Ordered list of items
	FieldTypeNull    FieldType = "null"    // Explicit null
	FieldTypeAny     FieldType = "any"     // Accepts every value
)

// SchemaDefinition describes the shape of a document or of a nested value. The same
// type is used for the root schema of a collection and for every property below it.
type SchemaDefinition struct {
	Type                 FieldType                    `json:"type,omitempty" yaml:"type,omitempty"`
	Description          string                       `json:"description,omitempty" yaml:"description,omitempty"`
	Properties           map[string]*SchemaDefinition `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required             []string                     `json:"required,omitempty" yaml:"required,omitempty"`
	Items                *SchemaDefinition            `json:"items,omitempty" yaml:"items,omitempty"`
	Enum                 []any                        `json:"enum,omitempty" yaml:"enum,omitempty"`
	Minimum              *float64                     `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum              *float64                     `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	MinLength            *int                         `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength            *int                         `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Pattern              string                       `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	AdditionalProperties *bool                        `json:"additionalProperties,omitempty" yaml:"additionalProperties,omitempty"`
}

// Clone returns a deep copy of the schema so a collection can own it exclusively.
func (s *SchemaDefinition) Clone() *SchemaDefinition {
	if s == nil {
		return nil
	}
	c := *s
	if s.Properties != nil {
		c.Properties = make(map[string]*SchemaDefinition, len(s.Properties))
		for name, prop := range s.Properties {
			c.Properties[name] = prop.Clone()
		}
	}
	c.Required = append([]string(nil), s.Required...)
	c.Items = s.Items.Clone()
	c.Enum = append([]any(nil), s.Enum...)
	return &c
}

// Issue represents a single validation problem.
type Issue struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Path     string `json:"path,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// String renders the issue as "path: message".
func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// ValidationResult is the outcome of validating a single document.
type ValidationResult struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// Document is the payload of a collection item.
type Document map[string]any

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return maps.Clone(d)
}

// RuleContext is handed to a custom Rule.
type RuleContext struct {
	Context    context.Context
	Collection string
	Data       Document
	// Field is the optional field the rule targets. Value holds that field's value.
	Field  string
	Value  any
	Params map[string]any
}

// Rule is a host supplied validation rule. A non-nil error marks the document invalid
// and its message becomes the issue message.
type Rule interface {
	Check(rc RuleContext) error
}

// RuleFunc adapts an ordinary function to the Rule interface.
type RuleFunc func(rc RuleContext) error

// Check calls f(rc).
func (f RuleFunc) Check(rc RuleContext) error {
	return f(rc)
}

// BoundRule is a Rule resolved against a collection's validator descriptor.
type BoundRule struct {
	Name    string
	Field   string
	Message string
	Params  map[string]any
	Rule    Rule
}
