// Package utils converts between Go structs and the documents stored in collections.
package utils

import (
	"fmt"
	"reflect"

	"github.com/asaidimu/go-collections/core/persistence"
	"github.com/asaidimu/go-collections/core/schema"
	"github.com/goccy/go-json"
)

// ToDocument converts a Go struct into a schema.Document.
//
// The struct is marshaled to JSON and decoded back into a document, so `json:"tag"`
// annotations and `omitempty` apply. Nested structs become nested documents, slices
// become []any and numbers become float64, which is the shape the schema validator
// and query engine expect.
//
// The input must be a struct or a non-nil pointer to a struct.
//
// Example:
//
//	type Book struct {
//		Title  string  `json:"title"`
//		Rating float64 `json:"rating,omitempty"`
//	}
//	doc, err := ToDocument(Book{Title: "Dune", Rating: 5})
//	// doc is schema.Document{"title": "Dune", "rating": 5.0}
func ToDocument[T any](record T) (schema.Document, error) {
	val := reflect.ValueOf(record)

	if !val.IsValid() {
		return nil, fmt.Errorf("input record cannot be nil")
	}

	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, fmt.Errorf("input record cannot be a nil pointer to a struct")
		}
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("input record must be a struct or a pointer to a struct, got %s", val.Kind())
	}

	jsonBytes, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("ToDocument: failed to marshal input record to JSON: %w", err)
	}

	doc := schema.Document{}
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return nil, fmt.Errorf("ToDocument: failed to unmarshal JSON to document: %w", err)
	}
	return doc, nil
}

// FromDocument converts a document into a new instance of the struct type T. It is the
// inverse of ToDocument.
//
// T must be a struct type or a pointer to one.
func FromDocument[T any](input schema.Document) (T, error) {
	var zero T

	if input == nil {
		return zero, fmt.Errorf("FromDocument: input document cannot be nil")
	}

	typ := reflect.TypeOf(zero)
	if typ == nil {
		return zero, fmt.Errorf("FromDocument: generic type T must be a struct type (or pointer to struct), got interface")
	}
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return zero, fmt.Errorf("FromDocument: generic type T must be a struct type (or pointer to struct), got %s", typ.Kind())
	}

	jsonBytes, err := json.Marshal(input)
	if err != nil {
		return zero, fmt.Errorf("FromDocument: failed to marshal input document to JSON: %w", err)
	}

	var result T
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return zero, fmt.Errorf("FromDocument: failed to unmarshal JSON to target struct: %w", err)
	}
	return result, nil
}

// FromItems converts the data of every item into T, preserving order.
func FromItems[T any](items []*persistence.Item) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		v, err := FromDocument[T](item.Data)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", item.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}
