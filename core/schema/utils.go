package schema

import "strings"

// Property returns the definition of a (possibly dotted) property path, or nil when
// the schema does not declare it.
func (s *SchemaDefinition) Property(path string) *SchemaDefinition {
	current := s
	for _, part := range strings.Split(path, ".") {
		if current == nil || current.Properties == nil {
			return nil
		}
		current = current.Properties[part]
	}
	return current
}

// Ptr returns a pointer to v. Handy for the optional numeric schema bounds.
func Ptr[T any](v T) *T {
	return &v
}
