package query

import (
	"context"

	"github.com/asaidimu/go-collections/core/schema"
)

// Resolver looks up referenced documents while populating query results. It returns
// (nil, false, nil) when the reference does not resolve or the caller may not see it.
type Resolver interface {
	Resolve(ctx context.Context, collection, id string) (schema.Document, bool, error)
}

// ResolverFunc adapts an ordinary function to the Resolver interface.
type ResolverFunc func(ctx context.Context, collection, id string) (schema.Document, bool, error)

// Resolve calls f(ctx, collection, id).
func (f ResolverFunc) Resolve(ctx context.Context, collection, id string) (schema.Document, bool, error) {
	return f(ctx, collection, id)
}
