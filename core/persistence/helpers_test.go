package persistence

import (
	"context"
	"sync"
	"testing"

	"github.com/asaidimu/go-collections/core/schema"
	"github.com/stretchr/testify/require"
)

func booksSchema() *schema.SchemaDefinition {
	return &schema.SchemaDefinition{
		Type: schema.FieldTypeObject,
		Properties: map[string]*schema.SchemaDefinition{
			"title":  {Type: schema.FieldTypeString, MinLength: schema.Ptr(1)},
			"rating": {Type: schema.FieldTypeNumber, Minimum: schema.Ptr(0.0), Maximum: schema.Ptr(5.0)},
			"genre":  {Type: schema.FieldTypeString},
			"isbn":   {Type: schema.FieldTypeString},
		},
		Required: []string{"title"},
	}
}

func booksConfig() CollectionConfig {
	return CollectionConfig{
		ID:     "books",
		Name:   "Books",
		Schema: booksSchema(),
		Permissions: map[string]Permission{
			"alice": {Read: true, Write: true, Delete: true},
			"bob":   {Read: true},
		},
		Versioning: Versioning{Enabled: true, MaxVersions: 3},
	}
}

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	r, err := NewRegistry(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func newTestCollection(t *testing.T, cfg CollectionConfig) *Collection {
	t.Helper()
	r := newTestRegistry(t, DefaultOptions())
	c, err := r.Create(context.Background(), cfg)
	require.NoError(t, err)
	return c
}

func mustCreate(t *testing.T, c *Collection, data schema.Document, opts ...ItemOption) *Item {
	t.Helper()
	item, err := c.Create(context.Background(), SystemActor(), data, opts...)
	require.NoError(t, err)
	return item
}

// memorySink is an in-memory SnapshotSink.
type memorySink struct {
	mu    sync.Mutex
	items map[string]map[string]*Item
}

func newMemorySink() *memorySink {
	return &memorySink{items: make(map[string]map[string]*Item)}
}

func (s *memorySink) SaveItem(_ context.Context, collection string, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items[collection] == nil {
		s.items[collection] = make(map[string]*Item)
	}
	s.items[collection][item.ID] = item.Clone()
	return nil
}

func (s *memorySink) RemoveItem(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items[collection], id)
	return nil
}

func (s *memorySink) LoadItems(_ context.Context, collection string) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Item, 0, len(s.items[collection]))
	for _, item := range s.items[collection] {
		out = append(out, item.Clone())
	}
	return out, nil
}
