package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/asaidimu/go-collections/core/persistence"
	"github.com/asaidimu/go-collections/core/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource map[string]persistence.Stats

func (s staticSource) Stats() map[string]persistence.Stats { return s }

func TestCollector_Static(t *testing.T) {
	source := staticSource{
		"books": {
			Reads:         4,
			Writes:        3,
			Deletes:       1,
			CacheHits:     2,
			CacheMisses:   5,
			ItemCount:     2,
			Transactions:  1,
			AvgQueryTime:  250 * time.Millisecond,
			LastWriteTime: time.Unix(1700000000, 0),
		},
		"authors": {},
	}
	c := NewCollector(source)

	assert.Equal(t, 18, testutil.CollectAndCount(c))

	expected := `
# HELP collections_items Items currently stored.
# TYPE collections_items gauge
collections_items{collection="authors"} 0
collections_items{collection="books"} 2
# HELP collections_query_duration_avg_seconds Average query evaluation time.
# TYPE collections_query_duration_avg_seconds gauge
collections_query_duration_avg_seconds{collection="authors"} 0
collections_query_duration_avg_seconds{collection="books"} 0.25
# HELP collections_last_write_timestamp_seconds Unix time of the last write, zero if none.
# TYPE collections_last_write_timestamp_seconds gauge
collections_last_write_timestamp_seconds{collection="authors"} 0
collections_last_write_timestamp_seconds{collection="books"} 1.7e+09
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"collections_items", "collections_query_duration_avg_seconds", "collections_last_write_timestamp_seconds"))
}

func TestCollector_Registry(t *testing.T) {
	r, err := persistence.NewRegistry(persistence.DefaultOptions())
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	books, err := r.Create(ctx, persistence.CollectionConfig{
		ID:     "books",
		Name:   "Books",
		Schema: &schema.SchemaDefinition{Type: schema.FieldTypeObject},
	})
	require.NoError(t, err)
	_, err = books.Create(ctx, persistence.SystemActor(), schema.Document{"title": "Dune"})
	require.NoError(t, err)
	_, err = books.Create(ctx, persistence.SystemActor(), schema.Document{"title": "Emma"})
	require.NoError(t, err)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(r)))

	expected := `
# HELP collections_writes_total Creates and updates applied.
# TYPE collections_writes_total counter
collections_writes_total{collection="books"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "collections_writes_total"))
}
