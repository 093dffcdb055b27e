package cache

import (
	"testing"
	"time"

	"github.com/asaidimu/go-collections/core/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_HitMissAndClear(t *testing.T) {
	c := New(0, nil)

	_, found := c.Get("k")
	assert.False(t, found)

	c.Set("k", 42)
	v, found := c.Get("k")
	require.True(t, found)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	_, found = c.Get("k")
	assert.False(t, found)
	assert.Equal(t, 0, c.Len())

	s := c.Stats()
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(2), s.Misses)
	assert.InDelta(t, 1.0/3.0, s.HitRate, 1e-9)
	// miss, hit, miss: ((0*0.9)+0.1)*0.9 = 0.09
	assert.InDelta(t, 0.09, s.MovingHitRate, 1e-9)
}

func TestCache_EmptyStats(t *testing.T) {
	s := New(time.Minute, nil).Stats()
	assert.Zero(t, s.HitRate)
	assert.Zero(t, s.MovingHitRate)
}

func TestCache_Expiry(t *testing.T) {
	c := New(20*time.Millisecond, nil)
	c.Set("k", "v")
	_, found := c.Get("k")
	require.True(t, found)

	time.Sleep(40 * time.Millisecond)
	_, found = c.Get("k")
	assert.False(t, found)
}

func TestCache_NoExpiry(t *testing.T) {
	c := New(-1, nil)
	c.Set("k", "v")
	_, found := c.Get("k")
	assert.True(t, found)
}

func TestKey(t *testing.T) {
	a := query.NewQueryBuilder().Where("rating").Gte(4).Where("genre").Eq("sci-fi").OrderByDesc("rating").Build()
	b := query.NewQueryBuilder().Where("genre").Eq("sci-fi").Where("rating").Gte(4).OrderByDesc("rating").Build()
	c := query.NewQueryBuilder().Where("genre").Eq("sci-fi").Where("rating").Gte(5).OrderByDesc("rating").Build()
	d := query.NewQueryBuilder().Where("rating").Gte(4).Where("genre").Eq("sci-fi").OrderByAsc("rating").Build()

	ka, err := Key(&a)
	require.NoError(t, err)
	kb, err := Key(&b)
	require.NoError(t, err)
	kc, err := Key(&c)
	require.NoError(t, err)
	kd, err := Key(&d)
	require.NoError(t, err)

	assert.Len(t, ka, 16)
	assert.Equal(t, ka, kb, "member order must not change the key")
	assert.NotEqual(t, ka, kc)
	assert.NotEqual(t, ka, kd, "sort direction is part of the key")
}

func TestKey_DefaultsAreNormalized(t *testing.T) {
	empty, err := Key(nil)
	require.NoError(t, err)
	explicit, err := Key(&query.QueryDSL{Pagination: &query.PaginationOptions{Limit: query.DefaultLimit}})
	require.NoError(t, err)
	assert.Equal(t, empty, explicit)

	paged, err := Key(&query.QueryDSL{Pagination: &query.PaginationOptions{Limit: 10, Offset: 10}})
	require.NoError(t, err)
	assert.NotEqual(t, empty, paged)
}

func TestKey_OperandTypesAreDistinct(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		a, b any
	}{
		{name: "time and its string", a: at, b: at.Format(time.RFC3339)},
		{name: "time in list", a: []any{at}, b: []any{at.Format(time.RFC3339)}},
		{name: "named string type", a: query.SortDirection("asc"), b: "asc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qa := query.NewQueryBuilder().Where("published").Eq(tt.a).Build()
			qb := query.NewQueryBuilder().Where("published").Eq(tt.b).Build()
			ka, err := Key(&qa)
			require.NoError(t, err)
			kb, err := Key(&qb)
			require.NoError(t, err)
			assert.NotEqual(t, ka, kb)
		})
	}

	same := query.NewQueryBuilder().Where("published").Eq(at).Build()
	again := query.NewQueryBuilder().Where("published").Eq(at).Build()
	k1, err := Key(&same)
	require.NoError(t, err)
	k2, err := Key(&again)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestKey_UnencodableValue(t *testing.T) {
	q := query.NewQueryBuilder().Where("a").Eq(func() {}).Build()
	_, err := Key(&q)
	assert.Error(t, err)
}
