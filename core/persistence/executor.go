package persistence

import (
	"context"
	"strings"
	"time"

	"github.com/asaidimu/go-collections/core/cache"
	"github.com/asaidimu/go-collections/core/query"
	"github.com/asaidimu/go-collections/core/schema"
	"go.uber.org/zap"
)

// selection is the cached, unpopulated outcome of a query. Items are shared with the
// store and must be cloned before leaving the collection.
type selection struct {
	items        []*Item
	total        int
	hasMore      bool
	aggregations map[string]any
}

// Query filters, sorts, aggregates and paginates the items of the collection.
// Results are cached until the next write. Populated fields are resolved on every
// call with the permissions of actor.
func (c *Collection) Query(ctx context.Context, actor Actor, dsl *query.QueryDSL) (*QueryResult, error) {
	result, err := c.withEventEmission(eventScope{
		operation:  "query",
		collection: c.id,
		actor:      actor,
		input:      dsl,
		start:      QueryStart,
		success:    QuerySuccess,
		failed:     QueryFailed,
	}, func() (any, error) {
		return c.query(ctx, actor, dsl)
	})
	if err != nil {
		return nil, err
	}
	return result.(*QueryResult), nil
}

func (c *Collection) query(ctx context.Context, actor Actor, dsl *query.QueryDSL) (*QueryResult, error) {
	if err := c.authorize(actor, CapabilityRead); err != nil {
		return nil, err
	}
	if dsl == nil {
		dsl = &query.QueryDSL{}
	}
	start := time.Now()

	key, err := cache.Key(dsl)
	if err != nil {
		return nil, invalidQueryError(c.id, err)
	}

	sel, hit, err := c.selectItems(key, dsl)
	if err != nil {
		return nil, err
	}

	items := make([]*Item, len(sel.items))
	for i, item := range sel.items {
		items[i] = item.Clone()
	}
	if len(dsl.Populate) > 0 {
		if err := c.populate(ctx, actor, items, dsl.Populate); err != nil {
			return nil, err
		}
	}

	elapsed := time.Since(start)
	c.recordQuery(elapsed)
	c.logger.Debug("Query executed",
		zap.Int("total", sel.total),
		zap.Int("returned", len(items)),
		zap.Bool("cacheHit", hit),
		zap.Duration("elapsed", elapsed))

	return &QueryResult{
		Items:         items,
		Total:         sel.total,
		HasMore:       sel.hasMore,
		Aggregations:  cloneAggregations(sel.aggregations),
		ExecutionTime: elapsed,
		CacheHit:      hit,
	}, nil
}

// selectItems returns the cached selection for key, or evaluates dsl and caches the
// outcome unless a write happened in the meantime.
func (c *Collection) selectItems(key string, dsl *query.QueryDSL) (*selection, bool, error) {
	if cached, ok := c.cache.Get(key); ok {
		return cached.(*selection), true, nil
	}

	c.mu.RLock()
	c.cacheMu.Lock()
	generation := c.generation
	c.cacheMu.Unlock()

	items := c.store.list()
	docs := make([]schema.Document, len(items))
	for i, item := range items {
		docs[i] = item.Data
	}
	out, err := c.processor.Process(docs, dsl)
	c.mu.RUnlock()
	if err != nil {
		return nil, false, invalidQueryError(c.id, err)
	}

	sel := &selection{
		items:        make([]*Item, len(out.Indices)),
		total:        out.Total,
		hasMore:      out.HasMore,
		aggregations: out.Aggregations,
	}
	for i, idx := range out.Indices {
		sel.items[i] = items[idx]
	}

	c.cacheMu.Lock()
	if c.generation == generation {
		c.cache.Set(key, sel)
	}
	c.cacheMu.Unlock()
	return sel, false, nil
}

// populate replaces the value at each path with the data of the related item. Paths
// without a relation are left alone; relations that do not resolve become null.
func (c *Collection) populate(ctx context.Context, actor Actor, items []*Item, paths []string) error {
	resolver := c.registry.resolver(actor)
	for _, item := range items {
		for _, path := range paths {
			rel, ok := item.Metadata.Relations[path]
			if !ok {
				continue
			}
			doc, found, err := resolver.Resolve(ctx, rel.Collection, rel.ID)
			if err != nil {
				return err
			}
			if !found {
				setPath(item.Data, path, nil)
				continue
			}
			setPath(item.Data, path, map[string]any(doc))
		}
	}
	return nil
}

// setPath writes value at a dot path, creating intermediate objects as needed.
func setPath(doc schema.Document, path string, value any) {
	parts := strings.Split(path, ".")
	current := map[string]any(doc)
	for _, part := range parts[:len(parts)-1] {
		switch next := current[part].(type) {
		case map[string]any:
			current = next
		case schema.Document:
			current = next
		default:
			child := make(map[string]any)
			current[part] = child
			current = child
		}
	}
	current[parts[len(parts)-1]] = value
}

func cloneAggregations(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
