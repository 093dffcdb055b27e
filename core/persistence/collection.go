package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asaidimu/go-collections/core/cache"
	"github.com/asaidimu/go-collections/core/codec"
	"github.com/asaidimu/go-collections/core/query"
	"github.com/asaidimu/go-collections/core/schema"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Collection is a named set of items sharing a schema. All methods are safe for
// concurrent use: writes serialize on the collection lock while queries share it.
type Collection struct {
	id       string
	config   CollectionConfig
	registry *Registry
	logger   *zap.Logger

	mu        sync.RWMutex
	store     *itemStore
	versions  *versionStore
	validator *schema.Validator
	uniques   []IndexHint
	hooks     *hookRunner
	processor *query.DataProcessor

	cacheMu    sync.Mutex
	cache      *cache.Cache
	generation uint64

	statsMu sync.Mutex
	stats   counters

	txMu         sync.Mutex
	transactions map[string]*Transaction

	dropped atomic.Bool
}

type counters struct {
	reads     int64
	writes    int64
	deletes   int64
	queries   int64
	queryTime time.Duration
	lastWrite time.Time
}

func newCollection(r *Registry, cfg CollectionConfig) (*Collection, error) {
	if cfg.ID == "" {
		return nil, configurationError("", "collection id is required")
	}
	if cfg.Name == "" {
		return nil, configurationError(cfg.ID, "collection name is required")
	}
	if cfg.Schema == nil {
		return nil, configurationError(cfg.ID, "collection schema is required")
	}
	if cfg.Versioning.MaxVersions < 0 {
		return nil, configurationError(cfg.ID, "maxVersions must not be negative, got %d", cfg.Versioning.MaxVersions)
	}

	rules := make([]schema.BoundRule, 0, len(cfg.Validators))
	for _, d := range cfg.Validators {
		rule, ok := r.options.Rules[d.Rule]
		if !ok || rule == nil {
			return nil, configurationError(cfg.ID, "validation rule %q is not registered", d.Rule)
		}
		name := d.Name
		if name == "" {
			name = d.Rule
		}
		rules = append(rules, schema.BoundRule{
			Name:    name,
			Field:   d.Field,
			Message: d.Message,
			Params:  d.Params,
			Rule:    rule,
		})
	}

	var uniques []IndexHint
	for _, idx := range cfg.Indexes {
		if len(idx.Fields) == 0 {
			return nil, configurationError(cfg.ID, "index %q has no fields", idx.Name)
		}
		if idx.Unique {
			uniques = append(uniques, idx)
		}
	}

	logger := r.logger.With(zap.String("collection", cfg.ID))
	hooks, err := newHookRunner(cfg.ID, cfg.Hooks, r.options.Hooks, r.options.HookTimeout, logger)
	if err != nil {
		return nil, err
	}

	return &Collection{
		id:           cfg.ID,
		config:       cfg,
		registry:     r,
		logger:       logger,
		store:        newItemStore(),
		versions:     newVersionStore(cfg.Versioning),
		validator:    schema.NewValidator(cfg.ID, cfg.Schema, rules),
		uniques:      uniques,
		hooks:        hooks,
		processor:    query.NewDataProcessor(logger),
		cache:        cache.New(r.options.CacheTTL, logger),
		transactions: make(map[string]*Transaction),
	}, nil
}

// ID returns the collection id.
func (c *Collection) ID() string {
	return c.id
}

// Config returns a copy of the collection configuration.
func (c *Collection) Config() CollectionConfig {
	return cloneConfig(c.config)
}

func (c *Collection) authorize(actor Actor, capability Capability) error {
	if c.dropped.Load() {
		return &Error{Kind: KindNotFound, CollectionID: c.id, Operation: -1, Message: "collection has been deleted"}
	}
	if err := authorize(c.id, c.config.Permissions, actor, capability); err != nil {
		c.logger.Warn("Permission denied",
			zap.String("user", actor.String()),
			zap.String("capability", string(capability)))
		return err
	}
	return nil
}

// Create validates data and stores it as a new item at version 1.
func (c *Collection) Create(ctx context.Context, actor Actor, data schema.Document, opts ...ItemOption) (*Item, error) {
	result, err := c.withEventEmission(eventScope{
		operation:  "create",
		collection: c.id,
		actor:      actor,
		input:      data,
		start:      ItemCreateStart,
		success:    ItemCreateSuccess,
		failed:     ItemCreateFailed,
	}, func() (any, error) {
		if err := c.authorize(actor, CapabilityWrite); err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		cs := newChangeSet(c.store, c.versions)
		item, err := c.stageCreate(ctx, cs, actor, data, opts, "")
		if err != nil {
			return nil, err
		}
		if _, err := c.publish(ctx, cs, actor, "", []applied{{event: AfterCreate, item: item}}); err != nil {
			return nil, err
		}
		return item.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Item), nil
}

// Update shallow-merges patch into the item and bumps its version.
func (c *Collection) Update(ctx context.Context, actor Actor, id string, patch schema.Document, opts ...ItemOption) (*Item, error) {
	result, err := c.withEventEmission(eventScope{
		operation:  "update",
		collection: c.id,
		itemID:     id,
		actor:      actor,
		input:      patch,
		start:      ItemUpdateStart,
		success:    ItemUpdateSuccess,
		failed:     ItemUpdateFailed,
	}, func() (any, error) {
		if err := c.authorize(actor, CapabilityWrite); err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		cs := newChangeSet(c.store, c.versions)
		item, previous, err := c.stageUpdate(ctx, cs, actor, id, patch, opts, "")
		if err != nil {
			return nil, err
		}
		if _, err := c.publish(ctx, cs, actor, "", []applied{{event: AfterUpdate, item: item, previous: previous}}); err != nil {
			return nil, err
		}
		return item.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Item), nil
}

// Delete removes an item. Its version history is kept.
func (c *Collection) Delete(ctx context.Context, actor Actor, id string) error {
	_, err := c.withEventEmission(eventScope{
		operation:  "delete",
		collection: c.id,
		itemID:     id,
		actor:      actor,
		start:      ItemDeleteStart,
		success:    ItemDeleteSuccess,
		failed:     ItemDeleteFailed,
	}, func() (any, error) {
		if err := c.authorize(actor, CapabilityDelete); err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		cs := newChangeSet(c.store, c.versions)
		previous, err := c.stageDelete(ctx, cs, actor, id, "")
		if err != nil {
			return nil, err
		}
		_, err = c.publish(ctx, cs, actor, "", []applied{{event: AfterDelete, previous: previous}})
		return nil, err
	})
	return err
}

// Get returns a copy of one item.
func (c *Collection) Get(ctx context.Context, actor Actor, id string) (*Item, error) {
	if err := c.authorize(actor, CapabilityRead); err != nil {
		return nil, err
	}

	c.mu.RLock()
	item, ok := c.store.get(id)
	c.mu.RUnlock()

	c.recordRead()
	if !ok {
		return nil, notFoundError(c.id, id)
	}
	return item.Clone(), nil
}

// Versions returns the history of an item, oldest first. History outlives the item.
func (c *Collection) Versions(ctx context.Context, actor Actor, id string) ([]ItemVersion, error) {
	if err := c.authorize(actor, CapabilityRead); err != nil {
		return nil, err
	}
	if !c.config.Versioning.Enabled {
		return nil, featureDisabledError(c.id, "versioning")
	}

	c.mu.RLock()
	history, ok := c.versions.list(id)
	c.mu.RUnlock()

	c.recordRead()
	if !ok {
		return nil, notFoundError(c.id, id)
	}
	return history, nil
}

// Stats returns a snapshot of the collection counters.
func (c *Collection) Stats() Stats {
	c.mu.RLock()
	itemCount := c.store.len()
	c.mu.RUnlock()

	c.txMu.Lock()
	active := len(c.transactions)
	c.txMu.Unlock()

	cs := c.cache.Stats()

	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s := Stats{
		Reads:         c.stats.reads,
		Writes:        c.stats.writes,
		Deletes:       c.stats.deletes,
		CacheHits:     cs.Hits,
		CacheMisses:   cs.Misses,
		CacheHitRate:  cs.HitRate,
		ItemCount:     itemCount,
		Transactions:  active,
		LastWriteTime: c.stats.lastWrite,
	}
	if c.stats.queries > 0 {
		s.AvgQueryTime = c.stats.queryTime / time.Duration(c.stats.queries)
	}
	return s
}

// Export renders every item in format.
func (c *Collection) Export(ctx context.Context, actor Actor, format Format) ([]byte, error) {
	if err := c.authorize(actor, CapabilityRead); err != nil {
		return nil, err
	}

	c.mu.RLock()
	items := c.store.list()
	c.mu.RUnlock()

	entries := make([]codec.Entry, 0, len(items))
	for _, item := range items {
		meta, err := json.Marshal(item.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata of %s: %w", item.ID, err)
		}
		entries = append(entries, codec.Entry{ID: item.ID, Data: item.Data, Metadata: meta})
	}

	out, err := codec.Encode(format, entries)
	if err != nil {
		return nil, c.codecError(err)
	}
	c.recordRead()
	return out, nil
}

// Import creates one new item per record in a single transaction. Records keep their
// data, tags and relations but always receive fresh ids.
func (c *Collection) Import(ctx context.Context, actor Actor, data []byte, format Format) (int, error) {
	result, err := c.withEventEmission(eventScope{
		operation:  "import",
		collection: c.id,
		actor:      actor,
		input:      map[string]any{"format": format, "bytes": len(data)},
		start:      ImportStart,
		success:    ImportSuccess,
		failed:     ImportFailed,
	}, func() (any, error) {
		if err := c.authorize(actor, CapabilityWrite); err != nil {
			return nil, err
		}
		entries, err := codec.Decode(format, data)
		if err != nil {
			return nil, c.codecError(err)
		}

		tx, err := c.Begin(actor)
		if err != nil {
			return nil, err
		}
		for i, entry := range entries {
			opts, err := entryOptions(entry)
			if err != nil {
				_ = tx.Rollback()
				return nil, transactionError(c.id, tx.ID, i, "invalid record metadata", err)
			}
			if err := tx.Create(entry.Data, opts...); err != nil {
				_ = tx.Rollback()
				return nil, err
			}
		}
		if _, err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return len(entries), nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// Restore loads previously saved items from sink, keeping their ids and metadata.
// It runs as the system and bypasses hooks and validation. Existing ids are replaced.
func (c *Collection) Restore(ctx context.Context, sink SnapshotSink) (int, error) {
	items, err := sink.LoadItems(ctx, c.id)
	if err != nil {
		return 0, fmt.Errorf("failed to load snapshot of %s: %w", c.id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cs := newChangeSet(c.store, c.versions)
	for _, item := range items {
		if item == nil || item.ID == "" {
			continue
		}
		restored := item.Clone()
		if restored.Data == nil {
			restored.Data = schema.Document{}
		}
		cs.put(restored)
		if err := cs.recordVersion(restored, restored.Metadata.UpdatedBy); err != nil {
			return 0, err
		}
	}
	cs.apply()
	c.invalidate()
	c.logger.Info("Restored collection from snapshot", zap.Int("items", len(items)))
	return len(items), nil
}

func entryOptions(entry codec.Entry) ([]ItemOption, error) {
	if len(entry.Metadata) == 0 {
		return nil, nil
	}
	var meta ItemMetadata
	if err := json.Unmarshal(entry.Metadata, &meta); err != nil {
		return nil, err
	}
	var opts []ItemOption
	if len(meta.Tags) > 0 {
		opts = append(opts, WithTags(meta.Tags...))
	}
	for path, rel := range meta.Relations {
		opts = append(opts, WithRelation(path, rel.Collection, rel.ID))
	}
	return opts, nil
}

func (c *Collection) codecError(err error) error {
	if errors.Is(err, codec.ErrUnsupportedFormat) {
		return &Error{Kind: KindUnsupportedFormat, CollectionID: c.id, Operation: -1, Message: "unsupported format", Err: err}
	}
	return &Error{Kind: KindValidation, CollectionID: c.id, Operation: -1, Message: "malformed payload", Err: err}
}

// applied describes one mutation published by a change set, for the after hooks.
type applied struct {
	event    HookEvent
	item     *Item
	previous *Item
}

func (c *Collection) stageCreate(ctx context.Context, cs *changeSet, actor Actor, data schema.Document, opts []ItemOption, txID string) (*Item, error) {
	o := applyItemOptions(opts)

	id := o.id
	if id == "" {
		u, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate item id: %w", err)
		}
		id = u.String()
	} else if cs.exists(id) || cs.hasHistory(id) {
		// a reused id would continue the history of the deleted item
		return nil, conflictError(c.id, id)
	}

	payload, err := cloneDocument(data)
	if err != nil {
		return nil, fmt.Errorf("failed to copy item data: %w", err)
	}
	payload, err = c.hooks.run(ctx, &HookContext{
		Event:         BeforeCreate,
		Collection:    c.id,
		Actor:         actor,
		ItemID:        id,
		TransactionID: txID,
		Data:          payload,
	})
	if err != nil {
		return nil, err
	}

	if issues := c.validate(ctx, cs, id, payload); len(issues) > 0 {
		return nil, validationError(c.id, id, issues)
	}

	now := time.Now().UTC()
	item := &Item{
		ID:   id,
		Data: payload,
		Metadata: ItemMetadata{
			CreatedAt: now,
			UpdatedAt: now,
			CreatedBy: actor.ID(),
			UpdatedBy: actor.ID(),
			Version:   1,
			Tags:      o.tags,
			Relations: o.relations,
		},
	}
	cs.put(item)
	if err := cs.recordVersion(item, actor.ID()); err != nil {
		return nil, err
	}
	return item, nil
}

func (c *Collection) stageUpdate(ctx context.Context, cs *changeSet, actor Actor, id string, patch schema.Document, opts []ItemOption, txID string) (*Item, *Item, error) {
	current, ok := cs.get(id)
	if !ok {
		return nil, nil, notFoundError(c.id, id)
	}
	o := applyItemOptions(opts)

	payload, err := cloneDocument(patch)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to copy patch: %w", err)
	}
	payload, err = c.hooks.run(ctx, &HookContext{
		Event:         BeforeUpdate,
		Collection:    c.id,
		Actor:         actor,
		ItemID:        id,
		TransactionID: txID,
		Data:          payload,
		Previous:      current.Clone(),
	})
	if err != nil {
		return nil, nil, err
	}

	merged := mergeDocument(current.Data, payload)
	if issues := c.validate(ctx, cs, id, merged); len(issues) > 0 {
		return nil, nil, validationError(c.id, id, issues)
	}

	meta := current.Metadata
	meta.Version++
	meta.UpdatedAt = time.Now().UTC()
	meta.UpdatedBy = actor.ID()
	if o.setTags {
		meta.Tags = o.tags
	}
	if o.relations != nil {
		meta.Relations = o.relations
	}

	item := &Item{ID: id, Data: merged, Metadata: meta}
	cs.put(item)
	if err := cs.recordVersion(item, actor.ID()); err != nil {
		return nil, nil, err
	}
	return item, current, nil
}

func (c *Collection) stageDelete(ctx context.Context, cs *changeSet, actor Actor, id, txID string) (*Item, error) {
	current, ok := cs.get(id)
	if !ok {
		return nil, notFoundError(c.id, id)
	}
	if _, err := c.hooks.run(ctx, &HookContext{
		Event:         BeforeDelete,
		Collection:    c.id,
		Actor:         actor,
		ItemID:        id,
		TransactionID: txID,
		Previous:      current.Clone(),
	}); err != nil {
		return nil, err
	}
	cs.remove(id)
	return current, nil
}

// publish applies a staged change set, runs the after hooks and reverts everything if
// one of them fails, returning the index of the failing change. Must be called with
// the write lock held.
func (c *Collection) publish(ctx context.Context, cs *changeSet, actor Actor, txID string, changes []applied) (int, error) {
	undo := cs.apply()

	for i, change := range changes {
		hc := &HookContext{
			Event:         change.event,
			Collection:    c.id,
			Actor:         actor,
			TransactionID: txID,
			Item:          change.item.Clone(),
			Previous:      change.previous.Clone(),
		}
		switch {
		case change.item != nil:
			hc.ItemID = change.item.ID
		case change.previous != nil:
			hc.ItemID = change.previous.ID
		}
		if _, err := c.hooks.run(ctx, hc); err != nil {
			undo()
			return i, err
		}
	}

	c.invalidate()

	var writes, deletes int64
	for _, change := range changes {
		if change.event == AfterDelete {
			deletes++
		} else {
			writes++
		}
	}
	c.statsMu.Lock()
	c.stats.writes += writes
	c.stats.deletes += deletes
	c.stats.lastWrite = time.Now()
	c.statsMu.Unlock()

	c.logger.Debug("Published changes",
		zap.Int("changes", len(changes)),
		zap.String("user", actor.String()),
		zap.String("transaction", txID))
	return -1, nil
}

// validate runs the schema validator and the unique index checks against the view of
// the change set. selfID is excluded from uniqueness comparisons.
func (c *Collection) validate(ctx context.Context, cs *changeSet, selfID string, data schema.Document) []schema.Issue {
	issues := c.validator.Validate(ctx, data)

	for _, idx := range c.uniques {
		values := make([]any, len(idx.Fields))
		complete := true
		for i, field := range idx.Fields {
			v, ok := query.GetField(data, field)
			if !ok || v == nil {
				complete = false
				break
			}
			values[i] = v
		}
		if !complete {
			continue
		}

		duplicate := ""
		cs.each(func(other *Item) bool {
			if other.ID == selfID {
				return true
			}
			for i, field := range idx.Fields {
				v, ok := query.GetField(other.Data, field)
				if !ok || !query.Equal(v, values[i]) {
					return true
				}
			}
			duplicate = other.ID
			return false
		})
		if duplicate != "" {
			issues = append(issues, schema.Issue{
				Code:     schema.CodeUniqueViolation,
				Message:  fmt.Sprintf("Value already used by item %s (index '%s')", duplicate, idx.Name),
				Path:     strings.Join(idx.Fields, ","),
				Severity: "error",
			})
		}
	}
	return issues
}

// invalidate drops every cached query result. Must be called with the write lock held.
func (c *Collection) invalidate() {
	c.cacheMu.Lock()
	c.generation++
	c.cache.Clear()
	c.cacheMu.Unlock()
}

func (c *Collection) recordRead() {
	c.statsMu.Lock()
	c.stats.reads++
	c.statsMu.Unlock()
}

func (c *Collection) recordQuery(d time.Duration) {
	c.statsMu.Lock()
	c.stats.reads++
	c.stats.queries++
	c.stats.queryTime += d
	c.statsMu.Unlock()
}

// drop marks the collection deleted and ends its open transactions.
func (c *Collection) drop() {
	c.dropped.Store(true)

	c.txMu.Lock()
	open := make([]*Transaction, 0, len(c.transactions))
	for _, tx := range c.transactions {
		open = append(open, tx)
	}
	c.txMu.Unlock()

	for _, tx := range open {
		_ = c.Rollback(tx.ID)
	}
	c.invalidate()
}

func cloneConfig(cfg CollectionConfig) CollectionConfig {
	out := cfg
	if cfg.Schema != nil {
		out.Schema = cfg.Schema.Clone()
	}
	out.Indexes = make([]IndexHint, len(cfg.Indexes))
	for i, idx := range cfg.Indexes {
		idx.Fields = append([]string(nil), idx.Fields...)
		out.Indexes[i] = idx
	}
	if cfg.Permissions != nil {
		out.Permissions = make(map[string]Permission, len(cfg.Permissions))
		for k, v := range cfg.Permissions {
			out.Permissions[k] = v
		}
	}
	out.Validators = append([]ValidatorDescriptor(nil), cfg.Validators...)
	out.Hooks = append([]HookDescriptor(nil), cfg.Hooks...)
	if cfg.Retention != nil {
		r := *cfg.Retention
		out.Retention = &r
	}
	if cfg.Metadata != nil {
		if meta, err := cloneDocument(cfg.Metadata); err == nil {
			out.Metadata = map[string]any(meta)
		}
	}
	return out
}
