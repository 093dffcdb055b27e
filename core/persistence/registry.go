package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/asaidimu/go-collections/core/cache"
	"github.com/asaidimu/go-collections/core/query"
	"github.com/asaidimu/go-collections/core/schema"
	"github.com/asaidimu/go-events"
	"go.uber.org/zap"
)

// Options configures a Registry.
type Options struct {
	Logger *zap.Logger
	// Rules are the custom validation rules collections may reference by name.
	Rules map[string]schema.Rule
	// Hooks are the lifecycle hooks collections may reference by name.
	Hooks map[string]Hook
	// HookTimeout bounds a single hook call. Zero disables the bound.
	HookTimeout time.Duration
	// CacheTTL is the lifetime of cached query results. Negative disables expiry.
	CacheTTL time.Duration
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Logger:      zap.NewNop(),
		Rules:       map[string]schema.Rule{},
		Hooks:       map[string]Hook{},
		HookTimeout: DefaultHookTimeout,
		CacheTTL:    cache.DefaultTTL,
	}
}

// Registry owns a set of collections and the event bus they publish on.
type Registry struct {
	options Options
	logger  *zap.Logger
	bus     *events.TypedEventBus[PersistenceEvent]

	mu          sync.RWMutex
	collections map[string]*Collection
	closed      bool

	subMu         sync.Mutex
	subscriptions map[int]func()
	nextSub       int
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Rules == nil {
		opts.Rules = map[string]schema.Rule{}
	}
	if opts.Hooks == nil {
		opts.Hooks = map[string]Hook{}
	}

	bus, err := events.NewTypedEventBus[PersistenceEvent](events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}

	return &Registry{
		options:       opts,
		logger:        opts.Logger,
		bus:           bus,
		collections:   make(map[string]*Collection),
		subscriptions: make(map[int]func()),
	}, nil
}

// Create validates cfg and registers a new, empty collection.
func (r *Registry) Create(ctx context.Context, cfg CollectionConfig) (*Collection, error) {
	scope := eventScope{
		operation:  "collection:create",
		collection: cfg.ID,
		actor:      SystemActor(),
		input:      cfg.Name,
		start:      CollectionCreateStart,
		success:    CollectionCreateSuccess,
		failed:     CollectionCreateFailed,
	}
	startTime := time.Now()
	r.emit(createEvent(scope.start, scope, nil, nil, time.Time{}))

	c, err := r.create(cfg)
	if err != nil {
		r.logger.Warn("Failed to create collection", zap.String("collection", cfg.ID), zap.Error(err))
		r.emit(createEvent(scope.failed, scope, nil, err, startTime))
		return nil, err
	}

	r.logger.Info("Collection created", zap.String("collection", cfg.ID), zap.String("name", cfg.Name))
	r.emit(createEvent(scope.success, scope, cfg.ID, nil, startTime))
	return c, nil
}

func (r *Registry) create(cfg CollectionConfig) (*Collection, error) {
	c, err := newCollection(r, cloneConfig(cfg))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, configurationError(cfg.ID, "registry is closed")
	}
	if _, exists := r.collections[cfg.ID]; exists {
		return nil, configurationError(cfg.ID, "collection %q already exists", cfg.ID)
	}
	r.collections[cfg.ID] = c
	return c, nil
}

// Collection returns the collection registered under id.
func (r *Registry) Collection(id string) (*Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[id]
	if !ok {
		return nil, &Error{Kind: KindNotFound, CollectionID: id, Operation: -1, Message: "collection not found"}
	}
	return c, nil
}

// Collections returns the registered collection ids in sorted order.
func (r *Registry) Collections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.collections))
	for id := range r.collections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Delete drops a collection with all its items, history and open transactions.
// Handles to the collection keep failing with a not found error afterwards.
func (r *Registry) Delete(ctx context.Context, id string) error {
	scope := eventScope{
		operation:  "collection:delete",
		collection: id,
		actor:      SystemActor(),
		start:      CollectionDeleteStart,
		success:    CollectionDeleteSuccess,
		failed:     CollectionDeleteFailed,
	}
	startTime := time.Now()
	r.emit(createEvent(scope.start, scope, nil, nil, time.Time{}))

	r.mu.Lock()
	c, ok := r.collections[id]
	if ok {
		delete(r.collections, id)
	}
	r.mu.Unlock()

	if !ok {
		err := &Error{Kind: KindNotFound, CollectionID: id, Operation: -1, Message: "collection not found"}
		r.emit(createEvent(scope.failed, scope, nil, err, startTime))
		return err
	}

	c.drop()
	r.logger.Info("Collection deleted", zap.String("collection", id))
	r.emit(createEvent(scope.success, scope, id, nil, startTime))
	return nil
}

// Subscribe registers callback for events of the given type. The returned function
// removes the subscription.
func (r *Registry) Subscribe(event PersistenceEventType, callback EventCallbackFunction) func() {
	unsubscribe := r.bus.Subscribe(string(event), callback)

	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subscriptions[id] = unsubscribe
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subscriptions, id)
			r.subMu.Unlock()
			unsubscribe()
		})
	}
}

// Close drops every collection and removes all subscriptions. The registry rejects
// new collections afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	collections := r.collections
	r.collections = make(map[string]*Collection)
	r.mu.Unlock()

	for _, c := range collections {
		c.drop()
	}

	r.subMu.Lock()
	subs := r.subscriptions
	r.subscriptions = make(map[int]func())
	r.subMu.Unlock()
	for _, unsubscribe := range subs {
		unsubscribe()
	}

	r.logger.Info("Registry closed", zap.Int("collections", len(collections)))
	return nil
}

// Stats returns the counters of every registered collection keyed by id.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	collections := make([]*Collection, 0, len(r.collections))
	for _, c := range r.collections {
		collections = append(collections, c)
	}
	r.mu.RUnlock()

	out := make(map[string]Stats, len(collections))
	for _, c := range collections {
		out[c.id] = c.Stats()
	}
	return out
}

func (r *Registry) emit(event PersistenceEvent) {
	r.bus.Emit(string(event.Type), event)
}

// resolver looks up populate targets with the permissions of actor. Missing targets
// and targets actor may not read resolve to nothing.
func (r *Registry) resolver(actor Actor) query.Resolver {
	return query.ResolverFunc(func(ctx context.Context, collection, id string) (schema.Document, bool, error) {
		c, err := r.Collection(collection)
		if err != nil {
			return nil, false, nil
		}
		item, err := c.Get(ctx, actor, id)
		switch {
		case err == nil:
			return item.Data, true, nil
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrPermission):
			return nil, false, nil
		}
		return nil, false, err
	})
}
