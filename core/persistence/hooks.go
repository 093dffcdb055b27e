package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asaidimu/go-collections/core/schema"
	"go.uber.org/zap"
)

// HookEvent names a lifecycle point at which hooks run.
type HookEvent string

// Lifecycle events.
const (
	BeforeCreate HookEvent = "beforeCreate"
	AfterCreate  HookEvent = "afterCreate"
	BeforeUpdate HookEvent = "beforeUpdate"
	AfterUpdate  HookEvent = "afterUpdate"
	BeforeDelete HookEvent = "beforeDelete"
	AfterDelete  HookEvent = "afterDelete"
)

// Valid reports whether e is a known lifecycle event.
func (e HookEvent) Valid() bool {
	switch e {
	case BeforeCreate, AfterCreate, BeforeUpdate, AfterUpdate, BeforeDelete, AfterDelete:
		return true
	}
	return false
}

// DefaultHookTimeout bounds a single hook invocation.
const DefaultHookTimeout = 5 * time.Second

// ErrHookTimeout is wrapped by hook errors caused by an expired deadline.
var ErrHookTimeout = errors.New("hook timed out")

// HookContext is passed to every hook.
type HookContext struct {
	Event         HookEvent
	Collection    string
	Actor         Actor
	ItemID        string
	TransactionID string
	// Data is the create payload or the update patch. Before hooks may replace it by
	// returning a non-nil document.
	Data schema.Document
	// Previous is the stored item before an update or delete.
	Previous *Item
	// Item is the stored item after a create or update. Set for after events only.
	Item *Item
}

// Hook is user code attached to a lifecycle event. A returned error aborts the
// operation. Hooks run while the collection is locked and must not call back into the
// collection they are attached to.
type Hook interface {
	Handle(ctx context.Context, hc *HookContext) (schema.Document, error)
}

// HookFunc adapts an ordinary function to the Hook interface.
type HookFunc func(ctx context.Context, hc *HookContext) (schema.Document, error)

// Handle calls f(ctx, hc).
func (f HookFunc) Handle(ctx context.Context, hc *HookContext) (schema.Document, error) {
	return f(ctx, hc)
}

type boundHook struct {
	name string
	hook Hook
}

// hookRunner runs the hooks of one collection.
type hookRunner struct {
	collection string
	timeout    time.Duration
	hooks      map[HookEvent][]boundHook
	logger     *zap.Logger
}

func newHookRunner(collection string, descriptors []HookDescriptor, registered map[string]Hook, timeout time.Duration, logger *zap.Logger) (*hookRunner, error) {
	r := &hookRunner{
		collection: collection,
		timeout:    timeout,
		hooks:      make(map[HookEvent][]boundHook),
		logger:     logger,
	}
	for _, d := range descriptors {
		if !d.Event.Valid() {
			return nil, configurationError(collection, "unknown hook event %q", d.Event)
		}
		hook, ok := registered[d.Name]
		if !ok || hook == nil {
			return nil, configurationError(collection, "hook %q is not registered", d.Name)
		}
		r.hooks[d.Event] = append(r.hooks[d.Event], boundHook{name: d.Name, hook: hook})
	}
	return r, nil
}

// run invokes every hook bound to hc.Event in registration order. Replacement payloads
// returned by before hooks are chained into the next hook and returned to the caller.
func (r *hookRunner) run(ctx context.Context, hc *HookContext) (schema.Document, error) {
	for _, bh := range r.hooks[hc.Event] {
		replacement, err := r.invoke(ctx, bh, hc)
		if err != nil {
			r.logger.Warn("Hook failed",
				zap.String("collection", r.collection),
				zap.String("event", string(hc.Event)),
				zap.String("hook", bh.name),
				zap.Error(err))
			return nil, hookError(r.collection, hc.ItemID, hc.Event, bh.name, err)
		}
		if replacement != nil && (hc.Event == BeforeCreate || hc.Event == BeforeUpdate) {
			hc.Data = replacement
		}
	}
	return hc.Data, nil
}

type hookOutcome struct {
	doc schema.Document
	err error
}

func (r *hookRunner) invoke(ctx context.Context, bh boundHook, hc *HookContext) (schema.Document, error) {
	if r.timeout <= 0 {
		out := callHook(ctx, bh, hc)
		return out.doc, out.err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan hookOutcome, 1)
	go func() {
		done <- callHook(ctx, bh, hc)
	}()

	select {
	case out := <-done:
		return out.doc, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrHookTimeout, r.timeout)
		}
		return nil, ctx.Err()
	}
}

func callHook(ctx context.Context, bh boundHook, hc *HookContext) (out hookOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out = hookOutcome{err: fmt.Errorf("hook panicked: %v", rec)}
		}
	}()
	doc, err := bh.hook.Handle(ctx, hc)
	return hookOutcome{doc: doc, err: err}
}
