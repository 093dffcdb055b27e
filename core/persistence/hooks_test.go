package persistence

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/asaidimu/go-collections/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hookedCollection(t *testing.T, hooks map[string]Hook, bindings []HookDescriptor, timeout time.Duration) *Collection {
	t.Helper()
	opts := DefaultOptions()
	opts.Hooks = hooks
	opts.HookTimeout = timeout
	r := newTestRegistry(t, opts)

	cfg := booksConfig()
	cfg.Hooks = bindings
	c, err := r.Create(context.Background(), cfg)
	require.NoError(t, err)
	return c
}

func TestHooks_BeforeHookReplacesPayload(t *testing.T) {
	upper := HookFunc(func(_ context.Context, hc *HookContext) (schema.Document, error) {
		out := hc.Data.Clone()
		if title, ok := out["title"].(string); ok {
			out["title"] = strings.ToUpper(title)
		}
		return out, nil
	})
	stamp := HookFunc(func(_ context.Context, hc *HookContext) (schema.Document, error) {
		out := hc.Data.Clone()
		out["genre"] = "stamped:" + hc.Actor.ID()
		return out, nil
	})
	c := hookedCollection(t, map[string]Hook{"upper": upper, "stamp": stamp}, []HookDescriptor{
		{Event: BeforeCreate, Name: "upper"},
		{Event: BeforeCreate, Name: "stamp"},
		{Event: BeforeUpdate, Name: "upper"},
	}, DefaultHookTimeout)
	ctx := context.Background()

	item, err := c.Create(ctx, UserActor("alice"), schema.Document{"title": "dune"})
	require.NoError(t, err)
	assert.Equal(t, "DUNE", item.Data["title"])
	assert.Equal(t, "stamped:alice", item.Data["genre"])

	updated, err := c.Update(ctx, SystemActor(), item.ID, schema.Document{"title": "dune messiah"})
	require.NoError(t, err)
	assert.Equal(t, "DUNE MESSIAH", updated.Data["title"])
}

func TestHooks_ReplacementIsValidated(t *testing.T) {
	breakIt := HookFunc(func(_ context.Context, hc *HookContext) (schema.Document, error) {
		return schema.Document{"rating": "bad"}, nil
	})
	c := hookedCollection(t, map[string]Hook{"break": breakIt}, []HookDescriptor{
		{Event: BeforeCreate, Name: "break"},
	}, DefaultHookTimeout)

	_, err := c.Create(context.Background(), SystemActor(), schema.Document{"title": "Dune"})
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, 0, c.Stats().ItemCount)
}

func TestHooks_FailureAbortsOperation(t *testing.T) {
	boom := errors.New("boom")
	fail := HookFunc(func(context.Context, *HookContext) (schema.Document, error) {
		return nil, boom
	})

	tests := []struct {
		name  string
		event HookEvent
		run   func(c *Collection, seeded *Item) error
		check func(t *testing.T, c *Collection, seeded *Item)
	}{
		{
			name:  "before create",
			event: BeforeCreate,
			run: func(c *Collection, _ *Item) error {
				_, err := c.Create(context.Background(), SystemActor(), schema.Document{"title": "New"})
				return err
			},
			check: func(t *testing.T, c *Collection, _ *Item) {
				assert.Equal(t, 1, c.Stats().ItemCount)
			},
		},
		{
			name:  "after create",
			event: AfterCreate,
			run: func(c *Collection, _ *Item) error {
				_, err := c.Create(context.Background(), SystemActor(), schema.Document{"title": "New"}, WithID("new"))
				return err
			},
			check: func(t *testing.T, c *Collection, _ *Item) {
				assert.Equal(t, 1, c.Stats().ItemCount)
				_, err := c.Versions(context.Background(), SystemActor(), "new")
				assert.True(t, errors.Is(err, ErrNotFound))
			},
		},
		{
			name:  "after update",
			event: AfterUpdate,
			run: func(c *Collection, seeded *Item) error {
				_, err := c.Update(context.Background(), SystemActor(), seeded.ID, schema.Document{"rating": 1})
				return err
			},
			check: func(t *testing.T, c *Collection, seeded *Item) {
				got, err := c.Get(context.Background(), SystemActor(), seeded.ID)
				require.NoError(t, err)
				assert.Equal(t, 1, got.Metadata.Version)
				assert.NotContains(t, got.Data, "rating")
			},
		},
		{
			name:  "before delete",
			event: BeforeDelete,
			run: func(c *Collection, seeded *Item) error {
				return c.Delete(context.Background(), SystemActor(), seeded.ID)
			},
			check: func(t *testing.T, c *Collection, seeded *Item) {
				_, err := c.Get(context.Background(), SystemActor(), seeded.ID)
				assert.NoError(t, err)
			},
		},
		{
			name:  "after delete",
			event: AfterDelete,
			run: func(c *Collection, seeded *Item) error {
				return c.Delete(context.Background(), SystemActor(), seeded.ID)
			},
			check: func(t *testing.T, c *Collection, seeded *Item) {
				_, err := c.Get(context.Background(), SystemActor(), seeded.ID)
				assert.NoError(t, err)
				assert.Equal(t, 1, c.Stats().ItemCount)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := hookedCollection(t, map[string]Hook{"fail": fail}, []HookDescriptor{
				{Event: tt.event, Name: "fail"},
			}, DefaultHookTimeout)
			seeded := mustSeed(t, c)

			err := tt.run(c, seeded)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrHook))
			assert.True(t, errors.Is(err, boom))
			tt.check(t, c, seeded)
		})
	}
}

// mustSeed stores an item through Restore, which does not run hooks.
func mustSeed(t *testing.T, c *Collection) *Item {
	t.Helper()
	sink := newMemorySink()
	seeded := &Item{
		ID:       "seed",
		Data:     schema.Document{"title": "Seed"},
		Metadata: ItemMetadata{Version: 1, CreatedBy: SystemUserID, UpdatedBy: SystemUserID},
	}
	require.NoError(t, sink.SaveItem(context.Background(), c.ID(), seeded))
	_, err := c.Restore(context.Background(), sink)
	require.NoError(t, err)
	return seeded
}

func TestHooks_AfterHookSeesStoredItem(t *testing.T) {
	var mu sync.Mutex
	var seen []*HookContext
	record := HookFunc(func(_ context.Context, hc *HookContext) (schema.Document, error) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, hc)
		return schema.Document{"ignored": true}, nil
	})
	c := hookedCollection(t, map[string]Hook{"record": record}, []HookDescriptor{
		{Event: AfterCreate, Name: "record"},
		{Event: AfterUpdate, Name: "record"},
		{Event: AfterDelete, Name: "record"},
	}, DefaultHookTimeout)
	ctx := context.Background()

	item, err := c.Create(ctx, UserActor("alice"), schema.Document{"title": "Dune"})
	require.NoError(t, err)
	assert.NotContains(t, item.Data, "ignored")
	_, err = c.Update(ctx, UserActor("alice"), item.ID, schema.Document{"rating": 5})
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, UserActor("alice"), item.ID))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)

	assert.Equal(t, AfterCreate, seen[0].Event)
	assert.Equal(t, item.ID, seen[0].ItemID)
	assert.Equal(t, 1, seen[0].Item.Metadata.Version)
	assert.Equal(t, "alice", seen[0].Actor.ID())

	assert.Equal(t, AfterUpdate, seen[1].Event)
	assert.Equal(t, 2, seen[1].Item.Metadata.Version)
	assert.Equal(t, 1, seen[1].Previous.Metadata.Version)

	assert.Equal(t, AfterDelete, seen[2].Event)
	assert.Nil(t, seen[2].Item)
	assert.Equal(t, item.ID, seen[2].ItemID)
	assert.Equal(t, 2, seen[2].Previous.Metadata.Version)
}

func TestHooks_TimeoutAndPanic(t *testing.T) {
	slow := HookFunc(func(ctx context.Context, _ *HookContext) (schema.Document, error) {
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return nil, nil
	})
	panics := HookFunc(func(context.Context, *HookContext) (schema.Document, error) {
		panic("kaboom")
	})

	t.Run("timeout", func(t *testing.T) {
		c := hookedCollection(t, map[string]Hook{"slow": slow}, []HookDescriptor{
			{Event: BeforeCreate, Name: "slow"},
		}, 20*time.Millisecond)

		_, err := c.Create(context.Background(), SystemActor(), schema.Document{"title": "Dune"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrHookTimeout))
		assert.Equal(t, 0, c.Stats().ItemCount)
	})

	t.Run("panic", func(t *testing.T) {
		c := hookedCollection(t, map[string]Hook{"panics": panics}, []HookDescriptor{
			{Event: BeforeCreate, Name: "panics"},
		}, 0)

		_, err := c.Create(context.Background(), SystemActor(), schema.Document{"title": "Dune"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrHook))
		assert.Contains(t, err.Error(), "kaboom")
	})
}

func TestHooks_TransactionRevertsOnAfterHookFailure(t *testing.T) {
	calls := 0
	failSecond := HookFunc(func(context.Context, *HookContext) (schema.Document, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("second create rejected")
		}
		return nil, nil
	})
	c := hookedCollection(t, map[string]Hook{"failSecond": failSecond}, []HookDescriptor{
		{Event: AfterCreate, Name: "failSecond"},
	}, 0)

	tx, err := c.Begin(SystemActor())
	require.NoError(t, err)
	require.NoError(t, tx.Create(schema.Document{"title": "One"}))
	require.NoError(t, tx.Create(schema.Document{"title": "Two"}))

	_, err = tx.Commit(context.Background())
	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 1, perr.Operation)
	assert.True(t, errors.Is(err, ErrHook))
	assert.Equal(t, 0, c.Stats().ItemCount)
	assert.Equal(t, TransactionFailed, tx.Status())
}

func TestSnapshotHook_KeepsEarlierWritesOfFailedCommit(t *testing.T) {
	sink := newMemorySink()
	rejectTwo := HookFunc(func(_ context.Context, hc *HookContext) (schema.Document, error) {
		if hc.Item != nil && hc.Item.Data["title"] == "Two" {
			return nil, errors.New("second create rejected")
		}
		return nil, nil
	})
	c := hookedCollection(t, map[string]Hook{"snapshot": SnapshotHook(sink), "rejectTwo": rejectTwo}, []HookDescriptor{
		{Event: AfterCreate, Name: "snapshot"},
		{Event: AfterCreate, Name: "rejectTwo"},
	}, 0)
	ctx := context.Background()

	tx, err := c.Begin(SystemActor())
	require.NoError(t, err)
	require.NoError(t, tx.Create(schema.Document{"title": "One"}, WithID("one")))
	require.NoError(t, tx.Create(schema.Document{"title": "Two"}, WithID("two")))
	_, err = tx.Commit(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, c.Stats().ItemCount)

	// the sink is not transactional
	stored, err := sink.LoadItems(ctx, c.ID())
	require.NoError(t, err)
	ids := make([]string, len(stored))
	for i, item := range stored {
		ids[i] = item.ID
	}
	assert.ElementsMatch(t, []string{"one", "two"}, ids)

	for _, id := range ids {
		require.NoError(t, sink.RemoveItem(ctx, c.ID(), id))
	}
	restored, err := c.Restore(ctx, sink)
	require.NoError(t, err)
	assert.Equal(t, 0, restored)
}
