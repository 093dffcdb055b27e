package persistence

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/asaidimu/go-collections/core/schema"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollection_CreateStartsAtVersionOne(t *testing.T) {
	c := newTestCollection(t, booksConfig())
	ctx := context.Background()

	item, err := c.Create(ctx, UserActor("alice"), schema.Document{"title": "Dune", "rating": 5})
	require.NoError(t, err)

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, 1, item.Metadata.Version)
	assert.Equal(t, "alice", item.Metadata.CreatedBy)
	assert.Equal(t, "alice", item.Metadata.UpdatedBy)
	assert.Equal(t, item.Metadata.CreatedAt, item.Metadata.UpdatedAt)

	stored, err := c.Get(ctx, UserActor("bob"), item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dune", stored.Data["title"])
}

func TestCollection_CreateMintsUniqueIDs(t *testing.T) {
	c := newTestCollection(t, booksConfig())

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		item := mustCreate(t, c, schema.Document{"title": fmt.Sprintf("book %d", i)})
		require.False(t, seen[item.ID], "duplicate id %s", item.ID)
		seen[item.ID] = true
	}
	assert.Equal(t, 50, c.Stats().ItemCount)
}

func TestCollection_CreateWithID(t *testing.T) {
	c := newTestCollection(t, booksConfig())
	ctx := context.Background()

	item := mustCreate(t, c, schema.Document{"title": "Dune"}, WithID("dune"), WithTags("classic"))
	assert.Equal(t, "dune", item.ID)
	assert.Equal(t, []string{"classic"}, item.Metadata.Tags)

	_, err := c.Create(ctx, SystemActor(), schema.Document{"title": "Dune Messiah"}, WithID("dune"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, 1, c.Stats().ItemCount)
}

func TestCollection_CreateReturnsCopies(t *testing.T) {
	c := newTestCollection(t, booksConfig())
	ctx := context.Background()

	input := schema.Document{"title": "Dune"}
	item := mustCreate(t, c, input)
	input["title"] = "changed"
	item.Data["title"] = "changed too"

	stored, err := c.Get(ctx, SystemActor(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dune", stored.Data["title"])
}

func TestCollection_ValidationFailureDoesNotMutate(t *testing.T) {
	c := newTestCollection(t, booksConfig())
	ctx := context.Background()

	_, err := c.Create(ctx, SystemActor(), schema.Document{"rating": "great"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	var perr *Error
	require.True(t, errors.As(err, &perr))
	codes := make([]string, len(perr.Issues))
	for i, issue := range perr.Issues {
		codes[i] = issue.Code
	}
	assert.ElementsMatch(t, []string{schema.CodeRequiredFieldMissing, schema.CodeTypeMismatch}, codes)
	assert.Equal(t, 0, c.Stats().ItemCount)
}

func TestCollection_CustomRules(t *testing.T) {
	opts := DefaultOptions()
	opts.Rules["noSequels"] = schema.RuleFunc(func(rc schema.RuleContext) error {
		if s, ok := rc.Value.(string); ok && s == "Dune Messiah" {
			return errors.New("sequels are not allowed")
		}
		return nil
	})
	r := newTestRegistry(t, opts)

	cfg := booksConfig()
	cfg.Validators = []ValidatorDescriptor{{Name: "no-sequels", Rule: "noSequels", Field: "title"}}
	c, err := r.Create(context.Background(), cfg)
	require.NoError(t, err)

	mustCreate(t, c, schema.Document{"title": "Dune"})

	_, err = c.Create(context.Background(), SystemActor(), schema.Document{"title": "Dune Messiah"})
	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	require.Len(t, perr.Issues, 1)
	assert.Contains(t, perr.Issues[0].Message, "sequels are not allowed")
}

func TestCollection_UniqueIndex(t *testing.T) {
	cfg := booksConfig()
	cfg.Indexes = []IndexHint{
		{Name: "by-genre", Fields: []string{"genre"}},
		{Name: "isbn", Fields: []string{"isbn"}, Unique: true},
	}
	c := newTestCollection(t, cfg)
	ctx := context.Background()

	first := mustCreate(t, c, schema.Document{"title": "Dune", "isbn": "123", "genre": "sci-fi"})
	mustCreate(t, c, schema.Document{"title": "Hyperion", "genre": "sci-fi"})

	_, err := c.Create(ctx, SystemActor(), schema.Document{"title": "Copy", "isbn": "123"})
	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	require.Len(t, perr.Issues, 1)
	assert.Equal(t, schema.CodeUniqueViolation, perr.Issues[0].Code)

	// Updating an item with its own value is not a violation.
	_, err = c.Update(ctx, SystemActor(), first.ID, schema.Document{"isbn": "123", "rating": 4})
	require.NoError(t, err)
}

func TestCollection_UpdateMergesAndVersions(t *testing.T) {
	c := newTestCollection(t, booksConfig())
	ctx := context.Background()

	item := mustCreate(t, c, schema.Document{"title": "Dune", "rating": 3})

	updated, err := c.Update(ctx, UserActor("alice"), item.ID, schema.Document{"rating": 4}, WithTags("favourite"))
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Metadata.Version)
	assert.Equal(t, "Dune", updated.Data["title"])
	assert.Equal(t, 4, updated.Data["rating"])
	assert.Equal(t, "alice", updated.Metadata.UpdatedBy)
	assert.Equal(t, SystemUserID, updated.Metadata.CreatedBy)
	assert.Equal(t, []string{"favourite"}, updated.Metadata.Tags)
	assert.False(t, updated.Metadata.UpdatedAt.Before(item.Metadata.UpdatedAt))

	_, err = c.Update(ctx, SystemActor(), "missing", schema.Document{"rating": 1})
	assert.True(t, errors.Is(err, ErrNotFound))
}

// The create is recorded as the first entry, so N updates keep min(N+1, max) entries
// rather than min(N, max).
func TestCollection_VersionHistory(t *testing.T) {
	tests := []struct {
		name        string
		updates     int
		maxVersions int
		wantVersion int
		wantHistory []int
	}{
		{name: "below bound", updates: 1, maxVersions: 3, wantVersion: 2, wantHistory: []int{1, 2}},
		{name: "at bound", updates: 2, maxVersions: 3, wantVersion: 3, wantHistory: []int{1, 2, 3}},
		{name: "oldest evicted first", updates: 5, maxVersions: 3, wantVersion: 6, wantHistory: []int{4, 5, 6}},
		{name: "default bound", updates: 12, maxVersions: 0, wantVersion: 13, wantHistory: []int{4, 5, 6, 7, 8, 9, 10, 11, 12, 13}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := booksConfig()
			cfg.Versioning.MaxVersions = tt.maxVersions
			c := newTestCollection(t, cfg)
			ctx := context.Background()

			item := mustCreate(t, c, schema.Document{"title": "v1"})
			var err error
			for i := 0; i < tt.updates; i++ {
				item, err = c.Update(ctx, SystemActor(), item.ID, schema.Document{"rating": i % 5})
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantVersion, item.Metadata.Version)

			history, err := c.Versions(ctx, UserActor("bob"), item.ID)
			require.NoError(t, err)
			got := make([]int, len(history))
			for i, v := range history {
				got[i] = v.Version
			}
			if diff := cmp.Diff(tt.wantHistory, got); diff != "" {
				t.Errorf("history mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCollection_VersionsAreSnapshots(t *testing.T) {
	c := newTestCollection(t, booksConfig())
	ctx := context.Background()

	item := mustCreate(t, c, schema.Document{"title": "Dune", "meta": map[string]any{"pages": 412}})
	_, err := c.Update(ctx, SystemActor(), item.ID, schema.Document{"meta": map[string]any{"pages": 500}})
	require.NoError(t, err)

	history, err := c.Versions(ctx, SystemActor(), item.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, map[string]any{"pages": 412}, history[0].Data["meta"])
	assert.Equal(t, map[string]any{"pages": 500}, history[1].Data["meta"])
	assert.Equal(t, SystemUserID, history[0].User)

	history[0].Data["title"] = "mutated"
	again, err := c.Versions(ctx, SystemActor(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dune", again[0].Data["title"])
}

func TestCollection_VersionsDisabled(t *testing.T) {
	cfg := booksConfig()
	cfg.Versioning = Versioning{}
	c := newTestCollection(t, cfg)

	item := mustCreate(t, c, schema.Document{"title": "Dune"})
	_, err := c.Versions(context.Background(), SystemActor(), item.ID)
	assert.True(t, errors.Is(err, ErrFeatureDisabled))
}

func TestCollection_DeleteKeepsHistory(t *testing.T) {
	c := newTestCollection(t, booksConfig())
	ctx := context.Background()

	item := mustCreate(t, c, schema.Document{"title": "Dune"})
	require.NoError(t, c.Delete(ctx, UserActor("alice"), item.ID))

	_, err := c.Get(ctx, SystemActor(), item.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 0, c.Stats().ItemCount)

	history, err := c.Versions(ctx, SystemActor(), item.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	err = c.Delete(ctx, SystemActor(), item.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = c.Versions(ctx, SystemActor(), "never-existed")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCollection_CreateWithDeletedID(t *testing.T) {
	ctx := context.Background()

	t.Run("id with history is rejected", func(t *testing.T) {
		c := newTestCollection(t, booksConfig())
		mustCreate(t, c, schema.Document{"title": "Dune"}, WithID("k"))
		_, err := c.Update(ctx, SystemActor(), "k", schema.Document{"rating": 4})
		require.NoError(t, err)
		require.NoError(t, c.Delete(ctx, SystemActor(), "k"))

		_, err = c.Create(ctx, SystemActor(), schema.Document{"title": "Emma"}, WithID("k"))
		assert.True(t, errors.Is(err, ErrConflict))

		history, err := c.Versions(ctx, SystemActor(), "k")
		require.NoError(t, err)
		got := make([]int, len(history))
		for i, v := range history {
			got[i] = v.Version
		}
		assert.Equal(t, []int{1, 2}, got)
	})

	t.Run("id created and deleted in one transaction is rejected", func(t *testing.T) {
		c := newTestCollection(t, booksConfig())
		tx, err := c.Begin(SystemActor())
		require.NoError(t, err)
		require.NoError(t, tx.Create(schema.Document{"title": "Dune"}, WithID("k")))
		require.NoError(t, tx.Delete("k"))
		require.NoError(t, tx.Create(schema.Document{"title": "Emma"}, WithID("k")))

		_, err = tx.Commit(ctx)
		assert.True(t, errors.Is(err, ErrConflict))
		assert.Equal(t, 0, c.Stats().ItemCount)
	})

	t.Run("id is reusable without versioning", func(t *testing.T) {
		cfg := booksConfig()
		cfg.Versioning = Versioning{}
		c := newTestCollection(t, cfg)
		mustCreate(t, c, schema.Document{"title": "Dune"}, WithID("k"))
		require.NoError(t, c.Delete(ctx, SystemActor(), "k"))

		item := mustCreate(t, c, schema.Document{"title": "Emma"}, WithID("k"))
		assert.Equal(t, 1, item.Metadata.Version)
	})
}

func TestCollection_Stats(t *testing.T) {
	c := newTestCollection(t, booksConfig())
	ctx := context.Background()

	a := mustCreate(t, c, schema.Document{"title": "A"})
	mustCreate(t, c, schema.Document{"title": "B"})
	_, err := c.Update(ctx, SystemActor(), a.ID, schema.Document{"rating": 1})
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, SystemActor(), a.ID))
	_, err = c.Get(ctx, SystemActor(), a.ID)
	require.Error(t, err)

	_, err = c.Query(ctx, SystemActor(), nil)
	require.NoError(t, err)
	_, err = c.Query(ctx, SystemActor(), nil)
	require.NoError(t, err)

	s := c.Stats()
	assert.Equal(t, int64(3), s.Writes)
	assert.Equal(t, int64(1), s.Deletes)
	assert.Equal(t, int64(3), s.Reads)
	assert.Equal(t, 1, s.ItemCount)
	assert.Equal(t, uint64(1), s.CacheHits)
	assert.Equal(t, uint64(1), s.CacheMisses)
	assert.InDelta(t, 0.5, s.CacheHitRate, 1e-9)
	assert.False(t, s.LastWriteTime.IsZero())
}

func TestCollection_ConfigIsCopied(t *testing.T) {
	cfg := booksConfig()
	c := newTestCollection(t, cfg)

	cfg.Schema.Required = append(cfg.Schema.Required, "rating")
	cfg.Permissions["mallory"] = Permission{Write: true}

	_, err := c.Create(context.Background(), SystemActor(), schema.Document{"title": "Dune"})
	require.NoError(t, err)
	_, err = c.Create(context.Background(), UserActor("mallory"), schema.Document{"title": "Dune"})
	assert.True(t, errors.Is(err, ErrPermission))

	got := c.Config()
	got.Permissions["mallory"] = Permission{Write: true}
	assert.NotContains(t, c.Config().Permissions, "mallory")
}

func TestCollection_Restore(t *testing.T) {
	sink := newMemorySink()
	opts := DefaultOptions()
	opts.Hooks["snapshot"] = SnapshotHook(sink)
	r := newTestRegistry(t, opts)

	cfg := booksConfig()
	cfg.Hooks = []HookDescriptor{
		{Event: AfterCreate, Name: "snapshot"},
		{Event: AfterUpdate, Name: "snapshot"},
		{Event: AfterDelete, Name: "snapshot"},
	}
	c, err := r.Create(context.Background(), cfg)
	require.NoError(t, err)
	ctx := context.Background()

	dune := mustCreate(t, c, schema.Document{"title": "Dune"})
	hyperion := mustCreate(t, c, schema.Document{"title": "Hyperion"})
	_, err = c.Update(ctx, SystemActor(), dune.ID, schema.Document{"rating": 5})
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, SystemActor(), hyperion.ID))

	restoredCfg := booksConfig()
	restoredCfg.ID = "books-restored"
	restored, err := r.Create(ctx, restoredCfg)
	require.NoError(t, err)

	stored, err := sink.LoadItems(ctx, "books")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.NoError(t, sink.SaveItem(ctx, "books-restored", stored[0]))

	n, err := restored.Restore(ctx, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := restored.Get(ctx, SystemActor(), dune.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Metadata.Version)
	assert.Equal(t, 5, got.Data["rating"])
}

func TestCollection_DroppedCollectionFails(t *testing.T) {
	r := newTestRegistry(t, DefaultOptions())
	ctx := context.Background()
	c, err := r.Create(ctx, booksConfig())
	require.NoError(t, err)

	item := mustCreate(t, c, schema.Document{"title": "Dune"})
	tx, err := c.Begin(SystemActor())
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, "books"))

	_, err = c.Get(ctx, SystemActor(), item.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = c.Create(ctx, SystemActor(), schema.Document{"title": "Dune"})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, TransactionRolledBack, tx.Status())
	assert.Empty(t, c.ActiveTransactions())
}
