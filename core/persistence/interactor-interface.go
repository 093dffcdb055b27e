package persistence

import (
	"context"

	"github.com/asaidimu/go-collections/core/schema"
)

// SnapshotSink mirrors collection contents to durable storage. The engine never calls
// it on its own: a host wires it in through SnapshotHook and restores from it with
// Collection.Restore.
type SnapshotSink interface {
	// SaveItem inserts or replaces the stored copy of item.
	SaveItem(ctx context.Context, collection string, item *Item) error

	// RemoveItem deletes the stored copy of an item. Removing an unknown item is not an error.
	RemoveItem(ctx context.Context, collection, id string) error

	// LoadItems returns every stored item of a collection.
	LoadItems(ctx context.Context, collection string) ([]*Item, error)
}

// SnapshotHook returns an after-hook that mirrors creates, updates and deletes into
// sink. Register it in Options.Hooks and bind it to the after events of a collection.
//
// Each change is written when its after-hook runs. If a later after-hook of the same
// commit fails, the collection is reverted but the sink keeps the earlier writes. Hosts
// that need the sink to match the collection exactly should resave the whole
// collection after a failed commit (see sqlite.Snapshotter.SaveCollection).
func SnapshotHook(sink SnapshotSink) Hook {
	return HookFunc(func(ctx context.Context, hc *HookContext) (schema.Document, error) {
		switch hc.Event {
		case AfterCreate, AfterUpdate:
			if hc.Item == nil {
				return nil, nil
			}
			return nil, sink.SaveItem(ctx, hc.Collection, hc.Item)
		case AfterDelete:
			return nil, sink.RemoveItem(ctx, hc.Collection, hc.ItemID)
		}
		return nil, nil
	})
}
