package persistence

// itemStore holds the live items of a collection in insertion order.
type itemStore struct {
	items map[string]*Item
	order []string
}

func newItemStore() *itemStore {
	return &itemStore{items: make(map[string]*Item)}
}

func (s *itemStore) get(id string) (*Item, bool) {
	item, ok := s.items[id]
	return item, ok
}

func (s *itemStore) len() int {
	return len(s.items)
}

// list returns the live items in insertion order.
func (s *itemStore) list() []*Item {
	out := make([]*Item, 0, len(s.order))
	for _, id := range s.order {
		if item, ok := s.items[id]; ok {
			out = append(out, item)
		}
	}
	return out
}

// changeSet is a copy-on-write overlay over an itemStore and its version history.
// Writes are staged in the overlay and only reach the store through apply, which
// returns an undo function restoring the previous state.
type changeSet struct {
	store    *itemStore
	versions *versionStore

	items   map[string]*Item // nil marks a deletion
	created []string
	history map[string][]ItemVersion
}

func newChangeSet(store *itemStore, versions *versionStore) *changeSet {
	return &changeSet{
		store:    store,
		versions: versions,
		items:    make(map[string]*Item),
		history:  make(map[string][]ItemVersion),
	}
}

func (cs *changeSet) get(id string) (*Item, bool) {
	if item, staged := cs.items[id]; staged {
		return item, item != nil
	}
	return cs.store.get(id)
}

// exists reports whether id is taken in the overlay view, including ids deleted in
// this change set.
func (cs *changeSet) exists(id string) bool {
	if _, staged := cs.items[id]; staged {
		return true
	}
	_, ok := cs.store.get(id)
	return ok
}

func (cs *changeSet) put(item *Item) {
	if _, known := cs.items[item.ID]; !known {
		if _, live := cs.store.get(item.ID); !live {
			cs.created = append(cs.created, item.ID)
		}
	}
	cs.items[item.ID] = item
}

func (cs *changeSet) remove(id string) {
	cs.items[id] = nil
}

// recordVersion appends a snapshot of item to its staged history.
func (cs *changeSet) recordVersion(item *Item, user string) error {
	if !cs.versions.enabled {
		return nil
	}
	entry, err := snapshot(item, user, item.Metadata.UpdatedAt)
	if err != nil {
		return err
	}
	current, staged := cs.history[item.ID]
	if !staged {
		current = cs.versions.history[item.ID]
	}
	cs.history[item.ID] = appendBounded(current, entry, cs.versions.max)
	return nil
}

// hasHistory reports whether id has recorded versions, staged or published. Deleted
// items keep theirs.
func (cs *changeSet) hasHistory(id string) bool {
	if h, ok := cs.history[id]; ok {
		return len(h) > 0
	}
	return len(cs.versions.history[id]) > 0
}

// each visits every item of the overlay view until fn returns false.
func (cs *changeSet) each(fn func(*Item) bool) {
	for _, id := range cs.store.order {
		item, ok := cs.get(id)
		if !ok {
			continue
		}
		if !fn(item) {
			return
		}
	}
	for _, id := range cs.created {
		item, ok := cs.items[id]
		if !ok || item == nil {
			continue
		}
		if !fn(item) {
			return
		}
	}
}

func (cs *changeSet) empty() bool {
	return len(cs.items) == 0 && len(cs.history) == 0
}

// apply publishes the overlay into the store and returns an undo function.
func (cs *changeSet) apply() (undo func()) {
	type previous struct {
		item    *Item
		present bool
	}
	prevItems := make(map[string]previous, len(cs.items))
	prevOrder := cs.store.order
	orderChanged := len(cs.created) > 0

	for id, item := range cs.items {
		old, ok := cs.store.items[id]
		prevItems[id] = previous{item: old, present: ok}
		if item == nil {
			if ok {
				delete(cs.store.items, id)
				orderChanged = true
			}
			continue
		}
		cs.store.items[id] = item
	}

	if orderChanged {
		order := make([]string, 0, len(prevOrder)+len(cs.created))
		for _, id := range prevOrder {
			if _, ok := cs.store.items[id]; ok {
				order = append(order, id)
			}
		}
		for _, id := range cs.created {
			if item := cs.items[id]; item != nil {
				order = append(order, id)
			}
		}
		cs.store.order = order
	}

	type previousHistory struct {
		history []ItemVersion
		present bool
	}
	prevHistory := make(map[string]previousHistory, len(cs.history))
	for id, h := range cs.history {
		old, ok := cs.versions.history[id]
		prevHistory[id] = previousHistory{history: old, present: ok}
		cs.versions.history[id] = h
	}

	return func() {
		for id, p := range prevItems {
			if p.present {
				cs.store.items[id] = p.item
			} else {
				delete(cs.store.items, id)
			}
		}
		cs.store.order = prevOrder
		for id, p := range prevHistory {
			if p.present {
				cs.versions.history[id] = p.history
			} else {
				delete(cs.versions.history, id)
			}
		}
	}
}
