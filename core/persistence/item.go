package persistence

import (
	"github.com/asaidimu/go-collections/core/schema"
	"github.com/tiendc/go-deepcopy"
)

// ItemOption customises a create or update.
type ItemOption func(*itemOptions)

type itemOptions struct {
	id        string
	tags      []string
	setTags   bool
	relations map[string]Relation
}

// WithID makes Create use id instead of minting one. Duplicate ids are rejected.
func WithID(id string) ItemOption {
	return func(o *itemOptions) {
		o.id = id
	}
}

// WithTags sets the item tags, replacing any existing ones.
func WithTags(tags ...string) ItemOption {
	return func(o *itemOptions) {
		o.tags = append([]string(nil), tags...)
		o.setTags = true
	}
}

// WithRelation records that the value at path refers to item id of collection.
// Query populate paths resolve through these relations.
func WithRelation(path, collection, id string) ItemOption {
	return func(o *itemOptions) {
		if o.relations == nil {
			o.relations = make(map[string]Relation)
		}
		o.relations[path] = Relation{Collection: collection, ID: id}
	}
}

func applyItemOptions(opts []ItemOption) itemOptions {
	var o itemOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	data, err := cloneDocument(i.Data)
	if err != nil {
		data = i.Data.Clone()
	}
	meta := i.Metadata
	meta.Tags = append([]string(nil), i.Metadata.Tags...)
	if i.Metadata.Relations != nil {
		meta.Relations = make(map[string]Relation, len(i.Metadata.Relations))
		for k, v := range i.Metadata.Relations {
			meta.Relations[k] = v
		}
	}
	return &Item{ID: i.ID, Data: data, Metadata: meta}
}

func cloneDocument(doc schema.Document) (schema.Document, error) {
	if doc == nil {
		return schema.Document{}, nil
	}
	var out schema.Document
	if err := deepcopy.Copy(&out, doc); err != nil {
		return nil, err
	}
	return out, nil
}

// mergeDocument applies a shallow patch on top of a copy of base.
func mergeDocument(base, patch schema.Document) schema.Document {
	out := make(schema.Document, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
