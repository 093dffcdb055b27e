// Package persistence implements the in-memory collection engine: collections of
// schema-validated items with version history, permission checks, lifecycle hooks,
// transactions, queries and export/import, all owned by a Registry.
package persistence

import (
	"context"
	"time"

	"github.com/asaidimu/go-collections/core/codec"
	"github.com/asaidimu/go-collections/core/schema"
)

// IndexHint names fields that are commonly queried. Unique hints are enforced on write.
type IndexHint struct {
	Name   string   `json:"name" yaml:"name"`
	Fields []string `json:"fields" yaml:"fields"`
	Unique bool     `json:"unique,omitempty" yaml:"unique,omitempty"`
}

// Versioning controls per-item version history.
type Versioning struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	MaxVersions int  `json:"maxVersions,omitempty" yaml:"maxVersions,omitempty"`
}

// DefaultMaxVersions is the history bound used when versioning is enabled without one.
const DefaultMaxVersions = 10

// ValidatorDescriptor binds a rule registered in Options.Rules to a collection.
type ValidatorDescriptor struct {
	Name    string         `json:"name" yaml:"name"`
	Rule    string         `json:"rule" yaml:"rule"`
	Field   string         `json:"field,omitempty" yaml:"field,omitempty"`
	Message string         `json:"message,omitempty" yaml:"message,omitempty"`
	Params  map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// HookDescriptor binds a hook registered in Options.Hooks to a lifecycle event.
type HookDescriptor struct {
	Event HookEvent `json:"event" yaml:"event"`
	Name  string    `json:"name" yaml:"name"`
}

// Retention carries retention hints. They are recorded but not enforced.
type Retention struct {
	TTL          time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	ArchiveAfter time.Duration `json:"archiveAfter,omitempty" yaml:"archiveAfter,omitempty"`
}

// CollectionConfig describes a collection. It is copied on creation and never
// changes afterwards.
type CollectionConfig struct {
	ID          string                   `json:"id" yaml:"id"`
	Name        string                   `json:"name" yaml:"name"`
	Description string                   `json:"description,omitempty" yaml:"description,omitempty"`
	Schema      *schema.SchemaDefinition `json:"schema" yaml:"schema"`
	Indexes     []IndexHint              `json:"indexes,omitempty" yaml:"indexes,omitempty"`
	Permissions map[string]Permission    `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Versioning  Versioning               `json:"versioning" yaml:"versioning"`
	Validators  []ValidatorDescriptor    `json:"validators,omitempty" yaml:"validators,omitempty"`
	Hooks       []HookDescriptor         `json:"hooks,omitempty" yaml:"hooks,omitempty"`
	Retention   *Retention               `json:"retention,omitempty" yaml:"retention,omitempty"`
	Metadata    map[string]any           `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Relation points at an item in another (or the same) collection.
type Relation struct {
	Collection string `json:"collection" yaml:"collection"`
	ID         string `json:"id" yaml:"id"`
}

// ItemMetadata is engine-maintained bookkeeping for an item.
type ItemMetadata struct {
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
	CreatedBy string              `json:"createdBy"`
	UpdatedBy string              `json:"updatedBy"`
	Version   int                 `json:"version"`
	Tags      []string            `json:"tags,omitempty"`
	Relations map[string]Relation `json:"relations,omitempty"`
}

// Item is a stored record. Items held by a collection are never modified in place;
// every write produces a new Item.
type Item struct {
	ID       string          `json:"id"`
	Data     schema.Document `json:"data"`
	Metadata ItemMetadata    `json:"metadata"`
}

// ItemVersion is one entry of an item's history.
type ItemVersion struct {
	Version   int             `json:"version"`
	Data      schema.Document `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	User      string          `json:"user"`
}

// QueryResult is the outcome of Collection.Query.
type QueryResult struct {
	Items         []*Item        `json:"items"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"hasMore"`
	Aggregations  map[string]any `json:"aggregations,omitempty"`
	ExecutionTime time.Duration  `json:"executionTime"`
	CacheHit      bool           `json:"cacheHit"`
}

// Stats are per-collection counters.
type Stats struct {
	Reads         int64         `json:"reads"`
	Writes        int64         `json:"writes"`
	Deletes       int64         `json:"deletes"`
	AvgQueryTime  time.Duration `json:"avgQueryTime"`
	CacheHits     uint64        `json:"cacheHits"`
	CacheMisses   uint64        `json:"cacheMisses"`
	CacheHitRate  float64       `json:"cacheHitRate"`
	ItemCount     int           `json:"itemCount"`
	Transactions  int           `json:"activeTransactions"`
	LastWriteTime time.Time     `json:"lastWriteTime"`
}

// Format names an export/import encoding.
type Format = codec.Format

// Supported formats.
const (
	FormatJSON   = codec.FormatJSON
	FormatCSV    = codec.FormatCSV
	FormatNDJSON = codec.FormatNDJSON
)

// EventCallbackFunction receives lifecycle events from Registry.Subscribe.
type EventCallbackFunction func(ctx context.Context, event PersistenceEvent) error
