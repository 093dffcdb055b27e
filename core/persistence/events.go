package persistence

import (
	"time"

	"github.com/asaidimu/go-collections/core/schema"
)

// PersistenceEventType defines the possible event types for engine operations.
type PersistenceEventType string

const (
	ItemCreateStart         PersistenceEventType = "item:create:start"
	ItemCreateSuccess       PersistenceEventType = "item:create:success"
	ItemCreateFailed        PersistenceEventType = "item:create:failed"
	ItemUpdateStart         PersistenceEventType = "item:update:start"
	ItemUpdateSuccess       PersistenceEventType = "item:update:success"
	ItemUpdateFailed        PersistenceEventType = "item:update:failed"
	ItemDeleteStart         PersistenceEventType = "item:delete:start"
	ItemDeleteSuccess       PersistenceEventType = "item:delete:success"
	ItemDeleteFailed        PersistenceEventType = "item:delete:failed"
	QueryStart              PersistenceEventType = "query:start"
	QuerySuccess            PersistenceEventType = "query:success"
	QueryFailed             PersistenceEventType = "query:failed"
	TransactionStart        PersistenceEventType = "transaction:start"
	TransactionSuccess      PersistenceEventType = "transaction:success"
	TransactionCommitFailed PersistenceEventType = "transaction:failed"
	TransactionRollback     PersistenceEventType = "transaction:rollback"
	ImportStart             PersistenceEventType = "import:start"
	ImportSuccess           PersistenceEventType = "import:success"
	ImportFailed            PersistenceEventType = "import:failed"
	CollectionCreateStart   PersistenceEventType = "collection:create:start"
	CollectionCreateSuccess PersistenceEventType = "collection:create:success"
	CollectionCreateFailed  PersistenceEventType = "collection:create:failed"
	CollectionDeleteStart   PersistenceEventType = "collection:delete:start"
	CollectionDeleteSuccess PersistenceEventType = "collection:delete:success"
	CollectionDeleteFailed  PersistenceEventType = "collection:delete:failed"
)

// PersistenceEvent is published on the registry bus for every observable operation.
type PersistenceEvent struct {
	Type          PersistenceEventType `json:"type"`
	Timestamp     int64                `json:"timestamp"`
	Operation     string               `json:"operation"`
	Collection    string               `json:"collection,omitempty"`
	ItemID        string               `json:"itemId,omitempty"`
	TransactionID string               `json:"transactionId,omitempty"`
	User          string               `json:"user,omitempty"`
	Input         any                  `json:"input,omitempty"`
	Output        any                  `json:"output,omitempty"`
	Error         *string              `json:"error,omitempty"`
	Issues        []schema.Issue       `json:"issues,omitempty"`
	Duration      *int64               `json:"duration,omitempty"`
}

// eventScope carries the identifiers shared by the start/success/failed events of
// one operation.
type eventScope struct {
	operation   string
	collection  string
	itemID      string
	transaction string
	actor       Actor
	input       any
	start       PersistenceEventType
	success     PersistenceEventType
	failed      PersistenceEventType
}

// withEventEmission wraps an operation with start, success and failure events.
func (c *Collection) withEventEmission(scope eventScope, fn func() (any, error)) (any, error) {
	startTime := time.Now()
	c.registry.emit(createEvent(scope.start, scope, nil, nil, time.Time{}))

	result, err := fn()
	if err != nil {
		c.registry.emit(createEvent(scope.failed, scope, nil, err, startTime))
		return nil, err
	}

	c.registry.emit(createEvent(scope.success, scope, result, nil, startTime))
	return result, nil
}
