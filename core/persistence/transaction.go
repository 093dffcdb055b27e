package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/asaidimu/go-collections/core/schema"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

// Transaction states. Every state but pending is terminal.
const (
	TransactionPending    TransactionStatus = "pending"
	TransactionCommitted  TransactionStatus = "committed"
	TransactionRolledBack TransactionStatus = "rolled_back"
	TransactionFailed     TransactionStatus = "failed"
)

const (
	eventCommit   = "commit"
	eventRollback = "rollback"
	eventFail     = "fail"
)

// OperationKind names a buffered transaction operation.
type OperationKind string

// Buffered operation kinds.
const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// Operation is one buffered write of a transaction.
type Operation struct {
	Kind   OperationKind   `json:"kind"`
	ItemID string          `json:"itemId,omitempty"`
	Data   schema.Document `json:"data,omitempty"`

	options []ItemOption
}

// Transaction buffers writes against one collection and applies them all or none.
type Transaction struct {
	ID           string
	CollectionID string
	CreatedAt    time.Time

	collection *Collection
	actor      Actor

	mu          sync.Mutex
	ops         []Operation
	state       *fsm.FSM
	completedAt time.Time
}

func newTransaction(c *Collection, actor Actor) (*Transaction, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	tx := &Transaction{
		ID:           id.String(),
		CollectionID: c.id,
		CreatedAt:    time.Now().UTC(),
		collection:   c,
		actor:        actor,
	}
	tx.state = fsm.NewFSM(
		string(TransactionPending),
		fsm.Events{
			{Name: eventCommit, Src: []string{string(TransactionPending)}, Dst: string(TransactionCommitted)},
			{Name: eventRollback, Src: []string{string(TransactionPending)}, Dst: string(TransactionRolledBack)},
			{Name: eventFail, Src: []string{string(TransactionPending)}, Dst: string(TransactionFailed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.logger.Debug("Transaction state changed",
					zap.String("transaction", tx.ID),
					zap.String("from", e.Src),
					zap.String("to", e.Dst))
			},
		},
	)
	return tx, nil
}

// Status returns the current state.
func (tx *Transaction) Status() TransactionStatus {
	return TransactionStatus(tx.state.Current())
}

// CompletedAt returns when the transaction reached a terminal state, or the zero time.
func (tx *Transaction) CompletedAt() time.Time {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.completedAt
}

// Operations returns a copy of the buffered operations.
func (tx *Transaction) Operations() []Operation {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return append([]Operation(nil), tx.ops...)
}

// Create buffers the creation of an item.
func (tx *Transaction) Create(data schema.Document, opts ...ItemOption) error {
	return tx.buffer(CapabilityWrite, Operation{Kind: OperationCreate, Data: data, options: opts})
}

// Update buffers a patch of an item.
func (tx *Transaction) Update(id string, patch schema.Document, opts ...ItemOption) error {
	return tx.buffer(CapabilityWrite, Operation{Kind: OperationUpdate, ItemID: id, Data: patch, options: opts})
}

// Delete buffers the removal of an item.
func (tx *Transaction) Delete(id string) error {
	return tx.buffer(CapabilityDelete, Operation{Kind: OperationDelete, ItemID: id})
}

// Commit applies every buffered operation. See Collection.Commit.
func (tx *Transaction) Commit(ctx context.Context) ([]*Item, error) {
	return tx.collection.commit(ctx, tx)
}

// Rollback discards the buffered operations.
func (tx *Transaction) Rollback() error {
	return tx.collection.rollback(tx)
}

func (tx *Transaction) buffer(capability Capability, op Operation) error {
	if err := tx.collection.authorize(tx.actor, capability); err != nil {
		return err
	}
	data, err := cloneDocument(op.Data)
	if err != nil {
		return transactionError(tx.CollectionID, tx.ID, -1, "failed to copy operation data", err)
	}
	op.Data = data

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.Status() != TransactionPending {
		return tx.finishedError(len(tx.ops))
	}
	tx.ops = append(tx.ops, op)
	return nil
}

// finish moves the transaction into a terminal state. Must be called with tx.mu held.
func (tx *Transaction) finish(ctx context.Context, event string) error {
	if err := tx.state.Event(context.WithoutCancel(ctx), event); err != nil {
		return err
	}
	tx.completedAt = time.Now().UTC()
	return nil
}

func (tx *Transaction) finishedError(op int) *Error {
	return transactionError(tx.CollectionID, tx.ID, op, "transaction is "+string(tx.Status()), nil)
}

// Begin opens a transaction for actor. It stays in the active table until it commits,
// fails or is rolled back.
func (c *Collection) Begin(actor Actor) (*Transaction, error) {
	if c.dropped.Load() || actor.IsZero() {
		return nil, c.authorize(actor, CapabilityWrite)
	}
	tx, err := newTransaction(c, actor)
	if err != nil {
		return nil, transactionError(c.id, "", -1, "failed to allocate transaction id", err)
	}

	c.txMu.Lock()
	c.transactions[tx.ID] = tx
	c.txMu.Unlock()

	c.registry.emit(createEvent(TransactionStart, eventScope{
		operation:   "transaction",
		collection:  c.id,
		transaction: tx.ID,
		actor:       actor,
	}, nil, nil, time.Time{}))
	return tx, nil
}

// Commit applies the buffered operations of the transaction txID atomically. If any
// operation fails the transaction is marked failed, nothing is applied and the error
// names the index of the failing operation. The returned slice holds the resulting
// item of each operation, or nil for deletes.
func (c *Collection) Commit(ctx context.Context, txID string) ([]*Item, error) {
	tx, err := c.transaction(txID)
	if err != nil {
		return nil, err
	}
	return c.commit(ctx, tx)
}

// Rollback discards the transaction txID.
func (c *Collection) Rollback(txID string) error {
	tx, err := c.transaction(txID)
	if err != nil {
		return err
	}
	return c.rollback(tx)
}

// ActiveTransactions returns the ids of pending transactions, sorted.
func (c *Collection) ActiveTransactions() []string {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	ids := make([]string, 0, len(c.transactions))
	for id := range c.transactions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Collection) transaction(txID string) (*Transaction, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	tx, ok := c.transactions[txID]
	if !ok {
		return nil, transactionError(c.id, txID, -1, "unknown or finished transaction", nil)
	}
	return tx, nil
}

func (c *Collection) forget(tx *Transaction) {
	c.txMu.Lock()
	delete(c.transactions, tx.ID)
	c.txMu.Unlock()
}

func (c *Collection) commit(ctx context.Context, tx *Transaction) ([]*Item, error) {
	scope := eventScope{
		operation:   "transaction",
		collection:  c.id,
		transaction: tx.ID,
		actor:       tx.actor,
		start:       TransactionStart,
		success:     TransactionSuccess,
		failed:      TransactionCommitFailed,
	}
	startTime := time.Now()

	tx.mu.Lock()
	if tx.Status() != TransactionPending {
		tx.mu.Unlock()
		return nil, tx.finishedError(-1)
	}
	results, err := c.applyTransaction(ctx, tx)
	event := eventCommit
	if err != nil {
		event = eventFail
	}
	if ferr := tx.finish(ctx, event); ferr != nil && err == nil {
		err = transactionError(c.id, tx.ID, -1, "failed to complete transaction", ferr)
	}
	tx.mu.Unlock()
	c.forget(tx)

	if err != nil {
		c.logger.Warn("Transaction failed", zap.String("transaction", tx.ID), zap.Error(err))
		c.registry.emit(createEvent(TransactionCommitFailed, scope, nil, err, startTime))
		return nil, err
	}
	c.registry.emit(createEvent(TransactionSuccess, scope, len(results), nil, startTime))
	return results, nil
}

func (c *Collection) applyTransaction(ctx context.Context, tx *Transaction) ([]*Item, error) {
	if c.dropped.Load() {
		return nil, transactionError(c.id, tx.ID, -1, "collection has been deleted", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cs := newChangeSet(c.store, c.versions)
	changes := make([]applied, 0, len(tx.ops))
	for i, op := range tx.ops {
		if err := ctx.Err(); err != nil {
			return nil, transactionError(c.id, tx.ID, i, "transaction cancelled", err)
		}
		var change applied
		var err error
		switch op.Kind {
		case OperationCreate:
			change.event = AfterCreate
			change.item, err = c.stageCreate(ctx, cs, tx.actor, op.Data, op.options, tx.ID)
		case OperationUpdate:
			change.event = AfterUpdate
			change.item, change.previous, err = c.stageUpdate(ctx, cs, tx.actor, op.ItemID, op.Data, op.options, tx.ID)
		case OperationDelete:
			change.event = AfterDelete
			change.previous, err = c.stageDelete(ctx, cs, tx.actor, op.ItemID, tx.ID)
		default:
			err = transactionError(c.id, tx.ID, i, "unknown operation "+string(op.Kind), nil)
		}
		if err != nil {
			return nil, transactionError(c.id, tx.ID, i, "operation failed", err)
		}
		changes = append(changes, change)
	}

	if cs.empty() {
		return []*Item{}, nil
	}
	if failed, err := c.publish(ctx, cs, tx.actor, tx.ID, changes); err != nil {
		return nil, transactionError(c.id, tx.ID, failed, "after hook failed", err)
	}

	results := make([]*Item, len(changes))
	for i, change := range changes {
		results[i] = change.item.Clone()
	}
	return results, nil
}

func (c *Collection) rollback(tx *Transaction) error {
	tx.mu.Lock()
	if tx.Status() != TransactionPending {
		tx.mu.Unlock()
		return tx.finishedError(-1)
	}
	err := tx.finish(context.Background(), eventRollback)
	tx.mu.Unlock()
	c.forget(tx)
	if err != nil {
		return transactionError(c.id, tx.ID, -1, "failed to roll back", err)
	}

	c.registry.emit(createEvent(TransactionRollback, eventScope{
		operation:   "transaction",
		collection:  c.id,
		transaction: tx.ID,
		actor:       tx.actor,
	}, nil, nil, time.Time{}))
	return nil
}
