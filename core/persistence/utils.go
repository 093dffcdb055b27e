package persistence

import (
	"errors"
	"time"
)

func createEvent(
	eventType PersistenceEventType,
	scope eventScope,
	output any,
	err error,
	startTime time.Time,
) PersistenceEvent {
	var duration *int64
	if !startTime.IsZero() {
		d := time.Since(startTime).Milliseconds()
		duration = &d
	}

	event := PersistenceEvent{
		Type:          eventType,
		Timestamp:     time.Now().UnixMilli(),
		Operation:     scope.operation,
		Collection:    scope.collection,
		ItemID:        scope.itemID,
		TransactionID: scope.transaction,
		User:          scope.actor.String(),
		Input:         scope.input,
		Output:        output,
		Duration:      duration,
	}

	if err != nil {
		msg := err.Error()
		event.Error = &msg
		var perr *Error
		if errors.As(err, &perr) {
			event.Issues = perr.Issues
			if event.ItemID == "" {
				event.ItemID = perr.ItemID
			}
		}
	}
	return event
}
