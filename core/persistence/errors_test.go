package persistence

import (
	"errors"
	"fmt"
	"testing"

	"github.com/asaidimu/go-collections/core/schema"
	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKind(t *testing.T) {
	cause := errors.New("disk on fire")
	tests := []struct {
		name    string
		err     error
		matches []error
		misses  []error
	}{
		{
			name:    "not found",
			err:     notFoundError("books", "1"),
			matches: []error{ErrNotFound},
			misses:  []error{ErrValidation, ErrConflict},
		},
		{
			name:    "transaction wrapping validation",
			err:     transactionError("books", "tx", 2, "operation failed", validationError("books", "", nil)),
			matches: []error{ErrTransaction, ErrValidation},
			misses:  []error{ErrHook},
		},
		{
			name:    "hook wrapping cause",
			err:     hookError("books", "1", BeforeCreate, "audit", cause),
			matches: []error{ErrHook, cause},
			misses:  []error{ErrTransaction},
		},
		{
			name:    "wrapped with fmt",
			err:     fmt.Errorf("outer: %w", conflictError("books", "1")),
			matches: []error{ErrConflict},
			misses:  []error{ErrNotFound},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, target := range tt.matches {
				assert.True(t, errors.Is(tt.err, target), "expected match with %v", target)
			}
			for _, target := range tt.misses {
				assert.False(t, errors.Is(tt.err, target), "unexpected match with %v", target)
			}
		})
	}
}

func TestError_Message(t *testing.T) {
	err := validationError("books", "42", []schema.Issue{
		{Code: schema.CodeRequiredFieldMissing, Message: "Required field 'title' is missing", Path: "title"},
		{Code: schema.CodeTypeMismatch, Message: "Expected number, got string", Path: "rating"},
	})
	assert.Equal(t,
		"validation: document failed validation (collection=books, item=42): [title: Required field 'title' is missing; rating: Expected number, got string]",
		err.Error())

	perm := permissionError("books", Actor{}, CapabilityRead)
	assert.Equal(t, "anonymous", perm.UserID)
	assert.Contains(t, perm.Error(), "anonymous access is not allowed")

	tx := transactionError("books", "tx-1", 0, "operation failed", errors.New("boom"))
	assert.Equal(t, "transaction: operation failed (collection=books, transaction=tx-1): boom", tx.Error())
}
