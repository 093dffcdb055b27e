package persistence

import (
	"fmt"
	"strings"

	"github.com/asaidimu/go-collections/core/schema"
)

// ErrorKind classifies engine errors.
type ErrorKind string

// Error kinds raised by the engine.
const (
	KindConfiguration     ErrorKind = "configuration"
	KindNotFound          ErrorKind = "not_found"
	KindValidation        ErrorKind = "validation"
	KindPermission        ErrorKind = "permission"
	KindTransaction       ErrorKind = "transaction"
	KindUnsupportedFormat ErrorKind = "unsupported_format"
	KindInvalidQuery      ErrorKind = "invalid_query"
	KindHook              ErrorKind = "hook"
	KindFeatureDisabled   ErrorKind = "feature_disabled"
	KindConflict          ErrorKind = "conflict"
)

// Sentinels for errors.Is. Any *Error matches the sentinel of the same kind.
var (
	ErrConfiguration     = &Error{Kind: KindConfiguration}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrPermission        = &Error{Kind: KindPermission}
	ErrTransaction       = &Error{Kind: KindTransaction}
	ErrUnsupportedFormat = &Error{Kind: KindUnsupportedFormat}
	ErrInvalidQuery      = &Error{Kind: KindInvalidQuery}
	ErrHook              = &Error{Kind: KindHook}
	ErrFeatureDisabled   = &Error{Kind: KindFeatureDisabled}
	ErrConflict          = &Error{Kind: KindConflict}
)

// Error is the single error type returned by collection and registry operations.
// Only the fields relevant to the kind are set.
type Error struct {
	Kind          ErrorKind
	CollectionID  string
	ItemID        string
	UserID        string
	Permission    Capability
	TransactionID string
	// Operation is the index of the failing transaction operation, or -1.
	Operation int
	Issues    []schema.Issue
	Message   string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.CollectionID != "" {
		fmt.Fprintf(&b, " (collection=%s", e.CollectionID)
		if e.ItemID != "" {
			fmt.Fprintf(&b, ", item=%s", e.ItemID)
		}
		if e.TransactionID != "" {
			fmt.Fprintf(&b, ", transaction=%s", e.TransactionID)
		}
		b.WriteString(")")
	}
	if len(e.Issues) > 0 {
		parts := make([]string, len(e.Issues))
		for i, issue := range e.Issues {
			parts[i] = issue.String()
		}
		fmt.Fprintf(&b, ": [%s]", strings.Join(parts, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func configurationError(collection, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, CollectionID: collection, Operation: -1, Message: fmt.Sprintf(format, args...)}
}

func notFoundError(collection, item string) *Error {
	return &Error{Kind: KindNotFound, CollectionID: collection, ItemID: item, Operation: -1, Message: "item not found"}
}

func validationError(collection, item string, issues []schema.Issue) *Error {
	return &Error{Kind: KindValidation, CollectionID: collection, ItemID: item, Operation: -1, Issues: issues, Message: "document failed validation"}
}

func permissionError(collection string, actor Actor, capability Capability) *Error {
	user := actor.ID()
	message := fmt.Sprintf("user %q lacks %s permission", user, capability)
	if actor.IsZero() {
		user = "anonymous"
		message = "anonymous access is not allowed"
	}
	return &Error{Kind: KindPermission, CollectionID: collection, UserID: user, Permission: capability, Operation: -1, Message: message}
}

func transactionError(collection, tx string, op int, message string, cause error) *Error {
	return &Error{Kind: KindTransaction, CollectionID: collection, TransactionID: tx, Operation: op, Message: message, Err: cause}
}

func hookError(collection, item string, event HookEvent, name string, cause error) *Error {
	return &Error{Kind: KindHook, CollectionID: collection, ItemID: item, Operation: -1, Message: fmt.Sprintf("%s hook %q failed", event, name), Err: cause}
}

func invalidQueryError(collection string, cause error) *Error {
	return &Error{Kind: KindInvalidQuery, CollectionID: collection, Operation: -1, Message: "invalid query", Err: cause}
}

func featureDisabledError(collection, feature string) *Error {
	return &Error{Kind: KindFeatureDisabled, CollectionID: collection, Operation: -1, Message: feature + " is disabled"}
}

func conflictError(collection, item string) *Error {
	return &Error{Kind: KindConflict, CollectionID: collection, ItemID: item, Operation: -1, Message: "item id already exists"}
}
