package keyval

import (
	"fmt"

	"keyval/internal/store"
)

// Engine errors callers may test for with errors.Is.
var (
	ErrClosed     = store.ErrClosed
	ErrInvalidKey = store.ErrInvalidKey
)

// ConnectionError reports a failed open sequence. A Store that returned one
// keeps returning it: the failure is not retried.
type ConnectionError struct {
	Database string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("keyval: opening database %q: %v", e.Database, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransactionError reports a transaction that aborted, or a callback
// error that aborted it.
type TransactionError struct {
	Database    string
	ObjectStore string
	Mode        store.Mode
	Err         error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("keyval: %s transaction on %s/%s: %v", e.Mode, e.Database, e.ObjectStore, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }
