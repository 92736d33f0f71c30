package store

import "errors"

var (
	ErrClosed      = errors.New("database connection is closed")
	ErrNotFound    = errors.New("object store not found")
	ErrReadOnly    = errors.New("transaction is read-only")
	ErrVersion     = errors.New("requested version is lower than the current version")
	ErrInvalidKey  = errors.New("invalid key")
	ErrConstraint  = errors.New("object store already exists")
	ErrInvalidName = errors.New("invalid name")
	ErrAborted     = errors.New("upgrade aborted")
)
