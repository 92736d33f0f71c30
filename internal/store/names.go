package store

import (
	"fmt"
	"strings"
)

// MetaObjectStore is the reserved bucket holding a database's version.
const MetaObjectStore = "__keyval_meta__"

// ValidateDatabaseName rejects names that cannot be used as a file name
// inside the data directory.
func ValidateDatabaseName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: database %q", ErrInvalidName, name)
	}
	return nil
}

// ValidateObjectStoreName rejects empty and reserved object store names.
func ValidateObjectStoreName(name string) error {
	if name == "" || name == MetaObjectStore {
		return fmt.Errorf("%w: object store %q", ErrInvalidName, name)
	}
	return nil
}
