package keyval

import (
	"context"
	"errors"
	"sync"
)

// ErrDefaultInUse is returned by SetDefaultOptions once Default has been
// called.
var ErrDefaultInUse = errors.New("keyval: default store already created")

var defaults struct {
	once    sync.Once
	mu      sync.Mutex
	created bool
	opts    []Option
	store   *Store
}

// Default returns the process-wide Store over DefaultDatabaseName and
// DefaultObjectStoreName, creating it on first use.
func Default() *Store {
	defaults.once.Do(func() {
		defaults.mu.Lock()
		defaults.created = true
		opts := defaults.opts
		defaults.mu.Unlock()
		defaults.store = NewStore(DefaultDatabaseName, DefaultObjectStoreName, opts...)
	})
	return defaults.store
}

// SetDefaultOptions configures the Store that Default will create. It
// must be called before the first use of Default.
func SetDefaultOptions(opts ...Option) error {
	defaults.mu.Lock()
	defer defaults.mu.Unlock()
	if defaults.created {
		return ErrDefaultInUse
	}
	defaults.opts = append([]Option(nil), opts...)
	return nil
}

// Get reads key from the default store.
func Get[T any](ctx context.Context, key Key) (T, bool, error) {
	return GetFrom[T](ctx, Default(), key)
}

// Set writes key in the default store.
func Set(ctx context.Context, key Key, value any) error {
	return Default().Set(ctx, key, value)
}

// Del removes key from the default store.
func Del(ctx context.Context, key Key) error {
	return Default().Del(ctx, key)
}

// Clear empties the default store.
func Clear(ctx context.Context) error {
	return Default().Clear(ctx)
}

// Keys lists the keys of the default store.
func Keys(ctx context.Context) ([]Key, error) {
	return Default().Keys(ctx)
}

// Update runs UpdateIn against the default store.
func Update[T any](ctx context.Context, key Key, fn func(old T, found bool) (T, error)) error {
	return UpdateIn(ctx, Default(), key, fn)
}

// Entries lists the entries of the default store.
func Entries(ctx context.Context) ([]Entry, error) {
	return Default().Entries(ctx)
}
