package keyval

import (
	"context"
	"fmt"
	"time"

	"keyval/internal/store"
)

func validateKey(key Key) error {
	if err := store.ValidateKey(key); err != nil {
		return fmt.Errorf("keyval: %w", err)
	}
	return nil
}

// Get decodes the value stored under key into dst, which must be a
// pointer. found is false, and dst untouched, when the key is absent.
func (s *Store) Get(ctx context.Context, key Key, dst any) (found bool, err error) {
	defer observe("get", time.Now(), &err)
	if err := validateKey(key); err != nil {
		return false, err
	}
	var raw []byte
	err = s.withStore(ctx, store.ReadOnly, func(st store.ObjectStore) error {
		var err error
		raw, err = st.Get(key)
		return err
	})
	if err != nil || raw == nil {
		return false, err
	}
	if err := decodeRecord(s.codec, raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key Key, value any) (err error) {
	defer observe("set", time.Now(), &err)
	if err := validateKey(key); err != nil {
		return err
	}
	data, err := encodeRecord(s.codec, value)
	if err != nil {
		return err
	}
	return s.withStore(ctx, store.ReadWrite, func(st store.ObjectStore) error {
		return st.Put(key, data)
	})
}

// Del removes key. Removing an absent key is not an error.
func (s *Store) Del(ctx context.Context, key Key) (err error) {
	defer observe("del", time.Now(), &err)
	if err := validateKey(key); err != nil {
		return err
	}
	return s.withStore(ctx, store.ReadWrite, func(st store.ObjectStore) error {
		return st.Delete(key)
	})
}

// Clear removes every entry of the object store.
func (s *Store) Clear(ctx context.Context) (err error) {
	defer observe("clear", time.Now(), &err)
	return s.withStore(ctx, store.ReadWrite, func(st store.ObjectStore) error {
		return st.Clear()
	})
}

// Keys returns every key in the object store in key order. The result is
// empty, not nil, for an empty store.
func (s *Store) Keys(ctx context.Context) (keys []Key, err error) {
	defer observe("keys", time.Now(), &err)
	keys = []Key{}
	err = s.withStore(ctx, store.ReadOnly, func(st store.ObjectStore) error {
		c, err := st.OpenKeyCursor()
		if err != nil {
			return err
		}
		for c.Next() {
			keys = append(keys, c.Key())
		}
		return c.Err()
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Update reads, modifies and writes one key inside a single read-write
// transaction. The current value, if any, is decoded into dst before fn
// runs; fn returns the value to store.
func (s *Store) Update(ctx context.Context, key Key, dst any, fn func(found bool) (any, error)) (err error) {
	defer observe("update", time.Now(), &err)
	if err := validateKey(key); err != nil {
		return err
	}
	return s.withStore(ctx, store.ReadWrite, func(st store.ObjectStore) error {
		raw, err := st.Get(key)
		if err != nil {
			return err
		}
		found := raw != nil
		if found {
			if err := decodeRecord(s.codec, raw, dst); err != nil {
				return err
			}
		}
		next, err := fn(found)
		if err != nil {
			return err
		}
		data, err := encodeRecord(s.codec, next)
		if err != nil {
			return err
		}
		return st.Put(key, data)
	})
}

// Entry is one key/value pair returned by Entries.
type Entry struct {
	Key   Key
	raw   []byte
	codec Codec
}

// Decode decodes the entry's value into dst.
func (e Entry) Decode(dst any) error {
	return decodeRecord(e.codec, e.raw, dst)
}

// Entries returns every key/value pair in key order.
func (s *Store) Entries(ctx context.Context) (entries []Entry, err error) {
	defer observe("entries", time.Now(), &err)
	entries = []Entry{}
	err = s.withStore(ctx, store.ReadOnly, func(st store.ObjectStore) error {
		c, err := st.OpenCursor()
		if err != nil {
			return err
		}
		for c.Next() {
			entries = append(entries, Entry{Key: c.Key(), raw: c.Value(), codec: s.codec})
		}
		return c.Err()
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GetFrom is Get returning the value as a T.
func GetFrom[T any](ctx context.Context, s *Store, key Key) (T, bool, error) {
	var v T
	found, err := s.Get(ctx, key, &v)
	return v, found, err
}

// UpdateIn is Update over a typed value. old is the zero T when the key
// is absent.
func UpdateIn[T any](ctx context.Context, s *Store, key Key, fn func(old T, found bool) (T, error)) error {
	var cur T
	return s.Update(ctx, key, &cur, func(found bool) (any, error) {
		return fn(cur, found)
	})
}
