package bolt

import (
	"fmt"

	"keyval/internal/store"

	bolt "go.etcd.io/bbolt"
)

type objectStore struct {
	tx     *bolt.Tx
	name   string
	bucket *bolt.Bucket
	mode   store.Mode
}

func (s *objectStore) Name() string { return s.name }

func (s *objectStore) Get(key store.Key) ([]byte, error) {
	k, err := store.EncodeKey(key)
	if err != nil {
		return nil, err
	}
	v := s.bucket.Get(k)
	if v == nil {
		return nil, nil
	}
	// bbolt memory is only valid for the life of the transaction.
	val := make([]byte, len(v))
	copy(val, v)
	return val, nil
}

func (s *objectStore) Put(key store.Key, value []byte) error {
	if s.mode != store.ReadWrite {
		return store.ErrReadOnly
	}
	k, err := store.EncodeKey(key)
	if err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	return s.bucket.Put(k, value)
}

func (s *objectStore) Delete(key store.Key) error {
	if s.mode != store.ReadWrite {
		return store.ErrReadOnly
	}
	k, err := store.EncodeKey(key)
	if err != nil {
		return err
	}
	return s.bucket.Delete(k)
}

// Clear drops and recreates the bucket, which frees its pages in one step.
func (s *objectStore) Clear() error {
	if s.mode != store.ReadWrite {
		return store.ErrReadOnly
	}
	if err := s.tx.DeleteBucket([]byte(s.name)); err != nil {
		return fmt.Errorf("deleting bucket: %w", err)
	}
	b, err := s.tx.CreateBucket([]byte(s.name))
	if err != nil {
		return fmt.Errorf("creating bucket: %w", err)
	}
	s.bucket = b
	return nil
}

func (s *objectStore) OpenKeyCursor() (store.Cursor, error) {
	return &cursor{c: s.bucket.Cursor(), keysOnly: true}, nil
}

func (s *objectStore) OpenCursor() (store.Cursor, error) {
	return &cursor{c: s.bucket.Cursor()}, nil
}

type cursor struct {
	c        *bolt.Cursor
	keysOnly bool
	started  bool
	done     bool

	key   store.Key
	value []byte
	err   error
}

func (c *cursor) Next() bool {
	if c.done {
		return false
	}
	var k, v []byte
	if !c.started {
		k, v = c.c.First()
		c.started = true
	} else {
		k, v = c.c.Next()
	}
	if k == nil {
		c.done = true
		return false
	}
	key, err := store.DecodeKey(k)
	if err != nil {
		c.err = fmt.Errorf("decoding stored key: %w", err)
		c.done = true
		return false
	}
	c.key = key
	c.value = nil
	if !c.keysOnly {
		c.value = make([]byte, len(v))
		copy(c.value, v)
	}
	return true
}

func (c *cursor) Key() store.Key { return c.key }

func (c *cursor) Value() []byte { return c.value }

func (c *cursor) Err() error { return c.err }
