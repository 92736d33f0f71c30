package bolt

import (
	"fmt"
	"slices"
	"sync"

	"keyval/internal/store"

	bolt "go.etcd.io/bbolt"
)

// Conn is one open connection to a database. It implements store.Database.
type Conn struct {
	id         string
	name       string
	shared     *sharedDB
	version    uint64
	storeNames []string

	mu              sync.Mutex
	closed          bool
	onVersionChange func()
}

var _ store.Database = (*Conn)(nil)

// ID identifies the connection in logs.
func (c *Conn) ID() string { return c.id }

func (c *Conn) Name() string { return c.name }

func (c *Conn) Version() uint64 { return c.version }

func (c *Conn) ObjectStoreNames() []string {
	return slices.Clone(c.storeNames)
}

func (c *Conn) HasObjectStore(name string) bool {
	return slices.Contains(c.storeNames, name)
}

func (c *Conn) OnVersionChange(fn func()) {
	c.mu.Lock()
	c.onVersionChange = fn
	c.mu.Unlock()
}

func (c *Conn) versionChangeHandler() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onVersionChange
}

// Closed reports whether the connection can no longer start transactions.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// markClosed reports whether this call closed the connection.
func (c *Conn) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

// Close releases the connection. Transactions already running finish;
// new ones fail with store.ErrClosed. Closing twice is a no-op.
func (c *Conn) Close() error {
	if !c.markClosed() {
		return nil
	}
	c.shared.unregister(c)
	release(c.shared)
	logger.Debug("connection closed", "db", c.name, "conn", c.id)
	return nil
}

// Transaction runs fn against the named object store inside a bbolt
// transaction: View for store.ReadOnly, Update for store.ReadWrite. It
// returns after bbolt has committed (and synced) the transaction.
func (c *Conn) Transaction(storeName string, mode store.Mode, fn func(store.ObjectStore) error) error {
	if c.Closed() {
		return store.ErrClosed
	}
	if !c.HasObjectStore(storeName) {
		return fmt.Errorf("%w: %q", store.ErrNotFound, storeName)
	}

	run := c.shared.bdb.View
	if mode == store.ReadWrite {
		run = c.shared.bdb.Update
	}
	return run(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(storeName))
		if b == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, storeName)
		}
		return fn(&objectStore{
			tx:     tx,
			name:   storeName,
			bucket: b,
			mode:   mode,
		})
	})
}

type upgradeTx struct {
	tx *bolt.Tx
}

func (u *upgradeTx) CreateObjectStore(name string) error {
	if err := store.ValidateObjectStoreName(name); err != nil {
		return err
	}
	if u.tx.Bucket([]byte(name)) != nil {
		return fmt.Errorf("%w: %q", store.ErrConstraint, name)
	}
	if _, err := u.tx.CreateBucket([]byte(name)); err != nil {
		return fmt.Errorf("creating bucket: %w", err)
	}
	logger.Debug("object store created", "store", name)
	return nil
}

func (u *upgradeTx) ObjectStoreNames() []string {
	return bucketNames(u.tx)
}
