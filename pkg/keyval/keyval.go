// Package keyval is a small key-value persistence layer over an embedded
// transactional object store.
//
// A Store names one database and one object store inside it. The database
// is opened lazily by the first operation; if the object store does not
// exist yet it is created by an upgrade, exactly once. Every operation runs
// in its own transaction and returns only after that transaction has
// committed.
//
//	s := keyval.NewStore("app", "settings", keyval.WithDir(dir))
//	if err := s.Set(ctx, "theme", "dark"); err != nil { ... }
//	theme, ok, err := keyval.GetFrom[string](ctx, s, "theme")
//
// The package-level functions operate on Default(), a process-wide Store
// over the "keyval-store" database and "keyval" object store.
package keyval

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"keyval/internal/logging"
	"keyval/internal/store"
	"keyval/internal/store/bolt"
)

const (
	DefaultDatabaseName    = "keyval-store"
	DefaultObjectStoreName = "keyval"
)

var logger = logging.For("keyval")

// Key is a record key: a number, string, time.Time, []byte, or a slice of
// keys. Keys come back from Keys as float64, string, time.Time, []byte and
// []any respectively.
type Key = store.Key

// Store is a handle over one database/object-store pair. It is safe for
// concurrent use. There is no Close: the connection lives as long as the
// process, unless a version change raised elsewhere closes it.
type Store struct {
	databaseName string
	storeName    string
	codec        Codec

	factory     store.Factory
	dir         string
	lockTimeout time.Duration

	conn *pendingConn
}

// pendingConn is the memoized outcome of the open sequence.
type pendingConn struct {
	once sync.Once
	done chan struct{}
	db   store.Database
	err  error
}

// Option configures a Store.
type Option func(*Store)

// WithDir keeps the database files in dir. The default is DefaultDir().
func WithDir(dir string) Option {
	return func(s *Store) { s.dir = dir }
}

// WithLockTimeout bounds how long opening waits for a database file locked
// by another process.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithFactory opens databases through f instead of the bbolt engine
// rooted at the configured directory.
func WithFactory(f store.Factory) Option {
	return func(s *Store) { s.factory = f }
}

// WithCodec sets the value codec. The default is GobCodec.
func WithCodec(c Codec) Option {
	return func(s *Store) { s.codec = c }
}

// NewStore returns a handle for the object store storeName inside the
// database databaseName. Empty names select the defaults. Nothing is
// opened until the first operation.
func NewStore(databaseName, storeName string, opts ...Option) *Store {
	if databaseName == "" {
		databaseName = DefaultDatabaseName
	}
	if storeName == "" {
		storeName = DefaultObjectStoreName
	}
	s := &Store{
		databaseName: databaseName,
		storeName:    storeName,
		codec:        GobCodec(),
		conn:         &pendingConn{done: make(chan struct{})},
	}
	for _, o := range opts {
		o(s)
	}
	if s.factory == nil {
		dir := s.dir
		if dir == "" {
			dir = DefaultDir()
		}
		var bopts []bolt.Option
		if s.lockTimeout > 0 {
			bopts = append(bopts, bolt.WithLockTimeout(s.lockTimeout))
		}
		s.factory = bolt.NewFactory(dir, bopts...)
	}
	return s
}

// DefaultDir is ~/.keyval, or keyval under the temp dir when there is no
// home directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "keyval")
	}
	return filepath.Join(home, ".keyval")
}

func (s *Store) DatabaseName() string { return s.databaseName }

func (s *Store) ObjectStoreName() string { return s.storeName }

func (s *Store) Codec() Codec { return s.codec }

// connection waits for the open sequence, starting it on first use. ctx
// only bounds the wait: the sequence itself runs to completion and its
// outcome, success or failure, is kept for every later call.
func (s *Store) connection(ctx context.Context) (store.Database, error) {
	p := s.conn
	p.once.Do(func() {
		go func() {
			p.db, p.err = s.open()
			close(p.done)
		}()
	})
	select {
	case <-p.done:
		return p.db, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// open opens the database at its current version and makes sure the
// object store exists, forcing an upgrade when the database predates it.
func (s *Store) open() (store.Database, error) {
	opensTotal.Inc()
	db, err := s.factory.Open(s.databaseName, 0, s.createObjectStore)
	if err != nil {
		logger.Warn("opening database failed", "db", s.databaseName, "err", err)
		return nil, &ConnectionError{Database: s.databaseName, Err: err}
	}
	db.OnVersionChange(func() {
		logger.Debug("closing connection on version change", "db", s.databaseName)
		_ = db.Close()
	})
	if db.HasObjectStore(s.storeName) {
		return db, nil
	}

	logger.Debug("object store missing, upgrading database",
		"db", s.databaseName, "store", s.storeName, "version", db.Version())
	upgraded, err := s.factory.Open(s.databaseName, db.Version()+1, s.createObjectStore)
	if err != nil {
		logger.Warn("upgrading database failed", "db", s.databaseName, "err", err)
		return nil, &ConnectionError{Database: s.databaseName, Err: err}
	}
	return upgraded, nil
}

func (s *Store) createObjectStore(tx store.UpgradeTx, oldVersion, newVersion uint64) error {
	for _, name := range tx.ObjectStoreNames() {
		if name == s.storeName {
			return nil
		}
	}
	if err := tx.CreateObjectStore(s.storeName); err != nil {
		return err
	}
	storesCreatedTotal.Inc()
	logger.Info("created object store",
		"db", s.databaseName, "store", s.storeName, "from", oldVersion, "to", newVersion)
	return nil
}

// withStore runs fn against the object store in a transaction of the given
// mode and returns once that transaction has committed.
func (s *Store) withStore(ctx context.Context, mode store.Mode, fn func(store.ObjectStore) error) error {
	db, err := s.connection(ctx)
	if err != nil {
		return err
	}
	if err := db.Transaction(s.storeName, mode, fn); err != nil {
		return &TransactionError{
			Database:    s.databaseName,
			ObjectStore: s.storeName,
			Mode:        mode,
			Err:         err,
		}
	}
	return nil
}
