package bolt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"keyval/internal/logging"
	"keyval/internal/store"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	bolt "go.etcd.io/bbolt"
)

var logger = logging.For("bolt")

// metaBucket holds the database version. It is never exposed as an
// object store.
var (
	metaBucket = []byte(store.MetaObjectStore)
	versionKey = []byte("version")
)

// Open bbolt files are shared by every connection in the process: bbolt
// holds an exclusive file lock, so a second bolt.Open of the same file
// would block until the first is closed.
var shared = xsync.NewMapOf[string, *sharedDB]()

type sharedDB struct {
	path string
	bdb  *bolt.DB
	refs int // guarded by shared.Compute

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// Option configures a Factory.
type Option func(*Factory)

// WithFileMode sets the permissions of newly created database files.
func WithFileMode(mode os.FileMode) Option {
	return func(f *Factory) { f.mode = mode }
}

// WithLockTimeout bounds how long Open waits for the file lock held by
// another process. Zero waits forever.
func WithLockTimeout(d time.Duration) Option {
	return func(f *Factory) { f.lockTimeout = d }
}

// Factory implements store.Factory using bbolt (embedded B+ tree). Each
// database is one file, dir/<name>.db; each object store is a top-level
// bucket.
type Factory struct {
	dir         string
	mode        os.FileMode
	lockTimeout time.Duration
}

var _ store.Factory = (*Factory)(nil)

// NewFactory returns a factory keeping its databases in dir. The directory
// is created on first open.
func NewFactory(dir string, opts ...Option) *Factory {
	f := &Factory{
		dir:         dir,
		mode:        0600,
		lockTimeout: time.Second,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Dir returns the directory holding the database files.
func (f *Factory) Dir() string {
	return f.dir
}

// Path returns the file backing the named database.
func (f *Factory) Path(name string) string {
	return filepath.Join(f.dir, name+".db")
}

// Open opens (creating if needed) the named database. See store.Factory.
func (f *Factory) Open(name string, version uint64, upgrade store.UpgradeFunc) (store.Database, error) {
	if err := store.ValidateDatabaseName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	path, err := filepath.Abs(f.Path(name))
	if err != nil {
		return nil, fmt.Errorf("resolving database path: %w", err)
	}

	sdb, err := f.acquire(path)
	if err != nil {
		return nil, err
	}

	conn := &Conn{
		id:     uuid.NewString(),
		name:   name,
		shared: sdb,
	}
	// Registered before the version check so that a concurrent upgrade
	// cannot miss this connection.
	sdb.register(conn)

	err = sdb.bdb.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return fmt.Errorf("creating meta bucket: %w", err)
		}
		current := readVersion(meta)
		target := version
		if target == 0 {
			target = max(current, 1)
		}
		if target < current {
			return fmt.Errorf("%w: requested %d, have %d", store.ErrVersion, target, current)
		}
		if target > current {
			sdb.notifyVersionChange(conn, current, target)
			if upgrade != nil {
				if err := upgrade(&upgradeTx{tx: tx}, current, target); err != nil {
					return fmt.Errorf("%w: %w", store.ErrAborted, err)
				}
			}
			if err := writeVersion(meta, target); err != nil {
				return err
			}
			logger.Info("database upgraded", "db", name, "from", current, "to", target, "conn", conn.id)
		}
		conn.version = target
		conn.storeNames = bucketNames(tx)
		return nil
	})
	if err != nil {
		sdb.unregister(conn)
		release(sdb)
		return nil, err
	}

	logger.Debug("connection opened", "db", name, "version", conn.version, "conn", conn.id)
	return conn, nil
}

// Close force-closes every database file under the factory's directory.
// Connections to those databases report store.ErrClosed afterwards.
func (f *Factory) Close() error {
	dir, err := filepath.Abs(f.dir)
	if err != nil {
		return err
	}
	var errs []error
	shared.Range(func(path string, sdb *sharedDB) bool {
		if filepath.Dir(path) != dir {
			return true
		}
		for _, c := range sdb.snapshot(nil) {
			c.markClosed()
		}
		// bdb.Close waits for running transactions, whose version-change
		// handlers may call release on this path, so close outside Compute.
		var detached *sharedDB
		shared.Compute(path, func(old *sharedDB, loaded bool) (*sharedDB, bool) {
			if loaded && old == sdb {
				detached = old
				return old, true
			}
			return old, !loaded
		})
		if detached != nil {
			if err := detached.bdb.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s: %w", path, err))
			}
		}
		return true
	})
	return errors.Join(errs...)
}

func (f *Factory) acquire(path string) (*sharedDB, error) {
	var openErr error
	sdb, _ := shared.Compute(path, func(old *sharedDB, loaded bool) (*sharedDB, bool) {
		if loaded {
			old.refs++
			return old, false
		}
		bdb, err := bolt.Open(path, f.mode, &bolt.Options{Timeout: f.lockTimeout})
		if err != nil {
			openErr = fmt.Errorf("opening bolt db: %w", err)
			return nil, true
		}
		return &sharedDB{
			path:  path,
			bdb:   bdb,
			refs:  1,
			conns: make(map[*Conn]struct{}),
		}, false
	})
	if openErr != nil {
		return nil, openErr
	}
	return sdb, nil
}

// release drops one reference and closes the file with the last one.
func release(sdb *sharedDB) {
	var last bool
	shared.Compute(sdb.path, func(old *sharedDB, loaded bool) (*sharedDB, bool) {
		if !loaded || old != sdb {
			// Already force-closed by Factory.Close.
			return old, !loaded
		}
		old.refs--
		if old.refs > 0 {
			return old, false
		}
		last = true
		return old, true
	})
	if !last {
		return
	}
	if err := sdb.bdb.Close(); err != nil {
		logger.Warn("closing bolt db", "path", sdb.path, "err", err)
	}
	logger.Debug("database file closed", "path", sdb.path)
}

func (s *sharedDB) register(c *Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *sharedDB) unregister(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// snapshot returns the registered connections other than except.
func (s *sharedDB) snapshot(except *Conn) []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		if c != except {
			out = append(out, c)
		}
	}
	return out
}

// notifyVersionChange calls the version change handler of every other
// connection. Handlers run without s.mu held since they usually Close.
func (s *sharedDB) notifyVersionChange(origin *Conn, oldVersion, newVersion uint64) {
	for _, c := range s.snapshot(origin) {
		fn := c.versionChangeHandler()
		if fn == nil {
			logger.Warn("connection left open across version change",
				"db", c.name, "conn", c.id, "from", oldVersion, "to", newVersion)
			continue
		}
		logger.Debug("version change", "db", c.name, "conn", c.id, "from", oldVersion, "to", newVersion)
		fn()
	}
}

func readVersion(meta *bolt.Bucket) uint64 {
	v := meta.Get(versionKey)
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func writeVersion(meta *bolt.Bucket, version uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], version)
	if err := meta.Put(versionKey, buf[:]); err != nil {
		return fmt.Errorf("writing version: %w", err)
	}
	return nil
}

func bucketNames(tx *bolt.Tx) []string {
	var names []string
	_ = tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
		if string(name) != string(metaBucket) {
			names = append(names, string(name))
		}
		return nil
	})
	return names
}
