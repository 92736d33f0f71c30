package store

// Mode selects the kind of transaction opened against an object store.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "readonly"
	case ReadWrite:
		return "readwrite"
	default:
		return "unknown"
	}
}

// Factory opens named databases. It is the entry point of an engine; the
// initial implementation uses bbolt, the interface allows swapping engines
// without touching the keyval package.
type Factory interface {
	// Open opens the named database. A version of 0 opens the current
	// version (1 for a database that does not exist yet). A version above
	// the current one runs upgrade inside a single write transaction after
	// every other open connection to the database has been sent a version
	// change notification.
	Open(name string, version uint64, upgrade UpgradeFunc) (Database, error)
}

// UpgradeFunc runs when a database is created or its version is raised.
// Returning an error aborts the upgrade and fails the open.
type UpgradeFunc func(tx UpgradeTx, oldVersion, newVersion uint64) error

// UpgradeTx is the schema-changing transaction handed to an UpgradeFunc.
type UpgradeTx interface {
	CreateObjectStore(name string) error
	ObjectStoreNames() []string
}

// Database is one open connection to a database.
type Database interface {
	Name() string
	Version() uint64
	// ObjectStoreNames is a snapshot taken when the connection was opened.
	ObjectStoreNames() []string
	HasObjectStore(name string) bool
	// OnVersionChange registers fn to be called when another connection
	// raises the database version. A later call replaces the handler.
	OnVersionChange(fn func())
	// Transaction runs fn inside a transaction scoped to one object store.
	// It returns nil only after the transaction has committed; any error
	// returned by fn aborts it.
	Transaction(storeName string, mode Mode, fn func(ObjectStore) error) error
	Close() error
}

// ObjectStore is a keyed collection inside a live transaction. Values are
// opaque bytes; keys follow the Key rules in keys.go.
type ObjectStore interface {
	Name() string
	// Get returns nil when the key is absent.
	Get(key Key) ([]byte, error)
	Put(key Key, value []byte) error
	Delete(key Key) error
	Clear() error
	OpenKeyCursor() (Cursor, error)
	OpenCursor() (Cursor, error)
}

// Cursor iterates an object store forward in key order.
//
//	for c.Next() {
//		use(c.Key())
//	}
//	if err := c.Err(); err != nil { ... }
type Cursor interface {
	Next() bool
	Key() Key
	// Value is nil for a key cursor.
	Value() []byte
	Err() error
}
