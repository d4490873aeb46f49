// Package meta defines the metastore client used by quarrystore.
//
// The metastore holds the only mutable state in the system: one current
// snapshot pointer per table, advanced exclusively through an atomic
// compare-and-swap. It also stores the immutable per-table options and
// the cooperative lock leases.
//
// Everything else the engine persists (blocks, segments, snapshot
// records) is write-once in the object store; isolating mutation to this
// narrow interface is what lets the commit protocol stay a single CAS.
package meta

import (
	"errors"
	"time"
)

// Errors returned by metastore operations.
var (
	// ErrTableNotFound is returned when a table has no metastore entry.
	ErrTableNotFound = errors.New("meta: table not found")

	// ErrTableExists is returned when creating a table that already exists.
	ErrTableExists = errors.New("meta: table already exists")
)

// TableOptions are the immutable per-table storage options set at
// CREATE TABLE time. Only the snapshot pointer ever changes after
// creation.
type TableOptions struct {
	// BlockPerSegment is the target block count per segment.
	BlockPerSegment uint32

	// RowPerBlock is the target row count per block.
	RowPerBlock uint64

	// Compression is the object payload codec (compression.Type).
	Compression uint8

	// Checksum is the object integrity algorithm (checksum.Kind).
	Checksum uint8

	// LockEnabled makes mutations acquire the table lease by default.
	LockEnabled bool
}

// Lease is a cooperative claim on a table's commit path. Leases are a
// coordination aid, not part of table history: a crashed holder simply
// lets the lease expire.
type Lease struct {
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lease has lapsed at the given time.
func (l Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Store is the metastore client interface.
//
// Implementations must be safe for concurrent use. CompareAndSwapPointer
// and AcquireLease must be atomic with respect to concurrent callers.
type Store interface {
	// CreateTable registers a table with its options and initial
	// snapshot pointer. Returns ErrTableExists if already registered.
	CreateTable(table string, opts TableOptions, pointer string) error

	// DropTable removes a table's metastore entry. Its objects become
	// orphans for the external collector.
	DropTable(table string) error

	// TableOptions returns the immutable options of a table.
	TableOptions(table string) (TableOptions, error)

	// SnapshotPointer returns the current snapshot location of a table.
	SnapshotPointer(table string) (string, error)

	// CompareAndSwapPointer atomically advances the snapshot pointer
	// from expected to next. Returns false (and no error) if the
	// pointer no longer equals expected.
	CompareAndSwapPointer(table, expected, next string) (bool, error)

	// AcquireLease grants the table lease to holder for ttl if the
	// lease is unheld, already held by holder, or expired. Returns
	// false if another holder's lease is still live.
	AcquireLease(table, holder string, ttl time.Duration) (bool, error)

	// ReleaseLease drops the lease if held by holder; otherwise a no-op.
	ReleaseLease(table, holder string) error
}
