package quarrystore

// options.go implements engine and table configuration options.

import (
	"fmt"
	"time"

	"github.com/aalhour/quarrystore/internal/checksum"
	"github.com/aalhour/quarrystore/internal/compression"
	"github.com/aalhour/quarrystore/internal/logging"
	"github.com/aalhour/quarrystore/internal/meta"
	"github.com/aalhour/quarrystore/internal/objstore"
	"github.com/aalhour/quarrystore/internal/schema"
)

// Logger is an alias for the logging.Logger interface.
// This allows users to pass their own logger implementation.
type Logger = logging.Logger

// CompressionType is an alias for the compression type.
type CompressionType = compression.Type

// Compression type constants.
const (
	CompressionNone   = compression.None
	CompressionSnappy = compression.Snappy
	CompressionLZ4    = compression.LZ4
	CompressionZstd   = compression.Zstd
)

// ChecksumType is an alias for the checksum kind.
type ChecksumType = checksum.Kind

// Checksum type constants.
const (
	ChecksumNone   = checksum.KindNone
	ChecksumCRC32C = checksum.KindCRC32C
	ChecksumXXH3   = checksum.KindXXH3
)

// Schema, column and value aliases so callers never import internal
// packages.
type (
	Schema = schema.Schema
	Column = schema.Column
	Type   = schema.Type
	Datum  = schema.Datum
)

// Column type constants.
const (
	TypeInt64   = schema.TypeInt64
	TypeFloat64 = schema.TypeFloat64
	TypeString  = schema.TypeString
	TypeBool    = schema.TypeBool
)

// NewSchema builds a schema from columns in declaration order.
var NewSchema = schema.New

// Col is a convenience constructor for a schema column.
func Col(name string, t Type) Column {
	return Column{Name: name, Type: t}
}

// Datum constructors.
var (
	Int64Datum   = schema.Int64
	Float64Datum = schema.Float64
	StringDatum  = schema.String
	BoolDatum    = schema.Bool
	NullDatum    = schema.NullOf
)

// Options configure an Engine.
type Options struct {
	// Objects is the object storage backend holding blocks, segment
	// manifests and snapshot records. Nil means in-memory.
	Objects objstore.Store

	// Metastore holds snapshot pointers, table options and lock leases.
	// Nil means in-memory.
	Metastore meta.Store

	// Dir, when non-empty and the stores above are nil, roots
	// directory-backed stores at Dir/objects and Dir/meta.
	Dir string

	// Logger receives engine diagnostics. Nil means the default
	// stderr logger at info level.
	Logger Logger

	// MaxCommitRetries bounds pointer-swap retries per mutation before
	// the mutation fails with a retryable conflict error.
	// Default: 8
	MaxCommitRetries int

	// LeaseTTL bounds how long a crashed lock holder can block a
	// table before contenders force-acquire.
	// Default: 30s
	LeaseTTL time.Duration

	// UndersizedFraction sets the compaction threshold as a fraction
	// of the row-per-block target: blocks with fewer rows than
	// fraction*target are merge-eligible.
	// Default: 1.0 (every block strictly below target)
	UndersizedFraction float64
}

// DefaultOptions returns Options with default values for all fields.
func DefaultOptions() *Options {
	return &Options{
		MaxCommitRetries:   8,
		LeaseTTL:           30 * time.Second,
		UndersizedFraction: 1.0,
	}
}

// TableOptions are the per-table storage options, immutable after
// CreateTable.
type TableOptions struct {
	// BlockPerSegment is the target block count per segment.
	// Default: 8
	BlockPerSegment uint32

	// RowPerBlock is the target (and maximum) row count per block.
	// Default: 1024
	RowPerBlock uint64

	// Compression is the codec applied to stored object payloads.
	// Default: Snappy
	Compression CompressionType

	// Checksum is the integrity algorithm stamped on stored objects.
	// Default: XXH3
	Checksum ChecksumType

	// LockEnabled makes mutations on this table acquire the advisory
	// table lock by default.
	LockEnabled bool
}

// DefaultTableOptions returns TableOptions with default values.
func DefaultTableOptions() TableOptions {
	return TableOptions{
		BlockPerSegment: 8,
		RowPerBlock:     1024,
		Compression:     CompressionSnappy,
		Checksum:        ChecksumXXH3,
	}
}

// validate checks table options at CreateTable time.
func (o TableOptions) validate() error {
	if o.BlockPerSegment == 0 {
		return fmt.Errorf("quarrystore: BlockPerSegment must be positive")
	}
	if o.RowPerBlock == 0 {
		return fmt.Errorf("quarrystore: RowPerBlock must be positive")
	}
	if !o.Compression.IsSupported() {
		return fmt.Errorf("quarrystore: unsupported compression type %d", o.Compression)
	}
	return nil
}

// WriteOptions control one mutation (insert or compact).
type WriteOptions struct {
	// UseTableLock forces this mutation behind the table lock even if
	// the table was created with LockEnabled false.
	UseTableLock bool

	// LockWait is the budget for acquiring a contended lock. Zero
	// means a single non-blocking attempt.
	LockWait time.Duration

	// Holder identifies this writer for lease bookkeeping. Empty
	// means an engine-generated identity.
	Holder string
}
