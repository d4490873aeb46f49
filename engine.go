package quarrystore

// engine.go implements the Engine facade over the storage layers.

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/aalhour/quarrystore/internal/block"
	"github.com/aalhour/quarrystore/internal/commit"
	"github.com/aalhour/quarrystore/internal/compaction"
	"github.com/aalhour/quarrystore/internal/lock"
	"github.com/aalhour/quarrystore/internal/logging"
	"github.com/aalhour/quarrystore/internal/meta"
	"github.com/aalhour/quarrystore/internal/objstore"
	"github.com/aalhour/quarrystore/internal/segment"
	"github.com/aalhour/quarrystore/internal/snapshot"
)

// Errors surfaced by the engine. Deeper sentinel errors from the
// storage layers are wrapped, so errors.Is works across the boundary.
var (
	// ErrTableNotFound is returned for operations on unknown tables.
	ErrTableNotFound = meta.ErrTableNotFound

	// ErrTableExists is returned when creating a table twice.
	ErrTableExists = meta.ErrTableExists

	// ErrConflictExhausted is returned when a mutation lost every
	// pointer-swap attempt. Retryable.
	ErrConflictExhausted = commit.ErrConflictExhausted

	// ErrLockTimeout is returned when the table lock could not be
	// acquired within the wait budget. Retryable.
	ErrLockTimeout = lock.ErrLockTimeout
)

// IsRetryable reports whether the mutation that produced err can be
// re-run as-is with a fair chance of success. Conflict exhaustion and
// lock timeouts are transient; corruption and encoding errors are not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflictExhausted) || errors.Is(err, ErrLockTimeout)
}

// Engine is a handle on one store. Safe for concurrent use.
type Engine struct {
	objects   objstore.Store
	metastore meta.Store
	logger    logging.Logger

	maxCommitRetries   int
	leaseTTL           time.Duration
	undersizedFraction float64

	holderSeq atomic.Uint64
}

// Open creates an Engine from opts. A nil opts means DefaultOptions.
func Open(opts *Options) (*Engine, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	objects := opts.Objects
	metastore := opts.Metastore
	if objects == nil {
		if opts.Dir != "" {
			dir, err := objstore.OpenDir(filepath.Join(opts.Dir, "objects"))
			if err != nil {
				return nil, fmt.Errorf("quarrystore: open object store: %w", err)
			}
			objects = dir
		} else {
			objects = objstore.NewMem()
		}
	}
	if metastore == nil {
		if opts.Dir != "" {
			file, err := meta.OpenFile(filepath.Join(opts.Dir, "meta"))
			if err != nil {
				return nil, fmt.Errorf("quarrystore: open metastore: %w", err)
			}
			metastore = file
		} else {
			metastore = meta.NewMem()
		}
	}

	maxRetries := opts.MaxCommitRetries
	if maxRetries <= 0 {
		maxRetries = DefaultOptions().MaxCommitRetries
	}
	ttl := opts.LeaseTTL
	if ttl <= 0 {
		ttl = DefaultOptions().LeaseTTL
	}
	fraction := opts.UndersizedFraction
	if fraction <= 0 || fraction > 1 {
		fraction = 1.0
	}

	return &Engine{
		objects:            objects,
		metastore:          metastore,
		logger:             logging.OrDefault(opts.Logger),
		maxCommitRetries:   maxRetries,
		leaseTTL:           ttl,
		undersizedFraction: fraction,
	}, nil
}

// CreateTable registers a table with its schema and storage options,
// publishing an empty genesis snapshot as version 1.
func (e *Engine) CreateTable(table string, sch Schema, topts TableOptions) error {
	if table == "" {
		return fmt.Errorf("quarrystore: table name must not be empty")
	}
	if err := sch.Validate(); err != nil {
		return fmt.Errorf("quarrystore: create %s: %w", table, err)
	}
	if err := topts.validate(); err != nil {
		return err
	}

	genesis := snapshot.NewEmpty(sch)
	if err := snapshot.Write(e.objects, genesis, topts.Compression, topts.Checksum); err != nil {
		return fmt.Errorf("quarrystore: create %s: %w", table, err)
	}
	err := e.metastore.CreateTable(table, meta.TableOptions{
		BlockPerSegment: topts.BlockPerSegment,
		RowPerBlock:     topts.RowPerBlock,
		Compression:     uint8(topts.Compression),
		Checksum:        uint8(topts.Checksum),
		LockEnabled:     topts.LockEnabled,
	}, genesis.Location)
	if err != nil {
		// The genesis record is already stored; on a duplicate table it
		// is an orphan for the collector, not a leak of table state.
		return err
	}
	e.logger.Infof(logging.NSEngine+"created table %s at snapshot %s", table, genesis.Location)
	return nil
}

// DropTable removes the table's metastore entry. Its objects become
// orphans for the external collector; readers holding a TableSnapshot
// keep working against the objects they already reference.
func (e *Engine) DropTable(table string) error {
	if err := e.metastore.DropTable(table); err != nil {
		return err
	}
	e.logger.Infof(logging.NSEngine+"dropped table %s", table)
	return nil
}

// Insert appends rows to the table as brand-new blocks and segments and
// publishes a snapshot containing them. Existing blocks are never
// edited; undersized trailing blocks are left for Compact. An empty
// batch is a no-op and publishes nothing.
func (e *Engine) Insert(ctx context.Context, table string, rows [][]Datum, wo WriteOptions) error {
	if len(rows) == 0 {
		return nil
	}
	topts, err := e.metastore.TableOptions(table)
	if err != nil {
		return err
	}
	base, err := e.currentSnapshot(table)
	if err != nil {
		return err
	}

	w := &block.Writer{
		Store:       e.objects,
		Schema:      base.Schema,
		RowPerBlock: topts.RowPerBlock,
		Compression: CompressionType(topts.Compression),
		Checksum:    ChecksumType(topts.Checksum),
	}
	blocks, err := w.WriteAll(rows)
	if err != nil {
		return fmt.Errorf("quarrystore: insert into %s: %w", table, err)
	}
	segs, err := segment.Seal(e.objects, blocks, topts.BlockPerSegment,
		CompressionType(topts.Compression), ChecksumType(topts.Checksum))
	if err != nil {
		return fmt.Errorf("quarrystore: insert into %s: %w", table, err)
	}
	e.logger.Debugf(logging.NSInsert+"%s: %d rows into %d blocks, %d segments",
		table, len(rows), len(blocks), len(segs))

	edit := commit.Edit{Added: segs, SchemaVersion: base.Schema.Version}
	snap, err := e.commit(ctx, table, topts, edit, wo)
	if err != nil {
		return err
	}
	e.logger.Infof(logging.NSInsert+"%s: committed %d rows at snapshot %d", table, len(rows), snap.ID)
	return nil
}

// Compact merges undersized blocks and segments of the table into
// fewer, fuller ones and publishes the result. At most limit undersized
// segments are merged per call (0 means all); fully packed segments are
// skipped without consuming the limit, so repeated bounded calls drain
// the whole table. Row count is always preserved. When nothing
// qualifies the call is a no-op and publishes nothing.
func (e *Engine) Compact(ctx context.Context, table string, limit int, wo WriteOptions) error {
	topts, err := e.metastore.TableOptions(table)
	if err != nil {
		return err
	}

	// With the lock engaged, planning happens under it too, so the
	// plan's inputs cannot be retired by a rival compaction.
	useLock := wo.UseTableLock || topts.LockEnabled
	holder := e.holderID(wo)
	if useLock {
		guard, err := lock.Acquire(ctx, e.metastore, table, holder, e.leaseTTL, wo.LockWait)
		if err != nil {
			return err
		}
		defer func() {
			if err := guard.Release(); err != nil {
				e.logger.Warnf(logging.NSLock+"release %s: %v", table, err)
			}
		}()
	}

	snap, err := e.currentSnapshot(table)
	if err != nil {
		return err
	}
	policy := compaction.Policy{
		RowPerBlock:          topts.RowPerBlock,
		BlockPerSegment:      topts.BlockPerSegment,
		MinBlockRowsFraction: e.undersizedFraction,
		Compression:          CompressionType(topts.Compression),
		Checksum:             ChecksumType(topts.Checksum),
	}
	plan, err := compaction.Pick(e.objects, snap, policy, limit)
	if err != nil {
		return fmt.Errorf("quarrystore: compact %s: %w", table, err)
	}
	if plan == nil {
		e.logger.Debugf(logging.NSCompact+"%s: nothing to merge", table)
		return nil
	}
	added, err := compaction.Run(e.objects, snap.Schema, plan, policy)
	if err != nil {
		return fmt.Errorf("quarrystore: compact %s: %w", table, err)
	}

	edit := commit.Edit{Added: added, Removed: plan.Removed, SchemaVersion: snap.Schema.Version}
	published, err := e.commit(ctx, table, topts, edit, WriteOptions{
		UseTableLock: useLock,
		LockWait:     wo.LockWait,
		Holder:       holder,
	})
	if err != nil {
		return err
	}
	e.logger.Infof(logging.NSCompact+"%s: merged %d segments into %d at snapshot %d",
		table, len(plan.Removed), len(added), published.ID)
	return nil
}

// commit routes a mutation through the commit protocol with the
// engine's retry and lock settings.
func (e *Engine) commit(ctx context.Context, table string, topts meta.TableOptions,
	edit commit.Edit, wo WriteOptions) (*snapshot.Snapshot, error) {

	c := &commit.Committer{
		Meta:       e.metastore,
		Store:      e.objects,
		MaxRetries: e.maxCommitRetries,
		Logger:     e.logger,
	}
	return c.Commit(ctx, table, edit, commit.Options{
		UseTableLock: wo.UseTableLock || topts.LockEnabled,
		Holder:       e.holderID(wo),
		LeaseTTL:     e.leaseTTL,
		LockWait:     wo.LockWait,
	})
}

// holderID returns the caller's lock identity, generating one per
// mutation when the caller does not care.
func (e *Engine) holderID(wo WriteOptions) string {
	if wo.Holder != "" {
		return wo.Holder
	}
	return fmt.Sprintf("writer-%d", e.holderSeq.Add(1))
}

// currentSnapshot captures the table's pointer once and loads the
// snapshot it names.
func (e *Engine) currentSnapshot(table string) (*snapshot.Snapshot, error) {
	pointer, err := e.metastore.SnapshotPointer(table)
	if err != nil {
		return nil, err
	}
	snap, err := snapshot.Load(e.objects, pointer)
	if err != nil {
		return nil, fmt.Errorf("quarrystore: load snapshot of %s: %w", table, err)
	}
	return snap, nil
}

// RowCount returns the table's current visible row count.
func (e *Engine) RowCount(table string) (uint64, error) {
	snap, err := e.currentSnapshot(table)
	if err != nil {
		return 0, err
	}
	return snap.TotalRows, nil
}

// ScanAll reads every visible row of the table through one consistent
// snapshot.
func (e *Engine) ScanAll(table string) ([][]Datum, error) {
	view, err := e.Snapshot(table)
	if err != nil {
		return nil, err
	}
	return view.Rows()
}
