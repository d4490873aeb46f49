// Package commit implements the optimistic publication protocol.
//
// Every mutation funnels through the same state machine:
//
//	Planning -> BuildCandidate -> TryCommit -> Committed
//	                                 |            (terminal)
//	                                 +-> Conflict -> Planning (bounded)
//	                                 +-> Failed      (terminal)
//
// Planning reads the table's current snapshot pointer and loads the
// base snapshot. BuildCandidate layers the caller's edit on the base
// and persists the candidate record. TryCommit is one compare-and-swap
// of the pointer from the base's location to the candidate's. A lost
// race moves the pointer under us; the protocol reloads the new base,
// re-applies the same edit, and tries again up to MaxRetries, after
// which the caller sees ErrConflictExhausted and may re-run the whole
// mutation. Abandoned candidates are orphans for the external
// collector; they are never reachable from a published pointer.
package commit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aalhour/quarrystore/internal/checksum"
	"github.com/aalhour/quarrystore/internal/compression"
	"github.com/aalhour/quarrystore/internal/lock"
	"github.com/aalhour/quarrystore/internal/logging"
	"github.com/aalhour/quarrystore/internal/meta"
	"github.com/aalhour/quarrystore/internal/objstore"
	"github.com/aalhour/quarrystore/internal/segment"
	"github.com/aalhour/quarrystore/internal/snapshot"
)

// ErrConflictExhausted is returned after MaxRetries lost races. It is
// retryable: the table is healthy, the writer just kept losing.
var ErrConflictExhausted = errors.New("commit: conflict retries exhausted")

// state tracks the protocol position for one attempt.
type state int

const (
	statePlanning state = iota
	stateBuildCandidate
	stateTryCommit
	stateCommitted
	stateConflict
	stateFailed
)

func (s state) String() string {
	switch s {
	case statePlanning:
		return "planning"
	case stateBuildCandidate:
		return "build-candidate"
	case stateTryCommit:
		return "try-commit"
	case stateCommitted:
		return "committed"
	case stateConflict:
		return "conflict"
	default:
		return "failed"
	}
}

// Edit is the mutation to publish: segments to append and segments to
// retire, always both valid against the given schema version. The same
// edit can be re-applied to successive bases, which is what makes
// conflict retry sound.
type Edit struct {
	Added         []segment.Ref
	Removed       []segment.Ref
	SchemaVersion uint32
}

// Options control one Commit call.
type Options struct {
	// UseTableLock serializes this commit behind the table lease.
	// Under the lock the first compare-and-swap always succeeds.
	UseTableLock bool

	// Holder identifies this writer for lease bookkeeping.
	Holder string

	// LeaseTTL bounds how long a crashed holder blocks the table.
	LeaseTTL time.Duration

	// LockWait is the budget for acquiring a contended lease.
	LockWait time.Duration
}

// Committer publishes edits against a table's snapshot chain.
type Committer struct {
	Meta       meta.Store
	Store      objstore.Store
	MaxRetries int
	Logger     logging.Logger
}

// Commit runs the protocol for one edit and returns the published
// snapshot. Blocking happens only at lease acquisition (bounded by
// opts.LockWait) and the pointer swap; ctx is honored at both points.
func (c *Committer) Commit(ctx context.Context, table string, edit Edit, opts Options) (*snapshot.Snapshot, error) {
	logger := logging.OrDefault(c.Logger)

	if opts.UseTableLock {
		guard, err := lock.Acquire(ctx, c.Meta, table, opts.Holder, opts.LeaseTTL, opts.LockWait)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := guard.Release(); err != nil {
				logger.Warnf(logging.NSLock+"release %s: %v", table, err)
			}
		}()
	}

	topts, err := c.Meta.TableOptions(table)
	if err != nil {
		return nil, err
	}
	ct := compression.Type(topts.Compression)
	ck := checksum.Kind(topts.Checksum)

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		snap, conflicted, err := c.attempt(ctx, table, edit, ct, ck)
		if err != nil {
			return nil, err
		}
		if !conflicted {
			logger.Debugf(logging.NSCommit+"%s: %s at snapshot %d (attempt %d)",
				table, stateCommitted, snap.ID, attempt+1)
			return snap, nil
		}
		logger.Infof(logging.NSCommit+"%s: %s on attempt %d, pointer moved", table, stateConflict, attempt+1)
	}

	logger.Warnf(logging.NSCommit+"%s: %s after %d attempts", table, stateFailed, c.MaxRetries+1)
	return nil, fmt.Errorf("%w: table %s after %d attempts", ErrConflictExhausted, table, c.MaxRetries+1)
}

// attempt runs one pass of the state machine. The conflicted return is
// true when the pointer moved between Planning and TryCommit.
func (c *Committer) attempt(ctx context.Context, table string, edit Edit,
	ct compression.Type, ck checksum.Kind) (*snapshot.Snapshot, bool, error) {

	// Planning: capture the base once.
	pointer, err := c.Meta.SnapshotPointer(table)
	if err != nil {
		return nil, false, err
	}
	base, err := snapshot.Load(c.Store, pointer)
	if err != nil {
		return nil, false, fmt.Errorf("commit: load base %s: %w", pointer, err)
	}

	// BuildCandidate: layer the edit and persist the record. A stale
	// removal here means our base lost the segments we meant to retire;
	// that is a conflict with whoever compacted them, not a failure of
	// the edit itself.
	cand, err := snapshot.Assemble(base, edit.Added, edit.Removed, edit.SchemaVersion)
	if err != nil {
		if errors.Is(err, snapshot.ErrSegmentNotInBase) {
			return nil, true, nil
		}
		return nil, false, err
	}
	if err := snapshot.Write(c.Store, cand, ct, ck); err != nil {
		return nil, false, err
	}
	logging.OrDefault(c.Logger).Debugf(logging.NSSnapshot+"%s: candidate %d assembled on base %d (%d added, %d removed)",
		table, cand.ID, base.ID, len(edit.Added), len(edit.Removed))

	// TryCommit: one swap, ctx checked first so a canceled caller never
	// publishes.
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	ok, err := c.Meta.CompareAndSwapPointer(table, pointer, cand.Location)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, true, nil
	}
	return cand, false, nil
}
