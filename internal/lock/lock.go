// Package lock implements the cooperative table lock on top of the
// metastore's lease primitives.
//
// The lock is advisory. Writers that enable it serialize their commit
// attempts against each other; writers that skip it still commit safely
// through the pointer CAS, they just risk losing conflict races. A
// crashed holder never wedges the table: its lease expires and the next
// contender force-acquires.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aalhour/quarrystore/internal/meta"
)

// ErrLockTimeout is returned when the wait budget elapses before the
// lease is granted.
var ErrLockTimeout = errors.New("lock: wait budget exhausted")

// pollInterval bounds how often a blocked contender re-checks the lease.
const pollInterval = 10 * time.Millisecond

// Guard is a held table lease. Release it when the commit attempt
// reaches a terminal state, successful or not.
type Guard struct {
	store  meta.Store
	table  string
	holder string
}

// Acquire claims the table lease for holder, polling until granted, the
// wait budget elapses, or ctx is done. A zero wait budget means a
// single non-blocking attempt.
func Acquire(ctx context.Context, store meta.Store, table, holder string, ttl, wait time.Duration) (*Guard, error) {
	deadline := time.Now().Add(wait)
	for {
		ok, err := store.AcquireLease(table, holder, ttl)
		if err != nil {
			return nil, fmt.Errorf("lock: acquire %s: %w", table, err)
		}
		if ok {
			return &Guard{store: store, table: table, holder: holder}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: table %s held by another writer", ErrLockTimeout, table)
		}
		sleep := pollInterval
		if remaining < sleep {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// Release drops the lease. Safe to call if the lease already expired
// and was claimed by someone else; the metastore ignores releases by
// non-holders.
func (g *Guard) Release() error {
	if g == nil {
		return nil
	}
	return g.store.ReleaseLease(g.table, g.holder)
}
