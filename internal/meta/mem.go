package meta

// mem.go implements an in-memory metastore for tests and embedded use.
// CAS is implemented with a plain mutex: the pointer swap and the lease
// grant are each a single critical section.

import (
	"fmt"
	"sync"
	"time"
)

// tableState is the mutable record for one table.
type tableState struct {
	opts    TableOptions
	pointer string
	lease   *Lease
}

// Mem is an in-memory metastore. Safe for concurrent use.
type Mem struct {
	mu     sync.Mutex
	tables map[string]*tableState
}

// NewMem creates an empty in-memory metastore.
func NewMem() *Mem {
	return &Mem{tables: make(map[string]*tableState)}
}

// CreateTable implements Store.
func (m *Mem) CreateTable(table string, opts TableOptions, pointer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[table]; ok {
		return fmt.Errorf("%w: %s", ErrTableExists, table)
	}
	m.tables[table] = &tableState{opts: opts, pointer: pointer}
	return nil
}

// DropTable implements Store.
func (m *Mem) DropTable(table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[table]; !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	delete(m.tables, table)
	return nil
}

// TableOptions implements Store.
func (m *Mem) TableOptions(table string) (TableOptions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.tables[table]
	if !ok {
		return TableOptions{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return ts.opts, nil
}

// SnapshotPointer implements Store.
func (m *Mem) SnapshotPointer(table string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.tables[table]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return ts.pointer, nil
}

// CompareAndSwapPointer implements Store.
func (m *Mem) CompareAndSwapPointer(table, expected, next string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.tables[table]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if ts.pointer != expected {
		return false, nil
	}
	ts.pointer = next
	return true, nil
}

// AcquireLease implements Store.
func (m *Mem) AcquireLease(table, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.tables[table]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	now := time.Now()
	if ts.lease != nil && ts.lease.Holder != holder && !ts.lease.Expired(now) {
		return false, nil
	}
	ts.lease = &Lease{
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	return true, nil
}

// ReleaseLease implements Store.
func (m *Mem) ReleaseLease(table, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if ts.lease != nil && ts.lease.Holder == holder {
		ts.lease = nil
	}
	return nil
}
