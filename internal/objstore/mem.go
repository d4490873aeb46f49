package objstore

// mem.go implements an in-memory object store for tests and embedded use.

import (
	"bytes"
	"fmt"
	"sync"
)

// Mem is an in-memory Store. Safe for concurrent use.
type Mem struct {
	mu      sync.Mutex
	objects map[string][]byte
	next    uint64
}

// NewMem creates an empty in-memory object store.
func NewMem() *Mem {
	return &Mem{objects: make(map[string][]byte)}
}

// Put stores data under a fresh location.
func (m *Mem) Put(data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	location := fmt.Sprintf("mem/%016x", m.next)
	m.objects[location] = bytes.Clone(data)
	return location, nil
}

// Get returns the object at location.
func (m *Mem) Get(location string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[location]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	return bytes.Clone(data), nil
}

// Len returns the number of stored objects.
func (m *Mem) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// Corrupt flips one byte of the object at location. Testing aid for
// corruption-containment scenarios; returns false if the location is
// unknown or the object is empty.
func (m *Mem) Corrupt(location string, offset int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[location]
	if !ok || len(data) == 0 {
		return false
	}
	data[offset%len(data)] ^= 0xFF
	return true
}
