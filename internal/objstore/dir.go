package objstore

// dir.go implements a directory-backed object store: one file per object.
//
// Durability contract: Put writes to a temporary file, fsyncs it, renames
// it into place and fsyncs the directory before returning. The commit
// protocol depends on stored objects being durable before the snapshot
// pointer moves.

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Dir is a Store backed by a directory on the local filesystem.
type Dir struct {
	mu   sync.Mutex
	path string
	next uint64
}

// objPrefix is the filename prefix for stored objects.
const objPrefix = "obj-"

// OpenDir opens (creating if needed) a directory-backed object store.
// Existing objects are preserved; new locations continue after the
// highest existing object number.
func OpenDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("objstore: open dir: %w", err)
	}

	d := &Dir{path: path}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("objstore: open dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, objPrefix) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(name, objPrefix), 16, 64)
		if err != nil {
			continue
		}
		if n > d.next {
			d.next = n
		}
	}
	return d, nil
}

// Put durably stores data as a new object file.
func (d *Dir) Put(data []byte) (string, error) {
	d.mu.Lock()
	d.next++
	name := fmt.Sprintf("%s%016x", objPrefix, d.next)
	d.mu.Unlock()

	tmp := filepath.Join(d.path, name+".tmp")
	final := filepath.Join(d.path, name)

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("objstore: put: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("objstore: put: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("objstore: put: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("objstore: put: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("objstore: put: %w", err)
	}
	if err := syncDir(d.path); err != nil {
		return "", fmt.Errorf("objstore: put: %w", err)
	}
	return name, nil
}

// Get returns the object stored at location.
func (d *Dir) Get(location string) ([]byte, error) {
	// Locations are bare filenames; reject anything that escapes the dir.
	if location != filepath.Base(location) || !strings.HasPrefix(location, objPrefix) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	data, err := os.ReadFile(filepath.Join(d.path, location))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return nil, fmt.Errorf("objstore: get: %w", err)
	}
	return data, nil
}

// syncDir fsyncs a directory so a completed rename is durable.
func syncDir(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return f.Sync()
}
