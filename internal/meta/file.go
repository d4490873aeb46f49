package meta

// file.go implements a directory-backed metastore for single-process
// deployments.
//
// Layout, per table directory:
//
//	OPTIONS  — immutable key=value options, written once at create time
//	CURRENT  — the current snapshot location
//
// The pointer swap is made durable CURRENT-file style: write a temp
// file, fsync, rename over CURRENT, fsync the directory. Atomicity with
// respect to concurrent callers comes from the process-wide mutex, so
// this implementation serializes a single process's writers only; a
// shared metastore service replaces it in multi-process deployments.
// Leases are kept in memory — they are coordination state, not history.

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// File is a directory-backed metastore.
type File struct {
	mu     sync.Mutex
	root   string
	leases map[string]*Lease
}

const (
	optionsFileName = "OPTIONS"
	currentFileName = "CURRENT"
)

// OpenFile opens (creating if needed) a directory-backed metastore.
func OpenFile(root string) (*File, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("meta: open: %w", err)
	}
	return &File{root: root, leases: make(map[string]*Lease)}, nil
}

// tableDir maps a table name to its directory, rejecting names that
// would escape the root.
func (f *File) tableDir(table string) (string, error) {
	if table == "" || table != filepath.Base(table) || strings.HasPrefix(table, ".") {
		return "", fmt.Errorf("%w: %q", ErrTableNotFound, table)
	}
	return filepath.Join(f.root, table), nil
}

// CreateTable implements Store.
func (f *File) CreateTable(table string, opts TableOptions, pointer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir, err := f.tableDir(table)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("%w: %s", ErrTableExists, table)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("meta: create table: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "block_per_segment=%d\n", opts.BlockPerSegment)
	fmt.Fprintf(&sb, "row_per_block=%d\n", opts.RowPerBlock)
	fmt.Fprintf(&sb, "compression=%d\n", opts.Compression)
	fmt.Fprintf(&sb, "checksum=%d\n", opts.Checksum)
	fmt.Fprintf(&sb, "lock_enabled=%t\n", opts.LockEnabled)

	if err := writeFileDurable(filepath.Join(dir, optionsFileName), []byte(sb.String())); err != nil {
		return fmt.Errorf("meta: create table: %w", err)
	}
	if err := writeFileDurable(filepath.Join(dir, currentFileName), []byte(pointer)); err != nil {
		return fmt.Errorf("meta: create table: %w", err)
	}
	return nil
}

// DropTable implements Store.
func (f *File) DropTable(table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir, err := f.tableDir(table)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	delete(f.leases, table)
	return os.RemoveAll(dir)
}

// TableOptions implements Store.
func (f *File) TableOptions(table string) (TableOptions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir, err := f.tableDir(table)
	if err != nil {
		return TableOptions{}, err
	}
	data, err := os.ReadFile(filepath.Join(dir, optionsFileName))
	if err != nil {
		return TableOptions{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	var opts TableOptions
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "block_per_segment":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return TableOptions{}, fmt.Errorf("meta: bad options file for %s: %w", table, err)
			}
			opts.BlockPerSegment = uint32(n)
		case "row_per_block":
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return TableOptions{}, fmt.Errorf("meta: bad options file for %s: %w", table, err)
			}
			opts.RowPerBlock = n
		case "compression":
			n, err := strconv.ParseUint(value, 10, 8)
			if err != nil {
				return TableOptions{}, fmt.Errorf("meta: bad options file for %s: %w", table, err)
			}
			opts.Compression = uint8(n)
		case "checksum":
			n, err := strconv.ParseUint(value, 10, 8)
			if err != nil {
				return TableOptions{}, fmt.Errorf("meta: bad options file for %s: %w", table, err)
			}
			opts.Checksum = uint8(n)
		case "lock_enabled":
			opts.LockEnabled = value == "true"
		}
	}
	return opts, nil
}

// SnapshotPointer implements Store.
func (f *File) SnapshotPointer(table string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readPointerLocked(table)
}

func (f *File) readPointerLocked(table string) (string, error) {
	dir, err := f.tableDir(table)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(dir, currentFileName))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return string(data), nil
}

// CompareAndSwapPointer implements Store.
func (f *File) CompareAndSwapPointer(table, expected, next string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.readPointerLocked(table)
	if err != nil {
		return false, err
	}
	if current != expected {
		return false, nil
	}
	dir, err := f.tableDir(table)
	if err != nil {
		return false, err
	}
	if err := writeFileDurable(filepath.Join(dir, currentFileName), []byte(next)); err != nil {
		return false, fmt.Errorf("meta: pointer swap: %w", err)
	}
	return true, nil
}

// AcquireLease implements Store.
func (f *File) AcquireLease(table, holder string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.readPointerLocked(table); err != nil {
		return false, err
	}

	now := time.Now()
	if l := f.leases[table]; l != nil && l.Holder != holder && !l.Expired(now) {
		return false, nil
	}
	f.leases[table] = &Lease{Holder: holder, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	return true, nil
}

// ReleaseLease implements Store.
func (f *File) ReleaseLease(table, holder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l := f.leases[table]; l != nil && l.Holder == holder {
		delete(f.leases, table)
	}
	return nil
}

// writeFileDurable writes data via a temp file, fsyncs it, renames it
// into place and fsyncs the directory.
func writeFileDurable(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := path + ".tmp"

	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}
