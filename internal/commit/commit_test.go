package commit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aalhour/quarrystore/internal/checksum"
	"github.com/aalhour/quarrystore/internal/compression"
	"github.com/aalhour/quarrystore/internal/lock"
	"github.com/aalhour/quarrystore/internal/logging"
	"github.com/aalhour/quarrystore/internal/meta"
	"github.com/aalhour/quarrystore/internal/objstore"
	"github.com/aalhour/quarrystore/internal/schema"
	"github.com/aalhour/quarrystore/internal/segment"
	"github.com/aalhour/quarrystore/internal/snapshot"
)

func testSchema() schema.Schema {
	return schema.New(schema.Column{Name: "id", Type: schema.TypeInt64})
}

func segRef(loc string, rows uint64) segment.Ref {
	return segment.Ref{Location: loc, RowCount: rows, Size: rows * 8, BlockCount: 1, ColumnCount: 1}
}

// newTable writes a genesis snapshot and registers the table, returning
// the stores a committer needs.
func newTable(t *testing.T, lockEnabled bool) (meta.Store, objstore.Store) {
	t.Helper()
	objs := objstore.NewMem()
	metas := meta.NewMem()

	genesis := snapshot.NewEmpty(testSchema())
	if err := snapshot.Write(objs, genesis, compression.None, checksum.KindXXH3); err != nil {
		t.Fatal(err)
	}
	opts := meta.TableOptions{
		BlockPerSegment: 2,
		RowPerBlock:     4,
		Compression:     uint8(compression.None),
		Checksum:        uint8(checksum.KindXXH3),
		LockEnabled:     lockEnabled,
	}
	if err := metas.CreateTable("t1", opts, genesis.Location); err != nil {
		t.Fatal(err)
	}
	return metas, objs
}

// casHook intercepts pointer swaps for race injection.
type casHook struct {
	meta.Store
	before func()
}

func (h *casHook) CompareAndSwapPointer(table, expected, next string) (bool, error) {
	if h.before != nil {
		h.before()
	}
	return h.Store.CompareAndSwapPointer(table, expected, next)
}

func TestCommitAddOnly(t *testing.T) {
	metas, objs := newTable(t, false)
	c := &Committer{Meta: metas, Store: objs, MaxRetries: 3, Logger: logging.Discard}

	edit := Edit{Added: []segment.Ref{segRef("seg-1", 5)}, SchemaVersion: 1}
	snap, err := c.Commit(context.Background(), "t1", edit, Options{})
	if err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if snap.TotalRows != 5 || len(snap.Segments) != 1 {
		t.Errorf("published snapshot: rows %d, segments %d", snap.TotalRows, len(snap.Segments))
	}

	ptr, err := metas.SnapshotPointer("t1")
	if err != nil {
		t.Fatal(err)
	}
	if ptr != snap.Location {
		t.Errorf("pointer = %q, want %q", ptr, snap.Location)
	}
	reloaded, err := snapshot.Load(objs, ptr)
	if err != nil {
		t.Fatalf("Load published snapshot: %v", err)
	}
	if reloaded.ID != 2 || reloaded.TotalRows != 5 {
		t.Errorf("reloaded: ID %d, rows %d", reloaded.ID, reloaded.TotalRows)
	}
}

func TestCommitLogsCandidateAssembly(t *testing.T) {
	metas, objs := newTable(t, false)

	var buf bytes.Buffer
	c := &Committer{
		Meta:       metas,
		Store:      objs,
		MaxRetries: 3,
		Logger:     logging.NewLogger(&buf, logging.LevelDebug),
	}

	edit := Edit{Added: []segment.Ref{segRef("seg-1", 5)}, SchemaVersion: 1}
	if _, err := c.Commit(context.Background(), "t1", edit, Options{}); err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, logging.NSSnapshot) {
		t.Errorf("log output missing %q namespace:\n%s", logging.NSSnapshot, out)
	}
	if !strings.Contains(out, logging.NSCommit) {
		t.Errorf("log output missing %q namespace:\n%s", logging.NSCommit, out)
	}
}

func TestCommitRebasesOnConflict(t *testing.T) {
	metas, objs := newTable(t, false)

	// A rival edit published between our planning and our swap.
	basePtr, _ := metas.SnapshotPointer("t1")
	base, err := snapshot.Load(objs, basePtr)
	if err != nil {
		t.Fatal(err)
	}
	rival, err := snapshot.Assemble(base, []segment.Ref{segRef("seg-rival", 3)}, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := snapshot.Write(objs, rival, compression.None, checksum.KindXXH3); err != nil {
		t.Fatal(err)
	}

	var once sync.Once
	hooked := &casHook{Store: metas}
	hooked.before = func() {
		once.Do(func() {
			if ok, err := metas.CompareAndSwapPointer("t1", basePtr, rival.Location); err != nil || !ok {
				t.Errorf("rival swap = %v, %v", ok, err)
			}
		})
	}

	c := &Committer{Meta: hooked, Store: objs, MaxRetries: 3, Logger: logging.Discard}
	edit := Edit{Added: []segment.Ref{segRef("seg-ours", 5)}, SchemaVersion: 1}
	snap, err := c.Commit(context.Background(), "t1", edit, Options{})
	if err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	// Both edits survive: ours rebased on the rival's snapshot.
	if snap.TotalRows != 8 || len(snap.Segments) != 2 {
		t.Errorf("rebased snapshot: rows %d, segments %d, want 8 rows in 2 segments",
			snap.TotalRows, len(snap.Segments))
	}
	if snap.Parent != rival.Location {
		t.Errorf("Parent = %q, want rival %q", snap.Parent, rival.Location)
	}
}

func TestCommitConflictExhausted(t *testing.T) {
	metas, objs := newTable(t, false)

	// Every attempt loses: the hook advances the pointer right before
	// each swap.
	n := 0
	hooked := &casHook{Store: metas}
	hooked.before = func() {
		n++
		ptr, _ := metas.SnapshotPointer("t1")
		base, err := snapshot.Load(objs, ptr)
		if err != nil {
			t.Error(err)
			return
		}
		rival, err := snapshot.Assemble(base, []segment.Ref{segRef(fmt.Sprintf("seg-rival-%d", n), 1)}, nil, 1)
		if err != nil {
			t.Error(err)
			return
		}
		if err := snapshot.Write(objs, rival, compression.None, checksum.KindXXH3); err != nil {
			t.Error(err)
			return
		}
		if ok, _ := metas.CompareAndSwapPointer("t1", ptr, rival.Location); !ok {
			t.Error("rival swap lost")
		}
	}

	c := &Committer{Meta: hooked, Store: objs, MaxRetries: 2, Logger: logging.Discard}
	edit := Edit{Added: []segment.Ref{segRef("seg-ours", 5)}, SchemaVersion: 1}
	_, err := c.Commit(context.Background(), "t1", edit, Options{})
	if !errors.Is(err, ErrConflictExhausted) {
		t.Fatalf("err = %v, want ErrConflictExhausted", err)
	}
	if n != 3 {
		t.Errorf("attempts = %d, want MaxRetries+1 = 3", n)
	}
}

func TestCommitStaleRemovalRetriesThenExhausts(t *testing.T) {
	metas, objs := newTable(t, false)
	c := &Committer{Meta: metas, Store: objs, MaxRetries: 1, Logger: logging.Discard}

	// Removing a segment the base never had behaves like losing a race
	// with whoever retired it.
	edit := Edit{Removed: []segment.Ref{segRef("seg-gone", 2)}, SchemaVersion: 1}
	_, err := c.Commit(context.Background(), "t1", edit, Options{})
	if !errors.Is(err, ErrConflictExhausted) {
		t.Errorf("err = %v, want ErrConflictExhausted", err)
	}
}

func TestCommitHonorsContext(t *testing.T) {
	metas, objs := newTable(t, false)
	c := &Committer{Meta: metas, Store: objs, MaxRetries: 3, Logger: logging.Discard}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	before, _ := metas.SnapshotPointer("t1")
	edit := Edit{Added: []segment.Ref{segRef("seg-1", 5)}, SchemaVersion: 1}
	if _, err := c.Commit(ctx, "t1", edit, Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	after, _ := metas.SnapshotPointer("t1")
	if before != after {
		t.Error("canceled commit moved the pointer")
	}
}

func TestLockedCommitSerializes(t *testing.T) {
	metas, objs := newTable(t, true)

	// Zero retries: under the lock every first swap must succeed.
	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &Committer{Meta: metas, Store: objs, MaxRetries: 0, Logger: logging.Discard}
			edit := Edit{Added: []segment.Ref{segRef(fmt.Sprintf("seg-%d", i), 2)}, SchemaVersion: 1}
			_, errs[i] = c.Commit(context.Background(), "t1", edit, Options{
				UseTableLock: true,
				Holder:       fmt.Sprintf("writer-%d", i),
				LeaseTTL:     time.Minute,
				LockWait:     5 * time.Second,
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
	}

	ptr, _ := metas.SnapshotPointer("t1")
	final, err := snapshot.Load(objs, ptr)
	if err != nil {
		t.Fatal(err)
	}
	if final.TotalRows != writers*2 || len(final.Segments) != writers {
		t.Errorf("final snapshot: rows %d, segments %d, want %d rows in %d segments",
			final.TotalRows, len(final.Segments), writers*2, writers)
	}
}

func TestLockedCommitReleasesOnFailure(t *testing.T) {
	metas, objs := newTable(t, true)

	// Force a terminal failure by making every swap lose.
	hooked := &casHook{Store: metas}
	hooked.before = func() {
		ptr, _ := metas.SnapshotPointer("t1")
		base, _ := snapshot.Load(objs, ptr)
		rival, _ := snapshot.Assemble(base, []segment.Ref{segRef("seg-rival", 1)}, nil, 1)
		_ = snapshot.Write(objs, rival, compression.None, checksum.KindXXH3)
		_, _ = metas.CompareAndSwapPointer("t1", ptr, rival.Location)
	}

	c := &Committer{Meta: hooked, Store: objs, MaxRetries: 0, Logger: logging.Discard}
	edit := Edit{Added: []segment.Ref{segRef("seg-ours", 5)}, SchemaVersion: 1}
	_, err := c.Commit(context.Background(), "t1", edit, Options{
		UseTableLock: true,
		Holder:       "loser",
		LeaseTTL:     time.Minute,
		LockWait:     time.Second,
	})
	if !errors.Is(err, ErrConflictExhausted) {
		t.Fatalf("err = %v, want ErrConflictExhausted", err)
	}

	// The lease must be free again after the terminal outcome.
	g, err := lock.Acquire(context.Background(), metas, "t1", "next-writer", time.Minute, 0)
	if err != nil {
		t.Fatalf("lease still held after failed commit: %v", err)
	}
	_ = g.Release()
}
