package snapshot

import (
	"errors"
	"testing"

	"github.com/aalhour/quarrystore/internal/checksum"
	"github.com/aalhour/quarrystore/internal/compression"
	"github.com/aalhour/quarrystore/internal/objstore"
	"github.com/aalhour/quarrystore/internal/schema"
	"github.com/aalhour/quarrystore/internal/segment"
)

func testSchema() schema.Schema {
	return schema.New(
		schema.Column{Name: "id", Type: schema.TypeInt64},
		schema.Column{Name: "name", Type: schema.TypeString},
	)
}

func segRef(loc string, rows uint64, blocks uint32) segment.Ref {
	// ColumnCount matches testSchema's two columns.
	return segment.Ref{Location: loc, RowCount: rows, Size: rows * 16, BlockCount: blocks, ColumnCount: 2}
}

func TestAssembleAddOnly(t *testing.T) {
	base := NewEmpty(testSchema())
	base.Location = "snap-base"

	added := []segment.Ref{segRef("seg-1", 10, 2), segRef("seg-2", 5, 1)}
	got, err := Assemble(base, added, nil, base.Schema.Version)
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}

	if got.ID != base.ID+1 {
		t.Errorf("ID = %d, want %d", got.ID, base.ID+1)
	}
	if got.Parent != "snap-base" {
		t.Errorf("Parent = %q, want snap-base", got.Parent)
	}
	if got.TotalRows != 15 {
		t.Errorf("TotalRows = %d, want 15", got.TotalRows)
	}
	if len(got.Segments) != 2 {
		t.Errorf("Segments = %d, want 2", len(got.Segments))
	}
	if got.Location != "" {
		t.Error("candidate must not have a location before Write")
	}
}

func TestAssembleAddRemove(t *testing.T) {
	base := NewEmpty(testSchema())
	base.Location = "snap-base"
	base.Segments = []segment.Ref{segRef("seg-a", 4, 2), segRef("seg-b", 6, 3), segRef("seg-c", 2, 1)}
	base.TotalRows = 12

	added := []segment.Ref{segRef("seg-m", 10, 1)}
	removed := []segment.Ref{segRef("seg-a", 4, 2), segRef("seg-b", 6, 3)}

	got, err := Assemble(base, added, removed, base.Schema.Version)
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}

	if len(got.Segments) != 2 {
		t.Fatalf("Segments = %d, want 2", len(got.Segments))
	}
	// Survivors keep their order; additions are appended.
	if got.Segments[0].Location != "seg-c" || got.Segments[1].Location != "seg-m" {
		t.Errorf("segment order = [%s %s], want [seg-c seg-m]",
			got.Segments[0].Location, got.Segments[1].Location)
	}
	if got.TotalRows != 12 {
		t.Errorf("TotalRows = %d, want 12", got.TotalRows)
	}
}

func TestAssembleSchemaMismatch(t *testing.T) {
	base := NewEmpty(testSchema())
	_, err := Assemble(base, []segment.Ref{segRef("seg-1", 1, 1)}, nil, base.Schema.Version+1)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("err = %v, want ErrSchemaMismatch", err)
	}
}

func TestAssembleColumnArityMismatch(t *testing.T) {
	base := NewEmpty(testSchema())

	narrow := segRef("seg-1", 1, 1)
	narrow.ColumnCount = 1
	_, err := Assemble(base, []segment.Ref{narrow}, nil, base.Schema.Version)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("err = %v, want ErrSchemaMismatch", err)
	}
}

func TestAssembleStaleRemoval(t *testing.T) {
	base := NewEmpty(testSchema())
	base.Segments = []segment.Ref{segRef("seg-a", 4, 2)}
	base.TotalRows = 4

	removed := []segment.Ref{segRef("seg-gone", 9, 1)}
	_, err := Assemble(base, nil, removed, base.Schema.Version)
	if !errors.Is(err, ErrSegmentNotInBase) {
		t.Errorf("err = %v, want ErrSegmentNotInBase", err)
	}
}

func TestWriteLoadRoundtrip(t *testing.T) {
	store := objstore.NewMem()

	snap := NewEmpty(testSchema())
	snap.Segments = []segment.Ref{segRef("seg-1", 7, 2), segRef("seg-2", 3, 1)}
	snap.TotalRows = 10
	snap.TotalSize = 160
	snap.Parent = "snap-parent"
	snap.ID = 42

	if err := Write(store, snap, compression.Snappy, checksum.KindXXH3); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if snap.Location == "" {
		t.Fatal("Write did not set Location")
	}

	got, err := Load(store, snap.Location)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got.ID != 42 || got.Parent != "snap-parent" || got.TotalRows != 10 {
		t.Errorf("Load = ID %d Parent %q TotalRows %d", got.ID, got.Parent, got.TotalRows)
	}
	if got.Location != snap.Location {
		t.Errorf("Location = %q, want %q", got.Location, snap.Location)
	}
	if got.Schema.Version != 1 || got.Schema.NumColumns() != 2 {
		t.Errorf("Schema = v%d with %d columns", got.Schema.Version, got.Schema.NumColumns())
	}
	if len(got.Segments) != 2 || got.Segments[0] != snap.Segments[0] {
		t.Errorf("Segments = %+v", got.Segments)
	}
	if got.CreatedAt != snap.CreatedAt {
		t.Errorf("CreatedAt = %d, want %d", got.CreatedAt, snap.CreatedAt)
	}
}

func TestLoadDetectsCorruption(t *testing.T) {
	store := objstore.NewMem()
	snap := NewEmpty(testSchema())
	if err := Write(store, snap, compression.None, checksum.KindCRC32C); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	if !store.Corrupt(snap.Location, 9) {
		t.Fatal("Corrupt failed")
	}
	if _, err := Load(store, snap.Location); !errors.Is(err, ErrCorruptSnapshot) {
		t.Errorf("Load corrupted record: err = %v, want ErrCorruptSnapshot", err)
	}
}

func TestLineageWalk(t *testing.T) {
	store := objstore.NewMem()

	// Build a three-snapshot chain.
	s1 := NewEmpty(testSchema())
	if err := Write(store, s1, compression.None, checksum.KindXXH3); err != nil {
		t.Fatal(err)
	}
	s2, err := Assemble(s1, []segment.Ref{segRef("seg-1", 5, 1)}, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := Write(store, s2, compression.None, checksum.KindXXH3); err != nil {
		t.Fatal(err)
	}
	s3, err := Assemble(s2, []segment.Ref{segRef("seg-2", 3, 1)}, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := Write(store, s3, compression.None, checksum.KindXXH3); err != nil {
		t.Fatal(err)
	}

	var ids []uint64
	err = Lineage(store, s3.Location, 0, func(s *Snapshot) bool {
		ids = append(ids, s.ID)
		return true
	})
	if err != nil {
		t.Fatalf("Lineage error: %v", err)
	}
	if len(ids) != 3 || ids[0] != 3 || ids[1] != 2 || ids[2] != 1 {
		t.Errorf("lineage IDs = %v, want [3 2 1]", ids)
	}

	// Bounded walk.
	ids = nil
	err = Lineage(store, s3.Location, 2, func(s *Snapshot) bool {
		ids = append(ids, s.ID)
		return true
	})
	if err != nil {
		t.Fatalf("Lineage error: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("bounded lineage returned %d snapshots, want 2", len(ids))
	}

	// Early stop.
	calls := 0
	err = Lineage(store, s3.Location, 0, func(s *Snapshot) bool {
		calls++
		return false
	})
	if err != nil || calls != 1 {
		t.Errorf("early stop: calls = %d, err = %v", calls, err)
	}
}

func TestDecodeGarbage(t *testing.T) {
	for _, p := range [][]byte{nil, {1, 2}, []byte("not a snapshot record")} {
		if _, err := decode(p); !errors.Is(err, ErrCorruptSnapshot) {
			t.Errorf("decode(%d bytes): err = %v, want ErrCorruptSnapshot", len(p), err)
		}
	}
}
