package quarrystore

// snapshot.go implements read-side snapshot views and history listing.

import (
	"fmt"
	"time"

	"github.com/aalhour/quarrystore/internal/block"
	"github.com/aalhour/quarrystore/internal/objstore"
	"github.com/aalhour/quarrystore/internal/schema"
	"github.com/aalhour/quarrystore/internal/segment"
	"github.com/aalhour/quarrystore/internal/snapshot"
)

// TableSnapshot is a consistent read view of one table version. The
// snapshot pointer is captured exactly once, when Engine.Snapshot is
// called; commits published afterwards are invisible through this view,
// even mid-scan. Safe for concurrent use.
type TableSnapshot struct {
	objects objstore.Store
	snap    *snapshot.Snapshot
}

// Snapshot captures the table's current version for reading.
func (e *Engine) Snapshot(table string) (*TableSnapshot, error) {
	snap, err := e.currentSnapshot(table)
	if err != nil {
		return nil, err
	}
	return &TableSnapshot{objects: e.objects, snap: snap}, nil
}

// ID returns the table-local version number.
func (s *TableSnapshot) ID() uint64 { return s.snap.ID }

// Location returns the snapshot record's object-store location.
func (s *TableSnapshot) Location() string { return s.snap.Location }

// Schema returns the schema this version was written under.
func (s *TableSnapshot) Schema() Schema { return s.snap.Schema }

// RowCount returns the version's total row count without reading data.
func (s *TableSnapshot) RowCount() uint64 { return s.snap.TotalRows }

// Size returns the version's total stored byte size.
func (s *TableSnapshot) Size() uint64 { return s.snap.TotalSize }

// SegmentCount returns the number of segments in this version.
func (s *TableSnapshot) SegmentCount() int { return len(s.snap.Segments) }

// CreatedAt returns the snapshot's creation time.
func (s *TableSnapshot) CreatedAt() time.Time { return time.Unix(0, s.snap.CreatedAt) }

// Rows reads every row of this version, in segment then block order.
func (s *TableSnapshot) Rows() ([][]Datum, error) {
	rows := make([][]Datum, 0, s.snap.TotalRows)
	err := s.eachBlock(func(b block.Ref) error {
		batch, err := block.Read(s.objects, b)
		if err != nil {
			return err
		}
		rows = append(rows, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ColumnStats aggregates per-column statistics over this version.
type ColumnStats struct {
	Name      string
	Min       Datum
	Max       Datum
	NullCount uint64
}

// Stats returns per-column min, max and null counts aggregated over
// every block of this version, computed from block references alone
// without reading row data.
func (s *TableSnapshot) Stats() ([]ColumnStats, error) {
	cols := s.snap.Schema.Columns
	stats := make([]ColumnStats, len(cols))
	for i, c := range cols {
		stats[i].Name = c.Name
		stats[i].Min = NullDatum(c.Type)
		stats[i].Max = NullDatum(c.Type)
	}

	err := s.eachBlock(func(b block.Ref) error {
		if len(b.Columns) != len(cols) {
			return fmt.Errorf("quarrystore: block %s has %d column stats, schema has %d columns",
				b.Location, len(b.Columns), len(cols))
		}
		for i, cs := range b.Columns {
			stats[i].NullCount += cs.NullCount
			if !cs.Min.Null && (stats[i].Min.Null || schema.Compare(cs.Min, stats[i].Min) < 0) {
				stats[i].Min = cs.Min
			}
			if !cs.Max.Null && (stats[i].Max.Null || schema.Compare(cs.Max, stats[i].Max) > 0) {
				stats[i].Max = cs.Max
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// eachBlock walks this version's blocks in segment order.
func (s *TableSnapshot) eachBlock(fn func(block.Ref) error) error {
	for _, ref := range s.snap.Segments {
		seg, err := segment.Load(s.objects, ref)
		if err != nil {
			return fmt.Errorf("quarrystore: load segment %s: %w", ref.Location, err)
		}
		for _, b := range seg.Blocks {
			if err := fn(b); err != nil {
				return err
			}
		}
	}
	return nil
}

// SnapshotInfo summarizes one version in a table's history.
type SnapshotInfo struct {
	ID        uint64
	Location  string
	Parent    string
	Rows      uint64
	Size      uint64
	Segments  int
	CreatedAt time.Time
}

// History lists the table's versions newest first, walking parent
// references from the current snapshot. At most limit entries are
// returned (0 means all reachable versions).
func (e *Engine) History(table string, limit int) ([]SnapshotInfo, error) {
	pointer, err := e.metastore.SnapshotPointer(table)
	if err != nil {
		return nil, err
	}
	var infos []SnapshotInfo
	err = snapshot.Lineage(e.objects, pointer, limit, func(s *snapshot.Snapshot) bool {
		infos = append(infos, SnapshotInfo{
			ID:        s.ID,
			Location:  s.Location,
			Parent:    s.Parent,
			Rows:      s.TotalRows,
			Size:      s.TotalSize,
			Segments:  len(s.Segments),
			CreatedAt: time.Unix(0, s.CreatedAt),
		})
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("quarrystore: history of %s: %w", table, err)
	}
	return infos, nil
}
