// Package snapshot implements immutable table versions.
//
// A snapshot is a complete, self-contained description of a table at one
// version: its schema, its segment list, aggregate statistics, and a
// reference to the immediately preceding snapshot. Snapshots form a
// singly-linked history; superseded snapshots remain readable until an
// external collector removes them.
//
// Record payload format (before the object-store envelope):
//
//	magic:   uint32 (fixed)
//	version: varint32
//	tagged records, each starting with a varint32 tag:
//	  TagID:        varint64
//	  TagParent:    location (length-prefixed; empty = genesis)
//	  TagCreatedAt: varint64 (unix nanoseconds)
//	  TagSchema:    schema encoding
//	  TagTotalRows: varint64
//	  TagTotalSize: varint64
//	  TagSegment:   location (length-prefixed), row count (varint64),
//	                size (varint64), block count (varint32),
//	                column count (varint32)
//
// Tag numbers are written to disk and MUST NOT change.
package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/aalhour/quarrystore/internal/checksum"
	"github.com/aalhour/quarrystore/internal/compression"
	"github.com/aalhour/quarrystore/internal/encoding"
	"github.com/aalhour/quarrystore/internal/objstore"
	"github.com/aalhour/quarrystore/internal/schema"
	"github.com/aalhour/quarrystore/internal/segment"
)

// Errors returned by snapshot operations.
var (
	// ErrCorruptSnapshot is returned when a snapshot record fails an
	// integrity or format check.
	ErrCorruptSnapshot = errors.New("snapshot: corrupt snapshot record")

	// ErrInvalidTag is returned for an unknown record tag.
	ErrInvalidTag = errors.New("snapshot: invalid record tag")

	// ErrSchemaMismatch is returned when added segments were produced
	// under a different schema version than the base snapshot's.
	ErrSchemaMismatch = errors.New("snapshot: schema version mismatch")

	// ErrSegmentNotInBase is returned when a removal names a segment the
	// base snapshot does not contain. After a rebase this means another
	// mutation already replaced those segments.
	ErrSegmentNotInBase = errors.New("snapshot: removed segment not in base")
)

// Tag identifies a snapshot record field.
type Tag uint32

const (
	TagID        Tag = 1
	TagParent    Tag = 2
	TagCreatedAt Tag = 3
	TagSchema    Tag = 4
	TagTotalRows Tag = 5
	TagTotalSize Tag = 6
	TagSegment   Tag = 7
)

// snapshotMagic identifies a snapshot record payload ("QSNP").
const snapshotMagic = 0x504E5351

// recordVersion is the current record format version.
const recordVersion = 1

// Snapshot is an immutable table version.
type Snapshot struct {
	// ID is the table-local version number, increasing along the lineage.
	ID uint64

	// Location is the object-store location of this record. Empty until
	// the snapshot has been written.
	Location string

	// Schema is the table schema this version was written under.
	Schema schema.Schema

	// Segments is the ordered segment list, oldest first.
	Segments []segment.Ref

	// TotalRows and TotalSize aggregate over Segments.
	TotalRows uint64
	TotalSize uint64

	// Parent is the location of the preceding snapshot; empty for the
	// genesis snapshot created with the table.
	Parent string

	// CreatedAt is the creation time in unix nanoseconds.
	CreatedAt int64
}

// NewEmpty returns the genesis snapshot for a freshly created table.
func NewEmpty(s schema.Schema) *Snapshot {
	return &Snapshot{
		ID:        1,
		Schema:    s,
		CreatedAt: time.Now().UnixNano(),
	}
}

// Assemble produces a candidate snapshot layered on base: base's segment
// list with removed excluded and added appended, aggregates recomputed.
// schemaVersion is the version the added segments were written under; a
// version mismatch with the base schema, or an added ref whose column
// arity disagrees with it, aborts with ErrSchemaMismatch.
//
// Assemble does not publish the candidate — that is the commit
// protocol's job.
func Assemble(base *Snapshot, added, removed []segment.Ref, schemaVersion uint32) (*Snapshot, error) {
	if schemaVersion != base.Schema.Version {
		return nil, fmt.Errorf("%w: segments written for schema v%d, table at v%d",
			ErrSchemaMismatch, schemaVersion, base.Schema.Version)
	}
	width := uint32(base.Schema.NumColumns())
	for _, a := range added {
		if a.ColumnCount != width {
			return nil, fmt.Errorf("%w: segment %s carries %d column stats, schema has %d",
				ErrSchemaMismatch, a.Location, a.ColumnCount, width)
		}
	}

	removeSet := make(map[string]struct{}, len(removed))
	for _, r := range removed {
		removeSet[r.Location] = struct{}{}
	}

	segments := make([]segment.Ref, 0, len(base.Segments)+len(added))
	for _, s := range base.Segments {
		if _, drop := removeSet[s.Location]; drop {
			delete(removeSet, s.Location)
			continue
		}
		segments = append(segments, s)
	}
	if len(removeSet) != 0 {
		return nil, fmt.Errorf("%w: %d of %d removals unmatched",
			ErrSegmentNotInBase, len(removeSet), len(removed))
	}
	segments = append(segments, added...)

	candidate := &Snapshot{
		ID:        base.ID + 1,
		Schema:    base.Schema,
		Segments:  segments,
		Parent:    base.Location,
		CreatedAt: time.Now().UnixNano(),
	}
	for _, s := range segments {
		candidate.TotalRows += s.RowCount
		candidate.TotalSize += s.Size
	}
	return candidate, nil
}

// encode serializes the record payload.
func (s *Snapshot) encode() []byte {
	dst := encoding.AppendFixed32(nil, snapshotMagic)
	dst = encoding.AppendVarint32(dst, recordVersion)

	dst = encoding.AppendVarint32(dst, uint32(TagID))
	dst = encoding.AppendVarint64(dst, s.ID)

	dst = encoding.AppendVarint32(dst, uint32(TagParent))
	dst = encoding.AppendLengthPrefixedSlice(dst, []byte(s.Parent))

	dst = encoding.AppendVarint32(dst, uint32(TagCreatedAt))
	dst = encoding.AppendVarint64(dst, uint64(s.CreatedAt))

	dst = encoding.AppendVarint32(dst, uint32(TagSchema))
	dst = s.Schema.Encode(dst)

	dst = encoding.AppendVarint32(dst, uint32(TagTotalRows))
	dst = encoding.AppendVarint64(dst, s.TotalRows)

	dst = encoding.AppendVarint32(dst, uint32(TagTotalSize))
	dst = encoding.AppendVarint64(dst, s.TotalSize)

	for _, seg := range s.Segments {
		dst = encoding.AppendVarint32(dst, uint32(TagSegment))
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte(seg.Location))
		dst = encoding.AppendVarint64(dst, seg.RowCount)
		dst = encoding.AppendVarint64(dst, seg.Size)
		dst = encoding.AppendVarint32(dst, seg.BlockCount)
		dst = encoding.AppendVarint32(dst, seg.ColumnCount)
	}
	return dst
}

// decode parses a record payload.
func decode(payload []byte) (*Snapshot, error) {
	magic, rest, err := encoding.ReadFixed32(payload)
	if err != nil || magic != snapshotMagic {
		return nil, ErrCorruptSnapshot
	}
	version, rest, err := encoding.ReadVarint32(rest)
	if err != nil || version != recordVersion {
		return nil, ErrCorruptSnapshot
	}

	snap := &Snapshot{}
	var hasSchema bool
	for len(rest) > 0 {
		var tag uint32
		tag, rest, err = encoding.ReadVarint32(rest)
		if err != nil {
			return nil, ErrCorruptSnapshot
		}

		switch Tag(tag) {
		case TagID:
			snap.ID, rest, err = encoding.ReadVarint64(rest)
		case TagParent:
			var loc []byte
			loc, rest, err = encoding.ReadLengthPrefixedSlice(rest)
			snap.Parent = string(loc)
		case TagCreatedAt:
			var ns uint64
			ns, rest, err = encoding.ReadVarint64(rest)
			snap.CreatedAt = int64(ns)
		case TagSchema:
			snap.Schema, rest, err = schema.Decode(rest)
			hasSchema = err == nil
		case TagTotalRows:
			snap.TotalRows, rest, err = encoding.ReadVarint64(rest)
		case TagTotalSize:
			snap.TotalSize, rest, err = encoding.ReadVarint64(rest)
		case TagSegment:
			var ref segment.Ref
			ref, rest, err = decodeSegmentRef(rest)
			snap.Segments = append(snap.Segments, ref)
		default:
			return nil, fmt.Errorf("%w: %d", ErrInvalidTag, tag)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
	}

	if snap.ID == 0 || !hasSchema {
		return nil, fmt.Errorf("%w: missing required fields", ErrCorruptSnapshot)
	}
	var rows uint64
	for _, seg := range snap.Segments {
		rows += seg.RowCount
	}
	if rows != snap.TotalRows {
		return nil, fmt.Errorf("%w: aggregate row count mismatch", ErrCorruptSnapshot)
	}
	return snap, nil
}

// decodeSegmentRef parses one TagSegment record body.
func decodeSegmentRef(src []byte) (segment.Ref, []byte, error) {
	location, rest, err := encoding.ReadLengthPrefixedSlice(src)
	if err != nil {
		return segment.Ref{}, nil, err
	}
	rowCount, rest, err := encoding.ReadVarint64(rest)
	if err != nil {
		return segment.Ref{}, nil, err
	}
	size, rest, err := encoding.ReadVarint64(rest)
	if err != nil {
		return segment.Ref{}, nil, err
	}
	blockCount, rest, err := encoding.ReadVarint32(rest)
	if err != nil {
		return segment.Ref{}, nil, err
	}
	columnCount, rest, err := encoding.ReadVarint32(rest)
	if err != nil {
		return segment.Ref{}, nil, err
	}
	return segment.Ref{
		Location:    string(location),
		RowCount:    rowCount,
		Size:        size,
		BlockCount:  blockCount,
		ColumnCount: columnCount,
	}, rest, nil
}

// Write persists the snapshot record and fills in its Location.
// All referenced segments and blocks must already be durable: the record
// is the last object written before the pointer swap.
func Write(store objstore.Store, snap *Snapshot, ct compression.Type, ck checksum.Kind) error {
	location, err := objstore.PutSealed(store, snap.encode(), ct, ck)
	if err != nil {
		return fmt.Errorf("snapshot: store: %w", err)
	}
	snap.Location = location
	return nil
}

// Load fetches and decodes the snapshot record at location.
func Load(store objstore.Store, location string) (*Snapshot, error) {
	payload, err := objstore.GetSealed(store, location)
	if err != nil {
		if errors.Is(err, objstore.ErrCorruptObject) {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, location, err)
		}
		return nil, err
	}
	snap, err := decode(payload)
	if err != nil {
		return nil, err
	}
	snap.Location = location
	return snap, nil
}

// Lineage walks the snapshot chain starting at location, newest first,
// invoking fn for each snapshot. Walking stops when fn returns false,
// when the genesis snapshot is reached, or after limit snapshots
// (limit 0 = unlimited).
func Lineage(store objstore.Store, location string, limit int, fn func(*Snapshot) bool) error {
	seen := 0
	for location != "" {
		snap, err := Load(store, location)
		if err != nil {
			return err
		}
		if !fn(snap) {
			return nil
		}
		seen++
		if limit > 0 && seen >= limit {
			return nil
		}
		location = snap.Parent
	}
	return nil
}
