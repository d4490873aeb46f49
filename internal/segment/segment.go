// Package segment implements immutable segment manifests.
//
// A segment groups an ordered run of block references and carries
// aggregated statistics so planners can reason about it without reading
// block contents. Segments are append-only artifacts: "merging" always
// produces a brand-new segment over a new combination of block
// references, never an edit of an existing one.
//
// Manifest payload format (before the object-store envelope):
//
//	magic:   uint32 (fixed)
//	version: varint32
//	tagged records, each starting with a varint32 tag:
//	  TagTotalRows:  varint64
//	  TagTotalSize:  varint64
//	  TagBlock:      location (length-prefixed), row count (varint64),
//	                 size (varint64), num col stats (varint32), stats...
//
// Tag numbers are written to disk and MUST NOT change.
package segment

import (
	"errors"
	"fmt"

	"github.com/aalhour/quarrystore/internal/block"
	"github.com/aalhour/quarrystore/internal/checksum"
	"github.com/aalhour/quarrystore/internal/compression"
	"github.com/aalhour/quarrystore/internal/encoding"
	"github.com/aalhour/quarrystore/internal/objstore"
)

// Errors returned by segment operations.
var (
	// ErrCorruptSegment is returned when a segment manifest fails an
	// integrity or format check.
	ErrCorruptSegment = errors.New("segment: corrupt segment manifest")

	// ErrInvalidTag is returned for an unknown manifest record tag.
	ErrInvalidTag = errors.New("segment: invalid manifest tag")

	// ErrNoBlocks is returned when sealing an empty block list.
	ErrNoBlocks = errors.New("segment: no blocks to seal")
)

// Tag identifies a manifest record type.
type Tag uint32

const (
	// TagTotalRows carries the aggregate row count.
	TagTotalRows Tag = 1
	// TagTotalSize carries the aggregate byte size.
	TagTotalSize Tag = 2
	// TagBlock carries one block reference with its statistics.
	TagBlock Tag = 3
)

// segmentMagic identifies a segment manifest payload ("QSEG").
const segmentMagic = 0x47455351

// manifestVersion is the current manifest format version.
const manifestVersion = 1

// Ref is an immutable reference to a stored segment: its location plus
// the aggregates planners need without loading the manifest.
type Ref struct {
	// Location is the opaque object-store location of the manifest.
	Location string

	// RowCount is the total rows across the segment's blocks.
	RowCount uint64

	// Size is the total stored byte size of the segment's blocks.
	Size uint64

	// BlockCount is the number of blocks in the segment.
	BlockCount uint32

	// ColumnCount is the column arity of the segment's blocks. Snapshot
	// assembly rejects a ref whose arity disagrees with the table schema.
	ColumnCount uint32
}

// Stats returns the aggregates of the referenced segment. It exists so
// planning code reads naturally; no block contents are touched.
func (r Ref) Stats() (rowCount, size uint64, blockCount uint32) {
	return r.RowCount, r.Size, r.BlockCount
}

// Segment is a decoded segment manifest.
type Segment struct {
	Blocks   []block.Ref
	RowCount uint64
	Size     uint64
}

// Seal groups consecutive block references into segments of at most
// blockPerSegment blocks, stores one manifest object per segment, and
// returns the segment references in order. The final segment may be
// undersized; restoring the target is compaction's job, not the
// writer's.
func Seal(store objstore.Store, blocks []block.Ref, blockPerSegment uint32,
	ct compression.Type, ck checksum.Kind) ([]Ref, error) {

	if len(blocks) == 0 {
		return nil, ErrNoBlocks
	}
	if blockPerSegment == 0 {
		return nil, fmt.Errorf("segment: blockPerSegment must be positive")
	}

	var refs []Ref
	for start := 0; start < len(blocks); start += int(blockPerSegment) {
		end := min(start+int(blockPerSegment), len(blocks))
		ref, err := sealOne(store, blocks[start:end], ct, ck)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// sealOne encodes and stores a single segment manifest.
func sealOne(store objstore.Store, blocks []block.Ref,
	ct compression.Type, ck checksum.Kind) (Ref, error) {

	seg := Segment{Blocks: blocks}
	for _, b := range blocks {
		seg.RowCount += b.RowCount
		seg.Size += b.Size
	}

	payload := seg.encode()
	location, err := objstore.PutSealed(store, payload, ct, ck)
	if err != nil {
		return Ref{}, fmt.Errorf("segment: store: %w", err)
	}
	return Ref{
		Location:    location,
		RowCount:    seg.RowCount,
		Size:        seg.Size,
		BlockCount:  uint32(len(blocks)),
		ColumnCount: uint32(len(blocks[0].Columns)),
	}, nil
}

// encode serializes the manifest payload.
func (s Segment) encode() []byte {
	dst := encoding.AppendFixed32(nil, segmentMagic)
	dst = encoding.AppendVarint32(dst, manifestVersion)

	dst = encoding.AppendVarint32(dst, uint32(TagTotalRows))
	dst = encoding.AppendVarint64(dst, s.RowCount)
	dst = encoding.AppendVarint32(dst, uint32(TagTotalSize))
	dst = encoding.AppendVarint64(dst, s.Size)

	for _, b := range s.Blocks {
		dst = encoding.AppendVarint32(dst, uint32(TagBlock))
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte(b.Location))
		dst = encoding.AppendVarint64(dst, b.RowCount)
		dst = encoding.AppendVarint64(dst, b.Size)
		dst = encoding.AppendVarint32(dst, uint32(len(b.Columns)))
		for _, cs := range b.Columns {
			dst = cs.Encode(dst)
		}
	}
	return dst
}

// decode parses a manifest payload.
func decode(payload []byte) (*Segment, error) {
	magic, rest, err := encoding.ReadFixed32(payload)
	if err != nil || magic != segmentMagic {
		return nil, ErrCorruptSegment
	}
	version, rest, err := encoding.ReadVarint32(rest)
	if err != nil || version != manifestVersion {
		return nil, ErrCorruptSegment
	}

	seg := &Segment{}
	for len(rest) > 0 {
		var tag uint32
		tag, rest, err = encoding.ReadVarint32(rest)
		if err != nil {
			return nil, ErrCorruptSegment
		}

		switch Tag(tag) {
		case TagTotalRows:
			seg.RowCount, rest, err = encoding.ReadVarint64(rest)
		case TagTotalSize:
			seg.Size, rest, err = encoding.ReadVarint64(rest)
		case TagBlock:
			var b block.Ref
			b, rest, err = decodeBlockRef(rest)
			seg.Blocks = append(seg.Blocks, b)
		default:
			return nil, fmt.Errorf("%w: %d", ErrInvalidTag, tag)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptSegment, err)
		}
	}

	// Cross-check the stored aggregates against the block records.
	var rows uint64
	for _, b := range seg.Blocks {
		rows += b.RowCount
	}
	if rows != seg.RowCount {
		return nil, fmt.Errorf("%w: aggregate row count mismatch", ErrCorruptSegment)
	}
	return seg, nil
}

// decodeBlockRef parses one TagBlock record body.
func decodeBlockRef(src []byte) (block.Ref, []byte, error) {
	location, rest, err := encoding.ReadLengthPrefixedSlice(src)
	if err != nil {
		return block.Ref{}, nil, err
	}
	rowCount, rest, err := encoding.ReadVarint64(rest)
	if err != nil {
		return block.Ref{}, nil, err
	}
	size, rest, err := encoding.ReadVarint64(rest)
	if err != nil {
		return block.Ref{}, nil, err
	}
	numStats, rest, err := encoding.ReadVarint32(rest)
	if err != nil {
		return block.Ref{}, nil, err
	}

	b := block.Ref{
		Location: string(location),
		RowCount: rowCount,
		Size:     size,
		Columns:  make([]block.Stats, 0, numStats),
	}
	for i := uint32(0); i < numStats; i++ {
		var cs block.Stats
		cs, rest, err = block.DecodeStats(rest)
		if err != nil {
			return block.Ref{}, nil, err
		}
		b.Columns = append(b.Columns, cs)
	}
	return b, rest, nil
}

// Load fetches and decodes the segment manifest at ref.Location,
// verifying it against the reference aggregates.
func Load(store objstore.Store, ref Ref) (*Segment, error) {
	payload, err := objstore.GetSealed(store, ref.Location)
	if err != nil {
		if errors.Is(err, objstore.ErrCorruptObject) {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSegment, ref.Location, err)
		}
		return nil, err
	}
	seg, err := decode(payload)
	if err != nil {
		return nil, err
	}
	if seg.RowCount != ref.RowCount || uint32(len(seg.Blocks)) != ref.BlockCount {
		return nil, fmt.Errorf("%w: %s: manifest does not match reference", ErrCorruptSegment, ref.Location)
	}
	return seg, nil
}
