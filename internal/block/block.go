// Package block implements the immutable columnar storage unit.
//
// A block holds a batch of rows in column-major layout together with
// per-column statistics. Blocks are write-once: inserts and compaction
// produce new blocks, nothing ever edits one in place.
//
// Payload format (before the object-store envelope):
//
//	magic:     uint32 (fixed)
//	version:   varint32
//	num_rows:  varint32
//	num_cols:  varint32
//	per column:
//	  type:        1 byte
//	  null bitmap: ceil(num_rows/8) bytes (bit i set => row i is NULL)
//	  values:      one entry per non-NULL row, in row order
//	               Int64/Float64: fixed64; Bool: 1 byte; String: length-prefixed
package block

import (
	"errors"
	"fmt"
	"math"

	"github.com/aalhour/quarrystore/internal/encoding"
	"github.com/aalhour/quarrystore/internal/objstore"
	"github.com/aalhour/quarrystore/internal/schema"
)

// Errors returned by block encoding and reading.
var (
	// ErrEncoding is returned for malformed input rows. It is surfaced
	// before any object is written.
	ErrEncoding = errors.New("block: row encoding failed")

	// ErrCorruptBlock is returned when stored block bytes fail an
	// integrity or format check.
	ErrCorruptBlock = errors.New("block: corrupt block")
)

// blockMagic identifies a columnar block payload ("QBLK").
const blockMagic = 0x514B4C42

// formatVersion is the current block payload format version.
const formatVersion = 1

// Ref is an immutable reference to a stored block: its location plus the
// metadata planners and readers need without fetching the block itself.
type Ref struct {
	// Location is the opaque object-store location of the block.
	Location string

	// RowCount is the number of rows in the block.
	RowCount uint64

	// Size is the stored (post-envelope) byte size.
	Size uint64

	// Columns holds per-column min/max/null-count statistics.
	Columns []Stats
}

// Encode serializes a batch of rows into a block payload and computes
// per-column statistics. Rows must already be schema-validated; Encode
// re-checks shape and returns ErrEncoding on inconsistency.
func Encode(s schema.Schema, rows [][]schema.Datum) ([]byte, []Stats, error) {
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%w: empty row batch", ErrEncoding)
	}
	numCols := s.NumColumns()
	for _, row := range rows {
		if err := s.ValidateRow(row); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrEncoding, err)
		}
	}

	buf := encoding.AppendFixed32(nil, blockMagic)
	buf = encoding.AppendVarint32(buf, formatVersion)
	buf = encoding.AppendVarint32(buf, uint32(len(rows)))
	buf = encoding.AppendVarint32(buf, uint32(numCols))

	stats := make([]Stats, numCols)
	for col := 0; col < numCols; col++ {
		typ := s.Columns[col].Type
		buf = append(buf, byte(typ))
		stats[col] = newStats(typ)

		// Null bitmap.
		bitmap := make([]byte, (len(rows)+7)/8)
		for i, row := range rows {
			if row[col].Null {
				bitmap[i/8] |= 1 << (i % 8)
			}
		}
		buf = append(buf, bitmap...)

		// Values for non-NULL rows only.
		for _, row := range rows {
			d := row[col]
			if d.Null {
				stats[col].NullCount++
				continue
			}
			stats[col].observe(d)
			buf = appendValue(buf, d)
		}
	}
	return buf, stats, nil
}

// appendValue appends the value bytes of a non-NULL datum.
func appendValue(dst []byte, d schema.Datum) []byte {
	switch d.Type {
	case schema.TypeInt64:
		return encoding.AppendFixed64(dst, uint64(d.Int64Value()))
	case schema.TypeFloat64:
		return encoding.AppendFixed64(dst, math.Float64bits(d.Float64Value()))
	case schema.TypeString:
		return encoding.AppendLengthPrefixedSlice(dst, []byte(d.StringValue()))
	default: // schema.TypeBool
		if d.BoolValue() {
			return append(dst, 1)
		}
		return append(dst, 0)
	}
}

// Decode parses a block payload back into rows.
func Decode(payload []byte) ([][]schema.Datum, error) {
	magic, rest, err := encoding.ReadFixed32(payload)
	if err != nil || magic != blockMagic {
		return nil, ErrCorruptBlock
	}
	version, rest, err := encoding.ReadVarint32(rest)
	if err != nil || version != formatVersion {
		return nil, ErrCorruptBlock
	}
	numRows, rest, err := encoding.ReadVarint32(rest)
	if err != nil || numRows == 0 {
		return nil, ErrCorruptBlock
	}
	numCols, rest, err := encoding.ReadVarint32(rest)
	if err != nil || numCols == 0 {
		return nil, ErrCorruptBlock
	}

	rows := make([][]schema.Datum, numRows)
	for i := range rows {
		rows[i] = make([]schema.Datum, numCols)
	}

	for col := uint32(0); col < numCols; col++ {
		if len(rest) < 1 {
			return nil, ErrCorruptBlock
		}
		typ := schema.Type(rest[0])
		if !typ.IsValid() {
			return nil, ErrCorruptBlock
		}
		rest = rest[1:]

		bitmapLen := (int(numRows) + 7) / 8
		if len(rest) < bitmapLen {
			return nil, ErrCorruptBlock
		}
		bitmap := rest[:bitmapLen]
		rest = rest[bitmapLen:]

		for i := uint32(0); i < numRows; i++ {
			if bitmap[i/8]&(1<<(i%8)) != 0 {
				rows[i][col] = schema.NullOf(typ)
				continue
			}
			var d schema.Datum
			d, rest, err = readValue(typ, rest)
			if err != nil {
				return nil, err
			}
			rows[i][col] = d
		}
	}
	if len(rest) != 0 {
		return nil, ErrCorruptBlock
	}
	return rows, nil
}

// readValue reads one non-NULL value of the given type.
func readValue(typ schema.Type, src []byte) (schema.Datum, []byte, error) {
	switch typ {
	case schema.TypeInt64:
		v, rest, err := encoding.ReadFixed64(src)
		if err != nil {
			return schema.Datum{}, nil, ErrCorruptBlock
		}
		return schema.Int64(int64(v)), rest, nil
	case schema.TypeFloat64:
		v, rest, err := encoding.ReadFixed64(src)
		if err != nil {
			return schema.Datum{}, nil, ErrCorruptBlock
		}
		return schema.Float64(math.Float64frombits(v)), rest, nil
	case schema.TypeString:
		v, rest, err := encoding.ReadLengthPrefixedSlice(src)
		if err != nil {
			return schema.Datum{}, nil, ErrCorruptBlock
		}
		return schema.String(string(v)), rest, nil
	default: // schema.TypeBool
		if len(src) < 1 {
			return schema.Datum{}, nil, ErrCorruptBlock
		}
		return schema.Bool(src[0] == 1), src[1:], nil
	}
}

// Read fetches the block at ref.Location from the store and decodes it.
func Read(store objstore.Store, ref Ref) ([][]schema.Datum, error) {
	payload, err := objstore.GetSealed(store, ref.Location)
	if err != nil {
		if errors.Is(err, objstore.ErrCorruptObject) {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptBlock, ref.Location, err)
		}
		return nil, err
	}
	rows, err := Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptBlock, ref.Location)
	}
	if uint64(len(rows)) != ref.RowCount {
		return nil, fmt.Errorf("%w: %s: row count %d does not match ref %d",
			ErrCorruptBlock, ref.Location, len(rows), ref.RowCount)
	}
	return rows, nil
}
