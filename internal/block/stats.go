package block

// stats.go implements per-column block statistics.

import (
	"fmt"

	"github.com/aalhour/quarrystore/internal/encoding"
	"github.com/aalhour/quarrystore/internal/schema"
)

// Stats holds min/max/null-count statistics for one column of a block.
// Min and Max are NULL datums when every value in the column is NULL.
type Stats struct {
	Min       schema.Datum
	Max       schema.Datum
	NullCount uint64
}

// newStats returns empty statistics for a column of the given type.
func newStats(t schema.Type) Stats {
	return Stats{Min: schema.NullOf(t), Max: schema.NullOf(t)}
}

// observe folds a non-NULL value into the statistics.
func (s *Stats) observe(d schema.Datum) {
	if s.Min.Null || schema.Compare(d, s.Min) < 0 {
		s.Min = d
	}
	if s.Max.Null || schema.Compare(d, s.Max) > 0 {
		s.Max = d
	}
}

// Encode appends the stats encoding to dst: min datum, max datum,
// null count (varint64).
func (s Stats) Encode(dst []byte) []byte {
	dst = s.Min.Encode(dst)
	dst = s.Max.Encode(dst)
	return encoding.AppendVarint64(dst, s.NullCount)
}

// DecodeStats decodes column statistics, returning them and the
// remaining buffer.
func DecodeStats(src []byte) (Stats, []byte, error) {
	min, rest, err := schema.DecodeDatum(src)
	if err != nil {
		return Stats{}, nil, fmt.Errorf("%w: stats min: %v", ErrCorruptBlock, err)
	}
	max, rest, err := schema.DecodeDatum(rest)
	if err != nil {
		return Stats{}, nil, fmt.Errorf("%w: stats max: %v", ErrCorruptBlock, err)
	}
	nulls, rest, err := encoding.ReadVarint64(rest)
	if err != nil {
		return Stats{}, nil, fmt.Errorf("%w: stats null count: %v", ErrCorruptBlock, err)
	}
	return Stats{Min: min, Max: max, NullCount: nulls}, rest, nil
}
