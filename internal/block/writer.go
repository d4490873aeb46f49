package block

// writer.go implements the block writer used by inserts and compaction.
//
// A writer splits a row batch into blocks of at most RowPerBlock rows.
// It never merges new rows into existing blocks: undersized trailing
// blocks are left for compaction to consolidate.

import (
	"fmt"

	"github.com/aalhour/quarrystore/internal/checksum"
	"github.com/aalhour/quarrystore/internal/compression"
	"github.com/aalhour/quarrystore/internal/objstore"
	"github.com/aalhour/quarrystore/internal/schema"
)

// Writer encodes row batches into stored blocks.
type Writer struct {
	// Store is the object storage backend.
	Store objstore.Store

	// Schema is the table schema rows are validated against.
	Schema schema.Schema

	// RowPerBlock is the target (and maximum) rows per written block.
	RowPerBlock uint64

	// Compression is the codec applied to block payloads.
	Compression compression.Type

	// Checksum is the integrity algorithm stamped on block envelopes.
	Checksum checksum.Kind
}

// WriteAll encodes rows into one or more blocks of at most RowPerBlock
// rows each and stores them, returning the block references in order.
//
// Validation runs over the whole batch before the first object is
// written, so an ErrEncoding failure leaves no orphans behind.
func (w *Writer) WriteAll(rows [][]schema.Datum) ([]Ref, error) {
	if w.RowPerBlock == 0 {
		return nil, fmt.Errorf("%w: RowPerBlock must be positive", ErrEncoding)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	for _, row := range rows {
		if err := w.Schema.ValidateRow(row); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
		}
	}

	var refs []Ref
	for start := 0; start < len(rows); start += int(w.RowPerBlock) {
		end := min(start+int(w.RowPerBlock), len(rows))
		ref, err := w.writeOne(rows[start:end])
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// writeOne encodes and stores a single block.
func (w *Writer) writeOne(rows [][]schema.Datum) (Ref, error) {
	payload, stats, err := Encode(w.Schema, rows)
	if err != nil {
		return Ref{}, err
	}
	sealed, err := objstore.Seal(payload, w.Compression, w.Checksum)
	if err != nil {
		return Ref{}, fmt.Errorf("block: seal: %w", err)
	}
	location, err := w.Store.Put(sealed)
	if err != nil {
		return Ref{}, fmt.Errorf("block: store: %w", err)
	}
	return Ref{
		Location: location,
		RowCount: uint64(len(rows)),
		Size:     uint64(len(sealed)),
		Columns:  stats,
	}, nil
}
