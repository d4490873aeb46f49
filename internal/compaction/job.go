package compaction

// job.go executes a merge plan: reading undersized blocks, repacking
// their rows, and resealing segments. All writes go to fresh objects;
// the inputs stay untouched until the commit protocol retires them.

import (
	"fmt"

	"github.com/aalhour/quarrystore/internal/block"
	"github.com/aalhour/quarrystore/internal/objstore"
	"github.com/aalhour/quarrystore/internal/schema"
	"github.com/aalhour/quarrystore/internal/segment"
)

// Run executes the plan and returns the replacement segment references.
// The total row count of the returned segments always equals the total
// of c.Removed; any discrepancy aborts with ErrRowCountMismatch before
// the caller can publish.
func Run(store objstore.Store, sch schema.Schema, c *Compaction, policy Policy) ([]segment.Ref, error) {
	if c == nil || len(c.Runs) == 0 {
		return nil, nil
	}

	var added []segment.Ref
	for _, run := range c.Runs {
		refs, err := mergeRun(store, sch, run, policy)
		if err != nil {
			return nil, err
		}
		added = append(added, refs...)
	}

	var addedRows, removedRows uint64
	for _, ref := range added {
		addedRows += ref.RowCount
	}
	for _, ref := range c.Removed {
		removedRows += ref.RowCount
	}
	if addedRows != removedRows {
		return nil, fmt.Errorf("%w: %d rows in, %d rows out", ErrRowCountMismatch, removedRows, addedRows)
	}
	return added, nil
}

// mergeRun rewrites one run of adjacent candidate segments. Blocks at
// or above the undersized threshold are carried by reference; the rest
// have their rows read and repacked into blocks at the row target.
func mergeRun(store objstore.Store, sch schema.Schema, run []Input, policy Policy) ([]segment.Ref, error) {
	threshold := policy.undersizedBelow()

	var carried []block.Ref
	var pooled [][]schema.Datum
	for _, in := range run {
		for _, b := range in.Blocks {
			if b.RowCount >= threshold {
				carried = append(carried, b)
				continue
			}
			rows, err := block.Read(store, b)
			if err != nil {
				return nil, fmt.Errorf("compaction: read block %s: %w", b.Location, err)
			}
			pooled = append(pooled, rows...)
		}
	}

	blocks := carried
	if len(pooled) > 0 {
		w := &block.Writer{
			Store:       store,
			Schema:      sch,
			RowPerBlock: policy.RowPerBlock,
			Compression: policy.Compression,
			Checksum:    policy.Checksum,
		}
		repacked, err := w.WriteAll(pooled)
		if err != nil {
			return nil, fmt.Errorf("compaction: repack: %w", err)
		}
		blocks = append(blocks, repacked...)
	}

	refs, err := segment.Seal(store, blocks, policy.BlockPerSegment, policy.Compression, policy.Checksum)
	if err != nil {
		return nil, fmt.Errorf("compaction: reseal: %w", err)
	}
	return refs, nil
}
