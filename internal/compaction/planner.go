// Package compaction plans and executes row-preserving merges of
// undersized blocks and segments.
//
// The planner walks a snapshot's segment list in order, classifies each
// segment as a merge candidate or not, and coalesces adjacent candidate
// runs into a plan. The job then rewrites each run: undersized blocks
// are read and their rows repacked into blocks at the row target, while
// blocks already at target are carried over by reference, and the
// resulting block list is resealed into fresh segments. The originals
// are never touched; publication of the new segment set is the commit
// protocol's job.
package compaction

import (
	"errors"
	"fmt"

	"github.com/aalhour/quarrystore/internal/block"
	"github.com/aalhour/quarrystore/internal/checksum"
	"github.com/aalhour/quarrystore/internal/compression"
	"github.com/aalhour/quarrystore/internal/objstore"
	"github.com/aalhour/quarrystore/internal/segment"
	"github.com/aalhour/quarrystore/internal/snapshot"
)

// ErrRowCountMismatch is returned when a merge would alter the total
// row count. It indicates a planner or job bug; the merge must be
// abandoned before anything is published.
var ErrRowCountMismatch = errors.New("compaction: merge would alter row count")

// Policy holds the merge tuning knobs for one table.
type Policy struct {
	// RowPerBlock is the target row count per block.
	RowPerBlock uint64

	// BlockPerSegment is the target block count per segment.
	BlockPerSegment uint32

	// MinBlockRowsFraction sets the undersized threshold as a fraction
	// of RowPerBlock. A block with fewer rows than
	// MinBlockRowsFraction*RowPerBlock is merge-eligible. Zero means
	// 1.0, making every block strictly below target eligible.
	MinBlockRowsFraction float64

	// Compression and Checksum apply to objects the job writes.
	Compression compression.Type
	Checksum    checksum.Kind
}

// undersizedBelow returns the block row threshold for this policy.
func (p Policy) undersizedBelow() uint64 {
	f := p.MinBlockRowsFraction
	if f <= 0 || f > 1 {
		f = 1.0
	}
	return uint64(f * float64(p.RowPerBlock))
}

// Input is one candidate segment together with its loaded block list.
type Input struct {
	Ref    segment.Ref
	Blocks []block.Ref
}

// Compaction is a merge plan: runs of adjacent candidate segments, plus
// the flat list of segments the merge replaces.
type Compaction struct {
	Runs    [][]Input
	Removed []segment.Ref
}

// Pick builds a merge plan for the snapshot. It walks the whole segment
// list in snapshot order, loading each manifest to classify it, and
// selects at most limit candidate segments into the plan (0 means all),
// so large tables can be merged incrementally across calls. Segments
// already at target never count against the limit; charging them would
// let a packed prefix starve the undersized tail forever. Returns nil
// when no productive merge exists, in which case the caller skips
// publishing entirely.
func Pick(store objstore.Store, snap *snapshot.Snapshot, policy Policy, limit int) (*Compaction, error) {
	if policy.RowPerBlock == 0 || policy.BlockPerSegment == 0 {
		return nil, fmt.Errorf("compaction: policy targets must be positive")
	}

	c := &Compaction{}
	var run []Input
	flush := func() {
		if productive(run, policy) {
			c.Runs = append(c.Runs, run)
			for _, in := range run {
				c.Removed = append(c.Removed, in.Ref)
			}
		}
		run = nil
	}

	threshold := policy.undersizedBelow()
	for _, ref := range snap.Segments {
		if limit > 0 && len(c.Removed) >= limit {
			break
		}
		seg, err := segment.Load(store, ref)
		if err != nil {
			return nil, fmt.Errorf("compaction: load candidate %s: %w", ref.Location, err)
		}
		if !candidate(ref, seg.Blocks, policy.BlockPerSegment, threshold) {
			flush()
			continue
		}
		run = append(run, Input{Ref: ref, Blocks: seg.Blocks})
		if limit > 0 && len(c.Removed)+len(run) >= limit {
			flush()
		}
	}
	flush()

	if len(c.Runs) == 0 {
		return nil, nil
	}
	return c, nil
}

// candidate reports whether a segment is merge-eligible: its block
// count is below target, or any of its blocks is undersized.
func candidate(ref segment.Ref, blocks []block.Ref, blockPerSegment uint32, threshold uint64) bool {
	if ref.BlockCount < blockPerSegment {
		return true
	}
	for _, b := range blocks {
		if b.RowCount < threshold {
			return true
		}
	}
	return false
}

// productive reports whether merging the run changes anything. A
// multi-segment run always consolidates. A lone segment only improves
// when repacking its undersized blocks yields fewer blocks than it
// started with; otherwise rewriting it is pure churn and the run is
// dropped, which is what lets repeated invocations converge.
func productive(run []Input, policy Policy) bool {
	if len(run) == 0 {
		return false
	}
	if len(run) > 1 {
		return true
	}

	threshold := policy.undersizedBelow()
	var pooled, undersized uint64
	for _, b := range run[0].Blocks {
		if b.RowCount < threshold {
			pooled += b.RowCount
			undersized++
		}
	}
	if undersized < 2 {
		return false
	}
	repacked := (pooled + policy.RowPerBlock - 1) / policy.RowPerBlock
	return repacked < undersized
}
