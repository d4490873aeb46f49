// End-to-end smoke test for QuarryStore.
//
// Use `smoketest` to run a fast end-to-end check across core features.
// `smoketest` creates a table, inserts rows in batches, compacts, reopens
// the engine from disk, and verifies row counts and contents at every
// step.
//
// Run a smoke test:
//
// ```bash
// ./bin/smoketest -rows=10000 -batch=64
// ```
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aalhour/quarrystore"
)

var (
	numRows   = flag.Int("rows", 10000, "Total rows to insert")
	batchSize = flag.Int("batch", 64, "Rows per insert batch")
	engineDir = flag.String("dir", "", "Engine directory (default: temp directory)")
	keepDir   = flag.Bool("keep", false, "Keep engine directory after test")
	verbose   = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	testDir := *engineDir
	if testDir == "" {
		var err error
		testDir, err = os.MkdirTemp("", "quarry-smoke-*")
		if err != nil {
			fatal("create temp dir: %v", err)
		}
		if !*keepDir {
			defer os.RemoveAll(testDir)
		}
	}
	fmt.Printf("Engine dir: %s\n", testDir)
	fmt.Printf("Rows: %d, batch size: %d\n\n", *numRows, *batchSize)

	passed, failed := 0, 0
	tests := []struct {
		name string
		fn   func(string) error
	}{
		{"Create and Insert", testCreateInsert},
		{"Compact Preserves Rows", testCompact},
		{"Persistence (Reopen)", testPersistence},
		{"Snapshot Isolation", testSnapshotIsolation},
		{"Bounded Compaction", testBoundedCompaction},
		{"History Chain", testHistory},
	}
	for _, tc := range tests {
		start := time.Now()
		if err := tc.fn(testDir); err != nil {
			failed++
			fmt.Printf("FAIL %-28s %v\n", tc.name, err)
			continue
		}
		passed++
		fmt.Printf("ok   %-28s (%v)\n", tc.name, time.Since(start).Round(time.Millisecond))
	}

	fmt.Printf("\n%d passed, %d failed\n", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func openEngine(dir string) (*quarrystore.Engine, error) {
	opts := quarrystore.DefaultOptions()
	opts.Dir = dir
	return quarrystore.Open(opts)
}

func tableSchema() quarrystore.Schema {
	return quarrystore.NewSchema(
		quarrystore.Col("id", quarrystore.TypeInt64),
		quarrystore.Col("payload", quarrystore.TypeString),
	)
}

func rowBatch(from, n int) [][]quarrystore.Datum {
	rows := make([][]quarrystore.Datum, n)
	for i := 0; i < n; i++ {
		rows[i] = []quarrystore.Datum{
			quarrystore.Int64Datum(int64(from + i)),
			quarrystore.StringDatum(fmt.Sprintf("payload-%08d", from+i)),
		}
	}
	return rows
}

func expectCount(eng *quarrystore.Engine, table string, want uint64) error {
	got, err := eng.RowCount(table)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("row count = %d, want %d", got, want)
	}
	return nil
}

func testCreateInsert(dir string) error {
	eng, err := openEngine(dir)
	if err != nil {
		return err
	}
	topts := quarrystore.DefaultTableOptions()
	topts.BlockPerSegment = 4
	topts.RowPerBlock = 128
	if err := eng.CreateTable("smoke", tableSchema(), topts); err != nil {
		return err
	}

	ctx := context.Background()
	for from := 0; from < *numRows; from += *batchSize {
		n := min(*batchSize, *numRows-from)
		if err := eng.Insert(ctx, "smoke", rowBatch(from, n), quarrystore.WriteOptions{}); err != nil {
			return fmt.Errorf("insert at %d: %w", from, err)
		}
		if *verbose && from%(*batchSize*50) == 0 {
			fmt.Printf("  inserted %d/%d\n", from+n, *numRows)
		}
	}
	return expectCount(eng, "smoke", uint64(*numRows))
}

func testCompact(dir string) error {
	eng, err := openEngine(dir)
	if err != nil {
		return err
	}
	before, err := eng.Snapshot("smoke")
	if err != nil {
		return err
	}
	if err := eng.Compact(context.Background(), "smoke", 0, quarrystore.WriteOptions{}); err != nil {
		return err
	}
	after, err := eng.Snapshot("smoke")
	if err != nil {
		return err
	}
	if *verbose {
		fmt.Printf("  segments: %d -> %d\n", before.SegmentCount(), after.SegmentCount())
	}
	if after.SegmentCount() > before.SegmentCount() {
		return fmt.Errorf("compaction grew segment count %d -> %d",
			before.SegmentCount(), after.SegmentCount())
	}
	return expectCount(eng, "smoke", uint64(*numRows))
}

func testPersistence(dir string) error {
	eng, err := openEngine(dir)
	if err != nil {
		return err
	}
	if err := expectCount(eng, "smoke", uint64(*numRows)); err != nil {
		return err
	}
	rows, err := eng.ScanAll("smoke")
	if err != nil {
		return err
	}
	seen := make(map[int64]bool, len(rows))
	for _, row := range rows {
		seen[row[0].Int64Value()] = true
	}
	for i := 0; i < *numRows; i++ {
		if !seen[int64(i)] {
			return fmt.Errorf("row %d missing after reopen", i)
		}
	}
	return nil
}

func testSnapshotIsolation(dir string) error {
	eng, err := openEngine(dir)
	if err != nil {
		return err
	}
	view, err := eng.Snapshot("smoke")
	if err != nil {
		return err
	}
	captured := view.RowCount()

	extra := rowBatch(*numRows, 10)
	if err := eng.Insert(context.Background(), "smoke", extra, quarrystore.WriteOptions{}); err != nil {
		return err
	}
	if view.RowCount() != captured {
		return fmt.Errorf("view count moved %d -> %d after insert", captured, view.RowCount())
	}
	return expectCount(eng, "smoke", captured+10)
}

func testBoundedCompaction(dir string) error {
	eng, err := openEngine(dir)
	if err != nil {
		return err
	}
	ctx := context.Background()
	count, err := eng.RowCount("smoke")
	if err != nil {
		return err
	}
	for i := 0; i < 20; i++ {
		if err := eng.Compact(ctx, "smoke", 2, quarrystore.WriteOptions{}); err != nil {
			return fmt.Errorf("bounded pass %d: %w", i, err)
		}
		if err := expectCount(eng, "smoke", count); err != nil {
			return fmt.Errorf("bounded pass %d: %w", i, err)
		}
	}
	return nil
}

func testHistory(dir string) error {
	eng, err := openEngine(dir)
	if err != nil {
		return err
	}
	hist, err := eng.History("smoke", 5)
	if err != nil {
		return err
	}
	if len(hist) == 0 {
		return fmt.Errorf("empty history")
	}
	for i := 1; i < len(hist); i++ {
		if hist[i-1].Parent != hist[i].Location {
			return fmt.Errorf("broken parent chain at version %d", hist[i-1].ID)
		}
	}
	if *verbose {
		for _, info := range hist {
			fmt.Printf("  v%d rows=%d segments=%d\n", info.ID, info.Rows, info.Segments)
		}
	}
	return nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
