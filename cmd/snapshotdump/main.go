// Snapshot chain dump utility for QuarryStore.
//
// Use `snapshotdump` to print a table's version history with per-version
// segment and block summaries, walking parent references from the
// current snapshot.
//
// Run the tool:
//
// ```bash
// ./bin/snapshotdump -dir /var/lib/quarrystore -table events
// ```
//
// Output includes:
// - One line per version: id, rows, size, segment count, creation time.
// - With -blocks, per-segment block row counts for spotting fragmentation.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aalhour/quarrystore/internal/meta"
	"github.com/aalhour/quarrystore/internal/objstore"
	"github.com/aalhour/quarrystore/internal/segment"
	"github.com/aalhour/quarrystore/internal/snapshot"
)

var (
	dir        = flag.String("dir", "", "Engine directory (holds objects/ and meta/)")
	table      = flag.String("table", "", "Table name")
	limit      = flag.Int("limit", 0, "Max versions to print (0 = all)")
	showBlocks = flag.Bool("blocks", false, "Print per-segment block row counts")
)

func main() {
	flag.Parse()
	if *dir == "" || *table == "" {
		fmt.Println("Usage: snapshotdump -dir <engine-dir> -table <name> [-limit N] [-blocks]")
		os.Exit(1)
	}

	objects, err := objstore.OpenDir(filepath.Join(*dir, "objects"))
	if err != nil {
		fatal("open object store: %v", err)
	}
	metastore, err := meta.OpenFile(filepath.Join(*dir, "meta"))
	if err != nil {
		fatal("open metastore: %v", err)
	}

	pointer, err := metastore.SnapshotPointer(*table)
	if err != nil {
		fatal("resolve table %s: %v", *table, err)
	}

	versions := 0
	err = snapshot.Lineage(objects, pointer, *limit, func(s *snapshot.Snapshot) bool {
		versions++
		current := " "
		if s.Location == pointer {
			current = "*"
		}
		fmt.Printf("%s v%-6d rows=%-10d size=%-10d segments=%-5d %s\n",
			current, s.ID, s.TotalRows, s.TotalSize, len(s.Segments),
			time.Unix(0, s.CreatedAt).Format(time.RFC3339))

		if *showBlocks {
			for i, ref := range s.Segments {
				seg, err := segment.Load(objects, ref)
				if err != nil {
					fmt.Printf("    segment %d: %s: UNREADABLE: %v\n", i, ref.Location, err)
					continue
				}
				fmt.Printf("    segment %d: %s rows=%d blocks=", i, ref.Location, ref.RowCount)
				for j, b := range seg.Blocks {
					if j > 0 {
						fmt.Print(",")
					}
					fmt.Print(b.RowCount)
				}
				fmt.Println()
			}
		}
		return true
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "walk stopped after %d versions: %v\n", versions, err)
		os.Exit(1)
	}
	fmt.Printf("\nTotal versions: %d\n", versions)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
