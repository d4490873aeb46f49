/*
Package quarrystore provides a versioned, append-oriented columnar table
store for analytical workloads.

Tables are stored as immutable objects in three layers: blocks hold
column-encoded row batches, segments group consecutive blocks behind a
manifest, and snapshots record the full segment list of one table
version. The only mutable state is a per-table pointer to the current
snapshot, advanced through an atomic compare-and-swap; every insert and
compaction publishes a brand-new snapshot and wins or loses that single
swap. Losers retry against the new base, bounded, so writers never block
each other indefinitely.

# Usage

	eng, err := quarrystore.Open(quarrystore.DefaultOptions())
	if err != nil { ... }
	sch := quarrystore.NewSchema(
		quarrystore.Col("id", quarrystore.TypeInt64),
		quarrystore.Col("name", quarrystore.TypeString),
	)
	err = eng.CreateTable("events", sch, quarrystore.DefaultTableOptions())
	err = eng.Insert(ctx, "events", rows, quarrystore.WriteOptions{})
	err = eng.Compact(ctx, "events", 0, quarrystore.WriteOptions{})

# Concurrency

An Engine is safe for concurrent use by multiple goroutines. Readers
capture the snapshot pointer once per Snapshot call and never observe
later commits mid-read. Writers race on the pointer swap; enabling the
table lock serializes them behind a leased advisory lock instead.

# Durability

Blocks, segment manifests and snapshot records are written before the
pointer moves, so a crash mid-mutation leaves only unreachable orphan
objects, never a torn table. Orphan collection is an external concern.
*/
package quarrystore
