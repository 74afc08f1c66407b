// Package store provides SQLite-backed persistence for crawled pages
// and run summaries.
//
// The store is the persistence gateway behind the dedup engine and the
// scheduler: it owns the pages table, its content-hash index, and the
// uniqueness invariant that at most one row per normalized content hash
// carries a success status. Later arrivals with the same hash are
// stored as duplicates referencing the original row; nothing is ever
// deleted on a duplicate.
//
// Design decision: we use a single database file per data directory
// rather than one per run. Runs share the pages table (re-crawls update
// rows in place), which is what makes cross-run exact deduplication
// possible, and the history command can query everything in one place.
package store
