// Package model defines the core data structures shared across spindle.
//
// The types in this package are deliberately free of behavior beyond
// hashing and classification helpers. Components (frontier, policy,
// dedup, scheduler) operate on these structures; the model package never
// imports any of them, keeping the dependency graph acyclic.
//
// Key types:
//   - CrawlTask: a unit of work owned by the frontier until popped
//   - FetchOutcome: the classified result of one fetch attempt
//   - StoredPage: the persisted row managed by the store package
//   - Stats / Summary: progress snapshots and the terminal run report
package model
