// Package frontier implements the shared priority queue of pending
// crawl tasks.
//
// The frontier is one of the two shared mutable structures in spindle
// (the other is the domain policy tracker). All state is guarded by a
// single mutex; pushes and pops are short, so contention stays low even
// with large worker pools.
//
// # Ordering
//
// Tasks are ordered by (priority, sequence number). The sequence number
// is assigned monotonically at push time, which makes the order total
// and deterministic: equal-priority tasks pop in push order, so no task
// starves behind later arrivals at the same priority.
//
// # Task lifecycle
//
// A URL is in exactly one of three frontier states between Push and
// Finish: queued, deferred, or in flight. The companion URL set covers
// all three, so a second Push of the same URL is dropped (and counted)
// no matter which state the first copy is in. Finish releases the URL
// and decrements the pending count; when pending reaches zero no worker
// holds a task, so no further pushes can occur and the scheduler can
// close the frontier safely.
package frontier
