// Package scheduler owns the crawl worker pool. Workers pop tasks from
// the frontier, pass them through the per-domain policy gate and loop
// detector, fetch through the Fetcher boundary, route outcomes to the
// dedup engine and the store, and feed discovered links back into the
// frontier. The scheduler decides retries and termination; a crawl run
// always either drains the frontier or is cleanly cancelled.
package scheduler
