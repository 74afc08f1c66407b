// Package discover turns raw links found on fetched pages into crawl
// tasks. Each link is canonicalized, checked against the domain scope,
// deny patterns, robots rules, and a probabilistic seen-set, then
// assigned a scheduling priority combining depth, parent content type,
// domain backoff pressure, and an optional external promise score.
package discover
