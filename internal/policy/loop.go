package policy

import "strings"

// IsLoopTrap reports whether fetching the given path on the domain
// would walk into a crawl trap. Two signals feed the decision:
//
//  1. The path's own segments contain a short cycle (1-3 segments)
//     repeated at least loopRepeats times, e.g. /a/b/a/b/a/b/a/b.
//     Calendar pagination and self-referential navigation produce
//     exactly this shape.
//  2. The same path already appears loopRepeats times in the domain's
//     recent fetch history, which catches redirect chains that keep
//     landing on the same page.
//
// The check is advisory per-call; RecordPath must be called separately
// for paths that are actually fetched.
func (t *Tracker) IsLoopTrap(domain, path string) bool {
	if pathHasCycle(path, t.loopRepeats) {
		return true
	}

	ds := t.getOrCreate(domain)
	ds.mu.Lock()
	defer ds.mu.Unlock()

	seen := 0
	for i := 0; i < ds.pathsLen; i++ {
		if ds.paths[i] == path {
			seen++
		}
	}
	return seen >= t.loopRepeats
}

// RecordPath appends a fetched path to the domain's bounded history ring.
func (t *Tracker) RecordPath(domain, path string) {
	ds := t.getOrCreate(domain)

	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.paths[ds.pathsAt] = path
	ds.pathsAt = (ds.pathsAt + 1) % len(ds.paths)
	if ds.pathsLen < len(ds.paths) {
		ds.pathsLen++
	}
}

// pathHasCycle reports whether the trailing segments of a path form a
// cycle of length 1-3 repeated at least `repeats` times.
func pathHasCycle(path string, repeats int) bool {
	segments := splitSegments(path)
	if len(segments) < 2 {
		return false
	}

	for cycleLen := 1; cycleLen <= 3; cycleLen++ {
		if cycleLen*repeats > len(segments) {
			break
		}
		if tailRepeats(segments, cycleLen) >= repeats {
			return true
		}
	}
	return false
}

// tailRepeats counts how many times the final cycleLen segments repeat
// consecutively at the end of the segment list.
func tailRepeats(segments []string, cycleLen int) int {
	cycle := segments[len(segments)-cycleLen:]
	count := 0
	for end := len(segments); end >= cycleLen; end -= cycleLen {
		match := true
		for i := 0; i < cycleLen; i++ {
			if segments[end-cycleLen+i] != cycle[i] {
				match = false
				break
			}
		}
		if !match {
			break
		}
		count++
	}
	return count
}

// splitSegments splits a URL path into its non-empty segments.
func splitSegments(path string) []string {
	parts := strings.Split(path, "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}
