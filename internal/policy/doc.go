// Package policy tracks per-domain admission state: adaptive backoff,
// failure and success streaks, permanent skips, and crawl-trap detection.
//
// # Adaptive backoff
//
// Each domain carries a backoff factor, a multiplier applied to the base
// inter-request delay. Failures grow it multiplicatively up to a cap;
// successes decay it multiplicatively down to a floor of 1.0. The factor
// never moves in the wrong direction: it only increases on failure and
// only decreases on success. A lost update here would silently corrupt
// the adaptive rate limit, so every mutation of a domain's state is
// serialized behind that domain's own mutex.
//
// # Gating
//
// Gate answers the politeness question for a worker about to fetch: it
// either reserves the domain's next request slot or returns how long the
// task must wait. Reservation happens inside the gate under the domain
// lock, so two workers racing for the same domain cannot both proceed.
//
// # Skips and loops
//
// Robots and ethics violations register a path-prefix skip; the whole
// domain is only skipped when the prefix is "/". A bounded ring of
// recently fetched paths feeds the loop-trap detector, which discards
// cyclic URL patterns (calendar pagination and the like) before they
// are fetched.
package policy
