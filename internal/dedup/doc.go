// Package dedup classifies fetched content as new or duplicate.
//
// Classification runs in two stages. Exact deduplication compares the
// normalized content hash against the store's hash index; a stored
// success with the same hash and a different URL wins. Fuzzy
// deduplication only runs when the exact stage finds nothing: it
// shingles the page text and computes Jaccard similarity against a
// bounded window of the most recently stored successes. The window
// keeps the operation O(window), never O(table).
//
// When several stored pages clear the similarity threshold, the one
// with the earliest scraped-at time is the original; the newcomer is
// marked duplicate and its links are not expanded. Nothing is ever
// deleted on a duplicate classification.
//
// Visual hashes are advisory: a large Hamming distance between
// consecutive screenshots of the same URL flags a content change, but
// never causes deduplication by itself.
package dedup
