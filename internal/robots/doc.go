// Package robots fetches, parses, and caches robots.txt rules.
// It answers the single question the rest of the system asks: may this
// URL be fetched under the target site's published crawl rules.
package robots
