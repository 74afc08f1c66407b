// Package fetch retrieves pages and classifies every failure into the
// crawl error taxonomy before it reaches the scheduler. The scheduler
// depends only on the Fetcher interface; HTTPFetcher is the production
// implementation and MockFetcher drives deterministic tests.
package fetch
