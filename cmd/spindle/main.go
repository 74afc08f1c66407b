// Package main provides the entry point for the spindle CLI.
//
// Spindle is a polite, adaptive web crawler. It fetches pages from seed
// URLs, discovers links, deduplicates content, and adapts its pace to
// each server's behavior.
//
// Usage:
//
//	spindle crawl <url> [url...]
//	spindle history
//
// See --help for all available options.
package main

// main is the entry point for spindle.
func main() {
	Execute()
}
