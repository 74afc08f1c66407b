// Package config holds crawl configuration: CLI-populated settings
// with documented defaults, validation, and an optional .spindle YAML
// file carrying per-site overrides.
package config
