package scheduler

import "errors"

var (
	// ErrNoSeeds is returned when Run is called without any usable seed URL.
	ErrNoSeeds = errors.New("no valid seed URLs")

	// ErrMissingDependency is returned by New when a required
	// collaborator is nil.
	ErrMissingDependency = errors.New("missing scheduler dependency")
)
