// Package idgen provides the id-generation collaborator process.New uses
// by default (spec.md §6). Kept as a seam rather than a hardcoded call so
// callers needing deterministic ids (tests, replay) can swap it out via
// process.WithProcessID per call, or generate and pass their own.
package idgen

import "github.com/google/uuid"

// Generator produces a new unique id on each call.
type Generator func() string

// UUID is the default Generator, backed by github.com/google/uuid.
func UUID() string {
	return uuid.NewString()
}
