// Package archive persists a run's full stdout/stderr transcript beyond
// the in-memory tail the store keeps (spec.md §4.4 "archival of full
// output is a sink concern, not the store's").
package archive

import "context"

// Sink receives a run's output once it has finished streaming.
type Sink interface {
	// Store persists lines (already newline-joined) under a key derived
	// from jobID/runID. Implementations must be safe to call
	// concurrently for distinct runIDs.
	Store(ctx context.Context, jobID string, runID int64, contents []byte) error
}

// Noop discards output. Used when no archive backend is configured.
type Noop struct{}

// Store implements Sink by doing nothing.
func (Noop) Store(context.Context, string, int64, []byte) error { return nil }
