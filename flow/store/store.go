// Package store persists run snapshots so parked runs survive restarts.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a run has no persisted records.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by database-backed stores after Close.
var ErrClosed = errors.New("store is closed")

// Store persists a run's snapshots as an append-only sequence of revisions.
//
// The engine writes one revision after every dispatch batch, when a run
// parks, and when it reaches a terminal state. LoadLatest returns the
// highest revision, which is what Engine.Restore rehydrates from.
//
// Type parameter S is the snapshot type and must be JSON-serializable for
// the database-backed implementations.
type Store[S any] interface {
	// SaveStep records revision rev of runID. label describes what produced
	// the revision ("dispatch", "parked", "terminated", "faulted").
	// Saving an existing revision replaces it.
	SaveStep(ctx context.Context, runID string, rev int, label string, state S) error

	// LoadLatest returns the highest revision for runID or ErrNotFound.
	LoadLatest(ctx context.Context, runID string) (state S, rev int, err error)

	// History returns every revision for runID ordered by revision.
	History(ctx context.Context, runID string) ([]StepRecord[S], error)

	// ListRuns returns the IDs of all runs with at least one revision.
	ListRuns(ctx context.Context) ([]string, error)

	// DeleteRun removes all revisions of runID. Deleting an unknown run is
	// not an error.
	DeleteRun(ctx context.Context, runID string) error
}

// StepRecord is one persisted revision of a run.
type StepRecord[S any] struct {
	Rev   int
	Label string
	State S
}
