// Package reconcile implements the background loops that converge rows left
// behind by interrupted uploads. Each reconciler claims its rows with
// skip-locked semantics, so any number of instances share the work without
// duplicating it; every transition goes through the guarded state update, so
// a lost race is a no-op rather than a double effect.
package reconcile

import "context"

// Stats summarises one reconciler run.
type Stats struct {
	// Claimed is the number of rows (or objects) examined this run.
	Claimed int

	// Advanced counts rows moved to their next state.
	Advanced int

	// Retried counts rows left in place for the next cycle.
	Retried int

	// Failed counts rows moved to the terminal failed state.
	Failed int

	// Deleted counts removed rows or objects.
	Deleted int

	// Kept counts objects inspected and deliberately left alone.
	Kept int
}

// Reconciler is one recovery loop.
type Reconciler interface {
	// Name identifies the reconciler in logs and metrics.
	Name() string

	// Run executes one reconciliation cycle.
	Run(ctx context.Context) (Stats, error)
}
