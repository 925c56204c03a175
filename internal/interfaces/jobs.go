package interfaces

import "context"

// StepFunc is a named unit of work inside a handler. Its serialized result is
// persisted on success so a replayed attempt returns the cached value without
// re-running the work.
type StepFunc func(ctx context.Context) (interface{}, error)

// StepExecutor runs a named step with at-most-once-effect semantics per
// (jobID, stepName). A failing step propagates its error without persisting;
// concurrent runs of the same step are serialized.
type StepExecutor interface {
	Run(ctx context.Context, jobID, stepName string, fn StepFunc) ([]byte, error)
}
