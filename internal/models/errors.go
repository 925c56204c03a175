package models

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned when a transition or lookup targets an unknown job ID
var ErrJobNotFound = errors.New("job not found")

// InvalidTransitionError is returned when an attempted status transition is
// unreachable from the current status. The triggering attempt must abort
// without modifying the record; a late or duplicate event can never reopen a
// terminal job.
type InvalidTransitionError struct {
	JobID string
	From  JobStatus
	To    JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for job %s: %s -> %s", e.JobID, e.From, e.To)
}

// AnalysisError wraps a failure from a kind-specific analysis routine
// (network error, parse error, rate limit). Handlers convert it into a failed
// transition plus an error-detail end event; it never reaches the event bus.
type AnalysisError struct {
	Kind    JobKind
	Subject string
	Err     error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s analysis of %s failed: %v", e.Kind, e.Subject, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}
