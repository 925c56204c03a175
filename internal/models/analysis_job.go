// -----------------------------------------------------------------------
// Analysis Job - persisted lifecycle record for one analysis attempt
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// JobStatus represents the state of an analysis job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal returns true if no further transition is valid from this status
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether next is reachable from the current status.
// The machine is pending -> in_progress -> {completed, failed}; pending -> failed
// is also allowed so an attempt that dies before starting still settles
// instead of sitting in pending forever.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusInProgress || next == JobStatusFailed
	case JobStatusInProgress:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// JobKind identifies the category of subject being analyzed, determining which
// analysis routine and event schema apply
type JobKind string

const (
	KindWebsiteContent JobKind = "website-content"
	KindGithubRepo     JobKind = "github-repo"
)

// IsValid checks if the JobKind is a known kind
func (k JobKind) IsValid() bool {
	return k == KindWebsiteContent || k == KindGithubRepo
}

// AnalysisJob is the persisted record of one asynchronous analysis attempt.
// It is created with status=pending by the submission flow at the same time
// the start event is published, mutated only through JobStorage.Transition,
// and never deleted by the orchestration core.
//
// Invariants (enforced by Transition):
//   - EndedAt is set iff Status is terminal
//   - Result is populated only when Status == completed
//   - Error is populated only when Status == failed
type AnalysisJob struct {
	ID        string                 `json:"id"`
	AppID     string                 `json:"app_id"`
	UserID    string                 `json:"user_id,omitempty"`
	Kind      JobKind                `json:"kind"`
	Status    JobStatus              `json:"status"`
	Subject   string                 `json:"subject"` // Website URL or repository reference under analysis
	StartedAt *time.Time             `json:"started_at,omitempty"`
	EndedAt   *time.Time             `json:"ended_at,omitempty"`
	Result    map[string]interface{} `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Validate validates the analysis job
func (j *AnalysisJob) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if !j.Kind.IsValid() {
		return fmt.Errorf("invalid job kind: %s", j.Kind)
	}
	if j.Subject == "" {
		return fmt.Errorf("job subject is required")
	}
	return nil
}

// IsTerminal returns true if the job is in a terminal state
func (j *AnalysisJob) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// TransitionFields carries the optional fields set atomically with a status
// change. Nil/empty fields are left untouched.
type TransitionFields struct {
	StartedAt *time.Time
	EndedAt   *time.Time
	Result    map[string]interface{}
	Error     string
}
