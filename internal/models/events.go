// -----------------------------------------------------------------------
// Event payloads - wire contract for job-lifecycle events
// -----------------------------------------------------------------------

package models

// Terminal status literals carried on end events
const (
	EventStatusCompleted = "completed"
	EventStatusFailed    = "failed"
)

// WebsiteContentStart is the payload for "website-content/start"
type WebsiteContentStart struct {
	JobID   string `json:"jobId" validate:"required"`
	AppID   string `json:"appId" validate:"required"`
	UserID  string `json:"userId" validate:"required"`
	Website string `json:"website" validate:"required,url"`
	Status  string `json:"status" validate:"required"`
}

// WebsiteContentEnd is the payload for "website-content/end"
type WebsiteContentEnd struct {
	JobID   string         `json:"jobId" validate:"required"`
	Status  string         `json:"status" validate:"required,oneof=completed failed"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty" validate:"required_if=Status failed"`
	Detail  *WebsiteDetail `json:"detail,omitempty"`
}

// WebsiteDetail carries the metadata scraped from a website.
// Duration is optional telemetry; producers may omit it.
type WebsiteDetail struct {
	Favicon     string   `json:"favicon"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Banner      string   `json:"banner"`
	Tags        []string `json:"tags"`
	Duration    float64  `json:"duration,omitempty"`
}

// GithubRepoStart is the payload for "github-repo/start".
// AppID is optional: submission-time scrapes may run before an app row exists.
type GithubRepoStart struct {
	JobID  string `json:"jobId" validate:"required"`
	AppID  string `json:"appId,omitempty"`
	UserID string `json:"userId" validate:"required"`
	Github string `json:"github" validate:"required,url"`
	Status string `json:"status" validate:"required"`
}

// GithubRepoEnd is the payload for "github-repo/end"
type GithubRepoEnd struct {
	JobID   string      `json:"jobId" validate:"required"`
	Status  string      `json:"status" validate:"required,oneof=completed failed"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty" validate:"required_if=Status failed"`
	Detail  *RepoDetail `json:"detail,omitempty"`
}

// RepoDetail carries the metadata collected from a GitHub repository
type RepoDetail struct {
	Favicon           string   `json:"favicon"`
	Version           string   `json:"version"`
	Features          []string `json:"features"`
	Readme            string   `json:"readme"`
	License           string   `json:"license"`
	Stars             int      `json:"stars"`
	Forks             int      `json:"forks"`
	Issues            int      `json:"issues"`
	PullRequests      int      `json:"pullRequests"`
	Contributors      int      `json:"contributors"`
	Languages         []string `json:"languages"`
	Topics            []string `json:"topics"`
	LastCommit        string   `json:"lastCommit"`
	LastCommitMessage string   `json:"lastCommitMessage"`
	LastCommitAuthor  string   `json:"lastCommitAuthor"`
	LastCommitDate    string   `json:"lastCommitDate"`
}
