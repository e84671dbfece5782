// Package octoling holds the data-transport types shared between the
// webhook dispatcher and the runner lifecycle controller: the forge's
// workflow_job payload shape and the version endpoint response.
package octoling

// WorkflowJobEvent is the forge's workflow_job webhook payload, filtered
// to the fields the controller acts on.
type WorkflowJobEvent struct {
	Action      string      `json:"action"`
	WorkflowJob WorkflowJob `json:"workflow_job"`
	Repository  Repository  `json:"repository"`
}

// WorkflowJob describes the queued or completed CI job.
type WorkflowJob struct {
	ID         int64    `json:"id"`
	Status     string   `json:"status"`
	Labels     []string `json:"labels"`
	RunnerName string   `json:"runner_name"`
}

// Repository identifies the originating repository.
type Repository struct {
	Name  string `json:"name"`
	Owner Owner  `json:"owner"`
}

// Owner is the repository owner.
type Owner struct {
	Login string `json:"login"`
}

// Status values the controller dispatches on; any other value is
// accepted but ignored.
const (
	StatusQueued    = "queued"
	StatusCompleted = "completed"
)

// VersionResponse is the body of GET /api/version.
type VersionResponse struct {
	ServerVersion string   `json:"server_version"`
	APIVersions   []string `json:"api_versions"`
}

// CurrentVersion is served at GET /api/version.
var CurrentVersion = VersionResponse{
	ServerVersion: "1.0.0",
	APIVersions:   []string{"v0"},
}
