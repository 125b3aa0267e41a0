package o2sparc

import (
	"encoding/json"
	"time"
)

// Meta describes the API server.
type Meta struct {
	Name     string            `json:"name"`
	Version  string            `json:"version"`
	DocsURL  string            `json:"docs_url,omitempty"`
	Released map[string]string `json:"released,omitempty"`
}

// Profile is the authenticated user as reported by /me.
type Profile struct {
	Login     string `json:"login"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      string `json:"role,omitempty"`
}

// SolverInfo is a released computational service.
type SolverInfo struct {
	ID          string `json:"id"`
	Version     string `json:"version"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Maintainer  string `json:"maintainer,omitempty"`
	URL         string `json:"url,omitempty"`
}

// File is a file stored by the API, used both for uploaded inputs and for
// outputs produced by a job.
type File struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
}

// Job is a solver run.
type Job struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	RunnerName string    `json:"runner_name,omitempty"`
	URL        string    `json:"url,omitempty"`
	OutputsURL string    `json:"outputs_url,omitempty"`
}

// JobStatus is the state of a job as reported by inspect.
type JobStatus struct {
	JobID       string     `json:"job_id"`
	State       string     `json:"state"`
	Progress    int        `json:"progress"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
}

// Done reports whether the job has stopped, successfully or not.
func (s JobStatus) Done() bool {
	return s.StoppedAt != nil
}

type jobInputs struct {
	Values map[string]any `json:"values"`
}

type jobOutputs struct {
	JobID   string                     `json:"job_id"`
	Results map[string]json.RawMessage `json:"results"`
}
