package model

import "time"

// Run statuses recorded in the run history.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// RunRecord is one workflow execution in the run history. A record is
// created when the run starts and finalized when it ends, so an
// operator can distinguish a crashed run (stuck in running) from a
// failed one.
type RunRecord struct {
	ID         string     `json:"id"`
	Workflow   string     `json:"workflow"`
	Checksum   string     `json:"checksum,omitempty"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	Tasks      int        `json:"tasks"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
