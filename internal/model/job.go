package model

import "time"

// JobStatus tracks a queued orchestration job.
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusDone    JobStatus = "DONE"
	JobStatusError   JobStatus = "ERROR"
)

// Job is a request to orchestrate a run, consumed by the worker.
type Job struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Status    JobStatus `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreditUsage is a project's monthly run allowance.
type CreditUsage struct {
	ProjectID string `json:"project_id"`
	Period    string `json:"period"` // YYYY-MM
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
}

// Remaining returns the number of credits left in the period.
func (c CreditUsage) Remaining() int {
	if c.Used >= c.Limit {
		return 0
	}
	return c.Limit - c.Used
}
