package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusNew          RunStatus = "NEW"
	RunStatusDiscovering  RunStatus = "DISCOVERING"
	RunStatusExtracting   RunStatus = "EXTRACTING"
	RunStatusSynthesizing RunStatus = "SYNTHESIZING"
	RunStatusQA           RunStatus = "QA"
	RunStatusComplete     RunStatus = "COMPLETE"
	RunStatusError        RunStatus = "ERROR"
	RunStatusSkipped      RunStatus = "SKIPPED"
)

// runOrder ranks the forward states. Terminal escapes are not ranked.
var runOrder = map[RunStatus]int{
	RunStatusNew:          0,
	RunStatusDiscovering:  1,
	RunStatusExtracting:   2,
	RunStatusSynthesizing: 3,
	RunStatusQA:           4,
	RunStatusComplete:     5,
}

// Terminal reports whether no further transitions are allowed.
func (s RunStatus) Terminal() bool {
	return s == RunStatusComplete || s == RunStatusError || s == RunStatusSkipped
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	if _, ok := runOrder[s]; ok {
		return true
	}
	return s == RunStatusError || s == RunStatusSkipped
}

// Cancellable reports whether a cancel request may move the run to SKIPPED.
// Runs already in QA or later are past the point of cancelling.
func (s RunStatus) Cancellable() bool {
	switch s {
	case RunStatusQA, RunStatusComplete, RunStatusError, RunStatusSkipped:
		return false
	}
	return true
}

// CanTransition reports whether a run may move from one status to another.
// Forward moves follow the phase order one step at a time; ERROR and SKIPPED
// are reachable from any non-terminal status.
func CanTransition(from, to RunStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == RunStatusError || to == RunStatusSkipped {
		return true
	}
	fi, ok := runOrder[from]
	if !ok {
		return false
	}
	ti, ok := runOrder[to]
	if !ok {
		return false
	}
	return ti == fi+1
}

// Run represents one execution of the discovery-to-report pipeline.
type Run struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Status      RunStatus  `json:"status"`
	Note        string     `json:"note,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunLog is a single append-only log line attached to a run.
type RunLog struct {
	ID        int64     `json:"id,omitempty"`
	RunID     string    `json:"run_id"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

// RunFilter controls which runs are returned by ListRuns.
type RunFilter struct {
	ProjectID string
	Status    RunStatus
	Since     time.Time
	Limit     int
	Offset    int
}
