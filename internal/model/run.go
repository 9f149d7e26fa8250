package model

import "time"

// RunStatus is the execution state of a submitted run.
type RunStatus string

const (
	RunPending     RunStatus = "pending"
	RunLoading     RunStatus = "loading"
	RunEnriching   RunStatus = "enriching"
	RunDeriving    RunStatus = "deriving"
	RunAggregating RunStatus = "aggregating"
	RunExporting   RunStatus = "exporting"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunCancelled   RunStatus = "cancelled"
)

// Run is one submitted pipeline execution and its lifecycle state.
type Run struct {
	ID         string     `json:"id"`
	Status     RunStatus  `json:"status"`
	Spec       RunSpec    `json:"spec"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Stage status values recorded in StageProgress.
const (
	StageRunning   = "running"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// StageProgress captures one stage's throughput for a run.
type StageProgress struct {
	RunID     string     `json:"run_id"`
	Stage     string     `json:"stage"`
	Status    string     `json:"status"`
	In        int        `json:"records_in"`
	Out       int        `json:"records_out"`
	Dropped   int        `json:"records_dropped"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// ExportResult describes one export artifact produced for a run.
type ExportResult struct {
	Type        string    `json:"type"` // csv, json, sqlite, postgres
	Path        string    `json:"path"` // file path or table name
	RecordCount int       `json:"record_count"`
	CreatedAt   time.Time `json:"created_at"`
}
