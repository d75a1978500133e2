package model

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunRunning             RunStatus = "running"
	RunPaused              RunStatus = "paused"
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunFailed              RunStatus = "failed"
)

// StepStatus is the state of one pipeline step within a run.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// RunTotals aggregates per-run counters shown in listings and reports.
type RunTotals struct {
	Staged   int `json:"staged"`
	Cleaned  int `json:"cleaned"`
	Enriched int `json:"enriched"`
	Exported int `json:"exported"`
	Errors   int `json:"errors"`
}

// Run is one end-to-end pipeline execution over a single search spec.
type Run struct {
	ID          string     `json:"id"`
	Fingerprint string     `json:"fingerprint"`
	Spec        SearchSpec `json:"spec"`
	Status      RunStatus  `json:"status"`
	Totals      RunTotals  `json:"totals"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// RunStep is an append-only record of one pipeline stage execution.
type RunStep struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Name      string         `json:"name"`
	Status    StepStatus     `json:"status"`
	Details   map[string]any `json:"details,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// APICall records one outbound call to an external capability.
type APICall struct {
	ID          string        `json:"id"`
	RunID       string        `json:"run_id"`
	Capability  string        `json:"capability"`
	Method      string        `json:"method,omitempty"`
	URL         string        `json:"url,omitempty"`
	StatusCode  int           `json:"status_code,omitempty"`
	Outcome     string        `json:"outcome"`
	Latency     time.Duration `json:"latency"`
	RequestID   string        `json:"request_id,omitempty"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	CalledAt    time.Time     `json:"called_at"`
}

// RunError records one recovered or fatal error attributed to a run stage.
type RunError struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Step      string    `json:"step"`
	LeadID    string    `json:"lead_id,omitempty"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}
