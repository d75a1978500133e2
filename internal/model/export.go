package model

import "time"

// ExportJobStatus is the lifecycle of a registry-side bulk export job.
type ExportJobStatus string

const (
	ExportQueued   ExportJobStatus = "queued"
	ExportRunning  ExportJobStatus = "running"
	ExportDone     ExportJobStatus = "done"
	ExportFailed   ExportJobStatus = "failed"
	ExportTimedOut ExportJobStatus = "timed_out"
)

// ExportJob tracks one bulk export requested from the registry. Large
// extractions go through this path instead of realtime pagination.
type ExportJob struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	RemoteID  string          `json:"remote_id"`
	Status    ExportJobStatus `json:"status"`
	FilePath  string          `json:"file_path,omitempty"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ExportRow is the joined view a segment export filters and projects:
// cleaned lead plus final score plus vault record.
type ExportRow struct {
	Lead       CleanLead   `json:"lead"`
	Enrichment *Enrichment `json:"enrichment,omitempty"`
}

// HasSite reports whether the row carries a confirmed website.
func (r ExportRow) HasSite() bool {
	return r.Enrichment != nil && r.Enrichment.SiteURL != ""
}
