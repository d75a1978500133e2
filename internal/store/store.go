package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sells-group/hunter-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Fingerprint  string          `json:"fingerprint,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the lead pipeline: staging,
// cleaning output, the enrichment vault, the extraction cache, and all
// run/observability records.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, spec model.SearchSpec) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, totals model.RunTotals) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Steps and observability. Steps, API calls, and errors are append
	// only: completed records are never mutated.
	CreateStep(ctx context.Context, runID, name string) (*model.RunStep, error)
	CompleteStep(ctx context.Context, stepID string, status model.StepStatus, details map[string]any) error
	ListSteps(ctx context.Context, runID string) ([]model.RunStep, error)
	RecordAPICall(ctx context.Context, call model.APICall) error
	RecordError(ctx context.Context, re model.RunError) error
	ListErrors(ctx context.Context, runID string) ([]model.RunError, error)
	CountErrors(ctx context.Context, runID string) (int, error)

	// Extraction cache
	GetCachedExtraction(ctx context.Context, fingerprint string) (*model.CacheEntry, error)
	SetCachedExtraction(ctx context.Context, fingerprint string, payload json.RawMessage, resultCount int, ttl time.Duration) error
	DeleteExpiredExtractions(ctx context.Context) (int, error)

	// Staging. Idempotent on (run_id, external_id): staging the same
	// records twice inserts nothing the second time.
	StageLeads(ctx context.Context, runID string, records []model.RegistryRecord) (inserted, skipped int, err error)
	ListStagedLeads(ctx context.Context, runID string) ([]model.RawLead, error)

	// Cleaned leads and score history
	SaveCleanLeads(ctx context.Context, runID string, leads []model.CleanLead) error
	ListCleanLeads(ctx context.Context, runID string) ([]model.CleanLead, error)
	RecordScores(ctx context.Context, records []model.ScoreRecord) error

	// Vault
	UpsertEnrichment(ctx context.Context, e model.Enrichment) error
	GetEnrichment(ctx context.Context, businessID string) (*model.Enrichment, error)
	GetEnrichments(ctx context.Context, businessIDs []string) (map[string]model.Enrichment, error)
	ListVault(ctx context.Context, limit, offset int) ([]model.Enrichment, error)

	// Export
	ListExportRows(ctx context.Context, runID string) ([]model.ExportRow, error)

	// Bulk export jobs
	CreateExportJob(ctx context.Context, job model.ExportJob) error
	UpdateExportJob(ctx context.Context, job model.ExportJob) error
	GetExportJob(ctx context.Context, jobID string) (*model.ExportJob, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
