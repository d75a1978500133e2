package pipeline

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hunter-cli/internal/cleaning"
	"github.com/sells-group/hunter-cli/internal/config"
	"github.com/sells-group/hunter-cli/internal/enrich"
	"github.com/sells-group/hunter-cli/internal/export"
	"github.com/sells-group/hunter-cli/internal/extract"
	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/internal/scoring"
	"github.com/sells-group/hunter-cli/internal/store"
	"github.com/sells-group/hunter-cli/pkg/registry"
	"github.com/sells-group/hunter-cli/pkg/techdetect"
	"github.com/sells-group/hunter-cli/pkg/webscan"
)

type stubRegistry struct {
	records []registry.Record
	err     error
}

func (s *stubRegistry) Search(ctx context.Context, req registry.SearchRequest) (*registry.SearchResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	if req.Page > 1 {
		return &registry.SearchResponse{Total: len(s.records)}, nil
	}
	return &registry.SearchResponse{Total: len(s.records), Data: s.records}, nil
}

func (s *stubRegistry) Count(ctx context.Context, req registry.SearchRequest) (int, error) {
	return len(s.records), s.err
}

func (s *stubRegistry) CreateExport(ctx context.Context, req registry.SearchRequest) (*registry.ExportJobResponse, error) {
	return &registry.ExportJobResponse{ID: "job"}, nil
}

func (s *stubRegistry) GetExport(ctx context.Context, id string) (*registry.ExportStatusResponse, error) {
	return &registry.ExportStatusResponse{ID: id, Status: registry.ExportStatusPending}, nil
}

func (s *stubRegistry) DownloadExport(ctx context.Context, url string) (io.ReadCloser, error) {
	return nil, nil
}

type stubWebscan struct {
	sites map[string]string
	err   error
}

func (s *stubWebscan) Lookup(ctx context.Context, req webscan.LookupRequest) (*webscan.LookupResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &webscan.LookupResponse{SiteURL: s.sites[req.BusinessName]}, nil
}

type stubTechdetect struct{}

func (stubTechdetect) Detect(ctx context.Context, siteURL string) (*techdetect.DetectResponse, error) {
	return &techdetect.DetectResponse{Technologies: []string{"wordpress"}, HasForm: true}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Extract: config.ExtractConfig{PageSize: 100, MaxRecords: 1000, CacheTTLHours: 24, BulkThreshold: 100000},
		Cleaning: config.CleaningConfig{
			PhoneRepeatThreshold: 5,
			PriorityActivities:   []string{"8610", "6910"},
			GenericEmailDomains:  []string{"gmail.com"},
		},
		Scoring: config.ScoringConfig{
			TopPercent:       50,
			CapitalThreshold: 100000,
			Tiers:            config.TierThresholds{Hot: 85, Qualified: 70, Potential: 55},
		},
		Enrich: config.EnrichConfig{Concurrency: 4, TimeoutSecs: 5, VaultTTLHours: 24},
		Export: config.ExportConfig{Dir: t.TempDir()},
	}
}

func newPipeline(t *testing.T, cfg *config.Config, reg registry.Client, ws webscan.Client) (*Pipeline, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	p := New(cfg, st,
		extract.New(reg, st, cfg.Extract),
		cleaning.NewCleaner(cfg.Cleaning),
		scoring.NewScorer(cfg.Scoring),
		enrich.NewScheduler(st, ws, stubTechdetect{}, cfg.Enrich),
		export.NewExporter(cfg.Export),
	)
	return p, st
}

func sampleRecords() []registry.Record {
	return []registry.Record{
		{
			TaxID:     "100",
			LegalName: "CLINICA BOA VISTA LTDA",
			Activity:  "8610101",
			Email:     "contato@boavista.com.br",
			Phone1:    "(19) 99999-0001",
			City:      "CAMPINAS",
			State:     "SP",
			Capital:   300000,
		},
		{
			TaxID:     "200",
			LegalName: "PADARIA DO BAIRRO LTDA",
			Activity:  "4721102",
			Email:     "padaria@gmail.com",
			Phone1:    "(19) 3232-0002",
			City:      "CAMPINAS",
			State:     "SP",
			Capital:   10000,
		},
		{
			TaxID:     "300",
			LegalName: "ESCRITORIO CONTABIL CENTRAL",
			Activity:  "6920601",
			Email:     "central@contabilcentral.com.br",
			Phone1:    "(19) 3232-0003",
			City:      "CAMPINAS",
			State:     "SP",
		},
	}
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	reg := &stubRegistry{records: sampleRecords()}
	ws := &stubWebscan{sites: map[string]string{"Clinica Boa Vista Ltda": "https://boavista.com.br"}}

	p, st := newPipeline(t, cfg, reg, ws)

	result, err := p.Run(context.Background(), model.SearchSpec{State: "SP"}, "csv", export.Builtins())
	require.NoError(t, err)

	assert.Equal(t, model.RunCompleted, result.Status)
	assert.Equal(t, 3, result.Totals.Staged)
	assert.Equal(t, 3, result.Totals.Cleaned)
	assert.Positive(t, result.Totals.Enriched)
	assert.Zero(t, result.Totals.Errors)
	assert.Len(t, result.Exports, len(export.Builtins()))

	run, err := st.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, run.Status)
	require.NotNil(t, run.EndedAt)
	assert.Equal(t, result.Totals, run.Totals)

	steps, err := st.ListSteps(context.Background(), result.RunID)
	require.NoError(t, err)
	names := make([]string, 0, len(steps))
	for _, step := range steps {
		names = append(names, step.Name)
		assert.Equal(t, model.StepCompleted, step.Status)
	}
	assert.Equal(t, []string{"extract", "stage", "clean", "score_pass1", "enrich", "score_pass2", "export"}, names)

	leads, err := st.ListCleanLeads(context.Background(), result.RunID)
	require.NoError(t, err)
	require.Len(t, leads, 3)

	// The clinic gets priority activity, own domain and usable phone
	// credit on pass 1, lands in the enrichment cohort and carries a
	// pass 2 score.
	var clinic model.CleanLead
	for _, lead := range leads {
		if lead.ExternalID == "100" {
			clinic = lead
		}
	}
	assert.Equal(t, 90, clinic.ScoreV1)
	assert.Positive(t, clinic.ScoreV2)
	assert.Equal(t, clinic.ScoreV2, clinic.FinalScore)
}

func TestRunFailsWhenExtractionFails(t *testing.T) {
	cfg := testConfig(t)
	reg := &stubRegistry{err: assert.AnError}

	p, st := newPipeline(t, cfg, reg, &stubWebscan{})

	result, err := p.Run(context.Background(), model.SearchSpec{State: "SP"}, "csv", nil)
	require.Error(t, err)
	assert.Equal(t, model.RunFailed, result.Status)

	run, getErr := st.GetRun(context.Background(), result.RunID)
	require.NoError(t, getErr)
	assert.Equal(t, model.RunFailed, run.Status)
}

func TestRunCompletedWithErrors(t *testing.T) {
	cfg := testConfig(t)
	reg := &stubRegistry{records: sampleRecords()}
	ws := &stubWebscan{err: assert.AnError}

	p, st := newPipeline(t, cfg, reg, ws)

	result, err := p.Run(context.Background(), model.SearchSpec{State: "SP"}, "csv", export.Builtins())
	require.NoError(t, err)

	assert.Equal(t, model.RunCompletedWithErrors, result.Status)
	assert.Positive(t, result.Totals.Errors)

	// Failed enrichments still leave pass 2 scores on the candidates.
	leads, listErr := st.ListCleanLeads(context.Background(), result.RunID)
	require.NoError(t, listErr)
	rescored := 0
	for _, lead := range leads {
		if lead.ScoreV2 > 0 {
			rescored++
		}
	}
	assert.Positive(t, rescored)
}

func TestResumePausedRun(t *testing.T) {
	cfg := testConfig(t)

	// The registry errors on every call: a resumed run with staged leads
	// must finish without touching extraction again.
	reg := &stubRegistry{err: assert.AnError}
	p, st := newPipeline(t, cfg, reg, &stubWebscan{sites: map[string]string{
		"Clinica Boa Vista Ltda": "https://boavista.com.br",
	}})

	ctx := context.Background()
	run, err := st.CreateRun(ctx, model.SearchSpec{State: "SP", Municipality: "campinas"})
	require.NoError(t, err)

	staged := []model.RegistryRecord{
		{
			ExternalID:   "100",
			LegalName:    "CLINICA BOA VISTA LTDA",
			ActivityCode: "8610101",
			Email:        "contato@boavista.com.br",
			Phone1:       "(19) 99999-0001",
			City:         "CAMPINAS",
			State:        "SP",
			Capital:      300000,
		},
		{
			ExternalID:   "300",
			LegalName:    "ESCRITORIO CONTABIL CENTRAL",
			ActivityCode: "6920601",
			Email:        "central@contabilcentral.com.br",
			Phone1:       "(19) 3232-0003",
			City:         "CAMPINAS",
			State:        "SP",
		},
	}
	inserted, _, err := st.StageLeads(ctx, run.ID, staged)
	require.NoError(t, err)
	require.Equal(t, 2, inserted)
	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunPaused))

	result, err := p.Resume(ctx, run.ID, "csv", export.Builtins())
	require.NoError(t, err)
	assert.Equal(t, run.ID, result.RunID)
	assert.Equal(t, model.RunCompleted, result.Status)
	assert.Equal(t, 2, result.Totals.Staged)
	assert.Equal(t, 2, result.Totals.Cleaned)
	assert.Len(t, result.Exports, len(export.Builtins()))

	reopened, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, reopened)
	assert.Equal(t, model.RunCompleted, reopened.Status)
	require.NotNil(t, reopened.EndedAt)
}

func TestResumeRejectsNonPausedRun(t *testing.T) {
	cfg := testConfig(t)
	p, st := newPipeline(t, cfg, &stubRegistry{}, &stubWebscan{})

	ctx := context.Background()
	run, err := st.CreateRun(ctx, model.SearchSpec{State: "SP"})
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunCompleted))

	_, err = p.Resume(ctx, run.ID, "csv", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only paused runs")

	_, err = p.Resume(ctx, uuid.New().String(), "csv", nil)
	require.Error(t, err)
}

func TestRunPausedOnCancellation(t *testing.T) {
	cfg := testConfig(t)
	reg := &stubRegistry{records: sampleRecords()}

	p, st := newPipeline(t, cfg, reg, &stubWebscan{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Depending on where cancellation lands the run either never starts,
	// fails in extraction, or pauses between stages. It must never report
	// completed.
	result, err := p.Run(ctx, model.SearchSpec{State: "SP"}, "csv", nil)
	if result == nil {
		require.Error(t, err)
		return
	}
	assert.NotEqual(t, model.RunCompleted, result.Status)

	run, getErr := st.GetRun(context.Background(), result.RunID)
	require.NoError(t, getErr)
	assert.Contains(t, []model.RunStatus{model.RunPaused, model.RunFailed}, run.Status)
}
