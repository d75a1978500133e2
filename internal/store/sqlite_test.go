package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hunter-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testRecords(ids ...string) []model.RegistryRecord {
	recs := make([]model.RegistryRecord, len(ids))
	for i, id := range ids {
		recs[i] = model.RegistryRecord{
			ExternalID: id,
			LegalName:  "EMPRESA " + id + " LTDA",
			City:       "Campinas",
			State:      "SP",
		}
	}
	return recs
}

// --- Runs ---

func TestSQLite_Run_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	spec := model.SearchSpec{State: "SP", ActivityPrefixes: []string{"6920"}, MaxRecords: 100}
	run, err := st.CreateRun(ctx, spec)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunRunning, run.Status)
	assert.Equal(t, spec.Fingerprint(), run.Fingerprint)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "SP", got.Spec.State)
	assert.Nil(t, got.EndedAt)
}

func TestSQLite_Run_Complete(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.SearchSpec{State: "MG"})
	require.NoError(t, err)

	totals := model.RunTotals{Staged: 10, Cleaned: 8, Enriched: 2, Errors: 1}
	require.NoError(t, st.CompleteRun(ctx, run.ID, model.RunCompletedWithErrors, totals))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompletedWithErrors, got.Status)
	assert.Equal(t, totals, got.Totals)
	require.NotNil(t, got.EndedAt)
}

func TestSQLite_Run_UpdateStatusNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.UpdateRunStatus(context.Background(), "missing", model.RunFailed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_Run_ListFilters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a, err := st.CreateRun(ctx, model.SearchSpec{State: "SP"})
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, model.SearchSpec{State: "RJ"})
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunStatus(ctx, a.ID, model.RunFailed))

	failed, err := st.ListRuns(ctx, RunFilter{Status: model.RunFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, a.ID, failed[0].ID)

	byFP, err := st.ListRuns(ctx, RunFilter{Fingerprint: model.SearchSpec{State: "RJ"}.Fingerprint()})
	require.NoError(t, err)
	require.Len(t, byFP, 1)

	none, err := st.ListRuns(ctx, RunFilter{CreatedAfter: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, none)
}

// --- Steps and observability ---

func TestSQLite_Steps_Lifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.SearchSpec{State: "SP"})
	require.NoError(t, err)

	step, err := st.CreateStep(ctx, run.ID, "extract")
	require.NoError(t, err)
	assert.Equal(t, model.StepRunning, step.Status)

	require.NoError(t, st.CompleteStep(ctx, step.ID, model.StepCompleted, map[string]any{"pages": 3}))

	steps, err := st.ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, model.StepCompleted, steps[0].Status)
	assert.Equal(t, float64(3), steps[0].Details["pages"])
	require.NotNil(t, steps[0].EndedAt)
	assert.GreaterOrEqual(t, steps[0].Duration, time.Duration(0))
	assert.Less(t, steps[0].Duration, time.Minute)

	err = st.CompleteStep(ctx, "no-such-step", model.StepCompleted, nil)
	assert.Error(t, err)
}

func TestSQLite_Errors_RecordAndCount(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.SearchSpec{State: "SP"})
	require.NoError(t, err)

	require.NoError(t, st.RecordError(ctx, model.RunError{RunID: run.ID, Step: "enrich", LeadID: "123", Detail: "timeout"}))
	require.NoError(t, st.RecordError(ctx, model.RunError{RunID: run.ID, Step: "clean", Detail: "bad record"}))

	errs, err := st.ListErrors(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, errs, 2)

	n, err := st.CountErrors(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLite_APICall_Record(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.RecordAPICall(ctx, model.APICall{
		RunID:      "r1",
		Capability: "registry.search",
		Method:     "POST",
		StatusCode: 200,
		Outcome:    "ok",
		Latency:    120 * time.Millisecond,
	})
	require.NoError(t, err)
}

// --- Extraction cache ---

func TestSQLite_ExtractCache_SetGetExpire(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	payload := json.RawMessage(`[{"external_id":"1"}]`)
	require.NoError(t, st.SetCachedExtraction(ctx, "fp1", payload, 1, time.Hour))

	ce, err := st.GetCachedExtraction(ctx, "fp1")
	require.NoError(t, err)
	require.NotNil(t, ce)
	assert.Equal(t, 1, ce.ResultCount)
	assert.JSONEq(t, string(payload), string(ce.Payload))

	// Expired entries are never served.
	require.NoError(t, st.SetCachedExtraction(ctx, "fp2", payload, 1, -time.Hour))
	ce, err = st.GetCachedExtraction(ctx, "fp2")
	require.NoError(t, err)
	assert.Nil(t, ce)

	ce, err = st.GetCachedExtraction(ctx, "never-seen")
	require.NoError(t, err)
	assert.Nil(t, ce)
}

func TestSQLite_ExtractCache_OverwriteAndSweep(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetCachedExtraction(ctx, "fp", json.RawMessage(`[1]`), 1, time.Hour))
	require.NoError(t, st.SetCachedExtraction(ctx, "fp", json.RawMessage(`[1,2]`), 2, time.Hour))

	ce, err := st.GetCachedExtraction(ctx, "fp")
	require.NoError(t, err)
	require.NotNil(t, ce)
	assert.Equal(t, 2, ce.ResultCount)

	require.NoError(t, st.SetCachedExtraction(ctx, "old", json.RawMessage(`[]`), 0, -time.Hour))
	n, err := st.DeleteExpiredExtractions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// --- Staging ---

func TestSQLite_StageLeads_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	recs := testRecords("111", "222", "333")

	inserted, skipped, err := st.StageLeads(ctx, "run1", recs)
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)
	assert.Equal(t, 0, skipped)

	// Staging the same payload again inserts nothing.
	inserted, skipped, err = st.StageLeads(ctx, "run1", recs)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.Equal(t, 3, skipped)

	staged, err := st.ListStagedLeads(ctx, "run1")
	require.NoError(t, err)
	assert.Len(t, staged, 3)
}

func TestSQLite_StageLeads_ScopedPerRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	recs := testRecords("111")
	_, _, err := st.StageLeads(ctx, "run1", recs)
	require.NoError(t, err)
	inserted, _, err := st.StageLeads(ctx, "run2", recs)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
}

func TestSQLite_StageLeads_PartialOverlap(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, _, err := st.StageLeads(ctx, "run1", testRecords("111", "222"))
	require.NoError(t, err)

	inserted, skipped, err := st.StageLeads(ctx, "run1", testRecords("222", "333"))
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, skipped)
}

// --- Clean leads ---

func TestSQLite_CleanLeads_SaveAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	leads := []model.CleanLead{
		{ExternalID: "111", Name: "Empresa Um", ScoreV1: 80, FinalScore: 80},
		{ExternalID: "222", Name: "Empresa Dois", ScoreV1: 60, FinalScore: 95},
	}
	require.NoError(t, st.SaveCleanLeads(ctx, "run1", leads))

	got, err := st.ListCleanLeads(ctx, "run1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Ordered by final score descending.
	assert.Equal(t, "222", got[0].ExternalID)
}

func TestSQLite_CleanLeads_LatestWins(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveCleanLeads(ctx, "run1", []model.CleanLead{{ExternalID: "111", Name: "Old"}}))
	require.NoError(t, st.SaveCleanLeads(ctx, "run2", []model.CleanLead{{ExternalID: "111", Name: "New"}}))

	got, err := st.ListCleanLeads(ctx, "run2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "New", got[0].Name)

	old, err := st.ListCleanLeads(ctx, "run1")
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestSQLite_RecordScores_AppendOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.RecordScores(ctx, []model.ScoreRecord{
		{LeadID: "111", Pass: 1, Value: 70, Factors: map[string]int{"base": 50, "phone": 10}},
	}))
	require.NoError(t, st.RecordScores(ctx, []model.ScoreRecord{
		{LeadID: "111", Pass: 2, Value: 85},
	}))
}

// --- Vault ---

func TestSQLite_Vault_UpsertLastWriteWins(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertEnrichment(ctx, model.Enrichment{
		BusinessID: "111",
		SiteURL:    "https://old.example.com",
		LastStatus: model.EnrichEnriched,
	}))
	require.NoError(t, st.UpsertEnrichment(ctx, model.Enrichment{
		BusinessID: "111",
		SiteURL:    "https://new.example.com",
		LastStatus: model.EnrichEnriched,
	}))

	e, err := st.GetEnrichment(ctx, "111")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "https://new.example.com", e.SiteURL)
	// Exactly one live record, but the attempt history survives.
	assert.Equal(t, 2, e.Attempts)

	entries, err := st.ListVault(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSQLite_Vault_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)
	e, err := st.GetEnrichment(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestSQLite_Vault_BatchGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertEnrichment(ctx, model.Enrichment{BusinessID: "111", SiteURL: "https://a.com", LastStatus: model.EnrichEnriched}))
	require.NoError(t, st.UpsertEnrichment(ctx, model.Enrichment{BusinessID: "222", SiteURL: "https://b.com", LastStatus: model.EnrichEnriched}))

	got, err := st.GetEnrichments(ctx, []string{"111", "222", "333"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "https://a.com", got["111"].SiteURL)

	empty, err := st.GetEnrichments(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// --- Export rows ---

func TestSQLite_ExportRows_JoinsVault(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveCleanLeads(ctx, "run1", []model.CleanLead{
		{ExternalID: "111", Name: "Com Site", FinalScore: 90},
		{ExternalID: "222", Name: "Sem Site", FinalScore: 40},
	}))
	require.NoError(t, st.UpsertEnrichment(ctx, model.Enrichment{
		BusinessID: "111", SiteURL: "https://a.com", LastStatus: model.EnrichEnriched,
	}))

	rows, err := st.ListExportRows(ctx, "run1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "111", rows[0].Lead.ExternalID)
	require.NotNil(t, rows[0].Enrichment)
	assert.Equal(t, "https://a.com", rows[0].Enrichment.SiteURL)
	assert.Nil(t, rows[1].Enrichment)
}

// --- Bulk export jobs ---

func TestSQLite_ExportJob_Lifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := model.ExportJob{ID: "job1", RunID: "run1", RemoteID: "remote-abc", Status: model.ExportQueued}
	require.NoError(t, st.CreateExportJob(ctx, job))

	job.Status = model.ExportDone
	job.FilePath = "/tmp/out.csv"
	job.Attempts = 4
	require.NoError(t, st.UpdateExportJob(ctx, job))

	got, err := st.GetExportJob(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, model.ExportDone, got.Status)
	assert.Equal(t, "/tmp/out.csv", got.FilePath)
	assert.Equal(t, 4, got.Attempts)

	_, err = st.GetExportJob(ctx, "missing")
	require.Error(t, err)
}
