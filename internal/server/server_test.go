package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hunter-cli/internal/config"
	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestServer(t *testing.T, st store.Store) *httptest.Server {
	t.Helper()
	srv := New(st, config.Config{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, newTestStore(t))

	var body map[string]string
	code := getJSON(t, ts.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestListRuns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	run, err := st.CreateRun(ctx, model.SearchSpec{State: "SP", Municipality: "Campinas"})
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, run.ID, model.RunCompleted, model.RunTotals{Cleaned: 12}))
	_, err = st.CreateRun(ctx, model.SearchSpec{State: "MG"})
	require.NoError(t, err)

	ts := newTestServer(t, st)

	var body struct {
		Runs  []model.Run `json:"runs"`
		Count int         `json:"count"`
	}
	code := getJSON(t, ts.URL+"/v1/runs", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, body.Count)

	code = getJSON(t, ts.URL+"/v1/runs?status=completed", &body)
	assert.Equal(t, http.StatusOK, code)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, run.ID, body.Runs[0].ID)
	assert.Equal(t, 12, body.Runs[0].Totals.Cleaned)
}

func TestGetRunWithSteps(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	run, err := st.CreateRun(ctx, model.SearchSpec{State: "SP"})
	require.NoError(t, err)
	step, err := st.CreateStep(ctx, run.ID, "extract")
	require.NoError(t, err)
	require.NoError(t, st.CompleteStep(ctx, step.ID, model.StepCompleted, map[string]any{"records": 42}))
	require.NoError(t, st.RecordError(ctx, model.RunError{
		RunID:  run.ID,
		Step:   "enrich",
		LeadID: "11222333000181",
		Detail: "webscan: lookup failed",
	}))

	ts := newTestServer(t, st)

	var body struct {
		Run    model.Run        `json:"run"`
		Steps  []model.RunStep  `json:"steps"`
		Errors []model.RunError `json:"errors"`
	}
	code := getJSON(t, ts.URL+"/v1/runs/"+run.ID, &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, run.ID, body.Run.ID)
	require.Len(t, body.Steps, 1)
	assert.Equal(t, "extract", body.Steps[0].Name)
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "enrich", body.Errors[0].Step)
}

func TestGetRunNotFound(t *testing.T) {
	ts := newTestServer(t, newTestStore(t))

	var body map[string]string
	code := getJSON(t, ts.URL+"/v1/runs/nope", &body)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body["error"], "not found")
}

func TestListVault(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertEnrichment(ctx, model.Enrichment{
		BusinessID: "11222333000181",
		SiteURL:    "https://clinica.example.com.br",
		TechScore:  25,
		FetchedAt:  time.Now().UTC(),
		LastStatus: model.EnrichEnriched,
	}))

	ts := newTestServer(t, st)

	var body struct {
		Entries []model.Enrichment `json:"entries"`
		Count   int                `json:"count"`
	}
	code := getJSON(t, ts.URL+"/v1/vault", &body)
	assert.Equal(t, http.StatusOK, code)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "11222333000181", body.Entries[0].BusinessID)
	assert.Equal(t, 25, body.Entries[0].TechScore)
}

func TestGetExportJobNotFound(t *testing.T) {
	ts := newTestServer(t, newTestStore(t))

	var body map[string]string
	code := getJSON(t, ts.URL+"/v1/jobs/nope", &body)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMetrics(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	run, err := st.CreateRun(ctx, model.SearchSpec{State: "SP"})
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, run.ID, model.RunCompleted, model.RunTotals{Cleaned: 7}))

	ts := newTestServer(t, st)

	var snap struct {
		RunsTotal     int `json:"runs_total"`
		RunsCompleted int `json:"runs_completed"`
		LeadsCleaned  int `json:"leads_cleaned"`
		LookbackHours int `json:"lookback_hours"`
	}
	code := getJSON(t, ts.URL+"/v1/metrics?lookback_hours=48", &snap)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsCompleted)
	assert.Equal(t, 7, snap.LeadsCleaned)
	assert.Equal(t, 48, snap.LookbackHours)
}
