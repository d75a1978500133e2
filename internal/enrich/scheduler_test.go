package enrich

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hunter-cli/internal/config"
	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/internal/store"
	"github.com/sells-group/hunter-cli/pkg/techdetect"
	"github.com/sells-group/hunter-cli/pkg/webscan"
)

type fakeWebscan struct {
	mu       sync.Mutex
	inFlight int32
	maxSeen  int32
	delay    time.Duration
	failFor  map[string]error
	results  map[string]webscan.LookupResponse
}

func (f *fakeWebscan) Lookup(ctx context.Context, req webscan.LookupRequest) (*webscan.LookupResponse, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&f.maxSeen)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxSeen, prev, cur) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[req.BusinessName]; ok {
		return nil, err
	}
	if resp, ok := f.results[req.BusinessName]; ok {
		return &resp, nil
	}
	return &webscan.LookupResponse{}, nil
}

type fakeTechdetect struct {
	resp *techdetect.DetectResponse
	err  error
}

func (f *fakeTechdetect) Detect(ctx context.Context, siteURL string) (*techdetect.DetectResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &techdetect.DetectResponse{}, nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testEnrichConfig() config.EnrichConfig {
	return config.EnrichConfig{Concurrency: 4, TimeoutSecs: 5, VaultTTLHours: 24}
}

func leadNamed(id, name string) model.CleanLead {
	return model.CleanLead{ExternalID: id, Name: name, City: "Campinas", State: "SP", HasMobile: true}
}

func TestEnrichBatch(t *testing.T) {
	ws := &fakeWebscan{
		results: map[string]webscan.LookupResponse{
			"Empresa Um": {
				SiteURL:      "https://um.com.br",
				WhatsAppLink: "https://wa.me/5519999990000",
			},
		},
	}
	td := &fakeTechdetect{resp: &techdetect.DetectResponse{
		Technologies:   []string{"wordpress", "rd-station"},
		HasContactPage: true,
		HasForm:        true,
	}}

	st := newTestStore(t)
	s := NewScheduler(st, ws, td, testEnrichConfig())

	results, stats, err := s.EnrichBatch(context.Background(), "run-1",
		[]model.CleanLead{leadNamed("1", "Empresa Um"), leadNamed("2", "Empresa Dois")})
	require.NoError(t, err)
	require.Len(t, results, 2)

	um := results["1"]
	assert.Equal(t, model.EnrichEnriched, um.LastStatus)
	assert.Equal(t, "https://um.com.br", um.SiteURL)
	assert.Equal(t, "https://wa.me/5519999990000", um.Social.WhatsAppLink)
	assert.Equal(t, 35, um.TechScore)

	// No site found is still a successful enrichment.
	dois := results["2"]
	assert.Equal(t, model.EnrichEnriched, dois.LastStatus)
	assert.Empty(t, dois.SiteURL)
	assert.Zero(t, dois.TechScore)

	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 2, stats.Enriched)
	assert.Zero(t, stats.CacheHits)

	// Results are persisted in the vault.
	stored, err := st.GetEnrichment(context.Background(), "1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1, stored.Attempts)
}

func TestEnrichBatchVaultHit(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.UpsertEnrichment(context.Background(), model.Enrichment{
		BusinessID: "1",
		SiteURL:    "https://cached.com.br",
		FetchedAt:  time.Now().UTC(),
		LastStatus: model.EnrichEnriched,
	}))

	ws := &fakeWebscan{}
	s := NewScheduler(st, ws, &fakeTechdetect{}, testEnrichConfig())

	results, stats, err := s.EnrichBatch(context.Background(), "run-1",
		[]model.CleanLead{leadNamed("1", "Empresa Cacheada")})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.CacheHits)
	assert.Equal(t, "https://cached.com.br", results["1"].SiteURL)
	assert.Zero(t, ws.maxSeen, "provider must not be called on a fresh vault hit")
}

func TestEnrichBatchStaleVaultEntryRefetched(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.UpsertEnrichment(context.Background(), model.Enrichment{
		BusinessID: "1",
		SiteURL:    "https://stale.com.br",
		FetchedAt:  time.Now().UTC().Add(-48 * time.Hour),
		LastStatus: model.EnrichEnriched,
	}))

	ws := &fakeWebscan{results: map[string]webscan.LookupResponse{
		"Empresa Velha": {SiteURL: "https://nova.com.br"},
	}}
	s := NewScheduler(st, ws, &fakeTechdetect{}, testEnrichConfig())

	results, stats, err := s.EnrichBatch(context.Background(), "run-1",
		[]model.CleanLead{leadNamed("1", "Empresa Velha")})
	require.NoError(t, err)

	assert.Zero(t, stats.CacheHits)
	assert.Equal(t, "https://nova.com.br", results["1"].SiteURL)

	// The vault upsert preserves the attempts counter across refreshes.
	stored, err := st.GetEnrichment(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Attempts)
}

func TestEnrichBatchPerLeadIsolation(t *testing.T) {
	ws := &fakeWebscan{
		failFor: map[string]error{"Empresa Quebrada": assert.AnError},
		results: map[string]webscan.LookupResponse{
			"Empresa Boa": {SiteURL: "https://boa.com.br"},
		},
	}

	st := newTestStore(t)
	s := NewScheduler(st, ws, &fakeTechdetect{}, testEnrichConfig())

	results, stats, err := s.EnrichBatch(context.Background(), "run-1",
		[]model.CleanLead{leadNamed("1", "Empresa Quebrada"), leadNamed("2", "Empresa Boa")})
	require.NoError(t, err)

	assert.Equal(t, model.EnrichFailed, results["1"].LastStatus)
	assert.Equal(t, model.EnrichEnriched, results["2"].LastStatus)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Enriched)

	// The failed lead leaves an error trail on the run.
	n, err := st.CountErrors(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnrichBatchTimeout(t *testing.T) {
	ws := &fakeWebscan{delay: 1100 * time.Millisecond}
	st := newTestStore(t)

	cfg := config.EnrichConfig{Concurrency: 2, TimeoutSecs: 1, VaultTTLHours: 24}
	s := NewScheduler(st, ws, &fakeTechdetect{}, cfg)

	results, stats, err := s.EnrichBatch(context.Background(), "run-1",
		[]model.CleanLead{leadNamed("1", "Empresa Lenta")})
	require.NoError(t, err)

	assert.Equal(t, model.EnrichTimedOut, results["1"].LastStatus)
	assert.Equal(t, 1, stats.TimedOut)
}

func TestEnrichBatchBoundedConcurrency(t *testing.T) {
	ws := &fakeWebscan{delay: 30 * time.Millisecond}
	st := newTestStore(t)

	cfg := config.EnrichConfig{Concurrency: 3, TimeoutSecs: 5, VaultTTLHours: 24}
	s := NewScheduler(st, ws, &fakeTechdetect{}, cfg)

	leads := make([]model.CleanLead, 0, 12)
	for i := range 12 {
		leads = append(leads, leadNamed(string(rune('a'+i)), "Empresa Concorrente"))
	}

	_, stats, err := s.EnrichBatch(context.Background(), "run-1", leads)
	require.NoError(t, err)

	assert.Equal(t, 12, stats.Processed)
	assert.LessOrEqual(t, ws.maxSeen, int32(3))
	assert.Positive(t, ws.maxSeen)
}

func TestEnrichBatchMixedVaultHitsAndFetches(t *testing.T) {
	st := newTestStore(t)
	leads := make([]model.CleanLead, 0, 40)
	for i := range 40 {
		id := string(rune('a'+i%26)) + string(rune('0'+i/26))
		leads = append(leads, leadNamed(id, "Empresa Mista"))
		if i%2 == 0 {
			require.NoError(t, st.UpsertEnrichment(context.Background(), model.Enrichment{
				BusinessID: id,
				SiteURL:    "https://vault.com.br",
				FetchedAt:  time.Now().UTC(),
				LastStatus: model.EnrichEnriched,
			}))
		}
	}

	ws := &fakeWebscan{delay: 20 * time.Millisecond}
	cfg := config.EnrichConfig{Concurrency: 8, TimeoutSecs: 5, VaultTTLHours: 24}
	s := NewScheduler(st, ws, &fakeTechdetect{}, cfg)

	results, stats, err := s.EnrichBatch(context.Background(), "run-1", leads)
	require.NoError(t, err)

	require.Len(t, results, 40)
	assert.Equal(t, 40, stats.Processed)
	assert.Equal(t, 20, stats.CacheHits)
	assert.Equal(t, 40, stats.Enriched)
	for _, lead := range leads {
		assert.Equal(t, model.EnrichEnriched, results[lead.ExternalID].LastStatus)
	}
}

func TestEnrichBatchCancellationPersistsInFlight(t *testing.T) {
	ws := &fakeWebscan{delay: 150 * time.Millisecond}
	st := newTestStore(t)

	cfg := config.EnrichConfig{Concurrency: 2, TimeoutSecs: 5, VaultTTLHours: 24}
	s := NewScheduler(st, ws, &fakeTechdetect{}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()

	results, _, err := s.EnrichBatch(ctx, "run-1",
		[]model.CleanLead{leadNamed("1", "Empresa Interrompida"), leadNamed("2", "Empresa Interrompida")})
	require.NoError(t, err)

	// Workers that had already started still write their outcome to the
	// vault even though the batch context is gone.
	for id, entry := range results {
		assert.NotEqual(t, model.EnrichInFlight, entry.LastStatus)

		stored, err := st.GetEnrichment(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, stored, "in-flight lead %s must be persisted", id)
		assert.Equal(t, entry.LastStatus, stored.LastStatus)
	}
	require.NotEmpty(t, results)
}

func TestConcurrencyClamp(t *testing.T) {
	s := NewScheduler(nil, nil, nil, config.EnrichConfig{Concurrency: 100})
	assert.Equal(t, MaxConcurrency, s.concurrency())

	s = NewScheduler(nil, nil, nil, config.EnrichConfig{})
	assert.Equal(t, 8, s.concurrency())
}
