package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal         int     `json:"runs_total"`
	RunsCompleted     int     `json:"runs_completed"`
	RunsWithErrors    int     `json:"runs_with_errors"`
	RunsFailed        int     `json:"runs_failed"`
	RunsPaused        int     `json:"runs_paused"`
	RunsRunning       int     `json:"runs_running"`
	RunFailRate       float64 `json:"run_fail_rate"`
	LeadsStaged       int     `json:"leads_staged"`
	LeadsCleaned      int     `json:"leads_cleaned"`
	LeadsEnriched     int     `json:"leads_enriched"`
	LeadsExported     int     `json:"leads_exported"`
	ErrorsTotal       int     `json:"errors_total"`
	AvgCleanedPerRun  float64 `json:"avg_cleaned_per_run"`
	AvgEnrichedPerRun float64 `json:"avg_enriched_per_run"`

	// Enrichment vault reuse (from enrich step details).
	EnrichCandidates   int     `json:"enrich_candidates"`
	EnrichCacheHits    int     `json:"enrich_cache_hits"`
	EnrichCacheHitRate float64 `json:"enrich_cache_hit_rate"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of pipeline metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunCompleted:
			snap.RunsCompleted++
		case model.RunCompletedWithErrors:
			snap.RunsWithErrors++
		case model.RunFailed:
			snap.RunsFailed++
		case model.RunPaused:
			snap.RunsPaused++
		case model.RunRunning:
			snap.RunsRunning++
		}
		snap.LeadsStaged += r.Totals.Staged
		snap.LeadsCleaned += r.Totals.Cleaned
		snap.LeadsEnriched += r.Totals.Enriched
		snap.LeadsExported += r.Totals.Exported
		snap.ErrorsTotal += r.Totals.Errors
	}

	for _, r := range runs {
		steps, err := c.store.ListSteps(ctx, r.ID)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list steps")
		}
		for _, step := range steps {
			if step.Name != "enrich" {
				continue
			}
			snap.EnrichCandidates += detailInt(step.Details, "candidates")
			snap.EnrichCacheHits += detailInt(step.Details, "cache_hits")
		}
	}
	if snap.EnrichCandidates > 0 {
		snap.EnrichCacheHitRate = float64(snap.EnrichCacheHits) / float64(snap.EnrichCandidates)
	}

	finished := snap.RunsCompleted + snap.RunsWithErrors + snap.RunsFailed
	if finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
		snap.AvgCleanedPerRun = float64(snap.LeadsCleaned) / float64(finished)
		snap.AvgEnrichedPerRun = float64(snap.LeadsEnriched) / float64(finished)
	}

	return snap, nil
}

// detailInt pulls an integer out of step details, which come back from the
// store as decoded JSON.
func detailInt(details map[string]any, key string) int {
	switch v := details[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
