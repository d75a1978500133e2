package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hunter-cli/internal/cleaning"
	"github.com/sells-group/hunter-cli/internal/config"
	"github.com/sells-group/hunter-cli/internal/enrich"
	"github.com/sells-group/hunter-cli/internal/export"
	"github.com/sells-group/hunter-cli/internal/extract"
	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/internal/scoring"
	"github.com/sells-group/hunter-cli/internal/store"
)

// Pipeline orchestrates one full run: extract, stage, clean, score,
// enrich, re-score and export.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	extractor *extract.Extractor
	cleaner   *cleaning.Cleaner
	scorer    *scoring.Scorer
	scheduler *enrich.Scheduler
	exporter  *export.Exporter
}

// New creates a Pipeline with all dependencies.
func New(
	cfg *config.Config,
	st store.Store,
	extractor *extract.Extractor,
	cleaner *cleaning.Cleaner,
	scorer *scoring.Scorer,
	scheduler *enrich.Scheduler,
	exporter *export.Exporter,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		extractor: extractor,
		cleaner:   cleaner,
		scorer:    scorer,
		scheduler: scheduler,
		exporter:  exporter,
	}
}

// RunResult is what a finished (or stopped) run reports back to the caller.
type RunResult struct {
	RunID   string          `json:"run_id"`
	Status  model.RunStatus `json:"status"`
	Totals  model.RunTotals `json:"totals"`
	Exports []export.Result `json:"exports,omitempty"`
}

// Run executes the pipeline for a search spec. A failure in a required stage
// (extraction, staging) fails the run; everything else degrades to
// completed_with_errors. Cancellation between stages leaves the run paused so
// a later invocation can resume it.
func (p *Pipeline) Run(ctx context.Context, spec model.SearchSpec, format string, segments []export.Segment) (*RunResult, error) {
	run, err := p.store.CreateRun(ctx, spec)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	return p.execute(ctx, run, format, segments, false)
}

// Resume picks up a paused run and replays its remaining stages. Replayed
// stages are idempotent: extraction hits the fingerprint cache, staging
// skips rows it already holds and enrichment reuses fresh vault entries.
func (p *Pipeline) Resume(ctx context.Context, runID, format string, segments []export.Segment) (*RunResult, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load run %s", runID)
	}
	if run == nil {
		return nil, eris.Errorf("pipeline: run %s not found", runID)
	}
	if run.Status != model.RunPaused {
		return nil, eris.Errorf("pipeline: run %s is %s, only paused runs can be resumed", runID, run.Status)
	}
	if err := p.store.UpdateRunStatus(ctx, runID, model.RunRunning); err != nil {
		return nil, eris.Wrapf(err, "pipeline: reopen run %s", runID)
	}
	return p.execute(ctx, run, format, segments, true)
}

func (p *Pipeline) execute(ctx context.Context, run *model.Run, format string, segments []export.Segment, resuming bool) (*RunResult, error) {
	spec := run.Spec
	log := zap.L().With(
		zap.String("run_id", run.ID),
		zap.String("state", spec.State),
		zap.String("municipality", spec.Municipality),
	)
	if resuming {
		log.Info("pipeline: resuming run")
	} else {
		log.Info("pipeline: starting run")
	}

	result := &RunResult{RunID: run.ID, Status: model.RunRunning}
	totals := &result.Totals

	trackStep := func(name string, fn func() (map[string]any, error)) error {
		step, stepErr := p.store.CreateStep(ctx, run.ID, name)
		if stepErr != nil {
			log.Warn("pipeline: failed to create step", zap.String("step", name), zap.Error(stepErr))
		}

		start := time.Now()
		details, fnErr := fn()
		duration := time.Since(start).Milliseconds()

		status := model.StepCompleted
		if fnErr != nil {
			status = model.StepFailed
			totals.Errors++
			log.Error("pipeline: step failed",
				zap.String("step", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
			p.recordError(ctx, run.ID, name, fnErr)
		} else {
			log.Info("pipeline: step complete",
				zap.String("step", name),
				zap.Int64("duration_ms", duration),
			)
		}

		if step != nil {
			if err := p.store.CompleteStep(context.WithoutCancel(ctx), step.ID, status, details); err != nil {
				log.Warn("pipeline: failed to complete step",
					zap.String("step", name),
					zap.Error(err),
				)
			}
		}
		return fnErr
	}

	finish := func(status model.RunStatus) {
		result.Status = status
		if err := p.store.CompleteRun(context.WithoutCancel(ctx), run.ID, status, *totals); err != nil {
			log.Warn("pipeline: failed to complete run", zap.Error(err))
		}
	}

	pause := func() (*RunResult, error) {
		result.Status = model.RunPaused
		if err := p.store.UpdateRunStatus(context.WithoutCancel(ctx), run.ID, model.RunPaused); err != nil {
			log.Warn("pipeline: failed to pause run", zap.Error(err))
		}
		log.Info("pipeline: run paused")
		return result, nil
	}

	// A resumed run that already staged its leads skips extraction and
	// staging entirely and replays the downstream stages.
	haveStaged := false
	if resuming {
		existing, listErr := p.store.ListStagedLeads(ctx, run.ID)
		if listErr != nil {
			log.Warn("pipeline: staged lead lookup failed, re-extracting", zap.Error(listErr))
		} else if len(existing) > 0 {
			haveStaged = true
			totals.Staged = len(existing)
			log.Info("pipeline: reusing staged leads", zap.Int("staged", len(existing)))
		}
	}

	if !haveStaged {
		// Extraction and staging are required: without staged leads the
		// run has nothing to work on.
		var extraction *extract.Result
		err := trackStep("extract", func() (map[string]any, error) {
			res, err := p.extractor.Extract(ctx, run.ID, spec)
			if err != nil {
				return nil, err
			}
			extraction = res
			return map[string]any{
				"strategy":   res.Strategy,
				"total":      res.Total,
				"fetched":    len(res.Records),
				"discarded":  res.Discarded,
				"from_cache": res.FromCache,
			}, nil
		})
		if err != nil {
			finish(model.RunFailed)
			return result, eris.Wrap(err, "pipeline: extract")
		}
		if ctx.Err() != nil {
			return pause()
		}

		err = trackStep("stage", func() (map[string]any, error) {
			inserted, skipped, err := p.store.StageLeads(ctx, run.ID, extraction.Records)
			if err != nil {
				return nil, err
			}
			totals.Staged = inserted
			return map[string]any{"inserted": inserted, "skipped": skipped}, nil
		})
		if err != nil {
			finish(model.RunFailed)
			return result, eris.Wrap(err, "pipeline: stage")
		}
		if ctx.Err() != nil {
			return pause()
		}
	}

	var leads []model.CleanLead
	_ = trackStep("clean", func() (map[string]any, error) {
		staged, err := p.store.ListStagedLeads(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		records := make([]model.RegistryRecord, 0, len(staged))
		for _, raw := range staged {
			var rec model.RegistryRecord
			if err := json.Unmarshal(raw.Payload, &rec); err != nil {
				log.Warn("pipeline: skip corrupt staged lead",
					zap.String("external_id", raw.ExternalID),
					zap.Error(err),
				)
				continue
			}
			records = append(records, rec)
		}

		var stats cleaning.Stats
		leads, stats = p.cleaner.CleanBatch(records)
		totals.Cleaned = stats.Output
		return map[string]any{
			"input":                stats.Input,
			"output":               stats.Output,
			"removed_small_entity": stats.RemovedSmallEntity,
			"removed_other":        stats.RemovedOther,
		}, nil
	})
	if ctx.Err() != nil {
		return pause()
	}

	_ = trackStep("score_pass1", func() (map[string]any, error) {
		scores := make([]model.ScoreRecord, 0, len(leads))
		for i := range leads {
			value, factors := p.scorer.PassOne(leads[i])
			leads[i].ScoreV1 = value
			leads[i].FinalScore = value
			leads[i].Tier = p.scorer.Tier(value)
			scores = append(scores, model.ScoreRecord{
				LeadID:  leads[i].ExternalID,
				Pass:    1,
				Value:   value,
				Factors: factors,
			})
		}
		if err := p.store.RecordScores(ctx, scores); err != nil {
			return nil, err
		}
		if err := p.store.SaveCleanLeads(ctx, run.ID, leads); err != nil {
			return nil, err
		}
		return map[string]any{"scored": len(leads)}, nil
	})
	if ctx.Err() != nil {
		return pause()
	}

	selected := p.scorer.SelectTopPercent(leads)
	candidates := make([]model.CleanLead, 0, len(selected))
	for _, lead := range leads {
		if selected[lead.ExternalID] {
			candidates = append(candidates, lead)
		}
	}

	var enrichments map[string]model.Enrichment
	_ = trackStep("enrich", func() (map[string]any, error) {
		results, stats, err := p.scheduler.EnrichBatch(ctx, run.ID, candidates)
		enrichments = results
		totals.Enriched = stats.Enriched
		totals.Errors += stats.Failed + stats.TimedOut
		return map[string]any{
			"candidates":   len(candidates),
			"enriched":     stats.Enriched,
			"cache_hits":   stats.CacheHits,
			"timed_out":    stats.TimedOut,
			"failed":       stats.Failed,
			"avg_fetch_ms": stats.AvgFetchMs,
		}, err
	})
	if ctx.Err() != nil {
		return pause()
	}

	// Pass 2 re-scores the enrichment candidates only; everyone else keeps
	// the pass 1 score as final.
	_ = trackStep("score_pass2", func() (map[string]any, error) {
		scores := make([]model.ScoreRecord, 0, len(candidates))
		for i := range leads {
			if !selected[leads[i].ExternalID] {
				continue
			}
			var enrichment *model.Enrichment
			if e, ok := enrichments[leads[i].ExternalID]; ok {
				enrichment = &e
			}
			value, factors := p.scorer.PassTwo(leads[i], enrichment)
			leads[i].ScoreV2 = value
			leads[i].FinalScore = value
			leads[i].Tier = p.scorer.Tier(value)
			scores = append(scores, model.ScoreRecord{
				LeadID:  leads[i].ExternalID,
				Pass:    2,
				Value:   value,
				Factors: factors,
			})
		}
		if err := p.store.RecordScores(ctx, scores); err != nil {
			return nil, err
		}
		if err := p.store.SaveCleanLeads(ctx, run.ID, leads); err != nil {
			return nil, err
		}
		return map[string]any{"rescored": len(scores)}, nil
	})
	if ctx.Err() != nil {
		return pause()
	}

	_ = trackStep("export", func() (map[string]any, error) {
		rows, err := p.store.ListExportRows(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		results, err := p.exporter.ExportSegments(rows, segments, format)
		result.Exports = results
		for _, res := range results {
			totals.Exported += res.Rows
		}
		if err != nil {
			return nil, err
		}
		details := map[string]any{"segments": len(results)}
		for _, res := range results {
			details[res.Segment] = res.Rows
		}
		return details, nil
	})

	if totals.Errors > 0 {
		finish(model.RunCompletedWithErrors)
	} else {
		finish(model.RunCompleted)
	}
	log.Info("pipeline: run finished",
		zap.String("status", string(result.Status)),
		zap.Int("staged", totals.Staged),
		zap.Int("cleaned", totals.Cleaned),
		zap.Int("enriched", totals.Enriched),
		zap.Int("exported", totals.Exported),
		zap.Int("errors", totals.Errors),
	)
	return result, nil
}

func (p *Pipeline) recordError(ctx context.Context, runID, step string, err error) {
	recErr := p.store.RecordError(context.WithoutCancel(ctx), model.RunError{
		RunID:  runID,
		Step:   step,
		Detail: err.Error(),
	})
	if recErr != nil {
		zap.L().Warn("pipeline: record error", zap.Error(recErr))
	}
}
