package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hunter-cli/internal/cleaning"
	"github.com/sells-group/hunter-cli/internal/enrich"
	"github.com/sells-group/hunter-cli/internal/export"
	"github.com/sells-group/hunter-cli/internal/extract"
	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/internal/pipeline"
	"github.com/sells-group/hunter-cli/internal/scoring"
	"github.com/sells-group/hunter-cli/pkg/registry"
	"github.com/sells-group/hunter-cli/pkg/techdetect"
	"github.com/sells-group/hunter-cli/pkg/webscan"
)

var (
	runState        string
	runMunicipality string
	runActivities   []string
	runStatus       string
	runLegalNatures []string
	runMaxRecords   int
	runFormat       string
	runSegmentsFile string
	runColumns      []string
	runResumeID     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full lead pipeline for a search spec",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if runResumeID == "" && runState == "" {
			return eris.New("--state is required unless --resume is given")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if err := cfg.Scoring.Tiers.Validate(); err != nil {
			return err
		}

		// Init clients
		registryOpts := []registry.Option{}
		if cfg.Registry.BaseURL != "" {
			registryOpts = append(registryOpts, registry.WithBaseURL(cfg.Registry.BaseURL))
		}
		if cfg.Registry.RequestsPerSec > 0 {
			registryOpts = append(registryOpts, registry.WithRateLimit(cfg.Registry.RequestsPerSec, cfg.Registry.Burst))
		}
		registryClient := registry.NewClient(cfg.Registry.Key, registryOpts...)

		webscanOpts := []webscan.Option{}
		if cfg.Webscan.BaseURL != "" {
			webscanOpts = append(webscanOpts, webscan.WithBaseURL(cfg.Webscan.BaseURL))
		}
		webscanClient := webscan.NewClient(cfg.Webscan.Key, webscanOpts...)

		techdetectOpts := []techdetect.Option{}
		if cfg.Techdetect.BaseURL != "" {
			techdetectOpts = append(techdetectOpts, techdetect.WithBaseURL(cfg.Techdetect.BaseURL))
		}
		techdetectClient := techdetect.NewClient(cfg.Techdetect.Key, techdetectOpts...)

		// Resolve export segments
		segments := export.Builtins()
		segmentsFile := runSegmentsFile
		if segmentsFile == "" {
			segmentsFile = cfg.Export.SegmentsFile
		}
		if segmentsFile != "" {
			custom, err := export.LoadSegments(segmentsFile)
			if err != nil {
				return eris.Wrap(err, "load segments")
			}
			segments = append(segments, custom...)
		}

		if len(runColumns) > 0 {
			cfg.Export.Columns = runColumns
		}

		// Build pipeline
		p := pipeline.New(
			cfg,
			st,
			extract.New(registryClient, st, cfg.Extract),
			cleaning.NewCleaner(cfg.Cleaning),
			scoring.NewScorer(cfg.Scoring),
			enrich.NewScheduler(st, webscanClient, techdetectClient, cfg.Enrich),
			export.NewExporter(cfg.Export),
		)

		var result *pipeline.RunResult
		if runResumeID != "" {
			result, err = p.Resume(ctx, runResumeID, runFormat, segments)
			if err != nil {
				return eris.Wrap(err, "pipeline resume")
			}
		} else {
			spec := model.SearchSpec{
				State:            runState,
				Municipality:     runMunicipality,
				ActivityPrefixes: runActivities,
				Status:           runStatus,
				LegalNatures:     runLegalNatures,
				MaxRecords:       runMaxRecords,
			}
			result, err = p.Run(ctx, spec, runFormat, segments)
			if err != nil {
				return eris.Wrap(err, "pipeline run")
			}
		}

		zap.L().Info("run finished",
			zap.String("run_id", result.RunID),
			zap.String("status", string(result.Status)),
			zap.Int("cleaned", result.Totals.Cleaned),
			zap.Int("enriched", result.Totals.Enriched),
			zap.Int("exported", result.Totals.Exported),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	runCmd.Flags().StringVar(&runState, "state", "", "state code, e.g. SP (required unless --resume)")
	runCmd.Flags().StringVar(&runResumeID, "resume", "", "resume a paused run by ID instead of starting a new one")
	runCmd.Flags().StringVar(&runMunicipality, "municipality", "", "municipality name")
	runCmd.Flags().StringSliceVar(&runActivities, "activity", nil, "activity code prefixes to search")
	runCmd.Flags().StringVar(&runStatus, "registration-status", "ATIVA", "registration status filter")
	runCmd.Flags().StringSliceVar(&runLegalNatures, "legal-nature", nil, "legal nature codes to include")
	runCmd.Flags().IntVar(&runMaxRecords, "max-records", 0, "cap on extracted records (0 = config default)")
	runCmd.Flags().StringVar(&runFormat, "format", "csv", "export format: csv or xlsx")
	runCmd.Flags().StringVar(&runSegmentsFile, "segments-file", "", "YAML file with additional export segments")
	runCmd.Flags().StringSliceVar(&runColumns, "columns", nil, "export column subset (default: all columns)")
	rootCmd.AddCommand(runCmd)
}
