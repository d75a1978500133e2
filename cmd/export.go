package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hunter-cli/internal/export"
)

var (
	exportFormat       string
	exportSegmentsFile string
	exportColumns      []string
)

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Re-export segment files from a finished run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "export: load run")
		}

		rows, err := st.ListExportRows(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "export: load rows")
		}
		if len(rows) == 0 {
			return eris.Errorf("export: run %s has no cleaned leads", run.ID)
		}

		segments := export.Builtins()
		segmentsFile := exportSegmentsFile
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

		if len(exportColumns) > 0 {
			cfg.Export.Columns = exportColumns
		}

		results, err := export.NewExporter(cfg.Export).ExportSegments(rows, segments, exportFormat)
		if err != nil {
			return eris.Wrap(err, "export segments")
		}

		zap.L().Info("export finished",
			zap.String("run_id", run.ID),
			zap.Int("segments", len(results)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "export format: csv or xlsx")
	exportCmd.Flags().StringVar(&exportSegmentsFile, "segments-file", "", "YAML file with additional export segments")
	exportCmd.Flags().StringSliceVar(&exportColumns, "columns", nil, "export column subset (default: all columns)")
	rootCmd.AddCommand(exportCmd)
}
