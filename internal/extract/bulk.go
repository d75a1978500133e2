package extract

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/pkg/registry"
)

// bulkCSVRecord is one row of the registry's export file.
type bulkCSVRecord struct {
	TaxID       string  `csv:"cnpj"`
	LegalName   string  `csv:"razao_social"`
	TradeName   string  `csv:"nome_fantasia"`
	Activity    string  `csv:"cnae_fiscal"`
	ActivityDsc string  `csv:"cnae_fiscal_descricao"`
	Email       string  `csv:"email"`
	Phone1      string  `csv:"telefone_1"`
	Phone2      string  `csv:"telefone_2"`
	City        string  `csv:"municipio"`
	State       string  `csv:"uf"`
	SizeClass   string  `csv:"porte"`
	LegalNature string  `csv:"natureza_juridica"`
	Capital     float64 `csv:"capital_social"`
	Status      string  `csv:"situacao_cadastral"`
	OpenedAt    string  `csv:"data_abertura"`
}

// fetchBulk runs the export-file strategy for large result sets: create a
// server-side export job, poll until the file is ready, then download and
// parse it. Polling backs off linearly from 2s up to 10s per attempt.
func (e *Extractor) fetchBulk(ctx context.Context, runID string, req registry.SearchRequest, total, maxRecords int) (*Result, error) {
	jobResp, err := e.client.CreateExport(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "extract: create export job")
	}

	job := model.ExportJob{
		ID:       uuid.New().String(),
		RunID:    runID,
		RemoteID: jobResp.ID,
		Status:   model.ExportQueued,
	}
	if err := e.store.CreateExportJob(ctx, job); err != nil {
		zap.L().Warn("record export job", zap.Error(err))
	}

	status, attempts, err := e.pollExport(ctx, jobResp.ID)
	job.Attempts = attempts
	if err != nil {
		job.Status = model.ExportTimedOut
		if !eris.Is(err, errExportTimedOut) {
			job.Status = model.ExportFailed
		}
		e.updateJob(ctx, job)
		return nil, err
	}

	job.Status = model.ExportRunning
	e.updateJob(ctx, job)

	records, filePath, err := e.downloadAndParse(ctx, jobResp.ID, status.URL)
	if err != nil {
		job.Status = model.ExportFailed
		e.updateJob(ctx, job)
		return nil, err
	}

	job.Status = model.ExportDone
	job.FilePath = filePath
	e.updateJob(ctx, job)

	discarded := 0
	if len(records) > maxRecords {
		discarded = len(records) - maxRecords
		records = records[:maxRecords]
	}
	if total < len(records) {
		total = len(records)
	}

	return &Result{
		Records:   records,
		Total:     total,
		Discarded: discarded,
		Strategy:  StrategyBulk,
	}, nil
}

var errExportTimedOut = eris.New("extract: export job timed out")

func (e *Extractor) pollExport(ctx context.Context, remoteID string) (*exportStatus, int, error) {
	maxAttempts := e.cfg.BulkPollAttempts
	if maxAttempts <= 0 {
		maxAttempts = 30
	}
	startDelay := time.Duration(e.cfg.BulkPollStartSec) * time.Second
	if startDelay < 0 {
		startDelay = 2 * time.Second
	}
	maxDelay := time.Duration(e.cfg.BulkPollMaxSec) * time.Second
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Deliberately linear rather than exponential; the cap is hit
		// within a few attempts either way.
		delay := startDelay + time.Duration(attempt-1)*time.Second
		if delay > maxDelay {
			delay = maxDelay
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, attempt, err
		}

		status, err := e.client.GetExport(ctx, remoteID)
		if err != nil {
			zap.L().Warn("poll export job",
				zap.String("remote_id", remoteID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		switch status.Status {
		case registry.ExportStatusReady:
			return &exportStatus{URL: status.URL}, attempt, nil
		case registry.ExportStatusError:
			return nil, attempt, eris.Errorf("extract: export job %s failed upstream", remoteID)
		}
	}

	return nil, maxAttempts, errExportTimedOut
}

func (e *Extractor) downloadAndParse(ctx context.Context, remoteID, url string) ([]model.RegistryRecord, string, error) {
	body, err := e.client.DownloadExport(ctx, url)
	if err != nil {
		return nil, "", eris.Wrap(err, "extract: download export")
	}
	defer body.Close() //nolint:errcheck

	dir := e.cfg.DownloadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", eris.Wrap(err, "extract: create download dir")
	}
	filePath := filepath.Join(dir, remoteID+".csv")

	file, err := os.Create(filePath)
	if err != nil {
		return nil, "", eris.Wrap(err, "extract: create export file")
	}
	if _, err := io.Copy(file, body); err != nil {
		_ = file.Close()
		return nil, "", eris.Wrap(err, "extract: write export file")
	}
	if err := file.Close(); err != nil {
		return nil, "", eris.Wrap(err, "extract: close export file")
	}

	records, err := parseExportCSV(filePath)
	if err != nil {
		return nil, filePath, err
	}
	return records, filePath, nil
}

func parseExportCSV(path string) ([]model.RegistryRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "extract: open export file")
	}
	defer file.Close() //nolint:errcheck

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	dec, err := csvutil.NewDecoder(reader)
	if err != nil {
		return nil, eris.Wrap(err, "extract: read export header")
	}

	var records []model.RegistryRecord
	for {
		var row bulkCSVRecord
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrap(err, "extract: decode export row")
		}
		records = append(records, model.RegistryRecord{
			ExternalID:   row.TaxID,
			LegalName:    row.LegalName,
			TradeName:    row.TradeName,
			ActivityCode: row.Activity,
			ActivityDesc: row.ActivityDsc,
			Email:        row.Email,
			Phone1:       row.Phone1,
			Phone2:       row.Phone2,
			City:         row.City,
			State:        row.State,
			SizeClass:    row.SizeClass,
			LegalNature:  row.LegalNature,
			Capital:      row.Capital,
			Status:       row.Status,
			OpenedAt:     row.OpenedAt,
		})
	}
	return records, nil
}

func (e *Extractor) updateJob(ctx context.Context, job model.ExportJob) {
	if err := e.store.UpdateExportJob(ctx, job); err != nil {
		zap.L().Warn("update export job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type exportStatus struct {
	URL string
}
