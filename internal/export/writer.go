package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/hunter-cli/internal/config"
	"github.com/sells-group/hunter-cli/internal/model"
)

// allColumns is the base column set in output order. Callers and segments
// may select any subset; the relative order stays fixed.
var allColumns = []string{
	"identifier", "name", "locality", "activity_code", "score", "tier",
	"contact_quality", "email", "phones", "site", "social_profiles", "technologies",
}

func validateColumns(cols []string) error {
	for _, col := range cols {
		known := false
		for _, c := range allColumns {
			if c == col {
				known = true
				break
			}
		}
		if !known {
			return eris.Errorf("unknown column %q", col)
		}
	}
	return nil
}

// record is the flat column layout of an export file.
type record struct {
	Identifier     string `csv:"identifier"`
	Name           string `csv:"name"`
	Locality       string `csv:"locality"`
	ActivityCode   string `csv:"activity_code"`
	Score          int    `csv:"score"`
	Tier           string `csv:"tier"`
	ContactQuality string `csv:"contact_quality"`
	Email          string `csv:"email"`
	Phones         string `csv:"phones"`
	Site           string `csv:"site"`
	SocialProfiles string `csv:"social_profiles"`
	Technologies   string `csv:"technologies"`
}

func (r record) value(col string) string {
	switch col {
	case "identifier":
		return r.Identifier
	case "name":
		return r.Name
	case "locality":
		return r.Locality
	case "activity_code":
		return r.ActivityCode
	case "score":
		return strconv.Itoa(r.Score)
	case "tier":
		return r.Tier
	case "contact_quality":
		return r.ContactQuality
	case "email":
		return r.Email
	case "phones":
		return r.Phones
	case "site":
		return r.Site
	case "social_profiles":
		return r.SocialProfiles
	case "technologies":
		return r.Technologies
	}
	return ""
}

// Exporter writes segmented lead files. The output format follows the file
// extension: .xlsx gets a workbook, anything else CSV.
type Exporter struct {
	cfg config.ExportConfig
}

// NewExporter creates an Exporter.
func NewExporter(cfg config.ExportConfig) *Exporter {
	return &Exporter{cfg: cfg}
}

// Result describes one written segment file.
type Result struct {
	Segment string `json:"segment"`
	Path    string `json:"path"`
	Rows    int    `json:"rows"`
	Capped  bool   `json:"capped"`
}

// ExportSegments writes one file per segment under the configured directory.
// Rows arrive ranked by final score; the row cap keeps that order, so a
// capped file holds the best leads of the segment.
func (e *Exporter) ExportSegments(rows []model.ExportRow, segments []Segment, format string) ([]Result, error) {
	dir := e.cfg.Dir
	if dir == "" {
		dir = "exports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "export: create output dir")
	}

	if err := validateColumns(e.cfg.Columns); err != nil {
		return nil, eris.Wrap(err, "export: columns")
	}

	ext := ".csv"
	if strings.EqualFold(format, "xlsx") {
		ext = ".xlsx"
	}

	results := make([]Result, 0, len(segments))
	for _, seg := range segments {
		path := filepath.Join(dir, seg.Name+ext)
		res, err := e.exportOne(rows, seg, path)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		zap.L().Info("segment exported",
			zap.String("segment", seg.Name),
			zap.String("path", res.Path),
			zap.Int("rows", res.Rows),
		)
	}
	return results, nil
}

func (e *Exporter) exportOne(rows []model.ExportRow, seg Segment, path string) (Result, error) {
	matched := make([]record, 0, len(rows))
	capped := false
	for _, row := range rows {
		if !seg.Match(row) {
			continue
		}
		if e.cfg.RowCap > 0 && len(matched) >= e.cfg.RowCap {
			capped = true
			break
		}
		matched = append(matched, project(row))
	}

	cols := seg.Columns
	if len(cols) == 0 {
		cols = e.cfg.Columns
	}

	var err error
	if strings.HasSuffix(path, ".xlsx") {
		err = writeXLSX(path, seg.Name, cols, matched)
	} else {
		err = writeCSV(path, cols, matched)
	}
	if err != nil {
		return Result{}, err
	}

	return Result{Segment: seg.Name, Path: path, Rows: len(matched), Capped: capped}, nil
}

func project(row model.ExportRow) record {
	rec := record{
		Identifier:     row.Lead.ExternalID,
		Name:           row.Lead.Name,
		Locality:       row.Lead.Locality(),
		ActivityCode:   row.Lead.ActivityCode,
		Score:          row.Lead.FinalScore,
		Tier:           row.Lead.Tier,
		ContactQuality: string(row.Lead.ContactQuality),
		Email:          row.Lead.Email,
		Phones:         strings.Join(row.Lead.Phones, ";"),
	}
	if row.Enrichment != nil {
		rec.Site = row.Enrichment.SiteURL
		rec.SocialProfiles = joinSocial(row.Enrichment.Social)
		rec.Technologies = strings.Join(row.Enrichment.Technologies, ";")
	}
	return rec
}

func joinSocial(social model.SocialProfiles) string {
	var parts []string
	if social.Instagram != "" {
		parts = append(parts, social.Instagram)
	}
	if social.LinkedIn != "" {
		parts = append(parts, social.LinkedIn)
	}
	if social.WhatsAppLink != "" {
		parts = append(parts, social.WhatsAppLink)
	}
	return strings.Join(parts, ";")
}

func writeCSV(path string, cols []string, records []record) error {
	file, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer file.Close() //nolint:errcheck

	writer := csv.NewWriter(file)

	if len(cols) == 0 {
		enc := csvutil.NewEncoder(writer)
		if err := enc.EncodeHeader(record{}); err != nil {
			return eris.Wrap(err, "export: encode header")
		}
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return eris.Wrap(err, "export: encode row")
			}
		}
	} else {
		if err := writer.Write(cols); err != nil {
			return eris.Wrap(err, "export: write header")
		}
		row := make([]string, len(cols))
		for _, rec := range records {
			for i, col := range cols {
				row[i] = rec.value(col)
			}
			if err := writer.Write(row); err != nil {
				return eris.Wrap(err, "export: write row")
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	return file.Close()
}

func writeXLSX(path, sheetName string, cols []string, records []record) error {
	if len(cols) == 0 {
		cols = allColumns
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range cols {
		header.AddCell().SetString(col)
	}

	for _, rec := range records {
		row := sheet.AddRow()
		for _, col := range cols {
			if col == "score" {
				row.AddCell().SetInt(rec.Score)
				continue
			}
			row.AddCell().SetString(rec.value(col))
		}
	}

	return eris.Wrapf(file.Save(path), "export: save %s", path)
}
