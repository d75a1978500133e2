package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/hunter-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	spec        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	totals      TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	ended_at    DATETIME
);

CREATE TABLE IF NOT EXISTS run_steps (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	name        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	details     TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	ended_at    DATETIME,
	duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS api_calls (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	capability  TEXT NOT NULL,
	method      TEXT,
	url         TEXT,
	status_code INTEGER,
	outcome     TEXT NOT NULL,
	latency_ms  INTEGER NOT NULL DEFAULT 0,
	request_id  TEXT,
	fingerprint TEXT,
	called_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_errors (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	step       TEXT NOT NULL,
	lead_id    TEXT,
	detail     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS extract_cache (
	fingerprint  TEXT PRIMARY KEY,
	payload      TEXT NOT NULL,
	result_count INTEGER NOT NULL DEFAULT 0,
	fetched_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS leads_raw (
	run_id      TEXT NOT NULL,
	external_id TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT 'registry',
	payload     TEXT NOT NULL,
	fetched_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, external_id)
);

CREATE TABLE IF NOT EXISTS leads_clean (
	external_id TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	data        TEXT NOT NULL,
	score_v1    INTEGER NOT NULL DEFAULT 0,
	score_v2    INTEGER NOT NULL DEFAULT 0,
	final_score INTEGER NOT NULL DEFAULT 0,
	tier        TEXT,
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scores (
	id         TEXT PRIMARY KEY,
	lead_id    TEXT NOT NULL,
	pass       INTEGER NOT NULL,
	value      INTEGER NOT NULL,
	factors    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS vault (
	business_id TEXT PRIMARY KEY,
	data        TEXT NOT NULL,
	fetched_at  DATETIME NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_status TEXT NOT NULL DEFAULT 'enriched',
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS export_jobs (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	remote_id  TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	file_path  TEXT,
	attempts   INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint);
CREATE INDEX IF NOT EXISTS idx_run_steps_run_id ON run_steps(run_id);
CREATE INDEX IF NOT EXISTS idx_api_calls_run_id ON api_calls(run_id);
CREATE INDEX IF NOT EXISTS idx_run_errors_run_id ON run_errors(run_id);
CREATE INDEX IF NOT EXISTS idx_extract_cache_expires_at ON extract_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_leads_clean_run_id ON leads_clean(run_id);
CREATE INDEX IF NOT EXISTS idx_leads_clean_final_score ON leads_clean(final_score);
CREATE INDEX IF NOT EXISTS idx_scores_lead_id ON scores(lead_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Runs

func (s *SQLiteStore) CreateRun(ctx context.Context, spec model.SearchSpec) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	fp := spec.Fingerprint()

	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal spec")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, fingerprint, spec, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, fp, string(specJSON), string(model.RunRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:          id,
		Fingerprint: fp,
		Spec:        spec,
		Status:      model.RunRunning,
		StartedAt:   now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ? WHERE id = ?`,
		string(status), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, totals model.RunTotals) error {
	totalsJSON, err := json.Marshal(totals)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal totals")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, totals = ?, ended_at = ? WHERE id = ?`,
		string(status), string(totalsJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fingerprint, spec, status, totals, started_at, ended_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, fingerprint, spec, status, totals, started_at, ended_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Fingerprint != "" {
		query += ` AND fingerprint = ?`
		args = append(args, filter.Fingerprint)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND started_at > ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// Steps and observability

func (s *SQLiteStore) CreateStep(ctx context.Context, runID, name string) (*model.RunStep, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_steps (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.StepRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert step for run %s", runID)
	}

	return &model.RunStep{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.StepRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteStep(ctx context.Context, stepID string, status model.StepStatus, details map[string]any) error {
	var detailsJSON any
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal step details")
		}
		detailsJSON = string(data)
	}

	// The driver binds time.Time in a format julianday() does not parse,
	// so the duration is computed here rather than in SQL.
	var startedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM run_steps WHERE id = ?`, stepID,
	).Scan(&startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Errorf("sqlite: step %s not found", stepID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: load step %s", stepID)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_steps SET status = ?, details = ?, ended_at = ?, duration_ms = ? WHERE id = ?`,
		string(status), detailsJSON, now, now.Sub(startedAt).Milliseconds(), stepID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete step %s", stepID)
	}
	return checkRowsAffected(res, "step", stepID)
}

func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]model.RunStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, name, status, details, started_at, ended_at, duration_ms
		 FROM run_steps WHERE run_id = ? ORDER BY started_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list steps")
	}
	defer rows.Close()

	var steps []model.RunStep
	for rows.Next() {
		var st model.RunStep
		var detailsJSON sql.NullString
		var endedAt sql.NullTime
		var durationMs int64
		if err := rows.Scan(&st.ID, &st.RunID, &st.Name, &st.Status, &detailsJSON, &st.StartedAt, &endedAt, &durationMs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan step")
		}
		if detailsJSON.Valid {
			if err := json.Unmarshal([]byte(detailsJSON.String), &st.Details); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal step details")
			}
		}
		if endedAt.Valid {
			t := endedAt.Time
			st.EndedAt = &t
		}
		st.Duration = time.Duration(durationMs) * time.Millisecond
		steps = append(steps, st)
	}
	return steps, eris.Wrap(rows.Err(), "sqlite: list steps iterate")
}

func (s *SQLiteStore) RecordAPICall(ctx context.Context, call model.APICall) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.CalledAt.IsZero() {
		call.CalledAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_calls (id, run_id, capability, method, url, status_code, outcome, latency_ms, request_id, fingerprint, called_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.ID, call.RunID, call.Capability, call.Method, call.URL, call.StatusCode,
		call.Outcome, call.Latency.Milliseconds(), call.RequestID, call.Fingerprint, call.CalledAt,
	)
	return eris.Wrap(err, "sqlite: record api call")
}

func (s *SQLiteStore) RecordError(ctx context.Context, re model.RunError) error {
	if re.ID == "" {
		re.ID = uuid.New().String()
	}
	if re.CreatedAt.IsZero() {
		re.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_errors (id, run_id, step, lead_id, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		re.ID, re.RunID, re.Step, re.LeadID, re.Detail, re.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: record error")
}

func (s *SQLiteStore) ListErrors(ctx context.Context, runID string) ([]model.RunError, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step, lead_id, detail, created_at FROM run_errors WHERE run_id = ? ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list errors")
	}
	defer rows.Close()

	var errs []model.RunError
	for rows.Next() {
		var re model.RunError
		var leadID sql.NullString
		if err := rows.Scan(&re.ID, &re.RunID, &re.Step, &leadID, &re.Detail, &re.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan error")
		}
		re.LeadID = leadID.String
		errs = append(errs, re)
	}
	return errs, eris.Wrap(rows.Err(), "sqlite: list errors iterate")
}

func (s *SQLiteStore) CountErrors(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM run_errors WHERE run_id = ?`, runID,
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count errors")
}

// Extraction cache

func (s *SQLiteStore) GetCachedExtraction(ctx context.Context, fingerprint string) (*model.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, payload, result_count, fetched_at, expires_at FROM extract_cache
		 WHERE fingerprint = ? AND expires_at > datetime('now')`,
		fingerprint,
	)

	var ce model.CacheEntry
	var payload string
	err := row.Scan(&ce.Fingerprint, &payload, &ce.ResultCount, &ce.FetchedAt, &ce.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached extraction")
	}
	ce.Payload = json.RawMessage(payload)
	return &ce, nil
}

func (s *SQLiteStore) SetCachedExtraction(ctx context.Context, fingerprint string, payload json.RawMessage, resultCount int, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extract_cache (fingerprint, payload, result_count, fetched_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			payload = excluded.payload,
			result_count = excluded.result_count,
			fetched_at = excluded.fetched_at,
			expires_at = excluded.expires_at`,
		fingerprint, string(payload), resultCount, now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: set cached extraction")
}

func (s *SQLiteStore) DeleteExpiredExtractions(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM extract_cache WHERE expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired extractions")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// Staging

func (s *SQLiteStore) StageLeads(ctx context.Context, runID string, records []model.RegistryRecord) (int, int, error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: begin staging tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	inserted := 0
	for _, rec := range records {
		if rec.ExternalID == "" {
			continue
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return 0, 0, eris.Wrap(err, "sqlite: marshal raw lead")
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO leads_raw (run_id, external_id, source, payload, fetched_at)
			 VALUES (?, ?, 'registry', ?, ?)
			 ON CONFLICT(run_id, external_id) DO NOTHING`,
			runID, rec.ExternalID, string(payload), now,
		)
		if err != nil {
			return 0, 0, eris.Wrapf(err, "sqlite: stage lead %s", rec.ExternalID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: commit staging tx")
	}
	return inserted, len(records) - inserted, nil
}

func (s *SQLiteStore) ListStagedLeads(ctx context.Context, runID string) ([]model.RawLead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, external_id, source, payload, fetched_at FROM leads_raw WHERE run_id = ? ORDER BY external_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list staged leads")
	}
	defer rows.Close()

	var leads []model.RawLead
	for rows.Next() {
		var l model.RawLead
		var payload string
		if err := rows.Scan(&l.RunID, &l.ExternalID, &l.Source, &payload, &l.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw lead")
		}
		l.Payload = json.RawMessage(payload)
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list staged leads iterate")
}

// Cleaned leads and scores

func (s *SQLiteStore) SaveCleanLeads(ctx context.Context, runID string, leads []model.CleanLead) error {
	if len(leads) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin clean tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, l := range leads {
		data, err := json.Marshal(l)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal clean lead")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO leads_clean (external_id, run_id, data, score_v1, score_v2, final_score, tier, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(external_id) DO UPDATE SET
				run_id = excluded.run_id,
				data = excluded.data,
				score_v1 = excluded.score_v1,
				score_v2 = excluded.score_v2,
				final_score = excluded.final_score,
				tier = excluded.tier,
				updated_at = excluded.updated_at`,
			l.ExternalID, runID, string(data), l.ScoreV1, l.ScoreV2, l.FinalScore, l.Tier, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: save clean lead %s", l.ExternalID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit clean tx")
}

func (s *SQLiteStore) ListCleanLeads(ctx context.Context, runID string) ([]model.CleanLead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM leads_clean WHERE run_id = ? ORDER BY final_score DESC, external_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list clean leads")
	}
	defer rows.Close()

	var leads []model.CleanLead
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan clean lead")
		}
		var l model.CleanLead
		if err := json.Unmarshal([]byte(data), &l); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal clean lead")
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list clean leads iterate")
}

func (s *SQLiteStore) RecordScores(ctx context.Context, records []model.ScoreRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin scores tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, rec := range records {
		var factors any
		if rec.Factors != nil {
			data, err := json.Marshal(rec.Factors)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal score factors")
			}
			factors = string(data)
		}
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO scores (id, lead_id, pass, value, factors, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), rec.LeadID, rec.Pass, rec.Value, factors, createdAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: record score for %s", rec.LeadID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit scores tx")
}

// Vault

func (s *SQLiteStore) UpsertEnrichment(ctx context.Context, e model.Enrichment) error {
	if e.FetchedAt.IsZero() {
		e.FetchedAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal enrichment")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vault (business_id, data, fetched_at, attempts, last_status, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?)
		 ON CONFLICT(business_id) DO UPDATE SET
			data = excluded.data,
			fetched_at = excluded.fetched_at,
			attempts = vault.attempts + 1,
			last_status = excluded.last_status,
			updated_at = excluded.updated_at`,
		e.BusinessID, string(data), e.FetchedAt.UTC(), string(e.LastStatus), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert enrichment %s", e.BusinessID)
}

func (s *SQLiteStore) GetEnrichment(ctx context.Context, businessID string) (*model.Enrichment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data, attempts FROM vault WHERE business_id = ?`,
		businessID,
	)

	var data string
	var attempts int
	err := row.Scan(&data, &attempts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get enrichment")
	}

	var e model.Enrichment
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal enrichment")
	}
	e.Attempts = attempts
	return &e, nil
}

func (s *SQLiteStore) GetEnrichments(ctx context.Context, businessIDs []string) (map[string]model.Enrichment, error) {
	out := make(map[string]model.Enrichment, len(businessIDs))
	if len(businessIDs) == 0 {
		return out, nil
	}

	query := `SELECT data, attempts FROM vault WHERE business_id IN (?` +
		repeatPlaceholder(len(businessIDs)-1) + `)`
	args := make([]any, len(businessIDs))
	for i, id := range businessIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get enrichments")
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		var attempts int
		if err := rows.Scan(&data, &attempts); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan enrichment")
		}
		var e model.Enrichment
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal enrichment")
		}
		e.Attempts = attempts
		out[e.BusinessID] = e
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get enrichments iterate")
}

func (s *SQLiteStore) ListVault(ctx context.Context, limit, offset int) ([]model.Enrichment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT data, attempts FROM vault ORDER BY updated_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list vault")
	}
	defer rows.Close()

	var entries []model.Enrichment
	for rows.Next() {
		var data string
		var attempts int
		if err := rows.Scan(&data, &attempts); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan vault entry")
		}
		var e model.Enrichment
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal vault entry")
		}
		e.Attempts = attempts
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list vault iterate")
}

// Export

func (s *SQLiteStore) ListExportRows(ctx context.Context, runID string) ([]model.ExportRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT lc.data, v.data, v.attempts
		 FROM leads_clean lc
		 LEFT JOIN vault v ON v.business_id = lc.external_id
		 WHERE lc.run_id = ?
		 ORDER BY lc.final_score DESC, lc.external_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list export rows")
	}
	defer rows.Close()

	var out []model.ExportRow
	for rows.Next() {
		var leadData string
		var vaultData sql.NullString
		var attempts sql.NullInt64
		if err := rows.Scan(&leadData, &vaultData, &attempts); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan export row")
		}

		var row model.ExportRow
		if err := json.Unmarshal([]byte(leadData), &row.Lead); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal export lead")
		}
		if vaultData.Valid {
			var e model.Enrichment
			if err := json.Unmarshal([]byte(vaultData.String), &e); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal export enrichment")
			}
			e.Attempts = int(attempts.Int64)
			row.Enrichment = &e
		}
		out = append(out, row)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list export rows iterate")
}

// Bulk export jobs

func (s *SQLiteStore) CreateExportJob(ctx context.Context, job model.ExportJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO export_jobs (id, run_id, remote_id, status, file_path, attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.RunID, job.RemoteID, string(job.Status), job.FilePath, job.Attempts, job.CreatedAt, now,
	)
	return eris.Wrap(err, "sqlite: create export job")
}

func (s *SQLiteStore) UpdateExportJob(ctx context.Context, job model.ExportJob) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE export_jobs SET status = ?, file_path = ?, attempts = ?, updated_at = ? WHERE id = ?`,
		string(job.Status), job.FilePath, job.Attempts, time.Now().UTC(), job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update export job %s", job.ID)
	}
	return checkRowsAffected(res, "export job", job.ID)
}

func (s *SQLiteStore) GetExportJob(ctx context.Context, jobID string) (*model.ExportJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, remote_id, status, file_path, attempts, created_at, updated_at FROM export_jobs WHERE id = ?`,
		jobID,
	)

	var job model.ExportJob
	var filePath sql.NullString
	err := row.Scan(&job.ID, &job.RunID, &job.RemoteID, &job.Status, &filePath, &job.Attempts, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("export job not found: %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get export job")
	}
	job.FilePath = filePath.String
	return &job, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var specJSON string
	var totalsJSON sql.NullString
	var endedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Fingerprint, &specJSON, &r.Status, &totalsJSON, &r.StartedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(specJSON), &r.Spec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal spec")
	}
	if totalsJSON.Valid {
		if err := json.Unmarshal([]byte(totalsJSON.String), &r.Totals); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal totals")
		}
	}
	if endedAt.Valid {
		t := endedAt.Time
		r.EndedAt = &t
	}
	return &r, nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
