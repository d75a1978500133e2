package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/hunter-cli/internal/db"
	"github.com/sells-group/hunter-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	spec        JSONB NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	totals      JSONB,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_steps (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	name        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	details     JSONB,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at    TIMESTAMPTZ,
	duration_ms BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS api_calls (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	capability  TEXT NOT NULL,
	method      TEXT,
	url         TEXT,
	status_code INTEGER,
	outcome     TEXT NOT NULL,
	latency_ms  BIGINT NOT NULL DEFAULT 0,
	request_id  TEXT,
	fingerprint TEXT,
	called_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_errors (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	step       TEXT NOT NULL,
	lead_id    TEXT,
	detail     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extract_cache (
	fingerprint  TEXT PRIMARY KEY,
	payload      JSONB NOT NULL,
	result_count INTEGER NOT NULL DEFAULT 0,
	fetched_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS leads_raw (
	run_id      TEXT NOT NULL,
	external_id TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT 'registry',
	payload     JSONB NOT NULL,
	fetched_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, external_id)
);

CREATE TABLE IF NOT EXISTS leads_clean (
	external_id TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	data        JSONB NOT NULL,
	score_v1    INTEGER NOT NULL DEFAULT 0,
	score_v2    INTEGER NOT NULL DEFAULT 0,
	final_score INTEGER NOT NULL DEFAULT 0,
	tier        TEXT,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scores (
	id         TEXT PRIMARY KEY,
	lead_id    TEXT NOT NULL,
	pass       INTEGER NOT NULL,
	value      INTEGER NOT NULL,
	factors    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS vault (
	business_id TEXT PRIMARY KEY,
	data        JSONB NOT NULL,
	fetched_at  TIMESTAMPTZ NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_status TEXT NOT NULL DEFAULT 'enriched',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS export_jobs (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	remote_id  TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	file_path  TEXT,
	attempts   INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint);
CREATE INDEX IF NOT EXISTS idx_run_steps_run_id ON run_steps(run_id);
CREATE INDEX IF NOT EXISTS idx_api_calls_run_id ON api_calls(run_id);
CREATE INDEX IF NOT EXISTS idx_run_errors_run_id ON run_errors(run_id);
CREATE INDEX IF NOT EXISTS idx_extract_cache_expires_at ON extract_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_leads_clean_run_id ON leads_clean(run_id);
CREATE INDEX IF NOT EXISTS idx_leads_clean_final_score ON leads_clean(final_score DESC);
CREATE INDEX IF NOT EXISTS idx_scores_lead_id ON scores(lead_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Runs

func (s *PostgresStore) CreateRun(ctx context.Context, spec model.SearchSpec) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	fp := spec.Fingerprint()

	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal spec")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, fingerprint, spec, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, fp, specJSON, string(model.RunRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:          id,
		Fingerprint: fp,
		Spec:        spec,
		Status:      model.RunRunning,
		StartedAt:   now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1 WHERE id = $2`,
		string(status), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, totals model.RunTotals) error {
	totalsJSON, err := json.Marshal(totals)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal totals")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, totals = $2, ended_at = $3 WHERE id = $4`,
		string(status), totalsJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, fingerprint, spec, status, totals, started_at, ended_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPGRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, fingerprint, spec, status, totals, started_at, ended_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.Fingerprint != "" {
		args = append(args, filter.Fingerprint)
		query += ` AND fingerprint = $` + strconv.Itoa(len(args))
	}
	if !filter.CreatedAfter.IsZero() {
		args = append(args, filter.CreatedAfter.UTC())
		query += ` AND started_at > $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPGRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// Steps and observability

func (s *PostgresStore) CreateStep(ctx context.Context, runID, name string) (*model.RunStep, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_steps (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, runID, name, string(model.StepRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert step for run %s", runID)
	}

	return &model.RunStep{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.StepRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteStep(ctx context.Context, stepID string, status model.StepStatus, details map[string]any) error {
	var detailsJSON any
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal step details")
		}
		detailsJSON = data
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE run_steps SET status = $1, details = $2, ended_at = $3,
		 duration_ms = EXTRACT(EPOCH FROM ($3::timestamptz - started_at)) * 1000
		 WHERE id = $4`,
		string(status), detailsJSON, time.Now().UTC(), stepID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete step %s", stepID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("step not found: %s", stepID)
	}
	return nil
}

func (s *PostgresStore) ListSteps(ctx context.Context, runID string) ([]model.RunStep, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, name, status, details, started_at, ended_at, duration_ms
		 FROM run_steps WHERE run_id = $1 ORDER BY started_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list steps")
	}
	defer rows.Close()

	var steps []model.RunStep
	for rows.Next() {
		var st model.RunStep
		var details []byte
		var endedAt *time.Time
		var durationMs int64
		if err := rows.Scan(&st.ID, &st.RunID, &st.Name, &st.Status, &details, &st.StartedAt, &endedAt, &durationMs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan step")
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &st.Details); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal step details")
			}
		}
		st.EndedAt = endedAt
		st.Duration = time.Duration(durationMs) * time.Millisecond
		steps = append(steps, st)
	}
	return steps, eris.Wrap(rows.Err(), "postgres: list steps iterate")
}

func (s *PostgresStore) RecordAPICall(ctx context.Context, call model.APICall) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.CalledAt.IsZero() {
		call.CalledAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_calls (id, run_id, capability, method, url, status_code, outcome, latency_ms, request_id, fingerprint, called_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		call.ID, call.RunID, call.Capability, call.Method, call.URL, call.StatusCode,
		call.Outcome, call.Latency.Milliseconds(), call.RequestID, call.Fingerprint, call.CalledAt,
	)
	return eris.Wrap(err, "postgres: record api call")
}

func (s *PostgresStore) RecordError(ctx context.Context, re model.RunError) error {
	if re.ID == "" {
		re.ID = uuid.New().String()
	}
	if re.CreatedAt.IsZero() {
		re.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_errors (id, run_id, step, lead_id, detail, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		re.ID, re.RunID, re.Step, re.LeadID, re.Detail, re.CreatedAt,
	)
	return eris.Wrap(err, "postgres: record error")
}

func (s *PostgresStore) ListErrors(ctx context.Context, runID string) ([]model.RunError, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, step, lead_id, detail, created_at FROM run_errors WHERE run_id = $1 ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list errors")
	}
	defer rows.Close()

	var errs []model.RunError
	for rows.Next() {
		var re model.RunError
		var leadID *string
		if err := rows.Scan(&re.ID, &re.RunID, &re.Step, &leadID, &re.Detail, &re.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan error")
		}
		if leadID != nil {
			re.LeadID = *leadID
		}
		errs = append(errs, re)
	}
	return errs, eris.Wrap(rows.Err(), "postgres: list errors iterate")
}

func (s *PostgresStore) CountErrors(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM run_errors WHERE run_id = $1`, runID,
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count errors")
}

// Extraction cache

func (s *PostgresStore) GetCachedExtraction(ctx context.Context, fingerprint string) (*model.CacheEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT fingerprint, payload, result_count, fetched_at, expires_at FROM extract_cache
		 WHERE fingerprint = $1 AND expires_at > now()`,
		fingerprint,
	)

	var ce model.CacheEntry
	var payload []byte
	err := row.Scan(&ce.Fingerprint, &payload, &ce.ResultCount, &ce.FetchedAt, &ce.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cached extraction")
	}
	ce.Payload = json.RawMessage(payload)
	return &ce, nil
}

func (s *PostgresStore) SetCachedExtraction(ctx context.Context, fingerprint string, payload json.RawMessage, resultCount int, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO extract_cache (fingerprint, payload, result_count, fetched_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (fingerprint) DO UPDATE SET
			payload = EXCLUDED.payload,
			result_count = EXCLUDED.result_count,
			fetched_at = EXCLUDED.fetched_at,
			expires_at = EXCLUDED.expires_at`,
		fingerprint, []byte(payload), resultCount, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cached extraction")
}

func (s *PostgresStore) DeleteExpiredExtractions(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM extract_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired extractions")
	}
	return int(tag.RowsAffected()), nil
}

// Staging

func (s *PostgresStore) StageLeads(ctx context.Context, runID string, records []model.RegistryRecord) (int, int, error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		if rec.ExternalID == "" {
			continue
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return 0, 0, eris.Wrap(err, "postgres: marshal raw lead")
		}
		rows = append(rows, []any{runID, rec.ExternalID, "registry", payload, now})
	}

	inserted, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "leads_raw",
		Columns:      []string{"run_id", "external_id", "source", "payload", "fetched_at"},
		ConflictKeys: []string{"run_id", "external_id"},
		UpdateCols:   db.DoNothing,
	}, rows)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "postgres: stage leads for run %s", runID)
	}
	return int(inserted), len(records) - int(inserted), nil
}

func (s *PostgresStore) ListStagedLeads(ctx context.Context, runID string) ([]model.RawLead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, external_id, source, payload, fetched_at FROM leads_raw WHERE run_id = $1 ORDER BY external_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list staged leads")
	}
	defer rows.Close()

	var leads []model.RawLead
	for rows.Next() {
		var l model.RawLead
		var payload []byte
		if err := rows.Scan(&l.RunID, &l.ExternalID, &l.Source, &payload, &l.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw lead")
		}
		l.Payload = json.RawMessage(payload)
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list staged leads iterate")
}

// Cleaned leads and scores

func (s *PostgresStore) SaveCleanLeads(ctx context.Context, runID string, leads []model.CleanLead) error {
	if len(leads) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(leads))
	for _, l := range leads {
		data, err := json.Marshal(l)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal clean lead")
		}
		rows = append(rows, []any{l.ExternalID, runID, data, l.ScoreV1, l.ScoreV2, l.FinalScore, l.Tier, now})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "leads_clean",
		Columns:      []string{"external_id", "run_id", "data", "score_v1", "score_v2", "final_score", "tier", "updated_at"},
		ConflictKeys: []string{"external_id"},
	}, rows)
	return eris.Wrapf(err, "postgres: save clean leads for run %s", runID)
}

func (s *PostgresStore) ListCleanLeads(ctx context.Context, runID string) ([]model.CleanLead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM leads_clean WHERE run_id = $1 ORDER BY final_score DESC, external_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list clean leads")
	}
	defer rows.Close()

	var leads []model.CleanLead
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan clean lead")
		}
		var l model.CleanLead
		if err := json.Unmarshal(data, &l); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal clean lead")
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list clean leads iterate")
}

func (s *PostgresStore) RecordScores(ctx context.Context, records []model.ScoreRecord) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		var factors []byte
		if rec.Factors != nil {
			data, err := json.Marshal(rec.Factors)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal score factors")
			}
			factors = data
		}
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		rows = append(rows, []any{uuid.New().String(), rec.LeadID, rec.Pass, rec.Value, factors, createdAt})
	}

	_, err := db.CopyFrom(ctx, s.pool, "scores",
		[]string{"id", "lead_id", "pass", "value", "factors", "created_at"}, rows)
	return eris.Wrap(err, "postgres: record scores")
}

// Vault

func (s *PostgresStore) UpsertEnrichment(ctx context.Context, e model.Enrichment) error {
	if e.FetchedAt.IsZero() {
		e.FetchedAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal enrichment")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO vault (business_id, data, fetched_at, attempts, last_status, updated_at)
		 VALUES ($1, $2, $3, 1, $4, $5)
		 ON CONFLICT (business_id) DO UPDATE SET
			data = EXCLUDED.data,
			fetched_at = EXCLUDED.fetched_at,
			attempts = vault.attempts + 1,
			last_status = EXCLUDED.last_status,
			updated_at = EXCLUDED.updated_at`,
		e.BusinessID, data, e.FetchedAt.UTC(), string(e.LastStatus), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert enrichment %s", e.BusinessID)
}

func (s *PostgresStore) GetEnrichment(ctx context.Context, businessID string) (*model.Enrichment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT data, attempts FROM vault WHERE business_id = $1`,
		businessID,
	)

	var data []byte
	var attempts int
	err := row.Scan(&data, &attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get enrichment")
	}

	var e model.Enrichment
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal enrichment")
	}
	e.Attempts = attempts
	return &e, nil
}

func (s *PostgresStore) GetEnrichments(ctx context.Context, businessIDs []string) (map[string]model.Enrichment, error) {
	out := make(map[string]model.Enrichment, len(businessIDs))
	if len(businessIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT data, attempts FROM vault WHERE business_id = ANY($1)`,
		businessIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get enrichments")
	}
	defer rows.Close()

	for rows.Next() {
		var data []byte
		var attempts int
		if err := rows.Scan(&data, &attempts); err != nil {
			return nil, eris.Wrap(err, "postgres: scan enrichment")
		}
		var e model.Enrichment
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal enrichment")
		}
		e.Attempts = attempts
		out[e.BusinessID] = e
	}
	return out, eris.Wrap(rows.Err(), "postgres: get enrichments iterate")
}

func (s *PostgresStore) ListVault(ctx context.Context, limit, offset int) ([]model.Enrichment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT data, attempts FROM vault ORDER BY updated_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list vault")
	}
	defer rows.Close()

	var entries []model.Enrichment
	for rows.Next() {
		var data []byte
		var attempts int
		if err := rows.Scan(&data, &attempts); err != nil {
			return nil, eris.Wrap(err, "postgres: scan vault entry")
		}
		var e model.Enrichment
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal vault entry")
		}
		e.Attempts = attempts
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list vault iterate")
}

// Export

func (s *PostgresStore) ListExportRows(ctx context.Context, runID string) ([]model.ExportRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT lc.data, v.data, v.attempts
		 FROM leads_clean lc
		 LEFT JOIN vault v ON v.business_id = lc.external_id
		 WHERE lc.run_id = $1
		 ORDER BY lc.final_score DESC, lc.external_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list export rows")
	}
	defer rows.Close()

	var out []model.ExportRow
	for rows.Next() {
		var leadData []byte
		var vaultData []byte
		var attempts *int
		if err := rows.Scan(&leadData, &vaultData, &attempts); err != nil {
			return nil, eris.Wrap(err, "postgres: scan export row")
		}

		var row model.ExportRow
		if err := json.Unmarshal(leadData, &row.Lead); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal export lead")
		}
		if len(vaultData) > 0 {
			var e model.Enrichment
			if err := json.Unmarshal(vaultData, &e); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal export enrichment")
			}
			if attempts != nil {
				e.Attempts = *attempts
			}
			row.Enrichment = &e
		}
		out = append(out, row)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list export rows iterate")
}

// Bulk export jobs

func (s *PostgresStore) CreateExportJob(ctx context.Context, job model.ExportJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO export_jobs (id, run_id, remote_id, status, file_path, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.RunID, job.RemoteID, string(job.Status), job.FilePath, job.Attempts, job.CreatedAt, now,
	)
	return eris.Wrap(err, "postgres: create export job")
}

func (s *PostgresStore) UpdateExportJob(ctx context.Context, job model.ExportJob) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE export_jobs SET status = $1, file_path = $2, attempts = $3, updated_at = $4 WHERE id = $5`,
		string(job.Status), job.FilePath, job.Attempts, time.Now().UTC(), job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update export job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("export job not found: %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) GetExportJob(ctx context.Context, jobID string) (*model.ExportJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, run_id, remote_id, status, file_path, attempts, created_at, updated_at FROM export_jobs WHERE id = $1`,
		jobID,
	)

	var job model.ExportJob
	var filePath *string
	err := row.Scan(&job.ID, &job.RunID, &job.RemoteID, &job.Status, &filePath, &job.Attempts, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("export job not found: %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get export job")
	}
	if filePath != nil {
		job.FilePath = *filePath
	}
	return &job, nil
}

func scanPGRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var specJSON []byte
	var totalsJSON []byte
	var endedAt *time.Time

	err := row.Scan(&r.ID, &r.Fingerprint, &specJSON, &r.Status, &totalsJSON, &r.StartedAt, &endedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}

	if err := json.Unmarshal(specJSON, &r.Spec); err != nil {
		return nil, eris.Wrap(err, "unmarshal spec")
	}
	if len(totalsJSON) > 0 {
		if err := json.Unmarshal(totalsJSON, &r.Totals); err != nil {
			return nil, eris.Wrap(err, "unmarshal totals")
		}
	}
	r.EndedAt = endedAt
	return &r, nil
}
