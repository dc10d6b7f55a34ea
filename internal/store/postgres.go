package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/db"
	"github.com/sells-group/intel-cli/internal/model"
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

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_run":         `SELECT ` + pgRunCols + ` FROM runs WHERE id = $1`,
	"append_run_log":  `INSERT INTO run_logs (run_id, line, created_at) VALUES ($1, $2, $3)`,
	"insert_source":   `INSERT INTO sources (id, run_id, url, title, domain, published_at, fetched_at, status, text, notes) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"update_source":   `UPDATE sources SET title = $1, fetched_at = $2, status = $3, text = $4, notes = $5 WHERE id = $6`,
	"list_sources":    `SELECT id, run_id, url, title, domain, published_at, fetched_at, status, text, notes FROM sources WHERE run_id = $1 ORDER BY seq`,
	"list_findings":   `SELECT ` + pgFindingCols + ` FROM findings WHERE run_id = $1 ORDER BY seq`,
	"complete_job":    `UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`,
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name         TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	industry     TEXT NOT NULL DEFAULT '',
	sub_industry TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	keywords     TEXT[] NOT NULL DEFAULT '{}',
	competitors  TEXT[] NOT NULL DEFAULT '{}',
	segments     TEXT[] NOT NULL DEFAULT '{}',
	regions      TEXT[] NOT NULL DEFAULT '{}',
	monitoring   BOOLEAN NOT NULL DEFAULT false,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	seq          BIGSERIAL,
	project_id   TEXT NOT NULL REFERENCES projects(id),
	status       TEXT NOT NULL DEFAULT 'NEW',
	note         TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_logs (
	id         BIGSERIAL PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	line       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sources (
	id           TEXT PRIMARY KEY,
	seq          BIGSERIAL,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	url          TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	domain       TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ,
	fetched_at   TIMESTAMPTZ,
	status       TEXT NOT NULL DEFAULT 'OK',
	text         TEXT,
	notes        TEXT NOT NULL DEFAULT '',
	UNIQUE (run_id, url)
);

CREATE TABLE IF NOT EXISTS competitors (
	id      TEXT PRIMARY KEY,
	seq     BIGSERIAL,
	run_id  TEXT NOT NULL REFERENCES runs(id),
	name    TEXT NOT NULL,
	website TEXT NOT NULL DEFAULT '',
	UNIQUE (run_id, name)
);

CREATE TABLE IF NOT EXISTS capabilities (
	id         TEXT PRIMARY KEY,
	seq        BIGSERIAL,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	source_id  TEXT NOT NULL,
	category   TEXT NOT NULL,
	name       TEXT NOT NULL,
	normalized TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS features (
	id          TEXT PRIMARY KEY,
	seq         BIGSERIAL,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	source_id   TEXT NOT NULL,
	category    TEXT NOT NULL,
	name        TEXT NOT NULL,
	normalized  TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	UNIQUE (run_id, normalized)
);

CREATE TABLE IF NOT EXISTS pricing_points (
	id            TEXT PRIMARY KEY,
	seq           BIGSERIAL,
	run_id        TEXT NOT NULL REFERENCES runs(id),
	competitor_id TEXT NOT NULL DEFAULT '',
	source_id     TEXT NOT NULL,
	plan          TEXT NOT NULL DEFAULT '',
	monthly       DOUBLE PRECISION,
	annual        DOUBLE PRECISION,
	fee_pct       DOUBLE PRECISION,
	currency      TEXT NOT NULL DEFAULT '$'
);

CREATE TABLE IF NOT EXISTS compliance_items (
	id        TEXT PRIMARY KEY,
	seq       BIGSERIAL,
	run_id    TEXT NOT NULL REFERENCES runs(id),
	framework TEXT NOT NULL,
	status    TEXT NOT NULL DEFAULT '',
	notes     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS integrations (
	id       TEXT PRIMARY KEY,
	seq      BIGSERIAL,
	run_id   TEXT NOT NULL REFERENCES runs(id),
	vendor   TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	notes    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS findings (
	id             TEXT PRIMARY KEY,
	seq            BIGSERIAL,
	run_id         TEXT NOT NULL REFERENCES runs(id),
	kind           TEXT NOT NULL,
	text           TEXT NOT NULL,
	confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
	citations      TEXT[] NOT NULL DEFAULT '{}',
	approved       BOOLEAN NOT NULL DEFAULT false,
	reviewer_notes TEXT NOT NULL DEFAULT '',
	meta           JSONB NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reports (
	id         TEXT PRIMARY KEY,
	seq        BIGSERIAL,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	project_id TEXT NOT NULL,
	headline   TEXT NOT NULL,
	body       TEXT NOT NULL,
	format     TEXT NOT NULL DEFAULT 'MARKDOWN',
	approved   BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS settings (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	data JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	status     TEXT NOT NULL DEFAULT 'PENDING',
	attempts   INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS credit_ledger (
	project_id TEXT NOT NULL,
	period     TEXT NOT NULL,
	used       INTEGER NOT NULL DEFAULT 0,
	limit_     INTEGER NOT NULL,
	PRIMARY KEY (project_id, period)
);

CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_logs_run_id ON run_logs(run_id);
CREATE INDEX IF NOT EXISTS idx_sources_run_id ON sources(run_id);
CREATE INDEX IF NOT EXISTS idx_capabilities_run_id ON capabilities(run_id);
CREATE INDEX IF NOT EXISTS idx_findings_run_id ON findings(run_id);
CREATE INDEX IF NOT EXISTS idx_reports_run_id ON reports(run_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_pending ON jobs(created_at) WHERE status = 'PENDING';
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

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

// inTx runs fn inside a transaction, rolling back on error.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

// --- Projects ---

const pgProjectCols = `id, name, category, industry, sub_industry, description, keywords, competitors, segments, regions, monitoring, created_at`

func (s *PostgresStore) CreateProject(ctx context.Context, p *model.Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (`+pgProjectCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.Name, p.Category, p.Industry, p.SubIndustry, p.Description,
		nonNil(p.Keywords), nonNil(p.Competitors), nonNil(p.Segments), nonNil(p.Regions),
		p.Monitoring, p.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert project")
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	p, err := scanPgProject(s.pool.QueryRow(ctx, `SELECT `+pgProjectCols+` FROM projects WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get project %s", id)
	}
	return p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgProjectCols+` FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list projects")
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		p, err := scanPgProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list projects iterate")
}

func scanPgProject(row scannable) (*model.Project, error) {
	var p model.Project
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Industry, &p.SubIndustry, &p.Description,
		&p.Keywords, &p.Competitors, &p.Segments, &p.Regions, &p.Monitoring, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "project not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan project")
	}
	return &p, nil
}

// --- Runs ---

const pgRunCols = `id, project_id, status, note, created_at, started_at, completed_at`

func (s *PostgresStore) CreateRun(ctx context.Context, projectID string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, project_id, status, note, created_at) VALUES ($1, $2, $3, '', $4)`,
		id, projectID, string(model.RunStatusNew), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &model.Run{ID: id, ProjectID: projectID, Status: model.RunStatusNew, CreatedAt: now}, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, `SELECT `+pgRunCols+` FROM runs WHERE id = $1`, runID))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, note string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, note = $2,
			started_at = CASE WHEN $3::boolean AND started_at IS NULL THEN $4 ELSE started_at END,
			completed_at = CASE WHEN $5::boolean THEN $4 ELSE completed_at END
		 WHERE id = $6`,
		string(status), note, status == model.RunStatusDiscovering, now, status.Terminal(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	query := `SELECT ` + pgRunCols + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ProjectID != "" {
		query += fmt.Sprintf(` AND project_id = $%d`, argIdx)
		args = append(args, filter.ProjectID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += ` ORDER BY created_at DESC, seq DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) LatestRun(ctx context.Context, projectID string, status model.RunStatus) (*model.Run, error) {
	query := `SELECT ` + pgRunCols + ` FROM runs WHERE project_id = $1`
	args := []any{projectID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, seq DESC LIMIT 1`

	r, err := scanPgRun(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest run for project %s", projectID)
	}
	return r, nil
}

func (s *PostgresStore) CountRunsByStatus(ctx context.Context, since time.Time) (map[model.RunStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM runs WHERE created_at >= $1 GROUP BY status`, since.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count runs")
	}
	defer rows.Close()

	counts := make(map[model.RunStatus]int)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run count")
		}
		counts[model.RunStatus(status)] = int(n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count runs iterate")
}

func (s *PostgresStore) AppendRunLog(ctx context.Context, runID, line string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_logs (run_id, line, created_at) VALUES ($1, $2, $3)`,
		runID, line, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: append run log %s", runID)
}

func (s *PostgresStore) ListRunLogs(ctx context.Context, runID string) ([]model.RunLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, line, created_at FROM run_logs WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list run logs")
	}
	defer rows.Close()

	var logs []model.RunLog
	for rows.Next() {
		var l model.RunLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Line, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run log")
		}
		logs = append(logs, l)
	}
	return logs, eris.Wrap(rows.Err(), "postgres: list run logs iterate")
}

func (s *PostgresStore) DeleteRunLogsBefore(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM run_logs WHERE run_id IN (SELECT id FROM runs WHERE created_at < $1)`, before.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete run logs")
	}
	return int(tag.RowsAffected()), nil
}

func scanPgRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	err := row.Scan(&r.ID, &r.ProjectID, &status, &r.Note, &r.CreatedAt, &r.StartedAt, &r.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	r.Status = model.RunStatus(status)
	return &r, nil
}

// nonNil keeps TEXT[] columns from receiving NULL.
func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
