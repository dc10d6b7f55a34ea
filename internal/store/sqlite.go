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

	"github.com/sells-group/intel-cli/internal/model"
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	industry     TEXT NOT NULL DEFAULT '',
	sub_industry TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	keywords     TEXT NOT NULL DEFAULT '[]',
	competitors  TEXT NOT NULL DEFAULT '[]',
	segments     TEXT NOT NULL DEFAULT '[]',
	regions      TEXT NOT NULL DEFAULT '[]',
	monitoring   INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL REFERENCES projects(id),
	status       TEXT NOT NULL DEFAULT 'NEW',
	note         TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	started_at   DATETIME,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	line       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sources (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	url          TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	domain       TEXT NOT NULL DEFAULT '',
	published_at DATETIME,
	fetched_at   DATETIME,
	status       TEXT NOT NULL DEFAULT 'OK',
	text         TEXT,
	notes        TEXT NOT NULL DEFAULT '',
	UNIQUE(run_id, url)
);

CREATE TABLE IF NOT EXISTS competitors (
	id      TEXT PRIMARY KEY,
	run_id  TEXT NOT NULL REFERENCES runs(id),
	name    TEXT NOT NULL,
	website TEXT NOT NULL DEFAULT '',
	UNIQUE(run_id, name)
);

CREATE TABLE IF NOT EXISTS capabilities (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	source_id  TEXT NOT NULL,
	category   TEXT NOT NULL,
	name       TEXT NOT NULL,
	normalized TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS features (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	source_id   TEXT NOT NULL,
	category    TEXT NOT NULL,
	name        TEXT NOT NULL,
	normalized  TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	UNIQUE(run_id, normalized)
);

CREATE TABLE IF NOT EXISTS pricing_points (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(id),
	competitor_id TEXT NOT NULL,
	source_id     TEXT NOT NULL DEFAULT '',
	plan          TEXT NOT NULL,
	monthly       REAL,
	annual        REAL,
	fee_pct       REAL,
	currency      TEXT NOT NULL DEFAULT '$'
);

CREATE TABLE IF NOT EXISTS compliance_items (
	id        TEXT PRIMARY KEY,
	run_id    TEXT NOT NULL REFERENCES runs(id),
	framework TEXT NOT NULL,
	status    TEXT NOT NULL,
	notes     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS integrations (
	id       TEXT PRIMARY KEY,
	run_id   TEXT NOT NULL REFERENCES runs(id),
	vendor   TEXT NOT NULL,
	category TEXT NOT NULL,
	notes    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS findings (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL REFERENCES runs(id),
	kind           TEXT NOT NULL,
	text           TEXT NOT NULL,
	confidence     REAL NOT NULL,
	citations      TEXT NOT NULL DEFAULT '[]',
	approved       INTEGER NOT NULL DEFAULT 0,
	reviewer_notes TEXT NOT NULL DEFAULT '',
	meta           TEXT NOT NULL DEFAULT '{}',
	created_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	project_id TEXT NOT NULL,
	headline   TEXT NOT NULL,
	body       TEXT NOT NULL,
	format     TEXT NOT NULL DEFAULT 'MARKDOWN',
	approved   INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	status     TEXT NOT NULL DEFAULT 'PENDING',
	attempts   INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS credit_ledger (
	project_id TEXT NOT NULL,
	period     TEXT NOT NULL,
	used       INTEGER NOT NULL DEFAULT 0,
	limit_     INTEGER NOT NULL,
	PRIMARY KEY (project_id, period)
);

CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project_id, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_logs_run_id ON run_logs(run_id);
CREATE INDEX IF NOT EXISTS idx_sources_run_id ON sources(run_id);
CREATE INDEX IF NOT EXISTS idx_capabilities_run_id ON capabilities(run_id);
CREATE INDEX IF NOT EXISTS idx_findings_run_id ON findings(run_id);
CREATE INDEX IF NOT EXISTS idx_reports_run_id ON reports(run_id, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, p *model.Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, category, industry, sub_industry, description, keywords, competitors, segments, regions, monitoring, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Category, p.Industry, p.SubIndustry, p.Description,
		jsonList(p.Keywords), jsonList(p.Competitors), jsonList(p.Segments), jsonList(p.Regions),
		p.Monitoring, p.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert project")
}

const sqliteProjectCols = `id, name, category, industry, sub_industry, description, keywords, competitors, segments, regions, monitoring, created_at`

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteProjectCols+` FROM projects WHERE id = ?`, id)
	p, err := scanSQLiteProject(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get project %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteProjectCols+` FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list projects")
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		p, err := scanSQLiteProject(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list projects")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list projects iterate")
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, projectID string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, project_id, status, note, created_at) VALUES (?, ?, ?, '', ?)`,
		id, projectID, string(model.RunStatusNew), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		ProjectID: projectID,
		Status:    model.RunStatusNew,
		CreatedAt: now,
	}, nil
}

const sqliteRunCols = `id, project_id, status, note, created_at, started_at, completed_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunCols+` FROM runs WHERE id = ?`, runID)
	r, err := scanSQLiteRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

// UpdateRunStatus sets status and note. started_at is stamped on the first
// move to DISCOVERING and completed_at on any terminal status.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, note string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, note = ?,
			started_at = CASE WHEN ? AND started_at IS NULL THEN ? ELSE started_at END,
			completed_at = CASE WHEN ? THEN ? ELSE completed_at END
		 WHERE id = ?`,
		string(status), note,
		status == model.RunStatusDiscovering, now,
		status.Terminal(), now,
		runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunCols + ` FROM runs WHERE 1=1`
	var args []any

	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC`

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
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// LatestRun returns the most recent run of a project, optionally restricted
// to one status. It returns nil without error when there is none.
func (s *SQLiteStore) LatestRun(ctx context.Context, projectID string, status model.RunStatus) (*model.Run, error) {
	query := `SELECT ` + sqliteRunCols + ` FROM runs WHERE project_id = ?`
	args := []any{projectID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT 1`

	r, err := scanSQLiteRun(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest run for project %s", projectID)
	}
	return r, nil
}

func (s *SQLiteStore) CountRunsByStatus(ctx context.Context, since time.Time) (map[model.RunStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM runs WHERE created_at >= ? GROUP BY status`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count runs")
	}
	defer rows.Close()

	counts := make(map[model.RunStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run count")
		}
		counts[model.RunStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count runs iterate")
}

func (s *SQLiteStore) AppendRunLog(ctx context.Context, runID, line string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_logs (run_id, line, created_at) VALUES (?, ?, ?)`,
		runID, line, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: append run log %s", runID)
}

func (s *SQLiteStore) ListRunLogs(ctx context.Context, runID string) ([]model.RunLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, line, created_at FROM run_logs WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list run logs")
	}
	defer rows.Close()

	var logs []model.RunLog
	for rows.Next() {
		var l model.RunLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Line, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run log")
		}
		logs = append(logs, l)
	}
	return logs, eris.Wrap(rows.Err(), "sqlite: list run logs iterate")
}

// DeleteRunLogsBefore removes the logs of runs created before the cutoff.
func (s *SQLiteStore) DeleteRunLogsBefore(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM run_logs WHERE run_id IN (SELECT id FROM runs WHERE created_at < ?)`,
		before.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete run logs")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	var started, completed sql.NullTime

	err := row.Scan(&r.ID, &r.ProjectID, &status, &r.Note, &r.CreatedAt, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Status = model.RunStatus(status)
	r.StartedAt = nullTimePtr(started)
	r.CompletedAt = nullTimePtr(completed)
	return &r, nil
}

func scanSQLiteProject(row scannable) (*model.Project, error) {
	var p model.Project
	var keywords, competitors, segments, regions string

	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Industry, &p.SubIndustry, &p.Description,
		&keywords, &competitors, &segments, &regions, &p.Monitoring, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "project not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan project")
	}
	for _, f := range []struct {
		raw string
		dst *[]string
	}{
		{keywords, &p.Keywords},
		{competitors, &p.Competitors},
		{segments, &p.Segments},
		{regions, &p.Regions},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal project list")
		}
	}
	return &p, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullFloatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// jsonList encodes a string slice as a JSON array, never null.
func jsonList(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, _ := json.Marshal(items)
	return string(data)
}
