package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/db"
	"github.com/sells-group/intel-cli/internal/model"
)

// --- Sources ---

func (s *PostgresStore) CreateSource(ctx context.Context, src *model.Source) error {
	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	if src.Status == "" {
		src.Status = model.SourceStatusOK
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sources (id, run_id, url, title, domain, published_at, fetched_at, status, text, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		src.ID, src.RunID, src.URL, src.Title, src.Domain, src.PublishedAt, src.FetchedAt,
		string(src.Status), src.Text, src.Notes,
	)
	return eris.Wrapf(err, "postgres: insert source %s", src.URL)
}

func (s *PostgresStore) UpdateSourceFetch(ctx context.Context, src *model.Source) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET title = $1, fetched_at = $2, status = $3, text = $4, notes = $5 WHERE id = $6`,
		src.Title, src.FetchedAt, string(src.Status), src.Text, src.Notes, src.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update source %s", src.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "source not found: %s", src.ID)
	}
	return nil
}

func (s *PostgresStore) ListSources(ctx context.Context, runID string) ([]model.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, url, title, domain, published_at, fetched_at, status, text, notes
		 FROM sources WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		var src model.Source
		var status string
		if err := rows.Scan(&src.ID, &src.RunID, &src.URL, &src.Title, &src.Domain,
			&src.PublishedAt, &src.FetchedAt, &status, &src.Text, &src.Notes); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source")
		}
		src.Status = model.SourceStatus(status)
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sources iterate")
}

// --- Competitors ---

func (s *PostgresStore) UpsertCompetitor(ctx context.Context, runID, name, website string) (*model.Competitor, error) {
	var c model.Competitor
	// The no-op update makes RETURNING yield the existing row on conflict.
	err := s.pool.QueryRow(ctx,
		`INSERT INTO competitors (id, run_id, name, website) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id, name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, run_id, name, website`,
		uuid.New().String(), runID, name, website,
	).Scan(&c.ID, &c.RunID, &c.Name, &c.Website)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert competitor %s", name)
	}
	return &c, nil
}

func (s *PostgresStore) ListCompetitors(ctx context.Context, runID string) ([]model.Competitor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, name, website FROM competitors WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list competitors")
	}
	defer rows.Close()

	var out []model.Competitor
	for rows.Next() {
		var c model.Competitor
		if err := rows.Scan(&c.ID, &c.RunID, &c.Name, &c.Website); err != nil {
			return nil, eris.Wrap(err, "postgres: scan competitor")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list competitors iterate")
}

// --- Capabilities & features ---

// CreateCapabilities bulk-loads capabilities with COPY.
func (s *PostgresStore) CreateCapabilities(ctx context.Context, caps []model.Capability) error {
	rows := make([][]any, 0, len(caps))
	for i := range caps {
		if caps[i].ID == "" {
			caps[i].ID = uuid.New().String()
		}
		c := caps[i]
		rows = append(rows, []any{c.ID, c.RunID, c.SourceID, c.Category, c.Name, c.Normalized})
	}
	_, err := db.CopyFrom(ctx, s.pool, "capabilities",
		[]string{"id", "run_id", "source_id", "category", "name", "normalized"}, rows)
	return eris.Wrap(err, "postgres: insert capabilities")
}

func (s *PostgresStore) ListCapabilities(ctx context.Context, runID string) ([]model.Capability, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, source_id, category, name, normalized FROM capabilities WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list capabilities")
	}
	defer rows.Close()

	var out []model.Capability
	for rows.Next() {
		var c model.Capability
		if err := rows.Scan(&c.ID, &c.RunID, &c.SourceID, &c.Category, &c.Name, &c.Normalized); err != nil {
			return nil, eris.Wrap(err, "postgres: scan capability")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list capabilities iterate")
}

func (s *PostgresStore) CreateFeatures(ctx context.Context, features []model.Feature) error {
	if len(features) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for i := range features {
			if features[i].ID == "" {
				features[i].ID = uuid.New().String()
			}
			f := features[i]
			if _, err := tx.Exec(ctx,
				`INSERT INTO features (id, run_id, source_id, category, name, normalized, description)
				 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (run_id, normalized) DO NOTHING`,
				f.ID, f.RunID, f.SourceID, f.Category, f.Name, f.Normalized, f.Description,
			); err != nil {
				return eris.Wrap(err, "postgres: insert feature")
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListFeatures(ctx context.Context, runID string) ([]model.Feature, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, source_id, category, name, normalized, description FROM features WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list features")
	}
	defer rows.Close()

	var out []model.Feature
	for rows.Next() {
		var f model.Feature
		if err := rows.Scan(&f.ID, &f.RunID, &f.SourceID, &f.Category, &f.Name, &f.Normalized, &f.Description); err != nil {
			return nil, eris.Wrap(err, "postgres: scan feature")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list features iterate")
}

// --- Pricing, compliance, integrations ---

func (s *PostgresStore) CreatePricingPoints(ctx context.Context, points []model.PricingPoint) error {
	if len(points) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for i := range points {
			if points[i].ID == "" {
				points[i].ID = uuid.New().String()
			}
			p := points[i]
			if _, err := tx.Exec(ctx,
				`INSERT INTO pricing_points (id, run_id, competitor_id, source_id, plan, monthly, annual, fee_pct, currency)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				p.ID, p.RunID, p.CompetitorID, p.SourceID, p.Plan, p.Monthly, p.Annual, p.FeePct, p.Currency,
			); err != nil {
				return eris.Wrap(err, "postgres: insert pricing point")
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListPricingPoints(ctx context.Context, runID string) ([]model.PricingPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, competitor_id, source_id, plan, monthly, annual, fee_pct, currency
		 FROM pricing_points WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pricing points")
	}
	defer rows.Close()

	var out []model.PricingPoint
	for rows.Next() {
		var p model.PricingPoint
		if err := rows.Scan(&p.ID, &p.RunID, &p.CompetitorID, &p.SourceID, &p.Plan,
			&p.Monthly, &p.Annual, &p.FeePct, &p.Currency); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pricing point")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list pricing points iterate")
}

func (s *PostgresStore) CreateComplianceItems(ctx context.Context, items []model.ComplianceItem) error {
	rows := make([][]any, 0, len(items))
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.New().String()
		}
		c := items[i]
		rows = append(rows, []any{c.ID, c.RunID, c.Framework, c.Status, c.Notes})
	}
	_, err := db.CopyFrom(ctx, s.pool, "compliance_items",
		[]string{"id", "run_id", "framework", "status", "notes"}, rows)
	return eris.Wrap(err, "postgres: insert compliance items")
}

func (s *PostgresStore) ListComplianceItems(ctx context.Context, runID string) ([]model.ComplianceItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, framework, status, notes FROM compliance_items WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list compliance items")
	}
	defer rows.Close()

	var out []model.ComplianceItem
	for rows.Next() {
		var c model.ComplianceItem
		if err := rows.Scan(&c.ID, &c.RunID, &c.Framework, &c.Status, &c.Notes); err != nil {
			return nil, eris.Wrap(err, "postgres: scan compliance item")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list compliance items iterate")
}

func (s *PostgresStore) CreateIntegrations(ctx context.Context, items []model.Integration) error {
	rows := make([][]any, 0, len(items))
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.New().String()
		}
		in := items[i]
		rows = append(rows, []any{in.ID, in.RunID, in.Vendor, in.Category, in.Notes})
	}
	_, err := db.CopyFrom(ctx, s.pool, "integrations",
		[]string{"id", "run_id", "vendor", "category", "notes"}, rows)
	return eris.Wrap(err, "postgres: insert integrations")
}

func (s *PostgresStore) ListIntegrations(ctx context.Context, runID string) ([]model.Integration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, vendor, category, notes FROM integrations WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list integrations")
	}
	defer rows.Close()

	var out []model.Integration
	for rows.Next() {
		var in model.Integration
		if err := rows.Scan(&in.ID, &in.RunID, &in.Vendor, &in.Category, &in.Notes); err != nil {
			return nil, eris.Wrap(err, "postgres: scan integration")
		}
		out = append(out, in)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list integrations iterate")
}

// --- Findings ---

const pgFindingCols = `id, run_id, kind, text, confidence, citations, approved, reviewer_notes, meta, created_at`

func (s *PostgresStore) CreateFindings(ctx context.Context, findings []model.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for i := range findings {
			f := &findings[i]
			if f.ID == "" {
				f.ID = uuid.New().String()
			}
			if f.CreatedAt.IsZero() {
				f.CreatedAt = now
			}
			meta, err := model.EncodeMeta(f.Kind, f.Meta)
			if err != nil {
				return eris.Wrapf(err, "postgres: finding %s", f.ID)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO findings (`+pgFindingCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				f.ID, f.RunID, string(f.Kind), f.Text, f.Confidence, nonNil(f.Citations),
				f.Approved, f.ReviewerNotes, meta, f.CreatedAt,
			); err != nil {
				return eris.Wrap(err, "postgres: insert finding")
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListFindings(ctx context.Context, runID string, approvedOnly bool) ([]model.Finding, error) {
	query := `SELECT ` + pgFindingCols + ` FROM findings WHERE run_id = $1`
	if approvedOnly {
		query += ` AND approved`
	}
	query += ` ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list findings")
	}
	defer rows.Close()

	var out []model.Finding
	for rows.Next() {
		f, err := scanPgFinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list findings iterate")
}

func (s *PostgresStore) GetFinding(ctx context.Context, id string) (*model.Finding, error) {
	f, err := scanPgFinding(s.pool.QueryRow(ctx, `SELECT `+pgFindingCols+` FROM findings WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get finding %s", id)
	}
	return f, nil
}

func (s *PostgresStore) UpdateFindingReview(ctx context.Context, id string, review FindingReview) error {
	query := `UPDATE findings SET id = id`
	var args []any
	argIdx := 1
	if review.Approved != nil {
		query += fmt.Sprintf(`, approved = $%d`, argIdx)
		args = append(args, *review.Approved)
		argIdx++
	}
	if review.ReviewerNotes != nil {
		query += fmt.Sprintf(`, reviewer_notes = $%d`, argIdx)
		args = append(args, *review.ReviewerNotes)
		argIdx++
	}
	if review.Citations != nil {
		query += fmt.Sprintf(`, citations = $%d`, argIdx)
		args = append(args, review.Citations)
		argIdx++
	}
	query += fmt.Sprintf(` WHERE id = $%d`, argIdx)
	args = append(args, id)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update finding %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "finding not found: %s", id)
	}
	return nil
}

func scanPgFinding(row scannable) (*model.Finding, error) {
	var f model.Finding
	var kind string
	var meta []byte

	err := row.Scan(&f.ID, &f.RunID, &kind, &f.Text, &f.Confidence, &f.Citations,
		&f.Approved, &f.ReviewerNotes, &meta, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "finding not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan finding")
	}
	f.Kind = model.FindingKind(kind)
	if f.Meta, err = model.DecodeMeta(f.Kind, meta); err != nil {
		return nil, eris.Wrapf(err, "postgres: decode meta of finding %s", f.ID)
	}
	return &f, nil
}

// --- Reports ---

func (s *PostgresStore) CreateReport(ctx context.Context, r *model.Report) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Format == "" {
		r.Format = model.ReportFormatMarkdown
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reports (id, run_id, project_id, headline, body, format, approved, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.RunID, r.ProjectID, r.Headline, r.Body, string(r.Format), r.Approved, r.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert report")
}

func (s *PostgresStore) LatestReport(ctx context.Context, runID string) (*model.Report, error) {
	var r model.Report
	var format string
	err := s.pool.QueryRow(ctx,
		`SELECT id, run_id, project_id, headline, body, format, approved, created_at
		 FROM reports WHERE run_id = $1 ORDER BY created_at DESC, seq DESC LIMIT 1`, runID,
	).Scan(&r.ID, &r.RunID, &r.ProjectID, &r.Headline, &r.Body, &format, &r.Approved, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest report %s", runID)
	}
	r.Format = model.ReportFormat(format)
	return &r, nil
}

// --- Settings ---

func (s *PostgresStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		out := model.Settings{}.WithDefaults()
		return &out, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get settings")
	}
	var st model.Settings
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal settings")
	}
	st = st.WithDefaults()
	return &st, nil
}

func (s *PostgresStore) SaveSettings(ctx context.Context, st model.Settings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal settings")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO settings (id, data) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`, data)
	return eris.Wrap(err, "postgres: save settings")
}

// --- Jobs ---

func (s *PostgresStore) EnqueueJob(ctx context.Context, runID string) (*model.Job, error) {
	now := time.Now().UTC()
	job := &model.Job{
		ID:        uuid.New().String(),
		RunID:     runID,
		Status:    model.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, run_id, status, attempts, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, '', $4, $5)`,
		job.ID, job.RunID, string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: enqueue job for run %s", runID)
	}
	return job, nil
}

// ClaimJob locks the oldest pending job with SKIP LOCKED so concurrent
// workers never receive the same job.
func (s *PostgresStore) ClaimJob(ctx context.Context) (*model.Job, error) {
	var job model.Job
	var status string
	err := s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = $1, attempts = attempts + 1, updated_at = $2
		 WHERE id = (SELECT id FROM jobs WHERE status = $3 ORDER BY created_at LIMIT 1 FOR UPDATE SKIP LOCKED)
		 RETURNING id, run_id, status, attempts, last_error, created_at, updated_at`,
		string(model.JobStatusRunning), time.Now().UTC(), string(model.JobStatusPending),
	).Scan(&job.ID, &job.RunID, &status, &job.Attempts, &job.LastError, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim job")
	}
	job.Status = model.JobStatus(status)
	return &job, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(model.JobStatusDone), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, last_error = $2, updated_at = $3 WHERE id = $4`,
		string(model.JobStatusError), msg, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job not found: %s", jobID)
	}
	return nil
}

// --- Credits ---

func (s *PostgresStore) GetCredits(ctx context.Context, projectID, period string, limit int) (*model.CreditUsage, error) {
	u := &model.CreditUsage{ProjectID: projectID, Period: period, Limit: limit}
	var used int32
	err := s.pool.QueryRow(ctx,
		`SELECT used FROM credit_ledger WHERE project_id = $1 AND period = $2`, projectID, period,
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get credits %s/%s", projectID, period)
	}
	u.Used = int(used)
	return u, nil
}

// ConsumeCredit spends one credit in a single upsert. The conditional
// DO UPDATE touches no row once the limit is reached.
func (s *PostgresStore) ConsumeCredit(ctx context.Context, projectID, period string, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO credit_ledger (project_id, period, used, limit_) VALUES ($1, $2, 1, $3)
		 ON CONFLICT (project_id, period) DO UPDATE
		 SET used = credit_ledger.used + 1, limit_ = EXCLUDED.limit_
		 WHERE credit_ledger.used < EXCLUDED.limit_`,
		projectID, period, limit,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: consume credit %s/%s", projectID, period)
	}
	return tag.RowsAffected() == 1, nil
}
