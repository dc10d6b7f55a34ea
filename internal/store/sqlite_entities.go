package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/model"
)

// inTx runs fn inside a transaction, rolling back on error.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

// --- Sources ---

func (s *SQLiteStore) CreateSource(ctx context.Context, src *model.Source) error {
	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	if src.Status == "" {
		src.Status = model.SourceStatusOK
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, run_id, url, title, domain, published_at, fetched_at, status, text, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.RunID, src.URL, src.Title, src.Domain, src.PublishedAt, src.FetchedAt,
		string(src.Status), src.Text, src.Notes,
	)
	return eris.Wrapf(err, "sqlite: insert source %s", src.URL)
}

// UpdateSourceFetch records the fetch outcome of a source.
func (s *SQLiteStore) UpdateSourceFetch(ctx context.Context, src *model.Source) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET title = ?, fetched_at = ?, status = ?, text = ?, notes = ? WHERE id = ?`,
		src.Title, src.FetchedAt, string(src.Status), src.Text, src.Notes, src.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update source %s", src.ID)
	}
	return checkRowsAffected(res, "source", src.ID)
}

func (s *SQLiteStore) ListSources(ctx context.Context, runID string) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, url, title, domain, published_at, fetched_at, status, text, notes
		 FROM sources WHERE run_id = ? ORDER BY rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		var src model.Source
		var status string
		var published, fetched sql.NullTime
		var text sql.NullString
		if err := rows.Scan(&src.ID, &src.RunID, &src.URL, &src.Title, &src.Domain,
			&published, &fetched, &status, &text, &src.Notes); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source")
		}
		src.Status = model.SourceStatus(status)
		src.PublishedAt = nullTimePtr(published)
		src.FetchedAt = nullTimePtr(fetched)
		src.Text = nullStringPtr(text)
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sources iterate")
}

// --- Competitors ---

// UpsertCompetitor inserts a competitor unless one with the same name already
// exists in the run, and returns the stored row either way.
func (s *SQLiteStore) UpsertCompetitor(ctx context.Context, runID, name, website string) (*model.Competitor, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO competitors (id, run_id, name, website) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id, name) DO NOTHING`,
		uuid.New().String(), runID, name, website,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert competitor %s", name)
	}

	var c model.Competitor
	err = s.db.QueryRowContext(ctx,
		`SELECT id, run_id, name, website FROM competitors WHERE run_id = ? AND name = ?`,
		runID, name,
	).Scan(&c.ID, &c.RunID, &c.Name, &c.Website)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get competitor %s", name)
	}
	return &c, nil
}

func (s *SQLiteStore) ListCompetitors(ctx context.Context, runID string) ([]model.Competitor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, name, website FROM competitors WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list competitors")
	}
	defer rows.Close()

	var out []model.Competitor
	for rows.Next() {
		var c model.Competitor
		if err := rows.Scan(&c.ID, &c.RunID, &c.Name, &c.Website); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan competitor")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list competitors iterate")
}

// --- Capabilities & features ---

func (s *SQLiteStore) CreateCapabilities(ctx context.Context, caps []model.Capability) error {
	if len(caps) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO capabilities (id, run_id, source_id, category, name, normalized) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare capability insert")
		}
		defer stmt.Close()
		for i := range caps {
			if caps[i].ID == "" {
				caps[i].ID = uuid.New().String()
			}
			c := caps[i]
			if _, err := stmt.ExecContext(ctx, c.ID, c.RunID, c.SourceID, c.Category, c.Name, c.Normalized); err != nil {
				return eris.Wrap(err, "sqlite: insert capability")
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListCapabilities(ctx context.Context, runID string) ([]model.Capability, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, source_id, category, name, normalized FROM capabilities WHERE run_id = ? ORDER BY rowid`,
		runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list capabilities")
	}
	defer rows.Close()

	var out []model.Capability
	for rows.Next() {
		var c model.Capability
		if err := rows.Scan(&c.ID, &c.RunID, &c.SourceID, &c.Category, &c.Name, &c.Normalized); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan capability")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list capabilities iterate")
}

// CreateFeatures stores features, keeping the first one per normalized name.
func (s *SQLiteStore) CreateFeatures(ctx context.Context, features []model.Feature) error {
	if len(features) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for i := range features {
			if features[i].ID == "" {
				features[i].ID = uuid.New().String()
			}
			f := features[i]
			_, err := tx.ExecContext(ctx,
				`INSERT INTO features (id, run_id, source_id, category, name, normalized, description)
				 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(run_id, normalized) DO NOTHING`,
				f.ID, f.RunID, f.SourceID, f.Category, f.Name, f.Normalized, f.Description,
			)
			if err != nil {
				return eris.Wrap(err, "sqlite: insert feature")
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListFeatures(ctx context.Context, runID string) ([]model.Feature, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, source_id, category, name, normalized, description FROM features WHERE run_id = ? ORDER BY rowid`,
		runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list features")
	}
	defer rows.Close()

	var out []model.Feature
	for rows.Next() {
		var f model.Feature
		if err := rows.Scan(&f.ID, &f.RunID, &f.SourceID, &f.Category, &f.Name, &f.Normalized, &f.Description); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feature")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list features iterate")
}

// --- Pricing, compliance, integrations ---

func (s *SQLiteStore) CreatePricingPoints(ctx context.Context, points []model.PricingPoint) error {
	if len(points) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for i := range points {
			if points[i].ID == "" {
				points[i].ID = uuid.New().String()
			}
			p := points[i]
			_, err := tx.ExecContext(ctx,
				`INSERT INTO pricing_points (id, run_id, competitor_id, source_id, plan, monthly, annual, fee_pct, currency)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				p.ID, p.RunID, p.CompetitorID, p.SourceID, p.Plan, p.Monthly, p.Annual, p.FeePct, p.Currency,
			)
			if err != nil {
				return eris.Wrap(err, "sqlite: insert pricing point")
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListPricingPoints(ctx context.Context, runID string) ([]model.PricingPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, competitor_id, source_id, plan, monthly, annual, fee_pct, currency
		 FROM pricing_points WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pricing points")
	}
	defer rows.Close()

	var out []model.PricingPoint
	for rows.Next() {
		var p model.PricingPoint
		var monthly, annual, fee sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.RunID, &p.CompetitorID, &p.SourceID, &p.Plan,
			&monthly, &annual, &fee, &p.Currency); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pricing point")
		}
		p.Monthly = nullFloatPtr(monthly)
		p.Annual = nullFloatPtr(annual)
		p.FeePct = nullFloatPtr(fee)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list pricing points iterate")
}

func (s *SQLiteStore) CreateComplianceItems(ctx context.Context, items []model.ComplianceItem) error {
	if len(items) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for i := range items {
			if items[i].ID == "" {
				items[i].ID = uuid.New().String()
			}
			c := items[i]
			_, err := tx.ExecContext(ctx,
				`INSERT INTO compliance_items (id, run_id, framework, status, notes) VALUES (?, ?, ?, ?, ?)`,
				c.ID, c.RunID, c.Framework, c.Status, c.Notes,
			)
			if err != nil {
				return eris.Wrap(err, "sqlite: insert compliance item")
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListComplianceItems(ctx context.Context, runID string) ([]model.ComplianceItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, framework, status, notes FROM compliance_items WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list compliance items")
	}
	defer rows.Close()

	var out []model.ComplianceItem
	for rows.Next() {
		var c model.ComplianceItem
		if err := rows.Scan(&c.ID, &c.RunID, &c.Framework, &c.Status, &c.Notes); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan compliance item")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list compliance items iterate")
}

func (s *SQLiteStore) CreateIntegrations(ctx context.Context, items []model.Integration) error {
	if len(items) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for i := range items {
			if items[i].ID == "" {
				items[i].ID = uuid.New().String()
			}
			in := items[i]
			_, err := tx.ExecContext(ctx,
				`INSERT INTO integrations (id, run_id, vendor, category, notes) VALUES (?, ?, ?, ?, ?)`,
				in.ID, in.RunID, in.Vendor, in.Category, in.Notes,
			)
			if err != nil {
				return eris.Wrap(err, "sqlite: insert integration")
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListIntegrations(ctx context.Context, runID string) ([]model.Integration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, vendor, category, notes FROM integrations WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list integrations")
	}
	defer rows.Close()

	var out []model.Integration
	for rows.Next() {
		var in model.Integration
		if err := rows.Scan(&in.ID, &in.RunID, &in.Vendor, &in.Category, &in.Notes); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan integration")
		}
		out = append(out, in)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list integrations iterate")
}

// --- Findings ---

func (s *SQLiteStore) CreateFindings(ctx context.Context, findings []model.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.inTx(ctx, func(tx *sql.Tx) error {
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
				return eris.Wrapf(err, "sqlite: finding %s", f.ID)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO findings (id, run_id, kind, text, confidence, citations, approved, reviewer_notes, meta, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				f.ID, f.RunID, string(f.Kind), f.Text, f.Confidence, jsonList(f.Citations),
				f.Approved, f.ReviewerNotes, string(meta), f.CreatedAt,
			)
			if err != nil {
				return eris.Wrap(err, "sqlite: insert finding")
			}
		}
		return nil
	})
}

const sqliteFindingCols = `id, run_id, kind, text, confidence, citations, approved, reviewer_notes, meta, created_at`

func (s *SQLiteStore) ListFindings(ctx context.Context, runID string, approvedOnly bool) ([]model.Finding, error) {
	query := `SELECT ` + sqliteFindingCols + ` FROM findings WHERE run_id = ?`
	if approvedOnly {
		query += ` AND approved = 1`
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list findings")
	}
	defer rows.Close()

	var out []model.Finding
	for rows.Next() {
		f, err := scanSQLiteFinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list findings iterate")
}

func (s *SQLiteStore) GetFinding(ctx context.Context, id string) (*model.Finding, error) {
	f, err := scanSQLiteFinding(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteFindingCols+` FROM findings WHERE id = ?`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get finding %s", id)
	}
	return f, nil
}

func (s *SQLiteStore) UpdateFindingReview(ctx context.Context, id string, review FindingReview) error {
	query := `UPDATE findings SET id = id`
	var args []any
	if review.Approved != nil {
		query += `, approved = ?`
		args = append(args, *review.Approved)
	}
	if review.ReviewerNotes != nil {
		query += `, reviewer_notes = ?`
		args = append(args, *review.ReviewerNotes)
	}
	if review.Citations != nil {
		query += `, citations = ?`
		args = append(args, jsonList(review.Citations))
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update finding %s", id)
	}
	return checkRowsAffected(res, "finding", id)
}

func scanSQLiteFinding(row scannable) (*model.Finding, error) {
	var f model.Finding
	var kind, citations, meta string

	err := row.Scan(&f.ID, &f.RunID, &kind, &f.Text, &f.Confidence, &citations,
		&f.Approved, &f.ReviewerNotes, &meta, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "finding not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan finding")
	}
	f.Kind = model.FindingKind(kind)
	if err := json.Unmarshal([]byte(citations), &f.Citations); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal citations")
	}
	if f.Meta, err = model.DecodeMeta(f.Kind, []byte(meta)); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode meta of finding %s", f.ID)
	}
	return &f, nil
}

// --- Reports ---

func (s *SQLiteStore) CreateReport(ctx context.Context, r *model.Report) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Format == "" {
		r.Format = model.ReportFormatMarkdown
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (id, run_id, project_id, headline, body, format, approved, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RunID, r.ProjectID, r.Headline, r.Body, string(r.Format), r.Approved, r.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert report")
}

// LatestReport returns the newest report of a run, or nil when there is none.
func (s *SQLiteStore) LatestReport(ctx context.Context, runID string) (*model.Report, error) {
	var r model.Report
	var format string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, project_id, headline, body, format, approved, created_at
		 FROM reports WHERE run_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		runID,
	).Scan(&r.ID, &r.RunID, &r.ProjectID, &r.Headline, &r.Body, &format, &r.Approved, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest report %s", runID)
	}
	r.Format = model.ReportFormat(format)
	return &r, nil
}
