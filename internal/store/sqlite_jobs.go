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

// --- Settings ---

// GetSettings returns the stored settings with defaults applied. A fresh
// database yields the defaults.
func (s *SQLiteStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		out := model.Settings{}.WithDefaults()
		return &out, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get settings")
	}

	var st model.Settings
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal settings")
	}
	st = st.WithDefaults()
	return &st, nil
}

func (s *SQLiteStore) SaveSettings(ctx context.Context, st model.Settings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal settings")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings (id, data) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		string(data),
	)
	return eris.Wrap(err, "sqlite: save settings")
}

// --- Jobs ---

func (s *SQLiteStore) EnqueueJob(ctx context.Context, runID string) (*model.Job, error) {
	now := time.Now().UTC()
	job := &model.Job{
		ID:        uuid.New().String(),
		RunID:     runID,
		Status:    model.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, run_id, status, attempts, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, 0, '', ?, ?)`,
		job.ID, job.RunID, string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: enqueue job for run %s", runID)
	}
	return job, nil
}

// ClaimJob marks the oldest pending job as running and returns it. Returns
// nil when the queue is empty.
func (s *SQLiteStore) ClaimJob(ctx context.Context) (*model.Job, error) {
	var job model.Job
	var status string
	err := s.db.QueryRowContext(ctx,
		`UPDATE jobs SET status = ?, attempts = attempts + 1, updated_at = ?
		 WHERE id = (SELECT id FROM jobs WHERE status = ? ORDER BY created_at, rowid LIMIT 1)
		 RETURNING id, run_id, status, attempts, last_error, created_at, updated_at`,
		string(model.JobStatusRunning), time.Now().UTC(), string(model.JobStatusPending),
	).Scan(&job.ID, &job.RunID, &status, &job.Attempts, &job.LastError, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim job")
	}
	job.Status = model.JobStatus(status)
	return &job, nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStatusDone), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStatusError), msg, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

// --- Credits ---

func (s *SQLiteStore) GetCredits(ctx context.Context, projectID, period string, limit int) (*model.CreditUsage, error) {
	u := &model.CreditUsage{ProjectID: projectID, Period: period, Limit: limit}
	err := s.db.QueryRowContext(ctx,
		`SELECT used FROM credit_ledger WHERE project_id = ? AND period = ?`,
		projectID, period,
	).Scan(&u.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return u, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get credits %s/%s", projectID, period)
	}
	return u, nil
}

// ConsumeCredit spends one credit if the period still has room. Reports
// false when the limit is already reached.
func (s *SQLiteStore) ConsumeCredit(ctx context.Context, projectID, period string, limit int) (bool, error) {
	var ok bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO credit_ledger (project_id, period, used, limit_) VALUES (?, ?, 0, ?)
			 ON CONFLICT(project_id, period) DO NOTHING`,
			projectID, period, limit,
		); err != nil {
			return eris.Wrap(err, "sqlite: init credit ledger")
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE credit_ledger SET used = used + 1, limit_ = ?
			 WHERE project_id = ? AND period = ? AND used < ?`,
			limit, projectID, period, limit,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: consume credit")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return eris.Wrap(err, "sqlite: rows affected")
		}
		ok = n == 1
		return nil
	})
	return ok, err
}
