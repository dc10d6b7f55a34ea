// Package credits meters automated runs against a monthly per-project
// allowance.
package credits

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/model"
)

// DefaultMonthlyLimit applies when no limit is configured.
const DefaultMonthlyLimit = 1000

// Store is the slice of the store the ledger needs.
type Store interface {
	GetCredits(ctx context.Context, projectID, period string, limit int) (*model.CreditUsage, error)
	ConsumeCredit(ctx context.Context, projectID, period string, limit int) (bool, error)
}

// Ledger tracks credit usage per project and calendar month.
type Ledger struct {
	store Store
	limit int
	now   func() time.Time
}

// NewLedger creates a Ledger. A non-positive limit uses DefaultMonthlyLimit.
func NewLedger(st Store, monthlyLimit int) *Ledger {
	if monthlyLimit <= 0 {
		monthlyLimit = DefaultMonthlyLimit
	}
	return &Ledger{store: st, limit: monthlyLimit, now: time.Now}
}

// Period returns the YYYY-MM key for t.
func Period(t time.Time) string {
	return t.Format("2006-01")
}

// Usage returns the current month's usage for a project.
func (l *Ledger) Usage(ctx context.Context, projectID string) (*model.CreditUsage, error) {
	u, err := l.store.GetCredits(ctx, projectID, Period(l.now()), l.limit)
	if err != nil {
		return nil, eris.Wrapf(err, "credits: usage %s", projectID)
	}
	return u, nil
}

// CanConsume reports whether the project has credits left this month.
func (l *Ledger) CanConsume(ctx context.Context, projectID string) (bool, error) {
	u, err := l.Usage(ctx, projectID)
	if err != nil {
		return false, err
	}
	return u.Used < u.Limit, nil
}

// Consume spends one credit. It reports false when the allowance is used up.
func (l *Ledger) Consume(ctx context.Context, projectID string) (bool, error) {
	ok, err := l.store.ConsumeCredit(ctx, projectID, Period(l.now()), l.limit)
	if err != nil {
		return false, eris.Wrapf(err, "credits: consume %s", projectID)
	}
	return ok, nil
}
