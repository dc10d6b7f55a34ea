package credits

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/store"
)

func newLedger(t *testing.T, limit int) (*Ledger, string) {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "credits.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { _ = st.Close() })

	p := &model.Project{Name: "Acme Billing"}
	require.NoError(t, st.CreateProject(ctx, p))
	return NewLedger(st, limit), p.ID
}

func TestPeriod(t *testing.T) {
	assert.Equal(t, "2025-03", Period(time.Date(2025, 3, 31, 23, 0, 0, 0, time.UTC)))
}

func TestLedger_ConsumeUntilExhausted(t *testing.T) {
	ctx := context.Background()
	l, projectID := newLedger(t, 2)

	ok, err := l.CanConsume(ctx, projectID)
	require.NoError(t, err)
	assert.True(t, ok)

	for i := 0; i < 2; i++ {
		ok, err = l.Consume(ctx, projectID)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err = l.Consume(ctx, projectID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.CanConsume(ctx, projectID)
	require.NoError(t, err)
	assert.False(t, ok)

	u, err := l.Usage(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, 2, u.Used)
	assert.Zero(t, u.Remaining())
}

func TestLedger_NewMonthResets(t *testing.T) {
	ctx := context.Background()
	l, projectID := newLedger(t, 1)
	l.now = func() time.Time { return time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC) }

	ok, err := l.Consume(ctx, projectID)
	require.NoError(t, err)
	require.True(t, ok)

	l.now = func() time.Time { return time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC) }
	ok, err = l.CanConsume(ctx, projectID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewLedger_DefaultLimit(t *testing.T) {
	l := NewLedger(nil, 0)
	assert.Equal(t, DefaultMonthlyLimit, l.limit)
}

type brokenStore struct{}

func (brokenStore) GetCredits(context.Context, string, string, int) (*model.CreditUsage, error) {
	return nil, errors.New("db down")
}

func (brokenStore) ConsumeCredit(context.Context, string, string, int) (bool, error) {
	return false, errors.New("db down")
}

func TestLedger_StoreErrors(t *testing.T) {
	l := NewLedger(brokenStore{}, 5)

	_, err := l.CanConsume(context.Background(), "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credits: usage p1")

	_, err = l.Consume(context.Background(), "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credits: consume p1")
}
