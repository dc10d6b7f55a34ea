package relevance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/search"
)

func acmeProject() *model.Project {
	return &model.Project{
		Name:        "Acme Billing",
		Keywords:    []string{"webhooks"},
		Competitors: []string{"Stripe"},
	}
}

func TestScore_EmptyTokenSetAcceptsAll(t *testing.T) {
	ts := NewTokenSet(&model.Project{})
	assert.Equal(t, 0, ts.Len())
	assert.Equal(t, 1, ts.Score(search.Result{Title: "anything"}))
	assert.Equal(t, 1, NewTokenSet(nil).Score(search.Result{}))
}

func TestScore_Webhooks(t *testing.T) {
	ts := NewTokenSet(acmeProject())
	got := ts.Score(search.Result{Title: "Docs", Snippet: "Configure webhooks for events", URL: "https://docs.example.com"})
	assert.Positive(t, got)
	// "webhooks" is eight characters long.
	assert.Equal(t, 2, got)
}

func TestScore_CompetitorBonus(t *testing.T) {
	ts := NewTokenSet(acmeProject())
	// "stripe" matches as a token (+2) and as a competitor (+2).
	assert.Equal(t, 4, ts.Score(search.Result{Title: "Stripe pricing"}))
	assert.Equal(t, 0, ts.Score(search.Result{Title: "Unrelated cooking blog"}))
}

func TestNewTokenSet_Lengths(t *testing.T) {
	ts := NewTokenSet(&model.Project{
		Name:        "AI/ML Hub",
		Description: "Fast, safe data-sync for teams",
		Segments:    []string{"Mid Market"},
	})
	_, hasHub := ts.tokens["hub"]
	_, hasAI := ts.tokens["ai"]
	_, hasFast := ts.tokens["fast"]
	_, hasFor := ts.tokens["for"]
	_, hasSync := ts.tokens["sync"]
	_, hasSegment := ts.tokens["mid market"]
	assert.True(t, hasHub)
	assert.False(t, hasAI)
	assert.True(t, hasFast)
	assert.False(t, hasFor)
	assert.True(t, hasSync)
	assert.True(t, hasSegment)
}

func TestSelect_DedupAcrossQueries(t *testing.T) {
	ts := NewTokenSet(acmeProject())
	seen := Seen{}

	first := ts.Select([]search.Result{
		{URL: "https://stripe.com/pricing?ref=1", Title: "Stripe pricing"},
		{URL: "https://stripe.com/pricing#plans", Title: "Stripe pricing again"},
		{URL: "https://cooking.com", Title: "Recipes"},
	}, seen)
	require.Len(t, first, 1)
	assert.Equal(t, "https://stripe.com/pricing?ref=1", first[0].URL)

	second := ts.Select([]search.Result{
		{URL: "https://stripe.com/pricing", Title: "Stripe pricing"},
		{URL: "https://acme.com/webhooks", Title: "Acme webhooks"},
	}, seen)
	require.Len(t, second, 1)
	assert.Equal(t, "https://acme.com/webhooks", second[0].URL)
}

func TestSelect_FallbackFirstThree(t *testing.T) {
	ts := NewTokenSet(acmeProject())
	results := []search.Result{
		{URL: "https://a.com", Title: "one"},
		{URL: "https://b.com", Title: "two"},
		{URL: "https://c.com", Title: "three"},
		{URL: "https://d.com", Title: "four"},
	}
	got := ts.Select(results, Seen{})
	require.Len(t, got, 3)
	assert.Equal(t, "https://c.com", got[2].URL)

	assert.Empty(t, ts.Select(nil, Seen{}))
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://acme.com/pricing?utm=x#top", "https://acme.com/pricing"},
		{"http://Acme.com", "http://Acme.com"},
		{"not a url", "not a url"},
		{"%zz", "%zz"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeURL(tt.in), tt.in)
	}
}

func TestSelect_SkipsHostlessURLs(t *testing.T) {
	ts := NewTokenSet(acmeProject())
	results := []search.Result{
		{URL: "", Title: "Stripe pricing"},
		{URL: "/pricing", Title: "Stripe pricing"},
		{URL: "not a url", Title: "Stripe webhooks"},
		{URL: "https://stripe.com/pricing", Title: "Stripe pricing"},
	}
	seen := Seen{}
	got := ts.Select(results, seen)
	require.Len(t, got, 1)
	assert.Equal(t, "https://stripe.com/pricing", got[0].URL)
	assert.NotContains(t, seen, "")
	assert.Len(t, seen, 1)
}

func TestSelect_FallbackIgnoresHostlessURLs(t *testing.T) {
	ts := NewTokenSet(acmeProject())
	results := []search.Result{
		{URL: "", Title: "Unrelated"},
		{URL: "mailto:", Title: "Unrelated"},
		{URL: "https://a.com", Title: "Unrelated"},
	}
	got := ts.Select(results, Seen{})
	require.Len(t, got, 1)
	assert.Equal(t, "https://a.com", got[0].URL)
}

func TestHasHost(t *testing.T) {
	assert.True(t, HasHost("https://acme.com/pricing"))
	assert.True(t, HasHost("  http://acme.com "))
	assert.False(t, HasHost(""))
	assert.False(t, HasHost("/pricing"))
	assert.False(t, HasHost("%zz"))
}
