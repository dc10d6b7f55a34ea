package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/pkg/jina"
)

const samplePage = `<!doctype html>
<html><head><title>  Acme   Pricing </title><style>.x{color:red}</style>
<script>var tracking = "nope";</script></head>
<body>
<header>Acme</header>
<h1>Plans</h1>
<p>Starter   $10/mo</p>
<div>Pro	$49/mo</div>
<noscript>Enable JavaScript</noscript>
<ul><li>SSO</li><li>Audit logs</li></ul>
<br><br><br><br>
<footer>© Acme</footer>
</body></html>`

func TestHTMLToText(t *testing.T) {
	title, text, err := HTMLToText(strings.NewReader(samplePage), 0)
	require.NoError(t, err)

	assert.Equal(t, "Acme Pricing", title)
	assert.NotContains(t, text, "tracking")
	assert.NotContains(t, text, "color:red")
	assert.NotContains(t, text, "Enable JavaScript")
	assert.Contains(t, text, "Starter $10/mo")
	assert.Contains(t, text, "Pro $49/mo")
	assert.Contains(t, text, "SSO\nAudit logs")
	assert.NotContains(t, text, "\n\n\n")
	assert.True(t, strings.HasPrefix(text, "Acme\n\nPlans"))
	assert.True(t, strings.HasSuffix(text, "© Acme"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "héllo", Truncate("héllo", 10))
	assert.Equal(t, "héllo", Truncate("héllo", 0))

	long := strings.Repeat("é", DefaultMaxChars+10)
	assert.Equal(t, DefaultMaxChars, utf8.RuneCountInString(Truncate(long, DefaultMaxChars)))
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "a b\n\nc", CleanText("  a \t  b \n\n\n\n  c  "))
}

func TestLocal_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	page, err := NewLocal(Config{}, srv.Client()).Fetch(context.Background(), srv.URL+"/pricing")
	require.NoError(t, err)
	assert.Equal(t, "Acme Pricing", page.Title)
	assert.Contains(t, page.Text, "Starter $10/mo")
	assert.Equal(t, "local_http", page.Source)
	assert.Equal(t, http.StatusOK, page.StatusCode)
}

func TestLocal_Fetch_Latin1(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		// "Café" with é as 0xE9.
		_, _ = w.Write([]byte("<html><head><title>Caf\xe9</title></head><body><p>Caf\xe9 pricing</p></body></html>"))
	}))
	defer srv.Close()

	page, err := NewLocal(Config{}, srv.Client()).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Café", page.Title)
	assert.Equal(t, "Café pricing", page.Text)
}

func TestLocal_Fetch_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("line one\n\n\n\nline   two"))
	}))
	defer srv.Close()

	page, err := NewLocal(Config{}, srv.Client()).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "line one\n\nline two", page.Text)
}

func TestLocal_Fetch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name:    "not found",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) },
			wantErr: "HTTP 404",
		},
		{
			name: "cloudflare",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("cf-ray", "abc")
				w.WriteHeader(http.StatusForbidden)
			},
			wantErr: "blocked (cloudflare: cf-ray header)",
		},
		{
			name: "captcha",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`<html><div class="g-recaptcha"></div></html>`))
			},
			wantErr: "blocked (captcha: g-recaptcha)",
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Retry-After", "30")
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantErr: "blocked (rate_limited: HTTP 429, retry-after 30)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewLocal(Config{}, srv.Client()).Fetch(context.Background(), srv.URL)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLocal_Fetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewLocal(Config{Timeout: 50 * time.Millisecond}, srv.Client()).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestLocal_Fetch_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("a", 4096)))
	}))
	defer srv.Close()

	page, err := NewLocal(Config{MaxBodyBytes: 100}, srv.Client()).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, page.Text, 100)
}

func TestDetectBlock(t *testing.T) {
	ok := func(h http.Header) *http.Response { return &http.Response{StatusCode: 200, Header: h} }
	pad := strings.Repeat("Compare plans and per-seat pricing. ", 250)

	tests := []struct {
		name   string
		resp   *http.Response
		body   string
		want   BlockType
		signal string
	}{
		{"nil", nil, "", BlockNone, ""},
		{"cf server 503", &http.Response{StatusCode: 503, Header: http.Header{"Server": {"cloudflare"}}}, "", BlockCloudflare, "server header"},
		{"cf-ray on 200 is fine", ok(http.Header{"Cf-Ray": {"abc"}}), "<html>Pricing</html>", BlockNone, ""},
		{"cf mitigated", ok(http.Header{"Cf-Mitigated": {"challenge"}}), "", BlockCloudflare, "cf-mitigated header"},
		{"challenge body", ok(http.Header{}), "Checking your browser before accessing", BlockCloudflare, "checking your browser"},
		{"akamai 403", &http.Response{StatusCode: 403, Header: http.Header{"Server": {"AkamaiGHost"}}}, "", BlockBotWall, "server header"},
		{"akamai body", ok(http.Header{}), "<h1>Access Denied</h1> Reference #18.2f", BlockBotWall, "access denied + reference #"},
		{"datadome", ok(http.Header{}), `<script src="https://geo.captcha-delivery.com/captcha/"></script>`, BlockBotWall, "geo.captcha-delivery.com"},
		{"captcha", ok(http.Header{}), `<div class="h-captcha"></div>`, BlockCaptcha, "h-captcha"},
		{"rate limited", &http.Response{StatusCode: 429, Header: http.Header{}}, "", BlockRateLimited, "HTTP 429"},
		{"login wall", ok(http.Header{}), `<form><h2>Sign in to see pricing</h2><input type="password"></form>`, BlockLoginWall, "password form"},
		{"login link on real page", ok(http.Header{}), pad + `<a>Log in</a><input type="password">` + pad, BlockNone, ""},
		{"js shell", ok(http.Header{}), "<noscript>Please enable JavaScript</noscript>", BlockJSShell, "<noscript + javascript"},
		{"spa root", ok(http.Header{}), `<html><body><div id="__next"></div></body></html>`, BlockJSShell, `id="__next"></div>`},
		{"large spa page", ok(http.Header{}), `<div id="root"></div>` + pad, BlockNone, ""},
		{"clean", ok(http.Header{}), "<html><body>Pricing plans for teams</body></html>", BlockNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := DetectBlock(tt.resp, []byte(tt.body))
			assert.Equal(t, tt.want, b.Type)
			assert.Equal(t, tt.want != BlockNone, b.Blocked())
			assert.Equal(t, tt.signal, b.Signal)
		})
	}
}

func TestBlock_String(t *testing.T) {
	assert.Equal(t, "captcha: g-recaptcha", Block{Type: BlockCaptcha, Signal: "g-recaptcha"}.String())
	assert.Equal(t, "js_shell", Block{Type: BlockJSShell}.String())
}

type stubFetcher struct {
	name  string
	err   error
	calls atomic.Int32
}

func (s *stubFetcher) Name() string { return s.name }

func (s *stubFetcher) Fetch(_ context.Context, u string) (*Page, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &Page{URL: u, Text: "ok from " + s.name, Source: s.name}, nil
}

func TestChain_FallsBack(t *testing.T) {
	primary := &stubFetcher{name: "local_http", err: errors.New("blocked")}
	secondary := &stubFetcher{name: "jina"}

	page, err := NewChain(primary, secondary).Fetch(context.Background(), "https://acme.com")
	require.NoError(t, err)
	assert.Equal(t, "jina", page.Source)
}

func TestChain_ReportsFirstError(t *testing.T) {
	c := NewChain(
		&stubFetcher{name: "local_http", err: errors.New("local: HTTP 403")},
		&stubFetcher{name: "jina", err: errors.New("jina: down")},
	)
	_, err := c.Fetch(context.Background(), "https://acme.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 403")

	_, err = NewChain().Fetch(context.Background(), "https://acme.com")
	require.Error(t, err)
}

func TestFetchAll_PreservesOrder(t *testing.T) {
	f := &stubFetcher{name: "s"}
	urls := []string{"https://a.com", "https://b.com", "https://c.com", "https://d.com"}

	out := FetchAll(context.Background(), f, urls, 2)
	require.Len(t, out, 4)
	for i, o := range out {
		assert.Equal(t, urls[i], o.URL)
		require.NoError(t, o.Err)
		assert.Equal(t, urls[i], o.Page.URL)
	}
	assert.Equal(t, int32(4), f.calls.Load())
}

func TestJina_Fetch(t *testing.T) {
	content := strings.Repeat("Acme Billing automates invoicing. ", 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":{"title":"Acme","url":"https://acme.com","content":"` + content + `"}}`))
	}))
	defer srv.Close()

	j := NewJina(jina.NewClient("k", jina.WithBaseURL(srv.URL)), 0)
	page, err := j.Fetch(context.Background(), "https://acme.com")
	require.NoError(t, err)
	assert.Equal(t, "Acme", page.Title)
	assert.Equal(t, "jina", page.Source)
}

func TestJina_UnusableContent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"code":200,"data":{"title":"","content":"Just a moment..."}}`))
	}))
	defer srv.Close()

	j := NewJina(jina.NewClient("k", jina.WithBaseURL(srv.URL)), 0)
	for range 4 {
		_, err := j.Fetch(context.Background(), "https://acme.com")
		require.Error(t, err)
	}
	// The breaker opens after three failures.
	assert.Equal(t, int32(3), calls.Load())
}
