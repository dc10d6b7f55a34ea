package fetch

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// Local fetches pages directly over HTTP.
type Local struct {
	cfg    Config
	client *http.Client
}

// NewLocal creates a Local fetcher. A nil client gets one with the
// configured timeout.
func NewLocal(cfg Config, hc *http.Client) *Local {
	cfg = cfg.withDefaults()
	if hc == nil {
		hc = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: cfg.Timeout / 2}).DialContext,
				TLSHandshakeTimeout: cfg.Timeout / 2,
			},
		}
	}
	return &Local{cfg: cfg, client: hc}
}

// Name implements Fetcher.
func (l *Local) Name() string { return "local_http" }

// Fetch GETs targetURL within the configured timeout and returns normalized
// text. Non-2xx statuses and bot-block pages are errors.
func (l *Local) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", l.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.cfg.MaxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "local_http: read body")
	}

	if b := DetectBlock(resp, body); b.Blocked() {
		return nil, eris.Errorf("local_http: blocked (%s)", b)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, eris.Errorf("local_http: HTTP %d", resp.StatusCode)
	}

	r, err := decodeBody(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, err
	}

	var title, text string
	if isHTML(resp.Header.Get("Content-Type"), body) {
		title, text, err = HTMLToText(r, l.cfg.MaxChars)
		if err != nil {
			return nil, err
		}
	} else {
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, eris.Wrap(err, "local_http: decode body")
		}
		text = Truncate(CleanText(string(raw)), l.cfg.MaxChars)
	}

	return &Page{
		URL:        targetURL,
		Title:      title,
		Text:       text,
		StatusCode: resp.StatusCode,
		Source:     l.Name(),
	}, nil
}

// decodeBody wraps body in a UTF-8 decoder when the Content-Type names
// another charset.
func decodeBody(contentType string, body []byte) (io.Reader, error) {
	r := io.Reader(bytes.NewReader(body))
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return r, nil
	}
	charset := strings.ToLower(strings.TrimSpace(params["charset"]))
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return r, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "local_http: unsupported charset %q", charset)
	}
	return enc.NewDecoder().Reader(r), nil
}

func isHTML(contentType string, body []byte) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt == "text/html" || mt == "application/xhtml+xml"
	}
	head := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}
