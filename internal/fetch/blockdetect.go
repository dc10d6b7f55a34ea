package fetch

import (
	"net/http"
	"strings"
)

// BlockType names why a competitor page came back unusable.
type BlockType string

const (
	BlockNone        BlockType = ""
	BlockCloudflare  BlockType = "cloudflare"
	BlockCaptcha     BlockType = "captcha"
	BlockBotWall     BlockType = "bot_wall"
	BlockRateLimited BlockType = "rate_limited"
	BlockLoginWall   BlockType = "login_wall"
	BlockJSShell     BlockType = "js_shell"
)

// Block is the verdict on one fetched page. Signal is the marker that
// matched, kept so a run log says what tripped the check.
type Block struct {
	Type   BlockType
	Signal string
}

// Blocked reports whether the page should be treated as a fetch failure.
func (b Block) Blocked() bool { return b.Type != BlockNone }

func (b Block) String() string {
	if b.Signal == "" {
		return string(b.Type)
	}
	return string(b.Type) + ": " + b.Signal
}

// shellMaxBytes bounds the bodies checked for shell and login signatures.
// Real pricing and feature pages are far larger.
const shellMaxBytes = 2000

const loginMaxBytes = 8000

// blockSignature matches when every marker appears in the lowercased body.
type blockSignature struct {
	typ     BlockType
	markers []string
}

// bodySignatures are checked in order; the first match wins.
var bodySignatures = []blockSignature{
	{BlockCloudflare, []string{"checking your browser"}},
	{BlockCloudflare, []string{"cf-browser-verification"}},
	{BlockCloudflare, []string{"cloudflare", "challenge"}},
	{BlockBotWall, []string{"geo.captcha-delivery.com"}},
	{BlockBotWall, []string{"px-captcha"}},
	{BlockBotWall, []string{"_incapsula_resource"}},
	{BlockBotWall, []string{"access denied", "reference #"}},
	{BlockCaptcha, []string{"g-recaptcha"}},
	{BlockCaptcha, []string{"h-captcha"}},
	{BlockCaptcha, []string{"complete the captcha"}},
	{BlockCaptcha, []string{"recaptcha to continue"}},
}

// shellSignatures only apply to tiny bodies: client-rendered pricing
// pages whose plans never reach the HTML.
var shellSignatures = []blockSignature{
	{BlockJSShell, []string{"<noscript", "javascript"}},
	{BlockJSShell, []string{`http-equiv="refresh"`}},
	{BlockJSShell, []string{`id="root"></div>`}},
	{BlockJSShell, []string{`id="__next"></div>`}},
	{BlockJSShell, []string{`id="app"></div>`}},
}

// DetectBlock checks a fetched page for anti-bot walls, rate limiting,
// sign-in gates and empty client-rendered shells.
func DetectBlock(resp *http.Response, body []byte) Block {
	if resp == nil {
		return Block{}
	}

	if b := headerBlock(resp); b.Blocked() {
		return b
	}

	lower := strings.ToLower(string(body))
	if b := matchSignatures(bodySignatures, lower); b.Blocked() {
		return b
	}

	if len(body) < loginMaxBytes && strings.Contains(lower, `type="password"`) &&
		(strings.Contains(lower, "sign in") || strings.Contains(lower, "log in")) {
		return Block{Type: BlockLoginWall, Signal: "password form"}
	}

	if len(body) < shellMaxBytes {
		return matchSignatures(shellSignatures, lower)
	}
	return Block{}
}

func headerBlock(resp *http.Response) Block {
	if resp.StatusCode == http.StatusTooManyRequests {
		signal := "HTTP 429"
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			signal += ", retry-after " + ra
		}
		return Block{Type: BlockRateLimited, Signal: signal}
	}

	if strings.EqualFold(resp.Header.Get("cf-mitigated"), "challenge") {
		return Block{Type: BlockCloudflare, Signal: "cf-mitigated header"}
	}
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusServiceUnavailable {
		return Block{}
	}
	switch {
	case resp.Header.Get("cf-ray") != "":
		return Block{Type: BlockCloudflare, Signal: "cf-ray header"}
	case strings.EqualFold(resp.Header.Get("server"), "cloudflare"):
		return Block{Type: BlockCloudflare, Signal: "server header"}
	case strings.HasPrefix(strings.ToLower(resp.Header.Get("server")), "akamaighost"):
		return Block{Type: BlockBotWall, Signal: "server header"}
	}
	return Block{}
}

func matchSignatures(sigs []blockSignature, lower string) Block {
	for _, sig := range sigs {
		if containsAll(lower, sig.markers) {
			return Block{Type: sig.typ, Signal: strings.Join(sig.markers, " + ")}
		}
	}
	return Block{}
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
