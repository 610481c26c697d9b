package strategy

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of anti-bot block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// Body markers checked case-insensitively, in order. First hit wins.
var blockMarkers = []struct {
	marker string
	typ    BlockType
}{
	{"checking your browser", BlockCloudflare},
	{"cf-browser-verification", BlockCloudflare},
	{"hcaptcha", BlockCaptcha},
	{"recaptcha", BlockCaptcha},
	{"captcha", BlockCaptcha},
}

// DetectBlock inspects a gallery page response for anti-bot protection.
// A JS-shell verdict is soft: the browser strategy can still render the
// page, so only the plain-HTTP strategies treat it as a failure.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	if cloudflareHeaders(resp) {
		return true, BlockCloudflare
	}

	lower := strings.ToLower(string(body))
	for _, m := range blockMarkers {
		if strings.Contains(lower, m.marker) {
			return true, m.typ
		}
	}
	if strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return true, BlockCloudflare
	}

	// A tiny body that tells non-JS clients to enable JavaScript is the
	// hydration shell of a lazy-loading gallery, not the gallery.
	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(lower, `meta http-equiv="refresh"`) {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}

func cloudflareHeaders(resp *http.Response) bool {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusServiceUnavailable {
		return false
	}
	return resp.Header.Get("cf-ray") != "" ||
		resp.Header.Get("cf-cache-status") != "" ||
		resp.Header.Get("server") == "cloudflare"
}
