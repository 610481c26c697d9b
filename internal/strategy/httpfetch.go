package strategy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/mintarchive/provenance-cli/internal/model"
)

var (
	imgTagRe = regexp.MustCompile(`(?i)<img[^>]+src=["']([^"']+)["'][^>]*>`)
	altRe    = regexp.MustCompile(`(?i)alt=["']([^"']*)["']`)
)

// HTTPFetch is the last-resort strategy: one plain GET, image references
// pulled out of the raw markup with no DOM, no scrolling, no filtering. It
// exists so a target behind a trivially static page still yields something.
type HTTPFetch struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetch creates an HTTPFetch strategy implementation.
func NewHTTPFetch(userAgent string) *HTTPFetch {
	return &HTTPFetch{
		client:    &http.Client{Timeout: 15 * time.Second},
		userAgent: userAgent,
	}
}

// Strategy builds the registry entry for the plain-HTTP strategy.
func (h *HTTPFetch) Strategy(priority int) Strategy {
	return Strategy{
		ID:       "httpfetch",
		Priority: priority,
		Match: func(t model.Target) bool {
			return t.Kind == model.TargetPlatformURL || t.Kind == model.TargetGenericURL
		},
		Execute: h.execute,
	}
}

func (h *HTTPFetch) execute(ctx context.Context, target model.Target) (*model.Candidate, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "httpfetch: create request")
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "httpfetch: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, eris.Wrap(err, "httpfetch: read body")
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("httpfetch: blocked (%s)", blockType)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("httpfetch: status %d", resp.StatusCode)
	}

	var notes []string
	ctype := resp.Header.Get("Content-Type")
	if ctype != "" && !strings.Contains(ctype, "html") {
		notes = append(notes, "wrong-content-type: endpoint served "+ctype)
	}

	base, err := url.Parse(target.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "httpfetch: parse base url %q", target.URL)
	}

	platform := target.Platform
	if platform == "" {
		platform = base.Hostname()
	}

	var items []model.Artifact
	for _, m := range imgTagRe.FindAllStringSubmatch(string(body), -1) {
		src := resolveRef(base, m[1])
		alt := ""
		if am := altRe.FindStringSubmatch(m[0]); len(am) > 1 {
			alt = am[1]
		}

		item := pageArtifact(target, pageItem{Src: src, Alt: alt, Title: alt})
		item.Platform = platform
		item.Confidence = 0.4
		items = append(items, item)
	}

	candidate := &model.Candidate{
		StrategyID: "httpfetch",
		Items:      items,
		Elapsed:    time.Since(start),
		Notes:      notes,
	}
	candidate.Dedup()
	return candidate, nil
}
