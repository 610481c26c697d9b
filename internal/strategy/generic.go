package strategy

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/mintarchive/provenance-cli/internal/model"
)

// Generic extracts gallery items from static HTML using DOM queries. It has
// no platform knowledge, so it accepts any URL target and is expected to
// score lower than a platform strategy.
type Generic struct {
	client    *http.Client
	userAgent string
}

// NewGeneric creates a Generic strategy implementation.
func NewGeneric(userAgent string) *Generic {
	return &Generic{
		client: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		userAgent: userAgent,
	}
}

// Strategy builds the registry entry for the DOM strategy.
func (g *Generic) Strategy(priority int) Strategy {
	return Strategy{
		ID:       "generic-dom",
		Priority: priority,
		Match: func(t model.Target) bool {
			return t.Kind == model.TargetPlatformURL || t.Kind == model.TargetGenericURL
		},
		Execute: g.execute,
	}
}

func (g *Generic) execute(ctx context.Context, target model.Target) (*model.Candidate, error) {
	start := time.Now()

	body, err := g.fetch(ctx, target.URL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "generic-dom: parse html")
	}

	base, err := url.Parse(target.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "generic-dom: parse base url %q", target.URL)
	}

	platform := target.Platform
	if platform == "" {
		platform = base.Hostname()
	}

	var items []model.Artifact
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := firstAttr(s, "src", "data-src", "data-lazy-src")
		if src == "" {
			return
		}
		alt := s.AttrOr("alt", "")
		href := s.Closest("a").AttrOr("href", "")

		pi := pageItem{
			Src:   resolveRef(base, src),
			Alt:   alt,
			Href:  resolveRef(base, href),
			Title: firstNonEmpty(s.AttrOr("title", ""), alt),
		}
		item := pageArtifact(target, pi)
		item.Platform = platform
		item.Confidence = 0.6
		items = append(items, item)
	})

	candidate := &model.Candidate{
		StrategyID: "generic-dom",
		Items:      items,
		Elapsed:    time.Since(start),
	}
	candidate.Dedup()
	return candidate, nil
}

func (g *Generic) fetch(ctx context.Context, targetURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "generic-dom: create request")
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "generic-dom: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, eris.Wrap(err, "generic-dom: read body")
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("generic-dom: blocked (%s)", blockType)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("generic-dom: status %d", resp.StatusCode)
	}
	return body, nil
}

func firstAttr(s *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v, ok := s.Attr(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func resolveRef(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
