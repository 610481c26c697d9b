// Package gateway fetches content-addressed resources through an ordered
// list of public gateway templates.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mintarchive/provenance-cli/internal/config"
)

// TokenMetadata is the conventional token metadata JSON document.
type TokenMetadata struct {
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Image        string           `json:"image"`
	AnimationURL string           `json:"animation_url,omitempty"`
	ExternalURL  string           `json:"external_url,omitempty"`
	Attributes   []TokenAttribute `json:"attributes,omitempty"`
}

// TokenAttribute is one trait in a metadata document.
type TokenAttribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

var cidRe = regexp.MustCompile(`^(Qm[1-9A-HJ-NP-Za-km-z]{44}|baf[a-z2-7]{30,})(/.*)?$`)

// Fetcher retries an ordered gateway list until one answers.
type Fetcher struct {
	templates []string
	maxBytes  int64
	client    *http.Client
}

// NewFetcher creates a Fetcher from configuration.
func NewFetcher(cfg config.GatewayConfig) *Fetcher {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return &Fetcher{
		templates: cfg.Templates,
		maxBytes:  maxBytes,
		client:    &http.Client{Timeout: timeout},
	}
}

// Candidates expands a metadata URI into the concrete URLs to try, in order.
// ipfs:// URIs and bare CIDs fan out across the gateway templates; plain
// http(s) URLs pass through unchanged.
func (f *Fetcher) Candidates(uri string) []string {
	uri = strings.TrimSpace(uri)

	var cidPath string
	switch {
	case strings.HasPrefix(uri, "ipfs://"):
		cidPath = strings.TrimPrefix(uri, "ipfs://")
		cidPath = strings.TrimPrefix(cidPath, "ipfs/")
	case cidRe.MatchString(uri):
		cidPath = uri
	case strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://"):
		return []string{uri}
	default:
		return nil
	}

	urls := make([]string, 0, len(f.templates))
	for _, tmpl := range f.templates {
		urls = append(urls, strings.ReplaceAll(tmpl, "{cid}", cidPath))
	}
	return urls
}

// Fetch retrieves a resource, trying each candidate URL in sequence until one
// returns 2xx with a content type matching wantType (prefix match; empty
// accepts anything). Returns the body and the final content type.
func (f *Fetcher) Fetch(ctx context.Context, uri, wantType string) ([]byte, string, error) {
	candidates := f.Candidates(uri)
	if len(candidates) == 0 {
		return nil, "", eris.Errorf("gateway: unresolvable uri %q", uri)
	}

	var lastErr error
	for _, u := range candidates {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		body, ctype, err := f.fetchOne(ctx, u, wantType)
		if err == nil {
			return body, ctype, nil
		}
		lastErr = err
		zap.L().Debug("gateway: candidate failed",
			zap.String("url", u),
			zap.Error(err),
		)
	}
	return nil, "", eris.Wrap(lastErr, "gateway: all gateways failed")
}

func (f *Fetcher) fetchOne(ctx context.Context, url, wantType string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", eris.Wrap(err, "gateway: create request")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", eris.Wrap(err, "gateway: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", eris.Errorf("gateway: status %d", resp.StatusCode)
	}

	ctype := resp.Header.Get("Content-Type")
	if wantType != "" && !strings.HasPrefix(ctype, wantType) {
		return nil, "", eris.Errorf("gateway: content type %q, want %q", ctype, wantType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, "", eris.Wrap(err, "gateway: read body")
	}
	return body, ctype, nil
}

// FetchMetadata retrieves and parses a token metadata document. Gateways
// serve metadata JSON under a few content types, so the type check is
// deferred to the JSON parse itself.
func (f *Fetcher) FetchMetadata(ctx context.Context, uri string) (*TokenMetadata, error) {
	body, _, err := f.Fetch(ctx, uri, "")
	if err != nil {
		return nil, err
	}

	var md TokenMetadata
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, eris.Wrapf(err, "gateway: parse metadata from %q", uri)
	}
	return &md, nil
}

// AttributeMap flattens metadata attributes into a string map.
func (m *TokenMetadata) AttributeMap() map[string]string {
	if len(m.Attributes) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(m.Attributes))
	for _, a := range m.Attributes {
		if a.TraitType == "" {
			continue
		}
		switch v := a.Value.(type) {
		case string:
			attrs[a.TraitType] = v
		case float64:
			attrs[a.TraitType] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			continue
		}
	}
	return attrs
}
