// Package model defines the core types shared across the acquisition engine.
package model

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// TargetKind classifies what an acquisition target points at.
type TargetKind string

const (
	// TargetChainAddress is a contract address on a configured chain.
	TargetChainAddress TargetKind = "chain-address"
	// TargetPlatformURL is a URL on a known marketplace platform.
	TargetPlatformURL TargetKind = "platform-url"
	// TargetGenericURL is any other URL.
	TargetGenericURL TargetKind = "generic-url"
)

// Target is one acquisition request. Resolved once, immutable thereafter.
type Target struct {
	Raw      string     `json:"raw"`
	Kind     TargetKind `json:"kind"`
	ChainID  int64      `json:"chain_id,omitempty"`
	Address  string     `json:"address,omitempty"`
	Platform string     `json:"platform,omitempty"`
	URL      string     `json:"url,omitempty"`
}

var addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// PlatformHint maps a URL host substring to a platform id.
type PlatformHint struct {
	HostContains string
	Platform     string
}

// ResolveTarget classifies a raw input string. Chain addresses may carry a
// "chain:" prefix (e.g. "1:0xabc..."); bare addresses default to chainID.
func ResolveTarget(raw string, defaultChainID int64, hints []PlatformHint) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, eris.New("model: empty target")
	}

	// chainID:0xaddress form.
	if idx := strings.Index(raw, ":0x"); idx > 0 && !strings.Contains(raw, "://") {
		chainID, ok := parseChainID(raw[:idx])
		addr := raw[idx+1:]
		if ok && addressRe.MatchString(addr) {
			return Target{
				Raw:     raw,
				Kind:    TargetChainAddress,
				ChainID: chainID,
				Address: strings.ToLower(addr),
			}, nil
		}
	}

	if addressRe.MatchString(raw) {
		return Target{
			Raw:     raw,
			Kind:    TargetChainAddress,
			ChainID: defaultChainID,
			Address: strings.ToLower(raw),
		}, nil
	}

	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		lower := strings.ToLower(raw)
		for _, h := range hints {
			if strings.Contains(lower, strings.ToLower(h.HostContains)) {
				return Target{
					Raw:      raw,
					Kind:     TargetPlatformURL,
					Platform: h.Platform,
					URL:      raw,
				}, nil
			}
		}
		return Target{Raw: raw, Kind: TargetGenericURL, URL: raw}, nil
	}

	return Target{}, eris.Errorf("model: unrecognized target %q", raw)
}

func parseChainID(s string) (int64, bool) {
	var id int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		id = id*10 + int64(r-'0')
	}
	if s == "" {
		return 0, false
	}
	return id, true
}
