package model

import (
	"fmt"
	"strings"
	"time"
)

// ArtifactKey identifies one logical artifact across repeated acquisitions.
// Two items with the same key are the same artifact regardless of which
// strategy produced them.
type ArtifactKey struct {
	Platform   string `json:"platform"`
	ExternalID string `json:"external_id"`
}

func (k ArtifactKey) String() string {
	return k.Platform + "/" + k.ExternalID
}

// Artifact is a normalized record for one creative digital artifact.
type Artifact struct {
	ExternalID string            `json:"external_id"`
	Platform   string            `json:"platform"`
	Title      string            `json:"title,omitempty"`
	SourceURL  string            `json:"source_url,omitempty"`
	MediaURLs  []string          `json:"media_urls,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`

	// Chain provenance, set when the artifact came from on-chain data.
	ChainID  int64  `json:"chain_id,omitempty"`
	Contract string `json:"contract,omitempty"`
	TokenID  string `json:"token_id,omitempty"`
	TxHash   string `json:"tx_hash,omitempty"`

	Confidence float64 `json:"confidence"`
}

// Key returns the stable dedup key (platform, external id).
func (a Artifact) Key() ArtifactKey {
	return ArtifactKey{Platform: a.Platform, ExternalID: a.ExternalID}
}

// HasMedia reports whether the artifact carries at least one media reference.
func (a Artifact) HasMedia() bool {
	for _, u := range a.MediaURLs {
		if strings.TrimSpace(u) != "" {
			return true
		}
	}
	return false
}

// ChainExternalID builds the canonical external id for an on-chain token.
func ChainExternalID(contract, tokenID string) string {
	return fmt.Sprintf("%s:%s", strings.ToLower(contract), tokenID)
}

// Candidate is the output of one strategy attempt for one target.
type Candidate struct {
	StrategyID string        `json:"strategy_id"`
	Items      []Artifact    `json:"items"`
	Elapsed    time.Duration `json:"elapsed"`
	Notes      []string      `json:"notes,omitempty"`
}

// Dedup collapses items sharing an ArtifactKey, keeping the higher-confidence
// occurrence. Order of first occurrence is preserved.
func (c *Candidate) Dedup() {
	if len(c.Items) < 2 {
		return
	}
	seen := make(map[ArtifactKey]int, len(c.Items))
	out := c.Items[:0]
	for _, item := range c.Items {
		k := item.Key()
		if idx, ok := seen[k]; ok {
			if item.Confidence > out[idx].Confidence {
				out[idx] = item
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, item)
	}
	c.Items = out
}
