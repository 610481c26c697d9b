package strategy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mintarchive/provenance-cli/internal/config"
	"github.com/mintarchive/provenance-cli/internal/model"
)

// ItemFilter applies platform-specific inclusion and exclusion rules to
// extracted items: CDN URL-substring allow/deny lists, a minimum media size
// to exclude icons, and alt-text heuristics to exclude avatar imagery.
type ItemFilter struct {
	cfg config.FilterConfig
}

// NewItemFilter creates an ItemFilter from configuration.
func NewItemFilter(cfg config.FilterConfig) *ItemFilter {
	return &ItemFilter{cfg: cfg}
}

// Apply filters items in place, returning the surviving items plus one note
// per exclusion category that fired. Items whose media size is unknown pass
// the size check: the filter excludes known icons, it does not demand proof.
func (f *ItemFilter) Apply(items []model.Artifact) ([]model.Artifact, []string) {
	if f == nil {
		return items, nil
	}

	kept := make([]model.Artifact, 0, len(items))
	dropped := map[string]int{}

	for _, item := range items {
		switch {
		case !f.allowed(item):
			dropped["filtered-cdn"]++
		case f.denied(item):
			dropped["filtered-cdn"]++
		case f.tooSmall(item):
			dropped["filtered-size"]++
		case f.excludedAlt(item):
			dropped["filtered-alt"]++
		default:
			kept = append(kept, item)
		}
	}

	notes := make([]string, 0, len(dropped))
	for _, code := range []string{"filtered-cdn", "filtered-size", "filtered-alt"} {
		if n := dropped[code]; n > 0 {
			notes = append(notes, fmt.Sprintf("%s: %d items excluded", code, n))
		}
	}
	return kept, notes
}

// allowed requires at least one media URL matching the allow list when an
// allow list is configured.
func (f *ItemFilter) allowed(item model.Artifact) bool {
	if len(f.cfg.AllowSubstrings) == 0 {
		return true
	}
	for _, u := range item.MediaURLs {
		for _, sub := range f.cfg.AllowSubstrings {
			if strings.Contains(u, sub) {
				return true
			}
		}
	}
	return false
}

func (f *ItemFilter) denied(item model.Artifact) bool {
	for _, u := range item.MediaURLs {
		for _, sub := range f.cfg.DenySubstrings {
			if strings.Contains(u, sub) {
				return true
			}
		}
	}
	return false
}

func (f *ItemFilter) tooSmall(item model.Artifact) bool {
	if f.cfg.MinMediaBytes <= 0 {
		return false
	}
	raw, ok := item.Attributes["media_bytes"]
	if !ok {
		return false
	}
	size, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	return size < f.cfg.MinMediaBytes
}

func (f *ItemFilter) excludedAlt(item model.Artifact) bool {
	if len(f.cfg.ExcludeAltWords) == 0 {
		return false
	}
	alt := strings.ToLower(item.Attributes["alt"] + " " + item.Title)
	for _, w := range f.cfg.ExcludeAltWords {
		if strings.Contains(alt, strings.ToLower(w)) {
			return true
		}
	}
	return false
}
