package strategy

import (
	"github.com/mintarchive/provenance-cli/internal/config"
	"github.com/mintarchive/provenance-cli/internal/model"
)

// Fallback priorities. Platform strategies from configuration should sit
// below these so they are tried first.
const (
	PriorityGeneric   = 50
	PriorityHTTPFetch = 100
)

// Build assembles the full registry from configuration: one browser-backed
// strategy per configured platform, then the generic DOM strategy, then the
// plain-HTTP fetch. Adding a platform is a configuration change, not an
// orchestrator change.
func Build(strategies []config.StrategyConfig, scrape config.ScrapeConfig) *Registry {
	r := NewRegistry()

	browser := NewBrowser(scrape)
	for _, sc := range strategies {
		r.Register(browser.Strategy(sc))
	}

	r.Register(NewGeneric(scrape.UserAgent).Strategy(PriorityGeneric))
	r.Register(NewHTTPFetch(scrape.UserAgent).Strategy(PriorityHTTPFetch))
	return r
}

// Hints derives target-resolution hints from the strategy table, so a URL
// whose host matches a configured platform resolves as a platform target.
func Hints(strategies []config.StrategyConfig) []model.PlatformHint {
	hints := make([]model.PlatformHint, 0, len(strategies))
	for _, sc := range strategies {
		if sc.HostContains == "" || sc.Platform == "" {
			continue
		}
		hints = append(hints, model.PlatformHint{
			Platform:     sc.Platform,
			HostContains: sc.HostContains,
		})
	}
	return hints
}
