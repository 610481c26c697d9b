package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mintarchive/provenance-cli/internal/config"
	"github.com/mintarchive/provenance-cli/internal/model"
)

func TestBrowserStrategy_Match(t *testing.T) {
	b := NewBrowser(config.ScrapeConfig{})
	s := b.Strategy(config.StrategyConfig{ID: "platform-showcase", Platform: "showcase", Priority: 10})

	assert.True(t, s.Match(model.Target{Kind: model.TargetPlatformURL, Platform: "showcase"}))
	assert.False(t, s.Match(model.Target{Kind: model.TargetPlatformURL, Platform: "otherhub"}))
	assert.False(t, s.Match(model.Target{Kind: model.TargetGenericURL}))
	assert.False(t, s.Match(model.Target{Kind: model.TargetChainAddress}))
}

func TestScrollTasks_BoundedLoop(t *testing.T) {
	b := NewBrowser(config.ScrapeConfig{MaxScrolls: 3, ScrollDelayMs: 100})
	assert.Len(t, b.scrollTasks(), 6)

	// Zero config falls back to the default cap rather than scrolling forever.
	b = NewBrowser(config.ScrapeConfig{})
	assert.Len(t, b.scrollTasks(), 16)
}

func TestExternalID_Precedence(t *testing.T) {
	assert.Equal(t, "alpha",
		externalID(pageItem{Href: "https://x.example/piece/alpha", Src: "https://cdn.example/a.png"}))
	assert.Equal(t, "a.png",
		externalID(pageItem{Src: "https://cdn.example/a.png"}))

	// No usable path at all: stable hash of the source URL.
	id := externalID(pageItem{Src: "data:image/png;base64,AAAA"})
	assert.Len(t, id, 12)
	assert.Equal(t, id, externalID(pageItem{Src: "data:image/png;base64,AAAA"}))
}
