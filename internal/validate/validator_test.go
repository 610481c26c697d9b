package validate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintarchive/provenance-cli/internal/config"
	"github.com/mintarchive/provenance-cli/internal/model"
)

// item builds a gallery artifact. titled controls metadata completeness,
// media controls whether a fetchable media reference is present.
func item(n int, titled, media bool) model.Artifact {
	a := model.Artifact{
		ExternalID: fmt.Sprintf("piece-%d", n),
		Platform:   "showcase",
		Confidence: 0.8,
	}
	if titled {
		a.Title = fmt.Sprintf("Piece #%d", n)
		a.SourceURL = fmt.Sprintf("https://showcase.example/p/%d", n)
	}
	if media {
		a.MediaURLs = []string{fmt.Sprintf("https://cdn.showcase.example/full/%d.png", n)}
	}
	return a
}

func candidate(strategyID string, items []model.Artifact, notes ...string) *model.Candidate {
	return &model.Candidate{StrategyID: strategyID, Items: items, Notes: notes}
}

func TestValidate_CleanPlatformResultScoresHigh(t *testing.T) {
	// 24 items, 22 titled, all with media, zero contamination.
	items := make([]model.Artifact, 0, 24)
	for i := 0; i < 24; i++ {
		items = append(items, item(i, i < 22, true))
	}

	v := New(DefaultConfig())
	report := v.Validate(candidate("platform-showcase", items))

	assert.GreaterOrEqual(t, report.Score, 0.9)
	assert.True(t, report.Valid)
	assert.Equal(t, 24, report.Metrics.ItemCount)
	assert.InDelta(t, 22.0/24.0, report.Metrics.MetadataCompleteness, 0.001)
	assert.Zero(t, report.Metrics.ContaminationCount)
}

func TestValidate_GenericResultLandsMidRange(t *testing.T) {
	// A generic scrape: 12 items, half titled, only 2 with usable media.
	items := make([]model.Artifact, 0, 12)
	for i := 0; i < 12; i++ {
		items = append(items, item(i, i < 6, i < 2))
	}

	v := New(DefaultConfig())
	report := v.Validate(candidate("generic-dom", items))

	assert.InDelta(t, 0.55, report.Score, 0.03)
	assert.False(t, report.Valid)
	assert.True(t, report.HasIssue(IssueMissingTitles))
}

func TestValidate_SparseHTTPFallbackScoresLower(t *testing.T) {
	// 8 items, half titled, no media references at all.
	items := make([]model.Artifact, 0, 8)
	for i := 0; i < 8; i++ {
		items = append(items, item(i, i < 4, false))
	}

	v := New(DefaultConfig())
	report := v.Validate(candidate("httpfetch", items))

	assert.InDelta(t, 0.45, report.Score, 0.03)
	assert.False(t, report.Valid)
	assert.True(t, report.HasIssue(IssueLowItemCount))
}

func TestValidate_EmptyCandidate(t *testing.T) {
	v := New(DefaultConfig())
	report := v.Validate(candidate("platform-showcase", nil))

	assert.Zero(t, report.Score)
	assert.False(t, report.Valid)
	assert.True(t, report.HasIssue(IssueEmptyCandidate))
}

func TestValidate_ContaminationPenalty(t *testing.T) {
	items := make([]model.Artifact, 0, 10)
	for i := 0; i < 10; i++ {
		items = append(items, item(i, true, true))
	}
	clean := New(DefaultConfig()).Validate(candidate("platform-showcase", items))

	// Swap two items for profile imagery that slipped past the filters.
	items[8].MediaURLs = []string{"https://cdn.showcase.example/avatar/u91.png"}
	items[9].Title = "Profile picture"

	dirty := New(DefaultConfig()).Validate(candidate("platform-showcase", items))

	assert.Less(t, dirty.Score, clean.Score)
	assert.Equal(t, 2, dirty.Metrics.ContaminationCount)
	assert.True(t, dirty.HasIssue(IssueContamination))
}

func TestValidate_HardFailCodeOverridesScore(t *testing.T) {
	items := make([]model.Artifact, 0, 20)
	for i := 0; i < 20; i++ {
		items = append(items, item(i, true, true))
	}

	v := New(DefaultConfig())
	report := v.Validate(candidate("httpfetch", items,
		"wrong-content-type: endpoint served text/html instead of media"))

	assert.GreaterOrEqual(t, report.Score, 0.9)
	assert.False(t, report.Valid)
	assert.True(t, report.HasIssue(IssueWrongContentType))
}

func TestValidate_Deterministic(t *testing.T) {
	items := make([]model.Artifact, 0, 15)
	for i := 0; i < 15; i++ {
		items = append(items, item(i, i%3 != 0, i%2 == 0))
	}
	c := candidate("platform-showcase", items, "note: partial scroll")

	v := New(DefaultConfig())
	first := v.Validate(c)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, v.Validate(c))
	}
}

func TestValidateConfig(t *testing.T) {
	require.NoError(t, ValidateConfig(DefaultConfig()))

	bad := DefaultConfig()
	bad.MediaWeight = -1
	require.Error(t, ValidateConfig(bad))

	bad = DefaultConfig()
	bad.ExpectedMinItems = 0
	require.Error(t, ValidateConfig(bad))

	bad = DefaultConfig()
	bad.AcceptThreshold = 1.5
	require.Error(t, ValidateConfig(bad))

	bad = config.ValidatorConfig{ExpectedMinItems: 10, AcceptThreshold: 0.7}
	require.Error(t, ValidateConfig(bad), "zero weights have no signal")
}
