package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintarchive/provenance-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testArtifact(id string) model.Artifact {
	return model.Artifact{
		Platform:   "opensea",
		ExternalID: id,
		Title:      "Dusk #" + id,
		SourceURL:  "https://opensea.io/assets/0xabc/" + id,
		MediaURLs:  []string{"ipfs://QmX/" + id + ".png"},
		Attributes: map[string]string{"alt": "dusk"},
		ChainID:    1,
		Contract:   "0xabc",
		TokenID:    id,
		Confidence: 0.9,
	}
}

func TestSQLite_UpsertAndGetArtifact(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertArtifact(ctx, testArtifact("42")))

	got, err := st.GetArtifact(ctx, model.ArtifactKey{Platform: "opensea", ExternalID: "42"})
	require.NoError(t, err)
	assert.Equal(t, "Dusk #42", got.Title)
	assert.Equal(t, []string{"ipfs://QmX/42.png"}, got.MediaURLs)
	assert.Equal(t, map[string]string{"alt": "dusk"}, got.Attributes)
	assert.Equal(t, int64(1), got.ChainID)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
}

func TestSQLite_GetArtifact_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetArtifact(context.Background(), model.ArtifactKey{Platform: "opensea", ExternalID: "missing"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_UpsertArtifact_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := testArtifact("42")
	require.NoError(t, st.UpsertArtifact(ctx, a))

	// Re-running acquisition for the same key must not create a second row.
	a.Title = "Dusk #42 (revised)"
	a.Confidence = 0.95
	require.NoError(t, st.UpsertArtifact(ctx, a))

	n, err := st.CountArtifacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetArtifact(ctx, a.Key())
	require.NoError(t, err)
	assert.Equal(t, "Dusk #42 (revised)", got.Title)
	assert.InDelta(t, 0.95, got.Confidence, 1e-9)
}

func TestSQLite_UpsertArtifacts_Batch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	batch := []model.Artifact{testArtifact("1"), testArtifact("2"), testArtifact("3")}
	require.NoError(t, st.UpsertArtifacts(ctx, batch))

	n, err := st.CountArtifacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Overlapping batch updates in place instead of duplicating.
	batch[1].Title = "Dusk #2 (revised)"
	require.NoError(t, st.UpsertArtifacts(ctx, batch[:2]))

	n, err = st.CountArtifacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := st.GetArtifact(ctx, batch[1].Key())
	require.NoError(t, err)
	assert.Equal(t, "Dusk #2 (revised)", got.Title)
}

func TestSQLite_UpsertArtifacts_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	require.NoError(t, st.UpsertArtifacts(context.Background(), nil))
}

func TestSQLite_ArtifactExists(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ok, err := st.ArtifactExists(ctx, model.ArtifactKey{Platform: "opensea", ExternalID: "42"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.UpsertArtifact(ctx, testArtifact("42")))

	ok, err = st.ArtifactExists(ctx, model.ArtifactKey{Platform: "opensea", ExternalID: "42"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLite_CountArtifacts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, st.UpsertArtifact(ctx, testArtifact(id)))
	}

	n, err := st.CountArtifacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func testDecision(id string, status model.DecisionStatus, created time.Time) *model.Decision {
	d := &model.Decision{
		ID:     id,
		Target: model.Target{Raw: "https://foundation.app/@artist", Kind: model.TargetPlatformURL},
		Status: status,
		Attempted: []model.Attempt{
			{StrategyID: "foundation", Score: 0.92, ItemCount: 24, Elapsed: 800 * time.Millisecond},
		},
		Elapsed:   1500 * time.Millisecond,
		CreatedAt: created,
	}
	if status != model.StatusFailed {
		d.Winner = &model.Candidate{
			StrategyID: "foundation",
			Items:      []model.Artifact{testArtifact("42")},
		}
		d.Report = &model.Report{Score: 0.92, Valid: status == model.StatusAccepted}
	}
	return d
}

func TestSQLite_SaveAndGetDecision(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveDecision(ctx, testDecision("dec-1", model.StatusAccepted, created)))

	got, err := st.GetDecision(ctx, "dec-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, got.Status)
	assert.Equal(t, "https://foundation.app/@artist", got.Target.Raw)
	assert.Equal(t, model.TargetPlatformURL, got.Target.Kind)
	require.NotNil(t, got.Winner)
	assert.Equal(t, "foundation", got.Winner.StrategyID)
	require.Len(t, got.Winner.Items, 1)
	require.NotNil(t, got.Report)
	assert.True(t, got.Report.Valid)
	require.Len(t, got.Attempted, 1)
	assert.Equal(t, 24, got.Attempted[0].ItemCount)
	assert.Equal(t, 1500*time.Millisecond, got.Elapsed)
}

func TestSQLite_GetDecision_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetDecision(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_SaveDecision_FailedHasNoWinner(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveDecision(ctx, testDecision("dec-f", model.StatusFailed, created)))

	got, err := st.GetDecision(ctx, "dec-f")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Nil(t, got.Winner)
	assert.Nil(t, got.Report)
}

func TestSQLite_ListDecisions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveDecision(ctx, testDecision("dec-1", model.StatusAccepted, base)))
	require.NoError(t, st.SaveDecision(ctx, testDecision("dec-2", model.StatusBestEffort, base.Add(time.Minute))))
	require.NoError(t, st.SaveDecision(ctx, testDecision("dec-3", model.StatusFailed, base.Add(2*time.Minute))))

	all, err := st.ListDecisions(ctx, DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "dec-3", all[0].ID)
	assert.Equal(t, "dec-1", all[2].ID)

	accepted, err := st.ListDecisions(ctx, DecisionFilter{Status: model.StatusAccepted})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, "dec-1", accepted[0].ID)

	limited, err := st.ListDecisions(ctx, DecisionFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLite_CountDecisions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveDecision(ctx, testDecision("dec-1", model.StatusAccepted, base)))
	require.NoError(t, st.SaveDecision(ctx, testDecision("dec-2", model.StatusAccepted, base)))
	require.NoError(t, st.SaveDecision(ctx, testDecision("dec-3", model.StatusBestEffort, base)))

	counts, err := st.CountDecisions(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCounts{Accepted: 2, BestEffort: 1}, counts)
}

func TestSQLite_MigrateTwice(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}
