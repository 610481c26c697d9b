package monitoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintarchive/provenance-cli/internal/model"
	"github.com/mintarchive/provenance-cli/internal/providers"
	"github.com/mintarchive/provenance-cli/internal/store"
)

// mockStore implements store.Store for testing.
type mockStore struct {
	counts        store.StatusCounts
	artifactCount int
	countErr      error
}

func (m *mockStore) CountDecisions(context.Context) (store.StatusCounts, error) {
	return m.counts, m.countErr
}

func (m *mockStore) CountArtifacts(context.Context) (int, error) {
	return m.artifactCount, nil
}

// Unused store methods, present to satisfy the interface.
func (m *mockStore) UpsertArtifact(context.Context, model.Artifact) error    { return nil }
func (m *mockStore) UpsertArtifacts(context.Context, []model.Artifact) error { return nil }
func (m *mockStore) GetArtifact(context.Context, model.ArtifactKey) (*model.Artifact, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) ArtifactExists(context.Context, model.ArtifactKey) (bool, error) {
	return false, nil
}
func (m *mockStore) SaveDecision(context.Context, *model.Decision) error { return nil }
func (m *mockStore) GetDecision(context.Context, string) (*model.Decision, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) ListDecisions(context.Context, store.DecisionFilter) ([]model.Decision, error) {
	return nil, nil
}
func (m *mockStore) Migrate(context.Context) error { return nil }
func (m *mockStore) Close() error                  { return nil }

type mockSnapshotter struct {
	snaps []providers.Snapshot
}

func (m *mockSnapshotter) Snapshots() []providers.Snapshot { return m.snaps }

func TestCollector_Collect(t *testing.T) {
	st := &mockStore{
		counts:        store.StatusCounts{Accepted: 6, BestEffort: 2, Failed: 2},
		artifactCount: 120,
	}
	pool := &mockSnapshotter{snaps: []providers.Snapshot{
		{ID: "alchemy", ChainID: 1, State: providers.Healthy},
		{ID: "infura", ChainID: 1, State: providers.Degraded},
	}}

	snap, err := NewCollector(st, pool).Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, snap.DecisionsAccepted)
	assert.Equal(t, 2, snap.DecisionsBestEffort)
	assert.Equal(t, 2, snap.DecisionsFailed)
	assert.InDelta(t, 0.2, snap.FailRate, 1e-9)
	assert.Equal(t, 120, snap.ArtifactTotal)
	assert.Equal(t, 1, snap.ProvidersDegraded)
	assert.Len(t, snap.Providers, 2)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_NilPool(t *testing.T) {
	st := &mockStore{counts: store.StatusCounts{Accepted: 1}}

	snap, err := NewCollector(st, nil).Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Providers)
	assert.Zero(t, snap.ProvidersDegraded)
}

func TestCollector_EmptyStore(t *testing.T) {
	snap, err := NewCollector(&mockStore{}, nil).Collect(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.FailRate)
	assert.Zero(t, snap.DecisionsAccepted)
}
