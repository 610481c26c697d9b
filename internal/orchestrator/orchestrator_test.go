package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintarchive/provenance-cli/internal/config"
	"github.com/mintarchive/provenance-cli/internal/model"
	"github.com/mintarchive/provenance-cli/internal/strategy"
	"github.com/mintarchive/provenance-cli/internal/validate"
)

func orchestratorConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		StrategyTimeoutSecs:  5,
		OverallTimeoutSecs:   30,
		EarlyAcceptThreshold: 0.9,
	}
}

// galleryItems builds n items of which titled carry full metadata and
// withMedia carry a fetchable media URL.
func galleryItems(n, titled, withMedia int) []model.Artifact {
	items := make([]model.Artifact, 0, n)
	for i := 0; i < n; i++ {
		a := model.Artifact{
			ExternalID: fmt.Sprintf("piece-%d", i),
			Platform:   "showcase",
			Confidence: 0.8,
		}
		if i < titled {
			a.Title = fmt.Sprintf("Piece #%d", i)
			a.SourceURL = fmt.Sprintf("https://showcase.example/p/%d", i)
		}
		if i < withMedia {
			a.MediaURLs = []string{fmt.Sprintf("https://cdn.showcase.example/full/%d.png", i)}
		}
		items = append(items, a)
	}
	return items
}

func fixedStrategy(id string, priority int, items []model.Artifact, calls *atomic.Int64) strategy.Strategy {
	return strategy.Strategy{
		ID:       id,
		Priority: priority,
		Match:    func(model.Target) bool { return true },
		Execute: func(context.Context, model.Target) (*model.Candidate, error) {
			if calls != nil {
				calls.Add(1)
			}
			return &model.Candidate{StrategyID: id, Items: items}, nil
		},
	}
}

func failingStrategy(id string, priority int) strategy.Strategy {
	return strategy.Strategy{
		ID:       id,
		Priority: priority,
		Match:    func(model.Target) bool { return true },
		Execute: func(context.Context, model.Target) (*model.Candidate, error) {
			return nil, errors.New(id + ": navigation failed")
		},
	}
}

type memStore struct {
	artifacts []model.Artifact
	decisions []*model.Decision
	known     map[model.ArtifactKey]bool
}

func (m *memStore) UpsertArtifacts(_ context.Context, artifacts []model.Artifact) error {
	m.artifacts = append(m.artifacts, artifacts...)
	return nil
}

func (m *memStore) ArtifactExists(_ context.Context, key model.ArtifactKey) (bool, error) {
	return m.known[key], nil
}

func (m *memStore) SaveDecision(_ context.Context, d *model.Decision) error {
	m.decisions = append(m.decisions, d)
	return nil
}

func newOrchestrator(r *strategy.Registry, opts ...Option) *Orchestrator {
	return New(r, validate.New(validate.DefaultConfig()), orchestratorConfig(), opts...)
}

var urlTarget = model.Target{
	Raw:      "https://showcase.example/u/gallery",
	Kind:     model.TargetPlatformURL,
	Platform: "showcase",
	URL:      "https://showcase.example/u/gallery",
}

func TestAcquire_EarlyAcceptSkipsFallbacks(t *testing.T) {
	var genericCalls atomic.Int64
	r := strategy.NewRegistry()
	r.Register(fixedStrategy("platform-showcase", 10, galleryItems(24, 22, 24), nil))
	r.Register(fixedStrategy("generic-dom", 50, galleryItems(12, 6, 12), &genericCalls))

	decision, err := newOrchestrator(r).Acquire(context.Background(), urlTarget)
	require.NoError(t, err)

	assert.Equal(t, model.StatusAccepted, decision.Status)
	assert.Equal(t, "platform-showcase", decision.Winner.StrategyID)
	assert.GreaterOrEqual(t, decision.Report.Score, 0.9)

	// The fallback was never invoked.
	assert.Zero(t, genericCalls.Load())
	require.Len(t, decision.Attempted, 1)
}

func TestAcquire_BestEffortKeepsHighestScore(t *testing.T) {
	// Generic returns 12 items scoring mid-range; the HTTP fallback returns
	// 8 sparser items scoring lower. Neither clears the accept threshold.
	r := strategy.NewRegistry()
	r.Register(fixedStrategy("generic-dom", 50, galleryItems(12, 6, 2), nil))
	r.Register(fixedStrategy("httpfetch", 100, galleryItems(8, 4, 0), nil))

	decision, err := newOrchestrator(r).Acquire(context.Background(), urlTarget)
	require.NoError(t, err)

	assert.Equal(t, model.StatusBestEffort, decision.Status)
	assert.Equal(t, "generic-dom", decision.Winner.StrategyID)
	assert.Len(t, decision.Winner.Items, 12)
	require.Len(t, decision.Attempted, 2)

	// Winner score is >= every attempted score.
	for _, a := range decision.Attempted {
		assert.GreaterOrEqual(t, decision.Report.Score, a.Score)
	}
}

func TestAcquire_AllStrategiesFail(t *testing.T) {
	r := strategy.NewRegistry()
	r.Register(failingStrategy("platform-showcase", 10))
	r.Register(failingStrategy("generic-dom", 50))

	store := &memStore{}
	decision, err := newOrchestrator(r, WithStore(store)).Acquire(context.Background(), urlTarget)

	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, model.StatusFailed, decision.Status)
	assert.Nil(t, decision.Winner)
	require.Len(t, decision.Attempted, 2)
	assert.Contains(t, decision.Attempted[0].Err, "navigation failed")

	// Failed decisions are still recorded; no artifacts are.
	assert.Len(t, store.decisions, 1)
	assert.Empty(t, store.artifacts)
}

func TestAcquire_FailedStrategyFallsThrough(t *testing.T) {
	r := strategy.NewRegistry()
	r.Register(failingStrategy("platform-showcase", 10))
	r.Register(fixedStrategy("generic-dom", 50, galleryItems(24, 24, 24), nil))

	decision, err := newOrchestrator(r).Acquire(context.Background(), urlTarget)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, decision.Status)
	assert.Equal(t, "generic-dom", decision.Winner.StrategyID)
	require.Len(t, decision.Attempted, 2)
	assert.NotEmpty(t, decision.Attempted[0].Err)
}

func TestAcquire_CommitsWinnerToStore(t *testing.T) {
	r := strategy.NewRegistry()
	r.Register(fixedStrategy("platform-showcase", 10, galleryItems(24, 24, 24), nil))

	store := &memStore{}
	decision, err := newOrchestrator(r, WithStore(store)).Acquire(context.Background(), urlTarget)
	require.NoError(t, err)

	assert.Len(t, store.artifacts, 24)
	require.Len(t, store.decisions, 1)
	assert.Equal(t, decision.ID, store.decisions[0].ID)
	assert.NotEmpty(t, decision.ID)
}

func TestNew_SkipKnownWiresChainPath(t *testing.T) {
	cs := NewChainStrategy(nil, nil, nil, config.ScanConfig{})
	store := &memStore{known: map[model.ArtifactKey]bool{
		{Platform: "chain-1", ExternalID: "0xabc:1"}: true,
	}}

	newOrchestrator(strategy.NewRegistry(),
		WithStore(store), WithChainStrategy(cs), WithSkipKnown(true))
	require.NotNil(t, cs.known)

	exists, err := cs.known(context.Background(), model.ArtifactKey{Platform: "chain-1", ExternalID: "0xabc:1"})
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestNew_SkipKnownDisabledByDefault(t *testing.T) {
	cs := NewChainStrategy(nil, nil, nil, config.ScanConfig{})
	newOrchestrator(strategy.NewRegistry(), WithStore(&memStore{}), WithChainStrategy(cs))
	assert.Nil(t, cs.known)
}

func TestAcquire_Deterministic(t *testing.T) {
	r := strategy.NewRegistry()
	r.Register(fixedStrategy("generic-dom", 50, galleryItems(12, 6, 2), nil))
	r.Register(fixedStrategy("httpfetch", 100, galleryItems(8, 4, 0), nil))

	o := newOrchestrator(r)
	first, err := o.Acquire(context.Background(), urlTarget)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		next, err := o.Acquire(context.Background(), urlTarget)
		require.NoError(t, err)
		assert.Equal(t, first.Status, next.Status)
		assert.Equal(t, first.Winner.StrategyID, next.Winner.StrategyID)
		assert.Equal(t, first.Report.Score, next.Report.Score)
	}
}

func TestAcquire_TieKeepsEarlierStrategy(t *testing.T) {
	items := galleryItems(12, 6, 2)
	r := strategy.NewRegistry()
	r.Register(fixedStrategy("generic-dom", 50, items, nil))
	r.Register(fixedStrategy("httpfetch", 100, items, nil))

	decision, err := newOrchestrator(r).Acquire(context.Background(), urlTarget)
	require.NoError(t, err)
	assert.Equal(t, "generic-dom", decision.Winner.StrategyID)
}

func TestAcquire_OverallDeadlineStopsRun(t *testing.T) {
	slow := strategy.Strategy{
		ID:       "slow",
		Priority: 10,
		Match:    func(model.Target) bool { return true },
		Execute: func(ctx context.Context, _ model.Target) (*model.Candidate, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	var laterCalls atomic.Int64

	r := strategy.NewRegistry()
	r.Register(slow)
	r.Register(fixedStrategy("later", 50, galleryItems(24, 24, 24), &laterCalls))

	cfg := orchestratorConfig()
	cfg.OverallTimeoutSecs = 0
	cfg.StrategyTimeoutSecs = 0
	o := New(r, validate.New(validate.DefaultConfig()), cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := o.Acquire(ctx, urlTarget)
	require.ErrorIs(t, err, ErrExhausted)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, laterCalls.Load())
}

// deadlineStore rejects writes arriving on an expired context, the way a
// real database driver would.
type deadlineStore struct {
	memStore
}

func (s *deadlineStore) UpsertArtifacts(ctx context.Context, artifacts []model.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.memStore.UpsertArtifacts(ctx, artifacts)
}

func (s *deadlineStore) SaveDecision(ctx context.Context, d *model.Decision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.memStore.SaveDecision(ctx, d)
}

func TestAcquire_PersistsDecisionReachedAtDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The strategy finishes just as the run deadline expires.
	slow := strategy.Strategy{
		ID:       "platform-showcase",
		Priority: 10,
		Match:    func(model.Target) bool { return true },
		Execute: func(context.Context, model.Target) (*model.Candidate, error) {
			cancel()
			return &model.Candidate{StrategyID: "platform-showcase", Items: galleryItems(24, 24, 24)}, nil
		},
	}

	r := strategy.NewRegistry()
	r.Register(slow)

	store := &deadlineStore{}
	decision, err := newOrchestrator(r, WithStore(store)).Acquire(ctx, urlTarget)
	require.NoError(t, err)

	assert.Len(t, store.artifacts, 24)
	require.Len(t, store.decisions, 1)
	assert.Equal(t, decision.ID, store.decisions[0].ID)
}

func TestAcquire_PersistsFailedDecisionAtDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	giveUp := strategy.Strategy{
		ID:       "platform-showcase",
		Priority: 10,
		Match:    func(model.Target) bool { return true },
		Execute: func(context.Context, model.Target) (*model.Candidate, error) {
			cancel()
			return nil, errors.New("navigation failed")
		},
	}

	r := strategy.NewRegistry()
	r.Register(giveUp)

	store := &deadlineStore{}
	_, err := newOrchestrator(r, WithStore(store)).Acquire(ctx, urlTarget)
	require.ErrorIs(t, err, ErrExhausted)

	require.Len(t, store.decisions, 1)
	assert.Equal(t, model.StatusFailed, store.decisions[0].Status)
}

func TestAcquire_ChainTargetWithoutChainPath(t *testing.T) {
	r := strategy.NewRegistry()
	r.Register(fixedStrategy("generic-dom", 50, galleryItems(24, 24, 24), nil))

	target := model.Target{
		Raw:     "1:0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d",
		Kind:    model.TargetChainAddress,
		ChainID: 1,
		Address: "0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d",
	}
	decision, err := newOrchestrator(r).Acquire(context.Background(), target)
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, model.StatusFailed, decision.Status)
	assert.Empty(t, decision.Attempted)
}
