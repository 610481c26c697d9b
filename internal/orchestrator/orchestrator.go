// Package orchestrator runs the acquisition state machine: resolve the
// strategy order for a target, execute strategies under timeouts, validate
// each candidate, and commit to a winning or best-effort result.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mintarchive/provenance-cli/internal/config"
	"github.com/mintarchive/provenance-cli/internal/model"
	"github.com/mintarchive/provenance-cli/internal/strategy"
	"github.com/mintarchive/provenance-cli/internal/validate"
)

// ErrExhausted means every strategy failed outright with no candidate
// produced at all. It is the only condition surfaced as a hard failure;
// a below-threshold score is the expected best-effort path, not an error.
var ErrExhausted = eris.New("orchestrator: all strategies exhausted")

// RecordStore is the persistence collaborator. Upserts are idempotent on
// the (platform, external id) key.
type RecordStore interface {
	UpsertArtifacts(ctx context.Context, artifacts []model.Artifact) error
	ArtifactExists(ctx context.Context, key model.ArtifactKey) (bool, error)
	SaveDecision(ctx context.Context, d *model.Decision) error
}

// Orchestrator composes the registry, validator, and optional chain path
// into one Acquire operation.
type Orchestrator struct {
	registry  *strategy.Registry
	validator *validate.Validator
	chain     *ChainStrategy
	store     RecordStore
	skipKnown bool
	cfg       config.OrchestratorConfig
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithChainStrategy enables the on-chain acquisition path.
func WithChainStrategy(cs *ChainStrategy) Option {
	return func(o *Orchestrator) { o.chain = cs }
}

// WithStore enables persistence of decisions and winning artifacts.
func WithStore(store RecordStore) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithSkipKnown enables the skip-known policy: acquisition paths consult
// the store and skip per-item work for artifacts it already holds.
func WithSkipKnown(enabled bool) Option {
	return func(o *Orchestrator) { o.skipKnown = enabled }
}

// New creates an Orchestrator.
func New(registry *strategy.Registry, validator *validate.Validator, cfg config.OrchestratorConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:  registry,
		validator: validator,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.skipKnown && o.store != nil && o.chain != nil {
		o.chain.known = o.store.ArtifactExists
	}
	return o
}

// Acquire runs the full state machine for one target. Strategies execute
// sequentially in deterministic priority order; a score at or above the
// early-accept threshold stops the run immediately. The decision is
// persisted before returning when a store is configured.
func (o *Orchestrator) Acquire(ctx context.Context, target model.Target) (*model.Decision, error) {
	start := time.Now()

	if deadline := o.cfg.OverallTimeout(); deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	strategies := o.resolve(target)

	decision := &model.Decision{
		ID:        uuid.NewString(),
		Target:    target,
		CreatedAt: start.UTC(),
	}

	var (
		best       *model.Candidate
		bestReport model.Report
		accepted   bool
	)

	for _, s := range strategies {
		if ctx.Err() != nil {
			break
		}

		candidate, attempt := o.attempt(ctx, s, target)
		decision.Attempted = append(decision.Attempted, attempt)
		if candidate == nil {
			continue
		}

		report := o.validator.Validate(candidate)
		decision.Attempted[len(decision.Attempted)-1].Score = report.Score

		// Strictly-greater keeps the earlier candidate on ties, so the
		// outcome never depends on execution timing.
		if best == nil || report.Score > bestReport.Score {
			best, bestReport = candidate, report
		}

		if report.Valid && report.Score >= o.cfg.EarlyAcceptThreshold {
			accepted = true
			zap.L().Info("orchestrator: early accept",
				zap.String("target", target.Raw),
				zap.String("strategy", s.ID),
				zap.Float64("score", report.Score),
			)
			break
		}
	}

	decision.Elapsed = time.Since(start)

	if best == nil {
		decision.Status = model.StatusFailed
		if o.store != nil {
			sctx, cancel := persistCtx(ctx)
			if err := o.store.SaveDecision(sctx, decision); err != nil {
				zap.L().Warn("orchestrator: save failed decision", zap.Error(err))
			}
			cancel()
		}
		return decision, ErrExhausted
	}

	decision.Winner = best
	decision.Report = &bestReport
	if accepted || bestReport.Valid {
		decision.Status = model.StatusAccepted
	} else {
		decision.Status = model.StatusBestEffort
	}

	if err := o.commit(ctx, decision); err != nil {
		return decision, err
	}

	zap.L().Info("orchestrator: decision",
		zap.String("target", target.Raw),
		zap.String("status", string(decision.Status)),
		zap.String("winner", best.StrategyID),
		zap.Float64("score", bestReport.Score),
		zap.Int("items", len(best.Items)),
		zap.Duration("elapsed", decision.Elapsed),
	)
	return decision, nil
}

// resolve returns the strategy order for a target. Chain addresses use the
// dedicated on-chain path; URL targets go through the registry.
func (o *Orchestrator) resolve(target model.Target) []strategy.Strategy {
	if target.Kind == model.TargetChainAddress {
		if o.chain == nil {
			return nil
		}
		return []strategy.Strategy{o.chain.Strategy()}
	}
	return o.registry.Resolve(target)
}

func (o *Orchestrator) attempt(ctx context.Context, s strategy.Strategy, target model.Target) (*model.Candidate, model.Attempt) {
	attemptStart := time.Now()

	sctx := ctx
	if timeout := o.cfg.StrategyTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	candidate, err := s.Execute(sctx, target)
	attempt := model.Attempt{
		StrategyID: s.ID,
		Elapsed:    time.Since(attemptStart),
	}
	if err != nil {
		attempt.Err = err.Error()
		zap.L().Debug("orchestrator: strategy failed",
			zap.String("strategy", s.ID),
			zap.String("target", target.Raw),
			zap.Error(err),
		)
		return nil, attempt
	}

	candidate.Dedup()
	attempt.ItemCount = len(candidate.Items)
	return candidate, attempt
}

// commitTimeout bounds persistence once a decision is reached.
const commitTimeout = 10 * time.Second

// persistCtx detaches persistence from the acquisition deadline. A decision
// reached just as the deadline expires must still be written.
func persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
}

// commit persists the decision and the winner's items. Losing candidates
// are never persisted.
func (o *Orchestrator) commit(ctx context.Context, decision *model.Decision) error {
	if o.store == nil {
		return nil
	}
	ctx, cancel := persistCtx(ctx)
	defer cancel()
	if err := o.store.UpsertArtifacts(ctx, decision.Winner.Items); err != nil {
		return eris.Wrap(err, "orchestrator: upsert winner items")
	}
	if err := o.store.SaveDecision(ctx, decision); err != nil {
		return eris.Wrap(err, "orchestrator: save decision")
	}
	return nil
}
