package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mintarchive/provenance-cli/internal/chain"
	"github.com/mintarchive/provenance-cli/internal/gateway"
	"github.com/mintarchive/provenance-cli/internal/monitoring"
	"github.com/mintarchive/provenance-cli/internal/orchestrator"
	"github.com/mintarchive/provenance-cli/internal/providers"
	"github.com/mintarchive/provenance-cli/internal/store"
	"github.com/mintarchive/provenance-cli/internal/strategy"
	"github.com/mintarchive/provenance-cli/internal/validate"
)

// engineEnv holds the initialized store, provider pool, and orchestrator
// shared by the acquire/import/serve commands.
type engineEnv struct {
	Store        store.Store
	Pool         *providers.Pool // nil when no chains configured
	Registry     *strategy.Registry
	Orchestrator *orchestrator.Orchestrator
}

// snapshotter adapts the optional pool to the monitoring interface without
// handing a typed nil pointer to an interface value.
func (e *engineEnv) snapshotter() monitoring.ProviderSnapshotter {
	if e.Pool == nil {
		return nil
	}
	return e.Pool
}

// Close releases resources held by the engine environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEngine sets up the store, the provider pool, the strategy registry,
// and the orchestrator. Callers should defer env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	if err := validate.ValidateConfig(cfg.Validator); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	registry := strategy.Build(cfg.Strategies, cfg.Scrape)
	validator := validate.New(cfg.Validator)

	opts := []orchestrator.Option{
		orchestrator.WithStore(st),
		orchestrator.WithSkipKnown(cfg.Scrape.SkipKnown),
	}

	env := &engineEnv{
		Store:    st,
		Registry: registry,
	}

	// The chain path only exists when providers are configured.
	if len(cfg.Chains) > 0 {
		pool := providers.NewPool(cfg.Chains, cfg.Breaker)
		env.Pool = pool

		resolver, err := chain.NewURIResolver(pool)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "init uri resolver")
		}

		scanner := chain.NewScanner(pool, cfg.Scan.ChunkSize)
		gw := gateway.NewFetcher(cfg.Gateways)
		opts = append(opts, orchestrator.WithChainStrategy(
			orchestrator.NewChainStrategy(scanner, resolver, gw, cfg.Scan)))
	} else {
		zap.L().Debug("no chains configured, chain acquisition disabled")
	}

	env.Orchestrator = orchestrator.New(registry, validator, cfg.Orchestrator, opts...)
	return env, nil
}
