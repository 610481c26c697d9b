package providers

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/mintarchive/provenance-cli/internal/config"
	"github.com/mintarchive/provenance-cli/internal/resilience"
	"github.com/mintarchive/provenance-cli/pkg/evmrpc"
)

// HealthState is the pool's view of one provider, derived from its circuit.
type HealthState string

const (
	Healthy     HealthState = "healthy"
	Degraded    HealthState = "degraded"
	Blacklisted HealthState = "blacklisted"
)

// Provider is one RPC endpoint with its health bookkeeping. Ephemeral:
// rebuilt from configuration at process start, never persisted.
type Provider struct {
	ID       string
	ChainID  int64
	Priority int

	client   evmrpc.Client
	circuit  *resilience.Circuit
	inFlight *semaphore.Weighted
	limiter  *rate.Limiter

	mu          sync.Mutex
	lastSuccess time.Time
}

// Health returns the provider's current health state.
func (p *Provider) Health() HealthState {
	switch p.circuit.State() {
	case resilience.CircuitBlacklisted:
		return Blacklisted
	case resilience.CircuitOpen, resilience.CircuitHalfOpen:
		return Degraded
	default:
		return Healthy
	}
}

// Snapshot is a point-in-time health view for observability.
type Snapshot struct {
	ID          string      `json:"id"`
	ChainID     int64       `json:"chain_id"`
	Priority    int         `json:"priority"`
	State       HealthState `json:"state"`
	Failures    int         `json:"failures"`
	LastSuccess time.Time   `json:"last_success,omitzero"`
}

// Pool owns the providers for all configured chains. A single Pool is passed
// by reference to every call site; per-provider state is individually locked
// so unrelated acquisitions never contend.
type Pool struct {
	byChain map[int64][]*Provider // sorted by priority
	cursor  map[int64]*atomic.Uint64
}

// NewPool builds a Pool from configuration.
func NewPool(chains []config.ChainConfig, breaker config.BreakerConfig) *Pool {
	pool := &Pool{
		byChain: make(map[int64][]*Provider),
		cursor:  make(map[int64]*atomic.Uint64),
	}

	for _, cc := range chains {
		var provs []*Provider
		for _, pc := range cc.Providers {
			provs = append(provs, newProvider(cc.ChainID, pc, breaker))
		}
		sort.SliceStable(provs, func(i, j int) bool {
			return provs[i].Priority < provs[j].Priority
		})
		pool.byChain[cc.ChainID] = provs
		pool.cursor[cc.ChainID] = &atomic.Uint64{}
	}

	return pool
}

func newProvider(chainID int64, pc config.ProviderConfig, breaker config.BreakerConfig) *Provider {
	var opts []evmrpc.Option
	if pc.AuthHeader != "" {
		opts = append(opts, evmrpc.WithAuthHeader(pc.AuthHeader, pc.AuthToken))
	}

	inFlight := pc.MaxInFlight
	if inFlight <= 0 {
		inFlight = 4
	}

	limit := rate.Inf
	if pc.RatePerSec > 0 {
		limit = rate.Limit(pc.RatePerSec)
	}

	p := &Provider{
		ID:       pc.ID,
		ChainID:  chainID,
		Priority: pc.Priority,
		client:   evmrpc.NewClient(pc.Endpoint, opts...),
		inFlight: semaphore.NewWeighted(inFlight),
		limiter:  rate.NewLimiter(limit, 1),
	}
	p.circuit = resilience.NewCircuit(resilience.CircuitConfig{
		FailureThreshold: breaker.FailureThreshold,
		Cooldown:         breaker.Cooldown(),
		ShouldTrip: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
		IsFatal: resilience.IsFatal,
		OnStateChange: func(from, to resilience.CircuitState) {
			zap.L().Warn("provider circuit transition",
				zap.String("provider", pc.ID),
				zap.Int64("chain", chainID),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return p
}

// Chains returns the configured chain ids.
func (pool *Pool) Chains() []int64 {
	ids := make([]int64, 0, len(pool.byChain))
	for id := range pool.byChain {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Acquire runs fn against the first admissible provider for the chain,
// failing over in priority order (round-robin among equal priority) until fn
// succeeds or every provider is exhausted. Retryable errors advance to the
// next provider; fatal errors blacklist the provider and also advance.
func (pool *Pool) Acquire(ctx context.Context, chainID int64, fn func(ctx context.Context, c evmrpc.Client) error) error {
	provs, ok := pool.byChain[chainID]
	if !ok || len(provs) == 0 {
		return ErrUnknownChain
	}

	var lastErr error
	for _, p := range pool.selectionOrder(chainID, provs) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !p.circuit.Allows() {
			continue
		}

		err := pool.call(ctx, p, fn)
		if err == nil {
			return nil
		}
		lastErr = err

		var pe *ProviderError
		if errors.As(err, &pe) && !pe.Retryable() {
			zap.L().Error("provider blacklisted",
				zap.String("provider", p.ID),
				zap.Error(err),
			)
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		zap.L().Debug("provider call failed, failing over",
			zap.String("provider", p.ID),
			zap.Int64("chain", chainID),
			zap.Error(err),
		)
	}

	if lastErr != nil {
		return errors.Join(ErrProviderExhausted, lastErr)
	}
	return ErrProviderExhausted
}

// call wraps one provider invocation in rate limiting, the in-flight budget
// and the circuit breaker.
func (pool *Pool) call(ctx context.Context, p *Provider, fn func(ctx context.Context, c evmrpc.Client) error) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	if !p.inFlight.TryAcquire(1) {
		return classify(p.ID, ErrProviderBusy)
	}
	defer p.inFlight.Release(1)

	return p.circuit.Execute(ctx, func(ctx context.Context) error {
		if err := fn(ctx, p.client); err != nil {
			return classify(p.ID, err)
		}
		p.mu.Lock()
		p.lastSuccess = time.Now()
		p.mu.Unlock()
		return nil
	})
}

// selectionOrder returns providers sorted by priority with round-robin
// rotation inside each equal-priority group.
func (pool *Pool) selectionOrder(chainID int64, provs []*Provider) []*Provider {
	tick := pool.cursor[chainID].Add(1) - 1

	out := make([]*Provider, 0, len(provs))
	for i := 0; i < len(provs); {
		j := i
		for j < len(provs) && provs[j].Priority == provs[i].Priority {
			j++
		}
		group := provs[i:j]
		offset := int(tick % uint64(len(group)))
		for k := 0; k < len(group); k++ {
			out = append(out, group[(offset+k)%len(group)])
		}
		i = j
	}
	return out
}

// Snapshots returns health snapshots for every provider, ordered by chain
// then priority.
func (pool *Pool) Snapshots() []Snapshot {
	var snaps []Snapshot
	for _, chainID := range pool.Chains() {
		for _, p := range pool.byChain[chainID] {
			p.mu.Lock()
			last := p.lastSuccess
			p.mu.Unlock()
			snaps = append(snaps, Snapshot{
				ID:          p.ID,
				ChainID:     p.ChainID,
				Priority:    p.Priority,
				State:       p.Health(),
				Failures:    p.circuit.Failures(),
				LastSuccess: last,
			})
		}
	}
	return snaps
}

// provider lookup used by tests.
func (pool *Pool) find(chainID int64, id string) *Provider {
	for _, p := range pool.byChain[chainID] {
		if p.ID == id {
			return p
		}
	}
	return nil
}
