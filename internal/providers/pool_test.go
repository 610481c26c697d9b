package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintarchive/provenance-cli/internal/config"
	"github.com/mintarchive/provenance-cli/pkg/evmrpc"
)

const resultOK = `{"jsonrpc":"2.0","id":1,"result":"0x10"}`

func newServer(t *testing.T, status int, body string, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if status != http.StatusOK {
			http.Error(w, body, status)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func poolForEndpoints(threshold int, endpoints ...config.ProviderConfig) *Pool {
	return NewPool(
		[]config.ChainConfig{{ChainID: 1, Name: "mainnet", Providers: endpoints}},
		config.BreakerConfig{FailureThreshold: threshold, CooldownSecs: 300},
	)
}

func blockNumber(ctx context.Context, c evmrpc.Client) error {
	_, err := c.BlockNumber(ctx)
	return err
}

func TestAcquire_FailsOverToHealthyProvider(t *testing.T) {
	// Scenario: providers 1 and 2 fail, provider 3 succeeds.
	var hits3 atomic.Int64
	bad1 := newServer(t, http.StatusServiceUnavailable, "down", nil)
	bad2 := newServer(t, http.StatusServiceUnavailable, "down", nil)
	good := newServer(t, http.StatusOK, resultOK, &hits3)

	pool := poolForEndpoints(1,
		config.ProviderConfig{ID: "p1", Endpoint: bad1.URL, Priority: 1},
		config.ProviderConfig{ID: "p2", Endpoint: bad2.URL, Priority: 2},
		config.ProviderConfig{ID: "p3", Endpoint: good.URL, Priority: 3},
	)

	err := pool.Acquire(context.Background(), 1, blockNumber)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits3.Load())

	// Failed providers reached the threshold and are degraded.
	snaps := pool.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, Degraded, snaps[0].State)
	assert.Equal(t, Degraded, snaps[1].State)
	assert.Equal(t, Healthy, snaps[2].State)
	assert.False(t, snaps[2].LastSuccess.IsZero())
}

func TestAcquire_CountsFailuresBelowThreshold(t *testing.T) {
	bad := newServer(t, http.StatusBadGateway, "flaky", nil)
	good := newServer(t, http.StatusOK, resultOK, nil)

	pool := poolForEndpoints(3,
		config.ProviderConfig{ID: "flaky", Endpoint: bad.URL, Priority: 1},
		config.ProviderConfig{ID: "stable", Endpoint: good.URL, Priority: 2},
	)

	require.NoError(t, pool.Acquire(context.Background(), 1, blockNumber))

	flaky := pool.find(1, "flaky")
	assert.Equal(t, 1, flaky.circuit.Failures())
	assert.Equal(t, Healthy, flaky.Health(), "one failure below k=3 keeps the provider selectable")
}

func TestAcquire_FatalAuthBlacklistsImmediately(t *testing.T) {
	var hitsUnauth atomic.Int64
	unauth := newServer(t, http.StatusUnauthorized, "bad key", &hitsUnauth)
	good := newServer(t, http.StatusOK, resultOK, nil)

	// Threshold of 5 must be bypassed by the fatal error.
	pool := poolForEndpoints(5,
		config.ProviderConfig{ID: "unauth", Endpoint: unauth.URL, Priority: 1},
		config.ProviderConfig{ID: "good", Endpoint: good.URL, Priority: 2},
	)

	require.NoError(t, pool.Acquire(context.Background(), 1, blockNumber))
	assert.Equal(t, Blacklisted, pool.find(1, "unauth").Health())
	assert.Equal(t, int64(1), hitsUnauth.Load())

	// Blacklisted provider is skipped without being called again.
	require.NoError(t, pool.Acquire(context.Background(), 1, blockNumber))
	assert.Equal(t, int64(1), hitsUnauth.Load())
}

func TestAcquire_AllProvidersExhausted(t *testing.T) {
	bad1 := newServer(t, http.StatusServiceUnavailable, "down", nil)
	bad2 := newServer(t, http.StatusServiceUnavailable, "down", nil)

	pool := poolForEndpoints(1,
		config.ProviderConfig{ID: "p1", Endpoint: bad1.URL, Priority: 1},
		config.ProviderConfig{ID: "p2", Endpoint: bad2.URL, Priority: 2},
	)

	err := pool.Acquire(context.Background(), 1, blockNumber)
	require.Error(t, err)

	// Circuits are now open; the next acquire finds nothing admissible.
	err = pool.Acquire(context.Background(), 1, blockNumber)
	assert.ErrorIs(t, err, ErrProviderExhausted)
}

func TestAcquire_UnknownChain(t *testing.T) {
	pool := poolForEndpoints(1, config.ProviderConfig{ID: "p1", Endpoint: "http://127.0.0.1:0", Priority: 1})
	err := pool.Acquire(context.Background(), 99, blockNumber)
	assert.ErrorIs(t, err, ErrUnknownChain)
}

func TestAcquire_RoundRobinAmongEqualPriority(t *testing.T) {
	var hitsA, hitsB atomic.Int64
	a := newServer(t, http.StatusOK, resultOK, &hitsA)
	b := newServer(t, http.StatusOK, resultOK, &hitsB)

	pool := poolForEndpoints(3,
		config.ProviderConfig{ID: "a", Endpoint: a.URL, Priority: 1},
		config.ProviderConfig{ID: "b", Endpoint: b.URL, Priority: 1},
	)

	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Acquire(context.Background(), 1, blockNumber))
	}

	assert.Equal(t, int64(2), hitsA.Load())
	assert.Equal(t, int64(2), hitsB.Load())
}

func TestAcquire_InFlightBudgetRejectsAsRetryable(t *testing.T) {
	good := newServer(t, http.StatusOK, resultOK, nil)

	pool := poolForEndpoints(5,
		config.ProviderConfig{ID: "tiny", Endpoint: good.URL, Priority: 1, MaxInFlight: 1},
	)

	// Exhaust the budget from outside.
	tiny := pool.find(1, "tiny")
	require.True(t, tiny.inFlight.TryAcquire(1))
	defer tiny.inFlight.Release(1)

	err := pool.Acquire(context.Background(), 1, blockNumber)
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindRateLimited, pe.Kind)
	assert.True(t, pe.Retryable())
}

func TestAcquire_ContextCancellationPropagates(t *testing.T) {
	good := newServer(t, http.StatusOK, resultOK, nil)
	pool := poolForEndpoints(3, config.ProviderConfig{ID: "p1", Endpoint: good.URL, Priority: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pool.Acquire(ctx, 1, blockNumber)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"429", &evmrpc.HTTPStatusError{StatusCode: 429}, KindRateLimited},
		{"503", &evmrpc.HTTPStatusError{StatusCode: 503}, KindTimeout},
		{"401", &evmrpc.HTTPStatusError{StatusCode: 401}, KindAuth},
		{"403", &evmrpc.HTTPStatusError{StatusCode: 403}, KindAuth},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"busy", ErrProviderBusy, KindRateLimited},
		{"rpc error", &evmrpc.RPCError{Code: -32000, Message: "oops"}, KindMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pe := classify("p", tc.err)
			assert.Equal(t, tc.kind, pe.Kind)
			assert.Equal(t, tc.kind != KindAuth, pe.Retryable())
		})
	}
}
