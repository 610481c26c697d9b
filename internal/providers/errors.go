// Package providers manages the per-chain RPC provider pool: priority
// selection, round-robin, circuit breaking and failover.
package providers

import (
	"context"
	"errors"
	"net"

	"github.com/rotisserie/eris"

	"github.com/mintarchive/provenance-cli/internal/resilience"
	"github.com/mintarchive/provenance-cli/pkg/evmrpc"
)

// ErrorKind partitions provider failures for the failover policy.
type ErrorKind string

const (
	// KindTimeout covers network timeouts and 5xx responses. Retryable.
	KindTimeout ErrorKind = "timeout"
	// KindRateLimited covers 429 and in-flight budget rejection. Retryable.
	KindRateLimited ErrorKind = "rate-limited"
	// KindMalformed covers envelope or result shape deviations. Retryable:
	// the next provider may answer correctly.
	KindMalformed ErrorKind = "malformed"
	// KindAuth covers rejected credentials. Fatal: blacklist immediately.
	KindAuth ErrorKind = "auth"
)

// ProviderError is a classified failure from one provider call.
type ProviderError struct {
	ProviderID string
	Kind       ErrorKind
	Err        error
}

func (e *ProviderError) Error() string {
	return string(e.Kind) + " from provider " + e.ProviderID + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether failover to the next provider is allowed.
func (e *ProviderError) Retryable() bool { return e.Kind != KindAuth }

// ErrProviderExhausted is returned when every provider for a chain failed or
// is excluded by its circuit.
var ErrProviderExhausted = eris.New("providers: all providers exhausted")

// ErrProviderBusy marks an in-flight budget rejection.
var ErrProviderBusy = eris.New("providers: in-flight budget exceeded")

// ErrUnknownChain is returned for a chain with no configured providers.
var ErrUnknownChain = eris.New("providers: unknown chain")

// classify wraps a raw call error as a ProviderError with the resilience
// markers the circuit and retry layers key on.
func classify(providerID string, err error) *ProviderError {
	kind := KindMalformed

	var statusErr *evmrpc.HTTPStatusError
	var netErr net.Error
	switch {
	case errors.Is(err, ErrProviderBusy):
		kind = KindRateLimited
	case errors.As(err, &statusErr):
		switch {
		case statusErr.StatusCode == 401 || statusErr.StatusCode == 403:
			kind = KindAuth
		case statusErr.StatusCode == 429:
			kind = KindRateLimited
		default:
			kind = KindTimeout
		}
	case errors.As(err, &netErr) && netErr.Timeout(),
		errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case resilience.IsTransient(err):
		kind = KindTimeout
	}

	pe := &ProviderError{ProviderID: providerID, Kind: kind, Err: err}
	if kind == KindAuth {
		pe.Err = resilience.NewFatalError(err)
	} else {
		pe.Err = resilience.NewTransientError(err, 0)
	}
	return pe
}
