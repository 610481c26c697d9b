// Package evmrpc provides a minimal JSON-RPC client for the Ethereum-style
// method surface the acquisition engine consumes: eth_blockNumber,
// eth_getLogs and eth_call. The transport is deliberately a plain HTTP
// round trip so callers own failover across endpoints and see the raw
// JSON-RPC envelope.
package evmrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rotisserie/eris"
)

// Client defines the JSON-RPC operations used by the engine.
type Client interface {
	// Call performs a raw JSON-RPC call and returns the result payload.
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)
	// BlockNumber returns the latest block number.
	BlockNumber(ctx context.Context) (uint64, error)
	// GetLogs returns the logs matching the filter.
	GetLogs(ctx context.Context, f Filter) ([]types.Log, error)
	// CallContract performs a read-only eth_call against the latest block.
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	// Endpoint returns the endpoint URL this client talks to.
	Endpoint() string
}

// Filter is the eth_getLogs filter object. Topics follows the standard
// positional semantics: each position is an OR-list, positions are ANDed.
type Filter struct {
	FromBlock uint64
	ToBlock   uint64
	Address   common.Address
	Topics    [][]common.Hash
}

// MarshalJSON encodes the filter in the wire shape eth_getLogs expects.
func (f Filter) MarshalJSON() ([]byte, error) {
	obj := map[string]any{
		"fromBlock": hexutil.EncodeUint64(f.FromBlock),
		"toBlock":   hexutil.EncodeUint64(f.ToBlock),
		"address":   f.Address,
	}
	if len(f.Topics) > 0 {
		obj["topics"] = f.Topics
	}
	return json.Marshal(obj)
}

// RPCError is the error member of a JSON-RPC response envelope.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// HTTPStatusError reports a non-2xx transport response.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return "unexpected http status " + http.StatusText(e.StatusCode)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithAuthHeader attaches a header to every request (provider API keys).
func WithAuthHeader(name, value string) Option {
	return func(c *httpClient) {
		c.authHeader = name
		c.authValue = value
	}
}

type httpClient struct {
	endpoint   string
	authHeader string
	authValue  string
	http       *http.Client
	nextID     atomic.Uint64 // request ids; one client serves concurrent callers
}

// NewClient creates a JSON-RPC client for one endpoint.
func NewClient(endpoint string, opts ...Option) Client {
	c := &httpClient{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Endpoint() string { return c.endpoint }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func (c *httpClient) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "evmrpc: marshal %s request", method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "evmrpc: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authHeader != "" {
		req.Header.Set(c.authHeader, c.authValue)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "evmrpc: %s", method)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, eris.Wrapf(err, "evmrpc: read %s response", method)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, eris.Wrapf(
			&HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)},
			"evmrpc: %s", method)
	}

	var env rpcResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrapf(err, "evmrpc: %s: malformed envelope", method)
	}
	if env.Error != nil {
		return nil, eris.Wrapf(env.Error, "evmrpc: %s", method)
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil, eris.Errorf("evmrpc: %s: empty result", method)
	}

	return env.Result, nil
}

func (c *httpClient) BlockNumber(ctx context.Context) (uint64, error) {
	raw, err := c.Call(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return 0, eris.Wrap(err, "evmrpc: eth_blockNumber: malformed result")
	}
	n, err := hexutil.DecodeUint64(hex)
	if err != nil {
		return 0, eris.Wrap(err, "evmrpc: eth_blockNumber: decode")
	}
	return n, nil
}

func (c *httpClient) GetLogs(ctx context.Context, f Filter) ([]types.Log, error) {
	raw, err := c.Call(ctx, "eth_getLogs", f)
	if err != nil {
		return nil, err
	}
	var logs []types.Log
	if err := json.Unmarshal(raw, &logs); err != nil {
		return nil, eris.Wrap(err, "evmrpc: eth_getLogs: malformed result")
	}
	return logs, nil
}

func (c *httpClient) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	call := map[string]any{
		"to":   to,
		"data": hexutil.Bytes(data),
	}
	raw, err := c.Call(ctx, "eth_call", call, "latest")
	if err != nil {
		return nil, err
	}
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return nil, eris.Wrap(err, "evmrpc: eth_call: malformed result")
	}
	out, err := hexutil.Decode(hex)
	if err != nil {
		return nil, eris.Wrap(err, "evmrpc: eth_call: decode")
	}
	return out, nil
}
