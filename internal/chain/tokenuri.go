package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rotisserie/eris"

	"github.com/mintarchive/provenance-cli/internal/providers"
	"github.com/mintarchive/provenance-cli/pkg/evmrpc"
)

const metadataABI = `[
	{"name":"tokenURI","type":"function","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"}],
	 "outputs":[{"name":"","type":"string"}]},
	{"name":"uri","type":"function","stateMutability":"view",
	 "inputs":[{"name":"id","type":"uint256"}],
	 "outputs":[{"name":"","type":"string"}]}
]`

// URIResolver resolves the off-chain metadata location for tokens via
// eth_call static calls through the provider pool.
type URIResolver struct {
	pool *providers.Pool
	abi  abi.ABI
}

// NewURIResolver creates a URIResolver.
func NewURIResolver(pool *providers.Pool) (*URIResolver, error) {
	parsed, err := abi.JSON(strings.NewReader(metadataABI))
	if err != nil {
		return nil, eris.Wrap(err, "chain: parse metadata abi")
	}
	return &URIResolver{pool: pool, abi: parsed}, nil
}

// TokenURI returns the metadata URI for a token. It tries the ERC-721
// tokenURI accessor first and falls back to the ERC-1155 uri accessor.
// An ERC-1155 "{id}" placeholder is substituted with the zero-padded hex id.
func (r *URIResolver) TokenURI(ctx context.Context, chainID int64, contract common.Address, tokenID *big.Int) (string, error) {
	uri, err := r.staticCall(ctx, chainID, contract, "tokenURI", tokenID)
	if err != nil {
		uri, err = r.staticCall(ctx, chainID, contract, "uri", tokenID)
	}
	if err != nil {
		return "", eris.Wrapf(err, "chain: token uri %s/%s", contract.Hex(), tokenID)
	}

	if strings.Contains(uri, "{id}") {
		padded := strings.ToLower(common.BigToHash(tokenID).Hex()[2:])
		uri = strings.ReplaceAll(uri, "{id}", padded)
	}

	return uri, nil
}

func (r *URIResolver) staticCall(ctx context.Context, chainID int64, contract common.Address, method string, tokenID *big.Int) (string, error) {
	data, err := r.abi.Pack(method, tokenID)
	if err != nil {
		return "", eris.Wrapf(err, "chain: pack %s", method)
	}

	var out []byte
	err = r.pool.Acquire(ctx, chainID, func(ctx context.Context, c evmrpc.Client) error {
		got, err := c.CallContract(ctx, contract, data)
		if err != nil {
			return err
		}
		out = got
		return nil
	})
	if err != nil {
		return "", err
	}

	vals, err := r.abi.Unpack(method, out)
	if err != nil {
		return "", eris.Wrapf(err, "chain: unpack %s", method)
	}
	if len(vals) != 1 {
		return "", eris.Errorf("chain: unexpected %s output arity %d", method, len(vals))
	}
	uri, ok := vals[0].(string)
	if !ok {
		return "", eris.Errorf("chain: %s did not return a string", method)
	}
	return strings.TrimSpace(uri), nil
}
