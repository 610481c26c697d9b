package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mintarchive/provenance-cli/internal/chain"
	"github.com/mintarchive/provenance-cli/internal/config"
	"github.com/mintarchive/provenance-cli/internal/gateway"
	"github.com/mintarchive/provenance-cli/internal/model"
	"github.com/mintarchive/provenance-cli/internal/strategy"
)

// metadataWorkers bounds concurrent tokenURI/metadata lookups per scan.
const metadataWorkers = 4

// ChainStrategy acquires artifacts straight from on-chain transfer logs:
// scan, decode, reconstruct per-token state, then enrich with token
// metadata through the content gateways. No enhanced indexing API involved.
type ChainStrategy struct {
	scanner  *chain.Scanner
	resolver *chain.URIResolver
	gateway  *gateway.Fetcher
	cfg      config.ScanConfig

	// known, when set, lets enrich skip metadata lookups for items the
	// record store already holds.
	known func(ctx context.Context, key model.ArtifactKey) (bool, error)
}

// NewChainStrategy creates the on-chain acquisition path.
func NewChainStrategy(scanner *chain.Scanner, resolver *chain.URIResolver, gw *gateway.Fetcher, cfg config.ScanConfig) *ChainStrategy {
	return &ChainStrategy{
		scanner:  scanner,
		resolver: resolver,
		gateway:  gw,
		cfg:      cfg,
	}
}

// Strategy adapts the chain path to the registry's strategy shape.
func (c *ChainStrategy) Strategy() strategy.Strategy {
	return strategy.Strategy{
		ID:       "chain-events",
		Priority: 0,
		Match: func(t model.Target) bool {
			return t.Kind == model.TargetChainAddress
		},
		Execute: c.execute,
	}
}

// tokenState is the reconstructed life of one token within the scanned range.
type tokenState struct {
	tokenID  string
	standard string
	mintTx   string
	owner    string
	quantity string
	burned   bool
}

func (c *ChainStrategy) execute(ctx context.Context, target model.Target) (*model.Candidate, error) {
	start := time.Now()

	fromBlock, toBlock, err := c.scanRange(ctx, target.ChainID)
	if err != nil {
		return nil, err
	}

	contract := common.HexToAddress(target.Address)
	result, err := c.scanner.Scan(ctx, target.ChainID, contract, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}

	tokens, order := foldEvents(result.Events)

	items := make([]model.Artifact, 0, len(order))
	for _, id := range order {
		items = append(items, c.artifact(target, tokens[id]))
	}
	c.enrich(ctx, target, items)

	var notes []string
	if n := len(result.Skips); n > 0 {
		notes = append(notes, fmt.Sprintf("decode-skips: %d logs skipped", n))
	}

	return &model.Candidate{
		StrategyID: "chain-events",
		Items:      items,
		Elapsed:    time.Since(start),
		Notes:      notes,
	}, nil
}

// scanRange picks the block window. With a configured lookback the window
// is anchored to the current head; otherwise the whole history is scanned.
func (c *ChainStrategy) scanRange(ctx context.Context, chainID int64) (uint64, uint64, error) {
	if c.cfg.LookbackBlocks == 0 {
		return 0, 0, nil
	}
	head, err := c.scanner.Latest(ctx, chainID)
	if err != nil {
		return 0, 0, eris.Wrap(err, "chain-events: resolve head")
	}
	from := uint64(0)
	if head > c.cfg.LookbackBlocks {
		from = head - c.cfg.LookbackBlocks
	}
	return from, head, nil
}

// foldEvents reduces the ordered event stream to final per-token state.
// Keyed iteration order follows first appearance, so output is stable.
func foldEvents(events []model.DomainEvent) (map[string]*tokenState, []string) {
	tokens := make(map[string]*tokenState, len(events))
	var order []string

	for _, ev := range events {
		ts, ok := tokens[ev.TokenID]
		if !ok {
			ts = &tokenState{tokenID: ev.TokenID, standard: ev.Standard}
			tokens[ev.TokenID] = ts
			order = append(order, ev.TokenID)
		}
		ts.owner = ev.To
		ts.quantity = ev.Quantity
		switch ev.Type {
		case model.EventMint:
			ts.mintTx = ev.TxHash
			ts.burned = false
		case model.EventBurn:
			ts.burned = true
		}
	}
	return tokens, order
}

func (c *ChainStrategy) artifact(target model.Target, ts *tokenState) model.Artifact {
	attrs := map[string]string{
		"standard": ts.standard,
		"owner":    ts.owner,
		"quantity": ts.quantity,
	}
	if ts.burned {
		attrs["burned"] = "true"
	}
	return model.Artifact{
		ExternalID: model.ChainExternalID(target.Address, ts.tokenID),
		Platform:   fmt.Sprintf("chain-%d", target.ChainID),
		Attributes: attrs,
		ChainID:    target.ChainID,
		Contract:   target.Address,
		TokenID:    ts.tokenID,
		TxHash:     ts.mintTx,
		Confidence: 0.95,
	}
}

// enrich resolves tokenURI and fetches metadata for the first
// MetadataLimit items, concurrently but bounded. Enrichment is best effort:
// a token whose metadata cannot be fetched stays in the result with its
// provenance fields intact.
func (c *ChainStrategy) enrich(ctx context.Context, target model.Target, items []model.Artifact) {
	if c.resolver == nil || c.gateway == nil {
		return
	}

	limit := c.cfg.MetadataLimit
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}

	contract := common.HexToAddress(target.Address)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(metadataWorkers)
	for i := 0; i < limit; i++ {
		if c.skipKnown(ctx, items[i]) {
			continue
		}
		g.Go(func() error {
			tokenID, ok := new(big.Int).SetString(items[i].TokenID, 10)
			if !ok {
				return nil
			}

			uri, err := c.resolver.TokenURI(gctx, target.ChainID, contract, tokenID)
			if err != nil {
				zap.L().Debug("chain-events: token uri unresolved",
					zap.String("token", items[i].TokenID),
					zap.Error(err),
				)
				return nil
			}

			md, err := c.gateway.FetchMetadata(gctx, uri)
			if err != nil {
				zap.L().Debug("chain-events: metadata fetch failed",
					zap.String("uri", uri),
					zap.Error(err),
				)
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			items[i].Title = md.Name
			items[i].SourceURL = uri
			if md.Image != "" {
				items[i].MediaURLs = append(items[i].MediaURLs, md.Image)
			}
			if md.AnimationURL != "" {
				items[i].MediaURLs = append(items[i].MediaURLs, md.AnimationURL)
			}
			for k, v := range md.AttributeMap() {
				items[i].Attributes[k] = v
			}
			return nil
		})
	}
	_ = g.Wait()
}

// skipKnown reports whether an item's metadata lookup can be skipped because
// the store already holds it. Lookup errors never suppress enrichment.
func (c *ChainStrategy) skipKnown(ctx context.Context, a model.Artifact) bool {
	if c.known == nil {
		return false
	}
	exists, err := c.known(ctx, a.Key())
	if err != nil {
		return false
	}
	return exists
}
