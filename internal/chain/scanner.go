package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mintarchive/provenance-cli/internal/model"
	"github.com/mintarchive/provenance-cli/internal/providers"
	"github.com/mintarchive/provenance-cli/pkg/evmrpc"
)

// ScanResult holds the decoded output of one contract scan.
type ScanResult struct {
	Events    []model.DomainEvent
	Skips     []model.DecodeSkip
	FromBlock uint64
	ToBlock   uint64
}

// Scanner walks a block range in chunks, fetching transfer logs through the
// provider pool so every chunk gets failover for free.
type Scanner struct {
	pool      *providers.Pool
	chunkSize uint64
}

// NewScanner creates a Scanner. chunkSize bounds each eth_getLogs range.
func NewScanner(pool *providers.Pool, chunkSize uint64) *Scanner {
	if chunkSize == 0 {
		chunkSize = 5000
	}
	return &Scanner{pool: pool, chunkSize: chunkSize}
}

// Latest returns the chain head through the pool.
func (s *Scanner) Latest(ctx context.Context, chainID int64) (uint64, error) {
	var head uint64
	err := s.pool.Acquire(ctx, chainID, func(ctx context.Context, c evmrpc.Client) error {
		n, err := c.BlockNumber(ctx)
		if err != nil {
			return err
		}
		head = n
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "chain: block number")
	}
	return head, nil
}

// Scan fetches and decodes all transfer events for one contract over
// [fromBlock, toBlock]. A toBlock of zero means the current head.
func (s *Scanner) Scan(ctx context.Context, chainID int64, contract common.Address, fromBlock, toBlock uint64) (*ScanResult, error) {
	if toBlock == 0 {
		head, err := s.Latest(ctx, chainID)
		if err != nil {
			return nil, err
		}
		toBlock = head
	}
	if fromBlock > toBlock {
		return nil, eris.Errorf("chain: invalid range %d-%d", fromBlock, toBlock)
	}

	decoder := NewDecoder(chainID)
	result := &ScanResult{FromBlock: fromBlock, ToBlock: toBlock}

	for start := fromBlock; start <= toBlock; start += s.chunkSize {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		end := start + s.chunkSize - 1
		if end > toBlock {
			end = toBlock
		}

		var logs []types.Log
		err := s.pool.Acquire(ctx, chainID, func(ctx context.Context, c evmrpc.Client) error {
			got, err := c.GetLogs(ctx, evmrpc.Filter{
				FromBlock: start,
				ToBlock:   end,
				Address:   contract,
				Topics:    [][]common.Hash{EventTopics()},
			})
			if err != nil {
				return err
			}
			logs = got
			return nil
		})
		if err != nil {
			return nil, eris.Wrapf(err, "chain: get logs %d-%d", start, end)
		}

		events, skips := decoder.DecodeBatch(logs)
		result.Events = append(result.Events, events...)
		result.Skips = append(result.Skips, skips...)

		zap.L().Debug("chain: chunk scanned",
			zap.Int64("chain", chainID),
			zap.Uint64("from", start),
			zap.Uint64("to", end),
			zap.Int("logs", len(logs)),
			zap.Int("skips", len(skips)),
		)
	}

	zap.L().Info("chain: scan complete",
		zap.Int64("chain", chainID),
		zap.String("contract", contract.Hex()),
		zap.Uint64("from", result.FromBlock),
		zap.Uint64("to", result.ToBlock),
		zap.Int("events", len(result.Events)),
		zap.Int("skips", len(result.Skips)),
	)

	return result, nil
}
