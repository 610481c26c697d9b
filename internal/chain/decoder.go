// Package chain turns raw on-chain logs into typed domain events and
// resolves token metadata, without any enhanced indexing API.
package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mintarchive/provenance-cli/internal/model"
)

// Event signature topic hashes.
var (
	// Transfer(address,address,uint256)
	transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	// TransferSingle(address,address,address,uint256,uint256)
	transferSingleTopic = common.HexToHash("0xc3d58168c5ae7397731d063d5bbf3d657854427343f4c083240f7aacaa2d0f62")
)

var zeroAddress = common.Address{}

// EventTopics returns the OR-list of signatures the decoder understands,
// suitable for the first topic position of an eth_getLogs filter.
func EventTopics() []common.Hash {
	return []common.Hash{transferTopic, transferSingleTopic}
}

// Decoder decodes transfer logs for one chain.
type Decoder struct {
	chainID int64
}

// NewDecoder creates a decoder for the given chain id.
func NewDecoder(chainID int64) *Decoder {
	return &Decoder{chainID: chainID}
}

// Decode turns one raw log into a domain event. A log whose shape does not
// match any known signature yields a DecodeSkip with a reason code, never an
// error: malformed logs must not fail the surrounding batch.
func (d *Decoder) Decode(lg types.Log) (model.DomainEvent, *model.DecodeSkip) {
	skip := func(reason string) (model.DomainEvent, *model.DecodeSkip) {
		return model.DomainEvent{}, &model.DecodeSkip{
			TxHash:   lg.TxHash.Hex(),
			LogIndex: lg.Index,
			Reason:   reason,
		}
	}

	if lg.Removed {
		return skip(model.SkipRemovedLog)
	}
	if len(lg.Topics) == 0 {
		return skip(model.SkipUnknownTopic)
	}

	switch lg.Topics[0] {
	case transferTopic:
		// The NFT form indexes tokenId, so four topics total. Three topics
		// is the fungible-token shape and is not an artifact event.
		if len(lg.Topics) != 4 {
			return skip(model.SkipTopicCount)
		}
		if len(lg.Data) != 0 {
			return skip(model.SkipDataLength)
		}
		from := common.BytesToAddress(lg.Topics[1].Bytes())
		to := common.BytesToAddress(lg.Topics[2].Bytes())
		tokenID := new(big.Int).SetBytes(lg.Topics[3].Bytes())
		return d.event("erc721", lg, from, to, tokenID, big.NewInt(1)), nil

	case transferSingleTopic:
		if len(lg.Topics) != 4 {
			return skip(model.SkipTopicCount)
		}
		// Non-indexed payload is (id, value), two 32-byte words.
		if len(lg.Data) != 64 {
			return skip(model.SkipDataLength)
		}
		from := common.BytesToAddress(lg.Topics[2].Bytes())
		to := common.BytesToAddress(lg.Topics[3].Bytes())
		tokenID := new(big.Int).SetBytes(lg.Data[:32])
		quantity := new(big.Int).SetBytes(lg.Data[32:64])
		return d.event("erc1155", lg, from, to, tokenID, quantity), nil

	default:
		return skip(model.SkipUnknownTopic)
	}
}

func (d *Decoder) event(standard string, lg types.Log, from, to common.Address, tokenID, quantity *big.Int) model.DomainEvent {
	typ := model.EventTransfer
	switch {
	case from == zeroAddress:
		typ = model.EventMint
	case to == zeroAddress:
		typ = model.EventBurn
	}

	return model.DomainEvent{
		Type:        typ,
		Standard:    standard,
		ChainID:     d.chainID,
		Contract:    lg.Address.Hex(),
		TokenID:     tokenID.String(),
		From:        from.Hex(),
		To:          to.Hex(),
		Quantity:    quantity.String(),
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
	}
}

// DecodeBatch decodes a batch of logs. N inputs with M malformed entries
// yield N−M events plus M skips.
func (d *Decoder) DecodeBatch(logs []types.Log) ([]model.DomainEvent, []model.DecodeSkip) {
	events := make([]model.DomainEvent, 0, len(logs))
	var skips []model.DecodeSkip
	for _, lg := range logs {
		ev, skip := d.Decode(lg)
		if skip != nil {
			skips = append(skips, *skip)
			continue
		}
		events = append(events, ev)
	}
	return events, skips
}
