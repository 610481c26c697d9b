package model

// EventType classifies a decoded transfer log.
type EventType string

const (
	EventMint     EventType = "mint"
	EventTransfer EventType = "transfer"
	EventBurn     EventType = "burn"
)

// DomainEvent is a decoded on-chain ownership event.
type DomainEvent struct {
	Type        EventType `json:"type"`
	Standard    string    `json:"standard"` // "erc721" or "erc1155"
	ChainID     int64     `json:"chain_id"`
	Contract    string    `json:"contract"`
	TokenID     string    `json:"token_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Quantity    string    `json:"quantity"`
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	LogIndex    uint      `json:"log_index"`
}

// Skip reason codes emitted by the decoder.
const (
	SkipUnknownTopic = "unknown-topic"
	SkipTopicCount   = "topic-count-mismatch"
	SkipDataLength   = "data-length-mismatch"
	SkipRemovedLog   = "removed-log"
)

// DecodeSkip records one log the decoder could not safely interpret.
// Skips are per-log; a malformed log never fails the surrounding batch.
type DecodeSkip struct {
	TxHash   string `json:"tx_hash"`
	LogIndex uint   `json:"log_index"`
	Reason   string `json:"reason"`
}
