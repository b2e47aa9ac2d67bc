package chain

//go:generate mockgen -destination=mocks/mock_adapter.go -package=mocks . TransferLogSource

import (
	"context"
	"math/big"
	"time"
)

// TransferLogSource reads ERC-20 Transfer events into a single recipient
// contract. Implementations are chain-specific; the sync pipeline only
// sees this interface.
type TransferLogSource interface {
	// Chain returns the chain identifier (e.g., "base").
	Chain() string

	// HeadBlock returns the latest block number on chain.
	HeadBlock(ctx context.Context) (int64, error)

	// TransferLogs returns transfer events in the inclusive block range,
	// ordered as the provider returned them.
	TransferLogs(ctx context.Context, fromBlock, toBlock int64) ([]RawTransferLog, error)

	// BlockTimes resolves header timestamps. Blocks that could not be
	// resolved are absent from the map; a non-nil error may accompany a
	// partially filled map.
	BlockTimes(ctx context.Context, blockNumbers []int64) (map[int64]time.Time, error)
}

// RawTransferLog is a decoded Transfer event before normalization.
type RawTransferLog struct {
	Sender      string
	Recipient   string
	RawAmount   *big.Int
	TxHash      string
	BlockNumber int64
	LogIndex    int64
}
