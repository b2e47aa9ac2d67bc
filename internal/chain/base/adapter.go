package base

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/emperorhan/cca-indexer/internal/chain"
	"github.com/emperorhan/cca-indexer/internal/chain/base/rpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	defaultTimestampBatchSize = 50
	defaultTimestampDelay     = 100 * time.Millisecond
)

// TransferEventTopic is keccak256("Transfer(address,address,uint256)").
var TransferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

type Config struct {
	TokenAddress        string
	RecipientAddress    string
	TimestampBatchSize  int
	TimestampBatchDelay time.Duration
}

type Adapter struct {
	client    rpc.Provider
	token     common.Address
	recipient common.Address
	batchSize int
	delay     time.Duration
	sleep     func(context.Context, time.Duration) error
	logger    *slog.Logger
}

var _ chain.TransferLogSource = (*Adapter)(nil)

func NewAdapter(client rpc.Provider, cfg Config, logger *slog.Logger) (*Adapter, error) {
	if !common.IsHexAddress(cfg.TokenAddress) {
		return nil, fmt.Errorf("invalid token address %q", cfg.TokenAddress)
	}
	if !common.IsHexAddress(cfg.RecipientAddress) {
		return nil, fmt.Errorf("invalid recipient address %q", cfg.RecipientAddress)
	}
	if cfg.TimestampBatchSize <= 0 {
		cfg.TimestampBatchSize = defaultTimestampBatchSize
	}
	if cfg.TimestampBatchDelay < 0 {
		cfg.TimestampBatchDelay = defaultTimestampDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client:    client,
		token:     common.HexToAddress(cfg.TokenAddress),
		recipient: common.HexToAddress(cfg.RecipientAddress),
		batchSize: cfg.TimestampBatchSize,
		delay:     cfg.TimestampBatchDelay,
		sleep:     sleepCtx,
		logger:    logger.With("chain", "base"),
	}, nil
}

func (a *Adapter) Chain() string {
	return "base"
}

func (a *Adapter) HeadBlock(ctx context.Context) (int64, error) {
	return a.client.BlockNumber(ctx)
}

func (a *Adapter) TransferLogs(ctx context.Context, fromBlock, toBlock int64) ([]chain.RawTransferLog, error) {
	if fromBlock < 0 || toBlock < fromBlock {
		return nil, fmt.Errorf("invalid range %d..%d", fromBlock, toBlock)
	}

	logs, err := a.client.Logs(ctx, a.filter(fromBlock, toBlock))
	if err != nil {
		return nil, err
	}

	out := make([]chain.RawTransferLog, 0, len(logs))
	for i := range logs {
		if logs[i].Removed {
			continue
		}
		decoded, err := decodeTransferLog(&logs[i])
		if err != nil {
			return nil, fmt.Errorf("decode log %s: %w", logs[i].TransactionHash.Hex(), err)
		}
		out = append(out, decoded)
	}

	a.logger.Debug("fetched transfer logs",
		"from_block", fromBlock,
		"to_block", toBlock,
		"count", len(out),
	)
	return out, nil
}

func (a *Adapter) filter(fromBlock, toBlock int64) rpc.LogFilter {
	transferTopic := TransferEventTopic
	recipientTopic := common.BytesToHash(a.recipient.Bytes())
	return rpc.LogFilter{
		FromBlock: hexutil.Uint64(fromBlock),
		ToBlock:   hexutil.Uint64(toBlock),
		Address:   a.token,
		Topics:    []*common.Hash{&transferTopic, nil, &recipientTopic},
	}
}

// BlockTimes fetches header times in batches with a pause between batches.
// Whatever a batch could not resolve is left out so the caller can estimate
// those blocks.
func (a *Adapter) BlockTimes(ctx context.Context, blockNumbers []int64) (map[int64]time.Time, error) {
	result := make(map[int64]time.Time, len(blockNumbers))
	var errs []error

	for start := 0; start < len(blockNumbers); start += a.batchSize {
		if start > 0 && a.delay > 0 {
			if err := a.sleep(ctx, a.delay); err != nil {
				return result, err
			}
		}
		batch := blockNumbers[start:min(start+a.batchSize, len(blockNumbers))]

		times, err := a.client.BlockTimestamps(ctx, batch)
		for n, ts := range times {
			result[n] = ts
		}
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			a.logger.Warn("block timestamp batch incomplete",
				"first_block", batch[0],
				"size", len(batch),
				"resolved", len(times),
				"error", err,
			)
			errs = append(errs, err)
		}
	}

	return result, errors.Join(errs...)
}

func decodeTransferLog(lg *rpc.Log) (chain.RawTransferLog, error) {
	if len(lg.Topics) != 3 {
		return chain.RawTransferLog{}, fmt.Errorf("expected 3 topics, got %d", len(lg.Topics))
	}
	if lg.Topics[0] != TransferEventTopic {
		return chain.RawTransferLog{}, fmt.Errorf("unexpected event topic %s", lg.Topics[0].Hex())
	}
	if len(lg.Data) > 32 {
		return chain.RawTransferLog{}, fmt.Errorf("amount data is %d bytes", len(lg.Data))
	}

	return chain.RawTransferLog{
		Sender:      topicAddress(lg.Topics[1]),
		Recipient:   topicAddress(lg.Topics[2]),
		RawAmount:   new(big.Int).SetBytes(lg.Data),
		TxHash:      lg.TransactionHash.Hex(),
		BlockNumber: int64(lg.BlockNumber),
		LogIndex:    int64(lg.LogIndex),
	}, nil
}

func topicAddress(topic common.Hash) string {
	return strings.ToLower(common.BytesToAddress(topic.Bytes()).Hex())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
