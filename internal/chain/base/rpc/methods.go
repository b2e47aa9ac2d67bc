package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

func (c *Client) BlockNumber(ctx context.Context) (int64, error) {
	result, err := c.call(ctx, "eth_blockNumber", []interface{}{})
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	var head hexutil.Uint64
	if err := json.Unmarshal(result, &head); err != nil {
		return 0, fmt.Errorf("decode block number: %w", err)
	}
	return int64(head), nil
}

func (c *Client) Logs(ctx context.Context, filter LogFilter) ([]Log, error) {
	result, err := c.call(ctx, "eth_getLogs", []interface{}{filter})
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs(%d..%d): %w", filter.FromBlock, filter.ToBlock, err)
	}
	var logs []Log
	if err := json.Unmarshal(result, &logs); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}
	return logs, nil
}

// BlockTimestamps reads header times for blockNumbers in one JSON-RPC batch.
// A failed transport or a throttled batch returns a nil map. Blocks the node
// does not know or answered with an error are left out of the map, and the
// per-block errors are joined into the returned error.
func (c *Client) BlockTimestamps(ctx context.Context, blockNumbers []int64) (map[int64]time.Time, error) {
	out := make(map[int64]time.Time, len(blockNumbers))
	if len(blockNumbers) == 0 {
		return out, nil
	}

	requests := make([]Request, len(blockNumbers))
	for i, n := range blockNumbers {
		requests[i] = c.newRequest("eth_getBlockByNumber", []interface{}{hexutil.EncodeUint64(uint64(n)), false})
	}
	responses, err := c.callBatch(ctx, requests)
	if err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber batch: %w", err)
	}

	var errs []error
	for i, resp := range responses {
		n := blockNumbers[i]
		if resp.Error != nil {
			errs = append(errs, fmt.Errorf("block %d: %w", n, resp.Error))
			continue
		}
		if len(resp.Result) == 0 || string(resp.Result) == "null" {
			continue
		}
		var h header
		if err := json.Unmarshal(resp.Result, &h); err != nil {
			errs = append(errs, fmt.Errorf("decode block %d: %w", n, err))
			continue
		}
		if h.Timestamp == 0 {
			continue
		}
		out[n] = time.Unix(int64(h.Timestamp), 0).UTC()
	}
	return out, errors.Join(errs...)
}
