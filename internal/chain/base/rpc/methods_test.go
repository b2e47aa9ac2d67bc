package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUSDC      = "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"
	testTxHash    = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
	transferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	auctionTopic  = "0x00000000000000000000000000000000000000000000000000000000000000aa"
	senderTopic   = "0x0000000000000000000000001111111111111111111111111111111111111111"
)

// rpcResult answers a single call with result.
func rpcResult(t *testing.T, r *http.Request, method, result string) *http.Response {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var req Request
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, method, req.Method)

	raw, err := json.Marshal(Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(result)})
	require.NoError(t, err)
	return jsonHTTPResponse(http.StatusOK, string(raw))
}

func TestBlockNumber(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		return rpcResult(t, r, "eth_blockNumber", `"0x10"`), nil
	})

	block, err := client.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(16), block)
}

func TestBlockNumber_MalformedQuantity(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		return rpcResult(t, r, "eth_blockNumber", `"16"`), nil
	})

	_, err := client.BlockNumber(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode block number")
}

func TestLogs_EncodesFilterAndDecodes(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req struct {
			ID     int              `json:"id"`
			Method string           `json:"method"`
			Params []map[string]any `json:"params"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "eth_getLogs", req.Method)
		require.Len(t, req.Params, 1)

		filter := req.Params[0]
		assert.Equal(t, "0x64", filter["fromBlock"])
		assert.Equal(t, "0x77", filter["toBlock"])
		assert.Equal(t, testUSDC, filter["address"])
		topics, ok := filter["topics"].([]any)
		require.True(t, ok)
		require.Len(t, topics, 3)
		assert.Equal(t, transferTopic, topics[0])
		assert.Nil(t, topics[1])
		assert.Equal(t, auctionTopic, topics[2])

		raw, err := json.Marshal(Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`[{
			"address":"` + testUSDC + `",
			"topics":["` + transferTopic + `","` + senderTopic + `","` + auctionTopic + `"],
			"data":"0x00000000000000000000000000000000000000000000000000000000000f4240",
			"blockNumber":"0x65",
			"transactionHash":"` + testTxHash + `",
			"logIndex":"0x3",
			"removed":false
		}]`)})
		require.NoError(t, err)
		return jsonHTTPResponse(http.StatusOK, string(raw)), nil
	})

	transfer, auction := common.HexToHash(transferTopic), common.HexToHash(auctionTopic)
	logs, err := client.Logs(context.Background(), LogFilter{
		FromBlock: 100,
		ToBlock:   119,
		Address:   common.HexToAddress(testUSDC),
		Topics:    []*common.Hash{&transfer, nil, &auction},
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, common.HexToHash(testTxHash), logs[0].TransactionHash)
	assert.Equal(t, hexutil.Uint64(0x65), logs[0].BlockNumber)
	assert.Equal(t, hexutil.Uint(3), logs[0].LogIndex)
	assert.Len(t, logs[0].Data, 32)
	require.Len(t, logs[0].Topics, 3)
	assert.Equal(t, transfer, logs[0].Topics[0])
}

func TestLogs_RejectsMalformedHash(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		return rpcResult(t, r, "eth_getLogs", `[{"transactionHash":"0xtx","blockNumber":"0x1"}]`), nil
	})

	_, err := client.Logs(context.Background(), LogFilter{FromBlock: 1, ToBlock: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode logs")
}

func TestBlockTimestamps(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var reqs []Request
		require.NoError(t, json.Unmarshal(body, &reqs))
		require.Len(t, reqs, 3)
		assert.Equal(t, "eth_getBlockByNumber", reqs[0].Method)
		assert.Equal(t, "0x1", reqs[0].Params[0])
		assert.Equal(t, false, reqs[0].Params[1])

		resp := []Response{
			{JSONRPC: "2.0", ID: reqs[0].ID, Result: json.RawMessage(`{"number":"0x1","timestamp":"0x64"}`)},
			{JSONRPC: "2.0", ID: reqs[1].ID, Result: json.RawMessage(`null`)},
			{JSONRPC: "2.0", ID: reqs[2].ID, Error: &RPCError{Code: -32000, Message: "header not found"}},
		}
		raw, err := json.Marshal(resp)
		require.NoError(t, err)
		return jsonHTTPResponse(http.StatusOK, string(raw)), nil
	})

	times, err := client.BlockTimestamps(context.Background(), []int64{1, 2, 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block 3")
	assert.Equal(t, map[int64]time.Time{1: time.Unix(100, 0).UTC()}, times)
}

func TestBlockTimestamps_ThrottledBatch(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		return jsonHTTPResponse(http.StatusTooManyRequests, "slow down"), nil
	})

	times, err := client.BlockTimestamps(context.Background(), []int64{1})
	require.Error(t, err)
	assert.Nil(t, times)
	var statusErr *HTTPStatusError
	assert.ErrorAs(t, err, &statusErr)
}

func TestBlockTimestamps_Empty(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})

	times, err := client.BlockTimestamps(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, times)
}
