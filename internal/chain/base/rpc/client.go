package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/emperorhan/cca-indexer/internal/chain/ratelimit"
)

const chainLabel = "base"

// Provider is the JSON-RPC surface the Base adapter needs.
type Provider interface {
	BlockNumber(ctx context.Context) (int64, error)
	Logs(ctx context.Context, filter LogFilter) ([]Log, error)
	BlockTimestamps(ctx context.Context, blockNumbers []int64) (map[int64]time.Time, error)
}

type Client struct {
	httpClient *http.Client
	rpcURL     string
	requestID  atomic.Int64
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
}

var _ Provider = (*Client)(nil)

// NewClient creates a JSON-RPC client. limiter may be nil to disable
// client-side throttling.
func NewClient(rpcURL string, limiter *ratelimit.Limiter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		rpcURL:     rpcURL,
		limiter:    limiter,
		logger:     logger,
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (result json.RawMessage, err error) {
	defer func() { ratelimit.RecordRPCCall(chainLabel, method, err) }()

	if err := c.wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(c.newRequest(method, params))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

func (c *Client) callBatch(ctx context.Context, requests []Request) (responses []Response, err error) {
	if len(requests) == 0 {
		return []Response{}, nil
	}
	defer func() { ratelimit.RecordRPCCall(chainLabel, requests[0].Method+"_batch", err) }()

	if err := c.wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(requests)
	if err != nil {
		return nil, fmt.Errorf("marshal batch request: %w", err)
	}

	respBody, err := c.post(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}

	// Some providers answer a throttled batch with a single error object.
	var single Response
	if err := json.Unmarshal(respBody, &single); err == nil && single.Error != nil {
		return nil, single.Error
	}

	var rpcResps []Response
	if err := json.Unmarshal(respBody, &rpcResps); err != nil {
		return nil, fmt.Errorf("unmarshal batch response: %w", err)
	}

	responseByID := make(map[int]Response, len(rpcResps))
	for _, rpcResp := range rpcResps {
		responseByID[rpcResp.ID] = rpcResp
	}

	ordered := make([]Response, len(requests))
	for i, req := range requests {
		rpcResp, ok := responseByID[req.ID]
		if !ok {
			return nil, fmt.Errorf("missing batch response id=%d method=%s", req.ID, req.Method)
		}
		ordered[i] = rpcResp
	}

	return ordered, nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 256)}
	}
	return respBody, nil
}

func (c *Client) newRequest(method string, params []interface{}) Request {
	id := int(c.requestID.Add(1))
	return Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
