package naming

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultMaxRetries     = 3
	defaultRequestTimeout = 15 * time.Second
)

// NewHTTPClient returns a retrying HTTP client for naming-service RPC traffic.
func NewHTTPClient(logger *slog.Logger) *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = defaultMaxRetries
	client.Logger = logger
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		yes, err2 := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		if yes {
			if resp == nil {
				logger.Warn("retrying naming rpc request", "error", err2)
			} else {
				logger.Warn("retrying naming rpc request", "status", resp.Status, "error", err2)
			}
		}
		return yes, err2
	}
	client.Backoff = retryablehttp.LinearJitterBackoff
	client.HTTPClient.Timeout = defaultRequestTimeout
	return client.StandardClient()
}

// Dial connects an ethclient to url over httpClient.
func Dial(ctx context.Context, url string, httpClient *http.Client) (*ethclient.Client, error) {
	rpcClient, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return ethclient.NewClient(rpcClient), nil
}
