package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	baserpc "github.com/emperorhan/cca-indexer/internal/chain/base/rpc"
)

type Class string

const (
	ClassTerminal    Class = "terminal"
	ClassTransient   Class = "transient"
	ClassRateLimited Class = "rate_limited"
)

type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient || d.Class == ClassRateLimited
}

func (d Decision) IsRateLimited() bool {
	return d.Class == ClassRateLimited
}

type classifiedError struct {
	err    error
	class  Class
	reason string
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

func Transient(err error) error {
	return mark(err, ClassTransient, "explicit_transient")
}

func Terminal(err error) error {
	return mark(err, ClassTerminal, "explicit_terminal")
}

func RateLimited(err error) error {
	return mark(err, ClassRateLimited, "explicit_rate_limited")
}

func mark(err error, class Class, reason string) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: class, reason: reason}
}

// Classify decides how a chain provider error should be handled. Only
// ClassRateLimited is retried by the chunk fetcher; everything else stops
// the chunk loop.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}

	var marked *classifiedError
	if errors.As(err, &marked) {
		return Decision{Class: marked.class, Reason: marked.reason}
	}

	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Decision{Class: ClassTransient, Reason: "context_deadline_exceeded"}
	}

	var statusErr *baserpc.HTTPStatusError
	if errors.As(err, &statusErr) {
		return classifyHTTPStatus(statusErr.StatusCode)
	}

	var rpcErr *baserpc.RPCError
	if errors.As(err, &rpcErr) {
		if d := classifyJSONRPCCode(rpcErr.Code); d.Class != ClassTerminal {
			return d
		}
		if containsAny(strings.ToLower(rpcErr.Message), rateLimitMessageTokens) {
			return Decision{Class: ClassRateLimited, Reason: "jsonrpc_message_rate_limited"}
		}
		return Decision{Class: ClassTerminal, Reason: "jsonrpc_terminal"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Decision{Class: ClassTransient, Reason: "net_timeout"}
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, rateLimitMessageTokens) {
		return Decision{Class: ClassRateLimited, Reason: "message_rate_limited"}
	}
	if containsAny(lower, terminalMessageTokens) {
		return Decision{Class: ClassTerminal, Reason: "message_terminal"}
	}
	if containsAny(lower, transientMessageTokens) {
		return Decision{Class: ClassTransient, Reason: "message_transient"}
	}

	return Decision{Class: ClassTerminal, Reason: "unknown_terminal_default"}
}

func classifyHTTPStatus(code int) Decision {
	switch code {
	case http.StatusTooManyRequests:
		return Decision{Class: ClassRateLimited, Reason: "http_429"}
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return Decision{Class: ClassTransient, Reason: "http_5xx"}
	default:
		return Decision{Class: ClassTerminal, Reason: "http_status"}
	}
}

func classifyJSONRPCCode(code int) Decision {
	switch {
	case code == -32005 || code == 429:
		return Decision{Class: ClassRateLimited, Reason: "jsonrpc_limit_exceeded"}
	case code == -32603:
		return Decision{Class: ClassTransient, Reason: "jsonrpc_internal"}
	default:
		return Decision{Class: ClassTerminal, Reason: "jsonrpc_terminal"}
	}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var rateLimitMessageTokens = []string{
	"rate limit",
	"too many requests",
	"limit exceeded",
	"exceeded the rate",
	"compute units",
	"http status 429",
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"econnreset",
	"econnrefused",
	"http status 502",
	"http status 503",
	"http status 504",
	"server closed idle connection",
}

var terminalMessageTokens = []string{
	"invalid argument",
	"invalid params",
	"method not found",
	"parse error",
	"execution reverted",
	"block range",
	"query returned more than",
}
