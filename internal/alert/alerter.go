package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emperorhan/cca-indexer/internal/metrics"
	"github.com/hashicorp/go-retryablehttp"
)

type AlertType string

const (
	// AlertTypeSyncAborted fires when a run stops without saving progress.
	AlertTypeSyncAborted AlertType = "SYNC_ABORTED"
	// AlertTypeRateLimited fires when the RPC provider keeps throttling past the retry budget.
	AlertTypeRateLimited AlertType = "RATE_LIMITED"
	// AlertTypeRecovery fires on the first clean run after an abort.
	AlertTypeRecovery AlertType = "RECOVERY"
	// AlertTypeReconcileMismatch fires when the ledger disagrees with the chain.
	AlertTypeReconcileMismatch AlertType = "RECONCILE_MISMATCH"
)

type Alert struct {
	Type    AlertType
	Chain   string
	Network string
	Title   string
	Message string
	Fields  map[string]string
}

type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// MultiAlerter fans out to every channel, suppressing repeats of the same
// type within the cooldown window. Recovery alerts are never suppressed.
type MultiAlerter struct {
	alerters []Alerter
	cooldown time.Duration
	logger   *slog.Logger
	nowFn    func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewMultiAlerter(cooldown time.Duration, logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiAlerter{
		alerters: alerters,
		cooldown: cooldown,
		logger:   logger.With("component", "alerter"),
		nowFn:    time.Now,
		lastSent: make(map[string]time.Time),
	}
}

func cooldownKey(a Alert) string {
	return fmt.Sprintf("%s:%s:%s", a.Type, a.Chain, a.Network)
}

func (m *MultiAlerter) Send(ctx context.Context, alert Alert) error {
	if len(m.alerters) == 0 {
		return nil
	}

	if alert.Type != AlertTypeRecovery {
		key := cooldownKey(alert)
		m.mu.Lock()
		now := m.nowFn()
		if last, ok := m.lastSent[key]; ok && now.Sub(last) < m.cooldown {
			m.mu.Unlock()
			m.logger.Debug("alert suppressed by cooldown", "key", key)
			metrics.AlertsCooldownSkipped.WithLabelValues(string(alert.Type)).Inc()
			return nil
		}
		m.lastSent[key] = now
		m.mu.Unlock()
	}

	var firstErr error
	for _, a := range m.alerters {
		if err := a.Send(ctx, alert); err != nil {
			m.logger.Warn("alert send failed",
				"channel", alerterName(a),
				"type", alert.Type,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.AlertsSentTotal.WithLabelValues(alerterName(a), string(alert.Type)).Inc()
	}
	return firstErr
}

func alerterName(a Alerter) string {
	switch a.(type) {
	case *SlackAlerter:
		return "slack"
	case *WebhookAlerter:
		return "webhook"
	default:
		return "unknown"
	}
}

// newHTTPClient returns a client that retries 5xx and transport errors twice.
func newHTTPClient() *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = 10 * time.Second
	return rc.StandardClient()
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

type SlackAlerter struct {
	webhookURL string
	client     *http.Client
}

func NewSlackAlerter(webhookURL string) *SlackAlerter {
	return &SlackAlerter{webhookURL: webhookURL, client: newHTTPClient()}
}

func (s *SlackAlerter) Send(ctx context.Context, alert Alert) error {
	emoji := ":warning:"
	switch alert.Type {
	case AlertTypeRecovery:
		emoji = ":white_check_mark:"
	case AlertTypeSyncAborted:
		emoji = ":rotating_light:"
	case AlertTypeRateLimited:
		emoji = ":hourglass:"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *[%s]* %s/%s: %s\n%s",
		emoji, alert.Type, alert.Chain, alert.Network, alert.Title, alert.Message)

	if len(alert.Fields) > 0 {
		keys := make([]string, 0, len(alert.Fields))
		for k := range alert.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "- *%s*: %s\n", k, alert.Fields[k])
		}
	}

	if err := postJSON(ctx, s.client, s.webhookURL, map[string]string{"text": sb.String()}); err != nil {
		return fmt.Errorf("send slack alert: %w", err)
	}
	return nil
}

// WebhookAlerter posts the alert as a flat JSON object.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{url: url, client: newHTTPClient()}
}

func (w *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	payload := map[string]any{
		"type":    string(alert.Type),
		"chain":   alert.Chain,
		"network": alert.Network,
		"title":   alert.Title,
		"message": alert.Message,
		"fields":  alert.Fields,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if err := postJSON(ctx, w.client, w.url, payload); err != nil {
		return fmt.Errorf("send webhook alert: %w", err)
	}
	return nil
}

// NoopAlerter is used when no alert channel is configured.
type NoopAlerter struct{}

func (n *NoopAlerter) Send(_ context.Context, _ Alert) error { return nil }
