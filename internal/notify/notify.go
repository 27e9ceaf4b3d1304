// Package notify pushes operator alerts out of the pipeline. Delivery is
// strictly best-effort: a dead webhook must never slow down or fail the
// execution path, so implementations log failures and move on.
package notify

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Alert kinds, one per source of operator-facing trouble.
const (
	KindGateRejected = "gate_rejected"
	KindKillSwitch   = "kill_switch"
	KindCritical     = "critical"
)

const defaultTimeout = 5 * time.Second

// Event is a single alert.
type Event struct {
	Kind     string         `json:"kind"`
	Title    string         `json:"title"`
	Body     string         `json:"body,omitempty"`
	SignalID string         `json:"signal_id,omitempty"`
	Symbol   string         `json:"symbol,omitempty"`
	Time     time.Time      `json:"time"`
	Details  map[string]any `json:"details,omitempty"`
}

// Notifier delivers one alert. Implementations swallow their own errors.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// WebhookNotifier POSTs alerts as JSON to a single URL (Slack-style
// incoming webhook, PagerDuty relay, whatever the operator points it at).
type WebhookNotifier struct {
	client *resty.Client
	url    string
	log    zerolog.Logger
}

// NewWebhook builds a webhook notifier. A non-positive timeout falls back
// to 5s; keep it short, the caller waits for the POST.
func NewWebhook(url string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)
	return &WebhookNotifier{
		client: client,
		url:    url,
		log:    logger.With().Str("component", "notify").Logger(),
	}
}

// Notify posts the event. Delivery failures are logged, not returned.
func (n *WebhookNotifier) Notify(ctx context.Context, ev Event) {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(ev).
		Post(n.url)
	if err != nil {
		n.log.Warn().Err(err).Str("kind", ev.Kind).Msg("webhook delivery failed")
		return
	}
	if resp.IsError() {
		n.log.Warn().Int("status", resp.StatusCode()).Str("kind", ev.Kind).Msg("webhook rejected alert")
	}
}

// LogNotifier is the fallback sink when no webhook is configured: alerts
// land in the structured log at warn level.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLog(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: logger.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) {
	n.log.Warn().
		Str("kind", ev.Kind).
		Str("signal_id", ev.SignalID).
		Str("symbol", ev.Symbol).
		Str("detail", ev.Body).
		Msg(ev.Title)
}
