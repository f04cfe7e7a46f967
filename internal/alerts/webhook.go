package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/tradeops/eventguard/internal/observ"
)

// WebhookConfig points escalations at a chat webhook (Slack-compatible
// payload shape).
type WebhookConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type webhookPayload struct {
	Text      string `json:"text"`
	EntityID  string `json:"entity_id"`
	AlertType string `json:"alert_type"`
	Severity  string `json:"severity"`
	Escalated bool   `json:"escalated"`
	Timestamp string `json:"timestamp"`
}

// WebhookNotifier delivers alerts over HTTP with a bounded queue so a slow
// endpoint never blocks the engine's tick.
type WebhookNotifier struct {
	cfg        WebhookConfig
	httpClient *http.Client
	queue      chan webhookPayload
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 5000
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &WebhookNotifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		queue:      make(chan webhookPayload, 256),
		ctx:        ctx,
		cancel:     cancel,
	}
	n.wg.Add(1)
	go n.worker()
	return n
}

func (n *WebhookNotifier) Notify(a Alert) {
	n.enqueue(a, false)
}

func (n *WebhookNotifier) NotifyEscalation(a Alert) {
	n.enqueue(a, true)
}

func (n *WebhookNotifier) enqueue(a Alert, escalated bool) {
	if !n.cfg.Enabled || n.cfg.URL == "" {
		return
	}
	p := webhookPayload{
		Text:      a.Message,
		EntityID:  a.EntityID,
		AlertType: a.Type,
		Severity:  a.Severity.String(),
		Escalated: escalated,
		Timestamp: a.Timestamp.Format(time.RFC3339),
	}
	select {
	case n.queue <- p:
	default:
		// Full queue: dropping beats blocking the tick.
		observ.IncCounter("webhook_dropped_total", nil)
	}
}

func (n *WebhookNotifier) worker() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case p := <-n.queue:
			n.deliver(p)
		}
	}
}

// deliver retries transient failures with capped backoff.
func (n *WebhookNotifier) deliver(p webhookPayload) {
	body, err := json.Marshal(p)
	if err != nil {
		return
	}
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(n.ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := n.httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 300 {
				observ.IncCounter("webhook_sent_total", nil)
				return
			}
		}
		select {
		case <-n.ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	observ.IncCounter("webhook_errors_total", nil)
}

// Close stops the worker; queued payloads are abandoned.
func (n *WebhookNotifier) Close() {
	n.cancel()
	n.wg.Wait()
}
