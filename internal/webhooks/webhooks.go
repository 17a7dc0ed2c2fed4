// Package webhooks delivers best-effort settlement notifications to a
// provider's registered webhook_url. Delivery never blocks or fails a
// settlement response — it runs after the fact, fire-and-forget, exactly
// like the teacher's event emitter.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/x402gw/gateway/internal/idgen"
	"github.com/x402gw/gateway/internal/metrics"
)

// EventType names the kind of settlement lifecycle event being reported.
type EventType string

const (
	EventSettlementConfirmed EventType = "settlement.confirmed"
	EventSettlementReverted  EventType = "settlement.reverted"
)

// Event is the JSON body POSTed to a provider's webhook_url.
type Event struct {
	ID              string    `json:"id"`
	Type            EventType `json:"type"`
	ServiceID       string    `json:"serviceId"`
	Payer           string    `json:"payer"`
	TxHash          string    `json:"txHash"`
	AmountBaseUnits string    `json:"amountBaseUnits"`
	Timestamp       time.Time `json:"timestamp"`
}

// Notifier posts settlement events to provider-registered webhook URLs,
// signing each payload with a shared HMAC secret (internal/security's
// constant-time-compare idiom is the verification-side counterpart a
// provider would implement).
type Notifier struct {
	client *http.Client
	secret string
	logger *slog.Logger
}

// NewNotifier creates a Notifier. secret is config.Config.WebhookSecret;
// an empty secret disables signing but not delivery.
func NewNotifier(secret string, logger *slog.Logger) *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: 10 * time.Second},
		secret: secret,
		logger: logger,
	}
}

// Notify delivers event to url. Call it in a goroutine — Notify blocks
// for up to the client timeout and never returns an error the caller
// needs to act on; failures are logged and counted.
func (n *Notifier) Notify(ctx context.Context, url string, event Event) {
	if url == "" {
		return
	}
	if event.ID == "" {
		event.ID = idgen.WithPrefix("evt_")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	body, err := json.Marshal(event)
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("marshal_error").Inc()
		n.logger.Warn("webhook: failed to marshal event", "error", err)
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("request_error").Inc()
		n.logger.Warn("webhook: failed to build request", "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", string(event.Type))
	if n.secret != "" {
		req.Header.Set("X-Webhook-Signature", n.sign(body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("delivery_error").Inc()
		n.logger.Warn("webhook: delivery failed", "url", url, "event", event.Type, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		metrics.WebhookDeliveriesTotal.WithLabelValues("non_2xx").Inc()
		n.logger.Warn("webhook: provider returned non-2xx", "url", url, "status", resp.StatusCode)
		return
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
}

func (n *Notifier) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(n.secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
