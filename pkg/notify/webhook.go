// Package notify posts processed donations to a Discord-compatible
// webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/donodeck/pkg/ledger"
)

const defaultTimeout = 10 * time.Second

// Webhook delivers donation notifications as webhook messages. The
// payload is the {"content": ...} shape Discord expects.
type Webhook struct {
	url    string
	client *http.Client
	logger *log.Logger
}

// NewWebhook builds a notifier posting to url. An empty url yields a
// notifier that silently drops everything, so callers can wire it
// unconditionally.
func NewWebhook(url string, logger *log.Logger) *Webhook {
	if logger == nil {
		logger = log.Default()
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
		logger: logger,
	}
}

// Notify implements queue.Notifier.
func (w *Webhook) Notify(ctx context.Context, item *ledger.Item) error {
	if w.url == "" {
		return nil
	}

	payload := map[string]string{"content": FormatMessage(item)}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	w.logger.Debug("webhook delivered", "id", item.ID, "status", resp.StatusCode)
	return nil
}

// FormatMessage renders the webhook message body for a donation.
func FormatMessage(item *ledger.Item) string {
	return fmt.Sprintf("**%s** donated $%.2f\n\n*%s*\n\n`%s`",
		item.Username, item.Amount, item.Message, item.Timestamp)
}
