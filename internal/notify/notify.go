// Package notify sends best-effort outbound alerts to a Slack incoming
// webhook; cmd/engine sends one when the engine starts.
// A notification failure never blocks a caller — every send happens on
// its own goroutine with a short timeout, and errors are only logged.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrelquant/tradingcore/internal/config"
)

// Level classifies an Event for the receiving Slack channel's own
// routing/formatting, not for filtering here — every enabled Notifier
// forwards every Event it is given.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is a single outbound alert.
type Event struct {
	Level   Level
	Message string
}

// Notifier posts Events to a Slack incoming webhook URL. The zero value
// (no webhook configured) is a valid no-op notifier.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     zerolog.Logger
}

// New builds a Notifier from config.NotifyConfig. An empty
// SlackWebhookURL produces a Notifier whose Notify calls are silent
// no-ops, so callers never need to branch on whether notifications are
// configured.
func New(cfg config.NotifyConfig, logger zerolog.Logger) *Notifier {
	return &Notifier{
		webhookURL: cfg.SlackWebhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

// slackPayload is the minimal incoming-webhook message body Slack
// expects: a single "text" field.
type slackPayload struct {
	Text string `json:"text"`
}

// Notify posts event to the configured Slack webhook in a background
// goroutine and returns immediately. If no webhook is configured, it is
// a no-op.
func (n *Notifier) Notify(ctx context.Context, event Event) {
	if n == nil || n.webhookURL == "" {
		return
	}
	go n.post(ctx, event)
}

func (n *Notifier) post(ctx context.Context, event Event) {
	body, err := json.Marshal(slackPayload{Text: fmt.Sprintf("[%s] %s", event.Level, event.Message)})
	if err != nil {
		n.logger.Warn().Err(err).Msg("notify: failed to marshal payload")
		return
	}

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn().Err(err).Msg("notify: failed to build request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn().Err(err).Msg("notify: webhook post failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn().Int("status", resp.StatusCode).Msg("notify: webhook rejected message")
	}
}
