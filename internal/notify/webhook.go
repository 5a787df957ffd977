package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/cmgoffena13/etl-file-loader/internal/config"
)

// AlertLevel classifies a webhook message for downstream routing.
type AlertLevel string

const (
	LevelInfo     AlertLevel = "INFO"
	LevelWarning  AlertLevel = "WARNING"
	LevelError    AlertLevel = "ERROR"
	LevelCritical AlertLevel = "CRITICAL"
	LevelSuccess  AlertLevel = "SUCCESS"
)

// WebhookNotifier posts run summaries and unhandled failures to the
// configured webhook. A missing URL disables it silently.
type WebhookNotifier struct {
	url    string
	client *resty.Client
	logger *slog.Logger
}

func NewWebhookNotifier(cfg config.NotifyConfig) *WebhookNotifier {
	client := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &WebhookNotifier{url: cfg.WebhookURL, client: client, logger: slog.Default()}
}

type webhookPayload struct {
	Title     string         `json:"title"`
	Text      string         `json:"text"`
	Level     AlertLevel     `json:"level"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Notify posts one message. Callers treat errors as log-and-continue:
// a dead webhook must never fail a run that already published.
func (w *WebhookNotifier) Notify(ctx context.Context, level AlertLevel, title, text string, details map[string]any) error {
	if w.url == "" {
		return nil
	}
	payload := webhookPayload{
		Title:     title,
		Text:      text,
		Level:     level,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Details:   details,
	}
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("notify: post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notify: webhook returned %d: %s", resp.StatusCode(), resp.String())
	}
	w.logger.Debug("webhook delivered", "title", title, "level", string(level))
	return nil
}
