// Package webhook implements an HTTP webhook notifier
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/newthinker/catalyst/internal/notifier"
)

// Payload formats
const (
	// FormatJSON posts the full structured message
	FormatJSON = "json"
	// FormatDiscord posts {"content": text}, one request per message
	FormatDiscord = "discord"
)

const (
	defaultTimeout = 30 * time.Second
	// Discord rejects content longer than this
	discordMaxContent = 2000
)

// Webhook implements the Notifier interface for HTTP webhooks
type Webhook struct {
	name    string
	url     string
	format  string
	headers map[string]string
	client  *http.Client
}

// New creates a new Webhook notifier posting structured JSON
func New(url string, headers map[string]string) *Webhook {
	return &Webhook{
		name:    "webhook",
		url:     url,
		format:  FormatJSON,
		headers: headers,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

func (w *Webhook) Name() string { return w.name }

// Init reads url, name, format, headers and timeout from cfg.Params
func (w *Webhook) Init(cfg notifier.Config) error {
	if w.name == "" {
		w.name = "webhook"
	}
	if w.format == "" {
		w.format = FormatJSON
	}
	if url, ok := cfg.Params["url"].(string); ok {
		w.url = url
	}
	if name, ok := cfg.Params["name"].(string); ok && name != "" {
		w.name = name
	}
	if format, ok := cfg.Params["format"].(string); ok && format != "" {
		w.format = strings.ToLower(format)
	}
	switch headers := cfg.Params["headers"].(type) {
	case map[string]string:
		w.headers = headers
	case map[string]any:
		w.headers = make(map[string]string, len(headers))
		for k, v := range headers {
			w.headers[k] = fmt.Sprint(v)
		}
	}

	timeout := defaultTimeout
	switch v := cfg.Params["timeout"].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("webhook: invalid timeout %q: %w", v, err)
		}
		timeout = d
	case time.Duration:
		timeout = v
	case int:
		timeout = time.Duration(v) * time.Second
	}

	if w.url == "" {
		return fmt.Errorf("webhook: url is required")
	}
	if w.format != FormatJSON && w.format != FormatDiscord {
		return fmt.Errorf("webhook: unknown format %q", w.format)
	}

	w.client = &http.Client{Timeout: timeout}
	return nil
}

func (w *Webhook) Send(ctx context.Context, msg notifier.Message) error {
	if w.format == FormatDiscord {
		return w.post(ctx, discordPayload(msg))
	}
	return w.post(ctx, messageToPayload(msg))
}

func (w *Webhook) SendBatch(ctx context.Context, msgs []notifier.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	if w.format == FormatDiscord {
		for _, msg := range msgs {
			if err := w.Send(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	}

	payloads := make([]map[string]any, len(msgs))
	for i, msg := range msgs {
		payloads[i] = messageToPayload(msg)
	}

	batchPayload := map[string]any{
		"type":     "batch",
		"count":    len(msgs),
		"messages": payloads,
	}

	return w.post(ctx, batchPayload)
}

func messageToPayload(msg notifier.Message) map[string]any {
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	return map[string]any{
		"type":    msg.Kind,
		"ticker":  msg.Ticker,
		"title":   msg.Title,
		"content": msg.Text,
		"fields":  msg.Fields,
		"sent_at": sentAt.UTC().Format(time.RFC3339),
	}
}

func discordPayload(msg notifier.Message) map[string]any {
	content := msg.Text
	if content == "" {
		content = msg.Title
	}
	if r := []rune(content); len(r) > discordMaxContent {
		content = string(r[:discordMaxContent-1]) + "…"
	}
	return map[string]any{"content": content}
}

func (w *Webhook) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return nil
}
