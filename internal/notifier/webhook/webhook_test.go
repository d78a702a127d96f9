package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/newthinker/catalyst/internal/notifier"
)

func TestWebhook_ImplementsNotifier(t *testing.T) {
	var _ notifier.Notifier = (*Webhook)(nil)
}

func TestWebhook_Name(t *testing.T) {
	w := New("http://example.com/hook", nil)
	if w.Name() != "webhook" {
		t.Errorf("expected 'webhook', got %s", w.Name())
	}
}

func TestWebhook_Init_RequiresURL(t *testing.T) {
	w := &Webhook{}
	err := w.Init(notifier.Config{Params: map[string]any{}})
	if err == nil {
		t.Error("expected error for missing URL")
	}
}

func TestWebhook_Init_WithParams(t *testing.T) {
	w := &Webhook{}
	err := w.Init(notifier.Config{
		Params: map[string]any{
			"url":     "http://example.com/hook",
			"name":    "discord-alerts",
			"format":  "Discord",
			"timeout": "5s",
			"headers": map[string]any{"X-Token": "abc"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.url != "http://example.com/hook" {
		t.Errorf("expected url, got %s", w.url)
	}
	if w.Name() != "discord-alerts" {
		t.Errorf("expected name discord-alerts, got %s", w.Name())
	}
	if w.format != FormatDiscord {
		t.Errorf("expected discord format, got %s", w.format)
	}
	if w.client.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %s", w.client.Timeout)
	}
	if w.headers["X-Token"] != "abc" {
		t.Errorf("expected header from params, got %v", w.headers)
	}
}

func TestWebhook_Init_RejectsBadParams(t *testing.T) {
	cases := []map[string]any{
		{"url": "http://example.com/hook", "format": "slack-blocks"},
		{"url": "http://example.com/hook", "timeout": "soon"},
	}
	for _, params := range cases {
		w := &Webhook{}
		if err := w.Init(notifier.Config{Params: params}); err == nil {
			t.Errorf("expected error for params %v", params)
		}
	}
}

func TestWebhook_Send(t *testing.T) {
	var receivedPayload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&receivedPayload)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	w := New(server.URL, nil)

	msg := notifier.Message{
		Kind:   "alert",
		Ticker: "AAPL",
		Title:  "AAPL Long Straddle",
		Text:   "AAPL earnings in 12d",
		Fields: map[string]any{"days_until": 12},
		SentAt: time.Now(),
	}

	err := w.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receivedPayload["ticker"] != "AAPL" {
		t.Errorf("expected ticker AAPL, got %v", receivedPayload["ticker"])
	}
	if receivedPayload["content"] != "AAPL earnings in 12d" {
		t.Errorf("expected content, got %v", receivedPayload["content"])
	}
	fields, _ := receivedPayload["fields"].(map[string]any)
	if fields["days_until"].(float64) != 12 {
		t.Errorf("expected days_until field, got %v", receivedPayload["fields"])
	}
}

func TestWebhook_DiscordFormat(t *testing.T) {
	var (
		mu       sync.Mutex
		contents []string
		keys     []int
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		contents = append(contents, payload["content"].(string))
		keys = append(keys, len(payload))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	w := &Webhook{}
	if err := w.Init(notifier.Config{Params: map[string]any{"url": server.URL, "format": "discord"}}); err != nil {
		t.Fatal(err)
	}

	msgs := []notifier.Message{
		{Ticker: "AAPL", Text: "first"},
		{Ticker: "MSFT", Text: strings.Repeat("x", 2500)},
	}
	if err := w.SendBatch(context.Background(), msgs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(contents) != 2 {
		t.Fatalf("expected one request per message, got %d", len(contents))
	}
	if contents[0] != "first" || keys[0] != 1 {
		t.Errorf("expected content-only payload, got %q with %d keys", contents[0], keys[0])
	}
	if n := len([]rune(contents[1])); n != 2000 {
		t.Errorf("expected content truncated to 2000 runes, got %d", n)
	}
}

func TestWebhook_SendBatch(t *testing.T) {
	var receivedPayload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&receivedPayload)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	w := New(server.URL, nil)

	msgs := []notifier.Message{
		{Ticker: "AAPL", Text: "a", SentAt: time.Now()},
		{Ticker: "GOOG", Text: "b", SentAt: time.Now()},
	}

	err := w.SendBatch(context.Background(), msgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receivedPayload["type"] != "batch" {
		t.Errorf("expected type batch, got %v", receivedPayload["type"])
	}
	if receivedPayload["count"].(float64) != 2 {
		t.Errorf("expected count 2, got %v", receivedPayload["count"])
	}
}

func TestWebhook_SendBatch_Empty(t *testing.T) {
	w := New("http://example.com/hook", nil)
	err := w.SendBatch(context.Background(), []notifier.Message{})
	if err != nil {
		t.Errorf("empty batch should not error: %v", err)
	}
}

func TestWebhook_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid webhook token", http.StatusUnauthorized)
	}))
	defer server.Close()

	w := New(server.URL, nil)

	err := w.Send(context.Background(), notifier.Message{Ticker: "TEST"})
	if err == nil {
		t.Fatal("expected error for error response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestWebhook_CustomHeaders(t *testing.T) {
	var receivedHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	headers := map[string]string{
		"Authorization": "Bearer test-token",
		"X-Custom":      "value",
	}
	w := New(server.URL, headers)

	w.Send(context.Background(), notifier.Message{Ticker: "TEST"})

	if receivedHeaders.Get("Authorization") != "Bearer test-token" {
		t.Error("expected Authorization header")
	}
	if receivedHeaders.Get("X-Custom") != "value" {
		t.Error("expected X-Custom header")
	}
}

func TestWebhook_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := New(server.URL, nil).Send(ctx, notifier.Message{Ticker: "TEST"}); err == nil {
		t.Error("expected error for cancelled context")
	}
}
