// Package notifier delivers scan alerts and run summaries to chat channels.
package notifier

import (
	"context"
	"time"
)

// Config holds notifier configuration
type Config struct {
	Type   string         `mapstructure:"type"`
	Params map[string]any `mapstructure:"params"`
}

// Message is one alert. Text is the human-readable rendering; Fields carry
// the same data for structured consumers.
type Message struct {
	Kind   string // "alert" or "summary"
	Ticker string
	// Key identifies the underlying event for cooldowns; empty is never suppressed
	Key    string
	Title  string
	Text   string
	Fields map[string]any
	SentAt time.Time
}

// Notifier defines the interface for alert delivery
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Init initializes the notifier with configuration
	Init(cfg Config) error

	// Send delivers a single message
	Send(ctx context.Context, msg Message) error

	// SendBatch delivers several messages
	SendBatch(ctx context.Context, msgs []Message) error
}
