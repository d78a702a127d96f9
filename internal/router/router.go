// Package router delivers alert batches to notifiers, suppressing messages
// whose event was already announced within the cooldown.
package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/catalyst/internal/metrics"
	"github.com/newthinker/catalyst/internal/notifier"
)

// Config holds router configuration
type Config struct {
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// DefaultConfig returns default router configuration
func DefaultConfig() Config {
	return Config{
		Cooldown: 24 * time.Hour,
	}
}

// Router routes messages to notifiers with cooldown filtering
type Router struct {
	cfg       Config
	registry  *notifier.Registry
	logger    *zap.Logger
	metrics   *metrics.Registry
	cooldowns map[string]time.Time // message key -> last delivery
	now       func() time.Time
	mu        sync.RWMutex
}

// New creates a new router; registry may be nil, in which case messages are
// only filtered.
func New(cfg Config, registry *notifier.Registry, logger *zap.Logger, m *metrics.Registry) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:       cfg,
		registry:  registry,
		logger:    logger,
		metrics:   m,
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Route processes a single message
func (r *Router) Route(ctx context.Context, msg notifier.Message) ([]notifier.Message, map[string]error) {
	return r.RouteBatch(ctx, []notifier.Message{msg})
}

// RouteBatch drops messages still cooling down, sends the rest as one batch
// to every notifier and returns what was sent plus per-notifier errors. Keys
// start cooling down only if at least one notifier accepted the batch, so a
// total outage is retried on the next run.
func (r *Router) RouteBatch(ctx context.Context, msgs []notifier.Message) ([]notifier.Message, map[string]error) {
	var filtered []notifier.Message
	seen := make(map[string]bool)

	for _, msg := range msgs {
		if !r.passesFilters(msg) || (msg.Key != "" && seen[msg.Key]) {
			r.logger.Debug("message suppressed", zap.String("key", msg.Key))
			continue
		}
		if msg.Key != "" {
			seen[msg.Key] = true
		}
		filtered = append(filtered, msg)
	}

	if len(filtered) == 0 {
		return nil, nil
	}

	var errs map[string]error
	delivered := true
	if r.registry != nil {
		errs = r.registry.NotifyAllBatch(ctx, filtered)
		names := make([]string, 0, r.registry.Len())
		for _, n := range r.registry.GetAll() {
			names = append(names, n.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			if err, failed := errs[name]; failed {
				r.logger.Error("notifier failed on batch", zap.String("notifier", name), zap.Error(err))
				r.metrics.RecordAlertRouted(name, "error")
				continue
			}
			r.metrics.RecordAlertRouted(name, "success")
		}
		delivered = len(errs) < len(names)
	}

	if delivered {
		now := r.now()
		r.mu.Lock()
		for _, msg := range filtered {
			if msg.Key != "" {
				r.cooldowns[msg.Key] = now
			}
		}
		r.mu.Unlock()
	}

	r.logger.Info("batch routed",
		zap.Int("total", len(msgs)),
		zap.Int("sent", len(filtered)),
		zap.Int("errors", len(errs)),
	)

	return filtered, errs
}

// passesFilters checks the cooldown of msg's key
func (r *Router) passesFilters(msg notifier.Message) bool {
	if msg.Key == "" {
		return true
	}

	r.mu.RLock()
	last, exists := r.cooldowns[msg.Key]
	r.mu.RUnlock()

	return !exists || r.now().Sub(last) >= r.cfg.Cooldown
}

// ClearCooldown removes the cooldown for a specific key
func (r *Router) ClearCooldown(key string) {
	r.mu.Lock()
	delete(r.cooldowns, key)
	r.mu.Unlock()
}

// CleanupExpiredCooldowns removes cooldown entries older than the cooldown.
func (r *Router) CleanupExpiredCooldowns() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0

	for key, last := range r.cooldowns {
		if now.Sub(last) >= r.cfg.Cooldown {
			delete(r.cooldowns, key)
			removed++
		}
	}

	return removed
}

// StartCleanupRoutine starts a background goroutine that periodically cleans up expired cooldowns.
func (r *Router) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := r.CleanupExpiredCooldowns()
				if removed > 0 {
					r.logger.Debug("cleaned up expired cooldowns", zap.Int("removed", removed))
				}
			}
		}
	}()
}

// ActiveCooldowns returns how many keys are currently tracked
func (r *Router) ActiveCooldowns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cooldowns)
}
