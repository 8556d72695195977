// Package ratelimit throttles authentication attempts. A Limiter counts
// attempts per key in a sliding window; Guard decorates any provider so
// throttled attempts come back as failed results without reaching the
// underlying authenticator.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/getveridian/veridian/provider"
)

// Limiter counts attempts against a key within a window.
type Limiter interface {
	// Allow reports whether another attempt is permitted and how many
	// remain in the current window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, err error)

	// Reset clears the counter for the key.
	Reset(ctx context.Context, key string) error
}

type windowEntry struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// MemoryLimiter is a process-local sliding window limiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &windowEntry{}
		l.entries[key] = entry
	}
	l.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	cutoff := l.now().Add(-window)
	kept := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	entry.timestamps = kept

	if len(entry.timestamps) >= limit {
		return false, 0, nil
	}

	entry.timestamps = append(entry.timestamps, l.now())
	return true, limit - len(entry.timestamps), nil
}

func (l *MemoryLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

// Config controls a Guard.
type Config struct {
	Limit  int
	Window time.Duration

	// KeyFunc extracts the throttle key from the credential bag, usually
	// the username or credential id. Attempts with an empty key are not
	// throttled.
	KeyFunc func(credentials map[string]any) string

	// FailOpen allows attempts through when the limiter itself fails.
	FailOpen bool
}

// Guard decorates a provider with attempt throttling.
type Guard struct {
	next    provider.Provider
	limiter Limiter
	cfg     Config
	log     *zap.Logger
}

func NewGuard(next provider.Provider, limiter Limiter, cfg Config, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{next: next, limiter: limiter, cfg: cfg, log: log}
}

func (g *Guard) Authenticate(ctx context.Context, credentials map[string]any) (*provider.AuthResult, error) {
	key := ""
	if g.cfg.KeyFunc != nil {
		key = g.cfg.KeyFunc(credentials)
	}
	if key == "" {
		return g.next.Authenticate(ctx, credentials)
	}

	allowed, _, err := g.limiter.Allow(ctx, key, g.cfg.Limit, g.cfg.Window)
	if err != nil {
		if g.cfg.FailOpen {
			g.log.Warn("rate limiter unavailable, failing open", zap.Error(err))
			return g.next.Authenticate(ctx, credentials)
		}
		return nil, fmt.Errorf("ratelimit: %w", err)
	}
	if !allowed {
		g.log.Info("authentication attempt throttled", zap.String("key", key))
		return provider.Fail(provider.ReasonAuthFailed), nil
	}

	return g.next.Authenticate(ctx, credentials)
}

func (g *Guard) Verify(ctx context.Context, sessionToken string) (*provider.VerifyResult, error) {
	return g.next.Verify(ctx, sessionToken)
}
