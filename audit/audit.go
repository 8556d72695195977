// Package audit defines the hook surface a security-monitoring collaborator
// plugs into. The core emits events; it never persists them.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event kinds emitted by the core.
const (
	EventAuthSuccess        = "auth.success"
	EventAuthFailure        = "auth.failure"
	EventReplayRejected     = "auth.replay_rejected"
	EventChallengeIssued    = "challenge.issued"
	EventIdentityRegistered = "identity.registered"
	EventIdentityVerified   = "identity.verified"
	EventIdentityDeleted    = "identity.deleted"
	EventPluginRegistered   = "plugin.registered"
	EventPluginDestroyed    = "plugin.destroyed"
)

// Event is a single security-relevant occurrence.
type Event struct {
	Kind     string         `json:"kind"`
	UserID   string         `json:"user_id,omitempty"`
	Provider string         `json:"provider,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	At       time.Time      `json:"at"`
}

// Sink receives events. Implementations must not block the caller for long;
// slow destinations should buffer internally.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// ZapSink writes events to a structured logger.
type ZapSink struct {
	log *zap.Logger
}

func NewZapSink(log *zap.Logger) *ZapSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapSink{log: log}
}

func (s *ZapSink) Record(ctx context.Context, event Event) {
	s.log.Info("audit event",
		zap.String("kind", event.Kind),
		zap.String("user_id", event.UserID),
		zap.String("provider", event.Provider),
		zap.Any("details", event.Details),
		zap.Time("at", event.At),
	)
}

// Fanout delivers each event to every sink in order.
type Fanout []Sink

func (f Fanout) Record(ctx context.Context, event Event) {
	for _, s := range f {
		s.Record(ctx, event)
	}
}

// Emit stamps and records an event; a nil sink drops it.
func Emit(ctx context.Context, sink Sink, event Event) {
	if sink == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	sink.Record(ctx, event)
}
