package audit

import (
	"context"
	"testing"
)

type captureSink struct {
	events []Event
}

func (s *captureSink) Record(ctx context.Context, event Event) {
	s.events = append(s.events, event)
}

func TestEmitStampsTimestamp(t *testing.T) {
	sink := &captureSink{}

	Emit(context.Background(), sink, Event{Kind: EventAuthSuccess, UserID: "u1"})

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	if sink.events[0].At.IsZero() {
		t.Error("expected Emit to stamp the event time")
	}
	if sink.events[0].Kind != EventAuthSuccess {
		t.Errorf("unexpected kind %s", sink.events[0].Kind)
	}
}

func TestEmitNilSink(t *testing.T) {
	// Must not panic.
	Emit(context.Background(), nil, Event{Kind: EventAuthFailure})
}

func TestFanout(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	sink := Fanout{a, b}

	Emit(context.Background(), sink, Event{Kind: EventReplayRejected})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("expected both sinks to receive the event, got %d/%d", len(a.events), len(b.events))
	}
}
