package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Sink delivers a batch of events. Publish either delivers the whole batch
// or returns an error; the dispatcher retries failed batches.
type Sink interface {
	Publish(ctx context.Context, batch []Event) error
	Close() error
}

// LogSink writes events to the structured log. Used when no broker is
// configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, batch []Event) error {
	for _, e := range batch {
		s.logger.InfoContext(ctx, "domain event",
			"event_id", e.ID,
			"type", e.Type,
			"registration_id", e.RegistrationID,
			"data", json.RawMessage(e.Data),
			"log_type", "event")
	}
	return nil
}

func (s *LogSink) Close() error { return nil }

// MemorySink keeps published events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	seen   map[string]bool
}

func NewMemorySink() *MemorySink {
	return &MemorySink{seen: make(map[string]bool)}
}

// Publish appends the batch, dropping events whose ID was already seen.
func (s *MemorySink) Publish(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range batch {
		if s.seen[e.ID.String()] {
			continue
		}
		s.seen[e.ID.String()] = true
		s.events = append(s.events, e)
	}
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Events returns a copy of everything published so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// OfType filters Events by type.
func (s *MemorySink) OfType(t Type) []Event {
	var out []Event
	for _, e := range s.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
