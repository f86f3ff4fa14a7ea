// Package notify delivers coordination events to an external collaborator.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentgate/internal/logging"
)

// Kind classifies an event.
type Kind string

const (
	KindDenied     Kind = "dispatch_denied"
	KindHealed     Kind = "trace_healed"
	KindCompleted  Kind = "trace_completed"
	KindCheckpoint Kind = "checkpoint_created"
	KindVerified   Kind = "proof_verified"
)

// Event is one notification.
type Event struct {
	Kind       Kind      `json:"kind"`
	ProjectID  string    `json:"project_id,omitempty"`
	WorkerType string    `json:"worker_type,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// Sink receives events. Delivery failures must not affect the caller's
// decision, so implementations report them only through the returned error.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// LogSink writes events to a logger.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink returns a sink logging at info level.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogSink{logger: logger.Named("notify")}
}

func (s *LogSink) Notify(ctx context.Context, ev Event) error {
	s.logger.Info(ctx, ev.Message,
		zap.String("event.kind", string(ev.Kind)),
		zap.String("project.id", ev.ProjectID),
		zap.String("worker.type", ev.WorkerType),
		zap.String("trace.id", ev.TraceID),
		zap.Time("event.at", ev.At))
	return nil
}

// MemorySink records events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemorySink) Notify(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of everything received.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// OfKind returns the received events of kind k.
func (s *MemorySink) OfKind(k Kind) []Event {
	var out []Event
	for _, ev := range s.Events() {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

// Multi fans an event out to every sink and returns the first error.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
