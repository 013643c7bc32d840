// Package audit records an append-only trail of changes to clinical records.
// Services call a Recorder after each successful write; the Recorder fans the
// event out to its Sink and only logs failures.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Action string

const (
	ActionAdd    Action = "ADD"
	ActionModify Action = "MODIFY"
	ActionDelete Action = "DELETE"
)

type Event struct {
	ID        uuid.UUID              `json:"id"`
	Table     string                 `json:"table"`
	RecordID  uuid.UUID              `json:"record_id"`
	Action    Action                 `json:"action"`
	ActorID   uuid.UUID              `json:"actor_id"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Sink persists or forwards audit events.
type Sink interface {
	Record(ctx context.Context, evt Event) error
}

type SinkFunc func(ctx context.Context, evt Event) error

func (f SinkFunc) Record(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Fanout delivers each event to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Record(ctx context.Context, evt Event) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to a zerolog logger.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Record(_ context.Context, evt Event) error {
	s.Logger.Info().
		Str("type", "audit").
		Str("audit_id", evt.ID.String()).
		Str("table", evt.Table).
		Str("record_id", evt.RecordID.String()).
		Str("action", string(evt.Action)).
		Str("actor_id", evt.ActorID.String()).
		Interface("details", evt.Details).
		Msg("record changed")
	return nil
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemorySink) Record(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Recorder is what services hold. A nil *Recorder records nothing.
type Recorder struct {
	sink   Sink
	logger zerolog.Logger
	now    func() time.Time
}

func NewRecorder(sink Sink, logger zerolog.Logger) *Recorder {
	return &Recorder{sink: sink, logger: logger, now: time.Now}
}

// Record stamps and delivers one event. Delivery errors are logged and
// swallowed so an audit outage never fails the write it describes.
func (r *Recorder) Record(ctx context.Context, table string, recordID uuid.UUID, action Action, actorID uuid.UUID, details map[string]interface{}) {
	if r == nil || r.sink == nil {
		return
	}
	evt := Event{
		ID:        uuid.New(),
		Table:     table,
		RecordID:  recordID,
		Action:    action,
		ActorID:   actorID,
		Details:   details,
		CreatedAt: r.now().UTC(),
	}
	if err := r.sink.Record(ctx, evt); err != nil {
		r.logger.Error().Err(err).
			Str("table", table).
			Str("record_id", recordID.String()).
			Str("action", string(action)).
			Msg("audit write failed")
	}
}
