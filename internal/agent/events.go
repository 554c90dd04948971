package agent

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// EventType enumerates the typed run events emitted for live
// observability.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventStepPlanned   EventType = "step_planned"
	EventStepExecuted  EventType = "step_executed"
	EventStepValidated EventType = "step_validated"
	EventLoopDetected  EventType = "loop_detected"
	EventMacroSaved    EventType = "macro_saved"
	EventRunFinished   EventType = "run_finished"
	EventRunFailed     EventType = "run_failed"
)

// Event is one entry of a run's append-only event log.
type Event struct {
	RunID   string         `json:"run_id"`
	Type    EventType      `json:"type"`
	Time    time.Time      `json:"time"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Sink consumes run events. Emit must not block the run loop for long and
// must never fail it; delivery is best-effort.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// MultiSink fans events out to several sinks.
func MultiSink(sinks ...Sink) Sink { return multiSink(sinks) }

type multiSink []Sink

func (m multiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// LogSink writes events to the structured log.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Emit(_ context.Context, ev Event) {
	s.Logger.Info().
		Str("run_id", ev.RunID).
		Str("event", string(ev.Type)).
		Fields(ev.Payload).
		Msg("run event")
}
