// ABOUTME: Instrumentation capability boundary for host-supplied telemetry sinks.
// ABOUTME: Absence of a sink is always safe; the no-op instrument is the default.

package telemetry

import (
	"context"
	"log/slog"
	"time"
)

// Event is one instrumentation record. Attrs carries event-specific fields.
type Event struct {
	Name  string
	Time  time.Time
	Attrs map[string]any
}

// Instrument receives instrumentation events. Implementations must be safe
// for concurrent use and must not block the caller.
type Instrument interface {
	Record(ctx context.Context, event Event)
}

// Noop returns an instrument that discards every event.
func Noop() Instrument { return noop{} }

type noop struct{}

func (noop) Record(ctx context.Context, event Event) {}

// SlogInstrument forwards events to a structured logger at debug level.
type SlogInstrument struct {
	Logger *slog.Logger
}

// Record implements Instrument.
func (s SlogInstrument) Record(ctx context.Context, event Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := make([]any, 0, 2+2*len(event.Attrs))
	attrs = append(attrs, "event", event.Name)
	for k, v := range event.Attrs {
		attrs = append(attrs, k, v)
	}
	logger.DebugContext(ctx, "telemetry", attrs...)
}
