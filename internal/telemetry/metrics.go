package telemetry

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics records relay counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	committed       metric.Int64Counter
	overflows       metric.Int64Counter
	persistFailures metric.Int64Counter
	sessions        metric.Int64UpDownCounter
	rooms           metric.Int64UpDownCounter
}

// NewMetrics creates the relay instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	committed, err := meter.Int64Counter("relay.messages.committed",
		metric.WithDescription("Messages sequenced and committed to a room"))
	if err != nil {
		return nil, err
	}
	overflows, err := meter.Int64Counter("relay.backlog.overflows",
		metric.WithDescription("Outbound events dropped for slow consumers"))
	if err != nil {
		return nil, err
	}
	persistFailures, err := meter.Int64Counter("relay.persist.failures",
		metric.WithDescription("Messages the durable store did not acknowledge"))
	if err != nil {
		return nil, err
	}
	sessions, err := meter.Int64UpDownCounter("relay.sessions.active",
		metric.WithDescription("Currently connected sessions"))
	if err != nil {
		return nil, err
	}
	rooms, err := meter.Int64UpDownCounter("relay.rooms.active",
		metric.WithDescription("Rooms currently held by the registry"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		committed:       committed,
		overflows:       overflows,
		persistFailures: persistFailures,
		sessions:        sessions,
		rooms:           rooms,
	}, nil
}

// Global builds Metrics on the global meter provider, falling back to a no-op
// meter if instrument creation fails.
func Global() *Metrics {
	m, err := NewMetrics(otel.Meter(InstrumentationName))
	if err != nil {
		log.Printf("[telemetry] Falling back to no-op metrics: %v", err)
		return Noop()
	}
	return m
}

// Noop returns Metrics backed by the no-op meter.
func Noop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(InstrumentationName))
	return m
}

// MessageCommitted counts one committed message.
func (m *Metrics) MessageCommitted(ctx context.Context) {
	if m == nil {
		return
	}
	m.committed.Add(ctx, 1)
}

// BacklogOverflow counts one dropped outbound event.
func (m *Metrics) BacklogOverflow(ctx context.Context) {
	if m == nil {
		return
	}
	m.overflows.Add(ctx, 1)
}

// PersistFailure counts one unacknowledged message.
func (m *Metrics) PersistFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.persistFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// SessionOpened adjusts the active session gauge.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, 1)
}

// SessionClosed adjusts the active session gauge.
func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, -1)
}

// RoomCreated adjusts the active room gauge.
func (m *Metrics) RoomCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.rooms.Add(ctx, 1)
}

// RoomEvicted adjusts the active room gauge.
func (m *Metrics) RoomEvicted(ctx context.Context) {
	if m == nil {
		return
	}
	m.rooms.Add(ctx, -1)
}
