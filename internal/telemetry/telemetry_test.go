package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestSetupDisabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty endpoint", Config{Enabled: true}},
		{"blank endpoint", Config{Enabled: true, Endpoint: "   "}},
		{"disabled", Config{Enabled: false, Endpoint: "http://localhost:4318"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := otel.GetTracerProvider()
			prevMeter := otel.GetMeterProvider()

			shutdown, err := Setup(context.Background(), "relay-test", tt.cfg)
			require.NoError(t, err)
			require.NotNil(t, shutdown)
			assert.NoError(t, shutdown(context.Background()))
			assert.Equal(t, prev, otel.GetTracerProvider())
			assert.Equal(t, prevMeter, otel.GetMeterProvider())
		})
	}
}

func TestSetupEnabled(t *testing.T) {
	prevTracer := otel.GetTracerProvider()
	prevMeter := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTracer)
		otel.SetMeterProvider(prevMeter)
	})

	shutdown, err := Setup(context.Background(), "relay-test", Config{Enabled: true, Endpoint: "http://127.0.0.1:4318"})
	require.NoError(t, err)
	assert.NotEqual(t, prevTracer, otel.GetTracerProvider())

	_, isSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, isSDK, "global meter provider should export through the SDK")
	assert.NotNil(t, Global())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.MessageCommitted(ctx)
		m.BacklogOverflow(ctx)
		m.PersistFailure(ctx, "timeout")
		m.SessionOpened(ctx)
		m.SessionClosed(ctx)
		m.RoomCreated(ctx)
		m.RoomEvicted(ctx)
	})
}

func TestNoopMetrics(t *testing.T) {
	m := Noop()
	require.NotNil(t, m)
	assert.NotPanics(t, func() { m.MessageCommitted(context.Background()) })
}

func TestMetricsRecordCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewMetrics(provider.Meter(InstrumentationName))
	require.NoError(t, err)

	ctx := context.Background()
	m.MessageCommitted(ctx)
	m.MessageCommitted(ctx)
	m.BacklogOverflow(ctx)
	m.PersistFailure(ctx, "gave_up")
	m.SessionOpened(ctx)
	m.SessionOpened(ctx)
	m.SessionClosed(ctx)
	m.RoomCreated(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	got := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			sum, ok := metric.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", metric.Name)
			for _, dp := range sum.DataPoints {
				got[metric.Name] += dp.Value
			}
		}
	}

	assert.Equal(t, int64(2), got["relay.messages.committed"])
	assert.Equal(t, int64(1), got["relay.backlog.overflows"])
	assert.Equal(t, int64(1), got["relay.persist.failures"])
	assert.Equal(t, int64(1), got["relay.sessions.active"])
	assert.Equal(t, int64(1), got["relay.rooms.active"])
}
