package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/studio-gateway/internal/events"
)

func TestPrometheusSinkRecordsOperations(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []events.Event{
		{OperationID: "op-1", TS: now, Stage: events.StageStartRequested, Name: "s"},
		{OperationID: "op-2", TS: now, Stage: events.StageStopRequested, StudioID: "cs-1"},
		{OperationID: "op-1", TS: now, Stage: events.StageStarted, Name: "s", Dur: 3 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.requested.WithLabelValues("start")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.requested.WithLabelValues("stop")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.completed.WithLabelValues("start", "success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.inFlight.WithLabelValues("start")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.inFlight.WithLabelValues("stop")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.duration, "studio_operation_duration_seconds"))

	require.NoError(t, sink.Consume(context.Background(), []events.Event{
		{OperationID: "op-2", TS: now, Stage: events.StageStopFailed, StudioID: "cs-1", Note: "not found"},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.completed.WithLabelValues("stop", "error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.inFlight.WithLabelValues("stop")))
}

func TestPrometheusSinkTerminalWithoutRequestKeepsGauge(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []events.Event{
		{OperationID: "orphan", TS: time.Now(), Stage: events.StageStopped, StudioID: "cs-9"},
	}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.inFlight.WithLabelValues("stop")))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
