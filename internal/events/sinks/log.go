package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/studio-gateway/internal/events"
)

// LogSink writes one structured log line per event. Failed stages log at warn.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		level := zapcore.InfoLevel
		if evt.Stage.Result() == events.ResultError {
			level = zapcore.WarnLevel
		}
		fields := []zap.Field{
			zap.String("operation_id", evt.OperationID),
			zap.String("stage", string(evt.Stage)),
			zap.String("studio_id", evt.StudioID),
			zap.String("name", evt.Name),
			zap.String("teamspace", evt.Teamspace),
			zap.String("user", evt.User),
		}
		if evt.RequestID != "" {
			fields = append(fields, zap.String("request_id", evt.RequestID))
		}
		if evt.Status != "" {
			fields = append(fields, zap.String("status", evt.Status))
		}
		if evt.Stage.Terminal() {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Log(level, "studio lifecycle event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
