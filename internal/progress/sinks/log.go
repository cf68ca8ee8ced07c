package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/shotcast/internal/progress"
)

// LogSink emits one structured log line per event. Useful during development
// when no run history store is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("client_id", evt.ClientID),
			zap.String("request_id", evt.RequestID),
			zap.String("project_id", evt.ProjectID),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		if evt.TargetURL != "" {
			fields = append(fields, zap.String("target_url", evt.TargetURL))
		}
		if evt.Source != "" {
			fields = append(fields, zap.String("source", string(evt.Source)))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
