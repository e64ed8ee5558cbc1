package monitor

import (
	"context"
	"log/slog"

	"github.com/guileen/pglitepool/logger"
	"github.com/guileen/pglitepool/network"
)

// LogSink writes every pool event as one structured log record
type LogSink struct {
	log   *slog.Logger
	level slog.Level
}

// NewLogSink creates a sink logging at level. A nil logger uses the process
// logger.
func NewLogSink(l *slog.Logger, level slog.Level) *LogSink {
	if l == nil {
		l = logger.Logger()
	}
	return &LogSink{log: l.With(logger.Component("pool_events")), level: level}
}

// HandleEvent implements network.EventSink.
func (s *LogSink) HandleEvent(evt *network.PoolEvent) {
	ctx := context.Background()
	level := s.level
	if evt.Type == network.CheckOutFailed || evt.Error != nil {
		level = max(level, slog.LevelWarn)
	}
	if !s.log.Enabled(ctx, level) {
		return
	}

	attrs := []slog.Attr{
		slog.String("type", evt.Type),
		logger.Address(evt.Address),
		slog.String("pool_id", evt.PoolID.String()),
	}
	if evt.ConnectionID != 0 {
		attrs = append(attrs, slog.Uint64("connection_id", evt.ConnectionID))
	}
	if evt.ServiceID != nil {
		attrs = append(attrs, slog.String("service_id", evt.ServiceID.String()))
	}
	if evt.Reason != "" {
		attrs = append(attrs, slog.String("reason", evt.Reason))
	}
	if evt.Duration > 0 {
		attrs = append(attrs, logger.Duration("duration", evt.Duration))
	}
	if evt.ErrorMessage != "" {
		attrs = append(attrs, slog.String("error", evt.ErrorMessage))
	}
	s.log.LogAttrs(ctx, level, "pool event", attrs...)
}
