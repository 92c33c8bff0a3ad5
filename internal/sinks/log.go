package sinks

import (
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-status-stream/internal/channel"
	"github.com/JakeFAU/realtime-status-stream/internal/status"
)

// LogSink emits structured logs for every channel notification. It is useful
// during development or audits where no projector is attached.
type LogSink struct {
	logger *zap.Logger
}

var _ channel.Listener = (*LogSink)(nil)

// NewLogSink wires a Zap logger to the listener interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// OnConnect logs the transition to connected.
func (s *LogSink) OnConnect() {
	s.logger.Info("status channel connected")
}

// OnDisconnect logs the close code.
func (s *LogSink) OnDisconnect(code int) {
	if code == channel.CloseNormal {
		s.logger.Info("status channel closed", zap.Int("code", code))
		return
	}
	s.logger.Warn("status channel closed abnormally", zap.Int("code", code))
}

// OnError logs transport failures.
func (s *LogSink) OnError(err error) {
	s.logger.Warn("status channel error", zap.Error(err))
}

// OnStatusUpdate logs each event using structured fields.
func (s *LogSink) OnStatusUpdate(evt status.Event) {
	fields := []zap.Field{
		zap.String("entity_id", evt.EntityID),
		zap.String("scope_id", evt.ScopeID),
		zap.String("phase", string(evt.Phase)),
		zap.String("status", string(evt.Status)),
		zap.String("channel", evt.Channel),
		zap.String("message", evt.Message),
		zap.Time("event_ts", evt.Timestamp),
	}
	if pct, ok := evt.Percent(); ok {
		fields = append(fields, zap.Int("progress", pct))
	}
	s.logger.Info("status event", fields...)
}
