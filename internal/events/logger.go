package events

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogHandler returns a subscriber that writes every event to logger
func LogHandler(logger *zap.Logger) Handler {
	return func(ctx context.Context, event Event) error {
		fields := []zap.Field{
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Time("timestamp", event.Timestamp),
		}
		if event.Service != "" {
			fields = append(fields, zap.String("service", event.Service))
		}
		if event.Error != "" {
			fields = append(fields, zap.String("error", event.Error))
		}
		if len(event.Details) > 0 {
			fields = append(fields, zap.Any("details", event.Details))
		}

		msg := event.Message
		if msg == "" {
			msg = "event"
		}
		if ce := logger.Check(levelFor(event.Type), msg); ce != nil {
			ce.Write(fields...)
		}
		return nil
	}
}

func levelFor(t Type) zapcore.Level {
	switch t {
	case FailoverFailed, CircuitBreakerOpened:
		return zapcore.ErrorLevel
	case HealthCheckFailed, ServicesDegraded:
		return zapcore.WarnLevel
	case SystemHealthUpdate:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
