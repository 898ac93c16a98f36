package sinks

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/execution-hub/content-approval/internal/domain/notification"
)

// LogSink writes each notification as a structured log line.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "notification-log").Logger()}
}

func (s *LogSink) Channel() notification.Channel {
	return notification.ChannelLog
}

func (s *LogSink) Deliver(_ context.Context, n *notification.Notification) error {
	s.logger.Info().
		Str("notification_id", n.NotificationID.String()).
		Str("event", string(n.Event)).
		Str("request_id", n.RequestID.String()).
		Str("step", n.StepID).
		Strs("recipients", n.Recipients).
		RawJSON("payload", payloadOrEmpty(n.Payload)).
		Msg(n.Title)
	return nil
}

func payloadOrEmpty(p []byte) []byte {
	if len(p) == 0 {
		return []byte("{}")
	}
	return p
}
