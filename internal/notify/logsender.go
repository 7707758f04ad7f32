package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes notifications to the log. The default when no
// Telegram token is configured.
type LogSender struct {
	log *zap.SugaredLogger
}

// NewLogSender builds the log-only sender.
func NewLogSender(log *zap.SugaredLogger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if msg.Level == LevelAlert {
		s.log.Warnw("notification", "title", msg.Title, "body", msg.Body)
	} else {
		s.log.Infow("notification", "title", msg.Title, "body", msg.Body)
	}
	return nil
}
