// Package notify delivers alert messages to external channels
// (Telegram, generic webhooks) or to the log.
package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"quantbot-core/internal/logger"
)

// Level is the severity of a message.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Message is a rendered notification.
type Message struct {
	Level   Level  `json:"level"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	AlertID string `json:"alert_id,omitempty"`
}

// Notifier delivers a message to a destination (chat id, channel name).
// Failures are returned, never retried here.
type Notifier interface {
	Send(ctx context.Context, destination string, msg Message) error
}

// LogNotifier writes messages to the log. Useful for development.
type LogNotifier struct {
	log *logrus.Entry
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *logrus.Entry) *LogNotifier {
	if log == nil {
		log = logger.Discard()
	}
	return &LogNotifier{log: log.WithField("component", "notify")}
}

func (n *LogNotifier) Send(ctx context.Context, destination string, msg Message) error {
	n.log.WithFields(logrus.Fields{
		"destination": destination,
		"level":       msg.Level,
		"alert_id":    msg.AlertID,
	}).Infof("%s: %s", msg.Title, msg.Body)
	return nil
}

// Name returns a short label for n, used in metrics.
func Name(n Notifier) string {
	switch n.(type) {
	case *LogNotifier:
		return "log"
	case *TelegramNotifier:
		return "telegram"
	case *WebhookNotifier:
		return "webhook"
	default:
		return "other"
	}
}
