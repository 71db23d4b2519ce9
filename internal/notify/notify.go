// Package notify delivers submission notifications by email.
package notify

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// DefaultFrom is the sender used when a project does not override it.
const DefaultFrom = "Forms <onboarding@resend.dev>"

// ErrNoRecipient is returned for a message without recipients.
var ErrNoRecipient = errors.New("message has no recipient")

// Message is a single outgoing email.
type Message struct {
	From    string
	To      []string
	ReplyTo string
	Subject string
	HTML    string
	Text    string
}

// Validate checks that the message can be handed to a provider.
func (m Message) Validate() error {
	for _, to := range m.To {
		if strings.TrimSpace(to) != "" {
			return nil
		}
	}
	return ErrNoRecipient
}

// Sender dispatches messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.logger.Info("Notification",
		zap.String("from", msg.From),
		zap.Strings("to", msg.To),
		zap.String("reply_to", msg.ReplyTo),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text),
	)
	return nil
}
