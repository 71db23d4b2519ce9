package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// ResendConfig configures the Resend sender.
type ResendConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// ResendSender sends messages through the Resend API.
type ResendSender struct {
	client *resend.Client
	logger *zap.Logger
}

// NewResendSender creates a sender. An empty BaseURL keeps the client default.
func NewResendSender(cfg ResendConfig, logger *zap.Logger) (*ResendSender, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("resend api key is required")
	}

	client := resend.NewCustomClient(&http.Client{Timeout: cfg.Timeout}, cfg.APIKey)
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid resend base url: %w", err)
		}
		client.BaseURL = u
	}

	return &ResendSender{client: client, logger: logger}, nil
}

func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	req := &resend.SendEmailRequest{
		From:    msg.From,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}
	if msg.ReplyTo != "" {
		req.ReplyTo = msg.ReplyTo
	}

	resp, err := s.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("resend send: %w", err)
	}

	s.logger.Debug("Notification sent",
		zap.String("id", resp.Id),
		zap.Strings("to", msg.To),
	)
	return nil
}
