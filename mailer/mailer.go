package mailer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// Sender dispatches one transactional email and returns the provider's
// message id.
type Sender interface {
	Send(ctx context.Context, from, to, subject, html string) (string, error)
}

type ResendSender struct {
	client *resend.Client
	logger *zap.Logger
}

func NewResendSender(logger *zap.Logger) (*ResendSender, error) {
	apiKey := os.Getenv("RESEND_API_KEY")
	if apiKey == "" {
		return nil, errors.New("RESEND_API_KEY is not set")
	}
	return &ResendSender{
		client: resend.NewClient(apiKey),
		logger: logger,
	}, nil
}

func (s *ResendSender) Send(ctx context.Context, from, to, subject, html string) (string, error) {
	params := &resend.SendEmailRequest{
		From:    from,
		To:      []string{to},
		Subject: subject,
		Html:    html,
	}

	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("Email dispatched",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("message_id", sent.Id),
	)
	return sent.Id, nil
}
