package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

type sendgridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender sends email through the SendGrid v3 API.
type SendGridSender struct {
	client sendgridClient
	from   mailbox
	logger *logging.Logger
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGridSender{
		client: sendgrid.NewSendClient(cfg.APIKey),
		from:   fromMailbox(cfg.FromEmail, cfg.FromName),
		logger: logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return errors.New("notify: sendgrid client not configured")
	}
	env, err := msg.envelope(s.from)
	if err != nil {
		return err
	}

	// SendGrid requires an HTML part; plain text stands in when there is none.
	htmlPart := env.html
	if htmlPart == "" {
		htmlPart = env.text
	}
	message := mail.NewSingleEmail(
		mail.NewEmail(env.from.name, env.from.address),
		env.subject,
		mail.NewEmail(env.to.name, env.to.address),
		env.text,
		htmlPart,
	)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return sendFailed(s.logger, "sendgrid", env.to.address, err)
	}
	if resp.StatusCode >= 400 {
		return sendFailed(s.logger, "sendgrid", env.to.address, fmt.Errorf("status %d", resp.StatusCode))
	}
	s.logger.Info("email sent", "provider", "sendgrid", "to", env.to.address, "status", resp.StatusCode)
	return nil
}

var _ EmailSender = (*SendGridSender)(nil)
