package notify

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends email through SES v2.
type SESSender struct {
	client sesAPI
	from   mailbox
	logger *logging.Logger
}

type SESConfig struct {
	FromEmail string
	FromName  string
}

// NewSESSender returns nil without a client.
func NewSESSender(client sesAPI, cfg SESConfig, logger *logging.Logger) *SESSender {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SESSender{client: client, from: fromMailbox(cfg.FromEmail, cfg.FromName), logger: logger}
}

func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return errors.New("notify: SES client not configured")
	}
	env, err := msg.envelope(s.from)
	if err != nil {
		return err
	}

	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(env.from.String()),
		Destination:      &types.Destination{ToAddresses: []string{env.to.address}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: sesText(env.subject),
				Body:    &types.Body{Text: optionalSESText(env.text), Html: optionalSESText(env.html)},
			},
		},
	})
	if err != nil {
		return sendFailed(s.logger, "ses", env.to.address, err)
	}
	s.logger.Info("email sent", "provider", "ses", "to", env.to.address, "message_id", aws.ToString(out.MessageId))
	return nil
}

func sesText(data string) *types.Content {
	return &types.Content{Data: aws.String(data), Charset: aws.String("UTF-8")}
}

func optionalSESText(data string) *types.Content {
	if data == "" {
		return nil
	}
	return sesText(data)
}

var _ EmailSender = (*SESSender)(nil)
