package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/missedcall-booking/internal/config"
	"github.com/wolfman30/missedcall-booking/internal/conversation"
	"github.com/wolfman30/missedcall-booking/internal/notify"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

const (
	emailProviderSendGrid = "sendgrid"
	emailProviderSES      = "ses"
)

// BuildNotifier returns the staff escalation service. ses may be nil unless
// NOTIFY_EMAIL_PROVIDER=ses.
func BuildNotifier(cfg *appconfig.Config, ses *sesv2.Client, staffSMS conversation.ReplyMessenger, logger *logging.Logger) *notify.Service {
	if logger == nil {
		logger = logging.Default()
	}

	var sms notify.SMSSender
	if staffSMS != nil {
		sms = notify.MessengerSMS{Messenger: staffSMS}
	}
	return notify.NewService(buildEmailSender(cfg, ses, logger), sms, logger)
}

func buildEmailSender(cfg *appconfig.Config, ses *sesv2.Client, logger *logging.Logger) notify.EmailSender {
	switch cfg.NotifyEmailProvider {
	case emailProviderSES:
		if ses != nil && cfg.SESFromEmail != "" {
			logger.Info("staff email via SES")
			return notify.NewSESSender(ses, notify.SESConfig{FromEmail: cfg.SESFromEmail, FromName: cfg.SESFromName}, logger)
		}
		logger.Warn("SES selected but not configured; staff email is logged only")
	case emailProviderSendGrid, "":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender != nil {
			logger.Info("staff email via SendGrid")
			return sender
		}
	default:
		logger.Warn("unknown email provider; staff email is logged only", "provider", cfg.NotifyEmailProvider)
	}
	return notify.NewStubEmailSender(logger)
}
