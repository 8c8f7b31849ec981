package bootstrap

import (
	"context"

	appconfig "github.com/wolfman30/missedcall-booking/internal/config"
	"github.com/wolfman30/missedcall-booking/internal/conversation"
	"github.com/wolfman30/missedcall-booking/internal/messaging"
	"github.com/wolfman30/missedcall-booking/internal/observability/metrics"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

// BuildOutboundMessenger selects the SMS provider. Without credentials it
// returns a messenger that only logs, so local runs still see every reply.
func BuildOutboundMessenger(cfg *appconfig.Config, logger *logging.Logger) (conversation.ReplyMessenger, string) {
	if logger == nil {
		logger = logging.Default()
	}
	messenger, provider, reason := messaging.BuildReplyMessenger(messaging.ProviderSelectionConfig{
		Preference:       cfg.SMSProvider,
		TelnyxAPIKey:     cfg.TelnyxAPIKey,
		TelnyxProfileID:  cfg.TelnyxMessagingProfileID,
		TwilioAccountSID: cfg.TwilioAccountSID,
		TwilioAuthToken:  cfg.TwilioAuthToken,
		TwilioFromNumber: cfg.TwilioFromNumber,
	}, logger)
	if messenger == nil {
		logger.Warn("no SMS provider configured; replies are logged only", "reason", reason)
		return &logMessenger{logger: logger}, "log"
	}
	logger.Info("SMS provider selected", "provider", provider)
	return messenger, provider
}

// BuildDispatcher queues replies when a queue is given and sends them in the
// background otherwise.
func BuildDispatcher(cfg *appconfig.Config, messenger conversation.ReplyMessenger, queue messaging.QueueSender, m *metrics.MessagingMetrics, logger *logging.Logger) messaging.Dispatcher {
	if queue != nil {
		logger.Info("outbound replies are queued", "queue_url", cfg.OutboundQueueURL)
		return messaging.NewQueueDispatcher(queue, m, logger)
	}
	return messaging.NewAsyncDispatcher(messenger, cfg.SendTimeout, m, logger)
}

type logMessenger struct {
	logger *logging.Logger
}

func (l *logMessenger) SendReply(_ context.Context, reply conversation.OutboundReply) error {
	l.logger.Info("log messenger: would send sms",
		"tenant_id", reply.TenantID,
		"conversation_id", reply.ConversationID,
		"to", reply.To,
		"body_len", len(reply.Body),
	)
	return nil
}
