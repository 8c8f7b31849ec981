package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/missedcall-booking/internal/clinic"
	"github.com/wolfman30/missedcall-booking/internal/conversation"
	"github.com/wolfman30/missedcall-booking/internal/leads"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

// SMSSender sends SMS messages to clinic staff.
type SMSSender interface {
	SendSMS(ctx context.Context, from, to, body string) error
}

// MessengerSMS adapts the caller-facing ReplyMessenger for staff texts.
type MessengerSMS struct {
	Messenger conversation.ReplyMessenger
}

func (m MessengerSMS) SendSMS(ctx context.Context, from, to, body string) error {
	if m.Messenger == nil {
		return errors.New("notify: sms messenger not configured")
	}
	return m.Messenger.SendReply(ctx, conversation.OutboundReply{
		To:       to,
		From:     from,
		Body:     body,
		Metadata: map[string]string{"kind": "staff_callback_alert"},
	})
}

// Service tells clinic staff when a caller is waiting for a call back.
type Service struct {
	email  EmailSender
	sms    SMSSender
	logger *logging.Logger
}

func NewService(email EmailSender, sms SMSSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, sms: sms, logger: logger.WithComponent("notify")}
}

var _ conversation.Escalator = (*Service)(nil)

// NotifyCallbackRequested emails and texts the clinic's recipients. Every
// recipient is attempted; the joined error reports the ones that failed.
func (s *Service) NotifyCallbackRequested(ctx context.Context, cfg *clinic.Config, lead *leads.Lead) error {
	if cfg == nil || lead == nil {
		return nil
	}
	if !cfg.Notifications.NotifyOnCallback {
		s.logger.Debug("callback notifications disabled", "tenant_id", cfg.TenantID)
		return nil
	}

	requested := lead.UpdatedAt.In(cfg.Location()).Format("Mon Jan 2 at 3:04 PM")
	reason := strings.TrimSpace(lead.Reason)
	if reason == "" {
		reason = "caller asked for a call back"
	}

	var errs []error
	if s.email != nil {
		for _, recipient := range cfg.Notifications.EmailRecipients {
			msg := staffEmail(recipient, cfg.DisplayName(), lead, reason, requested)
			if err := s.email.Send(ctx, msg); err != nil {
				s.logger.Error("failed to send callback email", "error", err, "tenant_id", cfg.TenantID, "lead_id", lead.ID)
				errs = append(errs, err)
			}
		}
	}

	if s.sms != nil && cfg.Phone != "" {
		text := fmt.Sprintf("Call back requested by %s (%s). Reason: %s", lead.Phone, requested, truncate(reason, 80))
		for _, recipient := range cfg.Notifications.SMSRecipients {
			if err := s.sms.SendSMS(ctx, cfg.Phone, recipient, text); err != nil {
				s.logger.Error("failed to send callback sms", "error", err, "tenant_id", cfg.TenantID, "lead_id", lead.ID)
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d of the callback notifications failed: %w", len(errs), errors.Join(errs...))
	}
	s.logger.Info("callback notification sent", "tenant_id", cfg.TenantID, "lead_id", lead.ID)
	return nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
