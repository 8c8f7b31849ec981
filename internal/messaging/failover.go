package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/missedcall-booking/internal/conversation"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

// NamedMessenger pairs a sender with the provider name used in logs.
type NamedMessenger struct {
	Name      string
	Messenger conversation.ReplyMessenger
}

// FailoverMessenger tries each provider in order until one accepts the message.
type FailoverMessenger struct {
	providers []NamedMessenger
	logger    *logging.Logger
}

func NewFailoverMessenger(logger *logging.Logger, providers ...NamedMessenger) *FailoverMessenger {
	if logger == nil {
		logger = logging.Default()
	}
	var usable []NamedMessenger
	for _, p := range providers {
		if p.Messenger != nil {
			usable = append(usable, p)
		}
	}
	return &FailoverMessenger{providers: usable, logger: logger}
}

var _ conversation.ReplyMessenger = (*FailoverMessenger)(nil)

func (f *FailoverMessenger) SendReply(ctx context.Context, reply conversation.OutboundReply) error {
	if f == nil || len(f.providers) == 0 {
		return errors.New("messaging: no sms provider configured")
	}
	var errs []error
	for i, p := range f.providers {
		err := p.Messenger.SendReply(ctx, reply)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
		if ctx.Err() != nil || errors.Is(err, ErrUndeliverable) {
			break
		}
		if i+1 < len(f.providers) {
			f.logger.Warn("sms send failed; attempting fallback",
				"provider", p.Name,
				"fallback", f.providers[i+1].Name,
				"error", err,
				"tenant_id", reply.TenantID,
			)
		}
	}
	return errors.Join(errs...)
}
