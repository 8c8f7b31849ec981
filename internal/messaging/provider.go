package messaging

import (
	"fmt"
	"strings"

	"github.com/wolfman30/missedcall-booking/internal/conversation"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

const (
	// SMSProviderAuto uses every configured provider, Twilio first.
	SMSProviderAuto   = "auto"
	SMSProviderTelnyx = "telnyx"
	SMSProviderTwilio = "twilio"
)

// ProviderSelectionConfig captures the credentials required to build outbound messengers.
type ProviderSelectionConfig struct {
	Preference       string
	TelnyxAPIKey     string
	TelnyxProfileID  string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
}

// BuildReplyMessenger instantiates a ReplyMessenger based on the preferred
// provider. It returns the messenger, the provider that was selected, and a
// reason when no provider could be initialized.
func BuildReplyMessenger(cfg ProviderSelectionConfig, logger *logging.Logger) (conversation.ReplyMessenger, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	preference := strings.ToLower(strings.TrimSpace(cfg.Preference))
	if preference == "" {
		preference = SMSProviderAuto
	}

	available := map[string]conversation.ReplyMessenger{}
	missing := map[string]string{}

	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		available[SMSProviderTwilio] = NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger)
	} else {
		missing[SMSProviderTwilio] = missingReason(map[string]string{
			"TWILIO_ACCOUNT_SID": cfg.TwilioAccountSID,
			"TWILIO_AUTH_TOKEN":  cfg.TwilioAuthToken,
		})
	}
	if cfg.TelnyxAPIKey != "" && cfg.TelnyxProfileID != "" {
		available[SMSProviderTelnyx] = NewTelnyxSender(cfg.TelnyxAPIKey, cfg.TelnyxProfileID, logger)
	} else {
		missing[SMSProviderTelnyx] = missingReason(map[string]string{
			"TELNYX_API_KEY":              cfg.TelnyxAPIKey,
			"TELNYX_MESSAGING_PROFILE_ID": cfg.TelnyxProfileID,
		})
	}

	if preference != SMSProviderAuto {
		if m, ok := available[preference]; ok {
			return m, preference, ""
		}
		reason := missing[preference]
		if reason == "" {
			reason = fmt.Sprintf("%s messenger not configured", preference)
		}
		return nil, "", reason
	}

	order := []string{SMSProviderTwilio, SMSProviderTelnyx}
	var named []NamedMessenger
	var reasons []string
	for _, provider := range order {
		if m, ok := available[provider]; ok {
			named = append(named, NamedMessenger{Name: provider, Messenger: m})
			continue
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", provider, missing[provider]))
	}
	switch len(named) {
	case 0:
		return nil, "", strings.Join(reasons, "; ")
	case 1:
		return named[0].Messenger, named[0].Name, ""
	default:
		names := make([]string, len(named))
		for i, n := range named {
			names[i] = n.Name
		}
		return NewFailoverMessenger(logger, named...), strings.Join(names, "+"), ""
	}
}

func missingReason(required map[string]string) string {
	var keys []string
	for _, key := range []string{"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TELNYX_API_KEY", "TELNYX_MESSAGING_PROFILE_ID"} {
		if value, ok := required[key]; ok && value == "" {
			keys = append(keys, key+" missing")
		}
	}
	return strings.Join(keys, ", ")
}
