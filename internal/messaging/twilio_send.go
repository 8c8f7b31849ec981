package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/missedcall-booking/internal/conversation"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

var twilioSendTracer = otel.Tracer("missedcall.internal.messaging.twilio_send")

const twilioAPIBase = "https://api.twilio.com"

// Twilio error codes that describe the recipient rather than the request.
var twilioUndeliverableCodes = map[int]bool{
	21211: true, // invalid To number
	21610: true, // recipient replied STOP to the carrier
	21612: true, // To number cannot be reached from this From number
	21614: true, // To number is not SMS capable
}

// TwilioSender posts SMS messages using Twilio's REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	backoff    func(attempt int) time.Duration
	logger     *logging.Logger
}

func NewTwilioSender(accountSID, authToken, defaultFrom string, logger *logging.Logger) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       defaultFrom,
		baseURL:    twilioAPIBase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		backoff:    jitterBackoff,
		logger:     logger,
	}
}

var _ conversation.ReplyMessenger = (*TwilioSender)(nil)

// SendReply sends one SMS. When the reply carries Metadata, the Twilio
// message sid and status are written back into it.
func (s *TwilioSender) SendReply(ctx context.Context, msg conversation.OutboundReply) error {
	if s.accountSID == "" || s.authToken == "" {
		return errors.New("messaging: twilio credentials missing")
	}
	if msg.From == "" {
		msg.From = s.from
	}
	if err := validateReply(msg); err != nil {
		return err
	}

	ctx, span := twilioSendTracer.Start(ctx, "messaging.twilio.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("missedcall.tenant_id", msg.TenantID),
		attribute.String("missedcall.conversation_id", msg.ConversationID),
	)

	form := url.Values{"To": {msg.To}, "From": {msg.From}, "Body": {msg.Body}}.Encode()
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	body, err := providerCall{
		client:  s.httpClient,
		backoff: s.backoff,
		build: func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form))
			if err != nil {
				return nil, err
			}
			req.SetBasicAuth(s.accountSID, s.authToken)
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			return req, nil
		},
		failure: twilioFailure,
	}.do(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}

	var sent struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if msg.Metadata != nil && json.Unmarshal(body, &sent) == nil {
		if sent.SID != "" {
			msg.Metadata["provider_message_id"] = sent.SID
		}
		if sent.Status != "" {
			msg.Metadata["provider_status"] = sent.Status
		}
	}
	s.logger.Info("twilio sms sent", "tenant_id", msg.TenantID, "conversation_id", msg.ConversationID)
	return nil
}

type twilioAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func twilioFailure(status int, body []byte) error {
	trimmed := strings.TrimSpace(string(body))
	var apiErr twilioAPIError
	_ = json.Unmarshal([]byte(trimmed), &apiErr)

	var detail string
	switch {
	case apiErr.Message != "" && apiErr.Code != 0:
		detail = fmt.Sprintf("status %d code %d: %s", status, apiErr.Code, apiErr.Message)
	case apiErr.Message != "":
		detail = fmt.Sprintf("status %d: %s", status, apiErr.Message)
	case trimmed != "":
		detail = fmt.Sprintf("status %d: %s", status, trimmed)
	default:
		detail = fmt.Sprintf("status %d", status)
	}
	if !retryableStatus(status) && twilioUndeliverableCodes[apiErr.Code] {
		return fmt.Errorf("%w: twilio %s", ErrUndeliverable, detail)
	}
	return fmt.Errorf("twilio send failed: %s", detail)
}
