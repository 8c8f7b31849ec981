package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/missedcall-booking/internal/conversation"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

var telnyxSendTracer = otel.Tracer("missedcall.internal.messaging.telnyx_send")

const telnyxAPIBase = "https://api.telnyx.com"

// Telnyx error codes that describe the recipient rather than the request.
var telnyxUndeliverableCodes = map[string]bool{
	"40300": true, // blocked after a STOP from the recipient
	"40310": true, // invalid destination number
}

// TelnyxSender posts SMS messages using Telnyx's V2 API.
type TelnyxSender struct {
	apiKey             string
	messagingProfileID string
	baseURL            string
	httpClient         *http.Client
	backoff            func(attempt int) time.Duration
	logger             *logging.Logger
}

func NewTelnyxSender(apiKey, messagingProfileID string, logger *logging.Logger) *TelnyxSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TelnyxSender{
		apiKey:             apiKey,
		messagingProfileID: messagingProfileID,
		baseURL:            telnyxAPIBase,
		httpClient:         &http.Client{Timeout: 10 * time.Second},
		backoff:            jitterBackoff,
		logger:             logger,
	}
}

var _ conversation.ReplyMessenger = (*TelnyxSender)(nil)

type telnyxMessage struct {
	From               string `json:"from"`
	To                 string `json:"to"`
	Text               string `json:"text"`
	MessagingProfileID string `json:"messaging_profile_id,omitempty"`
}

func (s *TelnyxSender) SendReply(ctx context.Context, msg conversation.OutboundReply) error {
	if s.apiKey == "" {
		return errors.New("messaging: telnyx api key missing")
	}
	if err := validateReply(msg); err != nil {
		return err
	}

	ctx, span := telnyxSendTracer.Start(ctx, "messaging.telnyx.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("missedcall.tenant_id", msg.TenantID),
		attribute.String("missedcall.conversation_id", msg.ConversationID),
	)

	payload, err := json.Marshal(telnyxMessage{
		From:               msg.From,
		To:                 msg.To,
		Text:               msg.Body,
		MessagingProfileID: s.messagingProfileID,
	})
	if err != nil {
		return fmt.Errorf("messaging: marshal telnyx payload: %w", err)
	}

	body, err := providerCall{
		client:  s.httpClient,
		backoff: s.backoff,
		build: func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v2/messages", bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+s.apiKey)
			req.Header.Set("Content-Type", "application/json")
			return req, nil
		},
		failure: telnyxFailure,
	}.do(ctx)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("failed to send telnyx sms", "error", err, "tenant_id", msg.TenantID)
		return err
	}

	var sent struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if msg.Metadata != nil && json.Unmarshal(body, &sent) == nil && sent.Data.ID != "" {
		msg.Metadata["provider_message_id"] = sent.Data.ID
	}
	s.logger.Info("telnyx sms sent", "tenant_id", msg.TenantID, "conversation_id", msg.ConversationID)
	return nil
}

type telnyxErrorBody struct {
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func telnyxFailure(status int, body []byte) error {
	var parsed telnyxErrorBody
	if json.Unmarshal(body, &parsed) != nil || len(parsed.Errors) == 0 {
		return fmt.Errorf("telnyx send failed: status %d: %s", status, bytes.TrimSpace(body))
	}
	first := parsed.Errors[0]
	detail := fmt.Sprintf("status %d code %s: %s", status, first.Code, first.Title)
	if !retryableStatus(status) && telnyxUndeliverableCodes[first.Code] {
		return fmt.Errorf("%w: telnyx %s", ErrUndeliverable, detail)
	}
	return fmt.Errorf("telnyx send failed: %s", detail)
}
