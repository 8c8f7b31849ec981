package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/missedcall-booking/internal/conversation"
	"github.com/wolfman30/missedcall-booking/internal/events"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

const (
	clinicNumber = "+15550001000"
	callerNumber = "+15550002001"
)

type stubEngine struct {
	mu        sync.Mutex
	inbound   []conversation.InboundMessage
	followUps []conversation.FollowUpRequest
	turn      conversation.Turn
	err       error
}

func (s *stubEngine) HandleInbound(_ context.Context, msg conversation.InboundMessage) (conversation.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbound = append(s.inbound, msg)
	return s.turn, s.err
}

func (s *stubEngine) StartFollowUp(_ context.Context, req conversation.FollowUpRequest) (conversation.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followUps = append(s.followUps, req)
	return s.turn, s.err
}

type recordingDispatcher struct {
	mu      sync.Mutex
	replies []conversation.OutboundReply
}

func (d *recordingDispatcher) Dispatch(_ context.Context, reply conversation.OutboundReply) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replies = append(d.replies, reply)
}

func replyTurn(body string) conversation.Turn {
	return conversation.Turn{
		TenantID:       "clinic-a",
		ConversationID: "conv-1",
		LeadID:         "lead-1",
		Status:         conversation.StatusAwaitingSlotConfirmation,
		Reply: &conversation.OutboundReply{
			TenantID:       "clinic-a",
			ConversationID: "conv-1",
			To:             callerNumber,
			From:           clinicNumber,
			Body:           body,
		},
	}
}

func newTestHandler(engine *stubEngine, dispatcher *recordingDispatcher, opts ...HandlerOption) *Handler {
	resolver := NewStaticTenantResolver(map[string]string{clinicNumber: "clinic-a"})
	return NewHandler(engine, resolver, dispatcher, events.NewMemoryDeduper(time.Hour), logging.Default(), opts...)
}

func smsForm(sid, body string) url.Values {
	form := url.Values{}
	form.Set("MessageSid", sid)
	form.Set("AccountSid", "AC123")
	form.Set("From", "(555) 000-2001")
	form.Set("To", clinicNumber)
	form.Set("Body", body)
	return form
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestTwilioWebhookRunsEngineAndDispatchesReply(t *testing.T) {
	engine := &stubEngine{turn: replyTurn("Our next available time is Mon Dec 8 at 9:00 AM.")}
	dispatcher := &recordingDispatcher{}
	h := newTestHandler(engine, dispatcher)

	rec := httptest.NewRecorder()
	h.TwilioWebhook(rec, postForm("/messaging/twilio/webhook", smsForm("SM1", "2")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, emptyTwiML, rec.Body.String())
	require.Len(t, engine.inbound, 1)
	msg := engine.inbound[0]
	assert.Equal(t, "clinic-a", msg.TenantID)
	assert.Equal(t, callerNumber, msg.FromPhone)
	assert.Equal(t, clinicNumber, msg.ToPhone)
	assert.Equal(t, "SM1", msg.ProviderMessageID)
	require.Len(t, dispatcher.replies, 1)
	assert.Equal(t, callerNumber, dispatcher.replies[0].To)
}

func TestTwilioWebhookIgnoresRedelivery(t *testing.T) {
	engine := &stubEngine{turn: replyTurn("hi")}
	dispatcher := &recordingDispatcher{}
	h := newTestHandler(engine, dispatcher)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.TwilioWebhook(rec, postForm("/messaging/twilio/webhook", smsForm("SM1", "2")))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Len(t, engine.inbound, 1)
	assert.Len(t, dispatcher.replies, 1)
}

func TestTwilioWebhookSendsApologyOnEngineError(t *testing.T) {
	turn := replyTurn("Sorry, something went wrong on our end. Please try again in a few minutes.")
	engine := &stubEngine{turn: turn, err: errors.New("conversation: save: connection refused")}
	dispatcher := &recordingDispatcher{}
	h := newTestHandler(engine, dispatcher)

	rec := httptest.NewRecorder()
	h.TwilioWebhook(rec, postForm("/messaging/twilio/webhook", smsForm("SM1", "2")))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, dispatcher.replies, 1)
	assert.NotContains(t, dispatcher.replies[0].Body, "connection refused")
}

func TestTwilioWebhookSuppressedTurnSendsNothing(t *testing.T) {
	engine := &stubEngine{turn: conversation.Turn{TenantID: "clinic-a", Status: conversation.StatusCompleted}}
	dispatcher := &recordingDispatcher{}
	h := newTestHandler(engine, dispatcher)

	rec := httptest.NewRecorder()
	h.TwilioWebhook(rec, postForm("/messaging/twilio/webhook", smsForm("SM1", "book")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, engine.inbound, 1)
	assert.Empty(t, dispatcher.replies)
}

func TestTwilioWebhookRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
		code int
	}{
		{"missing sid", smsForm("", "2"), http.StatusBadRequest},
		{"unknown number", func() url.Values { f := smsForm("SM2", "2"); f.Set("To", "+15559999999"); return f }(), http.StatusBadRequest},
		{"empty body", smsForm("SM3", "   "), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &stubEngine{}
			h := newTestHandler(engine, &recordingDispatcher{})
			rec := httptest.NewRecorder()
			h.TwilioWebhook(rec, postForm("/messaging/twilio/webhook", tt.form))
			assert.Equal(t, tt.code, rec.Code)
			assert.Empty(t, engine.inbound)
		})
	}
}

func TestTwilioWebhookSignature(t *testing.T) {
	const secret = "twilio-secret"
	target := "https://api.example.com/messaging/twilio/webhook"
	engine := &stubEngine{turn: replyTurn("hi")}
	h := newTestHandler(engine, &recordingDispatcher{}, WithWebhookSecret(secret))

	unsigned := httptest.NewRecorder()
	h.TwilioWebhook(unsigned, postForm(target, smsForm("SM1", "2")))
	assert.Equal(t, http.StatusUnauthorized, unsigned.Code)

	form := smsForm("SM2", "2")
	req := postForm(target, form)
	req.Header.Set("X-Twilio-Signature", computeSignature(buildSignaturePayload(target, form), secret))
	signed := httptest.NewRecorder()
	h.TwilioWebhook(signed, req)
	assert.Equal(t, http.StatusOK, signed.Code)
	assert.Len(t, engine.inbound, 1)
}

func TestTwilioVoiceStatusStartsFollowUpOnMissedCall(t *testing.T) {
	engine := &stubEngine{turn: replyTurn("Hi, this is Bright Smile Dental. Sorry we missed your call!")}
	dispatcher := &recordingDispatcher{}
	h := newTestHandler(engine, dispatcher)

	form := url.Values{}
	form.Set("CallSid", "CA1")
	form.Set("CallStatus", "no-answer")
	form.Set("From", callerNumber)
	form.Set("To", clinicNumber)

	rec := httptest.NewRecorder()
	h.TwilioVoiceStatus(rec, postForm("/messaging/twilio/voice", form))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, engine.followUps, 1)
	assert.Equal(t, conversation.FollowUpRequest{TenantID: "clinic-a", CallerPhone: callerNumber, ClinicPhone: clinicNumber}, engine.followUps[0])
	assert.Len(t, dispatcher.replies, 1)

	rec = httptest.NewRecorder()
	h.TwilioVoiceStatus(rec, postForm("/messaging/twilio/voice", form))
	assert.Len(t, engine.followUps, 1, "redelivered status callback")

	form.Set("CallSid", "CA2")
	form.Set("CallStatus", "completed")
	rec = httptest.NewRecorder()
	h.TwilioVoiceStatus(rec, postForm("/messaging/twilio/voice", form))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, engine.followUps, 1)
}

func TestFollowUpEndpoint(t *testing.T) {
	engine := &stubEngine{turn: replyTurn("Hi, this is Bright Smile Dental.")}
	dispatcher := &recordingDispatcher{}
	h := newTestHandler(engine, dispatcher, WithFollowUpToken("s3cret"))

	post := func(body, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/followups", strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.FollowUp(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, post(`{"caller_phone":"+15550002001"}`, "").Code)
	assert.Equal(t, http.StatusUnauthorized, post(`{"caller_phone":"+15550002001"}`, "wrong").Code)
	assert.Equal(t, http.StatusBadRequest, post(`{`, "s3cret").Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"clinic_phone":"+15550001000"}`, "s3cret").Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"caller_phone":"+15550002001","clinic_phone":"+15550009999"}`, "s3cret").Code)
	assert.Empty(t, engine.followUps)

	rec := post(`{"caller_phone":"555-000-2001","clinic_phone":"+15550001000"}`, "s3cret")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp followUpResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "conv-1", resp.ConversationID)
	assert.True(t, resp.Sent)
	require.Len(t, engine.followUps, 1)
	assert.Equal(t, "clinic-a", engine.followUps[0].TenantID)
	assert.Equal(t, callerNumber, engine.followUps[0].CallerPhone)
	assert.Len(t, dispatcher.replies, 1)
}

func TestFollowUpDisabledWithoutToken(t *testing.T) {
	h := newTestHandler(&stubEngine{}, &recordingDispatcher{})
	req := httptest.NewRequest(http.MethodPost, "/followups", strings.NewReader(`{"tenant_id":"clinic-a","caller_phone":"+15550002001"}`))
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	h.FollowUp(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
