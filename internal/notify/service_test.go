package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wolfman30/missedcall-booking/internal/clinic"
	"github.com/wolfman30/missedcall-booking/internal/conversation"
	"github.com/wolfman30/missedcall-booking/internal/leads"
)

type mockEmailSender struct {
	sent []EmailMessage
	err  error
}

func (m *mockEmailSender) Send(_ context.Context, msg EmailMessage) error {
	m.sent = append(m.sent, msg)
	return m.err
}

type sentSMS struct {
	from, to, body string
}

type mockSMSSender struct {
	sent []sentSMS
	err  error
}

func (m *mockSMSSender) SendSMS(_ context.Context, from, to, body string) error {
	m.sent = append(m.sent, sentSMS{from: from, to: to, body: body})
	return m.err
}

func testClinic() *clinic.Config {
	cfg := clinic.DefaultConfig("clinic-a")
	cfg.Name = "Bright Smiles Dental"
	cfg.Phone = "+15550001000"
	cfg.Timezone = "America/New_York"
	cfg.Notifications = clinic.NotificationPrefs{
		EmailRecipients:  []string{"owner@example.com", "desk@example.com"},
		SMSRecipients:    []string{"+15550009999"},
		NotifyOnCallback: true,
	}
	return cfg
}

func testLead() *leads.Lead {
	return &leads.Lead{
		ID:        "lead-1",
		TenantID:  "clinic-a",
		Phone:     "+15550002001",
		Status:    leads.StatusQualified,
		Priority:  leads.PriorityHigh,
		Reason:    "my crown fell out",
		UpdatedAt: time.Date(2025, 12, 8, 15, 30, 0, 0, time.UTC),
	}
}

func TestNotifyCallbackRequested_SendsEmailAndSMS(t *testing.T) {
	email := &mockEmailSender{}
	sms := &mockSMSSender{}
	svc := NewService(email, sms, nil)

	if err := svc.NotifyCallbackRequested(context.Background(), testClinic(), testLead()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(email.sent) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(email.sent))
	}
	if !strings.Contains(email.sent[0].Subject, "+15550002001") {
		t.Errorf("subject should name the caller, got %q", email.sent[0].Subject)
	}
	if !strings.Contains(email.sent[0].Body, "my crown fell out") {
		t.Errorf("body should carry the reason, got %q", email.sent[0].Body)
	}
	// 15:30 UTC is 10:30 in New York.
	if !strings.Contains(email.sent[0].Body, "10:30 AM") {
		t.Errorf("body should use clinic local time, got %q", email.sent[0].Body)
	}

	if len(sms.sent) != 1 {
		t.Fatalf("expected 1 sms, got %d", len(sms.sent))
	}
	if sms.sent[0].from != "+15550001000" || sms.sent[0].to != "+15550009999" {
		t.Errorf("unexpected sms routing %+v", sms.sent[0])
	}
}

func TestNotifyCallbackRequested_Disabled(t *testing.T) {
	email := &mockEmailSender{}
	sms := &mockSMSSender{}
	svc := NewService(email, sms, nil)

	cfg := testClinic()
	cfg.Notifications.NotifyOnCallback = false

	if err := svc.NotifyCallbackRequested(context.Background(), cfg, testLead()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(email.sent) != 0 || len(sms.sent) != 0 {
		t.Error("expected no notifications when disabled")
	}
}

func TestNotifyCallbackRequested_AttemptsEveryRecipient(t *testing.T) {
	email := &mockEmailSender{err: errors.New("smtp down")}
	sms := &mockSMSSender{}
	svc := NewService(email, sms, nil)

	err := svc.NotifyCallbackRequested(context.Background(), testClinic(), testLead())
	if err == nil {
		t.Fatal("expected error when email fails")
	}
	if len(email.sent) != 2 {
		t.Errorf("expected both email recipients attempted, got %d", len(email.sent))
	}
	if len(sms.sent) != 1 {
		t.Errorf("sms should still be sent after email failures, got %d", len(sms.sent))
	}
}

func TestNotifyCallbackRequested_DefaultReason(t *testing.T) {
	email := &mockEmailSender{}
	svc := NewService(email, nil, nil)

	lead := testLead()
	lead.Reason = ""
	if err := svc.NotifyCallbackRequested(context.Background(), testClinic(), lead); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(email.sent[0].Body, "caller asked for a call back") {
		t.Errorf("expected default reason, got %q", email.sent[0].Body)
	}
}

func TestNotifyCallbackRequested_NilLead(t *testing.T) {
	svc := NewService(&mockEmailSender{}, nil, nil)
	if err := svc.NotifyCallbackRequested(context.Background(), testClinic(), nil); err != nil {
		t.Errorf("expected nil error for nil lead, got %v", err)
	}
}

type recordingMessenger struct {
	replies []conversation.OutboundReply
}

func (r *recordingMessenger) SendReply(_ context.Context, reply conversation.OutboundReply) error {
	r.replies = append(r.replies, reply)
	return nil
}

func TestMessengerSMS_SendSMS(t *testing.T) {
	messenger := &recordingMessenger{}
	sms := MessengerSMS{Messenger: messenger}

	if err := sms.SendSMS(context.Background(), "+15550001000", "+15550009999", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messenger.replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(messenger.replies))
	}
	got := messenger.replies[0]
	if got.From != "+15550001000" || got.To != "+15550009999" || got.Body != "hello" {
		t.Errorf("unexpected reply %+v", got)
	}

	if err := (MessengerSMS{}).SendSMS(context.Background(), "a", "b", "c"); err == nil {
		t.Error("expected error without messenger")
	}
}
