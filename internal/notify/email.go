package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/wolfman30/missedcall-booking/internal/leads"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

// EmailSender sends staff email. SendGrid, SES and the stub are interchangeable.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is one email to one recipient. HTML is optional.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string
	HTML    string
}

const defaultFromName = "Front Desk"

var errNoRecipient = errors.New("notify: email recipient required")

type mailbox struct {
	name    string
	address string
}

func fromMailbox(address, name string) mailbox {
	if name == "" {
		name = defaultFromName
	}
	return mailbox{name: name, address: address}
}

func (m mailbox) String() string {
	return fmt.Sprintf("%s <%s>", m.name, m.address)
}

// envelope is the provider-neutral form of a message; each sender only maps
// it onto its own request type.
type envelope struct {
	from    mailbox
	to      mailbox
	subject string
	text    string
	html    string
}

func (msg EmailMessage) envelope(from mailbox) (envelope, error) {
	if strings.TrimSpace(msg.To) == "" {
		return envelope{}, errNoRecipient
	}
	return envelope{
		from:    from,
		to:      mailbox{name: msg.ToName, address: msg.To},
		subject: msg.Subject,
		text:    msg.Body,
		html:    msg.HTML,
	}, nil
}

func sendFailed(logger *logging.Logger, provider, to string, err error) error {
	logger.Error("email send failed", "provider", provider, "error", err, "to", to)
	return fmt.Errorf("notify: %s send failed: %w", provider, err)
}

// staffEmail renders the callback alert for one clinic recipient.
func staffEmail(to, clinicName string, lead *leads.Lead, reason, requested string) EmailMessage {
	return EmailMessage{
		To:      to,
		Subject: fmt.Sprintf("Call back requested: %s", lead.Phone),
		Body: fmt.Sprintf("A caller is waiting for a call back from %s.\n\nPhone: %s\nReason: %s\nRequested: %s\nPriority: %s\n",
			clinicName, lead.Phone, reason, requested, lead.Priority),
		HTML: fmt.Sprintf(`<p>A caller is waiting for a call back from <strong>%s</strong>.</p>
<ul>
  <li>Phone: <a href="tel:%s">%s</a></li>
  <li>Reason: %s</li>
  <li>Requested: %s</li>
  <li>Priority: %s</li>
</ul>`,
			html.EscapeString(clinicName), lead.Phone, lead.Phone, html.EscapeString(reason), requested, lead.Priority),
	}
}

// StubEmailSender logs instead of sending. Used when no provider is configured.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	if _, err := msg.envelope(fromMailbox("", "")); err != nil {
		return err
	}
	s.logger.Info("stub email sender: would send email", "to", msg.To, "subject", msg.Subject)
	return nil
}
