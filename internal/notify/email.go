package notify

import (
	"context"
	"fmt"
	netmail "net/mail"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

// DefaultFromName is used when no sender name is configured.
const DefaultFromName = "Sector 7"

// CategorySellerAlert tags assignment alerts in provider dashboards.
const CategorySellerAlert = "seller_alert"

// EmailSender delivers one e-mail.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// Address is a mailbox with an optional display name.
type Address struct {
	Name  string
	Email string
}

// String renders the RFC 5322 form, encoding non-ASCII names.
func (a Address) String() string {
	return (&netmail.Address{Name: a.Name, Address: a.Email}).String()
}

// EmailMessage is a plain-text alert with an optional HTML part.
type EmailMessage struct {
	To       Address
	Subject  string
	Text     string
	HTML     string
	Category string
}

func (m EmailMessage) validate() error {
	if strings.TrimSpace(m.To.Email) == "" {
		return fmt.Errorf("notify: recipient is required")
	}
	if m.Text == "" && m.HTML == "" {
		return fmt.Errorf("notify: message has no content")
	}
	return nil
}

func withDefaultName(from Address) Address {
	if strings.TrimSpace(from.Name) == "" {
		from.Name = DefaultFromName
	}
	return from
}

// SendGridSender delivers through the SendGrid v3 API.
type SendGridSender struct {
	client *sendgrid.Client
	from   Address
	logger *logging.Logger
}

// NewSendGridSender returns nil when apiKey is empty.
func NewSendGridSender(apiKey string, from Address, logger *logging.Logger) *SendGridSender {
	if apiKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGridSender{
		client: sendgrid.NewSendClient(apiKey),
		from:   withDefaultName(from),
		logger: logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}
	if err := msg.validate(); err != nil {
		return err
	}

	response, err := s.client.SendWithContext(ctx, buildSendGridMail(s.from, msg))
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Warn("sendgrid rejected message", "status", response.StatusCode, "body", response.Body, "to", msg.To.Email)
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info("email sent", "provider", "sendgrid", "to", msg.To.Email, "category", msg.Category)
	return nil
}

func buildSendGridMail(from Address, msg EmailMessage) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(from.Name, from.Email))
	m.Subject = msg.Subject

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(msg.To.Name, msg.To.Email))
	m.AddPersonalizations(p)

	// SendGrid requires text/plain before text/html.
	if msg.Text != "" {
		m.AddContent(mail.NewContent("text/plain", msg.Text))
	}
	if msg.HTML != "" {
		m.AddContent(mail.NewContent("text/html", msg.HTML))
	}
	if msg.Category != "" {
		m.AddCategories(msg.Category)
	}
	return m
}

// StubEmailSender logs instead of sending.
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
	s.logger.Info("email not sent (stub provider)", "to", msg.To.Email, "subject", msg.Subject, "category", msg.Category)
	return nil
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*StubEmailSender)(nil)
)
