package messaging

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/varaprasadreddy9676/patient-care-sub000/pkg/logging"
)

// EmailSender defines the interface for sending emails.
// Implementations can be swapped (SendGrid, SES) without changing callers.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage represents an email to be sent.
type EmailMessage struct {
	To          string
	ToName      string
	Subject     string
	Body        string // plain text body
	HTML        string // optional HTML body
	Attachments []Attachment
}

// Attachment is an inline email attachment, e.g. a booking receipt PDF.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte // raw bytes, base64-encoded on send
}

// SendGridSender sends emails via SendGrid API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender creates a new SendGrid email sender. Returns nil when no
// API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Patient Care"
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// Send sends an email via SendGrid.
func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("messaging: sendgrid client not configured")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)

	var message *mail.SGMailV3
	if msg.HTML != "" {
		message = mail.NewSingleEmail(from, msg.Subject, to, msg.Body, msg.HTML)
	} else {
		message = mail.NewSingleEmailPlainText(from, msg.Subject, to, msg.Body)
	}

	for _, att := range msg.Attachments {
		a := mail.NewAttachment()
		a.SetFilename(att.Filename)
		a.SetType(att.ContentType)
		a.SetContent(encodeBase64(att.Content))
		message.AddAttachment(a)
	}

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("messaging: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("messaging: sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}

	s.logger.Info("messaging: email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}
