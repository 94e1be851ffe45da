// Package messaging delivers SMS, email, and WhatsApp messages through the
// external messaging provider. All sends are best-effort: callers fire them
// as side effects of lifecycle transitions and never roll back on failure.
package messaging

import (
	"context"

	"github.com/varaprasadreddy9676/patient-care-sub000/pkg/logging"
)

// SMSSender sends one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, text, hospitalCode string) error
}

// WhatsAppSender sends one templated WhatsApp message.
type WhatsAppSender interface {
	SendTemplate(ctx context.Context, phone string, params []string) error
}

// Service fans out to the configured channels. A nil channel is skipped;
// channel errors are logged, never returned, since the triggering transition
// is already committed.
type Service struct {
	sms      SMSSender
	email    EmailSender
	whatsapp WhatsAppSender
	logger   *logging.Logger
}

// NewService creates a messaging service. Any channel may be nil.
func NewService(sms SMSSender, email EmailSender, whatsapp WhatsAppSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{sms: sms, email: email, whatsapp: whatsapp, logger: logger}
}

// SendSMS delivers a text message, best-effort.
func (s *Service) SendSMS(ctx context.Context, phone, text, hospitalCode string) error {
	if s.sms == nil || phone == "" {
		return nil
	}
	if err := s.sms.SendSMS(ctx, phone, text, hospitalCode); err != nil {
		s.logger.Error("messaging: sms failed", "phone", phone, "error", err)
	}
	return nil
}

// SendEmail delivers an email, best-effort.
func (s *Service) SendEmail(ctx context.Context, msg EmailMessage) error {
	if s.email == nil || msg.To == "" {
		return nil
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("messaging: email failed", "to", msg.To, "error", err)
	}
	return nil
}

// SendWhatsApp delivers a templated WhatsApp message, best-effort.
func (s *Service) SendWhatsApp(ctx context.Context, phone string, params []string) error {
	if s.whatsapp == nil || phone == "" {
		return nil
	}
	if err := s.whatsapp.SendTemplate(ctx, phone, params); err != nil {
		s.logger.Error("messaging: whatsapp failed", "phone", phone, "error", err)
	}
	return nil
}
