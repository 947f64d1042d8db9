// Package notify delivers one-time passcodes over email. Delivery is a
// fire-and-forget side channel of session creation: a failed send is
// reported to the caller (who asks the user to request a fresh session) and
// is never retried here.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// ErrDelivery indicates the notification channel rejected the send.
var ErrDelivery = errors.New("otp delivery failed")

// Sender dispatches an OTP to its recipient.
type Sender interface {
	SendOTP(ctx context.Context, toEmail, toName, otp string) error
}

// SendGridSender delivers OTP mail through the SendGrid API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
}

// NewSendGridSender constructs a SendGridSender. fromEmail/fromName are the
// envelope sender shown to recipients.
func NewSendGridSender(apiKey, fromEmail, fromName string) *SendGridSender {
	return &SendGridSender{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

// SendOTP sends the verification code. Any transport error or non-2xx API
// response maps to ErrDelivery.
func (s *SendGridSender) SendOTP(ctx context.Context, toEmail, toName, otp string) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(toName, toEmail)
	subject := "Your Smart Code Review verification code"
	plain := fmt.Sprintf("Hi %s,\n\nYour verification code is %s.\nIt expires in 10 minutes.\n", toName, otp)
	html := fmt.Sprintf(
		`<p>Hi %s,</p><p>Your verification code is <strong>%s</strong>.</p><p>It expires in 10 minutes.</p>`,
		toName, otp,
	)

	msg := mail.NewSingleEmail(from, subject, to, plain, html)
	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	if resp.StatusCode >= 400 {
		log.Warn().Int("status", resp.StatusCode).Msg("sendgrid rejected otp mail")
		return fmt.Errorf("%w: sendgrid status %d", ErrDelivery, resp.StatusCode)
	}
	return nil
}

// LogSender writes the OTP to the application log instead of sending mail.
// Used in development when no SendGrid key is configured.
type LogSender struct{}

// SendOTP logs the code at info level.
func (LogSender) SendOTP(_ context.Context, toEmail, _ string, otp string) error {
	log.Info().Str("email", toEmail).Str("otp", otp).Msg("otp delivery (log sender)")
	return nil
}
