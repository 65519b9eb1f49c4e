// Package notification delivers job completion emails.
package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// Message is one outbound notification.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Sender delivers messages. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Completion builds the job-done notification: subject and body both carry
// the job identifier so replies and filters can key on it.
func Completion(jobID, description string, to []string) Message {
	return Message{
		To:      to,
		Subject: fmt.Sprintf("%s %s", jobID, description),
		Body: fmt.Sprintf(
			"%s %s have been successfully generated and ready for download. This is an automated message.",
			jobID, description),
	}
}

// SMTPSender delivers via a plain SMTP relay.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
	log    zerolog.Logger
}

func NewSMTPSender(host string, port int, username, password, from string, log zerolog.Logger) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
		log:    log.With().Str("component", "mailer").Logger(),
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	s.log.Info().Strs("to", msg.To).Str("subject", msg.Subject).Msg("notification sent")
	return nil
}

// MockSender records messages for tests.
type MockSender struct {
	mu   sync.Mutex
	Sent []Message
	Err  error
}

func (m *MockSender) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, msg)
	return nil
}

// Messages returns a copy of everything sent so far.
func (m *MockSender) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.Sent))
	copy(out, m.Sent)
	return out
}
