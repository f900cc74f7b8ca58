// Package mail defines the outbound mail collaborator.
//
// The auth core only guarantees the message it hands over is fully formed
// and DKIM-signed; delivery is the Mailer's concern. Two implementations are
// provided: an SMTP relay transport for production and a logging mailer that
// simulates sends in debug deployments.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Mailer delivers a fully formed message. Implementations must not mutate
// the message; extraHeaders carries pre-computed fields such as the
// DKIM-Signature.
type Mailer interface {
	Send(ctx context.Context, from, to, subject, body string, extraHeaders map[string]string) error
}

// LogMailer pretends to deliver mail by logging it. Used when no SMTP relay
// is configured, mirroring debug-mode behavior where real sends are
// undesirable.
type LogMailer struct {
	Log *zap.Logger
}

func (m *LogMailer) Send(ctx context.Context, from, to, subject, body string, extraHeaders map[string]string) error {
	m.Log.Info("email send simulated",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}

// SMTPMailer hands messages to an SMTP relay.
type SMTPMailer struct {
	Addr string // host:port of the relay
}

func (m *SMTPMailer) Send(ctx context.Context, from, to, subject, body string, extraHeaders map[string]string) error {
	msg := Render(from, to, subject, body, extraHeaders)
	if err := smtp.SendMail(m.Addr, nil, from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("mail: sending via %s: %w", m.Addr, err)
	}
	return nil
}

// Render assembles the wire-format message: extra headers first (so the
// DKIM-Signature leads), then the addressing headers, a blank line, and the
// body with CRLF line endings.
func Render(from, to, subject, body string, extraHeaders map[string]string) string {
	var b strings.Builder

	names := make([]string, 0, len(extraHeaders))
	for name := range extraHeaders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(extraHeaders[name])
		b.WriteString("\r\n")
	}

	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("\r\n")
	body = strings.ReplaceAll(body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.String()
}
