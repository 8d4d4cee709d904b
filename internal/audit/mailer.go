package audit

import (
	"context"
	"encoding/json"
	"fmt"

	mail "github.com/go-mail/mail"

	"github.com/streamgate/streamgate/internal/store/core"
)

// MailSink alerts operators by email when an event at or above its
// severity floor is recorded. Intended for critical events (abuse
// detections, incident-response revocations), not the general stream.
type MailSink struct {
	dialer      *mail.Dialer
	from        string
	to          []string
	minSeverity core.Severity
}

// MailConfig carries the SMTP parameters for the alert sink.
type MailConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	To          []string
	MinSeverity core.Severity
}

func NewMailSink(cfg MailConfig) *MailSink {
	min := cfg.MinSeverity
	if min == "" {
		min = core.SeverityCritical
	}
	return &MailSink{
		dialer:      mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:        cfg.From,
		to:          cfg.To,
		minSeverity: min,
	}
}

func (s *MailSink) Publish(ctx context.Context, e *core.SecurityEvent) error {
	if e.Severity.Rank() < s.minSeverity.Rank() {
		return nil
	}

	details, _ := json.MarshalIndent(e.Details, "", "  ")

	body := fmt.Sprintf(
		"Security event: %s\nSeverity: %s\nUser: %s\nClient IP: %s\nAt: %s\n\nDetails:\n%s\n",
		e.EventType, e.Severity, orDash(e.UserID), orDash(e.ClientIP),
		e.CreatedAt.Format("2006-01-02 15:04:05 MST"), details,
	)

	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", s.to...)
	m.SetHeader("Subject", fmt.Sprintf("[streamgate] %s %s", e.Severity, e.EventType))
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *MailSink) Close() error { return nil }

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
