package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/config"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

// SMTPMailer sends HTML mail through a single SMTP relay. It implements domain.Mailer.
type SMTPMailer struct {
	cfg         config.SMTPConfig
	dialTimeout time.Duration
	logger      domain.Logger
}

func NewSMTPMailer(cfg config.SMTPConfig, logger domain.Logger) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("smtp host and from address are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{cfg: cfg, dialTimeout: 30 * time.Second, logger: logger}, nil
}

// SendEmail delivers one message. Connection failures are transient, a refused
// recipient is a validation error.
func (m *SMTPMailer) SendEmail(ctx context.Context, to, subject, html string) error {
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return domain.NewValidationError("send email", fmt.Errorf("header injection in recipient or subject"))
	}
	msg := buildMessage(m.cfg.From, to, subject, html)
	if err := m.send(ctx, to, msg); err != nil {
		m.logger.Warn(ctx, "Email delivery failed", "to", to, "error", err.Error())
		return err
	}
	m.logger.Debug(ctx, "Email delivered", "to", to)
	return nil
}

func buildMessage(from, to, subject, html string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(html)
	return []byte(b.String())
}

func (m *SMTPMailer) send(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprint(m.cfg.Port))
	dialer := &net.Dialer{Timeout: m.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return domain.NewTransientError("smtp connect", err)
	}
	defer func() { _ = conn.Close() }()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return domain.NewTransientError("smtp handshake", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return domain.NewTransientError("smtp starttls", err)
		}
	}
	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return domain.NewFatalError("smtp auth", err)
		}
	}
	if err := client.Mail(m.cfg.From); err != nil {
		return domain.NewTransientError("smtp mail from", err)
	}
	if err := client.Rcpt(to); err != nil {
		return domain.NewValidationError("smtp rcpt", err)
	}
	w, err := client.Data()
	if err != nil {
		return domain.NewTransientError("smtp data", err)
	}
	if _, err := w.Write(msg); err != nil {
		return domain.NewTransientError("smtp write", err)
	}
	if err := w.Close(); err != nil {
		return domain.NewTransientError("smtp data close", err)
	}
	return client.Quit()
}
