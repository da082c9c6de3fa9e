package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"deploywatch/internal/project"
)

// DialTimeout bounds connecting to the SMTP relay.
const DialTimeout = 10 * time.Second

// Email sends plain-text messages through an SMTP relay.
type Email struct {
	cfg project.EmailConfig

	// TLSConfig is used for STARTTLS. Nil means verify against SMTPHost.
	TLSConfig *tls.Config

	now func() time.Time
}

// NewEmail returns an Email notifier, or nil when email is disabled or has
// no recipients.
func NewEmail(cfg project.EmailConfig) *Email {
	if !cfg.Enabled || len(cfg.To) == 0 || cfg.SMTPHost == "" {
		return nil
	}
	return &Email{cfg: cfg, now: time.Now}
}

func (e *Email) Name() string { return "email" }

// Notify runs one SMTP session: optional STARTTLS, optional PLAIN auth, then
// a single message to every recipient.
func (e *Email) Notify(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(e.cfg.SMTPHost, strconv.Itoa(e.cfg.SMTPPort))

	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, e.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake with %s: %w", addr, err)
	}
	defer c.Close()

	if e.cfg.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return errors.New("smtp server does not support STARTTLS")
		}
		tlsConfig := e.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: e.cfg.SMTPHost, MinVersion: tls.VersionTLS12}
		}
		if err := c.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if e.cfg.Username != "" {
		auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.SMTPHost)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(e.cfg.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, to := range e.cfg.To {
		if err := c.Rcpt(to); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", to, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(e.compose(msg)); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}

	return c.Quit()
}

func (e *Email) compose(msg Message) []byte {
	var b bytes.Buffer
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}

	header("From", e.cfg.From)
	header("To", strings.Join(e.cfg.To, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", e.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=utf-8")
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\r\n", "\n"))
	if !strings.HasSuffix(msg.Body, "\n") {
		b.WriteString("\n")
	}
	return b.Bytes()
}
