// Package mailer sends queued sequence emails over SMTP.
package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"net"
	"net/textproto"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"leadpilot/models"
	"leadpilot/utils"
)

// SMTPConfig holds the outbound mail server settings.
type SMTPConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.FromEmail != ""
}

// Sender delivers one email and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, email *models.Email) (string, error)
}

// Dialer is the subset of gomail.Dialer used to send.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPSender struct {
	cfg    SMTPConfig
	dialer Dialer

	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	// Tracker adds an HTML part carrying an open pixel when set
	Tracker *utils.OpenTracker
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	return NewSMTPSenderWithDialer(cfg, d)
}

func NewSMTPSenderWithDialer(cfg SMTPConfig, dialer Dialer) *SMTPSender {
	return &SMTPSender{
		cfg:         cfg,
		dialer:      dialer,
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
	}
}

// BuildMessage renders the email. Our generated Message-ID is used so replies
// can be threaded back to the row.
func (s *SMTPSender) BuildMessage(email *models.Email) *gomail.Message {
	m := gomail.NewMessage()
	if s.cfg.FromName != "" {
		m.SetAddressHeader("From", s.cfg.FromEmail, s.cfg.FromName)
	} else {
		m.SetHeader("From", s.cfg.FromEmail)
	}
	m.SetHeader("To", email.ToEmail)
	m.SetHeader("Subject", email.Subject)
	m.SetHeader("Message-ID", email.MessageID)
	m.SetHeader("X-Mailer", "leadpilot/1.0")
	m.SetBody("text/plain", email.Body)
	if s.Tracker != nil && email.ID != 0 {
		m.AddAlternative("text/html", s.Tracker.InjectPixel(htmlBody(email.Body), email.ID))
	}
	return m
}

func htmlBody(text string) string {
	escaped := html.EscapeString(text)
	return "<html><body>" + strings.ReplaceAll(escaped, "\n", "<br>\n") + "</body></html>"
}

// Send retries temporary SMTP failures with a growing backoff.
func (s *SMTPSender) Send(ctx context.Context, email *models.Email) (string, error) {
	m := s.BuildMessage(email)

	attempts := s.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(s.Backoff(attempt)):
			}
		}

		err := s.dialer.DialAndSend(m)
		if err == nil {
			return email.MessageID, nil
		}
		lastErr = err
		if !IsTemporary(err) {
			break
		}
	}
	return "", fmt.Errorf("send failed: %w", lastErr)
}

var temporaryMarkers = []string{"try again", "temporary", "421", "450", "451", "452"}

// IsTemporary reports whether an SMTP error is worth retrying.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code >= 400 && tpErr.Code < 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range temporaryMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
