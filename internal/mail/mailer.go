package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"user-portal/internal/observability"
)

// Mailer delivers the generated password after registration and password
// reset. Delivery is best-effort; callers log failures and carry on.
type Mailer interface {
	SendNewPassword(ctx context.Context, toEmail, firstName, password string) error
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type SMTPMailer struct {
	config SMTPConfig
}

func NewSMTPMailer(config SMTPConfig) *SMTPMailer {
	if config.Port == "" {
		config.Port = "587"
	}
	if config.From == "" {
		config.From = config.Username
	}
	return &SMTPMailer{config: config}
}

func (m *SMTPMailer) SendNewPassword(ctx context.Context, toEmail, firstName, password string) error {
	addr := m.config.Host + ":" + m.config.Port
	auth := smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)

	var body strings.Builder
	body.WriteString("From: " + m.config.From + "\r\n")
	body.WriteString("To: " + toEmail + "\r\n")
	body.WriteString("Subject: User Portal - New Password\r\n")
	body.WriteString("\r\n")
	body.WriteString("Hello " + firstName + ",\r\n\r\n")
	body.WriteString("Your new account password is: " + password + "\r\n\r\n")
	body.WriteString("The Support Team\r\n")

	if err := smtp.SendMail(addr, auth, m.config.From, []string{toEmail}, []byte(body.String())); err != nil {
		return fmt.Errorf("send password email: %w", err)
	}

	return nil
}

// LogMailer stands in when no SMTP host is configured. It records that a
// delivery was skipped without logging the password itself.
type LogMailer struct {
	logger *observability.Logger
}

func NewLogMailer(logger *observability.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendNewPassword(ctx context.Context, toEmail, firstName, password string) error {
	m.logger.Warn("password_email_skipped", map[string]any{
		"email":  toEmail,
		"reason": "smtp is not configured",
	})
	return nil
}
