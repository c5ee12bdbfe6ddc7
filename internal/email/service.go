// Package email sends account mail (verification, password reset) via SMTP.
package email

import (
	"fmt"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendVerificationEmail sends the account verification mail.
func (s *Service) SendVerificationEmail(to, displayName, token string) error {
	body := fmt.Sprintf(
		"Hi %s,\n\nWelcome to Inkwell. Use this token to verify your email address:\n\n%s\n\nThe token expires in 24 hours.\n",
		displayName, token)
	return s.SendEmail([]string{to}, "Verify your Inkwell account", body)
}

// SendPasswordResetEmail sends the password reset mail.
func (s *Service) SendPasswordResetEmail(to, token string) error {
	body := fmt.Sprintf(
		"A password reset was requested for your Inkwell account.\n\nReset token:\n\n%s\n\nThe token expires in 1 hour. If you did not request this, ignore this mail.\n",
		token)
	return s.SendEmail([]string{to}, "Reset your Inkwell password", body)
}
