// Package email sends the transactional mail of the onboarding flow over
// SMTP: address verification, password resets and organization invitations.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

var ErrNotConfigured = errors.New("email not configured")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	AppName  string
}

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewService(config Config) *Service {
	if config.AppName == "" {
		config.AppName = "OrderDesk"
	}
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured reports whether mail can be sent. When it cannot, callers
// hand the link token back to the client instead.
func (s *Service) IsConfigured() bool {
	return s != nil && s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName == "" {
		return s.config.From
	}
	return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
}

// buildMessage renders a multipart/alternative message with a plain-text
// fallback.
func (s *Service) buildMessage(to, subject, text, html string) []byte {
	const boundary = "orderdesk-alt"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, text)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, html)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

func (s *Service) deliver(to, subject, text, page string, data any) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("invalid header value")
	}
	var html bytes.Buffer
	if err := templates.ExecuteTemplate(&html, page, data); err != nil {
		return fmt.Errorf("render %s: %w", page, err)
	}
	return s.send(s.server, s.auth, s.config.From, []string{to}, s.buildMessage(to, subject, text, html.String()))
}

type linkData struct {
	AppName  string
	UserName string
	URL      string
}

func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	data := linkData{AppName: s.config.AppName, UserName: userName, URL: verificationURL}
	return s.deliver(to,
		fmt.Sprintf("Verify your %s account", s.config.AppName),
		"Verify your email address: "+verificationURL,
		"verification", data)
}

func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	data := linkData{AppName: s.config.AppName, UserName: userName, URL: resetURL}
	return s.deliver(to,
		fmt.Sprintf("Reset your %s password", s.config.AppName),
		"Reset your password: "+resetURL,
		"reset", data)
}

type invitationData struct {
	AppName          string
	OrganizationName string
	InviterEmail     string
	Role             string
	URL              string
}

func (s *Service) SendInvitationEmail(to, organizationName, inviterEmail, role, invitationsURL string) error {
	data := invitationData{
		AppName:          s.config.AppName,
		OrganizationName: organizationName,
		InviterEmail:     inviterEmail,
		Role:             role,
		URL:              invitationsURL,
	}
	return s.deliver(to,
		fmt.Sprintf("You have been invited to %s on %s", organizationName, s.config.AppName),
		fmt.Sprintf("%s invited you to join %s as %s: %s", inviterEmail, organizationName, role, invitationsURL),
		"invitation", data)
}

var templates = template.Must(template.New("email").Parse(`
{{define "layout-start"}}<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #1f7a4d; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #1f7a4d; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
{{end}}
{{define "layout-end"}}
</body>
</html>{{end}}

{{define "verification"}}{{template "layout-start" .}}
    <h2>Welcome, {{.UserName}}!</h2>
    <p>Confirm your email address to start managing orders.</p>
    <p><a href="{{.URL}}" class="button">Verify email address</a></p>
    <p>This link expires in 24 hours.</p>
    <div class="footer"><p>If you did not create an account, ignore this email.</p></div>
{{template "layout-end"}}{{end}}

{{define "reset"}}{{template "layout-start" .}}
    <h2>Password reset</h2>
    <p>Hi {{.UserName}}, use the button below to choose a new password.</p>
    <p><a href="{{.URL}}" class="button">Reset password</a></p>
    <p>This link expires in 1 hour.</p>
    <div class="footer"><p>If you did not ask for a reset, your password stays unchanged.</p></div>
{{template "layout-end"}}{{end}}

{{define "invitation"}}{{template "layout-start" .}}
    <h2>Join {{.OrganizationName}}</h2>
    <p>{{.InviterEmail}} invited you to join <strong>{{.OrganizationName}}</strong> as {{.Role}}.</p>
    <p><a href="{{.URL}}" class="button">Review invitation</a></p>
    <div class="footer"><p>Sign in or create an account with this email address to accept.</p></div>
{{template "layout-end"}}{{end}}
`))
