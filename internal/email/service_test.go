package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "test@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "test@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "test@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}

	var nilSvc *Service
	if nilSvc.IsConfigured() {
		t.Error("nil service must not be configured")
	}
}

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newCapturingService(t *testing.T) (*Service, *capturedMail) {
	t.Helper()
	svc := NewService(Config{Host: "smtp.example.com", Port: "2525", From: "noreply@orderdesk.test", FromName: "OrderDesk"})
	got := &capturedMail{}
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		got.addr, got.from, got.to, got.msg = addr, from, to, string(msg)
		return nil
	}
	return svc, got
}

func TestSendVerificationEmail(t *testing.T) {
	svc, got := newCapturingService(t)
	if err := svc.SendVerificationEmail("ana@example.com", "Ana", "https://app.test/verify-email?token=abc"); err != nil {
		t.Fatalf("SendVerificationEmail() error = %v", err)
	}
	if got.addr != "smtp.example.com:2525" || got.from != "noreply@orderdesk.test" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	for _, want := range []string{
		"From: OrderDesk <noreply@orderdesk.test>",
		"Subject: Verify your OrderDesk account",
		"Welcome, Ana!",
		"https://app.test/verify-email?token=abc",
		"text/plain",
	} {
		if !strings.Contains(got.msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendInvitationEmailEscapesHTML(t *testing.T) {
	svc, got := newCapturingService(t)
	if err := svc.SendInvitationEmail("bo@example.com", "<Acme>", "boss@acme.io", "manager", "https://app.test/organization/invitations"); err != nil {
		t.Fatalf("SendInvitationEmail() error = %v", err)
	}
	if !strings.Contains(got.msg, "&lt;Acme&gt;") {
		t.Error("organization name must be escaped in the html part")
	}
	if !strings.Contains(got.msg, "boss@acme.io invited you to join <Acme> as manager") {
		t.Error("plain text part missing invitation summary")
	}
}

func TestSendPasswordResetEmail(t *testing.T) {
	svc, got := newCapturingService(t)
	if err := svc.SendPasswordResetEmail("ana@example.com", "Ana", "https://app.test/reset-password?token=xyz"); err != nil {
		t.Fatalf("SendPasswordResetEmail() error = %v", err)
	}
	if !strings.Contains(got.msg, "Subject: Reset your OrderDesk password") {
		t.Error("unexpected subject")
	}
}

func TestSendRejectsUnconfiguredAndHeaderInjection(t *testing.T) {
	if err := NewService(Config{}).SendVerificationEmail("a@example.com", "A", "u"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	svc, _ := newCapturingService(t)
	if err := svc.SendVerificationEmail("a@example.com\r\nBcc: x@evil.test", "A", "u"); err == nil {
		t.Fatal("expected header injection to be rejected")
	}
}
