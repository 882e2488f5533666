package mail

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"
)

func TestRenderInvite_EscapesFields(t *testing.T) {
	subject, body, err := RenderInvite(Invite{
		EmployeeName:    "<b>Asha</b>",
		Email:           "asha@example.com",
		CompanyName:     "Acme",
		RegistrationURL: "https://app.example.com/register?token=abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "You're invited to join Acme", subject)
	assert.Contains(t, body, "&lt;b&gt;Asha&lt;/b&gt;")
	assert.Contains(t, body, "https://app.example.com/register?token=abc")
}

// capture replaces delivery with one that renders the message.
func capture(s *SMTPSender) *bytes.Buffer {
	var buf bytes.Buffer
	s.deliver = func(ctx context.Context, msg *gomail.Msg) error {
		_, err := msg.WriteTo(&buf)
		return err
	}
	return &buf
}

func TestSMTPSender_Send(t *testing.T) {
	s := NewSMTPSender(Config{Host: "smtp.example.com", Port: 587, From: "hr@example.com"})
	out := capture(s)

	err := s.SendEmployeeInvite(context.Background(), Invite{
		EmployeeName: "Ravi", Email: "ravi@example.com", CompanyName: "Acme", RegistrationURL: "https://x/r",
	})
	require.NoError(t, err)
	msg := out.String()
	assert.Contains(t, msg, "<hr@example.com>")
	assert.Contains(t, msg, "<ravi@example.com>")
	assert.Contains(t, msg, "Subject: You're invited to join Acme")
	assert.Contains(t, msg, "text/html")
}

func TestSMTPSender_RejectsHeaderInjection(t *testing.T) {
	s := NewSMTPSender(Config{Host: "smtp.example.com", Port: 587, From: "hr@example.com"})
	out := capture(s)

	for _, inv := range []Invite{
		{EmployeeName: "Eve", Email: "eve@example.com", CompanyName: "Acme\r\nBcc: victim@evil.test", RegistrationURL: "https://x/r"},
		{EmployeeName: "Eve\nX-Injected: 1", Email: "eve@example.com", CompanyName: "Acme", RegistrationURL: "https://x/r"},
		{EmployeeName: "Eve", Email: "eve@example.com\r\nBcc: victim@evil.test", CompanyName: "Acme", RegistrationURL: "https://x/r"},
	} {
		err := s.SendEmployeeInvite(context.Background(), inv)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "single line")
	}
	assert.Zero(t, out.Len(), "nothing is delivered")
}

func TestSMTPSender_EncodedSubjectHasNoExtraHeaders(t *testing.T) {
	s := NewSMTPSender(Config{Host: "smtp.example.com", Port: 587, From: "hr@example.com"})
	msg, err := s.buildInvite(Invite{Email: "eve@example.com", CompanyName: "Acme\r\nBcc: victim@evil.test", RegistrationURL: "https://x/r"})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	for _, line := range strings.Split(buf.String(), "\r\n") {
		assert.False(t, strings.HasPrefix(line, "Bcc:"), "unexpected header line %q", line)
	}
}

func TestSMTPSender_RelayFailureIsReturned(t *testing.T) {
	s := NewSMTPSender(Config{Host: "smtp.example.com", Port: 25, From: "hr@example.com"})
	s.deliver = func(context.Context, *gomail.Msg) error {
		return errors.New("relay rejected")
	}
	err := s.SendEmployeeInvite(context.Background(), Invite{Email: "a@b.co", RegistrationURL: "https://x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay rejected")
}

func TestSMTPSender_RequiresEmail(t *testing.T) {
	s := NewSMTPSender(Config{Host: "smtp.example.com", Port: 25})
	err := s.SendEmployeeInvite(context.Background(), Invite{RegistrationURL: "https://x"})
	require.Error(t, err)
}
