// Package mail sends transactional email through an SMTP relay.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	gomail "github.com/wneessen/go-mail"
)

// Invite is the content of an employee invitation.
type Invite struct {
	EmployeeName    string
	Email           string
	CompanyName     string
	RegistrationURL string
}

func (i Invite) validate() error {
	switch {
	case strings.TrimSpace(i.Email) == "":
		return fmt.Errorf("invite email is required")
	case strings.TrimSpace(i.RegistrationURL) == "":
		return fmt.Errorf("invite registration URL is required")
	}
	// Every field ends up in a header or a link.
	for name, v := range map[string]string{
		"employee name":    i.EmployeeName,
		"email":            i.Email,
		"company name":     i.CompanyName,
		"registration URL": i.RegistrationURL,
	} {
		if strings.ContainsAny(v, "\r\n") {
			return fmt.Errorf("invite %s must be a single line", name)
		}
	}
	return nil
}

// Sender delivers invitation mail. Failures are returned to the caller; nothing is retried.
type Sender interface {
	SendEmployeeInvite(ctx context.Context, inv Invite) error
}

// Config holds relay settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

var inviteTemplate = template.Must(template.New("invite").Parse(`<!DOCTYPE html>
<html><body style="font-family:sans-serif">
<p>Hi {{.EmployeeName}},</p>
<p>You have been invited to join <strong>{{.CompanyName}}</strong>.</p>
<p><a href="{{.RegistrationURL}}">Complete your registration</a></p>
<p>If you were not expecting this invitation you can ignore this email.</p>
</body></html>`))

// RenderInvite returns the subject and HTML body of an invitation.
func RenderInvite(inv Invite) (subject string, body string, err error) {
	var buf bytes.Buffer
	if err := inviteTemplate.Execute(&buf, inv); err != nil {
		return "", "", fmt.Errorf("render invite: %w", err)
	}
	return fmt.Sprintf("You're invited to join %s", inv.CompanyName), buf.String(), nil
}

type deliverFunc func(ctx context.Context, msg *gomail.Msg) error

// SMTPSender sends mail with go-mail. Headers are encoded by the library.
type SMTPSender struct {
	cfg     Config
	deliver deliverFunc
}

func NewSMTPSender(cfg Config) *SMTPSender {
	s := &SMTPSender{cfg: cfg}
	s.deliver = s.dialAndSend
	return s
}

func (s *SMTPSender) dialAndSend(ctx context.Context, msg *gomail.Msg) error {
	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("mail client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// buildInvite renders inv into a message addressed from the configured sender.
func (s *SMTPSender) buildInvite(inv Invite) (*gomail.Msg, error) {
	subject, body, err := RenderInvite(inv)
	if err != nil {
		return nil, err
	}
	msg := gomail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", s.cfg.From, err)
	}
	if err := msg.To(inv.Email); err != nil {
		return nil, fmt.Errorf("invalid invite address %q: %w", inv.Email, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, body)
	return msg, nil
}

func (s *SMTPSender) SendEmployeeInvite(ctx context.Context, inv Invite) error {
	if err := inv.validate(); err != nil {
		return err
	}
	if s.cfg.Host == "" {
		return fmt.Errorf("mail relay not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := s.buildInvite(inv)
	if err != nil {
		return err
	}
	if err := s.deliver(ctx, msg); err != nil {
		return fmt.Errorf("send invite to %s: %w", inv.Email, err)
	}
	return nil
}
