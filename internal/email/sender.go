package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/dhernos/credstore/internal/auth"
	"github.com/dhernos/credstore/internal/config"
)

// Sender delivers verification and password-reset emails over SMTP. It
// implements auth.EmailDispatcher; a send failure is reported to the
// caller but the issued token stays valid regardless.
type Sender struct {
	cfg     config.SMTPConfig
	dialer  *gomail.Dialer
	appName string
	baseURL string
	ttls    map[auth.EmailKind]time.Duration
}

func NewSender(cfg config.SMTPConfig, appName, baseURL string, verificationTTL, resetTTL time.Duration) *Sender {
	return &Sender{
		cfg:     cfg,
		dialer:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		appName: appName,
		baseURL: baseURL,
		ttls: map[auth.EmailKind]time.Duration{
			auth.EmailKindVerification: verificationTTL,
			auth.EmailKindReset:        resetTTL,
		},
	}
}

func (s *Sender) Send(ctx context.Context, to string, kind auth.EmailKind, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.cfg.Enabled() {
		return fmt.Errorf("email is not configured")
	}

	subject, body, err := s.render(kind, token)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.cfg.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send %s email: %w", kind, err)
	}
	return nil
}

type templateData struct {
	AppName   string
	ActionURL string
	TTLHours  int
}

func (s *Sender) render(kind auth.EmailKind, token string) (subject, body string, err error) {
	var tmpl *template.Template
	var action string

	switch kind {
	case auth.EmailKindVerification:
		subject = fmt.Sprintf("Verify your email - %s", s.appName)
		action = "/verify-email?token=" + token
		tmpl = verificationTemplate
	case auth.EmailKindReset:
		subject = fmt.Sprintf("Reset your password - %s", s.appName)
		action = "/reset-password?token=" + token
		tmpl = resetTemplate
	default:
		return "", "", fmt.Errorf("unknown email kind %q", kind)
	}

	data := templateData{
		AppName:   s.appName,
		ActionURL: s.baseURL + action,
		TTLHours:  int(s.ttls[kind].Hours()),
	}
	if data.TTLHours < 1 {
		data.TTLHours = 1
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s email: %w", kind, err)
	}
	return subject, buf.String(), nil
}

var verificationTemplate = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html>
<body>
	<h2>{{.AppName}}</h2>
	<p>Thank you for registering. Please verify your email address by clicking the link below:</p>
	<p><a href="{{.ActionURL}}">Verify Email Address</a></p>
	<p>If the link does not work, copy and paste this URL into your browser:</p>
	<p>{{.ActionURL}}</p>
	<p><strong>Important:</strong> this verification link expires in {{.TTLHours}} hours.
	If you did not create an account, please ignore this email.</p>
</body>
</html>
`))

var resetTemplate = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<body>
	<h2>{{.AppName}}</h2>
	<p>We received a request to reset the password for your account. Click the link below to choose a new password:</p>
	<p><a href="{{.ActionURL}}">Reset Password</a></p>
	<p>If the link does not work, copy and paste this URL into your browser:</p>
	<p>{{.ActionURL}}</p>
	<p><strong>Important:</strong> this reset link expires in {{.TTLHours}} hour{{if gt .TTLHours 1}}s{{end}}.
	If you did not request a password reset, your password is unchanged and you can ignore this email.</p>
</body>
</html>
`))
