// Package notify sends buyer notifications: templated emails, delivered
// inline or through the asynq queue.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-eushop/internal/common"
	"github.com/noah-isme/backend-eushop/internal/obs"
)

// ErrUnknownTemplate is returned for a key with no registered template.
var ErrUnknownTemplate = errors.New("notify: unknown template")

// Sender delivers the notification identified by key to recipients.
type Sender interface {
	Send(ctx context.Context, key string, vars map[string]any, recipients []string) error
}

// Template is the source of one notification.
type Template struct {
	Subject string
	Body    string
}

// DefaultTemplates returns the built-in buyer notifications.
func DefaultTemplates() map[string]Template {
	return map[string]Template{
		"order_sended": {
			Subject: "Order {{.reference}} received",
			Body: `Hello {{.name}},

thank you for your order {{.reference}}.
{{range .lines}}
- {{.title}} x {{.quantity}}: {{.total}} EUR{{end}}

Total: {{.total}} EUR
Payment method: {{.method}}
`,
		},
		"order_paid": {
			Subject: "Payment for order {{.reference}} received",
			Body: `Hello {{.name}},

we received {{.total}} EUR for order {{.reference}}. We will let you know when it ships.
`,
		},
	}
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

// Mailer renders templates and hands the result to an EmailSender.
type Mailer struct {
	mail      common.EmailSender
	templates map[string]compiled
	logger    zerolog.Logger
}

// NewMailer parses templates up front so a bad template fails startup.
func NewMailer(mail common.EmailSender, templates map[string]Template, logger zerolog.Logger) (*Mailer, error) {
	if mail == nil {
		return nil, errors.New("notify: email sender required")
	}
	if templates == nil {
		templates = DefaultTemplates()
	}
	m := &Mailer{mail: mail, templates: make(map[string]compiled, len(templates)), logger: logger}
	for key, src := range templates {
		subject, err := template.New(key + ".subject").Option("missingkey=zero").Parse(src.Subject)
		if err != nil {
			return nil, fmt.Errorf("notify: parse %s subject: %w", key, err)
		}
		body, err := template.New(key + ".body").Option("missingkey=zero").Parse(src.Body)
		if err != nil {
			return nil, fmt.Errorf("notify: parse %s body: %w", key, err)
		}
		m.templates[key] = compiled{subject: subject, body: body}
	}
	return m, nil
}

// Render builds the message for key without sending it.
func (m *Mailer) Render(key string, vars map[string]any, recipients []string) (common.Email, error) {
	tpl, ok := m.templates[key]
	if !ok {
		return common.Email{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, key)
	}
	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, vars); err != nil {
		return common.Email{}, fmt.Errorf("notify: render %s subject: %w", key, err)
	}
	if err := tpl.body.Execute(&body, vars); err != nil {
		return common.Email{}, fmt.Errorf("notify: render %s body: %w", key, err)
	}
	return common.Email{
		To:      recipients,
		Subject: strings.TrimSpace(subject.String()),
		Text:    body.String(),
	}, nil
}

// Send renders and delivers the message now.
func (m *Mailer) Send(ctx context.Context, key string, vars map[string]any, recipients []string) error {
	recipients = cleanRecipients(recipients)
	if len(recipients) == 0 {
		return nil
	}
	msg, err := m.Render(key, vars, recipients)
	if err != nil {
		obs.Count(obs.NotificationsTotal, key, "render_error")
		return err
	}
	if err := m.mail.Send(ctx, msg); err != nil {
		obs.Count(obs.NotificationsTotal, key, "error")
		return fmt.Errorf("notify: send %s: %w", key, err)
	}
	obs.Count(obs.NotificationsTotal, key, "sent")
	m.logger.Debug().Str("template", key).Int("recipients", len(recipients)).Msg("notification sent")
	return nil
}

func cleanRecipients(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
