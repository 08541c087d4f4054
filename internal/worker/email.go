package worker

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/mailer"
	"github.com/pulsecheck/backend/pkg/queue"
)

type emailTemplate struct {
	text *template.Template
	html *htmltemplate.Template
}

func newEmailTemplate(name, text, html string) emailTemplate {
	return emailTemplate{
		text: template.Must(template.New(name).Option("missingkey=zero").Parse(text)),
		html: htmltemplate.Must(htmltemplate.New(name).Option("missingkey=zero").Parse(html)),
	}
}

var emailTemplates = map[string]emailTemplate{
	models.EmailTypeInvitation: newEmailTemplate("invitation",
		`Hello,

{{with .inviter_name}}{{.}} has invited you{{else}}You have been invited{{end}} to join {{with .org_name}}{{.}}{{else}}the platform{{end}} as {{.role}}.

Accept the invitation: {{.link}}

The link expires in one hour and can be used once.`,
		`<p>Hello,</p>
<p>{{with .inviter_name}}{{.}} has invited you{{else}}You have been invited{{end}} to join <strong>{{with .org_name}}{{.}}{{else}}the platform{{end}}</strong> as {{.role}}.</p>
<p><a href="{{.link}}">Accept the invitation</a></p>
<p>The link expires in one hour and can be used once.</p>`),
	models.EmailTypeVerification: newEmailTemplate("verification",
		`Confirm your email address to continue your registration: {{.link}}

The link expires in one hour.`,
		`<p>Confirm your email address to continue your registration.</p>
<p><a href="{{.link}}">Verify email</a></p>
<p>The link expires in one hour.</p>`),
	models.EmailTypePasswordReset: newEmailTemplate("password_reset",
		`Someone asked to reset your password. If it was you, open: {{.link}}

The link expires in 15 minutes. Ignore this email otherwise.`,
		`<p>Someone asked to reset your password.</p>
<p><a href="{{.link}}">Reset password</a></p>
<p>The link expires in 15 minutes. Ignore this email otherwise.</p>`),
	models.EmailTypeNotification: newEmailTemplate("notification",
		`{{.title}}

{{.message}}{{with .link}}

{{.}}{{end}}`,
		`<h3>{{.title}}</h3>
<p>{{.message}}</p>{{with .link}}
<p><a href="{{.}}">Open</a></p>{{end}}`),
}

// RenderEmail builds the message for an email job.
func RenderEmail(p queue.EmailPayload) (mailer.Message, error) {
	tpl, ok := emailTemplates[p.EmailType]
	if !ok {
		return mailer.Message{}, fmt.Errorf("unknown email type: %s", p.EmailType)
	}
	data := p.Data
	if data == nil {
		data = map[string]string{}
	}
	var text, html bytes.Buffer
	if err := tpl.text.Execute(&text, data); err != nil {
		return mailer.Message{}, fmt.Errorf("render %s text: %w", p.EmailType, err)
	}
	if err := tpl.html.Execute(&html, data); err != nil {
		return mailer.Message{}, fmt.Errorf("render %s html: %w", p.EmailType, err)
	}
	return mailer.Message{To: p.RecipientEmail, Subject: p.Subject, TextBody: text.String(), HTMLBody: html.String()}, nil
}

// EmailLogStore records delivery attempts.
type EmailLogStore interface {
	Begin(ctx context.Context, jobID, emailType, recipient, subject string) (*models.EmailLog, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// EmailProcessor handles email jobs.
type EmailProcessor struct {
	logs   EmailLogStore
	sender Sender
	now    func() time.Time
	logger *zap.Logger
}

// NewEmailProcessor creates an email processor.
func NewEmailProcessor(logs EmailLogStore, sender Sender, logger *zap.Logger) *EmailProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailProcessor{logs: logs, sender: sender, now: time.Now, logger: logger}
}

// Process executes one email job. Malformed jobs are logged and dropped; delivery
// failures are returned so the job is retried.
func (p *EmailProcessor) Process(ctx context.Context, job *queue.Job) error {
	var payload queue.EmailPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	msg, err := RenderEmail(payload)
	if err != nil {
		p.logger.Error("email dropped", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	entry, err := p.logs.Begin(ctx, job.ID, payload.EmailType, payload.RecipientEmail, payload.Subject)
	if err != nil {
		return fmt.Errorf("email log: %w", err)
	}
	if err := p.sender.Send(ctx, msg); err != nil {
		if mErr := p.logs.MarkFailed(ctx, entry.ID, err.Error()); mErr != nil {
			p.logger.Warn("mark email failed", zap.Error(mErr), zap.String("email_log_id", entry.ID.String()))
		}
		return err
	}
	if err := p.logs.MarkSent(ctx, entry.ID, p.now()); err != nil {
		p.logger.Warn("mark email sent", zap.Error(err), zap.String("email_log_id", entry.ID.String()))
	}
	p.logger.Info("email sent", zap.String("job_id", job.ID), zap.String("email_type", payload.EmailType))
	return nil
}
