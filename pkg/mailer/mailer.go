package mailer

import (
	"context"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Config for the SMTP relay. An empty Host turns the mailer into a logging no-op.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
}

// Message is a rendered email.
type Message struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

const sendTimeout = 15 * time.Second

// Mailer sends rendered messages over SMTP.
type Mailer struct {
	cfg    Config
	logger *zap.Logger
	send   func(ctx context.Context, msg *gomail.Msg) error
}

// New creates a Mailer.
func New(cfg Config, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Mailer{cfg: cfg, logger: logger}
	m.send = m.dialAndSend
	return m
}

// Enabled reports whether an SMTP host is configured.
func (m *Mailer) Enabled() bool { return m.cfg.Host != "" }

// Send delivers msg.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.Enabled() {
		m.logger.Info("smtp not configured, email logged only", zap.String("to", msg.To), zap.String("subject", msg.Subject))
		return nil
	}
	out, err := m.build(msg, time.Now())
	if err != nil {
		return err
	}
	if err := m.send(ctx, out); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (m *Mailer) dialAndSend(ctx context.Context, msg *gomail.Msg) error {
	opts := []gomail.Option{
		gomail.WithPort(m.cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(sendTimeout),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.cfg.Username),
			gomail.WithPassword(m.cfg.Password),
		)
	}
	client, err := gomail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// build assembles the MIME message. Header values are RFC 2047 encoded, so a
// subject carrying CR/LF stays inside the Subject header.
func (m *Mailer) build(msg Message, now time.Time) (*gomail.Msg, error) {
	out := gomail.NewMsg()
	var err error
	if m.cfg.FromName != "" {
		err = out.FromFormat(m.cfg.FromName, m.cfg.FromAddress)
	} else {
		err = out.From(m.cfg.FromAddress)
	}
	if err != nil {
		return nil, fmt.Errorf("sender address: %w", err)
	}
	if err := out.To(msg.To); err != nil {
		return nil, fmt.Errorf("recipient address: %w", err)
	}
	out.Subject(msg.Subject)
	out.SetDateWithValue(now)
	out.SetBodyString(gomail.TypeTextPlain, msg.TextBody)
	if msg.HTMLBody != "" {
		out.AddAlternativeString(gomail.TypeTextHTML, msg.HTMLBody)
	}
	return out, nil
}
