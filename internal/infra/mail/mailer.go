package mail

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/marioluccio/sobreando/internal/core/port"
	"github.com/marioluccio/sobreando/internal/infra/config"
	"github.com/marioluccio/sobreando/internal/infra/logger"
)

var ErrMailerNotConfigured = errors.New("mail: smtp host, port and from are required")

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer delivers plain-text mail through an SMTP relay.
type SMTPMailer struct {
	cfg  config.MailSettings
	send sendFunc
	now  func() time.Time
}

// NewSMTPMailer validates cfg and returns a mailer backed by net/smtp.
func NewSMTPMailer(cfg config.MailSettings) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.Port == 0 || strings.TrimSpace(cfg.From) == "" {
		return nil, ErrMailerNotConfigured
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail, now: time.Now}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg port.MailMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(msg.To, "\r\n") {
		return fmt.Errorf("mail: invalid recipient")
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	from := strings.TrimSpace(m.cfg.From)
	envelopeFrom := from
	if start := strings.LastIndex(from, "<"); start >= 0 && strings.HasSuffix(from, ">") {
		envelopeFrom = from[start+1 : len(from)-1]
	}

	if err := m.send(addr, auth, envelopeFrom, []string{msg.To}, m.render(from, msg)); err != nil {
		return fmt.Errorf("mail: send via %s: %w", m.cfg.Host, err)
	}
	return nil
}

func (m *SMTPMailer) render(from string, msg port.MailMessage) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("Date: " + m.now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// ConsoleMailer writes messages to the log instead of sending them. Development only.
type ConsoleMailer struct {
	log *zap.Logger
}

func NewConsoleMailer(log *zap.Logger) *ConsoleMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConsoleMailer{log: log}
}

func (m *ConsoleMailer) Send(_ context.Context, msg port.MailMessage) error {
	m.log.Info("console mail",
		zap.String("to", logger.MaskEmail(msg.To)),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

// New picks the backend named in cfg.
func New(cfg config.MailSettings, log *zap.Logger) (port.Mailer, error) {
	switch cfg.Backend {
	case "smtp":
		return NewSMTPMailer(cfg)
	case "console", "":
		return NewConsoleMailer(log), nil
	default:
		return nil, fmt.Errorf("mail: unknown backend %q", cfg.Backend)
	}
}
