package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"gopkg.in/gomail.v2"

	"github.com/event-reminders/backend/internal/config"
	"github.com/event-reminders/backend/internal/logger"
)

// Mail drivers
const (
	DriverLog      = "log"
	DriverSMTP     = "smtp"
	DriverSendgrid = "sendgrid"
)

// Mail is a plain-text email.
type Mail struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends email. An error means the mail was not accepted.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// NewMailer builds the mailer selected by cfg.Driver.
func NewMailer(cfg config.MailConfig) (Mailer, error) {
	switch cfg.Driver {
	case "", DriverLog:
		return NewLogMailer(), nil
	case DriverSMTP:
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("smtp mailer requires mail.smtp_host")
		}
		return NewSMTPMailer(gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword), cfg.From, cfg.FromName), nil
	case DriverSendgrid:
		if cfg.SendgridKey == "" {
			return nil, fmt.Errorf("sendgrid mailer requires mail.sendgrid_key")
		}
		return NewSendgridMailer(cfg.SendgridKey, cfg.From, cfg.FromName), nil
	default:
		return nil, fmt.Errorf("unknown mail driver %q", cfg.Driver)
	}
}

// LogMailer writes mails to the log instead of sending them.
type LogMailer struct {
	log *logger.Logger
}

// NewLogMailer creates a new log mailer.
func NewLogMailer() *LogMailer {
	return &LogMailer{log: logger.Named("mail")}
}

// Send implements Mailer.
func (m *LogMailer) Send(_ context.Context, mail Mail) error {
	m.log.Infow("Email", "to", mail.To, "subject", mail.Subject, "body", mail.Body)
	return nil
}

// dialer is the part of gomail.Dialer used by SMTPMailer.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer sends mail through an SMTP server.
type SMTPMailer struct {
	dialer dialer
	from   string
	domain string
}

// NewSMTPMailer creates a new SMTP mailer.
func NewSMTPMailer(d dialer, from, fromName string) *SMTPMailer {
	domain := "localhost"
	if i := strings.LastIndexByte(from, '@'); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	if fromName != "" {
		from = gomail.NewMessage().FormatAddress(from, fromName)
	}
	return &SMTPMailer{dialer: d, from: from, domain: domain}
}

// Send implements Mailer.
func (m *SMTPMailer) Send(_ context.Context, mail Mail) error {
	msg := gomail.NewMessage()
	msg.SetHeader("Message-ID", generateMessageID(m.domain))
	msg.SetHeader("Date", time.Now().Format(time.RFC1123Z))
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", mail.To)
	msg.SetHeader("Subject", mail.Subject)
	msg.SetBody("text/plain", mail.Body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("sending mail via smtp: %w", err)
	}
	return nil
}

func generateMessageID(domain string) string {
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)
}

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendgridMailer sends mail through the SendGrid v3 API.
type SendgridMailer struct {
	key  string
	from *sgmail.Email
}

// NewSendgridMailer creates a new SendGrid mailer.
func NewSendgridMailer(key, from, fromName string) *SendgridMailer {
	return &SendgridMailer{key: key, from: sgmail.NewEmail(fromName, from)}
}

func (m *SendgridMailer) prepare(mail Mail) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = mail.Subject
	p.AddTos(sgmail.NewEmail("", mail.To))

	v3 := sgmail.NewV3Mail()
	v3.SetFrom(m.from)
	v3.AddPersonalizations(p)
	v3.AddContent(sgmail.NewContent("text/plain", mail.Body))
	return v3
}

// Send implements Mailer.
func (m *SendgridMailer) Send(ctx context.Context, mail Mail) error {
	req := sendgrid.GetRequest(m.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m.prepare(mail))

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sending mail via sendgrid: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid rejected mail: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}
