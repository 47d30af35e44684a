package notifications

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/angelmondragon/certledger-backend/pkg/config"
)

// ErrDelivery marks a notification that could not be delivered. Issuance and
// revocation treat it as a soft failure.
var ErrDelivery = errors.New("notification delivery failed")

var errMailDisabled = errors.New("mail transport disabled")

// Attachment is a file attached by path.
type Attachment struct {
	Name string
	Path string
}

// Message is a rendered email.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Mailer sends a message and returns the transport's message id.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// SMTPMailer delivers mail over SMTP with STARTTLS when offered.
type SMTPMailer struct {
	cfg config.MailConfig
}

// NewMailer returns an SMTP mailer, or a mailer that refuses every message
// when mail is disabled.
func NewMailer(cfg config.MailConfig) (Mailer, error) {
	if !cfg.Enabled {
		return disabledMailer{}, nil
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("mail host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("mail sender is required")
	}
	return &SMTPMailer{cfg: cfg}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) (string, error) {
	email, err := buildMessage(m.cfg.From, msg)
	if err != nil {
		return "", err
	}

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(m.cfg.Timeout),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return "", fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, email); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return email.GetMessageID(), nil
}

func buildMessage(from string, msg Message) (*mail.Msg, error) {
	email := mail.NewMsg()
	if err := email.From(from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := email.To(msg.To); err != nil {
		return nil, fmt.Errorf("recipient address: %w", err)
	}
	email.Subject(msg.Subject)
	email.SetBodyString(mail.TypeTextHTML, msg.HTML)
	for _, att := range msg.Attachments {
		name := att.Name
		if name == "" {
			name = filepath.Base(att.Path)
		}
		email.AttachFile(att.Path, mail.WithFileName(name))
	}
	email.SetMessageID()
	return email, nil
}

type disabledMailer struct{}

func (disabledMailer) Send(context.Context, Message) (string, error) {
	return "", errMailDisabled
}
