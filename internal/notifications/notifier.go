package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/angelmondragon/certledger-backend/pkg/db/models"
	"github.com/angelmondragon/certledger-backend/pkg/enums"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
)

// NotifierParams wires the notifier.
type NotifierParams struct {
	Mailer              Mailer
	Repo                Repository
	Logger              *logger.Logger
	SentBy              string
	VerificationBaseURL string
	SendTimeout         time.Duration
}

// Notifier renders, sends and audits certificate emails. Every attempt leaves
// one email_logs row, delivered or not.
type Notifier struct {
	mailer  Mailer
	repo    Repository
	logg    *logger.Logger
	sentBy  string
	baseURL string
	timeout time.Duration
	now     func() time.Time
}

func NewNotifier(params NotifierParams) (*Notifier, error) {
	if params.Mailer == nil {
		return nil, errors.New("mailer required")
	}
	if params.Repo == nil {
		return nil, errors.New("email log repository required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	sentBy := params.SentBy
	if sentBy == "" {
		sentBy = "system"
	}
	return &Notifier{
		mailer:  params.Mailer,
		repo:    params.Repo,
		logg:    params.Logger,
		sentBy:  sentBy,
		baseURL: strings.TrimRight(params.VerificationBaseURL, "/"),
		timeout: params.SendTimeout,
		now:     time.Now,
	}, nil
}

// VerificationURL is the public verification page for a certificate.
func (n *Notifier) VerificationURL(certificateID string) string {
	if n.baseURL == "" {
		return ""
	}
	return n.baseURL + "/" + certificateID
}

// CertificateIssued mails the rendered document to the certificate holder.
func (n *Notifier) CertificateIssued(ctx context.Context, cert *models.Certificate, documentPath string) error {
	data := n.dataFor(cert)
	data.IssuedAt = formatDate(cert.IssuedAt)
	subject := fmt.Sprintf("Your certificate for %s (%s)", cert.CourseName, cert.ID)
	var attachments []Attachment
	if documentPath != "" {
		attachments = append(attachments, Attachment{Name: cert.ID + ".pdf", Path: documentPath})
	}
	return n.deliver(ctx, cert, enums.EmailTypeCertificateIssued, subject, data, attachments)
}

// CertificateReminder resends the issued document.
func (n *Notifier) CertificateReminder(ctx context.Context, cert *models.Certificate, documentPath string) error {
	data := n.dataFor(cert)
	data.IssuedAt = formatDate(cert.IssuedAt)
	subject := fmt.Sprintf("Copy of your certificate %s", cert.ID)
	var attachments []Attachment
	if documentPath != "" {
		attachments = append(attachments, Attachment{Name: cert.ID + ".pdf", Path: documentPath})
	}
	return n.deliver(ctx, cert, enums.EmailTypeCertificateReminder, subject, data, attachments)
}

// CertificateVerified tells the holder their certificate was checked.
func (n *Notifier) CertificateVerified(ctx context.Context, cert *models.Certificate, at time.Time) error {
	data := n.dataFor(cert)
	data.OccurredAt = formatTimestamp(at)
	subject := fmt.Sprintf("Certificate %s was verified", cert.ID)
	return n.deliver(ctx, cert, enums.EmailTypeVerificationNotification, subject, data, nil)
}

// CertificateRevoked tells the holder their certificate is no longer valid.
func (n *Notifier) CertificateRevoked(ctx context.Context, cert *models.Certificate) error {
	data := n.dataFor(cert)
	if cert.RevokedAt != nil {
		data.OccurredAt = formatTimestamp(*cert.RevokedAt)
	}
	if cert.RevocationReason != nil {
		data.Reason = *cert.RevocationReason
	}
	if cert.RevokedBy != nil {
		data.RevokedBy = *cert.RevokedBy
	}
	subject := fmt.Sprintf("Certificate %s has been revoked", cert.ID)
	return n.deliver(ctx, cert, enums.EmailTypeRevocationNotification, subject, data, nil)
}

// History lists the email audit trail for a certificate, newest first.
func (n *Notifier) History(ctx context.Context, certificateID string) ([]models.EmailLog, error) {
	return n.repo.ListByCertificate(ctx, certificateID)
}

func (n *Notifier) dataFor(cert *models.Certificate) emailData {
	data := emailData{
		SubjectName:     cert.SubjectName,
		CourseName:      cert.CourseName,
		InstituteName:   cert.InstituteName,
		CertificateID:   cert.ID,
		Fingerprint:     cert.ContentFingerprint,
		VerificationURL: n.VerificationURL(cert.ID),
	}
	if cert.LedgerReference != nil {
		data.LedgerReference = *cert.LedgerReference
	}
	if cert.DocumentURL != nil {
		data.DocumentURL = *cert.DocumentURL
	}
	return data
}

func (n *Notifier) deliver(ctx context.Context, cert *models.Certificate, emailType enums.EmailType, subject string, data emailData, attachments []Attachment) error {
	ctx = n.logg.WithFields(ctx, map[string]any{
		"certificate_id": cert.ID,
		"email_type":     emailType.String(),
	})

	html, err := render(emailType.String(), data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	names := make([]string, 0, len(attachments))
	for _, att := range attachments {
		names = append(names, filepath.Base(att.Name))
	}
	encoded, _ := json.Marshal(names)

	previous, err := n.repo.CountAttempts(ctx, cert.ID, emailType)
	if err != nil {
		n.logg.Warn(n.logg.WithField(ctx, "error", err.Error()), "count previous email attempts failed")
	}

	entry := &models.EmailLog{
		CertificateID: cert.ID,
		Recipient:     cert.SubjectEmail,
		EmailType:     emailType,
		Subject:       subject,
		Status:        enums.EmailStatusPending,
		Attachments:   datatypes.JSON(encoded),
		SentBy:        n.sentBy,
		RetryCount:    int(previous),
	}
	if err := n.repo.Create(ctx, entry); err != nil {
		n.logg.Error(ctx, "failed to record email attempt", err)
	}

	sendCtx := ctx
	if n.timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	messageID, sendErr := n.mailer.Send(sendCtx, Message{
		To:          cert.SubjectEmail,
		Subject:     subject,
		HTML:        html,
		Attachments: attachments,
	})
	if sendErr != nil {
		if err := n.repo.MarkFailed(ctx, entry.ID, sendErr.Error()); err != nil {
			n.logg.Error(ctx, "failed to record email failure", err)
		}
		n.logg.Warn(n.logg.WithField(ctx, "error", sendErr.Error()), "email delivery failed")
		return fmt.Errorf("%w: %v", ErrDelivery, sendErr)
	}

	if err := n.repo.MarkSent(ctx, entry.ID, messageID, n.now().UTC()); err != nil {
		n.logg.Error(ctx, "failed to record email delivery", err)
	}
	n.logg.Info(n.logg.WithField(ctx, "message_id", messageID), "email delivered")
	return nil
}
