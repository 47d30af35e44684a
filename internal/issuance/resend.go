package issuance

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/certledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
)

// ResendResult reports a resend attempt.
type ResendResult struct {
	CertificateID string `json:"certificateId"`
	Recipient     string `json:"recipient"`
	Gateway       string `json:"gateway"`
}

// ResendEmail fetches the stored document back from the content network and
// mails it to the holder again.
func (o *Orchestrator) ResendEmail(ctx context.Context, id string) (*ResendResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "certificate id is required")
	}
	ctx = o.logg.WithCertificateID(ctx, id)

	cert, err := o.certs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "certificate not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load certificate")
	}
	switch cert.Status {
	case enums.CertificateStatusIssued, enums.CertificateStatusVerified:
	case enums.CertificateStatusRevoked:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "revoked certificates cannot be resent")
	default:
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "certificate not found")
	}
	if cert.DocumentReference == nil || *cert.DocumentReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "certificate has no stored document")
	}

	retrieval, err := o.documents.Retrieve(ctx, *cert.DocumentReference)
	if err != nil {
		return nil, err
	}
	if !retrieval.Found() {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "document unavailable from every gateway").
			WithDetails(map[string]any{"url": retrieval.URL, "attempts": retrieval.Attempts})
	}

	path, err := o.renderer.WriteTemp(cert.ID+"-resend.pdf", retrieval.Data)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write temp document")
	}
	defer func() {
		if err := o.renderer.Remove(path); err != nil {
			o.logg.Warn(o.logg.WithField(ctx, "error", err.Error()), "resend temp cleanup failed")
			o.scheduleCleanup(ctx, path)
		}
	}()

	sendErr := o.notifier.CertificateReminder(ctx, cert, path)
	o.recordEmail(ctx, cert, sendErr == nil)
	if sendErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, sendErr, "email delivery failed")
	}

	o.logg.Info(o.logg.WithField(ctx, "gateway", retrieval.Gateway), "certificate email resent")
	return &ResendResult{CertificateID: cert.ID, Recipient: cert.SubjectEmail, Gateway: retrieval.Gateway}, nil
}
