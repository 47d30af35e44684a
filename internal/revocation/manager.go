package revocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/certledger-backend/pkg/db/models"
	"github.com/angelmondragon/certledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
	"github.com/angelmondragon/certledger-backend/pkg/pubsub"
)

const (
	DefaultReason = "Administrative revocation"
	DefaultActor  = "System Administrator"
)

type certificateStore interface {
	FindByID(ctx context.Context, id string) (*models.Certificate, error)
	Revoke(ctx context.Context, id, reason, actor string, at time.Time) (bool, error)
}

type revocationNotifier interface {
	CertificateRevoked(ctx context.Context, cert *models.Certificate) error
}

type eventPublisher interface {
	Publish(ctx context.Context, event pubsub.CertificateEvent) error
}

// Result is the minimal state returned after a revocation.
type Result struct {
	CertificateID string                  `json:"certificateId"`
	Status        enums.CertificateStatus `json:"status"`
	Reason        string                  `json:"reason"`
	RevokedBy     string                  `json:"revokedBy"`
	RevokedAt     time.Time               `json:"revokedAt"`
}

// Manager performs the terminal revoke transition.
type Manager struct {
	certs    certificateStore
	notifier revocationNotifier
	events   eventPublisher
	logg     *logger.Logger
	now      func() time.Time
}

// NewManager builds a revocation manager. notifier and events may be nil.
func NewManager(certs certificateStore, notifier revocationNotifier, events eventPublisher, logg *logger.Logger) (*Manager, error) {
	if certs == nil {
		return nil, fmt.Errorf("certificate store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Manager{certs: certs, notifier: notifier, events: events, logg: logg, now: time.Now}, nil
}

// Revoke marks an issued or verified certificate revoked. Revoking twice
// fails with ALREADY_REVOKED and leaves the first revocation untouched.
func (m *Manager) Revoke(ctx context.Context, id, reason, actor string) (*Result, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "certificate id is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultReason
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = DefaultActor
	}
	ctx = m.logg.WithCertificateID(ctx, id)

	cert, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkRevocable(cert); err != nil {
		return nil, err
	}

	at := m.now().UTC()
	ok, err := m.certs.Revoke(ctx, id, reason, actor, at)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke certificate")
	}
	if !ok {
		// lost a race with another transition; report what won
		latest, err := m.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := checkRevocable(latest); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "certificate changed during revocation")
	}

	cert.Status = enums.CertificateStatusRevoked
	cert.RevocationReason = &reason
	cert.RevokedBy = &actor
	cert.RevokedAt = &at
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{"revoked_by": actor, "reason": reason}), "certificate revoked")

	m.notify(ctx, cert)
	m.publish(ctx, cert)

	return &Result{
		CertificateID: cert.ID,
		Status:        cert.Status,
		Reason:        reason,
		RevokedBy:     actor,
		RevokedAt:     at,
	}, nil
}

func (m *Manager) load(ctx context.Context, id string) (*models.Certificate, error) {
	cert, err := m.certs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "certificate not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load certificate")
	}
	return cert, nil
}

func checkRevocable(cert *models.Certificate) error {
	switch cert.Status {
	case enums.CertificateStatusIssued, enums.CertificateStatusVerified:
		return nil
	case enums.CertificateStatusRevoked:
		details := map[string]any{}
		if cert.RevokedAt != nil {
			details["revokedAt"] = cert.RevokedAt.UTC()
		}
		if cert.RevokedBy != nil {
			details["revokedBy"] = *cert.RevokedBy
		}
		if cert.RevocationReason != nil {
			details["reason"] = *cert.RevocationReason
		}
		return pkgerrors.New(pkgerrors.CodeAlreadyRevoked, "certificate already revoked").WithDetails(details)
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("certificate in status %s cannot be revoked", cert.Status))
	}
}

func (m *Manager) notify(ctx context.Context, cert *models.Certificate) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.CertificateRevoked(ctx, cert); err != nil {
		m.logg.Warn(m.logg.WithField(ctx, "error", err.Error()), "revocation notification failed")
	}
}

func (m *Manager) publish(ctx context.Context, cert *models.Certificate) {
	if m.events == nil {
		return
	}
	err := m.events.Publish(ctx, pubsub.CertificateEvent{
		Type:          pubsub.EventCertificateRevoked,
		CertificateID: cert.ID,
		OccurredAt:    *cert.RevokedAt,
		Data: map[string]any{
			"reason":     *cert.RevocationReason,
			"revoked_by": *cert.RevokedBy,
		},
	})
	if err != nil {
		m.logg.Warn(m.logg.WithField(ctx, "error", err.Error()), "publish certificate.revoked failed")
	}
}
