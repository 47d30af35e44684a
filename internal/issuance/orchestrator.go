package issuance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/certledger-backend/internal/certificates"
	"github.com/angelmondragon/certledger-backend/internal/documents"
	"github.com/angelmondragon/certledger-backend/internal/fingerprint"
	"github.com/angelmondragon/certledger-backend/internal/ledger"
	"github.com/angelmondragon/certledger-backend/pkg/config"
	"github.com/angelmondragon/certledger-backend/pkg/db"
	"github.com/angelmondragon/certledger-backend/pkg/db/models"
	"github.com/angelmondragon/certledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
	"github.com/angelmondragon/certledger-backend/pkg/metrics"
	"github.com/angelmondragon/certledger-backend/pkg/pubsub"
	"github.com/angelmondragon/certledger-backend/pkg/scantoken"
)

const compensationTimeout = 10 * time.Second

type certificateStore interface {
	Create(ctx context.Context, cert *models.Certificate) error
	FindByID(ctx context.Context, id string) (*models.Certificate, error)
	Finalize(ctx context.Context, id string, f certificates.Finalization) error
	MarkFailed(ctx context.Context, id, stage, reason string) error
	RecordEmailAttempt(ctx context.Context, id string, delivered bool, at time.Time) error
}

type idAllocator interface {
	Next(ctx context.Context) (string, error)
}

type documentRenderer interface {
	Render(ctx context.Context, in documents.RenderInput) (documents.Rendered, error)
	WriteTemp(name string, data []byte) (string, error)
	Remove(path string) error
}

type documentStore interface {
	Upload(ctx context.Context, name string, data []byte) (documents.Upload, error)
	Retrieve(ctx context.Context, address string) (documents.Retrieval, error)
}

type ledgerWriter interface {
	Issue(ctx context.Context, req ledger.IssueRequest) (ledger.WriteResult, error)
}

type certificateNotifier interface {
	CertificateIssued(ctx context.Context, cert *models.Certificate, documentPath string) error
	CertificateReminder(ctx context.Context, cert *models.Certificate, documentPath string) error
	VerificationURL(certificateID string) string
}

type eventPublisher interface {
	Publish(ctx context.Context, event pubsub.CertificateEvent) error
}

// OrchestratorParams wires the orchestrator. Events and Metrics are optional.
type OrchestratorParams struct {
	Certificates      certificateStore
	Allocator         idAllocator
	Renderer          documentRenderer
	Documents         documentStore
	Ledger            ledgerWriter
	Notifier          certificateNotifier
	Events            eventPublisher
	Metrics           *metrics.PipelineMetrics
	Logger            *logger.Logger
	ScanToken         config.ScanTokenConfig
	InstituteName     string
	GeneratedBy       string
	CleanupRetryDelay time.Duration
}

// Result is a finalized issuance and its stage trace.
type Result struct {
	Certificate       *models.Certificate `json:"certificate"`
	LedgerOrigin      enums.LedgerOrigin  `json:"ledgerOrigin"`
	DocumentReference string              `json:"documentReference"`
	Stages            []StageOutcome      `json:"stages"`
}

// Orchestrator runs the issuance saga for one certificate at a time. It holds
// no per-request state; concurrent Issue calls are safe.
type Orchestrator struct {
	// reserveMu serializes id allocation with the provisional insert. The
	// allocator counts existing rows, so two in-flight issuances would
	// otherwise derive the same id.
	reserveMu sync.Mutex

	certs        certificateStore
	allocator    idAllocator
	renderer     documentRenderer
	documents    documentStore
	ledger       ledgerWriter
	notifier     certificateNotifier
	events       eventPublisher
	metrics      *metrics.PipelineMetrics
	logg         *logger.Logger
	scanToken    config.ScanTokenConfig
	institute    string
	generatedBy  string
	cleanupDelay time.Duration
	now          func() time.Time
	afterFunc    func(d time.Duration, f func())
}

func NewOrchestrator(p OrchestratorParams) (*Orchestrator, error) {
	if p.Certificates == nil {
		return nil, fmt.Errorf("certificate store required")
	}
	if p.Allocator == nil {
		return nil, fmt.Errorf("identifier allocator required")
	}
	if p.Renderer == nil {
		return nil, fmt.Errorf("document renderer required")
	}
	if p.Documents == nil {
		return nil, fmt.Errorf("document store required")
	}
	if p.Ledger == nil {
		return nil, fmt.Errorf("ledger client required")
	}
	if p.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.ScanToken.Secret == "" {
		return nil, fmt.Errorf("scan token secret required")
	}
	if p.InstituteName == "" {
		return nil, fmt.Errorf("institute name required")
	}
	generatedBy := p.GeneratedBy
	if generatedBy == "" {
		generatedBy = "system"
	}
	return &Orchestrator{
		certs:        p.Certificates,
		allocator:    p.Allocator,
		renderer:     p.Renderer,
		documents:    p.Documents,
		ledger:       p.Ledger,
		notifier:     p.Notifier,
		events:       p.Events,
		metrics:      p.Metrics,
		logg:         p.Logger,
		scanToken:    p.ScanToken,
		institute:    p.InstituteName,
		generatedBy:  generatedBy,
		cleanupDelay: p.CleanupRetryDelay,
		now:          time.Now,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}, nil
}

// run carries the state of one saga execution.
type run struct {
	cert   *models.Certificate
	path   string
	stages []StageOutcome
}

func (r *run) complete(stage Stage) {
	r.stages = append(r.stages, StageOutcome{Stage: stage, Status: StageStatusCompleted})
}

func (r *run) record(stage Stage, status StageStatus, err error) {
	outcome := StageOutcome{Stage: stage, Status: status}
	if err != nil {
		outcome.Error = err.Error()
	}
	r.stages = append(r.stages, outcome)
}

// Issue validates req and drives it through every stage. Hard failures leave
// no visible certificate: a provisional row is marked failed, never deleted.
func (o *Orchestrator) Issue(ctx context.Context, req Request) (*Result, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		o.metrics.IncIssuance("rejected")
		return nil, err
	}
	if req.InstituteName == "" {
		req.InstituteName = o.institute
	}
	if req.GeneratedBy == "" {
		req.GeneratedBy = o.generatedBy
	}

	issuedAt := o.now().UTC().Truncate(time.Microsecond)
	state := &run{}

	cert, err := o.reserve(ctx, state, req, issuedAt)
	if err != nil {
		return nil, err
	}
	state.cert = cert
	ctx = o.logg.WithCertificateID(ctx, cert.ID)
	state.complete(StageProvisionallyPersisted)

	// DocumentRendered
	verificationURL := o.notifier.VerificationURL(cert.ID)
	token, err := scantoken.Mint(o.scanToken, issuedAt, scantoken.Payload{
		CertificateID:   cert.ID,
		SubjectName:     cert.SubjectName,
		CourseName:      cert.CourseName,
		Fingerprint:     cert.ContentFingerprint,
		IssuedAt:        issuedAt,
		VerificationURL: verificationURL,
	})
	if err != nil {
		return nil, o.abort(ctx, state, StageDocumentRendered, err)
	}
	rendered, err := o.renderer.Render(ctx, documents.RenderInput{
		CertificateID:   cert.ID,
		SubjectName:     cert.SubjectName,
		GuardianName:    cert.GuardianName,
		District:        cert.District,
		State:           cert.State,
		CourseName:      cert.CourseName,
		InstituteName:   cert.InstituteName,
		IssuedAt:        issuedAt,
		Fingerprint:     cert.ContentFingerprint,
		ScanPayload:     token,
		VerificationURL: verificationURL,
	})
	state.path = rendered.Path
	if err != nil {
		return nil, o.abort(ctx, state, StageDocumentRendered, err)
	}
	state.complete(StageDocumentRendered)

	// DocumentUploaded
	upload, err := o.documents.Upload(ctx, cert.ID+".pdf", rendered.Data)
	if err != nil {
		return nil, o.abort(ctx, state, StageDocumentUploaded, err)
	}
	state.complete(StageDocumentUploaded)

	// LedgerWritten
	write, err := o.ledger.Issue(ctx, ledger.IssueRequest{
		CertificateID: cert.ID,
		SubjectName:   cert.SubjectName,
		CourseName:    cert.CourseName,
		InstituteName: cert.InstituteName,
		IssuedAt:      issuedAt,
		Fingerprint:   cert.ContentFingerprint,
	})
	if err != nil {
		return nil, o.abort(ctx, state, StageLedgerWritten, err)
	}
	if write.FallbackCause != nil {
		o.degrade(ctx, state, StageLedgerWritten, write.FallbackCause)
	} else {
		state.complete(StageLedgerWritten)
	}
	o.metrics.IncLedgerWrite(write.Origin.String())

	// Finalized
	fin := certificates.Finalization{
		LedgerReference:   write.Reference,
		LedgerBlockHeight: write.BlockHeight,
		LedgerGasUsed:     write.GasUsed,
		LedgerCost:        write.Cost,
		LedgerOrigin:      write.Origin,
		DocumentReference: upload.Address,
		DocumentURL:       upload.URL,
		DocumentSize:      upload.Size,
		DocumentPinned:    upload.Pinned,
	}
	if err := o.certs.Finalize(ctx, cert.ID, fin); err != nil {
		return nil, o.abort(ctx, state, StageFinalized, err)
	}
	if stored, err := o.certs.FindByID(ctx, cert.ID); err == nil {
		cert = stored
	} else {
		o.logg.Warn(o.logg.WithField(ctx, "error", err.Error()), "reload finalized certificate failed")
		applyFinalization(cert, fin)
	}
	state.cert = cert
	state.complete(StageFinalized)
	o.logg.Info(o.logg.WithFields(ctx, map[string]any{
		"origin":             write.Origin.String(),
		"ledger_reference":   write.Reference,
		"document_reference": upload.Address,
	}), "certificate finalized")

	o.publishIssued(ctx, cert)

	// Notified
	if err := o.notifier.CertificateIssued(ctx, cert, state.path); err != nil {
		o.degrade(ctx, state, StageNotified, err)
		o.recordEmail(ctx, cert, false)
	} else {
		state.complete(StageNotified)
		o.recordEmail(ctx, cert, true)
	}

	// Cleaned
	if err := o.renderer.Remove(state.path); err != nil {
		o.degrade(ctx, state, StageCleaned, err)
	} else {
		state.complete(StageCleaned)
	}

	o.metrics.IncIssuance("issued")
	return &Result{
		Certificate:       cert,
		LedgerOrigin:      write.Origin,
		DocumentReference: upload.Address,
		Stages:            state.stages,
	}, nil
}

// reserve covers Allocating through ProvisionallyPersisted under reserveMu.
// Once the provisional row exists the id is taken and the lock is released.
func (o *Orchestrator) reserve(ctx context.Context, state *run, req Request, issuedAt time.Time) (*models.Certificate, error) {
	o.reserveMu.Lock()
	defer o.reserveMu.Unlock()

	// Allocating
	id, err := o.allocator.Next(ctx)
	if err != nil {
		return nil, o.abort(ctx, state, StageAllocating, err)
	}
	state.complete(StageAllocating)
	ctx = o.logg.WithCertificateID(ctx, id)

	// FingerprintComputed
	digest := fingerprint.Compute(fingerprint.Fields{
		SubjectName:   req.SubjectName,
		CourseName:    req.CourseName,
		InstituteName: req.InstituteName,
		IssuedAt:      issuedAt,
	})
	if !fingerprint.Valid(digest) {
		return nil, o.abort(ctx, state, StageFingerprintComputed, fmt.Errorf("malformed fingerprint %q", digest))
	}
	state.complete(StageFingerprintComputed)

	// ProvisionallyPersisted
	cert := &models.Certificate{
		ID:                 id,
		SubjectName:        req.SubjectName,
		GuardianName:       req.GuardianName,
		SubjectEmail:       req.SubjectEmail,
		District:           req.District,
		State:              req.State,
		CourseName:         req.CourseName,
		InstituteName:      req.InstituteName,
		ContentFingerprint: digest,
		Status:             enums.CertificateStatusProvisional,
		GeneratedBy:        req.GeneratedBy,
		IssuedAt:           issuedAt,
	}
	if err := o.persistProvisional(ctx, cert); err != nil {
		return nil, o.abort(ctx, state, StageProvisionallyPersisted, err)
	}
	return cert, nil
}

// persistProvisional inserts the provisional row. The id is allocated by
// counting, so a concurrent issuance may take it first; the primary key
// arbitrates and the id is re-derived exactly once.
func (o *Orchestrator) persistProvisional(ctx context.Context, cert *models.Certificate) error {
	err := o.certs.Create(ctx, cert)
	if err == nil {
		return nil
	}
	if isFingerprintViolation(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "certificate with identical content already exists")
	}
	if !isIDViolation(err) {
		return err
	}

	o.logg.Warn(o.logg.WithField(ctx, "certificate_id", cert.ID), "certificate id taken; reallocating once")
	id, allocErr := o.allocator.Next(ctx)
	if allocErr != nil {
		return pkgerrors.Wrap(pkgerrors.CodeAllocationConflict, allocErr, "reallocate certificate id")
	}
	cert.ID = id
	if err := o.certs.Create(ctx, cert); err != nil {
		if isIDViolation(err) {
			return pkgerrors.Wrap(pkgerrors.CodeAllocationConflict, err, "certificate id already allocated").
				WithDetails(map[string]any{"certificateId": id})
		}
		return err
	}
	return nil
}

func isIDViolation(err error) bool {
	return db.IsUniqueViolation(err, "certificates_pkey") || db.IsUniqueViolation(err, "certificates.id")
}

func isFingerprintViolation(err error) bool {
	return db.IsUniqueViolation(err, "ux_certificates_content_fingerprint") ||
		db.IsUniqueViolation(err, "certificates.content_fingerprint")
}

// abort runs the stage's compensation and returns the typed error for it.
func (o *Orchestrator) abort(ctx context.Context, state *run, stage Stage, cause error) error {
	policy := policyFor(stage)
	state.record(stage, StageStatusFailed, cause)
	o.metrics.IncStageFailure(stage.String())
	o.metrics.IncIssuance("failed")

	logCtx := o.logg.WithField(o.logg.WithStage(ctx, stage.String()), "class", policy.class.String())
	o.logg.Error(logCtx, "issuance aborted", cause)

	if policy.compensate == compensateFail {
		if err := o.compensate(ctx, state, stage, cause); err != nil {
			o.logg.Error(logCtx, "issuance compensation incomplete", err)
		}
	}

	if typed := pkgerrors.As(cause); typed != nil {
		return cause
	}
	out := pkgerrors.Wrap(policy.code, cause, fmt.Sprintf("issuance failed at %s", stage))
	details := map[string]any{"stage": stage.String()}
	if state.cert != nil {
		details["certificateId"] = state.cert.ID
	}
	return out.WithDetails(details)
}

// compensate marks the provisional row failed and drops the temp file. It
// runs detached from ctx so a canceled request still leaves no provisional row.
func (o *Orchestrator) compensate(ctx context.Context, state *run, stage Stage, cause error) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	var errs error
	if state.cert != nil {
		if err := o.certs.MarkFailed(cctx, state.cert.ID, stage.String(), cause.Error()); err != nil && !errors.Is(err, certificates.ErrNotProvisional) {
			errs = multierr.Append(errs, fmt.Errorf("mark failed: %w", err))
		}
	}
	if err := o.renderer.Remove(state.path); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("remove temp file: %w", err))
	}
	return errs
}

// degrade records a soft failure and keeps the saga going.
func (o *Orchestrator) degrade(ctx context.Context, state *run, stage Stage, cause error) {
	state.record(stage, StageStatusDegraded, cause)
	o.metrics.IncStageFailure(stage.String())
	o.logg.Warn(o.logg.WithFields(ctx, map[string]any{
		"stage": stage.String(),
		"error": cause.Error(),
	}), "issuance stage degraded")

	if policyFor(stage).compensate == compensateRetryCleanup {
		o.scheduleCleanup(ctx, state.path)
	}
}

func (o *Orchestrator) scheduleCleanup(ctx context.Context, path string) {
	if path == "" {
		return
	}
	logCtx := o.logg.WithField(context.WithoutCancel(ctx), "path", path)
	o.afterFunc(o.cleanupDelay, func() {
		if err := o.renderer.Remove(path); err != nil {
			o.logg.Error(logCtx, "delayed temp file cleanup failed", err)
			return
		}
		o.logg.Info(logCtx, "delayed temp file cleanup succeeded")
	})
}

func (o *Orchestrator) recordEmail(ctx context.Context, cert *models.Certificate, delivered bool) {
	if err := o.certs.RecordEmailAttempt(ctx, cert.ID, delivered, o.now().UTC()); err != nil {
		o.logg.Warn(o.logg.WithField(ctx, "error", err.Error()), "record email attempt failed")
		return
	}
	cert.EmailAttempts++
	if delivered {
		at := o.now().UTC()
		cert.EmailSent = true
		cert.EmailSentAt = &at
	}
}

func (o *Orchestrator) publishIssued(ctx context.Context, cert *models.Certificate) {
	if o.events == nil {
		return
	}
	err := o.events.Publish(ctx, pubsub.CertificateEvent{
		Type:          pubsub.EventCertificateIssued,
		CertificateID: cert.ID,
		OccurredAt:    o.now().UTC(),
		Data: map[string]any{
			"fingerprint":        cert.ContentFingerprint,
			"ledger_origin":      cert.Origin().String(),
			"document_reference": stringValue(cert.DocumentReference),
		},
	})
	if err != nil {
		o.logg.Warn(o.logg.WithField(ctx, "error", err.Error()), "publish certificate.issued failed")
	}
}

func applyFinalization(cert *models.Certificate, f certificates.Finalization) {
	ref := f.LedgerReference
	height := f.LedgerBlockHeight
	gas := f.LedgerGasUsed
	origin := f.LedgerOrigin
	docRef := f.DocumentReference
	docURL := f.DocumentURL
	size := f.DocumentSize
	cert.LedgerReference = &ref
	cert.LedgerBlockHeight = &height
	cert.LedgerGasUsed = &gas
	cert.LedgerOrigin = &origin
	cert.LedgerCost.Decimal = f.LedgerCost
	cert.LedgerCost.Valid = true
	cert.DocumentReference = &docRef
	cert.DocumentURL = &docURL
	cert.DocumentSize = &size
	cert.DocumentPinned = f.DocumentPinned
	cert.Status = enums.CertificateStatusIssued
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
