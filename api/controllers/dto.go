package controllers

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/certledger-backend/internal/batch"
	"github.com/angelmondragon/certledger-backend/internal/issuance"
	"github.com/angelmondragon/certledger-backend/internal/ledger"
	"github.com/angelmondragon/certledger-backend/internal/verification"
	"github.com/angelmondragon/certledger-backend/pkg/db/models"
	"github.com/angelmondragon/certledger-backend/pkg/enums"
)

type certificateResponse struct {
	ID                string     `json:"id"`
	StudentName       string     `json:"studentName"`
	FatherName        string     `json:"fatherName"`
	Email             string     `json:"email"`
	District          string     `json:"district"`
	State             string     `json:"state"`
	CourseName        string     `json:"courseName"`
	InstituteName     string     `json:"instituteName"`
	Status            string     `json:"status"`
	Fingerprint       string     `json:"certificateHash"`
	LedgerReference   *string    `json:"transactionHash,omitempty"`
	LedgerBlockHeight *int64     `json:"blockNumber,omitempty"`
	LedgerGasUsed     *int64     `json:"gasUsed,omitempty"`
	LedgerCost        *string    `json:"ledgerCostWei,omitempty"`
	LedgerOrigin      string     `json:"ledgerOrigin"`
	DocumentReference *string    `json:"ipfsHash,omitempty"`
	DocumentURL       *string    `json:"ipfsUrl,omitempty"`
	DocumentSize      *int64     `json:"documentSize,omitempty"`
	DocumentPinned    bool       `json:"documentPinned"`
	VerificationCount int64      `json:"verificationCount"`
	LastVerifiedAt    *time.Time `json:"lastVerifiedAt,omitempty"`
	RevocationReason  *string    `json:"revocationReason,omitempty"`
	RevokedBy         *string    `json:"revokedBy,omitempty"`
	RevokedAt         *time.Time `json:"revokedAt,omitempty"`
	EmailSent         bool       `json:"emailSent"`
	EmailSentAt       *time.Time `json:"emailSentAt,omitempty"`
	GeneratedBy       string     `json:"generatedBy"`
	IssuedAt          time.Time  `json:"issueDate"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

func newCertificateResponse(c *models.Certificate) *certificateResponse {
	if c == nil {
		return nil
	}
	out := &certificateResponse{
		ID:                c.ID,
		StudentName:       c.SubjectName,
		FatherName:        c.GuardianName,
		Email:             c.SubjectEmail,
		District:          c.District,
		State:             c.State,
		CourseName:        c.CourseName,
		InstituteName:     c.InstituteName,
		Status:            string(c.Status),
		Fingerprint:       c.ContentFingerprint,
		LedgerReference:   c.LedgerReference,
		LedgerBlockHeight: c.LedgerBlockHeight,
		LedgerGasUsed:     c.LedgerGasUsed,
		LedgerOrigin:      string(c.Origin()),
		DocumentReference: c.DocumentReference,
		DocumentURL:       c.DocumentURL,
		DocumentSize:      c.DocumentSize,
		DocumentPinned:    c.DocumentPinned,
		VerificationCount: c.VerificationCount,
		LastVerifiedAt:    c.LastVerifiedAt,
		RevocationReason:  c.RevocationReason,
		RevokedBy:         c.RevokedBy,
		RevokedAt:         c.RevokedAt,
		EmailSent:         c.EmailSent,
		EmailSentAt:       c.EmailSentAt,
		GeneratedBy:       c.GeneratedBy,
		IssuedAt:          c.IssuedAt,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
	if c.LedgerCost.Valid {
		cost := c.LedgerCost.Decimal.String()
		out.LedgerCost = &cost
	}
	return out
}

func newCertificateResponses(items []models.Certificate) []*certificateResponse {
	out := make([]*certificateResponse, 0, len(items))
	for i := range items {
		out = append(out, newCertificateResponse(&items[i]))
	}
	return out
}

type issueResponse struct {
	Certificate       *certificateResponse    `json:"certificate"`
	LedgerOrigin      enums.LedgerOrigin      `json:"ledgerOrigin"`
	DocumentReference string                  `json:"ipfsHash"`
	Stages            []issuance.StageOutcome `json:"stages"`
}

func newIssueResponse(res *issuance.Result) *issueResponse {
	if res == nil {
		return nil
	}
	return &issueResponse{
		Certificate:       newCertificateResponse(res.Certificate),
		LedgerOrigin:      res.LedgerOrigin,
		DocumentReference: res.DocumentReference,
		Stages:            res.Stages,
	}
}

type batchSuccessResponse struct {
	Index  int            `json:"index"`
	Result *issueResponse `json:"result"`
}

type batchResponse struct {
	Successful []batchSuccessResponse `json:"successful"`
	Failed     []batch.Failure        `json:"failed"`
	Total      int                    `json:"total"`
}

func newBatchResponse(res *batch.Result) batchResponse {
	out := batchResponse{
		Successful: make([]batchSuccessResponse, 0, len(res.Successful)),
		Failed:     res.Failed,
		Total:      res.Total,
	}
	if out.Failed == nil {
		out.Failed = []batch.Failure{}
	}
	for _, s := range res.Successful {
		out.Successful = append(out.Successful, batchSuccessResponse{Index: s.Index, Result: newIssueResponse(s.Result)})
	}
	return out
}

type onChainResponse struct {
	StudentName   string    `json:"studentName"`
	CourseName    string    `json:"courseName"`
	InstituteName string    `json:"instituteName"`
	IssuedAt      time.Time `json:"issueDate"`
	Fingerprint   string    `json:"certificateHash"`
	Valid         bool      `json:"isValid"`
}

type verificationResponse struct {
	Found       bool                     `json:"found"`
	Valid       bool                     `json:"valid"`
	Certificate *certificateResponse     `json:"certificate,omitempty"`
	Provenance  enums.Provenance         `json:"provenance,omitempty"`
	VerifiedAt  *time.Time               `json:"verifiedAt,omitempty"`
	Revocation  *verification.Revocation `json:"revocation,omitempty"`
	OnChain     *onChainResponse         `json:"onChain,omitempty"`
	Reason      string                   `json:"reason,omitempty"`
}

func newVerificationResponse(o *verification.Outcome) *verificationResponse {
	if o == nil {
		return nil
	}
	return &verificationResponse{
		Found:       o.Found,
		Valid:       o.Valid,
		Certificate: newCertificateResponse(o.Certificate),
		Provenance:  o.Provenance,
		VerifiedAt:  o.VerifiedAt,
		Revocation:  o.Revocation,
		OnChain:     newOnChainResponse(o.OnChain),
		Reason:      o.Reason,
	}
}

func newOnChainResponse(r *ledger.OnChainRecord) *onChainResponse {
	if r == nil {
		return nil
	}
	return &onChainResponse{
		StudentName:   r.SubjectName,
		CourseName:    r.CourseName,
		InstituteName: r.InstituteName,
		IssuedAt:      time.Unix(r.IssuedAtUnix, 0).UTC(),
		Fingerprint:   r.Fingerprint,
		Valid:         r.Valid,
	}
}

type verificationLogResponse struct {
	ID            string            `json:"id"`
	CertificateID string            `json:"certificateId"`
	Method        string            `json:"verificationMethod"`
	Identifier    string            `json:"identifier"`
	Success       bool              `json:"verificationResult"`
	Provenance    *enums.Provenance `json:"provenance,omitempty"`
	IPAddress     string            `json:"ipAddress,omitempty"`
	UserAgent     string            `json:"userAgent,omitempty"`
	ElapsedMS     int64             `json:"verificationTimeMs"`
	ErrorMessage  *string           `json:"errorMessage,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

func newVerificationLogResponses(items []models.VerificationLog) []verificationLogResponse {
	out := make([]verificationLogResponse, 0, len(items))
	for _, l := range items {
		out = append(out, verificationLogResponse{
			ID:            l.ID.String(),
			CertificateID: l.CertificateID,
			Method:        string(l.Method),
			Identifier:    l.Identifier,
			Success:       l.Outcome,
			Provenance:    l.Provenance,
			IPAddress:     l.IPAddress,
			UserAgent:     l.UserAgent,
			ElapsedMS:     l.ElapsedMS,
			ErrorMessage:  l.ErrorMessage,
			CreatedAt:     l.CreatedAt,
		})
	}
	return out
}

type emailLogResponse struct {
	ID            string          `json:"id"`
	CertificateID string          `json:"certificateId"`
	Recipient     string          `json:"recipientEmail"`
	EmailType     string          `json:"emailType"`
	Subject       string          `json:"subject"`
	Status        string          `json:"status"`
	MessageID     *string         `json:"messageId,omitempty"`
	ErrorMessage  *string         `json:"errorMessage,omitempty"`
	Attachments   json.RawMessage `json:"attachments,omitempty"`
	SentBy        string          `json:"sentBy"`
	RetryCount    int             `json:"retryCount"`
	SentAt        *time.Time      `json:"sentAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

func newEmailLogResponses(items []models.EmailLog) []emailLogResponse {
	out := make([]emailLogResponse, 0, len(items))
	for _, l := range items {
		entry := emailLogResponse{
			ID:            l.ID.String(),
			CertificateID: l.CertificateID,
			Recipient:     l.Recipient,
			EmailType:     string(l.EmailType),
			Subject:       l.Subject,
			Status:        string(l.Status),
			MessageID:     l.MessageID,
			ErrorMessage:  l.ErrorMessage,
			SentBy:        l.SentBy,
			RetryCount:    l.RetryCount,
			SentAt:        l.SentAt,
			CreatedAt:     l.CreatedAt,
		}
		if len(l.Attachments) > 0 {
			entry.Attachments = json.RawMessage(l.Attachments)
		}
		out = append(out, entry)
	}
	return out
}
