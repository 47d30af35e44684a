package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/certledger-backend/pkg/enums"
)

// Certificate is the authoritative record for an issued (or reserved) certificate.
type Certificate struct {
	ID                 string                  `gorm:"column:id;type:varchar(32);primaryKey"`
	SubjectName        string                  `gorm:"column:subject_name;not null"`
	GuardianName       string                  `gorm:"column:guardian_name;not null"`
	SubjectEmail       string                  `gorm:"column:subject_email;not null"`
	District           string                  `gorm:"column:district;not null"`
	State              string                  `gorm:"column:state;not null"`
	CourseName         string                  `gorm:"column:course_name;not null"`
	InstituteName      string                  `gorm:"column:institute_name;not null"`
	ContentFingerprint string                  `gorm:"column:content_fingerprint;type:char(64);not null;uniqueIndex:ux_certificates_content_fingerprint"`
	LedgerReference    *string                 `gorm:"column:ledger_reference;uniqueIndex:ux_certificates_ledger_reference"`
	LedgerBlockHeight  *int64                  `gorm:"column:ledger_block_height"`
	LedgerGasUsed      *int64                  `gorm:"column:ledger_gas_used"`
	LedgerCost         decimal.NullDecimal     `gorm:"column:ledger_cost;type:numeric(38,0)"`
	LedgerOrigin       *enums.LedgerOrigin     `gorm:"column:ledger_origin;type:ledger_origin"`
	DocumentReference  *string                 `gorm:"column:document_reference"`
	DocumentURL        *string                 `gorm:"column:document_url"`
	DocumentSize       *int64                  `gorm:"column:document_size"`
	DocumentPinned     bool                    `gorm:"column:document_pinned;not null;default:false"`
	Status             enums.CertificateStatus `gorm:"column:status;type:certificate_status;not null;default:'provisional'"`
	FailureStage       *string                 `gorm:"column:failure_stage"`
	FailureReason      *string                 `gorm:"column:failure_reason"`
	VerificationCount  int64                   `gorm:"column:verification_count;not null;default:0"`
	LastVerifiedAt     *time.Time              `gorm:"column:last_verified_at"`
	RevocationReason   *string                 `gorm:"column:revocation_reason"`
	RevokedBy          *string                 `gorm:"column:revoked_by"`
	RevokedAt          *time.Time              `gorm:"column:revoked_at"`
	EmailSent          bool                    `gorm:"column:email_sent;not null;default:false"`
	EmailSentAt        *time.Time              `gorm:"column:email_sent_at"`
	EmailAttempts      int                     `gorm:"column:email_attempts;not null;default:0"`
	GeneratedBy        string                  `gorm:"column:generated_by;not null"`
	IssuedAt           time.Time               `gorm:"column:issued_at;not null"`
	CreatedAt          time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (Certificate) TableName() string { return "certificates" }

// Origin returns the ledger origin, defaulting to fallback for records without one.
func (c *Certificate) Origin() enums.LedgerOrigin {
	if c == nil || c.LedgerOrigin == nil {
		return enums.LedgerOriginFallback
	}
	return *c.LedgerOrigin
}
