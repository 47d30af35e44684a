package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/certledger-backend/pkg/enums"
)

// VerificationLog is an append-only record of a single verification attempt.
type VerificationLog struct {
	ID            uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	CertificateID string                   `gorm:"column:certificate_id;not null;index:ix_verification_logs_certificate_id"`
	Method        enums.VerificationMethod `gorm:"column:method;type:verification_method;not null"`
	Identifier    string                   `gorm:"column:identifier;not null"`
	Outcome       bool                     `gorm:"column:outcome;not null"`
	Provenance    *enums.Provenance        `gorm:"column:provenance;type:verification_provenance"`
	IPAddress     string                   `gorm:"column:ip_address"`
	UserAgent     string                   `gorm:"column:user_agent"`
	ElapsedMS     int64                    `gorm:"column:elapsed_ms;not null;default:0"`
	ErrorMessage  *string                  `gorm:"column:error_message"`
	CreatedAt     time.Time                `gorm:"column:created_at;autoCreateTime;index:ix_verification_logs_created_at"`
}

func (VerificationLog) TableName() string { return "verification_logs" }
