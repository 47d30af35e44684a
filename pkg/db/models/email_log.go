package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/certledger-backend/pkg/enums"
)

// EmailLog audits one notification attempt, successful or not.
type EmailLog struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	CertificateID string            `gorm:"column:certificate_id;not null;index:ix_email_logs_certificate_id"`
	Recipient     string            `gorm:"column:recipient;not null"`
	EmailType     enums.EmailType   `gorm:"column:email_type;type:email_type;not null"`
	Subject       string            `gorm:"column:subject;not null"`
	Status        enums.EmailStatus `gorm:"column:status;type:email_status;not null;default:'pending'"`
	MessageID     *string           `gorm:"column:message_id"`
	ErrorMessage  *string           `gorm:"column:error_message"`
	Attachments   datatypes.JSON    `gorm:"column:attachments;type:jsonb"`
	SentBy        string            `gorm:"column:sent_by;not null"`
	RetryCount    int               `gorm:"column:retry_count;not null;default:0"`
	SentAt        *time.Time        `gorm:"column:sent_at"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (EmailLog) TableName() string { return "email_logs" }
