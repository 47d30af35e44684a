package enums

import "fmt"

// EmailType maps to the email_type enum in Postgres.
type EmailType string

const (
	EmailTypeCertificateIssued        EmailType = "certificate_issued"
	EmailTypeCertificateReminder      EmailType = "certificate_reminder"
	EmailTypeVerificationNotification EmailType = "verification_notification"
	EmailTypeRevocationNotification   EmailType = "revocation_notification"
)

var validEmailTypes = []EmailType{
	EmailTypeCertificateIssued,
	EmailTypeCertificateReminder,
	EmailTypeVerificationNotification,
	EmailTypeRevocationNotification,
}

func (t EmailType) String() string {
	return string(t)
}

// ParseEmailType converts raw input into EmailType.
func ParseEmailType(value string) (EmailType, error) {
	for _, candidate := range validEmailTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid email type %q", value)
}

// EmailStatus maps to the email_status enum in Postgres.
type EmailStatus string

const (
	EmailStatusPending EmailStatus = "pending"
	EmailStatusSent    EmailStatus = "sent"
	EmailStatusFailed  EmailStatus = "failed"
)

var validEmailStatuses = []EmailStatus{EmailStatusPending, EmailStatusSent, EmailStatusFailed}

func (s EmailStatus) String() string {
	return string(s)
}

func ParseEmailStatus(value string) (EmailStatus, error) {
	for _, candidate := range validEmailStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid email status %q", value)
}
