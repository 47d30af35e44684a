package scantoken

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Payload captures the certificate fields embedded in a scannable code.
type Payload struct {
	CertificateID   string
	SubjectName     string
	CourseName      string
	Fingerprint     string
	IssuedAt        time.Time
	VerificationURL string
}

// Claims is the signed form of Payload.
type Claims struct {
	CertificateID   string `json:"certificateId"`
	SubjectName     string `json:"studentName"`
	CourseName      string `json:"courseName"`
	Fingerprint     string `json:"blockchainHash"`
	IssuedAtUnix    int64  `json:"issueDate"`
	VerificationURL string `json:"verificationUrl,omitempty"`
	jwt.RegisteredClaims
}

// Payload converts the claims back into the unsigned payload.
func (c *Claims) Payload() Payload {
	return Payload{
		CertificateID:   c.CertificateID,
		SubjectName:     c.SubjectName,
		CourseName:      c.CourseName,
		Fingerprint:     c.Fingerprint,
		IssuedAt:        time.Unix(c.IssuedAtUnix, 0).UTC(),
		VerificationURL: c.VerificationURL,
	}
}
