package enums

import "fmt"

// CertificateStatus maps to the certificate_status enum in Postgres.
type CertificateStatus string

const (
	CertificateStatusProvisional CertificateStatus = "provisional"
	CertificateStatusIssued      CertificateStatus = "issued"
	CertificateStatusVerified    CertificateStatus = "verified"
	CertificateStatusRevoked     CertificateStatus = "revoked"
	CertificateStatusFailed      CertificateStatus = "failed"
)

var validCertificateStatuses = []CertificateStatus{
	CertificateStatusProvisional,
	CertificateStatusIssued,
	CertificateStatusVerified,
	CertificateStatusRevoked,
	CertificateStatusFailed,
}

// String implements fmt.Stringer.
func (s CertificateStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches the canonical certificate_status enum.
func (s CertificateStatus) IsValid() bool {
	for _, candidate := range validCertificateStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsFinalized reports whether the record is visible as a real certificate.
func (s CertificateStatus) IsFinalized() bool {
	return s == CertificateStatusIssued || s == CertificateStatusVerified || s == CertificateStatusRevoked
}

// ParseCertificateStatus converts raw input into CertificateStatus.
func ParseCertificateStatus(value string) (CertificateStatus, error) {
	for _, candidate := range validCertificateStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid certificate status %q", value)
}

// LedgerOrigin records whether a ledger reference is authentic or synthesized.
type LedgerOrigin string

const (
	LedgerOriginLedger   LedgerOrigin = "ledger"
	LedgerOriginFallback LedgerOrigin = "fallback"
)

func (o LedgerOrigin) String() string {
	return string(o)
}

func (o LedgerOrigin) IsValid() bool {
	return o == LedgerOriginLedger || o == LedgerOriginFallback
}

// Provenance tags where a verification answer came from.
type Provenance string

const (
	ProvenanceLedger   Provenance = "ledger"
	ProvenanceFallback Provenance = "fallback"
	ProvenanceError    Provenance = "error"
)

func (p Provenance) String() string {
	return string(p)
}

func (p Provenance) IsValid() bool {
	switch p {
	case ProvenanceLedger, ProvenanceFallback, ProvenanceError:
		return true
	}
	return false
}
