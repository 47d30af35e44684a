package enums

import "fmt"

// VerificationMethod maps to the verification_method enum in Postgres.
type VerificationMethod string

const (
	VerificationMethodID              VerificationMethod = "id"
	VerificationMethodLedgerHash      VerificationMethod = "ledgerHash"
	VerificationMethodQRPayload       VerificationMethod = "qrPayload"
	VerificationMethodTransactionHash VerificationMethod = "transactionHash"
)

var validVerificationMethods = []VerificationMethod{
	VerificationMethodID,
	VerificationMethodLedgerHash,
	VerificationMethodQRPayload,
	VerificationMethodTransactionHash,
}

func (m VerificationMethod) String() string {
	return string(m)
}

func (m VerificationMethod) IsValid() bool {
	for _, candidate := range validVerificationMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseVerificationMethod converts raw input into VerificationMethod.
func ParseVerificationMethod(value string) (VerificationMethod, error) {
	for _, candidate := range validVerificationMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid verification method %q", value)
}
