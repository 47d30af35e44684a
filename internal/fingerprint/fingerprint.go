package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Length is the size of a hex-encoded fingerprint.
const Length = sha256.Size * 2

// Fields are the semantic inputs of a certificate fingerprint.
type Fields struct {
	SubjectName   string
	CourseName    string
	InstituteName string
	IssuedAt      time.Time
}

// Compute returns the lower-case hex SHA-256 of the canonical encoding of f.
// Each field is trimmed and written as "<len>:<value>;" in a fixed order so
// that no two distinct inputs share an encoding.
func Compute(f Fields) string {
	var b strings.Builder
	for _, part := range []string{
		strings.TrimSpace(f.SubjectName),
		strings.TrimSpace(f.CourseName),
		strings.TrimSpace(f.InstituteName),
		f.IssuedAt.UTC().Format(time.RFC3339Nano),
	} {
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
		b.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Valid reports whether s is a well-formed lower-case hex fingerprint.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
