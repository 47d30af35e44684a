package scantoken

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/certledger-backend/pkg/config"
)

var signingMethod = jwt.SigningMethodHS256

// Mint signs the payload. A zero TTL produces a token without expiry since
// printed certificates are scanned for years.
func Mint(cfg config.ScanTokenConfig, now time.Time, payload Payload) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("scan token secret is required")
	}
	if cfg.Issuer == "" {
		return "", fmt.Errorf("scan token issuer is required")
	}
	if strings.TrimSpace(payload.CertificateID) == "" {
		return "", fmt.Errorf("certificate id is required")
	}
	if strings.TrimSpace(payload.Fingerprint) == "" {
		return "", fmt.Errorf("fingerprint is required")
	}

	registered := jwt.RegisteredClaims{
		Issuer:   cfg.Issuer,
		Subject:  payload.CertificateID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if cfg.TTL > 0 {
		registered.ExpiresAt = jwt.NewNumericDate(now.Add(cfg.TTL))
	}

	claims := Claims{
		CertificateID:    payload.CertificateID,
		SubjectName:      payload.SubjectName,
		CourseName:       payload.CourseName,
		Fingerprint:      payload.Fingerprint,
		IssuedAtUnix:     payload.IssuedAt.Unix(),
		VerificationURL:  payload.VerificationURL,
		RegisteredClaims: registered,
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing scan token: %w", err)
	}
	return signed, nil
}

// Parse validates the token signature and issuer and returns its claims.
func Parse(cfg config.ScanTokenConfig, tokenString string) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("scan token secret is required")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(
		strings.TrimSpace(tokenString),
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != signingMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// LooksLikeToken reports whether raw has the three-segment compact JWS shape.
func LooksLikeToken(raw string) bool {
	raw = strings.TrimSpace(raw)
	return !strings.HasPrefix(raw, "{") && strings.Count(raw, ".") == 2
}
