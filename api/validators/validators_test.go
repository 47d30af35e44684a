package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
)

func TestSanitizeStringKeepsRunesWhole(t *testing.T) {
	got := SanitizeString("  Zoë\tÅström\x00  ", 5)
	if got != "Zoë" {
		t.Fatalf("unexpected sanitized value %q", got)
	}
	if got := SanitizeString("short", 0); got != "short" {
		t.Fatalf("expected unlimited length, got %q", got)
	}
}

func TestParseQueryBool(t *testing.T) {
	cases := map[string]bool{
		"/doc":                false,
		"/doc?redirect":       true,
		"/doc?redirect=true":  true,
		"/doc?redirect=0":     false,
		"/doc?redirect=FALSE": false,
	}
	for target, want := range cases {
		got, err := ParseQueryBool(httptest.NewRequest(http.MethodGet, target, nil), "redirect")
		if err != nil {
			t.Fatalf("%s: unexpected error %v", target, err)
		}
		if got != want {
			t.Fatalf("%s: expected %v, got %v", target, want, got)
		}
	}

	_, err := ParseQueryBool(httptest.NewRequest(http.MethodGet, "/doc?redirect=maybe", nil), "redirect")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseQueryEnumNormalizesCase(t *testing.T) {
	got, err := ParseQueryEnum(httptest.NewRequest(http.MethodGet, "/c?status=ISSUED", nil), "status", "issued", "revoked")
	if err != nil || got != "issued" {
		t.Fatalf("expected issued, got %q %v", got, err)
	}
	if _, err := ParseQueryEnum(httptest.NewRequest(http.MethodGet, "/c?status=lost", nil), "status", "issued"); err == nil {
		t.Fatal("expected unsupported value to fail")
	}
}

func TestParseQueryIntBounds(t *testing.T) {
	if v, err := ParseQueryInt(httptest.NewRequest(http.MethodGet, "/c", nil), "limit", 20, 1, 100); err != nil || v != 20 {
		t.Fatalf("expected default, got %d %v", v, err)
	}
	_, err := ParseQueryInt(httptest.NewRequest(http.MethodGet, "/c?limit=500", nil), "limit", 20, 1, 100)
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("expected range error, got %v", err)
	}
}
