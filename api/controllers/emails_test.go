package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/certledger-backend/internal/notifications"
	"github.com/angelmondragon/certledger-backend/pkg/db/models"
	"github.com/angelmondragon/certledger-backend/pkg/enums"
)

type testEmailLogs struct {
	params notifications.SearchParams
	calls  int
}

func (s *testEmailLogs) Search(ctx context.Context, params notifications.SearchParams) (*notifications.SearchResult, error) {
	s.params = params
	s.calls++
	return &notifications.SearchResult{
		Items: []models.EmailLog{{
			ID:            uuid.New(),
			CertificateID: "DEIT20260004",
			Recipient:     "asha@example.com",
			EmailType:     enums.EmailTypeCertificateIssued,
			Subject:       "Your certificate",
			Status:        enums.EmailStatusFailed,
			SentBy:        "issuance",
			CreatedAt:     time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		}},
		Cursor: "next",
	}, nil
}

func (s *testEmailLogs) Stats(ctx context.Context) (notifications.Stats, error) {
	return notifications.Stats{Total: 4, Sent: 3, Failed: 1, ByType: map[string]int64{"certificate_issued": 4}}, nil
}

func TestEmailHistoryPassesFilters(t *testing.T) {
	svc := &testEmailLogs{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/certificates/emails?status=FAILED&type=certificate_issued&limit=10&cursor=abc", nil)
	resp := httptest.NewRecorder()
	EmailHistory(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	want := notifications.SearchParams{Status: "failed", EmailType: "certificate_issued", Limit: 10, Cursor: "abc"}
	if svc.params != want {
		t.Fatalf("unexpected params %+v", svc.params)
	}
	var envelope struct {
		Data struct {
			Items []struct {
				CertificateID string `json:"certificateId"`
				Status        string `json:"status"`
			} `json:"items"`
			Cursor string `json:"cursor"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(envelope.Data.Items) != 1 || envelope.Data.Items[0].CertificateID != "DEIT20260004" || envelope.Data.Cursor != "next" {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestEmailHistoryRejectsUnknownType(t *testing.T) {
	svc := &testEmailLogs{}
	resp := httptest.NewRecorder()
	EmailHistory(svc, testLogger())(resp, httptest.NewRequest(http.MethodGet, "/api/v1/certificates/emails?type=newsletter", nil))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if svc.calls != 0 {
		t.Fatal("service should not be called for invalid filters")
	}
}

func TestEmailStats(t *testing.T) {
	resp := httptest.NewRecorder()
	EmailStats(&testEmailLogs{}, testLogger())(resp, httptest.NewRequest(http.MethodGet, "/api/v1/certificates/emails/stats", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	var envelope struct {
		Data notifications.Stats `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.Failed != 1 || envelope.Data.ByType["certificate_issued"] != 4 {
		t.Fatalf("unexpected stats %s", resp.Body.String())
	}
}
