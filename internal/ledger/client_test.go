package ledger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/certledger-backend/pkg/config"
	"github.com/angelmondragon/certledger-backend/pkg/enums"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
)

type fakeChain struct {
	issueFn  func(ctx context.Context, req IssueRequest) (WriteResult, error)
	lookupFn func(ctx context.Context, id string) (OnChainRecord, bool, error)
	tip      uint64
	tipErr   error
	tipCalls int
	total    uint64
}

func (f *fakeChain) Issue(ctx context.Context, req IssueRequest) (WriteResult, error) {
	return f.issueFn(ctx, req)
}

func (f *fakeChain) Lookup(ctx context.Context, id string) (OnChainRecord, bool, error) {
	return f.lookupFn(ctx, id)
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	f.tipCalls++
	return f.tip, f.tipErr
}

func (f *fakeChain) Network(context.Context) (NetworkInfo, error) {
	return NetworkInfo{ChainID: 1337, BlockHeight: f.tip}, nil
}

func (f *fakeChain) Total(context.Context) (uint64, error) {
	return f.total, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}})
}

func testConfig() config.LedgerConfig {
	return config.LedgerConfig{GasPriceWei: "20000000000", CallTimeout: time.Second, StatusTTL: time.Minute, ChainID: 1337}
}

func sampleRequest() IssueRequest {
	return IssueRequest{
		CertificateID: "DEIT20260001",
		SubjectName:   "Asha Rao",
		CourseName:    "Data Science Essentials",
		InstituteName: "DEIT",
		IssuedAt:      time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC),
		Fingerprint:   strings.Repeat("a", 64),
	}
}

func TestIssueFallbackWhenDisabled(t *testing.T) {
	c, err := New(context.Background(), testConfig(), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c.randomTip = func() int64 { return 15_500_000 }

	res, err := c.Issue(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if res.Origin != enums.LedgerOriginFallback {
		t.Fatalf("expected fallback origin, got %s", res.Origin)
	}
	if !strings.HasPrefix(res.Reference, "0x") || len(res.Reference) != 66 {
		t.Fatalf("unexpected reference %q", res.Reference)
	}
	if res.BlockHeight != 15_500_000 || res.GasUsed != 21000 {
		t.Fatalf("unexpected fallback metadata %+v", res)
	}
	if !res.Cost.Equal(decimal.RequireFromString("420000000000000")) {
		t.Fatalf("unexpected cost %s", res.Cost)
	}
	if res.FallbackCause != nil {
		t.Fatalf("disabled ledger is not a failure, got %v", res.FallbackCause)
	}
}

func TestFallbackReferencesAreDistinctPerCertificate(t *testing.T) {
	c := newClient(testConfig(), nil, testLogger())
	a, _ := c.Issue(context.Background(), sampleRequest())
	other := sampleRequest()
	other.CertificateID = "DEIT20260002"
	b, _ := c.Issue(context.Background(), other)
	if a.Reference == b.Reference {
		t.Fatal("expected distinct fallback references")
	}
}

func TestIssueFallsBackWhenChainFails(t *testing.T) {
	ch := &fakeChain{
		issueFn: func(context.Context, IssueRequest) (WriteResult, error) {
			return WriteResult{}, context.DeadlineExceeded
		},
		tip: 812,
	}
	c := newClient(testConfig(), ch, testLogger())

	res, err := c.Issue(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if res.Origin != enums.LedgerOriginFallback {
		t.Fatalf("expected fallback origin, got %s", res.Origin)
	}
	if !errors.Is(res.FallbackCause, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable cause, got %v", res.FallbackCause)
	}
	if res.BlockHeight != 812 {
		t.Fatalf("expected chain tip as block height, got %d", res.BlockHeight)
	}
}

func TestIssueOnLedger(t *testing.T) {
	ch := &fakeChain{issueFn: func(_ context.Context, req IssueRequest) (WriteResult, error) {
		if req.IssuedAtUnix != req.IssuedAt.Unix() {
			t.Fatalf("expected unix issue date to be derived")
		}
		return WriteResult{Reference: "0xabc", BlockHeight: 9, GasUsed: 120000, Cost: decimal.NewFromInt(5)}, nil
	}}
	c := newClient(testConfig(), ch, testLogger())

	res, err := c.Issue(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if res.Origin != enums.LedgerOriginLedger || res.Reference != "0xabc" {
		t.Fatalf("unexpected ledger result %+v", res)
	}
}

func TestVerifyProvenance(t *testing.T) {
	fp := strings.Repeat("b", 64)
	cases := []struct {
		name     string
		origin   enums.LedgerOrigin
		lookupFn func(context.Context, string) (OnChainRecord, bool, error)
		want     enums.Provenance
		wantErr  bool
	}{
		{
			name:   "fallback origin never reports ledger",
			origin: enums.LedgerOriginFallback,
			lookupFn: func(context.Context, string) (OnChainRecord, bool, error) {
				t.Fatal("lookup should not run for fallback records")
				return OnChainRecord{}, false, nil
			},
			want: enums.ProvenanceFallback,
		},
		{
			name:   "confirmed",
			origin: enums.LedgerOriginLedger,
			lookupFn: func(context.Context, string) (OnChainRecord, bool, error) {
				return OnChainRecord{SubjectName: "Asha Rao", Fingerprint: fp, Valid: true}, true, nil
			},
			want: enums.ProvenanceLedger,
		},
		{
			name:   "not on ledger",
			origin: enums.LedgerOriginLedger,
			lookupFn: func(context.Context, string) (OnChainRecord, bool, error) {
				return OnChainRecord{}, false, nil
			},
			want: enums.ProvenanceFallback,
		},
		{
			name:   "unreachable",
			origin: enums.LedgerOriginLedger,
			lookupFn: func(context.Context, string) (OnChainRecord, bool, error) {
				return OnChainRecord{}, false, errors.New("dial tcp: refused")
			},
			want:    enums.ProvenanceFallback,
			wantErr: true,
		},
		{
			name:   "fingerprint disagreement",
			origin: enums.LedgerOriginLedger,
			lookupFn: func(context.Context, string) (OnChainRecord, bool, error) {
				return OnChainRecord{SubjectName: "Asha Rao", Fingerprint: strings.Repeat("c", 64), Valid: true}, true, nil
			},
			want:    enums.ProvenanceError,
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newClient(testConfig(), &fakeChain{lookupFn: tc.lookupFn}, testLogger())
			got := c.Verify(context.Background(), VerifyRequest{CertificateID: "DEIT20260001", Fingerprint: fp, Origin: tc.origin})
			if got.Provenance != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got.Provenance)
			}
			if (got.Cause != nil) != tc.wantErr {
				t.Fatalf("unexpected cause %v", got.Cause)
			}
		})
	}
}

func TestHealthIsCachedPerInstance(t *testing.T) {
	ch := &fakeChain{tip: 100}
	c := newClient(testConfig(), ch, testLogger())
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	first := c.Health(context.Background())
	if !first.Reachable || first.ChainTip != 100 {
		t.Fatalf("unexpected status %+v", first)
	}
	ch.tip = 101
	if cached := c.Health(context.Background()); cached.ChainTip != 100 {
		t.Fatalf("expected cached tip, got %d", cached.ChainTip)
	}
	if ch.tipCalls != 1 {
		t.Fatalf("expected one probe, got %d", ch.tipCalls)
	}

	now = now.Add(2 * time.Minute)
	if fresh := c.Health(context.Background()); fresh.ChainTip != 101 {
		t.Fatalf("expected refreshed tip, got %d", fresh.ChainTip)
	}
}

func TestHealthReportsUnreachable(t *testing.T) {
	c := newClient(testConfig(), &fakeChain{tipErr: errors.New("timeout")}, testLogger())
	status := c.Health(context.Background())
	if status.Reachable || status.Error == "" || status.Mode != "ledger" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestTotalOnChainRequiresContract(t *testing.T) {
	c := newClient(testConfig(), nil, testLogger())
	if _, err := c.TotalOnChain(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	info, err := c.NetworkInfo(context.Background())
	if err != nil || info.Mode != "fallback" {
		t.Fatalf("unexpected network info %+v err=%v", info, err)
	}

	withChain := newClient(testConfig(), &fakeChain{total: 42}, testLogger())
	total, err := withChain.TotalOnChain(context.Background())
	if err != nil || total != 42 {
		t.Fatalf("unexpected total %d err=%v", total, err)
	}
}

func TestNewFallsBackOnBadContractConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = true
	cfg.ContractAddress = "not-an-address"
	c, err := New(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.Mode() != "fallback" {
		t.Fatalf("expected fallback mode, got %s", c.Mode())
	}
	res, err := c.Issue(context.Background(), sampleRequest())
	if err != nil || !errors.Is(res.FallbackCause, ErrUnavailable) {
		t.Fatalf("expected fallback issue with cause, res=%+v err=%v", res, err)
	}
}
