package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/certledger-backend/pkg/config"
	"github.com/angelmondragon/certledger-backend/pkg/enums"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
)

// ErrUnavailable marks a ledger call that could not complete. Callers degrade
// to fallback results; it is never surfaced to API clients.
var ErrUnavailable = errors.New("ledger unavailable")

const (
	fallbackGasUsed    int64 = 21000
	fallbackMinHeight  int64 = 15_000_000
	fallbackHeightSpan int64 = 1_000_000
)

// IssueRequest is the certificate data anchored on the ledger.
type IssueRequest struct {
	CertificateID string    `json:"id"`
	SubjectName   string    `json:"studentName"`
	CourseName    string    `json:"courseName"`
	InstituteName string    `json:"instituteName"`
	IssuedAt      time.Time `json:"-"`
	IssuedAtUnix  int64     `json:"issueDate"`
	Fingerprint   string    `json:"certificateHash"`
}

// WriteResult describes a completed ledger write. FallbackCause is set when a
// configured ledger failed and the result was synthesized instead.
type WriteResult struct {
	Reference     string
	BlockHeight   int64
	GasUsed       int64
	Cost          decimal.Decimal
	Origin        enums.LedgerOrigin
	FallbackCause error
}

// OnChainRecord is the certificate as stored by the registry contract.
type OnChainRecord struct {
	SubjectName   string
	CourseName    string
	InstituteName string
	IssuedAtUnix  int64
	Fingerprint   string
	Valid         bool
}

// VerifyRequest identifies the record whose ledger anchor should be checked.
type VerifyRequest struct {
	CertificateID string
	Fingerprint   string
	Origin        enums.LedgerOrigin
}

// Verification is the ledger's view of a certificate.
type Verification struct {
	Provenance enums.Provenance
	OnChain    *OnChainRecord
	Cause      error
}

// NetworkInfo summarizes the configured chain.
type NetworkInfo struct {
	Mode        string `json:"mode"`
	ChainID     int64  `json:"chainId"`
	BlockHeight uint64 `json:"blockNumber"`
	GasPriceWei string `json:"gasPriceWei,omitempty"`
	Account     string `json:"account,omitempty"`
	Contract    string `json:"contractAddress,omitempty"`
}

type chain interface {
	Issue(ctx context.Context, req IssueRequest) (WriteResult, error)
	Lookup(ctx context.Context, certificateID string) (OnChainRecord, bool, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Network(ctx context.Context) (NetworkInfo, error)
	Total(ctx context.Context) (uint64, error)
}

// Client anchors certificates on the registry contract, degrading to
// synthesized fallback records whenever the contract cannot be used.
type Client struct {
	cfg       config.LedgerConfig
	chain     chain
	initErr   error
	logg      *logger.Logger
	now       func() time.Time
	randomTip func() int64
	gasPrice  decimal.Decimal

	mu     sync.Mutex
	status *Status
}

// New builds a ledger client. A contract that cannot be configured leaves the
// client in fallback mode rather than failing startup.
func New(ctx context.Context, cfg config.LedgerConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	c := newClient(cfg, nil, logg)
	if !cfg.UsesContract() {
		logg.Warn(logg.WithField(ctx, "mode", modeFallback), "ledger contract disabled; certificates will carry fallback references")
		return c, nil
	}
	ch, err := dialContract(ctx, cfg)
	if err != nil {
		c.initErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
		logg.Error(logg.WithField(ctx, "mode", modeFallback), "ledger contract unavailable; using fallback", err)
		return c, nil
	}
	c.chain = ch
	logg.Info(logg.WithFields(ctx, map[string]any{"mode": modeLedger, "contract": cfg.ContractAddress}), "ledger contract client ready")
	return c, nil
}

func newClient(cfg config.LedgerConfig, ch chain, logg *logger.Logger) *Client {
	price, err := decimal.NewFromString(strings.TrimSpace(cfg.GasPriceWei))
	if err != nil {
		price = decimal.Zero
	}
	return &Client{
		cfg:       cfg,
		chain:     ch,
		logg:      logg,
		now:       time.Now,
		randomTip: func() int64 { return fallbackMinHeight + rand.Int63n(fallbackHeightSpan) },
		gasPrice:  price,
	}
}

// Mode reports which mode new calls will start in.
func (c *Client) Mode() string {
	if c.chain == nil {
		return modeFallback
	}
	return modeLedger
}

// Issue writes the certificate to the contract, or synthesizes a fallback
// reference when the ledger is disabled or the write fails.
func (c *Client) Issue(ctx context.Context, req IssueRequest) (WriteResult, error) {
	if strings.TrimSpace(req.CertificateID) == "" || strings.TrimSpace(req.Fingerprint) == "" {
		return WriteResult{}, errors.New("certificate id and fingerprint are required")
	}
	req.IssuedAtUnix = req.IssuedAt.Unix()

	if c.chain == nil {
		return c.fallbackWrite(ctx, req, c.initErr)
	}

	callCtx, cancel := c.callContext(ctx)
	res, err := c.chain.Issue(callCtx, req)
	cancel()
	if err != nil {
		cause := fmt.Errorf("%w: issue %s: %v", ErrUnavailable, req.CertificateID, err)
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "ledger write failed; using fallback")
		c.invalidateStatus()
		return c.fallbackWrite(ctx, req, cause)
	}
	res.Origin = enums.LedgerOriginLedger
	return res, nil
}

// Verify reports the ledger provenance of a stored record. Records issued in
// fallback mode are never reported as ledger-confirmed.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) Verification {
	if req.Origin == enums.LedgerOriginFallback {
		return Verification{Provenance: enums.ProvenanceFallback}
	}
	if c.chain == nil {
		return Verification{Provenance: enums.ProvenanceFallback, Cause: c.initErr}
	}

	callCtx, cancel := c.callContext(ctx)
	record, found, err := c.chain.Lookup(callCtx, req.CertificateID)
	cancel()
	if err != nil {
		c.invalidateStatus()
		return Verification{
			Provenance: enums.ProvenanceFallback,
			Cause:      fmt.Errorf("%w: verify %s: %v", ErrUnavailable, req.CertificateID, err),
		}
	}
	if !found {
		return Verification{Provenance: enums.ProvenanceFallback}
	}
	if !strings.EqualFold(record.Fingerprint, req.Fingerprint) {
		return Verification{
			Provenance: enums.ProvenanceError,
			OnChain:    &record,
			Cause:      fmt.Errorf("on-chain fingerprint differs for %s", req.CertificateID),
		}
	}
	return Verification{Provenance: enums.ProvenanceLedger, OnChain: &record}
}

// NetworkInfo describes the connected chain, or the fallback mode.
func (c *Client) NetworkInfo(ctx context.Context) (NetworkInfo, error) {
	if c.chain == nil {
		return NetworkInfo{Mode: modeFallback, ChainID: c.cfg.ChainID, GasPriceWei: c.gasPrice.String()}, nil
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	info, err := c.chain.Network(callCtx)
	if err != nil {
		return NetworkInfo{}, fmt.Errorf("%w: network info: %v", ErrUnavailable, err)
	}
	info.Mode = modeLedger
	return info, nil
}

// TotalOnChain returns the contract's certificate count.
func (c *Client) TotalOnChain(ctx context.Context) (uint64, error) {
	if c.chain == nil {
		return 0, ErrUnavailable
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	total, err := c.chain.Total(callCtx)
	if err != nil {
		return 0, fmt.Errorf("%w: total: %v", ErrUnavailable, err)
	}
	return total, nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

func weiCost(gasUsed uint64, price *big.Int) decimal.Decimal {
	if price == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), price), 0)
}
