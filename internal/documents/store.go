package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/angelmondragon/certledger-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
	"github.com/angelmondragon/certledger-backend/pkg/metrics"
)

const (
	pinFilePath  = "/pinning/pinFileToIPFS"
	authTestPath = "/data/testAuthentication"
)

// Upload describes a stored document.
type Upload struct {
	Address string
	URL     string
	Size    int64
	Pinned  bool
}

// Health reports pinning availability at call time.
type Health struct {
	Pinning       bool      `json:"pinning"`
	Authenticated bool      `json:"authenticated"`
	Gateways      int       `json:"gateways"`
	CheckedAt     time.Time `json:"checkedAt"`
	Error         string    `json:"error,omitempty"`
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
	PinSize  int64  `json:"PinSize"`
}

// Store uploads rendered documents to the content-addressed network and
// retrieves them through public gateways.
type Store struct {
	cfg      config.DocumentsConfig
	pinning  *retryablehttp.Client
	gateways []Gateway
	fetch    fetchFunc
	accept   acceptor
	logg     *logger.Logger
	metrics  *metrics.PipelineMetrics
	now      func() time.Time
}

func NewStore(cfg config.DocumentsConfig, logg *logger.Logger, m *metrics.PipelineMetrics) (*Store, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	gateways := parseGateways(cfg.Gateways)
	if len(gateways) == 0 {
		return nil, errors.New("at least one document gateway is required")
	}

	pinning := retryablehttp.NewClient()
	pinning.RetryMax = 2
	pinning.RetryWaitMin = 500 * time.Millisecond
	pinning.RetryWaitMax = 2 * time.Second
	pinning.Logger = nil
	pinning.HTTPClient.Timeout = cfg.UploadTimeout

	return &Store{
		cfg:      cfg,
		pinning:  pinning,
		gateways: gateways,
		fetch:    httpFetcher(&http.Client{}, cfg.FetchTimeout),
		accept:   acceptor{minSize: cfg.MinSize, strict: cfg.StrictPDF},
		logg:     logg,
		metrics:  m,
		now:      time.Now,
	}, nil
}

// Upload pins data when pinning credentials are configured. Without them a
// deterministic content address is derived locally and nothing is persisted
// off-chain.
func (s *Store) Upload(ctx context.Context, name string, data []byte) (Upload, error) {
	if len(data) == 0 {
		return Upload{}, pkgerrors.New(pkgerrors.CodeUploadFailure, "document is empty")
	}
	if !s.cfg.PinningConfigured() {
		address, err := ContentAddress(data)
		if err != nil {
			return Upload{}, pkgerrors.Wrap(pkgerrors.CodeUploadFailure, err, "derive content address")
		}
		s.logg.Warn(s.logg.WithField(ctx, "document_reference", address), "pinning not configured; document has no persistent off-chain copy")
		return Upload{Address: address, URL: s.gateways[0].URL(address), Size: int64(len(data))}, nil
	}

	pinned, err := s.pin(ctx, name, data)
	if err != nil {
		return Upload{}, pkgerrors.Wrap(pkgerrors.CodeUploadFailure, err, "pin document")
	}
	size := pinned.PinSize
	if size == 0 {
		size = int64(len(data))
	}
	return Upload{Address: pinned.IpfsHash, URL: s.gateways[0].URL(pinned.IpfsHash), Size: size, Pinned: true}, nil
}

func (s *Store) pin(ctx context.Context, name string, data []byte) (pinResponse, error) {
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return pinResponse{}, err
	}
	if _, err := part.Write(data); err != nil {
		return pinResponse{}, err
	}
	meta, _ := json.Marshal(map[string]any{"name": name})
	if err := form.WriteField("pinataMetadata", string(meta)); err != nil {
		return pinResponse{}, err
	}
	if err := form.Close(); err != nil {
		return pinResponse{}, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(pinFilePath), body.Bytes())
	if err != nil {
		return pinResponse{}, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	s.authorize(req.Header)

	resp, err := s.pinning.Do(req)
	if err != nil {
		return pinResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return pinResponse{}, fmt.Errorf("pinning service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return pinResponse{}, fmt.Errorf("decode pin response: %w", err)
	}
	if out.IpfsHash == "" {
		return pinResponse{}, errors.New("pinning service returned no content address")
	}
	return out, nil
}

// Retrieve walks the gateway list until one returns an acceptable document.
func (s *Store) Retrieve(ctx context.Context, address string) (Retrieval, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Retrieval{}, pkgerrors.New(pkgerrors.CodeValidation, "document reference is required")
	}
	out := firstAccepted(ctx, s.gateways, address, s.fetch, s.accept.Accept, s.metrics.IncGatewayAttempt)
	fields := map[string]any{"document_reference": address, "attempts": len(out.Attempts)}
	if out.Found() {
		fields["gateway"] = out.Gateway
		s.logg.Info(s.logg.WithFields(ctx, fields), "document retrieved")
	} else {
		s.logg.Warn(s.logg.WithFields(ctx, fields), "all gateways exhausted; returning redirect url")
	}
	return out, nil
}

// Health tests pinning credentials on every call.
func (s *Store) Health(ctx context.Context) Health {
	h := Health{Pinning: s.cfg.PinningConfigured(), Gateways: len(s.gateways), CheckedAt: s.now()}
	if !h.Pinning {
		return h
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(authTestPath), nil)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	s.authorize(req.Header)
	resp, err := s.pinning.HTTPClient.Do(req.Request)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		h.Error = fmt.Sprintf("authentication returned %d", resp.StatusCode)
		return h
	}
	h.Authenticated = true
	return h
}

func (s *Store) endpoint(path string) string {
	return strings.TrimRight(s.cfg.PinataEndpoint, "/") + path
}

func (s *Store) authorize(h http.Header) {
	h.Set("pinata_api_key", s.cfg.PinataAPIKey)
	h.Set("pinata_secret_api_key", s.cfg.PinataSecretKey)
}
