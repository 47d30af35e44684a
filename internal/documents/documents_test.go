package documents

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/certledger-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func fakePDF(size int) []byte {
	return append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), size)...)
}

func TestContentAddressIsDeterministic(t *testing.T) {
	a, err := ContentAddress([]byte("hello"))
	require.NoError(t, err)
	b, err := ContentAddress([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.True(t, strings.HasPrefix(a, "bafkrei"), "raw cidv1 base32 prefix, got %s", a)
	require.True(t, ValidAddress(a))
	require.False(t, ValidAddress("not-a-cid"))

	c, err := ContentAddress([]byte("hello!"))
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestAcceptorRejectsInterstitialsAndShortBodies(t *testing.T) {
	acc := acceptor{minSize: 1000}
	require.ErrorIs(t, acc.Accept([]byte("<html>rate limited</html>")), errNotPDF)
	require.ErrorIs(t, acc.Accept(fakePDF(10)), errTooSmall)
	require.NoError(t, acc.Accept(fakePDF(2000)))

	strict := acceptor{minSize: 10, strict: true}
	require.Error(t, strict.Accept(fakePDF(2000)))
}

func TestGatewayParsing(t *testing.T) {
	gws := parseGateways(nil)
	require.Len(t, gws, len(DefaultGateways))
	require.Equal(t, "https://ipfs.io/ipfs/bafy", gws[0].URL("bafy"))
	require.Equal(t, "https://bafy.ipfs.dweb.link", gws[3].URL("bafy"))
	require.Equal(t, "ipfs.dweb.link", gws[3].Name())

	custom := parseGateways([]string{" https://gw.example/ipfs/ ", ""})
	require.Len(t, custom, 1)
	require.Equal(t, "https://gw.example/ipfs/abc", custom[0].URL("abc"))
}

func TestFirstAcceptedFallsThroughHTMLGateway(t *testing.T) {
	var htmlHits, pdfHits, unusedHits int32
	html := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&htmlHits, 1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>Please wait...</body></html>"))
	}))
	defer html.Close()
	pdf := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&pdfHits, 1)
		require.True(t, strings.HasSuffix(r.URL.Path, "/ipfs/bafytest"))
		_, _ = w.Write(fakePDF(1500))
	}))
	defer pdf.Close()
	unused := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&unusedHits, 1)
	}))
	defer unused.Close()

	store, err := NewStore(config.DocumentsConfig{
		Gateways:     []string{html.URL + "/ipfs/{cid}", pdf.URL + "/ipfs/{cid}", unused.URL + "/ipfs/{cid}"},
		FetchTimeout: time.Second,
		MinSize:      1000,
	}, testLogger(), nil)
	require.NoError(t, err)

	out, err := store.Retrieve(context.Background(), "bafytest")
	require.NoError(t, err)
	require.True(t, out.Found())
	require.Equal(t, pdf.URL+"/ipfs/bafytest", out.URL)
	require.Len(t, out.Attempts, 2)
	require.NotEmpty(t, out.Attempts[0].Error)
	require.Equal(t, int32(1), atomic.LoadInt32(&htmlHits))
	require.Equal(t, int32(1), atomic.LoadInt32(&pdfHits))
	require.Zero(t, atomic.LoadInt32(&unusedHits))
}

func TestFirstAcceptedExhaustedReturnsFirstURL(t *testing.T) {
	gws := parseGateways([]string{"https://a.example/ipfs/{cid}", "https://b.example/ipfs/{cid}"})
	fetch := func(context.Context, Gateway, string) ([]byte, error) {
		return nil, errors.New("timeout")
	}
	var observed []string
	out := firstAccepted(context.Background(), gws, "bafyx", fetch, acceptor{}.Accept, func(gw, result string) {
		observed = append(observed, gw+":"+result)
	})
	require.False(t, out.Found())
	require.Equal(t, "https://a.example/ipfs/bafyx", out.URL)
	require.Len(t, out.Attempts, 2)
	require.Equal(t, []string{"a.example:rejected", "b.example:rejected"}, observed)
}

func TestUploadWithoutPinningDerivesAddress(t *testing.T) {
	store, err := NewStore(config.DocumentsConfig{}, testLogger(), nil)
	require.NoError(t, err)

	data := fakePDF(1200)
	up, err := store.Upload(context.Background(), "DEIT20260001.pdf", data)
	require.NoError(t, err)
	want, _ := ContentAddress(data)
	require.Equal(t, want, up.Address)
	require.False(t, up.Pinned)
	require.Equal(t, int64(len(data)), up.Size)
	require.Equal(t, "https://ipfs.io/ipfs/"+want, up.URL)
}

func TestUploadPinsWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pinFilePath, r.URL.Path)
		require.Equal(t, "key", r.Header.Get("pinata_api_key"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, "DEIT20260001.pdf", header.Filename)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"IpfsHash":"QmPinned","PinSize":1234}`))
	}))
	defer srv.Close()

	store, err := NewStore(config.DocumentsConfig{
		PinataAPIKey:    "key",
		PinataSecretKey: "secret",
		PinataEndpoint:  srv.URL,
		UploadTimeout:   time.Second,
	}, testLogger(), nil)
	require.NoError(t, err)

	up, err := store.Upload(context.Background(), "DEIT20260001.pdf", fakePDF(1200))
	require.NoError(t, err)
	require.Equal(t, "QmPinned", up.Address)
	require.True(t, up.Pinned)
	require.Equal(t, int64(1234), up.Size)
}

func TestUploadPinningFailureIsUploadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store, err := NewStore(config.DocumentsConfig{
		PinataAPIKey:    "key",
		PinataSecretKey: "bad",
		PinataEndpoint:  srv.URL,
		UploadTimeout:   time.Second,
	}, testLogger(), nil)
	require.NoError(t, err)

	_, err = store.Upload(context.Background(), "x.pdf", fakePDF(1200))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUploadFailure), "got %v", err)
}

func TestHealthChecksPinningPerCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n > 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"message":"Congratulations!"}`))
	}))
	defer srv.Close()

	store, err := NewStore(config.DocumentsConfig{PinataAPIKey: "k", PinataSecretKey: "s", PinataEndpoint: srv.URL}, testLogger(), nil)
	require.NoError(t, err)

	require.True(t, store.Health(context.Background()).Authenticated)
	second := store.Health(context.Background())
	require.False(t, second.Authenticated)
	require.NotEmpty(t, second.Error)

	unconfigured, err := NewStore(config.DocumentsConfig{}, testLogger(), nil)
	require.NoError(t, err)
	require.False(t, unconfigured.Health(context.Background()).Pinning)
}

func TestRendererWritesPDF(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRenderer(filepath.Join(dir, "temp"))
	require.NoError(t, err)

	out, err := r.Render(context.Background(), RenderInput{
		CertificateID:   "DEIT20260001",
		SubjectName:     "Asha Rao",
		GuardianName:    "Meera Rao",
		District:        "Pune",
		State:           "Maharashtra",
		CourseName:      "Data Science Essentials",
		InstituteName:   "Digital Excellence Institute of Technology",
		IssuedAt:        time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC),
		Fingerprint:     strings.Repeat("a", 64),
		ScanPayload:     "header.payload.signature",
		VerificationURL: "http://localhost:3000/verify/DEIT20260001",
	})
	require.NoError(t, err)
	require.NoError(t, acceptor{minSize: 1000}.Accept(out.Data))
	require.Equal(t, filepath.Join(dir, "temp", "DEIT20260001.pdf"), out.Path)

	onDisk, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	require.Equal(t, out.Data, onDisk)

	require.NoError(t, r.Remove(out.Path))
	require.NoError(t, r.Remove(out.Path), "removing a missing file is not an error")
}

func TestRenderRequiresID(t *testing.T) {
	r, err := NewRenderer(t.TempDir())
	require.NoError(t, err)
	_, err = r.Render(context.Background(), RenderInput{ScanPayload: "x"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeRenderingFailure))
}

func TestWriteTempSanitizesName(t *testing.T) {
	r, err := NewRenderer(t.TempDir())
	require.NoError(t, err)
	path, err := r.WriteTemp("../../etc/pass wd.pdf", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(r.Dir(), "pass_wd.pdf"), path)
}
