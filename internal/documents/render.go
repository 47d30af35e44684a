package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/skip2/go-qrcode"

	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
)

const qrImageSize = 256

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// RenderInput carries the printed certificate content.
type RenderInput struct {
	CertificateID   string
	SubjectName     string
	GuardianName    string
	District        string
	State           string
	CourseName      string
	InstituteName   string
	IssuedAt        time.Time
	Fingerprint     string
	ScanPayload     string
	VerificationURL string
}

// Rendered is a document written to the temp directory.
type Rendered struct {
	Data []byte
	Path string
}

// Renderer writes landscape A4 certificates with an embedded QR code.
type Renderer struct {
	dir string
}

func NewRenderer(dir string) (*Renderer, error) {
	if dir == "" {
		return nil, errors.New("temp dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir %q: %w", dir, err)
	}
	return &Renderer{dir: dir}, nil
}

// Dir is the directory rendered files are written to.
func (r *Renderer) Dir() string {
	return r.dir
}

// Render builds the PDF and stores it as <id>.pdf.
func (r *Renderer) Render(ctx context.Context, in RenderInput) (Rendered, error) {
	if err := ctx.Err(); err != nil {
		return Rendered{}, pkgerrors.Wrap(pkgerrors.CodeRenderingFailure, err, "render canceled")
	}
	if in.CertificateID == "" {
		return Rendered{}, pkgerrors.New(pkgerrors.CodeRenderingFailure, "certificate id is required")
	}

	qr, err := qrcode.Encode(in.ScanPayload, qrcode.Medium, qrImageSize)
	if err != nil {
		return Rendered{}, pkgerrors.Wrap(pkgerrors.CodeRenderingFailure, err, "encode qr code")
	}

	data, err := buildPDF(in, qr)
	if err != nil {
		return Rendered{}, pkgerrors.Wrap(pkgerrors.CodeRenderingFailure, err, "build pdf")
	}

	path, err := r.WriteTemp(in.CertificateID+".pdf", data)
	if err != nil {
		return Rendered{}, pkgerrors.Wrap(pkgerrors.CodeRenderingFailure, err, "write pdf")
	}
	return Rendered{Data: data, Path: path}, nil
}

// WriteTemp stores data under the temp directory using a sanitized name.
func (r *Renderer) WriteTemp(name string, data []byte) (string, error) {
	safe := unsafeFileChars.ReplaceAllString(filepath.Base(name), "_")
	path := filepath.Join(r.dir, safe)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Remove deletes a rendered file. A missing file is not an error.
func (r *Renderer) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func buildPDF(in RenderInput, qr []byte) ([]byte, error) {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Certificate "+in.CertificateID, true)
	pdf.SetAuthor(in.InstituteName, true)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	width, height := pdf.GetPageSize()

	pdf.SetDrawColor(30, 64, 124)
	pdf.SetLineWidth(2)
	pdf.Rect(8, 8, width-16, height-16, "D")
	pdf.SetLineWidth(0.5)
	pdf.Rect(12, 12, width-24, height-24, "D")

	centered := func(y float64, size float64, style, text string) {
		pdf.SetFont("Helvetica", style, size)
		pdf.SetXY(15, y)
		pdf.CellFormat(width-30, size*0.5, tr(text), "", 1, "C", false, 0, "")
	}

	pdf.SetTextColor(30, 64, 124)
	centered(24, 26, "B", in.InstituteName)
	pdf.SetTextColor(60, 60, 60)
	centered(42, 20, "", "Certificate of Completion")
	centered(60, 12, "I", "This is to certify that")
	pdf.SetTextColor(0, 0, 0)
	centered(72, 28, "B", in.SubjectName)
	pdf.SetTextColor(60, 60, 60)
	centered(90, 12, "", fmt.Sprintf("child of %s, of %s, %s", in.GuardianName, in.District, in.State))
	centered(102, 12, "I", "has successfully completed the course")
	pdf.SetTextColor(30, 64, 124)
	centered(114, 20, "B", in.CourseName)
	pdf.SetTextColor(60, 60, 60)
	centered(130, 11, "", "Issued on "+in.IssuedAt.UTC().Format("02 January 2006"))

	pdf.SetFont("Courier", "", 8)
	pdf.SetXY(20, height-38)
	pdf.CellFormat(180, 5, "Certificate ID: "+in.CertificateID, "", 1, "L", false, 0, "")
	pdf.SetX(20)
	pdf.CellFormat(180, 5, "Fingerprint: "+in.Fingerprint, "", 1, "L", false, 0, "")
	if in.VerificationURL != "" {
		pdf.SetX(20)
		pdf.CellFormat(180, 5, "Verify: "+in.VerificationURL, "", 1, "L", false, 0, in.VerificationURL)
	}

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("scan", opts, bytes.NewReader(qr))
	pdf.ImageOptions("scan", width-60, height-62, 40, 40, false, opts, 0, "")

	if err := pdf.Error(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
