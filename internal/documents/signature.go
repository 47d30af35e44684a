package documents

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

var pdfMagic = []byte("%PDF")

var (
	errNotPDF   = errors.New("content is not a pdf")
	errTooSmall = errors.New("content below minimum size")
)

// acceptor decides whether fetched bytes are the certificate document.
type acceptor struct {
	minSize int
	strict  bool
}

// Accept rejects HTML interstitials and truncated bodies. In strict mode the
// bytes must also parse as a PDF with at least one page.
func (a acceptor) Accept(data []byte) error {
	if !bytes.HasPrefix(data, pdfMagic) {
		return errNotPDF
	}
	if len(data) <= a.minSize {
		return fmt.Errorf("%w: %d bytes", errTooSmall, len(data))
	}
	if !a.strict {
		return nil
	}
	pages, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return fmt.Errorf("parse pdf: %w", err)
	}
	if pages < 1 {
		return errors.New("pdf has no pages")
	}
	return nil
}
