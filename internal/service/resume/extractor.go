package resume

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DefaultMaxBytes caps the size of an uploaded document.
const DefaultMaxBytes int64 = 10 << 20

// ErrEmptyDocument is returned for zero-length uploads.
var ErrEmptyDocument = errors.New("document is empty")

// ExtractionError reports a document that could not be parsed.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return e.Err.Error()
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extractor pulls plain text out of a document.
type Extractor interface {
	Extract(r io.ReaderAt, size int64) (string, error)
}

// PDFExtractor extracts text from PDF documents page by page.
type PDFExtractor struct{}

// NewPDFExtractor returns a PDF extractor.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// Extract concatenates the plain text of every page in order. Pages without
// content contribute nothing.
func (PDFExtractor) Extract(r io.ReaderAt, size int64) (text string, err error) {
	if size <= 0 {
		return "", &ExtractionError{Err: ErrEmptyDocument}
	}

	// the parser panics on some malformed inputs
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = &ExtractionError{Err: fmt.Errorf("malformed pdf: %v", rec)}
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", &ExtractionError{Err: fmt.Errorf("open pdf: %w", err)}
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", &ExtractionError{Err: fmt.Errorf("read page %d: %w", i, err)}
		}
		b.WriteString(content)
	}
	return b.String(), nil
}

// ExtractBytes is a convenience wrapper for in-memory documents.
func ExtractBytes(e Extractor, data []byte) (string, error) {
	return e.Extract(bytes.NewReader(data), int64(len(data)))
}
