// Package pdftext downloads attachments and reads their PDF text layer.
package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrNoTextLayer is returned for PDFs without extractable text, typically scans.
	ErrNoTextLayer = errors.New("pdf has no text layer")
	// ErrNoSource is returned when an attachment has neither a URL nor supplied text.
	ErrNoSource = errors.New("attachment has no url or text")
)

// Downloader fetches raw attachment bytes.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Attachment references the text source of a document.
type Attachment struct {
	URL string
	// SuppliedText short-circuits download and parsing when set.
	SuppliedText string
}

// Result is the normalized text of an attachment.
type Result struct {
	Text     string
	Raw      []byte
	Pages    int
	Supplied bool
	Duration time.Duration
}

// Extractor turns attachments into normalized text.
type Extractor struct {
	downloader Downloader
	logger     *zap.Logger
}

// New returns an Extractor.
func New(downloader Downloader, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{downloader: downloader, logger: logger.Named("pdftext")}
}

// Text returns the attachment text, reusing supplied text when present.
func (e *Extractor) Text(ctx context.Context, att Attachment) (Result, error) {
	start := time.Now()
	if strings.TrimSpace(att.SuppliedText) != "" {
		return Result{Text: Normalize(att.SuppliedText), Supplied: true, Duration: time.Since(start)}, nil
	}
	if att.URL == "" {
		return Result{}, ErrNoSource
	}
	if e.downloader == nil {
		return Result{}, fmt.Errorf("download %s: no downloader configured", att.URL)
	}

	data, err := e.downloader.Download(ctx, att.URL)
	if err != nil {
		return Result{}, fmt.Errorf("download attachment: %w", err)
	}
	text, pages, err := FromPDF(data)
	if err != nil {
		return Result{Raw: data, Pages: pages}, err
	}
	e.logger.Debug("attachment text extracted",
		zap.String("url", att.URL),
		zap.Int("bytes", len(data)),
		zap.Int("pages", pages),
		zap.Int("chars", len(text)),
	)
	return Result{Text: text, Raw: data, Pages: pages, Duration: time.Since(start)}, nil
}

// FromPDF extracts the normalized text layer of a PDF and its page count.
func FromPDF(data []byte) (string, int, error) {
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return "", 0, fmt.Errorf("read pdf: %w", err)
	}

	var (
		b       strings.Builder
		encoded int
	)
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
		if err != nil || r == nil {
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil || len(content) == 0 {
			continue
		}
		page := contentText(content)
		if glyphEncoded(page) {
			encoded++
			continue
		}
		if page != "" {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(page)
		}
	}

	text := Normalize(b.String())
	if text == "" {
		if encoded > 0 {
			return "", ctx.PageCount, fmt.Errorf("%w: %d pages show unmapped glyph ids", ErrNoTextLayer, encoded)
		}
		return "", ctx.PageCount, ErrNoTextLayer
	}
	return text, ctx.PageCount, nil
}

// maxControlRatio bounds the share of control characters in decoded page text.
const maxControlRatio = 0.2

// glyphEncoded reports whether page text is made of two-byte glyph ids (CID fonts
// such as Identity-H) rather than characters. Those operands need the font's
// ToUnicode map, which is not applied, so such pages carry no usable text.
func glyphEncoded(page string) bool {
	var total, ctrl int
	for _, r := range page {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsControl(r) {
			ctrl++
		}
	}
	return total > 0 && float64(ctrl)/float64(total) > maxControlRatio
}

// Normalize converts text to NFC, drops control characters and collapses whitespace.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsControl(r) || r == unicode.ReplacementChar:
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
