package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type downloaderFunc func(ctx context.Context, url string) ([]byte, error)

func (f downloaderFunc) Download(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// buildPDF assembles a one-page PDF around a raw content stream.
func buildPDF(content string) []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.Bytes()
}

func TestContentTextOperators(t *testing.T) {
	t.Parallel()

	stream := `BT
/F1 12 Tf
72 712 Td
(Hoa don \(ban\) 8517.12.00) Tj
T*
[(ao) -300 (kho) 20 (ac)] TJ
T*
<FEFF00E1006F> Tj
(next line) '
% comment (ignored) Tj
ET`
	got := Normalize(contentText([]byte(stream)))
	require.Equal(t, "Hoa don (ban) 8517.12.00 ao khoac áo next line", got)
}

func TestReadLiteralEscapes(t *testing.T) {
	t.Parallel()

	input := "(a\\051b (nested) \\\\ c\\\nd) Tj"
	raw, n := readLiteral([]byte(input))
	require.Equal(t, "a)b (nested) \\ cd", string(raw))
	require.Equal(t, len(input)-len(" Tj"), n)
}

func TestDecodeStringLatin1(t *testing.T) {
	t.Parallel()

	require.Equal(t, "café", decodeString([]byte{'c', 'a', 'f', 0xE9}))
	require.Equal(t, "giày", decodeString([]byte("giày")))
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	messy := "a\u0301o  kho\u0061\u0301c\t\n\x00 da"
	require.Equal(t, "áo khoác da", Normalize(messy))
	require.Empty(t, Normalize(" \n\t "))
}

func TestTextPrefersSuppliedText(t *testing.T) {
	t.Parallel()

	e := New(downloaderFunc(func(context.Context, string) ([]byte, error) {
		t.Fatal("download must not be called")
		return nil, nil
	}), nil)

	res, err := e.Text(context.Background(), Attachment{URL: "https://files.example.org/a.pdf", SuppliedText: "  Hóa   đơn\n"})
	require.NoError(t, err)
	require.True(t, res.Supplied)
	require.Equal(t, "Hóa đơn", res.Text)
	require.Nil(t, res.Raw)
}

func TestTextDownloadsAndParses(t *testing.T) {
	t.Parallel()

	pdf := buildPDF("BT /F1 12 Tf 72 712 Td (Giay da 6403.99) Tj ET")
	e := New(downloaderFunc(func(_ context.Context, url string) ([]byte, error) {
		require.Equal(t, "https://files.example.org/b.pdf", url)
		return pdf, nil
	}), nil)

	res, err := e.Text(context.Background(), Attachment{URL: "https://files.example.org/b.pdf"})
	require.NoError(t, err)
	require.Equal(t, "Giay da 6403.99", res.Text)
	require.Equal(t, 1, res.Pages)
	require.Equal(t, pdf, res.Raw)
	require.False(t, res.Supplied)
}

func TestTextErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("no route to host")
	e := New(downloaderFunc(func(context.Context, string) ([]byte, error) {
		return nil, boom
	}), nil)
	_, err := e.Text(context.Background(), Attachment{URL: "https://files.example.org/c.pdf"})
	require.ErrorIs(t, err, boom)

	_, err = e.Text(context.Background(), Attachment{})
	require.ErrorIs(t, err, ErrNoSource)

	e = New(downloaderFunc(func(context.Context, string) ([]byte, error) {
		return []byte("<html>not a pdf</html>"), nil
	}), nil)
	_, err = e.Text(context.Background(), Attachment{URL: "https://files.example.org/d.pdf"})
	require.Error(t, err)
}

func TestFromPDFWithoutText(t *testing.T) {
	t.Parallel()

	_, pages, err := FromPDF(buildPDF("q 100 0 0 100 0 0 cm Q"))
	require.ErrorIs(t, err, ErrNoTextLayer)
	require.Equal(t, 1, pages)
}

func TestFromPDFRejectsUnmappedGlyphIDs(t *testing.T) {
	t.Parallel()

	// Identity-H operands are glyph ids; read as bytes they are mostly NULs.
	_, pages, err := FromPDF(buildPDF("BT /F1 12 Tf 72 712 Td <002F0036004400510058> Tj ET"))
	require.ErrorIs(t, err, ErrNoTextLayer)
	require.ErrorContains(t, err, "1 pages show unmapped glyph ids")
	require.Equal(t, 1, pages)
}

func TestGlyphEncoded(t *testing.T) {
	t.Parallel()

	require.True(t, glyphEncoded("\x00/\x006\x00D"))
	require.False(t, glyphEncoded("Hóa đơn 8517.12.00"))
	require.False(t, glyphEncoded("  \n "))
	require.False(t, glyphEncoded(""))
}
