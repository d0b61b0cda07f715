package documents

import (
	"context"
	"strings"
	"testing"

	"github.com/chatbridge/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDFPlainTextPassThrough(t *testing.T) {
	t.Parallel()

	got, err := PDF{}.ExtractText(context.Background(), []byte("line one\r\n\r\n\r\n\r\nline   two"), "text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "line one\n\nline two", got)
}

func TestPDFRejectsUnknownAndBrokenInput(t *testing.T) {
	t.Parallel()

	_, err := PDF{}.ExtractText(context.Background(), []byte{0x50, 0x4b}, "application/zip")
	assert.ErrorIs(t, err, errs.ErrFormat)

	_, err = PDF{}.ExtractText(context.Background(), []byte("not a pdf at all"), "application/pdf")
	assert.ErrorIs(t, err, errs.ErrFormat)

	_, err = PDF{}.ExtractText(context.Background(), []byte{0xff, 0xfe, 0x00}, "text/plain")
	assert.ErrorIs(t, err, errs.ErrFormat)
}

func TestScannerReadsTextOperators(t *testing.T) {
	t.Parallel()

	raw := "%PDF-1.4\n1 0 obj << /Type /Page >> endobj\nBT /F1 12 Tf (Invoice \\(draft\\)) Tj ET\nBT (Total: 42 EUR) Tj ET\n"
	got, err := Scanner{}.ExtractText(context.Background(), []byte(raw), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "Invoice (draft) Total: 42 EUR", got)
}

func TestScannerFallsBackToPrintableRuns(t *testing.T) {
	t.Parallel()

	raw := []byte("%PDF-1.7\x00\x01Quarterly report\x02\x03ab\x04endobj\x05")
	got, err := Scanner{MinRun: 4}.ExtractText(context.Background(), raw, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "Quarterly report", got)
}

func TestClipKeepsRunes(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("é", maxText)
	got := clip(s)
	assert.LessOrEqual(t, len(got), maxText)
	assert.True(t, strings.HasSuffix(got, "é"))
}
