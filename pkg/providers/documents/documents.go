// Package documents extracts text from document attachments.
package documents

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/chatbridge/pkg/domains/media"
	"github.com/chatbridge/pkg/errs"
	"github.com/ledongthuc/pdf"
)

// maxText caps what is handed to completion context.
const maxText = 20000

// PDF reads the text layer of PDFs and passes text/* through.
type PDF struct{}

func (PDF) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	switch mediaType(mimeType) {
	case "application/pdf":
		return readPDF(data)
	case "":
		return "", fmt.Errorf("missing mime type: %w", errs.ErrFormat)
	}
	if strings.HasPrefix(mediaType(mimeType), "text/") {
		return plainText(data)
	}
	return "", fmt.Errorf("%s: %w", mimeType, errs.ErrFormat)
}

func readPDF(data []byte) (text string, err error) {
	// the parser panics on some malformed cross reference tables
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("pdf parser: %v: %w", r, errs.ErrFormat)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w: %w", errs.ErrFormat, err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	b, err := io.ReadAll(io.LimitReader(plain, maxText*4))
	if err != nil {
		return "", err
	}
	return clip(normalize(string(b))), nil
}

func plainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("text is not utf-8: %w", errs.ErrFormat)
	}
	return clip(normalize(string(data))), nil
}

// Scanner recovers text from PDFs whose text layer the parser cannot read,
// by collecting string operands of text-showing operators and falling back
// to runs of printable characters.
type Scanner struct {
	// MinRun is the shortest printable run kept.
	MinRun int
}

var showText = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)\s*T[jJ]`)

func (s Scanner) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	if strings.HasPrefix(mediaType(mimeType), "text/") {
		return plainText(data)
	}

	var parts []string
	for _, m := range showText.FindAllSubmatch(data, -1) {
		if t := strings.TrimSpace(unescape(string(m[1]))); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) > 0 {
		return clip(normalize(strings.Join(parts, " "))), nil
	}
	return clip(normalize(strings.Join(s.printableRuns(data), " "))), nil
}

func (s Scanner) printableRuns(data []byte) []string {
	minRun := s.MinRun
	if minRun <= 0 {
		minRun = 4
	}
	var runs []string
	var cur []byte
	flush := func() {
		if len(cur) >= minRun && !pdfSyntax(cur) {
			runs = append(runs, string(cur))
		}
		cur = cur[:0]
	}
	for _, b := range data {
		if b >= 0x20 && b < 0x7f {
			cur = append(cur, b)
			continue
		}
		flush()
	}
	flush()
	return runs
}

// pdfSyntax drops object headers and dictionary noise from printable runs.
func pdfSyntax(run []byte) bool {
	s := string(run)
	return strings.HasPrefix(s, "%PDF") || strings.Contains(s, " obj") || strings.Contains(s, "endobj") ||
		strings.Contains(s, "<<") || strings.Contains(s, "stream") || strings.HasPrefix(s, "/")
}

var escapes = strings.NewReplacer(`\(`, "(", `\)`, ")", `\\`, `\`, `\n`, "\n", `\r`, "", `\t`, " ")

func unescape(s string) string {
	return escapes.Replace(s)
}

var spaces = regexp.MustCompile(`[ \t]+`)
var blankLines = regexp.MustCompile(`\n{3,}`)

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(blankLines.ReplaceAllString(s, "\n\n"))
}

func clip(s string) string {
	if len(s) <= maxText {
		return s
	}
	cut := maxText
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func mediaType(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return mt
}

var (
	_ media.DocumentText = PDF{}
	_ media.DocumentText = Scanner{}
)
