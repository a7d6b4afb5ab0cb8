package transcript

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"

	"TranscriptPipeline/internal/domain"
	"TranscriptPipeline/internal/ports"
)

var blankLines = regexp.MustCompile(`\n{3,}`)

// Reader extracts plain text from transcript files, dispatching on
// extension: markdown/plain text as-is, PDF via in-process text
// extraction, HTML stripped down to its text content.
type Reader struct {
	extensions map[string]struct{}
}

var _ ports.TranscriptReader = (*Reader)(nil)

// NewReader accepts the allowed extension set (with leading dots).
func NewReader(extensions []string) *Reader {
	set := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		set[strings.ToLower(ext)] = struct{}{}
	}
	return &Reader{extensions: set}
}

// Supports reports whether the file's extension is in the allowed set.
func (r *Reader) Supports(path string) bool {
	_, ok := r.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Read returns the transcript's plain text. Filesystem errors are
// transient (the file may still be mid-copy); format errors are not.
func (r *Reader) Read(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return readPDF(path)
	case ".html", ".htm":
		return readHTML(path)
	default:
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", domain.Transient(fmt.Errorf("read transcript %s: %w", path, err))
		}
		return string(raw), nil
	}
}

func readPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	content, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text %s: %w", path, err)
	}

	raw, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("read pdf text %s: %w", path, err)
	}
	return string(raw), nil
}

func readHTML(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", domain.Transient(fmt.Errorf("open transcript %s: %w", path, err))
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return "", fmt.Errorf("parse html %s: %w", path, err)
	}

	doc.Find("script, style").Remove()

	var parts []string
	doc.Find("body *").Each(func(_ int, sel *goquery.Selection) {
		if sel.Children().Length() > 0 {
			return
		}
		if text := strings.TrimSpace(sel.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		return strings.TrimSpace(doc.Text()), nil
	}

	text := strings.Join(parts, "\n")
	return blankLines.ReplaceAllString(text, "\n\n"), nil
}
