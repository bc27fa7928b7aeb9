// Package loader extracts plain text from stored attachment files so they
// can be chunked and embedded.
//
// Dispatch is by file extension: PDF text is extracted through the
// pdftotext CLI, DOCX through the document archive's XML, CSV row by row,
// and everything else is read as raw text.
package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrUnreadable indicates a file's text content could not be extracted.
var ErrUnreadable = errors.New("cannot load file")

// imageExtensions are rejected outright; images carry no embeddable text.
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".svg"}

// IsImage reports whether path points at an image file.
func IsImage(path string) bool {
	if path == "" {
		return false
	}
	lower := strings.ToLower(path)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Loader resolves a locally readable file path to its plain-text content.
type Loader struct {
	logger *slog.Logger

	// pdftotext is the binary used for PDF extraction; overridable in tests.
	pdftotext string
}

// New creates a Loader. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger, pdftotext: "pdftotext"}
}

// Load extracts plain text from the file at path.
func (l *Loader) Load(ctx context.Context, path string) (string, error) {
	if IsImage(path) {
		return "", fmt.Errorf("%w: %s is an image", ErrUnreadable, path)
	}

	ext := strings.ToLower(filepath.Ext(path))

	var (
		text string
		err  error
	)
	switch ext {
	case ".pdf":
		text, err = l.loadPDF(ctx, path)
	case ".docx", ".doc":
		text, err = loadDOCX(path)
	case ".csv":
		text, err = loadCSV(path)
	default:
		// .txt, .md and anything else readable as text.
		text, err = loadRaw(path)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}

	l.logger.Debug("loaded file content", "path", path, "ext", ext, "chars", len(text))
	return text, nil
}

// loadPDF shells out to pdftotext, writing the extracted text to stdout.
func (l *Loader) loadPDF(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, l.pdftotext, path, "-")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// loadDOCX reads word/document.xml from the docx archive and concatenates
// its text runs, one line per paragraph.
func loadDOCX(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("opening archive: %w", err)
	}
	defer func() {
		_ = r.Close()
	}()

	var doc *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", errors.New("word/document.xml not found in archive")
	}

	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("opening document.xml: %w", err)
	}
	defer func() {
		_ = rc.Close()
	}()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("reading document.xml: %w", err)
	}

	return extractDOCXText(data)
}

// extractDOCXText walks the WordprocessingML token stream collecting the
// character data of <w:t> runs and emitting a newline per closed <w:p>.
func extractDOCXText(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var sb strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}

	return strings.TrimSpace(sb.String()), nil
}

// loadCSV renders each record as a comma-joined line.
func loadCSV(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- paths come from the attachment store, not user input
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var lines []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing csv: %w", err)
		}
		lines = append(lines, strings.Join(record, ", "))
	}

	return strings.Join(lines, "\n"), nil
}

func loadRaw(path string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- paths come from the attachment store, not user input
	if err != nil {
		return "", err
	}
	return string(data), nil
}
