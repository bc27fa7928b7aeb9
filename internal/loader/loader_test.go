package loader

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/qaz741wsd856/blinko/internal/log"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestIsImage(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"photo.jpg", true},
		{"photo.JPEG", true},
		{"diagram.png", true},
		{"anim.gif", true},
		{"icon.svg", true},
		{"doc.pdf", false},
		{"notes.txt", false},
		{"", false},
		{"archive.png.zip", false},
	}
	for _, tt := range tests {
		if got := IsImage(tt.path); got != tt.want {
			t.Errorf("IsImage(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestLoadRejectsImages(t *testing.T) {
	l := New(log.NewNop())

	_, err := l.Load(context.Background(), "/blobs/photo.png")
	if !errors.Is(err, ErrUnreadable) {
		t.Errorf("err = %v, want ErrUnreadable", err)
	}
}

func TestLoadPlainText(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "note.txt", "plain text body")

	l := New(log.NewNop())
	got, err := l.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != "plain text body" {
		t.Errorf("got %q", got)
	}
}

func TestLoadMarkdownAsRaw(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "readme.md", "# Title\n\nbody")

	l := New(log.NewNop())
	got, err := l.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != "# Title\n\nbody" {
		t.Errorf("markdown must pass through unmodified, got %q", got)
	}
}

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data.csv", "name,age\nalice,30\nbob,25\n")

	l := New(log.NewNop())
	got, err := l.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := "name, age\nalice, 30\nbob, 25"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLoadCSVRaggedRows(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "ragged.csv", "a,b,c\nd\ne,f\n")

	l := New(log.NewNop())
	got, err := l.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("rows of differing width must parse: %v", err)
	}
	if got != "a, b, c\nd\ne, f" {
		t.Errorf("got %q", got)
	}
}

func TestLoadDOCX(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.docx")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating docx: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("creating entry: %v", err)
	}
	const documentXML = `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatalf("writing entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing file: %v", err)
	}

	l := New(log.NewNop())
	got, err := l.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := "First paragraph.\nSecond paragraph."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLoadDOCXWithoutDocumentXML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.docx")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating docx: %v", err)
	}
	zw := zip.NewWriter(f)
	if _, err := zw.Create("something/else.xml"); err != nil {
		t.Fatalf("creating entry: %v", err)
	}
	_ = zw.Close()
	_ = f.Close()

	l := New(log.NewNop())
	_, err = l.Load(context.Background(), path)
	if !errors.Is(err, ErrUnreadable) {
		t.Errorf("err = %v, want ErrUnreadable", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	l := New(log.NewNop())

	_, err := l.Load(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
	if !errors.Is(err, ErrUnreadable) {
		t.Errorf("err = %v, want ErrUnreadable", err)
	}
}

func TestLoadPDFMissingBinary(t *testing.T) {
	l := New(log.NewNop())
	l.pdftotext = "definitely-not-a-real-binary"

	dir := t.TempDir()
	path := writeFile(t, dir, "doc.pdf", "%PDF-1.4 fake")

	_, err := l.Load(context.Background(), path)
	if !errors.Is(err, ErrUnreadable) {
		t.Errorf("err = %v, want ErrUnreadable", err)
	}
}

func TestExtractDOCXText(t *testing.T) {
	const doc = `<w:document xmlns:w="x"><w:body>` +
		`<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> world</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Bye</w:t></w:r></w:p>` +
		`</w:body></w:document>`

	got, err := extractDOCXText([]byte(doc))
	if err != nil {
		t.Fatalf("extractDOCXText: %v", err)
	}
	if got != "Hello world\nBye" {
		t.Errorf("got %q", got)
	}
}
