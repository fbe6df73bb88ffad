package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"docchat-backend/internal/shared/storage/object/local"
)

func buildDocx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	xmlBody := `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`
	if _, err := w.Write([]byte(xmlBody)); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestTextDocxParagraphs(t *testing.T) {
	data := buildDocx(t, `<w:p><w:r><w:t>First line</w:t></w:r></w:p><w:p><w:r><w:t>Second</w:t></w:r></w:p>`)

	got, err := Text(context.Background(), data, mimeDOCX, "a.docx")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got != "First line\nSecond" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestTextZipDocxNormalizes(t *testing.T) {
	data := buildDocx(t, `<w:p><w:r><w:t>hello</w:t></w:r></w:p>`)
	if _, err := Text(context.Background(), data, "application/zip", "test.docx"); err != nil {
		t.Fatalf("expected docx to extract from zip mime, got error: %v", err)
	}
}

func TestTextRealZipRejected(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("notes.txt")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	_, err = Text(context.Background(), buf.Bytes(), "application/zip", "notes.zip")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestTextPlainFamily(t *testing.T) {
	got, err := Text(context.Background(), []byte("\xef\xbb\xbfa,b\r\n1,2"), "text/csv", "x.csv")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got != "a,b\n1,2" {
		t.Fatalf("unexpected text %q", got)
	}

	if _, err := Text(context.Background(), []byte{0xff, 0xfe, 0x00}, "text/plain", "x.txt"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for invalid utf-8, got %v", err)
	}
}

func TestTextHTMLStripsMarkup(t *testing.T) {
	html := `<html><head><style>p{color:red}</style><script>alert(1)</script></head><body><p>Hello <b>world</b></p></body></html>`
	got, err := Text(context.Background(), []byte(html), "text/html", "a.html")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got != "Hello world" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestTextCorruptPDF(t *testing.T) {
	_, err := Text(context.Background(), []byte("%PDF-1.4 garbage"), mimePDF, "a.pdf")
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestTextUnsupportedDoc(t *testing.T) {
	_, err := Text(context.Background(), []byte{0xd0, 0xcf, 0x11, 0xe0}, "application/msword", "a.doc")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestFromStoreSavesDerivedCopy(t *testing.T) {
	store := local.New(t.TempDir())
	ctx := context.Background()
	obj, err := store.Save(ctx, "t1", "notes.txt", strings.NewReader("stored text"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := FromStore(ctx, store, obj.Key, "text/plain", "notes.txt")
	if err != nil {
		t.Fatalf("from store: %v", err)
	}
	if got != "stored text" {
		t.Fatalf("unexpected text %q", got)
	}

	rc, err := store.Open(ctx, DerivedKey(obj.Key))
	if err != nil {
		t.Fatalf("open derived: %v", err)
	}
	defer rc.Close()
	derived, _ := io.ReadAll(rc)
	if string(derived) != "stored text" {
		t.Fatalf("unexpected derived copy %q", derived)
	}
}
