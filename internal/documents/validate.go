package documents

import (
	"archive/zip"
	"bytes"
	"path/filepath"
	"strings"
)

const (
	maxExpandedBytes = 100 << 20
	maxZipRatio      = 100
	scanLimit        = 10 << 20
)

// allowedTypes maps accepted extensions to the content type stored for them.
var allowedTypes = map[string]string{
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".doc":  "application/msword",
	".csv":  "text/csv",
	".json": "application/json",
	".py":   "text/x-python",
	".js":   "text/javascript",
	".jsx":  "text/jsx",
	".ts":   "text/typescript",
	".tsx":  "text/tsx",
	".html": "text/html",
	".css":  "text/css",
}

var executableSignatures = []struct {
	magic []byte
	desc  string
}{
	{[]byte("MZ"), "Windows executable"},
	{[]byte("\x7fELF"), "Linux executable"},
	{[]byte("\xca\xfe\xba\xbe"), "Mach-O executable"},
	{[]byte("\xcf\xfa\xed\xfe"), "Mach-O executable"},
}

var pdfActiveMarkers = [][]byte{
	[]byte("/JavaScript"),
	[]byte("/JS"),
	[]byte("/Launch"),
	[]byte("/SubmitForm"),
	[]byte("/ImportData"),
	[]byte("/GoToR"),
	[]byte("/GoToE"),
	[]byte("/OpenAction"),
	[]byte("/AA"),
}

// AllowedExtensions lists the accepted file extensions.
func AllowedExtensions() []string {
	out := make([]string, 0, len(allowedTypes))
	for ext := range allowedTypes {
		out = append(out, ext)
	}
	return out
}

// ContentTypeFor returns the stored content type for fileName's extension.
func ContentTypeFor(fileName string) (string, bool) {
	ct, ok := allowedTypes[strings.ToLower(filepath.Ext(fileName))]
	return ct, ok
}

// Validate checks an upload's bytes against the acceptance rules and returns
// the content type to record.
func Validate(fileName string, data []byte, maxBytes int64) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	contentType, ok := allowedTypes[ext]
	if !ok {
		return "", invalid("file type %q not allowed", ext)
	}
	if len(data) == 0 {
		return "", invalid("file is empty")
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", invalid("file size exceeds maximum of %d bytes", maxBytes)
	}

	for _, sig := range executableSignatures {
		if bytes.HasPrefix(data, sig.magic) {
			return "", invalid("file contains executable code signature: %s", sig.desc)
		}
	}
	isZip := bytes.HasPrefix(data, []byte("PK\x03\x04"))
	if isZip && ext != ".docx" {
		return "", invalid("file contains ZIP archive signature but has wrong extension")
	}

	switch ext {
	case ".docx":
		if err := checkZipBomb(data); err != nil {
			return "", err
		}
	case ".pdf":
		if err := scanPDF(data); err != nil {
			return "", err
		}
	}
	return contentType, nil
}

func checkZipBomb(data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return invalid("invalid DOCX file (not a valid ZIP archive)")
	}
	var total uint64
	for _, f := range zr.File {
		total += f.UncompressedSize64
	}
	if total > maxExpandedBytes {
		return invalid("compressed file expands to %d bytes, over the %d byte limit", total, maxExpandedBytes)
	}
	if ratio := float64(total) / float64(len(data)); ratio > maxZipRatio {
		return invalid("suspicious compression ratio %.1f:1", ratio)
	}
	return nil
}

func scanPDF(data []byte) error {
	head := data[:min(len(data), 1024)]
	if !bytes.Contains(head, []byte("%PDF-")) {
		return invalid("invalid PDF file")
	}
	body := data[:min(len(data), scanLimit)]
	for _, marker := range pdfActiveMarkers {
		if containsName(body, marker) {
			return invalid("PDF contains active content: %s", marker)
		}
	}
	return nil
}

// containsName finds a PDF name token, so /JS does not match /JSON.
func containsName(data, name []byte) bool {
	for i := 0; ; {
		j := bytes.Index(data[i:], name)
		if j < 0 {
			return false
		}
		end := i + j + len(name)
		if end >= len(data) || !isNameChar(data[end]) {
			return true
		}
		i = end
	}
}

func isNameChar(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '#' || b == '_' || b == '-' || b == '.':
		return true
	}
	return false
}
