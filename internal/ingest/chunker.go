package ingest

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker splits text into pieces of at most Size runes, preferring
// paragraph, line, sentence and word boundaries in that order. Adjacent
// chunks share up to Overlap runes. Output depends only on the input.
type Chunker struct {
	Size    int
	Overlap int
}

func (c Chunker) limits() (size, overlap int) {
	size, overlap = c.Size, c.Overlap
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return size, overlap
}

// Split returns the trimmed, non-empty chunks of text.
func (c Chunker) Split(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}
	size, overlap := c.limits()
	raw := splitRecursive(text, separators, size, overlap)

	out := make([]string, 0, len(raw))
	for _, chunk := range raw {
		if trimmed := strings.TrimSpace(chunk); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func splitRecursive(text string, seps []string, size, overlap int) []string {
	sep, rest := seps[len(seps)-1], []string(nil)
	for i, s := range seps {
		if s == "" || strings.Contains(text, s) {
			sep, rest = s, seps[i+1:]
			break
		}
	}
	if sep == "" {
		return splitRunes(text, size, overlap)
	}

	var out, fitting []string
	for _, piece := range splitKeep(text, sep) {
		if utf8.RuneCountInString(piece) <= size {
			fitting = append(fitting, piece)
			continue
		}
		if len(fitting) > 0 {
			out = append(out, merge(fitting, size, overlap)...)
			fitting = nil
		}
		out = append(out, splitRecursive(piece, rest, size, overlap)...)
	}
	if len(fitting) > 0 {
		out = append(out, merge(fitting, size, overlap)...)
	}
	return out
}

// splitKeep splits on sep and leaves sep attached to the end of each piece,
// so joining the pieces restores the text.
func splitKeep(text, sep string) []string {
	parts := strings.SplitAfter(text, sep)
	if n := len(parts); n > 0 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	return parts
}

// merge packs small pieces into chunks of at most size runes, carrying the
// tail of each chunk (up to overlap runes) into the next one.
func merge(pieces []string, size, overlap int) []string {
	var out, window []string
	total := 0
	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if total+n > size && len(window) > 0 {
			out = append(out, strings.Join(window, ""))
			for len(window) > 0 && (total > overlap || total+n > size) {
				total -= utf8.RuneCountInString(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		total += n
	}
	if len(window) > 0 {
		out = append(out, strings.Join(window, ""))
	}
	return out
}

func splitRunes(text string, size, overlap int) []string {
	runes := []rune(text)
	step := size - overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}
