package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestChunkerEmptyText(t *testing.T) {
	require.Empty(t, Chunker{}.Split(""))
	require.Empty(t, Chunker{}.Split(" \n\n\t "))
}

func TestChunkerShortTextIsOneChunk(t *testing.T) {
	chunks := Chunker{Size: 100, Overlap: 10}.Split("  A short note.\r\n")
	require.Equal(t, []string{"A short note."}, chunks)
}

func TestChunkerRespectsSizeAndIsDeterministic(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("Paragraph sentence one. Another sentence follows here.\n")
		if i%5 == 4 {
			b.WriteString("\n")
		}
	}
	text := b.String()
	c := Chunker{Size: 120, Overlap: 20}

	first := c.Split(text)
	second := c.Split(text)
	require.Equal(t, first, second)
	require.Greater(t, len(first), 1)
	for _, chunk := range first {
		require.LessOrEqual(t, utf8.RuneCountInString(chunk), 120)
		require.NotEmpty(t, chunk)
	}
}

func TestChunkerPrefersParagraphBoundaries(t *testing.T) {
	text := strings.Repeat("a", 40) + "\n\n" + strings.Repeat("b", 40) + "\n\n" + strings.Repeat("c", 40)
	chunks := Chunker{Size: 50, Overlap: 0}.Split(text)
	require.Equal(t, []string{strings.Repeat("a", 40), strings.Repeat("b", 40), strings.Repeat("c", 40)}, chunks)
}

func TestChunkerOverlapsWords(t *testing.T) {
	words := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		words = append(words, "word")
	}
	chunks := Chunker{Size: 30, Overlap: 10}.Split(strings.Join(words, " "))
	require.Greater(t, len(chunks), 2)
	for i := 1; i < len(chunks); i++ {
		require.True(t, strings.HasPrefix(chunks[i], "word"))
	}
	// every word of the input survives somewhere
	total := 0
	for _, chunk := range chunks {
		total += strings.Count(chunk, "word")
	}
	require.GreaterOrEqual(t, total, 60)
}

func TestChunkerHardSplitsLongTokens(t *testing.T) {
	text := strings.Repeat("é", 250)
	chunks := Chunker{Size: 100, Overlap: 10}.Split(text)
	require.Len(t, chunks, 3)
	for _, chunk := range chunks {
		require.LessOrEqual(t, utf8.RuneCountInString(chunk), 100)
	}
}

func TestChunkerClampsOverlap(t *testing.T) {
	size, overlap := Chunker{Size: 10, Overlap: 50}.limits()
	require.Equal(t, 10, size)
	require.Less(t, overlap, size)

	size, overlap = Chunker{}.limits()
	require.Equal(t, DefaultChunkSize, size)
	require.Equal(t, 0, overlap)
}
