package chunking

import (
	"strings"
	"testing"

	"github.com/desknow-ai/desknow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedSize_EmptyInput(t *testing.T) {
	c := NewFixedSize(512, 50)
	assert.Empty(t, c.Chunk(""))
}

func TestFixedSize_SingleChunk(t *testing.T) {
	c := NewFixedSize(512, 50)
	chunks := c.Chunk("short document")

	require.Len(t, chunks, 1)
	assert.Equal(t, "short document", chunks[0])
}

func TestFixedSize_WindowBoundaries(t *testing.T) {
	// 600 chars with size 512 and overlap 50: chunk 0 covers [0,512),
	// chunk 1 covers [462,600).
	text := strings.Repeat("a", 462) + strings.Repeat("b", 50) + strings.Repeat("c", 88)
	c := NewFixedSize(512, 50)

	chunks := c.Chunk(text)

	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 512)
	assert.Equal(t, text[:512], chunks[0])
	assert.Equal(t, text[462:], chunks[1])
	assert.Len(t, chunks[1], 138)
}

func TestFixedSize_Reassembly(t *testing.T) {
	cases := []struct {
		name      string
		chunkSize int
		overlap   int
		length    int
	}{
		{"no overlap", 100, 0, 1000},
		{"small overlap", 512, 50, 2000},
		{"large overlap", 64, 63, 500},
		{"exact multiple", 100, 20, 180},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text := buildText(tc.length)
			c := NewFixedSize(tc.chunkSize, tc.overlap)
			chunks := c.Chunk(text)
			require.NotEmpty(t, chunks)

			var b strings.Builder
			for i, chunk := range chunks {
				runes := []rune(chunk)
				if i > 0 {
					runes = runes[tc.overlap:]
				}
				b.WriteString(string(runes))
			}
			assert.Equal(t, text, b.String())
		})
	}
}

func TestFixedSize_OverlapClampedForForwardProgress(t *testing.T) {
	// overlap >= chunkSize would make the window stall; it is clamped to
	// chunkSize-1 instead.
	c := NewFixedSize(10, 10)
	chunks := c.Chunk(strings.Repeat("x", 30))

	assert.NotEmpty(t, chunks)
	assert.Equal(t, 9, c.overlap)
}

func TestFixedSize_Deterministic(t *testing.T) {
	text := buildText(3000)
	c := NewFixedSize(256, 32)

	assert.Equal(t, c.Chunk(text), c.Chunk(text))
}

func TestSemantic_EmptyInput(t *testing.T) {
	c := NewSemantic(100)
	assert.Empty(t, c.Chunk(""))
	assert.Empty(t, c.Chunk("   \n\n  "))
}

func TestSemantic_MergesShortParagraphs(t *testing.T) {
	text := "Refunds are issued within 14 days.\n\n" +
		"Contact support to start a return.\n\n" +
		strings.Repeat("Long paragraph about shipping policies. ", 10)

	c := NewSemantic(100)
	chunks := c.Chunk(text)

	require.Len(t, chunks, 2)
	// The two short paragraphs merge until the threshold is met.
	assert.Contains(t, chunks[0], "Refunds are issued")
	assert.Contains(t, chunks[0], "Contact support")
	assert.GreaterOrEqual(t, len(chunks[0]), 50)
}

func TestSemantic_MinSizeExceptFinal(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta epsilon. ", 8) + "\n\n" +
		strings.Repeat("zeta eta theta iota kappa lambda. ", 8) + "\n\n" +
		"tail."

	c := NewSemantic(100)
	chunks := c.Chunk(text)
	require.NotEmpty(t, chunks)

	for i, chunk := range chunks {
		if i < len(chunks)-1 {
			assert.GreaterOrEqual(t, len([]rune(chunk)), 100, "chunk %d below minimum", i)
		}
	}
	// The trailing short group is kept.
	assert.Contains(t, chunks[len(chunks)-1], "tail.")
}

func TestSemantic_SingleLongParagraph(t *testing.T) {
	text := strings.Repeat("word ", 100)
	c := NewSemantic(50)

	chunks := c.Chunk(text)
	require.Len(t, chunks, 1)
}

func TestForStrategy(t *testing.T) {
	fixed, err := ForStrategy(domain.ChunkingStrategyFixedSize)
	require.NoError(t, err)
	assert.Equal(t, domain.ChunkingStrategyFixedSize, fixed.Strategy())

	semantic, err := ForStrategy(domain.ChunkingStrategySemantic)
	require.NoError(t, err)
	assert.Equal(t, domain.ChunkingStrategySemantic, semantic.Strategy())

	_, err = ForStrategy(domain.ChunkingStrategy("recursive"))
	assert.ErrorIs(t, err, domain.ErrInvalidChunkingStrategy)
}

func buildText(n int) string {
	var b strings.Builder
	for b.Len() < n {
		b.WriteString("the quick brown fox jumps over the lazy dog ")
	}
	return b.String()[:n]
}
