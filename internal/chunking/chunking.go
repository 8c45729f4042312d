// Package chunking splits raw document text into ordered passages for
// embedding and indexing.
package chunking

import (
	"regexp"
	"strings"

	"github.com/desknow-ai/desknow/internal/domain"
)

const (
	// DefaultChunkSize is the window size for fixed-size chunking, in runes.
	DefaultChunkSize = 512
	// DefaultOverlap is the number of runes shared between consecutive
	// fixed-size chunks.
	DefaultOverlap = 50
	// DefaultMinChunkSize is the minimum passage length emitted by the
	// semantic chunker.
	DefaultMinChunkSize = 100
)

// Chunker splits text into an ordered sequence of passages. Chunking is
// deterministic: the same text and parameters always produce the same
// sequence. Empty input yields an empty sequence, not an error.
type Chunker interface {
	Chunk(text string) []string
	Strategy() domain.ChunkingStrategy
}

// ForStrategy returns the chunker for a strategy name with its default
// parameters.
func ForStrategy(strategy domain.ChunkingStrategy) (Chunker, error) {
	switch strategy {
	case domain.ChunkingStrategyFixedSize:
		return NewFixedSize(DefaultChunkSize, DefaultOverlap), nil
	case domain.ChunkingStrategySemantic:
		return NewSemantic(DefaultMinChunkSize), nil
	default:
		return nil, domain.ErrInvalidChunkingStrategy
	}
}

// FixedSize slides a window of chunkSize runes across the text, advancing by
// chunkSize-overlap each step. Dropping the first overlap runes of every
// chunk after the first and concatenating reproduces the input exactly.
type FixedSize struct {
	chunkSize int
	overlap   int
}

// NewFixedSize creates a fixed-size chunker. An overlap outside
// [0, chunkSize) is clamped so the window always makes forward progress.
func NewFixedSize(chunkSize, overlap int) *FixedSize {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}
	return &FixedSize{chunkSize: chunkSize, overlap: overlap}
}

func (c *FixedSize) Strategy() domain.ChunkingStrategy {
	return domain.ChunkingStrategyFixedSize
}

func (c *FixedSize) Chunk(text string) []string {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	step := c.chunkSize - c.overlap

	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end >= len(runes) {
			break
		}
	}

	return chunks
}

var paragraphSep = regexp.MustCompile(`\n\s*\n`)

// Semantic splits on paragraph boundaries (blank lines) and merges
// consecutive paragraphs until each group reaches minChunkSize. The final
// group is kept even when it stays below the threshold.
type Semantic struct {
	minChunkSize int
}

// NewSemantic creates a semantic chunker.
func NewSemantic(minChunkSize int) *Semantic {
	if minChunkSize <= 0 {
		minChunkSize = DefaultMinChunkSize
	}
	return &Semantic{minChunkSize: minChunkSize}
}

func (c *Semantic) Strategy() domain.ChunkingStrategy {
	return domain.ChunkingStrategySemantic
}

func (c *Semantic) Chunk(text string) []string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}

	paragraphs := paragraphSep.Split(clean, -1)

	var chunks []string
	var group []string
	groupLen := 0

	flush := func() {
		if len(group) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(group, "\n\n"))
		group = group[:0]
		groupLen = 0
	}

	for _, p := range paragraphs {
		p = strings.Join(strings.Fields(p), " ")
		if p == "" {
			continue
		}
		group = append(group, p)
		groupLen += len([]rune(p))
		if groupLen >= c.minChunkSize {
			flush()
		}
	}
	flush()

	return chunks
}
