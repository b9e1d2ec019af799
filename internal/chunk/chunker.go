// Package chunk splits raw document text into overlapping windows sized for
// embedding.
package chunk

import (
	"errors"
	"fmt"
	"iter"
)

// ErrInvalidConfig reports unusable chunking parameters. The chunker refuses
// to produce any output rather than guessing.
var ErrInvalidConfig = errors.New("invalid chunking configuration")

// Chunk is a contiguous slice of a document's text. Start and End are rune
// offsets into the source text; Index is 0-based and sequential.
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// Len returns the chunk length in runes.
func (c Chunk) Len() int { return c.End - c.Start }

// Chunker produces fixed-size overlapping windows over text. It is pure:
// the same input always yields the same chunks, and iteration is restartable.
type Chunker struct {
	size    int
	overlap int
}

// New validates the window parameters and returns a Chunker.
// Requires size > 0 and 0 <= overlap < size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap must satisfy 0 <= overlap < size, got overlap=%d size=%d",
			ErrInvalidConfig, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the configured window size in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap in runes.
func (c *Chunker) Overlap() int { return c.overlap }

// All returns a lazy sequence of chunks. Window i starts at
// i*(size-overlap) and ends at start+size or end-of-text, whichever comes
// first. The last overlap runes of chunk i open chunk i+1, so consecutive
// chunks never leave a gap. Empty text yields an empty sequence; text
// shorter than size yields exactly one chunk.
func (c *Chunker) All(text string) iter.Seq[Chunk] {
	runes := []rune(text)
	step := c.size - c.overlap
	return func(yield func(Chunk) bool) {
		for i := 0; i*step < len(runes); i++ {
			start := i * step
			end := start + c.size
			if end > len(runes) {
				end = len(runes)
			}
			ck := Chunk{
				Index: i,
				Text:  string(runes[start:end]),
				Start: start,
				End:   end,
			}
			if !yield(ck) {
				return
			}
		}
	}
}

// Split materializes All into a slice.
func (c *Chunker) Split(text string) []Chunk {
	var chunks []Chunk
	for ck := range c.All(text) {
		chunks = append(chunks, ck)
	}
	return chunks
}
