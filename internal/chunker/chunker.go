// Package chunker splits extracted text into overlapping, sentence-aligned
// chunks sized for embedding.
package chunker

import "strings"

const (
	// DefaultChunkSize is the default number of characters per chunk.
	DefaultChunkSize = 1000

	// DefaultOverlap is the default number of characters shared by adjacent chunks.
	DefaultOverlap = 200

	// maxLookback bounds how far back from the window end a sentence
	// terminator is searched for.
	maxLookback = 200
)

// Splitter splits text into chunks of at most Size characters with up to
// Overlap characters shared between neighbours.
type Splitter struct {
	size    int
	overlap int
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.size = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

// New creates a Splitter. An overlap that is not smaller than the chunk size
// is reduced to a quarter of the chunk size.
func New(opts ...Option) *Splitter {
	s := &Splitter{size: DefaultChunkSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.size {
		s.overlap = s.size / 4
	}
	return s
}

// Size returns the configured chunk size.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap.
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the ordered chunks of text. Lengths are measured in runes.
// Every returned chunk is non-empty after trimming whitespace. The window
// advances by size minus overlap until its start passes the end of the text.
func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	n := len(runes)

	if n <= s.size {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return nil
	}

	var chunks []string
	start := 0
	for start < n {
		end := start + s.size
		if end < n {
			end = sentenceEnd(runes, start, end, s.size)
		}

		stop := min(end, n)
		if chunk := strings.TrimSpace(string(runes[start:stop])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		// The window keeps sliding past the last full chunk, so the final
		// overlap region is emitted as its own trailing chunk.
		next := end - s.overlap
		if next <= start {
			// A short sentence cut combined with a large overlap would stall.
			next = end
		}
		start = next
	}
	return chunks
}

// sentenceEnd searches backward from end toward max(start+size/2, end-200)
// for a sentence terminator and returns the index just past it, or end when
// none is found.
func sentenceEnd(runes []rune, start, end, size int) int {
	lower := max(start+size/2, end-maxLookback)
	for i := end; i > lower; i-- {
		switch runes[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	return end
}

// Split splits text with the default chunk size and overlap.
func Split(text string) []string {
	return New().Split(text)
}
