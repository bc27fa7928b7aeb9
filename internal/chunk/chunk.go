// Package chunk splits note and document text into bounded, overlapping
// chunks for embedding.
//
// The splitter is markdown-aware: it prefers cutting at headers, then blank
// lines, then line breaks, then sentence ends, and only falls back to a hard
// cut when no boundary exists in the search window. A fixed overlap between
// consecutive chunks preserves semantic context across boundaries.
package chunk

import (
	"strings"
	"unicode/utf8"
)

// Default splitter geometry, matching the markdown splitter configuration
// the product shipped with.
const (
	DefaultSize    = 2000
	DefaultOverlap = 200
)

// Chunk is a bounded slice of source text. Ordinal is the chunk's position
// within the source, starting at zero.
type Chunk struct {
	Text    string
	Ordinal int
}

// Splitter splits text into chunks of at most Size runes with Overlap runes
// carried over between consecutive chunks. The zero value is not usable;
// call NewSplitter.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter returns a splitter with the given geometry. Non-positive size
// falls back to DefaultSize; a negative overlap or one that is not smaller
// than the size falls back to DefaultOverlap.
func NewSplitter(size, overlap int) Splitter {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultOverlap
		if overlap >= size {
			overlap = size / 10
		}
	}
	return Splitter{size: size, overlap: overlap}
}

// Split splits text into chunks. Empty input yields no chunks; any
// non-empty input yields at least one. The result is deterministic for a
// given input, and concatenating the chunks minus their overlaps
// reconstructs the full input.
func (s Splitter) Split(text string) []Chunk {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= s.size {
		return []Chunk{{Text: text, Ordinal: 0}}
	}

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + s.size
		if end >= len(runes) {
			chunks = append(chunks, Chunk{Text: string(runes[start:]), Ordinal: len(chunks)})
			break
		}

		cut := s.boundary(runes, start, end)
		chunks = append(chunks, Chunk{Text: string(runes[start:cut]), Ordinal: len(chunks)})

		next := cut - s.overlap
		// The window must always advance even when the overlap reaches back
		// past the previous start.
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}

// boundary picks the best cut position in (start+size/2, end]. Boundary
// classes are tried in preference order; the latest match of the best
// available class wins.
func (s Splitter) boundary(runes []rune, start, end int) int {
	window := string(runes[start:end])
	min := s.size / 2

	for _, find := range []func(string) int{
		lastHeaderStart,
		lastParagraphBreak,
		lastLineBreak,
		lastSentenceEnd,
		lastSpace,
	} {
		// find returns a byte offset into window; convert back to runes.
		if i := find(window); i >= 0 {
			if r := utf8.RuneCountInString(window[:i]); r > min {
				return start + r
			}
		}
	}

	return end
}

// lastHeaderStart returns the offset just before a trailing markdown header
// line ("\n# ", "\n## ", ...), so the header opens the next chunk.
func lastHeaderStart(window string) int {
	i := len(window)
	for {
		i = strings.LastIndex(window[:i], "\n#")
		if i < 0 {
			return -1
		}
		rest := window[i+1:]
		hashes := 0
		for hashes < len(rest) && rest[hashes] == '#' {
			hashes++
		}
		if hashes >= 1 && hashes <= 6 && hashes < len(rest) && rest[hashes] == ' ' {
			return i + 1
		}
		if i == 0 {
			return -1
		}
	}
}

func lastParagraphBreak(window string) int {
	if i := strings.LastIndex(window, "\n\n"); i >= 0 {
		return i + 2
	}
	return -1
}

func lastLineBreak(window string) int {
	if i := strings.LastIndex(window, "\n"); i >= 0 {
		return i + 1
	}
	return -1
}

func lastSentenceEnd(window string) int {
	best := -1
	for _, mark := range []string{". ", "! ", "? ", "。", "！", "？"} {
		if i := strings.LastIndex(window, mark); i >= 0 {
			end := i + len(mark)
			if end > best {
				best = end
			}
		}
	}
	return best
}

func lastSpace(window string) int {
	if i := strings.LastIndex(window, " "); i >= 0 {
		return i + 1
	}
	return -1
}
