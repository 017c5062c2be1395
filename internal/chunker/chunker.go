// Package chunker splits normalised article text into the two segment shapes
// the index needs: large disjoint parent segments that concatenate back to the
// original text, and small overlapping searchable segments sized for embedding
// quality.
package chunker

import "fmt"

// Splitter cuts text into segments of at most Size runes. Consecutive
// segments share Overlap runes. Splitting is deterministic and always lands
// on rune boundaries so each segment remains valid UTF-8.
type Splitter struct {
	Size    int
	Overlap int
}

// NewSplitter validates the configuration. Overlap must be smaller than Size;
// an overlap of zero produces disjoint segments whose concatenation equals
// the input exactly.
func NewSplitter(size, overlap int) (Splitter, error) {
	if size < 1 {
		return Splitter{}, fmt.Errorf("chunker: size must be positive, got %d", size)
	}
	if overlap < 0 {
		return Splitter{}, fmt.Errorf("chunker: overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return Splitter{}, fmt.Errorf("chunker: overlap %d must be smaller than size %d", overlap, size)
	}
	return Splitter{Size: size, Overlap: overlap}, nil
}

// Split returns the ordered segments of text. Empty input yields no segments;
// input of at most Size runes yields exactly one.
func (s Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= s.Size {
		return []string{text}
	}
	var chunks []string
	for start := 0; start < len(runes); {
		end := start + s.Size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end - s.Overlap
	}
	return chunks
}
