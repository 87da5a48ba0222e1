package app

import "strings"

const (
	defaultChunkSize    = 512
	defaultChunkOverlap = 64
)

// Chunker splits page text into overlapping windows measured in runes.
type Chunker struct {
	Size    int
	Overlap int
}

func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return Chunker{Size: size, Overlap: overlap}
}

// Split returns the non-blank windows of text in order.
func (c Chunker) Split(text string) []string {
	c = NewChunker(c.Size, c.Overlap)
	runes := []rune(strings.TrimSpace(text))
	var chunks []string
	for i := 0; i < len(runes); {
		end := i + c.Size
		if end > len(runes) {
			end = len(runes)
		}
		if chunk := strings.TrimSpace(string(runes[i:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
		i += c.Size - c.Overlap
	}
	return chunks
}
