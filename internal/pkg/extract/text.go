package extract

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// TextExtractor treats form feeds as page breaks.
type TextExtractor struct{}

func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

func (e *TextExtractor) Extract(ctx context.Context, path string, maxPages int) (*Extraction, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: %s is not valid utf-8", ErrUnreadableFile, path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parts := strings.Split(string(raw), "\f")
	out := &Extraction{SourcePages: len(parts)}
	limit := pageLimit(len(parts), maxPages)
	out.Pages = make([]Page, 0, limit)
	for i := 0; i < limit; i++ {
		out.Pages = append(out.Pages, Page{Number: i + 1, Text: strings.TrimSpace(parts[i])})
	}
	return out, nil
}
