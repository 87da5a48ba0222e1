package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor reads page text and the images each page draws with
// ledongthuc/pdf.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

func (e *PDFExtractor) Extract(ctx context.Context, path string, maxPages int) (out *Extraction, err error) {
	// the parser panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: parse pdf: %v", ErrUnreadableFile, r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", ErrUnreadableFile, err)
	}
	defer f.Close()

	total := reader.NumPage()
	out = &Extraction{SourcePages: total}
	readInfo(reader, out)

	limit := pageLimit(total, maxPages)
	out.Pages = make([]Page, 0, limit)
	for i := 1; i <= limit; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			out.Pages = append(out.Pages, Page{Number: i})
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrUnreadableFile, i, err)
		}
		images, skipped := pageImages(page, path, i)
		out.SkippedImages += skipped
		out.Pages = append(out.Pages, Page{Number: i, Text: strings.TrimSpace(text), Images: images})
	}
	return out, nil
}

func readInfo(reader *pdf.Reader, out *Extraction) {
	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return
	}
	out.Title = info.Key("Title").Text()
	out.Author = info.Key("Author").Text()
	out.Subject = info.Key("Subject").Text()
}
