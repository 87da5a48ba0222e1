// Package extract turns source files into pages of text and images.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrUnreadableFile    = errors.New("unreadable file")
	ErrUnsupportedFormat = errors.New("unsupported format")
)

type Image struct {
	Path     string
	MIMEType string
	Width    int
	Height   int
	Data     []byte
}

type Page struct {
	Number int
	Text   string
	Images []Image
}

type Extraction struct {
	MIMEType string
	// SourcePages is the page count of the file before any page ceiling.
	SourcePages int
	Pages       []Page
	// SkippedImages counts embedded images in an encoding that could not be read.
	SkippedImages int

	Title   string
	Author  string
	Subject string
}

type Extractor interface {
	Extract(ctx context.Context, path string, maxPages int) (*Extraction, error)
}

type format struct {
	extractor Extractor
	mimeTypes []string
}

// Registry dispatches on file extension and checks the sniffed content type
// before handing the file to a format extractor.
type Registry struct {
	formats map[string]format
}

func NewRegistry() *Registry {
	r := &Registry{formats: make(map[string]format)}
	pdfx := NewPDFExtractor()
	textx := NewTextExtractor()
	imagex := NewImageExtractor()

	r.Register(".pdf", pdfx, "application/pdf")
	r.Register(".txt", textx, "text/plain")
	r.Register(".md", textx, "text/plain")
	r.Register(".png", imagex, "image/png")
	r.Register(".jpg", imagex, "image/jpeg")
	r.Register(".jpeg", imagex, "image/jpeg")
	r.Register(".gif", imagex, "image/gif")
	r.Register(".webp", imagex, "image/webp")
	return r
}

// Register maps a lower-case extension to an extractor. Content must sniff as
// one of mimeTypes or a descendant of one.
func (r *Registry) Register(ext string, extractor Extractor, mimeTypes ...string) {
	r.formats[strings.ToLower(ext)] = format{extractor: extractor, mimeTypes: mimeTypes}
}

func (r *Registry) Supports(path string) bool {
	_, ok := r.formats[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (r *Registry) Extract(ctx context.Context, path string, maxPages int) (*Extraction, error) {
	ext := strings.ToLower(filepath.Ext(path))
	f, ok := r.formats[ext]
	if !ok {
		return nil, fmt.Errorf("%w: extension %q", ErrUnsupportedFormat, ext)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	if !matchesAny(mt, f.mimeTypes) {
		return nil, fmt.Errorf("%w: %s content in %s file", ErrUnsupportedFormat, mt.String(), ext)
	}

	out, err := f.extractor.Extract(ctx, path, maxPages)
	if err != nil {
		return nil, err
	}
	out.MIMEType = mt.String()
	return out, nil
}

func matchesAny(mt *mimetype.MIME, accepted []string) bool {
	for m := mt; m != nil; m = m.Parent() {
		for _, a := range accepted {
			if m.Is(a) {
				return true
			}
		}
	}
	return false
}

// DetectMIME returns the sniffed content type of path.
func DetectMIME(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	return mt.String(), nil
}

func pageLimit(total, maxPages int) int {
	if maxPages > 0 && maxPages < total {
		return maxPages
	}
	return total
}
