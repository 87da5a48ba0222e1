package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

// ImageExtractor yields a single page holding the image itself.
type ImageExtractor struct{}

func NewImageExtractor() *ImageExtractor {
	return &ImageExtractor{}
}

func (e *ImageExtractor) Extract(ctx context.Context, path string, maxPages int) (*Extraction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", ErrUnreadableFile, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := Image{
		Path:     path,
		MIMEType: mimetype.Detect(data).String(),
		Width:    cfg.Width,
		Height:   cfg.Height,
		Data:     data,
	}
	return &Extraction{
		SourcePages: 1,
		Pages:       []Page{{Number: 1, Images: []Image{img}}},
	}, nil
}
