// Package vision produces short text descriptions of images so that image
// chunks can be embedded like text.
package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

type Describer interface {
	Describe(ctx context.Context, data []byte) (string, error)
}

// BasicDescriber describes an image by format and size only.
type BasicDescriber struct{}

func NewBasicDescriber() *BasicDescriber {
	return &BasicDescriber{}
}

func (d *BasicDescriber) Describe(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image config failed: %w", err)
	}
	return fmt.Sprintf("%s image, %dx%d pixels", format, cfg.Width, cfg.Height), nil
}
