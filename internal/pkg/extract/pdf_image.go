package extract

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/ledongthuc/pdf"
)

// readableFilters are the stream encodings ledongthuc/pdf can decode. JPEG,
// JPEG 2000 and fax streams are not among them.
var readableFilters = map[string]bool{
	"FlateDecode":   true,
	"ASCII85Decode": true,
}

// pageImages returns the image XObjects in the page's resources, re-encoded as
// PNG. Images whose encoding or color model cannot be read are counted in
// skipped.
func pageImages(page pdf.Page, path string, number int) (images []Image, skipped int) {
	xobjects := page.Resources().Key("XObject")
	for _, name := range xobjects.Keys() {
		xo := xobjects.Key(name)
		if xo.Key("Subtype").Name() != "Image" || xo.Key("ImageMask").Bool() {
			continue
		}
		img, err := decodeImageXObject(xo)
		if err != nil {
			skipped++
			continue
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			skipped++
			continue
		}
		bounds := img.Bounds()
		images = append(images, Image{
			Path:     fmt.Sprintf("%s#page=%d&image=%s", path, number, name),
			MIMEType: "image/png",
			Width:    bounds.Dx(),
			Height:   bounds.Dy(),
			Data:     buf.Bytes(),
		})
	}
	return images, skipped
}

func decodeImageXObject(xo pdf.Value) (img image.Image, err error) {
	// the stream reader panics on filters and predictors it does not know
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = fmt.Errorf("read image stream: %v", r)
		}
	}()

	for _, filter := range filterNames(xo.Key("Filter")) {
		if !readableFilters[filter] {
			return nil, fmt.Errorf("unsupported image filter %s", filter)
		}
	}
	width, height := int(xo.Key("Width").Int64()), int(xo.Key("Height").Int64())
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", width, height)
	}
	if bpc := xo.Key("BitsPerComponent").Int64(); bpc != 8 {
		return nil, fmt.Errorf("unsupported bits per component %d", bpc)
	}
	components := colorComponents(xo.Key("ColorSpace"))
	if components == 0 {
		return nil, fmt.Errorf("unsupported color space %v", xo.Key("ColorSpace"))
	}

	rc := xo.Reader()
	defer rc.Close()
	samples, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read image stream: %w", err)
	}
	if need := width * height * components; len(samples) < need {
		return nil, fmt.Errorf("image stream has %d bytes, need %d", len(samples), need)
	}

	rect := image.Rect(0, 0, width, height)
	switch components {
	case 1:
		gray := image.NewGray(rect)
		copy(gray.Pix, samples)
		return gray, nil
	case 3:
		rgba := image.NewRGBA(rect)
		for i, j := 0, 0; i < width*height; i, j = i+1, j+3 {
			rgba.Pix[i*4] = samples[j]
			rgba.Pix[i*4+1] = samples[j+1]
			rgba.Pix[i*4+2] = samples[j+2]
			rgba.Pix[i*4+3] = 0xff
		}
		return rgba, nil
	default:
		cmyk := image.NewCMYK(rect)
		copy(cmyk.Pix, samples)
		return cmyk, nil
	}
}

func filterNames(v pdf.Value) []string {
	switch v.Kind() {
	case pdf.Name:
		return []string{v.Name()}
	case pdf.Array:
		out := make([]string, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			out = append(out, v.Index(i).Name())
		}
		return out
	default:
		return nil
	}
}

func colorComponents(cs pdf.Value) int {
	switch cs.Kind() {
	case pdf.Name:
		switch cs.Name() {
		case "DeviceGray", "CalGray":
			return 1
		case "DeviceRGB", "CalRGB":
			return 3
		case "DeviceCMYK":
			return 4
		}
	case pdf.Array:
		if cs.Index(0).Name() == "ICCBased" {
			if n := int(cs.Index(1).Key("N").Int64()); n == 1 || n == 3 || n == 4 {
				return n
			}
		}
	}
	return 0
}
