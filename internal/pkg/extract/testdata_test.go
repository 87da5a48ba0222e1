package extract

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type pdfImage struct {
	width, height int
	colorSpace    string
	pixels        []byte
	// filter names the stream encoding. FlateDecode is applied here; any other
	// name is written as-is over the raw pixels.
	filter string
}

type pdfPage struct {
	text  string
	image *pdfImage
}

// buildPDF renders a minimal single-font PDF with one text line per page.
func buildPDF(pages []string) []byte {
	pp := make([]pdfPage, len(pages))
	for i, text := range pages {
		pp[i] = pdfPage{text: text}
	}
	return buildPDFPages(pp)
}

// buildPDFPages is buildPDF with an optional image XObject drawn on each page.
func buildPDFPages(pages []pdfPage) []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}
	var kids []string
	for _, page := range pages {
		pageID := len(objects) + 1
		kids = append(kids, fmt.Sprintf("%d 0 R", pageID))

		content := ""
		if page.text != "" {
			content = fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", page.text)
		}
		resources := "/Font << /F1 3 0 R >>"
		var imageObj string
		if img := page.image; img != nil {
			resources += fmt.Sprintf(" /XObject << /Im1 %d 0 R >>", pageID+2)
			content += " q 100 0 0 100 72 500 cm /Im1 Do Q"
			data, filter := img.pixels, ""
			if img.filter != "" {
				filter = " /Filter /" + img.filter
			}
			if img.filter == "FlateDecode" {
				var z bytes.Buffer
				zw := zlib.NewWriter(&z)
				_, _ = zw.Write(img.pixels)
				_ = zw.Close()
				data = z.Bytes()
			}
			imageObj = fmt.Sprintf("<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /%s /BitsPerComponent 8%s /Length %d >>\nstream\n%s\nendstream",
				img.width, img.height, img.colorSpace, filter, len(data), data)
		}
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << %s >> /Contents %d 0 R >>", resources, pageID+1),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
		if imageObj != "" {
			objects = append(objects, imageObj)
		}
	}
	objects[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages))
	objects = append(objects, "<< /Title (Quarterly Report) /Author (Ingest Tests) >>")
	infoID := len(objects)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, infoID, xref)
	return buf.Bytes()
}

// rgbPixels returns w*h RGB samples in a simple gradient.
func rgbPixels(w, h int) []byte {
	out := make([]byte, 0, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out = append(out, byte(x*20), byte(y*20), 200)
		}
	}
	return out
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
