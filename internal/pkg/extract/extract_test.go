package extract

import (
	"bytes"
	"context"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDFExtractor_Pages(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "report.pdf", buildPDF([]string{"Hello first page", "Second page text", "Third page"}))

	out, err := NewPDFExtractor().Extract(context.Background(), path, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, out.SourcePages)
	require.Len(t, out.Pages, 3)
	assert.Equal(t, 1, out.Pages[0].Number)
	assert.Contains(t, out.Pages[0].Text, "Hello")
	assert.Contains(t, out.Pages[1].Text, "Second")
	assert.Equal(t, "Quarterly Report", out.Title)
	assert.Equal(t, "Ingest Tests", out.Author)
}

func TestPDFExtractor_MaxPages(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "report.pdf", buildPDF([]string{"one", "two", "three"}))

	out, err := NewPDFExtractor().Extract(context.Background(), path, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, out.SourcePages)
	assert.Len(t, out.Pages, 2)
}

func TestPDFExtractor_PageImages(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "figures.pdf", buildPDFPages([]pdfPage{
		{text: "Figure one shows revenue", image: &pdfImage{width: 4, height: 3, colorSpace: "DeviceRGB", pixels: rgbPixels(4, 3), filter: "FlateDecode"}},
		{text: "No figures here"},
		{image: &pdfImage{width: 2, height: 2, colorSpace: "DeviceGray", pixels: []byte{0, 80, 160, 255}}},
	}))

	out, err := NewPDFExtractor().Extract(context.Background(), path, 0)
	require.NoError(t, err)
	require.Len(t, out.Pages, 3)
	assert.Zero(t, out.SkippedImages)

	first := out.Pages[0]
	assert.Contains(t, first.Text, "Figure one")
	require.Len(t, first.Images, 1)
	img := first.Images[0]
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, 4, img.Width)
	assert.Equal(t, 3, img.Height)
	assert.Contains(t, img.Path, "#page=1&image=Im1")

	decoded, err := png.Decode(bytes.NewReader(img.Data))
	require.NoError(t, err)
	r, g, b, _ := decoded.At(1, 2).RGBA()
	assert.Equal(t, [3]uint32{20, 40, 200}, [3]uint32{r >> 8, g >> 8, b >> 8})

	assert.Empty(t, out.Pages[1].Images)

	third := out.Pages[2]
	assert.Empty(t, third.Text)
	require.Len(t, third.Images, 1)
	assert.Equal(t, 2, third.Images[0].Width)
	assert.Contains(t, third.Images[0].Path, "#page=3&image=Im1")
}

func TestPDFExtractor_UnreadableImageEncodingIsSkipped(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "scan.pdf", buildPDFPages([]pdfPage{
		{text: "Scanned letter", image: &pdfImage{width: 2, height: 2, colorSpace: "DeviceRGB", pixels: []byte("not really a jpeg"), filter: "DCTDecode"}},
	}))

	out, err := NewPDFExtractor().Extract(context.Background(), path, 0)
	require.NoError(t, err)
	require.Len(t, out.Pages, 1)
	assert.Contains(t, out.Pages[0].Text, "Scanned")
	assert.Empty(t, out.Pages[0].Images)
	assert.Equal(t, 1, out.SkippedImages)
}

func TestPDFExtractor_Unreadable(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.pdf", []byte("this is not a pdf at all"))

	_, err := NewPDFExtractor().Extract(context.Background(), path, 0)
	assert.ErrorIs(t, err, ErrUnreadableFile)

	_, err = NewPDFExtractor().Extract(context.Background(), filepath.Join(dir, "missing.pdf"), 0)
	assert.ErrorIs(t, err, ErrUnreadableFile)
}

func TestTextExtractor_FormFeedPages(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", []byte("page one\fpage two\f  page three  "))

	out, err := NewTextExtractor().Extract(context.Background(), path, 0)
	require.NoError(t, err)
	require.Len(t, out.Pages, 3)
	assert.Equal(t, "page three", out.Pages[2].Text)
	assert.Equal(t, 3, out.Pages[2].Number)

	out, err = NewTextExtractor().Extract(context.Background(), path, 1)
	require.NoError(t, err)
	assert.Len(t, out.Pages, 1)
	assert.Equal(t, 3, out.SourcePages)
}

func TestTextExtractor_InvalidUTF8(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.txt", []byte{0xff, 0xfe, 0xfd})

	_, err := NewTextExtractor().Extract(context.Background(), path, 0)
	assert.ErrorIs(t, err, ErrUnreadableFile)
}

func TestImageExtractor(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "photo.png", pngBytes(t, 8, 4))

	out, err := NewImageExtractor().Extract(context.Background(), path, 0)
	require.NoError(t, err)
	require.Len(t, out.Pages, 1)
	page := out.Pages[0]
	assert.Empty(t, page.Text)
	require.Len(t, page.Images, 1)
	assert.Equal(t, 8, page.Images[0].Width)
	assert.Equal(t, 4, page.Images[0].Height)
	assert.Equal(t, "image/png", page.Images[0].MIMEType)

	bad := writeFile(t, dir, "bad.png", []byte("nope"))
	_, err = NewImageExtractor().Extract(context.Background(), bad, 0)
	assert.ErrorIs(t, err, ErrUnreadableFile)
}

func TestRegistry(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry()
	ctx := context.Background()

	assert.True(t, registry.Supports("a/b/REPORT.PDF"))
	assert.True(t, registry.Supports("notes.md"))
	assert.False(t, registry.Supports("sheet.xlsx"))
	assert.False(t, registry.Supports("Makefile"))

	pdfPath := writeFile(t, dir, "doc.pdf", buildPDF([]string{"registry text"}))
	out, err := registry.Extract(ctx, pdfPath, 0)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", out.MIMEType)
	assert.Contains(t, out.Pages[0].Text, "registry")

	mdPath := writeFile(t, dir, "readme.md", []byte("# Title\n\nSome markdown body."))
	out, err = registry.Extract(ctx, mdPath, 0)
	require.NoError(t, err)
	assert.Contains(t, out.MIMEType, "text/plain")

	fake := writeFile(t, dir, "fake.pdf", []byte("plain text pretending to be a pdf"))
	_, err = registry.Extract(ctx, fake, 0)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	xlsx := writeFile(t, dir, "sheet.xlsx", []byte("x"))
	_, err = registry.Extract(ctx, xlsx, 0)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = registry.Extract(ctx, filepath.Join(dir, "missing.pdf"), 0)
	assert.ErrorIs(t, err, ErrUnreadableFile)
}
