// Package raster renders document pages to images and produces grounded
// crops. PDF pages are synthesized at the correct aspect ratio from page
// geometry; image documents are their own raster.
package raster

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Renderer produces a raster for one page of a document.
type Renderer interface {
	RenderPage(ctx context.Context, docPath string, page int) (image.Image, error)
}

// DefaultScale is the PDF rasterisation density in pixels per point.
// 2.0 gives 1224x1584 for US Letter, enough for legible crops.
const DefaultScale = 2.0

// PageRenderer is the default Renderer. PDF pages are rendered as blank
// canvases at the page's true pixel dimensions; rendering glyph content
// requires a rasteriser the toolchain does not ship, and grounded crops
// only need correct geometry to be meaningful overlays. PNG and JPEG
// documents decode directly.
type PageRenderer struct {
	Scale float64 // pixels per PDF point; 0 means DefaultScale
}

// RenderPage renders the 1-indexed page of the document at docPath.
func (r *PageRenderer) RenderPage(ctx context.Context, docPath string, page int) (image.Image, error) {
	if page < 1 {
		return nil, fmt.Errorf("raster: page %d out of range", page)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(docPath))
	switch ext {
	case ".pdf":
		return r.renderPDFPage(docPath, page)
	case ".png", ".jpg", ".jpeg":
		if page != 1 {
			return nil, fmt.Errorf("raster: page %d out of range for single-page image", page)
		}
		return decodeImageFile(docPath)
	default:
		return nil, fmt.Errorf("raster: unsupported document type %q", ext)
	}
}

func (r *PageRenderer) renderPDFPage(docPath string, page int) (image.Image, error) {
	f, err := os.Open(docPath)
	if err != nil {
		return nil, fmt.Errorf("raster: open %s: %w", docPath, err)
	}
	defer f.Close()

	pctx, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("raster: pdfcpu read: %w", err)
	}
	if page > pctx.PageCount {
		return nil, fmt.Errorf("raster: page %d out of range (document has %d)", page, pctx.PageCount)
	}

	w, h := 612.0, 792.0
	if dims, err := pctx.PageDims(); err == nil && page <= len(dims) {
		if d := dims[page-1]; d.Width > 0 && d.Height > 0 {
			w, h = d.Width, d.Height
		}
	}

	scale := r.Scale
	if scale <= 0 {
		scale = DefaultScale
	}
	img := image.NewRGBA(image.Rect(0, 0, int(w*scale), int(h*scale)))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img, nil
}

func decodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("raster: open %s: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("raster: decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// EncodePNG serialises an image as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("raster: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeBase64PNG serialises an image as a base64 PNG string for JSON
// transport.
func EncodeBase64PNG(img image.Image) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
