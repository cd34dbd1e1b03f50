package raster

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/hazyhaar/docground/ground"
)

// MaxCropDim caps the longest edge of a crop. Larger crops are scaled
// down so cached crops stay small enough to inline in API responses.
const MaxCropDim = 1024

// Crop extracts the region of the page raster covered by the fractional
// box. The result is an independent image, never a view into the page.
func Crop(page image.Image, box ground.BoundingBox) (image.Image, error) {
	if !box.InBounds() {
		return nil, fmt.Errorf("raster: box out of bounds: %+v", box)
	}
	b := page.Bounds()
	rect := box.PixelRect(b.Dx(), b.Dy()).Add(b.Min)
	if rect.Dx() < 1 || rect.Dy() < 1 {
		return nil, fmt.Errorf("raster: crop region is empty (%v)", rect)
	}

	dst := rect.Sub(rect.Min)
	scale := 1.0
	if longest := max(dst.Dx(), dst.Dy()); longest > MaxCropDim {
		scale = float64(MaxCropDim) / float64(longest)
		dst = image.Rect(0, 0,
			int(float64(dst.Dx())*scale),
			int(float64(dst.Dy())*scale))
	}

	out := image.NewRGBA(dst)
	if scale == 1.0 {
		xdraw.Copy(out, image.Point{}, page, rect, xdraw.Src, nil)
	} else {
		xdraw.ApproxBiLinear.Scale(out, dst, page, rect, xdraw.Src, nil)
	}
	return out, nil
}
