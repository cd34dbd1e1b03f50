// Package ground defines the grounding model: fractional bounding boxes,
// page anchors, and the typed element hierarchy produced by the extraction
// pipeline. Every grounded element can be traced back to an exact visual
// location on a document page.
package ground

import "image"

// BoundingBox is a fractional rectangle relative to page dimensions,
// origin top-left. All coordinates are in [0,1] and X+Width <= 1,
// Y+Height <= 1. Construct via ClampBox to enforce the invariant.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ClampBox builds a BoundingBox from raw fractional coordinates, clamping
// out-of-range values into the unit square. The second return reports
// whether clamping occurred; callers record it as a data-quality flag on
// the owning element rather than accepting the values silently.
func ClampBox(x, y, w, h float64) (BoundingBox, bool) {
	clamped := false

	cl := func(v, lo, hi float64) float64 {
		if v < lo {
			clamped = true
			return lo
		}
		if v > hi {
			clamped = true
			return hi
		}
		return v
	}

	x = cl(x, 0, 1)
	y = cl(y, 0, 1)
	w = cl(w, 0, 1)
	h = cl(h, 0, 1)
	if x+w > 1 {
		w = 1 - x
		clamped = true
	}
	if y+h > 1 {
		h = 1 - y
		clamped = true
	}

	return BoundingBox{X: x, Y: y, Width: w, Height: h}, clamped
}

// InBounds reports whether the box satisfies the unit-square invariant.
func (b BoundingBox) InBounds() bool {
	return b.X >= 0 && b.Y >= 0 && b.Width >= 0 && b.Height >= 0 &&
		b.X+b.Width <= 1 && b.Y+b.Height <= 1
}

// Area returns the fractional area of the box. Used as the deterministic
// tie-break when several candidates could contain the same element:
// smallest area wins.
func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

// Contains reports whether the center of other lies inside b.
// Center containment is more robust than full-rectangle containment for
// parser output with slightly overhanging boxes.
func (b BoundingBox) Contains(other BoundingBox) bool {
	cx := other.X + other.Width/2
	cy := other.Y + other.Height/2
	return cx >= b.X && cx <= b.X+b.Width && cy >= b.Y && cy <= b.Y+b.Height
}

// PixelRect converts the fractional box to a pixel rectangle for a page
// raster of the given dimensions.
func (b BoundingBox) PixelRect(pageW, pageH int) image.Rectangle {
	x0 := int(b.X * float64(pageW))
	y0 := int(b.Y * float64(pageH))
	x1 := int((b.X + b.Width) * float64(pageW))
	y1 := int((b.Y + b.Height) * float64(pageH))
	return image.Rect(x0, y0, x1, y1)
}

// Grounding anchors an element to a page and a region on it.
type Grounding struct {
	// Page is 1-indexed and never exceeds the document page count.
	Page int `json:"page_number"`

	Box BoundingBox `json:"bounding_box"`

	// CropPath references the cached crop image for this grounding,
	// keyed by element ID + page. Empty until the Highlight stage has run.
	CropPath string `json:"crop_path,omitempty"`
}
