package docparse

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/hazyhaar/docground/ground"
)

// parseImage treats a PNG or JPEG upload as a single-page document with
// one full-page image element. Header size is read without decoding pixels.
func parseImage(path string, format Format) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, name, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s header: %w", format, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("image %s has empty dimensions", filepath.Base(path))
	}

	w, h := float64(cfg.Width), float64(cfg.Height)
	return &Document{
		Format: Format(name),
		Pages:  []PageInfo{{Number: 1, Width: w, Height: h}},
		Elements: []RawElement{{
			Type: ground.TypeImage, Page: 1,
			X: 0, Y: 0, W: w, H: h,
			Placed: true, Confidence: 0.95,
		}},
		Quality: &ExtractionQuality{PageCount: 1},
	}, nil
}
