// Package docparse turns uploaded documents into raw positioned elements.
//
// Supported formats:
//   - .pdf   — text, table and form-field detection via pdfcpu content streams
//   - .png   — single-page image document
//   - .jpg   — single-page image document
//
// Parsers emit RawElements in page coordinate space (points for PDF,
// pixels for images). Normalisation to fractional boxes happens downstream.
package docparse

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/docground/ground"
)

// Format identifies a supported document type.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G'}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pdfMagic  = []byte("%PDF-")
)

// DetectFormat resolves the document format from the filename extension,
// cross-checked against the file's magic bytes when data is available.
func DetectFormat(filename string, head []byte) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	var byExt Format
	switch ext {
	case ".pdf":
		byExt = FormatPDF
	case ".png":
		byExt = FormatPNG
	case ".jpg", ".jpeg":
		byExt = FormatJPEG
	default:
		return "", fmt.Errorf("docparse: unsupported format %q", ext)
	}

	if len(head) >= 5 {
		var byMagic Format
		switch {
		case bytes.HasPrefix(head, pdfMagic):
			byMagic = FormatPDF
		case bytes.HasPrefix(head, pngMagic):
			byMagic = FormatPNG
		case bytes.HasPrefix(head, jpegMagic):
			byMagic = FormatJPEG
		}
		if byMagic != "" && byMagic != byExt {
			return "", fmt.Errorf("docparse: extension %q does not match file content (%s)", ext, byMagic)
		}
	}
	return byExt, nil
}

// SupportedFormats returns all supported format extensions.
func SupportedFormats() []string {
	return []string{"pdf", "png", "jpg", "jpeg"}
}

// PageInfo carries the native dimensions of one page, 1-indexed.
// Units are points for PDF pages and pixels for image documents.
type PageInfo struct {
	Number int     `json:"number"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RawElement is a parser-level element in page coordinate space,
// origin top-left. Placed is false when the parser knows the element
// exists but could not locate it (image XObjects without placement).
type RawElement struct {
	Type       ground.Type
	Text       string
	Rows       [][]string
	Page       int
	X, Y, W, H float64
	Placed     bool
	Confidence float64
}

// Document is the raw parse result before structuring.
type Document struct {
	Format   Format
	Pages    []PageInfo
	Elements []RawElement
	Quality  *ExtractionQuality
}

// Config controls parser behaviour.
type Config struct {
	MaxFileSize int64 // bytes; 0 means default (50 MiB)
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 50 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Parser extracts raw elements from a document file.
type Parser interface {
	Parse(ctx context.Context, path string) (*Document, error)
}

// MultiParser dispatches to the format-specific parser by file extension.
type MultiParser struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a MultiParser with the given configuration.
func New(cfg Config) *MultiParser {
	cfg.defaults()
	return &MultiParser{cfg: cfg, logger: cfg.Logger}
}

// Parse reads the file at path and extracts its raw elements.
func (p *MultiParser) Parse(ctx context.Context, path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("docparse: stat %s: %w", path, err)
	}
	if info.Size() > p.cfg.MaxFileSize {
		return nil, fmt.Errorf("docparse: file too large: %d bytes (max %d)", info.Size(), p.cfg.MaxFileSize)
	}

	head := make([]byte, 8)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("docparse: open %s: %w", path, err)
	}
	n, _ := f.Read(head)
	f.Close()

	format, err := DetectFormat(path, head[:n])
	if err != nil {
		return nil, err
	}

	p.logger.Debug("parsing document", "path", path, "format", format)

	var doc *Document
	switch format {
	case FormatPDF:
		doc, err = parsePDF(ctx, path)
	case FormatPNG, FormatJPEG:
		doc, err = parseImage(path, format)
	default:
		return nil, fmt.Errorf("docparse: no parser for format %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("docparse: parse %s (%s): %w", filepath.Base(path), format, err)
	}
	if len(doc.Elements) == 0 {
		return nil, fmt.Errorf("docparse: no content found in %s", filepath.Base(path))
	}
	return doc, nil
}
