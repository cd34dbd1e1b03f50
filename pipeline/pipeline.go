// Package pipeline implements the staged extraction flow: Parse →
// Structure → Validate → Highlight → Store. Stages are pure transforms
// over the element slice; the Runner threads them through the tracker's
// status machine and persists the result in the vault.
package pipeline

import (
	"log/slog"

	"github.com/hazyhaar/docground/idgen"
)

// Config tunes the structural heuristics.
type Config struct {
	// CaptionProximity is the maximum vertical distance (fraction of
	// page height) between a caption and its subject.
	CaptionProximity float64
	// ColumnGap is the minimum horizontal gap (fraction of page width)
	// separating two columns.
	ColumnGap float64
	// ValidationThreshold is the confidence at or above which an
	// element is marked validated.
	ValidationThreshold float64

	NewID  idgen.Generator
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.CaptionProximity <= 0 {
		c.CaptionProximity = 0.15
	}
	if c.ColumnGap <= 0 {
		c.ColumnGap = 0.15
	}
	if c.ValidationThreshold <= 0 {
		c.ValidationThreshold = 0.7
	}
	if c.NewID == nil {
		c.NewID = idgen.Element
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Structural confidence penalties applied by the Validate stage.
const (
	penaltyClampedBox      = 0.1
	penaltyUnlinkedCaption = 0.1
	penaltyUnplaced        = 0.2
)
