package pipeline

import "github.com/hazyhaar/docground/ground"

// Highlight finalises groundings: every box is clamped into the unit
// square (flagging any correction) and the crop cache reference is
// cleared so stale paths from a previous run never leak through.
// Running Highlight twice yields identical output.
func (c Config) Highlight(els []*ground.Element) {
	c.defaults()
	for _, e := range els {
		if e.Grounding == nil {
			continue
		}
		b := e.Grounding.Box
		clamped := false
		e.Grounding.Box, clamped = ground.ClampBox(b.X, b.Y, b.Width, b.Height)
		if clamped {
			e.AddFlag(ground.FlagClampedBox)
			c.Logger.Warn("box escaped page bounds after structuring", "element", e.ID)
		}
		e.Grounding.CropPath = ""
	}
}
