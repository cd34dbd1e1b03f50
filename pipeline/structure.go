package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/hazyhaar/docground/ground"
)

var captionRe = regexp.MustCompile(`(?i)^(figure|fig\.?|table|tableau|image|illustration)\s+\d`)

// Structure builds the element forest: geometric containment re-parents
// elements into tables and images (smallest containing box wins), table
// grids expand into row children, captions link to their subject via
// CaptionOf, and each page's children are ordered into reading order
// (columns left to right, top to bottom within a column).
func (c Config) Structure(els []*ground.Element) ([]*ground.Element, error) {
	c.defaults()

	var roots []*ground.Element
	rootSet := map[string]bool{}
	for _, e := range els {
		if e.Type == ground.TypePage {
			roots = append(roots, e)
			rootSet[e.ID] = true
		}
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("pipeline: no page roots")
	}

	idx := ground.Index(els)

	// Containment pass. Containers are placed tables and images; an
	// element moves inside the smallest container holding its center.
	for _, e := range els {
		if e.Type == ground.TypePage || e.Grounding == nil || e.HasFlag(ground.FlagUnplaced) {
			continue
		}
		if e.Type == ground.TypeTable || e.Type == ground.TypeImage {
			continue // containers stay at page level
		}
		var best *ground.Element
		for _, cand := range els {
			if cand.ID == e.ID || cand.Grounding == nil {
				continue
			}
			if cand.Type != ground.TypeTable && cand.Type != ground.TypeImage {
				continue
			}
			if cand.HasFlag(ground.FlagUnplaced) || cand.Grounding.Page != e.Grounding.Page {
				continue
			}
			if !cand.Grounding.Box.Contains(e.Grounding.Box) {
				continue
			}
			if best == nil || cand.Grounding.Box.Area() < best.Grounding.Box.Area() {
				best = cand
			}
		}
		if best != nil && !captionRe.MatchString(e.Content.Text) {
			reparent(idx, e, best)
		}
	}

	// Expand table grids into row children.
	var rowEls []*ground.Element
	for _, e := range els {
		if e.Type != ground.TypeTable || e.Content.Kind != ground.KindTable || e.Content.Table == nil {
			continue
		}
		rows := e.Content.Table.Rows
		if len(rows) == 0 || e.Grounding == nil {
			continue
		}
		box := e.Grounding.Box
		bandH := box.Height / float64(len(rows))
		for i, row := range rows {
			rowBox, _ := ground.ClampBox(box.X, box.Y+float64(i)*bandH, box.Width, bandH)
			rowEl := &ground.Element{
				ID:         c.NewID(),
				Type:       ground.TypeText,
				Content:    ground.TextContent(strings.Join(row, " ")),
				Confidence: e.Confidence,
				Grounding:  &ground.Grounding{Page: e.Grounding.Page, Box: rowBox},
				ParentID:   e.ID,
			}
			e.Children = append(e.Children, rowEl.ID)
			rowEls = append(rowEls, rowEl)
			idx[rowEl.ID] = rowEl
		}
	}
	els = append(els, rowEls...)

	// Caption linking. Captions stay children of the page; CaptionOf is
	// a weak reference to the nearest subject within the proximity limit.
	for _, e := range els {
		if e.Content.Kind != ground.KindText || !captionRe.MatchString(e.Content.Text) {
			continue
		}
		if e.Grounding == nil || e.HasFlag(ground.FlagUnplaced) {
			continue
		}
		subject := c.nearestSubject(els, e)
		if subject == nil {
			e.AddFlag(ground.FlagUnlinkedCaption)
			continue
		}
		e.CaptionOf = subject.ID
	}

	// Reading order within each page root.
	for _, root := range roots {
		c.orderChildren(idx, root)
	}
	for _, e := range els {
		if e.Type == ground.TypeTable {
			sortByY(idx, e)
		}
	}

	// Emit depth-first in page order so slice order is reading order.
	out := make([]*ground.Element, 0, len(els))
	var walk func(e *ground.Element)
	walk = func(e *ground.Element) {
		out = append(out, e)
		for _, id := range e.Children {
			walk(idx[id])
		}
	}
	for _, root := range roots {
		walk(root)
	}

	if err := ground.ValidateForest(out); err != nil {
		return nil, fmt.Errorf("pipeline: structure produced invalid forest: %w", err)
	}
	return out, nil
}

func reparent(idx map[string]*ground.Element, e, newParent *ground.Element) {
	if old, ok := idx[e.ParentID]; ok {
		for i, id := range old.Children {
			if id == e.ID {
				old.Children = append(old.Children[:i], old.Children[i+1:]...)
				break
			}
		}
	}
	e.ParentID = newParent.ID
	newParent.Children = append(newParent.Children, e.ID)
}

// nearestSubject finds the closest image or table on the caption's page
// within the vertical proximity limit.
func (c Config) nearestSubject(els []*ground.Element, caption *ground.Element) *ground.Element {
	var best *ground.Element
	bestDist := c.CaptionProximity
	for _, cand := range els {
		if cand.Type != ground.TypeImage && cand.Type != ground.TypeTable {
			continue
		}
		if cand.Grounding == nil || cand.Grounding.Page != caption.Grounding.Page {
			continue
		}
		d := verticalGap(caption.Grounding.Box, cand.Grounding.Box)
		if d <= bestDist {
			best = cand
			bestDist = d
		}
	}
	return best
}

// verticalGap measures the distance between the facing horizontal edges
// of two boxes; overlapping boxes have gap zero.
func verticalGap(a, b ground.BoundingBox) float64 {
	if a.Y > b.Y+b.Height {
		return a.Y - (b.Y + b.Height)
	}
	if b.Y > a.Y+a.Height {
		return b.Y - (a.Y + a.Height)
	}
	return 0
}

// orderChildren sorts a page root's children into reading order:
// x-centers within ColumnGap of each other share a column, columns run
// left to right, elements top to bottom within a column.
func (c Config) orderChildren(idx map[string]*ground.Element, root *ground.Element) {
	kids := make([]*ground.Element, 0, len(root.Children))
	for _, id := range root.Children {
		kids = append(kids, idx[id])
	}

	sort.SliceStable(kids, func(i, j int) bool {
		return centerX(kids[i]) < centerX(kids[j])
	})

	var columns [][]*ground.Element
	for _, k := range kids {
		n := len(columns)
		if n > 0 {
			lastCol := columns[n-1]
			if math.Abs(centerX(k)-centerX(lastCol[0])) < c.ColumnGap {
				columns[n-1] = append(lastCol, k)
				continue
			}
		}
		columns = append(columns, []*ground.Element{k})
	}

	ordered := make([]string, 0, len(kids))
	for _, col := range columns {
		sort.SliceStable(col, func(i, j int) bool {
			return topY(col[i]) < topY(col[j])
		})
		for _, k := range col {
			ordered = append(ordered, k.ID)
		}
	}
	root.Children = ordered
}

func sortByY(idx map[string]*ground.Element, e *ground.Element) {
	sort.SliceStable(e.Children, func(i, j int) bool {
		return topY(idx[e.Children[i]]) < topY(idx[e.Children[j]])
	})
}

func centerX(e *ground.Element) float64 {
	if e.Grounding == nil {
		return 0
	}
	return e.Grounding.Box.X + e.Grounding.Box.Width/2
}

func topY(e *ground.Element) float64 {
	if e.Grounding == nil {
		return 0
	}
	return e.Grounding.Box.Y
}
