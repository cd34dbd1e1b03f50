package pipeline

import (
	"fmt"

	"github.com/hazyhaar/docground/docparse"
	"github.com/hazyhaar/docground/ground"
)

// Normalize converts raw parser output into grounded elements: one page
// root per page (even empty pages), pixel boxes scaled into fractional
// bounding boxes, provisional element IDs assigned. Out-of-range boxes
// are clamped and flagged; unplaced raw elements get a full-page box and
// the unplaced flag.
func (c Config) Normalize(doc *docparse.Document) ([]*ground.Element, error) {
	c.defaults()
	if len(doc.Pages) == 0 {
		return nil, fmt.Errorf("pipeline: document has no pages")
	}

	pageDims := make(map[int]docparse.PageInfo, len(doc.Pages))
	pageRoots := make(map[int]*ground.Element, len(doc.Pages))
	var out []*ground.Element

	for _, p := range doc.Pages {
		if p.Width <= 0 || p.Height <= 0 {
			return nil, fmt.Errorf("pipeline: page %d has empty dimensions", p.Number)
		}
		pageDims[p.Number] = p
		root := &ground.Element{
			ID:      c.NewID(),
			Type:    ground.TypePage,
			Content: ground.TextContent(""),
		}
		pageRoots[p.Number] = root
		out = append(out, root)
	}

	for _, raw := range doc.Elements {
		dim, ok := pageDims[raw.Page]
		if !ok {
			return nil, fmt.Errorf("pipeline: element on unknown page %d", raw.Page)
		}

		el := &ground.Element{
			ID:         c.NewID(),
			Type:       raw.Type,
			Confidence: raw.Confidence,
		}
		if !ground.ValidType(raw.Type) || raw.Type == ground.TypePage {
			return nil, fmt.Errorf("pipeline: parser emitted element type %q", raw.Type)
		}

		switch raw.Type {
		case ground.TypeTable:
			el.Content = ground.TableContent(raw.Rows)
		default:
			el.Content = ground.TextContent(raw.Text)
		}

		if raw.Placed {
			box, clamped := ground.ClampBox(
				raw.X/dim.Width, raw.Y/dim.Height,
				raw.W/dim.Width, raw.H/dim.Height)
			el.Grounding = &ground.Grounding{Page: raw.Page, Box: box}
			if clamped {
				el.AddFlag(ground.FlagClampedBox)
				c.Logger.Debug("clamped bounding box", "element", el.ID, "page", raw.Page)
			}
		} else {
			el.Grounding = &ground.Grounding{
				Page: raw.Page,
				Box:  ground.BoundingBox{Width: 1, Height: 1},
			}
			el.AddFlag(ground.FlagUnplaced)
		}

		// Provisional attachment; Structure may re-parent into a
		// containing element.
		root := pageRoots[raw.Page]
		el.ParentID = root.ID
		root.Children = append(root.Children, el.ID)
		out = append(out, el)
	}

	return out, nil
}
