package pipeline

import "github.com/hazyhaar/docground/ground"

// Validate scores every element: parser confidence minus structural
// penalties, floored at zero. Elements at or above the threshold are
// marked validated; the rest stay in the result unvalidated — low
// confidence surfaces for review, it never deletes. Ancestors holding
// children aggregate to the minimum confidence over their grounded
// descendants.
func (c Config) Validate(els []*ground.Element) {
	c.defaults()

	for _, e := range els {
		if e.Type == ground.TypePage {
			continue
		}
		conf := e.Confidence
		if e.HasFlag(ground.FlagClampedBox) {
			conf -= penaltyClampedBox
		}
		if e.HasFlag(ground.FlagUnlinkedCaption) {
			conf -= penaltyUnlinkedCaption
		}
		if e.HasFlag(ground.FlagUnplaced) {
			conf -= penaltyUnplaced
		}
		if conf < 0 {
			conf = 0
		}
		e.Confidence = conf
		e.Validated = conf >= c.ValidationThreshold
	}

	idx := ground.Index(els)
	for _, e := range els {
		if len(e.Children) == 0 {
			continue
		}
		minConf := 1.0
		seen := false
		for _, d := range ground.Descendants(idx, e.ID) {
			if d.Grounding == nil {
				continue
			}
			seen = true
			if d.Confidence < minConf {
				minConf = d.Confidence
			}
		}
		if seen {
			e.Confidence = minConf
		}
	}
}
