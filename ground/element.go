package ground

import (
	"encoding/json"
	"fmt"
)

// Type identifies the kind of an extracted element.
type Type string

const (
	TypeText      Type = "text"
	TypeTable     Type = "table"
	TypeFormField Type = "form_field"
	TypeImage     Type = "image"
	TypeHeader    Type = "header"
	TypePage      Type = "page"
)

// ValidType reports whether t is one of the known element types.
func ValidType(t Type) bool {
	switch t {
	case TypeText, TypeTable, TypeFormField, TypeImage, TypeHeader, TypePage:
		return true
	}
	return false
}

// ContentKind discriminates the Content union.
type ContentKind string

const (
	KindText  ContentKind = "text"
	KindTable ContentKind = "table"
)

// TableData is the structured payload of a table element.
type TableData struct {
	Rows [][]string `json:"rows"`
}

// Content is a tagged union: either plain text or a structured table
// payload, discriminated by Kind. Consumers switch on Kind exhaustively
// instead of probing an untyped blob.
type Content struct {
	Kind  ContentKind `json:"kind"`
	Text  string      `json:"text,omitempty"`
	Table *TableData  `json:"table,omitempty"`
}

// TextContent builds a text-kind Content.
func TextContent(s string) Content {
	return Content{Kind: KindText, Text: s}
}

// TableContent builds a table-kind Content.
func TableContent(rows [][]string) Content {
	return Content{Kind: KindTable, Table: &TableData{Rows: rows}}
}

// Validate checks that the discriminant matches the populated variant.
func (c Content) Validate() error {
	switch c.Kind {
	case KindText:
		if c.Table != nil {
			return fmt.Errorf("ground: text content carries a table payload")
		}
		return nil
	case KindTable:
		if c.Table == nil {
			return fmt.Errorf("ground: table content missing rows")
		}
		return nil
	default:
		return fmt.Errorf("ground: unknown content kind %q", c.Kind)
	}
}

// Equal reports content equality. Used for correction idempotence checks.
func (c Content) Equal(other Content) bool {
	if c.Kind != other.Kind {
		return false
	}
	switch c.Kind {
	case KindText:
		return c.Text == other.Text
	case KindTable:
		if c.Table == nil || other.Table == nil {
			return c.Table == other.Table
		}
		if len(c.Table.Rows) != len(other.Table.Rows) {
			return false
		}
		for i, row := range c.Table.Rows {
			if len(row) != len(other.Table.Rows[i]) {
				return false
			}
			for j, cell := range row {
				if cell != other.Table.Rows[i][j] {
					return false
				}
			}
		}
		return true
	}
	return false
}

// Structural-warning flags recorded on elements. Warnings never abort a
// transaction; they surface per-element anomalies for human review.
const (
	FlagClampedBox      = "clamped_box"
	FlagUnplaced        = "unplaced"
	FlagUnlinkedCaption = "unlinked_caption"
)

// Element is a typed, confidence-scored unit of extracted content.
type Element struct {
	ID         string     `json:"id"`
	Type       Type       `json:"type"`
	Content    Content    `json:"content"`
	Confidence float64    `json:"confidence"`
	Validated  bool       `json:"validated"`
	Grounding  *Grounding `json:"grounding,omitempty"` // nil only for page containers

	ParentID string   `json:"parent_id,omitempty"`
	Children []string `json:"children_ids,omitempty"` // ordered

	// CaptionOf is a weak reference to the image/table this element
	// captions: an ID plus lookup, never ownership. Deleting the subject
	// orphans the caption, it does not delete it.
	CaptionOf string `json:"caption_of,omitempty"`

	Flags []string `json:"flags,omitempty"`
}

// AddFlag records a structural warning once.
func (e *Element) AddFlag(flag string) {
	for _, f := range e.Flags {
		if f == flag {
			return
		}
	}
	e.Flags = append(e.Flags, flag)
}

// HasFlag reports whether the element carries the given warning.
func (e *Element) HasFlag(flag string) bool {
	for _, f := range e.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Stages operate on per-stage snapshots;
// cloning keeps a stage's input immutable while it builds its output.
func (e *Element) Clone() *Element {
	c := *e
	if e.Grounding != nil {
		g := *e.Grounding
		c.Grounding = &g
	}
	if e.Children != nil {
		c.Children = append([]string(nil), e.Children...)
	}
	if e.Flags != nil {
		c.Flags = append([]string(nil), e.Flags...)
	}
	if e.Content.Table != nil {
		rows := make([][]string, len(e.Content.Table.Rows))
		for i, r := range e.Content.Table.Rows {
			rows[i] = append([]string(nil), r...)
		}
		c.Content.Table = &TableData{Rows: rows}
	}
	return &c
}

// MarshalContent serializes the content union for storage.
func MarshalContent(c Content) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("ground: marshal content: %w", err)
	}
	return string(data), nil
}

// UnmarshalContent deserializes a stored content union and re-validates
// the discriminant.
func UnmarshalContent(s string) (Content, error) {
	var c Content
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return Content{}, fmt.Errorf("ground: unmarshal content: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Content{}, err
	}
	return c, nil
}
