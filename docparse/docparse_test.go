package docparse

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/docground/ground"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name string
		head []byte
		want Format
		ok   bool
	}{
		{"doc.pdf", []byte("%PDF-1.4\n"), FormatPDF, true},
		{"scan.png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A}, FormatPNG, true},
		{"photo.jpg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0}, FormatJPEG, true},
		{"photo.jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0}, FormatJPEG, true},
		{"notes.docx", nil, "", false},
		{"renamed.pdf", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A}, "", false}, // magic mismatch
	}
	for _, c := range cases {
		got, err := DetectFormat(c.name, c.head)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("%s: got (%q, %v), want %q", c.name, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Errorf("%s: expected error, got %q", c.name, got)
		}
	}
}

func TestParsePNG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.png")
	writeTestPNG(t, path, 640, 480)

	p := New(Config{})
	doc, err := p.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(doc.Pages) != 1 || doc.Pages[0].Width != 640 || doc.Pages[0].Height != 480 {
		t.Errorf("pages: %+v", doc.Pages)
	}
	if len(doc.Elements) != 1 {
		t.Fatalf("elements: got %d, want 1", len(doc.Elements))
	}
	el := doc.Elements[0]
	if el.Type != ground.TypeImage || !el.Placed || el.W != 640 || el.H != 480 {
		t.Errorf("element: %+v", el)
	}
}

func TestParseRejectsOversized(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.png")
	writeTestPNG(t, path, 10, 10)

	p := New(Config{MaxFileSize: 8})
	if _, err := p.Parse(context.Background(), path); err == nil {
		t.Error("oversized file accepted")
	}
}

func TestParsePDF_Text(t *testing.T) {
	// WHAT: PDF with positioned text produces placed elements on page 1.
	// WHY: Grounding requires every extracted run to carry coordinates.
	dir := t.TempDir()
	path := filepath.Join(dir, "text.pdf")
	raw := buildTextPDF("Quarterly revenue summary for the northern region")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatal(err)
	}

	p := New(Config{})
	doc, err := p.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Quality == nil {
		t.Fatal("expected quality metrics for PDF")
	}
	if len(doc.Pages) != 1 || doc.Pages[0].Width != 612 || doc.Pages[0].Height != 792 {
		t.Errorf("pages: %+v", doc.Pages)
	}
	for _, el := range doc.Elements {
		if el.Text != "" && !el.Placed {
			t.Errorf("text element without placement: %+v", el)
		}
		if el.Placed && (el.X < 0 || el.Y < 0) {
			t.Errorf("element with negative position: %+v", el)
		}
	}
	var all strings.Builder
	for _, el := range doc.Elements {
		all.WriteString(el.Text)
	}
	if !strings.Contains(all.String(), "revenue") {
		t.Logf("extracted: %q", all.String())
		t.Log("note: pdfcpu may not extract text from minimal PDFs")
	}
}

func TestAssembleElements_Table(t *testing.T) {
	// WHAT: Column-aligned runs on stacked baselines become one table
	// element with per-row cells.
	runs := []textRun{
		{text: "Item", x: 72, y: 100, size: 10},
		{text: "Qty", x: 300, y: 100, size: 10},
		{text: "Bolt", x: 72, y: 114, size: 10},
		{text: "40", x: 300, y: 114, size: 10},
		{text: "Nut", x: 72, y: 128, size: 10},
		{text: "25", x: 300, y: 128, size: 10},
	}
	els := assembleElements(runs, 1, 612)
	if len(els) != 1 {
		t.Fatalf("got %d elements, want 1 table: %+v", len(els), els)
	}
	tab := els[0]
	if tab.Type != ground.TypeTable {
		t.Fatalf("type: %s", tab.Type)
	}
	if len(tab.Rows) != 3 || len(tab.Rows[0]) != 2 {
		t.Fatalf("rows: %+v", tab.Rows)
	}
	if tab.Rows[1][0] != "Bolt" || tab.Rows[2][1] != "25" {
		t.Errorf("cell content: %+v", tab.Rows)
	}
}

func TestAssembleElements_HeaderAndBody(t *testing.T) {
	runs := []textRun{
		{text: "Annual Report", x: 72, y: 60, size: 24},
		{text: "The first paragraph of the body text.", x: 72, y: 110, size: 10},
		{text: "It continues on the next line.", x: 72, y: 124, size: 10},
	}
	els := assembleElements(runs, 1, 612)
	if len(els) != 2 {
		t.Fatalf("got %d elements, want header+body: %+v", len(els), els)
	}
	if els[0].Type != ground.TypeHeader {
		t.Errorf("first element type: %s", els[0].Type)
	}
	if els[1].Type != ground.TypeText || !strings.Contains(els[1].Text, "continues") {
		t.Errorf("body block not merged: %+v", els[1])
	}
}

func TestAssembleElements_FormField(t *testing.T) {
	runs := []textRun{
		{text: "Name: ________", x: 72, y: 100, size: 10},
	}
	els := assembleElements(runs, 1, 612)
	if len(els) != 1 || els[0].Type != ground.TypeFormField {
		t.Errorf("form field not detected: %+v", els)
	}
}

func TestQualityRatios(t *testing.T) {
	if r := computePrintableRatio("normal text"); r != 1.0 {
		t.Errorf("printable ratio of clean text: %f", r)
	}
	garbage := strings.Repeat(string(rune(0xE123)), 50) + "ok"
	if r := computePrintableRatio(garbage); r > 0.1 {
		t.Errorf("printable ratio of PUA garbage: %f", r)
	}
	if r := computeWordlikeRatio("the quick brown fox"); r != 1.0 {
		t.Errorf("wordlike ratio: %f", r)
	}
	q := &ExtractionQuality{PageCount: 4, CharsPerPage: 10, PrintableRatio: 0.99}
	if !q.Suspicious() {
		t.Error("near-empty pages should be suspicious")
	}
}

// --- test helpers ---

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

// buildTextPDF creates a valid single-page PDF with proper xref offsets.
func buildTextPDF(text string) []byte {
	escaped := strings.ReplaceAll(text, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, "(", `\(`)
	escaped = strings.ReplaceAll(escaped, ")", `\)`)

	stream := "BT\n/F1 12 Tf\n72 720 Td\n(" + escaped + ") Tj\nET"

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")

	offsets := make([]int, 6)

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = b.Len()
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")

	offsets[3] = b.Len()
	b.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>\nendobj\n")

	offsets[4] = b.Len()
	b.WriteString("4 0 obj\n<< /Length ")
	b.WriteString(itoa(len(stream)))
	b.WriteString(" >>\nstream\n")
	b.WriteString(stream)
	b.WriteString("\nendstream\nendobj\n")

	offsets[5] = b.Len()
	b.WriteString("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	xrefOffset := b.Len()
	b.WriteString("xref\n0 6\n")
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		b.WriteString(padOffset(offsets[i]))
		b.WriteString(" 00000 n \n")
	}
	b.WriteString("trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n")
	b.WriteString(itoa(xrefOffset))
	b.WriteString("\n%%EOF\n")

	return []byte(b.String())
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	s := ""
	for n > 0 {
		s = string(rune('0'+n%10)) + s
		n /= 10
	}
	return s
}

func padOffset(n int) string {
	s := itoa(n)
	for len(s) < 10 {
		s = "0" + s
	}
	return s
}
