package docparse

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/docground/ground"
)

// parsePDF extracts positioned elements from a PDF using pdfcpu for
// structure-aware parsing. Pages are processed concurrently.
func parsePDF(ctx context.Context, path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	pctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	if pctx.PageCount == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	pages := make([]PageInfo, pctx.PageCount)
	perPage := make([][]RawElement, pctx.PageCount)

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
		g.Go(func() error {
			dim, err := pageDimensions(pctx, pageNr)
			if err != nil {
				return err
			}
			pages[pageNr-1] = PageInfo{Number: pageNr, Width: dim.w, Height: dim.h}

			runs := extractPageRuns(pctx, pageNr, dim.h)
			els := assembleElements(runs, pageNr, dim.w)

			if len(pdfcpu.ImageObjNrs(pctx, pageNr)) > 0 {
				// Image XObjects carry no placement in the content we read;
				// emitted unplaced so downstream can flag them.
				els = append(els, RawElement{
					Type:       ground.TypeImage,
					Page:       pageNr,
					Placed:     false,
					Confidence: 0.9,
				})
			}
			perPage[pageNr-1] = els
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []RawElement
	var textB strings.Builder
	totalChars := 0
	for _, els := range perPage {
		for _, e := range els {
			all = append(all, e)
			if e.Text != "" {
				textB.WriteString(e.Text)
				textB.WriteByte('\n')
				totalChars += len([]rune(e.Text))
			}
		}
	}

	fullText := textB.String()
	quality := &ExtractionQuality{
		PageCount:      pctx.PageCount,
		CharsPerPage:   float64(totalChars) / float64(pctx.PageCount),
		PrintableRatio: computePrintableRatio(fullText),
		WordlikeRatio:  computeWordlikeRatio(fullText),
	}

	return &Document{Format: FormatPDF, Pages: pages, Elements: all, Quality: quality}, nil
}

type pageDim struct{ w, h float64 }

func pageDimensions(pctx *model.Context, pageNr int) (pageDim, error) {
	dims, err := pctx.PageDims()
	if err != nil || pageNr > len(dims) {
		return pageDim{w: 612, h: 792}, nil // US Letter fallback
	}
	d := dims[pageNr-1]
	if d.Width <= 0 || d.Height <= 0 {
		return pageDim{w: 612, h: 792}, nil
	}
	return pageDim{w: d.Width, h: d.Height}, nil
}

// textRun is one shown string with its position in top-left page space.
type textRun struct {
	text string
	x, y float64 // top-left origin, points
	size float64 // font size in points
}

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)

// extractPageRuns walks the page content stream and records every shown
// string with the text cursor position at the time it was shown. The
// cursor tracks Tm, Td/TD and T* operators; anything fancier (rotated
// text matrices) degrades to an unpositioned run at the last cursor.
func extractPageRuns(pctx *model.Context, pageNr int, pageH float64) []textRun {
	r, err := pdfcpu.ExtractPageContent(pctx, pageNr)
	if err != nil {
		return nil
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return nil
	}

	var runs []textRun
	var curX, curY, lineX float64
	fontSize := 12.0
	leading := 14.0

	emit := func(line []byte, newline bool) {
		matches := pdfStringRe.FindAllSubmatch(line, -1)
		for _, m := range matches {
			text := cleanPDFText(decodePDFString(m[1]))
			if text == "" {
				continue
			}
			runs = append(runs, textRun{
				text: text,
				x:    curX,
				y:    pageH - curY, // flip to top-left origin
				size: fontSize,
			})
			// Advance the cursor by a crude width estimate so that
			// consecutive Tj on one line do not stack at the same x.
			curX += float64(len([]rune(text))) * fontSize * 0.5
		}
		if newline {
			curY -= leading
			curX = lineX
		}
	}

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		case bytes.HasSuffix(line, []byte("Tm")):
			if nums := trailingNumbers(line, 6); len(nums) == 6 {
				curX, curY = nums[4], nums[5]
				lineX = curX
				if s := math.Abs(nums[3]); s > 0.01 {
					fontSize = 12 * s
				}
			}
		case bytes.HasSuffix(line, []byte("Td")):
			if nums := trailingNumbers(line, 2); len(nums) == 2 {
				lineX += nums[0]
				curX = lineX
				curY += nums[1]
			}
		case bytes.HasSuffix(line, []byte("TD")):
			if nums := trailingNumbers(line, 2); len(nums) == 2 {
				lineX += nums[0]
				curX = lineX
				curY += nums[1]
				if nums[1] != 0 {
					leading = math.Abs(nums[1])
				}
			}
		case bytes.HasSuffix(line, []byte("Tf")):
			if nums := trailingNumbers(line, 1); len(nums) == 1 && nums[0] > 0 {
				fontSize = nums[0]
				if leading < fontSize {
					leading = fontSize * 1.2
				}
			}
		case bytes.HasSuffix(line, []byte("TL")):
			if nums := trailingNumbers(line, 1); len(nums) == 1 && nums[0] > 0 {
				leading = nums[0]
			}
		case bytes.Equal(line, []byte("T*")):
			curY -= leading
			curX = lineX
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			emit(line, false)
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			curY -= leading
			curX = lineX
			emit(line, false)
		}
	}
	return runs
}

// trailingNumbers parses up to n numeric operands immediately preceding
// the operator at the end of a content-stream line.
func trailingNumbers(line []byte, n int) []float64 {
	fields := strings.Fields(string(line))
	if len(fields) < n+1 {
		return nil
	}
	out := make([]float64, 0, n)
	for _, f := range fields[len(fields)-1-n : len(fields)-1] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}

// visualLine groups runs sharing a baseline.
type visualLine struct {
	y, size float64
	runs    []textRun
}

// assembleElements groups positioned runs into text blocks, headers,
// tables and form fields for one page.
func assembleElements(runs []textRun, pageNr int, pageW float64) []RawElement {
	if len(runs) == 0 {
		return nil
	}

	sort.SliceStable(runs, func(i, j int) bool {
		if math.Abs(runs[i].y-runs[j].y) > 2 {
			return runs[i].y < runs[j].y
		}
		return runs[i].x < runs[j].x
	})

	var lines []visualLine
	for _, r := range runs {
		if len(lines) > 0 && math.Abs(lines[len(lines)-1].y-r.y) <= 2 {
			last := &lines[len(lines)-1]
			last.runs = append(last.runs, r)
			if r.size > last.size {
				last.size = r.size
			}
			continue
		}
		lines = append(lines, visualLine{y: r.y, size: r.size, runs: []textRun{r}})
	}

	// Median font size separates headers from body text.
	sizes := make([]float64, len(lines))
	for i, l := range lines {
		sizes[i] = l.size
	}
	sort.Float64s(sizes)
	median := sizes[len(sizes)/2]

	var els []RawElement
	i := 0
	for i < len(lines) {
		// Table: a row of >=2 column-aligned lines stacked together.
		if cols := columnCount(lines[i]); cols >= 2 {
			j := i + 1
			for j < len(lines) && columnCount(lines[j]) >= 2 && lines[j].y-lines[j-1].y < lines[j-1].size*2.5 {
				j++
			}
			if j-i >= 2 {
				els = append(els, tableElement(lines[i:j], pageNr))
				i = j
				continue
			}
		}

		line := lines[i]
		text := joinRuns(line.runs)

		switch {
		case formFieldRe.MatchString(text):
			els = append(els, lineElement(line, pageNr, ground.TypeFormField, text, 0.85))
		case line.size >= median*1.4 && line.size >= 13:
			els = append(els, lineElement(line, pageNr, ground.TypeHeader, text, 0.9))
		default:
			// Merge contiguous body lines into one paragraph block.
			j := i + 1
			block := []visualLine{line}
			for j < len(lines) && columnCount(lines[j]) < 2 &&
				lines[j].size < median*1.4 &&
				!formFieldRe.MatchString(joinRuns(lines[j].runs)) &&
				lines[j].y-lines[j-1].y < lines[j-1].size*2.0 {
				block = append(block, lines[j])
				j++
			}
			els = append(els, blockElement(block, pageNr, pageW))
			i = j
			continue
		}
		i++
	}
	return els
}

// formFieldRe matches "Label: ____" style fill-in lines and checkboxes.
var formFieldRe = regexp.MustCompile(`(?::\s*_{2,}|^\s*[☐☑✓\[\]]{1,3}\s+\S)`)

func columnCount(l visualLine) int {
	if len(l.runs) < 2 {
		return len(l.runs)
	}
	cols := 1
	for i := 1; i < len(l.runs); i++ {
		gap := l.runs[i].x - runEnd(l.runs[i-1])
		if gap > l.size*2 {
			cols++
		}
	}
	return cols
}

func runEnd(r textRun) float64 {
	return r.x + float64(len([]rune(r.text)))*r.size*0.5
}

func joinRuns(runs []textRun) string {
	parts := make([]string, len(runs))
	for i, r := range runs {
		parts[i] = r.text
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func lineElement(l visualLine, pageNr int, typ ground.Type, text string, conf float64) RawElement {
	x0, x1 := lineExtent(l)
	return RawElement{
		Type: typ, Text: text, Page: pageNr,
		X: x0, Y: l.y - l.size, W: x1 - x0, H: l.size * 1.3,
		Placed: true, Confidence: conf,
	}
}

func blockElement(block []visualLine, pageNr int, pageW float64) RawElement {
	var parts []string
	x0, x1 := math.MaxFloat64, 0.0
	for _, l := range block {
		parts = append(parts, joinRuns(l.runs))
		lx0, lx1 := lineExtent(l)
		x0 = math.Min(x0, lx0)
		x1 = math.Max(x1, lx1)
	}
	top := block[0].y - block[0].size
	bottom := block[len(block)-1].y + block[len(block)-1].size*0.3
	if x1 > pageW {
		x1 = pageW
	}
	return RawElement{
		Type: ground.TypeText, Text: strings.Join(parts, " "), Page: pageNr,
		X: x0, Y: top, W: x1 - x0, H: bottom - top,
		Placed: true, Confidence: 0.9,
	}
}

func tableElement(block []visualLine, pageNr int) RawElement {
	rows := make([][]string, 0, len(block))
	x0, x1 := math.MaxFloat64, 0.0
	for _, l := range block {
		var row []string
		cell := l.runs[0].text
		for i := 1; i < len(l.runs); i++ {
			if l.runs[i].x-runEnd(l.runs[i-1]) > l.size*2 {
				row = append(row, strings.TrimSpace(cell))
				cell = l.runs[i].text
			} else {
				cell += " " + l.runs[i].text
			}
		}
		row = append(row, strings.TrimSpace(cell))
		rows = append(rows, row)
		lx0, lx1 := lineExtent(l)
		x0 = math.Min(x0, lx0)
		x1 = math.Max(x1, lx1)
	}
	top := block[0].y - block[0].size
	bottom := block[len(block)-1].y + block[len(block)-1].size*0.3
	return RawElement{
		Type: ground.TypeTable, Rows: rows, Page: pageNr,
		X: x0, Y: top, W: x1 - x0, H: bottom - top,
		Placed: true, Confidence: 0.8,
	}
}

func lineExtent(l visualLine) (float64, float64) {
	x0, x1 := math.MaxFloat64, 0.0
	for _, r := range l.runs {
		x0 = math.Min(x0, r.x)
		x1 = math.Max(x1, runEnd(r))
	}
	return x0, x1
}

// decodePDFString handles basic PDF escape sequences.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
			switch raw[i] {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '\\':
				sb.WriteByte('\\')
			case '(':
				sb.WriteByte('(')
			case ')':
				sb.WriteByte(')')
			default:
				// Octal escape (e.g. \040 for space).
				if raw[i] >= '0' && raw[i] <= '7' {
					val := int(raw[i] - '0')
					if i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7' {
						i++
						val = val*8 + int(raw[i]-'0')
						if i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7' {
							i++
							val = val*8 + int(raw[i]-'0')
						}
					}
					sb.WriteByte(byte(val))
				} else {
					sb.WriteByte(raw[i])
				}
			}
		} else {
			sb.WriteByte(raw[i])
		}
	}
	return sb.String()
}
