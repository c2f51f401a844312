// Package tabular converts HTML-style table markup into rows of cell text.
package tabular

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// ErrNoTable is returned when the markup holds no table with readable cells,
// for example a table-wrap that only carries a graphic.
var ErrNoTable = errors.New("no table found")

// Table is a rectangular view of a table: one column label per column and
// one string per cell.
type Table struct {
	Columns []string   `json:"columns,omitempty"`
	Rows    [][]string `json:"rows"`
}

// Width returns the number of columns.
func (t *Table) Width() int {
	w := len(t.Columns)
	for _, r := range t.Rows {
		if len(r) > w {
			w = len(r)
		}
	}
	return w
}

// Converter turns table markup into a Table.
type Converter interface {
	Convert(markup string) (*Table, error)
}

// HTMLConverter parses markup with the HTML5 parser.
type HTMLConverter struct{}

func (HTMLConverter) Convert(markup string) (*Table, error) {
	return Convert(markup)
}

// Convert reads the first table in markup. Header rows come from thead, or
// from leading rows made only of th cells. colspan and rowspan are expanded.
func Convert(markup string) (*Table, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse table: %w", err)
	}
	tbl := findElement(doc, "table")
	if tbl == nil {
		return nil, ErrNoTable
	}

	var rows []row
	var collect func(*html.Node, bool)
	collect = func(n *html.Node, inHead bool) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.Data {
			case "thead":
				collect(c, true)
			case "tbody", "tfoot":
				collect(c, false)
			case "tr":
				if r := readRow(c, inHead); len(r.cells) > 0 {
					rows = append(rows, r)
				}
			case "table":
				// Nested tables are read as cell text of the outer table.
			default:
				collect(c, inHead)
			}
		}
	}
	collect(tbl, false)

	grid := expandSpans(rows)
	if len(grid) == 0 {
		return nil, ErrNoTable
	}

	headerRows := 0
	for i, r := range rows {
		if r.head || (headerRows == i && r.allTH && i < len(rows)-1) {
			headerRows = i + 1
			continue
		}
		break
	}

	out := &Table{}
	if headerRows > 0 {
		out.Columns = mergeHeader(grid[:headerRows])
	}
	out.Rows = grid[headerRows:]
	if out.Rows == nil {
		out.Rows = [][]string{}
	}
	return out, nil
}

type cell struct {
	text    string
	colspan int
	rowspan int
}

type row struct {
	cells []cell
	head  bool
	allTH bool
}

func readRow(tr *html.Node, inHead bool) row {
	r := row{head: inHead, allTH: true}
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.Data != "td" && c.Data != "th") {
			continue
		}
		if c.Data != "th" {
			r.allTH = false
		}
		r.cells = append(r.cells, cell{
			text:    collapse(textContent(c)),
			colspan: spanAttr(c, "colspan", maxColspan),
			rowspan: spanAttr(c, "rowspan", maxRowspan),
		})
	}
	if len(r.cells) == 0 {
		r.allTH = false
	}
	return r
}

// expandSpans lays rows out on a grid, copying spanned cells into every
// position they cover.
func expandSpans(rows []row) [][]string {
	type carry struct {
		text      string
		remaining int
	}
	pending := map[int]carry{}
	var grid [][]string
	for _, r := range rows {
		var line []string
		col := 0
		place := func() {
			for {
				p, ok := pending[col]
				if !ok {
					return
				}
				line = append(line, p.text)
				if p.remaining <= 1 {
					delete(pending, col)
				} else {
					pending[col] = carry{text: p.text, remaining: p.remaining - 1}
				}
				col++
			}
		}
		for _, c := range r.cells {
			place()
			for range c.colspan {
				line = append(line, c.text)
				if c.rowspan > 1 {
					pending[col] = carry{text: c.text, remaining: c.rowspan - 1}
				}
				col++
			}
		}
		place()
		if len(line) > 0 {
			grid = append(grid, line)
		}
	}
	return grid
}

// mergeHeader joins stacked header rows column by column.
func mergeHeader(rows [][]string) []string {
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	cols := make([]string, width)
	for i := range width {
		var parts []string
		for _, r := range rows {
			if i >= len(r) || r[i] == "" {
				continue
			}
			if len(parts) > 0 && parts[len(parts)-1] == r[i] {
				continue
			}
			parts = append(parts, r[i])
		}
		cols[i] = strings.Join(parts, " ")
	}
	return cols
}

// Span limits, as in the HTML table model.
const (
	maxColspan = 1000
	maxRowspan = 65534
)

// spanAttr reads a positive span attribute, clamped to limit.
func spanAttr(n *html.Node, name string, limit int) int {
	for _, a := range n.Attr {
		if a.Key == name {
			if v, err := strconv.Atoi(strings.TrimSpace(a.Val)); err == nil && v > 0 {
				return min(v, limit)
			}
		}
	}
	return 1
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findElement(c, tag); f != nil {
			return f
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && n.Data == "br" {
			buf.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return buf.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
