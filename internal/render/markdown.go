// Package render exports a parsed article as Markdown and sanitized HTML.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dgallion1/papergest/internal/doctree"
	"github.com/dgallion1/papergest/internal/mhtml"
	"github.com/dgallion1/papergest/internal/paper"
	"github.com/dgallion1/papergest/internal/refmap"
)

// Options control Markdown output.
type Options struct {
	// RefMarkers writes a marker where each reference stood: the citation
	// number for citations, the label for tables and figures. Useful when
	// xref text was dropped during parsing.
	RefMarkers bool
}

const maxHeading = 6

var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", "*", `\*`, "_", `\_`,
	"[", `\[`, "]", `\]`, "<", `\<`, ">", `\>`, "|", `\|`,
)

// Escape backslash-escapes characters with inline Markdown meaning.
func Escape(s string) string {
	return mdEscaper.Replace(s)
}

type writer struct {
	sb      strings.Builder
	p       *paper.Paper
	opts    Options
	citeNum map[*doctree.Citation]int
}

// Markdown renders p: title block, abstract, body sections with tables and
// figures in place, and a numbered reference list.
func Markdown(p *paper.Paper, opts Options) string {
	w := &writer{p: p, opts: opts, citeNum: map[*doctree.Citation]int{}}
	for i, c := range p.Citations {
		w.citeNum[c] = i + 1
	}

	w.header()
	if len(p.Abstract) > 0 {
		w.heading(2, "Abstract")
		w.nodes(p.Abstract, 3)
	}
	for _, s := range p.Body {
		w.section(s, 2)
	}
	w.references()
	return strings.TrimRight(w.sb.String(), "\n") + "\n"
}

func (w *writer) header() {
	p := w.p
	title := p.Title
	if title == "" {
		title = "PMC" + p.PMCID
	}
	w.heading(1, title)

	if names := p.AuthorNames(); len(names) > 0 {
		w.line(Escape(strings.Join(names, ", ")))
	}
	var info []string
	if j := p.Journal(); j != "" {
		info = append(info, "*"+Escape(j)+"*")
	}
	if pub := p.Published(); !pub.IsZero() {
		info = append(info, pub.Format("2006-01-02"))
	}
	if p.PMCID != "" {
		info = append(info, "PMCID: PMC"+p.PMCID)
	}
	if doi := p.ArticleIDs["doi"]; doi != "" {
		info = append(info, "DOI: "+Escape(doi))
	}
	if len(info) > 0 {
		w.line(strings.Join(info, " · "))
	}
	if len(p.Keywords) > 0 {
		w.line("**Keywords:** " + Escape(strings.Join(p.Keywords, ", ")))
	}
}

func (w *writer) nodes(nodes []doctree.Node, level int) {
	for _, n := range nodes {
		switch v := n.(type) {
		case *doctree.Section:
			w.section(v, level)
		case *doctree.Paragraph:
			w.paragraph(v)
		case *doctree.Table:
			w.table(v)
		case *doctree.Figure:
			w.figure(v)
		}
	}
}

func (w *writer) section(s *doctree.Section, level int) {
	if s.HasTitle && s.Title != "" {
		title := s.Title
		if s.Label != "" {
			title = s.Label + " " + title
		}
		w.heading(level, title)
		level++
	}
	w.nodes(s.Children, level)
}

func (w *writer) paragraph(p *doctree.Paragraph) {
	if !w.opts.RefMarkers {
		if t := strings.TrimSpace(p.Text); t != "" {
			w.line(Escape(t))
		}
		return
	}
	// NUL cannot occur in XML text, so it safely fences the keys while the
	// surrounding text is escaped.
	fenced := mhtml.Remove(mhtml.ReplaceDataRefs(p.TextWithRefs, func(k int) string {
		return "\x00" + strconv.Itoa(k) + "\x00"
	}))
	var sb strings.Builder
	for i, part := range strings.Split(fenced, "\x00") {
		if i%2 == 0 {
			sb.WriteString(Escape(part))
			continue
		}
		if k, err := strconv.Atoi(part); err == nil {
			sb.WriteString(w.marker(k))
		}
	}
	if t := strings.TrimSpace(sb.String()); t != "" {
		w.line(t)
	}
}

// marker renders a reference marker for key; escaped brackets keep Markdown
// from reading it as a link.
func (w *writer) marker(key int) string {
	v, ok := w.p.Refs.Get(key)
	if !ok {
		return ""
	}
	switch v.Kind {
	case refmap.KindCitation:
		if n, ok := w.citeNum[v.Citation]; ok {
			return fmt.Sprintf(`\[%d\]`, n)
		}
	case refmap.KindTable:
		if v.Table.Label != "" {
			return "(" + Escape(v.Table.Label) + ")"
		}
	case refmap.KindFigure:
		if v.Figure.Label != "" {
			return "(" + Escape(v.Figure.Label) + ")"
		}
	}
	return ""
}

func (w *writer) table(t *doctree.Table) {
	if t.Title != "" {
		w.line("**" + Escape(t.Title) + "**")
	}
	if t.Data == nil {
		return
	}
	width := t.Data.Width()
	if width == 0 {
		return
	}
	row := func(cells []string) {
		w.sb.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(cells) {
				cell = Escape(cells[i])
			}
			w.sb.WriteString(" " + cell + " |")
		}
		w.sb.WriteString("\n")
	}
	row(t.Data.Columns)
	w.sb.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
	for _, r := range t.Data.Rows {
		row(r)
	}
	w.sb.WriteString("\n")
}

func (w *writer) figure(f *doctree.Figure) {
	text := f.Label
	if f.Caption != "" {
		if text != "" {
			text += ": "
		}
		text += f.Caption
	}
	if text == "" && f.Link == "" {
		return
	}
	line := "*" + Escape(text) + "*"
	if f.Link != "" {
		line += " (graphic: `" + strings.ReplaceAll(f.Link, "`", "") + "`)"
	}
	w.line(line)
}

func (w *writer) references() {
	if len(w.p.Citations) == 0 {
		return
	}
	w.heading(2, "References")
	for i, c := range w.p.Citations {
		fmt.Fprintf(&w.sb, "%d. %s\n", i+1, Escape(FormatCitation(c)))
	}
	w.sb.WriteString("\n")
}

// FormatCitation renders a citation in a compact Vancouver-like style.
func FormatCitation(c *doctree.Citation) string {
	if len(c.Authors) == 0 && c.Title == "" && c.Text != "" {
		return c.Text
	}
	var parts []string
	if len(c.Authors) > 0 {
		parts = append(parts, strings.Join(c.Authors, ", ")+".")
	}
	if c.Title != "" {
		parts = append(parts, strings.TrimSuffix(c.Title, ".")+".")
	}
	if c.Source != "" {
		parts = append(parts, strings.TrimSuffix(c.Source, ".")+".")
	}
	var loc string
	if c.Year != "" {
		loc = c.Year
	}
	if c.Volume != "" {
		loc += ";" + c.Volume
	}
	if c.FirstPage != "" {
		loc += ":" + c.FirstPage
		if c.LastPage != "" {
			loc += "-" + c.LastPage
		}
	}
	if loc != "" {
		parts = append(parts, strings.TrimPrefix(loc, ";")+".")
	}
	if c.DOI != "" {
		parts = append(parts, "doi:"+c.DOI)
	}
	if c.PMID != "" {
		parts = append(parts, "PMID: "+c.PMID)
	}
	return strings.Join(parts, " ")
}

func (w *writer) heading(level int, text string) {
	level = min(max(level, 1), maxHeading)
	w.sb.WriteString(strings.Repeat("#", level) + " " + Escape(text) + "\n\n")
}

func (w *writer) line(s string) {
	w.sb.WriteString(s + "\n\n")
}
