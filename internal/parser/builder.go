// Package parser builds document trees from JATS article XML.
//
// A Builder walks xmlquery element nodes and produces doctree values. It
// carries the per-document registry, warning collector and splitter options
// explicitly, so nodes never reach back to their parents for shared state.
package parser

import (
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/dgallion1/papergest/internal/clean"
	"github.com/dgallion1/papergest/internal/doctree"
	"github.com/dgallion1/papergest/internal/mhtml"
	"github.com/dgallion1/papergest/internal/refmap"
	"github.com/dgallion1/papergest/internal/tabular"
	"github.com/dgallion1/papergest/internal/warn"
)

// Builder turns article elements into tree nodes.
type Builder struct {
	reg    *refmap.Registry
	warn   *warn.Collector
	opts   clean.Options
	Tables tabular.Converter
}

// NewBuilder returns a builder that registers references in reg and
// reports anomalies to w.
func NewBuilder(reg *refmap.Registry, w *warn.Collector, opts clean.Options) *Builder {
	return &Builder{
		reg:    reg,
		warn:   w,
		opts:   opts,
		Tables: tabular.HTMLConverter{},
	}
}

// Registry returns the registry shared by every node this builder creates.
func (b *Builder) Registry() *refmap.Registry { return b.reg }

// Paragraph flattens a p element and splits its references out.
func (b *Builder) Paragraph(n *xmlquery.Node) *doctree.Paragraph {
	raw := collapseSpace(StringifyChildren(n))
	withRefs := clean.Split(raw, b.reg, contextID(n), b.opts, b.warn)
	withRefs = mhtml.UnescapeExcept(withRefs)
	return &doctree.Paragraph{
		ID:           n.SelectAttr("id"),
		Text:         strings.TrimSpace(mhtml.Remove(withRefs)),
		TextWithRefs: withRefs,
	}
}

// Section builds a sec element and everything below it. The first title
// child wins; later ones raise MultipleTitle. Children other than title,
// label, sec, p, table-wrap and fig raise UnhandledTextTag and are skipped.
func (b *Builder) Section(n *xmlquery.Node) *doctree.Section {
	s := &doctree.Section{ID: n.SelectAttr("id")}
	ctx := contextID(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case xmlquery.ElementNode:
		case xmlquery.TextNode, xmlquery.CharDataNode:
			if strings.TrimSpace(c.Data) != "" {
				b.warn.Warn(warn.BadTextFormatting, ctx, "loose text directly inside <%s>", n.Data)
			}
			continue
		default:
			continue
		}
		switch c.Data {
		case "title":
			if s.HasTitle {
				b.warn.Warn(warn.MultipleTitle, ctx, "section already titled %q, ignoring %q", s.Title, b.PlainText(c))
				continue
			}
			s.Title = b.PlainText(c)
			s.HasTitle = true
		case "label":
			s.Label = b.PlainText(c)
		case "sec":
			s.Children = append(s.Children, b.Section(c))
		case "p":
			s.Children = append(s.Children, b.Paragraph(c))
		case "table-wrap":
			s.Children = append(s.Children, b.Table(c))
		case "fig":
			s.Children = append(s.Children, b.Figure(c))
		default:
			b.warn.Warn(warn.UnhandledTextTag, ctx, "unhandled <%s> in <%s>", c.Data, n.Data)
		}
	}
	s.Finalize()
	return s
}

// Table builds a table-wrap element. A table whose markup cannot be read
// keeps its label and caption with nil Data.
func (b *Builder) Table(n *xmlquery.Node) *doctree.Table {
	t := &doctree.Table{ID: n.SelectAttr("id")}
	if l := xmlquery.FindOne(n, "./label"); l != nil {
		t.Label = b.PlainText(l)
	}
	if c := xmlquery.FindOne(n, "./caption"); c != nil {
		t.Caption = b.captionText(c)
	}
	t.Title = joinLabel(t.Label, t.Caption)

	markup := xmlquery.FindOne(n, ".//table")
	if markup == nil {
		b.warn.Warn(warn.ReadHTMLFailure, contextID(n), "table-wrap has no table markup")
		return t
	}
	data, err := b.Tables.Convert(markup.OutputXML(true))
	if err != nil {
		b.warn.Warn(warn.ReadHTMLFailure, contextID(n), "read table: %v", err)
		return t
	}
	t.Data = data
	return t
}

// Figure builds a fig element.
func (b *Builder) Figure(n *xmlquery.Node) *doctree.Figure {
	f := &doctree.Figure{ID: n.SelectAttr("id")}
	if l := xmlquery.FindOne(n, "./label"); l != nil {
		f.Label = b.PlainText(l)
	}
	if c := xmlquery.FindOne(n, "./caption"); c != nil {
		f.Caption = b.captionText(c)
	}
	if g := xmlquery.FindOne(n, ".//graphic"); g != nil {
		f.Link = attrLocal(g, "href")
	}
	return f
}

// Nodes builds the mixed content of an abstract or similar container:
// sections, paragraphs, tables and figures in document order. Titles are
// skipped.
func (b *Builder) Nodes(n *xmlquery.Node) []doctree.Node {
	var out []doctree.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		switch c.Data {
		case "sec":
			out = append(out, b.Section(c))
		case "p":
			out = append(out, b.Paragraph(c))
		case "table-wrap":
			out = append(out, b.Table(c))
		case "fig":
			out = append(out, b.Figure(c))
		case "title", "label":
		default:
			b.warn.Warn(warn.UnhandledTextTag, contextID(n), "unhandled <%s> in <%s>", c.Data, n.Data)
		}
	}
	return out
}

// Body returns the top-level sections of a body element. A body with
// content outside any sec is returned as a single untitled section.
func (b *Builder) Body(n *xmlquery.Node) []*doctree.Section {
	onlySections := true
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data != "sec" {
			onlySections = false
			break
		}
	}
	if !onlySections {
		return []*doctree.Section{b.Section(n)}
	}
	var out []*doctree.Section
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			out = append(out, b.Section(c))
		}
	}
	return out
}

// PlainText renders an element's content as readable text with styling
// applied and no reference tokens. References inside are not registered.
func (b *Builder) PlainText(n *xmlquery.Node) string {
	raw := collapseSpace(StringifyChildren(n))
	out := clean.Split(raw, refmap.New(), contextID(n), clean.Options{OnUnknown: clean.Keep, KeepRefText: true}, nil)
	return collapseSpace(mhtml.UnescapeExcept(mhtml.Remove(out)))
}

// captionText joins the caption title and paragraphs.
func (b *Builder) captionText(n *xmlquery.Node) string {
	var parts []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		if t := b.PlainText(c); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// StringifyChildren serializes the content of n: child elements as markup,
// text escaped. Comments and processing instructions are dropped.
func StringifyChildren(n *xmlquery.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case xmlquery.ElementNode:
			sb.WriteString(c.OutputXML(true))
		case xmlquery.TextNode, xmlquery.CharDataNode:
			sb.WriteString(escapeText(c.Data))
		}
	}
	return sb.String()
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// contextID names the nearest element with an id, for warnings.
func contextID(n *xmlquery.Node) string {
	for p := n; p != nil; p = p.Parent {
		if p.Type != xmlquery.ElementNode {
			continue
		}
		if id := p.SelectAttr("id"); id != "" {
			return p.Data + "#" + id
		}
	}
	return n.Data
}

// attrLocal returns the first attribute whose local name matches, ignoring
// namespace prefixes.
func attrLocal(n *xmlquery.Node, local string) string {
	for _, a := range n.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func joinLabel(label, caption string) string {
	switch {
	case label != "" && caption != "":
		return label + ": " + caption
	case label != "":
		return label
	}
	return caption
}
