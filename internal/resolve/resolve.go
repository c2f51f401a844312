// Package resolve replaces the raw reference markup held in a registry with
// citations, tables and figures looked up in the source document.
package resolve

import (
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/dgallion1/papergest/internal/doctree"
	"github.com/dgallion1/papergest/internal/refmap"
	"github.com/dgallion1/papergest/internal/warn"
)

// ElementBuilder builds resolved tables and figures from document elements.
type ElementBuilder interface {
	Table(n *xmlquery.Node) *doctree.Table
	Figure(n *xmlquery.Node) *doctree.Figure
}

// Result partitions the resolved registry. Each distinct value appears once,
// in order of the first key that holds it.
type Result struct {
	Citations []*doctree.Citation `json:"citations"`
	Tables    []*doctree.Table    `json:"tables"`
	Figures   []*doctree.Figure   `json:"figures"`
}

var (
	refExpr   = xpath.MustCompile(".//ref")
	tableExpr = xpath.MustCompile(".//table-wrap")
	figExpr   = xpath.MustCompile(".//fig")
)

// target describes what an xref kind points at.
type target struct {
	tag       string
	expr      *xpath.Expr
	unmatched warn.Kind
}

var (
	bibTarget   = target{tag: "ref", expr: refExpr, unmatched: warn.UnmatchedCitation}
	tableTarget = target{tag: "table-wrap", expr: tableExpr, unmatched: warn.UnmatchedTable}
	figTarget   = target{tag: "fig", expr: figExpr, unmatched: warn.UnmatchedFigure}
)

// targetFor maps an xref kind (JATS ref-type) to its target element.
func targetFor(kind string) (target, bool) {
	switch strings.ToLower(kind) {
	case "bibr", "bibliography":
		return bibTarget, true
	case "table":
		return tableTarget, true
	case "fig", "figure":
		return figTarget, true
	}
	return target{}, false
}

type resolver struct {
	root   *xmlquery.Node
	reg    *refmap.Registry
	eb     ElementBuilder
	warn   *warn.Collector
	index  map[string]map[string][]*xmlquery.Node
	byNode map[*xmlquery.Node]int
}

// Resolve rewrites every raw entry of reg in place.
//
// An xref is looked up by its rid among the elements its kind (ref-type, or
// kind) names; a bare table-wrap or fig is built directly. Entries with no
// identifier, an unsupported kind or no match are deleted with a warning.
// With several matches the first in document order wins. When two entries
// reach the same element, the later one becomes a link to the earlier key,
// and links are then collapsed to the value they lead to.
//
// On return every entry in reg is a citation, table or figure.
func Resolve(root *xmlquery.Node, reg *refmap.Registry, eb ElementBuilder, w *warn.Collector) Result {
	r := &resolver{
		root:   root,
		reg:    reg,
		eb:     eb,
		warn:   w,
		index:  map[string]map[string][]*xmlquery.Node{},
		byNode: map[*xmlquery.Node]int{},
	}
	for _, key := range reg.Keys() {
		v, _ := reg.Get(key)
		if v.Kind == refmap.KindRaw {
			r.resolveRaw(key, v.Raw)
		}
	}
	r.followLinks()
	return r.partition()
}

func (r *resolver) resolveRaw(key int, raw string) {
	el, err := parseFragment(raw)
	if err != nil {
		r.warn.Warn(warn.UnresolvableReference, raw, "parse reference markup: %v", err)
		r.reg.Delete(key)
		return
	}

	switch el.Data {
	case "xref":
		r.resolveXref(key, el)
	case "table-wrap":
		node := r.documentNode(tableTarget, el)
		r.store(key, node, func() (refmap.Value, bool) {
			return refmap.TableValue(r.eb.Table(node)), true
		})
	case "fig":
		node := r.documentNode(figTarget, el)
		r.store(key, node, func() (refmap.Value, bool) {
			return refmap.FigureValue(r.eb.Figure(node)), true
		})
	default:
		r.warn.Warn(warn.Unclassified, raw, "cannot resolve <%s>", el.Data)
		r.reg.Delete(key)
	}
}

func (r *resolver) resolveXref(key int, el *xmlquery.Node) {
	kind := el.SelectAttr("ref-type")
	if kind == "" {
		kind = el.SelectAttr("kind")
	}
	ids := strings.Fields(el.SelectAttr("rid"))
	if len(ids) == 0 {
		r.warn.Warn(warn.UnresolvableReference, el.OutputXML(true), "xref has no rid")
		r.reg.Delete(key)
		return
	}
	t, ok := targetFor(kind)
	if !ok {
		r.warn.Warn(warn.UnresolvableReference, ids[0], "unsupported xref kind %q", kind)
		r.reg.Delete(key)
		return
	}
	if len(ids) > 1 {
		r.warn.Warn(warn.MultipleMatch, strings.Join(ids, " "), "xref names %d targets, resolving only %q", len(ids), ids[0])
	}

	matches := r.lookup(t, ids[0])
	switch len(matches) {
	case 0:
		r.warn.Warn(t.unmatched, ids[0], "no <%s> with id %q", t.tag, ids[0])
		r.reg.Delete(key)
		return
	case 1:
	default:
		r.warn.Warn(warn.MultipleMatch, ids[0], "%d <%s> elements with id %q, using the first", len(matches), t.tag, ids[0])
	}
	node := matches[0]

	r.store(key, node, func() (refmap.Value, bool) {
		switch t.tag {
		case "ref":
			c := ParseCitation(node, r.warn)
			if c == nil {
				return refmap.Value{}, false
			}
			return refmap.CitationValue(c), true
		case "table-wrap":
			return refmap.TableValue(r.eb.Table(node)), true
		default:
			return refmap.FigureValue(r.eb.Figure(node)), true
		}
	})
}

// store records the value built for node at key, or a link to the key that
// already holds node.
func (r *resolver) store(key int, node *xmlquery.Node, build func() (refmap.Value, bool)) {
	if first, ok := r.byNode[node]; ok {
		r.reg.Set(key, refmap.Link(first))
		return
	}
	v, ok := build()
	if !ok {
		r.reg.Delete(key)
		return
	}
	r.reg.Set(key, v)
	r.byNode[node] = key
}

// documentNode swaps a parsed fragment for the identical element in the
// document when its id is found there.
func (r *resolver) documentNode(t target, el *xmlquery.Node) *xmlquery.Node {
	id := el.SelectAttr("id")
	if id == "" {
		return el
	}
	if matches := r.lookup(t, id); len(matches) > 0 {
		return matches[0]
	}
	return el
}

// lookup returns the elements of t with the given id in document order.
func (r *resolver) lookup(t target, id string) []*xmlquery.Node {
	byID, ok := r.index[t.tag]
	if !ok {
		byID = map[string][]*xmlquery.Node{}
		for _, n := range xmlquery.QuerySelectorAll(r.root, t.expr) {
			if v := n.SelectAttr("id"); v != "" {
				byID[v] = append(byID[v], n)
			}
		}
		r.index[t.tag] = byID
	}
	return byID[id]
}

// followLinks collapses every link to the value at the end of its chain.
// Chains longer than the registry, or ending at a missing key, are deleted.
func (r *resolver) followLinks() {
	bound := r.reg.Len() + 1
	for _, key := range r.reg.Keys() {
		v, _ := r.reg.Get(key)
		if v.Kind != refmap.KindLink {
			continue
		}
		cur := v
		for hops := 0; cur.Kind == refmap.KindLink && hops < bound; hops++ {
			next, ok := r.reg.Get(cur.Link)
			if !ok {
				break
			}
			cur = next
		}
		if !cur.Resolved() {
			r.warn.Warn(warn.ResolutionLoop, "", "link at key %d does not reach a resolved value", key)
			r.reg.Delete(key)
			continue
		}
		r.reg.Set(key, cur)
	}
}

func (r *resolver) partition() Result {
	res := Result{
		Citations: []*doctree.Citation{},
		Tables:    []*doctree.Table{},
		Figures:   []*doctree.Figure{},
	}
	seen := map[any]bool{}
	for _, key := range r.reg.Keys() {
		v, _ := r.reg.Get(key)
		switch v.Kind {
		case refmap.KindCitation:
			if !seen[v.Citation] {
				seen[v.Citation] = true
				res.Citations = append(res.Citations, v.Citation)
			}
		case refmap.KindTable:
			if !seen[v.Table] {
				seen[v.Table] = true
				res.Tables = append(res.Tables, v.Table)
			}
		case refmap.KindFigure:
			if !seen[v.Figure] {
				seen[v.Figure] = true
				res.Figures = append(res.Figures, v.Figure)
			}
		default:
			r.warn.Warn(warn.Unclassified, "", "entry %d is still %s after resolution", key, v.Kind)
			r.reg.Delete(key)
		}
	}
	return res
}

// parseFragment parses a single element of reference markup. An unclosed
// start tag is closed before parsing.
func parseFragment(raw string) (*xmlquery.Node, error) {
	doc, err := xmlquery.Parse(strings.NewReader(raw))
	if err != nil {
		name := tagName(raw)
		if name == "" || strings.HasSuffix(raw, "/>") {
			return nil, err
		}
		var retryErr error
		doc, retryErr = xmlquery.Parse(strings.NewReader(raw + "</" + name + ">"))
		if retryErr != nil {
			return nil, err
		}
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return c, nil
		}
	}
	return nil, errNoElement
}

func tagName(raw string) string {
	if !strings.HasPrefix(raw, "<") {
		return ""
	}
	end := strings.IndexAny(raw, " \t\r\n/>")
	if end <= 1 {
		return ""
	}
	return raw[1:end]
}
