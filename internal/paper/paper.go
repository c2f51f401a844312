// Package paper assembles a complete article from JATS XML: metadata,
// abstract, body tree and the resolved references the text points at.
package paper

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"

	"github.com/dgallion1/papergest/internal/clean"
	"github.com/dgallion1/papergest/internal/doctree"
	"github.com/dgallion1/papergest/internal/parser"
	"github.com/dgallion1/papergest/internal/refmap"
	"github.com/dgallion1/papergest/internal/resolve"
	"github.com/dgallion1/papergest/internal/warn"
)

// ErrNoArticle is returned when the XML holds no article element.
var ErrNoArticle = errors.New("no article element")

// Options control how an article is parsed.
type Options struct {
	Split  clean.Options
	Logger *slog.Logger
}

// DefaultOptions keeps unknown inline tags and xref text.
func DefaultOptions() Options {
	return Options{Split: clean.DefaultOptions()}
}

// Paper is a parsed article.
type Paper struct {
	PMCID string `json:"pmcid"`
	parser.Metadata

	Abstract  []doctree.Node      `json:"-"`
	Body      []*doctree.Section  `json:"-"`
	Refs      *refmap.Registry    `json:"refs"`
	Citations []*doctree.Citation `json:"citations"`
	Tables    []*doctree.Table    `json:"tables"`
	Figures   []*doctree.Figure   `json:"figures"`

	Warnings    []warn.Warning `json:"warnings"`
	LastUpdated time.Time      `json:"last_updated"`

	warnings *warn.Collector
}

// FromXML parses the first article in data. pmcid may be empty, in which
// case it is taken from the article ids.
func FromXML(data []byte, pmcid string, opts Options) (*Paper, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse article xml: %w", err)
	}
	article := xmlquery.FindOne(doc, "//article")
	if article == nil {
		return nil, ErrNoArticle
	}
	return fromArticle(article, pmcid, opts), nil
}

// SetFromXML parses every article of a pmc-articleset.
func SetFromXML(data []byte, opts Options) ([]*Paper, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse article set xml: %w", err)
	}
	articles := xmlquery.Find(doc, "//article")
	if len(articles) == 0 {
		return nil, ErrNoArticle
	}
	out := make([]*Paper, 0, len(articles))
	for _, a := range articles {
		out = append(out, fromArticle(a, "", opts))
	}
	return out, nil
}

func fromArticle(article *xmlquery.Node, pmcid string, opts Options) *Paper {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if pmcid != "" {
		log = log.With("pmcid", pmcid)
	}
	w := warn.NewCollector(log)
	reg := refmap.New()
	b := parser.NewBuilder(reg, w, opts.Split)

	p := &Paper{
		PMCID:       NormalizePMCID(pmcid),
		Refs:        reg,
		LastUpdated: time.Now().UTC(),
		warnings:    w,
	}
	p.Metadata = b.GatherMetadata(article)
	if p.PMCID == "" {
		p.PMCID = NormalizePMCID(firstNonEmpty(p.ArticleIDs["pmc"], p.ArticleIDs["pmcid"]))
	}

	for _, a := range selectAbstracts(article) {
		p.Abstract = append(p.Abstract, b.Nodes(a)...)
	}
	if body := xmlquery.FindOne(article, "./body"); body != nil {
		p.Body = b.Body(body)
	}

	res := resolve.Resolve(article, reg, b, w)
	p.Citations = res.Citations
	p.Tables = res.Tables
	p.Figures = res.Figures
	p.Warnings = w.Warnings()
	if p.Warnings == nil {
		p.Warnings = []warn.Warning{}
	}
	return p
}

// selectAbstracts prefers the main abstract over graphical, teaser and
// other typed abstracts; when every abstract is typed the first is used.
func selectAbstracts(article *xmlquery.Node) []*xmlquery.Node {
	all := xmlquery.Find(article, "./front/article-meta/abstract")
	var plain []*xmlquery.Node
	for _, a := range all {
		if a.SelectAttr("abstract-type") == "" {
			plain = append(plain, a)
		}
	}
	if len(plain) > 0 {
		return plain
	}
	if len(all) > 0 {
		return all[:1]
	}
	return nil
}

// Escalate returns the parse warnings as one error, or nil.
func (p *Paper) Escalate() error {
	return p.warnings.Escalate()
}

// AbstractText renders the abstract with references removed.
func (p *Paper) AbstractText() string {
	return renderNodes(p.Abstract, false)
}

// BodyText renders the body with references removed.
func (p *Paper) BodyText() string {
	return renderNodes(sectionNodes(p.Body), false)
}

// BodyTextWithRefs renders the body with dataref tokens in place.
func (p *Paper) BodyTextWithRefs() string {
	return renderNodes(sectionNodes(p.Body), true)
}

// FullText is the abstract followed by the body.
func (p *Paper) FullText() string {
	abs, body := p.AbstractText(), p.BodyText()
	switch {
	case abs == "":
		return body
	case body == "":
		return abs
	}
	return abs + "\n" + body
}

// AuthorNames lists author display names in order.
func (p *Paper) AuthorNames() []string {
	out := make([]string, 0, len(p.Authors))
	for _, a := range p.Authors {
		if n := a.Name(); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Journal returns the first journal title.
func (p *Paper) Journal() string {
	if len(p.JournalTitles) > 0 {
		return p.JournalTitles[0]
	}
	return ""
}

// Published returns the most specific publication date available:
// epub, then ppub, then any other.
func (p *Paper) Published() time.Time {
	for _, k := range []string{"epub", "ppub", "pub", "collection"} {
		if t, ok := p.PublishedDates[k]; ok {
			return t
		}
	}
	var earliest time.Time
	for _, t := range p.PublishedDates {
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	return earliest
}

func (p *Paper) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "PMCID: %s\n", p.PMCID)
	fmt.Fprintf(&sb, "Title: %s\n", p.Title)
	if names := p.AuthorNames(); len(names) > 0 {
		fmt.Fprintf(&sb, "Authors: %s\n", strings.Join(names, ", "))
	}
	if j := p.Journal(); j != "" {
		fmt.Fprintf(&sb, "Journal: %s\n", j)
	}
	if pub := p.Published(); !pub.IsZero() {
		fmt.Fprintf(&sb, "Published: %s\n", pub.Format("2006-01-02"))
	}
	fmt.Fprintf(&sb, "References: %d citations, %d tables, %d figures\n", len(p.Citations), len(p.Tables), len(p.Figures))
	if abs := p.AbstractText(); abs != "" {
		sb.WriteString("\nABSTRACT:\n")
		sb.WriteString(abs)
	}
	if body := p.BodyText(); body != "" {
		sb.WriteString("\nBODY:\n")
		sb.WriteString(body)
	}
	return sb.String()
}

// Nodes returns the abstract, wrapped in a section titled "Abstract", followed
// by the body sections.
func (p *Paper) Nodes() []doctree.Node {
	out := make([]doctree.Node, 0, len(p.Body)+1)
	if len(p.Abstract) > 0 {
		abs := &doctree.Section{Title: "Abstract", HasTitle: true, Children: p.Abstract}
		abs.Finalize()
		out = append(out, abs)
	}
	return append(out, sectionNodes(p.Body)...)
}

func sectionNodes(secs []*doctree.Section) []doctree.Node {
	out := make([]doctree.Node, len(secs))
	for i, s := range secs {
		out[i] = s
	}
	return out
}

func renderNodes(nodes []doctree.Node, withRefs bool) string {
	var parts []string
	for _, n := range nodes {
		switch v := n.(type) {
		case *doctree.Section:
			if withRefs {
				parts = append(parts, v.TextWithRefs())
			} else {
				parts = append(parts, v.Text())
			}
		case *doctree.Paragraph:
			if withRefs {
				parts = append(parts, v.TextWithRefs)
			} else {
				parts = append(parts, v.Text)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// NormalizePMCID strips a "PMC" prefix and surrounding space.
func NormalizePMCID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 3 && strings.EqualFold(id[:3], "PMC") {
		id = id[3:]
	}
	return id
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
