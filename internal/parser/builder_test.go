package parser

import (
	"strings"
	"testing"

	"github.com/antchfx/xmlquery"

	"github.com/dgallion1/papergest/internal/clean"
	"github.com/dgallion1/papergest/internal/doctree"
	"github.com/dgallion1/papergest/internal/refmap"
	"github.com/dgallion1/papergest/internal/tabular"
	"github.com/dgallion1/papergest/internal/warn"
)

func mustParse(t *testing.T, xml string) *xmlquery.Node {
	t.Helper()
	doc, err := xmlquery.Parse(strings.NewReader(xml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return c
		}
	}
	t.Fatal("no root element")
	return nil
}

func newTestBuilder() (*Builder, *refmap.Registry, *warn.Collector) {
	reg := refmap.New()
	w := warn.Discard()
	return NewBuilder(reg, w, clean.DefaultOptions()), reg, w
}

func TestParagraph_UnescapesEntities(t *testing.T) {
	b, _, _ := newTestBuilder()
	p := b.Paragraph(mustParse(t, `<p id="p9">p &lt; 0.05 &amp; n&#x2009;=&#x2009;3</p>`))
	if p.Text != "p < 0.05 & n = 3" {
		t.Errorf("unexpected text %q", p.Text)
	}
	if p.ID != "p9" {
		t.Errorf("expected id p9, got %q", p.ID)
	}
}

func TestParagraph_CollapsesWhitespace(t *testing.T) {
	b, _, _ := newTestBuilder()
	p := b.Paragraph(mustParse(t, "<p>line one\n      line two</p>"))
	if p.Text != "line one line two" {
		t.Errorf("unexpected text %q", p.Text)
	}
}

func TestSection_MultipleTitles(t *testing.T) {
	b, _, w := newTestBuilder()
	s := b.Section(mustParse(t, `<sec id="s1"><title>A</title><title>B</title><p>x</p></sec>`))
	if s.Title != "A" || !s.HasTitle {
		t.Errorf("expected title A, got %q", s.Title)
	}
	if w.CountKind(warn.MultipleTitle) != 1 {
		t.Errorf("expected one multiple-title warning, got %d", w.CountKind(warn.MultipleTitle))
	}
	if ws := w.Warnings(); len(ws) > 0 && ws[0].Context != "sec#s1" {
		t.Errorf("expected context sec#s1, got %q", ws[0].Context)
	}
}

func TestSection_UnhandledChild(t *testing.T) {
	b, _, w := newTestBuilder()
	s := b.Section(mustParse(t, `<sec><label>2.</label><title>T</title><list><list-item>i</list-item></list><p>x</p></sec>`))
	if w.CountKind(warn.UnhandledTextTag) != 1 {
		t.Errorf("expected one unhandled tag warning, got %d", w.Count())
	}
	if s.Label != "2." {
		t.Errorf("expected label 2., got %q", s.Label)
	}
	if len(s.Children) != 1 {
		t.Errorf("expected list to be skipped, got %d children", len(s.Children))
	}
}

func TestSection_LooseText(t *testing.T) {
	b, _, w := newTestBuilder()
	b.Section(mustParse(t, `<sec><title>T</title>stray words<p>x</p></sec>`))
	if w.CountKind(warn.BadTextFormatting) != 1 {
		t.Errorf("expected one bad formatting warning, got %d", w.Count())
	}
}

func TestSection_ChildOrder(t *testing.T) {
	b, _, _ := newTestBuilder()
	s := b.Section(mustParse(t, `<sec><p>a</p><fig id="F1"/><sec><p>b</p></sec><table-wrap id="T1"/></sec>`))
	if len(s.Children) != 4 {
		t.Fatalf("expected 4 children, got %d", len(s.Children))
	}
	if _, ok := s.Children[0].(*doctree.Paragraph); !ok {
		t.Errorf("expected paragraph first, got %T", s.Children[0])
	}
	if _, ok := s.Children[1].(*doctree.Figure); !ok {
		t.Errorf("expected figure second, got %T", s.Children[1])
	}
	if _, ok := s.Children[2].(*doctree.Section); !ok {
		t.Errorf("expected section third, got %T", s.Children[2])
	}
	if _, ok := s.Children[3].(*doctree.Table); !ok {
		t.Errorf("expected table fourth, got %T", s.Children[3])
	}
}

func TestTable_GraphicOnlyWarns(t *testing.T) {
	b, _, w := newTestBuilder()
	tbl := b.Table(mustParse(t, `<table-wrap id="T2"><label>Table 2</label><graphic href="t2.jpg"/></table-wrap>`))
	if tbl.Data != nil {
		t.Error("expected nil data")
	}
	if tbl.Title != "Table 2" {
		t.Errorf("expected title from label, got %q", tbl.Title)
	}
	if w.CountKind(warn.ReadHTMLFailure) != 1 {
		t.Errorf("expected one read failure warning, got %d", w.Count())
	}
}

type failingConverter struct{}

func (failingConverter) Convert(string) (*tabular.Table, error) { return nil, tabular.ErrNoTable }

func TestTable_ConverterFailureWarns(t *testing.T) {
	b, _, w := newTestBuilder()
	b.Tables = failingConverter{}
	tbl := b.Table(mustParse(t, `<table-wrap id="T3"><caption><title>Doses</title></caption><table><tr><td>1</td></tr></table></table-wrap>`))
	if tbl.Data != nil || tbl.Caption != "Doses" {
		t.Errorf("unexpected table %+v", tbl)
	}
	if w.CountKind(warn.ReadHTMLFailure) != 1 {
		t.Errorf("expected one read failure warning, got %d", w.Count())
	}
}

func TestFigure(t *testing.T) {
	b, _, _ := newTestBuilder()
	f := b.Figure(mustParse(t, `<fig id="F2" xmlns:xlink="http://www.w3.org/1999/xlink"><label>Figure 2</label><caption><title>Scan.</title><p>Detail <bold>here</bold>.</p></caption><graphic xlink:href="img2"/></fig>`))
	if f.Label != "Figure 2" || f.Caption != "Scan. Detail here." || f.Link != "img2" {
		t.Errorf("unexpected figure %+v", f)
	}
}

func TestBody_LooseParagraphsWrapped(t *testing.T) {
	b, _, _ := newTestBuilder()
	secs := b.Body(mustParse(t, `<body><p>a</p><sec><title>S</title><p>b</p></sec></body>`))
	if len(secs) != 1 {
		t.Fatalf("expected single wrapping section, got %d", len(secs))
	}
	if secs[0].HasTitle {
		t.Error("expected untitled wrapping section")
	}
}

func TestStringifyChildren_DropsComments(t *testing.T) {
	n := mustParse(t, `<p>a<!-- note --><xref rid="B1">1</xref> &amp; b</p>`)
	got := StringifyChildren(n)
	if strings.Contains(got, "note") {
		t.Errorf("expected comment dropped, got %q", got)
	}
	if !strings.Contains(got, `<xref rid="B1">1</xref>`) || !strings.Contains(got, "&amp;") {
		t.Errorf("unexpected serialization %q", got)
	}
}

func TestParagraph_RegistersReferences(t *testing.T) {
	b, reg, _ := newTestBuilder()
	p := b.Paragraph(mustParse(t, `<p>See <xref rid="T1" ref-type="table">Table 1</xref>.</p>`))
	if reg.Len() != 1 {
		t.Fatalf("expected one registry entry, got %d", reg.Len())
	}
	if p.Text != "See Table 1." {
		t.Errorf("unexpected text %q", p.Text)
	}
	if p.TextWithRefs != "See Table 1[MHTML::dataref::0]." {
		t.Errorf("unexpected text with refs %q", p.TextWithRefs)
	}
}
