package doctree

import (
	"strings"

	"github.com/dgallion1/papergest/internal/tabular"
)

// Node is one element of an article body: a *Section, *Paragraph, *Table
// or *Figure.
type Node interface {
	node()
}

// Paragraph is a leaf of flowing text. Text has every reference removed;
// TextWithRefs keeps a dataref token where each reference stood.
type Paragraph struct {
	ID           string `json:"id,omitempty"`
	Text         string `json:"text"`
	TextWithRefs string `json:"text_with_refs"`
}

// Section is a titled container of paragraphs, subsections, tables and figures.
type Section struct {
	ID       string `json:"id,omitempty"`
	Label    string `json:"label,omitempty"`
	Title    string `json:"title,omitempty"`
	HasTitle bool   `json:"-"`
	Children []Node `json:"-"`

	text         string
	textWithRefs string
}

// Table is a resolved table-wrap.
type Table struct {
	ID      string         `json:"id,omitempty"`
	Label   string         `json:"label,omitempty"`
	Caption string         `json:"caption,omitempty"`
	Title   string         `json:"title,omitempty"`
	Data    *tabular.Table `json:"data,omitempty"`
}

// Figure is a resolved fig element.
type Figure struct {
	ID      string `json:"id,omitempty"`
	Label   string `json:"label,omitempty"`
	Caption string `json:"caption,omitempty"`
	Link    string `json:"link,omitempty"`
}

// Citation is a parsed bibliography entry. Text holds the free-text
// citation when no structured fields were available.
type Citation struct {
	ID        string   `json:"id,omitempty"`
	Authors   []string `json:"authors,omitempty"`
	Title     string   `json:"title,omitempty"`
	Source    string   `json:"source,omitempty"`
	Year      string   `json:"year,omitempty"`
	Volume    string   `json:"volume,omitempty"`
	FirstPage string   `json:"fpage,omitempty"`
	LastPage  string   `json:"lpage,omitempty"`
	DOI       string   `json:"doi,omitempty"`
	PMID      string   `json:"pmid,omitempty"`
	Text      string   `json:"text,omitempty"`
}

func (*Section) node()   {}
func (*Paragraph) node() {}
func (*Table) node()     {}
func (*Figure) node()    {}

// Text returns the rendered section text with references removed.
func (s *Section) Text() string { return s.text }

// TextWithRefs returns the rendered section text with dataref tokens.
func (s *Section) TextWithRefs() string { return s.textWithRefs }

// Finalize renders both text forms from the children. Child sections must
// already be finalized; builders call it once, bottom-up.
func (s *Section) Finalize() {
	s.text = s.render(func(p *Paragraph) string { return p.Text }, (*Section).Text)
	s.textWithRefs = s.render(func(p *Paragraph) string { return p.TextWithRefs }, (*Section).TextWithRefs)
}

func (s *Section) render(para func(*Paragraph) string, sub func(*Section) string) string {
	var sb strings.Builder
	if s.HasTitle {
		sb.WriteString("SECTION: ")
		sb.WriteString(s.Title)
		sb.WriteString(":\n")
	}
	for _, c := range s.Children {
		switch n := c.(type) {
		case *Section:
			sb.WriteString("\n")
			sb.WriteString(Indent(sub(n), "    "))
			sb.WriteString("\n")
		case *Paragraph:
			sb.WriteString("\n")
			sb.WriteString(para(n))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Sections returns the direct child sections.
func (s *Section) Sections() []*Section {
	var out []*Section
	for _, c := range s.Children {
		if sec, ok := c.(*Section); ok {
			out = append(out, sec)
		}
	}
	return out
}

// Paragraphs returns the direct child paragraphs.
func (s *Section) Paragraphs() []*Paragraph {
	var out []*Paragraph
	for _, c := range s.Children {
		if p, ok := c.(*Paragraph); ok {
			out = append(out, p)
		}
	}
	return out
}

// Indent prefixes every non-empty line of text with prefix.
func Indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}

// Chunk is a sized text segment with structural context, ready for indexing.
type Chunk struct {
	ID         string   // pmcid-<id>-chunk-<n>
	Text       string   // Chunk text content
	Index      int      // Sequence number within document
	Breadcrumb []string // Section title hierarchy, e.g. ["Methods", "Statistical analysis"]
	Refs       []int    // Registry keys referenced by the chunk's paragraphs
}
