package resolve

import (
	"errors"
	"strings"

	"github.com/antchfx/xmlquery"
	"golang.org/x/text/unicode/norm"

	"github.com/dgallion1/papergest/internal/doctree"
	"github.com/dgallion1/papergest/internal/warn"
)

var errNoElement = errors.New("no element in reference markup")

// citationTags in order of preference.
var citationTags = []string{"element-citation", "mixed-citation", "citation", "nlm-citation"}

// ParseCitation reads a bibliography ref element. Each structured field is
// extracted on its own. When neither authors nor a title are present the
// whole mixed-citation text is used instead; failing that a ZeroMatch
// warning is raised. Returns nil when nothing at all could be read.
func ParseCitation(ref *xmlquery.Node, w *warn.Collector) *doctree.Citation {
	c := &doctree.Citation{ID: ref.SelectAttr("id")}
	cit := ref
	for _, tag := range citationTags {
		if e := xmlquery.FindOne(ref, "./"+tag); e != nil {
			cit = e
			break
		}
	}

	names := xmlquery.Find(cit, ".//person-group[@person-group-type='author']/name")
	if len(names) == 0 {
		names = xmlquery.Find(cit, ".//name")
	}
	for _, n := range names {
		given := field(n, "./given-names")
		surname := field(n, "./surname")
		if name := strings.TrimSpace(given + " " + surname); name != "" {
			c.Authors = append(c.Authors, name)
		}
	}
	for _, n := range xmlquery.Find(cit, ".//collab") {
		if v := normalize(n.InnerText()); v != "" {
			c.Authors = append(c.Authors, v)
		}
	}

	c.Title = field(cit, ".//article-title")
	if c.Title == "" {
		c.Title = field(cit, ".//chapter-title")
	}
	c.Source = field(cit, ".//source")
	c.Year = field(cit, ".//year")
	c.Volume = field(cit, ".//volume")
	c.FirstPage = field(cit, ".//fpage")
	c.LastPage = field(cit, ".//lpage")
	c.DOI = field(cit, ".//pub-id[@pub-id-type='doi']")
	c.PMID = field(cit, ".//pub-id[@pub-id-type='pmid']")

	if len(c.Authors) == 0 && c.Title == "" {
		if mixed := xmlquery.FindOne(ref, ".//mixed-citation"); mixed != nil {
			c.Text = normalize(mixed.InnerText())
		}
		if c.Text == "" {
			w.Warn(warn.ZeroMatch, c.ID, "citation has no authors, title or free text")
		}
	}
	if citationEmpty(c) {
		return nil
	}
	return c
}

func field(n *xmlquery.Node, expr string) string {
	if e := xmlquery.FindOne(n, expr); e != nil {
		return normalize(e.InnerText())
	}
	return ""
}

// normalize collapses whitespace and composes Unicode so author names
// written with combining marks compare equal to precomposed ones.
func normalize(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

func citationEmpty(c *doctree.Citation) bool {
	return len(c.Authors) == 0 && c.Title == "" && c.Source == "" && c.Year == "" &&
		c.Volume == "" && c.FirstPage == "" && c.LastPage == "" && c.DOI == "" &&
		c.PMID == "" && c.Text == ""
}
