package parser

import (
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
)

// Contributor is a person or group listed in contrib-group.
type Contributor struct {
	Type         string   `json:"type,omitempty"`
	Surname      string   `json:"surname,omitempty"`
	GivenNames   string   `json:"given_names,omitempty"`
	Collab       string   `json:"collab,omitempty"`
	Email        string   `json:"email,omitempty"`
	ORCID        string   `json:"orcid,omitempty"`
	Affiliations []string `json:"affiliations,omitempty"`
}

// Name returns "Given Surname", or the collaboration name.
func (c Contributor) Name() string {
	if c.Collab != "" {
		return c.Collab
	}
	return strings.TrimSpace(c.GivenNames + " " + c.Surname)
}

// Permissions holds copyright and license statements.
type Permissions struct {
	Copyright   string `json:"copyright,omitempty"`
	LicenseType string `json:"license_type,omitempty"`
	LicenseText string `json:"license_text,omitempty"`
}

// Metadata is everything gathered from front and back matter.
type Metadata struct {
	Title              string               `json:"title"`
	Authors            []Contributor        `json:"authors,omitempty"`
	NonAuthors         []Contributor        `json:"non_author_contributors,omitempty"`
	JournalIDs         map[string]string    `json:"journal_ids,omitempty"`
	JournalTitles      []string             `json:"journal_titles,omitempty"`
	ISSN               map[string]string    `json:"issn,omitempty"`
	PublisherNames     []string             `json:"publisher_names,omitempty"`
	PublisherLocations []string             `json:"publisher_locations,omitempty"`
	ArticleIDs         map[string]string    `json:"article_ids,omitempty"`
	ArticleType        string               `json:"article_type,omitempty"`
	Headings           []string             `json:"headings,omitempty"`
	Categories         []string             `json:"categories,omitempty"`
	Keywords           []string             `json:"keywords,omitempty"`
	PublishedDates     map[string]time.Time `json:"published_dates,omitempty"`
	Volume             string               `json:"volume,omitempty"`
	Issue              string               `json:"issue,omitempty"`
	FirstPage          string               `json:"fpage,omitempty"`
	LastPage           string               `json:"lpage,omitempty"`
	Permissions        Permissions          `json:"permissions"`
	Funding            []string             `json:"funding,omitempty"`
	Footnotes          []string             `json:"footnotes,omitempty"`
	Acknowledgements   []string             `json:"acknowledgements,omitempty"`
	Notes              []string             `json:"notes,omitempty"`
	CustomMeta         map[string]string    `json:"custom_meta,omitempty"`
}

// GatherMetadata reads front and back matter of an article element.
func (b *Builder) GatherMetadata(article *xmlquery.Node) Metadata {
	m := Metadata{ArticleType: article.SelectAttr("article-type")}

	if jm := xmlquery.FindOne(article, "./front/journal-meta"); jm != nil {
		m.JournalIDs = b.typedMap(jm, ".//journal-id", "journal-id-type")
		m.JournalTitles = b.texts(jm, ".//journal-title")
		m.ISSN = b.typedMap(jm, "./issn", "pub-type", "publication-format")
		m.PublisherNames = b.texts(jm, "./publisher/publisher-name")
		m.PublisherLocations = b.texts(jm, "./publisher/publisher-loc")
	}

	am := xmlquery.FindOne(article, "./front/article-meta")
	if am != nil {
		if t := xmlquery.FindOne(am, "./title-group/article-title"); t != nil {
			m.Title = b.PlainText(t)
		}
		m.Authors, m.NonAuthors = b.contributors(article, am)
		m.ArticleIDs = b.typedMap(am, "./article-id", "pub-id-type")
		m.Headings = b.texts(am, "./article-categories/subj-group[@subj-group-type='heading']/subject")
		m.Categories = b.texts(am, "./article-categories/subj-group[not(@subj-group-type='heading')]//subject")
		m.Keywords = b.texts(am, "./kwd-group/kwd")
		m.PublishedDates = b.pubDates(am)
		m.Volume = b.text(am, "./volume")
		m.Issue = b.text(am, "./issue")
		m.FirstPage = b.text(am, "./fpage")
		m.LastPage = b.text(am, "./lpage")
		m.Permissions = b.permissions(am)
		m.Funding = b.texts(am, "./funding-group//funding-source")
		m.CustomMeta = b.customMeta(am)
	}

	if back := xmlquery.FindOne(article, "./back"); back != nil {
		m.Footnotes = b.texts(back, "./fn-group/fn")
		m.Acknowledgements = b.texts(back, "./ack/p")
		m.Notes = b.texts(back, "./notes//p")
	}
	return m
}

func (b *Builder) contributors(article, am *xmlquery.Node) (authors, others []Contributor) {
	for _, c := range xmlquery.Find(am, "./contrib-group/contrib") {
		ct := Contributor{
			Type:       c.SelectAttr("contrib-type"),
			Surname:    b.text(c, ".//surname"),
			GivenNames: b.text(c, ".//given-names"),
			Collab:     b.text(c, "./collab"),
			Email:      b.text(c, ".//email"),
		}
		for _, id := range xmlquery.Find(c, "./contrib-id") {
			if id.SelectAttr("contrib-id-type") == "orcid" {
				ct.ORCID = collapseSpace(id.InnerText())
			}
		}
		for _, x := range xmlquery.Find(c, "./xref[@ref-type='aff']") {
			for _, rid := range strings.Fields(x.SelectAttr("rid")) {
				if aff := findByID(article, "aff", rid); aff != nil {
					ct.Affiliations = append(ct.Affiliations, b.affText(aff))
				}
			}
		}
		for _, aff := range xmlquery.Find(c, "./aff") {
			ct.Affiliations = append(ct.Affiliations, b.affText(aff))
		}
		if ct.Type == "" || ct.Type == "author" {
			authors = append(authors, ct)
		} else {
			others = append(others, ct)
		}
	}
	return authors, others
}

// affText renders an aff element without its label.
func (b *Builder) affText(aff *xmlquery.Node) string {
	var parts []string
	for c := aff.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case c.Type == xmlquery.ElementNode && c.Data == "label":
		case c.Type == xmlquery.ElementNode:
			parts = append(parts, b.PlainText(c))
		case c.Type == xmlquery.TextNode:
			parts = append(parts, c.Data)
		}
	}
	return collapseSpace(strings.Join(parts, " "))
}

func (b *Builder) pubDates(am *xmlquery.Node) map[string]time.Time {
	out := map[string]time.Time{}
	for _, d := range xmlquery.Find(am, "./pub-date") {
		kind := d.SelectAttr("pub-type")
		if kind == "" {
			kind = d.SelectAttr("date-type")
		}
		if kind == "" {
			kind = "pub"
		}
		year, err := strconv.Atoi(b.text(d, "./year"))
		if err != nil {
			continue
		}
		month := atoiOr(b.text(d, "./month"), 1)
		day := atoiOr(b.text(d, "./day"), 1)
		out[kind] = time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (b *Builder) permissions(am *xmlquery.Node) Permissions {
	p := xmlquery.FindOne(am, "./permissions")
	if p == nil {
		return Permissions{}
	}
	perm := Permissions{Copyright: b.text(p, "./copyright-statement")}
	if lic := xmlquery.FindOne(p, "./license"); lic != nil {
		perm.LicenseType = lic.SelectAttr("license-type")
		if perm.LicenseType == "" {
			perm.LicenseType = attrLocal(lic, "href")
		}
		perm.LicenseText = strings.Join(b.texts(lic, ".//license-p"), " ")
	}
	return perm
}

func (b *Builder) customMeta(am *xmlquery.Node) map[string]string {
	out := map[string]string{}
	for _, cm := range xmlquery.Find(am, "./custom-meta-group/custom-meta") {
		name := b.text(cm, "./meta-name")
		if name != "" {
			out[name] = b.text(cm, "./meta-value")
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// typedMap collects the text of each match keyed by the first present
// attribute in attrs.
func (b *Builder) typedMap(n *xmlquery.Node, expr string, attrs ...string) map[string]string {
	out := map[string]string{}
	for _, e := range xmlquery.Find(n, expr) {
		key := ""
		for _, a := range attrs {
			if key = e.SelectAttr(a); key != "" {
				break
			}
		}
		if key == "" {
			key = e.Data
		}
		if _, seen := out[key]; !seen {
			out[key] = b.PlainText(e)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (b *Builder) texts(n *xmlquery.Node, expr string) []string {
	var out []string
	for _, e := range xmlquery.Find(n, expr) {
		if t := b.PlainText(e); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (b *Builder) text(n *xmlquery.Node, expr string) string {
	if e := xmlquery.FindOne(n, expr); e != nil {
		return b.PlainText(e)
	}
	return ""
}

// findByID returns the first element named tag with the given id below root.
func findByID(root *xmlquery.Node, tag, id string) *xmlquery.Node {
	for _, e := range xmlquery.Find(root, ".//"+tag) {
		if e.SelectAttr("id") == id {
			return e
		}
	}
	return nil
}

func atoiOr(s string, fallback int) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return fallback
}
