// Package validate checks downloaded article XML before it is parsed.
//
// The document must declare a supported DOCTYPE, be well formed, and hold
// at least one article with front matter. Element names are matched case
// sensitively, so markup written with the wrong capitalization fails.
package validate

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"

	"github.com/antchfx/xmlquery"
)

// ArticleSet20 is the NLM articleset 2.0 DTD used by PubMed Central.
const ArticleSet20 = "https://dtd.nlm.nih.gov/ncbi/pmc/articleset/nlm-articleset-2.0.dtd"

// SupportedDTDs lists the DOCTYPE system URLs accepted by Validate.
var SupportedDTDs = []string{ArticleSet20}

// ErrNoDTD is returned when the document declares no DOCTYPE URL.
var ErrNoDTD = errors.New("no DTD declared; disable validation to parse without one")

var dtdURL = regexp.MustCompile(`"(https?://\S+)"`)

// Result describes a validated document.
type Result struct {
	Valid  bool     `json:"valid"`
	DTD    string   `json:"dtd"`
	Errors []string `json:"errors,omitempty"`
}

func (r *Result) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Validate checks data. An invalid document is reported through Result;
// the error is reserved for a missing DOCTYPE.
func Validate(data []byte) (Result, error) {
	res := Result{Valid: true}

	dec := xml.NewDecoder(bytes.NewReader(data))
	// No entity expansion beyond the predefined XML entities.
	dec.Entity = map[string]string{}

	wellFormed := true
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			line, _ := dec.InputPos()
			res.fail("line %d: %v", line, err)
			wellFormed = false
			break
		}
		if d, ok := tok.(xml.Directive); ok && res.DTD == "" {
			if m := doctypeURL(d); m != "" {
				res.DTD = m
			}
		}
	}

	if res.DTD == "" {
		res.Valid = false
		return res, ErrNoDTD
	}
	if !slices.Contains(SupportedDTDs, res.DTD) {
		res.fail("unsupported DTD %s", res.DTD)
	}
	if wellFormed {
		checkStructure(data, &res)
	}
	return res, nil
}

func doctypeURL(d xml.Directive) string {
	s := string(d)
	if !strings.HasPrefix(strings.TrimSpace(s), "DOCTYPE") {
		return ""
	}
	if m := dtdURL.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

func checkStructure(data []byte, res *Result) {
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		res.fail("parse: %v", err)
		return
	}
	root := xmlquery.FindOne(doc, "/*")
	if root == nil {
		res.fail("no root element")
		return
	}
	if root.Data != "article" && root.Data != "pmc-articleset" {
		res.fail("unexpected root element <%s>", root.Data)
		return
	}
	articles := xmlquery.Find(doc, "//article")
	if len(articles) == 0 {
		res.fail("no article element")
		return
	}
	for i, a := range articles {
		if xmlquery.FindOne(a, "./front/article-meta") == nil {
			res.fail("article %d: missing front/article-meta", i+1)
		}
	}
}
