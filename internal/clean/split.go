package clean

import (
	"fmt"
	"strings"

	"github.com/dgallion1/papergest/internal/mhtml"
	"github.com/dgallion1/papergest/internal/refmap"
	"github.com/dgallion1/papergest/internal/warn"
)

// Policy decides what happens to the inner text of an unrecognized tag.
type Policy int

const (
	// Keep splices the inner text of an unknown tag into the output.
	Keep Policy = iota
	// Drop discards the unknown tag and everything inside it.
	Drop
)

func (p Policy) String() string {
	if p == Drop {
		return "drop"
	}
	return "keep"
}

// ParsePolicy reads "keep" or "drop".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keep":
		return Keep, nil
	case "drop":
		return Drop, nil
	}
	return Keep, fmt.Errorf("unknown tag policy %q", s)
}

// Options tune Split.
type Options struct {
	OnUnknown Policy
	// KeepRefText emits the visible text of an xref (for example "[1]")
	// before its dataref token.
	KeepRefText bool
}

// DefaultOptions keeps unknown tag text and xref text.
func DefaultOptions() Options {
	return Options{OnUnknown: Keep, KeepRefText: true}
}

// Tags lifted into the registry.
const (
	TagXref      = "xref"
	TagTableWrap = "table-wrap"
	TagFig       = "fig"
)

// Split rewrites inline markup into text with dataref tokens. Styling is
// stripped first. Each xref, table-wrap or fig is stored in reg under its
// exact tag text, reusing the key of an identical earlier tag, and replaced
// by a dataref token. Other tags raise an UnexpectedTag warning naming
// contextID and are handled per opts.OnUnknown.
//
// Every key referenced by the returned text exists in reg.
func Split(text string, reg *refmap.Registry, contextID string, opts Options, w *warn.Collector) string {
	text = StripStyling(strings.TrimSpace(text))
	var out strings.Builder
	splitInto(&out, text, reg, contextID, opts, w)
	return out.String()
}

func splitInto(out *strings.Builder, text string, reg *refmap.Registry, contextID string, opts Options, w *warn.Collector) {
	pos := 0
	for {
		m, ok := nextTag(text, pos)
		if !ok {
			break
		}
		out.WriteString(text[pos:m.start])
		switch m.name {
		case TagXref:
			if opts.KeepRefText {
				splitInto(out, m.inner, reg, contextID, opts, w)
			}
			out.WriteString(mhtml.DataRef(reg.Intern(m.raw)))
		case TagTableWrap, TagFig:
			out.WriteString(mhtml.DataRef(reg.Intern(m.raw)))
		default:
			w.Warn(warn.UnexpectedTag, contextID, "unexpected tag <%s> in text, %s inner text", m.name, opts.OnUnknown)
			if opts.OnUnknown == Keep {
				splitInto(out, m.inner, reg, contextID, opts, w)
			}
		}
		pos = m.end
	}
	out.WriteString(text[pos:])
}

type tagMatch struct {
	start, end int
	name       string
	inner      string
	raw        string
}

// nextTag finds the first element at or after from. A start tag is paired
// with its matching end tag, counting nested elements of the same name; a
// self-closing or unclosed start tag stands alone with empty inner text.
func nextTag(s string, from int) (tagMatch, bool) {
	for i := from; i < len(s); i++ {
		if s[i] != '<' || i+1 >= len(s) || !isNameStart(s[i+1]) {
			continue
		}
		j := i + 1
		for j < len(s) && isNameChar(s[j]) {
			j++
		}
		name := s[i+1 : j]
		openEnd, selfClosing, ok := scanStartTag(s, j)
		if !ok {
			continue
		}
		if selfClosing {
			return tagMatch{start: i, end: openEnd, name: name, raw: s[i:openEnd]}, true
		}
		closeStart, closeEnd, found := findClose(s, openEnd, name)
		if !found {
			return tagMatch{start: i, end: openEnd, name: name, raw: s[i:openEnd]}, true
		}
		return tagMatch{
			start: i,
			end:   closeEnd,
			name:  name,
			inner: s[openEnd:closeStart],
			raw:   s[i:closeEnd],
		}, true
	}
	return tagMatch{}, false
}

// scanStartTag walks the attributes of a start tag beginning at i (just past
// the name) and returns the index after '>'.
func scanStartTag(s string, i int) (end int, selfClosing bool, ok bool) {
	if i < len(s) && s[i] != '>' && s[i] != '/' && !isSpace(s[i]) {
		return 0, false, false
	}
	var quote byte
	for ; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '<':
			return 0, false, false
		case c == '>':
			return i + 1, i > 0 && s[i-1] == '/', true
		}
	}
	return 0, false, false
}

// findClose locates the end tag matching a start tag of name whose content
// begins at from.
func findClose(s string, from int, name string) (closeStart, closeEnd int, ok bool) {
	depth := 1
	for i := from; i < len(s); i++ {
		if s[i] != '<' {
			continue
		}
		if strings.HasPrefix(s[i+1:], "/"+name) {
			k := i + 2 + len(name)
			for k < len(s) && isSpace(s[k]) {
				k++
			}
			if k < len(s) && s[k] == '>' {
				depth--
				if depth == 0 {
					return i, k + 1, true
				}
				i = k
			}
			continue
		}
		if strings.HasPrefix(s[i+1:], name) {
			k := i + 1 + len(name)
			if k < len(s) && isNameChar(s[k]) {
				continue
			}
			end, self, ok := scanStartTag(s, k)
			if ok && !self {
				depth++
			}
			if ok {
				i = end - 1
			}
		}
	}
	return 0, 0, false
}

func isNameStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9') || c == '_' || c == '-' || c == ':' || c == '.'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
