// Package mhtml encodes and strips the bracketed placeholder tokens that
// stand in for structural references inside flowing text.
//
// Untyped tokens look like [MHTML::payload]; typed tokens look like
// [MHTML::type::payload]. Payloads must not contain ':', '[' or ']'.
package mhtml

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

const (
	// Namespace is the fixed prefix of every token.
	Namespace = "MHTML"
	// DataRefType is the token type used for registry references.
	DataRefType = "dataref"
)

var (
	tokenRe   = regexp.MustCompile(`\[` + Namespace + `::([^:\[\]]+)::([^:\[\]]+)\]|\[` + Namespace + `::([^:\[\]]+)\]`)
	dataRefRe = regexp.MustCompile(`\[` + Namespace + `::` + DataRefType + `::([0-9]+)\]`)
)

// Tag returns the untyped token for payload.
func Tag(payload string) string {
	return "[" + Namespace + "::" + payload + "]"
}

// TypedTag returns the typed token for payload.
func TypedTag(tagType, payload string) string {
	return "[" + Namespace + "::" + tagType + "::" + payload + "]"
}

// DataRef returns the token pointing at registry key.
func DataRef(key int) string {
	return TypedTag(DataRefType, strconv.Itoa(key))
}

// Remove strips every well-formed token from text. Malformed bracket
// sequences are left alone, and applying Remove twice equals applying it once:
// text joined around a stripped token can form a new token, so passes repeat
// until nothing matches.
func Remove(text string) string {
	for {
		out := tokenRe.ReplaceAllString(text, "")
		if out == text {
			return out
		}
		text = out
	}
}

// Token is a decoded placeholder.
type Token struct {
	Type    string // empty for untyped tokens
	Payload string
}

// Decode returns every well-formed token in text, in order.
func Decode(text string) []Token {
	matches := tokenRe.FindAllStringSubmatch(text, -1)
	out := make([]Token, 0, len(matches))
	for _, m := range matches {
		if m[3] != "" {
			out = append(out, Token{Payload: m[3]})
			continue
		}
		out = append(out, Token{Type: m[1], Payload: m[2]})
	}
	return out
}

// DataRefKeys returns the registry keys referenced by dataref tokens in text,
// in order of appearance. Repeats are kept.
func DataRefKeys(text string) []int {
	matches := dataRefRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	keys := make([]int, 0, len(matches))
	for _, m := range matches {
		k, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// ReplaceDataRefs replaces each dataref token in text with repl(key) and
// leaves every other token in place.
func ReplaceDataRefs(text string, repl func(key int) string) string {
	return dataRefRe.ReplaceAllStringFunc(text, func(tok string) string {
		m := dataRefRe.FindStringSubmatch(tok)
		k, err := strconv.Atoi(m[1])
		if err != nil {
			return tok
		}
		return repl(k)
	})
}

// UnescapeExcept unescapes HTML character references in s while leaving the
// listed encodings (for example "&lt;" and "&gt;") untouched, so that escaped
// markup stays escaped.
func UnescapeExcept(s string, keep ...string) string {
	if len(keep) == 0 {
		return html.UnescapeString(s)
	}
	pairs := make([]string, 0, len(keep)*2)
	restore := make([]string, 0, len(keep)*2)
	for i, enc := range keep {
		tok := Tag(fmt.Sprintf("keep%d", i))
		pairs = append(pairs, enc, tok)
		restore = append(restore, tok, enc)
	}
	s = strings.NewReplacer(pairs...).Replace(s)
	s = html.UnescapeString(s)
	return strings.NewReplacer(restore...).Replace(s)
}
