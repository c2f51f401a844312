package search

import (
	"math"
	"strings"
	"unicode"

	"github.com/surgebase/porter2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Vector is a sparse feature vector.
type Vector map[string]float64

// Dot returns the inner product of v and w.
func (v Vector) Dot(w Vector) float64 {
	if len(w) < len(v) {
		v, w = w, v
	}
	var sum float64
	for k, x := range v {
		sum += x * w[k]
	}
	return sum
}

func (v Vector) normalize() Vector {
	var sq float64
	for _, x := range v {
		sq += x * x
	}
	if sq == 0 {
		return v
	}
	n := math.Sqrt(sq)
	for k := range v {
		v[k] /= n
	}
	return v
}

// Embedder turns text into a unit-length vector.
type Embedder interface {
	Embed(text string) Vector
}

// TermEmbedder weights stemmed, accent-folded terms by log frequency.
type TermEmbedder struct{}

func (TermEmbedder) Embed(text string) Vector {
	counts := map[string]int{}
	for _, t := range Terms(text) {
		counts[t]++
	}
	v := make(Vector, len(counts))
	for t, c := range counts {
		v[t] = 1 + math.Log(float64(c))
	}
	return v.normalize()
}

// Terms lowercases and folds text, drops stop words and stems the rest.
func Terms(text string) []string {
	folded, _, err := transform.String(newFolder(), text)
	if err != nil {
		folded = text
	}
	words := strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if len(w) < 2 || stopWords[w] {
			continue
		}
		out = append(out, porter2.Stem(w))
	}
	return out
}

// newFolder strips combining marks; a Transformer is stateful so each call
// gets its own.
func newFolder() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

var stopWords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(`a about above after again against all am an and any are as at be
		because been before being below between both but by can could did do does doing down during
		each et few for from further had has have having he her here hers him his how i if in into is
		it its itself just me more most my no nor not now of off on once only or other our ours out
		over own same she should so some such than that the their theirs them then there these they
		this those through to too under until up very was we were what when where which while who
		whom why will with would you your yours al vs via`) {
		stopWords[w] = true
	}
}
