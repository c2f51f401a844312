// Package refmap is the per-document registry that maps integer keys to the
// references lifted out of flowing text.
//
// Keys are handed out from zero in insertion order and never reused. While
// every value is still raw markup, a reverse index maps raw text back to its
// key so repeated references share one entry. Once values are replaced with
// resolved objects the reverse index is invalid until rebuilt.
package refmap

import (
	"encoding/json"
	"fmt"

	"github.com/dgallion1/papergest/internal/doctree"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindRaw Kind = iota
	KindLink
	KindCitation
	KindTable
	KindFigure
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindLink:
		return "link"
	case KindCitation:
		return "citation"
	case KindTable:
		return "table"
	case KindFigure:
		return "figure"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is one registry entry. Exactly one payload field matches Kind.
type Value struct {
	Kind     Kind
	Raw      string
	Link     int
	Citation *doctree.Citation
	Table    *doctree.Table
	Figure   *doctree.Figure
}

func Raw(s string) Value { return Value{Kind: KindRaw, Raw: s} }
func Link(key int) Value { return Value{Kind: KindLink, Link: key} }
func CitationValue(c *doctree.Citation) Value { return Value{Kind: KindCitation, Citation: c} }
func TableValue(t *doctree.Table) Value { return Value{Kind: KindTable, Table: t} }
func FigureValue(f *doctree.Figure) Value { return Value{Kind: KindFigure, Figure: f} }

// Resolved reports whether the value is a citation, table or figure.
func (v Value) Resolved() bool {
	return v.Kind == KindCitation || v.Kind == KindTable || v.Kind == KindFigure
}

// MarshalJSON emits {"kind": ..., "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.Kind {
	case KindRaw:
		payload = v.Raw
	case KindLink:
		payload = v.Link
	case KindCitation:
		payload = v.Citation
	case KindTable:
		payload = v.Table
	case KindFigure:
		payload = v.Figure
	}
	return json.Marshal(struct {
		Kind  string `json:"kind"`
		Value any    `json:"value"`
	}{v.Kind.String(), payload})
}

// Registry is not safe for concurrent use; each document parse owns one.
type Registry struct {
	values  map[int]Value
	order   []int
	next    int
	reverse map[string]int
	valid   bool
}

func New() *Registry {
	return &Registry{
		values:  make(map[int]Value),
		reverse: make(map[string]int),
		valid:   true,
	}
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	return len(r.values)
}

// Append stores v under the next key and returns it.
func (r *Registry) Append(v Value) int {
	key := r.next
	r.next++
	r.values[key] = v
	r.order = append(r.order, key)
	if v.Kind == KindRaw && r.valid {
		if _, ok := r.reverse[v.Raw]; !ok {
			r.reverse[v.Raw] = key
		}
	} else if v.Kind != KindRaw {
		r.valid = false
	}
	return key
}

// Lookup finds the key whose raw value equals raw. It always misses once
// the reverse index has been invalidated.
func (r *Registry) Lookup(raw string) (int, bool) {
	if !r.valid {
		return 0, false
	}
	key, ok := r.reverse[raw]
	return key, ok
}

// Intern returns the key already holding raw, or appends raw under a new key.
func (r *Registry) Intern(raw string) int {
	if key, ok := r.Lookup(raw); ok {
		return key
	}
	return r.Append(Raw(raw))
}

// Get returns the value stored at key.
func (r *Registry) Get(key int) (Value, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Set replaces the value at an existing key. Storing anything other than
// raw markup invalidates the reverse index.
func (r *Registry) Set(key int, v Value) error {
	old, ok := r.values[key]
	if !ok {
		return fmt.Errorf("set key %d: no such entry", key)
	}
	if old.Kind == KindRaw && r.reverse[old.Raw] == key {
		delete(r.reverse, old.Raw)
	}
	r.values[key] = v
	if v.Kind != KindRaw {
		r.valid = false
	} else if r.valid {
		r.reverse[v.Raw] = key
	}
	return nil
}

// Delete removes key. The key is not reused.
func (r *Registry) Delete(key int) {
	v, ok := r.values[key]
	if !ok {
		return
	}
	delete(r.values, key)
	if v.Kind == KindRaw && r.reverse[v.Raw] == key {
		delete(r.reverse, v.Raw)
	}
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Keys returns live keys in insertion order.
func (r *Registry) Keys() []int {
	out := make([]int, len(r.order))
	copy(out, r.order)
	return out
}

// ReverseValid reports whether Lookup can be trusted.
func (r *Registry) ReverseValid() bool {
	return r.valid
}

// RebuildReverse reindexes the raw entries that remain and marks the
// reverse index valid again.
func (r *Registry) RebuildReverse() {
	r.reverse = make(map[string]int)
	for _, k := range r.order {
		v := r.values[k]
		if v.Kind != KindRaw {
			continue
		}
		if _, ok := r.reverse[v.Raw]; !ok {
			r.reverse[v.Raw] = k
		}
	}
	r.valid = true
}

// MarshalJSON emits the entries as an ordered list.
func (r *Registry) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(r.order))
	for _, k := range r.order {
		b, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("marshal key %d: %w", k, err)
		}
		keyed := fmt.Sprintf(`{"key":%d,"entry":%s}`, k, b)
		out = append(out, json.RawMessage(keyed))
	}
	return json.Marshal(out)
}
