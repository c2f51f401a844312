package refmap

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/dgallion1/papergest/internal/doctree"
)

func TestIntern_ReusesKeyForEqualRaw(t *testing.T) {
	r := New()
	a := r.Intern(`<xref rid="T1" ref-type="table">1</xref>`)
	b := r.Intern(`<xref rid="B2" ref-type="bibr">2</xref>`)
	c := r.Intern(`<xref rid="T1" ref-type="table">1</xref>`)

	if a != 0 || b != 1 {
		t.Errorf("expected keys 0 and 1, got %d and %d", a, b)
	}
	if c != a {
		t.Errorf("expected repeated raw to reuse key %d, got %d", a, c)
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", r.Len())
	}
}

func TestKeys_InsertionOrderAndNoReuse(t *testing.T) {
	r := New()
	r.Intern("a")
	r.Intern("b")
	r.Intern("c")
	r.Delete(1)
	d := r.Intern("d")

	if d != 3 {
		t.Errorf("expected fresh key 3 after delete, got %d", d)
	}
	want := []int{0, 2, 3}
	if got := r.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected keys %v, got %v", want, got)
	}
	if _, ok := r.Get(1); ok {
		t.Error("expected deleted key to be absent")
	}
}

func TestSet_InvalidatesReverse(t *testing.T) {
	r := New()
	k := r.Intern("raw")
	if !r.ReverseValid() {
		t.Fatal("expected reverse index valid before resolution")
	}
	if err := r.Set(k, CitationValue(&doctree.Citation{Title: "x"})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.ReverseValid() {
		t.Error("expected reverse index invalid after storing a resolved value")
	}
	if _, ok := r.Lookup("raw"); ok {
		t.Error("expected lookup to miss once invalidated")
	}
	v, _ := r.Get(k)
	if v.Kind != KindCitation || !v.Resolved() {
		t.Errorf("expected resolved citation, got %v", v.Kind)
	}
}

func TestSet_MissingKey(t *testing.T) {
	r := New()
	if err := r.Set(5, Raw("x")); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestRebuildReverse(t *testing.T) {
	r := New()
	r.Intern("a")
	k := r.Intern("b")
	r.Set(0, TableValue(&doctree.Table{ID: "T1"}))
	r.RebuildReverse()

	if !r.ReverseValid() {
		t.Fatal("expected reverse index valid after rebuild")
	}
	if got, ok := r.Lookup("b"); !ok || got != k {
		t.Errorf("expected lookup of b to return %d, got %d (%v)", k, got, ok)
	}
	if _, ok := r.Lookup("a"); ok {
		t.Error("expected resolved entry to be absent from reverse index")
	}
}

func TestLinkValue(t *testing.T) {
	r := New()
	r.Intern("a")
	k := r.Append(Link(0))
	v, _ := r.Get(k)
	if v.Kind != KindLink || v.Link != 0 {
		t.Errorf("expected link to 0, got %+v", v)
	}
	if v.Resolved() {
		t.Error("expected link to be unresolved")
	}
}

func TestMarshalJSON(t *testing.T) {
	r := New()
	r.Intern("a")
	r.Append(FigureValue(&doctree.Figure{ID: "F1"}))

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"key":1`) || !strings.Contains(s, `"kind":"figure"`) {
		t.Errorf("expected keyed figure entry, got %s", s)
	}
}
