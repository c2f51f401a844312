package search

import (
	"fmt"
	"math"
	"testing"

	"github.com/dgallion1/papergest/internal/doctree"
)

func chunks(doc string, texts ...string) []doctree.Chunk {
	out := make([]doctree.Chunk, len(texts))
	for i, t := range texts {
		out[i] = doctree.Chunk{ID: fmt.Sprintf("pmcid-%s-chunk-%d", doc, i), Index: i, Text: t}
	}
	return out
}

func TestTerms(t *testing.T) {
	got := Terms("The Café is running, and the cafés were RUN!")
	want := []string{"cafe", "run", "cafe", "run"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("term %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestTermEmbedder_UnitLength(t *testing.T) {
	v := TermEmbedder{}.Embed("protein folding protein structure")
	if d := v.Dot(v); math.Abs(d-1) > 1e-9 {
		t.Errorf("expected unit vector, got |v|^2=%f", d)
	}
	if len(TermEmbedder{}.Embed("the and of")) != 0 {
		t.Error("expected stop words only to embed to an empty vector")
	}
}

func TestQuery_RanksBestChunk(t *testing.T) {
	ix := New(nil)
	ix.Add("1", chunks("1",
		"Patients received a placebo.",
		"Blood pressure decreased after treatment with the drug.",
		"Funding was provided by the institute.",
	))

	got := ix.Query("does the drug lower blood pressure", 1, 0, 0)
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
	if got[0].ChunkID != "pmcid-1-chunk-1" {
		t.Errorf("expected chunk 1, got %s", got[0].ChunkID)
	}
	if got[0].Text != "Blood pressure decreased after treatment with the drug." {
		t.Errorf("unexpected text %q", got[0].Text)
	}
}

func TestQuery_ExpandsNeighbours(t *testing.T) {
	ix := New(nil)
	ix.Add("1", chunks("1", "alpha intro", "beta methods", "gamma results", "delta discussion", "epsilon end"))

	got := ix.Query("gamma", 1, 1, 2)
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
	ids := got[0].ChunkIDs
	if len(ids) != 4 || ids[0] != "pmcid-1-chunk-1" || ids[3] != "pmcid-1-chunk-4" {
		t.Errorf("unexpected window %v", ids)
	}
	if got[0].Text != "beta methods\n\ngamma results\n\ndelta discussion\n\nepsilon end" {
		t.Errorf("unexpected text %q", got[0].Text)
	}
}

func TestQuery_WindowClampedAtEdges(t *testing.T) {
	ix := New(nil)
	ix.Add("1", chunks("1", "alpha intro", "beta methods"))

	got := ix.Query("alpha", 1, 5, 5)
	if len(got) != 1 || len(got[0].ChunkIDs) != 2 {
		t.Errorf("expected window clamped to 2 chunks, got %+v", got)
	}
}

func TestQuery_OverlappingWindowsMerged(t *testing.T) {
	ix := New(nil)
	ix.Add("1", chunks("1", "kinase one", "kinase two", "unrelated", "other", "more"))

	got := ix.Query("kinase", 5, 1, 1)
	if len(got) != 1 {
		t.Fatalf("expected merged match, got %d", len(got))
	}
	if len(got[0].ChunkIDs) != 3 {
		t.Errorf("expected union window of 3 chunks, got %v", got[0].ChunkIDs)
	}
}

func TestQuery_AcrossDocuments(t *testing.T) {
	ix := New(nil)
	ix.Add("1", chunks("1", "insulin resistance in mice"))
	ix.Add("2", chunks("2", "insulin signalling pathways"))
	ix.Add("3", chunks("3", "bird migration"))

	got := ix.Query("insulin", 10, 0, 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	for _, m := range got {
		if m.DocID == "3" {
			t.Error("expected unrelated document to be excluded")
		}
	}
}

func TestIndex_AddReplacesAndRemove(t *testing.T) {
	ix := New(nil)
	ix.Add("1", chunks("1", "a b c", "d e f"))
	ix.Add("1", chunks("1", "g h i"))
	if ix.Len() != 1 {
		t.Errorf("expected replaced chunks, got %d", ix.Len())
	}
	ix.Remove("1")
	if ix.Len() != 0 {
		t.Errorf("expected empty index, got %d", ix.Len())
	}
	if got := ix.Query("anything", 3, 1, 1); len(got) != 0 {
		t.Errorf("expected no matches, got %v", got)
	}
}

func TestJoinOverlapping(t *testing.T) {
	cases := []struct {
		a, b, want string
	}{
		{"", "x y", "x y"},
		{"one two three four five", "three four five six", "one two three four five six"},
		{"one two", "two three", "one two\n\ntwo three"},
		{"a b c d", "b c d", "a b c d"},
	}
	for _, c := range cases {
		if got := joinOverlapping(c.a, c.b); got != c.want {
			t.Errorf("joinOverlapping(%q, %q): expected %q, got %q", c.a, c.b, c.want, got)
		}
	}
}
