// Package search is an in-memory similarity index over article chunks.
package search

import (
	"cmp"
	"slices"
	"strings"
	"sync"

	"github.com/dgallion1/papergest/internal/doctree"
)

// Match is one query hit expanded with its neighbouring chunks.
type Match struct {
	DocID      string   `json:"doc_id"`
	ChunkID    string   `json:"chunk_id"`
	Score      float64  `json:"score"`
	Breadcrumb []string `json:"breadcrumb,omitempty"`
	ChunkIDs   []string `json:"chunk_ids"`
	Text       string   `json:"text"`
}

type entry struct {
	chunk doctree.Chunk
	vec   Vector
}

// Index holds the chunks of every added document. Safe for concurrent use.
type Index struct {
	mu    sync.RWMutex
	embed Embedder
	docs  map[string][]entry
}

// New returns an index using e, or a TermEmbedder when e is nil.
func New(e Embedder) *Index {
	if e == nil {
		e = TermEmbedder{}
	}
	return &Index{embed: e, docs: map[string][]entry{}}
}

// Add replaces the chunks stored for docID.
func (ix *Index) Add(docID string, chunks []doctree.Chunk) {
	entries := make([]entry, len(chunks))
	for i, c := range chunks {
		entries[i] = entry{chunk: c, vec: ix.embed.Embed(c.Text)}
	}
	slices.SortFunc(entries, func(a, b entry) int { return cmp.Compare(a.chunk.Index, b.chunk.Index) })

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.docs[docID] = entries
}

// Remove drops docID from the index.
func (ix *Index) Remove(docID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.docs, docID)
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, es := range ix.docs {
		n += len(es)
	}
	return n
}

type hit struct {
	docID string
	pos   int
	score float64
}

// Query returns up to n matches for q. Each match covers the hit chunk plus
// up to before chunks ahead of it and after chunks behind it; hits whose
// windows overlap within a document are merged into the better one.
func (ix *Index) Query(q string, n, before, after int) []Match {
	if n <= 0 {
		n = 1
	}
	before, after = max(before, 0), max(after, 0)
	qv := ix.embed.Embed(q)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var hits []hit
	for docID, es := range ix.docs {
		for i, e := range es {
			if s := qv.Dot(e.vec); s > 0 {
				hits = append(hits, hit{docID: docID, pos: i, score: s})
			}
		}
	}
	slices.SortFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.docID, b.docID); c != 0 {
			return c
		}
		return cmp.Compare(a.pos, b.pos)
	})

	type window struct {
		hit
		lo, hi int
	}
	var windows []*window
	for _, h := range hits {
		if len(windows) == n {
			break
		}
		es := ix.docs[h.docID]
		lo, hi := max(h.pos-before, 0), min(h.pos+after, len(es)-1)
		merged := false
		for _, w := range windows {
			if w.docID == h.docID && lo <= w.hi+1 && hi >= w.lo-1 {
				w.lo, w.hi = min(w.lo, lo), max(w.hi, hi)
				merged = true
				break
			}
		}
		if !merged {
			windows = append(windows, &window{hit: h, lo: lo, hi: hi})
		}
	}

	out := make([]Match, 0, len(windows))
	for _, w := range windows {
		es := ix.docs[w.docID]
		m := Match{
			DocID:      w.docID,
			ChunkID:    es[w.pos].chunk.ID,
			Score:      w.score,
			Breadcrumb: es[w.pos].chunk.Breadcrumb,
		}
		for _, e := range es[w.lo : w.hi+1] {
			m.ChunkIDs = append(m.ChunkIDs, e.chunk.ID)
			m.Text = joinOverlapping(m.Text, e.chunk.Text)
		}
		out = append(out, m)
	}
	return out
}

// minOverlapWords keeps short coincidental repeats from being merged.
const minOverlapWords = 3

// joinOverlapping appends b to a, dropping the longest run of whole words
// that ends a and starts b.
func joinOverlapping(a, b string) string {
	if a == "" {
		return b
	}
	aw, bw := strings.Fields(a), strings.Fields(b)
	for k := min(len(aw), len(bw)); k >= minOverlapWords; k-- {
		if slices.Equal(aw[len(aw)-k:], bw[:k]) {
			rest := strings.TrimSpace(afterWords(b, k))
			if rest == "" {
				return a
			}
			return a + " " + rest
		}
	}
	return a + "\n\n" + b
}

// afterWords returns s with its first k whitespace-separated words removed.
func afterWords(s string, k int) string {
	for i := 0; i < k; i++ {
		s = strings.TrimLeft(s, " \t\r\n")
		j := strings.IndexAny(s, " \t\r\n")
		if j < 0 {
			return ""
		}
		s = s[j:]
	}
	return s
}
