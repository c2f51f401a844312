package chunker

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dgallion1/papergest/internal/doctree"
	"github.com/dgallion1/papergest/internal/mhtml"
)

// Config controls chunking behavior.
type Config struct {
	ChunkSize    int // Target chunk size in tokens.
	ChunkOverlap int // Overlap between consecutive chunks in tokens.
	MinChunk     int // Minimum chunk size to emit.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    512,
		ChunkOverlap: 64,
		MinChunk:     8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = d.ChunkOverlap
	}
	if c.MinChunk <= 0 {
		c.MinChunk = d.MinChunk
	}
	return c
}

// ChunkID names the n-th chunk of a document.
func ChunkID(docID string, n int) string {
	return fmt.Sprintf("pmcid-%s-chunk-%d", docID, n)
}

// ChunkSections chunks the paragraphs of an article body.
func ChunkSections(docID string, sections []*doctree.Section, cfg Config) []doctree.Chunk {
	nodes := make([]doctree.Node, len(sections))
	for i, s := range sections {
		nodes[i] = s
	}
	return ChunkNodes(docID, nodes, cfg)
}

// ChunkNodes walks nodes in document order. Consecutive paragraphs under the
// same section are packed together; every chunk carries the titles of the
// sections enclosing it and the registry keys its text referenced.
func ChunkNodes(docID string, nodes []doctree.Node, cfg Config) []doctree.Chunk {
	c := &walker{docID: docID, cfg: cfg.withDefaults()}
	c.walk(nodes, nil)
	return c.chunks
}

type walker struct {
	docID  string
	cfg    Config
	chunks []doctree.Chunk
}

func (c *walker) walk(nodes []doctree.Node, breadcrumb []string) {
	var paras []string
	flush := func() {
		if len(paras) > 0 {
			c.emit(strings.Join(paras, "\n\n"), breadcrumb)
			paras = nil
		}
	}

	for _, n := range nodes {
		switch v := n.(type) {
		case *doctree.Paragraph:
			if strings.TrimSpace(v.TextWithRefs) != "" {
				paras = append(paras, v.TextWithRefs)
			}
		case *doctree.Section:
			flush()
			bc := breadcrumb
			if v.Title != "" {
				bc = append(slices.Clip(breadcrumb), v.Title)
			}
			c.walk(v.Children, bc)
		}
	}
	flush()
}

// emit splits text, which still holds dataref tokens, and records one chunk
// per part with the tokens removed.
func (c *walker) emit(text string, breadcrumb []string) {
	parts := []string{text}
	if EstimateTokens(text) > c.cfg.ChunkSize {
		parts = splitText(text, c.cfg.ChunkSize, c.cfg.ChunkOverlap)
	}
	for _, part := range parts {
		clean := strings.TrimSpace(mhtml.Remove(part))
		if EstimateTokens(clean) < c.cfg.MinChunk {
			continue
		}
		n := len(c.chunks)
		c.chunks = append(c.chunks, doctree.Chunk{
			ID:         ChunkID(c.docID, n),
			Text:       clean,
			Index:      n,
			Breadcrumb: copyBreadcrumb(breadcrumb),
			Refs:       uniqueKeys(mhtml.DataRefKeys(part)),
		})
	}
}

func uniqueKeys(keys []int) []int {
	if len(keys) == 0 {
		return nil
	}
	out := keys[:0:0]
	for _, k := range keys {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}

// splitText breaks text into chunks of approximately targetTokens, with overlap.
func splitText(text string, targetTokens, overlapTokens int) []string {
	paragraphs := splitByParagraphs(text)

	var result []string
	var current strings.Builder
	currentTokens := 0

	for _, para := range paragraphs {
		paraTokens := EstimateTokens(para)

		// A paragraph larger than the target is split on sentences.
		if paraTokens > targetTokens {
			if currentTokens > 0 {
				result = append(result, current.String())
				current.Reset()
				currentTokens = 0
			}
			result = append(result, splitBySentences(para, targetTokens, overlapTokens)...)
			continue
		}

		if currentTokens+paraTokens > targetTokens && currentTokens > 0 {
			result = append(result, current.String())

			overlap := getOverlapText(current.String(), overlapTokens)
			current.Reset()
			currentTokens = 0
			if overlap != "" {
				current.WriteString(overlap)
				currentTokens = EstimateTokens(overlap)
			}
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += paraTokens
	}

	if currentTokens > 0 {
		result = append(result, current.String())
	}
	return result
}

func splitByParagraphs(text string) []string {
	var result []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// splitBySentences breaks a large paragraph into sentence-based chunks.
func splitBySentences(text string, targetTokens, overlapTokens int) []string {
	var result []string
	var current strings.Builder
	currentTokens := 0

	for _, sent := range splitSentences(text) {
		sentTokens := EstimateTokens(sent)

		if currentTokens+sentTokens > targetTokens && currentTokens > 0 {
			result = append(result, current.String())
			overlap := getOverlapText(current.String(), overlapTokens)
			current.Reset()
			currentTokens = 0
			if overlap != "" {
				current.WriteString(overlap)
				currentTokens = EstimateTokens(overlap)
			}
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
		currentTokens += sentTokens
	}

	if currentTokens > 0 {
		result = append(result, current.String())
	}
	return result
}

// splitSentences breaks after '.', '!' or '?' followed by a space.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i+1 < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if text[i+1] == ' ' {
				sentences = append(sentences, strings.TrimSpace(text[start:i+1]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// getOverlapText returns roughly the last targetTokens worth of words.
func getOverlapText(text string, targetTokens int) string {
	words := strings.Fields(text)
	targetWords := int(float64(targetTokens) / tokensPerWord)
	if targetWords <= 0 || len(words) <= targetWords {
		return ""
	}
	return strings.Join(words[len(words)-targetWords:], " ")
}

func copyBreadcrumb(bc []string) []string {
	if len(bc) == 0 {
		return nil
	}
	return slices.Clone(bc)
}
