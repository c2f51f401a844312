package dataset

import (
	"encoding/json"
	"fmt"

	"github.com/dgallion1/papergest/internal/doctree"
	"github.com/dgallion1/papergest/internal/paper"
)

// References is the JSON stored in the refs column.
type References struct {
	Citations []*doctree.Citation `json:"citations"`
	Tables    []*doctree.Table    `json:"tables"`
	Figures   []*doctree.Figure   `json:"figures"`
}

// RecordFromPaper flattens p for storage.
func RecordFromPaper(p *paper.Paper, contentHash, markdown string, chunks int) (Record, error) {
	refs, err := json.Marshal(References{Citations: p.Citations, Tables: p.Tables, Figures: p.Figures})
	if err != nil {
		return Record{}, fmt.Errorf("marshal references: %w", err)
	}
	rec := Record{
		PMCID:       p.PMCID,
		Title:       p.Title,
		Authors:     p.AuthorNames(),
		Journal:     p.Journal(),
		DOI:         p.ArticleIDs["doi"],
		PMID:        p.ArticleIDs["pmid"],
		Abstract:    p.AbstractText(),
		Body:        p.BodyText(),
		Markdown:    markdown,
		Refs:        refs,
		Citations:   len(p.Citations),
		Tables:      len(p.Tables),
		Figures:     len(p.Figures),
		Warnings:    len(p.Warnings),
		Chunks:      chunks,
		ContentHash: contentHash,
	}
	if pub := p.Published(); !pub.IsZero() {
		rec.Published = pub.Format("2006-01-02")
	}
	return rec, nil
}

// References decodes the stored refs column.
func (r *Record) References() (References, error) {
	var refs References
	if len(r.Refs) == 0 {
		return refs, nil
	}
	if err := json.Unmarshal(r.Refs, &refs); err != nil {
		return refs, fmt.Errorf("decode references of %s: %w", r.PMCID, err)
	}
	return refs, nil
}
