package dataset

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgallion1/papergest/internal/doctree"
)

// PutChunks replaces the stored chunks of pmcid.
func (s *Store) PutChunks(ctx context.Context, pmcid string, chunks []doctree.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put chunks of %s: %w", pmcid, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE pmcid = ?", pmcid); err != nil {
		return fmt.Errorf("clear chunks of %s: %w", pmcid, err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO chunks (pmcid, idx, chunk_id, text, breadcrumb, refs) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("put chunks of %s: %w", pmcid, err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		bc, err := json.Marshal(nonNil(c.Breadcrumb))
		if err != nil {
			return fmt.Errorf("marshal breadcrumb: %w", err)
		}
		refs := c.Refs
		if refs == nil {
			refs = []int{}
		}
		rj, err := json.Marshal(refs)
		if err != nil {
			return fmt.Errorf("marshal chunk refs: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, pmcid, c.Index, c.ID, c.Text, string(bc), string(rj)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// Chunks returns the stored chunks of pmcid in order.
func (s *Store) Chunks(ctx context.Context, pmcid string) ([]doctree.Chunk, error) {
	all, err := s.queryChunks(ctx, "WHERE pmcid = ?", pmcid)
	if err != nil {
		return nil, err
	}
	return all[pmcid], nil
}

// AllChunks returns every stored chunk grouped by PMCID.
func (s *Store) AllChunks(ctx context.Context) (map[string][]doctree.Chunk, error) {
	return s.queryChunks(ctx, "")
}

func (s *Store) queryChunks(ctx context.Context, where string, args ...any) (map[string][]doctree.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT pmcid, idx, chunk_id, text, breadcrumb, refs FROM chunks "+where+" ORDER BY pmcid, idx", args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	out := map[string][]doctree.Chunk{}
	for rows.Next() {
		var pmcid, bc, refs string
		var c doctree.Chunk
		if err := rows.Scan(&pmcid, &c.Index, &c.ID, &c.Text, &bc, &refs); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(bc), &c.Breadcrumb); err != nil {
			return nil, fmt.Errorf("decode breadcrumb of %s: %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(refs), &c.Refs); err != nil {
			return nil, fmt.Errorf("decode refs of %s: %w", c.ID, err)
		}
		out[pmcid] = append(out[pmcid], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	return out, nil
}
