package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/papergest/internal/dataset"
	"github.com/dgallion1/papergest/internal/paper"
	"github.com/dgallion1/papergest/internal/render"
)

// handleListPapers pages through stored papers, newest first.
func (s *Server) handleListPapers(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit > 500 {
		limit = 500
	}

	papers, err := s.store.List(r.Context(), limit, offset)
	if err != nil {
		jsonError(w, "failed to list papers: "+err.Error(), http.StatusInternalServerError)
		return
	}
	total, err := s.store.Count(r.Context())
	if err != nil {
		jsonError(w, "failed to count papers: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"papers": papers,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// handleGetPaper returns the full record with decoded references.
func (s *Server) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	refs, err := rec.References()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	rec.Refs = nil

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		*dataset.Record
		References dataset.References `json:"references"`
	}{rec, refs})
}

func (s *Server) handlePaperHTML(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	out, err := render.HTML(rec.Markdown)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(out))
}

func (s *Server) handlePaperMarkdown(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(rec.Markdown))
}

// handleDeletePaper removes a paper, its chunks and its index entries.
func (s *Server) handleDeletePaper(w http.ResponseWriter, r *http.Request) {
	pmcid := paper.NormalizePMCID(chi.URLParam(r, "pmcid"))
	err := s.orchestrator.Remove(r.Context(), pmcid)
	if errors.Is(err, dataset.ErrNotFound) {
		jsonError(w, "paper not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "failed to delete paper: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"deleted": pmcid})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*dataset.Record, bool) {
	pmcid := paper.NormalizePMCID(chi.URLParam(r, "pmcid"))
	rec, err := s.store.Get(r.Context(), pmcid)
	if errors.Is(err, dataset.ErrNotFound) {
		jsonError(w, "paper not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		jsonError(w, "failed to load paper: "+err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return rec, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}
