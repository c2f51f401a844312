package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/papergest/internal/paper"
	"github.com/dgallion1/papergest/internal/pipeline"
)

// handleUpload queues an uploaded JATS XML file.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !isXMLFilename(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	job := pipeline.NewUploadJob(paper.NormalizePMCID(r.FormValue("pmcid")), filename, data)
	job.Force = r.FormValue("force") == "true"

	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(jobResponse(job))
}

type fetchRequest struct {
	PMCIDs []string `json:"pmcids"`
	// Term is an Entrez query whose hits are fetched as well.
	Term   string `json:"term,omitempty"`
	RetMax int    `json:"retmax,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// handleFetch queues one download job per requested PMCID.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	ids := req.PMCIDs
	if req.Term != "" {
		if s.entrez == nil {
			jsonError(w, "search is not configured", http.StatusServiceUnavailable)
			return
		}
		res, err := s.entrez.Search(r.Context(), req.Term, req.RetMax)
		if err != nil {
			jsonError(w, "search failed: "+err.Error(), http.StatusBadGateway)
			return
		}
		ids = append(ids, res.IDs...)
	}

	seen := map[string]bool{}
	results := []map[string]any{}
	for _, raw := range ids {
		pmcid := paper.NormalizePMCID(raw)
		if pmcid == "" || seen[pmcid] {
			continue
		}
		seen[pmcid] = true

		job := pipeline.NewFetchJob(pmcid)
		job.Force = req.Force
		if err := s.orchestrator.Submit(job); err != nil {
			results = append(results, map[string]any{
				"pmcid": pmcid,
				"error": err.Error(),
			})
			continue
		}
		results = append(results, jobResponse(job))
	}
	if len(seen) == 0 {
		jsonError(w, "at least one pmcid or a search term with hits is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"jobs": results})
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job.Snapshot())
}

func jobResponse(job *pipeline.Job) map[string]any {
	snap := job.Snapshot()
	return map[string]any{
		"job_id":   snap.ID,
		"pmcid":    snap.PMCID,
		"status":   snap.Status,
		"poll_url": fmt.Sprintf("/api/ingest/%s/status", snap.ID),
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func isXMLFilename(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xml", ".nxml":
		return true
	}
	return false
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
