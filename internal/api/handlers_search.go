package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

// handleSearch runs a similarity query over indexed chunks.
// Parameters: q (required), n, before, after.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		jsonError(w, "q query parameter is required", http.StatusBadRequest)
		return
	}
	n := min(queryInt(r, "n", 5), 50)
	before := min(queryInt(r, "before", 0), 10)
	after := min(queryInt(r, "after", 0), 10)

	matches := s.index.Query(q, n, before, after)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"query":   q,
		"matches": matches,
	})
}
