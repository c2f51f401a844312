package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/papergest/internal/config"
	"github.com/dgallion1/papergest/internal/dataset"
	"github.com/dgallion1/papergest/internal/pipeline"
	"github.com/dgallion1/papergest/internal/scrape"
	"github.com/dgallion1/papergest/internal/search"
)

const testKey = "secret"

func sampleXML(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("../paper/testdata/sample.xml")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

// newTestServer starts a full stack backed by a temp database and a fake
// Entrez endpoint that serves the sample article for any id.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	sample := sampleXML(t)
	entrezSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/esearch.fcgi":
			w.Write([]byte(`{"esearchresult":{"count":"1","idlist":["1234567"]}}`))
		case "/efetch.fcgi":
			w.Write(sample)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(entrezSrv.Close)

	cfg := config.Config{
		PapergestAPIKey:     testKey,
		WorkerCount:         1,
		MaxQueueSize:        8,
		MaxUploadBytes:      1 << 20,
		DefaultChunkSize:    512,
		DefaultChunkOverlap: 64,
		JobTTL:              time.Hour,
		ValidateXML:         true,
		OnUnknownTag:        "keep",
	}
	store, err := dataset.Open(filepath.Join(t.TempDir(), "papers.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	entrez := scrape.NewClient(entrezSrv.URL, "", "")
	index := search.New(nil)
	orch := pipeline.NewOrchestrator(cfg, entrez, nil, store, index, log)
	orch.Start(context.Background())
	t.Cleanup(func() {
		orch.Stop()
		store.Close()
	})
	return NewServer(orch, store, index, entrez, log, cfg)
}

func do(t *testing.T, s *Server, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+testKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func upload(t *testing.T, s *Server, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(data)
	mw.Close()
	return do(t, s, http.MethodPost, "/api/papers", &buf, mw.FormDataContentType())
}

func waitJob(t *testing.T, s *Server, jobID string) pipeline.JobSnapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec := do(t, s, http.MethodGet, "/api/ingest/"+jobID+"/status", nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 from status, got %d", rec.Code)
		}
		var snap pipeline.JobSnapshot
		if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", jobID)
	return pipeline.JobSnapshot{}
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("expected ok health, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)
	for _, header := range []string{"", "Bearer wrong"} {
		req := httptest.NewRequest(http.MethodGet, "/api/papers", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
}

func TestUploadLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := upload(t, s, "sample.nxml", sampleXML(t))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", rec.Code, rec.Body.String())
	}
	var queued map[string]any
	json.Unmarshal(rec.Body.Bytes(), &queued)
	snap := waitJob(t, s, queued["job_id"].(string))
	if snap.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed, got %q (%v)", snap.Status, snap.Progress.Errors)
	}

	rec = do(t, s, http.MethodGet, "/api/papers/PMC1234567", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for paper, got %d", rec.Code)
	}
	var got struct {
		PMCID      string `json:"pmcid"`
		References struct {
			Citations []map[string]any `json:"citations"`
		} `json:"references"`
	}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.PMCID != "1234567" || len(got.References.Citations) != 2 {
		t.Errorf("unexpected paper %s", rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/papers/1234567/html", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<table>") {
		t.Errorf("expected html with a table, got %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, s, http.MethodGet, "/api/papers/1234567/markdown", nil, "")
	if !strings.HasPrefix(rec.Body.String(), "# Effects of Drug X") {
		t.Errorf("unexpected markdown %q", rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/papers?limit=10", nil, "")
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected one listed paper, got %s", rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/search?q=drug+effect+table", nil, "")
	if !strings.Contains(rec.Body.String(), `"doc_id":"1234567"`) {
		t.Errorf("expected search hit, got %s", rec.Body.String())
	}

	rec = do(t, s, http.MethodDelete, "/api/papers/1234567", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 on delete, got %d", rec.Code)
	}
	rec = do(t, s, http.MethodGet, "/api/papers/1234567", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
	rec = do(t, s, http.MethodGet, "/api/search?q=drug+effect+table", nil, "")
	if strings.Contains(rec.Body.String(), "1234567") {
		t.Errorf("expected no hits after delete, got %s", rec.Body.String())
	}
}

func TestUploadRejectsNonXML(t *testing.T) {
	s := newTestServer(t)
	rec := upload(t, s, "paper.pdf", []byte("%PDF"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestFetchByTerm(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/papers/fetch",
		strings.NewReader(`{"pmcids":["PMC1234567"],"term":"drug x"}`), "application/json")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Jobs []map[string]any `json:"jobs"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Jobs) != 1 {
		t.Fatalf("expected search hit merged with explicit id, got %d jobs", len(resp.Jobs))
	}
	snap := waitJob(t, s, resp.Jobs[0]["job_id"].(string))
	if snap.Status != pipeline.StatusCompleted {
		t.Errorf("expected completed, got %q (%v)", snap.Status, snap.Progress.Errors)
	}

	rec = do(t, s, http.MethodGet, "/api/stats/fetch", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Errorf("expected one recorded fetch, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestFetchRequiresIDs(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/papers/fetch", strings.NewReader(`{"pmcids":[]}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/ingest/nope/status", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/search", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
