package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/papergest/internal/config"
	"github.com/dgallion1/papergest/internal/dataset"
	"github.com/dgallion1/papergest/internal/pipeline"
	"github.com/dgallion1/papergest/internal/scrape"
	"github.com/dgallion1/papergest/internal/search"
)

// Server is the HTTP API server for papergest.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	store        *dataset.Store
	index        *search.Index
	entrez       *scrape.Client
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. entrez may be nil, which
// disables term search on the fetch endpoint and the fetch stats.
func NewServer(orch *pipeline.Orchestrator, store *dataset.Store, index *search.Index, entrez *scrape.Client, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		store:        store,
		index:        index,
		entrez:       entrez,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.PapergestAPIKey, s.log))

		r.Post("/api/papers", s.handleUpload)
		r.Post("/api/papers/fetch", s.handleFetch)
		r.Get("/api/ingest/{jobID}/status", s.handleIngestStatus)

		r.Get("/api/papers", s.handleListPapers)
		r.Get("/api/papers/{pmcid}", s.handleGetPaper)
		r.Get("/api/papers/{pmcid}/html", s.handlePaperHTML)
		r.Get("/api/papers/{pmcid}/markdown", s.handlePaperMarkdown)
		r.Delete("/api/papers/{pmcid}", s.handleDeletePaper)

		r.Get("/api/search", s.handleSearch)
		r.Get("/api/stats/fetch", s.handleFetchStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
