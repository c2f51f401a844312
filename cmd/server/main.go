package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/papergest/internal/api"
	"github.com/dgallion1/papergest/internal/config"
	"github.com/dgallion1/papergest/internal/dataset"
	"github.com/dgallion1/papergest/internal/logging"
	"github.com/dgallion1/papergest/internal/pipeline"
	"github.com/dgallion1/papergest/internal/scrape"
	"github.com/dgallion1/papergest/internal/search"
)

func main() {
	cfg := config.Load()

	log, err := logging.FromStrings(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		log.Warn("invalid logging configuration, using defaults", "error", err)
	}
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage.
	store, err := dataset.Open(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	var archive *scrape.Archive
	if cfg.ArchiveDir != "" {
		if archive, err = scrape.NewArchive(cfg.ArchiveDir); err != nil {
			log.Error("open archive", "dir", cfg.ArchiveDir, "error", err)
			os.Exit(1)
		}
	}

	// Initialize clients.
	entrez := scrape.NewClient(cfg.EntrezURL, cfg.EntrezEmail, cfg.EntrezAPIKey)
	index := search.New(nil)

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(cfg, entrez, archive, store, index, log)
	if n, err := orch.RebuildIndex(ctx); err != nil {
		log.Error("rebuild search index", "error", err)
	} else {
		log.Info("search index loaded", "papers", n, "chunks", index.Len())
	}
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, store, index, entrez, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
		entrez.Close()
		if err := store.Close(); err != nil {
			log.Error("close database", "error", err)
		}
	}()

	log.Info("starting papergest", "port", cfg.Port, "validate_xml", cfg.ValidateXML, "strict", cfg.StrictWarnings)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-done
}
