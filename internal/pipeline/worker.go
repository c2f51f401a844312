package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/papergest/internal/chunker"
	"github.com/dgallion1/papergest/internal/clean"
	"github.com/dgallion1/papergest/internal/dataset"
	"github.com/dgallion1/papergest/internal/paper"
	"github.com/dgallion1/papergest/internal/render"
	"github.com/dgallion1/papergest/internal/scrape"
	"github.com/dgallion1/papergest/internal/search"
	"github.com/dgallion1/papergest/internal/validate"
)

// Fetcher downloads article XML by PMCID.
type Fetcher interface {
	FetchXML(ctx context.Context, pmcid string) ([]byte, error)
}

// Options control how a worker processes articles.
type Options struct {
	Chunk    chunker.Config
	Split    clean.Options
	Validate bool // check the DTD and structure before parsing
	Strict   bool // fail jobs whose parse raised warnings
}

// Worker processes a single article job.
type Worker struct {
	fetcher Fetcher
	archive *scrape.Archive
	store   *dataset.Store
	index   *search.Index
	log     *slog.Logger
	opts    Options

	backoff func(attempt int) time.Duration
}

// NewWorker returns a worker. fetcher and archive may be nil; without a
// fetcher only uploaded XML can be processed.
func NewWorker(fetcher Fetcher, archive *scrape.Archive, store *dataset.Store, index *search.Index, log *slog.Logger, opts Options) *Worker {
	return &Worker{
		fetcher: fetcher,
		archive: archive,
		store:   store,
		index:   index,
		log:     log,
		opts:    opts,
		backoff: Backoff,
	}
}

// Process runs the full ingest pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID)
	if job.PMCID != "" {
		log = log.With("pmcid", job.PMCID)
	}
	hadErrors := false

	fail := func(phase string, err error) {
		log.Error(phase+" failed", "error", err)
		job.AddError(fmt.Sprintf("%s: %s", phase, err))
		job.SetStatus(StatusFailed, phase)
	}

	// Phase 1: Fetch
	data := job.FileData()
	if data == nil {
		job.SetStatus(StatusFetching, "fetching")
		var err error
		data, err = w.fetch(ctx, log, job.PMCID)
		if err != nil {
			fail("fetching", err)
			return
		}
	}

	hash := ContentHashHex(data)
	job.SetContentHash(hash)

	// Phase 1.5: Dedup check
	if !job.Force {
		existing, exists, err := w.store.FindByHash(ctx, hash)
		if err != nil {
			log.Warn("dedup check failed, proceeding", "error", err)
		} else if exists {
			log.Info("duplicate article, skipping", "existing_pmcid", existing)
			job.SetStatus(StatusDupSkipped, "dedup")
			return
		}
	}

	// Phase 2: Validate
	if w.opts.Validate {
		job.SetStatus(StatusValidating, "validating")
		res, err := validate.Validate(data)
		if err != nil {
			fail("validating", err)
			return
		}
		if !res.Valid {
			for _, e := range res.Errors {
				job.AddError("validating: " + e)
			}
			log.Error("validation failed", "dtd", res.DTD, "errors", len(res.Errors))
			job.SetStatus(StatusFailed, "validating")
			return
		}
	}

	// Phase 3: Parse
	job.SetStatus(StatusParsing, "parsing")
	p, err := paper.FromXML(data, job.PMCID, paper.Options{Split: w.opts.Split, Logger: log})
	if err != nil {
		fail("parsing", err)
		return
	}
	if p.PMCID == "" {
		p.PMCID = uuid.New().String()
		log.Warn("article carries no PMCID, assigned one", "assigned", p.PMCID)
	}
	if job.PMCID == "" {
		log = log.With("pmcid", p.PMCID)
	}
	job.SetArticle(p.PMCID, p.Title, len(p.Citations), len(p.Tables), len(p.Figures), len(p.Warnings))
	log.Info("parsed article",
		"citations", len(p.Citations), "tables", len(p.Tables),
		"figures", len(p.Figures), "warnings", len(p.Warnings))

	if w.opts.Strict {
		if err := p.Escalate(); err != nil {
			fail("parsing", err)
			return
		}
	}

	// Phase 4: Chunk
	job.SetStatus(StatusChunking, "chunking")
	chunks := chunker.ChunkNodes(p.PMCID, p.Nodes(), w.opts.Chunk)
	job.SetChunks(len(chunks))
	log.Info("chunked article", "chunks", len(chunks))
	if len(chunks) == 0 {
		log.Warn("no chunks produced")
		job.AddError("chunking: no text content")
		hadErrors = true
	}

	// Phase 5: Store
	job.SetStatus(StatusStoring, "storing")
	md := render.Markdown(p, render.Options{})
	rec, err := dataset.RecordFromPaper(p, hash, md, len(chunks))
	if err != nil {
		fail("storing", err)
		return
	}
	if err := w.store.Put(ctx, rec); err != nil {
		fail("storing", err)
		return
	}
	if err := w.store.PutChunks(ctx, p.PMCID, chunks); err != nil {
		log.Error("chunk write failed", "error", err)
		job.AddError(fmt.Sprintf("storing chunks: %s", err))
		hadErrors = true
	}
	if w.index != nil {
		w.index.Add(p.PMCID, chunks)
	}
	log.Info("stored article")

	if hadErrors {
		job.SetStatus(StatusPartial, "done")
	} else {
		job.SetStatus(StatusCompleted, "done")
	}
}

// fetch returns the archived XML for pmcid, or downloads and archives it.
// Retryable download errors are retried with backoff.
func (w *Worker) fetch(ctx context.Context, log *slog.Logger, pmcid string) ([]byte, error) {
	if pmcid == "" {
		return nil, errors.New("no PMCID to fetch")
	}
	if w.archive != nil {
		data, err := w.archive.Get(pmcid)
		if err == nil {
			log.Info("using archived xml")
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("archive read failed", "error", err)
		}
	}
	if w.fetcher == nil {
		return nil, errors.New("fetching is not configured")
	}

	data, err := FetchWithRetry(ctx, w.fetcher, pmcid, w.backoff, log)
	if err != nil {
		return nil, err
	}

	if w.archive != nil {
		if err := w.archive.Put(pmcid, data); err != nil {
			log.Warn("archive write failed", "error", err)
		}
	}
	return data, nil
}
