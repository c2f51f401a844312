package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/papergest/internal/chunker"
	"github.com/dgallion1/papergest/internal/config"
	"github.com/dgallion1/papergest/internal/dataset"
	"github.com/dgallion1/papergest/internal/scrape"
	"github.com/dgallion1/papergest/internal/search"
)

// Orchestrator manages the article ingestion pipeline.
type Orchestrator struct {
	jobs    *JobStore
	queue   chan *Job
	fetcher Fetcher
	archive *scrape.Archive
	store   *dataset.Store
	index   *search.Index
	log     *slog.Logger
	cfg     config.Config
	opts    Options

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewOrchestrator wires the pipeline. fetcher and archive may be nil.
func NewOrchestrator(cfg config.Config, fetcher Fetcher, archive *scrape.Archive, store *dataset.Store, index *search.Index, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:    NewJobStore(cfg.JobTTL),
		queue:   make(chan *Job, cfg.MaxQueueSize),
		fetcher: fetcher,
		archive: archive,
		store:   store,
		index:   index,
		log:     log,
		cfg:     cfg,
		opts: Options{
			Chunk: chunker.Config{
				ChunkSize:    cfg.DefaultChunkSize,
				ChunkOverlap: cfg.DefaultChunkOverlap,
			},
			Split:    cfg.SplitOptions(),
			Validate: cfg.ValidateXML,
			Strict:   cfg.StrictWarnings,
		},
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o.fetcher, o.archive, o.store, o.index, o.log, o.opts)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop gracefully shuts down the pipeline.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		if o.cancel != nil {
			o.cancel()
		}
		close(o.queue)
		o.wg.Wait()
	})
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// RebuildIndex loads every stored chunk into the search index and returns
// the number of articles indexed.
func (o *Orchestrator) RebuildIndex(ctx context.Context) (int, error) {
	all, err := o.store.AllChunks(ctx)
	if err != nil {
		return 0, fmt.Errorf("rebuild index: %w", err)
	}
	for pmcid, chunks := range all {
		o.index.Add(pmcid, chunks)
	}
	return len(all), nil
}

// Remove deletes an article from the store and the search index.
func (o *Orchestrator) Remove(ctx context.Context, pmcid string) error {
	if err := o.store.Delete(ctx, pmcid); err != nil {
		return err
	}
	o.index.Remove(pmcid)
	return nil
}
