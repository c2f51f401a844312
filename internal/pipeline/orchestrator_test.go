package pipeline

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgallion1/papergest/internal/config"
	"github.com/dgallion1/papergest/internal/dataset"
	"github.com/dgallion1/papergest/internal/search"
)

func testConfig() config.Config {
	return config.Config{
		WorkerCount:         2,
		MaxQueueSize:        4,
		JobTTL:              time.Hour,
		DefaultChunkSize:    512,
		DefaultChunkOverlap: 64,
		ValidateXML:         true,
		OnUnknownTag:        "keep",
	}
}

func waitTerminal(t *testing.T, job *Job) JobSnapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if snap := job.Snapshot(); snap.Status.Terminal() {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", job.ID)
	return JobSnapshot{}
}

func TestOrchestrator_ProcessesAndRebuildsIndex(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "papers.db")
	store, err := dataset.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	o := NewOrchestrator(testConfig(), nil, nil, store, search.New(nil), log)
	o.Start(context.Background())
	job := NewUploadJob("", "sample.xml", sampleXML(t))
	if err := o.Submit(job); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if snap := waitTerminal(t, job); snap.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q (%v)", snap.Status, snap.Progress.Errors)
	}
	if o.GetJob(job.ID) != job {
		t.Error("expected job to be retrievable by id")
	}
	o.Stop()
	o.Stop()

	// A fresh index is rebuilt from the stored chunks.
	fresh := NewOrchestrator(testConfig(), nil, nil, store, search.New(nil), log)
	n, err := fresh.RebuildIndex(context.Background())
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if n != 1 || fresh.index.Len() == 0 {
		t.Errorf("expected 1 article indexed, got %d with %d chunks", n, fresh.index.Len())
	}
	if err := fresh.Remove(context.Background(), "1234567"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if fresh.index.Len() != 0 {
		t.Errorf("expected index emptied, got %d chunks", fresh.index.Len())
	}
}

func TestOrchestrator_QueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueSize = 1
	o := NewOrchestrator(cfg, nil, nil, nil, search.New(nil), slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Workers are not started, so the second job cannot be queued.
	if err := o.Submit(NewFetchJob("1")); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	job := NewFetchJob("2")
	if err := o.Submit(job); err == nil {
		t.Error("expected queue full error")
	}
	if s := job.Snapshot().Status; s != StatusFailed {
		t.Errorf("expected failed status, got %q", s)
	}
	if o.QueueDepth() != 1 {
		t.Errorf("expected queue depth 1, got %d", o.QueueDepth())
	}
}
