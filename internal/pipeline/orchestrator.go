package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hward/sn2n/internal/config"
	"github.com/hward/sn2n/internal/placer"
)

// Orchestrator manages the page migration pipeline.
type Orchestrator struct {
	jobs   *JobStore
	queue  chan *Job
	worker *Worker
	placer *placer.Orchestrator
	log    *slog.Logger
	cfg    config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator wires the placement layer onto the store and builds
// the pipeline.
func NewOrchestrator(cfg config.Config, store PageStore, log *slog.Logger) *Orchestrator {
	chunker := placer.NewChunker(store, log, placer.ChunkerConfig{
		MaxChildren:    cfg.MaxChildren,
		MaxAttempts:    cfg.MaxAttempts,
		TransientDelay: cfg.TransientDelay,
		RateLimitDelay: cfg.RateLimitDelay,
		RateLimitCap:   cfg.RateLimitCap,
		BatchPause:     cfg.BatchPause,
		LargeBatchAt:   4,
	})
	placeOrch := placer.NewOrchestrator(store, chunker, log, cfg.SweepDelay)
	deduper := placer.NewDeduper(store, log, placer.DedupeConfig{
		ProximityWindow: cfg.ProximityWindow,
	})

	return &Orchestrator{
		jobs:   NewJobStore(cfg.JobTTL),
		queue:  make(chan *Job, cfg.MaxQueueSize),
		worker: NewWorker(store, chunker, placeOrch, deduper, log, cfg.NestingCeiling, cfg.MaxChildren),
		placer: placeOrch,
		log:    log,
		cfg:    cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for i := 0; i < o.cfg.WorkerCount; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					o.worker.Process(workerCtx, job)
				}
			}
		}()
	}

	// Job store cleanup.
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
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
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

// SweepMarkers re-sweeps a page without re-running placement, for
// callers remediating a marker leak by hand.
func (o *Orchestrator) SweepMarkers(ctx context.Context, pageID string) (int, error) {
	return o.placer.SweepMarkers(ctx, pageID)
}
