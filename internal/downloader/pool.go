package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	errs "crxharvest/pkg/errors"
	"crxharvest/pkg/logger"
	"crxharvest/pkg/models"
	"crxharvest/pkg/ratelimit"
	"crxharvest/pkg/retry"
	"crxharvest/pkg/webstore"
)

// Job is one archive to fetch
type Job struct {
	ID string
}

// Status is the outcome of a job
type Status int

const (
	StatusDownloaded Status = iota
	StatusSkipped
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusDownloaded:
		return "downloaded"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "cancelled"
	}
}

// Result represents the result of a download job
type Result struct {
	Job      Job
	Status   Status
	Err      error
	Duration time.Duration
	Size     int64
}

// ArchiveStorage is where completed archives live
type ArchiveStorage interface {
	Exists(id string) bool
	Save(id string, r io.Reader) (int64, error)
}

// DelayFactory builds the pause a worker takes after each successful download.
// Each worker gets its own instance.
type DelayFactory func() ratelimit.Limiter

// WorkerPool manages concurrent download workers. Jobs are keyed by id and
// callers submit each id once, so workers never write the same file.
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	fetcher     webstore.ArchiveFetcher
	storage     ArchiveStorage
	newDelay    DelayFactory
	retry       *retry.Config
	logger      logger.Logger
}

// NewWorkerPool creates a new download worker pool bound to ctx
func NewWorkerPool(
	ctx context.Context,
	numWorkers int,
	fetcher webstore.ArchiveFetcher,
	storage ArchiveStorage,
	newDelay DelayFactory,
	retryCfg *retry.Config,
	log logger.Logger,
) *WorkerPool {
	if log == nil {
		log = logger.GetLogger()
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	if newDelay == nil {
		newDelay = func() ratelimit.Limiter { return ratelimit.Unlimited{} }
	}
	ctx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job, numWorkers*2),
		resultQueue: make(chan Result, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		fetcher:     fetcher,
		storage:     storage,
		newDelay:    newDelay,
		retry:       retryCfg,
		logger:      log,
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.logger.DebugWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue, waits for the workers and closes the result channel
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()
}

// Cancel aborts in-flight and queued jobs
func (wp *WorkerPool) Cancel() {
	wp.cancel()
}

// Submit adds a job to the queue
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", wp.ctx.Err())
	}
}

// Results returns the result channel
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(workerID int) {
	defer wp.wg.Done()

	delay := wp.newDelay()
	for job := range wp.jobQueue {
		if wp.ctx.Err() != nil {
			continue
		}

		result := wp.processJob(job, workerID)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			return
		}

		if result.Status == StatusDownloaded {
			if err := delay.Wait(wp.ctx); err != nil {
				return
			}
		}
	}
}

// processJob handles a single id: exists check, fetch, atomic save
func (wp *WorkerPool) processJob(job Job, workerID int) Result {
	start := time.Now()
	result := Result{Job: job}

	if err := models.CheckID(job.ID); err != nil {
		result.Status = StatusFailed
		result.Err = errs.Decode("check id", err).WithID(job.ID)
		result.Duration = time.Since(start)
		return result
	}

	if wp.storage.Exists(job.ID) {
		result.Status = StatusSkipped
		result.Duration = time.Since(start)
		return result
	}

	data, err := retry.DoWithResult(wp.ctx, func(ctx context.Context) ([]byte, error) {
		return wp.fetcher.FetchArchive(ctx, job.ID)
	}, wp.retry)
	if err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		if wp.ctx.Err() != nil {
			result.Status = StatusCancelled
			return result
		}
		result.Status = StatusFailed
		return result
	}

	size, err := wp.storage.Save(job.ID, bytes.NewReader(data))
	result.Duration = time.Since(start)
	if err != nil {
		result.Status = StatusFailed
		if !errs.IsType(err, errs.ErrorTypeStorage) {
			err = errs.Storage("save archive", err).WithID(job.ID)
		}
		result.Err = err
		return result
	}

	result.Status = StatusDownloaded
	result.Size = size

	wp.logger.DebugWithFields("Archive downloaded", map[string]interface{}{
		"worker_id": workerID,
		"id":        job.ID,
		"size":      size,
		"duration":  result.Duration,
	})
	return result
}
