// Package downloader fetches the package archive of every recorded extension
// that is not yet on disk.
package downloader

import (
	"context"
	"fmt"
	"time"

	errs "crxharvest/pkg/errors"
	"crxharvest/pkg/logger"
	"crxharvest/pkg/models"
	"crxharvest/pkg/progress"
	"crxharvest/pkg/ratelimit"
	"crxharvest/pkg/retry"
	"crxharvest/pkg/webstore"
)

// Summary counts the outcome of a batch
type Summary struct {
	Total      int
	Downloaded int
	Skipped    int
	Failed     int
	Bytes      int64
}

// Options configures a Downloader
type Options struct {
	Workers int
	// DelayMin and DelayMax bound the random pause after each successful download
	DelayMin    time.Duration
	DelayMax    time.Duration
	MaxAttempts int
	// Backoff between retries; nil uses the retry package default
	Backoff retry.BackoffStrategy
	// MinFreeBytes fails the batch up front when the archive volume has less free space
	MinFreeBytes uint64
	Progress     *progress.Display
	Logger       logger.Logger
}

type spaceChecker interface {
	CheckFreeSpace(min uint64) error
}

// Downloader drives a WorkerPool over a batch of records
type Downloader struct {
	fetcher webstore.ArchiveFetcher
	storage ArchiveStorage
	opts    Options
	logger  logger.Logger
}

// New creates a Downloader
func New(fetcher webstore.ArchiveFetcher, storage ArchiveStorage, opts Options) *Downloader {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Downloader{
		fetcher: fetcher,
		storage: storage,
		opts:    opts,
		logger:  log.WithField("stage", "download"),
	}
}

// ProcessAll downloads every record whose archive is missing. Transport
// failures are logged per item and the batch continues; a storage failure
// stops the batch and is returned.
func (d *Downloader) ProcessAll(ctx context.Context, records []models.CatalogRecord) (Summary, error) {
	var summary Summary

	if checker, ok := d.storage.(spaceChecker); ok {
		if err := checker.CheckFreeSpace(d.opts.MinFreeBytes); err != nil {
			return summary, err
		}
	}

	jobs := d.jobs(records)
	summary.Total = len(jobs)
	if d.opts.Progress != nil {
		d.opts.Progress.SetTotal(len(jobs))
	}

	logger.LogStageStart(d.logger, "download", map[string]interface{}{
		"items":   len(jobs),
		"workers": d.opts.Workers,
	})

	pool := NewWorkerPool(ctx, d.opts.Workers, d.fetcher, d.storage, d.delayFactory(), &retry.Config{
		MaxAttempts: d.opts.MaxAttempts,
		Backoff:     d.opts.Backoff,
		Logger:      d.logger,
	}, d.logger)
	pool.Start()

	go func() {
		defer pool.Stop()
		for _, job := range jobs {
			if err := pool.Submit(job); err != nil {
				return
			}
		}
	}()

	var fatal error
	for result := range pool.Results() {
		switch result.Status {
		case StatusDownloaded:
			summary.Downloaded++
			summary.Bytes += result.Size
			if d.opts.Progress != nil {
				d.opts.Progress.Done(result.Job.ID, result.Size)
			}
		case StatusSkipped:
			summary.Skipped++
			if d.opts.Progress != nil {
				d.opts.Progress.Done(result.Job.ID, 0)
			}
		case StatusFailed:
			summary.Failed++
			if d.opts.Progress != nil {
				d.opts.Progress.Fail(result.Job.ID)
			}
			if errs.IsType(result.Err, errs.ErrorTypeStorage) {
				if fatal == nil {
					fatal = result.Err
					d.logger.WithError(result.Err).ErrorWithFields("Storage failure, stopping batch", map[string]interface{}{
						"id": result.Job.ID,
					})
					pool.Cancel()
				}
				continue
			}
			logger.LogItemFailure(d.logger, "download", result.Job.ID, result.Err)
		}
	}

	logger.LogStageSummary(d.logger, "download", map[string]interface{}{
		"total":      summary.Total,
		"downloaded": summary.Downloaded,
		"skipped":    summary.Skipped,
		"failed":     summary.Failed,
		"bytes":      summary.Bytes,
	})

	if fatal != nil {
		return summary, fatal
	}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("download interrupted: %w", err)
	}
	return summary, nil
}

// jobs turns records into one job per distinct non-empty id, in record order
func (d *Downloader) jobs(records []models.CatalogRecord) []Job {
	seen := make(map[string]bool, len(records))
	jobs := make([]Job, 0, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			d.logger.WarnWithFields("Skipping record without id", map[string]interface{}{
				"index": i,
			})
			continue
		}
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		jobs = append(jobs, Job{ID: rec.ID})
	}
	return jobs
}

func (d *Downloader) delayFactory() DelayFactory {
	if d.opts.DelayMax <= 0 && d.opts.DelayMin <= 0 {
		return nil
	}
	return func() ratelimit.Limiter {
		return ratelimit.NewJitterDelay(d.opts.DelayMin, d.opts.DelayMax)
	}
}
