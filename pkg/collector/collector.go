// Package collector walks the paginated catalog and appends every new
// extension record to the record log, committing the cursor after each page.
package collector

import (
	"context"
	"fmt"
	"regexp"

	"crxharvest/pkg/checkpoint"
	"crxharvest/pkg/logger"
	"crxharvest/pkg/progress"
	"crxharvest/pkg/ratelimit"
	"crxharvest/pkg/recordlog"
	"crxharvest/pkg/webstore"
)

// Stats counts what a run did
type Stats struct {
	Pages          int
	Saved          int
	Duplicates     int
	BelowThreshold int
	Skipped        int
}

// Options configures a Collector
type Options struct {
	// MinUserCount drops rows with fewer users
	MinUserCount int
	// IDPattern, when set, skips rows whose id does not match
	IDPattern *regexp.Regexp
	// Limiter paces page requests; nil means unpaced
	Limiter  ratelimit.Limiter
	Progress *progress.Display
	Logger   logger.Logger
}

// Collector runs the catalog walk. It is strictly sequential.
type Collector struct {
	fetcher     webstore.PageFetcher
	records     *recordlog.Log
	checkpoints *checkpoint.Store
	opts        Options
	logger      logger.Logger
}

// New creates a collector writing to records and committing cursors to checkpoints
func New(fetcher webstore.PageFetcher, records *recordlog.Log, checkpoints *checkpoint.Store, opts Options) *Collector {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	return &Collector{
		fetcher:     fetcher,
		records:     records,
		checkpoints: checkpoints,
		opts:        opts,
		logger:      log.WithField("stage", "collect"),
	}
}

// Run walks pages from the saved cursor until the catalog is exhausted, then
// removes the checkpoint. Transport, decode and storage errors abort the run;
// the checkpoint then still points at the last fully recorded page.
func (c *Collector) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	token, resumed, err := c.checkpoints.Load()
	if err != nil {
		return stats, err
	}
	c.logger.InfoWithFields("Collecting catalog", map[string]interface{}{
		"resumed":        resumed,
		"known_records":  c.records.Index().Len(),
		"min_user_count": c.opts.MinUserCount,
	})

	for {
		if err := c.opts.Limiter.Wait(ctx); err != nil {
			return stats, err
		}

		page, err := c.fetcher.FetchPage(ctx, token)
		if err != nil {
			return stats, fmt.Errorf("page %d: %w", stats.Pages+1, err)
		}
		stats.Pages++

		if len(page.Rows) == 0 {
			c.logger.InfoWithFields("No more extensions found", map[string]interface{}{
				"page": stats.Pages,
			})
			return stats, c.checkpoints.Clear()
		}

		saved, err := c.processPage(page, stats.Pages, &stats)
		if err != nil {
			return stats, err
		}

		if page.HasNext() {
			if err := c.checkpoints.Save(page.NextToken); err != nil {
				return stats, err
			}
		}

		c.logger.DebugWithFields("Page processed", map[string]interface{}{
			"page":  stats.Pages,
			"rows":  len(page.Rows),
			"saved": saved,
			"next":  page.HasNext(),
		})

		if saved == 0 && !page.HasNext() {
			c.logger.Info("No new extensions added on the last page")
			return stats, c.checkpoints.Clear()
		}
		// an absent cursor with new items walks again from the first page
		token = page.NextToken
	}
}

// processPage records the rows of one page and returns how many were new
func (c *Collector) processPage(page *webstore.Page, pageNo int, stats *Stats) (int, error) {
	saved := 0

	for i, raw := range page.Rows {
		res := webstore.DecodeRow(raw)
		if res.Ok() && c.opts.IDPattern != nil && !c.opts.IDPattern.MatchString(res.Record.ID) {
			res = webstore.RowResult{SkipReason: fmt.Sprintf("id %q does not match %s", res.Record.ID, c.opts.IDPattern)}
		}
		if !res.Ok() {
			stats.Skipped++
			c.logger.WarnWithFields("Skipping malformed row", map[string]interface{}{
				"page":   pageNo,
				"row":    i,
				"reason": res.SkipReason,
			})
			continue
		}

		rec := res.Record
		if c.records.Contains(rec.ID) {
			stats.Duplicates++
			continue
		}
		if res.Users < c.opts.MinUserCount {
			stats.BelowThreshold++
			continue
		}

		written, err := c.records.Append(rec)
		if err != nil {
			return saved, err
		}
		if !written {
			stats.Duplicates++
			continue
		}

		saved++
		stats.Saved++
		if c.opts.Progress != nil {
			c.opts.Progress.Done(rec.ID, 0)
		}
		c.logger.InfoWithFields("Saved extension", map[string]interface{}{
			"id":    rec.ID,
			"users": res.Users,
		})
	}

	return saved, nil
}
