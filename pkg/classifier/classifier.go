// Package classifier decides which downloaded packages are network related and
// materializes them on disk.
//
// It works in three phases over the ids of the stored archives:
//
//  1. ExtractDescriptors writes only the manifest of each package to
//     <source>/<id>/manifest.json, skipping ids already extracted.
//  2. Classify evaluates the capability checks over every extracted manifest.
//     Manifests that are not network related are stripped in memory.
//  3. ExtractSelected fully extracts the network related packages, overwriting
//     whatever phase 1 left in their directories.
//
// Archive and decode failures are per-item: they are logged and the id is
// skipped. Storage failures stop the phase.
package classifier

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"crxharvest/pkg/crx"
	errs "crxharvest/pkg/errors"
	"crxharvest/pkg/logger"
	"crxharvest/pkg/manifest"
	"crxharvest/pkg/models"
	"crxharvest/pkg/progress"
	"crxharvest/pkg/report"

	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sync/errgroup"
)

// Archives is the package store the classifier reads from
type Archives interface {
	List() ([]string, error)
	Path(id string) string
}

// Recorder persists classification outcomes
type Recorder interface {
	Record(ctx context.Context, e report.Entry) error
}

// Options configures a Classifier
type Options struct {
	// Workers bounds each phase's parallelism. 0 uses one worker per physical core.
	Workers int
	// DescriptorName is the manifest entry inside each package
	DescriptorName string
	Recorder       Recorder
	Progress       *progress.Display
	Logger         logger.Logger
}

// Result is the outcome of classifying one manifest
type Result struct {
	ID      string
	Signals []manifest.Signal
	// Descriptor is stripped when no signal matched
	Descriptor manifest.Descriptor
	Issues     []manifest.FieldError
}

// NetworkRelated reports whether any capability check matched
func (r Result) NetworkRelated() bool {
	return len(r.Signals) > 0
}

// DescriptorStats counts phase 1
type DescriptorStats struct {
	Extracted int
	Present   int
	Failed    int
}

// ExtractStats counts phase 3
type ExtractStats struct {
	Packages int
	Files    int
	Failed   int
}

// Summary aggregates a full run
type Summary struct {
	Archives       int
	Descriptors    DescriptorStats
	Classified     int
	NetworkRelated int
	Stripped       int
	Extraction     ExtractStats
}

// Classifier runs the three phases
type Classifier struct {
	archives  Archives
	sourceDir string
	opts      Options
	workers   int
	logger    logger.Logger
}

// New creates a Classifier that extracts under sourceDir
func New(archives Archives, sourceDir string, opts Options) *Classifier {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.DescriptorName == "" {
		opts.DescriptorName = manifest.FileName
	}
	return &Classifier{
		archives:  archives,
		sourceDir: sourceDir,
		opts:      opts,
		workers:   resolveWorkers(opts.Workers),
		logger:    log.WithField("stage", "classify"),
	}
}

func resolveWorkers(n int) int {
	if n > 0 {
		return n
	}
	cores, err := cpu.Counts(false)
	if err != nil || cores < 1 {
		return 1
	}
	return cores
}

// Workers returns the effective per-phase parallelism
func (c *Classifier) Workers() int {
	return c.workers
}

// Dir returns the extraction directory of id
func (c *Classifier) Dir(id string) string {
	return filepath.Join(c.sourceDir, id)
}

// DescriptorPath returns where phase 1 writes the manifest of id
func (c *Classifier) DescriptorPath(id string) string {
	return filepath.Join(c.Dir(id), c.opts.DescriptorName)
}

// Run executes all three phases over every stored archive
func (c *Classifier) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	ids, err := c.archives.List()
	if err != nil {
		return summary, err
	}
	summary.Archives = len(ids)

	logger.LogStageStart(c.logger, "classify", map[string]interface{}{
		"archives": len(ids),
		"workers":  c.workers,
	})
	if c.opts.Progress != nil {
		c.opts.Progress.SetTotal(len(ids))
	}

	summary.Descriptors, err = c.ExtractDescriptors(ctx, ids)
	if err != nil {
		return summary, err
	}

	results, err := c.Classify(ctx, ids)
	if err != nil {
		return summary, err
	}
	summary.Classified = len(results)

	var selected []string
	for _, r := range results {
		if r.NetworkRelated() {
			selected = append(selected, r.ID)
		} else {
			summary.Stripped++
		}
	}
	summary.NetworkRelated = len(selected)

	summary.Extraction, err = c.ExtractSelected(ctx, selected)
	if err != nil {
		return summary, err
	}

	logger.LogStageSummary(c.logger, "classify", map[string]interface{}{
		"archives":            summary.Archives,
		"descriptors_new":     summary.Descriptors.Extracted,
		"descriptors_present": summary.Descriptors.Present,
		"descriptors_failed":  summary.Descriptors.Failed,
		"classified":          summary.Classified,
		"network_related":     summary.NetworkRelated,
		"stripped":            summary.Stripped,
		"extracted_packages":  summary.Extraction.Packages,
		"extracted_files":     summary.Extraction.Files,
		"extraction_failures": summary.Extraction.Failed,
	})
	return summary, nil
}

// ExtractDescriptors writes the manifest of every id that has none on disk yet
func (c *Classifier) ExtractDescriptors(ctx context.Context, ids []string) (DescriptorStats, error) {
	var (
		mu    sync.Mutex
		stats DescriptorStats
	)

	err := c.forEach(ctx, ids, func(ctx context.Context, id string) error {
		if err := checkID(id); err != nil {
			c.skip("extract descriptor", id, err)
			mu.Lock()
			stats.Failed++
			mu.Unlock()
			return nil
		}
		if fileExists(c.DescriptorPath(id)) {
			mu.Lock()
			stats.Present++
			mu.Unlock()
			c.done(id)
			return nil
		}

		if err := c.extractDescriptor(id); err != nil {
			if errs.IsType(err, errs.ErrorTypeStorage) {
				return err
			}
			c.skip("extract descriptor", id, err)
			mu.Lock()
			stats.Failed++
			mu.Unlock()
			return nil
		}

		mu.Lock()
		stats.Extracted++
		mu.Unlock()
		c.done(id)
		return nil
	})
	return stats, err
}

func (c *Classifier) extractDescriptor(id string) error {
	pkg, err := crx.Open(c.archives.Path(id))
	if err != nil {
		return err
	}
	defer pkg.Close()

	return pkg.ExtractFile(c.opts.DescriptorName, c.Dir(id))
}

// Classify evaluates every extracted manifest among ids. Ids without a
// manifest on disk are ignored. Results are sorted by id.
func (c *Classifier) Classify(ctx context.Context, ids []string) ([]Result, error) {
	var (
		mu      sync.Mutex
		results []Result
	)

	err := c.forEach(ctx, ids, func(ctx context.Context, id string) error {
		if err := checkID(id); err != nil {
			c.skip("classify", id, err)
			return nil
		}
		path := c.DescriptorPath(id)
		if !fileExists(path) {
			return nil
		}

		d, err := manifest.Load(path)
		if err != nil {
			if errs.IsType(err, errs.ErrorTypeDecode) {
				c.skip("classify", id, err)
				return nil
			}
			return err
		}

		result := c.evaluate(id, d)
		if err := c.record(ctx, result); err != nil {
			return err
		}

		mu.Lock()
		results = append(results, result)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}

func (c *Classifier) evaluate(id string, d manifest.Descriptor) Result {
	result := Result{ID: id, Signals: d.NetworkSignals()}

	issues, err := d.Validate()
	if err != nil {
		c.logger.WithError(err).WarnWithFields("Manifest structure check failed", map[string]interface{}{"id": id})
	}
	if len(issues) > 0 {
		messages := make([]string, len(issues))
		for i, issue := range issues {
			messages[i] = issue.String()
		}
		c.logger.WarnWithFields("Manifest has unexpected structure", map[string]interface{}{
			"id":     id,
			"issues": messages,
		})
	}
	result.Issues = issues

	if !result.NetworkRelated() {
		d.Strip()
		c.logger.DebugWithFields("Manifest stripped", map[string]interface{}{
			"id":        id,
			"kept_keys": d.Keys(),
		})
	}
	result.Descriptor = d

	c.logger.DebugWithFields("Manifest classified", map[string]interface{}{
		"id":              id,
		"network_related": result.NetworkRelated(),
		"signals":         manifest.SignalNames(result.Signals),
	})
	return result
}

func (c *Classifier) record(ctx context.Context, r Result) error {
	if c.opts.Recorder == nil {
		return nil
	}
	descriptor, err := r.Descriptor.JSON()
	if err != nil {
		return errs.Decode("encode manifest", err).WithID(r.ID)
	}
	return c.opts.Recorder.Record(ctx, report.Entry{
		ID:             r.ID,
		NetworkRelated: r.NetworkRelated(),
		Signals:        manifest.SignalNames(r.Signals),
		Descriptor:     descriptor,
		ClassifiedAt:   time.Now(),
	})
}

// ExtractSelected fully extracts every id, overwriting existing files
func (c *Classifier) ExtractSelected(ctx context.Context, ids []string) (ExtractStats, error) {
	var (
		mu    sync.Mutex
		stats ExtractStats
	)

	err := c.forEach(ctx, ids, func(ctx context.Context, id string) error {
		files, version, err := c.extractAll(id)
		if err != nil {
			if errs.IsType(err, errs.ErrorTypeStorage) {
				return err
			}
			c.skip("extract package", id, err)
			mu.Lock()
			stats.Failed++
			mu.Unlock()
			return nil
		}

		c.logger.DebugWithFields("Package extracted", map[string]interface{}{
			"id":      id,
			"files":   files,
			"version": version,
		})
		mu.Lock()
		stats.Packages++
		stats.Files += files
		mu.Unlock()
		return nil
	})
	return stats, err
}

// extractAll returns the number of files written and the container version
func (c *Classifier) extractAll(id string) (int, int, error) {
	if err := checkID(id); err != nil {
		return 0, 0, err
	}
	pkg, err := crx.Open(c.archives.Path(id))
	if err != nil {
		return 0, 0, err
	}
	defer pkg.Close()

	files, err := pkg.ExtractAll(c.Dir(id))
	return files, pkg.Version(), err
}

func checkID(id string) error {
	if err := models.CheckID(id); err != nil {
		return errs.Archive("check id", id, err)
	}
	return nil
}

// forEach runs fn over ids with at most c.workers in flight. The first
// non-nil error cancels the rest and is returned.
func (c *Classifier) forEach(ctx context.Context, ids []string, fn func(context.Context, string) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		id := id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, id)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Classifier) skip(op, id string, err error) {
	logger.LogItemFailure(c.logger, op, id, err)
	if c.opts.Progress != nil {
		c.opts.Progress.Fail(id)
	}
}

func (c *Classifier) done(id string) {
	if c.opts.Progress != nil {
		c.opts.Progress.Done(id, 0)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
