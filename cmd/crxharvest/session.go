package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"crxharvest/internal/downloader"
	"crxharvest/pkg/checkpoint"
	"crxharvest/pkg/classifier"
	"crxharvest/pkg/collector"
	"crxharvest/pkg/config"
	"crxharvest/pkg/logger"
	"crxharvest/pkg/progress"
	"crxharvest/pkg/ratelimit"
	"crxharvest/pkg/recordlog"
	"crxharvest/pkg/report"
	"crxharvest/pkg/storage"
	"crxharvest/pkg/webstore"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// session is the state shared by the stages of one command invocation
type session struct {
	cfg     *config.Config
	log     logger.Logger
	console *progress.Console
	out     io.Writer
	quiet   bool
	runID   string
}

// newSession loads the configuration and sets up logging for cmd.
// overrides are merged on top of the global flags.
func newSession(cmd *cobra.Command, g *globalOptions, overrides map[string]interface{}) (*session, error) {
	flags := g.flags(cmd)
	for k, v := range overrides {
		flags[k] = v
	}

	console := progress.NewConsole(cmd.OutOrStdout(), cmd.ErrOrStderr(), g.quiet)

	cfg, err := config.Load(g.configFile, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	base, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	runID := uuid.NewString()
	log := base.WithFields(map[string]interface{}{
		"run_id":  runID,
		"command": cmd.Name(),
	})
	logger.SetLogger(log)
	log.WithField("version", version).Debug("crxharvest starting")

	return &session{
		cfg:     cfg,
		log:     log,
		console: console,
		out:     cmd.OutOrStdout(),
		quiet:   g.quiet,
		runID:   runID,
	}, nil
}

// signalContext cancels on SIGINT or SIGTERM
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (s *session) display(stage string) *progress.Display {
	return progress.New(stage, 0, s.out, s.quiet)
}

func (s *session) client() *webstore.Client {
	return webstore.NewClient(s.cfg.Catalog, s.cfg.Download, s.log)
}

func (s *session) collect(ctx context.Context, restart bool) (collector.Stats, error) {
	paths := s.cfg.Paths

	checkpoints := checkpoint.NewStore(paths.CheckpointPath(), s.log)
	if restart {
		if err := checkpoints.Clear(); err != nil {
			return collector.Stats{}, err
		}
	}

	records, err := recordlog.Open(paths.RecordLogPath(), s.log)
	if err != nil {
		return collector.Stats{}, err
	}
	defer records.Close()

	idPattern, err := s.cfg.Catalog.IDRegexp()
	if err != nil {
		return collector.Stats{}, err
	}

	display := s.display("collect")
	c := collector.New(s.client(), records, checkpoints, collector.Options{
		MinUserCount: s.cfg.Catalog.MinUserCount,
		IDPattern:    idPattern,
		Limiter:      ratelimit.PerMinute(s.cfg.Catalog.RequestsPerMinute),
		Progress:     display,
		Logger:       s.log,
	})

	stats, err := c.Run(ctx)
	display.Finish(
		progress.Count{Name: "pages", Value: stats.Pages},
		progress.Count{Name: "saved", Value: stats.Saved},
		progress.Count{Name: "duplicates", Value: stats.Duplicates},
		progress.Count{Name: "below_threshold", Value: stats.BelowThreshold},
		progress.Count{Name: "skipped", Value: stats.Skipped},
	)
	if err != nil {
		return stats, err
	}
	s.console.Info("Record log", fmt.Sprintf("%s (%d records)", paths.RecordLogPath(), records.Index().Len()))
	return stats, nil
}

func (s *session) download(ctx context.Context) (downloader.Summary, error) {
	paths := s.cfg.Paths

	records, err := recordlog.ReadAll(paths.RecordLogPath(), s.log)
	if err != nil {
		return downloader.Summary{}, fmt.Errorf("no record log, run collect first: %w", err)
	}

	archives, err := storage.NewManager(paths.DownloadPath())
	if err != nil {
		return downloader.Summary{}, err
	}

	display := s.display("download")
	d := downloader.New(s.client(), archives, downloader.Options{
		Workers:      s.cfg.Download.Workers,
		DelayMin:     s.cfg.Download.DelayMin,
		DelayMax:     s.cfg.Download.DelayMax,
		MaxAttempts:  s.cfg.Download.MaxAttempts,
		MinFreeBytes: s.cfg.Download.MinFreeBytes,
		Progress:     display,
		Logger:       s.log,
	})

	summary, err := d.ProcessAll(ctx, records)
	display.Finish(
		progress.Count{Name: "total", Value: summary.Total},
		progress.Count{Name: "downloaded", Value: summary.Downloaded},
		progress.Count{Name: "skipped", Value: summary.Skipped},
		progress.Count{Name: "failed", Value: summary.Failed},
	)
	return summary, err
}

func (s *session) classify(ctx context.Context) (classifier.Summary, error) {
	paths := s.cfg.Paths

	archives, err := storage.NewManager(paths.DownloadPath())
	if err != nil {
		return classifier.Summary{}, err
	}

	display := s.display("classify")
	opts := classifier.Options{
		Workers:        s.cfg.Classify.Workers,
		DescriptorName: s.cfg.Classify.DescriptorName,
		Progress:       display,
		Logger:         s.log,
	}

	if s.cfg.Classify.RecordReport {
		rep, err := report.Open(paths.ReportPath(), s.log)
		if err != nil {
			return classifier.Summary{}, err
		}
		defer rep.Close()
		opts.Recorder = rep
	}

	summary, err := classifier.New(archives, paths.SourcePath(), opts).Run(ctx)
	display.Finish(
		progress.Count{Name: "archives", Value: summary.Archives},
		progress.Count{Name: "classified", Value: summary.Classified},
		progress.Count{Name: "network_related", Value: summary.NetworkRelated},
		progress.Count{Name: "stripped", Value: summary.Stripped},
		progress.Count{Name: "extracted", Value: summary.Extraction.Packages},
		progress.Count{Name: "failed", Value: summary.Descriptors.Failed + summary.Extraction.Failed},
	)
	if err != nil {
		return summary, err
	}
	if s.cfg.Classify.RecordReport {
		s.console.Info("Report", paths.ReportPath())
	}
	return summary, nil
}
