package main

import (
	"github.com/spf13/cobra"
)

func newDownloadCmd(g *globalOptions) *cobra.Command {
	var (
		workers     int
		maxAttempts int
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the archive of every recorded extension",
		Long: `Download the package archive of every extension in the record log that is
not already on disk. A failed download is logged and skipped; running the
command again retries only the missing archives.`,
		Example: `  # Sequential download with a random pause after each archive
  crxharvest download

  # Four workers, each pausing independently, with up to 3 attempts per archive
  crxharvest download --workers 4 --max-attempts 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]interface{}{}
			if cmd.Flags().Changed("workers") {
				overrides["download-workers"] = workers
			}
			if cmd.Flags().Changed("max-attempts") {
				overrides["max-attempts"] = maxAttempts
			}

			s, err := newSession(cmd, g, overrides)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			if _, err := s.download(ctx); err != nil {
				s.log.WithError(err).Error("Download failed")
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 1, "number of concurrent downloads")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 1, "attempts per archive for retryable failures")
	return cmd
}
