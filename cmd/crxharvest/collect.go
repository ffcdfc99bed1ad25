package main

import (
	"github.com/spf13/cobra"
)

func newCollectCmd(g *globalOptions) *cobra.Command {
	var (
		restart  bool
		minUsers int
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Page through the extension catalog into the record log",
		Long: `Walk the paginated extension catalog and append every new extension with
enough users to the record log, one JSON object per line.

The continuation cursor is checkpointed after every page, so an interrupted
walk resumes where it stopped. Extensions already in the log are never
written twice.`,
		Example: `  # Resume or start the walk
  crxharvest collect

  # Start again from the first page (the record log is kept)
  crxharvest collect --restart

  # Keep only extensions with at least 1000 users
  crxharvest collect --min-users 1000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]interface{}{}
			if cmd.Flags().Changed("min-users") {
				overrides["min-users"] = minUsers
			}

			s, err := newSession(cmd, g, overrides)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			if _, err := s.collect(ctx, restart); err != nil {
				s.log.WithError(err).Error("Collection failed")
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&restart, "restart", false, "discard the checkpoint and start from the first page")
	cmd.Flags().IntVar(&minUsers, "min-users", 1, "minimum user count to keep an extension")
	return cmd
}
