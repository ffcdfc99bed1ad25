package main

import (
	"github.com/spf13/cobra"
)

func newRunCmd(g *globalOptions) *cobra.Command {
	var restart bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run collect, download and classify in order",
		Long: `Run the whole pipeline. Each stage starts only when the previous one
succeeded; every stage skips work that is already done, so an interrupted
run can simply be started again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g, nil)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			s.console.Highlight("[collect]")
			if _, err := s.collect(ctx, restart); err != nil {
				s.log.WithError(err).Error("Collection failed")
				return err
			}

			s.console.Highlight("[download]")
			if _, err := s.download(ctx); err != nil {
				s.log.WithError(err).Error("Download failed")
				return err
			}

			s.console.Highlight("[classify]")
			if _, err := s.classify(ctx); err != nil {
				s.log.WithError(err).Error("Classification failed")
				return err
			}

			s.log.Info("Pipeline completed")
			s.console.Success("Pipeline completed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&restart, "restart", false, "discard the collect checkpoint and start from the first page")
	return cmd
}
