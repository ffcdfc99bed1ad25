package main

import (
	"github.com/spf13/cobra"
)

func newClassifyCmd(g *globalOptions) *cobra.Command {
	var (
		workers  int
		noReport bool
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify downloaded packages and extract the network related ones",
		Long: `Extract the manifest of every downloaded package, decide from its declared
capabilities whether the extension is network related, and fully extract
the packages that are. Outcomes are recorded in the report database.

A package is network related when its manifest declares any of:
  - web accessible html or js resources
  - url, <all_urls> or webRequest permissions
  - host permissions
  - content scripts with js
  - an action popup
  - optional permissions
  - chrome url overrides`,
		Example: `  # Use one worker per physical core
  crxharvest classify

  # Two workers, without writing the report database
  crxharvest classify --workers 2 --no-report`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]interface{}{}
			if cmd.Flags().Changed("workers") {
				overrides["classify-workers"] = workers
			}
			if noReport {
				overrides["no-report"] = true
			}

			s, err := newSession(cmd, g, overrides)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			if _, err := s.classify(ctx); err != nil {
				s.log.WithError(err).Error("Classification failed")
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel workers per phase (0 = one per physical core)")
	cmd.Flags().BoolVar(&noReport, "no-report", false, "do not record outcomes in the report database")
	return cmd
}
