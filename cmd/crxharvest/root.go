package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "0.3.0"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	configFile string
	logLevel   string
	logFile    string
	dataDir    string
	quiet      bool
}

// flags returns the overrides for config.Load. Only flags the user set are included.
func (g *globalOptions) flags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	if cmd.Flags().Changed("log-level") {
		flags["log-level"] = g.logLevel
	} else if g.quiet {
		flags["log-level"] = "error"
	}
	if g.logFile != "" {
		flags["log-file"] = g.logFile
	}
	if g.dataDir != "" {
		flags["data-dir"] = g.dataDir
	}
	return flags
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "crxharvest",
		Short: "Harvest, download and classify browser extensions",
		Long: `crxharvest walks the extension catalog, downloads the package archive of
every listed extension and classifies the packages by the network
capabilities their manifests declare.

Stages:
  collect   page through the catalog into the record log (resumable)
  download  fetch the archive of every recorded extension not yet on disk
  classify  extract manifests, classify them and fully extract the network related ones
  run       all three stages in order

Every stage can be interrupted and restarted; completed work is skipped.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "config file (default is ./crxharvest.yaml or $HOME/.config/crxharvest/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&g.logFile, "log-file", "", "also write logs to this file")
	rootCmd.PersistentFlags().StringVar(&g.dataDir, "data-dir", "", "data directory (default ./data)")
	rootCmd.PersistentFlags().BoolVarP(&g.quiet, "quiet", "q", false, "suppress all output except errors")

	rootCmd.SetVersionTemplate(`crxharvest {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(
		newCollectCmd(g),
		newDownloadCmd(g),
		newClassifyCmd(g),
		newRunCmd(g),
		newConfigCmd(g),
	)
	return rootCmd
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
