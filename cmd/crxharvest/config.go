package main

import (
	"fmt"
	"os"
	"path/filepath"

	"crxharvest/pkg/config"
	"crxharvest/pkg/progress"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const defaultConfigName = "crxharvest.yaml"

const configHeader = `# crxharvest configuration
#
# Every value below is the built-in default. Delete what you do not change.
# Environment variables prefixed with CRXHARVEST_ override this file, e.g.
# CRXHARVEST_DATA_DIR, CRXHARVEST_DOWNLOAD_WORKERS, CRXHARVEST_LOG_LEVEL.
# Command line flags override both.

`

func newConfigCmd(g *globalOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
		Long: `Manage crxharvest configuration files.

Configuration is loaded from, in order of priority:
  - Command line flags
  - Environment variables (CRXHARVEST_*, also read from .env)
  - Configuration file
  - Default values`,
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the default values",
		Long: `Write a configuration file holding every option with its default value.

The file is created as 'crxharvest.yaml' in the current directory unless a
different path is given with --config. An existing file is never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd, g)
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd, g)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Validate the effective configuration.

This command checks:
  - YAML syntax
  - Required fields
  - Value types and ranges
  - That the data, tmp and log directories can be created`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, g)
		},
	}

	configCmd.AddCommand(initCmd, showCmd, validateCmd)
	return configCmd
}

func runConfigInit(cmd *cobra.Command, g *globalOptions) error {
	console := progress.NewConsole(cmd.OutOrStdout(), cmd.ErrOrStderr(), g.quiet)

	configPath := g.configFile
	if configPath == "" {
		configPath = defaultConfigName
	}

	if _, err := os.Stat(configPath); err == nil {
		console.Error("Configuration file already exists", configPath)
		return fmt.Errorf("refusing to overwrite %s", configPath)
	}

	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal default configuration: %w", err)
	}

	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, append([]byte(configHeader), data...), 0644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	console.Success("Configuration file created: " + configPath)
	console.Print("\nNext steps:\n")
	console.Print("1. Edit the file to adjust paths, workers or delays\n")
	console.Print("2. Run 'crxharvest config validate' to check it\n")
	console.Print("3. Start the pipeline with 'crxharvest run'\n")
	return nil
}

func runConfigShow(cmd *cobra.Command, g *globalOptions) error {
	console := progress.NewConsole(cmd.OutOrStdout(), cmd.ErrOrStderr(), false)

	cfg, err := config.Load(g.configFile, g.flags(cmd))
	if err != nil {
		console.Error("Failed to load configuration", err.Error())
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	console.Highlight("Current Configuration")
	console.Print("\n" + string(data))

	console.Print("\nResolved paths:\n")
	console.Print(fmt.Sprintf("  record log:  %s\n", cfg.Paths.RecordLogPath()))
	console.Print(fmt.Sprintf("  checkpoint:  %s\n", cfg.Paths.CheckpointPath()))
	console.Print(fmt.Sprintf("  archives:    %s\n", cfg.Paths.DownloadPath()))
	console.Print(fmt.Sprintf("  extracted:   %s\n", cfg.Paths.SourcePath()))
	console.Print(fmt.Sprintf("  report:      %s\n", cfg.Paths.ReportPath()))
	return nil
}

func runConfigValidate(cmd *cobra.Command, g *globalOptions) error {
	console := progress.NewConsole(cmd.OutOrStdout(), cmd.ErrOrStderr(), g.quiet)

	source := g.configFile
	if source == "" {
		source = "(defaults and environment)"
	}
	console.Info("Validating configuration", source)

	cfg, err := config.Load(g.configFile, g.flags(cmd))
	if err != nil {
		console.Error("Configuration validation failed", err.Error())
		return err
	}

	var problems []string
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.TmpDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create directory %s: %v", dir, err))
		}
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}

	if len(problems) > 0 {
		console.Error("Configuration has errors")
		for _, p := range problems {
			console.Error("  - " + p)
		}
		return fmt.Errorf("%d configuration problem(s)", len(problems))
	}

	if cfg.Download.Workers > 1 && cfg.Download.DelayMax == 0 {
		console.Warning("Several download workers without a delay may trigger throttling")
	}

	console.Success("Configuration is valid")
	console.Print("\nConfiguration summary:\n")
	console.Print(fmt.Sprintf("  Data directory: %s\n", cfg.Paths.DataDir))
	console.Print(fmt.Sprintf("  Min user count: %d\n", cfg.Catalog.MinUserCount))
	console.Print(fmt.Sprintf("  Download workers: %d\n", cfg.Download.Workers))
	console.Print(fmt.Sprintf("  Download delay: %s to %s\n", cfg.Download.DelayMin, cfg.Download.DelayMax))
	console.Print(fmt.Sprintf("  Classify workers: %d (0 = per core)\n", cfg.Classify.Workers))
	console.Print(fmt.Sprintf("  Log level: %s\n", cfg.Logging.Level))
	return nil
}
