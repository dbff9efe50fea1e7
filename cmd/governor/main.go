// Package main is the entry point for the mutation governor.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Rogers-F/mutation-governor/internal/config"
	"github.com/Rogers-F/mutation-governor/internal/governance"
	"github.com/Rogers-F/mutation-governor/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath string
	jsonOutput bool
)

// configNames are tried in order when no path is given.
var configNames = []string{"governor.yaml", "governor.yml", "config.json"}

func main() {
	root := &cobra.Command{
		Use:           "governor",
		Short:         "Risk-gated mutation governor with snapshots, rollback and self-healing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (YAML or JSON)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		serveCmd(),
		dnaCmd(),
		proposeCmd(),
		snapshotCmd(),
		snapshotsCmd(),
		rollbackCmd(),
		healCmd(),
		fallbackCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fatal(err.Error())
	}
}

// resolveConfigPath picks --config, then GOVERNOR_CONFIG, then a known file
// in the cwd or next to the executable. An empty result means defaults.
func resolveConfigPath(flagPath string, getenv func(string) string, exeDir string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := getenv("GOVERNOR_CONFIG"); p != "" {
		return p
	}
	for _, dir := range []string{".", exeDir} {
		if dir == "" {
			continue
		}
		for _, name := range configNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

func loadConfig() (*config.Config, error) {
	exeDir := ""
	if exe, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exe)
	}
	path := resolveConfigPath(configPath, os.Getenv, exeDir)
	if path == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}

// openRuntime loads config, builds the logger and opens the stores.
func openRuntime() (*governance.Runtime, *config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return nil, nil, nil, err
	}
	rt, err := governance.Open(cfg, logger)
	if err != nil {
		logger.Sync()
		return nil, nil, nil, fmt.Errorf("open governor: %w", err)
	}
	return rt, cfg, logger, nil
}

// fatal prints an error and, on Windows, waits for a keypress so the user can
// read the message when the exe is launched by double-click.
func fatal(msg string) {
	fmt.Fprintf(os.Stderr, "ERROR: %s\n", msg)
	if runtime.GOOS == "windows" && len(os.Args) == 1 {
		fmt.Fprintln(os.Stderr, "\nPress Enter to exit...")
		bufio.NewReader(os.Stdin).ReadBytes('\n')
	}
	os.Exit(1)
}
