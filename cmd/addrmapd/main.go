package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mem-analysis/internal/service"
	"github.com/mem-analysis/pkg/config"
	"github.com/mem-analysis/pkg/utils"
)

// Set with -ldflags "-X".
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	verbose    bool
)

func binName() string {
	return filepath.Base(os.Args[0])
}

var rootCmd = &cobra.Command{
	Use:   "addrmapd",
	Short: "Address map API daemon",
	Long: `addrmapd loads one target snapshot and serves its address map over HTTP
until it receives SIGINT or SIGTERM.

The target, database, storage, telemetry and log destination all come from
the configuration file; MEMANALYSIS_* environment variables override it.`,
	SilenceUsage: true,
	RunE:         runService,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit %s, built %s, %s %s/%s)\n",
			binName(), Version, GitCommit, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	bin := binName()
	rootCmd.Example = `  # Start the daemon with a config file
  ` + bin + ` -c /etc/addrmapd/config.yaml

  # Start with debug logging
  ` + bin + ` -c ./config.yaml -v`

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file (required)")
	rootCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(versionCmd)
}

// newLogger writes to cfg.Log.OutputPath, or stdout when it is empty.
func newLogger(cfg *config.Config) (utils.Logger, error) {
	level := utils.ParseLogLevel(cfg.Log.Level)
	if verbose {
		level = utils.LevelDebug
	}
	if cfg.Log.OutputPath == "" || cfg.Log.OutputPath == "stdout" {
		return utils.NewDefaultLogger(level, os.Stdout), nil
	}
	logger, err := utils.NewFileLogger(level, cfg.Log.OutputPath)
	if err != nil {
		return nil, err
	}
	return logger, nil
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	utils.SetGlobalLogger(logger)

	logger.Info("Starting addrmapd %s (commit %s, built %s)", Version, GitCommit, BuildTime)
	logger.Info("Target: snapshot=%q storage_key=%q", cfg.Target.Snapshot, cfg.Target.StorageKey)
	logger.Info("Storage: %s, database enabled: %v", cfg.Storage.Type, cfg.Database.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(cfg, Version, logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	if err := svc.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	runErr := svc.Run(ctx)
	if runErr != nil {
		logger.Error("API server failed: %v", runErr)
	} else {
		logger.Info("Received shutdown signal")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), service.ShutdownTimeout)
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil {
		logger.Error("Error during shutdown: %v", err)
	}
	return runErr
}

func main() {
	if rootCmd.Execute() != nil {
		os.Exit(1)
	}
}
