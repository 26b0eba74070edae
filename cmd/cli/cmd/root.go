package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mem-analysis/internal/formatter"
	"github.com/mem-analysis/internal/service"
	"github.com/mem-analysis/internal/session"
	"github.com/mem-analysis/internal/storage"
	"github.com/mem-analysis/pkg/address"
	"github.com/mem-analysis/pkg/config"
	"github.com/mem-analysis/pkg/pprof"
	"github.com/mem-analysis/pkg/utils"
)

var (
	// Global flags
	verbose      bool
	configPath   string
	snapshotPath string
	storageKey   string
	outputFormat string
	pretty       bool
	profileDir   string

	logger   utils.Logger
	cfg      *config.Config
	recorder *pprof.Recorder
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "memmap",
	Short: "An address-space map for process memory snapshots",
	Long: `memmap explains what every address of a process belongs to.

It attaches to a target snapshot, asks region providers (modules, native
heaps, managed heaps) what they own, and fills the gaps with the raw
allocations found by scanning the address space. Any address can then be
resolved to the stack of regions containing it, down to individual heap
entries.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if snapshotPath != "" {
			cfg.Target.Snapshot = snapshotPath
		}
		if storageKey != "" {
			cfg.Target.StorageKey = storageKey
		}

		level := utils.ParseLogLevel(cfg.Log.Level)
		if verbose {
			level = utils.LevelDebug
		}
		logger = utils.NewDefaultLogger(level, os.Stderr)

		if profileDir != "" {
			cfg.Profiling.OutputDir = profileDir
		}
		return startRecorder()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return stopRecorder()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	// A failed command skips the post-run hook.
	stopRecorder()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&snapshotPath, "snapshot", "s", "", "Target snapshot file (overrides target.snapshot)")
	rootCmd.PersistentFlags().StringVar(&storageKey, "storage-key", "", "Target snapshot key in object storage (overrides target.storage_key)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text or json")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "Indent JSON output")
	rootCmd.PersistentFlags().StringVar(&profileDir, "profile-dir", "", "Record Go profiles of this run into a directory (overrides profiling.output_dir)")

	binName := BinName()
	rootCmd.Example = `  # Print the top-level address map of a snapshot
  ` + binName + ` map -s ./crash.yaml

  # Explain an address, down to the heap entry
  ` + binName + ` query -s ./crash.yaml 00000000` + "`" + `00501234

  # Find pointers to an object
  ` + binName + ` search -s ./crash.yaml 501230 --width qword

  # Serve the JSON API
  ` + binName + ` serve -c ./config.yaml`
}

// GetLogger returns the configured logger
func GetLogger() utils.Logger {
	return logger
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}

// startRecorder starts profiling the command when an output directory is
// configured.
func startRecorder() error {
	if cfg.Profiling.OutputDir == "" {
		return nil
	}
	profiles, err := pprof.ParseProfileTypes(cfg.Profiling.Profiles)
	if err != nil {
		return err
	}
	r, err := pprof.NewRecorder(pprof.Config{
		OutputDir: cfg.Profiling.OutputDir,
		Profiles:  profiles,
		MaxFiles:  cfg.Profiling.MaxFiles,
	})
	if err != nil {
		return err
	}
	if err := r.Start(); err != nil {
		return err
	}
	recorder = r
	return nil
}

func stopRecorder() error {
	if recorder == nil {
		return nil
	}
	r := recorder
	recorder = nil
	paths, err := r.Stop()
	for _, p := range paths {
		logger.Info("Wrote profile %s", p)
	}
	return err
}

// outputFormatter returns the formatter selected by --output.
func outputFormatter() (formatter.Formatter, error) {
	if outputFormat == "json" && pretty {
		return formatter.NewJSONFormatter(true), nil
	}
	return formatter.NewRegistry().Lookup(outputFormat)
}

// openArchive opens the configured object storage.
func openArchive() (*storage.Archive, error) {
	return service.NewArchive(&cfg.Storage)
}

// openSession loads the target and starts a session on it. The caller
// closes the session.
func openSession(ctx context.Context) (*session.Session, error) {
	var archive *storage.Archive
	if cfg.Target.Snapshot == "" && cfg.Target.StorageKey != "" {
		var err error
		if archive, err = openArchive(); err != nil {
			return nil, err
		}
	}
	t, err := service.OpenTarget(ctx, &cfg.Target, archive)
	if err != nil {
		return nil, err
	}
	logger.Debug("Target loaded: %s", t)
	return service.NewSession(cfg, t, logger)
}

// parseAddress parses a command-line address for sess's target.
func parseAddress(sess *session.Session, s string) (address.Address, error) {
	addr, err := address.Parse(s, sess.Target().Is32Bit())
	if err != nil {
		return address.Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return addr, nil
}
