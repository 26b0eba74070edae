package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mem-analysis/internal/service"
)

var port int

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the address map over an HTTP JSON API",
	Long: `Load the target and serve its address map over HTTP.

The API answers summary, region, query, block and search requests, and
drops the cached map on invalidation events. When a database is enabled,
maps can also be stored and queried by snapshot id.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	binName := BinName()
	serveCmd.Example = `  # Serve a local snapshot on the configured port
  ` + binName + ` serve -s ./crash.yaml

  # Serve on another port with snapshot persistence from the config file
  ` + binName + ` serve -c ./config.yaml -p 9090`

	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "Port for the API server (default: server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(cfg, Version, logger)
	if err != nil {
		return err
	}
	if err := svc.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), service.ShutdownTimeout)
		defer cancel()
		svc.Stop(stopCtx)
	}()

	fmt.Fprintf(os.Stderr, "Serving %s on http://localhost:%d (Ctrl+C to stop)\n", targetName(), cfg.Server.Port)
	return svc.Run(ctx)
}

func targetName() string {
	if cfg.Target.Snapshot != "" {
		return cfg.Target.Snapshot
	}
	return cfg.Target.StorageKey
}
