package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mem-analysis/internal/formatter"
	"github.com/mem-analysis/internal/service"
	"github.com/mem-analysis/internal/session"
	"github.com/mem-analysis/pkg/compression"
	"github.com/mem-analysis/pkg/model"
	"github.com/mem-analysis/pkg/writer"
)

var (
	saveDepth   int
	listLimit   int
	exportDepth int
	exportFile  string
	exportCodec string
)

// saveCmd represents the save command
var saveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Store the address map in the database",
	Long: `Build the address map and store its regions in the configured database
under a name. Stored maps can be listed with the snapshots command and
queried through the API server after the target is gone.`,
	Args: cobra.ExactArgs(1),
	RunE: runSave,
}

// snapshotsCmd represents the snapshots command
var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List stored address maps, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSnapshots,
}

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export <name>",
	Short: "Write the address map as a compressed JSON document",
	Long: `Build the address map and write it, with its summary, as a JSON document.

By default the document is compressed with the configured codec and
uploaded to the configured storage. With --file it is written locally
instead; --compression none writes plain indented JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(saveCmd, snapshotsCmd, exportCmd)

	saveCmd.Flags().IntVarP(&saveDepth, "depth", "d", 1, "Levels of children to store")
	snapshotsCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "Maximum number of snapshots to list")
	exportCmd.Flags().IntVarP(&exportDepth, "depth", "d", 1, "Levels of children to export")
	exportCmd.Flags().StringVarP(&exportFile, "file", "f", "", "Write to a local file instead of storage")
	exportCmd.Flags().StringVar(&exportCodec, "compression", "", "Codec for --file: zstd, gzip or none (default: storage.compression)")
}

// buildExport builds the map and converts it with depth levels of children.
func buildExport(ctx context.Context, sess *session.Session, name string, depth int) (*model.MapExport, error) {
	if depth < 0 {
		return nil, fmt.Errorf("depth must not be negative")
	}
	m, err := sess.Map(ctx)
	if err != nil {
		return nil, err
	}
	records, err := formatter.RegionRecords(ctx, m.Regions(), depth, sess.SubRegions)
	if err != nil {
		return nil, err
	}
	return &model.MapExport{
		Name:    name,
		Summary: formatter.MapSummary(m, sess.BuiltAt()),
		Regions: records,
	}, nil
}

func runSave(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	export, err := buildExport(ctx, sess, args[0], saveDepth)
	if err != nil {
		return err
	}

	repos, err := service.OpenRepositories(ctx, cfg)
	if err != nil {
		return err
	}
	defer repos.Close()

	info, err := repos.Snapshot.SaveSnapshot(ctx, export.Name, export.Summary.Is32Bit, export.Regions)
	if err != nil {
		return err
	}
	logger.Info("Saved snapshot %q as #%d (%d regions)", info.Name, info.ID, info.RegionCount)

	f, err := outputFormatter()
	if err != nil {
		return err
	}
	return f.Snapshots(cmd.OutOrStdout(), []model.SnapshotInfo{*info})
}

func runSnapshots(cmd *cobra.Command, args []string) error {
	if listLimit < 1 {
		return fmt.Errorf("limit must be positive")
	}
	f, err := outputFormatter()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	repos, err := service.OpenRepositories(ctx, cfg)
	if err != nil {
		return err
	}
	defer repos.Close()

	snaps, err := repos.Snapshot.ListSnapshots(ctx, listLimit)
	if err != nil {
		return err
	}
	return f.Snapshots(cmd.OutOrStdout(), snaps)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	export, err := buildExport(ctx, sess, args[0], exportDepth)
	if err != nil {
		return err
	}

	if exportFile != "" {
		return writeExportFile(cmd, export)
	}

	archive, err := openArchive()
	if err != nil {
		return err
	}
	key, err := archive.PutExport(ctx, export)
	if err != nil {
		return err
	}
	logger.Info("Exported %d regions to %s", export.Summary.Regions, archive.Store().GetURL(key))
	fmt.Fprintln(cmd.OutOrStdout(), key)
	return nil
}

func writeExportFile(cmd *cobra.Command, export *model.MapExport) error {
	name := exportCodec
	if !cmd.Flags().Changed("compression") {
		name = cfg.Storage.Compression
	}
	codec, err := compression.ParseType(name)
	if err != nil {
		return err
	}
	if codec == compression.TypeNone {
		return writer.NewPrettyJSONWriter[*model.MapExport]().WriteToFile(export, exportFile)
	}

	result, err := writer.NewCompressedWriter[*model.MapExport](codec).WriteToFile(export, exportFile)
	if err != nil {
		return err
	}
	logger.Info("Wrote %s (%d bytes, %.1f%% of %d JSON bytes)",
		exportFile, result.CompressedSize, result.CompressionPct, result.JSONSize)
	return nil
}
