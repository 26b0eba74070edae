package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mem-analysis/internal/formatter"
)

var (
	mapDepth   int
	mapSummary bool
)

// mapCmd represents the map command
var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Print the address map of the target",
	Long: `Build the address map of the target and print its top-level regions.

Regions come from the configured providers first; the rest of the address
space is covered by the allocations found by the scan. Use --depth to
expand each region into its children (heap segments, entries, sections).`,
	Args: cobra.NoArgs,
	RunE: runMap,
}

func init() {
	rootCmd.AddCommand(mapCmd)
	mapCmd.Flags().IntVarP(&mapDepth, "depth", "d", 0, "Levels of children to expand")
	mapCmd.Flags().BoolVar(&mapSummary, "summary", false, "Print build statistics instead of regions")
}

func runMap(cmd *cobra.Command, args []string) error {
	if mapDepth < 0 {
		return fmt.Errorf("depth must not be negative")
	}
	f, err := outputFormatter()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	m, err := sess.Map(ctx)
	if err != nil {
		return err
	}
	logger.Debug("Map built: %d regions", m.Len())

	out := cmd.OutOrStdout()
	if mapSummary {
		return f.Summary(out, formatter.MapSummary(m, sess.BuiltAt()))
	}
	records, err := formatter.RegionRecords(ctx, m.Regions(), mapDepth, sess.SubRegions)
	if err != nil {
		// Print what was expanded before the failure.
		if werr := f.Regions(out, records); werr != nil {
			return werr
		}
		return err
	}
	return f.Regions(out, records)
}
