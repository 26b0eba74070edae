package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mem-analysis/internal/formatter"
	"github.com/mem-analysis/pkg/model"
)

var queryChildren bool

// queryCmd represents the query command
var queryCmd = &cobra.Command{
	Use:   "query <address>...",
	Short: "Explain what an address belongs to",
	Long: `Print the stack of regions containing each address, from the top-level
region down to the innermost one (for example module, section; or heap,
segment, entry).

Addresses are hexadecimal, with or without 0x and backticks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().BoolVar(&queryChildren, "children", false, "Also list the children of the innermost region")
}

func runQuery(cmd *cobra.Command, args []string) error {
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

	out := cmd.OutOrStdout()
	for _, arg := range args {
		addr, err := parseAddress(sess, arg)
		if err != nil {
			return err
		}
		stack, err := sess.RegionsContaining(ctx, addr.Value())
		if err != nil {
			return err
		}
		if err := f.Stack(out, addr.String(), formatter.StackRecords(stack)); err != nil {
			return err
		}
		if !queryChildren || len(stack) == 0 {
			continue
		}

		var children []model.RegionRecord
		for child, err := range sess.StreamSubRegions(ctx, stack[len(stack)-1]) {
			if err != nil {
				return err
			}
			children = append(children, formatter.RegionRecord(child, model.RegionSourceChild))
		}
		if err := f.Regions(out, children); err != nil {
			return err
		}
	}
	return nil
}
