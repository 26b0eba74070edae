package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mem-analysis/internal/formatter"
)

// heapCmd represents the heap command
var heapCmd = &cobra.Command{
	Use:   "heap",
	Short: "List the native heaps of the target",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		heaps, err := sess.Heaps(ctx)
		if err != nil {
			return err
		}
		return f.Heaps(cmd.OutOrStdout(), formatter.HeapRecords(heaps))
	},
}

func init() {
	rootCmd.AddCommand(heapCmd)
}
