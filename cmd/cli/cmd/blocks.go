package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mem-analysis/internal/formatter"
	"github.com/mem-analysis/pkg/model"
)

// blocksCmd represents the blocks command
var blocksCmd = &cobra.Command{
	Use:   "blocks [address]",
	Short: "List allocation blocks and their owners",
	Long: `Group the pages of the target into allocation blocks and classify each
block by its owner: image, mapped file, heap, stack, TEB, PEB or private.

With an address, only the block containing it is printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBlocks,
}

func init() {
	rootCmd.AddCommand(blocksCmd)
}

func runBlocks(cmd *cobra.Command, args []string) error {
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

	var records []model.BlockRecord
	if len(args) == 1 {
		addr, err := parseAddress(sess, args[0])
		if err != nil {
			return err
		}
		b, err := sess.BlockAt(ctx, addr.Value())
		if err != nil {
			return err
		}
		records = []model.BlockRecord{formatter.BlockRecord(b)}
	} else {
		blocks, err := sess.Blocks(ctx)
		if err != nil {
			return err
		}
		records = formatter.BlockRecords(blocks)
	}
	return f.Blocks(cmd.OutOrStdout(), records)
}
