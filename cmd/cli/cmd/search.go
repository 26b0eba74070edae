package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mem-analysis/internal/formatter"
	"github.com/mem-analysis/internal/search"
	"github.com/mem-analysis/pkg/address"
)

var (
	searchMask              string
	searchWidth             string
	searchStart             string
	searchEnd               string
	searchTypes             []string
	searchReadOnly          bool
	searchExcludeExecutable bool
	searchLimit             int
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search <value>",
	Short: "Find aligned occurrences of a value in committed memory",
	Long: `Scan committed memory for aligned dwords or qwords equal to a value,
after masking. The default width is the target's pointer size, which makes
the command a quick way to find references to an address.

Only writable memory is scanned unless --read-only is given. Matches are
printed as they are found.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().StringVar(&searchMask, "mask", "", "Mask applied to memory before comparing (hex)")
	searchCmd.Flags().StringVarP(&searchWidth, "width", "w", "", "Value width: dword or qword (default: pointer size)")
	searchCmd.Flags().StringVar(&searchStart, "start", "", "First address to scan")
	searchCmd.Flags().StringVar(&searchEnd, "end", "", "End of the scanned range (exclusive)")
	searchCmd.Flags().StringSliceVarP(&searchTypes, "type", "t", nil, "Memory types to scan: private, image, mapped")
	searchCmd.Flags().BoolVar(&searchReadOnly, "read-only", false, "Also scan read-only memory")
	searchCmd.Flags().BoolVar(&searchExcludeExecutable, "exclude-executable", false, "Skip executable memory")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "Stop after this many matches (0 means no limit)")
}

func runSearch(cmd *cobra.Command, args []string) error {
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

	o := sess.SearchDefaults()
	if o.Value, err = address.ParseHex(args[0]); err != nil {
		return err
	}
	if searchMask != "" {
		if o.Mask, err = address.ParseHex(searchMask); err != nil {
			return err
		}
	}
	if o.Width, err = search.ParseWidth(searchWidth); err != nil {
		return err
	}
	if searchStart != "" {
		addr, err := parseAddress(sess, searchStart)
		if err != nil {
			return err
		}
		o.Start = addr.Value()
	}
	if searchEnd != "" {
		addr, err := parseAddress(sess, searchEnd)
		if err != nil {
			return err
		}
		o.End = addr.Value()
	}
	if len(searchTypes) > 0 {
		if o.MemTypes, err = search.ParseMemTypes(searchTypes); err != nil {
			return err
		}
	}
	if searchReadOnly {
		o.IncludeReadOnly = true
	}
	if searchExcludeExecutable {
		o.ExcludeExecutable = true
	}

	out := cmd.OutOrStdout()
	n := 0
	for m, err := range sess.Search(ctx, o) {
		if err != nil {
			return err
		}
		if err := f.Match(out, formatter.MatchRecord(m)); err != nil {
			return err
		}
		n++
		if searchLimit > 0 && n >= searchLimit {
			break
		}
	}
	logger.Debug("Search found %d matches", n)
	return nil
}
