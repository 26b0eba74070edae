package formatter

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/mem-analysis/pkg/model"
)

// TextFormatter writes aligned plain text.
type TextFormatter struct {
	// Indent is written once per nesting level.
	Indent string
}

// NewTextFormatter creates a TextFormatter with two-space indentation.
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{Indent: "  "}
}

// Name implements Formatter.
func (f *TextFormatter) Name() string { return "text" }

// Summary implements Formatter.
func (f *TextFormatter) Summary(w io.Writer, s model.MapSummary) error {
	bits := 64
	if s.Is32Bit {
		bits = 32
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Target:              %d-bit\n", bits)
	fmt.Fprintf(&b, "Top-level regions:   %d\n", s.Regions)
	fmt.Fprintf(&b, "From providers:      %d\n", s.ProviderRegions)
	fmt.Fprintf(&b, "Scanned allocations: %d\n", s.ScannedAllocations)
	fmt.Fprintf(&b, "Synthesized:         %d\n", s.Synthesized)
	for name, msg := range s.ProviderErrors {
		fmt.Fprintf(&b, "Provider %s failed: %s\n", name, msg)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Regions implements Formatter.
func (f *TextFormatter) Regions(w io.Writer, regions []model.RegionRecord) error {
	var b strings.Builder
	f.writeTree(&b, regions, 0)
	_, err := io.WriteString(w, b.String())
	return err
}

func (f *TextFormatter) writeTree(b *strings.Builder, regions []model.RegionRecord, depth int) {
	for _, r := range regions {
		f.writeRegion(b, r, depth)
		f.writeTree(b, r.Children, depth+1)
	}
}

func (f *TextFormatter) writeRegion(b *strings.Builder, r model.RegionRecord, depth int) {
	fmt.Fprintf(b, "%s%s  %8x  %s\n", strings.Repeat(f.Indent, depth), r.Address, r.Size, r.Description)
}

// Stack implements Formatter. Each level is indented one step further.
func (f *TextFormatter) Stack(w io.Writer, addr string, stack []model.RegionRecord) error {
	var b strings.Builder
	if len(stack) == 0 {
		fmt.Fprintf(&b, "%s: no region\n", addr)
	} else {
		fmt.Fprintf(&b, "%s:\n", addr)
		for i, r := range stack {
			f.writeRegion(&b, r, i+1)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Blocks implements Formatter. Blocks are followed by per-group totals.
func (f *TextFormatter) Blocks(w io.Writer, blocks []model.BlockRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BASE\tSIZE\tCOMMIT\tTYPE\tGROUP\tNAME")
	for _, b := range blocks {
		fmt.Fprintf(tw, "%s\t%x\t%x\t%s\t%s\t%s\n", b.Address, b.Size, b.CommitSize, b.Type, b.GroupKind, b.GroupName)
	}
	if len(blocks) > 0 {
		fmt.Fprintln(tw, "\t\t\t\t\t")
		fmt.Fprintln(tw, "BLOCKS\tSIZE\tCOMMIT\t\tGROUP\tNAME")
		for _, g := range model.SummarizeBlocks(blocks) {
			fmt.Fprintf(tw, "%d\t%x\t%x\t\t%s\t%s\n", g.Blocks, g.Size, g.CommitSize, g.Kind, g.Name)
		}
	}
	return tw.Flush()
}

// Heaps implements Formatter.
func (f *TextFormatter) Heaps(w io.Writer, heaps []model.HeapRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BASE\tSEGMENTS\tVALLOCS\tSIZE\tENCODING\tNAME")
	for _, h := range heaps {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%x\t%x\t%s\n", h.Address, h.Segments, h.VirtualAllocBlocks, h.Size, h.Encoding, h.Name)
	}
	return tw.Flush()
}

// Match implements Formatter.
func (f *TextFormatter) Match(w io.Writer, m model.MatchRecord) error {
	digits := 16
	if m.Width == 4 {
		digits = 8
	}
	_, err := fmt.Fprintf(w, "%s  %0*x\n", m.Address, digits, m.Value)
	return err
}

// Snapshots implements Formatter.
func (f *TextFormatter) Snapshots(w io.Writer, snaps []model.SnapshotInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tBITS\tREGIONS\tCREATED")
	for _, s := range snaps {
		bits := 64
		if s.Is32Bit {
			bits = 32
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", s.ID, s.Name, bits, s.RegionCount, s.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}
