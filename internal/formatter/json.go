package formatter

import (
	"io"

	"github.com/mem-analysis/pkg/model"
	"github.com/mem-analysis/pkg/writer"
)

// JSONFormatter writes one JSON document per call. Matches are written one
// per line so a stream of them is valid JSON Lines.
type JSONFormatter struct {
	pretty bool
}

// NewJSONFormatter creates a JSONFormatter. pretty indents documents other
// than matches.
func NewJSONFormatter(pretty bool) *JSONFormatter {
	return &JSONFormatter{pretty: pretty}
}

// Name implements Formatter.
func (f *JSONFormatter) Name() string { return "json" }

func encode[T any](w io.Writer, v T, pretty bool) error {
	jw := writer.NewJSONWriter[T]()
	if pretty {
		jw = writer.NewPrettyJSONWriter[T]()
	}
	return jw.Write(v, w)
}

// Summary implements Formatter.
func (f *JSONFormatter) Summary(w io.Writer, s model.MapSummary) error {
	return encode(w, s, f.pretty)
}

// Regions implements Formatter.
func (f *JSONFormatter) Regions(w io.Writer, regions []model.RegionRecord) error {
	if regions == nil {
		regions = []model.RegionRecord{}
	}
	return encode(w, regions, f.pretty)
}

// stackDocument is the JSON shape of a containment query.
type stackDocument struct {
	Address string               `json:"address"`
	Stack   []model.RegionRecord `json:"stack"`
}

// Stack implements Formatter.
func (f *JSONFormatter) Stack(w io.Writer, addr string, stack []model.RegionRecord) error {
	if stack == nil {
		stack = []model.RegionRecord{}
	}
	return encode(w, stackDocument{Address: addr, Stack: stack}, f.pretty)
}

// blocksDocument is the JSON shape of a block listing.
type blocksDocument struct {
	Blocks []model.BlockRecord  `json:"blocks"`
	Groups []model.GroupSummary `json:"groups"`
}

// Blocks implements Formatter.
func (f *JSONFormatter) Blocks(w io.Writer, blocks []model.BlockRecord) error {
	doc := blocksDocument{Blocks: blocks, Groups: model.SummarizeBlocks(blocks)}
	if doc.Blocks == nil {
		doc.Blocks = []model.BlockRecord{}
	}
	if doc.Groups == nil {
		doc.Groups = []model.GroupSummary{}
	}
	return encode(w, doc, f.pretty)
}

// Heaps implements Formatter.
func (f *JSONFormatter) Heaps(w io.Writer, heaps []model.HeapRecord) error {
	if heaps == nil {
		heaps = []model.HeapRecord{}
	}
	return encode(w, heaps, f.pretty)
}

// Match implements Formatter.
func (f *JSONFormatter) Match(w io.Writer, m model.MatchRecord) error {
	return encode(w, m, false)
}

// Snapshots implements Formatter.
func (f *JSONFormatter) Snapshots(w io.Writer, snaps []model.SnapshotInfo) error {
	if snaps == nil {
		snaps = []model.SnapshotInfo{}
	}
	return encode(w, snaps, f.pretty)
}
