// Package formatter renders address maps, containment stacks, allocation
// blocks and search matches for people and for tools.
package formatter

import (
	"fmt"
	"io"
	"sort"

	"github.com/mem-analysis/pkg/model"
)

// Formatter writes records in one output format.
type Formatter interface {
	// Name is the format name used on the command line.
	Name() string

	// Summary writes the statistics of a map build.
	Summary(w io.Writer, s model.MapSummary) error

	// Regions writes a region list; children are written nested.
	Regions(w io.Writer, regions []model.RegionRecord) error

	// Stack writes a containment stack, outermost first.
	Stack(w io.Writer, addr string, stack []model.RegionRecord) error

	// Blocks writes allocation blocks and their owner groups.
	Blocks(w io.Writer, blocks []model.BlockRecord) error

	// Heaps writes the native heaps of a target.
	Heaps(w io.Writer, heaps []model.HeapRecord) error

	// Match writes one search hit. Matches are written as they arrive.
	Match(w io.Writer, m model.MatchRecord) error

	// Snapshots writes a list of persisted snapshots.
	Snapshots(w io.Writer, snaps []model.SnapshotInfo) error
}

// Registry manages formatter instances.
type Registry struct {
	formatters map[string]Formatter
	fallback   Formatter
}

// NewRegistry creates a new formatter registry with the text and JSON
// formatters. Text is the fallback.
func NewRegistry() *Registry {
	text := NewTextFormatter()
	r := &Registry{
		formatters: make(map[string]Formatter),
		fallback:   text,
	}
	r.Register(text)
	r.Register(NewJSONFormatter(false))
	return r
}

// Register registers a formatter under its name.
func (r *Registry) Register(f Formatter) {
	r.formatters[f.Name()] = f
}

// Get returns the formatter registered under name, or the fallback.
func (r *Registry) Get(name string) Formatter {
	if f, ok := r.formatters[name]; ok {
		return f
	}
	return r.fallback
}

// Lookup is Get without the fallback.
func (r *Registry) Lookup(name string) (Formatter, error) {
	if f, ok := r.formatters[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("unknown output format %q (available: %v)", name, r.Names())
}

// Names returns the registered format names in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.formatters))
	for n := range r.formatters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
