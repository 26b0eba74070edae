// Package model defines the serializable records exchanged between the
// session, the repository, the HTTP API and the exporters.
package model

import "time"

// RegionSource tells where a top-level region came from.
type RegionSource int

const (
	RegionSourceProvider RegionSource = 0 // Reported by a region provider
	RegionSourceScan     RegionSource = 1 // Synthesized from the address-space scan
	RegionSourceChild    RegionSource = 2 // Sub-region of another record
)

// String returns the string representation of RegionSource.
func (s RegionSource) String() string {
	switch s {
	case RegionSourceProvider:
		return "provider"
	case RegionSourceScan:
		return "scan"
	case RegionSourceChild:
		return "child"
	default:
		return "unknown"
	}
}

// RegionRecord is one region of an address map. Children are filled only
// when the record was expanded.
type RegionRecord struct {
	Base        uint64         `json:"base"`
	Size        uint64         `json:"size"`
	Address     string         `json:"address"`
	Description string         `json:"description"`
	Source      string         `json:"source"`
	Children    []RegionRecord `json:"children,omitempty"`
}

// End returns the exclusive end of the record.
func (r RegionRecord) End() uint64 {
	return r.Base + r.Size
}

// Contains reports whether addr lies in [Base, End).
func (r RegionRecord) Contains(addr uint64) bool {
	return addr >= r.Base && addr-r.Base < r.Size
}

// Count returns the number of records in the tree rooted at r.
func (r RegionRecord) Count() int {
	n := 1
	for _, c := range r.Children {
		n += c.Count()
	}
	return n
}

// MapSummary describes one address-map build.
type MapSummary struct {
	Is32Bit            bool              `json:"is_32bit"`
	Regions            int               `json:"regions"`
	ProviderRegions    int               `json:"provider_regions"`
	ScannedAllocations int               `json:"scanned_allocations"`
	Synthesized        int               `json:"synthesized"`
	ProviderErrors     map[string]string `json:"provider_errors,omitempty"`
	BuiltAt            time.Time         `json:"built_at"`
}

// MapExport is the document written by an export.
type MapExport struct {
	Name    string         `json:"name"`
	Summary MapSummary     `json:"summary"`
	Regions []RegionRecord `json:"regions"`
}

// Flatten returns every record in the export in depth-first order with
// children removed.
func (e *MapExport) Flatten() []RegionRecord {
	var out []RegionRecord
	var walk func(rs []RegionRecord)
	walk = func(rs []RegionRecord) {
		for _, r := range rs {
			children := r.Children
			r.Children = nil
			out = append(out, r)
			walk(children)
		}
	}
	walk(e.Regions)
	return out
}
