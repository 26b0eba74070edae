package formatter

import (
	"context"
	"time"

	"github.com/mem-analysis/internal/addrmap"
	"github.com/mem-analysis/internal/heap"
	"github.com/mem-analysis/internal/region"
	"github.com/mem-analysis/internal/search"
	"github.com/mem-analysis/internal/vablock"
	"github.com/mem-analysis/pkg/model"
)

// ChildFunc returns the children of a region. Callers pass the function
// that routes the call to the target's worker.
type ChildFunc func(ctx context.Context, r region.Region) ([]region.Region, error)

// RegionRecord converts r without its children.
func RegionRecord(r region.Region, source model.RegionSource) model.RegionRecord {
	return model.RegionRecord{
		Base:        r.BaseAddress().Value(),
		Size:        r.Size(),
		Address:     r.BaseAddress().String(),
		Description: r.Description(),
		Source:      source.String(),
	}
}

// TopLevelSource tells whether a top-level region came from a provider or
// from the scan.
func TopLevelSource(r region.Region) model.RegionSource {
	if _, ok := r.(*addrmap.VirtualAllocRegion); ok {
		return model.RegionSourceScan
	}
	return model.RegionSourceProvider
}

// RegionRecords converts top-level regions, expanding children depth levels
// deep. A child failure keeps the records built so far and is returned.
func RegionRecords(ctx context.Context, regions []region.Region, depth int, children ChildFunc) ([]model.RegionRecord, error) {
	out := make([]model.RegionRecord, 0, len(regions))
	for _, r := range regions {
		rec := RegionRecord(r, TopLevelSource(r))
		var err error
		rec.Children, err = expand(ctx, r, depth, children)
		out = append(out, rec)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func expand(ctx context.Context, r region.Region, depth int, children ChildFunc) ([]model.RegionRecord, error) {
	if depth <= 0 || children == nil {
		return nil, nil
	}
	kids, err := children(ctx, r)
	if err != nil {
		return nil, err
	}
	var out []model.RegionRecord
	for _, k := range kids {
		rec := RegionRecord(k, model.RegionSourceChild)
		var err error
		rec.Children, err = expand(ctx, k, depth-1, children)
		out = append(out, rec)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// StackRecords converts a containment stack. The first entry is the
// top-level region.
func StackRecords(stack []region.Region) []model.RegionRecord {
	out := make([]model.RegionRecord, len(stack))
	for i, r := range stack {
		source := model.RegionSourceChild
		if i == 0 {
			source = TopLevelSource(r)
		}
		out[i] = RegionRecord(r, source)
	}
	return out
}

// MapSummary describes m.
func MapSummary(m *addrmap.Map, builtAt time.Time) model.MapSummary {
	stats := m.Stats()
	s := model.MapSummary{
		Is32Bit:            m.Is32Bit(),
		Regions:            m.Len(),
		ProviderRegions:    stats.ProviderRegions,
		ScannedAllocations: stats.ScannedAllocations,
		Synthesized:        stats.Synthesized,
		BuiltAt:            builtAt,
	}
	if errs := m.ProviderErrors(); len(errs) > 0 {
		s.ProviderErrors = make(map[string]string, len(errs))
		for _, e := range errs {
			s.ProviderErrors[e.Provider] = e.Err.Error()
		}
	}
	return s
}

// BlockRecord converts a classified block.
func BlockRecord(c vablock.Classified) model.BlockRecord {
	rec := model.BlockRecord{
		Base:        c.BaseAddress.Value(),
		Address:     c.BaseAddress.String(),
		Size:        c.BlockSize,
		CommitSize:  c.CommitSize,
		Type:        c.Type.String(),
		Description: c.Description,
	}
	if c.Group != nil {
		rec.GroupKind = string(c.Group.Kind)
		rec.GroupName = c.Group.Name
	}
	return rec
}

// BlockRecords converts classified blocks.
func BlockRecords(blocks []vablock.Classified) []model.BlockRecord {
	out := make([]model.BlockRecord, len(blocks))
	for i, b := range blocks {
		out[i] = BlockRecord(b)
	}
	return out
}

// MatchRecord converts a search hit.
func MatchRecord(m search.Match) model.MatchRecord {
	return model.MatchRecord{
		Address: m.Address.String(),
		Value:   m.Value,
		Width:   int(m.Width),
	}
}

// HeapRecords describes parsed heaps.
func HeapRecords(heaps []*heap.Heap) []model.HeapRecord {
	out := make([]model.HeapRecord, len(heaps))
	for i, h := range heaps {
		rec := model.HeapRecord{
			Base:               h.Base.Value(),
			Address:            h.Base.String(),
			Name:               h.Name,
			Encoding:           h.Encoding,
			Segments:           len(h.Segments),
			VirtualAllocBlocks: len(h.VirtualAllocBlocks),
		}
		for _, r := range h.Regions() {
			rec.Size += r.Size()
		}
		out[i] = rec
	}
	return out
}
