package provider

import (
	"context"
	"iter"

	"github.com/mem-analysis/internal/region"
	"github.com/mem-analysis/internal/target"
	"github.com/mem-analysis/pkg/address"
)

// ManagedHeapProvider yields one leaf per memory region reported by the
// managed runtime.
type ManagedHeapProvider struct{}

// NewManagedHeapProvider creates a ManagedHeapProvider.
func NewManagedHeapProvider() *ManagedHeapProvider {
	return &ManagedHeapProvider{}
}

// Name implements Provider.
func (p *ManagedHeapProvider) Name() string { return NameManagedHeap }

// IdentifyRegions implements Provider. GC segments are extended down to the
// allocation granularity because the runtime does not report their first
// page.
func (p *ManagedHeapProvider) IdentifyRegions(ctx context.Context, t target.Target) iter.Seq2[region.Region, error] {
	return func(yield func(region.Region, error) bool) {
		regions, err := t.ManagedHeapRegions()
		if err != nil {
			yield(nil, err)
			return
		}
		is32 := t.Is32Bit()
		for _, r := range regions {
			start, size := r.Address, r.Size
			if r.Kind == target.GCSegment {
				start = address.New(r.Address, is32).AlignDown(target.AllocationGranularity).Value()
				size += r.Address - start
			}
			if size == 0 {
				continue
			}
			if !yield(region.NewLeaf(address.New(start, is32), size, "CLR "+string(r.Kind)), nil) {
				return
			}
		}
	}
}
