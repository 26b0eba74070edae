package provider

import (
	"context"
	"iter"

	"github.com/mem-analysis/internal/heap"
	"github.com/mem-analysis/internal/region"
	"github.com/mem-analysis/internal/target"
	"github.com/mem-analysis/pkg/utils"
)

// NativeHeapProvider yields every segment and virtual-alloc block of every
// process heap. Segment entries are decoded on demand.
type NativeHeapProvider struct {
	logger utils.Logger
}

// NewNativeHeapProvider creates a NativeHeapProvider.
func NewNativeHeapProvider(logger utils.Logger) *NativeHeapProvider {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &NativeHeapProvider{logger: logger}
}

// Name implements Provider.
func (p *NativeHeapProvider) Name() string { return NameNativeHeaps }

// IdentifyRegions implements Provider.
func (p *NativeHeapProvider) IdentifyRegions(ctx context.Context, t target.Target) iter.Seq2[region.Region, error] {
	return func(yield func(region.Region, error) bool) {
		heaps, err := heap.NewParser(t, p.logger).Heaps(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, h := range heaps {
			for _, r := range h.Regions() {
				if !yield(r, nil) {
					return
				}
			}
		}
	}
}
