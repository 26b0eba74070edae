package addrmap

import (
	"context"
	"fmt"

	"github.com/mem-analysis/internal/region"
	"github.com/mem-analysis/internal/target"
	"github.com/mem-analysis/pkg/address"
)

// VirtualAllocRegion is an allocation no provider accounts for: the
// contiguous run of non-free ranges sharing one allocation base.
type VirtualAllocRegion struct {
	region.Span
	Type     target.MemType
	children []region.Region
}

// VirtualAllocSubRegion is one range of a VirtualAllocRegion with uniform
// state and protection.
type VirtualAllocSubRegion struct {
	region.Span
	State   target.MemState
	Protect target.PageProtect
}

// newVirtualAllocRegion queries t starting from info and merges every
// following range with the same allocation base.
func newVirtualAllocRegion(t target.MemoryAccess, info target.MemoryInfo, is32Bit bool) *VirtualAllocRegion {
	allocBase := info.AllocationBase
	if allocBase > info.BaseAddress {
		allocBase = info.BaseAddress
	}
	va := &VirtualAllocRegion{Type: info.Type}
	cur := info.BaseAddress
	for {
		va.children = append(va.children, &VirtualAllocSubRegion{
			Span:    region.Span{Base: address.New(info.BaseAddress, is32Bit), Length: info.RegionSize},
			State:   info.State,
			Protect: info.Protect,
		})
		cur = info.End()

		next, err := t.QueryRegion(cur)
		if err != nil || next.State == target.MemFree || next.AllocationBase != info.AllocationBase ||
			next.RegionSize == 0 || next.BaseAddress != cur {
			break
		}
		info = next
	}
	va.Span = region.Span{Base: address.New(allocBase, is32Bit), Length: cur - allocBase}
	return va
}

// Description implements region.Region.
func (v *VirtualAllocRegion) Description() string {
	return fmt.Sprintf("VirtualAlloc %s - %s  MEM_%s  <unknown>", v.Base, region.End(v), v.Type)
}

// SubRegions implements region.Region.
func (v *VirtualAllocRegion) SubRegions(context.Context) ([]region.Region, error) {
	return v.children, nil
}

// Description implements region.Region.
func (s *VirtualAllocSubRegion) Description() string {
	return fmt.Sprintf("VirtualAlloc %s - %s  MEM_%s PAGE_%s  <unknown>", s.Base, region.End(s), s.State, s.Protect)
}

// SubRegions implements region.Region.
func (s *VirtualAllocSubRegion) SubRegions(context.Context) ([]region.Region, error) {
	return nil, nil
}
