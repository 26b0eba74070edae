// Package vablock enumerates virtual allocation blocks (every range sharing
// one allocation base) and classifies them into owner groups.
package vablock

import (
	"context"
	"fmt"
	"iter"

	"github.com/mem-analysis/internal/target"
	"github.com/mem-analysis/pkg/address"
	apperrors "github.com/mem-analysis/pkg/errors"
)

// UnknownModule is the description of an image block whose module cannot
// be found.
const UnknownModule = "<unknown>"

// Block is one allocation: the contiguous ranges sharing an allocation
// base.
type Block struct {
	BaseAddress address.Address
	BlockSize   uint64
	CommitSize  uint64
	Type        target.MemType
	// Description is the owning module's name for image blocks and empty
	// otherwise.
	Description string
}

// End returns the first address past the block.
func (b Block) End() address.Address {
	return b.BaseAddress.Add(b.BlockSize)
}

// Contains reports whether addr lies within the block.
func (b Block) Contains(addr uint64) bool {
	return addr >= b.BaseAddress.Value() && addr < b.End().Value()
}

// BlockAt builds the block containing addr.
func BlockAt(ctx context.Context, t target.Target, addr uint64) (Block, error) {
	if err := ctx.Err(); err != nil {
		return Block{}, err
	}
	info, err := t.QueryRegion(addr)
	if err != nil {
		return Block{}, fmt.Errorf("query 0x%x: %w", addr, err)
	}
	if info.State == target.MemFree {
		return Block{}, apperrors.Newf(apperrors.CodeNotFound, "0x%x is not inside an allocation", addr)
	}
	return newBlock(t, info), nil
}

// AllBlocks walks the address space from 0 and yields every allocation. A
// failing region query ends the walk.
func AllBlocks(ctx context.Context, t target.Target) iter.Seq2[Block, error] {
	return func(yield func(Block, error) bool) {
		var addr uint64
		for {
			if err := ctx.Err(); err != nil {
				yield(Block{}, err)
				return
			}
			info, err := t.QueryRegion(addr)
			if err != nil || info.RegionSize == 0 || info.End() <= addr {
				return
			}
			if info.State == target.MemFree {
				addr = info.End()
				continue
			}
			b := newBlock(t, info)
			if b.End().Value() <= addr {
				return
			}
			addr = b.End().Value()
			if !yield(b, nil) {
				return
			}
		}
	}
}

func newBlock(t target.Target, info target.MemoryInfo) Block {
	is32 := t.Is32Bit()
	base := info.AllocationBase
	if base > info.BaseAddress {
		base = info.BaseAddress
	}
	b := Block{BaseAddress: address.New(base, is32), Type: info.Type}

	cur := base
	for {
		q, err := t.QueryRegion(cur)
		if err != nil || q.State == target.MemFree || q.AllocationBase != info.AllocationBase || q.RegionSize == 0 {
			break
		}
		if q.State == target.MemCommit {
			b.CommitSize += q.End() - cur
		}
		cur = q.End()
	}
	if cur == base {
		cur = info.End()
		if info.State == target.MemCommit {
			b.CommitSize = info.RegionSize
		}
	}
	b.BlockSize = cur - base

	if b.Type == target.MemImage {
		name, err := ModuleNameAt(t, base)
		if err != nil {
			name = UnknownModule
		}
		b.Description = name
	}
	return b
}

// ModuleNameAt returns the name of the native module containing addr.
func ModuleNameAt(t target.ModuleEnumerator, addr uint64) (string, error) {
	modules, err := t.NativeModules()
	if err != nil {
		return "", err
	}
	for _, m := range modules {
		if addr >= m.Base && addr-m.Base < m.Size {
			return m.Name, nil
		}
	}
	return "", apperrors.Newf(apperrors.CodeNotFound, "no module contains 0x%x", addr)
}
