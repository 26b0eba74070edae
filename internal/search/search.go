// Package search scans committed target memory for aligned DWORD or QWORD
// values.
package search

import (
	"context"
	"encoding/binary"
	"fmt"
	"iter"
	"strings"

	"github.com/mem-analysis/internal/target"
	"github.com/mem-analysis/pkg/address"
	"github.com/mem-analysis/pkg/collections"
	apperrors "github.com/mem-analysis/pkg/errors"
)

// Width is the size in bytes of the searched value. Zero means the target
// pointer size.
type Width int

// Supported widths.
const (
	WidthDefault Width = 0
	WidthDWord   Width = 4
	WidthQWord   Width = 8
)

// ParseWidth accepts "", "default", "dword", "qword", "4" and "8".
func ParseWidth(s string) (Width, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return WidthDefault, nil
	case "dword", "4":
		return WidthDWord, nil
	case "qword", "8":
		return WidthQWord, nil
	default:
		return 0, apperrors.Newf(apperrors.CodeInvalidInput, "unknown search width %q", s)
	}
}

// MemTypes selects which memory types are searched.
type MemTypes uint8

// Memory type flags.
const (
	MemTypesPrivate MemTypes = 1 << iota
	MemTypesImage
	MemTypesMapped

	MemTypesAll = MemTypesPrivate | MemTypesImage | MemTypesMapped
)

// ParseMemTypes combines names from "private", "image", "mapped" and "all".
// An empty list selects all types.
func ParseMemTypes(names []string) (MemTypes, error) {
	var m MemTypes
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "private":
			m |= MemTypesPrivate
		case "image":
			m |= MemTypesImage
		case "mapped":
			m |= MemTypesMapped
		case "all":
			m |= MemTypesAll
		case "":
		default:
			return 0, apperrors.Newf(apperrors.CodeInvalidInput, "unknown memory type %q", n)
		}
	}
	if m == 0 {
		m = MemTypesAll
	}
	return m, nil
}

// Accepts reports whether memory of type t is selected. A type outside the
// three known ones is only accepted by MemTypesAll; any other filter makes
// it an error.
func (m MemTypes) Accepts(t target.MemType) (bool, error) {
	switch t {
	case target.MemPrivate:
		return m&MemTypesPrivate != 0, nil
	case target.MemImage:
		return m&MemTypesImage != 0, nil
	case target.MemMapped:
		return m&MemTypesMapped != 0, nil
	default:
		if m == MemTypesAll {
			return true, nil
		}
		return false, apperrors.Newf(apperrors.CodeInvalidInput, "unknown memory type %s", t)
	}
}

// DefaultPageSize is the read granularity.
const DefaultPageSize = 4096

// Options describes a search.
type Options struct {
	Value uint64
	// Mask is applied to memory before comparing. Zero means all bits.
	Mask  uint64
	Width Width
	// Start is aligned down to the value width.
	Start uint64
	// End is exclusive. Zero, or a value not above Start, means the end of
	// the address space.
	End               uint64
	IncludeReadOnly   bool
	ExcludeExecutable bool
	// MemTypes defaults to MemTypesAll.
	MemTypes MemTypes
	PageSize int
}

// Match is one aligned location holding the searched value.
type Match struct {
	Address address.Address
	Value   uint64
	Width   Width
}

func (m Match) String() string {
	if m.Width == WidthDWord {
		return fmt.Sprintf("%s  %08x", m.Address, m.Value)
	}
	return fmt.Sprintf("%s  %016x", m.Address, m.Value)
}

type plan struct {
	width      Width
	value      uint64
	mask       uint64
	start, end uint64
	memTypes   MemTypes
	pool       *collections.BufferPool
}

func newPlan(is32 bool, o Options) plan {
	p := plan{width: o.Width, mask: o.Mask, memTypes: o.MemTypes}
	if p.width == WidthDefault {
		p.width = Width(target.PointerSize(is32))
	}
	if p.mask == 0 {
		p.mask = ^uint64(0)
	}
	if p.width == WidthDWord {
		p.mask &= 0xFFFF_FFFF
	}
	p.value = o.Value & p.mask
	p.start = o.Start &^ uint64(p.width-1)
	p.end = o.End
	if o.End <= o.Start {
		p.end = ^uint64(0)
	}
	if p.memTypes == 0 {
		p.memTypes = MemTypesAll
	}
	pageSize := o.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	p.pool = collections.NewBufferPool(pageSize)
	return p
}

// Search yields every match in committed memory between Start and End.
// Regions without a writable protection are skipped unless IncludeReadOnly
// is set. A page that cannot be read is skipped. Cancellation is checked
// before each region query.
func Search(ctx context.Context, mem target.MemoryAccess, is32 bool, o Options) iter.Seq2[Match, error] {
	return func(yield func(Match, error) bool) {
		p := newPlan(is32, o)
		pageSize := uint64(p.pool.Size())
		buf := p.pool.Get()
		defer p.pool.Put(buf)

		cur := p.start &^ (pageSize - 1)
		for cur < p.end {
			if err := ctx.Err(); err != nil {
				yield(Match{}, err)
				return
			}
			info, err := mem.QueryRegion(cur)
			if err != nil || info.RegionSize == 0 || info.End() <= cur {
				return
			}
			regionEnd := min(p.end, info.End())
			cur = regionEnd

			if info.State != target.MemCommit {
				continue
			}
			if !o.IncludeReadOnly && !info.Protect.Writable() {
				continue
			}
			if o.ExcludeExecutable && info.Protect.Executable() {
				continue
			}
			ok, err := p.memTypes.Accepts(info.Type)
			if err != nil {
				yield(Match{}, err)
				return
			}
			if !ok {
				continue
			}

			first := max(info.BaseAddress, p.start&^(pageSize-1))
			for page := first; page < regionEnd; page += pageSize {
				if err := mem.ReadMemory(page, *buf); err != nil {
					continue
				}
				if !p.scanPage(page, *buf, is32, yield) {
					return
				}
			}
		}
	}
}

func (p plan) scanPage(page uint64, data []byte, is32 bool, yield func(Match, error) bool) bool {
	w := int(p.width)
	for off := 0; off+w <= len(data); off += w {
		var v uint64
		if p.width == WidthDWord {
			v = uint64(binary.LittleEndian.Uint32(data[off:]))
		} else {
			v = binary.LittleEndian.Uint64(data[off:])
		}
		if v&p.mask != p.value {
			continue
		}
		addr := page + uint64(off)
		if addr < p.start || addr >= p.end {
			continue
		}
		if !yield(Match{Address: address.New(addr, is32), Value: v, Width: p.width}, nil) {
			return false
		}
	}
	return true
}
