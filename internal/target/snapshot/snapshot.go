// Package snapshot implements target.Target over an in-memory image of a
// process: its virtual-memory layout, memory contents, type layouts, symbols
// and module lists.
package snapshot

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/mem-analysis/internal/target"
	apperrors "github.com/mem-analysis/pkg/errors"
)

const (
	pageShift = 12
	pageSize  = 1 << pageShift

	userSpaceEnd64 = 0x8000_0000_0000
	userSpaceEnd32 = 0x1_0000_0000
)

type symbol struct {
	name string
	addr uint64
}

// Snapshot is a frozen debuggee. Build one with New and the Add/Write
// methods, or Load it from a manifest.
type Snapshot struct {
	is32    bool
	teb     uint64
	regions []target.MemoryInfo
	pages   map[uint64][]byte
	types   map[string]*target.TypeLayout
	symbols []symbol

	modules        []target.NativeModule
	managedModules []target.ManagedModule
	managedHeaps   []target.ManagedHeapRegion

	queryLimit uint64
}

// New returns an empty snapshot.
func New(is32Bit bool) *Snapshot {
	return &Snapshot{
		is32:  is32Bit,
		pages: make(map[uint64][]byte),
		types: make(map[string]*target.TypeLayout),
	}
}

var _ target.Target = (*Snapshot)(nil)

// Is32Bit implements target.Target.
func (s *Snapshot) Is32Bit() bool {
	return s.is32
}

// SetTEB sets the current thread's TEB address.
func (s *Snapshot) SetTEB(addr uint64) *Snapshot {
	s.teb = addr
	return s
}

// ThreadEnvironmentBlock implements target.Target.
func (s *Snapshot) ThreadEnvironmentBlock() (uint64, error) {
	if s.teb == 0 {
		return 0, apperrors.New(apperrors.CodeNotFound, "no thread environment block")
	}
	return s.teb, nil
}

// SetQueryLimit makes QueryRegion fail at and above addr, as an engine does
// when it cannot answer.
func (s *Snapshot) SetQueryLimit(addr uint64) *Snapshot {
	s.queryLimit = addr
	return s
}

// AddRegion records a non-free range. Ranges must not overlap.
func (s *Snapshot) AddRegion(info target.MemoryInfo) *Snapshot {
	i := sort.Search(len(s.regions), func(i int) bool { return s.regions[i].BaseAddress >= info.BaseAddress })
	s.regions = append(s.regions, target.MemoryInfo{})
	copy(s.regions[i+1:], s.regions[i:])
	s.regions[i] = info
	return s
}

// Commit records a committed read-write range that is its own allocation.
func (s *Snapshot) Commit(base, size uint64, typ target.MemType) *Snapshot {
	return s.AddRegion(target.MemoryInfo{
		AllocationBase:    base,
		AllocationProtect: target.PageReadWrite,
		BaseAddress:       base,
		RegionSize:        size,
		State:             target.MemCommit,
		Protect:           target.PageReadWrite,
		Type:              typ,
	})
}

// Regions returns the recorded non-free ranges in address order.
func (s *Snapshot) Regions() []target.MemoryInfo {
	return append([]target.MemoryInfo(nil), s.regions...)
}

func (s *Snapshot) userSpaceEnd() uint64 {
	end := uint64(userSpaceEnd64)
	if s.is32 {
		end = userSpaceEnd32
	}
	if n := len(s.regions); n > 0 && s.regions[n-1].End() > end {
		end = s.regions[n-1].End()
	}
	return end
}

// QueryRegion implements target.MemoryAccess. Gaps between recorded ranges
// are reported as free.
func (s *Snapshot) QueryRegion(addr uint64) (target.MemoryInfo, error) {
	if s.queryLimit != 0 && addr >= s.queryLimit {
		return target.MemoryInfo{}, apperrors.Newf(apperrors.CodeReadFailed, "query at 0x%x refused", addr)
	}
	end := s.userSpaceEnd()
	if addr >= end {
		return target.MemoryInfo{}, apperrors.Newf(apperrors.CodeNotFound, "0x%x is beyond the address space", addr)
	}
	i := sort.Search(len(s.regions), func(i int) bool { return s.regions[i].End() > addr })
	if i < len(s.regions) && s.regions[i].BaseAddress <= addr {
		return s.regions[i], nil
	}
	gapStart := uint64(0)
	if i > 0 {
		gapStart = s.regions[i-1].End()
	}
	gapEnd := end
	if i < len(s.regions) {
		gapEnd = s.regions[i].BaseAddress
	}
	return target.MemoryInfo{
		BaseAddress: gapStart,
		RegionSize:  gapEnd - gapStart,
		State:       target.MemFree,
		Protect:     target.PageNoAccess,
	}, nil
}

func (s *Snapshot) committed(addr uint64, n int) bool {
	cur, end := addr, addr+uint64(n)
	for cur < end {
		info, err := s.QueryRegion(cur)
		if err != nil || info.State != target.MemCommit {
			return false
		}
		cur = info.End()
	}
	return true
}

// ReadMemory implements target.MemoryAccess. Reads succeed only within
// committed ranges; unwritten committed bytes read as zero.
func (s *Snapshot) ReadMemory(addr uint64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if !s.committed(addr, len(buf)) {
		return apperrors.Newf(apperrors.CodeReadFailed, "0x%x (+0x%x) is not committed", addr, len(buf))
	}
	for done := 0; done < len(buf); {
		cur := addr + uint64(done)
		off := int(cur & (pageSize - 1))
		n := min(pageSize-off, len(buf)-done)
		if page, ok := s.pages[cur>>pageShift]; ok {
			copy(buf[done:done+n], page[off:off+n])
		} else {
			clear(buf[done : done+n])
		}
		done += n
	}
	return nil
}

// Write stores data at addr.
func (s *Snapshot) Write(addr uint64, data []byte) *Snapshot {
	for done := 0; done < len(data); {
		cur := addr + uint64(done)
		off := int(cur & (pageSize - 1))
		n := min(pageSize-off, len(data)-done)
		page, ok := s.pages[cur>>pageShift]
		if !ok {
			page = make([]byte, pageSize)
			s.pages[cur>>pageShift] = page
		}
		copy(page[off:off+n], data[done:done+n])
		done += n
	}
	return s
}

// WriteU8 stores a byte.
func (s *Snapshot) WriteU8(addr uint64, v uint8) *Snapshot {
	return s.Write(addr, []byte{v})
}

// WriteU16 stores a little-endian uint16.
func (s *Snapshot) WriteU16(addr uint64, v uint16) *Snapshot {
	return s.Write(addr, binary.LittleEndian.AppendUint16(nil, v))
}

// WriteU32 stores a little-endian uint32.
func (s *Snapshot) WriteU32(addr uint64, v uint32) *Snapshot {
	return s.Write(addr, binary.LittleEndian.AppendUint32(nil, v))
}

// WriteU64 stores a little-endian uint64.
func (s *Snapshot) WriteU64(addr uint64, v uint64) *Snapshot {
	return s.Write(addr, binary.LittleEndian.AppendUint64(nil, v))
}

// WritePointer stores a target-width pointer.
func (s *Snapshot) WritePointer(addr uint64, v uint64) *Snapshot {
	if s.is32 {
		return s.WriteU32(addr, uint32(v))
	}
	return s.WriteU64(addr, v)
}

// AddType registers a struct layout.
func (s *Snapshot) AddType(layout target.TypeLayout) *Snapshot {
	l := layout
	s.types[typeKey(l.Module, l.Name)] = &l
	return s
}

func typeKey(module, name string) string {
	return strings.ToLower(module) + "!" + name
}

// ResolveType implements target.SymbolService.
func (s *Snapshot) ResolveType(module, name string) (*target.TypeLayout, error) {
	l, ok := s.types[typeKey(module, name)]
	if !ok {
		return nil, apperrors.SymbolsUnavailable(module, name)
	}
	return l, nil
}

// AddSymbol registers a named address.
func (s *Snapshot) AddSymbol(name string, addr uint64) *Snapshot {
	i := sort.Search(len(s.symbols), func(i int) bool { return s.symbols[i].addr > addr })
	s.symbols = append(s.symbols, symbol{})
	copy(s.symbols[i+1:], s.symbols[i:])
	s.symbols[i] = symbol{name: name, addr: addr}
	return s
}

// ResolveSymbol implements target.SymbolService. Module names match
// case-insensitively.
func (s *Snapshot) ResolveSymbol(qualifiedName string) (uint64, error) {
	for _, sym := range s.symbols {
		if strings.EqualFold(sym.name, qualifiedName) {
			return sym.addr, nil
		}
	}
	return 0, apperrors.Newf(apperrors.CodeNotFound, "symbol %s not found", qualifiedName)
}

// NameByAddress implements target.SymbolService.
func (s *Snapshot) NameByAddress(addr uint64) (string, uint64, error) {
	i := sort.Search(len(s.symbols), func(i int) bool { return s.symbols[i].addr > addr })
	if i == 0 {
		return "", 0, apperrors.Newf(apperrors.CodeNotFound, "no symbol at or below 0x%x", addr)
	}
	sym := s.symbols[i-1]
	return sym.name, addr - sym.addr, nil
}

// AddNativeModule registers a loaded image. The image range itself must be
// added separately with AddRegion.
func (s *Snapshot) AddNativeModule(m target.NativeModule) *Snapshot {
	s.modules = append(s.modules, m)
	return s
}

// AddManagedModule registers a managed-runtime module.
func (s *Snapshot) AddManagedModule(m target.ManagedModule) *Snapshot {
	s.managedModules = append(s.managedModules, m)
	return s
}

// AddManagedHeapRegion registers runtime-owned memory.
func (s *Snapshot) AddManagedHeapRegion(r target.ManagedHeapRegion) *Snapshot {
	s.managedHeaps = append(s.managedHeaps, r)
	return s
}

// NativeModules implements target.ModuleEnumerator.
func (s *Snapshot) NativeModules() ([]target.NativeModule, error) {
	return append([]target.NativeModule(nil), s.modules...), nil
}

// ManagedModules implements target.ModuleEnumerator.
func (s *Snapshot) ManagedModules() ([]target.ManagedModule, error) {
	return append([]target.ManagedModule(nil), s.managedModules...), nil
}

// ManagedHeapRegions implements target.ModuleEnumerator.
func (s *Snapshot) ManagedHeapRegions() ([]target.ManagedHeapRegion, error) {
	return append([]target.ManagedHeapRegion(nil), s.managedHeaps...), nil
}

// String summarizes the snapshot for logs.
func (s *Snapshot) String() string {
	bits := 64
	if s.is32 {
		bits = 32
	}
	return fmt.Sprintf("snapshot(%d-bit, %d regions, %d modules, %d types)", bits, len(s.regions), len(s.modules), len(s.types))
}
