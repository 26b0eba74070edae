// Package target defines the contracts the address-map core needs from the
// debugger engine: virtual-memory queries, raw reads, type/symbol metadata and
// module enumeration.
package target

import (
	"fmt"
	"strings"
)

// MemState is the state of a virtual-memory range.
type MemState uint32

const (
	MemCommit  MemState = 0x1000
	MemReserve MemState = 0x2000
	MemFree    MemState = 0x10000
)

// String returns the MEM_ state name without prefix.
func (s MemState) String() string {
	switch s {
	case MemCommit:
		return "COMMIT"
	case MemReserve:
		return "RESERVE"
	case MemFree:
		return "FREE"
	default:
		return fmt.Sprintf("0x%x", uint32(s))
	}
}

// MemType is the backing type of a virtual-memory range.
type MemType uint32

const (
	MemPrivate MemType = 0x20000
	MemMapped  MemType = 0x40000
	MemImage   MemType = 0x1000000
)

// String returns the MEM_ type name without prefix.
func (t MemType) String() string {
	switch t {
	case MemPrivate:
		return "PRIVATE"
	case MemMapped:
		return "MAPPED"
	case MemImage:
		return "IMAGE"
	case 0:
		return "NONE"
	default:
		return fmt.Sprintf("0x%x", uint32(t))
	}
}

// PageProtect holds PAGE_ protection flags.
type PageProtect uint32

const (
	PageNoAccess         PageProtect = 0x01
	PageReadOnly         PageProtect = 0x02
	PageReadWrite        PageProtect = 0x04
	PageWriteCopy        PageProtect = 0x08
	PageExecute          PageProtect = 0x10
	PageExecuteRead      PageProtect = 0x20
	PageExecuteReadWrite PageProtect = 0x40
	PageExecuteWriteCopy PageProtect = 0x80
	PageGuard            PageProtect = 0x100
	PageNoCache          PageProtect = 0x200
	PageWriteCombine     PageProtect = 0x400
)

var protectNames = []struct {
	flag PageProtect
	name string
}{
	{PageNoAccess, "NOACCESS"},
	{PageReadOnly, "READONLY"},
	{PageReadWrite, "READWRITE"},
	{PageWriteCopy, "WRITECOPY"},
	{PageExecute, "EXECUTE"},
	{PageExecuteRead, "EXECUTE_READ"},
	{PageExecuteReadWrite, "EXECUTE_READWRITE"},
	{PageExecuteWriteCopy, "EXECUTE_WRITECOPY"},
	{PageGuard, "GUARD"},
	{PageNoCache, "NOCACHE"},
	{PageWriteCombine, "WRITECOMBINE"},
}

// String joins the PAGE_ names of the set flags with '|'.
func (p PageProtect) String() string {
	if p == 0 {
		return "0"
	}
	var parts []string
	for _, pn := range protectNames {
		if p&pn.flag != 0 {
			parts = append(parts, pn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Writable reports whether the protection allows writes.
func (p PageProtect) Writable() bool {
	return p&(PageReadWrite|PageWriteCopy|PageExecuteReadWrite|PageExecuteWriteCopy) != 0
}

// Executable reports whether the protection allows execution.
func (p PageProtect) Executable() bool {
	return p&(PageExecute|PageExecuteRead|PageExecuteReadWrite|PageExecuteWriteCopy) != 0
}

// MemoryInfo describes the run of pages starting at BaseAddress that share
// state, protection and type.
type MemoryInfo struct {
	AllocationBase    uint64
	AllocationProtect PageProtect
	BaseAddress       uint64
	RegionSize        uint64
	State             MemState
	Protect           PageProtect
	Type              MemType
}

// End returns the exclusive end of the range.
func (m MemoryInfo) End() uint64 {
	return m.BaseAddress + m.RegionSize
}

// MemoryAccess queries and reads target virtual memory. Both calls may fail
// transiently.
type MemoryAccess interface {
	// QueryRegion describes the range containing addr. Gaps are reported
	// as MemFree; an error means no further ranges exist or the engine
	// could not answer.
	QueryRegion(addr uint64) (MemoryInfo, error)
	// ReadMemory fills buf from addr. Partial reads are errors.
	ReadMemory(addr uint64, buf []byte) error
}

// Field is one member of a resolved struct layout.
type Field struct {
	Name   string `yaml:"name" json:"name"`
	Offset uint64 `yaml:"offset" json:"offset"`
	Size   uint64 `yaml:"size" json:"size"`
}

// TypeLayout is the resolved layout of a native struct.
type TypeLayout struct {
	Module string  `yaml:"module" json:"module"`
	Name   string  `yaml:"name" json:"name"`
	Size   uint64  `yaml:"size" json:"size"`
	Fields []Field `yaml:"fields" json:"fields"`
}

// Field looks up a member by name.
func (t *TypeLayout) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// SymbolService resolves type layouts and named memory locations.
type SymbolService interface {
	// ResolveType returns the layout of module!name.
	ResolveType(module, name string) (*TypeLayout, error)
	// ResolveSymbol returns the address of a module-qualified symbol.
	ResolveSymbol(qualifiedName string) (uint64, error)
	// NameByAddress returns the nearest symbol at or below addr and the
	// displacement from it.
	NameByAddress(addr uint64) (string, uint64, error)
}

// NativeModule is a loaded image.
type NativeModule struct {
	Name       string
	Base       uint64
	Size       uint64
	Sections   []SectionHeader
	HasSymbols bool
}

// ManagedModule is a module reported by a managed runtime.
type ManagedModule struct {
	Name      string
	ImageBase uint64
	Size      uint64
}

// ManagedHeapKind classifies runtime-owned memory.
type ManagedHeapKind string

// GCSegment is the kind whose first page the runtime does not report.
const GCSegment ManagedHeapKind = "GCSegment"

// ManagedHeapRegion is a range of memory owned by a managed runtime.
type ManagedHeapRegion struct {
	Address uint64
	Size    uint64
	Kind    ManagedHeapKind
}

// ModuleEnumerator lists modules and runtime heaps.
type ModuleEnumerator interface {
	NativeModules() ([]NativeModule, error)
	ManagedModules() ([]ManagedModule, error)
	ManagedHeapRegions() ([]ManagedHeapRegion, error)
}

// Target is a debuggee as seen by the address-map core.
type Target interface {
	MemoryAccess
	SymbolService
	ModuleEnumerator

	// Is32Bit reports whether the debuggee uses 32-bit pointers.
	Is32Bit() bool
	// ThreadEnvironmentBlock returns the TEB address of the current thread.
	ThreadEnvironmentBlock() (uint64, error)
}

// PointerSize returns 4 or 8 depending on bitness.
func PointerSize(is32Bit bool) int {
	if is32Bit {
		return 4
	}
	return 8
}

// AllocationGranularity is the unit of virtual allocations.
const AllocationGranularity = 0x10000

// PageSize is the target page size.
const PageSize = 0x1000
