package snapshot

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mem-analysis/internal/target"
	"github.com/mem-analysis/pkg/compression"
	apperrors "github.com/mem-analysis/pkg/errors"
)

// Manifest is the on-disk description of a snapshot.
type Manifest struct {
	Is32Bit        bool                `yaml:"is32bit"`
	TEB            uint64              `yaml:"teb"`
	Regions        []RegionSpec        `yaml:"regions"`
	Memory         []MemorySpec        `yaml:"memory"`
	Types          []target.TypeLayout `yaml:"types"`
	Symbols        []SymbolSpec        `yaml:"symbols"`
	Modules        []ModuleSpec        `yaml:"modules"`
	ManagedModules []ManagedModuleSpec `yaml:"managed_modules"`
	ManagedHeaps   []ManagedHeapSpec   `yaml:"managed_heaps"`
}

// RegionSpec describes one non-free virtual-memory range.
type RegionSpec struct {
	AllocationBase *uint64 `yaml:"allocation_base"`
	Base           uint64  `yaml:"base"`
	Size           uint64  `yaml:"size"`
	State          string  `yaml:"state"`
	Protect        uint32  `yaml:"protect"`
	Type           string  `yaml:"type"`
}

// MemorySpec holds hex-encoded bytes at an address.
type MemorySpec struct {
	Address uint64 `yaml:"address"`
	Hex     string `yaml:"hex"`
}

// SymbolSpec names an address.
type SymbolSpec struct {
	Name    string `yaml:"name"`
	Address uint64 `yaml:"address"`
}

// SectionSpec describes a PE section relative to its module base.
type SectionSpec struct {
	Name           string `yaml:"name"`
	VirtualAddress uint32 `yaml:"virtual_address"`
	VirtualSize    uint32 `yaml:"virtual_size"`
}

// ModuleSpec describes a native module.
type ModuleSpec struct {
	Name       string        `yaml:"name"`
	Base       uint64        `yaml:"base"`
	Size       uint64        `yaml:"size"`
	HasSymbols bool          `yaml:"has_symbols"`
	Sections   []SectionSpec `yaml:"sections"`
}

// ManagedModuleSpec describes a managed-runtime module.
type ManagedModuleSpec struct {
	Name      string `yaml:"name"`
	ImageBase uint64 `yaml:"image_base"`
	Size      uint64 `yaml:"size"`
}

// ManagedHeapSpec describes runtime-owned memory.
type ManagedHeapSpec struct {
	Address uint64 `yaml:"address"`
	Size    uint64 `yaml:"size"`
	Kind    string `yaml:"kind"`
}

// LoadFile reads a manifest file, which may be gzip or zstd compressed.
func LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	return Parse(data)
}

// Load reads a manifest from r.
func Load(r io.Reader) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return Parse(data)
}

// Parse decodes manifest bytes, decompressing them first if needed.
func Parse(data []byte) (*Snapshot, error) {
	raw, err := compression.AutoDecompress(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "failed to decompress snapshot", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "failed to parse snapshot manifest", err)
	}
	return FromManifest(&m)
}

// FromManifest builds a snapshot from a decoded manifest.
func FromManifest(m *Manifest) (*Snapshot, error) {
	s := New(m.Is32Bit)
	s.SetTEB(m.TEB)

	for i, r := range m.Regions {
		info, err := r.memoryInfo()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("region %d", i), err)
		}
		s.AddRegion(info)
	}
	for _, mem := range m.Memory {
		data, err := hex.DecodeString(strings.Join(strings.Fields(mem.Hex), ""))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("memory at 0x%x", mem.Address), err)
		}
		s.Write(mem.Address, data)
	}
	for _, t := range m.Types {
		s.AddType(t)
	}
	for _, sym := range m.Symbols {
		s.AddSymbol(sym.Name, sym.Address)
	}
	for _, mod := range m.Modules {
		nm := target.NativeModule{Name: mod.Name, Base: mod.Base, Size: mod.Size, HasSymbols: mod.HasSymbols}
		for _, sec := range mod.Sections {
			nm.Sections = append(nm.Sections, target.SectionHeader{
				Name:           sec.Name,
				VirtualAddress: sec.VirtualAddress,
				VirtualSize:    sec.VirtualSize,
			})
		}
		s.AddNativeModule(nm)
	}
	for _, mm := range m.ManagedModules {
		s.AddManagedModule(target.ManagedModule{Name: mm.Name, ImageBase: mm.ImageBase, Size: mm.Size})
	}
	for _, mh := range m.ManagedHeaps {
		s.AddManagedHeapRegion(target.ManagedHeapRegion{Address: mh.Address, Size: mh.Size, Kind: target.ManagedHeapKind(mh.Kind)})
	}
	return s, nil
}

func (r RegionSpec) memoryInfo() (target.MemoryInfo, error) {
	if r.Size == 0 {
		return target.MemoryInfo{}, fmt.Errorf("region at 0x%x has zero size", r.Base)
	}
	info := target.MemoryInfo{
		AllocationBase:    r.Base,
		BaseAddress:       r.Base,
		RegionSize:        r.Size,
		Protect:           target.PageProtect(r.Protect),
		AllocationProtect: target.PageProtect(r.Protect),
	}
	if r.AllocationBase != nil {
		info.AllocationBase = *r.AllocationBase
	}
	if info.Protect == 0 {
		info.Protect = target.PageReadWrite
		info.AllocationProtect = target.PageReadWrite
	}
	switch strings.ToLower(r.State) {
	case "", "commit":
		info.State = target.MemCommit
	case "reserve":
		info.State = target.MemReserve
		info.Protect = 0
	default:
		return target.MemoryInfo{}, fmt.Errorf("unknown state %q", r.State)
	}
	switch strings.ToLower(r.Type) {
	case "", "private":
		info.Type = target.MemPrivate
	case "image":
		info.Type = target.MemImage
	case "mapped":
		info.Type = target.MemMapped
	default:
		return target.MemoryInfo{}, fmt.Errorf("unknown type %q", r.Type)
	}
	return info, nil
}
