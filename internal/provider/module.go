package provider

import (
	"context"
	"iter"
	"path"
	"strings"

	"github.com/mem-analysis/internal/region"
	"github.com/mem-analysis/internal/target"
	"github.com/mem-analysis/pkg/address"
)

// ModuleProvider yields one region per native module, then one per managed
// module that is not already represented by a native module.
type ModuleProvider struct{}

// NewModuleProvider creates a ModuleProvider.
func NewModuleProvider() *ModuleProvider {
	return &ModuleProvider{}
}

// Name implements Provider.
func (p *ModuleProvider) Name() string { return NameModules }

// IdentifyRegions implements Provider.
func (p *ModuleProvider) IdentifyRegions(ctx context.Context, t target.Target) iter.Seq2[region.Region, error] {
	return func(yield func(region.Region, error) bool) {
		is32 := t.Is32Bit()
		natives, err := t.NativeModules()
		if err != nil {
			yield(nil, err)
			return
		}
		emitted := make(map[string]struct{}, len(natives))
		for _, m := range natives {
			// Wow64 images are mapped above the 32-bit range.
			if is32 && m.Base > address.MaxUint32 {
				continue
			}
			if m.Size == 0 {
				continue
			}
			emitted[m.Name] = struct{}{}
			if !yield(NewNativeModuleRegion(m, is32), nil) {
				return
			}
		}
		if ctx.Err() != nil {
			yield(nil, ctx.Err())
			return
		}

		managed, err := t.ManagedModules()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, m := range managed {
			if m.ImageBase == 0 || m.Size == 0 {
				continue
			}
			if alreadyEmitted(emitted, m.Name) {
				continue
			}
			emitted[m.Name] = struct{}{}
			if !yield(&ManagedModuleRegion{
				Span: region.Span{Base: address.New(m.ImageBase, is32), Length: m.Size},
				Name: m.Name,
			}, nil) {
				return
			}
		}
	}
}

// ManagedNameCandidates returns the native module names a managed module
// may already be loaded under: its file name, the file name without
// extension, that stem with dots replaced by underscores, and the native
// image variant of it.
func ManagedNameCandidates(name string) []string {
	file := path.Base(strings.ReplaceAll(name, `\`, "/"))
	stem := strings.TrimSuffix(file, path.Ext(file))
	mangled := strings.ReplaceAll(stem, ".", "_")
	return []string{name, file, stem, mangled, mangled + "_ni"}
}

func alreadyEmitted(emitted map[string]struct{}, name string) bool {
	for _, c := range ManagedNameCandidates(name) {
		if _, ok := emitted[c]; ok {
			return true
		}
	}
	return false
}

func moduleLabel(r region.Region, name string) string {
	return r.BaseAddress().String() + " - " + region.End(r).String() + " " + name
}

// NativeModuleRegion is a loaded image. Its children are its PE sections.
type NativeModuleRegion struct {
	region.Span
	Module   target.NativeModule
	children region.ChildCache
}

// NewNativeModuleRegion creates the region for m.
func NewNativeModuleRegion(m target.NativeModule, is32 bool) *NativeModuleRegion {
	return &NativeModuleRegion{
		Span:   region.Span{Base: address.New(m.Base, is32), Length: m.Size},
		Module: m,
	}
}

// ModuleName returns the module's name.
func (r *NativeModuleRegion) ModuleName() string { return r.Module.Name }

// Description implements region.Region.
func (r *NativeModuleRegion) Description() string {
	return moduleLabel(r, r.Module.Name)
}

// SubRegions implements region.Region.
func (r *NativeModuleRegion) SubRegions(ctx context.Context) ([]region.Region, error) {
	return r.children.Get(ctx, func(context.Context) ([]region.Region, error) {
		out := make([]region.Region, 0, len(r.Module.Sections))
		for _, s := range r.Module.Sections {
			if s.VirtualSize == 0 {
				continue
			}
			out = append(out, region.NewLeaf(r.Base.Add(uint64(s.VirtualAddress)), uint64(s.VirtualSize),
				r.Module.Name+" "+s.Name))
		}
		return out, nil
	})
}

// ManagedModuleRegion is a managed-runtime module without a native image.
type ManagedModuleRegion struct {
	region.Span
	Name string
}

// ModuleName returns the module's name.
func (r *ManagedModuleRegion) ModuleName() string { return r.Name }

// Description implements region.Region.
func (r *ManagedModuleRegion) Description() string {
	return moduleLabel(r, r.Name)
}

// SubRegions implements region.Region.
func (r *ManagedModuleRegion) SubRegions(context.Context) ([]region.Region, error) {
	return nil, nil
}
