package addrmap_test

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	testifymock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mem-analysis/internal/addrmap"
	"github.com/mem-analysis/internal/heap"
	"github.com/mem-analysis/internal/mock"
	"github.com/mem-analysis/internal/provider"
	"github.com/mem-analysis/internal/region"
	"github.com/mem-analysis/internal/target"
	"github.com/mem-analysis/internal/target/snapshot"
	"github.com/mem-analysis/internal/testutil"
	"github.com/mem-analysis/pkg/address"
	apperrors "github.com/mem-analysis/pkg/errors"
)

type fakeProvider struct {
	name    string
	regions []region.Region
	err     error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) IdentifyRegions(context.Context, target.Target) iter.Seq2[region.Region, error] {
	return func(yield func(region.Region, error) bool) {
		for _, r := range p.regions {
			if !yield(r, nil) {
				return
			}
		}
		if p.err != nil {
			yield(nil, p.err)
		}
	}
}

// failingRegion reports an error for its children.
type failingRegion struct {
	region.Span
	err error
}

func (f *failingRegion) Description() string { return "failing" }

func (f *failingRegion) SubRegions(context.Context) ([]region.Region, error) { return nil, f.err }

func leaf(base, size uint64, label string) *region.Leaf {
	return region.NewLeaf(address.New64(base), size, label)
}

func build(t *testing.T, tgt target.Target, providers ...provider.Provider) *addrmap.Map {
	t.Helper()
	m, err := addrmap.Build(context.Background(), tgt, providers, addrmap.DefaultBuildConfig())
	require.NoError(t, err)
	return m
}

func TestBuild_ModuleAndPrivateAllocation(t *testing.T) {
	snap := snapshot.New(false).
		Commit(0x1000, 0x1000, target.MemImage).
		Commit(0x5000, 0x2000, target.MemPrivate).
		AddNativeModule(target.NativeModule{Name: "mod", Base: 0x1000, Size: 0x1000})

	m := build(t, snap, provider.NewModuleProvider())

	rs := m.Regions()
	testutil.AssertSpans(t, []testutil.Span{{Base: 0x1000, Size: 0x1000}, {Base: 0x5000, Size: 0x2000}}, rs)
	assert.IsType(t, &provider.NativeModuleRegion{}, rs[0])
	assert.IsType(t, &addrmap.VirtualAllocRegion{}, rs[1])
	assert.Equal(t, addrmap.Stats{ProviderRegions: 1, ScannedAllocations: 2, Synthesized: 1}, m.Stats())
	assert.False(t, m.Is32Bit())
}

func TestBuild_MergesRangesOfOneAllocation(t *testing.T) {
	snap := snapshot.New(false).
		AddRegion(target.MemoryInfo{AllocationBase: 0x20000, BaseAddress: 0x20000, RegionSize: 0x1000,
			State: target.MemCommit, Protect: target.PageReadWrite, Type: target.MemPrivate}).
		AddRegion(target.MemoryInfo{AllocationBase: 0x20000, BaseAddress: 0x21000, RegionSize: 0x3000,
			State: target.MemReserve, Type: target.MemPrivate}).
		Commit(0x24000, 0x1000, target.MemMapped)

	m := build(t, snap)
	rs := m.Regions()
	testutil.AssertSpans(t, []testutil.Span{{Base: 0x20000, Size: 0x4000}, {Base: 0x24000, Size: 0x1000}}, rs)
	assert.Equal(t, "VirtualAlloc 00000000`00020000 - 00000000`00024000  MEM_PRIVATE  <unknown>", rs[0].Description())

	children, err := rs[0].SubRegions(context.Background())
	require.NoError(t, err)
	testutil.AssertSpans(t, []testutil.Span{{Base: 0x20000, Size: 0x1000}, {Base: 0x21000, Size: 0x3000}}, children)
	sub := children[1].(*addrmap.VirtualAllocSubRegion)
	assert.Equal(t, target.MemReserve, sub.State)
	assert.Contains(t, children[0].Description(), "MEM_COMMIT PAGE_READWRITE")
}

func TestBuild_CoveredAllocationNotSynthesized(t *testing.T) {
	snap := snapshot.New(false).
		Commit(0x10000, 0x1000, target.MemPrivate).
		Commit(0x11000, 0x1000, target.MemPrivate).
		Commit(0x30000, 0x4000, target.MemPrivate)

	big := leaf(0x10000, 0x10000, "covers two allocations")
	small := leaf(0x30000, 0x1000, "partial")
	m := build(t, snap, &fakeProvider{name: "fake", regions: []region.Region{small, big}})

	rs := m.Regions()
	testutil.AssertSpans(t, []testutil.Span{
		{Base: 0x10000, Size: 0x10000},
		{Base: 0x30000, Size: 0x1000},
		{Base: 0x30000, Size: 0x4000},
	}, rs)
	assert.Same(t, small, rs[1])
	assert.Equal(t, 1, m.Stats().Synthesized)

	synth := rs[2]
	assert.IsType(t, &addrmap.VirtualAllocRegion{}, synth)
	assert.Same(t, synth, m.TopLevel(0x30800))
	assert.Same(t, synth, m.TopLevel(0x32000))
	assert.Same(t, big, m.TopLevel(0x11800))
	assert.Nil(t, m.TopLevel(0x20000))
}

func TestRegionsContaining_PartiallyCoveredAllocation(t *testing.T) {
	snap := snapshot.New(false).
		AddRegion(target.MemoryInfo{AllocationBase: 0x30000, BaseAddress: 0x30000, RegionSize: 0x1000,
			State: target.MemCommit, Protect: target.PageReadWrite, Type: target.MemPrivate}).
		AddRegion(target.MemoryInfo{AllocationBase: 0x30000, BaseAddress: 0x31000, RegionSize: 0x2000,
			State: target.MemReserve, Type: target.MemPrivate})

	committed := leaf(0x30000, 0x1000, "committed part")
	m := build(t, snap, &fakeProvider{name: "fake", regions: []region.Region{committed}})
	require.Equal(t, 1, m.Stats().Synthesized)

	stack, err := m.RegionsContaining(context.Background(), 0x30800)
	require.NoError(t, err)
	require.Len(t, stack, 2)
	assert.IsType(t, &addrmap.VirtualAllocRegion{}, stack[0])
	assert.Equal(t, uint64(0x30000), stack[0].BaseAddress().Value())
	assert.Equal(t, uint64(0x3000), stack[0].Size())
	assert.Same(t, committed, stack[1])

	stack, err = m.RegionsContaining(context.Background(), 0x32000)
	require.NoError(t, err)
	require.NotEmpty(t, stack)
	assert.IsType(t, &addrmap.VirtualAllocRegion{}, stack[0])
	for _, r := range stack[1:] {
		assert.NotSame(t, committed, r)
	}
}

func TestBuild_StopsAt32BitLimit(t *testing.T) {
	newSnap := func() *snapshot.Snapshot {
		return snapshot.New(true).
			Commit(0x10000, 0x1000, target.MemPrivate).
			Commit(0x1_0000_0000, 0x1000, target.MemPrivate)
	}

	m := build(t, newSnap())
	testutil.AssertSpans(t, []testutil.Span{{Base: 0x10000, Size: 0x1000}}, m.Regions())
	assert.True(t, m.Is32Bit())

	cfg := addrmap.DefaultBuildConfig()
	cfg.StopAt32BitLimit = false
	m, err := addrmap.Build(context.Background(), newSnap(), nil, cfg)
	require.NoError(t, err)
	testutil.AssertSpans(t, []testutil.Span{
		{Base: 0x10000, Size: 0x1000},
		{Base: 0x1_0000_0000, Size: 0x1000},
	}, m.Regions())
	assert.Equal(t, "00000001`00000000", m.Regions()[1].BaseAddress().String())
}

func TestBuild_QueryFailureEndsScan(t *testing.T) {
	snap := snapshot.New(false).
		Commit(0x10000, 0x1000, target.MemPrivate).
		Commit(0x50000, 0x1000, target.MemPrivate).
		SetQueryLimit(0x40000)

	m := build(t, snap)
	testutil.AssertSpans(t, []testutil.Span{{Base: 0x10000, Size: 0x1000}}, m.Regions())
}

func TestBuild_Idempotent(t *testing.T) {
	snap := snapshot.New(false).
		Commit(0x1000, 0x1000, target.MemImage).
		Commit(0x5000, 0x2000, target.MemPrivate).
		AddNativeModule(target.NativeModule{Name: "mod", Base: 0x1000, Size: 0x1000})

	a := build(t, snap, provider.NewModuleProvider())
	b := build(t, snap, provider.NewModuleProvider())
	require.Equal(t, a.Len(), b.Len())
	for i, r := range a.Regions() {
		other := b.Regions()[i]
		assert.True(t, region.Equal(r, other))
		assert.NotSame(t, r, other)
	}
}

func TestBuild_ProviderErrors(t *testing.T) {
	snap := snapshot.New(false).Commit(0x10000, 0x1000, target.MemPrivate)
	failing := &fakeProvider{
		name:    "broken",
		regions: []region.Region{leaf(0x10000, 0x1000, "before failure")},
		err:     apperrors.SymbolsUnavailable("ntdll", "_HEAP"),
	}

	m := build(t, snap, failing)
	require.Len(t, m.ProviderErrors(), 1)
	pe := m.ProviderErrors()[0]
	assert.Equal(t, "broken", pe.Provider)
	assert.True(t, apperrors.IsSymbolsUnavailable(pe))
	// Regions yielded before the failure are kept.
	assert.Equal(t, "before failure", m.Regions()[0].Description())

	_, err := addrmap.Build(context.Background(), snap, []provider.Provider{failing},
		addrmap.DefaultBuildConfig().WithStrictProviders(true))
	assert.True(t, apperrors.IsSymbolsUnavailable(err))
}

func TestBuild_Canceled(t *testing.T) {
	snap := snapshot.New(false).Commit(0x10000, 0x1000, target.MemPrivate)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := addrmap.Build(ctx, snap, nil, addrmap.DefaultBuildConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegionsContaining_Module(t *testing.T) {
	snap := snapshot.New(false).
		Commit(0x400000, 0x3000, target.MemImage).
		AddNativeModule(target.NativeModule{
			Name: "app", Base: 0x400000, Size: 0x3000,
			Sections: []target.SectionHeader{{Name: ".text", VirtualAddress: 0x1000, VirtualSize: 0x1000}},
		})
	m := build(t, snap, provider.NewModuleProvider())

	stack, err := m.RegionsContaining(context.Background(), 0x401234)
	require.NoError(t, err)
	assert.Equal(t, []string{"00000000`00400000 - 00000000`00403000 app", "app .text"}, testutil.Descriptions(stack))

	stack, err = m.RegionsContaining(context.Background(), 0x400010)
	require.NoError(t, err)
	assert.Len(t, stack, 1)

	stack, err = m.RegionsContaining(context.Background(), 0x900000)
	require.NoError(t, err)
	assert.Empty(t, stack)
}

func TestRegionsContaining_SynthesizedRegionIsOutermost(t *testing.T) {
	snap := snapshot.New(false).
		Commit(0x5000, 0x2000, target.MemPrivate).
		Commit(0x9000, 0x1000, target.MemMapped)
	m := build(t, snap)

	for _, r := range m.Regions() {
		base, end := r.BaseAddress().Value(), region.End(r).Value()
		for _, a := range []uint64{base, base + (end-base)/2, end - 1} {
			stack, err := m.RegionsContaining(context.Background(), a)
			require.NoError(t, err)
			require.NotEmpty(t, stack)
			assert.Same(t, r, stack[0])
		}
	}
}

func TestRegionsContaining_ChildFailure(t *testing.T) {
	snap := snapshot.New(false)
	boom := errors.New("boom")
	f := &failingRegion{Span: region.Span{Base: address.New64(0x10000), Length: 0x1000}, err: boom}
	m := build(t, snap, &fakeProvider{name: "fake", regions: []region.Region{f}})

	stack, err := m.RegionsContaining(context.Background(), 0x10010)
	assert.ErrorIs(t, err, boom)
	require.Len(t, stack, 1)
	assert.Same(t, f, stack[0])
}

func TestRegionsContaining_HeapEntries(t *testing.T) {
	ht := testutil.NewHeapTarget(false)
	h := ht.AddHeap(0x100000, 0x10000, 0x1122334455667788)
	seg := h.AddSegment(0x100000, 0x100000, 0x100800, 0x110000)
	seg.WriteEntry(0x100808, heap.Entry{Size: 4, Flags: heap.FlagBusy, UnusedBytes: 0x10})
	seg.AddUCR(0x100838, 0x101000, 0)

	m := build(t, ht, provider.NewModuleProvider(), provider.NewNativeHeapProvider(nil))
	testutil.AssertSortedDisjoint(t, m.Regions())

	// The heap segment covers its allocation; the TEB/PEB block does not
	// belong to any provider.
	testutil.AssertSpans(t, []testutil.Span{
		{Base: 0x100000, Size: 0x10000},
		{Base: testutil.TEBAddress, Size: 0x2000},
	}, m.Regions())

	stack, err := m.RegionsContaining(context.Background(), 0x100818)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Default Heap Segment",
		"Default Heap Entry (0x10 bytes)",
		"Default Heap Entry Body (10)",
	}, testutil.Descriptions(stack))
}

func TestBuild_ProvidersCalledOnceWithTarget(t *testing.T) {
	snap := snapshot.New(false).Commit(0x10000, 0x1000, target.MemPrivate)
	ok := &mock.MockProvider{}
	ok.ExpectIdentifyRegions([]region.Region{leaf(0x10000, 0x1000, "ok")}, nil).Once()
	broken := &mock.MockProvider{}
	broken.ExpectName("broken")
	broken.On("IdentifyRegions", testifymock.Anything, snap).Return(nil, errors.New("boom")).Once()

	m, err := addrmap.Build(context.Background(), snap, []provider.Provider{ok, broken}, addrmap.DefaultBuildConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, testutil.Descriptions(m.Regions()))
	require.Len(t, m.ProviderErrors(), 1)
	assert.Equal(t, "broken", m.ProviderErrors()[0].Provider)

	ok.AssertExpectations(t)
	broken.AssertExpectations(t)
}
