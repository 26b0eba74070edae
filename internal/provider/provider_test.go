package provider_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mem-analysis/internal/heap"
	"github.com/mem-analysis/internal/provider"
	"github.com/mem-analysis/internal/region"
	"github.com/mem-analysis/internal/target"
	"github.com/mem-analysis/internal/target/snapshot"
	"github.com/mem-analysis/internal/testutil"
	apperrors "github.com/mem-analysis/pkg/errors"
)

func collect(t *testing.T, p provider.Provider, tgt target.Target) []region.Region {
	t.Helper()
	rs, err := region.Collect(context.Background(), p.IdentifyRegions(context.Background(), tgt))
	require.NoError(t, err)
	return rs
}

func TestNew(t *testing.T) {
	ps, err := provider.NewAll(provider.AllNames, nil)
	require.NoError(t, err)
	require.Len(t, ps, 3)
	for i, p := range ps {
		assert.Equal(t, provider.AllNames[i], p.Name())
	}

	_, err = provider.New("bogus", nil)
	assert.Error(t, err)
}

func TestModuleProvider_NativeModules(t *testing.T) {
	snap := snapshot.New(false).
		AddNativeModule(target.NativeModule{
			Name: "app",
			Base: 0x400000,
			Size: 0x3000,
			Sections: []target.SectionHeader{
				{Name: ".text", VirtualAddress: 0x1000, VirtualSize: 0x800},
				{Name: ".bss", VirtualAddress: 0x2000},
				{Name: ".data", VirtualAddress: 0x2000, VirtualSize: 0x200},
			},
		}).
		AddNativeModule(target.NativeModule{Name: "empty", Base: 0x900000})

	rs := collect(t, provider.NewModuleProvider(), snap)
	require.Len(t, rs, 1)
	m := rs[0]
	assert.Equal(t, "00000000`00400000 - 00000000`00403000 app", m.Description())

	children, err := m.SubRegions(context.Background())
	require.NoError(t, err)
	testutil.AssertSpans(t, []testutil.Span{
		{Base: 0x401000, Size: 0x800},
		{Base: 0x402000, Size: 0x200},
	}, children)
	assert.Equal(t, []string{"app .text", "app .data"}, testutil.Descriptions(children))
}

func TestModuleProvider_Wow64Skip(t *testing.T) {
	snap := snapshot.New(true).
		AddNativeModule(target.NativeModule{Name: "wow64", Base: 0x7ff_0000_0000, Size: 0x1000}).
		AddNativeModule(target.NativeModule{Name: "app32", Base: 0x400000, Size: 0x1000})

	rs := collect(t, provider.NewModuleProvider(), snap)
	require.Len(t, rs, 1)
	assert.Equal(t, "00400000 - 00401000 app32", rs[0].Description())
}

func TestModuleProvider_ManagedDedup(t *testing.T) {
	snap := snapshot.New(false).
		AddNativeModule(target.NativeModule{Name: "System_Private_CoreLib", Base: 0x10000000, Size: 0x1000}).
		AddNativeModule(target.NativeModule{Name: "mscorlib_ni", Base: 0x20000000, Size: 0x1000}).
		AddManagedModule(target.ManagedModule{Name: `C:\rt\System.Private.CoreLib.dll`, ImageBase: 0x10000000, Size: 0x1000}).
		AddManagedModule(target.ManagedModule{Name: `C:\fw\mscorlib.dll`, ImageBase: 0x20000000, Size: 0x1000}).
		AddManagedModule(target.ManagedModule{Name: "dynamic", ImageBase: 0, Size: 0x1000}).
		AddManagedModule(target.ManagedModule{Name: `C:\app\Plugin.dll`, ImageBase: 0x30000000, Size: 0x2000}).
		AddManagedModule(target.ManagedModule{Name: `C:\app\Plugin.dll`, ImageBase: 0x30000000, Size: 0x2000})

	rs := collect(t, provider.NewModuleProvider(), snap)
	require.Len(t, rs, 3)
	mr, ok := rs[2].(*provider.ManagedModuleRegion)
	require.True(t, ok)
	assert.Equal(t, `C:\app\Plugin.dll`, mr.ModuleName())
	assert.Equal(t, uint64(0x2000), mr.Size())
}

func TestManagedNameCandidates(t *testing.T) {
	assert.Equal(t,
		[]string{`C:\x\Foo.Bar.dll`, "Foo.Bar.dll", "Foo.Bar", "Foo_Bar", "Foo_Bar_ni"},
		provider.ManagedNameCandidates(`C:\x\Foo.Bar.dll`))
}

func TestManagedHeapProvider(t *testing.T) {
	snap := snapshot.New(false).
		AddManagedHeapRegion(target.ManagedHeapRegion{Address: 0x2001000, Size: 0xF000, Kind: target.GCSegment}).
		AddManagedHeapRegion(target.ManagedHeapRegion{Address: 0x3000100, Size: 0x100, Kind: "LoaderHeap"}).
		AddManagedHeapRegion(target.ManagedHeapRegion{Address: 0x4000000, Size: 0, Kind: "Stub"})

	rs := collect(t, provider.NewManagedHeapProvider(), snap)
	testutil.AssertSpans(t, []testutil.Span{
		{Base: 0x2000000, Size: 0x10000},
		{Base: 0x3000100, Size: 0x100},
	}, rs)
	assert.Equal(t, []string{"CLR GCSegment", "CLR LoaderHeap"}, testutil.Descriptions(rs))
}

func TestNativeHeapProvider(t *testing.T) {
	ht := testutil.NewHeapTarget(false)
	h := ht.AddHeap(0x100000, 0x10000, 0)
	seg := h.AddSegment(0x100000, 0x100000, 0x100800, 0x110000)
	seg.WriteEntry(0x100808, heap.Entry{Size: 2, Flags: heap.FlagBusy, UnusedBytes: 8})
	seg.AddUCR(0x100828, 0x101000, 0)
	ht.Commit(0x200000, 0x2000, target.MemPrivate)
	h.AddVirtualAllocBlock(0x200000, 0x2000)

	rs := collect(t, provider.NewNativeHeapProvider(nil), ht)
	require.Len(t, rs, 2)
	assert.Equal(t, "Default Heap Segment", rs[0].Description())
	assert.Equal(t, "Default Heap VirtualAllocBlock", rs[1].Description())
}

func TestNativeHeapProvider_UnreadableHeap(t *testing.T) {
	ht := testutil.NewHeapTarget(false)
	h := ht.AddHeap(0x100000, 0x10000, 0)
	h.AddSegment(0x100000, 0x100000, 0x100800, 0x110000).AddUCR(0x100810, 0x101000, 0)
	ht.AddHeapPointer(0x900000)

	rs := collect(t, provider.NewNativeHeapProvider(nil), ht)
	require.Len(t, rs, 1)
	assert.Equal(t, "Default Heap Segment", rs[0].Description())
}

func TestNativeHeapProvider_MissingSymbols(t *testing.T) {
	ht := testutil.NewHeapTarget(false, testutil.WithoutType(heap.TypeHeap))
	ht.AddHeap(0x100000, 0x10000, 0)

	var gotErr error
	for _, err := range provider.NewNativeHeapProvider(nil).IdentifyRegions(context.Background(), ht) {
		gotErr = err
	}
	assert.True(t, apperrors.IsSymbolsUnavailable(gotErr))
}
