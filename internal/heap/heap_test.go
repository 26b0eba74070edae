package heap_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mem-analysis/internal/heap"
	"github.com/mem-analysis/internal/region"
	"github.com/mem-analysis/internal/target"
	"github.com/mem-analysis/internal/testutil"
	apperrors "github.com/mem-analysis/pkg/errors"
)

const (
	heapBase   = 0x100000
	heapSize   = 0x10000
	encoding   = 0x0123_4567_89ab_cdef
	firstEntry = 0x100800
	lfhKey     = 0xA5A5_0F0F
	subSegment = 0x10f000
)

// buildHeap lays out one 64-bit heap whose segment holds, in order: a busy
// entry, a free entry, an LFH sub-segment, an internal non-LFH entry, an
// uncommitted range, one more busy entry and a terminating zero-sized
// uncommitted range.
func buildHeap(t *testing.T, opts ...testutil.HeapTargetOption) (*testutil.HeapTarget, *testutil.FixtureHeap) {
	t.Helper()
	ht := testutil.NewHeapTarget(false, append([]testutil.HeapTargetOption{testutil.WithLFHKey(lfhKey)}, opts...)...)
	h := ht.AddHeap(heapBase, heapSize, encoding)
	seg := h.AddSegment(heapBase, heapBase, firstEntry, heapBase+heapSize)

	seg.WriteEntry(0x100808, heap.Entry{Size: 4, Flags: heap.FlagBusy, UnusedBytes: 0x10})
	seg.WriteEntry(0x100830, heap.Entry{Size: 2})
	seg.WriteEntry(0x100848, heap.Entry{Size: 0x20, Flags: heap.FlagBusy | heap.FlagInternal, UnusedBytes: 8})
	seg.WriteLFH(0x100850, testutil.LFHSpec{
		SubSegment:       subSegment,
		UserBlocks:       0x100850,
		BlockSize:        2,
		BlockCount:       3,
		FirstBlockOffset: 0x40,
		LFHKey:           lfhKey,
		Unused:           []uint8{0x0A, 0x00, 0xC3},
	})
	seg.WriteEntry(0x100950, heap.Entry{Size: 4, Flags: heap.FlagBusy | heap.FlagInternal, UnusedBytes: 8})
	seg.AddUCR(0x100980, 0x101000, 0x3000)
	seg.WriteEntry(0x104008, heap.Entry{Size: 2, Flags: heap.FlagBusy, UnusedBytes: 8})
	seg.AddUCR(0x104028, 0x105000, 0)
	return ht, h
}

func openDefault(t *testing.T, ht *testutil.HeapTarget) *heap.Heap {
	t.Helper()
	heaps, err := heap.NewParser(ht, nil).Heaps(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, heaps)
	return heaps[0]
}

func bases(rs []region.Region) []uint64 {
	out := make([]uint64, len(rs))
	for i, r := range rs {
		out[i] = r.BaseAddress().Value()
	}
	return out
}

func TestParser_ProcessHeaps(t *testing.T) {
	ht, _ := buildHeap(t)
	ht.AddHeap(0x120000, 0x1000, 0)

	got, err := heap.NewParser(ht, nil).ProcessHeaps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{heapBase, 0x120000}, got)
}

func TestParser_OpenHeap(t *testing.T) {
	ht, h := buildHeap(t)
	ht.Commit(0x200000, 0x6000, target.MemPrivate)
	h.AddVirtualAllocBlock(0x200000, 0x5000)

	hp := openDefault(t, ht)
	assert.Equal(t, "Default Heap", hp.Name)
	assert.Equal(t, uint64(encoding), hp.Encoding)
	require.Len(t, hp.Segments, 1)
	seg := hp.Segments[0]
	assert.Equal(t, uint64(heapBase), seg.BaseAddress().Value())
	assert.Equal(t, uint64(heapSize), seg.Size())
	assert.Equal(t, "Default Heap Segment", seg.Description())

	require.Len(t, hp.VirtualAllocBlocks, 1)
	va := hp.VirtualAllocBlocks[0]
	assert.Equal(t, uint64(0x200000), va.BaseAddress().Value())
	assert.Equal(t, uint64(0x5000), va.Size())
	assert.Equal(t, "Default Heap VirtualAllocBlock", va.Description())

	assert.Len(t, hp.Regions(), 2)
}

func TestSegment_Entries(t *testing.T) {
	ht, _ := buildHeap(t)
	seg := openDefault(t, ht).Segments[0]

	entries, err := seg.SubRegions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x100808, 0x100830, 0x100848, 0x100950, 0x104008}, bases(entries))

	first := entries[0].(*heap.EntryRegion)
	assert.Equal(t, uint64(32), first.Size())
	assert.Equal(t, "Default Heap Entry (0x10 bytes)", first.Description())
	assert.True(t, first.Entry().Busy())

	for _, e := range entries {
		assert.True(t, region.Contains(seg, e.BaseAddress().Value()))
	}
}

func TestSegment_ChildrenCached(t *testing.T) {
	ht, _ := buildHeap(t)
	seg := openDefault(t, ht).Segments[0]

	a, err := seg.SubRegions(context.Background())
	require.NoError(t, err)
	b, err := seg.SubRegions(context.Background())
	require.NoError(t, err)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Same(t, a[i], b[i])
	}
}

func TestSegment_StreamCancel(t *testing.T) {
	ht, _ := buildHeap(t)
	seg := openDefault(t, ht).Segments[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got []region.Region
	var streamErr error
	for r, err := range seg.StreamSubRegions(ctx) {
		if err != nil {
			streamErr = err
			break
		}
		got = append(got, r)
		cancel()
	}
	assert.Len(t, got, 1)
	assert.ErrorIs(t, streamErr, context.Canceled)

	all, err := seg.SubRegions(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestEntryRegion_Children(t *testing.T) {
	ht, _ := buildHeap(t)
	seg := openDefault(t, ht).Segments[0]
	entries, err := seg.SubRegions(context.Background())
	require.NoError(t, err)

	type leaf struct {
		base uint64
		size uint64
		desc string
	}
	flatten := func(r region.Region) []leaf {
		children, err := r.SubRegions(context.Background())
		require.NoError(t, err)
		out := make([]leaf, len(children))
		for i, c := range children {
			out[i] = leaf{c.BaseAddress().Value(), c.Size(), c.Description()}
		}
		return out
	}

	t.Run("busy entry", func(t *testing.T) {
		assert.Equal(t, []leaf{
			{0x100808, 8, "Default Heap Entry Header"},
			{0x100810, 16, "Default Heap Entry Body (10)"},
		}, flatten(entries[0]))
	})

	t.Run("free entry", func(t *testing.T) {
		assert.Equal(t, []leaf{
			{0x100830, 8, "Default Heap Entry Header (free)"},
			{0x100838, 8, "Default Heap Entry Body (8)"},
		}, flatten(entries[1]))
	})

	t.Run("lfh sub-segment", func(t *testing.T) {
		assert.Equal(t, []leaf{
			{0x100848, 8, "Default Heap Entry Header (internal)"},
			{0x100850, 0x40, "Default Heap LFH Block Header"},
			{0x100890, 8, "Default Heap LFH Entry Header"},
			{0x100898, 6, "Default Heap LFH Entry Body (0x6 bytes)"},
			{0x1008a0, 8, "Default Heap LFH Entry Header (free)"},
			{0x1008a8, 8, "Default Heap LFH Entry Body (0x8 bytes)"},
			{0x1008b0, 8, "Default Heap LFH Entry Header"},
			{0x1008b8, 8, "Default Heap LFH Entry Body (0x8 bytes)"},
		}, flatten(entries[2]))
	})

	t.Run("internal data", func(t *testing.T) {
		assert.Equal(t, []leaf{
			{0x100950, 8, "Default Heap Entry Header (internal)"},
			{0x100958, 24, "Default Heap Internal Data"},
		}, flatten(entries[3]))
	})
}

func TestEntryRegion_LFHWithoutEncodedOffsets(t *testing.T) {
	ht := testutil.NewHeapTarget(false, testutil.WithoutEncodedOffsets())
	h := ht.AddHeap(heapBase, heapSize, encoding)
	seg := h.AddSegment(heapBase, heapBase, firstEntry, heapBase+heapSize)
	seg.WriteEntry(0x100808, heap.Entry{Size: 0x10, Flags: heap.FlagBusy | heap.FlagInternal, UnusedBytes: 8})
	seg.WriteLFH(0x100810, testutil.LFHSpec{
		SubSegment:       subSegment,
		UserBlocks:       0x100810,
		BlockSize:        2,
		BlockCount:       2,
		FirstBlockOffset: uint16(ht.L.UDHSize),
		Unused:           []uint8{0x08, 0x10},
	})
	seg.AddUCR(0x100898, 0x101000, 0)

	entries, err := openDefault(t, ht).Segments[0].SubRegions(context.Background())
	require.NoError(t, err)
	children, err := entries[0].SubRegions(context.Background())
	require.NoError(t, err)

	require.Len(t, children, 2+3)
	assert.Equal(t, uint64(0x100810), children[1].BaseAddress().Value())
	assert.Equal(t, ht.L.UDHSize, children[1].Size())
	// Second block's unused count equals the block size: header only.
	assert.Equal(t, "Default Heap LFH Entry Header", children[4].Description())
}

func TestEntryRegion_ZeroBlockSize(t *testing.T) {
	ht := testutil.NewHeapTarget(false)
	h := ht.AddHeap(heapBase, heapSize, encoding)
	seg := h.AddSegment(heapBase, heapBase, firstEntry, heapBase+heapSize)
	seg.WriteEntry(0x100808, heap.Entry{Size: 0x10, Flags: heap.FlagBusy | heap.FlagInternal})
	seg.WriteLFH(0x100810, testutil.LFHSpec{SubSegment: subSegment, UserBlocks: 0x100810, BlockCount: 5, FirstBlockOffset: 0x40})
	seg.AddUCR(0x100898, 0x101000, 0)

	entries, err := openDefault(t, ht).Segments[0].SubRegions(context.Background())
	require.NoError(t, err)
	children, err := entries[0].SubRegions(context.Background())
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestSegment_ReadFailureEndsWalk(t *testing.T) {
	ht := testutil.NewHeapTarget(false)
	h := ht.AddHeap(heapBase, 0x1000, encoding)
	seg := h.AddSegment(heapBase, heapBase, firstEntry, heapBase+0x4000)
	seg.WriteEntry(0x100808, heap.Entry{Size: 0xfe, Flags: heap.FlagBusy, UnusedBytes: 8})

	entries, err := openDefault(t, ht).Segments[0].SubRegions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x100808}, bases(entries))
}

func TestSegment_ZeroSizeEntryIsStructureError(t *testing.T) {
	ht := testutil.NewHeapTarget(false)
	h := ht.AddHeap(heapBase, heapSize, encoding)
	seg := h.AddSegment(heapBase, heapBase, firstEntry, heapBase+heapSize)
	seg.WriteEntry(0x100808, heap.Entry{Size: 2, Flags: heap.FlagBusy})
	seg.WriteEntry(0x100820, heap.Entry{Size: 0, Flags: heap.FlagBusy})

	s := openDefault(t, ht).Segments[0]
	_, err := s.SubRegions(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsStructureError(err))
}

func TestSegment_UCRZeroSizeStops(t *testing.T) {
	ht := testutil.NewHeapTarget(false)
	h := ht.AddHeap(heapBase, heapSize, encoding)
	seg := h.AddSegment(heapBase, heapBase, firstEntry, heapBase+heapSize)
	seg.AddUCR(0x100810, 0x101000, 0)
	seg.WriteEntry(0x100820, heap.Entry{Size: 2, Flags: heap.FlagBusy})

	entries, err := openDefault(t, ht).Segments[0].SubRegions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParser_MissingTypes(t *testing.T) {
	for _, name := range []string{heap.TypeHeap, heap.TypeSegment, heap.TypeUCR, heap.TypeUserData, heap.TypeSubSegment} {
		t.Run(name, func(t *testing.T) {
			ht := testutil.NewHeapTarget(false, testutil.WithoutType(name))
			ht.AddHeap(heapBase, heapSize, encoding)

			_, err := heap.NewParser(ht, nil).Heaps(context.Background())
			require.Error(t, err)
			assert.True(t, apperrors.IsSymbolsUnavailable(err))
		})
	}
}

func TestParser_SegmentListCycle(t *testing.T) {
	ht := testutil.NewHeapTarget(false)
	h := ht.AddHeap(heapBase, heapSize, encoding)
	h.AddSegment(heapBase, heapBase, firstEntry, heapBase+0x8000)
	h.AddSegment(0x108000, 0x108000, 0x108100, heapBase+heapSize)
	// Point the second segment's link back at the first instead of the head.
	ht.WritePointer(0x108000+ht.L.SegListEntry, heapBase+ht.L.SegListEntry)

	_, err := heap.NewParser(ht, nil).Heaps(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsStructureError(err))
}

func TestParser_HeapNames(t *testing.T) {
	ht, _ := buildHeap(t)
	ht.AddHeap(0x120000, 0x1000, 0)
	ht.AddHeap(0x130000, 0x1000, 0)
	ht.AddHeap(0x140000, 0x1000, 0)

	ht.Commit(0x400000, 0x3000, target.MemImage)
	ht.AddNativeModule(target.NativeModule{
		Name: "app", Base: 0x400000, Size: 0x3000, HasSymbols: true,
		Sections: []target.SectionHeader{{Name: ".data", VirtualAddress: 0x2000, VirtualSize: 0x1000}},
	})
	ht.WritePointer(0x402010, 0x120000)
	ht.AddSymbol("app!g_myHeap", 0x402010)

	ht.Commit(0x500000, 0x2000, target.MemImage)
	ht.AddNativeModule(target.NativeModule{
		Name: "nosym", Base: 0x500000, Size: 0x2000,
		Sections: []target.SectionHeader{{Name: ".data", VirtualAddress: 0x1000, VirtualSize: 0x800}},
	})
	ht.WritePointer(0x501020, 0x130000)

	heaps, err := heap.NewParser(ht, nil).Heaps(context.Background())
	require.NoError(t, err)
	require.Len(t, heaps, 4)
	assert.Equal(t, "Default Heap", heaps[0].Name)
	assert.Equal(t, "app!g_myHeap", heaps[1].Name)
	assert.Equal(t, "nosym!1020", heaps[2].Name)
	assert.Equal(t, "Heap 00000000`00140000", heaps[3].Name)
}

func TestParser_UnreadableHeapSkipped(t *testing.T) {
	ht, _ := buildHeap(t)
	ht.AddHeapPointer(0x900000)
	ht.AddHeap(0x120000, 0x1000, 0)

	heaps, err := heap.NewParser(ht, nil).Heaps(context.Background())
	require.NoError(t, err)
	require.Len(t, heaps, 2)
	assert.Equal(t, "Default Heap", heaps[0].Name)
	assert.Equal(t, uint64(heapBase), heaps[0].Base.Value())
	assert.Equal(t, uint64(0x120000), heaps[1].Base.Value())
}

func TestParser_32Bit(t *testing.T) {
	ht := testutil.NewHeapTarget(true)
	h := ht.AddHeap(0x300000, 0x4000, 0x5a5a5a5a)
	seg := h.AddSegment(0x300000, 0x300000, 0x300400, 0x304000)
	seg.WriteEntry(0x300400, heap.Entry{Size: 4, Flags: heap.FlagBusy, UnusedBytes: 0xc})
	seg.WriteEntry(0x300420, heap.Entry{Size: 2})
	seg.AddUCR(0x300438, 0x301000, 0)

	hp := openDefault(t, ht)
	require.Len(t, hp.Segments, 1)
	assert.True(t, hp.Segments[0].BaseAddress().Is32Bit())

	entries, err := hp.Segments[0].SubRegions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x300400, 0x300420}, bases(entries))
	assert.Equal(t, "Default Heap Entry (0x14 bytes)", entries[0].Description())
}
