package testutil

import (
	"github.com/mem-analysis/internal/heap"
	"github.com/mem-analysis/internal/target"
	"github.com/mem-analysis/internal/target/snapshot"
)

// Fixed addresses of the thread and process blocks in a HeapTarget.
const (
	TEBAddress        = 0x7000_0000
	PEBAddress        = 0x7000_1000
	heapArrayAddress  = 0x7000_1800
	processBlocksSize = 0x2000
)

// Layout is the set of struct offsets a HeapTarget writes with.
type Layout struct {
	Ptr uint64

	ListEntrySize uint64
	HeaderOffset  uint64

	TEBPeb         uint64
	PEBNumHeaps    uint64
	PEBHeapsArray  uint64
	HeapEncoding   uint64
	HeapVABlocks   uint64
	HeapSegList    uint64
	SegListEntry   uint64
	SegBase        uint64
	SegFirstEntry  uint64
	SegLastValid   uint64
	SegUCRList     uint64
	UCRAddress     uint64
	UCRSize        uint64
	UDHSubSegment  uint64
	UDHSignature   uint64
	UDHEncodedOffs uint64
	UDHSize        uint64
	SubUserBlocks  uint64
	SubBlockSize   uint64
	SubBlockCount  uint64
	VACommitSize   uint64
}

// Layout64 mirrors the x64 ntdll structures.
var Layout64 = Layout{
	Ptr: 8, ListEntrySize: 0x10, HeaderOffset: 8,
	TEBPeb: 0x60, PEBNumHeaps: 0xe8, PEBHeapsArray: 0xf0,
	HeapEncoding: 0x80, HeapVABlocks: 0x110, HeapSegList: 0x120,
	SegListEntry: 0x18, SegBase: 0x30, SegFirstEntry: 0x40, SegLastValid: 0x48, SegUCRList: 0x60,
	UCRAddress: 0x20, UCRSize: 0x28,
	UDHSubSegment: 0, UDHSignature: 0x14, UDHEncodedOffs: 0x18, UDHSize: 0x38,
	SubUserBlocks: 0x8, SubBlockSize: 0x28, SubBlockCount: 0x2c,
	VACommitSize: 0x20,
}

// Layout32 mirrors the x86 ntdll structures.
var Layout32 = Layout{
	Ptr: 4, ListEntrySize: 0x8, HeaderOffset: 0,
	TEBPeb: 0x30, PEBNumHeaps: 0x88, PEBHeapsArray: 0x90,
	HeapEncoding: 0x50, HeapVABlocks: 0x9c, HeapSegList: 0xa4,
	SegListEntry: 0x10, SegBase: 0x1c, SegFirstEntry: 0x24, SegLastValid: 0x28, SegUCRList: 0x38,
	UCRAddress: 0x10, UCRSize: 0x14,
	UDHSubSegment: 0, UDHSignature: 0xc, UDHEncodedOffs: 0x10, UDHSize: 0x20,
	SubUserBlocks: 0x4, SubBlockSize: 0x18, SubBlockCount: 0x1c,
	VACommitSize: 0x10,
}

// HeapTargetOption adjusts the types a HeapTarget registers.
type HeapTargetOption func(*heapTargetOptions)

type heapTargetOptions struct {
	omit             map[string]bool
	noEncodedOffsets bool
	lfhKey           *uint32
}

// WithoutType leaves a ntdll type unregistered.
func WithoutType(name string) HeapTargetOption {
	return func(o *heapTargetOptions) { o.omit[name] = true }
}

// WithoutEncodedOffsets registers _HEAP_USERDATA_HEADER without the
// EncodedOffsets member, as older ntdll builds do.
func WithoutEncodedOffsets() HeapTargetOption {
	return func(o *heapTargetOptions) { o.noEncodedOffsets = true }
}

// WithLFHKey exports ntdll!RtlpLFHKey with the given value.
func WithLFHKey(key uint32) HeapTargetOption {
	return func(o *heapTargetOptions) { o.lfhKey = &key }
}

// HeapTarget is a snapshot with ntdll heap types, a TEB/PEB pair and helpers
// that lay out encoded heaps byte for byte.
type HeapTarget struct {
	*snapshot.Snapshot
	L     Layout
	heaps []uint64
}

// NewHeapTarget returns a target with no heaps.
func NewHeapTarget(is32 bool, opts ...HeapTargetOption) *HeapTarget {
	o := &heapTargetOptions{omit: make(map[string]bool)}
	for _, opt := range opts {
		opt(o)
	}
	l := Layout64
	if is32 {
		l = Layout32
	}
	ht := &HeapTarget{Snapshot: snapshot.New(is32), L: l}
	ht.Commit(TEBAddress, processBlocksSize, target.MemPrivate)
	ht.SetTEB(TEBAddress)
	ht.WritePointer(TEBAddress+l.TEBPeb, PEBAddress)
	ht.WritePointer(PEBAddress+l.PEBHeapsArray, heapArrayAddress)

	for _, t := range ht.types(o) {
		if !o.omit[t.Name] {
			ht.AddType(t)
		}
	}
	if o.lfhKey != nil {
		const keyAddr = TEBAddress + 0x1f00
		ht.WriteU32(keyAddr, *o.lfhKey)
		ht.AddSymbol(heap.LFHKeySymbol, keyAddr)
	}
	return ht
}

// RegisterType registers the ntdll type name, for targets created
// WithoutType(name) whose symbols become available later.
func (ht *HeapTarget) RegisterType(name string) {
	for _, t := range ht.types(&heapTargetOptions{}) {
		if t.Name == name {
			ht.AddType(t)
		}
	}
}

func (ht *HeapTarget) types(o *heapTargetOptions) []target.TypeLayout {
	l := ht.L
	p := l.Ptr
	mod := heap.NtdllModule
	udhFields := []target.Field{
		{Name: "SubSegment", Offset: l.UDHSubSegment, Size: p},
		{Name: "Signature", Offset: l.UDHSignature, Size: 4},
	}
	if !o.noEncodedOffsets {
		udhFields = append(udhFields, target.Field{Name: "EncodedOffsets", Offset: l.UDHEncodedOffs, Size: 4})
	}
	return []target.TypeLayout{
		{Module: mod, Name: heap.TypeListEntry, Size: l.ListEntrySize, Fields: []target.Field{
			{Name: "Flink", Offset: 0, Size: p}, {Name: "Blink", Offset: p, Size: p},
		}},
		{Module: mod, Name: heap.TypeEntry, Size: l.HeaderOffset + 8, Fields: []target.Field{
			{Name: "AgregateCode", Offset: l.HeaderOffset, Size: 8},
		}},
		{Module: mod, Name: heap.TypeTEB, Size: 0x1000, Fields: []target.Field{
			{Name: "ProcessEnvironmentBlock", Offset: l.TEBPeb, Size: p},
		}},
		{Module: mod, Name: heap.TypePEB, Size: 0x400, Fields: []target.Field{
			{Name: "NumberOfHeaps", Offset: l.PEBNumHeaps, Size: 4},
			{Name: "ProcessHeaps", Offset: l.PEBHeapsArray, Size: p},
		}},
		{Module: mod, Name: heap.TypeHeap, Size: l.HeapSegList + 2*p, Fields: []target.Field{
			{Name: "Encoding", Offset: l.HeapEncoding, Size: l.HeaderOffset + 8},
			{Name: "VirtualAllocdBlocks", Offset: l.HeapVABlocks, Size: l.ListEntrySize},
			{Name: "SegmentList", Offset: l.HeapSegList, Size: l.ListEntrySize},
		}},
		{Module: mod, Name: heap.TypeSegment, Size: l.SegUCRList + l.ListEntrySize, Fields: []target.Field{
			{Name: "SegmentListEntry", Offset: l.SegListEntry, Size: l.ListEntrySize},
			{Name: "BaseAddress", Offset: l.SegBase, Size: p},
			{Name: "FirstEntry", Offset: l.SegFirstEntry, Size: p},
			{Name: "LastValidEntry", Offset: l.SegLastValid, Size: p},
			{Name: "UCRSegmentList", Offset: l.SegUCRList, Size: l.ListEntrySize},
		}},
		{Module: mod, Name: heap.TypeUCR, Size: l.UCRSize + p, Fields: []target.Field{
			{Name: "Address", Offset: l.UCRAddress, Size: p},
			{Name: "Size", Offset: l.UCRSize, Size: p},
		}},
		{Module: mod, Name: heap.TypeUserData, Size: l.UDHSize, Fields: udhFields},
		{Module: mod, Name: heap.TypeSubSegment, Size: l.SubBlockCount + 0x14, Fields: []target.Field{
			{Name: "UserBlocks", Offset: l.SubUserBlocks, Size: p},
			{Name: "BlockSize", Offset: l.SubBlockSize, Size: 2},
			{Name: "BlockCount", Offset: l.SubBlockCount, Size: 2},
		}},
	}
}

func (ht *HeapTarget) writeProcessHeaps() {
	ht.WriteU32(PEBAddress+ht.L.PEBNumHeaps, uint32(len(ht.heaps)))
	for i, h := range ht.heaps {
		ht.WritePointer(heapArrayAddress+uint64(i)*ht.L.Ptr, h)
	}
}

// linkList writes a circular doubly linked list through the LIST_ENTRYs at
// head and links.
func (ht *HeapTarget) linkList(head uint64, links []uint64) {
	p := ht.L.Ptr
	all := append([]uint64{head}, links...)
	for i, cur := range all {
		next := all[(i+1)%len(all)]
		prev := all[(i+len(all)-1)%len(all)]
		ht.WritePointer(cur, next)
		ht.WritePointer(cur+p, prev)
	}
}

// FixtureHeap is a heap laid out by a HeapTarget.
type FixtureHeap struct {
	ht       *HeapTarget
	Base     uint64
	Encoding uint64
	segLinks []uint64
	vaLinks  []uint64
}

// AddHeap commits [base, base+size), writes a _HEAP at base and appends it
// to the PEB heap list. The heap's first segment is not created.
func (ht *HeapTarget) AddHeap(base, size, encoding uint64) *FixtureHeap {
	ht.Commit(base, size, target.MemPrivate)
	ht.WriteU64(base+ht.L.HeapEncoding+ht.L.HeaderOffset, encoding)
	ht.heaps = append(ht.heaps, base)
	ht.writeProcessHeaps()
	h := &FixtureHeap{ht: ht, Base: base, Encoding: encoding}
	ht.linkList(base+ht.L.HeapSegList, nil)
	ht.linkList(base+ht.L.HeapVABlocks, nil)
	return h
}

// AddHeapPointer appends base to the PEB heap list without writing a heap
// there.
func (ht *HeapTarget) AddHeapPointer(base uint64) {
	ht.heaps = append(ht.heaps, base)
	ht.writeProcessHeaps()
}

// FixtureSegment is a heap segment laid out by a HeapTarget.
type FixtureSegment struct {
	h        *FixtureHeap
	Addr     uint64
	ucrLinks []uint64
}

// AddSegment writes a _HEAP_SEGMENT at segAddr covering [base, lastValid)
// whose first entry starts at firstEntry, and links it into the heap.
func (h *FixtureHeap) AddSegment(segAddr, base, firstEntry, lastValid uint64) *FixtureSegment {
	ht, l := h.ht, h.ht.L
	ht.WritePointer(segAddr+l.SegBase, base)
	ht.WritePointer(segAddr+l.SegFirstEntry, firstEntry)
	ht.WritePointer(segAddr+l.SegLastValid, lastValid)
	ht.linkList(segAddr+l.SegUCRList, nil)
	h.segLinks = append(h.segLinks, segAddr+l.SegListEntry)
	ht.linkList(h.Base+l.HeapSegList, h.segLinks)
	return &FixtureSegment{h: h, Addr: segAddr}
}

// HeaderAddress is where the encoded header word of the entry starting at
// entryStart is stored.
func (s *FixtureSegment) HeaderAddress(entryStart uint64) uint64 {
	return entryStart + s.h.ht.L.HeaderOffset
}

// WriteEntry stores e, encoded with the heap's encoding, at header address
// addr.
func (s *FixtureSegment) WriteEntry(addr uint64, e heap.Entry) {
	s.h.ht.WriteU64(addr, e.Encode(s.h.Encoding))
}

// AddUCR writes an uncommitted-range descriptor at desc describing
// [rangeAddr, rangeAddr+size) and links it into the segment's UCR list.
func (s *FixtureSegment) AddUCR(desc, rangeAddr, size uint64) {
	ht, l := s.h.ht, s.h.ht.L
	ht.WritePointer(desc+l.UCRAddress, rangeAddr)
	ht.WritePointer(desc+l.UCRSize, size)
	s.ucrLinks = append(s.ucrLinks, desc+l.ListEntrySize)
	ht.linkList(s.Addr+l.SegUCRList, s.ucrLinks)
}

// AddVirtualAllocBlock links a large block at addr with the given commit
// size into the heap. The caller commits the block's memory.
func (h *FixtureHeap) AddVirtualAllocBlock(addr uint64, commitSize uint32) {
	ht, l := h.ht, h.ht.L
	ht.WriteU32(addr+l.VACommitSize, commitSize)
	h.vaLinks = append(h.vaLinks, addr)
	ht.linkList(h.Base+l.HeapVABlocks, h.vaLinks)
}

// LFHSpec describes an LFH sub-segment stored in an internal entry body.
type LFHSpec struct {
	SubSegment uint64
	UserBlocks uint64
	BlockSize  uint16
	BlockCount uint16
	// FirstBlockOffset is the distance from the body to the first block.
	FirstBlockOffset uint16
	LFHKey           uint32
	// Unused holds the raw byte stored at offset 7 of each block.
	Unused []uint8
}

// WriteLFH writes a user-data header at body, the sub-segment it points to
// and the per-block unused bytes.
func (s *FixtureSegment) WriteLFH(body uint64, sub LFHSpec) {
	ht, l := s.h.ht, s.h.ht.L
	ht.WritePointer(body+l.UDHSubSegment, sub.SubSegment)
	ht.WriteU32(body+l.UDHSignature, heap.LFHSignature)
	encoded := uint32(sub.FirstBlockOffset) ^ uint32(sub.UserBlocks) ^ sub.LFHKey
	ht.WriteU32(body+l.UDHEncodedOffs, encoded)

	ht.WritePointer(sub.SubSegment+l.SubUserBlocks, sub.UserBlocks)
	ht.WriteU16(sub.SubSegment+l.SubBlockSize, sub.BlockSize)
	ht.WriteU16(sub.SubSegment+l.SubBlockCount, sub.BlockCount)

	first := body + uint64(sub.FirstBlockOffset)
	for i, u := range sub.Unused {
		ht.WriteU8(first+uint64(i)*uint64(sub.BlockSize)*8+7, u)
	}
}
