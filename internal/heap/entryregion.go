package heap

import (
	"context"
	"fmt"

	"github.com/mem-analysis/internal/region"
	"github.com/mem-analysis/internal/structread"
)

// lfhUnusedMask selects the unused-byte count in an LFH block header.
const lfhUnusedMask = 0x3F

// EntryRegion is one heap entry. Its children are the entry header and
// either the body, the internal data, or the blocks of an LFH sub-segment.
type EntryRegion struct {
	region.Span
	seg      *SegmentRegion
	entry    Entry
	children region.ChildCache
}

func newEntryRegion(seg *SegmentRegion, e Entry, addr uint64) *EntryRegion {
	return &EntryRegion{
		Span:  region.Span{Base: seg.p.addr(addr), Length: e.Span()},
		seg:   seg,
		entry: e,
	}
}

// Entry returns the decoded header.
func (e *EntryRegion) Entry() Entry {
	return e.entry
}

// Description implements region.Region.
func (e *EntryRegion) Description() string {
	return fmt.Sprintf("%s Entry (0x%X bytes)", e.seg.heap.Name, e.entry.BodySize())
}

// SubRegions implements region.Region.
func (e *EntryRegion) SubRegions(ctx context.Context) ([]region.Region, error) {
	return e.children.Get(ctx, e.decode)
}

func (e *EntryRegion) label(suffix string) string {
	return e.seg.heap.Name + suffix
}

func (e *EntryRegion) leaf(addr, size uint64, suffix string) *region.Leaf {
	return region.NewLeaf(e.seg.p.addr(addr), size, e.label(suffix))
}

func (e *EntryRegion) decode(ctx context.Context) ([]region.Region, error) {
	free := !e.entry.Busy()
	internal := e.entry.Internal()
	base := e.Base.Value()
	body := base + EntryHeaderSize

	header := " Entry Header"
	switch {
	case free:
		header += " (free)"
	case internal:
		header += " (internal)"
	}
	out := []region.Region{e.leaf(base, EntryHeaderSize, header)}

	if !internal {
		if size := e.entry.BodySize(); size > 0 {
			out = append(out, e.leaf(body, size, fmt.Sprintf(" Entry Body (%X)", size)))
		}
		return out, nil
	}

	p := e.seg.p
	udh, err := p.r.At(body, NtdllModule, TypeUserData)
	if err != nil {
		return nil, err
	}
	sig, err := udh.Uint("Signature")
	if err != nil {
		p.logger.Debug("Entry 0x%x: user data header unreadable: %v", base, err)
		return out, nil
	}
	if sig != LFHSignature {
		if size := e.entry.BodySize(); size > 0 {
			out = append(out, e.leaf(body, size, " Internal Data"))
		}
		return out, nil
	}
	return e.decodeLFH(ctx, out, udh, free)
}

// decodeLFH appends the sub-segment header and one header/body pair per
// block. A block whose unused count is zero is free; the count is never
// taken as less than the header size.
func (e *EntryRegion) decodeLFH(ctx context.Context, out []region.Region, udh structread.Struct, entryFree bool) ([]region.Region, error) {
	p := e.seg.p
	body := udh.Addr
	sub, err := udh.Deref("SubSegment", NtdllModule, TypeSubSegment)
	if err != nil {
		return partialOnRead(out, err)
	}
	bs, err := sub.Uint("BlockSize")
	if err != nil {
		return partialOnRead(out, err)
	}
	blockCount, err := sub.Uint("BlockCount")
	if err != nil {
		return partialOnRead(out, err)
	}
	blockSize := bs * 8

	start := body
	if udh.Has("EncodedOffsets") {
		eoAddr, _ := udh.FieldAddress("EncodedOffsets")
		encoded, err := p.r.U32(eoAddr)
		if err != nil {
			return partialOnRead(out, err)
		}
		userBlocks, err := sub.Pointer("UserBlocks")
		if err != nil {
			return partialOnRead(out, err)
		}
		decoded := encoded ^ uint32(userBlocks) ^ p.types.lfhKey
		start += uint64(uint16(decoded))
	} else {
		start += udh.Layout.Size
	}

	if start > body {
		out = append(out, e.leaf(body, start-body, " LFH Block Header"))
	}
	if blockSize == 0 {
		return out, nil
	}

	for i := uint64(0); i < blockCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blk := start + i*blockSize
		b, err := p.r.U8(blk + 7)
		if err != nil {
			p.logger.Debug("LFH block 0x%x unreadable: %v", blk, err)
			break
		}
		unused := uint64(b & lfhUnusedMask)
		free := entryFree || unused == 0
		unused = max(unused, EntryHeaderSize)

		header := " LFH Entry Header"
		if free {
			header += " (free)"
		}
		out = append(out, e.leaf(blk, EntryHeaderSize, header))
		if blockSize > unused {
			size := blockSize - unused
			out = append(out, e.leaf(blk+EntryHeaderSize, size, fmt.Sprintf(" LFH Entry Body (0x%X bytes)", size)))
		}
	}
	return out, nil
}

func partialOnRead(out []region.Region, err error) ([]region.Region, error) {
	if isTransient(err) {
		return out, nil
	}
	return nil, err
}
