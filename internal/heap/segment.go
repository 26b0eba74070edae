package heap

import (
	"context"
	"iter"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mem-analysis/internal/region"
	apperrors "github.com/mem-analysis/pkg/errors"
)

// SegmentRegion is a heap segment. Its children are the segment's heap
// entries, decoded on first request.
type SegmentRegion struct {
	region.Span
	heap       *Heap
	p          *Parser
	addr       uint64
	firstEntry uint64
	ucrHead    uint64
	children   region.ChildCache
}

func (p *Parser) openSegment(h *Heap, segAddr uint64) (*SegmentRegion, error) {
	seg, err := p.r.At(segAddr, NtdllModule, TypeSegment)
	if err != nil {
		return nil, err
	}
	base, err := seg.Pointer("BaseAddress")
	if err != nil {
		return nil, err
	}
	last, err := seg.Pointer("LastValidEntry")
	if err != nil {
		return nil, err
	}
	first, err := seg.Pointer("FirstEntry")
	if err != nil {
		return nil, err
	}
	ucrHead, err := seg.FieldAddress("UCRSegmentList")
	if err != nil {
		return nil, err
	}
	if last <= base {
		return nil, apperrors.Newf(apperrors.CodeStructureError,
			"segment 0x%x of heap %s ends at 0x%x before its base 0x%x", segAddr, h.Base, last, base)
	}
	return &SegmentRegion{
		Span:       region.Span{Base: p.addr(base), Length: last - base},
		heap:       h,
		p:          p,
		addr:       segAddr,
		firstEntry: first,
		ucrHead:    ucrHead,
	}, nil
}

// Heap returns the owning heap.
func (s *SegmentRegion) Heap() *Heap {
	return s.heap
}

// Description implements region.Region.
func (s *SegmentRegion) Description() string {
	return s.heap.Name + " Segment"
}

// SubRegions implements region.Region.
func (s *SegmentRegion) SubRegions(ctx context.Context) ([]region.Region, error) {
	return region.Collect(ctx, s.StreamSubRegions(ctx))
}

// StreamSubRegions implements region.Streamer.
func (s *SegmentRegion) StreamSubRegions(ctx context.Context) iter.Seq2[region.Region, error] {
	return s.children.Stream(ctx, s.entries(ctx))
}

func (s *SegmentRegion) uncommittedRanges() (map[uint64]struct{}, error) {
	tc := s.p.types
	set := make(map[uint64]struct{})
	for desc, err := range walkList(s.p.r, s.ucrHead, tc.flink, tc.listEntry.Size) {
		if err != nil {
			return nil, err
		}
		set[desc] = struct{}{}
	}
	return set, nil
}

// entries walks the segment's entry stream. An entry whose header word is
// followed by a known uncommitted-range descriptor is skipped past that
// range; a zero-sized range or an unreadable header ends the segment.
func (s *SegmentRegion) entries(ctx context.Context) iter.Seq2[region.Region, error] {
	return func(yield func(region.Region, error) bool) {
		_, span := otel.Tracer(tracerName).Start(ctx, "heap.WalkSegment")
		defer span.End()
		span.SetAttributes(attribute.String("segment.base", s.Base.String()))

		tc, err := s.p.typeCache()
		if err != nil {
			yield(nil, err)
			return
		}
		ucrs, err := s.uncommittedRanges()
		if err != nil {
			yield(nil, err)
			return
		}

		log := s.p.logger.WithField("segment", s.Base.String())
		end := region.End(s).Value()
		count := 0
		entryAddr := s.firstEntry + tc.headerOffset
		for entryAddr < end {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			raw, err := s.p.r.U64(entryAddr)
			if err != nil {
				log.Debug("Segment walk stopped at 0x%x: %v", entryAddr, err)
				break
			}
			if _, ok := ucrs[entryAddr+EntryHeaderSize]; ok {
				next, ok := s.skipUncommitted(entryAddr + EntryHeaderSize)
				if !ok {
					break
				}
				entryAddr = next + tc.headerOffset
				continue
			}
			entry := DecodeEntry(raw, s.heap.Encoding)
			if entry.Size == 0 {
				yield(nil, apperrors.Newf(apperrors.CodeStructureError,
					"zero-sized heap entry at 0x%x in heap %s", entryAddr, s.heap.Base))
				return
			}
			count++
			if !yield(newEntryRegion(s, entry, entryAddr), nil) {
				return
			}
			entryAddr += entry.Span() + tc.headerOffset
		}
		span.SetAttributes(attribute.Int("segment.entries", count))
	}
}

// skipUncommitted reads the descriptor at desc and returns the first address
// past the range it describes.
func (s *SegmentRegion) skipUncommitted(desc uint64) (uint64, bool) {
	ucr, err := s.p.r.At(desc, NtdllModule, TypeUCR)
	if err != nil {
		return 0, false
	}
	size, err := ucr.Uint("Size")
	if err != nil || size == 0 {
		return 0, false
	}
	start, err := ucr.Pointer("Address")
	if err != nil {
		return 0, false
	}
	return start + size, true
}
