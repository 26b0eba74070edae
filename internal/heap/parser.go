// Package heap walks the native process heaps of a target: the heap list in
// the PEB, each heap's segments and large virtual-alloc blocks, and the
// XOR-encoded entries inside every segment, including LFH sub-segments.
package heap

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mem-analysis/internal/region"
	"github.com/mem-analysis/internal/structread"
	"github.com/mem-analysis/internal/target"
	"github.com/mem-analysis/pkg/address"
	apperrors "github.com/mem-analysis/pkg/errors"
	"github.com/mem-analysis/pkg/utils"
)

const tracerName = "github.com/mem-analysis/internal/heap"

// maxHeaps bounds PEB.NumberOfHeaps before the heap array is read.
const maxHeaps = 4096

// Parser decodes heap structures. It is not safe for concurrent use; all
// calls are expected on the session's worker.
type Parser struct {
	tgt    target.Target
	r      *structread.Reader
	logger utils.Logger
	types  *typeCache
}

// NewParser creates a Parser for t.
func NewParser(t target.Target, logger utils.Logger) *Parser {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Parser{
		tgt:    t,
		r:      structread.New(t, t, t.Is32Bit()),
		logger: logger.WithField("component", "heap"),
	}
}

func (p *Parser) typeCache() (*typeCache, error) {
	if p.types != nil {
		return p.types, nil
	}
	tc, err := loadTypes(p.r, p.tgt, p.logger)
	if err != nil {
		return nil, err
	}
	p.types = tc
	return tc, nil
}

func (p *Parser) addr(v uint64) address.Address {
	return address.New(v, p.tgt.Is32Bit())
}

// ProcessHeaps returns the heap bases listed in the PEB of the current
// thread's process, default heap first.
func (p *Parser) ProcessHeaps(ctx context.Context) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tebAddr, err := p.tgt.ThreadEnvironmentBlock()
	if err != nil {
		return nil, fmt.Errorf("failed to locate TEB: %w", err)
	}
	teb, err := p.r.At(tebAddr, NtdllModule, TypeTEB)
	if err != nil {
		return nil, err
	}
	peb, err := teb.Deref("ProcessEnvironmentBlock", NtdllModule, TypePEB)
	if err != nil {
		return nil, err
	}
	count, err := peb.Uint("NumberOfHeaps")
	if err != nil {
		return nil, err
	}
	if count > maxHeaps {
		return nil, apperrors.Newf(apperrors.CodeStructureError, "PEB at 0x%x reports %d heaps", peb.Addr, count)
	}
	if count == 0 {
		return nil, nil
	}
	array, err := peb.Pointer("ProcessHeaps")
	if err != nil {
		return nil, err
	}
	return p.r.Pointers(array, int(count))
}

// Heaps opens every process heap and names it. A heap whose structures
// cannot be read is left out.
func (p *Parser) Heaps(ctx context.Context) ([]*Heap, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "heap.Heaps")
	defer span.End()

	bases, err := p.ProcessHeaps(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if _, err := p.typeCache(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	modules, err := p.tgt.NativeModules()
	if err != nil {
		p.logger.Warn("Failed to list modules for heap naming: %v", err)
	}

	heaps := make([]*Heap, 0, len(bases))
	for i, base := range bases {
		name := "Default Heap"
		if i > 0 {
			name = p.findHeapSymbol(ctx, base, modules)
		}
		if name == "" {
			name = "Heap " + p.addr(base).String()
		}
		h, err := p.OpenHeap(ctx, base, name)
		if apperrors.IsReadFailed(err) && ctx.Err() == nil {
			p.logger.Debug("Skipping unreadable heap %s: %v", p.addr(base), err)
			continue
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		heaps = append(heaps, h)
	}
	span.SetAttributes(attribute.Int("heap.count", len(heaps)))
	return heaps, nil
}

// Heap is one native heap with its segments and directly owned
// virtual-alloc blocks.
type Heap struct {
	Base               address.Address
	Name               string
	Encoding           uint64
	Segments           []*SegmentRegion
	VirtualAllocBlocks []*region.Leaf
}

// Regions returns the heap's top-level regions: segments, then
// virtual-alloc blocks.
func (h *Heap) Regions() []region.Region {
	out := make([]region.Region, 0, len(h.Segments)+len(h.VirtualAllocBlocks))
	for _, s := range h.Segments {
		out = append(out, s)
	}
	for _, b := range h.VirtualAllocBlocks {
		out = append(out, b)
	}
	return out
}

// OpenHeap reads the _HEAP at base, its segment list and its virtual-alloc
// block list. Segment entries are decoded lazily.
func (p *Parser) OpenHeap(ctx context.Context, base uint64, name string) (*Heap, error) {
	tc, err := p.typeCache()
	if err != nil {
		return nil, err
	}
	hs, err := p.r.At(base, NtdllModule, TypeHeap)
	if err != nil {
		return nil, err
	}
	encAddr, err := hs.FieldAddress("Encoding")
	if err != nil {
		return nil, err
	}
	encoding, err := p.r.U64(encAddr + tc.headerOffset)
	if err != nil {
		return nil, fmt.Errorf("heap %s: failed to read encoding: %w", p.addr(base), err)
	}

	h := &Heap{Base: p.addr(base), Name: name, Encoding: encoding}
	log := p.logger.WithField("heap", h.Base.String())

	segHead, err := hs.FieldAddress("SegmentList")
	if err != nil {
		return nil, err
	}
	for segAddr, err := range walkList(p.r, segHead, tc.flink, tc.segmentLink) {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg, err := p.openSegment(h, segAddr)
		if err != nil {
			if apperrors.IsReadFailed(err) {
				log.Debug("Segment list ends at unreadable segment 0x%x: %v", segAddr, err)
				break
			}
			return nil, err
		}
		h.Segments = append(h.Segments, seg)
	}

	vaHead, err := hs.FieldAddress(virtualAllocHead)
	if err != nil {
		return nil, err
	}
	commitSizeOffset := uint64(0x20)
	if p.tgt.Is32Bit() {
		commitSizeOffset = 0x10
	}
	for blk, err := range walkList(p.r, vaHead, tc.flink, 0) {
		if err != nil {
			return nil, err
		}
		size, err := p.r.U32(blk + commitSizeOffset)
		if err != nil {
			log.Debug("Virtual-alloc block list ends at 0x%x: %v", blk, err)
			break
		}
		if size == 0 {
			continue
		}
		h.VirtualAllocBlocks = append(h.VirtualAllocBlocks,
			region.NewLeaf(p.addr(blk), uint64(size), name+" VirtualAllocBlock"))
	}

	log.Debug("Opened heap %q: %d segments, %d virtual-alloc blocks", name, len(h.Segments), len(h.VirtualAllocBlocks))
	return h, nil
}
