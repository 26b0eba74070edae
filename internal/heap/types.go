package heap

import (
	"github.com/mem-analysis/internal/structread"
	"github.com/mem-analysis/internal/target"
	apperrors "github.com/mem-analysis/pkg/errors"
	"github.com/mem-analysis/pkg/utils"
)

// NtdllModule is the module that defines the heap structures.
const NtdllModule = "ntdll"

// Type names resolved from NtdllModule.
const (
	TypeHeap         = "_HEAP"
	TypeSegment      = "_HEAP_SEGMENT"
	TypeUCR          = "_HEAP_UCR_DESCRIPTOR"
	TypeUserData     = "_HEAP_USERDATA_HEADER"
	TypeSubSegment   = "_HEAP_SUBSEGMENT"
	TypeEntry        = "_HEAP_ENTRY"
	TypeListEntry    = "LIST_ENTRY"
	TypeTEB          = "_TEB"
	TypePEB          = "_PEB"
	LFHKeySymbol     = NtdllModule + "!RtlpLFHKey"
	virtualAllocHead = "VirtualAllocdBlocks"
)

var requiredFields = map[string][]string{
	TypeHeap:       {"SegmentList", "Encoding", virtualAllocHead},
	TypeSegment:    {"SegmentListEntry", "BaseAddress", "LastValidEntry", "FirstEntry", "UCRSegmentList"},
	TypeUCR:        {"Address", "Size"},
	TypeUserData:   {"Signature", "SubSegment"},
	TypeSubSegment: {"BlockSize", "BlockCount", "UserBlocks"},
	TypeEntry:      {"AgregateCode"},
	TypeListEntry:  {"Flink"},
}

// typeCache holds the layouts and derived offsets needed to walk heaps.
type typeCache struct {
	heap       *target.TypeLayout
	segment    *target.TypeLayout
	ucr        *target.TypeLayout
	userData   *target.TypeLayout
	subSegment *target.TypeLayout
	listEntry  *target.TypeLayout

	// headerOffset is where the encoded header word sits within a heap entry.
	headerOffset uint64
	// segmentLink is the offset of SegmentListEntry within _HEAP_SEGMENT.
	segmentLink uint64
	flink       uint64
	lfhKey      uint32
}

func loadTypes(r *structread.Reader, syms target.SymbolService, logger utils.Logger) (*typeCache, error) {
	layouts := make(map[string]*target.TypeLayout, len(requiredFields))
	for name, fields := range requiredFields {
		l, err := r.Layout(NtdllModule, name)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			if _, ok := l.Field(f); !ok {
				return nil, apperrors.Newf(apperrors.CodeSymbolsUnavailable,
					"symbols unavailable: %s!%s has no field %s", NtdllModule, name, f)
			}
		}
		layouts[name] = l
	}

	tc := &typeCache{
		heap:       layouts[TypeHeap],
		segment:    layouts[TypeSegment],
		ucr:        layouts[TypeUCR],
		userData:   layouts[TypeUserData],
		subSegment: layouts[TypeSubSegment],
		listEntry:  layouts[TypeListEntry],
	}
	agg, _ := layouts[TypeEntry].Field("AgregateCode")
	tc.headerOffset = agg.Offset
	link, _ := tc.segment.Field("SegmentListEntry")
	tc.segmentLink = link.Offset
	flink, _ := tc.listEntry.Field("Flink")
	tc.flink = flink.Offset

	if addr, err := syms.ResolveSymbol(LFHKeySymbol); err == nil {
		key, err := r.U32(addr)
		if err != nil {
			logger.Warn("Failed to read %s at 0x%x: %v", LFHKeySymbol, addr, err)
		}
		tc.lfhKey = key
	} else {
		logger.Debug("%s not available, assuming zero LFH key", LFHKeySymbol)
	}
	return tc, nil
}
