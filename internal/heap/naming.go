package heap

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/mem-analysis/internal/target"
	apperrors "github.com/mem-analysis/pkg/errors"
)

const dataSection = ".data"

func isTransient(err error) bool {
	return apperrors.IsReadFailed(err)
}

type unnamedMatch struct {
	module string
	rva    uint64
}

// findHeapSymbol looks for pointer-sized slots equal to heapBase in every
// module's .data section. A single slot that resolves to a symbol with no
// displacement names the heap. Failing that, a single match in a module
// without symbols yields module!RVA. Otherwise the result is empty.
func (p *Parser) findHeapSymbol(ctx context.Context, heapBase uint64, modules []target.NativeModule) string {
	ptrSize := int(p.r.PointerSize())
	page := make([]byte, target.PageSize)
	var named []string
	var unnamed []unnamedMatch

	for i := range modules {
		mod := &modules[i]
		sec, ok := mod.Section(dataSection)
		if !ok {
			continue
		}
		for off := uint64(0); off < uint64(sec.VirtualSize); off += target.PageSize {
			if ctx.Err() != nil {
				return ""
			}
			rva := uint64(sec.VirtualAddress) + off
			pageAddr := mod.Base + rva
			if err := p.tgt.ReadMemory(pageAddr, page); err != nil {
				continue
			}
			for slot := 0; slot+ptrSize <= len(page); slot += ptrSize {
				var v uint64
				if ptrSize == 4 {
					v = uint64(binary.LittleEndian.Uint32(page[slot:]))
				} else {
					v = binary.LittleEndian.Uint64(page[slot:])
				}
				if v != heapBase {
					continue
				}
				slotAddr := pageAddr + uint64(slot)
				if name, disp, err := p.tgt.NameByAddress(slotAddr); err == nil && disp == 0 {
					named = append(named, name)
				}
				if !mod.HasSymbols {
					unnamed = append(unnamed, unnamedMatch{module: mod.Name, rva: rva + uint64(slot)})
				}
			}
		}
		if len(named) > 1 {
			return ""
		}
	}

	if len(named) == 1 {
		return named[0]
	}
	if len(named) == 0 && len(unnamed) == 1 {
		return fmt.Sprintf("%s!%X", unnamed[0].module, unnamed[0].rva)
	}
	return ""
}
