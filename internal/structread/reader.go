// Package structread reads native structs out of target memory using layouts
// resolved once from the symbol service.
package structread

import (
	"encoding/binary"
	"fmt"

	"github.com/mem-analysis/internal/target"
	apperrors "github.com/mem-analysis/pkg/errors"
)

// Reader decodes little-endian scalars and struct fields from target memory.
// Layouts are cached per module!type for the reader's lifetime.
type Reader struct {
	mem     target.MemoryAccess
	syms    target.SymbolService
	is32    bool
	layouts map[string]*target.TypeLayout
}

// New creates a Reader.
func New(mem target.MemoryAccess, syms target.SymbolService, is32Bit bool) *Reader {
	return &Reader{
		mem:     mem,
		syms:    syms,
		is32:    is32Bit,
		layouts: make(map[string]*target.TypeLayout),
	}
}

// Is32Bit reports the pointer width used by Pointer reads.
func (r *Reader) Is32Bit() bool {
	return r.is32
}

// PointerSize returns 4 or 8.
func (r *Reader) PointerSize() uint64 {
	return uint64(target.PointerSize(r.is32))
}

// Layout resolves module!name, failing with a symbols-unavailable error when
// the symbol service cannot provide it.
func (r *Reader) Layout(module, name string) (*target.TypeLayout, error) {
	key := module + "!" + name
	if l, ok := r.layouts[key]; ok {
		return l, nil
	}
	l, err := r.syms.ResolveType(module, name)
	if err != nil || l == nil {
		return nil, apperrors.Wrap(apperrors.CodeSymbolsUnavailable,
			fmt.Sprintf("symbols unavailable: %s", key), err)
	}
	r.layouts[key] = l
	return l, nil
}

// Bytes reads n bytes at addr.
func (r *Reader) Bytes(addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := r.mem.ReadMemory(addr, buf); err != nil {
		return nil, apperrors.ReadFailed(addr, err)
	}
	return buf, nil
}

// U8 reads a byte.
func (r *Reader) U8(addr uint64) (uint8, error) {
	b, err := r.Bytes(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 reads a little-endian uint16.
func (r *Reader) U16(addr uint64) (uint16, error) {
	b, err := r.Bytes(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// U32 reads a little-endian uint32.
func (r *Reader) U32(addr uint64) (uint32, error) {
	b, err := r.Bytes(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// U64 reads a little-endian uint64.
func (r *Reader) U64(addr uint64) (uint64, error) {
	b, err := r.Bytes(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Pointer reads a target-width pointer.
func (r *Reader) Pointer(addr uint64) (uint64, error) {
	if r.is32 {
		v, err := r.U32(addr)
		return uint64(v), err
	}
	return r.U64(addr)
}

// Pointers reads count consecutive target-width pointers.
func (r *Reader) Pointers(addr uint64, count int) ([]uint64, error) {
	size := int(r.PointerSize())
	b, err := r.Bytes(addr, size*count)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, count)
	for i := range out {
		if r.is32 {
			out[i] = uint64(binary.LittleEndian.Uint32(b[i*size:]))
		} else {
			out[i] = binary.LittleEndian.Uint64(b[i*size:])
		}
	}
	return out, nil
}

// At binds the layout of module!name to addr.
func (r *Reader) At(addr uint64, module, name string) (Struct, error) {
	l, err := r.Layout(module, name)
	if err != nil {
		return Struct{}, err
	}
	return Struct{r: r, Layout: l, Addr: addr}, nil
}

// Struct is a typed view of a native struct instance.
type Struct struct {
	r      *Reader
	Layout *target.TypeLayout
	Addr   uint64
}

// Has reports whether the layout declares field.
func (s Struct) Has(field string) bool {
	_, ok := s.Layout.Field(field)
	return ok
}

func (s Struct) field(name string) (target.Field, error) {
	f, ok := s.Layout.Field(name)
	if !ok {
		return target.Field{}, apperrors.Newf(apperrors.CodeSymbolsUnavailable,
			"symbols unavailable: %s!%s has no field %s", s.Layout.Module, s.Layout.Name, name)
	}
	return f, nil
}

// FieldAddress returns the address of field within this instance.
func (s Struct) FieldAddress(name string) (uint64, error) {
	f, err := s.field(name)
	if err != nil {
		return 0, err
	}
	return s.Addr + f.Offset, nil
}

// Uint reads field as an unsigned integer of its declared size.
func (s Struct) Uint(name string) (uint64, error) {
	f, err := s.field(name)
	if err != nil {
		return 0, err
	}
	addr := s.Addr + f.Offset
	switch f.Size {
	case 1:
		v, err := s.r.U8(addr)
		return uint64(v), err
	case 2:
		v, err := s.r.U16(addr)
		return uint64(v), err
	case 4:
		v, err := s.r.U32(addr)
		return uint64(v), err
	case 8:
		return s.r.U64(addr)
	default:
		return 0, apperrors.Newf(apperrors.CodeStructureError,
			"%s.%s has unsupported scalar size %d", s.Layout.Name, name, f.Size)
	}
}

// Pointer reads field as a target-width pointer.
func (s Struct) Pointer(name string) (uint64, error) {
	addr, err := s.FieldAddress(name)
	if err != nil {
		return 0, err
	}
	return s.r.Pointer(addr)
}

// Sub binds the layout of module!name to the address of field.
func (s Struct) Sub(field, module, name string) (Struct, error) {
	addr, err := s.FieldAddress(field)
	if err != nil {
		return Struct{}, err
	}
	return s.r.At(addr, module, name)
}

// Deref follows the pointer stored in field and binds module!name there.
func (s Struct) Deref(field, module, name string) (Struct, error) {
	p, err := s.Pointer(field)
	if err != nil {
		return Struct{}, err
	}
	return s.r.At(p, module, name)
}
