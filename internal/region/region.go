// Package region defines the address-range tree the address map is built
// from: every node has a base, a size, a label and lazily computed children.
package region

import (
	"context"
	"iter"

	"github.com/mem-analysis/pkg/address"
)

// Region is a contiguous address range. Children never overlap each other
// and lie within their parent.
type Region interface {
	BaseAddress() address.Address
	Size() uint64
	Description() string
	// SubRegions returns the children in address order. Implementations
	// compute them at most once.
	SubRegions(ctx context.Context) ([]Region, error)
}

// Streamer is implemented by regions whose children can be produced
// incrementally.
type Streamer interface {
	StreamSubRegions(ctx context.Context) iter.Seq2[Region, error]
}

// End returns the exclusive end of r.
func End(r Region) address.Address {
	return r.BaseAddress().Add(r.Size())
}

// Contains reports whether addr lies within r.
func Contains(r Region, addr uint64) bool {
	base := r.BaseAddress().Value()
	return addr >= base && addr-base < r.Size()
}

// Equal compares regions by base and size only.
func Equal(a, b Region) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.BaseAddress().Equal(b.BaseAddress()) && a.Size() == b.Size()
}

// Span carries the base and size shared by all concrete regions.
type Span struct {
	Base   address.Address
	Length uint64
}

// BaseAddress implements Region.
func (s Span) BaseAddress() address.Address { return s.Base }

// Size implements Region.
func (s Span) Size() uint64 { return s.Length }

// Leaf is a region without children.
type Leaf struct {
	Span
	Label string
}

// NewLeaf creates a leaf region.
func NewLeaf(base address.Address, size uint64, label string) *Leaf {
	return &Leaf{Span: Span{Base: base, Length: size}, Label: label}
}

// Description implements Region.
func (l *Leaf) Description() string { return l.Label }

// SubRegions implements Region.
func (l *Leaf) SubRegions(context.Context) ([]Region, error) { return nil, nil }

// Collect drains seq into a slice, stopping at the first error or when ctx
// is done.
func Collect(ctx context.Context, seq iter.Seq2[Region, error]) ([]Region, error) {
	var out []Region
	for r, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, r)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
