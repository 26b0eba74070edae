// Package address provides a target-bitness-aware virtual address type.
package address

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	apperrors "github.com/mem-analysis/pkg/errors"
)

// MaxUint32 is the highest address reachable by a 32-bit target.
const MaxUint32 = math.MaxUint32

// Address is a virtual address tagged with the bitness of the target it belongs to.
// Ordering and equality consider only the numeric value.
type Address struct {
	value uint64
	is32  bool
}

// New returns an address for a target of the given bitness. The value is
// kept as is: a 32-bit target can still report mappings above 4GB.
func New(value uint64, is32Bit bool) Address {
	return Address{value: value, is32: is32Bit}
}

// New32 returns a 32-bit target address.
func New32(value uint32) Address {
	return Address{value: uint64(value), is32: true}
}

// New64 returns a 64-bit target address.
func New64(value uint64) Address {
	return Address{value: value}
}

// Value returns the numeric address.
func (a Address) Value() uint64 {
	return a.value
}

// Is32Bit reports whether the address belongs to a 32-bit target.
func (a Address) Is32Bit() bool {
	return a.is32
}

// Add returns a + n with the same bitness.
func (a Address) Add(n uint64) Address {
	return Address{value: a.value + n, is32: a.is32}
}

// Sub returns the distance from b to a. The caller guarantees a >= b.
func (a Address) Sub(b Address) uint64 {
	return a.value - b.value
}

// AlignDown rounds the address down to a multiple of align, which must be a power of two.
func (a Address) AlignDown(align uint64) Address {
	return Address{value: a.value &^ (align - 1), is32: a.is32}
}

// Compare returns -1, 0 or +1 depending on whether a is below, equal to or above b.
func (a Address) Compare(b Address) int {
	switch {
	case a.value < b.value:
		return -1
	case a.value > b.value:
		return 1
	default:
		return 0
	}
}

// Less reports whether a sorts before b.
func (a Address) Less(b Address) bool {
	return a.value < b.value
}

// Equal compares values only.
func (a Address) Equal(b Address) bool {
	return a.value == b.value
}

// IsZero reports whether the address is null.
func (a Address) IsZero() bool {
	return a.value == 0
}

// String formats the address the way the debugger does: eight hex digits for
// 32-bit targets and two backtick-separated groups of eight for 64-bit targets
// or any value above 4GB.
func (a Address) String() string {
	if a.is32 && a.value <= MaxUint32 {
		return fmt.Sprintf("%08x", uint32(a.value))
	}
	return fmt.Sprintf("%08x`%08x", a.value>>32, a.value&MaxUint32)
}

// Parse parses a hex address as typed at a debugger prompt. It accepts an
// optional 0x prefix and backtick separators.
func Parse(s string, is32Bit bool) (Address, error) {
	v, err := ParseHex(s)
	if err != nil {
		return Address{}, err
	}
	if is32Bit && v > MaxUint32 {
		return Address{}, apperrors.Newf(apperrors.CodeInvalidInput, "address %q exceeds 32-bit range", s)
	}
	return Address{value: v, is32: is32Bit}, nil
}

// ParseHex parses a hex number in the syntax Parse accepts.
func ParseHex(s string) (uint64, error) {
	clean := strings.TrimSpace(s)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	clean = strings.ReplaceAll(clean, "`", "")
	if clean == "" {
		return 0, apperrors.Newf(apperrors.CodeInvalidInput, "empty address %q", s)
	}
	v, err := strconv.ParseUint(clean, 16, 64)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("invalid address %q", s), err)
	}
	return v, nil
}
