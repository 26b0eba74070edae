package heap

import "encoding/binary"

// EntryHeaderSize is the size of an encoded heap entry header.
const EntryHeaderSize = 8

// Entry flag bits.
const (
	FlagBusy     = 0x01
	FlagInternal = 0x08
)

// LFHSignature marks the user-data header of a low-fragmentation-heap
// sub-segment.
const LFHSignature = 0xF0E0D0C0

// Entry is a decoded heap entry header.
type Entry struct {
	Size          uint16
	Flags         uint8
	SmallTagIndex uint8
	PreviousSize  uint16
	LFHFlags      uint8
	UnusedBytes   uint8
}

// DecodeEntry decodes a raw little-endian header word XORed with the heap's
// encoding.
func DecodeEntry(raw, encoding uint64) Entry {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], raw^encoding)
	return Entry{
		Size:          binary.LittleEndian.Uint16(b[0:]),
		Flags:         b[2],
		SmallTagIndex: b[3],
		PreviousSize:  binary.LittleEndian.Uint16(b[4:]),
		LFHFlags:      b[6],
		UnusedBytes:   b[7],
	}
}

// Encode returns the raw header word as stored in a heap with encoding.
func (e Entry) Encode(encoding uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint16(b[0:], e.Size)
	b[2] = e.Flags
	b[3] = e.SmallTagIndex
	binary.LittleEndian.PutUint16(b[4:], e.PreviousSize)
	b[6] = e.LFHFlags
	b[7] = e.UnusedBytes
	return binary.LittleEndian.Uint64(b[:]) ^ encoding
}

// Busy reports whether the entry is allocated.
func (e Entry) Busy() bool {
	return e.Flags&FlagBusy != 0
}

// Internal reports whether the entry is owned by the heap itself, such as
// an LFH sub-segment.
func (e Entry) Internal() bool {
	return e.Flags&FlagInternal != 0
}

// Span is the number of bytes the entry occupies, header included.
func (e Entry) Span() uint64 {
	return uint64(e.Size) * 8
}

// BodySize is the usable size: the span minus the unused byte count, which
// is never taken as less than the header size. It is zero when the
// overhead exceeds the span.
func (e Entry) BodySize() uint64 {
	overhead := max(uint64(e.UnusedBytes), EntryHeaderSize)
	if overhead > e.Span() {
		return 0
	}
	return e.Span() - overhead
}
