package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeEntry_Fields(t *testing.T) {
	const encoding = 0x1122334455667788
	raw := uint64(0xAA0B_0003_0C01_0004) ^ encoding

	e := DecodeEntry(raw, encoding)
	assert.Equal(t, uint16(0x0004), e.Size)
	assert.Equal(t, uint8(0x01), e.Flags)
	assert.Equal(t, uint8(0x0C), e.SmallTagIndex)
	assert.Equal(t, uint16(0x0003), e.PreviousSize)
	assert.Equal(t, uint8(0x0B), e.LFHFlags)
	assert.Equal(t, uint8(0xAA), e.UnusedBytes)
	assert.Equal(t, uint16((raw^encoding)&0xFFFF), e.Size)
}

func TestEntry_RoundTrip(t *testing.T) {
	encodings := []uint64{0, 0xdeadbeefcafebabe, 0xffffffffffffffff}
	entries := []Entry{
		{Size: 1},
		{Size: 0xffff, Flags: FlagBusy | FlagInternal, SmallTagIndex: 0x7f, PreviousSize: 0x1234, LFHFlags: 0x80, UnusedBytes: 0x3f},
		{Size: 0x20, Flags: FlagBusy, UnusedBytes: 0x18},
	}

	for _, enc := range encodings {
		for _, e := range entries {
			assert.Equal(t, e, DecodeEntry(e.Encode(enc), enc))
		}
	}
}

func TestEntry_Flags(t *testing.T) {
	assert.True(t, Entry{Flags: FlagBusy}.Busy())
	assert.False(t, Entry{Flags: FlagInternal}.Busy())
	assert.True(t, Entry{Flags: FlagInternal}.Internal())
	assert.False(t, Entry{Flags: FlagBusy}.Internal())
}

func TestEntry_BodySize(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		span  uint64
		body  uint64
	}{
		{"unused above header", Entry{Size: 4, UnusedBytes: 0x10}, 32, 16},
		{"unused below header clamps to 8", Entry{Size: 4, UnusedBytes: 3}, 32, 24},
		{"zero unused clamps to 8", Entry{Size: 2}, 16, 8},
		{"overhead exceeds span", Entry{Size: 1, UnusedBytes: 0x20}, 8, 0},
		{"exactly header", Entry{Size: 1}, 8, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.span, tt.entry.Span())
			assert.Equal(t, tt.body, tt.entry.BodySize())
		})
	}
}
