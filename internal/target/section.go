package target

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SectionHeaderSize is the on-disk size of IMAGE_SECTION_HEADER.
const SectionHeaderSize = 40

// SectionHeader is a decoded IMAGE_SECTION_HEADER.
type SectionHeader struct {
	Name                 string
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

// SectionName decodes the 8-byte name field. A name that fills all eight
// bytes has no terminator.
func SectionName(raw [8]byte) string {
	if raw[7] == 0 {
		if i := bytes.IndexByte(raw[:], 0); i >= 0 {
			return string(raw[:i])
		}
	}
	return string(raw[:])
}

// ParseSectionHeaders decodes consecutive IMAGE_SECTION_HEADER records.
func ParseSectionHeaders(data []byte) ([]SectionHeader, error) {
	if len(data)%SectionHeaderSize != 0 {
		return nil, fmt.Errorf("section table length %d is not a multiple of %d", len(data), SectionHeaderSize)
	}
	headers := make([]SectionHeader, 0, len(data)/SectionHeaderSize)
	le := binary.LittleEndian
	for off := 0; off < len(data); off += SectionHeaderSize {
		b := data[off : off+SectionHeaderSize]
		var name [8]byte
		copy(name[:], b[:8])
		headers = append(headers, SectionHeader{
			Name:                 SectionName(name),
			VirtualSize:          le.Uint32(b[8:]),
			VirtualAddress:       le.Uint32(b[12:]),
			SizeOfRawData:        le.Uint32(b[16:]),
			PointerToRawData:     le.Uint32(b[20:]),
			PointerToRelocations: le.Uint32(b[24:]),
			PointerToLinenumbers: le.Uint32(b[28:]),
			NumberOfRelocations:  le.Uint16(b[32:]),
			NumberOfLinenumbers:  le.Uint16(b[34:]),
			Characteristics:      le.Uint32(b[36:]),
		})
	}
	return headers, nil
}

// Section returns the first section with the given name.
func (m *NativeModule) Section(name string) (SectionHeader, bool) {
	for _, s := range m.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return SectionHeader{}, false
}
