package mocks

import "encoding/binary"

// PESection scripts one section of a synthetic image.
type PESection struct {
	Name            string
	VirtualAddress  uint32
	VirtualSize     uint32
	Data            []byte
	Characteristics uint32
}

// PEOptions scripts a synthetic PE32+ file.
type PEOptions struct {
	EntryPoint  uint32
	ImageBase   uint64
	SizeOfImage uint32
	Sections    []PESection
}

// Section characteristics shorthand for fixtures.
const (
	SectText  = 0x60000020 // code | execute | read
	SectRData = 0x40000040 // initialized data | read
	SectData  = 0xC0000040 // initialized data | read | write
)

const (
	fileAlign     = 0x200
	sectionAlign  = 0x1000
	sizeOfHeaders = 0x400
	peOffset      = 0x80
	optHeaderSize = 240
)

// BuildPE64 assembles a minimal but well-formed PE32+ byte buffer: DOS stub,
// COFF header, optional header with 16 data directories, section table and
// file-aligned raw section data.
func BuildPE64(opts PEOptions) []byte {
	if opts.ImageBase == 0 {
		opts.ImageBase = 0x140000000
	}
	if opts.SizeOfImage == 0 {
		var max uint32 = sectionAlign
		for _, s := range opts.Sections {
			end := s.VirtualAddress + s.VirtualSize
			if end > max {
				max = end
			}
		}
		opts.SizeOfImage = alignUp(max, sectionAlign)
	}

	// Total file size: headers plus aligned raw data.
	rawOffsets := make([]uint32, len(opts.Sections))
	cursor := uint32(sizeOfHeaders)
	for i, s := range opts.Sections {
		rawOffsets[i] = cursor
		cursor += alignUp(uint32(len(s.Data)), fileAlign)
	}

	buf := make([]byte, cursor)
	le := binary.LittleEndian

	// DOS header.
	copy(buf[0:2], "MZ")
	le.PutUint32(buf[0x3C:], peOffset)

	// PE signature and COFF header.
	copy(buf[peOffset:], "PE\x00\x00")
	coff := peOffset + 4
	le.PutUint16(buf[coff:], 0x8664) // machine: x64
	le.PutUint16(buf[coff+2:], uint16(len(opts.Sections)))
	le.PutUint16(buf[coff+16:], optHeaderSize)
	le.PutUint16(buf[coff+18:], 0x0022) // executable, large address aware

	// Optional header (PE32+).
	oh := coff + 20
	le.PutUint16(buf[oh:], 0x20B) // magic
	le.PutUint32(buf[oh+16:], opts.EntryPoint)
	le.PutUint64(buf[oh+24:], opts.ImageBase)
	le.PutUint32(buf[oh+32:], sectionAlign)
	le.PutUint32(buf[oh+36:], fileAlign)
	le.PutUint16(buf[oh+48:], 6) // major subsystem version
	le.PutUint32(buf[oh+56:], opts.SizeOfImage)
	le.PutUint32(buf[oh+60:], sizeOfHeaders)
	le.PutUint16(buf[oh+68:], 3)  // console subsystem
	le.PutUint32(buf[oh+108:], 16) // data directory count

	// Section table.
	for i, s := range opts.Sections {
		sh := oh + optHeaderSize + i*40
		copy(buf[sh:sh+8], s.Name)
		le.PutUint32(buf[sh+8:], s.VirtualSize)
		le.PutUint32(buf[sh+12:], s.VirtualAddress)
		le.PutUint32(buf[sh+16:], alignUp(uint32(len(s.Data)), fileAlign))
		le.PutUint32(buf[sh+20:], rawOffsets[i])
		le.PutUint32(buf[sh+36:], s.Characteristics)
		copy(buf[rawOffsets[i]:], s.Data)
	}

	return buf
}

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}
