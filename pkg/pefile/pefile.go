// Package pefile parses portable-executable files backing image memory.
// A parse works from an in-memory byte buffer plus the canonical path the
// buffer was read from; the snapshot builder decides whether the buffer comes
// from disk or is absent entirely (a phantom image).
package pefile

import (
	"bytes"
	"debug/pe"
	"strings"

	"github.com/f0829/moneta/pkg/errors"
	"github.com/f0829/moneta/pkg/winapi"
)

// Section characteristics flags (IMAGE_SCN_*).
const (
	SectionExecute = 0x20000000
	SectionRead    = 0x40000000
	SectionWrite   = 0x80000000
)

// Section is one entry of the section table, reduced to the geometry the
// memory model overlays on subregions.
type Section struct {
	Name            string
	VirtualAddress  uint32
	VirtualSize     uint32
	RawSize         uint32
	RawOffset       uint32
	Characteristics uint32
}

// Executable reports whether the section is marked executable on disk.
func (s Section) Executable() bool {
	return s.Characteristics&SectionExecute != 0
}

// ImpliedProtect maps the on-disk section characteristics to the page
// protection the loader is expected to apply.
func (s Section) ImpliedProtect() uint32 {
	switch {
	case s.Characteristics&SectionExecute != 0 && s.Characteristics&SectionWrite != 0:
		return winapi.PageExecuteReadWrite
	case s.Characteristics&SectionExecute != 0:
		return winapi.PageExecuteRead
	case s.Characteristics&SectionWrite != 0:
		return winapi.PageReadWrite
	default:
		return winapi.PageReadonly
	}
}

// File is a parsed view over a PE buffer.
type File struct {
	path          string
	data          []byte
	is64          bool
	entryPoint    uint32
	imageBase     uint64
	sizeOfImage   uint32
	sizeOfHeaders uint32
	sections      []Section
}

// Parse validates and parses a PE buffer. A buffer that fails signature
// validation yields a malformed-image error; an unreadable backing file is
// the caller's phantom case and never reaches this function.
func Parse(data []byte, path string) (*File, error) {
	p, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errors.E(errors.KindMalformedImage, "pefile.Parse", path, err)
	}
	defer p.Close()

	f := &File{path: path, data: data}

	switch oh := p.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		f.is64 = true
		f.entryPoint = oh.AddressOfEntryPoint
		f.imageBase = oh.ImageBase
		f.sizeOfImage = oh.SizeOfImage
		f.sizeOfHeaders = oh.SizeOfHeaders
	case *pe.OptionalHeader32:
		f.entryPoint = oh.AddressOfEntryPoint
		f.imageBase = uint64(oh.ImageBase)
		f.sizeOfImage = oh.SizeOfImage
		f.sizeOfHeaders = oh.SizeOfHeaders
	default:
		return nil, errors.E(errors.KindMalformedImage, "pefile.Parse", path+": missing optional header")
	}

	for _, s := range p.Sections {
		f.sections = append(f.sections, Section{
			Name:            strings.TrimRight(s.Name, "\x00"),
			VirtualAddress:  s.VirtualAddress,
			VirtualSize:     s.VirtualSize,
			RawSize:         s.Size,
			RawOffset:       s.Offset,
			Characteristics: s.Characteristics,
		})
	}

	return f, nil
}

// Open reads the backing file through the supplied reader and parses it.
// A read failure is returned unwrapped so the caller can mark the image
// phantom rather than treating it as an error.
func Open(path string, read func(string) ([]byte, error)) (*File, error) {
	data, err := read(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, path)
}

// Path returns the canonical path the buffer was attributed to.
func (f *File) Path() string { return f.path }

// Data returns the raw file bytes.
func (f *File) Data() []byte { return f.data }

// Is64 reports whether the optional header is PE32+.
func (f *File) Is64() bool { return f.is64 }

// EntryPoint returns the entry point RVA.
func (f *File) EntryPoint() uint32 { return f.entryPoint }

// ImageBase returns the preferred load address.
func (f *File) ImageBase() uint64 { return f.imageBase }

// SizeOfImage returns the declared in-memory footprint.
func (f *File) SizeOfImage() uint32 { return f.sizeOfImage }

// SizeOfHeaders returns the combined header size.
func (f *File) SizeOfHeaders() uint32 { return f.sizeOfHeaders }

// Sections returns the section table in file order.
func (f *File) Sections() []Section { return f.sections }

// FindOverlappingSections returns, in file order, every section whose
// virtual extent intersects the RVA range [start, end). An empty result is
// valid: the range may cover only headers or loader-created padding.
func (f *File) FindOverlappingSections(start, end uint32) []Section {
	var out []Section
	for _, s := range f.sections {
		span := s.VirtualSize
		if span == 0 {
			span = s.RawSize
		}
		if s.VirtualAddress < end && start < s.VirtualAddress+span {
			out = append(out, s)
		}
	}
	return out
}

// SectionData returns the on-disk bytes of a section, clipped to the file.
func (f *File) SectionData(s Section) []byte {
	if s.RawOffset >= uint32(len(f.data)) {
		return nil
	}
	end := s.RawOffset + s.RawSize
	if end > uint32(len(f.data)) {
		end = uint32(len(f.data))
	}
	return f.data[s.RawOffset:end]
}

// HeaderData returns the on-disk header bytes.
func (f *File) HeaderData() []byte {
	n := f.sizeOfHeaders
	if n > uint32(len(f.data)) {
		n = uint32(len(f.data))
	}
	return f.data[:n]
}
