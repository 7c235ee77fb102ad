package memory

import (
	"github.com/f0829/moneta/pkg/pefile"
	"github.com/f0829/moneta/pkg/signing"
	"github.com/f0829/moneta/pkg/winapi"
)

// EntityKind classifies an allocation by origin.
type EntityKind int

const (
	// KindPrivate - a private allocation (heap, stack, VirtualAlloc).
	KindPrivate EntityKind = iota

	// KindMappedFile - a section view backed by a data file.
	KindMappedFile

	// KindImage - a loaded executable image.
	KindImage
)

func (k EntityKind) String() string {
	switch k {
	case KindMappedFile:
		return "mapped"
	case KindImage:
		return "image"
	default:
		return "private"
	}
}

// PebModule is the loader's record of a module, read from the target's PEB.
type PebModule struct {
	Name       string
	Base       uint64
	Size       uint32
	EntryPoint uint64
	Path       string
}

// Entity groups the consecutive subregions sharing one allocation base.
// It is a tagged variant: the file-backing fields are populated for mapped
// files and images, the image fields for images only. Behavior that differs
// by origin is dispatched by exhaustive switch on Kind.
type Entity struct {
	kind       EntityKind
	subregions []*Subregion
	startVA    uint64
	size       uint64

	// Mapped files and images.
	path string

	// Images only.
	phantom            bool
	pe                 *pefile.File
	nonExecutableImage bool
	partiallyMapped    bool
	pebModule          *PebModule
	signature          signing.Classification
}

// Kind returns the entity classification.
func (e *Entity) Kind() EntityKind { return e.kind }

// Subregions returns the ordered composing subregions.
func (e *Entity) Subregions() []*Subregion { return e.subregions }

// StartVA returns the allocation base of the entity.
func (e *Entity) StartVA() uint64 { return e.startVA }

// EndVA returns the first address past the entity.
func (e *Entity) EndVA() uint64 {
	last := e.subregions[len(e.subregions)-1]
	return last.EndVA()
}

// Size returns the sum of the subregion sizes.
func (e *Entity) Size() uint64 { return e.size }

// Contains reports whether addr falls within the entity extent.
func (e *Entity) Contains(addr uint64) bool {
	return addr >= e.startVA && addr < e.EndVA()
}

// Path returns the canonical backing path (empty for private entities).
func (e *Entity) Path() string { return e.path }

// Phantom reports whether the backing file of an image could not be read.
func (e *Entity) Phantom() bool { return e.phantom }

// PE returns the parsed image view, nil for phantom images and non-images.
func (e *Entity) PE() *pefile.File { return e.pe }

// NonExecutableImage reports an image with no executable subregion.
func (e *Entity) NonExecutableImage() bool { return e.nonExecutableImage }

// PartiallyMapped reports an image whose committed footprint is smaller
// than its declared virtual size.
func (e *Entity) PartiallyMapped() bool { return e.partiallyMapped }

// PebModule returns the loader record for this base, nil when missing.
func (e *Entity) PebModule() *PebModule { return e.pebModule }

// Signature returns the signing verdict of the backing image.
func (e *Entity) Signature() signing.Classification { return e.signature }

// Signed reports whether the backing image carries a verified signature.
func (e *Entity) Signed() bool { return e.signature.Signed }

// CommittedSize returns the byte total of committed subregions.
func (e *Entity) CommittedSize() uint64 {
	var total uint64
	for _, s := range e.subregions {
		if s.State() == winapi.MemCommit {
			total += s.Size()
		}
	}
	return total
}

// FindOverlappingSections returns the image sections whose virtual extent
// intersects the subregion. Only image entities with a parsed view yield
// results; everything else is rendered as "?" downstream.
func (e *Entity) FindOverlappingSections(s *Subregion) []pefile.Section {
	switch e.kind {
	case KindImage:
		if e.pe == nil || s.BaseVA() < e.startVA {
			return nil
		}
		start := uint32(s.BaseVA() - e.startVA)
		end := uint32(s.EndVA() - e.startVA)
		return e.pe.FindOverlappingSections(start, end)
	default:
		return nil
	}
}
