package suspicion

import (
	"bytes"

	"github.com/f0829/moneta/pkg/logging"
	"github.com/f0829/moneta/pkg/memory"
	"github.com/f0829/moneta/pkg/pefile"
	"github.com/f0829/moneta/pkg/winapi"
)

// Target is the snapshot surface the engine inspects: the ordered entity map
// plus remote reads for the byte-comparison rules.
type Target interface {
	Entities() []*memory.Entity
	ReadMemory(addr, size uint64) ([]byte, error)
}

// Engine evaluates the rule catalog over a snapshot.
type Engine struct {
	log logging.Logger
}

// NewEngine creates an engine. A nil logger discards diagnostics.
func NewEngine(log logging.Logger) *Engine {
	if log == nil {
		log = logging.NopLogger{}
	}
	return &Engine{log: log}
}

// Inspect runs every rule over every entity and returns the keyed findings.
// Entity-scope suspicions anchor at the entity's first subregion.
func (e *Engine) Inspect(t Target) *Map {
	m := NewMap()
	for _, entity := range t.Entities() {
		e.inspectEntity(t, entity, m)
	}
	return m
}

func (e *Engine) inspectEntity(t Target, entity *memory.Entity, m *Map) {
	switch entity.Kind() {
	case memory.KindPrivate:
		e.inspectExecutable(entity, KindXPrv, m)
	case memory.KindMappedFile:
		e.inspectExecutable(entity, KindXMap, m)
	case memory.KindImage:
		e.inspectImage(t, entity, m)
	}
}

// inspectExecutable flags executable protection on non-image memory.
func (e *Engine) inspectExecutable(entity *memory.Entity, kind Kind, m *Map) {
	for _, s := range entity.Subregions() {
		if s.State() == winapi.MemCommit && s.Executable() {
			m.Add(newSuspicion(kind, entity, s, false))
		}
	}
}

func (e *Engine) inspectImage(t Target, entity *memory.Entity, m *Map) {
	anchor := entity.Subregions()[0]

	if entity.Phantom() {
		m.Add(newSuspicion(KindPhantomImage, entity, anchor, true))
	}
	if entity.PebModule() == nil {
		m.Add(newSuspicion(KindMissingPebModule, entity, anchor, true))
	}
	if entity.NonExecutableImage() {
		m.Add(newSuspicion(KindNonExecutableImage, entity, anchor, true))
	}

	pe := entity.PE()
	if pe == nil {
		return
	}

	e.inspectHeader(t, entity, pe, m)

	for _, s := range entity.Subregions() {
		if s.State() != winapi.MemCommit {
			continue
		}
		sections := entity.FindOverlappingSections(s)
		for _, sect := range sections {
			if sect.Executable() && e.sectionModified(t, entity, pe, sect) {
				m.Add(newSuspicion(KindModifiedCode, entity, s, false))
				break
			}
		}
		if len(sections) == 1 && permissionMismatch(s.Protect(), sections[0].ImpliedProtect()) {
			m.Add(newSuspicion(KindDiskPermissionMismatch, entity, s, false))
		}
	}
}

// inspectHeader compares the resident header bytes against the on-disk
// header. The header always lives in the entity's first subregion.
func (e *Engine) inspectHeader(t Target, entity *memory.Entity, pe *pefile.File, m *Map) {
	anchor := entity.Subregions()[0]
	if anchor.State() != winapi.MemCommit {
		return
	}

	disk := pe.HeaderData()
	if len(disk) == 0 {
		return
	}
	n := uint64(len(disk))
	if n > anchor.Size() {
		n = anchor.Size()
	}

	mem, err := t.ReadMemory(entity.StartVA(), n)
	if err != nil || uint64(len(mem)) < n {
		return
	}
	if !bytes.Equal(mem[:n], disk[:n]) {
		m.Add(newSuspicion(KindModifiedHeader, entity, anchor, false))
	}
}

// sectionModified compares the resident bytes of an executable section
// against its on-disk content. Reads that fail are not findings.
func (e *Engine) sectionModified(t Target, entity *memory.Entity, pe *pefile.File, sect pefile.Section) bool {
	disk := pe.SectionData(sect)
	if len(disk) == 0 {
		return false
	}
	n := uint64(len(disk))
	if sect.VirtualSize != 0 && uint64(sect.VirtualSize) < n {
		n = uint64(sect.VirtualSize)
	}

	mem, err := t.ReadMemory(entity.StartVA()+uint64(sect.VirtualAddress), n)
	if err != nil || uint64(len(mem)) < n {
		return false
	}
	return !bytes.Equal(mem[:n], disk[:n])
}

// permissionMismatch compares a live protection against the protection the
// section characteristics imply, folding copy-on-write into plain write.
func permissionMismatch(protect, implied uint32) bool {
	return foldWriteCopy(protect&^winapi.PageGuard) != foldWriteCopy(implied)
}

func foldWriteCopy(p uint32) uint32 {
	switch p {
	case winapi.PageWriteCopy:
		return winapi.PageReadWrite
	case winapi.PageExecuteWriteCopy:
		return winapi.PageExecuteReadWrite
	}
	return p
}
