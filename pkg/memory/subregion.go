// Package memory models a process address space: subregions as reported by
// the OS region query, grouped under their allocation base into entities
// classified by origin (private allocation, mapped file, loaded image).
package memory

import (
	"strings"

	"github.com/f0829/moneta/pkg/winapi"
)

// Flag marks derived attributes of a subregion, computed once when the
// enclosing entity is built.
type Flag uint32

const (
	// FlagHeap - the subregion contains a PEB-listed heap base.
	FlagHeap Flag = 1 << iota

	// FlagTeb - the subregion contains a thread environment block.
	FlagTeb

	// FlagStack - the subregion contains a thread's stack pointer.
	FlagStack
)

// ThreadAnchor is the view of a thread the model needs for attribution.
type ThreadAnchor interface {
	ID() uint32
	EntryPoint() uint64
	TebBase() uint64
	StackPointer() uint64
}

// Subregion is the immutable descriptor of a single OS-reported region.
// Derived flags and thread anchors are attached by the entity builder before
// the subregion is published; afterwards nothing mutates.
type Subregion struct {
	info        winapi.RegionInfo
	privateSize uint64
	flags       Flag
	threads     []ThreadAnchor
}

// NewSubregion wraps one region query result. privateSize is the resident
// non-shared byte count supplied by the OS at query time.
func NewSubregion(info winapi.RegionInfo, privateSize uint64) *Subregion {
	return &Subregion{info: info, privateSize: privateSize}
}

// BaseVA returns the subregion base address.
func (s *Subregion) BaseVA() uint64 { return s.info.BaseAddress }

// EndVA returns the first address past the subregion.
func (s *Subregion) EndVA() uint64 { return s.info.BaseAddress + s.info.RegionSize }

// Size returns the subregion size in bytes.
func (s *Subregion) Size() uint64 { return s.info.RegionSize }

// AllocBase returns the enclosing allocation base.
func (s *Subregion) AllocBase() uint64 { return s.info.AllocationBase }

// Protect returns the current page protection.
func (s *Subregion) Protect() uint32 { return s.info.Protect }

// AllocProtect returns the protection applied at allocation time.
func (s *Subregion) AllocProtect() uint32 { return s.info.AllocationProtect }

// State returns the commit state (MemCommit, MemReserve, MemFree).
func (s *Subregion) State() uint32 { return s.info.State }

// Type returns the region type (MemPrivate, MemMapped, MemImage or zero).
func (s *Subregion) Type() uint32 { return s.info.Type }

// Info returns a copy of the raw region descriptor.
func (s *Subregion) Info() winapi.RegionInfo { return s.info }

// PrivateSize returns the resident non-shared byte count.
func (s *Subregion) PrivateSize() uint64 { return s.privateSize }

// Flags returns the derived attribute flags.
func (s *Subregion) Flags() Flag { return s.flags }

// Threads returns the thread anchors whose entry point or stack falls here.
func (s *Subregion) Threads() []ThreadAnchor { return s.threads }

// Contains reports whether addr falls within the subregion.
func (s *Subregion) Contains(addr uint64) bool {
	return addr >= s.BaseVA() && addr < s.EndVA()
}

// Executable reports whether the current protection carries execute access.
func (s *Subregion) Executable() bool {
	return s.info.Protect&winapi.ExecutableMask != 0
}

// setFlags and addThread are restricted to entity construction.
func (s *Subregion) setFlags(f Flag)            { s.flags |= f }
func (s *Subregion) addThread(t ThreadAnchor)   { s.threads = append(s.threads, t) }

// AttribDesc returns the fixed-width 8-character protection mnemonic used
// for rendering, e.g. "RWX     " or "R       ".
func (s *Subregion) AttribDesc() string {
	return alignAttrib(protectMnemonic(s.info.Protect), 8)
}

func protectMnemonic(protect uint32) string {
	var m string
	switch protect &^ winapi.PageGuard {
	case winapi.PageNoAccess:
		m = "NA"
	case winapi.PageReadonly:
		m = "R"
	case winapi.PageReadWrite:
		m = "RW"
	case winapi.PageWriteCopy:
		m = "RWC"
	case winapi.PageExecute:
		m = "X"
	case winapi.PageExecuteRead:
		m = "RX"
	case winapi.PageExecuteReadWrite:
		m = "RWX"
	case winapi.PageExecuteWriteCopy:
		m = "RWXC"
	case 0:
		m = "-"
	default:
		m = "?"
	}
	if protect&winapi.PageGuard != 0 {
		m += "+G"
	}
	return m
}

func alignAttrib(name string, width int) string {
	if len(name) >= width {
		return name[:width]
	}
	return name + strings.Repeat(" ", width-len(name))
}

// ProtectSymbol returns the canonical symbolic form of a protection value.
func ProtectSymbol(protect uint32) string {
	base := protect &^ winapi.PageGuard
	var sym string
	switch base {
	case winapi.PageNoAccess:
		sym = "PAGE_NOACCESS"
	case winapi.PageReadonly:
		sym = "PAGE_READONLY"
	case winapi.PageReadWrite:
		sym = "PAGE_READWRITE"
	case winapi.PageWriteCopy:
		sym = "PAGE_WRITECOPY"
	case winapi.PageExecute:
		sym = "PAGE_EXECUTE"
	case winapi.PageExecuteRead:
		sym = "PAGE_EXECUTE_READ"
	case winapi.PageExecuteReadWrite:
		sym = "PAGE_EXECUTE_READWRITE"
	case winapi.PageExecuteWriteCopy:
		sym = "PAGE_EXECUTE_WRITECOPY"
	case 0:
		sym = "N/A"
	default:
		sym = "?"
	}
	if protect&winapi.PageGuard != 0 {
		sym += " | PAGE_GUARD"
	}
	return sym
}

// TypeSymbol returns the canonical symbolic form of a region type.
func TypeSymbol(t uint32) string {
	switch t {
	case winapi.MemPrivate:
		return "MEM_PRIVATE"
	case winapi.MemMapped:
		return "MEM_MAPPED"
	case winapi.MemImage:
		return "MEM_IMAGE"
	default:
		return "N/A"
	}
}

// StateSymbol returns the canonical symbolic form of a commit state.
func StateSymbol(state uint32) string {
	switch state {
	case winapi.MemCommit:
		return "MEM_COMMIT"
	case winapi.MemReserve:
		return "MEM_RESERVE"
	case winapi.MemFree:
		return "MEM_FREE"
	default:
		return "?"
	}
}
