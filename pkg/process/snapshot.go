// Package process reconstructs a target's virtual address space: it opens
// the process, enumerates PEB heaps and threads, walks the region map and
// groups subregions into classified entities keyed by allocation base.
package process

import (
	"sort"

	"github.com/f0829/moneta/pkg/errors"
	"github.com/f0829/moneta/pkg/logging"
	"github.com/f0829/moneta/pkg/memory"
	"github.com/f0829/moneta/pkg/signing"
	"github.com/f0829/moneta/pkg/winapi"
)

// allocation granularity used to advance past an unreadable gap mid-walk,
// and the consecutive-failure budget after which the walk concludes the
// reachable space is exhausted.
const (
	gapStride   = 0x10000
	maxGapSkips = 16
)

// Options configures snapshot construction.
type Options struct {
	// Signing classifies image backing files; nil means everything unsigned.
	Signing signing.Oracle

	// Log receives scan diagnostics; nil discards them.
	Log logging.Logger
}

// Snapshot is the reconstructed model of one process's address space. The
// snapshot exclusively owns its handle, threads and entities; Close releases
// the handle. Entity and subregion references loaned to callers are read-only
// and invalid after Close.
type Snapshot struct {
	pid       uint32
	sys       winapi.System
	handle    winapi.Handle
	name      string
	imagePath string
	wow64     bool
	heaps     []uint64
	threads   []*Thread
	modules   map[uint64]*memory.PebModule

	allocBases []uint64
	entities   map[uint64]*memory.Entity

	signing signing.Oracle
	log     logging.Logger
}

// Open opens the target for read + query access and builds the full model.
// The construction protocol is ordered: identity, architecture check, heap
// enumeration, thread enumeration, region walk. Identity and heap failures
// degrade; open, architecture and thread failures abort.
func Open(pid uint32, sys winapi.System, opts *Options) (*Snapshot, error) {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Log
	if log == nil {
		log = logging.NopLogger{}
	}

	handle, err := sys.OpenProcess(pid)
	if err != nil {
		if errors.GetKind(err) == errors.KindOpenFailed {
			return nil, err
		}
		return nil, errors.E(errors.KindOpenFailed, "process.Open", "cannot open target", err)
	}

	snap := &Snapshot{
		pid:      pid,
		sys:      sys,
		handle:   handle,
		entities: make(map[uint64]*memory.Entity),
		signing:  opts.Signing,
		log:      log,
	}

	// Identity: non-fatal, the scan continues with empty strings.
	if name, err := sys.ImageBaseName(handle); err == nil {
		snap.name = name
	} else {
		log.Warn("pid %d: image name unavailable: %v", pid, err)
	}
	if devPath, err := sys.ImageDevicePath(handle); err == nil {
		if path, err := sys.TranslateDevicePath(devPath); err == nil {
			snap.imagePath = path
		} else {
			snap.imagePath = devPath
		}
	} else {
		log.Warn("pid %d: image path unavailable: %v", pid, err)
	}

	// Architecture compatibility: a Wow64 inspector cannot model a native
	// target, so that combination is rejected up front.
	targetWow64, err := sys.IsWow64(handle)
	if err == nil {
		snap.wow64 = targetWow64
	}
	if sys.SelfWow64() && !snap.wow64 {
		snap.Close()
		return nil, errors.E(errors.KindArchMismatch, "process.Open",
			"cannot inspect a native process from a compatibility-layer inspector")
	}
	if snap.wow64 {
		snap.imagePath = winapi.Wow64PathExpand(snap.imagePath)
	}
	log.Debug("mapping address space of pid %d [%s]", pid, snap.name)

	// Heap enumeration degrades silently; the heap list may stay empty.
	if pebAddr, err := sys.PebAddress(handle, snap.wow64); err == nil && pebAddr != 0 {
		log.Debug("peb of pid %d at 0x%x", pid, pebAddr)
		snap.heaps = readHeaps(sys, handle, pebAddr, snap.wow64)
		snap.modules = readModules(sys, handle, pebAddr, snap.wow64)
	} else if err != nil {
		log.Debug("pid %d: peb unavailable: %v", pid, err)
	}

	// Thread enumeration: one failed thread aborts the snapshot.
	tids, err := sys.ThreadIDs(pid)
	if err != nil {
		snap.Close()
		return nil, errors.E(errors.KindThreadQuery, "process.Open", "thread enumeration failed", err)
	}
	for _, tid := range tids {
		t, err := newThread(sys, handle, tid)
		if err != nil {
			snap.Close()
			return nil, errors.E(errors.KindThreadQuery, "process.Open", "thread query failed", err)
		}
		snap.threads = append(snap.threads, t)
	}
	log.Debug("associated %d threads with pid %d", len(snap.threads), pid)

	if err := snap.walk(); err != nil {
		snap.Close()
		return nil, err
	}

	return snap, nil
}

func (s *Snapshot) buildEnv() *memory.BuildEnv {
	return &memory.BuildEnv{
		Heaps:   s.heaps,
		Threads: s.threadAnchors(),
		Modules: s.modules,
		ReadFile: func(path string) ([]byte, error) {
			return s.sys.ReadFile(path)
		},
		TranslateDevicePath: s.sys.TranslateDevicePath,
		MappedFilePath: func(addr uint64) (string, error) {
			return s.sys.MappedFilePath(s.handle, addr)
		},
		Signing: s.signing,
		Log:     s.log,
	}
}

// walk queries the address space region by region, accumulating subregions
// while their allocation base matches the pending group and finalizing the
// group into an entity when a new base is observed. A query failure past the
// user-space limit ends the walk; below the limit it is treated as a
// transient gap and skipped. A pending group at walk end is still finalized.
func (s *Snapshot) walk() error {
	env := s.buildEnv()
	limit := s.sys.UserSpaceLimit()

	var run []*memory.Subregion
	var addr uint64

	finalize := func() error {
		if len(run) == 0 {
			return nil
		}
		e, err := memory.BuildEntity(run, env)
		if err != nil {
			return err
		}
		if e != nil {
			s.insert(e)
		}
		run = nil
		return nil
	}

	var gapSkips int
	for {
		info, err := s.sys.QueryRegion(s.handle, addr)
		if err != nil {
			if limit == 0 || addr >= limit || gapSkips >= maxGapSkips {
				break
			}
			// The target's layout can evolve mid-walk; step over the
			// unreadable gap instead of truncating the model, but give
			// up once successive queries stop yielding anything.
			if err := finalize(); err != nil {
				return err
			}
			gapSkips++
			addr += gapStride
			continue
		}
		gapSkips = 0

		if len(run) > 0 && info.AllocationBase != run[0].AllocBase() {
			if err := finalize(); err != nil {
				return err
			}
		}

		if info.State != winapi.MemFree {
			private := s.sys.RegionPrivateSize(s.handle, info)
			run = append(run, memory.NewSubregion(*info, private))
		}

		next := info.BaseAddress + info.RegionSize
		if next <= addr {
			break
		}
		addr = next
	}

	return finalize()
}

func (s *Snapshot) insert(e *memory.Entity) {
	base := e.StartVA()
	if _, exists := s.entities[base]; !exists {
		i := sort.Search(len(s.allocBases), func(i int) bool { return s.allocBases[i] >= base })
		s.allocBases = append(s.allocBases, 0)
		copy(s.allocBases[i+1:], s.allocBases[i:])
		s.allocBases[i] = base
	}
	s.entities[base] = e
}

func (s *Snapshot) threadAnchors() []memory.ThreadAnchor {
	anchors := make([]memory.ThreadAnchor, len(s.threads))
	for i, t := range s.threads {
		anchors[i] = t
	}
	return anchors
}

// Pid returns the target process identifier.
func (s *Snapshot) Pid() uint32 { return s.pid }

// Name returns the module base name of the target, empty when unreadable.
func (s *Snapshot) Name() string { return s.name }

// ImagePath returns the canonical image path, empty when unreadable.
func (s *Snapshot) ImagePath() string { return s.imagePath }

// IsWow64 reports whether the target runs under the compatibility layer.
func (s *Snapshot) IsWow64() bool { return s.wow64 }

// Heaps returns the ordered PEB heap bases.
func (s *Snapshot) Heaps() []uint64 { return s.heaps }

// Threads returns the ordered thread records.
func (s *Snapshot) Threads() []*Thread { return s.threads }

// Entities returns the entities in ascending allocation-base order.
func (s *Snapshot) Entities() []*memory.Entity {
	out := make([]*memory.Entity, 0, len(s.allocBases))
	for _, base := range s.allocBases {
		out = append(out, s.entities[base])
	}
	return out
}

// EntityAt returns the entity keyed at the exact allocation base.
func (s *Snapshot) EntityAt(allocBase uint64) (*memory.Entity, bool) {
	e, ok := s.entities[allocBase]
	return e, ok
}

// EntityContaining returns the entity whose extent contains addr.
func (s *Snapshot) EntityContaining(addr uint64) (*memory.Entity, bool) {
	for _, base := range s.allocBases {
		e := s.entities[base]
		if e.Contains(addr) {
			return e, true
		}
	}
	return nil, false
}

// ReadMemory reads from the target through the snapshot's handle.
func (s *Snapshot) ReadMemory(addr, size uint64) ([]byte, error) {
	return s.sys.ReadMemory(s.handle, addr, size)
}

// Handle exposes the process handle to the dump sink.
func (s *Snapshot) Handle() winapi.Handle { return s.handle }

// Close releases the process handle. Entities and threads become invalid;
// they hold no OS resources of their own.
func (s *Snapshot) Close() error {
	if s.handle == 0 {
		return nil
	}
	err := s.sys.CloseHandle(s.handle)
	s.handle = 0
	return err
}
