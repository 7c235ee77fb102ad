// Package render turns a snapshot, a selection and a filtered suspicion map
// into human-visible output. The core never writes to terminals itself;
// rendering is strictly downstream of inspection.
package render

import (
	"fmt"
	"io"

	"github.com/f0829/moneta/pkg/logging"
	"github.com/f0829/moneta/pkg/memory"
	"github.com/f0829/moneta/pkg/process"
	"github.com/f0829/moneta/pkg/suspicion"
)

// Renderer writes scan output to one writer at a fixed verbosity tier.
type Renderer struct {
	w         io.Writer
	verbosity logging.Verbosity
}

// New creates a renderer.
func New(w io.Writer, verbosity logging.Verbosity) *Renderer {
	return &Renderer{w: w, verbosity: verbosity}
}

// Render prints the selected subregions of one snapshot, grouped under their
// entities, with suspicions and derived attributes appended.
func (r *Renderer) Render(snap *process.Snapshot, selected []*memory.Subregion, m *suspicion.Map) {
	selectedSet := make(map[*memory.Subregion]bool, len(selected))
	for _, s := range selected {
		selectedSet[s] = true
	}

	shownProc := false
	for _, e := range snap.Entities() {
		var shown []*memory.Subregion
		for _, s := range e.Subregions() {
			if selectedSet[s] {
				shown = append(shown, s)
			}
		}
		if len(shown) == 0 {
			continue
		}

		if !shownProc {
			arch := "x64"
			if snap.IsWow64() {
				arch = "Wow64"
			}
			fmt.Fprintf(r.w, "\n%s : %d : %s : %s\n", snap.Name(), snap.Pid(), arch, snap.ImagePath())
			shownProc = true
		}

		r.renderEntity(e, m)
		for _, s := range shown {
			r.renderSubregion(e, s, m)
		}
	}
}

func (r *Renderer) renderEntity(e *memory.Entity, m *suspicion.Map) {
	fmt.Fprintf(r.w, "  0x%016x:0x%08x | %s", e.StartVA(), e.Size(), entityLabel(e))
	if path := e.Path(); path != "" {
		fmt.Fprintf(r.w, " | %s", path)
	}
	r.appendSuspicions(m, e.StartVA(), e.StartVA(), true)
	fmt.Fprintln(r.w)

	if r.verbosity >= logging.VerbosityDetail {
		r.renderEntityDetail(e)
	}
}

func entityLabel(e *memory.Entity) string {
	switch e.Kind() {
	case memory.KindImage:
		if e.NonExecutableImage() {
			return "Unexecutable image"
		}
		return "Executable image"
	case memory.KindMappedFile:
		return "Mapped"
	default:
		return "Private"
	}
}

func (r *Renderer) renderEntityDetail(e *memory.Entity) {
	if e.Kind() != memory.KindImage {
		return
	}
	fmt.Fprintf(r.w, "  |__ Mapped file base: 0x%x\n", e.StartVA())
	fmt.Fprintf(r.w, "    | Mapped file size: %d\n", e.Size())
	fmt.Fprintf(r.w, "    | Mapped file path: %s\n", e.Path())
	if pe := e.PE(); pe != nil {
		fmt.Fprintf(r.w, "    | Size of image: %d\n", pe.SizeOfImage())
	}
	fmt.Fprintf(r.w, "    | Non-executable: %s\n", yesNo(e.NonExecutableImage()))
	fmt.Fprintf(r.w, "    | Partially mapped: %s\n", yesNo(e.PartiallyMapped()))
	sig := e.Signature()
	fmt.Fprintf(r.w, "    | Signed: %s [%s]\n", yesNo(sig.Signed), sig.Kind)
	fmt.Fprintf(r.w, "    | Signing level: %s\n", sig.Level)
	if mod := e.PebModule(); mod != nil {
		fmt.Fprintf(r.w, "    |__ PEB module\n")
		fmt.Fprintf(r.w, "      | Name: %s\n", mod.Name)
		fmt.Fprintf(r.w, "      | Image base: 0x%x\n", mod.Base)
		fmt.Fprintf(r.w, "      | Image size: %d\n", mod.Size)
		fmt.Fprintf(r.w, "      | Entry point: 0x%x\n", mod.EntryPoint)
		fmt.Fprintf(r.w, "      | Image file path: %s\n", mod.Path)
	} else {
		fmt.Fprintf(r.w, "    |__ PEB module (missing)\n")
	}
}

func (r *Renderer) renderSubregion(e *memory.Entity, s *memory.Subregion, m *suspicion.Map) {
	sections := e.FindOverlappingSections(s)
	if e.Kind() == memory.KindImage && !e.Phantom() && len(sections) > 0 {
		// A single subregion may span several consecutive same-protection
		// sections; print one line per overlapped section.
		for _, sect := range sections {
			fmt.Fprintf(r.w, "    0x%016x:0x%08x | %s | %-8s | 0x%08x",
				s.BaseVA(), s.Size(), s.AttribDesc(), sect.Name, s.PrivateSize())
			r.appendAttributes(s)
			r.appendSuspicions(m, e.StartVA(), s.BaseVA(), false)
			fmt.Fprintln(r.w)
		}
	} else {
		name := ""
		if e.Kind() == memory.KindImage && !e.Phantom() {
			name = " | ?       "
		}
		fmt.Fprintf(r.w, "    0x%016x:0x%08x | %s%s | 0x%08x",
			s.BaseVA(), s.Size(), s.AttribDesc(), name, s.PrivateSize())
		r.appendAttributes(s)
		r.appendSuspicions(m, e.StartVA(), s.BaseVA(), false)
		fmt.Fprintln(r.w)
	}

	if r.verbosity >= logging.VerbosityDetail {
		r.renderSubregionDetail(s)
	}

	for _, t := range s.Threads() {
		fmt.Fprintf(r.w, "      Thread 0x%x [TID 0x%08x]\n", t.EntryPoint(), t.ID())
	}
}

func (r *Renderer) renderSubregionDetail(s *memory.Subregion) {
	fmt.Fprintf(r.w, "    |__ Base address: 0x%x\n", s.BaseVA())
	fmt.Fprintf(r.w, "      | Size: %d\n", s.Size())
	fmt.Fprintf(r.w, "      | Permissions: %s\n", memory.ProtectSymbol(s.Protect()))
	fmt.Fprintf(r.w, "      | Type: %s\n", memory.TypeSymbol(s.Type()))
	fmt.Fprintf(r.w, "      | State: %s\n", memory.StateSymbol(s.State()))
	fmt.Fprintf(r.w, "      | Allocation base: 0x%x\n", s.AllocBase())
	fmt.Fprintf(r.w, "      | Allocation permissions: %s\n", memory.ProtectSymbol(s.AllocProtect()))
	fmt.Fprintf(r.w, "      | Private size: %d [%d pages]\n", s.PrivateSize(), s.PrivateSize()/0x1000)
}

func (r *Renderer) appendAttributes(s *memory.Subregion) {
	if s.Flags()&memory.FlagHeap != 0 {
		fmt.Fprint(r.w, " | Heap")
	}
	if s.Flags()&memory.FlagTeb != 0 {
		fmt.Fprint(r.w, " | TEB")
	}
	if s.Flags()&memory.FlagStack != 0 {
		fmt.Fprint(r.w, " | Stack")
	}
}

func (r *Renderer) appendSuspicions(m *suspicion.Map, allocBase, base uint64, entityScope bool) {
	if m == nil {
		return
	}
	for _, s := range m.At(allocBase, base) {
		if s.EntityScope == entityScope {
			fmt.Fprintf(r.w, " | %s", s.Description)
		}
	}
}

// RenderStats prints the permission/type statistics of a snapshot.
func (r *Renderer) RenderStats(st process.Stats) {
	fmt.Fprintf(r.w, "\nCommitted: %d bytes (%d private, %d mapped, %d image)\n",
		st.Committed, st.Private, st.Mapped, st.Image)
	fmt.Fprintf(r.w, "Reserved: %d bytes\n", st.Reserved)
	fmt.Fprintf(r.w, "Executable: %d bytes\n", st.Executable)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
