package process

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/f0829/moneta/pkg/errors"
	"github.com/f0829/moneta/pkg/memory"
	"github.com/f0829/moneta/pkg/mocks"
	"github.com/f0829/moneta/pkg/signing"
	"github.com/f0829/moneta/pkg/suspicion"
	"github.com/f0829/moneta/pkg/winapi"
)

const (
	heapBase  = 0x10000000
	imageBase = 0x70000000
	pebAddr   = 0x7FF000000000

	imagePath = `C:\windows\system32\sample.dll`
	devPath   = `\Device\HarddiskVolume2\windows\system32\sample.dll`
)

func samplePE() []byte {
	return mocks.BuildPE64(mocks.PEOptions{
		EntryPoint: 0x1010,
		Sections: []mocks.PESection{
			{Name: ".text", VirtualAddress: 0x1000, VirtualSize: 0x1000, Data: bytes.Repeat([]byte{0xCC}, 0x1000), Characteristics: mocks.SectText},
			{Name: ".rdata", VirtualAddress: 0x2000, VirtualSize: 0x1000, Data: []byte("rdata"), Characteristics: mocks.SectRData},
			{Name: ".reloc", VirtualAddress: 0x3000, VirtualSize: 0x1000, Data: []byte("reloc"), Characteristics: mocks.SectRData},
		},
	})
}

func region(base, size uint64, allocBase uint64, protect, state, typ uint32) winapi.RegionInfo {
	return winapi.RegionInfo{
		BaseAddress:    base,
		AllocationBase: allocBase,
		RegionSize:     size,
		Protect:        protect,
		State:          state,
		Type:           typ,
	}
}

// cleanSystem scripts a benign target: one private heap allocation and one
// signed, loader-listed image.
func cleanSystem() *mocks.MockSystem {
	sys := mocks.NewMockSystem()
	sys.Name = "sample.exe"
	sys.DevPath = devPath
	sys.Translated[devPath] = imagePath
	sys.Regions = []winapi.RegionInfo{
		region(heapBase, 0x10000, heapBase, winapi.PageReadonly, winapi.MemCommit, winapi.MemPrivate),
		region(imageBase, 0x1000, imageBase, winapi.PageReadonly, winapi.MemCommit, winapi.MemImage),
		region(imageBase+0x1000, 0x1000, imageBase, winapi.PageExecuteRead, winapi.MemCommit, winapi.MemImage),
		region(imageBase+0x2000, 0x2000, imageBase, winapi.PageReadonly, winapi.MemCommit, winapi.MemImage),
	}
	sys.Files = map[string][]byte{imagePath: samplePE()}
	sys.MappedPaths = map[uint64]string{imageBase: devPath}
	sys.Threads = []mocks.MockThread{
		{Tid: 42, EntryPoint: imageBase + 0x1010, TebBase: heapBase + 0x5000, StackPointer: heapBase + 0x8000},
	}
	sys.ScriptPeb64(pebAddr, []uint64{heapBase}, []mocks.MockModule{
		{Name: "sample.dll", Base: imageBase, Size: 0x4000, EntryPoint: imageBase + 0x1010, Path: imagePath},
	})

	// Resident image bytes match the file so the byte-comparison rules stay
	// quiet: header at the base, raw .text at base+0x1000.
	pe := samplePE()
	sys.Memory[imageBase] = pe[:0x400]
	sys.Memory[imageBase+0x1000] = bytes.Repeat([]byte{0xCC}, 0x1000)
	return sys
}

func openClean(t *testing.T, sys *mocks.MockSystem) *Snapshot {
	t.Helper()
	snap, err := Open(100, sys, &Options{
		Signing: signing.Static{imagePath: {Signed: true, Kind: signing.KindEmbedded, Level: signing.LevelWindows}},
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { snap.Close() })
	return snap
}

func TestOpen_CleanProcess(t *testing.T) {
	snap := openClean(t, cleanSystem())

	if snap.Name() != "sample.exe" {
		t.Errorf("Name() = %q", snap.Name())
	}
	if snap.ImagePath() != imagePath {
		t.Errorf("ImagePath() = %q", snap.ImagePath())
	}

	entities := snap.Entities()
	if len(entities) != 2 {
		t.Fatalf("len(Entities()) = %d, want 2", len(entities))
	}
	if entities[0].Kind() != memory.KindPrivate || entities[0].StartVA() != heapBase {
		t.Errorf("entity 0 = %v at 0x%x", entities[0].Kind(), entities[0].StartVA())
	}
	if entities[1].Kind() != memory.KindImage || entities[1].StartVA() != imageBase {
		t.Errorf("entity 1 = %v at 0x%x", entities[1].Kind(), entities[1].StartVA())
	}

	all := snap.Select(SelectAll, 0, SelectOptions{}, nil)
	if len(all) != 4 {
		t.Errorf("Select(All) returned %d subregions, want 4", len(all))
	}

	m := suspicion.NewEngine(nil).Inspect(snap)
	m.Filter(suspicion.FilterConfig{})
	if !m.Empty() {
		var kinds []suspicion.Kind
		m.Walk(func(_, _ uint64, s *suspicion.Suspicion) { kinds = append(kinds, s.Kind) })
		t.Errorf("clean process produced suspicions: %v", kinds)
	}
}

func TestOpen_Invariants(t *testing.T) {
	snap := openClean(t, cleanSystem())
	entities := snap.Entities()

	// Every subregion shares its entity's allocation base.
	for _, e := range entities {
		for _, s := range e.Subregions() {
			if s.AllocBase() != e.StartVA() {
				t.Errorf("subregion 0x%x has alloc base 0x%x, entity starts at 0x%x",
					s.BaseVA(), s.AllocBase(), e.StartVA())
			}
		}
	}

	// Entities are disjoint and ascending.
	for i := 1; i < len(entities); i++ {
		if entities[i].StartVA() < entities[i-1].EndVA() {
			t.Errorf("entities %d and %d overlap", i-1, i)
		}
	}

	// Each heap base lives in exactly one entity with a heap-flagged subregion.
	for _, h := range snap.Heaps() {
		var owners int
		for _, e := range entities {
			if !e.Contains(h) {
				continue
			}
			owners++
			var flagged bool
			for _, s := range e.Subregions() {
				if s.Flags()&memory.FlagHeap != 0 {
					flagged = true
				}
			}
			if !flagged {
				t.Errorf("heap 0x%x entity has no heap-flagged subregion", h)
			}
		}
		if owners != 1 {
			t.Errorf("heap 0x%x contained in %d entities, want 1", h, owners)
		}
	}

	// Each thread's stack lives in exactly one entity with a stack flag.
	for _, th := range snap.Threads() {
		var owners int
		for _, e := range entities {
			if !e.Contains(th.StackPointer()) {
				continue
			}
			owners++
			var flagged bool
			for _, s := range e.Subregions() {
				if s.Flags()&memory.FlagStack != 0 {
					flagged = true
				}
			}
			if !flagged {
				t.Errorf("stack of tid %d has no stack-flagged subregion", th.ID())
			}
		}
		if owners != 1 {
			t.Errorf("stack of tid %d contained in %d entities, want 1", th.ID(), owners)
		}
	}
}

func TestOpen_ArchitectureMismatch(t *testing.T) {
	sys := cleanSystem()
	sys.InspectorWow64 = true
	sys.TargetWow64 = false

	_, err := Open(100, sys, nil)
	if err == nil {
		t.Fatalf("Open() succeeded for a native target from a Wow64 inspector")
	}
	if !errors.IsArchMismatch(err) {
		t.Errorf("error kind = %v, want architecture_mismatch", errors.GetKind(err))
	}
	if sys.CloseCalls == 0 {
		t.Errorf("handle leaked on architecture rejection")
	}
}

func TestOpen_OpenFailed(t *testing.T) {
	sys := mocks.NewMockSystem()
	sys.OpenErr = fmt.Errorf("access is denied")

	_, err := Open(100, sys, nil)
	if !errors.IsOpenFailed(err) {
		t.Errorf("error kind = %v, want open_failed", errors.GetKind(err))
	}
}

func TestOpen_ThreadQueryAborts(t *testing.T) {
	sys := cleanSystem()
	sys.Threads = append(sys.Threads, mocks.MockThread{
		Tid: 43, OpenErr: fmt.Errorf("thread already terminated"),
	})

	_, err := Open(100, sys, nil)
	if err == nil {
		t.Fatalf("Open() succeeded despite a failed thread query")
	}
	if !errors.IsThreadQueryFailed(err) {
		t.Errorf("error kind = %v, want thread_query_failed", errors.GetKind(err))
	}
	if sys.CloseCalls == 0 {
		t.Errorf("handle leaked on thread abort")
	}
}

func TestOpen_HeapReadDegrades(t *testing.T) {
	sys := cleanSystem()
	sys.PebAddr = 0 // PEB unreadable

	snap, err := Open(100, sys, nil)
	if err != nil {
		t.Fatalf("Open() error = %v, heap failures must degrade", err)
	}
	defer snap.Close()
	if len(snap.Heaps()) != 0 {
		t.Errorf("Heaps() = %v, want empty", snap.Heaps())
	}
	if len(snap.Entities()) != 2 {
		t.Errorf("entity map truncated by heap degradation")
	}
}

func TestOpen_IdentityDegrades(t *testing.T) {
	sys := cleanSystem()
	sys.Name = ""
	sys.DevPath = ""

	snap, err := Open(100, sys, nil)
	if err != nil {
		t.Fatalf("Open() error = %v, identity failures must degrade", err)
	}
	defer snap.Close()
	if snap.Name() != "" || snap.ImagePath() != "" {
		t.Errorf("identity = %q/%q, want empty strings", snap.Name(), snap.ImagePath())
	}
}

// Mid-walk region disappearance: the pending group observed before the
// failure still appears in the final snapshot.
func TestOpen_MidWalkDisappearance(t *testing.T) {
	sys := cleanSystem()
	sys.FailAfter = 2 // heap region plus the image header, then queries fail

	snap, err := Open(100, sys, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer snap.Close()

	e, ok := snap.EntityAt(imageBase)
	if !ok {
		t.Fatalf("pending image group was not finalized on walk failure")
	}
	if len(e.Subregions()) != 1 {
		t.Errorf("finalized group has %d subregions, want exactly the 1 observed", len(e.Subregions()))
	}
	if _, ok := snap.EntityAt(heapBase); !ok {
		t.Errorf("heap entity lost on walk failure")
	}
}

func TestSelect_Block(t *testing.T) {
	snap := openClean(t, cleanSystem())

	got := snap.Select(SelectBlock, imageBase+0x1000, SelectOptions{}, nil)
	if len(got) != 1 || got[0].BaseVA() != imageBase+0x1000 {
		t.Fatalf("Select(Block) = %d subregions", len(got))
	}

	// From-base expands the match to the whole allocation, keyed by any
	// address inside it.
	got = snap.Select(SelectBlock, imageBase+0x1234, SelectOptions{FromBase: true}, nil)
	if len(got) != 3 {
		t.Errorf("Select(Block, FromBase) = %d subregions, want 3", len(got))
	}
}

func TestSelect_Suspicious(t *testing.T) {
	sys := cleanSystem()
	// Inject an executable private allocation.
	sys.Regions = append(sys.Regions[:1], append([]winapi.RegionInfo{
		region(0x30000000, 0x1000, 0x30000000, winapi.PageExecuteReadWrite, winapi.MemCommit, winapi.MemPrivate),
	}, sys.Regions[1:]...)...)

	snap := openClean(t, sys)
	m := suspicion.NewEngine(nil).Inspect(snap)
	m.Filter(suspicion.FilterConfig{})

	got := snap.Select(SelectSuspicious, 0, SelectOptions{}, m)
	if len(got) != 1 || got[0].BaseVA() != 0x30000000 {
		t.Fatalf("Select(Suspicious) = %d subregions", len(got))
	}

	got = snap.Select(SelectSuspicious, 0, SelectOptions{FromBase: true}, m)
	if len(got) != 1 {
		t.Errorf("Select(Suspicious, FromBase) = %d subregions, want the whole entity (1)", len(got))
	}
}

func TestStats(t *testing.T) {
	snap := openClean(t, cleanSystem())
	st := snap.Stats()

	if st.Committed != 0x14000 {
		t.Errorf("Committed = 0x%x, want 0x14000", st.Committed)
	}
	if st.Private != 0x10000 {
		t.Errorf("Private = 0x%x, want 0x10000", st.Private)
	}
	if st.Image != 0x4000 {
		t.Errorf("Image = 0x%x, want 0x4000", st.Image)
	}
	if st.Executable != 0x1000 {
		t.Errorf("Executable = 0x%x, want 0x1000", st.Executable)
	}
}

func TestSnapshot_PebModules(t *testing.T) {
	snap := openClean(t, cleanSystem())
	e, ok := snap.EntityAt(imageBase)
	if !ok {
		t.Fatalf("image entity missing")
	}
	mod := e.PebModule()
	if mod == nil {
		t.Fatalf("PebModule() = nil, loader list not read")
	}
	if mod.Name != "sample.dll" || mod.Base != imageBase {
		t.Errorf("module = %+v", mod)
	}
}
