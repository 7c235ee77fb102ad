package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/f0829/moneta/pkg/logging"
	"github.com/f0829/moneta/pkg/mocks"
	"github.com/f0829/moneta/pkg/process"
	"github.com/f0829/moneta/pkg/suspicion"
	"github.com/f0829/moneta/pkg/winapi"
)

func fixtureSystem() *mocks.MockSystem {
	sys := mocks.NewMockSystem()
	sys.Name = "victim.exe"
	sys.DevPath = `\Device\HarddiskVolume2\apps\victim.exe`
	sys.Translated[sys.DevPath] = `C:\apps\victim.exe`
	sys.Regions = []winapi.RegionInfo{
		{
			BaseAddress:    0x30000000,
			AllocationBase: 0x30000000,
			RegionSize:     0x1000,
			Protect:        winapi.PageExecuteReadWrite,
			State:          winapi.MemCommit,
			Type:           winapi.MemPrivate,
		},
	}
	return sys
}

func TestRender_SuspiciousPrivateRegion(t *testing.T) {
	snap, err := process.Open(55, fixtureSystem(), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer snap.Close()

	m := suspicion.NewEngine(nil).Inspect(snap)
	m.Filter(suspicion.FilterConfig{})
	selected := snap.Select(process.SelectAll, 0, process.SelectOptions{}, nil)

	var buf bytes.Buffer
	New(&buf, logging.VerbositySurface).Render(snap, selected, m)
	out := buf.String()

	for _, want := range []string{
		"victim.exe : 55 : x64",
		`C:\apps\victim.exe`,
		"Private",
		"0x0000000030000000:0x00001000",
		"RWX",
		"Abnormal executable private memory",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRender_DetailTier(t *testing.T) {
	snap, err := process.Open(55, fixtureSystem(), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer snap.Close()

	selected := snap.Select(process.SelectAll, 0, process.SelectOptions{}, nil)

	var surface, detail bytes.Buffer
	New(&surface, logging.VerbositySurface).Render(snap, selected, nil)
	New(&detail, logging.VerbosityDetail).Render(snap, selected, nil)

	if strings.Contains(surface.String(), "Permissions:") {
		t.Errorf("surface tier printed the attribute breakdown")
	}
	for _, want := range []string{
		"Permissions: PAGE_EXECUTE_READWRITE",
		"Type: MEM_PRIVATE",
		"State: MEM_COMMIT",
		"Allocation base: 0x30000000",
	} {
		if !strings.Contains(detail.String(), want) {
			t.Errorf("detail output missing %q", want)
		}
	}
}

func TestRender_EmptySelection(t *testing.T) {
	snap, err := process.Open(55, fixtureSystem(), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer snap.Close()

	var buf bytes.Buffer
	New(&buf, logging.VerbositySurface).Render(snap, nil, nil)
	if buf.Len() != 0 {
		t.Errorf("empty selection produced output: %q", buf.String())
	}
}

func TestRenderStats(t *testing.T) {
	snap, err := process.Open(55, fixtureSystem(), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer snap.Close()

	var buf bytes.Buffer
	New(&buf, logging.VerbositySurface).RenderStats(snap.Stats())
	out := buf.String()

	if !strings.Contains(out, "Committed: 4096 bytes (4096 private, 0 mapped, 0 image)") {
		t.Errorf("stats output = %q", out)
	}
	if !strings.Contains(out, "Executable: 4096 bytes") {
		t.Errorf("stats output missing executable total: %q", out)
	}
}
