package report

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/f0829/moneta/pkg/memory"
	"github.com/f0829/moneta/pkg/suspicion"
	"github.com/f0829/moneta/pkg/winapi"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "moneta.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testMap(t *testing.T) *suspicion.Map {
	t.Helper()
	e, err := memory.BuildEntity([]*memory.Subregion{
		memory.NewSubregion(winapi.RegionInfo{
			BaseAddress:    0x30000000,
			AllocationBase: 0x30000000,
			RegionSize:     0x1000,
			Protect:        winapi.PageExecuteReadWrite,
			State:          winapi.MemCommit,
			Type:           winapi.MemPrivate,
		}, 0),
	}, &memory.BuildEnv{})
	if err != nil {
		t.Fatalf("BuildEntity() error = %v", err)
	}

	return suspicion.NewEngine(nil).Inspect(entityHolder{e})
}

type entityHolder struct{ e *memory.Entity }

func (h entityHolder) Entities() []*memory.Entity { return []*memory.Entity{h.e} }
func (h entityHolder) ReadMemory(addr, size uint64) ([]byte, error) {
	return nil, nil
}

func TestSaveScan_Roundtrip(t *testing.T) {
	store := testStore(t)
	m := testMap(t)

	sum := ScanSummary{
		Pid:            1234,
		ImageName:      "target.exe",
		ImagePath:      `C:\Apps\target.exe`,
		EntityCount:    1,
		SuspicionCount: m.Len(),
		Duration:       125 * time.Millisecond,
	}

	scanID, err := store.SaveScan(context.Background(), sum, m)
	if err != nil {
		t.Fatalf("SaveScan() error = %v", err)
	}
	if scanID == "" {
		t.Fatalf("SaveScan() returned an empty scan id")
	}

	rows, err := store.SuspicionsByScan(context.Background(), scanID)
	if err != nil {
		t.Fatalf("SuspicionsByScan() error = %v", err)
	}
	if len(rows) != m.Len() {
		t.Fatalf("persisted %d suspicions, want %d", len(rows), m.Len())
	}

	r := rows[0]
	if r.Kind != suspicion.KindXPrv {
		t.Errorf("kind = %v, want XPRV", r.Kind)
	}
	if r.Severity != suspicion.LevelCritical {
		t.Errorf("severity = %v, want critical", r.Severity)
	}
	if r.AllocBase != 0x30000000 || r.SubregionBase != 0x30000000 {
		t.Errorf("anchors = 0x%x/0x%x", r.AllocBase, r.SubregionBase)
	}
	if r.EntityScope {
		t.Errorf("XPRV persisted as entity scope")
	}
	if len(r.Fingerprint) != 64 {
		t.Errorf("fingerprint length = %d", len(r.Fingerprint))
	}
}

// Serializing then deserializing preserves ordering and cardinality.
func TestSaveScan_PreservesOrder(t *testing.T) {
	store := testStore(t)

	var subs []*memory.Subregion
	for _, base := range []uint64{0x90000000, 0x30000000, 0x50000000} {
		subs = append(subs, memory.NewSubregion(winapi.RegionInfo{
			BaseAddress:    base,
			AllocationBase: base,
			RegionSize:     0x1000,
			Protect:        winapi.PageExecuteReadWrite,
			State:          winapi.MemCommit,
			Type:           winapi.MemPrivate,
		}, 0))
	}

	var entities []*memory.Entity
	for _, s := range subs {
		e, err := memory.BuildEntity([]*memory.Subregion{s}, &memory.BuildEnv{})
		if err != nil {
			t.Fatalf("BuildEntity() error = %v", err)
		}
		entities = append(entities, e)
	}

	m := suspicion.NewEngine(nil).Inspect(multiHolder(entities))

	scanID, err := store.SaveScan(context.Background(), ScanSummary{Pid: 1}, m)
	if err != nil {
		t.Fatalf("SaveScan() error = %v", err)
	}

	rows, err := store.SuspicionsByScan(context.Background(), scanID)
	if err != nil {
		t.Fatalf("SuspicionsByScan() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("row count = %d, want 3", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].AllocBase < rows[i-1].AllocBase {
			t.Errorf("rows not in address order: 0x%x after 0x%x", rows[i].AllocBase, rows[i-1].AllocBase)
		}
	}
}

type multiHolder []*memory.Entity

func (h multiHolder) Entities() []*memory.Entity { return h }
func (h multiHolder) ReadMemory(addr, size uint64) ([]byte, error) {
	return nil, nil
}

func TestSeenBefore(t *testing.T) {
	store := testStore(t)
	m := testMap(t)
	sum := ScanSummary{Pid: 1234, ImagePath: `C:\Apps\target.exe`, SuspicionCount: m.Len()}

	first, err := store.SaveScan(context.Background(), sum, m)
	if err != nil {
		t.Fatalf("SaveScan() error = %v", err)
	}
	second, err := store.SaveScan(context.Background(), sum, m)
	if err != nil {
		t.Fatalf("SaveScan() error = %v", err)
	}

	rows, err := store.SuspicionsByScan(context.Background(), second)
	if err != nil || len(rows) == 0 {
		t.Fatalf("SuspicionsByScan() = %v, %v", rows, err)
	}

	seen, err := store.SeenBefore(context.Background(), rows[0].Fingerprint, second)
	if err != nil {
		t.Fatalf("SeenBefore() error = %v", err)
	}
	if !seen {
		t.Errorf("identical finding from scan %s not recognized", first)
	}

	seen, err = store.SeenBefore(context.Background(), "no-such-fingerprint", second)
	if err != nil {
		t.Fatalf("SeenBefore() error = %v", err)
	}
	if seen {
		t.Errorf("unknown fingerprint reported as seen")
	}
}
