package memdump

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/f0829/moneta/pkg/errors"
	"github.com/f0829/moneta/pkg/memory"
	"github.com/f0829/moneta/pkg/winapi"
)

func committed(base, size uint64) *memory.Subregion {
	return memory.NewSubregion(winapi.RegionInfo{
		BaseAddress:    base,
		AllocationBase: base,
		RegionSize:     size,
		Protect:        winapi.PageReadWrite,
		State:          winapi.MemCommit,
		Type:           winapi.MemPrivate,
	}, 0)
}

func reader(payload []byte) ReadFunc {
	return func(addr, size uint64) ([]byte, error) {
		return payload, nil
	}
}

func TestCreate(t *testing.T) {
	dir := t.TempDir()
	d := New(dir, 1234, false)
	defer d.Close()

	payload := bytes.Repeat([]byte{0xAB}, 0x1000)
	path, err := d.Create(committed(0x30000000, 0x1000), reader(payload))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if !strings.HasSuffix(path, "1234_30000000.dmp") {
		t.Errorf("dump path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading dump: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("dump content differs from region bytes")
	}
}

func TestCreate_Compressed(t *testing.T) {
	dir := t.TempDir()
	d := New(dir, 1234, true)
	defer d.Close()

	payload := bytes.Repeat([]byte("moneta"), 1000)
	path, err := d.Create(committed(0x40000000, uint64(len(payload))), reader(payload))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasSuffix(path, ".dmp.zst") {
		t.Errorf("compressed dump path = %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading dump: %v", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()
	plain, err := dec.DecodeAll(data, nil)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(plain, payload) {
		t.Errorf("decompressed dump differs from region bytes")
	}
}

// A dump of non-committed memory is a defined failure, never silence.
func TestCreate_NotCommitted(t *testing.T) {
	d := New(t.TempDir(), 1, false)
	defer d.Close()

	reserved := memory.NewSubregion(winapi.RegionInfo{
		BaseAddress:    0x50000000,
		AllocationBase: 0x50000000,
		RegionSize:     0x1000,
		State:          winapi.MemReserve,
		Type:           winapi.MemPrivate,
	}, 0)

	_, err := d.Create(reserved, reader(nil))
	if err == nil {
		t.Fatalf("Create() succeeded on reserved memory")
	}
	if errors.GetKind(err) != errors.KindNotCommitted {
		t.Errorf("error kind = %v, want not_committed", errors.GetKind(err))
	}
}

func TestCreate_ReadFailure(t *testing.T) {
	d := New(t.TempDir(), 1, false)
	defer d.Close()

	_, err := d.Create(committed(0x60000000, 0x1000), func(addr, size uint64) ([]byte, error) {
		return nil, fmt.Errorf("partial copy")
	})
	if err == nil {
		t.Fatalf("Create() succeeded despite a failed read")
	}
}

func TestCreateEntity(t *testing.T) {
	d := New(t.TempDir(), 7, false)
	defer d.Close()

	region := func(base uint64, state uint32) *memory.Subregion {
		return memory.NewSubregion(winapi.RegionInfo{
			BaseAddress:    base,
			AllocationBase: 0x70000000,
			RegionSize:     0x1000,
			Protect:        winapi.PageReadWrite,
			State:          state,
			Type:           winapi.MemPrivate,
		}, 0)
	}
	run := []*memory.Subregion{
		region(0x70000000, winapi.MemCommit),
		region(0x70001000, winapi.MemReserve),
		region(0x70002000, winapi.MemCommit),
	}
	e, err := memory.BuildEntity(run, &memory.BuildEnv{})
	if err != nil {
		t.Fatalf("BuildEntity() error = %v", err)
	}

	paths, err := d.CreateEntity(e, reader([]byte{1, 2, 3}))
	if err != nil {
		t.Fatalf("CreateEntity() error = %v", err)
	}
	if len(paths) != 2 {
		t.Errorf("dumped %d subregions, want the 2 committed ones", len(paths))
	}
}

// All dumps of one run share a single batch directory.
func TestBatchDir_Stable(t *testing.T) {
	d := New(t.TempDir(), 9, false)
	defer d.Close()

	a, err := d.BatchDir()
	if err != nil {
		t.Fatalf("BatchDir() error = %v", err)
	}
	b, _ := d.BatchDir()
	if a != b {
		t.Errorf("batch dir changed between calls: %q then %q", a, b)
	}
}
