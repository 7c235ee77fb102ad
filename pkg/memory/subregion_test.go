package memory

import (
	"testing"

	"github.com/f0829/moneta/pkg/winapi"
)

func TestAttribDesc(t *testing.T) {
	tests := []struct {
		name    string
		protect uint32
		want    string
	}{
		{"readonly", winapi.PageReadonly, "R       "},
		{"read-write", winapi.PageReadWrite, "RW      "},
		{"write-copy", winapi.PageWriteCopy, "RWC     "},
		{"execute", winapi.PageExecute, "X       "},
		{"execute-read", winapi.PageExecuteRead, "RX      "},
		{"execute-read-write", winapi.PageExecuteReadWrite, "RWX     "},
		{"execute-write-copy", winapi.PageExecuteWriteCopy, "RWXC    "},
		{"no access", winapi.PageNoAccess, "NA      "},
		{"guarded read-write", winapi.PageReadWrite | winapi.PageGuard, "RW+G    "},
		{"none", 0, "-       "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSubregion(winapi.RegionInfo{Protect: tt.protect}, 0)
			got := s.AttribDesc()
			if got != tt.want {
				t.Errorf("AttribDesc() = %q, want %q", got, tt.want)
			}
			if len(got) != 8 {
				t.Errorf("AttribDesc() length = %d, want fixed width 8", len(got))
			}
		})
	}
}

func TestProtectSymbol(t *testing.T) {
	tests := []struct {
		protect uint32
		want    string
	}{
		{winapi.PageReadonly, "PAGE_READONLY"},
		{winapi.PageExecuteReadWrite, "PAGE_EXECUTE_READWRITE"},
		{winapi.PageReadWrite | winapi.PageGuard, "PAGE_READWRITE | PAGE_GUARD"},
		{0, "N/A"},
	}

	for _, tt := range tests {
		if got := ProtectSymbol(tt.protect); got != tt.want {
			t.Errorf("ProtectSymbol(0x%x) = %q, want %q", tt.protect, got, tt.want)
		}
	}
}

func TestTypeAndStateSymbols(t *testing.T) {
	if got := TypeSymbol(winapi.MemImage); got != "MEM_IMAGE" {
		t.Errorf("TypeSymbol(MemImage) = %q", got)
	}
	if got := TypeSymbol(0); got != "N/A" {
		t.Errorf("TypeSymbol(0) = %q", got)
	}
	if got := StateSymbol(winapi.MemCommit); got != "MEM_COMMIT" {
		t.Errorf("StateSymbol(MemCommit) = %q", got)
	}
	if got := StateSymbol(winapi.MemReserve); got != "MEM_RESERVE" {
		t.Errorf("StateSymbol(MemReserve) = %q", got)
	}
}

func TestSubregionAccessors(t *testing.T) {
	info := winapi.RegionInfo{
		BaseAddress:       0x30001000,
		AllocationBase:    0x30000000,
		AllocationProtect: winapi.PageReadWrite,
		RegionSize:        0x2000,
		State:             winapi.MemCommit,
		Protect:           winapi.PageExecuteReadWrite,
		Type:              winapi.MemPrivate,
	}
	s := NewSubregion(info, 0x1000)

	if s.BaseVA() != 0x30001000 || s.EndVA() != 0x30003000 {
		t.Errorf("extent = [0x%x, 0x%x)", s.BaseVA(), s.EndVA())
	}
	if s.AllocBase() != 0x30000000 {
		t.Errorf("AllocBase() = 0x%x", s.AllocBase())
	}
	if s.PrivateSize() != 0x1000 {
		t.Errorf("PrivateSize() = 0x%x", s.PrivateSize())
	}
	if !s.Executable() {
		t.Errorf("Executable() = false for RWX")
	}
	if !s.Contains(0x30001000) || !s.Contains(0x30002FFF) || s.Contains(0x30003000) {
		t.Errorf("Contains() boundaries wrong")
	}
	if s.Flags() != 0 {
		t.Errorf("fresh subregion has flags 0x%x", s.Flags())
	}
}
