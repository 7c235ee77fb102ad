// Package mocks provides mock implementations for testing.
package mocks

import (
	"fmt"

	"github.com/f0829/moneta/pkg/winapi"
)

// MockThread scripts one target thread for a MockSystem.
type MockThread struct {
	Tid          uint32
	EntryPoint   uint64
	TebBase      uint64
	StackPointer uint64

	// OpenErr, when set, makes the per-thread query fail.
	OpenErr error
}

// MockSystem is a scripted implementation of winapi.System. Regions are
// served in slice order against ascending query addresses, the way the real
// region walk observes them; files, paths and threads come from the fixture
// tables. Unset optional fields degrade the same way the real system does.
type MockSystem struct {
	// Pid and OpenErr script OpenProcess.
	Pid     uint32
	OpenErr error

	// Identity
	Name       string
	DevPath    string
	Translated map[string]string

	// Architecture
	InspectorWow64 bool
	TargetWow64    bool

	// Address space
	Regions []winapi.RegionInfo
	Limit   uint64

	// FailAfter, when positive, fails every region query after that many
	// successful ones, simulating mid-walk disappearance.
	FailAfter int

	// Remote memory and disk fixtures
	Memory map[uint64][]byte
	Files  map[string][]byte

	// Mapped-section backing paths by allocation base (device form).
	MappedPaths map[uint64]string

	// PEB fixtures; when PebAddr is zero the PEB is unreadable.
	PebAddr uint64

	// Threads
	Threads      []MockThread
	ThreadIDsErr error

	// Sweep fixtures
	Pids []uint32

	// Call tracking
	QueryCalls int
	CloseCalls int
}

// NewMockSystem returns a mock with a 64-bit user-space limit.
func NewMockSystem() *MockSystem {
	return &MockSystem{
		Limit:      0x7FFFFFFEFFFF,
		Translated: make(map[string]string),
	}
}

func (m *MockSystem) OpenProcess(pid uint32) (winapi.Handle, error) {
	if m.OpenErr != nil {
		return 0, m.OpenErr
	}
	return winapi.Handle(0x1000 + uintptr(pid)), nil
}

func (m *MockSystem) CloseHandle(h winapi.Handle) error {
	m.CloseCalls++
	return nil
}

func (m *MockSystem) ImageBaseName(h winapi.Handle) (string, error) {
	if m.Name == "" {
		return "", fmt.Errorf("image name unavailable")
	}
	return m.Name, nil
}

func (m *MockSystem) ImageDevicePath(h winapi.Handle) (string, error) {
	if m.DevPath == "" {
		return "", fmt.Errorf("image path unavailable")
	}
	return m.DevPath, nil
}

func (m *MockSystem) TranslateDevicePath(devicePath string) (string, error) {
	if p, ok := m.Translated[devicePath]; ok {
		return p, nil
	}
	return "", fmt.Errorf("no DOS device for %s", devicePath)
}

func (m *MockSystem) SelfWow64() bool { return m.InspectorWow64 }

func (m *MockSystem) IsWow64(h winapi.Handle) (bool, error) {
	return m.TargetWow64, nil
}

func (m *MockSystem) PebAddress(h winapi.Handle, wow64 bool) (uint64, error) {
	if m.PebAddr == 0 {
		return 0, fmt.Errorf("peb unavailable")
	}
	return m.PebAddr, nil
}

func (m *MockSystem) ReadMemory(h winapi.Handle, addr uint64, size uint64) ([]byte, error) {
	if buf, ok := m.Memory[addr]; ok {
		if uint64(len(buf)) > size {
			return buf[:size], nil
		}
		return buf, nil
	}

	// Serve reads that land inside a scripted buffer.
	for base, buf := range m.Memory {
		if addr > base && addr < base+uint64(len(buf)) {
			off := addr - base
			end := off + size
			if end > uint64(len(buf)) {
				end = uint64(len(buf))
			}
			return buf[off:end], nil
		}
	}
	return nil, fmt.Errorf("unreadable address 0x%x", addr)
}

func (m *MockSystem) QueryRegion(h winapi.Handle, addr uint64) (*winapi.RegionInfo, error) {
	if m.FailAfter > 0 && m.QueryCalls >= m.FailAfter {
		return nil, fmt.Errorf("query failed at 0x%x", addr)
	}

	for i := range m.Regions {
		r := m.Regions[i]
		if addr >= r.BaseAddress && addr < r.BaseAddress+r.RegionSize {
			m.QueryCalls++
			return &r, nil
		}
		if r.BaseAddress > addr {
			m.QueryCalls++
			return &r, nil
		}
	}
	return nil, fmt.Errorf("end of address space at 0x%x", addr)
}

func (m *MockSystem) RegionPrivateSize(h winapi.Handle, r *winapi.RegionInfo) uint64 {
	if r.State == winapi.MemCommit && r.Type == winapi.MemPrivate {
		return r.RegionSize
	}
	return 0
}

func (m *MockSystem) MappedFilePath(h winapi.Handle, addr uint64) (string, error) {
	if p, ok := m.MappedPaths[addr]; ok {
		return p, nil
	}
	return "", fmt.Errorf("no mapped file at 0x%x", addr)
}

func (m *MockSystem) ProcessIDs() ([]uint32, error) {
	return m.Pids, nil
}

func (m *MockSystem) ThreadIDs(pid uint32) ([]uint32, error) {
	if m.ThreadIDsErr != nil {
		return nil, m.ThreadIDsErr
	}
	tids := make([]uint32, 0, len(m.Threads))
	for _, t := range m.Threads {
		tids = append(tids, t.Tid)
	}
	return tids, nil
}

func (m *MockSystem) ThreadInfo(h winapi.Handle, tid uint32) (*winapi.ThreadInfo, error) {
	for _, t := range m.Threads {
		if t.Tid == tid {
			if t.OpenErr != nil {
				return nil, t.OpenErr
			}
			return &winapi.ThreadInfo{
				Tid:          t.Tid,
				EntryPoint:   t.EntryPoint,
				TebBase:      t.TebBase,
				StackPointer: t.StackPointer,
			}, nil
		}
	}
	return nil, fmt.Errorf("no such thread %d", tid)
}

func (m *MockSystem) ReadFile(path string) ([]byte, error) {
	if data, ok := m.Files[path]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("cannot open %s", path)
}

func (m *MockSystem) UserSpaceLimit() uint64 { return m.Limit }

var _ winapi.System = (*MockSystem)(nil)
