//go:build windows

package winapi

import (
	"os"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/f0829/moneta/pkg/errors"
)

var (
	modntdll                      = windows.NewLazySystemDLL("ntdll.dll")
	procNtQueryInformationProcess = modntdll.NewProc("NtQueryInformationProcess")
	procNtQueryInformationThread  = modntdll.NewProc("NtQueryInformationThread")

	modpsapi                    = windows.NewLazySystemDLL("psapi.dll")
	procQueryWorkingSetEx       = modpsapi.NewProc("QueryWorkingSetEx")
	procGetProcessImageFileName = modpsapi.NewProc("GetProcessImageFileNameW")
	procGetMappedFileName       = modpsapi.NewProc("GetMappedFileNameW")
)

const (
	processBasicInformation = 0
	processWow64Information = 26

	threadBasicInformation    = 0
	threadQuerySetWin32Start  = 9
	thQueryLimitedInformation = 0x0800
)

type processBasicInfo struct {
	ExitStatus                   uintptr
	PebBaseAddress               uintptr
	AffinityMask                 uintptr
	BasePriority                 uintptr
	UniqueProcessID              uintptr
	InheritedFromUniqueProcessID uintptr
}

type threadBasicInfo struct {
	ExitStatus     uintptr
	TebBaseAddress uintptr
	UniqueProcess  uintptr
	UniqueThread   uintptr
	AffinityMask   uintptr
	Priority       int32
	BasePriority   int32
}

type workingSetExInfo struct {
	VirtualAddress    uintptr
	VirtualAttributes uintptr
}

// NativeSystem implements System on top of kernel32/ntdll/psapi.
type NativeSystem struct {
	selfWow64      bool
	userSpaceLimit uint64
}

// NewSystem probes the inspector's own architecture and address limits once.
func NewSystem() (*NativeSystem, error) {
	var selfWow64 bool
	if err := windows.IsWow64Process(windows.CurrentProcess(), &selfWow64); err != nil {
		selfWow64 = false
	}

	var si systemInfo
	procGetNativeSystemInfo.Call(uintptr(unsafe.Pointer(&si)))

	return &NativeSystem{
		selfWow64:      selfWow64,
		userSpaceLimit: uint64(si.MaximumApplicationAddress),
	}, nil
}

var (
	modkernel32             = windows.NewLazySystemDLL("kernel32.dll")
	procGetNativeSystemInfo = modkernel32.NewProc("GetNativeSystemInfo")
)

type systemInfo struct {
	ProcessorArchitecture     uint16
	Reserved                  uint16
	PageSize                  uint32
	MinimumApplicationAddress uintptr
	MaximumApplicationAddress uintptr
	ActiveProcessorMask       uintptr
	NumberOfProcessors        uint32
	ProcessorType             uint32
	AllocationGranularity     uint32
	ProcessorLevel            uint16
	ProcessorRevision         uint16
}

func (s *NativeSystem) OpenProcess(pid uint32) (Handle, error) {
	h, err := windows.OpenProcess(windows.PROCESS_VM_READ|windows.PROCESS_QUERY_INFORMATION, false, pid)
	if err != nil {
		return 0, errors.E(errors.KindOpenFailed, "winapi.OpenProcess", "cannot open target", err)
	}
	return Handle(h), nil
}

func (s *NativeSystem) CloseHandle(h Handle) error {
	return windows.CloseHandle(windows.Handle(h))
}

func (s *NativeSystem) ImageBaseName(h Handle) (string, error) {
	var buf [windows.MAX_PATH + 1]uint16
	if err := windows.GetModuleBaseName(windows.Handle(h), 0, &buf[0], uint32(len(buf))); err != nil {
		return "", errors.Wrap(err, "winapi.ImageBaseName")
	}
	return windows.UTF16ToString(buf[:]), nil
}

func (s *NativeSystem) ImageDevicePath(h Handle) (string, error) {
	var buf [windows.MAX_PATH + 1]uint16
	ret, _, err := procGetProcessImageFileName.Call(
		uintptr(h),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
	)
	if ret == 0 {
		return "", errors.Wrap(err, "winapi.ImageDevicePath")
	}
	return windows.UTF16ToString(buf[:]), nil
}

// TranslateDevicePath rewrites a \Device\HarddiskVolumeN prefix to its drive
// letter by probing every logical drive's DOS device mapping.
func (s *NativeSystem) TranslateDevicePath(devicePath string) (string, error) {
	buf := make([]uint16, 512)
	n, err := windows.GetLogicalDriveStrings(uint32(len(buf)), &buf[0])
	if err != nil || n == 0 {
		return "", errors.Wrap(err, "winapi.TranslateDevicePath")
	}

	for _, root := range splitNulStrings(buf[:n]) {
		drive := strings.TrimSuffix(root, `\`)
		drivePtr, err := windows.UTF16PtrFromString(drive)
		if err != nil {
			continue
		}
		target := make([]uint16, windows.MAX_PATH)
		if _, err := windows.QueryDosDevice(drivePtr, &target[0], uint32(len(target))); err != nil {
			continue
		}
		devPrefix := windows.UTF16ToString(target)
		if devPrefix != "" && hasPrefixFold(devicePath, devPrefix+`\`) {
			return drive + devicePath[len(devPrefix):], nil
		}
	}

	return "", errors.E("winapi.TranslateDevicePath", "no matching DOS device for "+devicePath)
}

func splitNulStrings(buf []uint16) []string {
	var out []string
	start := 0
	for i, c := range buf {
		if c == 0 {
			if i > start {
				out = append(out, windows.UTF16ToString(buf[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func (s *NativeSystem) SelfWow64() bool {
	return s.selfWow64
}

func (s *NativeSystem) IsWow64(h Handle) (bool, error) {
	var wow64 bool
	if err := windows.IsWow64Process(windows.Handle(h), &wow64); err != nil {
		return false, errors.Wrap(err, "winapi.IsWow64")
	}
	return wow64, nil
}

func (s *NativeSystem) PebAddress(h Handle, wow64 bool) (uint64, error) {
	if wow64 {
		var peb32 uintptr
		status, _, _ := procNtQueryInformationProcess.Call(
			uintptr(h),
			processWow64Information,
			uintptr(unsafe.Pointer(&peb32)),
			unsafe.Sizeof(peb32),
			0,
		)
		if status != 0 {
			return 0, errors.E("winapi.PebAddress", "NtQueryInformationProcess(Wow64Information) failed", windows.NTStatus(status))
		}
		return uint64(peb32), nil
	}

	var pbi processBasicInfo
	status, _, _ := procNtQueryInformationProcess.Call(
		uintptr(h),
		processBasicInformation,
		uintptr(unsafe.Pointer(&pbi)),
		unsafe.Sizeof(pbi),
		0,
	)
	if status != 0 {
		return 0, errors.E("winapi.PebAddress", "NtQueryInformationProcess(BasicInformation) failed", windows.NTStatus(status))
	}
	return uint64(pbi.PebBaseAddress), nil
}

func (s *NativeSystem) ReadMemory(h Handle, addr uint64, size uint64) ([]byte, error) {
	buf := make([]byte, size)
	var read uintptr
	err := windows.ReadProcessMemory(windows.Handle(h), uintptr(addr), &buf[0], uintptr(size), &read)
	if err != nil {
		return nil, errors.Wrap(err, "winapi.ReadMemory")
	}
	return buf[:read], nil
}

func (s *NativeSystem) QueryRegion(h Handle, addr uint64) (*RegionInfo, error) {
	var mbi windows.MemoryBasicInformation
	err := windows.VirtualQueryEx(windows.Handle(h), uintptr(addr), &mbi, unsafe.Sizeof(mbi))
	if err != nil {
		return nil, errors.Wrap(err, "winapi.QueryRegion")
	}
	return &RegionInfo{
		BaseAddress:       uint64(mbi.BaseAddress),
		AllocationBase:    uint64(mbi.AllocationBase),
		AllocationProtect: mbi.AllocationProtect,
		RegionSize:        uint64(mbi.RegionSize),
		State:             mbi.State,
		Protect:           mbi.Protect,
		Type:              mbi.Type,
	}, nil
}

// RegionPrivateSize counts resident non-shared pages via QueryWorkingSetEx.
func (s *NativeSystem) RegionPrivateSize(h Handle, r *RegionInfo) uint64 {
	const pageSize = 0x1000
	pages := r.RegionSize / pageSize
	if pages == 0 || r.State != MemCommit {
		return 0
	}

	attrs := make([]workingSetExInfo, pages)
	for i := range attrs {
		attrs[i].VirtualAddress = uintptr(r.BaseAddress + uint64(i)*pageSize)
	}

	ret, _, _ := procQueryWorkingSetEx.Call(
		uintptr(h),
		uintptr(unsafe.Pointer(&attrs[0])),
		uintptr(len(attrs))*unsafe.Sizeof(attrs[0]),
	)
	if ret == 0 {
		return 0
	}

	var private uint64
	for _, a := range attrs {
		// PSAPI_WORKING_SET_EX_BLOCK: bit 0 = Valid, bit 15 = Shared.
		if a.VirtualAttributes&1 != 0 && a.VirtualAttributes&0x8000 == 0 {
			private += pageSize
		}
	}
	return private
}

func (s *NativeSystem) MappedFilePath(h Handle, addr uint64) (string, error) {
	var buf [windows.MAX_PATH + 1]uint16
	ret, _, err := procGetMappedFileName.Call(
		uintptr(h),
		uintptr(addr),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
	)
	if ret == 0 {
		return "", errors.Wrap(err, "winapi.MappedFilePath")
	}
	return windows.UTF16ToString(buf[:]), nil
}

func (s *NativeSystem) ProcessIDs() ([]uint32, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, errors.Wrap(err, "winapi.ProcessIDs")
	}
	defer windows.CloseHandle(snap)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))

	var pids []uint32
	err = windows.Process32First(snap, &entry)
	for err == nil {
		// System Idle Process (0) and System (4) are never inspectable from
		// user mode.
		if entry.ProcessID > 4 {
			pids = append(pids, entry.ProcessID)
		}
		err = windows.Process32Next(snap, &entry)
	}
	return pids, nil
}

func (s *NativeSystem) ThreadIDs(pid uint32) ([]uint32, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPTHREAD, 0)
	if err != nil {
		return nil, errors.Wrap(err, "winapi.ThreadIDs")
	}
	defer windows.CloseHandle(snap)

	var entry windows.ThreadEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))

	var tids []uint32
	err = windows.Thread32First(snap, &entry)
	for err == nil {
		if entry.OwnerProcessID == pid {
			tids = append(tids, entry.ThreadID)
		}
		err = windows.Thread32Next(snap, &entry)
	}
	return tids, nil
}

func (s *NativeSystem) ThreadInfo(h Handle, tid uint32) (*ThreadInfo, error) {
	th, err := windows.OpenThread(thQueryLimitedInformation, false, tid)
	if err != nil {
		return nil, errors.E(errors.KindThreadQuery, "winapi.ThreadInfo", "cannot open thread", err)
	}
	defer windows.CloseHandle(th)

	info := &ThreadInfo{Tid: tid}

	var entry uintptr
	status, _, _ := procNtQueryInformationThread.Call(
		uintptr(th),
		threadQuerySetWin32Start,
		uintptr(unsafe.Pointer(&entry)),
		unsafe.Sizeof(entry),
		0,
	)
	if status == 0 {
		info.EntryPoint = uint64(entry)
	}

	var tbi threadBasicInfo
	status, _, _ = procNtQueryInformationThread.Call(
		uintptr(th),
		threadBasicInformation,
		uintptr(unsafe.Pointer(&tbi)),
		unsafe.Sizeof(tbi),
		0,
	)
	if status == 0 && tbi.TebBaseAddress != 0 {
		info.TebBase = uint64(tbi.TebBaseAddress)

		// NT_TIB.StackLimit sits at offset 0x10 of the TEB; the running
		// stack pointer lies inside [StackLimit, StackBase).
		if tib, err := s.ReadMemory(h, info.TebBase+0x10, 8); err == nil && len(tib) == 8 {
			info.StackPointer = leUint64(tib)
		}
	}

	return info, nil
}

func leUint64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

func (s *NativeSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (s *NativeSystem) UserSpaceLimit() uint64 {
	return s.userSpaceLimit
}

var _ System = (*NativeSystem)(nil)
