// Package winapi defines the system API surface the inspector core consumes
// and its Windows implementation. The core is written against the System
// interface so it can be exercised with a scripted fake on any platform; the
// real implementation binds kernel32/ntdll/psapi once at construction and is
// threaded explicitly to every component that needs it.
package winapi

import "strings"

// Handle is an opaque process handle.
type Handle uintptr

// Region state values (MEMORY_BASIC_INFORMATION.State).
const (
	MemCommit  = 0x1000
	MemReserve = 0x2000
	MemFree    = 0x10000
)

// Region type values (MEMORY_BASIC_INFORMATION.Type).
const (
	MemPrivate = 0x20000
	MemMapped  = 0x40000
	MemImage   = 0x1000000
)

// Page protection values (MEMORY_BASIC_INFORMATION.Protect).
const (
	PageNoAccess         = 0x01
	PageReadonly         = 0x02
	PageReadWrite        = 0x04
	PageWriteCopy        = 0x08
	PageExecute          = 0x10
	PageExecuteRead      = 0x20
	PageExecuteReadWrite = 0x40
	PageExecuteWriteCopy = 0x80
	PageGuard            = 0x100
)

// ExecutableMask covers every protection value carrying execute access.
const ExecutableMask = PageExecute | PageExecuteRead | PageExecuteReadWrite | PageExecuteWriteCopy

// WritableMask covers every protection value carrying write access.
const WritableMask = PageReadWrite | PageWriteCopy | PageExecuteReadWrite | PageExecuteWriteCopy

// Wow64PathExpand rewrites a System32 path to its SysWOW64 equivalent. The
// loader silently redirects compatibility-layer file accesses, so paths
// recorded for a Wow64 target name the directory the target actually maps.
func Wow64PathExpand(path string) string {
	const sys32 = `\system32\`
	idx := strings.Index(strings.ToLower(path), sys32)
	if idx < 0 {
		return path
	}
	return path[:idx] + `\SysWOW64\` + path[idx+len(sys32):]
}

// RegionInfo mirrors one MEMORY_BASIC_INFORMATION record with 64-bit
// addresses, whatever the pointer width of the inspector or the target.
type RegionInfo struct {
	BaseAddress       uint64
	AllocationBase    uint64
	AllocationProtect uint32
	RegionSize        uint64
	State             uint32
	Protect           uint32
	Type              uint32
}

// ThreadInfo carries the per-thread attributes the model anchors to regions.
// EntryPoint, TebBase and StackPointer are zero when the corresponding query
// was unavailable; absence is not an error.
type ThreadInfo struct {
	Tid          uint32
	EntryPoint   uint64
	TebBase      uint64
	StackPointer uint64
}

// System is the OS introspection surface consumed by the snapshot builder.
// All calls are synchronous; implementations own no state beyond cached
// procedure addresses.
type System interface {
	// OpenProcess opens the target for read + query access.
	OpenProcess(pid uint32) (Handle, error)

	// CloseHandle releases a handle returned by OpenProcess.
	CloseHandle(h Handle) error

	// ImageBaseName returns the module base name of the target.
	ImageBaseName(h Handle) (string, error)

	// ImageDevicePath returns the device-prefixed path of the main image.
	ImageDevicePath(h Handle) (string, error)

	// TranslateDevicePath canonicalizes a \Device\...-prefixed path.
	TranslateDevicePath(devicePath string) (string, error)

	// SelfWow64 reports whether the inspector runs under the compatibility layer.
	SelfWow64() bool

	// IsWow64 reports whether the target runs under the compatibility layer.
	IsWow64(h Handle) (bool, error)

	// PebAddress resolves the remote PEB address for the target architecture.
	PebAddress(h Handle, wow64 bool) (uint64, error)

	// ReadMemory copies size bytes from the target address space.
	ReadMemory(h Handle, addr uint64, size uint64) ([]byte, error)

	// QueryRegion describes the region containing addr. The error return
	// doubles as the end-of-address-space signal.
	QueryRegion(h Handle, addr uint64) (*RegionInfo, error)

	// RegionPrivateSize returns the resident non-shared byte count of a
	// region, best effort (zero when the query is unavailable).
	RegionPrivateSize(h Handle, r *RegionInfo) uint64

	// MappedFilePath returns the device path backing a mapped address.
	MappedFilePath(h Handle, addr uint64) (string, error)

	// ProcessIDs lists every process identifier visible to the inspector.
	ProcessIDs() ([]uint32, error)

	// ThreadIDs lists the thread identifiers owned by pid.
	ThreadIDs(pid uint32) ([]uint32, error)

	// ThreadInfo queries one thread's entry point, TEB and stack pointer.
	// A failure here means the thread could not be opened at all.
	ThreadInfo(h Handle, tid uint32) (*ThreadInfo, error)

	// ReadFile reads an on-disk artifact for image correlation.
	ReadFile(path string) ([]byte, error)

	// UserSpaceLimit returns the highest user-mode address of the target.
	UserSpaceLimit() uint64
}
