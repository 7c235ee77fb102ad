//go:build windows

package signing

import (
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modwintrust        = windows.NewLazySystemDLL("wintrust.dll")
	procWinVerifyTrust = modwintrust.NewProc("WinVerifyTrust")
)

const (
	trustENoSignature = 0x800B0100

	wtdUINone           = 2
	wtdRevokeNone       = 0
	wtdChoiceFile       = 1
	wtdStateActionVerify = 1
	wtdStateActionClose  = 2
	wtdCacheOnlyURLRetrieval = 0x1000
)

// wintrustActionGenericVerifyV2
var actionGenericVerifyV2 = windows.GUID{
	Data1: 0xaac56b,
	Data2: 0xcd44,
	Data3: 0x11d0,
	Data4: [8]byte{0x8c, 0xc2, 0x00, 0xc0, 0x4f, 0xc2, 0x95, 0xee},
}

type wintrustFileInfo struct {
	CbStruct     uint32
	FilePath     *uint16
	FileHandle   windows.Handle
	KnownSubject *windows.GUID
}

type wintrustData struct {
	CbStruct           uint32
	PolicyCallbackData uintptr
	SIPClientData      uintptr
	UIChoice           uint32
	RevocationChecks   uint32
	UnionChoice        uint32
	FileInfo           *wintrustFileInfo
	StateAction        uint32
	StateData          uintptr
	URLReference       uintptr
	ProvFlags          uint32
	UIContext          uint32
	SignatureSettings  uintptr
}

// AuthenticodeOracle classifies files through WinVerifyTrust.
type AuthenticodeOracle struct{}

// NewOracle returns the platform signing oracle.
func NewOracle() Oracle {
	return AuthenticodeOracle{}
}

// Classify runs an embedded Authenticode verification of path. Verification
// failure degrades to unsigned; only the OS-level trust verdict is consulted,
// never a publisher allowlist.
func (AuthenticodeOracle) Classify(path string) (Classification, error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return Unsigned, err
	}

	fileInfo := wintrustFileInfo{
		FilePath: pathPtr,
	}
	fileInfo.CbStruct = uint32(unsafe.Sizeof(fileInfo))

	data := wintrustData{
		UIChoice:         wtdUINone,
		RevocationChecks: wtdRevokeNone,
		UnionChoice:      wtdChoiceFile,
		FileInfo:         &fileInfo,
		StateAction:      wtdStateActionVerify,
		ProvFlags:        wtdCacheOnlyURLRetrieval,
	}
	data.CbStruct = uint32(unsafe.Sizeof(data))

	status, _, _ := procWinVerifyTrust.Call(
		uintptr(0),
		uintptr(unsafe.Pointer(&actionGenericVerifyV2)),
		uintptr(unsafe.Pointer(&data)),
	)

	data.StateAction = wtdStateActionClose
	procWinVerifyTrust.Call(
		uintptr(0),
		uintptr(unsafe.Pointer(&actionGenericVerifyV2)),
		uintptr(unsafe.Pointer(&data)),
	)

	if uint32(status) != 0 {
		return Unsigned, nil
	}

	c := Classification{Signed: true, Kind: KindEmbedded, Level: LevelAuthenticode}
	if isWindowsSystemPath(path) {
		c.Level = LevelWindows
	}
	return c, nil
}

func isWindowsSystemPath(path string) bool {
	p := strings.ToLower(path)
	return strings.HasPrefix(p, `c:\windows\`)
}

var _ Oracle = AuthenticodeOracle{}
