package process

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/f0829/moneta/pkg/memory"
	"github.com/f0829/moneta/pkg/winapi"
)

// Field offsets within the target's process environment block. The layout is
// chosen by the target's architecture flag, not the inspector's.
const (
	peb64Ldr           = 0x18
	peb64NumberOfHeaps = 0xE8
	peb64ProcessHeaps  = 0xF0

	peb32Ldr           = 0x0C
	peb32NumberOfHeaps = 0x88
	peb32ProcessHeaps  = 0x90

	// PEB_LDR_DATA.InLoadOrderModuleList
	ldr64InLoadOrderList = 0x10
	ldr32InLoadOrderList = 0x0C

	// LDR_DATA_TABLE_ENTRY field offsets (from InLoadOrderLinks)
	ldrEntry64DllBase     = 0x30
	ldrEntry64EntryPoint  = 0x38
	ldrEntry64SizeOfImage = 0x40
	ldrEntry64FullName    = 0x48
	ldrEntry64BaseName    = 0x58

	ldrEntry32DllBase     = 0x18
	ldrEntry32EntryPoint  = 0x1C
	ldrEntry32SizeOfImage = 0x20
	ldrEntry32FullName    = 0x24
	ldrEntry32BaseName    = 0x2C

	maxHeaps      = 1024
	maxLdrEntries = 512
)

// readPointer reads one target-sized pointer at addr.
func readPointer(sys winapi.System, h winapi.Handle, addr uint64, wow64 bool) (uint64, error) {
	size := uint64(8)
	if wow64 {
		size = 4
	}
	buf, err := sys.ReadMemory(h, addr, size)
	if err != nil || uint64(len(buf)) < size {
		return 0, err
	}
	if wow64 {
		return uint64(binary.LittleEndian.Uint32(buf)), nil
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func readUint32(sys winapi.System, h winapi.Handle, addr uint64) (uint32, error) {
	buf, err := sys.ReadMemory(h, addr, 4)
	if err != nil || len(buf) < 4 {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// readHeaps reads NumberOfHeaps and then that many heap pointers from
// ProcessHeaps. Any failure degrades to an empty list.
func readHeaps(sys winapi.System, h winapi.Handle, pebAddr uint64, wow64 bool) []uint64 {
	countOff, arrayOff := uint64(peb64NumberOfHeaps), uint64(peb64ProcessHeaps)
	if wow64 {
		countOff, arrayOff = peb32NumberOfHeaps, peb32ProcessHeaps
	}

	count, err := readUint32(sys, h, pebAddr+countOff)
	if err != nil || count == 0 || count > maxHeaps {
		return nil
	}

	arrayPtr, err := readPointer(sys, h, pebAddr+arrayOff, wow64)
	if err != nil || arrayPtr == 0 {
		return nil
	}

	ptrSize := uint64(8)
	if wow64 {
		ptrSize = 4
	}
	buf, err := sys.ReadMemory(h, arrayPtr, uint64(count)*ptrSize)
	if err != nil {
		return nil
	}

	heaps := make([]uint64, 0, count)
	for i := uint64(0); i < uint64(count) && (i+1)*ptrSize <= uint64(len(buf)); i++ {
		if wow64 {
			heaps = append(heaps, uint64(binary.LittleEndian.Uint32(buf[i*4:])))
		} else {
			heaps = append(heaps, binary.LittleEndian.Uint64(buf[i*8:]))
		}
	}
	return heaps
}

// readUnicodeString reads a UNICODE_STRING located at addr in the target.
func readUnicodeString(sys winapi.System, h winapi.Handle, addr uint64, wow64 bool) string {
	hdr, err := sys.ReadMemory(h, addr, 4)
	if err != nil || len(hdr) < 4 {
		return ""
	}
	length := binary.LittleEndian.Uint16(hdr)
	if length == 0 || length > 4096 {
		return ""
	}

	bufOff := uint64(8)
	if wow64 {
		bufOff = 4
	}
	bufPtr, err := readPointer(sys, h, addr+bufOff, wow64)
	if err != nil || bufPtr == 0 {
		return ""
	}

	raw, err := sys.ReadMemory(h, bufPtr, uint64(length))
	if err != nil {
		return ""
	}
	u16 := make([]uint16, len(raw)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return string(utf16.Decode(u16))
}

// readModules walks the loader's in-load-order module list and returns the
// entries keyed by image base. Any failure degrades to an empty table.
func readModules(sys winapi.System, h winapi.Handle, pebAddr uint64, wow64 bool) map[uint64]*memory.PebModule {
	modules := make(map[uint64]*memory.PebModule)

	ldrOff := uint64(peb64Ldr)
	listOff := uint64(ldr64InLoadOrderList)
	baseOff, entryOff, sizeOff := uint64(ldrEntry64DllBase), uint64(ldrEntry64EntryPoint), uint64(ldrEntry64SizeOfImage)
	fullOff, nameOff := uint64(ldrEntry64FullName), uint64(ldrEntry64BaseName)
	if wow64 {
		ldrOff = peb32Ldr
		listOff = ldr32InLoadOrderList
		baseOff, entryOff, sizeOff = ldrEntry32DllBase, ldrEntry32EntryPoint, ldrEntry32SizeOfImage
		fullOff, nameOff = ldrEntry32FullName, ldrEntry32BaseName
	}

	ldr, err := readPointer(sys, h, pebAddr+ldrOff, wow64)
	if err != nil || ldr == 0 {
		return modules
	}

	head := ldr + listOff
	cursor, err := readPointer(sys, h, head, wow64)
	if err != nil {
		return modules
	}

	for i := 0; i < maxLdrEntries && cursor != 0 && cursor != head; i++ {
		base, err := readPointer(sys, h, cursor+baseOff, wow64)
		if err != nil {
			break
		}
		if base != 0 {
			entry, _ := readPointer(sys, h, cursor+entryOff, wow64)
			size, _ := readUint32(sys, h, cursor+sizeOff)
			modules[base] = &memory.PebModule{
				Name:       readUnicodeString(sys, h, cursor+nameOff, wow64),
				Base:       base,
				Size:       size,
				EntryPoint: entry,
				Path:       readUnicodeString(sys, h, cursor+fullOff, wow64),
			}
		}

		next, err := readPointer(sys, h, cursor, wow64)
		if err != nil {
			break
		}
		cursor = next
	}
	return modules
}
