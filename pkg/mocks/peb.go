package mocks

import "encoding/binary"

// MockModule scripts one PEB loader entry.
type MockModule struct {
	Name       string
	Base       uint64
	Size       uint32
	EntryPoint uint64
	Path       string
}

// Standard 64-bit PEB / loader offsets, mirrored from the live layout.
const (
	peb64Ldr           = 0x18
	peb64NumberOfHeaps = 0xE8
	peb64ProcessHeaps  = 0xF0

	ldr64InLoadOrderList = 0x10

	ldrEntry64DllBase     = 0x30
	ldrEntry64EntryPoint  = 0x38
	ldrEntry64SizeOfImage = 0x40
	ldrEntry64FullName    = 0x48
	ldrEntry64BaseName    = 0x58
)

// ScriptPeb64 lays out a synthetic 64-bit PEB, heap array and loader module
// list in the mock's remote memory and points PebAddr at it.
func (m *MockSystem) ScriptPeb64(pebAddr uint64, heaps []uint64, modules []MockModule) {
	if m.Memory == nil {
		m.Memory = make(map[uint64][]byte)
	}
	m.PebAddr = pebAddr

	// Heap count and pointer array.
	heapArray := pebAddr + 0x10000
	m.putU32(pebAddr+peb64NumberOfHeaps, uint32(len(heaps)))
	m.putU64(pebAddr+peb64ProcessHeaps, heapArray)
	heapBuf := make([]byte, 8*len(heaps))
	for i, h := range heaps {
		binary.LittleEndian.PutUint64(heapBuf[i*8:], h)
	}
	m.Memory[heapArray] = heapBuf

	// Loader list: LDR block, then one entry per module, circularly linked.
	ldr := pebAddr + 0x20000
	m.putU64(pebAddr+peb64Ldr, ldr)
	head := ldr + ldr64InLoadOrderList

	stringArena := pebAddr + 0x30000
	entryAt := func(i int) uint64 { return pebAddr + 0x40000 + uint64(i)*0x200 }

	if len(modules) == 0 {
		m.putU64(head, head)
		return
	}

	m.putU64(head, entryAt(0))
	for i, mod := range modules {
		cursor := entryAt(i)
		next := head
		if i+1 < len(modules) {
			next = entryAt(i + 1)
		}
		m.putU64(cursor, next)
		m.putU64(cursor+ldrEntry64DllBase, mod.Base)
		m.putU64(cursor+ldrEntry64EntryPoint, mod.EntryPoint)
		m.putU32(cursor+ldrEntry64SizeOfImage, mod.Size)
		stringArena = m.putUnicodeString(cursor+ldrEntry64FullName, mod.Path, stringArena)
		stringArena = m.putUnicodeString(cursor+ldrEntry64BaseName, mod.Name, stringArena)
	}
}

func (m *MockSystem) putU32(addr uint64, v uint32) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	m.Memory[addr] = buf
}

func (m *MockSystem) putU64(addr uint64, v uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	m.Memory[addr] = buf
}

// putUnicodeString lays a UNICODE_STRING header at addr with its buffer in
// the arena, returning the advanced arena cursor.
func (m *MockSystem) putUnicodeString(addr uint64, s string, arena uint64) uint64 {
	raw := make([]byte, len(s)*2)
	for i, c := range []byte(s) {
		raw[i*2] = c
	}
	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint16(hdr, uint16(len(raw)))
	binary.LittleEndian.PutUint16(hdr[2:], uint16(len(raw)))
	m.Memory[addr] = hdr
	m.putU64(addr+8, arena)
	m.Memory[arena] = raw
	return arena + uint64(len(raw)) + 0x10
}
