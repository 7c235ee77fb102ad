package process

import (
	"github.com/f0829/moneta/pkg/memory"
	"github.com/f0829/moneta/pkg/winapi"
)

// Thread is the snapshot's record of one target thread. Entry point, TEB and
// stack pointer are zero when the corresponding attribute query was
// unavailable; a thread that cannot be opened at all aborts the snapshot.
type Thread struct {
	tid          uint32
	entryPoint   uint64
	tebBase      uint64
	stackPointer uint64
}

func newThread(sys winapi.System, h winapi.Handle, tid uint32) (*Thread, error) {
	info, err := sys.ThreadInfo(h, tid)
	if err != nil {
		return nil, err
	}
	return &Thread{
		tid:          info.Tid,
		entryPoint:   info.EntryPoint,
		tebBase:      info.TebBase,
		stackPointer: info.StackPointer,
	}, nil
}

// ID returns the thread identifier.
func (t *Thread) ID() uint32 { return t.tid }

// EntryPoint returns the thread start address, zero when unknown.
func (t *Thread) EntryPoint() uint64 { return t.entryPoint }

// TebBase returns the thread environment block address, zero when unknown.
func (t *Thread) TebBase() uint64 { return t.tebBase }

// StackPointer returns an address inside the thread's stack, zero when unknown.
func (t *Thread) StackPointer() uint64 { return t.stackPointer }

var _ memory.ThreadAnchor = (*Thread)(nil)
