package memory

import (
	"os"

	"github.com/f0829/moneta/pkg/errors"
	"github.com/f0829/moneta/pkg/logging"
	"github.com/f0829/moneta/pkg/pefile"
	"github.com/f0829/moneta/pkg/signing"
	"github.com/f0829/moneta/pkg/winapi"
)

// BuildEnv carries the snapshot-level context and collaborators the entity
// builder consults: the PEB heap list, the thread set, the loader module
// table, and the narrow file/path/signing interfaces.
type BuildEnv struct {
	Heaps   []uint64
	Threads []ThreadAnchor
	Modules map[uint64]*PebModule

	// ReadFile reads a backing file; failure marks an image phantom.
	ReadFile func(path string) ([]byte, error)

	// TranslateDevicePath canonicalizes a device-prefixed section path.
	TranslateDevicePath func(devicePath string) (string, error)

	// MappedFilePath resolves the device path backing a mapped address.
	MappedFilePath func(addr uint64) (string, error)

	Signing signing.Oracle
	Log     logging.Logger
}

func (env *BuildEnv) logger() logging.Logger {
	if env.Log == nil {
		return logging.NopLogger{}
	}
	return env.Log
}

func (env *BuildEnv) readFile(path string) ([]byte, error) {
	if env.ReadFile == nil {
		return os.ReadFile(path)
	}
	return env.ReadFile(path)
}

// BuildEntity finalizes a contiguous run of subregions sharing an allocation
// base into a classified entity. The only error it can return is a
// malformed-image parse failure; an unreadable backing file is the valid
// phantom state, not an error.
func BuildEntity(run []*Subregion, env *BuildEnv) (*Entity, error) {
	if len(run) == 0 {
		return nil, nil
	}

	e := &Entity{
		subregions: run,
		startVA:    run[0].AllocBase(),
	}
	for _, s := range run {
		e.size += s.Size()
	}

	switch run[0].Type() {
	case winapi.MemImage:
		e.kind = KindImage
		if err := buildImage(e, env); err != nil {
			return nil, err
		}
	case winapi.MemMapped:
		e.kind = KindMappedFile
		e.path = resolveBackingPath(e.startVA, env)
	default:
		e.kind = KindPrivate
	}

	deriveFlags(e, env)
	return e, nil
}

func buildImage(e *Entity, env *BuildEnv) error {
	e.path = resolveBackingPath(e.startVA, env)
	e.signature = signing.Unsigned

	if e.path == "" {
		e.phantom = true
	} else {
		pe, err := pefile.Open(e.path, env.readFile)
		switch {
		case pe != nil:
			e.pe = pe
		case isMalformed(err):
			return err
		default:
			// Unreadable backing file: a phantom image, suspicious but valid.
			env.logger().Debug("phantom image at 0x%x (%s): %v", e.startVA, e.path, err)
			e.phantom = true
		}
	}

	e.nonExecutableImage = true
	for _, s := range e.subregions {
		if s.Executable() {
			e.nonExecutableImage = false
			break
		}
	}

	if e.pe != nil && uint64(e.pe.SizeOfImage()) > e.CommittedSize() {
		e.partiallyMapped = true
	}

	if m, ok := env.Modules[e.startVA]; ok {
		e.pebModule = m
	}

	// Phantom images bypass the oracle and stay unsigned.
	if !e.phantom && env.Signing != nil {
		if c, err := env.Signing.Classify(e.path); err == nil {
			e.signature = c
		} else {
			env.logger().Debug("signing query failed for %s: %v", e.path, err)
		}
	}

	return nil
}

func resolveBackingPath(allocBase uint64, env *BuildEnv) string {
	if env.MappedFilePath == nil {
		return ""
	}
	devPath, err := env.MappedFilePath(allocBase)
	if err != nil || devPath == "" {
		return ""
	}
	if env.TranslateDevicePath == nil {
		return devPath
	}
	path, err := env.TranslateDevicePath(devPath)
	if err != nil {
		env.logger().Debug("device path translation failed for %s: %v", devPath, err)
		return devPath
	}
	return path
}

func isMalformed(err error) bool {
	return errors.IsMalformedImage(err)
}

// deriveFlags computes the HEAP/TEB/STACK flags and thread anchors for every
// subregion of a finalized entity.
func deriveFlags(e *Entity, env *BuildEnv) {
	for _, s := range e.subregions {
		for _, h := range env.Heaps {
			if s.Contains(h) {
				s.setFlags(FlagHeap)
				break
			}
		}
		for _, t := range env.Threads {
			if teb := t.TebBase(); teb != 0 && s.Contains(teb) {
				s.setFlags(FlagTeb)
			}
			if sp := t.StackPointer(); sp != 0 && s.Contains(sp) {
				s.setFlags(FlagStack)
			}
			if s.Contains(t.EntryPoint()) || (t.StackPointer() != 0 && s.Contains(t.StackPointer())) {
				s.addThread(t)
			}
		}
	}
}
