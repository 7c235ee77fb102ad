// Package memdump writes selected memory regions to disk. The sink consumes
// region descriptors and a read function; it never walks the address space
// itself. Dumps can optionally be zstd-compressed.
package memdump

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/f0829/moneta/pkg/errors"
	"github.com/f0829/moneta/pkg/memory"
	"github.com/f0829/moneta/pkg/winapi"
)

// ReadFunc reads size bytes at addr from the target address space.
type ReadFunc func(addr, size uint64) ([]byte, error)

// Dumper writes region dumps for one target process. All dumps of one run
// land in a batch directory named by a fresh UUID so successive runs never
// collide.
type Dumper struct {
	dir      string
	pid      uint32
	compress bool

	once    sync.Once
	initErr error
	batch   string

	encMu sync.Mutex
	enc   *zstd.Encoder
}

// New creates a dumper rooted at dir for the given pid.
func New(dir string, pid uint32, compress bool) *Dumper {
	return &Dumper{dir: dir, pid: pid, compress: compress}
}

// BatchDir returns the directory dumps of this run are written to.
func (d *Dumper) BatchDir() (string, error) {
	d.once.Do(func() {
		d.batch = filepath.Join(d.dir, uuid.NewString())
		d.initErr = os.MkdirAll(d.batch, 0o755)
	})
	return d.batch, d.initErr
}

// Create dumps one committed subregion and returns the output path.
// Requesting a dump of non-committed memory is a defined failure.
func (d *Dumper) Create(s *memory.Subregion, read ReadFunc) (string, error) {
	if s.State() != winapi.MemCommit {
		return "", errors.E(errors.KindNotCommitted, "memdump.Create",
			fmt.Sprintf("region 0x%x is not committed", s.BaseVA()))
	}

	data, err := read(s.BaseVA(), s.Size())
	if err != nil {
		return "", errors.Wrap(err, "memdump.Create")
	}

	batch, err := d.BatchDir()
	if err != nil {
		return "", errors.Wrap(err, "memdump.Create")
	}

	name := fmt.Sprintf("%d_%x.dmp", d.pid, s.BaseVA())
	if d.compress {
		name += ".zst"
		if data, err = d.encode(data); err != nil {
			return "", errors.Wrap(err, "memdump.Create")
		}
	}

	path := filepath.Join(batch, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "memdump.Create")
	}
	return path, nil
}

// CreateEntity dumps every committed subregion of an entity, returning the
// paths written. Non-committed subregions are skipped.
func (d *Dumper) CreateEntity(e *memory.Entity, read ReadFunc) ([]string, error) {
	var paths []string
	for _, s := range e.Subregions() {
		if s.State() != winapi.MemCommit {
			continue
		}
		p, err := d.Create(s, read)
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func (d *Dumper) encode(data []byte) ([]byte, error) {
	d.encMu.Lock()
	defer d.encMu.Unlock()
	if d.enc == nil {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		d.enc = enc
	}
	return d.enc.EncodeAll(data, nil), nil
}

// Close releases the encoder.
func (d *Dumper) Close() error {
	d.encMu.Lock()
	defer d.encMu.Unlock()
	if d.enc != nil {
		d.enc.Close()
		d.enc = nil
	}
	return nil
}
