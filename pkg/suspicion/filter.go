package suspicion

import (
	"strings"

	"github.com/f0829/moneta/pkg/memory"
)

// FilterConfig toggles the individual benign-pattern filters.
type FilterConfig struct {
	// HeapExecutable suppresses executable-private findings on heap-flagged
	// subregions. Disabled by default.
	HeapExecutable bool
}

const winmdSuffix = ".winmd"

// Filter iteratively removes benign findings until a fixed point is reached,
// pruning emptied subregion and entity entries as it goes. Removal decisions
// are collected during a read-only pass and applied afterwards; the loop
// repeats until a pass yields no decisions, which is equivalent to the
// restart-on-delete walk and terminates in at most one pass per initial
// suspicion.
func (m *Map) Filter(cfg FilterConfig) {
	type removal struct {
		allocBase, base uint64
		s               *Suspicion
	}

	for {
		var drops []removal
		m.Walk(func(allocBase, base uint64, s *Suspicion) {
			if filtered(s, cfg) {
				drops = append(drops, removal{allocBase, base, s})
			}
		})
		if len(drops) == 0 {
			return
		}
		for _, d := range drops {
			m.remove(d.allocBase, d.base, d.s)
		}
	}
}

func filtered(s *Suspicion, cfg FilterConfig) bool {
	switch s.Kind {
	case KindXPrv:
		return cfg.HeapExecutable && s.Subregion.Flags()&memory.FlagHeap != 0

	case KindMissingPebModule, KindNonExecutableImage:
		return winmdMetadataModule(s.Entity)
	}
	return false
}

// winmdMetadataModule matches signed Windows metadata images: these are
// mapped as images without a loader entry (WinMetadata, WindowsApps,
// SystemApps), carry a zero entry point and no executable sections.
func winmdMetadataModule(e *memory.Entity) bool {
	if !e.Signed() {
		return false
	}
	path := e.Path()
	if len(path) < len(winmdSuffix) || !strings.EqualFold(path[len(path)-len(winmdSuffix):], winmdSuffix) {
		return false
	}
	return e.PE() != nil && e.PE().EntryPoint() == 0
}
