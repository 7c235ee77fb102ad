package process

import (
	"github.com/f0829/moneta/pkg/memory"
	"github.com/f0829/moneta/pkg/winapi"
)

// Stats aggregates permission and type totals over a snapshot, in bytes.
// Reserved counts reserved memory; every other total counts committed memory.
type Stats struct {
	Committed  uint64
	Reserved   uint64
	Private    uint64
	Mapped     uint64
	Image      uint64
	Executable uint64
	ByProtect  map[string]uint64
}

// Stats walks the entity map and totals committed memory by type and
// protection.
func (s *Snapshot) Stats() Stats {
	st := Stats{ByProtect: make(map[string]uint64)}

	for _, e := range s.Entities() {
		for _, sr := range e.Subregions() {
			switch sr.State() {
			case winapi.MemReserve:
				st.Reserved += sr.Size()
				continue
			case winapi.MemCommit:
				st.Committed += sr.Size()
			default:
				continue
			}

			switch sr.Type() {
			case winapi.MemPrivate:
				st.Private += sr.Size()
			case winapi.MemMapped:
				st.Mapped += sr.Size()
			case winapi.MemImage:
				st.Image += sr.Size()
			}

			if sr.Executable() {
				st.Executable += sr.Size()
			}
			st.ByProtect[memory.ProtectSymbol(sr.Protect())] += sr.Size()
		}
	}

	return st
}
