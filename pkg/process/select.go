package process

import "github.com/f0829/moneta/pkg/memory"

// SelectMode chooses which subregions a selection yields.
type SelectMode int

const (
	// SelectAll yields every subregion of the snapshot.
	SelectAll SelectMode = iota

	// SelectBlock yields the subregion(s) at a specific base address.
	SelectBlock

	// SelectSuspicious yields subregions carrying suspicions.
	SelectSuspicious
)

// SelectOptions modifies a selection.
type SelectOptions struct {
	// FromBase expands a subregion match to the entire enclosing entity.
	FromBase bool
}

// SuspicionLookup is the read-only view of a filtered suspicion map the
// selection consults. It is defined here so the snapshot does not depend on
// the rule engine.
type SuspicionLookup interface {
	// HasEntity reports whether any suspicion is keyed under allocBase.
	HasEntity(allocBase uint64) bool

	// SubregionCount returns the number of subregion-scope suspicions
	// anchored at base within allocBase.
	SubregionCount(allocBase, base uint64) int
}

// Select returns, in address order, the subregions matching the mode. The
// suspicion lookup is only consulted for SelectSuspicious and may be nil
// otherwise.
func (s *Snapshot) Select(mode SelectMode, addr uint64, opts SelectOptions, susp SuspicionLookup) []*memory.Subregion {
	var out []*memory.Subregion

	for _, e := range s.Entities() {
		switch mode {
		case SelectBlock:
			if !e.Contains(addr) {
				continue
			}
		case SelectSuspicious:
			if susp == nil || !susp.HasEntity(e.StartVA()) {
				continue
			}
		}

		for _, sr := range e.Subregions() {
			switch mode {
			case SelectAll:
				out = append(out, sr)
			case SelectBlock:
				if opts.FromBase || sr.BaseVA() == addr {
					out = append(out, sr)
				}
			case SelectSuspicious:
				if opts.FromBase || susp.SubregionCount(e.StartVA(), sr.BaseVA()) > 0 {
					out = append(out, sr)
				}
			}
		}
	}

	return out
}
