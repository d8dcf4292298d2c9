// Package placement implements the value-typed Placement object: an ordered
// sequence of groups, each pairing a ParallelConfig with the set of model
// indices replicated on it. Placements are never mutated in place by callers
// outside this package; every mutating operation returns a fresh value (or a
// scratch clone the caller owns).
package placement

import (
	"sort"

	"github.com/khryptorgraphics/placementplanner/pkg/profile"
)

// Group is one placement group: devices bound to a single ParallelConfig,
// hosting zero or more model replicas.
type Group struct {
	Config profile.ParallelConfig
	Models map[int]struct{}
}

func newGroup(cfg profile.ParallelConfig) Group {
	return Group{Config: cfg, Models: make(map[int]struct{})}
}

// ModelIndices returns the group's model indices, sorted for deterministic
// iteration.
func (g Group) ModelIndices() []int {
	out := make([]int, 0, len(g.Models))
	for m := range g.Models {
		out = append(out, m)
	}
	sort.Ints(out)
	return out
}

func (g Group) clone() Group {
	cp := newGroup(g.Config)
	for m := range g.Models {
		cp.Models[m] = struct{}{}
	}
	return cp
}

// Placement is an ordered list of groups.
type Placement struct {
	Groups []Group
}

// NewEmpty returns a placement with no groups.
func NewEmpty() Placement {
	return Placement{}
}

// NewSkeleton returns a placement of n groups, each with config cfg and no
// models assigned — the starting point every replica-placement primitive
// fills in.
func NewSkeleton(cfg profile.ParallelConfig, n int) Placement {
	p := Placement{Groups: make([]Group, n)}
	for i := range p.Groups {
		p.Groups[i] = newGroup(cfg)
	}
	return p
}

// AppendGroup adds a new, empty group running cfg and returns its index.
func (p *Placement) AppendGroup(cfg profile.ParallelConfig) int {
	p.Groups = append(p.Groups, newGroup(cfg))
	return len(p.Groups) - 1
}

// AddModel places model mi onto group gi.
func (p *Placement) AddModel(gi, mi int) {
	p.Groups[gi].Models[mi] = struct{}{}
}

// RemoveModel removes model mi from group gi, if present.
func (p *Placement) RemoveModel(gi, mi int) {
	delete(p.Groups[gi].Models, mi)
}

// HasModel reports whether model mi is replicated on group gi.
func (p Placement) HasModel(gi, mi int) bool {
	_, ok := p.Groups[gi].Models[mi]
	return ok
}

// NumReplicas returns how many groups carry model mi.
func (p Placement) NumReplicas(mi int) int {
	n := 0
	for _, g := range p.Groups {
		if _, ok := g.Models[mi]; ok {
			n++
		}
	}
	return n
}

// TotalDevices sums the device count of every group, null groups counting 0.
func (p Placement) TotalDevices() int {
	total := 0
	for _, g := range p.Groups {
		total += g.Config.Size()
	}
	return total
}

// Clone returns a deep copy; the clone shares no mutable state with p.
func (p Placement) Clone() Placement {
	cp := Placement{Groups: make([]Group, len(p.Groups))}
	for i, g := range p.Groups {
		cp.Groups[i] = g.clone()
	}
	return cp
}

// Equal reports structural, order-sensitive equality.
func (p Placement) Equal(other Placement) bool {
	if len(p.Groups) != len(other.Groups) {
		return false
	}
	for i, g := range p.Groups {
		og := other.Groups[i]
		if g.Config != og.Config {
			return false
		}
		if len(g.Models) != len(og.Models) {
			return false
		}
		for m := range g.Models {
			if _, ok := og.Models[m]; !ok {
				return false
			}
		}
	}
	return true
}

// Pruned returns a copy with null-config and empty-model-set groups removed
// — the final shape a planner hands back to a caller expecting the output
// form of spec §6, as opposed to the intermediate skeletons primitives work
// on.
func (p Placement) Pruned() Placement {
	cp := Placement{}
	for _, g := range p.Groups {
		if g.Config.IsNull() || len(g.Models) == 0 {
			continue
		}
		cp.Groups = append(cp.Groups, g.clone())
	}
	return cp
}
