// Package analysis computes the proximity metrics that drive directed
// fuzzing: function- and block-level distances to the target set, the
// tainted region and its critical branches, the critical-to-target distance
// matrix, and the branch-condition records. Everything is collected into a
// single State consumed by the rewriter and the artefact writer.
package analysis

import (
	"fmt"

	"github.com/zjy-dev/cbi/internal/ir"
	"github.com/zjy-dev/cbi/internal/target"
)

// State is the result of running all analysis passes over a module.
type State struct {
	Mod     *ir.Module
	Targets target.Infos

	// DTf is the harmonic-mean call-graph distance of a function to the
	// target set; DTb the per-block distance. A block absent from DTb cannot
	// reach any target and receives no instrumentation.
	DTf map[*ir.Function]float64
	DTb map[*ir.BasicBlock]float64

	// TargetCG records, per function on a call chain towards a target, the
	// weighted call-graph distance to each target block it can reach.
	TargetCG map[*ir.Function]map[*ir.BasicBlock]uint32

	// Taint holds, per function, the blocks from which an in-function seed
	// is reachable without traversing a loop back-edge.
	Taint map[*ir.Function]map[*ir.BasicBlock]bool

	// Critical and Solved partition the successors of tainted
	// multi-successor blocks: critical successors leave the tainted region,
	// solved successors stay inside.
	Critical map[*ir.BasicBlock][]*ir.BasicBlock
	Solved   map[*ir.BasicBlock][]*ir.BasicBlock

	// DM accumulates the minimal block-to-target distances backing dm.csv.
	DM map[*ir.BasicBlock]map[*ir.BasicBlock]uint32

	// Dense index spaces over blocks with a known distance.
	AllIdx      map[*ir.BasicBlock]int
	TargetIdx   map[*ir.BasicBlock]int
	CriticalIdx map[*ir.BasicBlock]int
	NumAll      int
	NumTargets  int
	NumCritical int

	// Conds are the recorded branch conditions in analysis order.
	Conds    []*Cond
	CondByBB map[*ir.BasicBlock]*Cond

	// targetOrder lists the target blocks in module iteration order so that
	// map lookups can be driven deterministically.
	targetOrder []*ir.BasicBlock
	callersOf   map[*ir.Function][]*ir.Function
}

// Run executes all analysis passes in order and returns the combined state.
func Run(mod *ir.Module, infos target.Infos) (*State, error) {
	s := &State{
		Mod:         mod,
		Targets:     infos,
		DTf:         make(map[*ir.Function]float64),
		DTb:         make(map[*ir.BasicBlock]float64),
		TargetCG:    make(map[*ir.Function]map[*ir.BasicBlock]uint32),
		Taint:       make(map[*ir.Function]map[*ir.BasicBlock]bool),
		Critical:    make(map[*ir.BasicBlock][]*ir.BasicBlock),
		Solved:      make(map[*ir.BasicBlock][]*ir.BasicBlock),
		DM:          make(map[*ir.BasicBlock]map[*ir.BasicBlock]uint32),
		AllIdx:      make(map[*ir.BasicBlock]int),
		TargetIdx:   make(map[*ir.BasicBlock]int),
		CriticalIdx: make(map[*ir.BasicBlock]int),
		CondByBB:    make(map[*ir.BasicBlock]*Cond),
	}

	for _, fn := range mod.Funcs {
		for _, bb := range fn.Blocks {
			if _, ok := infos[bb]; ok {
				s.targetOrder = append(s.targetOrder, bb)
			}
		}
	}

	s.buildCallGraph()
	s.computeCGDistance()
	for _, fn := range mod.Funcs {
		if !fn.IsDecl() {
			s.computeCFGDistance(fn)
		}
	}
	s.identifyCritical()
	s.assignIndices()
	s.analyzeConditions()

	if s.NumTargets != len(s.Targets) {
		return nil, fmt.Errorf("target index space mismatch: %d indexed, %d resolved",
			s.NumTargets, len(s.Targets))
	}

	return s, nil
}

// buildCallGraph collects reverse call edges (callee -> callers) for the
// statically-known call sites of the module.
func (s *State) buildCallGraph() {
	s.callersOf = make(map[*ir.Function][]*ir.Function)
	seen := make(map[[2]*ir.Function]bool)

	for _, caller := range s.Mod.Funcs {
		for _, bb := range caller.Blocks {
			for _, inst := range bb.Instrs {
				if inst.Op != ir.OpCall || inst.Callee == "" {
					continue
				}
				callee := s.Mod.FuncByName(inst.Callee)
				if callee == nil {
					continue
				}
				key := [2]*ir.Function{caller, callee}
				if seen[key] {
					continue
				}
				seen[key] = true
				s.callersOf[callee] = append(s.callersOf[callee], caller)
			}
		}
	}
}

// setTargetCG records the weighted call-graph distance from fn to the target
// block tbb, overwriting any previous value.
func (s *State) setTargetCG(fn *ir.Function, tbb *ir.BasicBlock, dist uint32) {
	m := s.TargetCG[fn]
	if m == nil {
		m = make(map[*ir.BasicBlock]uint32)
		s.TargetCG[fn] = m
	}
	m[tbb] = dist
}

// targetCGOrdered yields the (target block, distance) pairs recorded for fn
// in the deterministic target order.
func (s *State) targetCGOrdered(fn *ir.Function) []targetDist {
	m := s.TargetCG[fn]
	if len(m) == 0 {
		return nil
	}
	out := make([]targetDist, 0, len(m))
	for _, tbb := range s.targetOrder {
		if d, ok := m[tbb]; ok {
			out = append(out, targetDist{tbb, d})
		}
	}
	return out
}

type targetDist struct {
	bb   *ir.BasicBlock
	dist uint32
}

// addDistance lowers the recorded distance between two blocks, keeping the
// minimum over all contributing paths.
func (s *State) addDistance(from, to *ir.BasicBlock, dist uint32) {
	m := s.DM[from]
	if m == nil {
		m = make(map[*ir.BasicBlock]uint32)
		s.DM[from] = m
	}
	if cur, ok := m[to]; !ok || cur > dist {
		m[to] = dist
	}
}

// assignIndices assigns the dense allIdx/targetIdx/criticalIdx spaces in one
// sweep over the module's blocks.
func (s *State) assignIndices() {
	for _, fn := range s.Mod.Funcs {
		for _, bb := range fn.Blocks {
			if _, ok := s.DTb[bb]; !ok {
				continue
			}
			s.AllIdx[bb] = s.NumAll
			s.NumAll++

			if _, ok := s.Targets[bb]; ok {
				s.TargetIdx[bb] = s.NumTargets
				s.NumTargets++
			}
			if len(s.Critical[bb]) > 0 {
				s.CriticalIdx[bb] = s.NumCritical
				s.NumCritical++
			}
		}
	}
}

// ScaledDistance returns the integer distance emitted for a block: 100x the
// harmonic distance, with sub-unit values clamped up to 1 so that only
// target blocks report zero. The second result is false when the block has
// no known distance.
func (s *State) ScaledDistance(bb *ir.BasicBlock) (uint32, bool) {
	d, ok := s.DTb[bb]
	if !ok {
		return 0, false
	}
	raw := 100 * d
	if raw < 1.0 && raw > 0.0 {
		return 1, true
	}
	return uint32(raw), true
}
