package analysis

import (
	"github.com/zjy-dev/cbi/internal/ir"
)

// computeCGDistance computes per-function distances to each target over the
// call graph (reverse BFS from the target's function through its callers)
// and aggregates them into DTf by harmonic mean. A function reachable only
// through zero-length contributions keeps the 0 sentinel: reachable, top
// priority.
func (s *State) computeCGDistance() {
	type targetDF struct {
		bb *ir.BasicBlock
		df map[*ir.Function]uint32
	}
	var dtf []targetDF

	for _, tbb := range s.targetOrder {
		ftarget := s.Targets[tbb].Func

		df := map[*ir.Function]uint32{ftarget: 1}
		worklist := []*ir.Function{ftarget}
		for len(worklist) > 0 {
			cur := worklist[0]
			worklist = worklist[1:]
			for _, caller := range s.callersOf[cur] {
				if d, ok := df[caller]; !ok || d > df[cur]+1 {
					df[caller] = df[cur] + 1
					worklist = append(worklist, caller)
				}
			}
		}

		dtf = append(dtf, targetDF{tbb, df})
		s.setTargetCG(ftarget, tbb, 1)
	}

	for _, fn := range s.Mod.Funcs {
		sum := 0.0
		reachesAny := false

		for _, td := range dtf {
			d, ok := td.df[fn]
			if !ok {
				continue
			}
			if d != 0 {
				sum += 1 / float64(d)
				s.setTargetCG(fn, td.bb, 10*d)
			}
			reachesAny = true
		}

		if reachesAny {
			if sum != 0 {
				s.DTf[fn] = 1 / sum
			} else {
				s.DTf[fn] = 0
			}
		}
	}
}

// computeCFGDistance computes the block distances of a single function.
// Seeds are the blocks containing a target instruction (distance 0) and the
// call blocks whose callee has a known function distance (seeded with 10x
// that distance, keeping the minimum over call edges). Every other block
// combines the seeds it reaches by harmonic mean over (hops + seed
// distance). Along the way the critical-to-target distance matrix is
// accumulated via addDistance.
func (s *State) computeCFGDistance(fn *ir.Function) {
	var seeds []*ir.BasicBlock
	seedSet := make(map[*ir.BasicBlock]bool)
	functionCalls := make(map[*ir.BasicBlock]*ir.Function)

	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instrs {
			if inst.Op != ir.OpCall || inst.Callee == "" {
				continue
			}
			callee := s.Mod.FuncByName(inst.Callee)
			if callee == nil {
				continue
			}
			dtfCallee, ok := s.DTf[callee]
			if !ok {
				continue
			}

			seedDist := 10 * dtfCallee
			if seedSet[bb] {
				if s.DTb[bb] > seedDist {
					s.DTb[bb] = seedDist
					functionCalls[bb] = callee
				}
			} else {
				seedSet[bb] = true
				seeds = append(seeds, bb)
				s.DTb[bb] = seedDist
				functionCalls[bb] = callee
			}
		}

		if _, isTarget := s.Targets[bb]; isTarget {
			s.DTb[bb] = 0
			if !seedSet[bb] {
				seedSet[bb] = true
				seeds = append(seeds, bb)
			}
		}
	}

	s.computeTaint(fn, seeds)

	// Per-seed reverse BFS hop maps over intra-procedural predecessors.
	idxOf := make(map[*ir.BasicBlock]int, len(fn.Blocks))
	for i, bb := range fn.Blocks {
		idxOf[bb] = i
	}
	preds := fn.Preds()

	hopMaps := make(map[*ir.BasicBlock]map[int]uint32, len(seeds))
	for _, seed := range seeds {
		hops := map[int]uint32{idxOf[seed]: 0}
		worklist := []int{idxOf[seed]}
		for len(worklist) > 0 {
			v := worklist[0]
			worklist = worklist[1:]
			for _, p := range preds[v] {
				if h, ok := hops[p]; !ok || h > hops[v]+1 {
					hops[p] = hops[v] + 1
					worklist = append(worklist, p)
				}
			}
		}
		hopMaps[seed] = hops
	}

	for i, bb := range fn.Blocks {
		if seedSet[bb] {
			if _, isTarget := s.Targets[bb]; isTarget {
				s.addDistance(bb, bb, 0)
			}
			if callee, ok := functionCalls[bb]; ok {
				for _, td := range s.targetCGOrdered(callee) {
					s.addDistance(bb, td.bb, td.dist)
				}
			}
			continue
		}

		sum := 0.0
		reachesSeed := false
		for _, seed := range seeds {
			h, ok := hopMaps[seed][i]
			if !ok {
				continue
			}
			sum += 1 / (float64(h) + s.DTb[seed])
			reachesSeed = true

			if _, isTarget := s.Targets[seed]; isTarget {
				s.addDistance(bb, seed, h)
			}
			if callee, ok := functionCalls[seed]; ok {
				for _, td := range s.targetCGOrdered(callee) {
					s.addDistance(bb, td.bb, h+td.dist)
				}
			}
		}

		if reachesSeed {
			s.DTb[bb] = 1 / sum
		}
	}
}

// computeTaint marks every block that reaches a seed through predecessor
// walks that never traverse a loop back-edge. Excluding back-edges keeps a
// loop header from swamping a body whose only exit leads to a target.
func (s *State) computeTaint(fn *ir.Function, seeds []*ir.BasicBlock) {
	li := ir.NewLoopInfo(fn)
	preds := fn.Preds()

	idxOf := make(map[*ir.BasicBlock]int, len(fn.Blocks))
	for i, bb := range fn.Blocks {
		idxOf[bb] = i
	}

	taint := make(map[*ir.BasicBlock]bool)
	for _, seed := range seeds {
		visited := make(map[int]bool)
		worklist := []int{idxOf[seed]}
		for len(worklist) > 0 {
			v := worklist[0]
			worklist = worklist[1:]
			taint[fn.Blocks[v]] = true
			for _, p := range preds[v] {
				if !visited[p] && !li.IsBackEdge(p, v) {
					visited[p] = true
					worklist = append(worklist, p)
				}
			}
		}
	}

	s.Taint[fn] = taint
}
