package analysis

import (
	"github.com/zjy-dev/cbi/internal/ir"
)

// identifyCritical partitions the successors of every tainted
// multi-successor block: successors outside the tainted region are critical
// (taking them diverges away from every in-function target), the rest are
// solved. Blocks with a single successor or outside the tainted region
// contribute nothing.
func (s *State) identifyCritical() {
	for _, fn := range s.Mod.Funcs {
		taint := s.Taint[fn]
		if len(taint) == 0 {
			continue
		}

		for _, bb := range fn.Blocks {
			if len(bb.Succs) == 1 || !taint[bb] {
				continue
			}

			var critical, solved []*ir.BasicBlock
			seen := make(map[int]bool)
			for _, si := range bb.Succs {
				if seen[si] {
					continue
				}
				seen[si] = true
				dst := fn.Blocks[si]
				if !taint[dst] {
					critical = append(critical, dst)
				} else {
					solved = append(solved, dst)
				}
			}

			if len(critical) > 0 || len(solved) > 0 {
				s.Critical[bb] = critical
				s.Solved[bb] = solved
			}
		}
	}
}
