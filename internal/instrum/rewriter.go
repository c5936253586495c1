// Package instrum rewrites an analyzed module so that a running fuzzer can
// observe per-execution distance, target hits, critical-branch outcomes and
// branch-condition operands through shared memory. The rewriter only inserts
// operations; it never alters control flow.
package instrum

import (
	"github.com/zjy-dev/cbi/internal/analysis"
	"github.com/zjy-dev/cbi/internal/ir"
	"github.com/zjy-dev/cbi/internal/shmem"
)

// External globals the instrumented binary expects the fuzzer to back with
// mapped memory before program start.
const (
	AFLAreaPtr    = "__afl_area_ptr"
	CriticalBBPtr = "__critical_bb_ptr"
	DistanceBBPtr = "__distance_bb_ptr"
	CondMapPtr    = "__cond_map_ptr"
	CVarMapPtr    = "__cvar_map_ptr"
)

// Counts reports how many insertions the rewriter performed.
type Counts struct {
	Blocks        int // blocks with distance updates
	CriticalEdges int // critical successor entries flagged
	Conds         int // condition snapshot groups
}

// Rewrite inserts the shared-memory updates described by the analysis state.
// All inserted operations are marked non-sanitizable so external
// instrumentation passes ignore them.
func Rewrite(s *analysis.State) Counts {
	var counts Counts

	for _, name := range []string{AFLAreaPtr, CriticalBBPtr, DistanceBBPtr, CondMapPtr, CVarMapPtr} {
		s.Mod.EnsureGlobal(name)
	}

	// Condition instrumentation goes first: the recorded operands carry
	// in-block references that are only valid against the pre-insertion
	// instruction positions. Later splices renumber them.
	for _, cond := range s.Conds {
		if instrumentCond(cond) {
			counts.Conds++
		}
	}

	for _, fn := range s.Mod.Funcs {
		for _, bb := range fn.Blocks {
			dist, ok := s.ScaledDistance(bb)
			if !ok {
				continue
			}

			seq := []*ir.Instruction{
				{Op: ir.OpMapLoad, MapName: AFLAreaPtr, NoSanitize: true},
				{Op: ir.OpMapAddU64, MapName: AFLAreaPtr, Offset: shmem.DistOffset, Value: int64(dist), NoSanitize: true},
				{Op: ir.OpMapAddU64, MapName: AFLAreaPtr, Offset: shmem.CntOffset, Value: 1, NoSanitize: true},
			}
			if dist == 0 {
				if targetIdx, ok := s.TargetIdx[bb]; ok {
					seq = append(seq, &ir.Instruction{
						Op:         ir.OpMapStoreU8,
						MapName:    AFLAreaPtr,
						Offset:     shmem.TargetFlagsOffset + int64(targetIdx),
						Value:      1,
						NoSanitize: true,
					})
				}
			}
			insertAt(bb, bb.FirstInsertionIdx(), seq)
			counts.Blocks++

			bbID := int64(s.AllIdx[bb])
			for _, succ := range s.Critical[bb] {
				insertAt(succ, succ.FirstInsertionIdx(), flagSeq(bbID, 1))
				counts.CriticalEdges++
			}
			for _, succ := range s.Solved[bb] {
				insertAt(succ, succ.FirstInsertionIdx(), flagSeq(bbID, 2))
			}
		}
	}

	return counts
}

// flagSeq builds the entry instrumentation of a critical or solved successor:
// critical_bb_ptr[bbID] = value.
func flagSeq(bbID int64, value int64) []*ir.Instruction {
	return []*ir.Instruction{
		{Op: ir.OpMapLoad, MapName: CriticalBBPtr, NoSanitize: true},
		{Op: ir.OpMapStoreU8, MapName: CriticalBBPtr, Offset: bbID, Value: value, NoSanitize: true},
	}
}

// instrumentCond inserts, before the block terminator, the branch-outcome
// store (1 = false side, 2 = true side) and the operand snapshots of a
// recorded condition. Integer operands are stored sign-extended; string
// operands through the first 8 bytes behind the pointer.
func instrumentCond(cond *analysis.Cond) bool {
	var seq []*ir.Instruction

	if cond.NeedsIntSnapshot(0) {
		seq = append(seq, &ir.Instruction{
			Op:         ir.OpCVarStoreInt,
			MapName:    CVarMapPtr,
			Slot:       2 * cond.ID,
			Args:       []ir.Operand{cond.Op1},
			NoSanitize: true,
		})
	}
	if cond.NeedsIntSnapshot(1) {
		seq = append(seq, &ir.Instruction{
			Op:         ir.OpCVarStoreInt,
			MapName:    CVarMapPtr,
			Slot:       2*cond.ID + 1,
			Args:       []ir.Operand{cond.Op2},
			NoSanitize: true,
		})
	}
	if cond.NeedsStrSnapshot() {
		seq = append(seq, &ir.Instruction{
			Op:         ir.OpCVarStoreStr,
			MapName:    CVarMapPtr,
			Slot:       2 * cond.ID,
			Args:       []ir.Operand{cond.Op1},
			NoSanitize: true,
		})
	}

	if len(seq) == 0 {
		return false
	}

	// The branch outcome store precedes the snapshots.
	seq = append([]*ir.Instruction{{
		Op:         ir.OpCondStore,
		MapName:    CondMapPtr,
		CondID:     cond.ID,
		NoSanitize: true,
	}}, seq...)

	bb := cond.BB
	insertAt(bb, len(bb.Instrs)-1, seq)
	return true
}

// insertAt splices instructions into a block at the given index and
// renumbers the 1-based in-block references (branch conditions, operand
// defs) that point at or beyond the insertion position.
func insertAt(bb *ir.BasicBlock, idx int, instrs []*ir.Instruction) {
	rest := make([]*ir.Instruction, len(bb.Instrs[idx:]))
	copy(rest, bb.Instrs[idx:])
	bb.Instrs = append(bb.Instrs[:idx:idx], append(instrs, rest...)...)

	shift := len(instrs)
	for _, inst := range bb.Instrs {
		if inst.CondRef > idx {
			inst.CondRef += shift
		}
		for i := range inst.Args {
			if inst.Args[i].Ref > idx {
				inst.Args[i].Ref += shift
			}
		}
	}
}
