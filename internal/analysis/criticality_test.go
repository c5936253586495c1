package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/cbi/internal/ir"
	"github.com/zjy-dev/cbi/internal/target"
)

func TestCriticalBranch(t *testing.T) {
	// A -> {B, C}; only B reaches the target: critical(A)={C}, solved(A)={B}.
	fn := &ir.Function{
		Name:     "f",
		Filename: "a.c",
		Line:     1,
		Blocks: []*ir.BasicBlock{
			bbWith([]int{1, 2}, 1),
			bbWith([]int{3}, 2),
			bbWith(nil, 3),
			bbWith(nil, 4),
		},
	}
	m := &ir.Module{DwarfVersion: 4, Funcs: []*ir.Function{fn}}

	s := runAnalysis(t, m, []target.Target{{Filename: "a.c", Line: 4, Score: 1}})

	a, b, c := fn.Blocks[0], fn.Blocks[1], fn.Blocks[2]

	require.Len(t, s.Critical[a], 1)
	assert.Same(t, c, s.Critical[a][0])
	require.Len(t, s.Solved[a], 1)
	assert.Same(t, b, s.Solved[a][0])

	assert.Equal(t, 1, s.NumCritical)
	assert.Equal(t, 0, s.CriticalIdx[a])
}

func TestBothSuccessorsTainted(t *testing.T) {
	// A -> {B, C}, targets in both: no critical edges, both successors
	// solved.
	fn := &ir.Function{
		Name:     "f",
		Filename: "a.c",
		Line:     1,
		Blocks: []*ir.BasicBlock{
			bbWith([]int{1, 2}, 1),
			bbWith(nil, 2),
			bbWith(nil, 3),
		},
	}
	m := &ir.Module{DwarfVersion: 4, Funcs: []*ir.Function{fn}}

	s := runAnalysis(t, m, []target.Target{
		{Filename: "a.c", Line: 2, Score: 0.5},
		{Filename: "a.c", Line: 3, Score: 0.5},
	})

	a := fn.Blocks[0]
	assert.Empty(t, s.Critical[a])
	assert.Len(t, s.Solved[a], 2)
	assert.Equal(t, 0, s.NumCritical, "a block without critical edges gets no critical index")
}

func TestCriticalSolvedDisjoint(t *testing.T) {
	fn := &ir.Function{
		Name:     "f",
		Filename: "a.c",
		Line:     1,
		Blocks: []*ir.BasicBlock{
			bbWith([]int{1, 2, 3}, 1),
			bbWith([]int{4}, 2),
			bbWith(nil, 3),
			bbWith(nil, 5),
			bbWith(nil, 4),
		},
	}
	m := &ir.Module{DwarfVersion: 4, Funcs: []*ir.Function{fn}}

	s := runAnalysis(t, m, []target.Target{{Filename: "a.c", Line: 4, Score: 1}})

	for bb, critical := range s.Critical {
		inCritical := make(map[*ir.BasicBlock]bool)
		for _, c := range critical {
			inCritical[c] = true
		}
		for _, sv := range s.Solved[bb] {
			assert.False(t, inCritical[sv], "critical and solved sets must be disjoint")
		}
		assert.LessOrEqual(t, len(critical)+len(s.Solved[bb]), len(bb.Succs))
	}
}

func TestLoopBackEdgeExcludedFromTaint(t *testing.T) {
	// 0: preheader -> 1
	// 1: header    -> {2, 4}
	// 2: body      -> 3        (contains the target)
	// 3: latch     -> 1        (back edge)
	// 4: exit
	//
	// The latch reaches the target only through the back edge, so it stays
	// untainted; the header's branch into the loop body is solved, its exit
	// edge critical.
	fn := &ir.Function{
		Name:     "f",
		Filename: "a.c",
		Line:     1,
		Blocks: []*ir.BasicBlock{
			bbWith([]int{1}, 1),
			bbWith([]int{2, 4}, 2),
			bbWith([]int{3}, 3),
			bbWith([]int{1}, 4),
			bbWith(nil, 5),
		},
	}
	m := &ir.Module{DwarfVersion: 4, Funcs: []*ir.Function{fn}}

	s := runAnalysis(t, m, []target.Target{{Filename: "a.c", Line: 3, Score: 1}})

	taint := s.Taint[fn]
	assert.True(t, taint[fn.Blocks[0]])
	assert.True(t, taint[fn.Blocks[1]])
	assert.True(t, taint[fn.Blocks[2]])
	assert.False(t, taint[fn.Blocks[3]], "latch must not be tainted through the back edge")
	assert.False(t, taint[fn.Blocks[4]])

	header := fn.Blocks[1]
	require.Len(t, s.Critical[header], 1)
	assert.Same(t, fn.Blocks[4], s.Critical[header][0])
	require.Len(t, s.Solved[header], 1)
	assert.Same(t, fn.Blocks[2], s.Solved[header][0])
}
