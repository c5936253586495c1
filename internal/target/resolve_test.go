package target

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/cbi/internal/ir"
)

func lineBlock(succs []int, lines ...int) *ir.BasicBlock {
	bb := &ir.BasicBlock{Succs: succs}
	for _, ln := range lines {
		bb.Instrs = append(bb.Instrs, &ir.Instruction{Op: ir.OpGeneric, Line: ln})
	}
	return bb
}

func resolveModule() *ir.Module {
	m := &ir.Module{
		DwarfVersion: 4,
		Funcs: []*ir.Function{
			{
				Name:     "parse",
				Filename: "src/parse.c",
				Line:     5,
				Blocks: []*ir.BasicBlock{
					lineBlock([]int{1}, 6, 7),
					lineBlock(nil, 9),
				},
			},
			{
				Name:     "other",
				Filename: "src/other.c",
				Line:     1,
				Blocks:   []*ir.BasicBlock{lineBlock(nil, 2)},
			},
		},
	}
	ir.AssignBlockIDs(m)
	return m
}

func TestResolveBasic(t *testing.T) {
	m := resolveModule()
	infos, err := Resolve(m, []Target{{Filename: "parse.c", Line: 9, Score: 0.8}})
	require.NoError(t, err)
	require.Len(t, infos, 1)

	res, ok := infos[m.Funcs[0].Blocks[1]]
	require.True(t, ok)
	assert.Equal(t, "parse", res.Func.Name)
	assert.Equal(t, 0.8, res.Target.Score)
}

func TestResolveUnresolved(t *testing.T) {
	m := resolveModule()
	_, err := Resolve(m, []Target{{Filename: "parse.c", Line: 999, Score: 0.5}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolved))
}

func TestResolveDuplicateRowsCollapse(t *testing.T) {
	m := resolveModule()
	infos, err := Resolve(m, []Target{
		{Filename: "parse.c", Line: 6, Score: 0.3},
		{Filename: "parse.c", Line: 6, Score: 0.9},
	})
	require.NoError(t, err)
	require.Len(t, infos, 1)

	res := infos[m.Funcs[0].Blocks[0]]
	assert.Equal(t, 0.3, res.Target.Score, "first CSV row wins the bucket")
}

func TestResolveSlashBoundedSuffix(t *testing.T) {
	m := resolveModule()

	// "arse.c" is a substring of "src/parse.c" but not '/'-bounded.
	_, err := Resolve(m, []Target{{Filename: "arse.c", Line: 9, Score: 0.5}})
	assert.True(t, errors.Is(err, ErrUnresolved))

	// The full relative path matches at index 0.
	infos, err := Resolve(m, []Target{{Filename: "src/parse.c", Line: 9, Score: 0.5}})
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestResolveAllocaUsesDeclLine(t *testing.T) {
	m := resolveModule()
	alloca := &ir.Instruction{Op: ir.OpAlloca, DeclLine: 6}
	m.Funcs[0].Blocks[0].Instrs = []*ir.Instruction{alloca, {Op: ir.OpGeneric, Line: 7}}

	infos, err := Resolve(m, []Target{{Filename: "parse.c", Line: 6, Score: 0.4}})
	require.NoError(t, err)

	_, ok := infos[m.Funcs[0].Blocks[0]]
	assert.True(t, ok)
}

func TestResolvePhiNeverMatches(t *testing.T) {
	m := resolveModule()
	m.Funcs[0].Blocks[1].Instrs = []*ir.Instruction{
		{Op: ir.OpPhi, Line: 9},
	}

	_, err := Resolve(m, []Target{{Filename: "parse.c", Line: 9, Score: 0.5}})
	assert.True(t, errors.Is(err, ErrUnresolved))
}

func TestResolveTwoTargetsSameBlockKeepsFirst(t *testing.T) {
	m := resolveModule()
	infos, err := Resolve(m, []Target{
		{Filename: "parse.c", Line: 6, Score: 0.2},
		{Filename: "parse.c", Line: 7, Score: 0.6},
	})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 0.2, infos[m.Funcs[0].Blocks[0]].Target.Score)
}
