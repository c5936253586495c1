package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/cbi/internal/analysis"
	"github.com/zjy-dev/cbi/internal/ir"
	"github.com/zjy-dev/cbi/internal/target"
)

func bbWith(succs []int, lines ...int) *ir.BasicBlock {
	bb := &ir.BasicBlock{Succs: succs}
	for _, ln := range lines {
		bb.Instrs = append(bb.Instrs, &ir.Instruction{Op: ir.OpGeneric, Line: ln})
	}
	return bb
}

// analyzedState builds A -> {B, C}, B -> T with the target in T and runs the
// analysis: three instrumented blocks, one critical source, one target.
func analyzedState(t *testing.T) *analysis.State {
	t.Helper()
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
	ir.AssignBlockIDs(m)

	infos, err := target.Resolve(m, []target.Target{{Filename: "a.c", Line: 4, Score: 0.9}})
	require.NoError(t, err)
	s, err := analysis.Run(m, infos)
	require.NoError(t, err)
	return s
}

func readLines(t *testing.T, dir, name string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestWriteDistanceFile(t *testing.T) {
	s := analyzedState(t)
	dir := t.TempDir()
	require.NoError(t, Writer{OutDir: dir}.WriteAll(s))

	lines := readLines(t, dir, "distance.txt")
	want := []string{
		"1", // one critical source
		"0 0 200 { ln: 1 fl: a.c }",
		"1 -1 100 { ln: 2 fl: a.c }",
		"2 -1 0 { ln: 4 fl: a.c }",
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("distance.txt mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteTargetsFile(t *testing.T) {
	s := analyzedState(t)
	dir := t.TempDir()
	require.NoError(t, Writer{OutDir: dir}.WriteAll(s))

	lines := readLines(t, dir, "targets.txt")
	want := []string{
		"1",
		"0 0.9 { ln: 4 fl: a.c }",
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("targets.txt mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteFunctionsFile(t *testing.T) {
	s := analyzedState(t)
	dir := t.TempDir()
	require.NoError(t, Writer{OutDir: dir}.WriteAll(s))

	lines := readLines(t, dir, "functions.txt")
	assert.Equal(t, []string{"0 { ln: 1 fl: a.c }"}, lines)
}

func TestWriteDistanceMatrix(t *testing.T) {
	s := analyzedState(t)
	dir := t.TempDir()
	require.NoError(t, Writer{OutDir: dir}.WriteAll(s))

	lines := readLines(t, dir, "dm.csv")
	// The critical source A reaches the target in 2 hops.
	assert.Equal(t, []string{"1:1", "2"}, lines)
}

func TestWriteConditionInfo(t *testing.T) {
	fn := &ir.Function{
		Name:     "f",
		Filename: "a.c",
		Line:     1,
		Blocks: []*ir.BasicBlock{
			{
				Succs: []int{1, 2},
				Instrs: []*ir.Instruction{
					{Op: ir.OpICmp, Line: 1, Args: []ir.Operand{
						{Type: ir.TypeInt, Width: 32},
						{Type: ir.TypeInt, Width: 32, Const: true, Int: 42},
					}},
					{Op: ir.OpBr, CondRef: 1},
				},
			},
			bbWith([]int{3}, 2),
			bbWith(nil, 3),
			bbWith(nil, 4),
		},
	}
	m := &ir.Module{DwarfVersion: 4, Funcs: []*ir.Function{fn}}
	ir.AssignBlockIDs(m)

	infos, err := target.Resolve(m, []target.Target{{Filename: "a.c", Line: 4, Score: 1}})
	require.NoError(t, err)
	s, err := analysis.Run(m, infos)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, Writer{OutDir: dir}.WriteAll(s))

	lines := readLines(t, dir, "condition_info.txt")
	// The branching block is the critical source with allIdx 0.
	assert.Equal(t, []string{"1 0 int32 int32 var 42"}, lines)
}

func TestWriteModule(t *testing.T) {
	s := analyzedState(t)
	dir := t.TempDir()

	outPath, err := Writer{OutDir: dir}.WriteModule(s, "/tmp/prog.bc")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "prog.ci.bc"), outPath)

	loaded, err := ir.Load(outPath)
	require.NoError(t, err)
	assert.Equal(t, len(s.Mod.Funcs), len(loaded.Funcs))
}

func TestWriteAllFailsOnBadDir(t *testing.T) {
	s := analyzedState(t)
	err := Writer{OutDir: filepath.Join(t.TempDir(), "missing", "nested")}.WriteAll(s)
	assert.Error(t, err)
}
