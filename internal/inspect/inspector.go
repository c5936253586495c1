// Package inspect harvests function and basic-block metadata from a module
// and renders it as JSON for external tooling, optionally including the
// inter-procedural CFG edges.
package inspect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/zjy-dev/cbi/internal/ir"
	"github.com/zjy-dev/cbi/internal/logger"
)

// LineRange is the [min, max] span of a line set.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// BBInfo describes one basic block.
type BBInfo struct {
	ID    int
	Lines []int
	Range LineRange
}

// FuncInfo describes one defined function.
type FuncInfo struct {
	Name              string
	Filename          string
	Lines             []int
	Range             LineRange
	ReachableFromMain bool
	Blocks            []BBInfo
}

// Edge is one iCFG adjacency entry: all successor block ids of a block.
type Edge struct {
	Src int   `json:"src"`
	Dst []int `json:"dst"`
}

// computeRange returns the min/max span of a non-empty sorted line slice.
func computeRange(lines []int) LineRange {
	return LineRange{Start: lines[0], End: lines[len(lines)-1]}
}

// blockLines collects the sorted unique debug lines of a block. Lines below
// the function's first line come from inlined or macro-expanded code and are
// dropped with a note.
func blockLines(fn *ir.Function, bb *ir.BasicBlock) []int {
	seen := make(map[int]bool)
	var lines []int
	for _, inst := range bb.Instrs {
		line := inst.Line
		if line <= 0 || seen[line] {
			continue
		}
		if line < fn.Line {
			logger.Info("%s:%s: analyzed line is out of function scope (line = %d, function-begin = %d)",
				filepath.Base(fn.Filename), fn.Name, line, fn.Line)
			continue
		}
		seen[line] = true
		lines = append(lines, line)
	}
	sort.Ints(lines)
	return lines
}

// Collect gathers the metadata of every defined function carrying debug
// lines, in module order.
func Collect(mod *ir.Module) []FuncInfo {
	reachable := reachableFromMain(mod)

	var infos []FuncInfo
	for _, fn := range mod.Funcs {
		if fn.IsDecl() {
			continue
		}

		lineSet := make(map[int]bool)
		var blocks []BBInfo
		for _, bb := range fn.Blocks {
			lines := blockLines(fn, bb)
			if len(lines) == 0 {
				continue
			}
			blocks = append(blocks, BBInfo{ID: bb.ID, Lines: lines, Range: computeRange(lines)})
			for _, l := range lines {
				lineSet[l] = true
			}
		}

		if len(lineSet) == 0 {
			continue
		}
		lines := make([]int, 0, len(lineSet))
		for l := range lineSet {
			lines = append(lines, l)
		}
		sort.Ints(lines)

		infos = append(infos, FuncInfo{
			Name:              fn.Name,
			Filename:          filepath.Base(fn.Filename),
			Lines:             lines,
			Range:             computeRange(lines),
			ReachableFromMain: reachable[fn],
			Blocks:            blocks,
		})
	}
	return infos
}

// reachableFromMain walks the call graph forward from main.
func reachableFromMain(mod *ir.Module) map[*ir.Function]bool {
	reachable := make(map[*ir.Function]bool)
	main := mod.FuncByName("main")
	if main == nil {
		return reachable
	}

	reachable[main] = true
	worklist := []*ir.Function{main}
	for len(worklist) > 0 {
		cur := worklist[0]
		worklist = worklist[1:]
		for _, bb := range cur.Blocks {
			for _, inst := range bb.Instrs {
				if inst.Op != ir.OpCall || inst.Callee == "" {
					continue
				}
				callee := mod.FuncByName(inst.Callee)
				if callee == nil || reachable[callee] {
					continue
				}
				reachable[callee] = true
				worklist = append(worklist, callee)
			}
		}
	}
	return reachable
}

// ICFG collects, per block id, the successor block ids: the intra-function
// edges plus a call edge into each statically-known callee's entry block.
// Entries are sorted by source id.
func ICFG(mod *ir.Module) []Edge {
	adj := make(map[int]map[int]bool)
	add := func(src, dst int) {
		if adj[src] == nil {
			adj[src] = make(map[int]bool)
		}
		adj[src][dst] = true
	}

	for _, fn := range mod.Funcs {
		for _, bb := range fn.Blocks {
			for _, si := range bb.Succs {
				add(bb.ID, fn.Blocks[si].ID)
			}
			for _, inst := range bb.Instrs {
				if inst.Op != ir.OpCall || inst.Callee == "" {
					continue
				}
				callee := mod.FuncByName(inst.Callee)
				if callee == nil || callee.IsDecl() {
					continue
				}
				add(bb.ID, callee.Blocks[0].ID)
			}
		}
	}

	srcs := make([]int, 0, len(adj))
	for src := range adj {
		srcs = append(srcs, src)
	}
	sort.Ints(srcs)

	edges := make([]Edge, 0, len(srcs))
	for _, src := range srcs {
		dsts := make([]int, 0, len(adj[src]))
		for dst := range adj[src] {
			dsts = append(dsts, dst)
		}
		sort.Ints(dsts)
		edges = append(edges, Edge{Src: src, Dst: dsts})
	}
	return edges
}

// JSON output shapes.
type jsonLine struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type jsonFuncLocation struct {
	Filename          string   `json:"filename"`
	Line              jsonLine `json:"line"`
	ReachableFromMain bool     `json:"reachable_from_main"`
}

type jsonBBLocation struct {
	Line jsonLine `json:"line"`
}

type jsonBB struct {
	ID       int            `json:"id"`
	Location jsonBBLocation `json:"location"`
	LoC      int            `json:"LoC"`
}

type jsonFunc struct {
	Name     string           `json:"name"`
	Location jsonFuncLocation `json:"location"`
	LoC      int              `json:"LoC"`
	Blocks   []jsonBB         `json:"basic_blocks"`
}

type jsonReport struct {
	Functions []jsonFunc `json:"functions"`
	ICFG      []Edge     `json:"iCFG,omitempty"`
}

// Format renders the collected metadata as JSON. The iCFG section is
// included only when edges is non-empty.
func Format(infos []FuncInfo, edges []Edge) ([]byte, error) {
	report := jsonReport{ICFG: edges}
	for _, fi := range infos {
		jf := jsonFunc{
			Name: fi.Name,
			Location: jsonFuncLocation{
				Filename:          fi.Filename,
				Line:              jsonLine{Start: fi.Range.Start, End: fi.Range.End},
				ReachableFromMain: fi.ReachableFromMain,
			},
			LoC: len(fi.Lines),
		}
		for _, bi := range fi.Blocks {
			jf.Blocks = append(jf.Blocks, jsonBB{
				ID:       bi.ID,
				Location: jsonBBLocation{Line: jsonLine{Start: bi.Range.Start, End: bi.Range.End}},
				LoC:      len(bi.Lines),
			})
		}
		report.Functions = append(report.Functions, jf)
	}
	return json.MarshalIndent(report, "", "  ")
}

// Run inspects the module at inputPath and writes the JSON report to
// outputPath. withICFG selects whether edges are included.
func Run(inputPath, outputPath string, withICFG bool) error {
	mod, err := ir.Load(inputPath)
	if err != nil {
		return err
	}
	ir.AssignBlockIDs(mod)

	infos := Collect(mod)
	var edges []Edge
	if withICFG {
		edges = ICFG(mod)
	}

	data, err := Format(infos, edges)
	if err != nil {
		return fmt.Errorf("failed to render inspection report: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return nil
}
