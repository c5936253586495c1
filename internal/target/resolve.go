package target

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zjy-dev/cbi/internal/ir"
)

// ErrUnresolved indicates a target row matched no instruction in the module.
var ErrUnresolved = errors.New("target could not be resolved to any instruction")

// Resolved ties a target to the IR location it was resolved to.
type Resolved struct {
	Target Target
	Func   *ir.Function
	Block  *ir.BasicBlock
}

// Infos maps each target basic block to its resolved target. When several
// targets land in the same block, the first one resolved is kept: the one
// matching the earliest instruction, then the earliest CSV row.
type Infos map[*ir.BasicBlock]Resolved

// fileMatch returns the position of the target filename inside the
// function's source filename, or -1. Only the first occurrence is
// considered; it must be the whole name or a '/'-bounded suffix part.
func fileMatch(fileName, targetName string) int {
	idx := strings.Index(fileName, targetName)
	if idx < 0 {
		return -1
	}
	if idx+len(targetName) != len(fileName) {
		return -1
	}
	if idx == 0 || fileName[idx-1] == '/' {
		return idx
	}
	return -1
}

// instrLine returns the debug line of an instruction. Alloca instructions
// resolve through the line of their dbg.declare variable.
func instrLine(inst *ir.Instruction) int {
	if inst.Op == ir.OpAlloca {
		return inst.DeclLine
	}
	return inst.Line
}

// Resolve maps every target to an IR instruction and its containing basic
// block. A function is a candidate when its source filename is the target's
// filename or ends with it right after a '/'; within candidates, the first non-phi instruction whose
// debug line equals the target line resolves the (file, line) bucket.
// Duplicate rows for the same (file, line) collapse into one resolution.
// Any row without a single candidate instruction fails with ErrUnresolved.
func Resolve(mod *ir.Module, targets []Target) (Infos, error) {
	infos := make(Infos)

	type bucket struct {
		file string
		line int
	}
	resolved := make(map[bucket]bool)

	for _, fn := range mod.Funcs {
		if fn.IsDecl() {
			continue
		}

		// Cheap pre-filter: skip functions whose filename mentions none of
		// the target files.
		candidate := false
		for _, t := range targets {
			if strings.Contains(fn.Filename, t.Filename) {
				candidate = true
				break
			}
		}
		if !candidate {
			continue
		}

		for _, bb := range fn.Blocks {
			for _, inst := range bb.Instrs {
				if inst.Op == ir.OpPhi {
					continue
				}
				line := instrLine(inst)
				if line == 0 {
					continue
				}

				for _, t := range targets {
					if fileMatch(fn.Filename, t.Filename) < 0 || t.Line != line {
						continue
					}
					key := bucket{t.Filename, t.Line}
					if resolved[key] {
						continue
					}
					resolved[key] = true
					if _, exists := infos[bb]; !exists {
						infos[bb] = Resolved{Target: t, Func: fn, Block: bb}
					}
				}
			}
		}
	}

	for _, t := range targets {
		if !resolved[bucket{t.Filename, t.Line}] {
			return nil, fmt.Errorf("%w: %s:%d", ErrUnresolved, t.Filename, t.Line)
		}
	}

	return infos, nil
}
