package analysis

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zjy-dev/cbi/internal/ir"
)

// Cond is one recorded branch condition. Kinds are "none", "intN", "str" or
// "str_const"; reprs are "var", a decimal literal, the captured string
// constant, or "none" for a non-integer constant. Op1/Op2 are the operands whose runtime values the rewriter
// snapshots.
type Cond struct {
	ID int
	BB *ir.BasicBlock
	Fn *ir.Function

	Op1Kind string
	Op2Kind string
	Op1Repr string
	Op2Repr string

	Op1 ir.Operand
	Op2 ir.Operand
}

// NeedsIntSnapshot reports whether the given side (0 = left, 1 = right)
// carries a variable integer worth recording.
func (c *Cond) NeedsIntSnapshot(side int) bool {
	kind, repr := c.Op1Kind, c.Op1Repr
	if side == 1 {
		kind, repr = c.Op2Kind, c.Op2Repr
	}
	return strings.Contains(kind, "int") && repr == "var"
}

// NeedsStrSnapshot reports whether the condition compares against a string
// constant, in which case the left pointer is snapshotted.
func (c *Cond) NeedsStrSnapshot() bool {
	return c.Op2Kind == "str_const"
}

// analyzeConditions examines the terminator of every multi-successor block.
// Conditional branches on integer comparisons of sufficient width, and
// strcmp-against-short-constant patterns, receive a condition id (from 1, in
// analysis order) and an operand record. Switch terminators and branches on
// anything but a comparison are ignored.
func (s *State) analyzeConditions() {
	condID := 1

	for _, fn := range s.Mod.Funcs {
		for _, bb := range fn.Blocks {
			if len(bb.Succs) == 1 {
				continue
			}
			term := bb.Term()
			if term == nil || term.Op != ir.OpBr || term.CondRef == 0 {
				continue
			}
			cmp := bb.Instrs[term.CondRef-1]
			if cmp.Op != ir.OpICmp || len(cmp.Args) < 2 {
				continue
			}

			op1, op2 := cmp.Args[0], cmp.Args[1]
			k1, k2 := "none", "none"
			r1, r2 := "none", "none"
			needRecord := false

			if op1.Type == ir.TypeInt {
				k1 = fmt.Sprintf("int%d", op1.Width)
				if op1.Width >= 32 {
					needRecord = true
				}
			}
			if op2.Type == ir.TypeInt {
				k2 = fmt.Sprintf("int%d", op2.Width)
				if op2.Width >= 32 {
					needRecord = true
				}
			}

			if !op1.Const {
				r1 = "var"
			} else if op1.Type == ir.TypeInt {
				r1 = strconv.FormatInt(op1.Int, 10)
			}
			if !op2.Const {
				r2 = "var"
			} else if op2.Type == ir.TypeInt {
				r2 = strconv.FormatInt(op2.Int, 10)
			}

			// Comparisons of a strcmp result are reclassified as string
			// comparisons when the second strcmp argument is a
			// string-constant global. A constant short enough for a single
			// u64 snapshot (at most 8 bytes) makes the condition recordable
			// on its own.
			if op1.Ref > 0 {
				call := bb.Instrs[op1.Ref-1]
				if call.Op == ir.OpCall && call.Callee == "strcmp" && len(call.Args) >= 2 {
					if g := s.Mod.GlobalByName(call.Args[1].Global); g != nil && g.IsString {
						k1, r1 = "str", "var"
						k2 = "str_const"
						r2 = g.Str
						op1 = call.Args[0]
						op2 = call.Args[1]
						if len(g.Str) <= 8 {
							needRecord = true
						}
					}
				}
			}

			if !needRecord {
				continue
			}

			cond := &Cond{
				ID:      condID,
				BB:      bb,
				Fn:      fn,
				Op1Kind: k1,
				Op2Kind: k2,
				Op1Repr: r1,
				Op2Repr: r2,
				Op1:     op1,
				Op2:     op2,
			}
			s.Conds = append(s.Conds, cond)
			s.CondByBB[bb] = cond
			condID++
		}
	}
}
