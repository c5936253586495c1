// Package ir provides a read-mostly view over a compiled program in compiler
// intermediate representation. Modules are exchanged with the bitcode
// frontend as a deterministic JSON dump; functions own their basic blocks in
// declaration order and blocks reference successors by intra-function index,
// so all iteration over the module is stable.
package ir

import (
	"fmt"
)

// Opcode classifies an instruction. The analyzer only distinguishes the
// opcodes below; everything else is carried as OpGeneric.
type Opcode string

const (
	OpAlloca      Opcode = "alloca"
	OpPhi         Opcode = "phi"
	OpCall        Opcode = "call"
	OpICmp        Opcode = "icmp"
	OpBr          Opcode = "br"
	OpSwitch      Opcode = "switch"
	OpRet         Opcode = "ret"
	OpUnreachable Opcode = "unreachable"
	OpGeneric     Opcode = "op"

	// Instrumentation opcodes inserted by the rewriter. They never appear in
	// frontend dumps.
	OpMapLoad     Opcode = "map.load"
	OpMapAddU64   Opcode = "map.add.u64"
	OpMapStoreU8  Opcode = "map.store.u8"
	OpCondStore   Opcode = "cond.store"
	OpCVarStoreInt Opcode = "cvar.store.int"
	OpCVarStoreStr Opcode = "cvar.store.str"
)

// TypeKind classifies an operand's type.
type TypeKind string

const (
	TypeInt   TypeKind = "int"
	TypePtr   TypeKind = "ptr"
	TypeOther TypeKind = "other"
)

// Operand is a value referenced by an instruction.
type Operand struct {
	Type  TypeKind `json:"type,omitempty"`
	Width int      `json:"width,omitempty"` // integer bit width
	Const bool     `json:"const,omitempty"`
	Int   int64    `json:"int,omitempty"` // constant integer value (sign-extended)

	// Ref is the 1-based index of the defining instruction in the same basic
	// block (0 = defined elsewhere). Global names a referenced module global.
	Ref    int    `json:"ref,omitempty"`
	Global string `json:"global,omitempty"`
}

// Instruction is a single IR operation. Line is the debug line number
// (0 = no debug location). Alloca instructions carry the line of their
// dbg.declare variable in DeclLine.
type Instruction struct {
	Op       Opcode    `json:"op"`
	Line     int       `json:"line,omitempty"`
	DeclLine int       `json:"decl_line,omitempty"`
	Callee   string    `json:"callee,omitempty"`
	Args     []Operand `json:"args,omitempty"`

	// CondRef is the 1-based in-block index of the instruction computing a
	// conditional branch's condition (0 = none / defined elsewhere).
	CondRef int `json:"cond_ref,omitempty"`

	// Fields used by instrumentation opcodes.
	MapName    string `json:"map,omitempty"`
	Offset     int64  `json:"offset,omitempty"`
	Value      int64  `json:"value,omitempty"`
	CondID     int    `json:"cond_id,omitempty"`
	Slot       int    `json:"slot,omitempty"`
	NoSanitize bool   `json:"nosanitize,omitempty"`
}

// BasicBlock owns an ordered instruction sequence. Succs holds successor
// blocks as intra-function indices; predecessors are derived.
type BasicBlock struct {
	ID     int            `json:"id"`
	Instrs []*Instruction `json:"instrs"`
	Succs  []int          `json:"succs,omitempty"`
}

// Function owns its basic blocks in layout order. A function with no blocks
// is a declaration. Filename and Line come from the subprogram debug info.
type Function struct {
	Name     string        `json:"name"`
	Filename string        `json:"filename,omitempty"`
	Line     int           `json:"line,omitempty"`
	Blocks   []*BasicBlock `json:"blocks,omitempty"`
}

// Global is a module-level variable. String-constant globals carry their raw
// initializer bytes (including the trailing NUL) in Str.
type Global struct {
	Name     string `json:"name"`
	IsString bool   `json:"is_string,omitempty"`
	Str      string `json:"str,omitempty"`
}

// Module is the root of the IR view.
type Module struct {
	Name         string      `json:"name"`
	DwarfVersion int         `json:"dwarf_version"`
	Globals      []*Global   `json:"globals,omitempty"`
	Funcs        []*Function `json:"functions"`
}

// IsDecl reports whether the function has no body.
func (f *Function) IsDecl() bool { return len(f.Blocks) == 0 }

// Preds computes the predecessor adjacency of the function by reversing the
// successor edges.
func (f *Function) Preds() [][]int {
	preds := make([][]int, len(f.Blocks))
	for i, bb := range f.Blocks {
		for _, s := range bb.Succs {
			preds[s] = append(preds[s], i)
		}
	}
	return preds
}

// Term returns the block terminator, i.e. its last instruction.
func (b *BasicBlock) Term() *Instruction {
	if len(b.Instrs) == 0 {
		return nil
	}
	return b.Instrs[len(b.Instrs)-1]
}

// FirstInsertionIdx returns the index of the first non-phi position in the
// block, where block-entry instrumentation is inserted.
func (b *BasicBlock) FirstInsertionIdx() int {
	for i, inst := range b.Instrs {
		if inst.Op != OpPhi {
			return i
		}
	}
	return len(b.Instrs)
}

// DebugLoc returns the source location of the first instruction in the block
// that carries one, formatted "{ ln: N fl: file }", or "{ }" when none does.
func (b *BasicBlock) DebugLoc(f *Function) string {
	for _, inst := range b.Instrs {
		if inst.Line > 0 {
			return fmt.Sprintf("{ ln: %d fl: %s }", inst.Line, f.Filename)
		}
	}
	return "{ }"
}

// DebugLoc returns the source location of the function's definition.
func (f *Function) DebugLoc() string {
	if f.Line == 0 && f.Filename == "" {
		return "{ }"
	}
	return fmt.Sprintf("{ ln: %d fl: %s }", f.Line, f.Filename)
}

// FuncByName returns the function with the given name, preferring a
// definition over a declaration, or nil.
func (m *Module) FuncByName(name string) *Function {
	var decl *Function
	for _, f := range m.Funcs {
		if f.Name != name {
			continue
		}
		if !f.IsDecl() {
			return f
		}
		if decl == nil {
			decl = f
		}
	}
	return decl
}

// GlobalByName returns the named global, or nil.
func (m *Module) GlobalByName(name string) *Global {
	for _, g := range m.Globals {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// EnsureGlobal returns the named global, creating an external declaration if
// it does not exist yet.
func (m *Module) EnsureGlobal(name string) *Global {
	if g := m.GlobalByName(name); g != nil {
		return g
	}
	g := &Global{Name: name}
	m.Globals = append(m.Globals, g)
	return g
}

// AssignBlockIDs assigns dense, module-wide basic block ids in declaration
// order. It must run before any analysis pass relies on block identity; the
// ids survive Save.
func AssignBlockIDs(m *Module) {
	id := 0
	for _, f := range m.Funcs {
		for _, bb := range f.Blocks {
			bb.ID = id
			id++
		}
	}
}
