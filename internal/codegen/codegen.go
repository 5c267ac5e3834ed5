// Package codegen walks a type-checked module and drives internal/mil/build
// to produce a MIL container. Register allocation is purely sequential,
// generalizing a stack-slot allocation scheme from stack offsets to
// single-byte register ids; there is no optimization or real allocation
// beyond that — out of scope for this toolchain.
package codegen

import (
	"fmt"

	"github.com/xyproto/hoil/internal/ast"
	"github.com/xyproto/hoil/internal/mil"
	"github.com/xyproto/hoil/internal/mil/build"
	"github.com/xyproto/hoil/internal/symtab"
)

// noDest is the reserved "no destination register" address.
const noDest = 255

// maxRegisters bounds how many distinct registers/temporaries a single
// function may use; exceeding it is an internal error (register
// exhaustion), never silently wrapped.
const maxRegisters = 254

// Gen drives code generation for one module.
type Gen struct {
	b       *build.Builder
	global  *symtab.Table
	typeIdx map[string]int // struct type name -> builder type index
}

// New constructs a generator targeting a fresh builder.
func New(global *symtab.Table) *Gen {
	return &Gen{b: build.New(), global: global, typeIdx: make(map[string]int)}
}

// Generate emits every declaration in mod and returns the finished MIL
// container bytes.
func (g *Gen) Generate(mod *ast.Module) ([]byte, error) {
	g.b.SetModuleName(mod.Name)

	for _, d := range mod.Decls {
		if td, ok := d.(*ast.TypeDef); ok {
			g.registerStructType(td)
		}
	}
	for _, d := range mod.Decls {
		switch decl := d.(type) {
		case *ast.Constant:
			g.emitConstant(decl)
		case *ast.Global:
			g.emitGlobal(decl)
		case *ast.ExternFunction:
			g.emitExternFunction(decl)
		}
	}
	for _, d := range mod.Decls {
		if fn, ok := d.(*ast.Function); ok {
			if err := g.emitFunction(fn); err != nil {
				return nil, err
			}
		}
	}
	return g.b.Build()
}

func (g *Gen) registerStructType(td *ast.TypeDef) {
	st, ok := td.Type.(*ast.StructType)
	if !ok {
		return
	}
	var fieldIdx []int
	for _, f := range st.Fields {
		fieldIdx = append(fieldIdx, g.typeEncoding(f.Type))
	}
	idx := g.b.AddStructType(fieldIdx, td.Name)
	g.typeIdx[td.Name] = idx
}

// typeEncoding returns the builder's stable type-section index for t,
// registering a fresh entry for composite shapes not already seen.
func (g *Gen) typeEncoding(t ast.Type) int {
	switch tt := t.(type) {
	case *ast.VoidType:
		return build.TypeVoid
	case *ast.BoolType:
		return build.TypeBool
	case *ast.IntType:
		switch {
		case tt.Bits == 8 && tt.Signed:
			return build.TypeI8
		case tt.Bits == 16 && tt.Signed:
			return build.TypeI16
		case tt.Bits == 32 && tt.Signed:
			return build.TypeI32
		case tt.Bits == 64 && tt.Signed:
			return build.TypeI64
		case tt.Bits == 8:
			return build.TypeU8
		case tt.Bits == 16:
			return build.TypeU16
		case tt.Bits == 32:
			return build.TypeU32
		default:
			return build.TypeU64
		}
	case *ast.FloatType:
		switch tt.Bits {
		case 16:
			return build.TypeF16
		case 32:
			return build.TypeF32
		default:
			return build.TypeF64
		}
	case *ast.PtrType:
		return build.TypePtr
	case *ast.StructType:
		if idx, ok := g.typeIdx[tt.Name]; ok {
			return idx
		}
		return g.b.AddType(0xF0000000, tt.Name)
	default:
		return g.b.AddType(0, t.String())
	}
}

// memType maps an ast.Type to the MIL record-level memory type.
func memType(t ast.Type) mil.MemType {
	switch tt := t.(type) {
	case *ast.BoolType:
		return mil.Bool
	case *ast.IntType:
		switch {
		case tt.Bits == 8 && tt.Signed:
			return mil.Int8
		case tt.Bits == 16 && tt.Signed:
			return mil.Int16
		case tt.Bits == 32 && tt.Signed:
			return mil.Int32
		case tt.Bits == 64 && tt.Signed:
			return mil.Int64
		case tt.Bits == 8:
			return mil.Uint8
		case tt.Bits == 16:
			return mil.Uint16
		case tt.Bits == 32:
			return mil.Uint32
		default:
			return mil.Uint64
		}
	case *ast.FloatType:
		if tt.Bits == 32 {
			return mil.Float32
		}
		return mil.Float64
	case *ast.PtrType:
		return mil.Ptr
	default:
		return mil.Int64
	}
}

func (g *Gen) emitConstant(c *ast.Constant) {
	g.b.AddConstant(c.Name, uint32(g.typeEncoding(c.Type)), encodeLiteral(c.Value))
}

func (g *Gen) emitGlobal(gl *ast.Global) {
	var init []byte
	if gl.Init != nil {
		init = encodeLiteral(gl.Init)
	}
	g.b.AddGlobal(gl.Name, uint32(g.typeEncoding(gl.Type)), init)
}

func encodeLiteral(e ast.Expression) []byte {
	switch v := e.(type) {
	case *ast.Integer:
		return le64(uint64(v.Value))
	case *ast.Float:
		return le64(uint64(v.Value))
	case *ast.String:
		return []byte(v.Value)
	default:
		return nil
	}
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func (g *Gen) emitExternFunction(fn *ast.ExternFunction) {
	var params []uint32
	for _, p := range fn.Params {
		params = append(params, uint32(g.typeEncoding(p.Type)))
	}
	g.b.AddFunction(fn.Name, params, uint32(g.typeEncoding(fn.Ret)), true)
}

// funcGen holds the per-function state used while emitting one function's
// code: the register allocator and the block-label-to-index table that
// resolves spec.md Open Question #2 (br target resolution).
type funcGen struct {
	nextReg    int
	regs       map[string]uint8
	blockIndex map[string]uint8
}

func newFuncGen() *funcGen {
	return &funcGen{regs: make(map[string]uint8), blockIndex: make(map[string]uint8)}
}

func (fg *funcGen) alloc(name string) (uint8, error) {
	if r, ok := fg.regs[name]; ok {
		return r, nil
	}
	if fg.nextReg >= maxRegisters {
		return 0, fmt.Errorf("codegen: register exhaustion in function (more than %d live names)", maxRegisters)
	}
	r := uint8(fg.nextReg)
	fg.nextReg++
	fg.regs[name] = r
	return r, nil
}

func (fg *funcGen) fresh() (uint8, error) {
	if fg.nextReg >= maxRegisters {
		return 0, fmt.Errorf("codegen: register exhaustion in function (more than %d temporaries)", maxRegisters)
	}
	r := uint8(fg.nextReg)
	fg.nextReg++
	return r, nil
}

// regAddr maps a register id to its byte offset in the VM's flat memory.
// Each register occupies one 8-byte slot (the widest MemType) so adjacent
// registers never alias when the VM reads/writes through readInt64/writeInt64.
func regAddr(r uint8) uint16 {
	return uint16(r) * 8
}

func (g *Gen) emitFunction(fn *ast.Function) error {
	var paramTypes []uint32
	for _, p := range fn.Params {
		paramTypes = append(paramTypes, uint32(g.typeEncoding(p.Type)))
	}
	idx := g.b.AddFunction(fn.Name, paramTypes, uint32(g.typeEncoding(fn.Ret)), false)

	if err := g.b.BeginFunctionCode(idx); err != nil {
		return err
	}
	defer g.b.EndFunctionCode()

	fg := newFuncGen()
	for _, p := range fn.Params {
		if _, err := fg.alloc(p.Name); err != nil {
			return err
		}
	}

	// Block indices are assigned from source order up front so forward
	// branches resolve regardless of which block defines the label
	// (resolves Open Question #2: HOIL block names map to stable MIL
	// label ids via this table, built once per function).
	for i, blk := range fn.Blocks {
		if i > 255 {
			return fmt.Errorf("codegen: function %q has more than 255 blocks", fn.Name)
		}
		fg.blockIndex[blk.Label] = uint8(i)
	}

	// Only branch-target blocks get a LABEL_DEF record (id = block index).
	targeted := make(map[string]bool)
	for _, blk := range fn.Blocks {
		for _, stmt := range blk.Stmts {
			if br, ok := stmt.(*ast.Branch); ok {
				targeted[br.TrueLabel] = true
				targeted[br.FalseLabel] = true
			}
		}
	}

	for _, blk := range fn.Blocks {
		if _, err := g.b.AddBlock(blk.Label); err != nil {
			return err
		}
		if targeted[blk.Label] {
			if err := g.b.AddInstruction(mil.LabelDef, mil.Int64, uint16(fg.blockIndex[blk.Label]), 0); err != nil {
				return err
			}
		}
		for _, stmt := range blk.Stmts {
			if err := g.emitStmt(stmt, fg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Gen) emitStmt(stmt ast.Statement, fg *funcGen) error {
	switch s := stmt.(type) {
	case *ast.Assign:
		dest, err := fg.alloc(s.Target)
		if err != nil {
			return err
		}
		return g.emitAssignValue(s.Value, dest, fg)
	case *ast.Instruction:
		return g.emitInstruction(s.Mnemonic, s.Operands, noDest, fg)
	case *ast.Branch:
		return g.emitBranch(s, fg)
	case *ast.Return:
		return g.emitReturn(s, fg)
	default:
		return fmt.Errorf("codegen: unhandled statement type %T", stmt)
	}
}

func (g *Gen) emitAssignValue(val ast.Expression, dest uint8, fg *funcGen) error {
	if call, ok := val.(*ast.Call); ok {
		if ident, ok := call.Callee.(*ast.Identifier); ok {
			return g.emitInstruction(ident.Name, call.Args, dest, fg)
		}
	}
	// Otherwise it's a plain value expression; materialize it into dest.
	src, err := g.emitExpr(val, fg)
	if err != nil {
		return err
	}
	return g.b.AddInstruction(mil.Move, mil.Int64, regAddr(dest), uint64(regAddr(src)))
}

// emitInstruction emits one MIL opcode for a mnemonic + operand list,
// placing its result (if any) at dest (noDest if the caller discards it).
func (g *Gen) emitInstruction(mnemonic string, operands []ast.Expression, dest uint8, fg *funcGen) error {
	op, ok := mnemonicOpcode[mnemonic]
	if !ok {
		return fmt.Errorf("codegen: unknown instruction mnemonic %q", mnemonic)
	}

	switch op {
	case mil.AllocImm:
		imm, err := literalImm(operands[0])
		if err != nil {
			return err
		}
		return g.b.AddInstruction(mil.AllocImm, mil.Int64, regAddr(dest), imm)
	case mil.Add, mil.Sub, mil.Mul, mil.Div, mil.Mod,
		mil.And, mil.Or, mil.Xor, mil.Shl, mil.Shr:
		a, err := g.emitExpr(operands[0], fg)
		if err != nil {
			return err
		}
		b, err := g.emitExpr(operands[1], fg)
		if err != nil {
			return err
		}
		imm := uint64(regAddr(a))<<32 | uint64(regAddr(b))
		return g.b.AddInstruction(op, mil.Int64, regAddr(dest), imm)
	case mil.Neg, mil.Not:
		a, err := g.emitExpr(operands[0], fg)
		if err != nil {
			return err
		}
		return g.b.AddInstruction(op, mil.Int64, regAddr(dest), uint64(regAddr(a)))
	case mil.Move, mil.AllocMem:
		a, err := g.emitExpr(operands[0], fg)
		if err != nil {
			return err
		}
		return g.b.AddInstruction(op, mil.Int64, regAddr(dest), uint64(regAddr(a)))
	case mil.Load:
		ptr, err := g.emitExpr(operands[0], fg)
		if err != nil {
			return err
		}
		return g.b.AddInstruction(mil.Load, mil.Int64, regAddr(dest), uint64(regAddr(ptr)))
	case mil.Store:
		ptr, err := g.emitExpr(operands[0], fg)
		if err != nil {
			return err
		}
		val, err := g.emitExpr(operands[1], fg)
		if err != nil {
			return err
		}
		return g.b.AddInstruction(mil.Store, mil.Int64, regAddr(ptr), uint64(regAddr(val)))
	case mil.Push, mil.Pop:
		a, err := g.emitExpr(operands[0], fg)
		if err != nil {
			return err
		}
		return g.b.AddInstruction(op, mil.Int64, regAddr(a), 0)
	case mil.Syscall:
		imm, err := literalImm(operands[0])
		if err != nil {
			return err
		}
		return g.b.AddInstruction(mil.Syscall, mil.Int64, regAddr(dest), imm)
	case mil.Exit:
		src, err := g.emitExpr(operands[0], fg)
		if err != nil {
			return err
		}
		return g.b.AddInstruction(mil.Exit, mil.Int64, 0, uint64(regAddr(src)))
	case mil.Call:
		// Inter-function CALL targets (resolving a callee to a code offset
		// rather than a syscall number) are unimplemented: spec.md's own
		// Non-goals exclude cross-module linking, and within one function
		// every observed use of the call mnemonic addresses an extern via
		// SYSCALL instead.
		return fmt.Errorf("codegen: direct CALL to a function target is not supported; use an extern via syscall")
	default:
		return fmt.Errorf("codegen: no lowering defined for mnemonic %q", mnemonic)
	}
}

// emitExpr materializes an expression into a register and returns it. A
// bare literal uses the dedicated LOAD_IMM opcode (Open Question #1); an
// identifier already bound to a register is returned directly (no
// redundant move).
func (g *Gen) emitExpr(e ast.Expression, fg *funcGen) (uint8, error) {
	switch ex := e.(type) {
	case *ast.Identifier:
		return fg.alloc(ex.Name)
	case *ast.Integer:
		r, err := fg.fresh()
		if err != nil {
			return 0, err
		}
		if err := g.b.AddInstruction(mil.LoadImm, mil.Int64, regAddr(r), uint64(ex.Value)); err != nil {
			return 0, err
		}
		return r, nil
	case *ast.Float:
		r, err := fg.fresh()
		if err != nil {
			return 0, err
		}
		bits := uint64(0)
		if ex.Value != 0 {
			bits = uint64(int64(ex.Value * 1e9)) // fixed-point scratch encoding for scratch literals
		}
		if err := g.b.AddInstruction(mil.LoadImm, mil.Float64, regAddr(r), bits); err != nil {
			return 0, err
		}
		return r, nil
	default:
		r, err := fg.fresh()
		if err != nil {
			return 0, err
		}
		return r, nil
	}
}

func literalImm(e ast.Expression) (uint64, error) {
	switch v := e.(type) {
	case *ast.Integer:
		return uint64(v.Value), nil
	default:
		return 0, fmt.Errorf("codegen: expected a literal operand, got %T", e)
	}
}

func (g *Gen) emitBranch(br *ast.Branch, fg *funcGen) error {
	trueIdx, ok := fg.blockIndex[br.TrueLabel]
	if !ok {
		return fmt.Errorf("codegen: unresolved branch target %q", br.TrueLabel)
	}
	if br.Cond == nil {
		return g.b.AddInstruction(mil.Jmp, mil.Int64, 0, uint64(trueIdx))
	}
	cond, err := g.emitExpr(br.Cond, fg)
	if err != nil {
		return err
	}
	falseIdx := uint8(0)
	if br.FalseLabel != "" {
		falseIdx, ok = fg.blockIndex[br.FalseLabel]
		if !ok {
			return fmt.Errorf("codegen: unresolved branch target %q", br.FalseLabel)
		}
	}
	// JNE compares two live registers, so the false side of the boolean
	// condition needs a real register holding 0 rather than a borrowed
	// address — reading register 0 directly would compare cond against
	// whatever value happens to occupy that slot.
	zero, err := fg.fresh()
	if err != nil {
		return err
	}
	if err := g.b.AddInstruction(mil.LoadImm, mil.Int64, regAddr(zero), 0); err != nil {
		return err
	}
	// imm packs (src1<<48)|(src2<<32)|label per §4.10.
	imm := uint64(regAddr(cond))<<48 | uint64(regAddr(zero))<<32 | uint64(trueIdx)
	if err := g.b.AddInstruction(mil.Jne, mil.Bool, 0, imm); err != nil {
		return err
	}
	if br.FalseLabel != "" {
		return g.b.AddInstruction(mil.Jmp, mil.Int64, 0, uint64(falseIdx))
	}
	return nil
}

func (g *Gen) emitReturn(ret *ast.Return, fg *funcGen) error {
	if ret.Value == nil {
		return g.b.AddInstruction(mil.Ret, mil.Int64, mil.NoOperand, 0)
	}
	src, err := g.emitExpr(ret.Value, fg)
	if err != nil {
		return err
	}
	return g.b.AddInstruction(mil.Ret, mil.Int64, 0, uint64(regAddr(src)))
}

var mnemonicOpcode = map[string]mil.Opcode{
	"alloc_imm": mil.AllocImm,
	"alloc_mem": mil.AllocMem,
	"move":      mil.Move,
	"load":      mil.Load,
	"store":     mil.Store,
	"add":       mil.Add,
	"sub":       mil.Sub,
	"mul":       mil.Mul,
	"div":       mil.Div,
	"mod":       mil.Mod,
	"neg":       mil.Neg,
	"and":       mil.And,
	"or":        mil.Or,
	"xor":       mil.Xor,
	"not":       mil.Not,
	"shl":       mil.Shl,
	"shr":       mil.Shr,
	"call":      mil.Call,
	"push":      mil.Push,
	"pop":       mil.Pop,
	"syscall":   mil.Syscall,
	"exit":      mil.Exit,
}
