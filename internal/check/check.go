// Package check implements the two-pass name resolver and type checker
// (C6): pass 1 registers every top-level name so forward references resolve
// in any order; pass 2 resolves NamedType references and type-checks every
// expression and statement. No direct static analogue exists upstream
// (conversion happens dynamically at the C FFI boundary there); the
// predicate shape builds on internal/types, itself modeled on C67Type.
package check

import (
	"github.com/xyproto/hoil/internal/ast"
	"github.com/xyproto/hoil/internal/diag"
	"github.com/xyproto/hoil/internal/symtab"
	"github.com/xyproto/hoil/internal/types"
)

// Checker resolves and type-checks one module.
type Checker struct {
	sink    *diag.Sink
	global  *symtab.Table
	typedef map[string]ast.Type // name -> resolved concrete type, filled during pass 2
}

// New constructs a checker reporting into sink.
func New(sink *diag.Sink) *Checker {
	return &Checker{sink: sink, global: symtab.New(), typedef: make(map[string]ast.Type)}
}

func (c *Checker) loc(n ast.Node) *diag.Location {
	l := n.Loc()
	return &diag.Location{Line: l.Line, Column: l.Column, Filename: l.Filename}
}

// Check runs both passes over mod. Returns the global symbol table (handed
// to C8 for codegen) and true iff no diagnostic was raised.
func (c *Checker) Check(mod *ast.Module) (*symtab.Table, bool) {
	c.registerPass(mod)
	if c.sink.HasError() {
		return c.global, false
	}
	c.resolvePass(mod)
	return c.global, !c.sink.HasError()
}

// ---- Pass 1: registration ----

func (c *Checker) registerPass(mod *ast.Module) {
	for _, d := range mod.Decls {
		switch decl := d.(type) {
		case *ast.TypeDef:
			if !c.global.Add(&symtab.Entry{Name: decl.Name, Kind: symtab.KindType, Node: decl}) {
				c.sink.Report(diag.Semantic, c.loc(decl), "duplicate type name %q", decl.Name)
				return
			}
		case *ast.Constant:
			if !c.global.Add(&symtab.Entry{Name: decl.Name, Kind: symtab.KindConstant, Node: decl}) {
				c.sink.Report(diag.Semantic, c.loc(decl), "duplicate constant name %q", decl.Name)
				return
			}
		case *ast.Global:
			if !c.global.Add(&symtab.Entry{Name: decl.Name, Kind: symtab.KindGlobal, Node: decl}) {
				c.sink.Report(diag.Semantic, c.loc(decl), "duplicate global name %q", decl.Name)
				return
			}
		case *ast.ExternFunction:
			if !c.global.Add(&symtab.Entry{Name: decl.Name, Kind: symtab.KindFunction, Node: decl}) {
				c.sink.Report(diag.Semantic, c.loc(decl), "duplicate function name %q", decl.Name)
				return
			}
		case *ast.Function:
			if !c.global.Add(&symtab.Entry{Name: decl.Name, Kind: symtab.KindFunction, Node: decl}) {
				c.sink.Report(diag.Semantic, c.loc(decl), "duplicate function name %q", decl.Name)
				return
			}
		}
	}
}

// ---- Pass 2: resolution and checking ----

func (c *Checker) resolvePass(mod *ast.Module) {
	for _, d := range mod.Decls {
		if c.sink.HasError() {
			return
		}
		switch decl := d.(type) {
		case *ast.TypeDef:
			decl.Type = c.resolveType(decl.Type)
		case *ast.Constant:
			decl.Type = c.resolveType(decl.Type)
			vt := c.inferType(decl.Value, c.global)
			if vt != nil && !types.Compatible(decl.Type, vt) {
				c.sink.Report(diag.Type, c.loc(decl.Value), "constant %q initializer is not compatible with declared type %s", decl.Name, decl.Type)
				return
			}
			c.global.SetType(decl.Name, decl.Type)
			c.global.MarkDefined(decl.Name)
		case *ast.Global:
			decl.Type = c.resolveType(decl.Type)
			if decl.Init != nil {
				vt := c.inferType(decl.Init, c.global)
				if vt != nil && !types.Compatible(decl.Type, vt) {
					c.sink.Report(diag.Type, c.loc(decl.Init), "global %q initializer is not compatible with declared type %s", decl.Name, decl.Type)
					return
				}
			}
			c.global.SetType(decl.Name, decl.Type)
			c.global.MarkDefined(decl.Name)
		case *ast.ExternFunction:
			for _, p := range decl.Params {
				p.Type = c.resolveType(p.Type)
			}
			decl.Ret = c.resolveType(decl.Ret)
			c.global.MarkDefined(decl.Name)
		case *ast.Function:
			c.checkFunction(decl)
		}
	}
}

func (c *Checker) resolveType(t ast.Type) ast.Type {
	switch tt := t.(type) {
	case *ast.NamedType:
		e, ok := c.global.Lookup(tt.Name, false)
		if !ok || e.Kind != symtab.KindType {
			c.sink.Report(diag.Type, c.loc(tt), "unknown type name %q", tt.Name)
			return tt
		}
		td := e.Node.(*ast.TypeDef)
		if st, ok := td.Type.(*ast.StructType); ok {
			return st
		}
		return c.resolveType(td.Type)
	case *ast.PtrType:
		tt.Elem = c.resolveType(tt.Elem)
		return tt
	case *ast.VecType:
		tt.Elem = c.resolveType(tt.Elem)
		return tt
	case *ast.ArrayType:
		tt.Elem = c.resolveType(tt.Elem)
		return tt
	case *ast.StructType:
		for _, f := range tt.Fields {
			f.Type = c.resolveType(f.Type)
		}
		return tt
	case *ast.FunctionType:
		for i, p := range tt.Params {
			tt.Params[i] = c.resolveType(p)
		}
		tt.Ret = c.resolveType(tt.Ret)
		return tt
	default:
		return t
	}
}

func (c *Checker) checkFunction(fn *ast.Function) {
	local := symtab.NewChild(c.global)
	for _, p := range fn.Params {
		p.Type = c.resolveType(p.Type)
		local.Add(&symtab.Entry{Name: p.Name, Kind: symtab.KindParameter, Node: p, ResolvedType: p.Type, Defined: true})
	}
	fn.Ret = c.resolveType(fn.Ret)

	blockNames := make(map[string]bool, len(fn.Blocks))
	for _, b := range fn.Blocks {
		if blockNames[b.Label] {
			c.sink.Report(diag.Semantic, c.loc(b), "duplicate block label %q in function %q", b.Label, fn.Name)
			return
		}
		blockNames[b.Label] = true
		local.Add(&symtab.Entry{Name: b.Label, Kind: symtab.KindBlock, Node: b, Defined: true})
	}

	for _, b := range fn.Blocks {
		for _, stmt := range b.Stmts {
			if c.sink.HasError() {
				return
			}
			c.checkStmt(stmt, local, fn, blockNames)
		}
	}
}

func (c *Checker) checkStmt(stmt ast.Statement, local *symtab.Table, fn *ast.Function, blockNames map[string]bool) {
	switch s := stmt.(type) {
	case *ast.Assign:
		var vt ast.Type
		if call, ok := s.Value.(*ast.Call); ok && c.isInstructionWrapper(call, local) {
			// s.Value is an instruction mnemonic's Call wrapper (built by
			// the parser's parseInstructionExpr), not a genuine function
			// call — check its operands the same way a bare Instruction
			// statement does, rather than treating the wrapper itself as
			// a callee to resolve.
			for _, o := range call.Args {
				c.inferType(o, local)
			}
		} else {
			vt = c.inferType(s.Value, local)
		}
		if e, ok := local.Lookup(s.Target, false); ok {
			if vt != nil && e.ResolvedType != nil && !types.Compatible(e.ResolvedType, vt) {
				c.sink.Report(diag.Type, c.loc(s), "assignment to %q is not compatible with its established type", s.Target)
			}
			return
		}
		local.Add(&symtab.Entry{Name: s.Target, Kind: symtab.KindLocal, Node: s, ResolvedType: vt, Defined: true})
	case *ast.Instruction:
		for _, o := range s.Operands {
			c.inferType(o, local)
		}
	case *ast.Branch:
		if s.Cond != nil {
			ct := c.inferType(s.Cond, local)
			if ct != nil && !types.IsBool(ct) {
				c.sink.Report(diag.Type, c.loc(s.Cond), "branch condition must be bool")
				return
			}
		}
		if s.TrueLabel != "" && !blockNames[s.TrueLabel] {
			c.sink.Report(diag.Semantic, c.loc(s), "undefined branch target %q", s.TrueLabel)
			return
		}
		if s.FalseLabel != "" && !blockNames[s.FalseLabel] {
			c.sink.Report(diag.Semantic, c.loc(s), "undefined branch target %q", s.FalseLabel)
			return
		}
	case *ast.Return:
		if s.Value == nil {
			if _, ok := fn.Ret.(*ast.VoidType); !ok {
				c.sink.Report(diag.Type, c.loc(s), "bare return in function %q with non-void return type", fn.Name)
			}
			return
		}
		vt := c.inferType(s.Value, local)
		if vt != nil && !types.Compatible(fn.Ret, vt) {
			c.sink.Report(diag.Type, c.loc(s.Value), "return value is not compatible with function %q's return type", fn.Name)
		}
	}
}

// isInstructionWrapper reports whether call is the parser's instruction-RHS
// wrapper (parseInstructionExpr's callee is the mnemonic itself) rather than
// a genuine call expression. A mnemonic that is also bound as a name (a
// function called "add") is treated as a genuine call to that name.
func (c *Checker) isInstructionWrapper(call *ast.Call, local *symtab.Table) bool {
	ident, ok := call.Callee.(*ast.Identifier)
	if !ok {
		return false
	}
	entry, found := local.Lookup(ident.Name, true)
	return !found || entry.Kind != symtab.KindFunction
}

// inferType infers the static type of an expression, looking up identifiers
// in the given local scope (falling back to global). Returns nil (no
// diagnostic) for constructs whose type cannot be statically known here
// (bare instruction mnemonics as call-callees) — codegen handles those.
func (c *Checker) inferType(e ast.Expression, local *symtab.Table) ast.Type {
	switch ex := e.(type) {
	case *ast.Integer:
		t := &ast.IntType{Bits: 32, Signed: true}
		t.Location = ex.Location
		return t
	case *ast.Float:
		t := &ast.FloatType{Bits: 64}
		t.Location = ex.Location
		return t
	case *ast.String:
		inner := &ast.IntType{Bits: 8, Signed: true}
		t := &ast.PtrType{Elem: inner}
		t.Location = ex.Location
		return t
	case *ast.Identifier:
		if e, ok := local.Lookup(ex.Name, true); ok {
			return e.ResolvedType
		}
		// instruction mnemonics are not bound in scope; leave untyped
		return nil
	case *ast.FieldAccess:
		rt := c.inferType(ex.Recv, local)
		st, ok := rt.(*ast.StructType)
		if !ok {
			if rt != nil {
				c.sink.Report(diag.Type, c.loc(ex), "field access on non-struct type %s", rt)
			}
			return nil
		}
		for _, f := range st.Fields {
			if f.Name == ex.Field {
				return f.Type
			}
		}
		c.sink.Report(diag.Semantic, c.loc(ex), "struct %s has no field %q", st.Name, ex.Field)
		return nil
	case *ast.Index:
		rt := c.inferType(ex.Recv, local)
		switch rv := rt.(type) {
		case *ast.ArrayType:
			return rv.Elem
		case *ast.VecType:
			return rv.Elem
		}
		return nil
	case *ast.Call:
		// A call whose callee is a plain identifier may be an instruction
		// mnemonic (untyped here, handled structurally by codegen) or a
		// genuine function call, which is arity/type-checked against its
		// declared signature.
		ident, ok := ex.Callee.(*ast.Identifier)
		if !ok {
			return nil
		}
		entry, found := local.Lookup(ident.Name, true)
		if !found || entry.Kind != symtab.KindFunction {
			return nil
		}
		var params []ast.Type
		var ret ast.Type
		switch fn := entry.Node.(type) {
		case *ast.Function:
			ret = fn.Ret
			for _, p := range fn.Params {
				params = append(params, p.Type)
			}
		case *ast.ExternFunction:
			ret = fn.Ret
			for _, p := range fn.Params {
				params = append(params, p.Type)
			}
		}
		if len(params) != len(ex.Args) {
			c.sink.Report(diag.Type, c.loc(ex), "call to %q has %d arguments, expected %d", ident.Name, len(ex.Args), len(params))
			return ret
		}
		for i, arg := range ex.Args {
			at := c.inferType(arg, local)
			if at != nil && !types.Compatible(params[i], at) {
				c.sink.Report(diag.Type, c.loc(arg), "argument %d to %q is not compatible with parameter type", i+1, ident.Name)
				return ret
			}
		}
		return ret
	default:
		return nil
	}
}

// LookupLocalOrGlobal resolves an identifier's type, walking from local up
// to the module's global table. Exposed for internal/codegen.
func LookupLocalOrGlobal(local *symtab.Table, name string) (*symtab.Entry, bool) {
	return local.Lookup(name, true)
}
