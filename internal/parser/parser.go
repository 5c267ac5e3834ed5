// Package parser implements a recursive-descent parser over internal/lexer,
// producing an internal/ast tree. Follows the classic Parser shape: one-token
// lookahead (current/peek), a panic-to-recover error idiom at the entry
// point, and NewParserWithFilename-style construction, applied to the HOIL
// module grammar.
package parser

import (
	"fmt"

	"github.com/xyproto/hoil/internal/ast"
	"github.com/xyproto/hoil/internal/lexer"
)

// Parser recursive-descends a token stream into an *ast.Module.
type Parser struct {
	lex      *lexer.Lexer
	current  lexer.Token
	filename string
}

// New constructs a parser over src, attributing nodes to filename.
func New(src []byte, filename string) *Parser {
	p := &Parser{lex: lexer.New(src, filename), filename: filename}
	p.current = p.lex.Next()
	return p
}

func (p *Parser) loc() ast.Location {
	return ast.Location{Line: p.current.Line, Column: p.current.Column, Filename: p.filename}
}

func (p *Parser) advance() lexer.Token {
	t := p.current
	p.current = p.lex.Next()
	return t
}

func (p *Parser) at(k lexer.Kind) bool { return p.current.Kind == k }

// parseError is the internal short-circuit signal, recovered at ParseModule.
type parseError struct{ err error }

func (p *Parser) fail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	panic(parseError{fmt.Errorf("%s:%d:%d: error: %s", p.filename, p.current.Line, p.current.Column, msg)})
}

func (p *Parser) expect(k lexer.Kind, what string) lexer.Token {
	if p.current.Kind != k {
		p.fail("expected %s, got %q", what, p.current.Lexeme)
	}
	return p.advance()
}

// ParseModule parses a full HOIL module. On error, the partially-built tree
// is discarded (it simply goes out of scope, the garbage collector does the
// rest) and (nil, err) is returned — no panic escapes this function.
func (p *Parser) ParseModule() (mod *ast.Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			if pe, ok := r.(parseError); ok {
				mod, err = nil, pe.err
				return
			}
			panic(r)
		}
	}()
	return p.parseModule(), nil
}

func (p *Parser) parseModule() *ast.Module {
	loc := p.loc()
	p.expect(lexer.MODULE, "'module'")
	name := p.expect(lexer.STRING, "module name string").Lexeme
	p.expect(lexer.SEMI, "';'")

	m := &ast.Module{Name: name}
	m.Location = loc
	for !p.at(lexer.EOF) {
		m.Decls = append(m.Decls, p.parseDecl())
	}
	return m
}

func (p *Parser) parseDecl() ast.Decl {
	switch p.current.Kind {
	case lexer.TYPE:
		return p.parseTypeDef()
	case lexer.CONSTANT:
		return p.parseConstant()
	case lexer.GLOBAL:
		return p.parseGlobal()
	case lexer.EXTERN:
		return p.parseExternFn()
	case lexer.FUNCTION:
		return p.parseFunction()
	default:
		p.fail("expected a declaration (type/constant/global/extern/function), got %q", p.current.Lexeme)
		return nil
	}
}

func (p *Parser) parseTypeDef() *ast.TypeDef {
	loc := p.loc()
	p.advance() // 'type'
	name := p.expect(lexer.IDENTIFIER, "type name").Lexeme
	p.expect(lexer.LBRACE, "'{'")
	st := &ast.StructType{Name: name}
	st.Location = loc
	if !p.at(lexer.RBRACE) {
		st.Fields = append(st.Fields, p.parseField())
		for p.at(lexer.COMMA) {
			p.advance()
			st.Fields = append(st.Fields, p.parseField())
		}
	}
	p.expect(lexer.RBRACE, "'}'")
	td := &ast.TypeDef{Name: name, Type: st}
	td.Location = loc
	return td
}

func (p *Parser) parseField() *ast.Field {
	loc := p.loc()
	name := p.expect(lexer.IDENTIFIER, "field name").Lexeme
	p.expect(lexer.COLON, "':'")
	typ := p.parseType()
	f := &ast.Field{Name: name, Type: typ}
	f.Location = loc
	return f
}

func (p *Parser) parseConstant() *ast.Constant {
	loc := p.loc()
	p.advance() // 'constant'
	name := p.expect(lexer.IDENTIFIER, "constant name").Lexeme
	p.expect(lexer.COLON, "':'")
	typ := p.parseType()
	p.expect(lexer.ASSIGN, "'='")
	val := p.parseExpr()
	p.expect(lexer.SEMI, "';'")
	c := &ast.Constant{Name: name, Type: typ, Value: val}
	c.Location = loc
	return c
}

func (p *Parser) parseGlobal() *ast.Global {
	loc := p.loc()
	p.advance() // 'global'
	name := p.expect(lexer.IDENTIFIER, "global name").Lexeme
	p.expect(lexer.COLON, "':'")
	typ := p.parseType()
	g := &ast.Global{Name: name, Type: typ}
	g.Location = loc
	if p.at(lexer.ASSIGN) {
		p.advance()
		g.Init = p.parseExpr()
	}
	p.expect(lexer.SEMI, "';'")
	return g
}

func (p *Parser) parseParams() []*ast.Parameter {
	var params []*ast.Parameter
	p.expect(lexer.LPAREN, "'('")
	if !p.at(lexer.RPAREN) {
		params = append(params, p.parseParam())
		for p.at(lexer.COMMA) {
			p.advance()
			params = append(params, p.parseParam())
		}
	}
	p.expect(lexer.RPAREN, "')'")
	return params
}

func (p *Parser) parseParam() *ast.Parameter {
	loc := p.loc()
	name := p.expect(lexer.IDENTIFIER, "parameter name").Lexeme
	p.expect(lexer.COLON, "':'")
	typ := p.parseType()
	pm := &ast.Parameter{Name: name, Type: typ}
	pm.Location = loc
	return pm
}

func (p *Parser) parseExternFn() *ast.ExternFunction {
	loc := p.loc()
	p.advance() // 'extern'
	p.expect(lexer.FUNCTION, "'function'")
	name := p.expect(lexer.IDENTIFIER, "function name").Lexeme
	params := p.parseParams()
	p.expect(lexer.ARROW, "'->'")
	ret := p.parseType()
	p.expect(lexer.SEMI, "';'")
	f := &ast.ExternFunction{Name: name, Params: params, Ret: ret}
	f.Location = loc
	return f
}

func (p *Parser) parseFunction() *ast.Function {
	loc := p.loc()
	p.advance() // 'function'
	// A function may share a mnemonic's name (e.g. "add"), which lexes as
	// MNEMONIC rather than IDENTIFIER.
	var name string
	if p.at(lexer.MNEMONIC) {
		name = p.advance().Lexeme
	} else {
		name = p.expect(lexer.IDENTIFIER, "function name").Lexeme
	}
	params := p.parseParams()
	p.expect(lexer.ARROW, "'->'")
	ret := p.parseType()

	target := ""
	if p.at(lexer.TARGET) {
		p.advance()
		target = p.advance().Lexeme
	}

	p.expect(lexer.LBRACE, "'{'")
	var blocks []*ast.Block
	for !p.at(lexer.RBRACE) {
		blocks = append(blocks, p.parseBlock())
	}
	p.expect(lexer.RBRACE, "'}'")

	fn := &ast.Function{Name: name, Params: params, Ret: ret, Target: target, Blocks: blocks}
	fn.Location = loc
	return fn
}

func (p *Parser) parseBlock() *ast.Block {
	loc := p.loc()
	var label string
	if p.at(lexer.ENTRY) {
		// 'entry' is an alternate spelling for the first block's label token
		label = p.advance().Lexeme
	} else {
		label = p.expect(lexer.IDENTIFIER, "block label").Lexeme
	}
	p.expect(lexer.COLON, "':'")
	b := &ast.Block{Label: label}
	b.Location = loc
	for !p.at(lexer.RBRACE) && !p.startsBlock() {
		b.Stmts = append(b.Stmts, p.parseStmt())
	}
	return b
}

// startsBlock reports whether the current token begins the next block's
// label rather than a statement in this one: an identifier immediately
// followed by ':' is a new block label, the same token followed by '='
// is an assignment statement.
func (p *Parser) startsBlock() bool {
	return p.at(lexer.IDENTIFIER) && p.lex.Peek().Kind == lexer.COLON
}

func (p *Parser) parseStmt() ast.Statement {
	switch {
	case p.at(lexer.BR):
		return p.parseBranch()
	case p.at(lexer.RET):
		return p.parseReturn()
	case p.at(lexer.MNEMONIC):
		return p.parseInstruction()
	case p.at(lexer.IDENTIFIER):
		return p.parseAssignOrInstruction()
	default:
		p.fail("expected a statement, got %q", p.current.Lexeme)
		return nil
	}
}

func (p *Parser) parseAssignOrInstruction() ast.Statement {
	loc := p.loc()
	name := p.advance().Lexeme
	if p.at(lexer.ASSIGN) {
		p.advance()
		instr := p.parseInstructionExpr()
		p.expect(lexer.SEMI, "';'")
		a := &ast.Assign{Target: name, Value: instr}
		a.Location = loc
		return a
	}
	p.fail("expected '=' after %q in statement position", name)
	return nil
}

// parseInstructionExpr parses the RHS of an assignment: a mnemonic with
// comma-separated operands, represented as a Call for uniformity with
// ordinary expression calls.
func (p *Parser) parseInstructionExpr() ast.Expression {
	loc := p.loc()
	mnem := p.expect(lexer.MNEMONIC, "instruction mnemonic").Lexeme
	callee := &ast.Identifier{Name: mnem}
	callee.Location = loc
	call := &ast.Call{Callee: callee}
	call.Location = loc
	if !p.at(lexer.SEMI) {
		call.Args = append(call.Args, p.parseExpr())
		for p.at(lexer.COMMA) {
			p.advance()
			call.Args = append(call.Args, p.parseExpr())
		}
	}
	return call
}

func (p *Parser) parseInstruction() *ast.Instruction {
	loc := p.loc()
	mnem := p.advance().Lexeme
	instr := &ast.Instruction{Mnemonic: mnem}
	instr.Location = loc
	if !p.at(lexer.SEMI) {
		instr.Operands = append(instr.Operands, p.parseExpr())
		for p.at(lexer.COMMA) {
			p.advance()
			instr.Operands = append(instr.Operands, p.parseExpr())
		}
	}
	p.expect(lexer.SEMI, "';'")
	return instr
}

func (p *Parser) parseBranch() *ast.Branch {
	loc := p.loc()
	p.advance() // 'br'
	br := &ast.Branch{}
	br.Location = loc

	if p.at(lexer.IDENTIFIER) {
		save := p.current
		// Could be: "br label;" (unconditional) or "br cond, t, f;"
		// Disambiguate by whether a comma follows.
		ident := p.advance()
		if p.at(lexer.COMMA) {
			cond := &ast.Identifier{Name: ident.Lexeme}
			cond.Location = ast.Location{Line: save.Line, Column: save.Column, Filename: p.filename}
			br.Cond = cond
			p.advance()
			br.TrueLabel = p.expect(lexer.IDENTIFIER, "true-branch label").Lexeme
			if p.at(lexer.COMMA) {
				p.advance()
				br.FalseLabel = p.expect(lexer.IDENTIFIER, "false-branch label").Lexeme
			}
		} else {
			br.TrueLabel = ident.Lexeme
		}
	} else {
		br.Cond = p.parseExpr()
		p.expect(lexer.COMMA, "','")
		br.TrueLabel = p.expect(lexer.IDENTIFIER, "true-branch label").Lexeme
		if p.at(lexer.COMMA) {
			p.advance()
			br.FalseLabel = p.expect(lexer.IDENTIFIER, "false-branch label").Lexeme
		}
	}
	p.expect(lexer.SEMI, "';'")
	return br
}

func (p *Parser) parseReturn() *ast.Return {
	loc := p.loc()
	p.advance() // 'ret'
	ret := &ast.Return{}
	ret.Location = loc
	if !p.at(lexer.SEMI) {
		ret.Value = p.parseExpr()
	}
	p.expect(lexer.SEMI, "';'")
	return ret
}

// ---- Types ----

func (p *Parser) parseType() ast.Type {
	loc := p.loc()
	switch p.current.Kind {
	case lexer.KW_VOID:
		p.advance()
		t := &ast.VoidType{}
		t.Location = loc
		return t
	case lexer.KW_BOOL:
		p.advance()
		t := &ast.BoolType{}
		t.Location = loc
		return t
	case lexer.KW_INT:
		name := p.advance().Lexeme
		bits, signed := parseIntTypeName(name)
		t := &ast.IntType{Bits: bits, Signed: signed}
		t.Location = loc
		return t
	case lexer.KW_FLOAT:
		name := p.advance().Lexeme
		bits := parseFloatTypeName(name)
		t := &ast.FloatType{Bits: bits}
		t.Location = loc
		return t
	case lexer.KW_PTR:
		p.advance()
		p.expect(lexer.LT, "'<'")
		elem := p.parseType()
		t := &ast.PtrType{Elem: elem}
		t.Location = loc
		if p.at(lexer.COMMA) {
			p.advance()
			t.Space = p.expect(lexer.IDENTIFIER, "address-space name").Lexeme
		}
		p.expect(lexer.GT, "'>'")
		return t
	case lexer.KW_VEC:
		p.advance()
		p.expect(lexer.LT, "'<'")
		elem := p.parseType()
		p.expect(lexer.COMMA, "','")
		size := p.expect(lexer.INTEGER, "vector size").IntValue
		p.expect(lexer.GT, "'>'")
		t := &ast.VecType{Elem: elem, Size: int(size)}
		t.Location = loc
		return t
	case lexer.KW_ARRAY:
		p.advance()
		p.expect(lexer.LT, "'<'")
		elem := p.parseType()
		t := &ast.ArrayType{Elem: elem}
		t.Location = loc
		if p.at(lexer.COMMA) {
			p.advance()
			t.Size = int(p.expect(lexer.INTEGER, "array size").IntValue)
		}
		p.expect(lexer.GT, "'>'")
		return t
	case lexer.FUNCTION:
		p.advance()
		p.expect(lexer.LPAREN, "'('")
		var params []ast.Type
		if !p.at(lexer.RPAREN) {
			params = append(params, p.parseType())
			for p.at(lexer.COMMA) {
				p.advance()
				params = append(params, p.parseType())
			}
		}
		p.expect(lexer.RPAREN, "')'")
		p.expect(lexer.ARROW, "'->'")
		ret := p.parseType()
		t := &ast.FunctionType{Params: params, Ret: ret}
		t.Location = loc
		return t
	case lexer.IDENTIFIER:
		name := p.advance().Lexeme
		t := &ast.NamedType{Name: name}
		t.Location = loc
		return t
	default:
		p.fail("expected a type, got %q", p.current.Lexeme)
		return nil
	}
}

func parseIntTypeName(name string) (bits int, signed bool) {
	signed = name[0] == 'i'
	switch name[1:] {
	case "8":
		return 8, signed
	case "16":
		return 16, signed
	case "32":
		return 32, signed
	case "64":
		return 64, signed
	}
	return 32, signed
}

func parseFloatTypeName(name string) int {
	switch name {
	case "f16":
		return 16
	case "f32":
		return 32
	case "f64":
		return 64
	}
	return 64
}

// ---- Expressions ----

func (p *Parser) parseExpr() ast.Expression {
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() ast.Expression {
	e := p.parsePrimary()
	for {
		switch {
		case p.at(lexer.DOT):
			loc := p.loc()
			p.advance()
			field := p.expect(lexer.IDENTIFIER, "field name").Lexeme
			fa := &ast.FieldAccess{Recv: e, Field: field}
			fa.Location = loc
			e = fa
		case p.at(lexer.LBRACKET):
			loc := p.loc()
			p.advance()
			idx := p.parseExpr()
			p.expect(lexer.RBRACKET, "']'")
			ix := &ast.Index{Recv: e, Index: idx}
			ix.Location = loc
			e = ix
		case p.at(lexer.LPAREN):
			loc := p.loc()
			p.advance()
			var args []ast.Expression
			if !p.at(lexer.RPAREN) {
				args = append(args, p.parseExpr())
				for p.at(lexer.COMMA) {
					p.advance()
					args = append(args, p.parseExpr())
				}
			}
			p.expect(lexer.RPAREN, "')'")
			c := &ast.Call{Callee: e, Args: args}
			c.Location = loc
			e = c
		default:
			return e
		}
	}
}

func (p *Parser) parsePrimary() ast.Expression {
	loc := p.loc()
	switch p.current.Kind {
	case lexer.INTEGER:
		v := p.advance().IntValue
		e := &ast.Integer{Value: v}
		e.Location = loc
		return e
	case lexer.FLOAT:
		v := p.advance().FloatValue
		e := &ast.Float{Value: v}
		e.Location = loc
		return e
	case lexer.STRING:
		v := p.advance().Lexeme
		e := &ast.String{Value: v}
		e.Location = loc
		return e
	case lexer.IDENTIFIER:
		v := p.advance().Lexeme
		e := &ast.Identifier{Name: v}
		e.Location = loc
		return e
	case lexer.LPAREN:
		p.advance()
		inner := p.parseExpr()
		p.expect(lexer.RPAREN, "')'")
		return inner
	default:
		p.fail("expected an expression, got %q", p.current.Lexeme)
		return nil
	}
}
