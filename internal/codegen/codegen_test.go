package codegen

import (
	"encoding/binary"
	"testing"

	"github.com/xyproto/hoil/internal/check"
	"github.com/xyproto/hoil/internal/diag"
	"github.com/xyproto/hoil/internal/mil"
	"github.com/xyproto/hoil/internal/parser"
)

// compile parses, checks, and generates src, failing the test on any error.
func compile(t *testing.T, src string) []byte {
	t.Helper()
	mod, err := parser.New([]byte(src), "t.hoil").ParseModule()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	sink := diag.New()
	global, ok := check.New(sink).Check(mod)
	if !ok {
		t.Fatalf("check error: %v", sink.Error())
	}
	bin, err := New(global).Generate(mod)
	if err != nil {
		t.Fatalf("codegen error: %v", err)
	}
	return bin
}

// records splits a flat code stream into its fixed-size MIL records and
// returns each one's opcode, in order.
func records(t *testing.T, code []byte) []mil.Opcode {
	t.Helper()
	if len(code)%mil.RecordSize != 0 {
		t.Fatalf("code stream length %d is not a multiple of the record size %d", len(code), mil.RecordSize)
	}
	var ops []mil.Opcode
	for off := 0; off < len(code); off += mil.RecordSize {
		rec := code[off : off+mil.RecordSize]
		ops = append(ops, mil.Opcode(binary.LittleEndian.Uint16(rec[1:3])))
	}
	return ops
}

func TestGenerateMinimalModuleExitsCleanly(t *testing.T) {
	bin := compile(t, `module "e"; function main()->i32 { ENTRY: ret 0; }`)
	ex, err := mil.Decode(bin)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	code, err := ex.EntryCode("main")
	if err != nil {
		t.Fatalf("EntryCode error: %v", err)
	}
	ops := records(t, code)
	if len(ops) != 2 {
		t.Fatalf("expected LOAD_IMM + RET, got %v", ops)
	}
	if ops[0] != mil.LoadImm || ops[1] != mil.Ret {
		t.Fatalf("expected [LOAD_IMM RET], got %v", ops)
	}
}

func TestGenerateAddEmitsAddThenRet(t *testing.T) {
	bin := compile(t, `module "e"; function add(a:i32,b:i32)->i32 { ENTRY: r=add a,b; ret r; }`)
	ex, err := mil.Decode(bin)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	code, err := ex.EntryCode("add")
	if err != nil {
		t.Fatalf("EntryCode error: %v", err)
	}
	ops := records(t, code)
	if len(ops) != 2 || ops[0] != mil.Add || ops[1] != mil.Ret {
		t.Fatalf("expected [ADD RET], got %v", ops)
	}
}

func TestGenerateRegistersAreAllocatedSequentially(t *testing.T) {
	bin := compile(t, `module "e"; function f(a:i32,b:i32,c:i32)->i32 { ENTRY: x=add a,b; y=add x,c; ret y; }`)
	ex, err := mil.Decode(bin)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	code, err := ex.EntryCode("f")
	if err != nil {
		t.Fatalf("EntryCode error: %v", err)
	}
	// a,b,c occupy registers 0,1,2; x and y are the first two allocated
	// thereafter (registers 3 and 4), and each register is an 8-byte memory
	// slot, so x's destination address is 24 and y's is 32.
	if len(code) < 2*mil.RecordSize {
		t.Fatalf("expected at least 2 records, got %d bytes", len(code))
	}
	firstAddr := binary.LittleEndian.Uint16(code[6:8])
	secondAddr := binary.LittleEndian.Uint16(code[mil.RecordSize+6 : mil.RecordSize+8])
	if firstAddr != 24 || secondAddr != 32 {
		t.Fatalf("expected sequential dest addresses 24 then 32, got %d then %d", firstAddr, secondAddr)
	}
}

func TestGenerateBranchResolvesForwardBlockTargets(t *testing.T) {
	bin := compile(t, `module "e"; function f(cond:bool)->i32 {
		ENTRY: br cond, yes, no;
		yes: ret 1;
		no: ret 2;
	}`)
	ex, err := mil.Decode(bin)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	code, err := ex.EntryCode("f")
	if err != nil {
		t.Fatalf("EntryCode error: %v", err)
	}
	ops := records(t, code)
	if len(ops) < 2 || ops[0] != mil.LoadImm || ops[1] != mil.Jne {
		t.Fatalf("expected branch to materialize a false literal then JNE, got %v", ops)
	}
}

func TestGenerateExternFunctionOccupiesFunctionSlot(t *testing.T) {
	bin := compile(t, `module "e";
		extern function write(fd:i32, buf:ptr<i8>, count:i32)->i32;
		function main()->void { ENTRY: ret; }`)
	ex, err := mil.Decode(bin)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(ex.Functions) != 2 {
		t.Fatalf("expected 2 function entries (extern + main), got %d", len(ex.Functions))
	}
	if !ex.Functions[0].IsExtern || ex.Functions[0].Name != "write" {
		t.Fatalf("expected externs registered before regular functions, got %+v", ex.Functions[0])
	}
	if ex.Functions[1].IsExtern || ex.Functions[1].Name != "main" {
		t.Fatalf("expected main registered second, got %+v", ex.Functions[1])
	}
}
