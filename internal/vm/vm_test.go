package vm

import (
	"testing"

	"github.com/xyproto/hoil/internal/mil"
	"github.com/xyproto/hoil/internal/mil/build"
)

// buildCode assembles a single "main" function's flat code stream via the
// wire-format builder directly, bypassing internal/codegen so these tests
// exercise the VM against the record format itself.
func buildCode(t *testing.T, emit func(b *build.Builder)) []byte {
	t.Helper()
	b := build.New()
	b.SetModuleName("t")
	idx := b.AddFunction("main", nil, uint32(build.TypeI32), false)
	if err := b.BeginFunctionCode(idx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := b.AddBlock("ENTRY"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	emit(b)
	b.EndFunctionCode()
	out, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}
	ex, err := mil.Decode(out)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	code, err := ex.EntryCode("main")
	if err != nil {
		t.Fatalf("unexpected EntryCode error: %v", err)
	}
	return code
}

func TestRunBareReturnExitsZero(t *testing.T) {
	code := buildCode(t, func(b *build.Builder) {
		mustAdd(t, b, mil.Ret, mil.Int64, mil.NoOperand, 0)
	})
	m := New(nil)
	if err := m.Load(code); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	exit, err := m.Run()
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if exit != 0 {
		t.Fatalf("expected exit code 0, got %d", exit)
	}
}

func TestRunReturnValueBecomesExitCode(t *testing.T) {
	code := buildCode(t, func(b *build.Builder) {
		mustAdd(t, b, mil.LoadImm, mil.Int64, 0, 7)
		mustAdd(t, b, mil.Ret, mil.Int64, 0, 0)
	})
	m := New(nil)
	if err := m.Load(code); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	exit, err := m.Run()
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if exit != 7 {
		t.Fatalf("expected exit code 7, got %d", exit)
	}
}

func TestRunArithmeticDoesNotAliasRegisters(t *testing.T) {
	code := buildCode(t, func(b *build.Builder) {
		mustAdd(t, b, mil.LoadImm, mil.Int64, 0, 3)   // reg0 = 3
		mustAdd(t, b, mil.LoadImm, mil.Int64, 8, 4)   // reg1 = 4
		mustAdd(t, b, mil.Add, mil.Int64, 16, uint64(0)<<32|8) // reg2 = reg0+reg1
		mustAdd(t, b, mil.Ret, mil.Int64, 0, 16)
	})
	m := New(nil)
	if err := m.Load(code); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	exit, err := m.Run()
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if exit != 7 {
		t.Fatalf("expected 3+4=7, got %d", exit)
	}
}

func TestRunDivisionByZeroAborts(t *testing.T) {
	code := buildCode(t, func(b *build.Builder) {
		mustAdd(t, b, mil.LoadImm, mil.Int64, 0, 1)
		mustAdd(t, b, mil.LoadImm, mil.Int64, 8, 0)
		mustAdd(t, b, mil.Div, mil.Int64, 16, uint64(0)<<32|8)
		mustAdd(t, b, mil.Ret, mil.Int64, 0, 16)
	})
	m := New(nil)
	if err := m.Load(code); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if _, err := m.Run(); err == nil {
		t.Fatalf("expected division by zero to abort")
	}
	// DIV returns before writing its destination.
	for i := 16; i < 24; i++ {
		if m.Memory[i] != 0 {
			t.Fatalf("expected destination register to be untouched after an aborted DIV")
		}
	}
}

func TestRunModuloByZeroAborts(t *testing.T) {
	code := buildCode(t, func(b *build.Builder) {
		mustAdd(t, b, mil.LoadImm, mil.Int64, 0, 1)
		mustAdd(t, b, mil.LoadImm, mil.Int64, 8, 0)
		mustAdd(t, b, mil.Mod, mil.Int64, 16, uint64(0)<<32|8)
	})
	m := New(nil)
	if err := m.Load(code); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if _, err := m.Run(); err == nil {
		t.Fatalf("expected modulo by zero to abort")
	}
}

func TestPushPopRestoresMemoryByteForByte(t *testing.T) {
	code := buildCode(t, func(b *build.Builder) {
		mustAdd(t, b, mil.LoadImm, mil.Int64, 0, 0xABCDEF)
		mustAdd(t, b, mil.Push, mil.Int64, 0, 0)
		mustAdd(t, b, mil.Pop, mil.Int64, 8, 0)
		mustAdd(t, b, mil.Ret, mil.Int64, mil.NoOperand, 0)
	})
	m := New(nil)
	if err := m.Load(code); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if _, err := m.Run(); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	for i := 0; i < 8; i++ {
		if m.Memory[i] != m.Memory[8+i] {
			t.Fatalf("expected memory[8:16] to match memory[0:8] byte-for-byte after PUSH/POP, differed at byte %d", i)
		}
	}
	if m.StackUsed != 0 {
		t.Fatalf("expected the data stack to be empty again, got StackUsed=%d", m.StackUsed)
	}
}

func TestCallPushesAndRetPopsExactlyOneFrame(t *testing.T) {
	// LABEL_DEF 1 marks the callee, placed after an EXIT so straight-line
	// execution never falls into it; CALL 1 jumps there and its RET must
	// return to the record immediately after CALL.
	code := buildCode(t, func(b *build.Builder) {
		mustAdd(t, b, mil.LoadImm, mil.Int64, 0, 9) // reg0 = 9, EXIT's operand
		mustAdd(t, b, mil.Call, mil.Int64, 0, 1)
		mustAdd(t, b, mil.Exit, mil.Int64, 0, 0)
		mustAdd(t, b, mil.LabelDef, mil.Int64, 1, 0)
		mustAdd(t, b, mil.Ret, mil.Int64, mil.NoOperand, 0)
	})
	m := New(nil)
	if err := m.Load(code); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if m.CallStackUsed != 0 {
		t.Fatalf("expected an empty call stack before Run")
	}
	exit, err := m.Run()
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if m.CallStackUsed != 0 {
		t.Fatalf("expected CALL/RET to leave the call stack balanced, got depth %d", m.CallStackUsed)
	}
	if exit != 9 {
		t.Fatalf("expected EXIT 9 after returning from the call, got %d", exit)
	}
}

// TestFactorialLoopComputesExpectedResult hand-builds spec.md scenario 3's
// loop, driven here by JLE (5! via repeated MUL/SUB), and checks it exits with
// 120, exercising the conditional-jump and EXIT-through-a-register paths
// end to end.
func TestFactorialLoopComputesExpectedResult(t *testing.T) {
	code := buildCode(t, func(b *build.Builder) {
		mustAdd(t, b, mil.AllocImm, mil.Int64, 0, 5)  // n @0 = 5
		mustAdd(t, b, mil.AllocImm, mil.Int64, 8, 1)  // acc @8 = 1
		mustAdd(t, b, mil.AllocImm, mil.Int64, 16, 1) // one @16 = 1
		mustAdd(t, b, mil.AllocImm, mil.Int64, 24, 0) // zero @24 = 0
		mustAdd(t, b, mil.LabelDef, mil.Int64, 1, 0)  // LABEL 1 (loop head)
		// JLE n, zero, end: stop once n has counted down to 0.
		mustAdd(t, b, mil.Jle, mil.Int64, 0, uint64(0)<<48|uint64(24)<<32|2)
		mustAdd(t, b, mil.Mul, mil.Int64, 8, uint64(8)<<32|0)  // acc = acc*n
		mustAdd(t, b, mil.Sub, mil.Int64, 0, uint64(0)<<32|16) // n = n-one
		mustAdd(t, b, mil.Jmp, mil.Int64, 0, 1)
		mustAdd(t, b, mil.LabelDef, mil.Int64, 2, 0) // LABEL 2 (end)
		mustAdd(t, b, mil.Exit, mil.Int64, 0, 8)     // exit with acc's value
	})
	m := New(nil)
	if err := m.Load(code); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	exit, err := m.Run()
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if exit != 120 {
		t.Fatalf("expected 5! == 120, got %d", exit)
	}
}

// TestSyscallExitReturnsPackedStatus hand-builds spec.md scenario 4:
// SYSCALL 60 with a following ARG_DATA record whose first packed argument
// is the exit status.
func TestSyscallExitReturnsPackedStatus(t *testing.T) {
	code := buildCode(t, func(b *build.Builder) {
		mustAdd(t, b, mil.Syscall, mil.Int64, 0, 60)
		mustAdd(t, b, mil.ArgData, mil.Int64, 0, uint64(7)<<48)
	})
	m := New(nil)
	if err := m.Load(code); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	exit, err := m.Run()
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if exit != 7 {
		t.Fatalf("expected SYSCALL 60 with status 7 to exit 7, got %d", exit)
	}
}

func TestLabelPrepassRejectsDuplicateLabel(t *testing.T) {
	code := buildCode(t, func(b *build.Builder) {
		mustAdd(t, b, mil.LabelDef, mil.Int64, 1, 0)
		mustAdd(t, b, mil.LabelDef, mil.Int64, 1, 0)
	})
	m := New(nil)
	if err := m.Load(code); err == nil {
		t.Fatalf("expected the label pre-pass to reject a duplicate label id")
	}
}

func TestRunRejectsUnknownOpcode(t *testing.T) {
	code := buildCode(t, func(b *build.Builder) {
		mustAdd(t, b, mil.Opcode(0x9999), mil.Int64, 0, 0)
	})
	m := New(nil)
	if err := m.Load(code); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if _, err := m.Run(); err == nil {
		t.Fatalf("expected an unknown opcode to be a fatal error")
	}
}

func TestSnapshotReflectsStateAfterRun(t *testing.T) {
	code := buildCode(t, func(b *build.Builder) {
		mustAdd(t, b, mil.LoadImm, mil.Int64, 0, 5)
		mustAdd(t, b, mil.Ret, mil.Int64, 0, 0)
	})
	m := New(nil)
	if err := m.Load(code); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if _, err := m.Run(); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	snap := m.Snapshot()
	if snap.Running {
		t.Fatalf("expected Running=false after Run completes")
	}
	if snap.ExitCode != 5 {
		t.Fatalf("expected snapshot exit code 5, got %d", snap.ExitCode)
	}
	if snap.InstructionCount != 2 {
		t.Fatalf("expected 2 executed instructions, got %d", snap.InstructionCount)
	}
}

func TestStepOnceExecutesOneRecordAtATime(t *testing.T) {
	code := buildCode(t, func(b *build.Builder) {
		mustAdd(t, b, mil.LoadImm, mil.Int64, 0, 1)
		mustAdd(t, b, mil.LoadImm, mil.Int64, 8, 2)
		mustAdd(t, b, mil.Ret, mil.Int64, mil.NoOperand, 0)
	})
	m := New(nil)
	if err := m.Load(code); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	m.running = true
	running, err := m.StepOnce()
	if err != nil || !running {
		t.Fatalf("expected the first step to leave the machine running, err=%v running=%v", err, running)
	}
	if m.InstructionCount != 1 {
		t.Fatalf("expected 1 instruction executed after one step, got %d", m.InstructionCount)
	}
}

// mustAdd is a thin AddInstruction wrapper that fails the test immediately,
// keeping the buildCode callbacks above free of repeated error checks.
func mustAdd(t *testing.T, b *build.Builder, op mil.Opcode, typ mil.MemType, addr uint16, imm uint64) {
	t.Helper()
	if err := b.AddInstruction(op, typ, addr, imm); err != nil {
		t.Fatalf("unexpected AddInstruction error: %v", err)
	}
}
