// Package vm implements the MIL execution engine (C10): a label pre-pass
// followed by a fetch/decode/execute loop over fixed-size memory and stack
// arrays. The dispatch-loop shape (a switch-per-opcode Execute loop over a
// flat instruction stream) follows a reference bytecode VM; runtime faults
// are returned as plain errors from the hot path rather than raised as
// panics.
package vm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/xyproto/hoil/internal/mil"
)

const (
	staticMemSize  = 65536
	dataStackSize  = 4096
	callStackDepth = 256
	labelCapacity  = 256
)

// Machine holds all VM state for one execution.
type Machine struct {
	Memory    [staticMemSize]byte
	MemoryUsed int

	Stack     [dataStackSize]byte
	StackUsed int

	CallStack     [callStackDepth]uint32
	CallStackUsed int

	Labels map[uint16]uint32 // label id -> stream offset, write-once

	code    []byte
	cursor  uint32
	running bool
	exitCode int64

	InstructionCount uint64

	// Host is the syscall bridge for SYSCALL 1 (write). With a nil Host,
	// SYSCALL 1 fails with an error; SYSCALL 60 (exit) needs no bridge.
	Host HostBridge

	breakpoints breakpointSet
}

// HostBridge is the narrow interface the VM uses to reach the outside
// world for SYSCALL. internal/vm/hostfile_unix.go and hostfile_other.go
// provide GOOS-specific implementations.
type HostBridge interface {
	Write(fd int, data []byte) (int, error)
}

// New constructs a Machine ready to load and run a MIL code stream.
func New(host HostBridge) *Machine {
	return &Machine{Labels: make(map[uint16]uint32), Host: host}
}

// record is a decoded fixed-shape MIL instruction.
type record struct {
	op   mil.Opcode
	typ  mil.MemType
	addr uint16
	imm  uint64
}

func decodeRecord(b []byte) (record, error) {
	if len(b) < mil.RecordSize {
		return record{}, fmt.Errorf("vm: truncated record (need %d bytes, have %d)", mil.RecordSize, len(b))
	}
	if b[0] != mil.MarkerStart || b[3] != mil.MarkerType || b[5] != mil.MarkerVariable ||
		b[8] != mil.MarkerImmediate || b[17] != mil.MarkerEnd {
		return record{}, fmt.Errorf("vm: marker mismatch decoding record at offset")
	}
	return record{
		op:   mil.Opcode(binary.LittleEndian.Uint16(b[1:3])),
		typ:  mil.MemType(b[4]),
		addr: binary.LittleEndian.Uint16(b[6:8]),
		imm:  binary.LittleEndian.Uint64(b[9:17]),
	}, nil
}

// Load installs a flat MIL code stream (the concatenation of one
// function's block code, in execution order) and runs the label pre-pass.
func (m *Machine) Load(code []byte) error {
	m.code = code
	return m.labelPrepass()
}

// labelPrepass scans the entire instruction stream once, recording the
// offset immediately after every LABEL_DEF record. Required before
// execution so forward jumps and calls resolve; a duplicate label id is
// fatal.
func (m *Machine) labelPrepass() error {
	var cursor uint32
	for cursor+mil.RecordSize <= uint32(len(m.code)) {
		rec, err := decodeRecord(m.code[cursor : cursor+mil.RecordSize])
		if err != nil {
			return err
		}
		cursor += mil.RecordSize
		if rec.op == mil.LabelDef {
			id := uint16(rec.addr)
			if _, dup := m.Labels[id]; dup {
				return fmt.Errorf("vm: duplicate label id %d", id)
			}
			m.Labels[id] = cursor
		}
	}
	return nil
}

// Run executes the loaded code until EXIT or end of stream. Returns the
// program's exit code and any fatal VM error.
func (m *Machine) Run() (int64, error) {
	m.cursor = 0
	m.running = true
	m.exitCode = 0

	for m.running {
		if m.cursor+mil.RecordSize > uint32(len(m.code)) {
			// EOF without EXIT: terminate normally with current exit code.
			m.running = false
			break
		}
		rec, err := decodeRecord(m.code[m.cursor : m.cursor+mil.RecordSize])
		if err != nil {
			return m.exitCode, err
		}
		m.cursor += mil.RecordSize
		m.InstructionCount++
		if err := m.execute(rec); err != nil {
			return m.exitCode, err
		}
	}
	return m.exitCode, nil
}

func (m *Machine) execute(rec record) error {
	switch rec.op {
	case mil.LabelDef:
		return nil // consumed by the pre-pass
	case mil.ArgData:
		return nil // consumed inline by a preceding SYSCALL

	case mil.AllocImm, mil.LoadImm:
		return m.writeTyped(rec.addr, rec.typ, rec.imm)
	case mil.AllocMem:
		src := uint16(rec.imm)
		return m.copyTyped(rec.addr, src, rec.typ)
	case mil.Move:
		src := uint16(rec.imm)
		return m.copyTyped(rec.addr, src, rec.typ)
	case mil.Load:
		// addr holds the destination register; imm holds the register
		// holding the pointer value to dereference.
		ptrReg := uint16(rec.imm)
		target := uint16(m.readInt64(ptrReg))
		return m.copyTyped(rec.addr, target, rec.typ)
	case mil.Store:
		// addr holds the register holding the pointer to write through;
		// imm holds the register holding the value to store.
		srcReg := uint16(rec.imm)
		target := uint16(m.readInt64(rec.addr))
		return m.copyTyped(target, srcReg, rec.typ)

	case mil.Add, mil.Sub, mil.Mul, mil.Div, mil.Mod:
		src1 := uint16(rec.imm >> 32)
		src2 := uint16(rec.imm)
		a := m.readInt64(src1)
		b := m.readInt64(src2)
		var result int64
		switch rec.op {
		case mil.Add:
			result = a + b
		case mil.Sub:
			result = a - b
		case mil.Mul:
			result = a * b
		case mil.Div:
			if b == 0 {
				return fmt.Errorf("vm: division by zero")
			}
			result = a / b
		case mil.Mod:
			if b == 0 {
				return fmt.Errorf("vm: modulo by zero")
			}
			result = a % b
		}
		return m.writeInt64(rec.addr, result)

	case mil.Neg:
		src := uint16(rec.imm)
		return m.writeInt64(rec.addr, -m.readInt64(src))

	case mil.And, mil.Or, mil.Xor, mil.Shl, mil.Shr:
		src1 := uint16(rec.imm >> 32)
		src2 := uint16(rec.imm)
		a := m.readInt64(src1)
		b := m.readInt64(src2)
		var result int64
		switch rec.op {
		case mil.And:
			result = a & b
		case mil.Or:
			result = a | b
		case mil.Xor:
			result = a ^ b
		case mil.Shl:
			result = a << uint(b)
		case mil.Shr:
			result = a >> uint(b)
		}
		return m.writeInt64(rec.addr, result)
	case mil.Not:
		src := uint16(rec.imm)
		return m.writeInt64(rec.addr, ^m.readInt64(src))

	case mil.Jmp:
		return m.jumpTo(uint16(rec.imm))
	case mil.Jeq, mil.Jne, mil.Jlt, mil.Jle, mil.Jgt, mil.Jge:
		src1 := uint16(rec.imm >> 48)
		src2 := uint16(rec.imm >> 32)
		label := uint16(rec.imm)
		a := m.readInt64(src1)
		b := m.readInt64(src2)
		var take bool
		switch rec.op {
		case mil.Jeq:
			take = a == b
		case mil.Jne:
			take = a != b
		case mil.Jlt:
			take = a < b
		case mil.Jle:
			take = a <= b
		case mil.Jgt:
			take = a > b
		case mil.Jge:
			take = a >= b
		}
		if take {
			return m.jumpTo(label)
		}
		return nil

	case mil.Call:
		if m.CallStackUsed >= callStackDepth {
			return fmt.Errorf("vm: call stack overflow")
		}
		m.CallStack[m.CallStackUsed] = m.cursor
		m.CallStackUsed++
		return m.jumpTo(uint16(rec.imm))
	case mil.Ret:
		if m.CallStackUsed == 0 {
			// RET with nothing on the call stack is the entry function
			// returning to its caller (the VM itself, which invoked it
			// directly rather than through a MIL CALL record) — this ends
			// the program. A carried value becomes the process exit code,
			// mirroring a C `int main()`'s return value.
			if rec.addr != mil.NoOperand {
				m.exitCode = m.readInt64(uint16(rec.imm))
			}
			m.running = false
			return nil
		}
		m.CallStackUsed--
		m.cursor = m.CallStack[m.CallStackUsed]
		return nil

	case mil.Push:
		size := rec.typ.Size()
		if m.StackUsed+size > dataStackSize {
			return fmt.Errorf("vm: data stack overflow")
		}
		copy(m.Stack[m.StackUsed:], m.Memory[rec.addr:int(rec.addr)+size])
		m.StackUsed += size
		return nil
	case mil.Pop:
		size := rec.typ.Size()
		if m.StackUsed-size < 0 {
			return fmt.Errorf("vm: data stack underflow")
		}
		m.StackUsed -= size
		copy(m.Memory[rec.addr:int(rec.addr)+size], m.Stack[m.StackUsed:m.StackUsed+size])
		return nil

	case mil.Syscall:
		return m.syscall(rec)
	case mil.Exit:
		// imm holds the register address of the exit status, not the status
		// itself — scenario 3's EXIT follows a runtime-computed accumulator,
		// so it can't be a compile-time literal.
		m.exitCode = m.readInt64(uint16(rec.imm))
		m.running = false
		return nil

	default:
		return fmt.Errorf("vm: unknown opcode 0x%04x", uint16(rec.op))
	}
}

func (m *Machine) jumpTo(labelID uint16) error {
	offset, ok := m.Labels[labelID]
	if !ok {
		return fmt.Errorf("vm: jump to undefined label %d", labelID)
	}
	m.cursor = offset
	return nil
}

func (m *Machine) syscall(rec record) error {
	num := rec.imm
	// If the next record is ARG_DATA, its imm packs four u16 arguments.
	var a0, a1, a2, a3 uint16
	if m.cursor+mil.RecordSize <= uint32(len(m.code)) {
		peek, err := decodeRecord(m.code[m.cursor : m.cursor+mil.RecordSize])
		if err == nil && peek.op == mil.ArgData {
			a0 = uint16(peek.imm >> 48)
			a1 = uint16(peek.imm >> 32)
			a2 = uint16(peek.imm >> 16)
			a3 = uint16(peek.imm)
			m.cursor += mil.RecordSize
		}
	}
	switch num {
	case 1: // write(fd, buf_addr, count)
		fd := int(a0)
		bufAddr := a1
		count := int(a2)
		if m.Host == nil {
			return fmt.Errorf("vm: SYSCALL write requested but no host bridge installed")
		}
		_, err := m.Host.Write(fd, m.Memory[bufAddr:int(bufAddr)+count])
		return err
	case 60: // exit(status)
		m.exitCode = int64(int16(a0))
		m.running = false
		return nil
	default:
		_ = a3
		return fmt.Errorf("vm: unsupported syscall number %d", num)
	}
}

func (m *Machine) readInt64(addr uint16) int64 {
	return int64(binary.LittleEndian.Uint64(m.Memory[addr : addr+8]))
}

func (m *Machine) writeInt64(addr uint16, v int64) error {
	binary.LittleEndian.PutUint64(m.Memory[addr:addr+8], uint64(v))
	if int(addr)+8 > m.MemoryUsed {
		m.MemoryUsed = int(addr) + 8
	}
	return nil
}

// writeTyped writes imm (reinterpreted per typ) to memory[addr].
func (m *Machine) writeTyped(addr uint16, typ mil.MemType, imm uint64) error {
	size := typ.Size()
	if size == 0 {
		size = 8
	}
	if int(addr)+size > staticMemSize {
		return fmt.Errorf("vm: memory write out of bounds at %d", addr)
	}
	switch size {
	case 1:
		m.Memory[addr] = byte(imm)
	case 2:
		binary.LittleEndian.PutUint16(m.Memory[addr:addr+2], uint16(imm))
	case 4:
		if typ == mil.Float32 {
			binary.LittleEndian.PutUint32(m.Memory[addr:addr+4], math.Float32bits(float32(imm)))
		} else {
			binary.LittleEndian.PutUint32(m.Memory[addr:addr+4], uint32(imm))
		}
	default:
		binary.LittleEndian.PutUint64(m.Memory[addr:addr+8], imm)
	}
	if int(addr)+size > m.MemoryUsed {
		m.MemoryUsed = int(addr) + size
	}
	return nil
}

func (m *Machine) copyTyped(dst, src uint16, typ mil.MemType) error {
	size := typ.Size()
	if size == 0 {
		size = 8
	}
	if int(dst)+size > staticMemSize || int(src)+size > staticMemSize {
		return fmt.Errorf("vm: memory copy out of bounds")
	}
	copy(m.Memory[dst:int(dst)+size], m.Memory[src:int(src)+size])
	if int(dst)+size > m.MemoryUsed {
		m.MemoryUsed = int(dst) + size
	}
	return nil
}

// ExitCode returns the program's exit status after Run returns.
func (m *Machine) ExitCode() int64 { return m.exitCode }
