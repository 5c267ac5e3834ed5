// Package build implements the binary builder (C7): an append-only,
// per-section byte buffer writer that assembles a complete MIL container.
// Follows ExecutableBuilder's shape (one bytes.Buffer per output section:
// elf/rodata/data/text there, type/function/global/constant/code/relocation/
// metadata here) and its Writer interface of typed little-endian appenders.
// Geometric growth is left to bytes.Buffer itself rather than a hand-rolled
// second doubling scheme.
package build

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/xyproto/hoil/internal/mil"
)

// typeEntry is one registered Type-section entry.
type typeEntry struct {
	encoding uint32
	name     string
}

// fnEntry is one registered Function-section entry.
type fnEntry struct {
	name       string
	paramTypes []uint32
	retType    uint32
	isExtern   bool
	blocks     []blockEntry
}

type blockEntry struct {
	name string
	code []byte
}

// globalEntry is one Global-section entry.
type globalEntry struct {
	name string
	typ  uint32
	init []byte
}

// Builder assembles the sections of a MIL container. Predefined primitive
// types are registered at construction so their indices are stable across
// every build.
type Builder struct {
	moduleName string
	types      []typeEntry
	functions  []fnEntry
	globals    []globalEntry
	constants  []globalEntry

	curFn    *fnEntry
	curBlock *blockEntry
}

// Predefined primitive type indices, stable across every Builder.
const (
	TypeVoid = iota
	TypeBool
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeF16
	TypeF32
	TypeF64
	TypePtr
)

// New constructs a Builder with the primitive types pre-registered.
func New() *Builder {
	b := &Builder{}
	b.addPrimitive("void", 0)
	b.addPrimitive("bool", 1)
	b.addPrimitive("i8", 2)
	b.addPrimitive("i16", 3)
	b.addPrimitive("i32", 4)
	b.addPrimitive("i64", 5)
	b.addPrimitive("u8", 6)
	b.addPrimitive("u16", 7)
	b.addPrimitive("u32", 8)
	b.addPrimitive("u64", 9)
	b.addPrimitive("f16", 10)
	b.addPrimitive("f32", 11)
	b.addPrimitive("f64", 12)
	b.addPrimitive("ptr", 13)
	return b
}

func (b *Builder) addPrimitive(name string, encoding uint32) {
	b.types = append(b.types, typeEntry{encoding: encoding, name: name})
}

// SetModuleName records the module's name for the Metadata section.
func (b *Builder) SetModuleName(name string) {
	b.moduleName = name
}

// AddType registers a new type and returns its stable index.
func (b *Builder) AddType(encoding uint32, name string) int {
	b.types = append(b.types, typeEntry{encoding: encoding, name: name})
	return len(b.types) - 1
}

// AddStructType registers a named struct type entry and returns its index.
// fieldIndices is accepted but not recorded: the entry carries only the
// struct category encoding and the name.
func (b *Builder) AddStructType(fieldIndices []int, name string) int {
	enc := uint32(0xF0000000) // category nibble marks "struct"; width/qualifiers unused here
	idx := b.AddType(enc, name)
	return idx
}

// AddFunction registers a function (or extern declaration) and returns its
// stable index.
func (b *Builder) AddFunction(name string, paramTypes []uint32, retType uint32, isExtern bool) int {
	b.functions = append(b.functions, fnEntry{name: name, paramTypes: paramTypes, retType: retType, isExtern: isExtern})
	return len(b.functions) - 1
}

// AddGlobal registers a global variable, with an optional initializer byte
// sequence.
func (b *Builder) AddGlobal(name string, typ uint32, init []byte) int {
	b.globals = append(b.globals, globalEntry{name: name, typ: typ, init: init})
	return len(b.globals) - 1
}

// AddConstant registers a named compile-time constant.
func (b *Builder) AddConstant(name string, typ uint32, value []byte) int {
	b.constants = append(b.constants, globalEntry{name: name, typ: typ, init: value})
	return len(b.constants) - 1
}

// BeginFunctionCode starts code emission for the given function index.
func (b *Builder) BeginFunctionCode(fnIndex int) error {
	if fnIndex < 0 || fnIndex >= len(b.functions) {
		return fmt.Errorf("build: invalid function index %d", fnIndex)
	}
	b.curFn = &b.functions[fnIndex]
	return nil
}

// AddBlock starts a new basic block in the function currently being
// emitted and returns its stable per-function index.
func (b *Builder) AddBlock(name string) (uint8, error) {
	if b.curFn == nil {
		return 0, fmt.Errorf("build: AddBlock called with no function in progress")
	}
	if len(b.curFn.blocks) >= 255 {
		return 0, fmt.Errorf("build: too many blocks in function %q", b.curFn.name)
	}
	b.curFn.blocks = append(b.curFn.blocks, blockEntry{name: name})
	idx := uint8(len(b.curFn.blocks) - 1)
	b.curBlock = &b.curFn.blocks[idx]
	return idx, nil
}

// AddInstruction appends one fixed 18-byte MIL record to the current block.
func (b *Builder) AddInstruction(op mil.Opcode, typ mil.MemType, addr uint16, imm uint64) error {
	if b.curBlock == nil {
		return fmt.Errorf("build: AddInstruction called with no block in progress")
	}
	var rec [mil.RecordSize]byte
	rec[0] = mil.MarkerStart
	binary.LittleEndian.PutUint16(rec[1:3], uint16(op))
	rec[3] = mil.MarkerType
	rec[4] = byte(typ)
	rec[5] = mil.MarkerVariable
	binary.LittleEndian.PutUint16(rec[6:8], addr)
	rec[8] = mil.MarkerImmediate
	binary.LittleEndian.PutUint64(rec[9:17], imm)
	rec[17] = mil.MarkerEnd
	b.curBlock.code = append(b.curBlock.code, rec[:]...)
	return nil
}

// EndFunctionCode finishes code emission for the current function.
func (b *Builder) EndFunctionCode() {
	b.curFn = nil
	b.curBlock = nil
}

// Build assembles the header, section table, and section payloads into the
// final container bytes.
func (b *Builder) Build() ([]byte, error) {
	typeSec := b.buildTypeSection()
	fnSec := b.buildFunctionSection()
	globalSec := b.buildGlobalSection(b.globals)
	constSec := b.buildGlobalSection(b.constants)
	codeSec := b.buildCodeSection()
	relocSec := []byte{} // no relocations: no cross-module linking per Non-goals
	metaSec := b.buildMetadataSection()

	sections := []struct {
		typ     mil.SectionType
		payload []byte
	}{
		{mil.SectionTypeTable, typeSec},
		{mil.SectionFunction, fnSec},
		{mil.SectionGlobal, globalSec},
		{mil.SectionConstant, constSec},
		{mil.SectionCode, codeSec},
		{mil.SectionRelocation, relocSec},
		{mil.SectionMetadata, metaSec},
	}

	var out bytes.Buffer
	out.Grow(mil.HeaderSize + len(sections)*mil.SectionEntrySize)

	var hdr [mil.HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], mil.Magic)
	binary.LittleEndian.PutUint32(hdr[4:8], mil.Version(1, 0, 0))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(sections)))
	binary.LittleEndian.PutUint32(hdr[12:16], 0)
	out.Write(hdr[:])

	offset := uint32(mil.HeaderSize) + uint32(len(sections))*uint32(mil.SectionEntrySize)
	type placed struct {
		typ    mil.SectionType
		offset uint32
		size   uint32
	}
	var table []placed
	for _, s := range sections {
		size := uint32(len(s.payload))
		table = append(table, placed{typ: s.typ, offset: offset, size: size})
		offset = mil.Align4(offset + size)
	}
	for _, p := range table {
		var entry [mil.SectionEntrySize]byte
		binary.LittleEndian.PutUint32(entry[0:4], uint32(p.typ))
		binary.LittleEndian.PutUint32(entry[4:8], p.offset)
		binary.LittleEndian.PutUint32(entry[8:12], p.size)
		out.Write(entry[:])
	}

	for i, s := range sections {
		out.Write(s.payload)
		pad := table[i].offset + table[i].size
		nextStart := mil.Align4(pad)
		for out.Len() < int(nextStart) && i < len(sections)-1 {
			out.WriteByte(0)
		}
	}
	return out.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) {
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(s)))
	buf.Write(lenBytes[:])
	buf.WriteString(s)
}

func (b *Builder) buildTypeSection() []byte {
	var buf bytes.Buffer
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(b.types)))
	buf.Write(count[:])
	for _, t := range b.types {
		var enc [4]byte
		binary.LittleEndian.PutUint32(enc[:], t.encoding)
		buf.Write(enc[:])
		writeString(&buf, t.name)
	}
	return buf.Bytes()
}

func (b *Builder) buildFunctionSection() []byte {
	var buf bytes.Buffer
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(b.functions)))
	buf.Write(count[:])
	for _, f := range b.functions {
		writeString(&buf, f.name)
		var pc [4]byte
		binary.LittleEndian.PutUint32(pc[:], uint32(len(f.paramTypes)))
		buf.Write(pc[:])
		for _, pt := range f.paramTypes {
			var w [4]byte
			binary.LittleEndian.PutUint32(w[:], pt)
			buf.Write(w[:])
		}
		var rt [4]byte
		binary.LittleEndian.PutUint32(rt[:], f.retType)
		buf.Write(rt[:])
		if f.isExtern {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}

func (b *Builder) buildGlobalSection(entries []globalEntry) []byte {
	var buf bytes.Buffer
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(entries)))
	buf.Write(count[:])
	for _, g := range entries {
		writeString(&buf, g.name)
		var t [4]byte
		binary.LittleEndian.PutUint32(t[:], g.typ)
		buf.Write(t[:])
		var initLen [4]byte
		binary.LittleEndian.PutUint32(initLen[:], uint32(len(g.init)))
		buf.Write(initLen[:])
		buf.Write(g.init)
	}
	return buf.Bytes()
}

func (b *Builder) buildCodeSection() []byte {
	var buf bytes.Buffer
	var fnCount [4]byte
	binary.LittleEndian.PutUint32(fnCount[:], uint32(len(b.functions)))
	buf.Write(fnCount[:])
	for i, f := range b.functions {
		var idx [4]byte
		binary.LittleEndian.PutUint32(idx[:], uint32(i))
		buf.Write(idx[:])
		var blockCount [4]byte
		binary.LittleEndian.PutUint32(blockCount[:], uint32(len(f.blocks)))
		buf.Write(blockCount[:])
		for _, blk := range f.blocks {
			writeString(&buf, blk.name)
			var sz [4]byte
			binary.LittleEndian.PutUint32(sz[:], uint32(len(blk.code)))
			buf.Write(sz[:])
			buf.Write(blk.code)
		}
	}
	return buf.Bytes()
}

func (b *Builder) buildMetadataSection() []byte {
	var buf bytes.Buffer
	writeString(&buf, b.moduleName)
	return buf.Bytes()
}
