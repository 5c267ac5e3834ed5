package mil

import (
	"encoding/binary"
	"fmt"
)

// FunctionInfo is one decoded Function-section entry.
type FunctionInfo struct {
	Name       string
	ParamTypes []uint32
	RetType    uint32
	IsExtern   bool
}

func readString(data []byte, off int) (string, int, error) {
	if off+4 > len(data) {
		return "", 0, fmt.Errorf("mil: truncated string length at offset %d", off)
	}
	n := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if off+n > len(data) {
		return "", 0, fmt.Errorf("mil: truncated string body at offset %d", off)
	}
	return string(data[off : off+n]), off + n, nil
}

// ReadFunctionSection decodes the Function section payload.
func ReadFunctionSection(payload []byte) ([]FunctionInfo, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("mil: function section too short")
	}
	count := int(binary.LittleEndian.Uint32(payload[0:4]))
	off := 4
	out := make([]FunctionInfo, 0, count)
	for i := 0; i < count; i++ {
		name, next, err := readString(payload, off)
		if err != nil {
			return nil, err
		}
		off = next
		if off+4 > len(payload) {
			return nil, fmt.Errorf("mil: truncated function entry %d", i)
		}
		paramCount := int(binary.LittleEndian.Uint32(payload[off : off+4]))
		off += 4
		params := make([]uint32, paramCount)
		for p := 0; p < paramCount; p++ {
			if off+4 > len(payload) {
				return nil, fmt.Errorf("mil: truncated function param %d of entry %d", p, i)
			}
			params[p] = binary.LittleEndian.Uint32(payload[off : off+4])
			off += 4
		}
		if off+5 > len(payload) {
			return nil, fmt.Errorf("mil: truncated function tail of entry %d", i)
		}
		ret := binary.LittleEndian.Uint32(payload[off : off+4])
		off += 4
		isExtern := payload[off] != 0
		off++
		out = append(out, FunctionInfo{Name: name, ParamTypes: params, RetType: ret, IsExtern: isExtern})
	}
	return out, nil
}

// FunctionCode is one function's blocks, concatenated in declaration order —
// the flat stream internal/vm.Machine.Load expects.
type FunctionCode struct {
	Index int
	Code  []byte
}

// ReadCodeSection decodes the Code section payload into one flat code
// stream per function, in block order.
func ReadCodeSection(payload []byte) ([]FunctionCode, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("mil: code section too short")
	}
	fnCount := int(binary.LittleEndian.Uint32(payload[0:4]))
	off := 4
	out := make([]FunctionCode, 0, fnCount)
	for i := 0; i < fnCount; i++ {
		if off+8 > len(payload) {
			return nil, fmt.Errorf("mil: truncated code section at function %d", i)
		}
		idx := int(binary.LittleEndian.Uint32(payload[off : off+4]))
		off += 4
		blockCount := int(binary.LittleEndian.Uint32(payload[off : off+4]))
		off += 4
		var code []byte
		for j := 0; j < blockCount; j++ {
			_, next, err := readString(payload, off)
			if err != nil {
				return nil, err
			}
			off = next
			if off+4 > len(payload) {
				return nil, fmt.Errorf("mil: truncated block size at function %d block %d", i, j)
			}
			size := int(binary.LittleEndian.Uint32(payload[off : off+4]))
			off += 4
			if off+size > len(payload) {
				return nil, fmt.Errorf("mil: truncated block body at function %d block %d", i, j)
			}
			code = append(code, payload[off:off+size]...)
			off += size
		}
		out = append(out, FunctionCode{Index: idx, Code: code})
	}
	return out, nil
}

// Executable is a fully-decoded container ready to hand to the VM.
type Executable struct {
	Header    Header
	Functions []FunctionInfo
	Code      []FunctionCode
}

// sectionPayload slices out one section's bytes given its table entry.
func sectionPayload(data []byte, e SectionEntry) ([]byte, error) {
	end := e.Offset + e.Size
	if int(end) > len(data) {
		return nil, fmt.Errorf("mil: section of type %d extends past end of file", e.Type)
	}
	return data[e.Offset:end], nil
}

// Decode parses a full MIL container into Functions and Code, validating
// the header and section table along the way. It stops at the first
// structural error, matching the inspector's fail-fast contract.
func Decode(data []byte) (*Executable, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	sections, err := ReadSectionTable(data, h)
	if err != nil {
		return nil, err
	}
	ex := &Executable{Header: h}
	for _, s := range sections {
		switch s.Type {
		case SectionFunction:
			payload, err := sectionPayload(data, s)
			if err != nil {
				return nil, err
			}
			fns, err := ReadFunctionSection(payload)
			if err != nil {
				return nil, err
			}
			ex.Functions = fns
		case SectionCode:
			payload, err := sectionPayload(data, s)
			if err != nil {
				return nil, err
			}
			code, err := ReadCodeSection(payload)
			if err != nil {
				return nil, err
			}
			ex.Code = code
		}
	}
	return ex, nil
}

// EntryCode returns the flat code stream for the named function (the
// convention used by both C7 and the VM loader is the function named
// "main"), in declaration order.
func (ex *Executable) EntryCode(name string) ([]byte, error) {
	var fnIndex = -1
	for i, f := range ex.Functions {
		if f.Name == name {
			fnIndex = i
			break
		}
	}
	if fnIndex < 0 {
		return nil, fmt.Errorf("mil: no function named %q", name)
	}
	for _, c := range ex.Code {
		if c.Index == fnIndex {
			return c.Code, nil
		}
	}
	return nil, fmt.Errorf("mil: function %q has no code section entry", name)
}
