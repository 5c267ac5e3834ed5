package mil

import (
	"encoding/binary"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// File is a memory-mapped MIL container, used by the read-only CLI paths
// (hoilvm -b and hoildump) instead of slurping the whole file with
// os.ReadFile. Grounded directly on saferwall-pe's File/New, the one pack
// repo whose own file layer mmaps a binary-format file for the same reason.
type File struct {
	f    *os.File
	data mmap.MMap
}

// Open memory-maps path read-only.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{f: f, data: data}, nil
}

// Close unmaps the file and releases its descriptor.
func (fl *File) Close() error {
	if err := fl.data.Unmap(); err != nil {
		fl.f.Close()
		return err
	}
	return fl.f.Close()
}

// Bytes returns the full mapped content.
func (fl *File) Bytes() []byte {
	return fl.data
}

// SectionEntry is one decoded section-table row.
type SectionEntry struct {
	Type   SectionType
	Offset uint32
	Size   uint32
}

// Header is the decoded fixed-size file header.
type Header struct {
	Magic        uint32
	Version      uint32
	SectionCount uint32
	Flags        uint32
}

// ReadHeader decodes and validates the container header. Returns an error
// without reading any further if the magic does not match — scenario 5's
// "inspector reports invalid and stops" contract.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("mil: file too short for header (%d bytes)", len(data))
	}
	h := Header{
		Magic:        binary.LittleEndian.Uint32(data[0:4]),
		Version:      binary.LittleEndian.Uint32(data[4:8]),
		SectionCount: binary.LittleEndian.Uint32(data[8:12]),
		Flags:        binary.LittleEndian.Uint32(data[12:16]),
	}
	if h.Magic != Magic {
		return h, fmt.Errorf("mil: invalid magic 0x%08x (want 0x%08x)", h.Magic, Magic)
	}
	return h, nil
}

// ReadSectionTable decodes the section table following the header.
func ReadSectionTable(data []byte, h Header) ([]SectionEntry, error) {
	entries := make([]SectionEntry, 0, h.SectionCount)
	off := HeaderSize
	for i := uint32(0); i < h.SectionCount; i++ {
		if off+SectionEntrySize > len(data) {
			return nil, fmt.Errorf("mil: section table truncated at entry %d", i)
		}
		e := SectionEntry{
			Type:   SectionType(binary.LittleEndian.Uint32(data[off : off+4])),
			Offset: binary.LittleEndian.Uint32(data[off+4 : off+8]),
			Size:   binary.LittleEndian.Uint32(data[off+8 : off+12]),
		}
		entries = append(entries, e)
		off += SectionEntrySize
	}
	return entries, nil
}
