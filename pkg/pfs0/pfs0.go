// Package pfs0 reads the flat PFS0 partition format: a header, an entry
// table, a string table, then the file data region. It reads through any
// io.ReaderAt, normally a section.Cipher, so the partition's own
// encryption is transparent to callers.
package pfs0

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/archivecore/ncarepack/pkg/ncaerr"
)

const (
	headerFixedSize = 16
	entrySize       = 24
	magic           = "PFS0"
)

// Entry is one file record in a PFS0 partition.
type Entry struct {
	Name       string
	DataOffset int64 // relative to the start of the data region
	DataSize   int64
}

// Reader is a parsed PFS0 partition: the entry table plus the byte offset
// (within the source io.ReaderAt) where the data region begins.
type Reader struct {
	r         io.ReaderAt
	Entries   []Entry
	DataStart int64
}

// Open parses the PFS0 header, entry table, and string table at the start
// of r.
func Open(r io.ReaderAt) (*Reader, error) {
	head := make([]byte, headerFixedSize)
	if _, err := r.ReadAt(head, 0); err != nil {
		return nil, ncaerr.NewGlobal(ncaerr.ShortRead, "failed to read PFS0 header", err)
	}
	if string(head[0:4]) != magic {
		return nil, ncaerr.NewGlobal(ncaerr.BadMagic, fmt.Sprintf("expected PFS0 magic, got %q", head[0:4]), nil)
	}
	numFiles := binary.LittleEndian.Uint32(head[4:8])
	stringTableSize := binary.LittleEndian.Uint32(head[8:12])

	entryTable := make([]byte, int(numFiles)*entrySize)
	if _, err := r.ReadAt(entryTable, headerFixedSize); err != nil {
		return nil, ncaerr.NewGlobal(ncaerr.ShortRead, "failed to read PFS0 entry table", err)
	}

	stringTableOff := headerFixedSize + int64(len(entryTable))
	stringTable := make([]byte, stringTableSize)
	if stringTableSize > 0 {
		if _, err := r.ReadAt(stringTable, stringTableOff); err != nil {
			return nil, ncaerr.NewGlobal(ncaerr.ShortRead, "failed to read PFS0 string table", err)
		}
	}

	entries := make([]Entry, numFiles)
	for i := range entries {
		off := i * entrySize
		dataOffset := int64(binary.LittleEndian.Uint64(entryTable[off : off+8]))
		dataSize := int64(binary.LittleEndian.Uint64(entryTable[off+8 : off+16]))
		nameOffset := binary.LittleEndian.Uint32(entryTable[off+16 : off+20])
		name, err := readName(stringTable, nameOffset)
		if err != nil {
			return nil, err
		}
		entries[i] = Entry{Name: name, DataOffset: dataOffset, DataSize: dataSize}
	}

	return &Reader{
		r:         r,
		Entries:   entries,
		DataStart: stringTableOff + int64(len(stringTable)),
	}, nil
}

func readName(stringTable []byte, offset uint32) (string, error) {
	if offset >= uint32(len(stringTable)) {
		return "", ncaerr.NewGlobal(ncaerr.BadSize, "PFS0 name offset out of bounds", nil)
	}
	end := offset
	for end < uint32(len(stringTable)) && stringTable[end] != 0 {
		end++
	}
	return string(stringTable[offset:end]), nil
}

// FileReaderAt returns an io.ReaderAt restricted to the i-th file's bytes.
func (p *Reader) FileReaderAt(i int) io.ReaderAt {
	e := p.Entries[i]
	return io.NewSectionReader(p.r, p.DataStart+e.DataOffset, e.DataSize)
}

// IsExeFS reports whether this partition looks like an ExeFS: any entry
// named "main" or "main.npdm" (case-insensitive) distinguishes an ExeFS
// PFS0 from a generic content PFS0.
func (p *Reader) IsExeFS() bool {
	hasMain, hasNpdm := false, false
	for _, e := range p.Entries {
		switch strings.ToLower(e.Name) {
		case "main":
			hasMain = true
		case "main.npdm":
			hasNpdm = true
		}
	}
	return hasMain || hasNpdm
}

// Find returns the index of the named entry, or -1.
func (p *Reader) Find(name string) int {
	for i, e := range p.Entries {
		if e.Name == name {
			return i
		}
	}
	return -1
}
