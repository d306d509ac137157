package nsz

import (
	"encoding/binary"
	"io"
)

const (
	MagicNSZ = "NSZ%"
)

// NSZHeader is the whole-bundle container header written once at the start
// of an .nsz file produced from an .nsp (as opposed to a single .ncz, which
// has no outer container — see ncz.go).
//
// Offset 0x00: Magic "NSZ%" (4 bytes)
// Offset 0x04: Version (4 bytes)
// Offset 0x08: Target Block Size Exponent (4 bytes) (e.g. 20 for 1MB)
// Offset 0x0C: Number of Sections (4 bytes)
// Offset 0x10: Data Offset (8 bytes)
type NSZHeader struct {
	Magic        [4]byte
	Version      uint32
	BlockSizeExp uint32
	SectionCount uint32
	DataOffset   uint64
}

func NewHeader(blockSizeExp uint32) *NSZHeader {
	h := &NSZHeader{
		Version:      0,
		BlockSizeExp: blockSizeExp,
		SectionCount: 1, // We treat the whole file as one section for now? Or is it one section per NCA section?
		// Usually NSZ just compresses the whole file as a continuous stream of blocks,
		// but skipping headers.
		// For simplicity, we'll try to follow the "Block Compression" format where we have a block table.
	}
	copy(h.Magic[:], MagicNSZ)
	return h
}

// Write writes the NSZ header to the writer.
func (h *NSZHeader) Write(w io.Writer) error {
	return binary.Write(w, binary.LittleEndian, h)
}
