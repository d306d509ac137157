// Package nso reads just enough of an NSO0 executable header to drive XML
// generation for a program's authoring-tool metadata: module id and
// segment sizes. It deliberately does not decompress .text/.rodata/.data
// (LZ4-compressed payloads) or walk the dynamic symbol table; it only goes
// as far as the header fields needed before handing off to XML writing.
package nso

import (
	"encoding/binary"

	"github.com/archivecore/ncarepack/pkg/ncaerr"
)

const (
	headerSize = 0x100
	magic      = "NSO0"
)

// Header is the fixed NSO0 header.
type Header struct {
	Version    uint32
	ModuleID   [0x20]byte
	TextSize   uint32
	RoDataSize uint32
	DataSize   uint32
	BssSize    uint32
}

// ParseHeader decodes an NSO0 header from its first 0x100 bytes.
func ParseHeader(raw []byte) (*Header, error) {
	if len(raw) < headerSize {
		return nil, ncaerr.NewGlobal(ncaerr.BadSize, "NSO data shorter than its fixed header", nil)
	}
	if string(raw[0:4]) != magic {
		return nil, ncaerr.NewGlobal(ncaerr.BadMagic, "expected NSO0 magic", nil)
	}

	h := &Header{
		Version:    binary.LittleEndian.Uint32(raw[4:8]),
		TextSize:   binary.LittleEndian.Uint32(raw[0x18:0x1C]),
		RoDataSize: binary.LittleEndian.Uint32(raw[0x28:0x2C]),
		DataSize:   binary.LittleEndian.Uint32(raw[0x38:0x3C]),
		BssSize:    binary.LittleEndian.Uint32(raw[0x3C:0x40]),
	}
	copy(h.ModuleID[:], raw[0x40:0x60])
	return h, nil
}

// ModuleIDHex renders the module id the way authoring-tool XML expects:
// lowercase hex, no separators.
func (h *Header) ModuleIDHex() string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(h.ModuleID)*2)
	for i, b := range h.ModuleID {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0xF]
	}
	return string(out)
}
