package patcher

import (
	"encoding/binary"
	"sort"
	"testing"
)

// buildPfs0Fixture hand-assembles a minimal valid PFS0 partition (header,
// entry table, string table, data region) containing the given named files,
// in a stable order, for exercising PatchCnmtPfs0 and hash re-derivation.
func buildPfs0Fixture(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	const headerFixedSize = 16
	const entrySize = 24

	var stringTable []byte
	nameOffsets := make([]uint32, len(names))
	for i, name := range names {
		nameOffsets[i] = uint32(len(stringTable))
		stringTable = append(stringTable, []byte(name)...)
		stringTable = append(stringTable, 0)
	}

	entryTable := make([]byte, len(names)*entrySize)
	var dataRegion []byte
	for i, name := range names {
		data := files[name]
		off := i * entrySize
		binary.LittleEndian.PutUint64(entryTable[off:off+8], uint64(len(dataRegion)))
		binary.LittleEndian.PutUint64(entryTable[off+8:off+16], uint64(len(data)))
		binary.LittleEndian.PutUint32(entryTable[off+16:off+20], nameOffsets[i])
		dataRegion = append(dataRegion, data...)
	}

	header := make([]byte, headerFixedSize)
	copy(header[0:4], "PFS0")
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(names)))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(stringTable)))

	out := make([]byte, 0, len(header)+len(entryTable)+len(stringTable)+len(dataRegion))
	out = append(out, header...)
	out = append(out, entryTable...)
	out = append(out, stringTable...)
	out = append(out, dataRegion...)
	return out
}
