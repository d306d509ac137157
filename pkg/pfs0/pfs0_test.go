package pfs0

import (
	"encoding/binary"
	"testing"
)

// buildPfs0 assembles a minimal valid PFS0 blob from the given (name, data)
// pairs, for exercising Open without needing a real NCA fixture.
func buildPfs0(t *testing.T, files [][2]string) []byte {
	t.Helper()

	var stringTable []byte
	nameOffsets := make([]uint32, len(files))
	for i, f := range files {
		nameOffsets[i] = uint32(len(stringTable))
		stringTable = append(stringTable, []byte(f[0])...)
		stringTable = append(stringTable, 0)
	}

	var dataRegion []byte
	dataOffsets := make([]int64, len(files))
	dataSizes := make([]int64, len(files))
	for i, f := range files {
		dataOffsets[i] = int64(len(dataRegion))
		dataSizes[i] = int64(len(f[1]))
		dataRegion = append(dataRegion, []byte(f[1])...)
	}

	header := make([]byte, headerFixedSize)
	copy(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(files)))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(stringTable)))

	entryTable := make([]byte, len(files)*entrySize)
	for i := range files {
		off := i * entrySize
		binary.LittleEndian.PutUint64(entryTable[off:off+8], uint64(dataOffsets[i]))
		binary.LittleEndian.PutUint64(entryTable[off+8:off+16], uint64(dataSizes[i]))
		binary.LittleEndian.PutUint32(entryTable[off+16:off+20], nameOffsets[i])
	}

	var out []byte
	out = append(out, header...)
	out = append(out, entryTable...)
	out = append(out, stringTable...)
	out = append(out, dataRegion...)
	return out
}

type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, nil
	}
	n := copy(p, b[off:])
	return n, nil
}

func TestOpenParsesEntriesAndData(t *testing.T) {
	raw := buildPfs0(t, [][2]string{
		{"main", "program code"},
		{"main.npdm", "npdm bytes"},
		{"control.nacp", "nacp bytes"},
	})

	r, err := Open(byteReaderAt(raw))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(r.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(r.Entries))
	}
	if r.Entries[0].Name != "main" || r.Entries[1].Name != "main.npdm" {
		t.Fatalf("unexpected entry names: %+v", r.Entries)
	}

	sr := r.FileReaderAt(1)
	buf := make([]byte, r.Entries[1].DataSize)
	if _, err := sr.ReadAt(buf, 0); err != nil {
		t.Fatalf("FileReaderAt.ReadAt: %v", err)
	}
	if string(buf) != "npdm bytes" {
		t.Fatalf("got %q, want %q", buf, "npdm bytes")
	}
}

func TestIsExeFS(t *testing.T) {
	exefs, err := Open(byteReaderAt(buildPfs0(t, [][2]string{
		{"main", "x"}, {"main.npdm", "y"},
	})))
	if err != nil {
		t.Fatal(err)
	}
	if !exefs.IsExeFS() {
		t.Fatalf("expected ExeFS detection to succeed")
	}

	notExefs, err := Open(byteReaderAt(buildPfs0(t, [][2]string{
		{"0", "x"}, {"1", "y"},
	})))
	if err != nil {
		t.Fatal(err)
	}
	if notExefs.IsExeFS() {
		t.Fatalf("did not expect a generic content partition to be detected as ExeFS")
	}
}

func TestFindReturnsMinusOneWhenMissing(t *testing.T) {
	r, err := Open(byteReaderAt(buildPfs0(t, [][2]string{{"a", "1"}})))
	if err != nil {
		t.Fatal(err)
	}
	if idx := r.Find("a"); idx != 0 {
		t.Fatalf("Find(a) = %d, want 0", idx)
	}
	if idx := r.Find("missing"); idx != -1 {
		t.Fatalf("Find(missing) = %d, want -1", idx)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	raw := buildPfs0(t, [][2]string{{"a", "1"}})
	copy(raw[0:4], "XXXX")
	if _, err := Open(byteReaderAt(raw)); err == nil {
		t.Fatalf("expected an error for bad magic")
	}
}
